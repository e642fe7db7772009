package store

import (
	"io"
	"time"

	"go.ytsaurus.tech/library/go/core/xerrors"
)

var (
	ErrFileNotFound = xerrors.New("file not found")
)

type StoreConfig interface {
	isStoreConfig()
}

type FileMeta struct {
	Path         string
	Size         uint64
	TimeModified time.Time
}

// Store is the warehouse filesystem abstraction required to read and write table
// data files and the snapshot log. The correctness of the commit protocol is
// predicated on the atomicity and durability guarantees of the implementation:
// once Put for a path returned nil, every subsequent List of its directory must
// return that path.
type Store interface {
	// Root returns the warehouse root path of this store.
	Root() string

	// Read opens the given path for reading. Returns ErrFileNotFound when absent.
	Read(path string) (io.ReadCloser, error)

	// Put durably writes body under path, replacing any previous content.
	Put(path string, body io.Reader) error

	// List resolves all paths with the given prefix, sorted by path.
	List(prefix string) ([]*FileMeta, error)
}

func New(config StoreConfig) (Store, error) {
	switch c := config.(type) {
	case *S3Config:
		return NewStoreS3(c)
	case *LocalConfig:
		return NewStoreLocal(c), nil
	default:
		return nil, xerrors.Errorf("unknown store config type: %T", config)
	}
}

package store

import (
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.ytsaurus.tech/library/go/core/xerrors"
)

var (
	_ Store       = (*Local)(nil)
	_ StoreConfig = (*LocalConfig)(nil)
)

type LocalConfig struct {
	TablePath string
}

func (l LocalConfig) isStoreConfig() {}

// Local is a plain directory-backed store. Put is made atomic with a
// write-to-temp plus rename, which is the property the snapshot log relies on.
type Local struct {
	config *LocalConfig
}

func (l *Local) Root() string {
	return l.config.TablePath
}

func (l *Local) abs(path string) string {
	return filepath.Join(l.config.TablePath, path)
}

func (l *Local) Read(path string) (io.ReadCloser, error) {
	f, err := os.Open(l.abs(path))
	if os.IsNotExist(err) {
		return nil, ErrFileNotFound
	}
	if err != nil {
		return nil, xerrors.Errorf("unable to open file: %s: %w", path, err)
	}
	return f, nil
}

func (l *Local) Put(path string, body io.Reader) error {
	target := l.abs(path)
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return xerrors.Errorf("unable to create dir for: %s: %w", path, err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(target), ".put-*")
	if err != nil {
		return xerrors.Errorf("unable to create temp file for: %s: %w", path, err)
	}
	if _, err := io.Copy(tmp, body); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return xerrors.Errorf("unable to write: %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return xerrors.Errorf("unable to close temp file for: %s: %w", path, err)
	}
	if err := os.Rename(tmp.Name(), target); err != nil {
		_ = os.Remove(tmp.Name())
		return xerrors.Errorf("unable to rename temp file to: %s: %w", path, err)
	}
	return nil
}

func (l *Local) List(prefix string) ([]*FileMeta, error) {
	var res []*FileMeta
	err := filepath.Walk(l.config.TablePath, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if info.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(l.config.TablePath, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if !strings.HasPrefix(rel, prefix) || strings.HasPrefix(filepath.Base(rel), ".put-") {
			return nil
		}
		res = append(res, &FileMeta{
			Path:         rel,
			Size:         uint64(info.Size()),
			TimeModified: info.ModTime(),
		})
		return nil
	})
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, xerrors.Errorf("unable to list: %s: %w", prefix, err)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].Path < res[j].Path })
	return res, nil
}

func NewStoreLocal(config *LocalConfig) *Local {
	return &Local{config: config}
}

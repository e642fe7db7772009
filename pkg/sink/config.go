package sink

import (
	"github.com/gofrs/uuid"
	"go.ytsaurus.tech/library/go/core/xerrors"

	"github.com/doublecloud/lakesink/pkg/table"
)

// WriteMode is fixed at construction from the surrounding job's execution mode
// and selects the write and commit session variants.
type WriteMode string

const (
	BatchMode     = WriteMode("batch")
	StreamingMode = WriteMode("streaming")
)

// IdentitySource produces writer identities. The default is a random token;
// tests may supply a deterministic one.
type IdentitySource func() (string, error)

func RandomIdentity() (string, error) {
	id, err := uuid.NewV4()
	if err != nil {
		return "", xerrors.Errorf("unable to generate identity: %w", err)
	}
	return id.String(), nil
}

type SinkConfig struct {
	WriteMode WriteMode

	// ChangelogProducer is the desired changelog strategy. The table's own
	// setting always wins; a mismatch is logged, not an error.
	ChangelogProducer table.ChangelogProducer

	// SpillPaths is a comma or colon separated list of temp dirs for staging
	// data files before upload.
	SpillPaths string

	// NumWriters and WriterIndex identify this writer among its parallel
	// siblings; the bucket assigner is parameterized by them.
	NumWriters  int
	WriterIndex int

	IdentitySource IdentitySource
}

func (c *SinkConfig) WithDefaults() {
	if c.NumWriters == 0 {
		c.NumWriters = 1
	}
	if c.IdentitySource == nil {
		c.IdentitySource = RandomIdentity
	}
}

func (c *SinkConfig) Validate() error {
	switch c.WriteMode {
	case BatchMode, StreamingMode:
	default:
		return xerrors.Errorf("unknown write mode: %q", c.WriteMode)
	}
	if c.NumWriters < 1 {
		return xerrors.Errorf("num writers must be positive, got: %d", c.NumWriters)
	}
	if c.WriterIndex < 0 || c.WriterIndex >= c.NumWriters {
		return xerrors.Errorf("writer index %d out of range [0, %d)", c.WriterIndex, c.NumWriters)
	}
	return nil
}

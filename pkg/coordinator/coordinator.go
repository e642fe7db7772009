// Package coordinator is the commit side of the pipeline: it receives the
// commit message batches the sink writers produced and applies them atomically
// to the table.
package coordinator

import (
	"go.ytsaurus.tech/library/go/core/log"
	"go.ytsaurus.tech/library/go/core/xerrors"

	"github.com/doublecloud/lakesink/pkg/table"
)

// Coordinator applies commit message batches, tagged either with a checkpoint
// id (streaming) or as a single terminal commit (batch).
type Coordinator interface {
	CommitAtCheckpoint(checkpointID int64, messages []*table.CommitMessage) error
	CommitTerminal(messages []*table.CommitMessage) error
}

var _ Coordinator = (*TableCoordinator)(nil)

// TableCoordinator drives the table's own commit sessions. One instance serves
// one logical committer identity; concurrent sink writers funnel their batches
// through it, which is what serializes commits into the snapshot log.
type TableCoordinator struct {
	streamCommit table.StreamCommit
	batchCommit  table.BatchCommit
	lgr          log.Logger
}

func NewTableCoordinator(t *table.Table, commitUser string, lgr log.Logger) *TableCoordinator {
	return &TableCoordinator{
		streamCommit: t.NewStreamWriteBuilder().NewCommit(commitUser),
		batchCommit:  t.NewBatchWriteBuilder().NewCommit(commitUser),
		lgr:          lgr,
	}
}

func (c *TableCoordinator) CommitAtCheckpoint(checkpointID int64, messages []*table.CommitMessage) error {
	c.lgr.Info("committing checkpoint", log.Int64("checkpoint_id", checkpointID), log.Int("messages", len(messages)))
	if err := c.streamCommit.Commit(checkpointID, messages); err != nil {
		return xerrors.Errorf("unable to commit checkpoint %d: %w", checkpointID, err)
	}
	return nil
}

func (c *TableCoordinator) CommitTerminal(messages []*table.CommitMessage) error {
	c.lgr.Info("committing terminal batch", log.Int("messages", len(messages)))
	if err := c.batchCommit.Commit(messages); err != nil {
		return xerrors.Errorf("unable to commit terminal batch: %w", err)
	}
	return nil
}

func (c *TableCoordinator) Close() error {
	if err := c.streamCommit.Close(); err != nil {
		return err
	}
	return c.batchCommit.Close()
}

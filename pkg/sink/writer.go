// Package sink implements the write path of the lakehouse table connector: a
// per-worker writer that buffers records into the table's write session,
// flushes them into commit messages at checkpoint boundaries and snapshots the
// not-yet-confirmed messages so a restart can re-commit them.
package sink

import (
	"go.ytsaurus.tech/library/go/core/log"
	"go.ytsaurus.tech/library/go/core/metrics"
	"go.ytsaurus.tech/library/go/core/xerrors"

	"github.com/doublecloud/lakesink/pkg/abstract"
	"github.com/doublecloud/lakesink/pkg/coderr"
	"github.com/doublecloud/lakesink/pkg/sink/bucket"
	"github.com/doublecloud/lakesink/pkg/table"
	"github.com/doublecloud/lakesink/pkg/table/rowconv"
)

// writerSessions holds the mode-specific sessions: exactly one write session
// is set, matching the write mode, and the commit factories open the table's
// commit sub-session for a given commit user.
type writerSessions struct {
	batchWrite      table.BatchWrite
	streamWrite     table.StreamWrite
	newBatchCommit  func(commitUser string) table.BatchCommit
	newStreamCommit func(commitUser string) table.StreamCommit
}

// Writer is driven by exactly one goroutine: Write, PrepareCommit,
// SnapshotState and Close are sequential relative to each other. Parallelism
// exists across Writer instances, which share no mutable state.
type Writer struct {
	cfg     *SinkConfig
	tbl     *table.Table
	rowType *abstract.TableSchema
	lgr     log.Logger
	stats   *Stats

	commitUser   string
	checkpointID int64
	sessions     writerSessions

	dynamicBucket     bool
	assigner          *bucket.Assigner
	changelogProducer table.ChangelogProducer

	// committables buffers every flushed commit message until a snapshot
	// consumes it or recovery re-commits it.
	committables []*table.CommitMessage

	closed bool
}

// New constructs a fresh writer with no recovered state.
func New(cfg *SinkConfig, tbl *table.Table, rowType *abstract.TableSchema, registry metrics.Registry, lgr log.Logger) (*Writer, error) {
	return newWriter(cfg, tbl, rowType, nil, registry, lgr)
}

// NewFromStates constructs a writer from recovered snapshots of a previous
// incarnation and immediately re-commits everything they carry, so work the
// pipeline already acknowledged cannot be lost. Recovery fails with
// CommitReplayError when that commit cannot be applied.
func NewFromStates(cfg *SinkConfig, tbl *table.Table, rowType *abstract.TableSchema, states []*SinkState, registry metrics.Registry, lgr log.Logger) (*Writer, error) {
	return newWriter(cfg, tbl, rowType, states, registry, lgr)
}

func newWriter(cfg *SinkConfig, tbl *table.Table, rowType *abstract.TableSchema, states []*SinkState, registry metrics.Registry, lgr log.Logger) (*Writer, error) {
	var sessions writerSessions
	switch cfg.WriteMode {
	case BatchMode:
		builder := tbl.NewBatchWriteBuilder()
		write, err := builder.NewWrite(cfg.SpillPaths)
		if err != nil {
			return nil, xerrors.Errorf("unable to open batch write session: %w", err)
		}
		sessions.batchWrite = write
		sessions.newBatchCommit = builder.NewCommit
	case StreamingMode:
		builder := tbl.NewStreamWriteBuilder()
		write, err := builder.NewWrite(cfg.SpillPaths)
		if err != nil {
			return nil, xerrors.Errorf("unable to open stream write session: %w", err)
		}
		sessions.streamWrite = write
		sessions.newStreamCommit = builder.NewCommit
	}
	return newWriterWithSessions(cfg, tbl, rowType, sessions, states, registry, lgr)
}

func newWriterWithSessions(cfg *SinkConfig, tbl *table.Table, rowType *abstract.TableSchema, sessions writerSessions, states []*SinkState, registry metrics.Registry, lgr log.Logger) (*Writer, error) {
	cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, xerrors.Errorf("invalid sink config: %w", err)
	}

	commitUser, err := cfg.IdentitySource()
	if err != nil {
		return nil, xerrors.Errorf("unable to generate commit user: %w", err)
	}

	changelogProducer := tbl.Options().ChangelogProducer
	if cfg.ChangelogProducer != "" && cfg.ChangelogProducer != changelogProducer {
		lgr.Warn("configured changelog-producer is not compatible with the table options, the table's changelog-producer wins",
			log.String("configured", string(cfg.ChangelogProducer)),
			log.String("table", string(changelogProducer)))
	}

	bucketMode := tbl.BucketMode()
	dynamicBucket := bucketMode.DynamicBucket()
	if tbl.Options().Bucket == -1 && bucketMode == table.BucketUnaware {
		lgr.Warn("append only table currently do not support dynamic bucket")
	}
	var assigner *bucket.Assigner
	if dynamicBucket {
		assigner = bucket.NewAssigner(tbl, cfg.NumWriters, cfg.WriterIndex, lgr)
	}

	w := &Writer{
		cfg:     cfg,
		tbl:     tbl,
		rowType: rowType,
		lgr:     lgr,
		stats:   NewStats(registry),

		commitUser:   commitUser,
		checkpointID: 0,
		sessions:     sessions,

		dynamicBucket:     dynamicBucket,
		assigner:          assigner,
		changelogProducer: changelogProducer,

		committables: nil,

		closed: false,
	}
	if err := w.recover(states); err != nil {
		_ = w.Close()
		return nil, err
	}
	return w, nil
}

func (w *Writer) recover(states []*SinkState) error {
	if len(states) == 0 {
		return nil
	}
	w.commitUser = states[0].CommitUser
	w.checkpointID = states[0].CheckpointID
	var committables []*table.CommitMessage
	for _, state := range states {
		committables = append(committables, state.Committables...)
	}
	w.lgr.Info("trying to recommit states",
		log.String("commit_user", w.commitUser),
		log.Int64("checkpoint_id", w.checkpointID),
		log.Int("committables", len(committables)))
	var err error
	switch w.cfg.WriteMode {
	case BatchMode:
		commit := w.sessions.newBatchCommit(w.commitUser)
		err = commit.Commit(committables)
		_ = commit.Close()
	case StreamingMode:
		commit := w.sessions.newStreamCommit(w.commitUser)
		err = commit.Commit(w.checkpointID, committables)
		_ = commit.Close()
	}
	if err != nil {
		return coderr.Errorf(CommitReplayError, "unable to recommit recovered states: %w", err)
	}
	w.stats.ReplayedCommits.Add(int64(len(committables)))
	return nil
}

// CommitUser returns the writer's identity as the commit protocol sees it.
func (w *Writer) CommitUser() string {
	return w.commitUser
}

// Write converts the record into the table's row encoding and routes it into
// the write session. Errors are not retried here; the caller owns retry policy.
func (w *Writer) Write(rec *abstract.Record) error {
	row, err := rowconv.Convert(rec, w.rowType, w.tbl.Schema())
	if err == nil {
		if w.dynamicBucket {
			err = w.writeWithBucket(row, w.assigner.Assign(row))
		} else {
			err = w.write(row)
		}
	}
	if err != nil {
		w.stats.WriteErrors.Inc()
		return coderr.Errorf(RecordWriteError, "this record %s failed to be written: %w", rec.String(), err)
	}
	w.stats.RowsWritten.Inc()
	return nil
}

func (w *Writer) write(row table.Row) error {
	switch w.cfg.WriteMode {
	case BatchMode:
		return w.sessions.batchWrite.Write(row)
	default:
		return w.sessions.streamWrite.Write(row)
	}
}

func (w *Writer) writeWithBucket(row table.Row, bucketID int) error {
	switch w.cfg.WriteMode {
	case BatchMode:
		return w.sessions.batchWrite.WriteWithBucket(row, bucketID)
	default:
		return w.sessions.streamWrite.WriteWithBucket(row, bucketID)
	}
}

// Compact asks the streaming write session to rewrite one bucket in the
// background; the result is folded into a later PrepareCommit.
func (w *Writer) Compact(partition string, bucketID int) error {
	if w.cfg.WriteMode != StreamingMode {
		return xerrors.New("compaction is only available in streaming mode")
	}
	return w.sessions.streamWrite.Compact(partition, bucketID)
}

// PrepareCommit flushes the write session into commit messages for the given
// checkpoint. The messages are buffered for the next snapshot and returned
// (as a copy) for immediate hand-off to the commit coordinator.
func (w *Writer) PrepareCommit(checkpointID int64) ([]*table.CommitMessage, error) {
	var messages []*table.CommitMessage
	var err error
	switch w.cfg.WriteMode {
	case BatchMode:
		messages, err = w.sessions.batchWrite.PrepareCommit()
	case StreamingMode:
		messages, err = w.sessions.streamWrite.PrepareCommit(w.waitCompaction(), checkpointID)
	}
	if err != nil {
		return nil, coderr.Errorf(PreCommitFailure, "pre-commit of checkpoint %d failed: %w", checkpointID, err)
	}
	w.committables = append(w.committables, messages...)
	w.stats.Flushes.Inc()
	w.stats.CommitMessages.Add(int64(len(messages)))
	for _, m := range messages {
		for _, f := range m.Files {
			w.stats.BytesUploaded.Add(f.Size)
		}
	}
	return table.CopyMessages(messages), nil
}

// PrepareCommitNoCheckpoint exists for the writer-without-checkpointing case:
// it performs no flush and reports no commit info.
func (w *Writer) PrepareCommitNoCheckpoint() ([]*table.CommitMessage, error) {
	return nil, nil
}

// waitCompaction: lookup and full-compaction changelog producers need the
// compaction result reflected in the flushed output, otherwise derived
// changelog rows would be dropped or misordered.
func (w *Writer) waitCompaction() bool {
	return w.changelogProducer == table.ChangelogProducerLookup ||
		w.changelogProducer == table.ChangelogProducerFullCompaction
}

// SnapshotState captures the pending commit buffer into exactly one state and
// starts a fresh buffer. Must be called after PrepareCommit of the same
// checkpoint, so every commit message lives in exactly one snapshot.
func (w *Writer) SnapshotState(checkpointID int64) *SinkState {
	state := &SinkState{
		CommitUser:   w.commitUser,
		CheckpointID: checkpointID,
		Committables: table.CopyMessages(w.committables),
	}
	w.committables = nil
	w.stats.Snapshots.Inc()
	return state
}

// Close releases the write session unconditionally; the pending commit buffer
// is cleared whether or not the underlying close succeeds.
func (w *Writer) Close() error {
	defer func() {
		w.committables = nil
	}()
	if w.closed {
		return nil
	}
	w.closed = true
	var err error
	switch w.cfg.WriteMode {
	case BatchMode:
		if w.sessions.batchWrite != nil {
			err = w.sessions.batchWrite.Close()
		}
	case StreamingMode:
		if w.sessions.streamWrite != nil {
			err = w.sessions.streamWrite.Close()
		}
	}
	if err != nil {
		w.lgr.Error("failed to close table write session", log.Error(err))
		return coderr.Errorf(WriterCloseError, "unable to close write session: %w", err)
	}
	return nil
}

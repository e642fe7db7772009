package sink

import (
	"github.com/doublecloud/lakesink/pkg/coderr"
)

// Stable error codes of the sink writer. Everything else it returns is a plain
// wrapped error.
var (
	// CommitReplayError: re-committing recovered state failed. Fatal, the
	// writer cannot safely start in an unknown commit state.
	CommitReplayError = coderr.Register("sink", "commit_replay_failed")
	// RecordWriteError: a single record failed conversion or the underlying
	// write. Propagated per record, retry is the caller's policy.
	RecordWriteError = coderr.Register("sink", "record_write_failed")
	// PreCommitFailure: flushing a checkpoint failed. The caller must fail the
	// checkpoint attempt, not retry the flush.
	PreCommitFailure = coderr.Register("sink", "pre_commit_failed")
	// WriterCloseError: releasing the write session failed. Logged, does not
	// block cleanup.
	WriterCloseError = coderr.Register("sink", "writer_close_failed")
)

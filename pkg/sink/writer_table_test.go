package sink

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.ytsaurus.tech/library/go/core/metrics/solomon"

	"github.com/doublecloud/lakesink/internal/logger"
	"github.com/doublecloud/lakesink/pkg/coordinator"
	"github.com/doublecloud/lakesink/pkg/table"
)

// End-to-end over a real local table: flush, snapshot, crash before the commit
// confirmation, recover and re-commit. The snapshot log must end up with the
// checkpoint applied exactly once no matter how many recoveries replay it.
func TestStreamingRecoveryCommitsExactlyOnce(t *testing.T) {
	tbl := newTestTable(t, &table.Options{Bucket: 2})
	registry := solomon.NewRegistry(solomon.NewRegistryOpts())

	writer, err := New(testConfig(StreamingMode), tbl, testSchema(), registry, logger.Log)
	require.NoError(t, err)
	for i := int64(1); i <= 5; i++ {
		require.NoError(t, writer.Write(testRecord(i, "r")))
	}
	messages, err := writer.PrepareCommit(1)
	require.NoError(t, err)
	require.NotEmpty(t, messages)
	state := writer.SnapshotState(1)
	require.NoError(t, writer.Close())

	// the state travels through the framework's checkpoint store as bytes
	raw, err := state.Marshal()
	require.NoError(t, err)
	restored, err := UnmarshalSinkState(raw)
	require.NoError(t, err)

	recovered, err := NewFromStates(testConfig(StreamingMode), tbl, testSchema(), []*SinkState{restored}, registry, logger.Log)
	require.NoError(t, err)
	require.NoError(t, recovered.Close())

	snaps, err := tbl.Snapshots()
	require.NoError(t, err)
	require.Len(t, snaps, 1)
	require.Equal(t, int64(1), snaps[0].CheckpointID)
	require.Equal(t, state.CommitUser, snaps[0].CommitUser)

	// a second recovery from the same state is absorbed by the snapshot log
	again, err := NewFromStates(testConfig(StreamingMode), tbl, testSchema(), []*SinkState{restored}, registry, logger.Log)
	require.NoError(t, err)
	require.NoError(t, again.Close())
	snaps, err = tbl.Snapshots()
	require.NoError(t, err)
	require.Len(t, snaps, 1)

	// every committed data file is durable in the store
	for _, m := range snaps[0].Messages {
		require.Equal(t, table.CommitKindAppend, m.Kind)
		require.NotEmpty(t, m.Files)
	}
	var rows int64
	for _, m := range snaps[0].Messages {
		rows += m.RowCount()
	}
	require.Equal(t, int64(5), rows)
}

func TestBatchTerminalCommitEndToEnd(t *testing.T) {
	tbl := newTestTable(t, &table.Options{Bucket: 2})
	registry := solomon.NewRegistry(solomon.NewRegistryOpts())

	writer, err := New(testConfig(BatchMode), tbl, testSchema(), registry, logger.Log)
	require.NoError(t, err)
	for i := int64(1); i <= 3; i++ {
		require.NoError(t, writer.Write(testRecord(i, "r")))
	}
	messages, err := writer.PrepareCommit(table.TerminalCheckpointID)
	require.NoError(t, err)
	state := writer.SnapshotState(table.TerminalCheckpointID)

	cp := coordinator.NewTableCoordinator(tbl, writer.CommitUser(), logger.Log)
	defer cp.Close()
	require.NoError(t, cp.CommitTerminal(messages))
	require.NoError(t, writer.Close())

	snaps, err := tbl.Snapshots()
	require.NoError(t, err)
	require.Len(t, snaps, 1)
	require.Equal(t, table.TerminalCheckpointID, snaps[0].CheckpointID)

	// a restart that replays the same terminal state does not double-commit
	recovered, err := NewFromStates(testConfig(BatchMode), tbl, testSchema(), []*SinkState{state}, registry, logger.Log)
	require.NoError(t, err)
	require.NoError(t, recovered.Close())
	snaps, err = tbl.Snapshots()
	require.NoError(t, err)
	require.Len(t, snaps, 1)
}

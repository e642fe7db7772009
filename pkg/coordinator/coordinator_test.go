package coordinator

import (
	"testing"

	"github.com/stretchr/testify/require"
	yt_schema "go.ytsaurus.tech/yt/go/schema"

	"github.com/doublecloud/lakesink/internal/logger"
	"github.com/doublecloud/lakesink/pkg/abstract"
	"github.com/doublecloud/lakesink/pkg/store"
	"github.com/doublecloud/lakesink/pkg/table"
)

func newTestTable(t *testing.T) *table.Table {
	t.Helper()
	st := store.NewStoreLocal(&store.LocalConfig{TablePath: t.TempDir()})
	tableSchema := abstract.NewTableSchema([]abstract.ColSchema{
		abstract.NewColSchema("id", yt_schema.TypeInt64, true),
	})
	tbl, err := table.Create(st, tableSchema, &table.Options{Bucket: 2}, logger.Log)
	require.NoError(t, err)
	return tbl
}

func messages(name string) []*table.CommitMessage {
	return []*table.CommitMessage{{
		Kind:   table.CommitKindAppend,
		Bucket: 0,
		Files:  []table.DataFileMeta{{Name: name, Size: 1, RowCount: 1}},
	}}
}

func TestTableCoordinatorCommitsCheckpoints(t *testing.T) {
	tbl := newTestTable(t)
	cp := NewTableCoordinator(tbl, "writer-1", logger.Log)
	defer cp.Close()

	require.NoError(t, cp.CommitAtCheckpoint(1, messages("f1")))
	require.NoError(t, cp.CommitAtCheckpoint(2, messages("f2")))
	// the recovery re-commit of an applied checkpoint is absorbed
	require.NoError(t, cp.CommitAtCheckpoint(1, messages("f1")))

	snaps, err := tbl.Snapshots()
	require.NoError(t, err)
	require.Len(t, snaps, 2)
	require.Equal(t, int64(1), snaps[0].CheckpointID)
	require.Equal(t, int64(2), snaps[1].CheckpointID)
	require.Equal(t, "writer-1", snaps[0].CommitUser)
}

func TestTableCoordinatorCommitsTerminal(t *testing.T) {
	tbl := newTestTable(t)
	cp := NewTableCoordinator(tbl, "batch-writer", logger.Log)
	defer cp.Close()

	require.NoError(t, cp.CommitTerminal(messages("f1")))
	require.NoError(t, cp.CommitTerminal(messages("f1")))

	snaps, err := tbl.Snapshots()
	require.NoError(t, err)
	require.Len(t, snaps, 1)
	require.Equal(t, table.TerminalCheckpointID, snaps[0].CheckpointID)
}

func TestRecordingKeepsCallOrder(t *testing.T) {
	rec := NewRecording()
	require.NoError(t, rec.CommitAtCheckpoint(1, messages("f1")))
	require.NoError(t, rec.CommitTerminal(messages("f2")))
	require.NoError(t, rec.CommitAtCheckpoint(2, nil))

	calls := rec.Calls()
	require.Len(t, calls, 3)
	require.False(t, calls[0].Terminal)
	require.Equal(t, int64(1), calls[0].CheckpointID)
	require.Equal(t, messages("f1"), calls[0].Messages)
	require.True(t, calls[1].Terminal)
	require.False(t, calls[2].Terminal)
	require.Empty(t, calls[2].Messages)
}

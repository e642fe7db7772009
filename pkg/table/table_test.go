package table

import (
	"io"
	"testing"

	"github.com/stretchr/testify/require"
	yt_schema "go.ytsaurus.tech/yt/go/schema"

	"github.com/doublecloud/lakesink/internal/logger"
	"github.com/doublecloud/lakesink/pkg/abstract"
	"github.com/doublecloud/lakesink/pkg/store"
)

func testColumns() []abstract.ColSchema {
	return []abstract.ColSchema{
		abstract.NewColSchema("id", yt_schema.TypeInt64, true),
		abstract.NewColSchema("region", yt_schema.TypeString, false),
		abstract.NewColSchema("payload", yt_schema.TypeString, false),
	}
}

func createTestTable(t *testing.T, opts *Options) *Table {
	t.Helper()
	st := store.NewStoreLocal(&store.LocalConfig{TablePath: t.TempDir()})
	tbl, err := Create(st, abstract.NewTableSchema(testColumns()), opts, logger.Log)
	require.NoError(t, err)
	return tbl
}

func row(id int64, region string, payload string) Row {
	return Row{Kind: RowKindInsert, Values: []interface{}{id, region, payload}}
}

func TestCreateOpenRoundtrip(t *testing.T) {
	st := store.NewStoreLocal(&store.LocalConfig{TablePath: t.TempDir()})
	opts := &Options{Bucket: 4, PartitionKeys: []string{"region"}, ChangelogProducer: ChangelogProducerInput}
	_, err := Create(st, abstract.NewTableSchema(testColumns()), opts, logger.Log)
	require.NoError(t, err)

	tbl, err := Open(st, logger.Log)
	require.NoError(t, err)
	require.Equal(t, []string{"id", "region", "payload"}, tbl.Schema().ColumnNames())
	require.Equal(t, 4, tbl.Options().Bucket)
	require.Equal(t, []string{"region"}, tbl.Options().PartitionKeys)
	require.Equal(t, ChangelogProducerInput, tbl.Options().ChangelogProducer)

	_, err = Create(st, abstract.NewTableSchema(testColumns()), opts, logger.Log)
	require.Error(t, err)
	require.Contains(t, err.Error(), "already exists")
}

func TestCreateRejectsUnknownPartitionKey(t *testing.T) {
	st := store.NewStoreLocal(&store.LocalConfig{TablePath: t.TempDir()})
	_, err := Create(st, abstract.NewTableSchema(testColumns()), &Options{Bucket: 4, PartitionKeys: []string{"nope"}}, logger.Log)
	require.Error(t, err)
}

func TestOpenMissingTable(t *testing.T) {
	st := store.NewStoreLocal(&store.LocalConfig{TablePath: t.TempDir()})
	_, err := Open(st, logger.Log)
	require.Error(t, err)
}

func TestBucketModeDerivation(t *testing.T) {
	st := func() store.Store { return store.NewStoreLocal(&store.LocalConfig{TablePath: t.TempDir()}) }
	pkSchema := abstract.NewTableSchema(testColumns())
	noPKSchema := abstract.NewTableSchema([]abstract.ColSchema{
		abstract.NewColSchema("region", yt_schema.TypeString, false),
		abstract.NewColSchema("payload", yt_schema.TypeString, false),
	})
	pkWithPartitionSchema := abstract.NewTableSchema([]abstract.ColSchema{
		abstract.NewColSchema("id", yt_schema.TypeInt64, true),
		abstract.NewColSchema("region", yt_schema.TypeString, true),
		abstract.NewColSchema("payload", yt_schema.TypeString, false),
	})

	cases := []struct {
		name     string
		schema   *abstract.TableSchema
		opts     *Options
		expected BucketMode
	}{
		{"fixed bucket with pk", pkSchema, &Options{Bucket: 4}, HashFixed},
		{"fixed bucket without pk", noPKSchema, &Options{Bucket: 4}, BucketUnaware},
		{"dynamic with pk", pkSchema, &Options{Bucket: -1}, HashDynamic},
		{"dynamic without pk", noPKSchema, &Options{Bucket: -1}, BucketUnaware},
		{"pk does not cover partition", pkSchema, &Options{Bucket: -1, PartitionKeys: []string{"region"}}, CrossPartition},
		{"pk covers partition", pkWithPartitionSchema, &Options{Bucket: -1, PartitionKeys: []string{"region"}}, HashDynamic},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tbl, err := Create(st(), tc.schema, tc.opts, logger.Log)
			require.NoError(t, err)
			require.Equal(t, tc.expected, tbl.BucketMode())
		})
	}
}

func TestKeyHashDependsOnKeyOnly(t *testing.T) {
	tbl := createTestTable(t, &Options{Bucket: 4})
	require.Equal(t, tbl.KeyHash(row(1, "eu", "a")), tbl.KeyHash(row(1, "us", "b")))
	require.NotEqual(t, tbl.KeyHash(row(1, "eu", "a")), tbl.KeyHash(row(2, "eu", "a")))
}

func TestKeyHashWholeRowWithoutKeys(t *testing.T) {
	st := store.NewStoreLocal(&store.LocalConfig{TablePath: t.TempDir()})
	noPKSchema := abstract.NewTableSchema([]abstract.ColSchema{
		abstract.NewColSchema("region", yt_schema.TypeString, false),
		abstract.NewColSchema("payload", yt_schema.TypeString, false),
	})
	tbl, err := Create(st, noPKSchema, &Options{Bucket: 4}, logger.Log)
	require.NoError(t, err)
	r := Row{Kind: RowKindInsert, Values: []interface{}{"eu", "a"}}
	other := Row{Kind: RowKindInsert, Values: []interface{}{"eu", "b"}}
	require.Equal(t, tbl.KeyHash(r), tbl.KeyHash(r))
	require.NotEqual(t, tbl.KeyHash(r), tbl.KeyHash(other))
}

func TestPartitionOf(t *testing.T) {
	tbl := createTestTable(t, &Options{Bucket: 4, PartitionKeys: []string{"region"}})
	require.Equal(t, "region=eu", tbl.PartitionOf(row(1, "eu", "a")))

	flat := createTestTable(t, &Options{Bucket: 4})
	require.Equal(t, "", flat.PartitionOf(row(1, "eu", "a")))
}

func TestBatchWriteFlushUploadsAndReports(t *testing.T) {
	tbl := createTestTable(t, &Options{Bucket: 2, PartitionKeys: []string{"region"}})
	write, err := tbl.NewBatchWriteBuilder().NewWrite("")
	require.NoError(t, err)
	defer write.Close()

	rows := []Row{
		row(1, "eu", "a"),
		row(2, "eu", "b"),
		row(3, "us", "c"),
	}
	for _, r := range rows {
		require.NoError(t, write.Write(r))
	}

	messages, err := write.PrepareCommit()
	require.NoError(t, err)
	require.NotEmpty(t, messages)

	var total int64
	for _, m := range messages {
		require.Equal(t, CommitKindAppend, m.Kind)
		total += m.RowCount()
		for _, f := range m.Files {
			r, err := tbl.Store().Read(tbl.dataFilePath(m.Partition, m.Bucket, f.Name))
			require.NoError(t, err)
			raw, err := io.ReadAll(r)
			require.NoError(t, err)
			require.NoError(t, r.Close())
			require.Equal(t, f.Size, int64(len(raw)))
		}
	}
	require.Equal(t, int64(len(rows)), total)

	// messages come out in (partition, bucket) order
	for i := 1; i < len(messages); i++ {
		prev, cur := messages[i-1], messages[i]
		require.True(t, prev.Partition < cur.Partition ||
			(prev.Partition == cur.Partition && prev.Bucket < cur.Bucket))
	}

	// the session starts empty again after a flush
	again, err := write.PrepareCommit()
	require.NoError(t, err)
	require.Empty(t, again)
}

func TestWriteRequiresBucketTagInDynamicMode(t *testing.T) {
	tbl := createTestTable(t, &Options{Bucket: -1})
	require.Equal(t, HashDynamic, tbl.BucketMode())
	write, err := tbl.NewStreamWriteBuilder().NewWrite("")
	require.NoError(t, err)
	defer write.Close()

	require.Error(t, write.Write(row(1, "eu", "a")))
	require.NoError(t, write.WriteWithBucket(row(1, "eu", "a"), 3))
}

func TestStreamCommitIsIdempotentPerCheckpoint(t *testing.T) {
	tbl := createTestTable(t, &Options{Bucket: 2})
	commit := tbl.NewStreamWriteBuilder().NewCommit("writer-1")
	defer commit.Close()

	messages := []*CommitMessage{{
		Kind:   CommitKindAppend,
		Bucket: 0,
		Files:  []DataFileMeta{{Name: "data-x.parquet", Size: 10, RowCount: 2}},
	}}

	require.NoError(t, commit.Commit(1, messages))
	require.NoError(t, commit.Commit(1, messages))
	latest, err := tbl.LatestSnapshotID()
	require.NoError(t, err)
	require.Equal(t, int64(1), latest)

	require.NoError(t, commit.Commit(2, messages))
	latest, err = tbl.LatestSnapshotID()
	require.NoError(t, err)
	require.Equal(t, int64(2), latest)

	// a different writer with the same checkpoint id is a distinct commit
	other := tbl.NewStreamWriteBuilder().NewCommit("writer-2")
	defer other.Close()
	require.NoError(t, other.Commit(2, messages))
	latest, err = tbl.LatestSnapshotID()
	require.NoError(t, err)
	require.Equal(t, int64(3), latest)

	snaps, err := tbl.Snapshots()
	require.NoError(t, err)
	require.Len(t, snaps, 3)
	require.Equal(t, "writer-1", snaps[0].CommitUser)
	require.Equal(t, int64(1), snaps[0].CheckpointID)
	require.Equal(t, "writer-2", snaps[2].CommitUser)
}

func TestEmptyCommitProducesNoSnapshot(t *testing.T) {
	tbl := createTestTable(t, &Options{Bucket: 2})
	commit := tbl.NewStreamWriteBuilder().NewCommit("writer-1")
	defer commit.Close()

	require.NoError(t, commit.Commit(1, nil))
	latest, err := tbl.LatestSnapshotID()
	require.NoError(t, err)
	require.Equal(t, int64(0), latest)
}

func TestBatchCommitUsesTerminalCheckpoint(t *testing.T) {
	tbl := createTestTable(t, &Options{Bucket: 2})
	commit := tbl.NewBatchWriteBuilder().NewCommit("batch-writer")
	defer commit.Close()

	messages := []*CommitMessage{{
		Kind:   CommitKindAppend,
		Bucket: 0,
		Files:  []DataFileMeta{{Name: "data-x.parquet", Size: 10, RowCount: 2}},
	}}
	require.NoError(t, commit.Commit(messages))
	require.NoError(t, commit.Commit(messages))

	snaps, err := tbl.Snapshots()
	require.NoError(t, err)
	require.Len(t, snaps, 1)
	require.Equal(t, TerminalCheckpointID, snaps[0].CheckpointID)
}

func TestCompactionMergesBucketFiles(t *testing.T) {
	tbl := createTestTable(t, &Options{Bucket: 1})
	write, err := tbl.NewStreamWriteBuilder().NewWrite("")
	require.NoError(t, err)
	defer write.Close()

	require.NoError(t, write.Write(row(1, "eu", "a")))
	require.NoError(t, write.Write(row(2, "eu", "b")))
	_, err = write.PrepareCommit(false, 1)
	require.NoError(t, err)
	require.NoError(t, write.Write(row(3, "us", "c")))
	_, err = write.PrepareCommit(false, 2)
	require.NoError(t, err)

	require.NoError(t, write.Compact("", 0))
	// at most one compaction per session
	require.Error(t, write.Compact("", 0))

	messages, err := write.PrepareCommit(true, 3)
	require.NoError(t, err)
	require.Len(t, messages, 1)
	require.Equal(t, CommitKindCompact, messages[0].Kind)
	require.Equal(t, 0, messages[0].Bucket)
	require.Equal(t, int64(3), messages[0].RowCount())

	// the fold cleared the slot for the next compaction
	require.NoError(t, write.Compact("", 0))
	_, err = write.PrepareCommit(true, 4)
	require.NoError(t, err)
}

func TestCompactionSingleFileIsNoop(t *testing.T) {
	tbl := createTestTable(t, &Options{Bucket: 1})
	write, err := tbl.NewStreamWriteBuilder().NewWrite("")
	require.NoError(t, err)
	defer write.Close()

	require.NoError(t, write.Write(row(1, "eu", "a")))
	_, err = write.PrepareCommit(false, 1)
	require.NoError(t, err)

	require.NoError(t, write.Compact("", 0))
	messages, err := write.PrepareCommit(true, 2)
	require.NoError(t, err)
	require.Empty(t, messages)
}

func TestCompactionPollWithoutWait(t *testing.T) {
	tbl := createTestTable(t, &Options{Bucket: 1})
	task := newCompactionTask(tbl, "", 0, t.TempDir())

	// not started yet: a non-waiting poll reports nothing
	messages, done, err := task.poll(false)
	require.NoError(t, err)
	require.False(t, done)
	require.Nil(t, messages)

	go task.run()
	messages, done, err = task.poll(true)
	require.NoError(t, err)
	require.True(t, done)
	require.Nil(t, messages)
}

func TestCopyMessagesDetachesBackingArray(t *testing.T) {
	original := []*CommitMessage{{Kind: CommitKindAppend, Bucket: 0}, {Kind: CommitKindAppend, Bucket: 1}}
	copied := CopyMessages(original)
	require.Equal(t, original, copied)
	copied[0] = &CommitMessage{Kind: CommitKindCompact}
	require.Equal(t, CommitKindAppend, original[0].Kind)
}

func TestSplitPaths(t *testing.T) {
	require.Len(t, SplitPaths(""), 1)
	require.Equal(t, []string{"/a", "/b", "/c"}, SplitPaths("/a,/b:/c"))
	require.Equal(t, []string{"/a"}, SplitPaths(" /a , "))
}

func TestIOManagerRoundRobin(t *testing.T) {
	root1, root2 := t.TempDir(), t.TempDir()
	m, err := NewIOManager(root1 + "," + root2)
	require.NoError(t, err)
	first := m.AllocateDir()
	second := m.AllocateDir()
	third := m.AllocateDir()
	require.NotEqual(t, first, second)
	require.Equal(t, first, third)
	require.NoError(t, m.Close())
}

func TestOptionsDefaultsAndValidation(t *testing.T) {
	opts := &Options{}
	opts.WithDefaults()
	require.Equal(t, -1, opts.Bucket)
	require.Equal(t, ChangelogProducerNone, opts.ChangelogProducer)
	require.NoError(t, opts.Validate())

	bad := &Options{Bucket: 4, ChangelogProducer: "sometimes"}
	require.Error(t, bad.Validate())
}

package table

import (
	"os"
	"sort"

	"go.ytsaurus.tech/library/go/core/log"
	"go.ytsaurus.tech/library/go/core/xerrors"
	"golang.org/x/sync/errgroup"
)

// BatchWrite is the terminal, single-commit write session of a batch job.
type BatchWrite interface {
	Write(row Row) error
	WriteWithBucket(row Row, bucket int) error
	// PrepareCommit flushes everything buffered into commit messages. Terminal
	// for this session.
	PrepareCommit() ([]*CommitMessage, error)
	Close() error
}

// StreamWrite is the checkpoint-scoped write session of a streaming job.
type StreamWrite interface {
	Write(row Row) error
	WriteWithBucket(row Row, bucket int) error
	// Compact launches an asynchronous rewrite of the bucket's files. At most
	// one compaction is in flight per session.
	Compact(partition string, bucket int) error
	// PrepareCommit flushes buffered rows into commit messages. When
	// waitCompaction is set it blocks until the in-flight compaction finishes
	// and folds its result in; otherwise a still-running compaction is left for
	// a later flush.
	PrepareCommit(waitCompaction bool, checkpointID int64) ([]*CommitMessage, error)
	Close() error
}

// BatchCommit applies a terminal batch commit.
type BatchCommit interface {
	Commit(messages []*CommitMessage) error
	Close() error
}

// StreamCommit applies a checkpoint-tagged commit. Re-committing an already
// applied checkpoint of the same commit user is a no-op.
type StreamCommit interface {
	Commit(checkpointID int64, messages []*CommitMessage) error
	Close() error
}

type BatchWriteBuilder struct {
	t *Table
}

func (t *Table) NewBatchWriteBuilder() *BatchWriteBuilder {
	return &BatchWriteBuilder{t: t}
}

func (b *BatchWriteBuilder) NewWrite(spillPathSpec string) (BatchWrite, error) {
	fsw, err := newFileStoreWrite(b.t, spillPathSpec)
	if err != nil {
		return nil, err
	}
	return &batchWrite{fileStoreWrite: fsw}, nil
}

func (b *BatchWriteBuilder) NewCommit(commitUser string) BatchCommit {
	return &batchCommit{t: b.t, commitUser: commitUser}
}

type StreamWriteBuilder struct {
	t *Table
}

func (t *Table) NewStreamWriteBuilder() *StreamWriteBuilder {
	return &StreamWriteBuilder{t: t}
}

func (b *StreamWriteBuilder) NewWrite(spillPathSpec string) (StreamWrite, error) {
	fsw, err := newFileStoreWrite(b.t, spillPathSpec)
	if err != nil {
		return nil, err
	}
	return &streamWrite{fileStoreWrite: fsw, compaction: nil}, nil
}

func (b *StreamWriteBuilder) NewCommit(commitUser string) StreamCommit {
	return &streamCommit{t: b.t, commitUser: commitUser}
}

// uploadConcurrency bounds parallel data file uploads during a flush.
const uploadConcurrency = 4

// fileStoreWrite buffers rows into per-(partition, bucket) staged data files
// and turns them into commit messages on flush. Owned by a single driver
// goroutine, no internal locking.
type fileStoreWrite struct {
	t         *Table
	ioManager *IOManager
	lgr       log.Logger

	writers map[string]map[int]*dataFileWriter
}

func newFileStoreWrite(t *Table, spillPathSpec string) (*fileStoreWrite, error) {
	ioManager, err := NewIOManager(spillPathSpec)
	if err != nil {
		return nil, xerrors.Errorf("unable to init io manager: %w", err)
	}
	return &fileStoreWrite{
		t:         t,
		ioManager: ioManager,
		lgr:       t.lgr,

		writers: map[string]map[int]*dataFileWriter{},
	}, nil
}

func (w *fileStoreWrite) writerFor(partition string, bucket int) (*dataFileWriter, error) {
	buckets, ok := w.writers[partition]
	if !ok {
		buckets = map[int]*dataFileWriter{}
		w.writers[partition] = buckets
	}
	writer, ok := buckets[bucket]
	if !ok {
		var err error
		writer, err = newDataFileWriter(w.t.Schema().Columns(), w.ioManager.AllocateDir(), w.t.opts.TargetFileSize)
		if err != nil {
			return nil, err
		}
		buckets[bucket] = writer
	}
	return writer, nil
}

// Write routes the row without an explicit bucket tag: fixed-hash tables hash
// here, unaware tables have the single zero bucket, dynamic tables must be
// written with WriteWithBucket.
func (w *fileStoreWrite) Write(row Row) error {
	bucket := 0
	switch mode := w.t.BucketMode(); mode {
	case HashFixed:
		bucket = int(w.t.KeyHash(row) % uint64(w.t.opts.Bucket))
	case BucketUnaware:
		bucket = 0
	default:
		return xerrors.Errorf("bucket mode %q requires an explicit bucket tag", mode)
	}
	return w.WriteWithBucket(row, bucket)
}

func (w *fileStoreWrite) WriteWithBucket(row Row, bucket int) error {
	writer, err := w.writerFor(w.t.PartitionOf(row), bucket)
	if err != nil {
		return err
	}
	return writer.Write(row)
}

type flushedBucket struct {
	partition string
	bucket    int
	staged    []stagedFile
}

// flush finalizes all staged files, uploads them and produces one commit
// message per non-empty (partition, bucket) pair, in deterministic order.
func (w *fileStoreWrite) flush() ([]*CommitMessage, error) {
	var flushed []flushedBucket
	for partition, buckets := range w.writers {
		for bucket, writer := range buckets {
			staged, err := writer.Finish()
			if err != nil {
				return nil, xerrors.Errorf("unable to finish data files of %q bucket %d: %w", partition, bucket, err)
			}
			if len(staged) == 0 {
				continue
			}
			flushed = append(flushed, flushedBucket{partition: partition, bucket: bucket, staged: staged})
		}
	}
	w.writers = map[string]map[int]*dataFileWriter{}
	sort.Slice(flushed, func(i, j int) bool {
		if flushed[i].partition != flushed[j].partition {
			return flushed[i].partition < flushed[j].partition
		}
		return flushed[i].bucket < flushed[j].bucket
	})

	eg := errgroup.Group{}
	eg.SetLimit(uploadConcurrency)
	for _, fb := range flushed {
		for _, staged := range fb.staged {
			fb, staged := fb, staged
			eg.Go(func() error {
				f, err := os.Open(staged.localPath)
				if err != nil {
					return xerrors.Errorf("unable to open staged file: %s: %w", staged.localPath, err)
				}
				defer f.Close()
				target := w.t.dataFilePath(fb.partition, fb.bucket, staged.meta.Name)
				if err := w.t.store.Put(target, f); err != nil {
					return xerrors.Errorf("unable to upload data file: %s: %w", target, err)
				}
				_ = os.Remove(staged.localPath)
				return nil
			})
		}
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	messages := make([]*CommitMessage, 0, len(flushed))
	for _, fb := range flushed {
		files := make([]DataFileMeta, len(fb.staged))
		for i, staged := range fb.staged {
			files[i] = staged.meta
		}
		messages = append(messages, &CommitMessage{
			Kind:      CommitKindAppend,
			Partition: fb.partition,
			Bucket:    fb.bucket,
			Files:     files,
		})
	}
	w.lgr.Debug("flushed write session", log.Int("messages", len(messages)))
	return messages, nil
}

func (w *fileStoreWrite) Close() error {
	for _, buckets := range w.writers {
		for _, writer := range buckets {
			writer.Discard()
		}
	}
	w.writers = map[string]map[int]*dataFileWriter{}
	if err := w.ioManager.Close(); err != nil {
		return xerrors.Errorf("unable to close io manager: %w", err)
	}
	return nil
}

type batchWrite struct {
	*fileStoreWrite
}

func (w *batchWrite) PrepareCommit() ([]*CommitMessage, error) {
	return w.flush()
}

type streamWrite struct {
	*fileStoreWrite
	compaction *compactionTask
}

func (w *streamWrite) Compact(partition string, bucket int) error {
	if w.compaction != nil {
		return xerrors.Errorf("compaction of %q bucket %d is already in flight", w.compaction.partition, w.compaction.bucket)
	}
	task := newCompactionTask(w.t, partition, bucket, w.ioManager.AllocateDir())
	w.compaction = task
	go task.run()
	return nil
}

func (w *streamWrite) PrepareCommit(waitCompaction bool, checkpointID int64) ([]*CommitMessage, error) {
	messages, err := w.flush()
	if err != nil {
		return nil, err
	}
	if w.compaction != nil {
		compacted, done, err := w.compaction.poll(waitCompaction)
		if err != nil {
			w.compaction = nil
			return nil, xerrors.Errorf("compaction of checkpoint %d failed: %w", checkpointID, err)
		}
		if done {
			messages = append(messages, compacted...)
			w.compaction = nil
		}
	}
	return messages, nil
}

func (w *streamWrite) Close() error {
	if w.compaction != nil {
		// let it finish, the result is simply dropped
		_, _, _ = w.compaction.poll(true)
		w.compaction = nil
	}
	return w.fileStoreWrite.Close()
}

type batchCommit struct {
	t          *Table
	commitUser string
}

func (c *batchCommit) Commit(messages []*CommitMessage) error {
	return c.t.commit(c.commitUser, TerminalCheckpointID, messages)
}

func (c *batchCommit) Close() error {
	return nil
}

type streamCommit struct {
	t          *Table
	commitUser string
}

func (c *streamCommit) Commit(checkpointID int64, messages []*CommitMessage) error {
	return c.t.commit(c.commitUser, checkpointID, messages)
}

func (c *streamCommit) Close() error {
	return nil
}

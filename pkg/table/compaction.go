package table

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/gofrs/uuid"
	"github.com/parquet-go/parquet-go"
	"go.ytsaurus.tech/library/go/core/log"
	"go.ytsaurus.tech/library/go/core/xerrors"
)

// compactionTask rewrites all files of one bucket into a single file. It runs
// in its own goroutine; the owning write session folds the result into a later
// flush via poll.
type compactionTask struct {
	t         *Table
	partition string
	bucket    int
	dir       string

	done     chan struct{}
	messages []*CommitMessage
	err      error
}

func newCompactionTask(t *Table, partition string, bucket int, dir string) *compactionTask {
	return &compactionTask{
		t:         t,
		partition: partition,
		bucket:    bucket,
		dir:       dir,

		done:     make(chan struct{}),
		messages: nil,
		err:      nil,
	}
}

func (c *compactionTask) run() {
	defer close(c.done)
	c.messages, c.err = c.merge()
	if c.err != nil {
		c.t.lgr.Error("compaction failed",
			log.String("partition", c.partition),
			log.Int("bucket", c.bucket),
			log.Error(c.err))
	}
}

// poll returns (messages, finished, error). With wait set it blocks until the
// task completes.
func (c *compactionTask) poll(wait bool) ([]*CommitMessage, bool, error) {
	if wait {
		<-c.done
	} else {
		select {
		case <-c.done:
		default:
			return nil, false, nil
		}
	}
	return c.messages, true, c.err
}

func (c *compactionTask) merge() (resMessages []*CommitMessage, resErr error) {
	defer func() {
		if r := recover(); r != nil {
			resErr = xerrors.Errorf("was panic, recovered value: %v", r)
		}
	}()

	prefix := c.t.dataFilePath(c.partition, c.bucket, "") + "/"
	files, err := c.t.store.List(prefix)
	if err != nil {
		return nil, xerrors.Errorf("unable to list bucket files: %w", err)
	}
	if len(files) <= 1 {
		return nil, nil
	}

	outSchema, err := buildParquetSchema(c.t.Schema().Columns())
	if err != nil {
		return nil, xerrors.Errorf("unable to build parquet schema: %w", err)
	}
	outName := fmt.Sprintf("compact-%s.parquet", uuid.Must(uuid.NewV4()).String())
	outPath := filepath.Join(c.dir, outName)
	outFile, err := os.Create(outPath)
	if err != nil {
		return nil, xerrors.Errorf("unable to create merged file: %w", err)
	}
	defer func() {
		if resErr != nil {
			_ = outFile.Close()
			_ = os.Remove(outPath)
		}
	}()
	writer := parquet.NewGenericWriter[struct{}](outFile, outSchema)

	var rowCount int64
	for _, meta := range files {
		n, err := c.copyFileRows(writer, meta.Path)
		if err != nil {
			return nil, xerrors.Errorf("unable to merge %s: %w", meta.Path, err)
		}
		rowCount += n
	}
	if err := writer.Close(); err != nil {
		return nil, xerrors.Errorf("unable to close merged file writer: %w", err)
	}
	info, err := outFile.Stat()
	if err != nil {
		return nil, xerrors.Errorf("unable to stat merged file: %w", err)
	}
	if err := outFile.Close(); err != nil {
		return nil, xerrors.Errorf("unable to close merged file: %w", err)
	}

	upload, err := os.Open(outPath)
	if err != nil {
		return nil, xerrors.Errorf("unable to reopen merged file: %w", err)
	}
	defer upload.Close()
	if err := c.t.store.Put(c.t.dataFilePath(c.partition, c.bucket, outName), upload); err != nil {
		return nil, xerrors.Errorf("unable to upload merged file: %w", err)
	}
	_ = os.Remove(outPath)

	c.t.lgr.Info("compacted bucket",
		log.String("partition", c.partition),
		log.Int("bucket", c.bucket),
		log.Int("source_files", len(files)),
		log.Int64("rows", rowCount))
	return []*CommitMessage{{
		Kind:      CommitKindCompact,
		Partition: c.partition,
		Bucket:    c.bucket,
		Files: []DataFileMeta{{
			Name:     outName,
			Size:     info.Size(),
			RowCount: rowCount,
		}},
	}}, nil
}

func (c *compactionTask) copyFileRows(writer *parquet.GenericWriter[struct{}], path string) (int64, error) {
	r, err := c.t.store.Read(path)
	if err != nil {
		return 0, err
	}
	defer r.Close()
	raw, err := io.ReadAll(r)
	if err != nil {
		return 0, err
	}
	pf, err := parquet.OpenFile(bytes.NewReader(raw), int64(len(raw)))
	if err != nil {
		return 0, xerrors.Errorf("unable to open parquet file: %w", err)
	}

	var copied int64
	buf := make([]parquet.Row, 512)
	for _, rowGroup := range pf.RowGroups() {
		rows := rowGroup.Rows()
		for {
			n, err := rows.ReadRows(buf)
			if n > 0 {
				if _, werr := writer.WriteRows(buf[:n]); werr != nil {
					_ = rows.Close()
					return 0, xerrors.Errorf("unable to write rows: %w", werr)
				}
				copied += int64(n)
			}
			if err == io.EOF {
				break
			}
			if err != nil {
				_ = rows.Close()
				return 0, xerrors.Errorf("unable to read rows: %w", err)
			}
		}
		if err := rows.Close(); err != nil {
			return 0, xerrors.Errorf("unable to close rows reader: %w", err)
		}
	}
	return copied, nil
}

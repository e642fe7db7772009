package table

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/uuid"
	"github.com/parquet-go/parquet-go"
	"go.ytsaurus.tech/library/go/core/xerrors"
	"go.ytsaurus.tech/yt/go/schema"

	"github.com/doublecloud/lakesink/pkg/abstract"
)

// rowKindColumn is the system column data files carry next to user columns.
const rowKindColumn = "__row_kind"

var primitiveTypesMap = map[schema.Type]parquet.Node{
	schema.TypeInt8:  parquet.Int(8),
	schema.TypeInt16: parquet.Int(16),
	schema.TypeInt32: parquet.Int(32),
	schema.TypeInt64: parquet.Int(64),

	schema.TypeUint8:  parquet.Uint(8),
	schema.TypeUint16: parquet.Uint(16),
	schema.TypeUint32: parquet.Uint(32),
	schema.TypeUint64: parquet.Uint(64),

	schema.TypeBoolean: parquet.Leaf(parquet.BooleanType),

	schema.TypeFloat32: parquet.Leaf(parquet.FloatType),
	schema.TypeFloat64: parquet.Leaf(parquet.DoubleType),

	schema.TypeTimestamp: parquet.Timestamp(parquet.Nanosecond),

	schema.TypeDate:     parquet.Date(),
	schema.TypeDatetime: parquet.Timestamp(parquet.Nanosecond),
	schema.TypeInterval: parquet.Timestamp(parquet.Nanosecond),

	schema.TypeBytes:  parquet.String(),
	schema.TypeString: parquet.String(),
	schema.TypeAny:    parquet.JSON(),
}

func buildParquetGroup(columns abstract.TableColumns) (parquet.Group, error) {
	groupNode := parquet.Group{
		rowKindColumn: parquet.String(),
	}
	for _, col := range columns {
		n, contains := primitiveTypesMap[schema.Type(col.DataType)]
		if !contains {
			return nil, xerrors.Errorf("field %v type of '%v' not recognised", col.ColumnName, col.DataType)
		}
		if !col.Required {
			n = parquet.Optional(n)
		}
		groupNode[col.ColumnName] = n
	}
	return groupNode, nil
}

func buildParquetSchema(columns abstract.TableColumns) (*parquet.Schema, error) {
	node, err := buildParquetGroup(columns)
	if err != nil {
		return nil, err
	}
	return parquet.NewSchema("table", node), nil
}

// toParquetValue maps a single column value. Doesn't support repeated fields or
// composite values; json fields are saved as string.
func toParquetValue(column parquet.Field, colType schema.Type, value any, idx int) (*parquet.Value, error) {
	defLevel := 0
	var leafValue parquet.Value
	if value == nil {
		leafValue = parquet.ValueOf(nil)
		switch colType {
		case schema.TypeBytes, schema.TypeString:
			leafValue = parquet.ValueOf("")
		}
	} else {
		if !column.Required() {
			defLevel++
		}
		switch colType {
		case schema.TypeAny:
			marshalled, err := json.Marshal(value)
			if err != nil {
				return nil, xerrors.Errorf("field %v type of '%v' failed to marshal: %w", column.Name(), column.Type().String(), err)
			}
			leafValue = parquet.ValueOf(marshalled)
		default:
			leafValue = parquet.ValueOf(value)
		}
	}

	leafValue = leafValue.Level(0, defLevel, idx)
	return &leafValue, nil
}

type stagedFile struct {
	meta      DataFileMeta
	localPath string
}

// dataFileWriter stages rows of one (partition, bucket) pair into rolling
// parquet files inside a spill dir.
type dataFileWriter struct {
	columns        abstract.TableColumns
	schema         *parquet.Schema
	dir            string
	targetFileSize int64

	file       *os.File
	writer     *parquet.GenericWriter[struct{}]
	rowsInFile int64

	staged []stagedFile
}

// flushEveryRows bounds how stale the on-disk size estimate may get before the
// roll check sees it.
const flushEveryRows = 1024

func newDataFileWriter(columns abstract.TableColumns, dir string, targetFileSize int64) (*dataFileWriter, error) {
	parquetSchema, err := buildParquetSchema(columns)
	if err != nil {
		return nil, xerrors.Errorf("unable to build parquet schema: %w", err)
	}
	return &dataFileWriter{
		columns:        columns,
		schema:         parquetSchema,
		dir:            dir,
		targetFileSize: targetFileSize,

		file:       nil,
		writer:     nil,
		rowsInFile: 0,

		staged: nil,
	}, nil
}

func (w *dataFileWriter) open() error {
	name := fmt.Sprintf("data-%s.parquet", uuid.Must(uuid.NewV4()).String())
	f, err := os.Create(filepath.Join(w.dir, name))
	if err != nil {
		return xerrors.Errorf("unable to create data file: %s: %w", name, err)
	}
	w.file = f
	w.writer = parquet.NewGenericWriter[struct{}](f, w.schema)
	w.rowsInFile = 0
	return nil
}

func (w *dataFileWriter) Write(row Row) (err error) {
	if len(row.Values) != len(w.columns) {
		return xerrors.Errorf("row width %d does not match schema width %d", len(row.Values), len(w.columns))
	}
	if w.writer == nil {
		if err := w.open(); err != nil {
			return err
		}
	}
	// the parquet lib uses panic in a number of places instead of err
	defer func() {
		if r := recover(); r != nil {
			err = xerrors.Errorf("was panic, recovered value: %v", r)
		}
	}()

	rowMap := make(map[string]any, len(w.columns)+1)
	rowMap[rowKindColumn] = string(row.Kind)
	colTypes := map[string]schema.Type{rowKindColumn: schema.TypeString}
	for i, col := range w.columns {
		rowMap[col.ColumnName] = row.Values[i]
		colTypes[col.ColumnName] = schema.Type(col.DataType)
	}

	var parquetRow []parquet.Value
	for idx, field := range w.schema.Fields() {
		v, err := toParquetValue(field, colTypes[field.Name()], rowMap[field.Name()], idx)
		if err != nil {
			return xerrors.Errorf("field %v: %w", field.Name(), err)
		}
		parquetRow = append(parquetRow, *v)
	}
	if _, err := w.writer.WriteRows([]parquet.Row{parquetRow}); err != nil {
		return xerrors.Errorf("unable to write parquet row: %w", err)
	}
	w.rowsInFile++

	if w.rowsInFile%flushEveryRows == 0 {
		if err := w.writer.Flush(); err != nil {
			return xerrors.Errorf("unable to flush parquet writer: %w", err)
		}
		info, err := w.file.Stat()
		if err != nil {
			return xerrors.Errorf("unable to stat data file: %w", err)
		}
		if info.Size() >= w.targetFileSize {
			if err := w.roll(); err != nil {
				return err
			}
		}
	}
	return nil
}

// roll finalizes the current file and stages it for upload.
func (w *dataFileWriter) roll() (err error) {
	if w.writer == nil {
		return nil
	}
	defer func() {
		if r := recover(); r != nil {
			err = xerrors.Errorf("was panic, recovered value: %v", r)
		}
	}()
	if err := w.writer.Close(); err != nil {
		return xerrors.Errorf("unable to close parquet writer: %w", err)
	}
	info, err := w.file.Stat()
	if err != nil {
		return xerrors.Errorf("unable to stat data file: %w", err)
	}
	if err := w.file.Close(); err != nil {
		return xerrors.Errorf("unable to close data file: %w", err)
	}
	w.staged = append(w.staged, stagedFile{
		meta: DataFileMeta{
			Name:     filepath.Base(w.file.Name()),
			Size:     info.Size(),
			RowCount: w.rowsInFile,
		},
		localPath: w.file.Name(),
	})
	w.file = nil
	w.writer = nil
	w.rowsInFile = 0
	return nil
}

// Finish closes the current file and returns everything staged since the last
// Finish. The staged list is handed over to the caller.
func (w *dataFileWriter) Finish() ([]stagedFile, error) {
	if err := w.roll(); err != nil {
		return nil, err
	}
	staged := w.staged
	w.staged = nil
	return staged, nil
}

// Discard drops the current file and all staged files without producing metas.
func (w *dataFileWriter) Discard() {
	if w.file != nil {
		_ = w.file.Close()
		_ = os.Remove(w.file.Name())
		w.file = nil
		w.writer = nil
		w.rowsInFile = 0
	}
	for _, f := range w.staged {
		_ = os.Remove(f.localPath)
	}
	w.staged = nil
}

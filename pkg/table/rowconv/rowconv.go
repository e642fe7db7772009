// Package rowconv maps pipeline records into the table-internal row encoding.
package rowconv

import (
	"github.com/spf13/cast"
	"go.ytsaurus.tech/library/go/core/xerrors"
	"go.ytsaurus.tech/yt/go/schema"

	"github.com/doublecloud/lakesink/pkg/abstract"
	"github.com/doublecloud/lakesink/pkg/table"
)

var kindMap = map[abstract.Kind]table.RowKind{
	abstract.InsertKind: table.RowKindInsert,
	abstract.UpdateKind: table.RowKindUpdateAfter,
	abstract.DeleteKind: table.RowKindDelete,
}

// Convert is a pure mapping of (record, declared row type, table schema) into a
// table row: values are realigned from the record's column order into the table
// schema order and coerced to the column types. Records with no column names
// are taken positionally against the declared row type.
func Convert(rec *abstract.Record, rowType *abstract.TableSchema, tableSchema *abstract.TableSchema) (table.Row, error) {
	kind, ok := kindMap[rec.Kind]
	if !ok {
		return table.Row{}, xerrors.Errorf("unsupported record kind: %q", rec.Kind)
	}
	names := rec.ColumnNames
	if len(names) == 0 {
		names = rowType.ColumnNames()
	}
	if len(names) != len(rec.ColumnValues) {
		return table.Row{}, xerrors.Errorf("record has %d values for %d columns", len(rec.ColumnValues), len(names))
	}
	byName := make(map[string]interface{}, len(names))
	for i, name := range names {
		if rowType.Index(name) < 0 {
			return table.Row{}, xerrors.Errorf("column %q is not declared in the row type", name)
		}
		byName[name] = rec.ColumnValues[i]
	}

	columns := tableSchema.Columns()
	values := make([]interface{}, len(columns))
	for i, col := range columns {
		raw, ok := byName[col.ColumnName]
		if !ok || raw == nil {
			if col.Required {
				return table.Row{}, xerrors.Errorf("column %q is required but missing", col.ColumnName)
			}
			values[i] = nil
			continue
		}
		coerced, err := coerce(raw, schema.Type(col.DataType))
		if err != nil {
			return table.Row{}, xerrors.Errorf("column %q: %w", col.ColumnName, err)
		}
		values[i] = coerced
	}
	return table.Row{Kind: kind, Values: values}, nil
}

func coerce(value interface{}, targetType schema.Type) (interface{}, error) {
	switch targetType {
	case schema.TypeInt8:
		return cast.ToInt8E(value)
	case schema.TypeInt16:
		return cast.ToInt16E(value)
	case schema.TypeInt32:
		return cast.ToInt32E(value)
	case schema.TypeInt64:
		return cast.ToInt64E(value)
	case schema.TypeUint8:
		return cast.ToUint8E(value)
	case schema.TypeUint16:
		return cast.ToUint16E(value)
	case schema.TypeUint32:
		return cast.ToUint32E(value)
	case schema.TypeUint64:
		return cast.ToUint64E(value)
	case schema.TypeFloat32:
		return cast.ToFloat32E(value)
	case schema.TypeFloat64:
		return cast.ToFloat64E(value)
	case schema.TypeBoolean:
		return cast.ToBoolE(value)
	case schema.TypeBytes, schema.TypeString:
		return cast.ToStringE(value)
	case schema.TypeDate:
		t, err := cast.ToTimeE(value)
		if err != nil {
			return nil, err
		}
		return int32(t.Unix() / 86400), nil
	case schema.TypeDatetime, schema.TypeTimestamp:
		t, err := cast.ToTimeE(value)
		if err != nil {
			return nil, err
		}
		return t.UnixNano(), nil
	case schema.TypeInterval:
		return cast.ToInt64E(value)
	case schema.TypeAny:
		return value, nil
	default:
		return nil, xerrors.Errorf("unsupported column type: %q", targetType)
	}
}

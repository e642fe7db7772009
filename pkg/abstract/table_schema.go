package abstract

import (
	"go.ytsaurus.tech/yt/go/schema"
)

// ColSchema describes a single column of a table.
// DataType is a string with YT type from go.ytsaurus.tech/yt/go/schema.
type ColSchema struct {
	ColumnName string `json:"name"`
	DataType   string `json:"type"`
	PrimaryKey bool   `json:"key"`
	Required   bool   `json:"required"`
}

func NewColSchema(columnName string, dataType schema.Type, isPrimaryKey bool) ColSchema {
	return ColSchema{
		ColumnName: columnName,
		DataType:   string(dataType),
		PrimaryKey: isPrimaryKey,
		Required:   false,
	}
}

type TableColumns []ColSchema

func (s TableColumns) HasPrimaryKey() bool {
	for _, column := range s {
		if column.PrimaryKey {
			return true
		}
	}
	return false
}

func (s TableColumns) ColumnNames() []string {
	result := make([]string, len(s))
	for i, column := range s {
		result[i] = column.ColumnName
	}
	return result
}

func (s TableColumns) KeyNames() []string {
	result := make([]string, 0)
	for _, column := range s {
		if column.PrimaryKey {
			result = append(result, column.ColumnName)
		}
	}
	return result
}

func (s TableColumns) Copy() TableColumns {
	result := make(TableColumns, len(s))
	copy(result, s)
	return result
}

// TableSchema is an ordered set of columns. Column order defines row value order.
type TableSchema struct {
	columns TableColumns
}

func NewTableSchema(columns []ColSchema) *TableSchema {
	return &TableSchema{columns: columns}
}

func (s *TableSchema) Columns() TableColumns {
	if s == nil {
		return nil
	}
	return s.columns
}

func (s *TableSchema) ColumnNames() []string {
	return s.columns.ColumnNames()
}

func (s *TableSchema) Copy() *TableSchema {
	if s == nil {
		return nil
	}
	return NewTableSchema(s.columns.Copy())
}

// Index returns the position of the named column, or -1.
func (s *TableSchema) Index(columnName string) int {
	for i, col := range s.columns {
		if col.ColumnName == columnName {
			return i
		}
	}
	return -1
}

// KeyIndexes returns positions of primary key columns in schema order.
func (s *TableSchema) KeyIndexes() []int {
	res := make([]int, 0)
	for i, col := range s.columns {
		if col.PrimaryKey {
			res = append(res, i)
		}
	}
	return res
}

package abstract

import (
	"fmt"
	"strings"
)

type Kind string

const (
	InsertKind = Kind("insert")
	UpdateKind = Kind("update")
	DeleteKind = Kind("delete")
)

// Record is a single row event handed to the sink by the surrounding pipeline.
// ColumnNames follow the declared row type; ColumnValues are positional to ColumnNames.
type Record struct {
	Kind         Kind
	ColumnNames  []string
	ColumnValues []interface{}
	CommitTime   uint64 // unix nanos, 0 when the source does not track it
}

func (r *Record) EnsureSanity() error {
	if len(r.ColumnNames) != len(r.ColumnValues) {
		return fmt.Errorf("len(ColumnNames)=%d <> len(ColumnValues)=%d", len(r.ColumnNames), len(r.ColumnValues))
	}
	return nil
}

func (r *Record) AsMap() map[string]interface{} {
	res := make(map[string]interface{}, len(r.ColumnNames))
	for i, name := range r.ColumnNames {
		res[name] = r.ColumnValues[i]
	}
	return res
}

func (r *Record) String() string {
	pairs := make([]string, len(r.ColumnNames))
	for i, name := range r.ColumnNames {
		pairs[i] = fmt.Sprintf("%s=%v", name, r.ColumnValues[i])
	}
	return fmt.Sprintf("%s{%s}", r.Kind, strings.Join(pairs, ","))
}

package table

// RowKind marks the mutation a row carries, changelog style.
type RowKind string

const (
	RowKindInsert       = RowKind("+I")
	RowKindUpdateAfter  = RowKind("+U")
	RowKindUpdateBefore = RowKind("-U")
	RowKindDelete       = RowKind("-D")
)

// Row is the table-internal row representation: values positionally aligned
// with the table schema, plus the mutation kind.
type Row struct {
	Kind   RowKind
	Values []interface{}
}

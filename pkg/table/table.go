package table

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/spf13/cast"
	"github.com/twmb/murmur3"
	"go.ytsaurus.tech/library/go/core/log"
	"go.ytsaurus.tech/library/go/core/xerrors"

	"github.com/doublecloud/lakesink/pkg/abstract"
	"github.com/doublecloud/lakesink/pkg/store"
)

const (
	schemaPath = "schema/schema-0"
)

type tableManifest struct {
	Columns []abstract.ColSchema `json:"columns"`
	Options *Options             `json:"options"`
}

// Table is an open handle over a warehouse-resident table: its schema manifest,
// options and snapshot log. It produces the mode-specific write builders; all
// physical I/O goes through the underlying store.
type Table struct {
	store  store.Store
	schema *abstract.TableSchema
	opts   *Options
	lgr    log.Logger

	keyIndexes []int
	partIdx    []int
}

// Create writes a fresh schema manifest. Fails when the table already exists.
func Create(st store.Store, tableSchema *abstract.TableSchema, opts *Options, lgr log.Logger) (*Table, error) {
	opts.WithDefaults()
	if err := opts.Validate(); err != nil {
		return nil, xerrors.Errorf("invalid table options: %w", err)
	}
	for _, part := range opts.PartitionKeys {
		if tableSchema.Index(part) < 0 {
			return nil, xerrors.Errorf("partition key %q is not a column", part)
		}
	}
	if _, err := st.Read(schemaPath); err == nil {
		return nil, xerrors.Errorf("table already exists at: %s", st.Root())
	} else if !xerrors.Is(err, store.ErrFileNotFound) {
		return nil, xerrors.Errorf("unable to probe schema manifest: %w", err)
	}
	raw, err := json.MarshalIndent(tableManifest{
		Columns: tableSchema.Columns(),
		Options: opts,
	}, "", "  ")
	if err != nil {
		return nil, xerrors.Errorf("unable to marshal schema manifest: %w", err)
	}
	if err := st.Put(schemaPath, bytes.NewReader(raw)); err != nil {
		return nil, xerrors.Errorf("unable to write schema manifest: %w", err)
	}
	return Open(st, lgr)
}

// Open reads the schema manifest and returns a ready table handle.
func Open(st store.Store, lgr log.Logger) (*Table, error) {
	r, err := st.Read(schemaPath)
	if err != nil {
		return nil, xerrors.Errorf("unable to open schema manifest: %w", err)
	}
	defer r.Close()
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, xerrors.Errorf("unable to read schema manifest: %w", err)
	}
	var manifest tableManifest
	if err := json.Unmarshal(raw, &manifest); err != nil {
		return nil, xerrors.Errorf("unable to parse schema manifest: %w", err)
	}
	manifest.Options.WithDefaults()
	if err := manifest.Options.Validate(); err != nil {
		return nil, xerrors.Errorf("invalid table options: %w", err)
	}
	tableSchema := abstract.NewTableSchema(manifest.Columns)
	partIdx := make([]int, len(manifest.Options.PartitionKeys))
	for i, part := range manifest.Options.PartitionKeys {
		idx := tableSchema.Index(part)
		if idx < 0 {
			return nil, xerrors.Errorf("partition key %q is not a column", part)
		}
		partIdx[i] = idx
	}
	return &Table{
		store:  st,
		schema: tableSchema,
		opts:   manifest.Options,
		lgr:    lgr,

		keyIndexes: tableSchema.KeyIndexes(),
		partIdx:    partIdx,
	}, nil
}

func (t *Table) Schema() *abstract.TableSchema {
	return t.schema
}

func (t *Table) Options() *Options {
	return t.opts
}

func (t *Table) Store() store.Store {
	return t.store
}

// BucketMode derives the routing mode from bucket count, keys and partitioning.
func (t *Table) BucketMode() BucketMode {
	hasPK := len(t.keyIndexes) > 0
	if t.opts.Bucket > 0 {
		if hasPK {
			return HashFixed
		}
		return BucketUnaware
	}
	if !hasPK {
		return BucketUnaware
	}
	if len(t.partIdx) > 0 && !t.keysCoverPartition() {
		return CrossPartition
	}
	return HashDynamic
}

func (t *Table) keysCoverPartition() bool {
	keys := map[int]bool{}
	for _, idx := range t.keyIndexes {
		keys[idx] = true
	}
	for _, idx := range t.partIdx {
		if !keys[idx] {
			return false
		}
	}
	return true
}

// KeyHash is the single hash definition every bucket routing decision uses:
// murmur3 over the primary key values, or over the whole row when there is none.
func (t *Table) KeyHash(row Row) uint64 {
	h := murmur3.New64()
	idxs := t.keyIndexes
	if len(idxs) == 0 {
		idxs = make([]int, len(row.Values))
		for i := range row.Values {
			idxs[i] = i
		}
	}
	for _, idx := range idxs {
		_, _ = h.Write([]byte(cast.ToString(row.Values[idx])))
		_, _ = h.Write([]byte{0})
	}
	return h.Sum64()
}

// PartitionOf renders the row's partition path spec, hive style: "k=v/k2=v2".
// Empty for unpartitioned tables.
func (t *Table) PartitionOf(row Row) string {
	if len(t.partIdx) == 0 {
		return ""
	}
	parts := make([]string, len(t.partIdx))
	for i, idx := range t.partIdx {
		parts[i] = fmt.Sprintf("%s=%s", t.opts.PartitionKeys[i], cast.ToString(row.Values[idx]))
	}
	return strings.Join(parts, "/")
}

func (t *Table) dataFilePath(partition string, bucket int, name string) string {
	return path.Join(partition, fmt.Sprintf("bucket-%d", bucket), name)
}

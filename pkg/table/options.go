package table

import (
	"go.ytsaurus.tech/library/go/core/xerrors"
)

// BucketMode describes how the table distributes rows across buckets.
type BucketMode string

const (
	// HashFixed routes by key hash into a fixed number of buckets.
	HashFixed = BucketMode("hash-fixed")
	// HashDynamic grows the bucket set as data arrives, driven by an index
	// maintained on the write path.
	HashDynamic = BucketMode("hash-dynamic")
	// CrossPartition is dynamic bucketing where the primary key does not
	// contain the full partition key, so updates may move rows across partitions.
	CrossPartition = BucketMode("cross-partition")
	// BucketUnaware is the append-only layout without any bucket routing.
	BucketUnaware = BucketMode("bucket-unaware")
)

// ChangelogProducer is the strategy the table uses to derive a changelog from
// the incoming mutations.
type ChangelogProducer string

const (
	ChangelogProducerNone           = ChangelogProducer("none")
	ChangelogProducerInput          = ChangelogProducer("input")
	ChangelogProducerLookup         = ChangelogProducer("lookup")
	ChangelogProducerFullCompaction = ChangelogProducer("full-compaction")
)

// DynamicBucket reports whether this mode requires explicit bucket assignment
// on the write path.
func (m BucketMode) DynamicBucket() bool {
	return m == HashDynamic || m == CrossPartition
}

type Options struct {
	// Bucket is the fixed bucket count; -1 means dynamic or unaware layout,
	// depending on whether the table has a primary key.
	Bucket int `json:"bucket"`

	PartitionKeys []string `json:"partition_keys"`

	ChangelogProducer ChangelogProducer `json:"changelog_producer"`

	// TargetFileSize bounds a single data file, bytes.
	TargetFileSize int64 `json:"target_file_size"`

	// DynamicBucketTargetRows bounds rows per bucket before the assigner
	// promotes new rows to the next bucket.
	DynamicBucketTargetRows int64 `json:"dynamic_bucket_target_rows"`
}

func (o *Options) WithDefaults() {
	if o.Bucket == 0 {
		o.Bucket = -1
	}
	if o.ChangelogProducer == "" {
		o.ChangelogProducer = ChangelogProducerNone
	}
	if o.TargetFileSize == 0 {
		o.TargetFileSize = 128 * 1024 * 1024
	}
	if o.DynamicBucketTargetRows == 0 {
		o.DynamicBucketTargetRows = 2_000_000
	}
}

func (o *Options) Validate() error {
	if o.Bucket < -1 || o.Bucket == 0 {
		return xerrors.Errorf("bucket must be positive or -1, got: %d", o.Bucket)
	}
	switch o.ChangelogProducer {
	case ChangelogProducerNone, ChangelogProducerInput, ChangelogProducerLookup, ChangelogProducerFullCompaction:
	default:
		return xerrors.Errorf("unknown changelog producer: %q", o.ChangelogProducer)
	}
	return nil
}

// Package bucket assigns rows of dynamic-bucket tables to buckets on the write
// path.
package bucket

import (
	"go.ytsaurus.tech/library/go/core/log"

	"github.com/doublecloud/lakesink/pkg/table"
)

// Assigner maps a row to a bucket id for tables in a dynamic bucket mode. The
// candidate bucket is a pure function of the row's key hash, so any two
// assigners with fresh state agree on the same row; the per-assigner load map
// only promotes rows to a further bucket once the candidate exceeds the
// table's target row count.
//
// Each parallel writer owns one assigner, parameterized by its index and the
// total writer count; the surrounding pipeline shards the key space across
// writers, so the load each assigner observes is its writer's share.
type Assigner struct {
	t              *table.Table
	numAssigners   int
	assignerID     int
	targetRows     int64
	initialBuckets int

	loads map[int]int64
	lgr   log.Logger
}

func NewAssigner(t *table.Table, numAssigners int, assignerID int, lgr log.Logger) *Assigner {
	if numAssigners < 1 {
		numAssigners = 1
	}
	return &Assigner{
		t:              t,
		numAssigners:   numAssigners,
		assignerID:     assignerID,
		targetRows:     t.Options().DynamicBucketTargetRows,
		initialBuckets: numAssigners,

		loads: map[int]int64{},
		lgr:   lgr,
	}
}

// Assign returns the bucket id for the row.
func (a *Assigner) Assign(row table.Row) int {
	hash := a.t.KeyHash(row)
	bucketID := int(hash % uint64(a.initialBuckets))
	for a.loads[bucketID] >= a.targetRows {
		bucketID += a.initialBuckets
	}
	a.loads[bucketID]++
	if a.loads[bucketID] == a.targetRows {
		a.lgr.Info("bucket reached target row count, new rows promote to a further bucket",
			log.Int("bucket", bucketID),
			log.Int64("target_rows", a.targetRows),
			log.Int("assigner_id", a.assignerID))
	}
	return bucketID
}

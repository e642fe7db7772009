package sink

import (
	"go.ytsaurus.tech/library/go/core/metrics"
)

type Stats struct {
	RowsWritten     metrics.Counter
	WriteErrors     metrics.Counter
	Flushes         metrics.Counter
	CommitMessages  metrics.Counter
	BytesUploaded   metrics.Counter
	ReplayedCommits metrics.Counter
	Snapshots       metrics.Counter
}

func NewStats(registry metrics.Registry) *Stats {
	r := registry.WithPrefix("sink")
	return &Stats{
		RowsWritten:     r.Counter("rows_written"),
		WriteErrors:     r.Counter("write_errors"),
		Flushes:         r.Counter("flushes"),
		CommitMessages:  r.Counter("commit_messages"),
		BytesUploaded:   r.Counter("bytes_uploaded"),
		ReplayedCommits: r.Counter("replayed_commits"),
		Snapshots:       r.Counter("snapshots"),
	}
}

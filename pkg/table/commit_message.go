package table

import (
	"fmt"
	"strings"
)

type CommitKind string

const (
	CommitKindAppend  = CommitKind("append")
	CommitKindCompact = CommitKind("compact")
)

type DataFileMeta struct {
	Name     string `json:"name"`
	Size     int64  `json:"size"`
	RowCount int64  `json:"row_count"`
}

// CommitMessage describes the files one flush produced for one bucket. The sink
// treats it as an opaque value: it is accumulated, serialized into sink state
// and handed to the commit protocol, never inspected on the way.
type CommitMessage struct {
	Kind      CommitKind     `json:"kind"`
	Partition string         `json:"partition"`
	Bucket    int            `json:"bucket"`
	Files     []DataFileMeta `json:"files"`
}

func (m *CommitMessage) RowCount() int64 {
	var res int64
	for _, f := range m.Files {
		res += f.RowCount
	}
	return res
}

func (m *CommitMessage) String() string {
	files := make([]string, len(m.Files))
	for i, f := range m.Files {
		files[i] = f.Name
	}
	return fmt.Sprintf("%s{partition=%q,bucket=%d,files=[%s]}", m.Kind, m.Partition, m.Bucket, strings.Join(files, ","))
}

// CopyMessages is a shallow copy used everywhere a message list crosses an
// ownership boundary, so no two owners share the same backing array.
func CopyMessages(messages []*CommitMessage) []*CommitMessage {
	res := make([]*CommitMessage, len(messages))
	copy(res, messages)
	return res
}

package coordinator

import (
	"sync"

	"github.com/doublecloud/lakesink/pkg/table"
)

var _ Coordinator = (*Recording)(nil)

// CommitCall is one recorded coordinator invocation.
type CommitCall struct {
	Terminal     bool
	CheckpointID int64
	Messages     []*table.CommitMessage
}

// Recording is a coordinator double for tests: it records calls in order and
// commits nothing.
type Recording struct {
	mu    sync.Mutex
	calls []CommitCall
}

func NewRecording() *Recording {
	return &Recording{
		mu:    sync.Mutex{},
		calls: nil,
	}
}

func (r *Recording) CommitAtCheckpoint(checkpointID int64, messages []*table.CommitMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, CommitCall{
		Terminal:     false,
		CheckpointID: checkpointID,
		Messages:     table.CopyMessages(messages),
	})
	return nil
}

func (r *Recording) CommitTerminal(messages []*table.CommitMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, CommitCall{
		Terminal:     true,
		CheckpointID: 0,
		Messages:     table.CopyMessages(messages),
	})
	return nil
}

func (r *Recording) Calls() []CommitCall {
	r.mu.Lock()
	defer r.mu.Unlock()
	res := make([]CommitCall, len(r.calls))
	copy(res, r.calls)
	return res
}

package sink

import (
	"encoding/json"

	"go.ytsaurus.tech/library/go/core/xerrors"

	"github.com/doublecloud/lakesink/pkg/table"
)

// SinkState is the durable snapshot of one writer: everything flushed but not
// yet confirmed committed, plus the identity needed to re-commit it on
// recovery. Persisted by the surrounding framework's checkpoint store.
type SinkState struct {
	CommitUser   string                 `json:"commit_user"`
	CheckpointID int64                  `json:"checkpoint_id"`
	Committables []*table.CommitMessage `json:"committables"`
}

func (s *SinkState) Marshal() ([]byte, error) {
	raw, err := json.Marshal(s)
	if err != nil {
		return nil, xerrors.Errorf("unable to marshal sink state: %w", err)
	}
	return raw, nil
}

func UnmarshalSinkState(raw []byte) (*SinkState, error) {
	var state SinkState
	if err := json.Unmarshal(raw, &state); err != nil {
		return nil, xerrors.Errorf("unable to parse sink state: %w", err)
	}
	return &state, nil
}

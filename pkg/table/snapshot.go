package table

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"go.ytsaurus.tech/library/go/core/log"
	"go.ytsaurus.tech/library/go/core/xerrors"

	"github.com/doublecloud/lakesink/pkg/store"
)

const (
	snapshotDirPath = "snapshot"
	latestPath      = "snapshot/LATEST"
)

// TerminalCheckpointID tags commits of batch writers, which have a single
// terminal commit instead of checkpoint-scoped ones.
const TerminalCheckpointID int64 = -1

// Snapshot is one record of the table's metadata log. Snapshot N+1 is the table
// state after applying its messages on top of snapshot N.
type Snapshot struct {
	ID           int64            `json:"id"`
	CommitUser   string           `json:"commit_user"`
	CheckpointID int64            `json:"checkpoint_id"`
	TimeMillis   int64            `json:"time_millis"`
	Messages     []*CommitMessage `json:"messages"`
}

func snapshotPath(id int64) string {
	return fmt.Sprintf("%s/snapshot-%d", snapshotDirPath, id)
}

// LatestSnapshotID returns 0 when the log is empty; ids start at 1.
func (t *Table) LatestSnapshotID() (int64, error) {
	r, err := t.store.Read(latestPath)
	if xerrors.Is(err, store.ErrFileNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, xerrors.Errorf("unable to read latest snapshot pointer: %w", err)
	}
	defer r.Close()
	raw, err := io.ReadAll(r)
	if err != nil {
		return 0, xerrors.Errorf("unable to read latest snapshot pointer: %w", err)
	}
	id, err := strconv.ParseInt(strings.TrimSpace(string(raw)), 10, 64)
	if err != nil {
		return 0, xerrors.Errorf("corrupt latest snapshot pointer: %q: %w", string(raw), err)
	}
	return id, nil
}

func (t *Table) Snapshot(id int64) (*Snapshot, error) {
	r, err := t.store.Read(snapshotPath(id))
	if err != nil {
		return nil, xerrors.Errorf("unable to read snapshot %d: %w", id, err)
	}
	defer r.Close()
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, xerrors.Errorf("unable to read snapshot %d: %w", id, err)
	}
	var snap Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return nil, xerrors.Errorf("unable to parse snapshot %d: %w", id, err)
	}
	return &snap, nil
}

// Snapshots returns the whole log in id order.
func (t *Table) Snapshots() ([]*Snapshot, error) {
	latest, err := t.LatestSnapshotID()
	if err != nil {
		return nil, err
	}
	res := make([]*Snapshot, 0, latest)
	for id := int64(1); id <= latest; id++ {
		snap, err := t.Snapshot(id)
		if err != nil {
			return nil, err
		}
		res = append(res, snap)
	}
	return res, nil
}

// commit appends one snapshot to the log. A commit of the same
// (commitUser, checkpointID) pair is applied at most once, which is what makes
// the sink's recovery re-commit safe to issue unconditionally. Concurrent
// commits into one table are serialized by the external commit coordinator, not
// here.
func (t *Table) commit(commitUser string, checkpointID int64, messages []*CommitMessage) error {
	if len(messages) == 0 {
		t.lgr.Debug("skipping empty commit", log.String("commit_user", commitUser), log.Int64("checkpoint_id", checkpointID))
		return nil
	}
	latest, err := t.LatestSnapshotID()
	if err != nil {
		return xerrors.Errorf("unable to resolve latest snapshot: %w", err)
	}
	for id := latest; id >= 1; id-- {
		snap, err := t.Snapshot(id)
		if err != nil {
			return xerrors.Errorf("unable to scan snapshot log: %w", err)
		}
		if snap.CommitUser == commitUser && snap.CheckpointID == checkpointID {
			t.lgr.Info("commit already applied, skipping",
				log.String("commit_user", commitUser),
				log.Int64("checkpoint_id", checkpointID),
				log.Int64("snapshot_id", snap.ID))
			return nil
		}
	}
	snap := &Snapshot{
		ID:           latest + 1,
		CommitUser:   commitUser,
		CheckpointID: checkpointID,
		TimeMillis:   time.Now().UnixMilli(),
		Messages:     messages,
	}
	raw, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return xerrors.Errorf("unable to marshal snapshot: %w", err)
	}
	if err := t.store.Put(snapshotPath(snap.ID), bytes.NewReader(raw)); err != nil {
		return xerrors.Errorf("unable to write snapshot %d: %w", snap.ID, err)
	}
	if err := t.store.Put(latestPath, strings.NewReader(strconv.FormatInt(snap.ID, 10))); err != nil {
		return xerrors.Errorf("unable to advance latest snapshot pointer: %w", err)
	}
	t.lgr.Info("committed snapshot",
		log.Int64("snapshot_id", snap.ID),
		log.String("commit_user", commitUser),
		log.Int64("checkpoint_id", checkpointID),
		log.Int("messages", len(messages)))
	return nil
}

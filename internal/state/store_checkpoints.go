package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// SaveCheckpoint appends a progress snapshot for (workflow, stage).
// Checkpoints are never updated in place; the latest row is authoritative
// for fast resume.
func (s *Store) SaveCheckpoint(ctx context.Context, workflowID string, stage Stage, snapshot []byte) error {
	if len(snapshot) == 0 {
		return errors.New("snapshot must not be empty")
	}
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO checkpoints (workflow_id, stage, snapshot_json, created_at) VALUES (?, ?, ?, ?)`,
		workflowID,
		stage,
		string(snapshot),
		timestamp(time.Now().UTC()),
	)
	if err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}
	return nil
}

// LatestCheckpoint returns the newest checkpoint for (workflow, stage), or nil.
func (s *Store) LatestCheckpoint(ctx context.Context, workflowID string, stage Stage) (*Checkpoint, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT id, workflow_id, stage, snapshot_json, created_at
         FROM checkpoints WHERE workflow_id = ? AND stage = ?
         ORDER BY id DESC LIMIT 1`,
		workflowID,
		stage,
	)

	var (
		id         int64
		wfID       string
		stageStr   string
		snapshot   string
		createdRaw string
	)
	if err := row.Scan(&id, &wfID, &stageStr, &snapshot, &createdRaw); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("latest checkpoint: %w", err)
	}

	cp := &Checkpoint{
		ID:         id,
		WorkflowID: wfID,
		Stage:      Stage(stageStr),
		Snapshot:   []byte(snapshot),
	}
	if created, err := parseTimeString(createdRaw); err == nil {
		cp.CreatedAt = created
	}
	return cp, nil
}

package checkpoint

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"quantpipe/internal/state"
)

// Snapshot captures the remaining work of one stage at a point in time.
type Snapshot struct {
	Remaining []string  `json:"remaining"`
	Succeeded int       `json:"succeeded"`
	Failed    int       `json:"failed"`
	Skipped   int       `json:"skipped"`
	TakenAt   time.Time `json:"taken_at"`
}

// Manager saves and loads stage progress snapshots.
type Manager struct {
	store *state.Store
}

// NewManager constructs a checkpoint manager over the given store.
func NewManager(store *state.Store) *Manager {
	return &Manager{store: store}
}

// Save appends a snapshot for (workflow, stage).
func (m *Manager) Save(ctx context.Context, workflowID string, stage state.Stage, snapshot Snapshot) error {
	if snapshot.TakenAt.IsZero() {
		snapshot.TakenAt = time.Now().UTC()
	}
	payload, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	return m.store.SaveCheckpoint(ctx, workflowID, stage, payload)
}

// LoadLatest returns the most recent snapshot for (workflow, stage), or nil
// when the stage has never checkpointed.
func (m *Manager) LoadLatest(ctx context.Context, workflowID string, stage state.Stage) (*Snapshot, error) {
	cp, err := m.store.LatestCheckpoint(ctx, workflowID, stage)
	if err != nil {
		return nil, err
	}
	if cp == nil {
		return nil, nil
	}
	var snapshot Snapshot
	if err := json.Unmarshal(cp.Snapshot, &snapshot); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	return &snapshot, nil
}

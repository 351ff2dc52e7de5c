package testsupport

import (
	"context"
	"testing"

	"github.com/google/uuid"

	"quantpipe/internal/config"
	"quantpipe/internal/state"
)

// MustOpenStore opens a state.Store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *state.Store {
	t.Helper()

	store, err := state.Open(cfg)
	if err != nil {
		t.Fatalf("state.Open: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

// NewWorkflow creates a workflow row for tests.
func NewWorkflow(t testing.TB, store *state.Store, kind state.RunKind, symbols []string, stages []state.Stage) *state.Workflow {
	t.Helper()

	wf := &state.Workflow{
		ID:      uuid.NewString(),
		RunKind: kind,
		Metadata: state.WorkflowMetadata{
			Symbols: symbols,
			Stages:  stages,
		},
	}
	if err := store.CreateWorkflow(context.Background(), wf); err != nil {
		t.Fatalf("store.CreateWorkflow: %v", err)
	}
	return wf
}

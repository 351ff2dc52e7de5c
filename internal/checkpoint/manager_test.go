package checkpoint_test

import (
	"context"
	"testing"

	"quantpipe/internal/checkpoint"
	"quantpipe/internal/state"
	"quantpipe/internal/testsupport"
)

func TestSaveAndLoadLatest(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	wf := testsupport.NewWorkflow(t, store, state.RunDailyBatch, []string{"A", "B", "C"}, nil)
	manager := checkpoint.NewManager(store)
	ctx := context.Background()

	if err := manager.Save(ctx, wf.ID, state.StageIngestion, checkpoint.Snapshot{
		Remaining: []string{"B", "C"},
		Succeeded: 1,
	}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := manager.Save(ctx, wf.ID, state.StageIngestion, checkpoint.Snapshot{
		Remaining: []string{"C"},
		Succeeded: 2,
	}); err != nil {
		t.Fatalf("Save: %v", err)
	}

	snapshot, err := manager.LoadLatest(ctx, wf.ID, state.StageIngestion)
	if err != nil {
		t.Fatalf("LoadLatest: %v", err)
	}
	if snapshot == nil {
		t.Fatal("expected a snapshot")
	}
	if snapshot.Succeeded != 2 || len(snapshot.Remaining) != 1 || snapshot.Remaining[0] != "C" {
		t.Fatalf("snapshot = %+v", snapshot)
	}
	if snapshot.TakenAt.IsZero() {
		t.Fatal("TakenAt should default when unset")
	}
}

func TestLoadLatestWithoutCheckpoints(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	wf := testsupport.NewWorkflow(t, store, state.RunDailyBatch, []string{"A"}, nil)

	snapshot, err := checkpoint.NewManager(store).LoadLatest(context.Background(), wf.ID, state.StageScoring)
	if err != nil {
		t.Fatalf("LoadLatest: %v", err)
	}
	if snapshot != nil {
		t.Fatalf("expected nil, got %+v", snapshot)
	}
}

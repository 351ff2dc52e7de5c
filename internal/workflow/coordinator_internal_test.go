package workflow

import (
	"context"
	"testing"

	"quantpipe/internal/logging"
	"quantpipe/internal/state"
	"quantpipe/internal/testsupport"
)

func TestLaunchRejectedTransitionReturnsError(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	processors, _ := testsupport.NewProcessorSet()

	c, err := New(cfg, store, processors, logging.NewNop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { c.Close() })

	ctx := context.Background()
	wf := testsupport.NewWorkflow(t, store, state.RunDailyBatch, []string{"AAPL"}, nil)
	if _, err := store.TransitionWorkflow(ctx, wf.ID, state.WorkflowCancelled); err != nil {
		t.Fatalf("TransitionWorkflow: %v", err)
	}

	// A cancelled workflow cannot move to running; launch must surface the
	// store error instead of panicking, and must release its run handle.
	if _, err := c.launch(ctx, wf, state.Stages()); err == nil {
		t.Fatal("expected launch to fail for a cancelled workflow")
	}
	if handle := c.handleFor(wf.ID); handle != nil {
		t.Fatal("failed launch must unregister its run handle")
	}
}

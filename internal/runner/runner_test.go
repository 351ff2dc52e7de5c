package runner_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"quantpipe/internal/checkpoint"
	"quantpipe/internal/config"
	"quantpipe/internal/dlq"
	"quantpipe/internal/gate"
	"quantpipe/internal/logging"
	"quantpipe/internal/retry"
	"quantpipe/internal/runner"
	"quantpipe/internal/stage"
	"quantpipe/internal/state"
	"quantpipe/internal/testsupport"
)

type harness struct {
	cfg         *config.Config
	store       *state.Store
	runner      *runner.Runner
	checkpoints *checkpoint.Manager
}

func newHarness(t *testing.T, opts ...testsupport.ConfigOption) *harness {
	t.Helper()
	cfg := testsupport.NewConfig(t, opts...)
	store := testsupport.MustOpenStore(t, cfg)
	logger := logging.NewNop()
	checkpoints := checkpoint.NewManager(store)
	r := runner.New(
		cfg,
		store,
		gate.NewEvaluator(cfg.Gates),
		retry.NewPolicy(cfg.Workflow),
		dlq.NewManager(store, logger),
		checkpoints,
		logger,
	)
	return &harness{cfg: cfg, store: store, runner: r, checkpoints: checkpoints}
}

func neverStop() <-chan struct{} { return make(chan struct{}) }

func TestRunCompletesAllSymbols(t *testing.T) {
	h := newHarness(t)
	wf := testsupport.NewWorkflow(t, h.store, state.RunDailyBatch, []string{"AAPL", "MSFT", "NVDA"}, nil)
	proc := testsupport.NewScriptedProcessor(state.StageIngestion)

	outcome, err := h.runner.Run(context.Background(), wf, state.StageIngestion, wf.Metadata.Symbols, proc, neverStop())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if outcome.Succeeded != 3 || outcome.Failed != 0 || outcome.Skipped != 0 || outcome.Interrupted {
		t.Fatalf("unexpected outcome: %+v", outcome)
	}

	exec, err := h.store.GetStageExecution(context.Background(), wf.ID, state.StageIngestion)
	if err != nil {
		t.Fatalf("GetStageExecution: %v", err)
	}
	if exec.Status != state.StageCompleted {
		t.Fatalf("stage status = %s, want completed", exec.Status)
	}
	if exec.SymbolsSucceeded != 3 || exec.SymbolsTotal != 3 {
		t.Fatalf("stage counters = %+v", exec)
	}

	st, err := h.store.GetSymbolState(context.Background(), wf.ID, "AAPL", state.StageIngestion)
	if err != nil {
		t.Fatalf("GetSymbolState: %v", err)
	}
	if st.Status != state.SymbolCompleted {
		t.Fatalf("symbol status = %s, want completed", st.Status)
	}
	if len(st.Output) == 0 {
		t.Fatal("expected persisted output for completed symbol")
	}
	if st.CompletedAt == nil {
		t.Fatal("expected completed_at to be set")
	}
}

func TestRunRetriesTransientFailureThenSucceeds(t *testing.T) {
	h := newHarness(t, testsupport.WithRetryBudgets(2, 1))
	wf := testsupport.NewWorkflow(t, h.store, state.RunDailyBatch, []string{"AAPL", "MSFT", "NVDA"}, nil)
	proc := testsupport.NewScriptedProcessor(state.StageIngestion)
	proc.FailSymbol("MSFT", 2, stage.Wrap(stage.ErrTransient, state.StageIngestion, "fetch", "provider 503", nil))

	outcome, err := h.runner.Run(context.Background(), wf, state.StageIngestion, wf.Metadata.Symbols, proc, neverStop())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if outcome.Succeeded != 3 || outcome.Failed != 0 {
		t.Fatalf("unexpected outcome: %+v", outcome)
	}
	if attempts := proc.Attempts("MSFT"); attempts != 3 {
		t.Fatalf("MSFT attempts = %d, want 3", attempts)
	}

	st, err := h.store.GetSymbolState(context.Background(), wf.ID, "MSFT", state.StageIngestion)
	if err != nil {
		t.Fatalf("GetSymbolState: %v", err)
	}
	if st.Status != state.SymbolCompleted {
		t.Fatalf("symbol status = %s, want completed", st.Status)
	}
	if st.RetryCount != 2 {
		t.Fatalf("retry count = %d, want 2", st.RetryCount)
	}

	entries, err := h.store.ListDLQEntries(context.Background(), state.DLQFilter{WorkflowID: wf.ID})
	if err != nil {
		t.Fatalf("ListDLQEntries: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected no dlq entries, got %d", len(entries))
	}
}

func TestRunEscalatesWhenRetryBudgetExhausted(t *testing.T) {
	h := newHarness(t, testsupport.WithRetryBudgets(2, 1))
	wf := testsupport.NewWorkflow(t, h.store, state.RunDailyBatch, []string{"AAPL", "MSFT", "NVDA"}, nil)
	proc := testsupport.NewScriptedProcessor(state.StageIngestion)
	proc.FailSymbol("MSFT", 10, stage.Wrap(stage.ErrTransient, state.StageIngestion, "fetch", "provider 503", nil))

	outcome, err := h.runner.Run(context.Background(), wf, state.StageIngestion, wf.Metadata.Symbols, proc, neverStop())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if outcome.Succeeded != 2 || outcome.Failed != 1 {
		t.Fatalf("unexpected outcome: %+v", outcome)
	}
	if attempts := proc.Attempts("MSFT"); attempts != 3 {
		t.Fatalf("MSFT attempts = %d, want 3 (1 initial + 2 retries)", attempts)
	}

	st, err := h.store.GetSymbolState(context.Background(), wf.ID, "MSFT", state.StageIngestion)
	if err != nil {
		t.Fatalf("GetSymbolState: %v", err)
	}
	if st.Status != state.SymbolFailed {
		t.Fatalf("symbol status = %s, want failed", st.Status)
	}

	entries, err := h.store.ListDLQEntries(context.Background(), state.DLQFilter{WorkflowID: wf.ID})
	if err != nil {
		t.Fatalf("ListDLQEntries: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected one dlq entry, got %d", len(entries))
	}
	entry := entries[0]
	if entry.Symbol != "MSFT" || entry.Stage != state.StageIngestion {
		t.Fatalf("unexpected dlq unit: %s/%s", entry.Symbol, entry.Stage)
	}
	if entry.ErrorCategory != state.CategoryTransient {
		t.Fatalf("dlq category = %s, want transient", entry.ErrorCategory)
	}
	if entry.RetryCount != 2 {
		t.Fatalf("dlq retry count = %d, want 2", entry.RetryCount)
	}

	// The stage itself still completes; a failed symbol does not fail the stage.
	exec, err := h.store.GetStageExecution(context.Background(), wf.ID, state.StageIngestion)
	if err != nil {
		t.Fatalf("GetStageExecution: %v", err)
	}
	if exec.Status != state.StageCompleted {
		t.Fatalf("stage status = %s, want completed", exec.Status)
	}
}

func TestRunComputationFailureUsesItsOwnBudget(t *testing.T) {
	h := newHarness(t, testsupport.WithRetryBudgets(3, 1))
	wf := testsupport.NewWorkflow(t, h.store, state.RunDailyBatch, []string{"AAPL"}, nil)
	proc := testsupport.NewScriptedProcessor(state.StageIndicators)
	proc.FailSymbol("AAPL", 10, stage.Wrap(stage.ErrComputation, state.StageIndicators, "rsi", "window underflow", nil))

	outcome, err := h.runner.Run(context.Background(), wf, state.StageIndicators, wf.Metadata.Symbols, proc, neverStop())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if outcome.Failed != 1 {
		t.Fatalf("unexpected outcome: %+v", outcome)
	}
	if attempts := proc.Attempts("AAPL"); attempts != 2 {
		t.Fatalf("attempts = %d, want 2 (1 initial + 1 computation retry)", attempts)
	}
}

func TestRunValidationFailureEscalatesWithoutRetry(t *testing.T) {
	h := newHarness(t)
	wf := testsupport.NewWorkflow(t, h.store, state.RunDailyBatch, []string{"AAPL"}, nil)
	proc := testsupport.NewScriptedProcessor(state.StageValidation)
	proc.FailSymbol("AAPL", 10, stage.Wrap(stage.ErrValidation, state.StageValidation, "schema", "negative volume", nil))

	outcome, err := h.runner.Run(context.Background(), wf, state.StageValidation, wf.Metadata.Symbols, proc, neverStop())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if outcome.Failed != 1 {
		t.Fatalf("unexpected outcome: %+v", outcome)
	}
	if attempts := proc.Attempts("AAPL"); attempts != 1 {
		t.Fatalf("attempts = %d, want 1 (validation failures never retry)", attempts)
	}

	entries, err := h.store.ListDLQEntries(context.Background(), state.DLQFilter{WorkflowID: wf.ID})
	if err != nil {
		t.Fatalf("ListDLQEntries: %v", err)
	}
	if len(entries) != 1 || entries[0].ErrorCategory != state.CategoryValidation {
		t.Fatalf("expected one validation dlq entry, got %+v", entries)
	}

	results, err := h.store.ListGateResults(context.Background(), wf.ID, state.StageValidation)
	if err != nil {
		t.Fatalf("ListGateResults: %v", err)
	}
	if len(results) != 1 || results[0].Action != state.ActionFixDataQuality || results[0].Passed {
		t.Fatalf("expected failed fix-data-quality gate result, got %+v", results)
	}
}

func TestRunTimeoutIsRetriedAsTransient(t *testing.T) {
	h := newHarness(t, testsupport.WithRetryBudgets(1, 0))
	wf := testsupport.NewWorkflow(t, h.store, state.RunDailyBatch, []string{"AAPL"}, nil)
	proc := testsupport.NewScriptedProcessor(state.StageIngestion)
	proc.FailSymbol("AAPL", 1, context.DeadlineExceeded)

	outcome, err := h.runner.Run(context.Background(), wf, state.StageIngestion, wf.Metadata.Symbols, proc, neverStop())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if outcome.Succeeded != 1 {
		t.Fatalf("unexpected outcome: %+v", outcome)
	}
	if attempts := proc.Attempts("AAPL"); attempts != 2 {
		t.Fatalf("attempts = %d, want 2", attempts)
	}
}

func TestRunGateSkipIsTerminalWithoutEscalation(t *testing.T) {
	h := newHarness(t)
	wf := testsupport.NewWorkflow(t, h.store, state.RunDailyBatch, []string{"AAPL", "PENNY"}, nil)
	proc := testsupport.NewScriptedProcessor(state.StageIngestion)
	proc.ReportReadiness("PENNY", stage.IngestionReadiness{BarCount: 10})

	outcome, err := h.runner.Run(context.Background(), wf, state.StageIngestion, wf.Metadata.Symbols, proc, neverStop())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if outcome.Succeeded != 1 || outcome.Skipped != 1 {
		t.Fatalf("unexpected outcome: %+v", outcome)
	}

	st, err := h.store.GetSymbolState(context.Background(), wf.ID, "PENNY", state.StageIngestion)
	if err != nil {
		t.Fatalf("GetSymbolState: %v", err)
	}
	if st.Status != state.SymbolSkipped {
		t.Fatalf("symbol status = %s, want skipped", st.Status)
	}

	entries, err := h.store.ListDLQEntries(context.Background(), state.DLQFilter{WorkflowID: wf.ID})
	if err != nil {
		t.Fatalf("ListDLQEntries: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("skip should not escalate, got %d dlq entries", len(entries))
	}

	results, err := h.store.ListGateResults(context.Background(), wf.ID, state.StageIngestion)
	if err != nil {
		t.Fatalf("ListGateResults: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected a gate result per symbol, got %d", len(results))
	}
}

func TestRunGateRetryActionConsumesBudgetThenEscalates(t *testing.T) {
	h := newHarness(t, testsupport.WithRetryBudgets(1, 1))
	wf := testsupport.NewWorkflow(t, h.store, state.RunDailyBatch, []string{"AAPL"}, nil)
	proc := testsupport.NewScriptedProcessor(state.StageCaching)
	proc.ReportReadiness("AAPL", stage.CachingReadiness{Written: false})

	outcome, err := h.runner.Run(context.Background(), wf, state.StageCaching, wf.Metadata.Symbols, proc, neverStop())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if outcome.Failed != 1 {
		t.Fatalf("unexpected outcome: %+v", outcome)
	}
	if attempts := proc.Attempts("AAPL"); attempts != 2 {
		t.Fatalf("attempts = %d, want 2", attempts)
	}

	entries, err := h.store.ListDLQEntries(context.Background(), state.DLQFilter{WorkflowID: wf.ID})
	if err != nil {
		t.Fatalf("ListDLQEntries: %v", err)
	}
	if len(entries) != 1 || entries[0].ErrorCategory != state.CategoryGateFailed {
		t.Fatalf("expected one gate_failed dlq entry, got %+v", entries)
	}
}

func TestRunInfrastructureFaultAbortsStage(t *testing.T) {
	h := newHarness(t, testsupport.WithWorkerPoolSize(1))
	wf := testsupport.NewWorkflow(t, h.store, state.RunDailyBatch, []string{"AAPL", "MSFT"}, nil)
	proc := testsupport.NewScriptedProcessor(state.StageCaching)
	proc.FailSymbol("AAPL", 10, stage.Wrap(stage.ErrInfrastructure, state.StageCaching, "redis", "connection refused", nil))

	_, err := h.runner.Run(context.Background(), wf, state.StageCaching, wf.Metadata.Symbols, proc, neverStop())
	if err == nil {
		t.Fatal("expected infrastructure fault to abort the stage")
	}
	if !errors.Is(err, stage.ErrInfrastructure) {
		t.Fatalf("error = %v, want infrastructure sentinel", err)
	}

	exec, err := h.store.GetStageExecution(context.Background(), wf.ID, state.StageCaching)
	if err != nil {
		t.Fatalf("GetStageExecution: %v", err)
	}
	if exec.Status != state.StageFailed {
		t.Fatalf("stage status = %s, want failed", exec.Status)
	}

	// The faulted unit is handed back to a future attempt, not dead-lettered.
	st, err := h.store.GetSymbolState(context.Background(), wf.ID, "AAPL", state.StageCaching)
	if err != nil {
		t.Fatalf("GetSymbolState: %v", err)
	}
	if st.Status != state.SymbolPending {
		t.Fatalf("symbol status = %s, want pending", st.Status)
	}
	entries, err := h.store.ListDLQEntries(context.Background(), state.DLQFilter{WorkflowID: wf.ID})
	if err != nil {
		t.Fatalf("ListDLQEntries: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("infrastructure faults should not escalate, got %d entries", len(entries))
	}
}

func TestRunIsIdempotentOnceTerminal(t *testing.T) {
	h := newHarness(t)
	wf := testsupport.NewWorkflow(t, h.store, state.RunDailyBatch, []string{"AAPL", "MSFT"}, nil)
	proc := testsupport.NewScriptedProcessor(state.StageIngestion)

	if _, err := h.runner.Run(context.Background(), wf, state.StageIngestion, wf.Metadata.Symbols, proc, neverStop()); err != nil {
		t.Fatalf("first Run: %v", err)
	}
	outcome, err := h.runner.Run(context.Background(), wf, state.StageIngestion, wf.Metadata.Symbols, proc, neverStop())
	if err != nil {
		t.Fatalf("second Run: %v", err)
	}
	if outcome.Succeeded != 2 {
		t.Fatalf("unexpected outcome: %+v", outcome)
	}
	if attempts := proc.Attempts("AAPL"); attempts != 1 {
		t.Fatalf("terminal stage must not reprocess, AAPL attempts = %d", attempts)
	}
}

func TestRunStopInterruptsAndResumeFinishesRemaining(t *testing.T) {
	h := newHarness(t, testsupport.WithWorkerPoolSize(1))
	wf := testsupport.NewWorkflow(t, h.store, state.RunDailyBatch, []string{"AAPL", "MSFT", "NVDA"}, nil)
	proc := testsupport.NewScriptedProcessor(state.StageIngestion)

	stop := make(chan struct{})
	var stopOnce bool
	proc.BlockSymbol("AAPL", func(ctx context.Context) error {
		if !stopOnce {
			stopOnce = true
			close(stop)
			// Give the dispatcher time to observe the stop signal.
			time.Sleep(20 * time.Millisecond)
		}
		return nil
	})

	outcome, err := h.runner.Run(context.Background(), wf, state.StageIngestion, wf.Metadata.Symbols, proc, stop)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !outcome.Interrupted {
		t.Fatalf("expected interruption, got %+v", outcome)
	}
	if outcome.Succeeded != 1 {
		t.Fatalf("in-flight symbol should finish, outcome = %+v", outcome)
	}

	exec, err := h.store.GetStageExecution(context.Background(), wf.ID, state.StageIngestion)
	if err != nil {
		t.Fatalf("GetStageExecution: %v", err)
	}
	if exec.Status.IsTerminal() {
		t.Fatalf("interrupted stage must stay resumable, status = %s", exec.Status)
	}

	snapshot, err := h.checkpoints.LoadLatest(context.Background(), wf.ID, state.StageIngestion)
	if err != nil {
		t.Fatalf("LoadLatest: %v", err)
	}
	if snapshot == nil {
		t.Fatal("expected a checkpoint after interruption")
	}
	if len(snapshot.Remaining) != 2 {
		t.Fatalf("checkpoint remaining = %v, want 2 symbols", snapshot.Remaining)
	}

	outcome, err = h.runner.Run(context.Background(), wf, state.StageIngestion, wf.Metadata.Symbols, proc, neverStop())
	if err != nil {
		t.Fatalf("resume Run: %v", err)
	}
	if outcome.Succeeded != 3 || outcome.Interrupted {
		t.Fatalf("unexpected resume outcome: %+v", outcome)
	}
	if attempts := proc.Attempts("AAPL"); attempts != 1 {
		t.Fatalf("completed symbol reprocessed on resume, attempts = %d", attempts)
	}
}

func TestRunPropagatesPriorStageOutput(t *testing.T) {
	h := newHarness(t)
	wf := testsupport.NewWorkflow(t, h.store, state.RunDailyBatch, []string{"AAPL"}, nil)
	ingest := testsupport.NewScriptedProcessor(state.StageIngestion)
	validate := testsupport.NewScriptedProcessor(state.StageValidation)

	if _, err := h.runner.Run(context.Background(), wf, state.StageIngestion, wf.Metadata.Symbols, ingest, neverStop()); err != nil {
		t.Fatalf("ingestion Run: %v", err)
	}
	if _, err := h.runner.Run(context.Background(), wf, state.StageValidation, wf.Metadata.Symbols, validate, neverStop()); err != nil {
		t.Fatalf("validation Run: %v", err)
	}

	in := validate.LastInput("AAPL")
	if len(in.Prior) == 0 {
		t.Fatal("validation processor should receive the ingestion output")
	}
	if in.WorkflowID != wf.ID || in.Stage != state.StageValidation {
		t.Fatalf("unexpected input metadata: %+v", in)
	}
}

func TestRunCheckpointsAtConfiguredInterval(t *testing.T) {
	h := newHarness(t, testsupport.WithCheckpointInterval(2))
	symbols := []string{"A", "B", "C", "D", "E"}
	wf := testsupport.NewWorkflow(t, h.store, state.RunDailyBatch, symbols, nil)
	proc := testsupport.NewScriptedProcessor(state.StageIngestion)

	if _, err := h.runner.Run(context.Background(), wf, state.StageIngestion, symbols, proc, neverStop()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	snapshot, err := h.checkpoints.LoadLatest(context.Background(), wf.ID, state.StageIngestion)
	if err != nil {
		t.Fatalf("LoadLatest: %v", err)
	}
	if snapshot == nil {
		t.Fatal("expected at least one checkpoint")
	}
	if got := snapshot.Succeeded + snapshot.Failed + snapshot.Skipped; got < 2 {
		t.Fatalf("checkpoint should reflect progress, terminal count = %d", got)
	}
}

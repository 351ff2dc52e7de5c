package runner

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"quantpipe/internal/checkpoint"
	"quantpipe/internal/config"
	"quantpipe/internal/dlq"
	"quantpipe/internal/gate"
	"quantpipe/internal/logging"
	"quantpipe/internal/retry"
	"quantpipe/internal/stage"
	"quantpipe/internal/state"
)

// Outcome aggregates the per-symbol results of one stage run.
type Outcome struct {
	Succeeded int
	Failed    int
	Skipped   int
	// Interrupted reports that dispatch stopped before every symbol reached
	// a terminal outcome (pause, cancel, or shutdown). The stage execution
	// stays non-terminal and can be resumed.
	Interrupted bool
}

// Runner processes one stage across a symbol set with bounded concurrency.
type Runner struct {
	store       *state.Store
	gates       *gate.Evaluator
	policy      *retry.Policy
	deadLetters *dlq.Manager
	checkpoints *checkpoint.Manager
	logger      *slog.Logger

	poolSize           int
	processorTimeout   time.Duration
	checkpointInterval int
}

// New constructs a stage runner from configuration and collaborators.
func New(
	cfg *config.Config,
	store *state.Store,
	gates *gate.Evaluator,
	policy *retry.Policy,
	deadLetters *dlq.Manager,
	checkpoints *checkpoint.Manager,
	logger *slog.Logger,
) *Runner {
	return &Runner{
		store:              store,
		gates:              gates,
		policy:             policy,
		deadLetters:        deadLetters,
		checkpoints:        checkpoints,
		logger:             logging.WithComponent(logger, "stage-runner"),
		poolSize:           cfg.Workflow.WorkerPoolSize,
		processorTimeout:   time.Duration(cfg.Workflow.ProcessorTimeout) * time.Second,
		checkpointInterval: cfg.Workflow.CheckpointInterval,
	}
}

type symbolOutcome int

const (
	outcomeSucceeded symbolOutcome = iota
	outcomeFailed
	outcomeSkipped
	// outcomeDeferred means the unit stayed non-terminal because dispatch
	// was stopped mid-retry; a later resume picks it up again.
	outcomeDeferred
)

// Run processes the symbol set for one stage. Symbols whose state is already
// terminal are counted from their stored status without reprocessing, which
// makes re-entry after a crash or pause idempotent. The stop channel halts
// dispatch at the next scheduling boundary; in-flight attempts finish.
func (r *Runner) Run(ctx context.Context, wf *state.Workflow, stg state.Stage, symbols []string, proc stage.Processor, stop <-chan struct{}) (Outcome, error) {
	logger := r.logger.With(
		logging.String(logging.FieldWorkflowID, wf.ID),
		logging.String(logging.FieldStage, string(stg)),
	)

	exec, err := r.store.EnsureStageExecution(ctx, wf.ID, stg)
	if err != nil {
		return Outcome{}, err
	}
	if exec.Status.IsTerminal() {
		return Outcome{
			Succeeded: exec.SymbolsSucceeded,
			Failed:    exec.SymbolsFailed,
			Skipped:   exec.SymbolsSkipped,
		}, nil
	}

	exec.Status = state.StageRunning
	exec.SymbolsTotal = len(symbols)
	if err := r.store.UpdateStageExecution(ctx, exec); err != nil {
		return Outcome{}, err
	}

	// Materialize every unit up front so cancellation can mark work that was
	// never dispatched and progress queries see the full scope immediately.
	for _, symbol := range symbols {
		if _, err := r.store.EnsureSymbolState(ctx, wf.ID, symbol, stg); err != nil {
			return Outcome{}, err
		}
	}

	logger.Info("stage started",
		logging.Int("symbols", len(symbols)),
		logging.Int("workers", r.poolSize),
		logging.String(logging.FieldEventType, "stage_start"),
	)
	stageStart := time.Now()

	tracker := newProgressTracker(symbols)
	abort := make(chan struct{})
	var abortOnce sync.Once
	var infraMu sync.Mutex
	var infraErr error

	recordInfraFailure := func(err error) {
		infraMu.Lock()
		if infraErr == nil {
			infraErr = err
		}
		infraMu.Unlock()
		abortOnce.Do(func() { close(abort) })
	}

	jobs := make(chan string)
	var dispatchedAll bool
	var dispatchWG sync.WaitGroup
	dispatchWG.Add(1)
	go func() {
		defer dispatchWG.Done()
		defer close(jobs)
		for _, symbol := range symbols {
			select {
			case <-ctx.Done():
				return
			case <-stop:
				return
			case <-abort:
				return
			case jobs <- symbol:
			}
		}
		dispatchedAll = true
	}()

	var workerWG sync.WaitGroup
	workerWG.Add(r.poolSize)
	for i := 0; i < r.poolSize; i++ {
		go func() {
			defer workerWG.Done()
			for symbol := range jobs {
				outcome, retries, err := r.processSymbol(ctx, wf, stg, symbol, proc, stop)
				if err != nil {
					recordInfraFailure(err)
					return
				}
				terminal := tracker.record(symbol, outcome, retries)
				if terminal && tracker.checkpointDue(r.checkpointInterval) {
					r.saveCheckpoint(ctx, logger, wf.ID, stg, tracker)
				}
			}
		}()
	}

	workerWG.Wait()
	dispatchWG.Wait()

	succeeded, failed, skipped, retries := tracker.totals()
	outcome := Outcome{Succeeded: succeeded, Failed: failed, Skipped: skipped}

	exec.SymbolsSucceeded = succeeded
	exec.SymbolsFailed = failed
	exec.SymbolsSkipped = skipped
	exec.RetryCount = retries

	infraMu.Lock()
	failure := infraErr
	infraMu.Unlock()

	if failure != nil {
		exec.Status = state.StageFailed
		if err := r.store.UpdateStageExecution(ctx, exec); err != nil {
			logger.Error("failed to persist stage failure", logging.Error(err))
		}
		logger.Error("stage failed",
			logging.Error(failure),
			logging.String(logging.FieldEventType, "stage_failure"),
		)
		return outcome, failure
	}

	if !dispatchedAll || tracker.remainingCount() > 0 {
		outcome.Interrupted = true
		r.saveCheckpoint(ctx, logger, wf.ID, stg, tracker)
		if err := r.store.UpdateStageExecution(ctx, exec); err != nil {
			logger.Error("failed to persist interrupted stage progress", logging.Error(err))
		}
		logger.Info("stage interrupted",
			logging.Int("remaining", tracker.remainingCount()),
			logging.String(logging.FieldEventType, "stage_interrupted"),
		)
		return outcome, nil
	}

	exec.Status = state.StageCompleted
	if err := r.store.UpdateStageExecution(ctx, exec); err != nil {
		return outcome, fmt.Errorf("persist stage completion: %w", err)
	}
	logger.Info("stage completed",
		logging.Int("succeeded", succeeded),
		logging.Int("failed", failed),
		logging.Int("skipped", skipped),
		logging.Duration("stage_duration", time.Since(stageStart)),
		logging.String(logging.FieldEventType, "stage_complete"),
	)
	return outcome, nil
}

func (r *Runner) saveCheckpoint(ctx context.Context, logger *slog.Logger, workflowID string, stg state.Stage, tracker *progressTracker) {
	snapshot := tracker.snapshot()
	if err := r.checkpoints.Save(ctx, workflowID, stg, snapshot); err != nil {
		logger.Warn("checkpoint save failed; resume will fall back to state scan", logging.Error(err))
	}
}

// processSymbol drives one unit of work to a terminal (or deferred) outcome.
// The returned error is reserved for runner-level faults that must abort the
// whole stage; per-symbol failures are absorbed into the outcome.
func (r *Runner) processSymbol(ctx context.Context, wf *state.Workflow, stg state.Stage, symbol string, proc stage.Processor, stop <-chan struct{}) (symbolOutcome, int, error) {
	logger := r.logger.With(
		logging.String(logging.FieldWorkflowID, wf.ID),
		logging.String(logging.FieldStage, string(stg)),
		logging.String(logging.FieldSymbol, symbol),
	)

	st, err := r.store.EnsureSymbolState(ctx, wf.ID, symbol, stg)
	if err != nil {
		return 0, 0, err
	}
	if st.Status.IsTerminal() {
		return outcomeForStatus(st.Status), st.RetryCount, nil
	}

	input := stage.Input{
		WorkflowID: wf.ID,
		RunKind:    wf.RunKind,
		Stage:      stg,
	}
	if prior, err := r.priorOutput(ctx, wf, symbol, stg); err != nil {
		return 0, 0, err
	} else if prior != nil {
		input.Prior = prior
	}

	retriesGranted := 0
	for {
		now := time.Now().UTC()
		st.Status = state.SymbolRunning
		if st.StartedAt == nil {
			st.StartedAt = &now
		}
		if err := r.store.UpdateSymbolState(ctx, st); err != nil {
			return 0, retriesGranted, err
		}

		callCtx, cancel := context.WithTimeout(ctx, r.processorTimeout)
		result, procErr := proc.Process(callCtx, symbol, input)
		cancel()

		if procErr == nil {
			outcome, retryable, reason, err := r.handleSuccess(ctx, wf.ID, stg, symbol, st, result)
			if err != nil {
				return 0, retriesGranted, err
			}
			if !retryable {
				return outcome, retriesGranted, nil
			}
			granted, deferred, err := r.scheduleRetry(ctx, st, state.CategoryGateFailed, reason, stop, logger)
			if err != nil {
				return 0, retriesGranted, err
			}
			if deferred {
				return outcomeDeferred, retriesGranted, nil
			}
			if !granted {
				if err := r.escalate(ctx, wf.ID, stg, symbol, st, state.CategoryGateFailed, reason); err != nil {
					return 0, retriesGranted, err
				}
				return outcomeFailed, retriesGranted, nil
			}
			retriesGranted++
			continue
		}

		category := stage.CategoryOf(procErr)
		if category == state.CategoryInfrastructure {
			// Give the unit back to a future attempt before aborting the stage.
			st.Status = state.SymbolPending
			st.ErrorMessage = procErr.Error()
			if err := r.store.UpdateSymbolState(ctx, st); err != nil {
				logger.Error("failed to reset unit after infrastructure fault", logging.Error(err))
			}
			return 0, retriesGranted, procErr
		}

		if category == state.CategoryValidation {
			// Retrying without fixing the input is futile; escalate directly.
			gateResult := &state.GateResult{
				WorkflowID: wf.ID,
				Stage:      stg,
				Symbol:     symbol,
				GateName:   "processor_validation",
				Passed:     false,
				Reason:     procErr.Error(),
				Action:     state.ActionFixDataQuality,
			}
			if err := r.store.RecordGateResult(ctx, gateResult); err != nil {
				return 0, retriesGranted, err
			}
			if err := r.escalate(ctx, wf.ID, stg, symbol, st, category, procErr.Error()); err != nil {
				return 0, retriesGranted, err
			}
			return outcomeFailed, retriesGranted, nil
		}

		granted, deferred, err := r.scheduleRetry(ctx, st, category, procErr.Error(), stop, logger)
		if err != nil {
			return 0, retriesGranted, err
		}
		if deferred {
			return outcomeDeferred, retriesGranted, nil
		}
		if !granted {
			gateResult := &state.GateResult{
				WorkflowID: wf.ID,
				Stage:      stg,
				Symbol:     symbol,
				GateName:   "retry_budget",
				Passed:     false,
				Reason:     fmt.Sprintf("retry budget exhausted after %d attempts: %s", st.RetryCount+1, procErr.Error()),
				Action:     state.ActionRetry,
			}
			if err := r.store.RecordGateResult(ctx, gateResult); err != nil {
				return 0, retriesGranted, err
			}
			if err := r.escalate(ctx, wf.ID, stg, symbol, st, category, procErr.Error()); err != nil {
				return 0, retriesGranted, err
			}
			return outcomeFailed, retriesGranted, nil
		}
		retriesGranted++
	}
}

// handleSuccess records the gate verdict for a successful processor call and
// finalizes the unit unless the verdict demands a retryable data-quality fix.
func (r *Runner) handleSuccess(ctx context.Context, workflowID string, stg state.Stage, symbol string, st *state.SymbolState, result stage.Result) (symbolOutcome, bool, string, error) {
	verdict := r.gates.Check(stg, result.Readiness)
	gateResult := &state.GateResult{
		WorkflowID: workflowID,
		Stage:      stg,
		Symbol:     symbol,
		GateName:   verdict.GateName,
		Passed:     verdict.Passed,
		Reason:     verdict.Reason,
		Action:     verdict.Action,
	}
	if err := r.store.RecordGateResult(ctx, gateResult); err != nil {
		return 0, false, "", err
	}

	if verdict.Passed {
		now := time.Now().UTC()
		st.Status = state.SymbolCompleted
		st.ErrorMessage = ""
		st.Output = result.Output
		st.CompletedAt = &now
		if err := r.store.UpdateSymbolState(ctx, st); err != nil {
			return 0, false, "", err
		}
		return outcomeSucceeded, false, "", nil
	}

	if verdict.Action == state.ActionSkip {
		now := time.Now().UTC()
		st.Status = state.SymbolSkipped
		st.ErrorMessage = verdict.Reason
		st.CompletedAt = &now
		if err := r.store.UpdateSymbolState(ctx, st); err != nil {
			return 0, false, "", err
		}
		return outcomeSkipped, false, "", nil
	}

	// RETRY and FIX_DATA_QUALITY verdicts both funnel into the retry path.
	return 0, true, verdict.Reason, nil
}

// scheduleRetry consults the policy and, when a retry is granted, waits out
// the backoff. A stop signal during the wait defers the unit (it stays
// retrying and is re-attempted on resume).
func (r *Runner) scheduleRetry(ctx context.Context, st *state.SymbolState, category state.ErrorCategory, message string, stop <-chan struct{}, logger *slog.Logger) (granted, deferred bool, err error) {
	decision := r.policy.Decide(category, st.RetryCount)
	if !decision.Retry {
		return false, false, nil
	}

	st.RetryCount++
	st.Status = state.SymbolRetrying
	st.ErrorMessage = message
	if err := r.store.UpdateSymbolState(ctx, st); err != nil {
		return false, false, err
	}

	logger.Debug("retry scheduled",
		logging.String(logging.FieldCategory, string(category)),
		logging.Int(logging.FieldAttempt, st.RetryCount),
		logging.Duration("backoff", decision.Backoff),
	)

	timer := time.NewTimer(decision.Backoff)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false, true, nil
	case <-stop:
		return false, true, nil
	case <-timer.C:
		return true, false, nil
	}
}

func (r *Runner) escalate(ctx context.Context, workflowID string, stg state.Stage, symbol string, st *state.SymbolState, category state.ErrorCategory, message string) error {
	if _, err := r.deadLetters.Escalate(ctx, dlq.Escalation{
		WorkflowID: workflowID,
		Symbol:     symbol,
		Stage:      stg,
		Category:   category,
		Message:    message,
		Context: map[string]any{
			"retry_count": st.RetryCount,
			"stage":       stg,
		},
		RetryCount: st.RetryCount,
	}); err != nil {
		return err
	}

	now := time.Now().UTC()
	st.Status = state.SymbolFailed
	st.ErrorMessage = message
	st.CompletedAt = &now
	return r.store.UpdateSymbolState(ctx, st)
}

// priorOutput finds the nearest earlier stage that produced output for this
// symbol, checking this workflow first and then the source workflow when the
// run was derived from one (recovery runs start mid-pipeline and inherit the
// source's upstream outputs).
func (r *Runner) priorOutput(ctx context.Context, wf *state.Workflow, symbol string, stg state.Stage) ([]byte, error) {
	stages := state.Stages()
	for i := state.StageIndex(stg) - 1; i >= 0; i-- {
		output, err := r.store.PriorOutput(ctx, wf.ID, symbol, stages[i])
		if err != nil {
			return nil, err
		}
		if output == nil && wf.SourceWorkflowID != "" {
			output, err = r.store.PriorOutput(ctx, wf.SourceWorkflowID, symbol, stages[i])
			if err != nil {
				return nil, err
			}
		}
		if output != nil {
			return output, nil
		}
	}
	return nil, nil
}

func outcomeForStatus(status state.SymbolStatus) symbolOutcome {
	switch status {
	case state.SymbolCompleted:
		return outcomeSucceeded
	case state.SymbolSkipped:
		return outcomeSkipped
	case state.SymbolFailed:
		return outcomeFailed
	default:
		return outcomeDeferred
	}
}

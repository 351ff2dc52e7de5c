package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"quantpipe/internal/logging"
	"quantpipe/internal/state"
)

// drive runs the stage plan to a terminal workflow status. It owns the
// workflow's status transitions from here on.
func (c *Coordinator) drive(wf *state.Workflow, plan []state.Stage, handle *runHandle) {
	defer close(handle.done)
	defer c.unregister(wf.ID)

	ctx := context.Background()
	logger := c.logger.With(
		logging.String(logging.FieldWorkflowID, wf.ID),
		logging.String(logging.FieldRunKind, string(wf.RunKind)),
	)
	start := time.Now()

	if err := c.runPreflight(ctx, logger, plan); err != nil {
		c.failWorkflow(ctx, logger, wf.ID, err)
		return
	}

	for _, stg := range plan {
		if intent := handle.requested(); intent != intentNone {
			c.settleInterrupted(ctx, logger, wf.ID, stg, intent)
			return
		}

		if err := c.store.SetCurrentStage(ctx, wf.ID, stg); err != nil {
			c.failWorkflow(ctx, logger, wf.ID, err)
			return
		}
		proc, ok := c.processors.For(stg)
		if !ok {
			c.failWorkflow(ctx, logger, wf.ID, fmt.Errorf("no processor registered for stage %s", stg))
			return
		}
		symbols, err := c.eligibleSymbols(ctx, wf, stg)
		if err != nil {
			c.failWorkflow(ctx, logger, wf.ID, err)
			return
		}

		outcome, err := c.runner.Run(ctx, wf, stg, symbols, proc, handle.stop)
		if err != nil {
			c.failWorkflow(ctx, logger, wf.ID, err)
			return
		}
		if outcome.Interrupted {
			intent := handle.requested()
			if intent == intentNone {
				intent = intentPause
			}
			c.settleInterrupted(ctx, logger, wf.ID, stg, intent)
			return
		}
	}

	if _, err := c.store.TransitionWorkflow(ctx, wf.ID, state.WorkflowCompleted); err != nil {
		logger.Error("failed to mark workflow completed", logging.Error(err))
		return
	}
	logger.Info("workflow completed",
		logging.Duration("workflow_duration", time.Since(start)),
		logging.String(logging.FieldEventType, "workflow_complete"),
	)
}

// settleInterrupted parks or cancels a workflow whose dispatch was halted.
// Cancellation marks everything not yet terminal in the interrupted stage as
// skipped; a pause leaves it pending for resume.
func (c *Coordinator) settleInterrupted(ctx context.Context, logger *slog.Logger, id string, stg state.Stage, intent runIntent) {
	if intent == intentCancel {
		if _, err := c.store.SkipNonTerminal(ctx, id, stg, "workflow cancelled"); err != nil {
			logger.Error("failed to skip remaining units on cancel", logging.Error(err))
		}
		if _, err := c.store.TransitionWorkflow(ctx, id, state.WorkflowCancelled); err != nil {
			logger.Error("failed to mark workflow cancelled", logging.Error(err))
			return
		}
		logger.Info("workflow cancelled",
			logging.String(logging.FieldStage, string(stg)),
			logging.String(logging.FieldEventType, "workflow_cancelled"),
		)
		return
	}

	if _, err := c.store.TransitionWorkflow(ctx, id, state.WorkflowPaused); err != nil {
		logger.Error("failed to mark workflow paused", logging.Error(err))
		return
	}
	logger.Info("workflow paused",
		logging.String(logging.FieldStage, string(stg)),
		logging.String(logging.FieldEventType, "workflow_paused"),
	)
}

func (c *Coordinator) failWorkflow(ctx context.Context, logger *slog.Logger, id string, cause error) {
	if err := c.store.SetWorkflowError(ctx, id, cause.Error()); err != nil {
		logger.Error("failed to record workflow error", logging.Error(err))
	}
	if _, err := c.store.TransitionWorkflow(ctx, id, state.WorkflowFailed); err != nil {
		logger.Error("failed to mark workflow failed", logging.Error(err))
	}
	logger.Error("workflow failed",
		logging.Error(cause),
		logging.String(logging.FieldEventType, "workflow_failure"),
	)
}

// eligibleSymbols returns the symbols a stage should process: the full scope
// for the workflow's first planned stage, and afterwards only symbols that
// completed the preceding stage. Failed and skipped symbols do not advance.
func (c *Coordinator) eligibleSymbols(ctx context.Context, wf *state.Workflow, stg state.Stage) ([]string, error) {
	plan := wf.StagePlan()
	idx := -1
	for i, planned := range plan {
		if planned == stg {
			idx = i
			break
		}
	}
	if idx <= 0 {
		return wf.Metadata.Symbols, nil
	}

	previous := plan[idx-1]
	states, err := c.store.ListSymbolStates(ctx, wf.ID, previous)
	if err != nil {
		return nil, err
	}
	symbols := make([]string, 0, len(states))
	for _, st := range states {
		if st.Status == state.SymbolCompleted {
			symbols = append(symbols, st.Symbol)
		}
	}
	return symbols, nil
}

// runPreflight verifies every processor in the plan reports ready before any
// unit is scheduled. Returns nil when all checks pass, or an error naming
// every failure.
func (c *Coordinator) runPreflight(ctx context.Context, logger *slog.Logger, plan []state.Stage) error {
	var failures []string
	for _, stg := range plan {
		proc, ok := c.processors.For(stg)
		if !ok {
			failures = append(failures, fmt.Sprintf("%s: no processor registered", stg))
			continue
		}
		health := proc.HealthCheck(ctx)
		if health.Ready {
			logger.Debug("preflight check passed",
				logging.String("check", health.Name),
				logging.String(logging.FieldEventType, "preflight_passed"),
			)
			continue
		}
		logger.Error("preflight check failed",
			logging.String("check", health.Name),
			logging.String("detail", health.Detail),
			logging.String(logging.FieldEventType, "preflight_failed"),
		)
		failures = append(failures, fmt.Sprintf("%s: %s", health.Name, health.Detail))
	}
	if len(failures) > 0 {
		return fmt.Errorf("preflight checks failed: %s", strings.Join(failures, "; "))
	}
	return nil
}

package workflow

import (
	"context"

	"quantpipe/internal/stage"
	"quantpipe/internal/state"
)

// StageProgress combines a stage execution with its live symbol counts.
type StageProgress struct {
	Execution *state.StageExecution
	Counts    state.SymbolCounts
}

// StatusSummary is a point-in-time view of one workflow for diagnostics.
type StatusSummary struct {
	Workflow      *state.Workflow
	Stages        []StageProgress
	UnresolvedDLQ int
	Active        bool
}

// Status assembles the progress view of one workflow.
func (c *Coordinator) Status(ctx context.Context, id string) (*StatusSummary, error) {
	wf, err := c.store.GetWorkflow(ctx, id)
	if err != nil {
		return nil, err
	}

	execs, err := c.store.ListStageExecutions(ctx, id)
	if err != nil {
		return nil, err
	}
	stages := make([]StageProgress, 0, len(execs))
	for _, exec := range execs {
		counts, err := c.store.CountSymbolStates(ctx, id, exec.Stage)
		if err != nil {
			return nil, err
		}
		stages = append(stages, StageProgress{Execution: exec, Counts: counts})
	}

	unresolved := false
	entries, err := c.store.ListDLQEntries(ctx, state.DLQFilter{WorkflowID: id, Resolved: &unresolved})
	if err != nil {
		return nil, err
	}

	return &StatusSummary{
		Workflow:      wf,
		Stages:        stages,
		UnresolvedDLQ: len(entries),
		Active:        c.handleFor(id) != nil,
	}, nil
}

// Health reports the readiness of every registered processor.
func (c *Coordinator) Health(ctx context.Context) []stage.Health {
	var checks []stage.Health
	for _, stg := range state.Stages() {
		proc, ok := c.processors.For(stg)
		if !ok {
			continue
		}
		checks = append(checks, proc.HealthCheck(ctx))
	}
	return checks
}

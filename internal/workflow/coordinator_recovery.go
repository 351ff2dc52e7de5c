package workflow

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"quantpipe/internal/logging"
	"quantpipe/internal/state"
)

// RecoverInterrupted re-enters workflows a previous process left in running
// status, continuing each from its recorded stage. Units stranded mid-flight
// are returned to pending and reattempted; units already terminal keep their
// outcome. Returns the workflows that were picked up.
func (c *Coordinator) RecoverInterrupted(ctx context.Context) ([]*state.Workflow, error) {
	interrupted, err := c.store.ListWorkflows(ctx, state.WorkflowRunning)
	if err != nil {
		return nil, err
	}

	var recovered []*state.Workflow
	for _, wf := range interrupted {
		plan := c.resumePlan(wf)
		if err := c.processors.Validate(plan); err != nil {
			c.logger.Error("cannot recover workflow",
				logging.String(logging.FieldWorkflowID, wf.ID),
				logging.Error(err),
			)
			continue
		}
		if wf.CurrentStage != "" {
			reset, err := c.store.ResetRunningSymbols(ctx, wf.ID, wf.CurrentStage)
			if err != nil {
				return recovered, err
			}
			if reset > 0 {
				c.logger.Info("returned stranded units to pending",
					logging.String(logging.FieldWorkflowID, wf.ID),
					logging.String(logging.FieldStage, string(wf.CurrentStage)),
					logging.Int64("units", reset),
					logging.String(logging.FieldEventType, "workflow_recovered"),
				)
			}
		}

		handle, err := c.register(wf.ID)
		if err != nil {
			return recovered, err
		}
		c.logger.Info("re-entering interrupted workflow",
			logging.String(logging.FieldWorkflowID, wf.ID),
			logging.String(logging.FieldStage, string(wf.CurrentStage)),
			logging.String(logging.FieldEventType, "workflow_recovered"),
		)
		go c.drive(wf, plan, handle)
		recovered = append(recovered, wf)
	}
	return recovered, nil
}

// StartRecovery creates a recovery run scoped to the unresolved dead-letter
// entries of a source workflow: the distinct escalated symbols, rerun from
// the earliest escalated stage through the end of the pipeline. The source
// workflow and its entries are left untouched; reviewers resolve entries
// independently of reruns.
func (c *Coordinator) StartRecovery(ctx context.Context, sourceWorkflowID string) (*state.Workflow, error) {
	source, err := c.store.GetWorkflow(ctx, sourceWorkflowID)
	if err != nil {
		return nil, err
	}

	unresolved := false
	entries, err := c.store.ListDLQEntries(ctx, state.DLQFilter{
		WorkflowID: source.ID,
		Resolved:   &unresolved,
	})
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("workflow %s has no unresolved dead-letter entries", source.ID)
	}

	seen := make(map[string]struct{}, len(entries))
	symbols := make([]string, 0, len(entries))
	earliest := -1
	for _, entry := range entries {
		if _, dup := seen[entry.Symbol]; !dup {
			seen[entry.Symbol] = struct{}{}
			symbols = append(symbols, entry.Symbol)
		}
		if idx := state.StageIndex(entry.Stage); earliest == -1 || idx < earliest {
			earliest = idx
		}
	}
	plan := state.StagesFrom(state.Stages()[earliest])
	if err := c.processors.Validate(plan); err != nil {
		return nil, err
	}

	wf := &state.Workflow{
		ID:               uuid.NewString(),
		RunKind:          state.RunRecovery,
		SourceWorkflowID: source.ID,
		Metadata: state.WorkflowMetadata{
			Symbols: symbols,
			Stages:  plan,
		},
	}
	if err := c.store.CreateWorkflow(ctx, wf); err != nil {
		return nil, err
	}

	c.logger.Info("recovery run created",
		logging.String(logging.FieldWorkflowID, wf.ID),
		logging.String("source_workflow_id", source.ID),
		logging.Int("symbols", len(symbols)),
		logging.String(logging.FieldStage, string(plan[0])),
		logging.String(logging.FieldEventType, "recovery_start"),
	)
	return c.launch(ctx, wf, plan)
}

package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"quantpipe/internal/state"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var statusFilter string

	cmd := &cobra.Command{
		Use:   "status [workflow-id]",
		Short: "Show workflow progress",
		Long:  "Without arguments, lists recent workflows. With a workflow id, shows per-stage progress and dead-letter pressure.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := ctx.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			if len(args) == 1 {
				return runWorkflowDetail(cmd, ctx, store, args[0])
			}
			return runWorkflowList(cmd, ctx, store, statusFilter)
		},
	}

	cmd.Flags().StringVar(&statusFilter, "status", "", "Filter by workflow status (pending, running, paused, completed, failed, cancelled)")
	return cmd
}

func runWorkflowList(cmd *cobra.Command, ctx *commandContext, store *state.Store, statusFilter string) error {
	var statuses []state.WorkflowStatus
	if statusFilter != "" {
		statuses = append(statuses, state.WorkflowStatus(statusFilter))
	}
	workflows, err := store.ListWorkflows(cmd.Context(), statuses...)
	if err != nil {
		return err
	}

	if ctx.jsonOutput() {
		return writeJSON(cmd, workflows)
	}

	if len(workflows) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No workflows found")
		return nil
	}

	rows := make([][]string, 0, len(workflows))
	for _, wf := range workflows {
		rows = append(rows, []string{
			wf.ID,
			string(wf.RunKind),
			string(wf.Status),
			string(wf.CurrentStage),
			strconv.Itoa(len(wf.Metadata.Symbols)),
			formatTime(&wf.CreatedAt),
		})
	}
	fmt.Fprintln(cmd.OutOrStdout(), renderTable(
		[]string{"ID", "Kind", "Status", "Stage", "Symbols", "Created"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignRight, alignLeft},
	))
	return nil
}

type workflowDetail struct {
	Workflow      *state.Workflow         `json:"workflow"`
	Stages        []*state.StageExecution `json:"stages"`
	UnresolvedDLQ int                     `json:"unresolved_dlq"`
}

func runWorkflowDetail(cmd *cobra.Command, ctx *commandContext, store *state.Store, id string) error {
	wf, err := store.GetWorkflow(cmd.Context(), id)
	if err != nil {
		return err
	}
	execs, err := store.ListStageExecutions(cmd.Context(), id)
	if err != nil {
		return err
	}
	unresolved := false
	entries, err := store.ListDLQEntries(cmd.Context(), state.DLQFilter{WorkflowID: id, Resolved: &unresolved})
	if err != nil {
		return err
	}

	if ctx.jsonOutput() {
		return writeJSON(cmd, workflowDetail{Workflow: wf, Stages: execs, UnresolvedDLQ: len(entries)})
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Workflow:  %s\n", wf.ID)
	fmt.Fprintf(out, "Kind:      %s\n", wf.RunKind)
	fmt.Fprintf(out, "Status:    %s\n", wf.Status)
	if wf.SourceWorkflowID != "" {
		fmt.Fprintf(out, "Source:    %s\n", wf.SourceWorkflowID)
	}
	if wf.ErrorMessage != "" {
		fmt.Fprintf(out, "Error:     %s\n", wf.ErrorMessage)
	}
	fmt.Fprintf(out, "Started:   %s\n", formatTime(wf.StartedAt))
	fmt.Fprintf(out, "Completed: %s\n", formatTime(wf.CompletedAt))
	fmt.Fprintf(out, "Unresolved DLQ entries: %d\n\n", len(entries))

	if len(execs) == 0 {
		fmt.Fprintln(out, "No stages have run yet")
		return nil
	}

	rows := make([][]string, 0, len(execs))
	for _, exec := range execs {
		rows = append(rows, []string{
			string(exec.Stage),
			string(exec.Status),
			strconv.Itoa(exec.SymbolsSucceeded),
			strconv.Itoa(exec.SymbolsFailed),
			strconv.Itoa(exec.SymbolsSkipped),
			strconv.Itoa(exec.SymbolsTotal),
			strconv.Itoa(exec.RetryCount),
		})
	}
	fmt.Fprintln(out, renderTable(
		[]string{"Stage", "Status", "OK", "Failed", "Skipped", "Total", "Retries"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignRight, alignRight, alignRight, alignRight, alignRight},
	))
	return nil
}

func formatTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}

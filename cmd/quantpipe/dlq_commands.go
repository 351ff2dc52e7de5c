package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"quantpipe/internal/dlq"
	"quantpipe/internal/logging"
	"quantpipe/internal/state"
)

func newDLQCommand(ctx *commandContext) *cobra.Command {
	dlqCmd := &cobra.Command{
		Use:   "dlq",
		Short: "Inspect and resolve dead-letter entries",
	}
	dlqCmd.AddCommand(newDLQListCommand(ctx))
	dlqCmd.AddCommand(newDLQResolveCommand(ctx))
	return dlqCmd
}

func newDLQListCommand(ctx *commandContext) *cobra.Command {
	var workflowID string
	var includeResolved bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List dead-letter entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := ctx.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			filter := state.DLQFilter{WorkflowID: workflowID}
			if !includeResolved {
				unresolved := false
				filter.Resolved = &unresolved
			}
			entries, err := store.ListDLQEntries(cmd.Context(), filter)
			if err != nil {
				return err
			}

			if ctx.jsonOutput() {
				return writeJSON(cmd, entries)
			}
			if len(entries) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "Dead-letter queue is empty")
				return nil
			}

			rows := make([][]string, 0, len(entries))
			for _, entry := range entries {
				resolved := "no"
				if entry.Resolved {
					resolved = "by " + entry.ResolvedBy
				}
				rows = append(rows, []string{
					strconv.FormatInt(entry.ID, 10),
					entry.WorkflowID,
					entry.Symbol,
					string(entry.Stage),
					string(entry.ErrorCategory),
					strconv.Itoa(entry.RetryCount),
					resolved,
					entry.ErrorMessage,
				})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"ID", "Workflow", "Symbol", "Stage", "Category", "Retries", "Resolved", "Error"},
				rows,
				[]columnAlignment{alignRight, alignLeft, alignLeft, alignLeft, alignLeft, alignRight, alignLeft, alignLeft},
			))
			return nil
		},
	}

	cmd.Flags().StringVarP(&workflowID, "workflow", "w", "", "Limit to one workflow")
	cmd.Flags().BoolVar(&includeResolved, "all", false, "Include resolved entries")
	return cmd
}

func newDLQResolveCommand(ctx *commandContext) *cobra.Command {
	var resolvedBy string

	cmd := &cobra.Command{
		Use:   "resolve <entry-id>",
		Short: "Mark a dead-letter entry as reviewed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid entry id %q", args[0])
			}

			store, err := ctx.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			manager := dlq.NewManager(store, logging.NewNop())
			entry, err := manager.Resolve(cmd.Context(), id, resolvedBy)
			if err != nil {
				return err
			}

			if ctx.jsonOutput() {
				return writeJSON(cmd, entry)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Resolved entry %d (%s at %s) as %s\n",
				entry.ID, entry.Symbol, entry.Stage, resolvedBy)
			return nil
		},
	}

	cmd.Flags().StringVar(&resolvedBy, "by", "", "Name of the reviewer resolving the entry")
	_ = cmd.MarkFlagRequired("by")
	return cmd
}

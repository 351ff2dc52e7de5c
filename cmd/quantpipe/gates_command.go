package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"quantpipe/internal/state"
)

func newGatesCommand(ctx *commandContext) *cobra.Command {
	var stageFilter string

	cmd := &cobra.Command{
		Use:   "gates <workflow-id>",
		Short: "Show the readiness-gate audit trail for a workflow",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var stg state.Stage
			if stageFilter != "" {
				parsed, ok := state.ParseStage(stageFilter)
				if !ok {
					return fmt.Errorf("unknown stage %q", stageFilter)
				}
				stg = parsed
			}

			store, err := ctx.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			results, err := store.ListGateResults(cmd.Context(), args[0], stg)
			if err != nil {
				return err
			}

			if ctx.jsonOutput() {
				return writeJSON(cmd, results)
			}
			if len(results) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No gate results recorded")
				return nil
			}

			rows := make([][]string, 0, len(results))
			for _, result := range results {
				passed := "pass"
				if !result.Passed {
					passed = "FAIL"
				}
				rows = append(rows, []string{
					string(result.Stage),
					result.Symbol,
					result.GateName,
					passed,
					string(result.Action),
					result.Reason,
				})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"Stage", "Symbol", "Gate", "Result", "Action", "Reason"},
				rows,
				[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignLeft, alignLeft},
			))
			return nil
		},
	}

	cmd.Flags().StringVarP(&stageFilter, "stage", "s", "", "Limit to one stage")
	return cmd
}

package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func newCompactCmd() *cobra.Command {
	var before string
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "compact",
		Short: "Atomically compact completed task subtrees into durable learnings",
		RunE: func(cmd *cobra.Command, args []string) error {
			cutoff := realClock.Now()
			if before != "" {
				parsed, err := time.Parse(time.RFC3339, before)
				if err != nil {
					return fmt.Errorf("parse --before: %w", err)
				}
				cutoff = parsed
			}

			result, err := compactor().Compact(cmd.Context(), cutoff, dryRun)
			if err != nil {
				return err
			}

			if jsonOutput {
				printJSON(result)
				return nil
			}
			if result.DryRun {
				fmt.Printf("Would compact %d task(s):\n", len(result.TaskIDs))
			} else {
				fmt.Printf("Compacted %d task(s):\n", len(result.TaskIDs))
			}
			for _, id := range result.TaskIDs {
				fmt.Printf("  %s\n", id)
			}
			if result.Summary != "" {
				fmt.Printf("\n%s\n", result.Summary)
			}
			if result.MarkdownPath != "" {
				fmt.Printf("\nExported to %s\n", result.MarkdownPath)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&before, "before", "", "RFC3339 cutoff timestamp (default: now)")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "preview without writing")
	return cmd
}

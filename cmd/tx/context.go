package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newContextCmd() *cobra.Command {
	var limit int
	var minScore float64

	cmd := &cobra.Command{
		Use:   "context <id>",
		Short: "Surface learnings relevant to a task's title and description",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := taskKernel().Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			hits, err := retrievalEngine().ContextForTask(cmd.Context(), t, limit, minScore)
			if err != nil {
				return err
			}

			if jsonOutput {
				printJSON(hits)
				return nil
			}
			for _, h := range hits {
				fmt.Printf("[%.3f] #%d  %s\n", h.Relevance, h.Learning.ID, h.Learning.Content)
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 10, "max learnings to return")
	cmd.Flags().Float64Var(&minScore, "min-score", 0, "relevance floor")
	return cmd
}

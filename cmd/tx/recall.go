package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newRecallCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "recall <query>",
		Short: "Search learnings via hybrid keyword/vector retrieval",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			hits, err := retrievalEngine().Search(cmd.Context(), args[0], limit)
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

	cmd.Flags().IntVar(&limit, "limit", 10, "max results")
	return cmd
}

package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newReadyCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "ready",
		Short: "List tasks ready to be claimed, sorted by score",
		RunE: func(cmd *cobra.Command, args []string) error {
			scored, err := taskKernel().Ready(cmd.Context(), limit)
			if err != nil {
				return err
			}

			if jsonOutput {
				printJSON(scored)
				return nil
			}
			for _, st := range scored {
				fmt.Printf("%s  score=%d  %s\n", st.Task.ID, st.Score.Total, st.Task.Title)
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "max results")
	return cmd
}

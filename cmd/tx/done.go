package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newDoneCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "done <id>",
		Short: "Mark a task done, releasing its claim and computing the now-ready set",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			completed, nowReady, err := taskKernel().Complete(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			if jsonOutput {
				printJSON(map[string]any{"task": completed, "now_ready": nowReady})
				return nil
			}
			fmt.Printf("Completed %s\n", completed.ID)
			for _, t := range nowReady {
				fmt.Printf("  now ready: %s  %s\n", t.ID, t.Title)
			}
			return nil
		},
	}
}

package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newDeleteCmd() *cobra.Command {
	var cascade bool

	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := taskKernel().Delete(cmd.Context(), args[0], cascade); err != nil {
				return err
			}
			if jsonOutput {
				printJSON(map[string]any{"deleted": args[0]})
			} else {
				fmt.Printf("Deleted %s\n", args[0])
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&cascade, "cascade", false, "delete even if children exist")
	return cmd
}

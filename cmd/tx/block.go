package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newBlockCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "block <id> <blocker>",
		Short: "Add a dependency: <id> waits on <blocker>",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			blocked, blocker := args[0], args[1]
			if err := taskKernel().AddDependency(cmd.Context(), blocker, blocked); err != nil {
				return err
			}
			if jsonOutput {
				printJSON(map[string]any{"blocked": blocked, "blocker": blocker})
			} else {
				fmt.Printf("%s now blocked by %s\n", blocked, blocker)
			}
			return nil
		},
	}
}

func newUnblockCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "unblock <id> <blocker>",
		Short: "Remove a dependency",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			blocked, blocker := args[0], args[1]
			if err := taskKernel().RemoveDependency(cmd.Context(), blocker, blocked); err != nil {
				return err
			}
			if jsonOutput {
				printJSON(map[string]any{"blocked": blocked, "blocker": blocker})
			} else {
				fmt.Printf("%s no longer blocked by %s\n", blocked, blocker)
			}
			return nil
		},
	}
}

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jamesaphoenix/tx/internal/types"
)

func newAddCmd() *cobra.Command {
	var description, parentID string
	var baseScore int

	cmd := &cobra.Command{
		Use:   "add <title>",
		Short: "Create a new task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			t := &types.Task{
				Title:       args[0],
				Description: description,
				Status:      types.StatusBacklog,
				BaseScore:   baseScore,
				ParentID:    parentID,
			}
			if err := taskKernel().Create(cmd.Context(), t, "cli"); err != nil {
				return err
			}
			if jsonOutput {
				printJSON(t)
			} else {
				fmt.Printf("Created %s: %s\n", t.ID, t.Title)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&description, "description", "", "task description")
	cmd.Flags().StringVar(&parentID, "parent", "", "parent task id")
	cmd.Flags().IntVar(&baseScore, "score", 0, "base priority score")
	return cmd
}

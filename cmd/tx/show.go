package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show a task's full detail",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := taskKernel().Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			if jsonOutput {
				printJSON(t)
				return nil
			}
			fmt.Printf("%s  %s\n", t.ID, t.Title)
			fmt.Printf("status:    %s\n", t.Status)
			fmt.Printf("score:     %d\n", t.BaseScore)
			if t.ParentID != "" {
				fmt.Printf("parent:    %s\n", t.ParentID)
			}
			if t.Assignee != nil {
				fmt.Printf("assignee:  %s (%s)\n", t.Assignee.ID, t.Assignee.Kind)
			}
			if t.Description != "" {
				fmt.Printf("\n%s\n", t.Description)
			}

			blockers, err := db.Blockers(cmd.Context(), t.ID)
			if err != nil {
				return err
			}
			if len(blockers) > 0 {
				fmt.Println("\nblocked by:")
				for _, b := range blockers {
					fmt.Printf("  %s  [%s]  %s\n", b.ID, b.Status, b.Title)
				}
			}
			blocked, err := db.Blocked(cmd.Context(), t.ID)
			if err != nil {
				return err
			}
			if len(blocked) > 0 {
				fmt.Println("\nblocks:")
				for _, b := range blocked {
					fmt.Printf("  %s  [%s]  %s\n", b.ID, b.Status, b.Title)
				}
			}
			return nil
		},
	}
}

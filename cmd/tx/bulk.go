package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/jamesaphoenix/tx/internal/types"
)

func newBulkCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bulk",
		Short: "Apply an operation to many tasks at once",
	}
	cmd.AddCommand(
		newBulkDoneCmd(),
		newBulkScoreCmd(),
		newBulkResetCmd(),
		newBulkDeleteCmd(),
	)
	return cmd
}

func newBulkDoneCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "done <id>...",
		Short: "Mark every listed task done",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			k := taskKernel()
			completed := make([]string, 0, len(args))
			for _, id := range args {
				if _, _, err := k.Complete(cmd.Context(), id); err != nil {
					return fmt.Errorf("task %s: %w", id, err)
				}
				completed = append(completed, id)
			}
			if jsonOutput {
				printJSON(map[string]any{"completed": completed})
			} else {
				fmt.Printf("Completed %d task(s)\n", len(completed))
			}
			return nil
		},
	}
}

func newBulkScoreCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "score <score> <id>...",
		Short: "Set the base score on every listed task",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			score, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("parse score: %w", err)
			}
			k := taskKernel()
			updated := make([]string, 0, len(args)-1)
			for _, id := range args[1:] {
				t, err := k.Get(cmd.Context(), id)
				if err != nil {
					return fmt.Errorf("task %s: %w", id, err)
				}
				t.BaseScore = score
				if err := db.UpdateTask(cmd.Context(), t); err != nil {
					return fmt.Errorf("task %s: %w", id, err)
				}
				updated = append(updated, id)
			}
			if jsonOutput {
				printJSON(map[string]any{"updated": updated, "score": score})
			} else {
				fmt.Printf("Set score=%d on %d task(s)\n", score, len(updated))
			}
			return nil
		},
	}
}

func newBulkResetCmd() *cobra.Command {
	var forced bool

	cmd := &cobra.Command{
		Use:   "reset <status> <id>...",
		Short: "Transition every listed task to the given status",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			status := types.Status(args[0])
			if !status.IsValid() {
				return fmt.Errorf("invalid status %q", args[0])
			}
			k := taskKernel()
			updated := make([]string, 0, len(args)-1)
			for _, id := range args[1:] {
				if _, err := k.Transition(cmd.Context(), id, status, forced); err != nil {
					return fmt.Errorf("task %s: %w", id, err)
				}
				updated = append(updated, id)
			}
			if jsonOutput {
				printJSON(map[string]any{"updated": updated, "status": status})
			} else {
				fmt.Printf("Reset %d task(s) to %s\n", len(updated), status)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&forced, "force", false, "bypass the status transition table")
	return cmd
}

func newBulkDeleteCmd() *cobra.Command {
	var cascade bool

	cmd := &cobra.Command{
		Use:   "delete <id>...",
		Short: "Delete every listed task",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			k := taskKernel()
			deleted := make([]string, 0, len(args))
			for _, id := range args {
				if err := k.Delete(cmd.Context(), id, cascade); err != nil {
					return fmt.Errorf("task %s: %w", id, err)
				}
				deleted = append(deleted, id)
			}
			if jsonOutput {
				printJSON(map[string]any{"deleted": deleted})
			} else {
				fmt.Printf("Deleted %d task(s)\n", len(deleted))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&cascade, "cascade", false, "delete even if children exist")
	return cmd
}

package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jamesaphoenix/tx/internal/storage"
	"github.com/jamesaphoenix/tx/internal/types"
)

func newUpdateCmd() *cobra.Command {
	var title, description, statusFlag, parentID, assigneeKind, assigneeID string
	var metaFlags []string
	var score int
	var scoreSet, forced bool

	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Update a task's fields",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := taskKernel().Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			if cmd.Flags().Changed("title") {
				t.Title = title
			}
			if cmd.Flags().Changed("description") {
				t.Description = description
			}
			if cmd.Flags().Changed("parent") {
				t.ParentID = parentID
			}
			if scoreSet {
				t.BaseScore = score
			}
			if cmd.Flags().Changed("assignee") {
				if assigneeID == "" {
					t.Assignee = nil
				} else {
					t.Assignee = &types.Assignee{
						Kind:       types.AssigneeKind(assigneeKind),
						ID:         assigneeID,
						AssignedAt: realClock.Now(),
						AssignedBy: "cli",
					}
				}
			}

			for _, kv := range metaFlags {
				key, value, ok := strings.Cut(kv, "=")
				if !ok {
					return fmt.Errorf("invalid --meta %q: want key=value", kv)
				}
				if err := storage.ValidateMetadataKey(key); err != nil {
					return err
				}
				// Bare text such as plain text isn't valid JSON on its own, so
				// re-encode it as a JSON string; a value that already parses
				// as JSON (true, 42, an object or array literal) is kept as is.
				raw := value
				if !json.Valid([]byte(raw)) {
					encoded, err := json.Marshal(value)
					if err != nil {
						return fmt.Errorf("--meta %s: %w", key, err)
					}
					raw = string(encoded)
				}
				normalized, err := storage.NormalizeMetadataValue(raw)
				if err != nil {
					return fmt.Errorf("--meta %s: %w", key, err)
				}
				var decoded any
				if err := json.Unmarshal([]byte(normalized), &decoded); err != nil {
					return fmt.Errorf("--meta %s: %w", key, err)
				}
				if t.Metadata == nil {
					t.Metadata = make(map[string]any)
				}
				t.Metadata[key] = decoded
			}

			fieldsChanged := cmd.Flags().Changed("title") || cmd.Flags().Changed("description") ||
				cmd.Flags().Changed("parent") || scoreSet || cmd.Flags().Changed("assignee") || len(metaFlags) > 0
			if fieldsChanged {
				if err := db.UpdateTask(cmd.Context(), t); err != nil {
					return err
				}
			}

			if statusFlag != "" {
				newStatus := types.Status(statusFlag)
				if !newStatus.IsValid() {
					return fmt.Errorf("invalid status %q", statusFlag)
				}
				// Transition re-reads the task itself, so any field edits
				// above must already be committed for them to survive.
				updated, err := taskKernel().Transition(cmd.Context(), t.ID, newStatus, forced)
				if err != nil {
					return err
				}
				t = updated
			}

			if jsonOutput {
				printJSON(t)
			} else {
				fmt.Printf("Updated %s\n", t.ID)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&title, "title", "", "new title")
	cmd.Flags().StringVar(&description, "description", "", "new description")
	cmd.Flags().StringVar(&statusFlag, "status", "", "new status (validated against the transition table)")
	cmd.Flags().StringVar(&parentID, "parent", "", "new parent task id")
	cmd.Flags().StringVar(&assigneeKind, "assignee-kind", string(types.AssigneeHuman), "assignee kind: human or agent")
	cmd.Flags().StringVar(&assigneeID, "assignee", "", "assignee id (empty clears the assignee)")
	cmd.Flags().IntVar(&score, "score", 0, "new base score")
	cmd.Flags().BoolVar(&forced, "force", false, "bypass the status transition table (operator override)")
	cmd.Flags().StringArrayVar(&metaFlags, "meta", nil, "set a metadata field, key=value (repeatable)")
	cmd.PreRun = func(cmd *cobra.Command, args []string) {
		scoreSet = cmd.Flags().Changed("score")
	}
	return cmd
}

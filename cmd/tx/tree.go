package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jamesaphoenix/tx/internal/deps"
	"github.com/jamesaphoenix/tx/internal/kernel"
	"github.com/jamesaphoenix/tx/internal/storage"
	"github.com/jamesaphoenix/tx/internal/types"
)

func newTreeCmd() *cobra.Command {
	var format, statusFilter string
	var maxDepth int

	cmd := &cobra.Command{
		Use:   "tree [id]",
		Short: "Show a task's dependency and parent/child tree",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			all, err := db.ListTasks(cmd.Context(), storage.TaskFilter{})
			if err != nil {
				return err
			}

			byID := make(map[string]*types.Task, len(all))
			for _, t := range all {
				byID[t.ID] = t
			}

			var rootID string
			if len(args) == 1 {
				if _, ok := byID[args[0]]; !ok {
					return fmt.Errorf("task %s: %w", args[0], kernel.ErrTaskNotFound)
				}
				rootID = args[0]
			} else {
				for _, t := range all {
					if t.ParentID == "" {
						rootID = t.ID
						break
					}
				}
				if rootID == "" {
					fmt.Println("no tasks")
					return nil
				}
			}

			downTree := buildParentChildTree(byID, rootID, maxDepth)
			upTree := buildBlockersTree(cmd.Context(), byID, rootID, maxDepth)
			tree := deps.MergeBidirectionalTrees(downTree, upTree, rootID)

			if statusFilter != "" {
				status := types.Status(statusFilter)
				if !status.IsValid() {
					return fmt.Errorf("invalid status %q", statusFilter)
				}
				tree = deps.FilterTreeByStatus(tree, status)
			}

			if jsonOutput {
				printJSON(tree)
				return nil
			}

			switch format {
			case "mermaid":
				deps.OutputMermaidTree(tree, rootID)
			default:
				renderer := deps.NewTreeRenderer(maxDepth)
				renderer.StyleFunc = func(_ types.Status, id string) string { return id }
				renderer.PassStyleBold = func(s string) string { return s }
				renderer.MutedFunc = func(s string) string { return s }
				renderer.WarnFunc = func(s string) string { return s }
				renderer.RenderTree(tree)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&format, "format", "text", "output format: text or mermaid")
	cmd.Flags().StringVar(&statusFilter, "status", "", "keep only nodes with this status (plus ancestors)")
	cmd.Flags().IntVar(&maxDepth, "max-depth", 10, "maximum tree depth")
	return cmd
}

// buildParentChildTree walks the parent/child hierarchy rooted at rootID.
func buildParentChildTree(byID map[string]*types.Task, rootID string, maxDepth int) []*deps.TreeNode {
	byParent := make(map[string][]*types.Task)
	for _, t := range byID {
		byParent[t.ParentID] = append(byParent[t.ParentID], t)
	}

	var tree []*deps.TreeNode
	var walk func(id, parentID string, depth int)
	walk = func(id, parentID string, depth int) {
		t, ok := byID[id]
		if !ok {
			return
		}
		node := &deps.TreeNode{
			ID:       t.ID,
			Title:    t.Title,
			Status:   t.Status,
			ParentID: parentID,
			Depth:    depth,
			Score:    t.BaseScore,
		}
		if depth >= maxDepth {
			node.Truncated = len(byParent[t.ID]) > 0
			tree = append(tree, node)
			return
		}
		tree = append(tree, node)
		for _, child := range byParent[t.ID] {
			walk(child.ID, t.ID, depth+1)
		}
	}
	walk(rootID, "", 0)
	return tree
}

// buildBlockersTree walks the dependency graph upward from rootID,
// following each task's blocking dependencies to the tasks that block it.
func buildBlockersTree(ctx context.Context, byID map[string]*types.Task, rootID string, maxDepth int) []*deps.TreeNode {
	root, ok := byID[rootID]
	if !ok {
		return nil
	}

	var tree []*deps.TreeNode
	visited := make(map[string]bool)
	var walk func(id, childID string, depth int)
	walk = func(id, childID string, depth int) {
		if visited[id] || depth > maxDepth {
			return
		}
		visited[id] = true
		t, ok := byID[id]
		if !ok {
			return
		}
		node := &deps.TreeNode{
			ID:       t.ID,
			Title:    t.Title,
			Status:   t.Status,
			ParentID: childID,
			Depth:    depth,
			Score:    t.BaseScore,
		}
		tree = append(tree, node)

		blockers, err := db.Blockers(ctx, t.ID)
		if err != nil {
			return
		}
		for _, b := range blockers {
			walk(b.ID, t.ID, depth+1)
		}
	}
	walk(root.ID, "", 0)
	return tree
}

// Package deps renders dependency and parent/child trees for cmd/tx's
// tree command: filtering by status, merging a blockers-of view with a
// blocked-by view, and drawing both a box-connector and a Mermaid.js form.
package deps

import (
	"fmt"
	"strings"

	"github.com/jamesaphoenix/tx/internal/types"
)

// TreeNode is a flattened, depth-annotated view of one task within a
// dependency or parent/child tree.
type TreeNode struct {
	ID        string
	Title     string
	Status    types.Status
	ParentID  string
	Depth     int
	Score     int
	Truncated bool
}

// FilterTreeByStatus keeps only nodes matching status, plus every
// ancestor needed to keep the matches attached to the root.
func FilterTreeByStatus(tree []*TreeNode, status types.Status) []*TreeNode {
	if len(tree) == 0 {
		return tree
	}

	matches := make(map[string]bool)
	for _, node := range tree {
		if node.Status == status {
			matches[node.ID] = true
		}
	}
	if len(matches) == 0 {
		return []*TreeNode{}
	}

	parentOf := make(map[string]string)
	for _, node := range tree {
		if node.ParentID != "" && node.ParentID != node.ID {
			parentOf[node.ID] = node.ParentID
		}
	}

	keep := make(map[string]bool)
	for id := range matches {
		keep[id] = true
		current := id
		for {
			parent, ok := parentOf[current]
			if !ok || parent == current {
				break
			}
			keep[parent] = true
			current = parent
		}
	}

	filtered := make([]*TreeNode, 0, len(keep))
	for _, node := range tree {
		if keep[node.ID] {
			filtered = append(filtered, node)
		}
	}
	return filtered
}

// MergeBidirectionalTrees merges a blockers-of tree and a blocked-by
// tree into a single view centered on rootID: upTree nodes (excluding
// the root, which appears once) come first, followed by downTree.
func MergeBidirectionalTrees(downTree, upTree []*TreeNode, rootID string) []*TreeNode {
	var result []*TreeNode

	hasUpNodes := false
	for _, node := range upTree {
		if node.ID != rootID {
			hasUpNodes = true
			break
		}
	}

	if hasUpNodes {
		for _, node := range upTree {
			if node.ID == rootID {
				continue
			}
			upNode := *node
			result = append(result, &upNode)
		}
	}

	result = append(result, downTree...)
	return result
}

// GetStatusEmoji returns a short glyph for status, used by the CLI's
// plain-text tree rendering.
func GetStatusEmoji(status types.Status) string {
	switch status {
	case types.StatusDone:
		return "☑" // ballot box with check
	case types.StatusActive:
		return "◧" // square left half black
	case types.StatusBlocked:
		return "⚠" // warning sign
	case types.StatusReview, types.StatusHumanNeedsToReview:
		return "✎" // pencil
	default:
		return "☐" // ballot box
	}
}

// OutputMermaidTree writes tree as a Mermaid.js flowchart to stdout, for
// `tx tree --format mermaid`.
func OutputMermaidTree(tree []*TreeNode, rootID string) {
	if len(tree) == 0 {
		fmt.Println("flowchart TD")
		fmt.Printf("  %s[\"no dependencies\"]\n", rootID)
		return
	}

	fmt.Println("flowchart TD")

	seen := make(map[string]bool)
	for _, node := range tree {
		if seen[node.ID] {
			continue
		}
		seen[node.ID] = true
		label := fmt.Sprintf("%s %s: %s", GetStatusEmoji(node.Status), node.ID, node.Title)
		label = strings.ReplaceAll(label, "\\", "\\\\")
		label = strings.ReplaceAll(label, "\"", "\\\"")
		fmt.Printf("  %s[\"%s\"]\n", node.ID, label)
	}

	fmt.Println()
	for _, node := range tree {
		if node.ParentID != "" && node.ParentID != node.ID {
			fmt.Printf("  %s --> %s\n", node.ParentID, node.ID)
		}
	}
}

// FormatTreeNode renders one line of the plain-text tree, with status,
// title, and a depth-0 ready badge. styleFunc/passStyleBold are color
// callbacks supplied by the CLI layer, which owns terminal capability
// detection.
func FormatTreeNode(node *TreeNode, styleFunc func(types.Status, string) string, passStyleBold func(string) string) string {
	idStr := styleFunc(node.Status, node.ID)
	line := fmt.Sprintf("%s: %s (%s)", idStr, node.Title, node.Status)
	if node.Status == types.StatusReady && node.Depth == 0 {
		line += " " + passStyleBold("[READY]")
	}
	return line
}

// TreeRenderer draws a tree with box-drawing connectors, tracking which
// node IDs have already been printed to collapse repeated subtrees a
// diamond-shaped dependency graph would otherwise duplicate.
type TreeRenderer struct {
	seen             map[string]bool
	activeConnectors []bool
	maxDepth         int

	StyleFunc     func(types.Status, string) string
	PassStyleBold func(string) string
	MutedFunc     func(string) string
	WarnFunc      func(string) string
}

// NewTreeRenderer creates a renderer bounded to maxDepth levels of
// indentation.
func NewTreeRenderer(maxDepth int) *TreeRenderer {
	return &TreeRenderer{
		seen:             make(map[string]bool),
		activeConnectors: make([]bool, maxDepth+1),
		maxDepth:         maxDepth,
	}
}

// RenderTree prints tree starting from its depth-0 root.
func (r *TreeRenderer) RenderTree(tree []*TreeNode) {
	if len(tree) == 0 {
		return
	}

	children := make(map[string][]*TreeNode)
	var root *TreeNode
	for _, node := range tree {
		if node.Depth == 0 {
			root = node
		} else {
			children[node.ParentID] = append(children[node.ParentID], node)
		}
	}
	if root == nil {
		root = tree[0]
	}

	r.renderNode(root, children, 0, true)
}

func (r *TreeRenderer) renderNode(node *TreeNode, children map[string][]*TreeNode, depth int, isLast bool) {
	if node == nil {
		return
	}

	var prefix strings.Builder
	for i := 0; i < depth; i++ {
		if r.activeConnectors[i] {
			prefix.WriteString("│   ")
		} else {
			prefix.WriteString("    ")
		}
	}
	if depth > 0 {
		if isLast {
			prefix.WriteString("└── ")
		} else {
			prefix.WriteString("├── ")
		}
	}

	if r.seen[node.ID] {
		fmt.Printf("%s%s\n", prefix.String(), r.MutedFunc(node.ID+" (shown above)"))
		return
	}
	r.seen[node.ID] = true

	line := FormatTreeNode(node, r.StyleFunc, r.PassStyleBold)
	if node.Truncated || (depth == r.maxDepth && len(children[node.ID]) > 0) {
		line += r.WarnFunc(" …")
	}
	fmt.Printf("%s%s\n", prefix.String(), line)

	nodeChildren := children[node.ID]
	for i, child := range nodeChildren {
		if depth > 0 {
			r.activeConnectors[depth] = i < len(nodeChildren)-1
		}
		r.renderNode(child, children, depth+1, i == len(nodeChildren)-1)
	}
}

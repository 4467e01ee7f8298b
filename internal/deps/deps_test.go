package deps

import (
	"testing"

	"github.com/jamesaphoenix/tx/internal/types"
)

func TestFilterTreeByStatus(t *testing.T) {
	tree := []*TreeNode{
		{ID: "tx-root01", Status: types.StatusActive, Depth: 0},
		{ID: "tx-childa1", ParentID: "tx-root01", Status: types.StatusDone, Depth: 1},
		{ID: "tx-childb1", ParentID: "tx-root01", Status: types.StatusBlocked, Depth: 1},
	}

	filtered := FilterTreeByStatus(tree, types.StatusBlocked)
	if len(filtered) != 2 {
		t.Fatalf("expected root + matching child, got %d nodes: %+v", len(filtered), filtered)
	}

	none := FilterTreeByStatus(tree, types.StatusReview)
	if len(none) != 0 {
		t.Fatalf("expected no matches, got %d", len(none))
	}
}

func TestMergeBidirectionalTrees(t *testing.T) {
	root := &TreeNode{ID: "tx-root01", Depth: 0}
	up := []*TreeNode{
		{ID: "tx-up00001", Depth: 1},
		root,
	}
	down := []*TreeNode{
		root,
		{ID: "tx-down0001", Depth: 1},
	}

	merged := MergeBidirectionalTrees(down, up, "tx-root01")
	if len(merged) != 3 {
		t.Fatalf("expected up node + both down nodes, got %d: %+v", len(merged), merged)
	}
	if merged[0].ID != "tx-up00001" {
		t.Errorf("expected up-tree node first, got %q", merged[0].ID)
	}
}

func TestGetStatusEmoji(t *testing.T) {
	tests := []struct {
		status types.Status
		want   string
	}{
		{types.StatusDone, "☑"},
		{types.StatusBlocked, "⚠"},
		{types.StatusBacklog, "☐"},
	}
	for _, tt := range tests {
		if got := GetStatusEmoji(tt.status); got != tt.want {
			t.Errorf("GetStatusEmoji(%v) = %q, want %q", tt.status, got, tt.want)
		}
	}
}

func TestTreeRendererRendersWithoutPanicking(t *testing.T) {
	r := NewTreeRenderer(5)
	r.StyleFunc = func(_ types.Status, s string) string { return s }
	r.PassStyleBold = func(s string) string { return s }
	r.MutedFunc = func(s string) string { return s }
	r.WarnFunc = func(s string) string { return s }

	tree := []*TreeNode{
		{ID: "tx-root01", Title: "root", Status: types.StatusReady, Depth: 0},
		{ID: "tx-childa1", ParentID: "tx-root01", Title: "child", Status: types.StatusBlocked, Depth: 1},
	}
	r.RenderTree(tree)
}

package compact

import (
	"fmt"
	"path/filepath"
	"strings"
)

// resolveExportPath validates that target resolves inside root before any
// I/O is attempted, rejecting traversal and absolute-outside paths per
// spec.md §4.7's path-safety rule.
func resolveExportPath(root, target string) (string, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("resolve project root: %w", err)
	}
	var candidate string
	if filepath.IsAbs(target) {
		candidate = filepath.Clean(target)
	} else {
		candidate = filepath.Join(absRoot, target)
	}
	candidate = filepath.Clean(candidate)

	rel, err := filepath.Rel(absRoot, candidate)
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrPathEscapesRoot, target)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", ErrPathEscapesRoot, target)
	}
	return candidate, nil
}

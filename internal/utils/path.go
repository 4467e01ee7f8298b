// Package utils holds small filesystem helpers shared by cmd/tx and the
// config/jsonl packages: path canonicalization for comparing paths across
// symlinks and case-insensitive filesystems, and locating the project's
// JSONL sync file.
package utils

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

// CanonicalizePath resolves path to an absolute, symlink-evaluated form.
// Falls back to the absolute (non-symlink-resolved) form if the path
// doesn't exist yet, and to the raw input if even that fails.
func CanonicalizePath(path string) string {
	if path == "" {
		path = "."
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return path
	}

	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return abs
	}
	return resolved
}

// CanonicalizeIfRelative canonicalizes path only when it isn't already
// absolute, leaving absolute inputs (including ones that don't yet
// resolve, e.g. unwritten export files) untouched.
func CanonicalizeIfRelative(path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return CanonicalizePath(path)
}

// NormalizePathForComparison returns a form of path suitable for
// equality comparisons: symlink-resolved, and lowercased on
// case-insensitive filesystems (darwin, windows).
func NormalizePathForComparison(path string) string {
	if path == "" {
		return ""
	}
	canon := CanonicalizePath(path)
	if runtime.GOOS == "darwin" || runtime.GOOS == "windows" {
		return strings.ToLower(canon)
	}
	return canon
}

// PathsEqual reports whether a and b refer to the same filesystem
// location, accounting for symlinks and filesystem case-sensitivity.
func PathsEqual(a, b string) bool {
	if a == "" && b == "" {
		return true
	}
	if a == "" || b == "" {
		return false
	}
	return NormalizePathForComparison(a) == NormalizePathForComparison(b)
}

// ResolveForWrite resolves path for a write target: if it's a symlink,
// returns the link's target (so writes land on the real file, not a
// freshly-created regular file shadowing the link); if it doesn't exist
// yet, returns path unchanged so callers can still create it.
func ResolveForWrite(path string) (string, error) {
	info, err := os.Lstat(path)
	if os.IsNotExist(err) {
		return path, nil
	}
	if err != nil {
		return "", err
	}
	if info.Mode()&os.ModeSymlink == 0 {
		return path, nil
	}
	return filepath.EvalSymlinks(path)
}

// candidateSyncFiles lists JSONL sync file names FindJSONLInDir prefers,
// in priority order. "beads.jsonl" is a legacy fallback for projects
// migrating from the prior tool's export.
var candidateSyncFiles = []string{"tasks.jsonl", "beads.jsonl"}

const defaultSyncFileName = "tasks.jsonl"

// FindJSONLInDir returns the path to the project's JSONL sync file,
// preferring tasks.jsonl, falling back to the legacy beads.jsonl name,
// and defaulting to tasks.jsonl (even if it doesn't exist yet) when
// neither is present.
func FindJSONLInDir(dir string) string {
	for _, name := range candidateSyncFiles {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return filepath.Join(dir, defaultSyncFileName)
}

// Package kernel implements the task state machine: readiness derivation,
// priority scoring, status transitions, and dependency-cycle rejection,
// over the five-bulk-query algorithm from internal/storage/sqlite.
package kernel

import "errors"

// Semantic error kinds from spec.md §4.4. Backends return storage
// sentinels; the kernel translates those (and its own invariant checks)
// into these so callers never need to know which store is behind it.
var (
	ErrTaskNotFound          = errors.New("task not found")
	ErrValidationError       = errors.New("validation error")
	ErrCircularDependency    = errors.New("circular dependency")
	ErrHasChildren           = errors.New("task has children")
	ErrInvalidStatusTransition = errors.New("invalid status transition")
)

// ExitCode maps a kernel error to the CLI's stable exit code convention:
// 2 for not-found, 1 for everything else, 0 implied by a nil error.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	if errors.Is(err, ErrTaskNotFound) {
		return 2
	}
	return 1
}

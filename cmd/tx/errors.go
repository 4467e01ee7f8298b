package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/jamesaphoenix/tx/internal/compact"
	"github.com/jamesaphoenix/tx/internal/kernel"
	"github.com/jamesaphoenix/tx/internal/orchestrator"
)

// exitCode maps a library error to the stable convention spec.md §6/§7
// describe: 2 for the not-found family, 1 for everything else, 0 only
// implied by a nil error (never reached here since we only call this
// when err != nil).
func exitCode(err error) int {
	switch {
	case errors.Is(err, kernel.ErrTaskNotFound):
		return 2
	case errors.Is(err, orchestrator.ErrClaimNotFound), errors.Is(err, orchestrator.ErrWorkerNotFound):
		return 2
	case errors.Is(err, compact.ErrCandidateNotFound):
		return 2
	default:
		return 1
	}
}

// exitWithError prints a one-line message (JSON-wrapped if --json was
// requested) and exits with exitCode(err).
func exitWithError(err error) {
	if jsonOutput {
		printJSON(map[string]any{"error": map[string]any{"message": err.Error()}})
	} else {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	}
	os.Exit(exitCode(err))
}

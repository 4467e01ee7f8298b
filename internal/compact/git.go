package compact

import (
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
)

// gitExec is a function hook for executing git commands, swapped out in
// tests.
var gitExec = defaultGitExec

func defaultGitExec(ctx context.Context, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	return cmd.Output()
}

// commitExport stages and commits path (relative to root) when root is a
// git working tree. An original_source-style convenience, not a hard
// requirement: failures are surfaced to the caller to log and ignore
// rather than fail the compaction that already succeeded.
func commitExport(ctx context.Context, root, path string) error {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		rel = path
	}
	if _, err := gitExecIn(ctx, root, "add", rel); err != nil {
		return fmt.Errorf("git add: %w", err)
	}
	if _, err := gitExecIn(ctx, root, "commit", "-m", "chore: compaction export", "--", rel); err != nil {
		return fmt.Errorf("git commit: %w", err)
	}
	return nil
}

func gitExecIn(ctx context.Context, dir string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	return cmd.Output()
}

// currentCommitHash returns the current git HEAD commit hash for the
// working directory the process is running in. Returns empty string if
// not in a git repository or if the git command fails.
func currentCommitHash(ctx context.Context) string {
	output, err := gitExec(ctx, "rev-parse", "HEAD")
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(output))
}

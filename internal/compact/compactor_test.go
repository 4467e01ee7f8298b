package compact_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jamesaphoenix/tx/internal/clock"
	"github.com/jamesaphoenix/tx/internal/compact"
	"github.com/jamesaphoenix/tx/internal/storage/sqlite"
	"github.com/jamesaphoenix/tx/internal/types"
)

func newTestStore(t *testing.T) (*sqlite.SQLiteStorage, *clock.Frozen) {
	t.Helper()
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "tx.db")
	frozen := clock.NewFrozen(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))

	store, err := sqlite.OpenWithClock(ctx, path, frozen)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store, frozen
}

func createDoneTask(t *testing.T, store *sqlite.SQLiteStorage, frozen *clock.Frozen, id, title string, completedAt time.Time) {
	t.Helper()
	ctx := context.Background()
	task := &types.Task{
		ID:          id,
		Title:       title,
		Description: "did the thing",
		Status:      types.StatusDone,
		CreatedAt:   completedAt.Add(-time.Hour),
		UpdatedAt:   completedAt,
		CompletedAt: &completedAt,
	}
	require.NoError(t, store.CreateTask(ctx, task))
}

// fakeLLM is a scripted LLM capability for tests that don't want to touch
// the network.
type fakeLLM struct {
	available  bool
	summary    string
	learnings  []string
	candidates []types.LearningCandidate
}

func (f *fakeLLM) Available() bool { return f.available }

func (f *fakeLLM) Summarize(ctx context.Context, tasks []*types.Task) (string, []string, error) {
	if !f.available {
		return "", nil, compact.ErrUnavailable
	}
	return f.summary, f.learnings, nil
}

func (f *fakeLLM) ExtractCandidates(ctx context.Context, chunk string) ([]types.LearningCandidate, error) {
	if !f.available {
		return nil, compact.ErrUnavailable
	}
	return f.candidates, nil
}

func TestCompact_NoEligibleTasks(t *testing.T) {
	store, _ := newTestStore(t)
	c := compact.New(store, compact.Noop{}, compact.Config{})

	_, err := c.Compact(context.Background(), time.Now(), false)
	require.ErrorIs(t, err, compact.ErrNoEligibleTasks)
}

// Scenario 5 from spec.md §8: markdown write failure must leave the
// database untouched — no compaction_log row, tasks still present.
func TestCompact_MarkdownWriteFailureLeavesStoreUntouched(t *testing.T) {
	store, frozen := newTestStore(t)
	cutoff := frozen.Now().Add(time.Hour)
	createDoneTask(t, store, frozen, "tx-aaa111", "old work", frozen.Now().Add(-time.Hour))

	root := t.TempDir()
	readOnlyDir := filepath.Join(root, "readonly")
	require.NoError(t, os.MkdirAll(readOnlyDir, 0o500))
	t.Cleanup(func() { _ = os.Chmod(readOnlyDir, 0o700) })

	c := compact.New(store, &fakeLLM{available: true, summary: "did stuff"}, compact.Config{
		ProjectRoot:  root,
		MarkdownPath: "readonly/export.md",
	})

	_, err := c.Compact(context.Background(), cutoff, false)
	require.Error(t, err)

	remaining, err := store.EligibleForCompaction(context.Background(), cutoff)
	require.NoError(t, err)
	require.Len(t, remaining, 1, "task must survive a failed export")
}

func TestCompact_DryRunWritesNothing(t *testing.T) {
	store, frozen := newTestStore(t)
	cutoff := frozen.Now().Add(time.Hour)
	createDoneTask(t, store, frozen, "tx-bbb222", "old work", frozen.Now().Add(-time.Hour))

	root := t.TempDir()
	c := compact.New(store, &fakeLLM{available: true, summary: "summary text", learnings: []string{"learned X"}}, compact.Config{
		ProjectRoot:  root,
		MarkdownPath: "export.md",
	})

	result, err := c.Compact(context.Background(), cutoff, true)
	require.NoError(t, err)
	require.True(t, result.DryRun)
	require.Equal(t, []string{"tx-bbb222"}, result.TaskIDs)

	_, err = os.Stat(filepath.Join(root, "export.md"))
	require.True(t, os.IsNotExist(err), "dry-run must not write the export file")

	remaining, err := store.EligibleForCompaction(context.Background(), cutoff)
	require.NoError(t, err)
	require.Len(t, remaining, 1, "dry-run must not delete tasks")
}

func TestCompact_HappyPathDeletesTasksAndWritesExport(t *testing.T) {
	store, frozen := newTestStore(t)
	cutoff := frozen.Now().Add(time.Hour)
	createDoneTask(t, store, frozen, "tx-ccc333", "old work", frozen.Now().Add(-time.Hour))

	root := t.TempDir()
	c := compact.New(store, &fakeLLM{available: true, summary: "summary text", learnings: []string{"learned X"}}, compact.Config{
		ProjectRoot:  root,
		MarkdownPath: "export.md",
	})

	result, err := c.Compact(context.Background(), cutoff, false)
	require.NoError(t, err)
	require.Equal(t, []string{"tx-ccc333"}, result.TaskIDs)
	require.NotEmpty(t, result.MarkdownPath)

	contents, err := os.ReadFile(filepath.Join(root, "export.md"))
	require.NoError(t, err)
	require.Contains(t, string(contents), "learned X")

	_, err = store.GetTask(context.Background(), "tx-ccc333")
	require.Error(t, err)

	remaining, err := store.EligibleForCompaction(context.Background(), cutoff)
	require.NoError(t, err)
	require.Empty(t, remaining)
}

func TestCompact_SubtreeMustBeFullyDone(t *testing.T) {
	store, frozen := newTestStore(t)
	cutoff := frozen.Now().Add(time.Hour)
	createDoneTask(t, store, frozen, "tx-parent1", "parent", frozen.Now().Add(-time.Hour))

	child := &types.Task{
		ID:       "tx-child01",
		Title:    "still working",
		Status:   types.StatusActive,
		ParentID: "tx-parent1",
	}
	require.NoError(t, store.CreateTask(context.Background(), child))

	c := compact.New(store, compact.Noop{}, compact.Config{})
	_, err := c.Compact(context.Background(), cutoff, false)
	require.ErrorIs(t, err, compact.ErrNoEligibleTasks, "parent with an unfinished child must not be eligible")
}

func TestExtractCandidates_AutoPromotesHighConfidence(t *testing.T) {
	store, _ := newTestStore(t)
	llm := &fakeLLM{
		available: true,
		candidates: []types.LearningCandidate{
			{Content: "always run migrations before tests", Confidence: types.ConfidenceHigh, Category: "testing"},
			{Content: "prefer table-driven tests", Confidence: types.ConfidenceLow, Category: "testing"},
		},
	}
	c := compact.New(store, llm, compact.Config{})

	out, err := c.ExtractCandidates(context.Background(), "transcript chunk", "run.log", "run-1", "tx-aaa111")
	require.NoError(t, err)
	require.Len(t, out, 2)

	pending, err := store.PendingCandidates(context.Background())
	require.NoError(t, err)
	require.Len(t, pending, 1, "only the low-confidence candidate should remain pending")
	require.Equal(t, "prefer table-driven tests", pending[0].Content)
}

func TestExtractCandidates_UnavailableLLM(t *testing.T) {
	store, _ := newTestStore(t)
	c := compact.New(store, compact.Noop{}, compact.Config{})

	_, err := c.ExtractCandidates(context.Background(), "chunk", "", "", "")
	require.ErrorIs(t, err, compact.ErrUnavailable)
}

func TestPromoteAndReject(t *testing.T) {
	store, _ := newTestStore(t)
	c := compact.New(store, compact.Noop{}, compact.Config{})
	ctx := context.Background()

	cand := &types.LearningCandidate{Content: "manual candidate", Confidence: types.ConfidenceMedium}
	require.NoError(t, store.CreateCandidate(ctx, cand))

	learning, err := c.Promote(ctx, cand.ID, "alice")
	require.NoError(t, err)
	require.Equal(t, "manual candidate", learning.Content)

	_, err = c.Promote(ctx, cand.ID, "alice")
	require.ErrorIs(t, err, compact.ErrCandidateNotFound, "a promoted candidate is no longer pending")

	other := &types.LearningCandidate{Content: "reject me please", Confidence: types.ConfidenceLow}
	require.NoError(t, store.CreateCandidate(ctx, other))
	require.NoError(t, c.Reject(ctx, other.ID, "not actionable"))
}

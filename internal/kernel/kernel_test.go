package kernel_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jamesaphoenix/tx/internal/clock"
	"github.com/jamesaphoenix/tx/internal/kernel"
	"github.com/jamesaphoenix/tx/internal/storage"
	"github.com/jamesaphoenix/tx/internal/storage/sqlite"
	"github.com/jamesaphoenix/tx/internal/types"
)

func newTestKernel(t *testing.T) (*kernel.Kernel, *sqlite.SQLiteStorage, *clock.Frozen) {
	t.Helper()
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "tx.db")
	frozen := clock.NewFrozen(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))

	store, err := sqlite.OpenWithClock(ctx, path, frozen)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	return kernel.NewWithClock(store, frozen), store, frozen
}

func mustCreate(t *testing.T, k *kernel.Kernel, title string, status types.Status) *types.Task {
	t.Helper()
	task := &types.Task{Title: title, Status: status}
	require.NoError(t, k.Create(context.Background(), task, "test"))
	return task
}

// Scenario 1 from spec.md §8: T1 blocked by T2, both otherwise ready;
// ready() excludes T1 until T2 completes.
func TestReady_BlockerMustBeDone(t *testing.T) {
	k, _, _ := newTestKernel(t)
	ctx := context.Background()

	t1 := mustCreate(t, k, "T1", types.StatusReady)
	t2 := mustCreate(t, k, "T2", types.StatusReady)
	require.NoError(t, k.AddDependency(ctx, t2.ID, t1.ID))

	ready, err := k.Ready(ctx, 0)
	require.NoError(t, err)
	ids := idsOf(ready)
	assert.Contains(t, ids, t2.ID)
	assert.NotContains(t, ids, t1.ID)

	_, nowReady, err := k.Complete(ctx, t2.ID)
	require.NoError(t, err)
	require.Len(t, nowReady, 1)
	assert.Equal(t, t1.ID, nowReady[0].ID)

	ready, err = k.Ready(ctx, 0)
	require.NoError(t, err)
	assert.Contains(t, idsOf(ready), t1.ID)
}

func TestReady_ScoringOrder(t *testing.T) {
	k, _, frozen := newTestKernel(t)
	ctx := context.Background()

	low := mustCreate(t, k, "low base", types.StatusReady)
	high := &types.Task{Title: "high base", Status: types.StatusReady, BaseScore: 100}
	require.NoError(t, k.Create(ctx, high, "test"))

	frozen.Advance(49 * time.Hour)

	ready, err := k.Ready(ctx, 0)
	require.NoError(t, err)
	require.Len(t, ready, 2)
	assert.Equal(t, high.ID, ready[0].Task.ID)

	var lowScore, highScore int
	for _, r := range ready {
		if r.Task.ID == low.ID {
			lowScore = r.Score.Total
		}
		if r.Task.ID == high.ID {
			highScore = r.Score.Total
		}
	}
	assert.Greater(t, highScore, lowScore)
}

// Scenario 4: adding A->B, B->C, then C->A must be rejected and leave the
// graph unchanged.
func TestAddDependency_RejectsCycle(t *testing.T) {
	k, _, _ := newTestKernel(t)
	ctx := context.Background()

	a := mustCreate(t, k, "A", types.StatusBacklog)
	b := mustCreate(t, k, "B", types.StatusBacklog)
	c := mustCreate(t, k, "C", types.StatusBacklog)

	require.NoError(t, k.AddDependency(ctx, a.ID, b.ID))
	require.NoError(t, k.AddDependency(ctx, b.ID, c.ID))

	err := k.AddDependency(ctx, c.ID, a.ID)
	require.Error(t, err)
	assert.ErrorIs(t, err, kernel.ErrCircularDependency)
}

func TestAddDependency_RejectsSelfLoop(t *testing.T) {
	k, _, _ := newTestKernel(t)
	ctx := context.Background()
	a := mustCreate(t, k, "A", types.StatusBacklog)

	err := k.AddDependency(ctx, a.ID, a.ID)
	require.Error(t, err)
	assert.ErrorIs(t, err, kernel.ErrCircularDependency)
}

func TestTransition_RejectsInvalidEdge(t *testing.T) {
	k, _, _ := newTestKernel(t)
	ctx := context.Background()
	task := mustCreate(t, k, "T", types.StatusBacklog)

	_, err := k.Transition(ctx, task.ID, types.StatusHumanNeedsToReview, false)
	require.Error(t, err)
	assert.ErrorIs(t, err, kernel.ErrInvalidStatusTransition)
}

func TestTransition_ForcedBypassesGraph(t *testing.T) {
	k, _, _ := newTestKernel(t)
	ctx := context.Background()
	task := mustCreate(t, k, "T", types.StatusBacklog)

	updated, err := k.Transition(ctx, task.ID, types.StatusHumanNeedsToReview, true)
	require.NoError(t, err)
	assert.Equal(t, types.StatusHumanNeedsToReview, updated.Status)
}

func TestComplete_ClearsActiveClaimAndSetsCompletedAt(t *testing.T) {
	k, store, frozen := newTestKernel(t)
	ctx := context.Background()
	task := mustCreate(t, k, "T", types.StatusReady)
	require.NoError(t, store.RegisterWorker(ctx, &types.Worker{ID: "worker-1", Name: "worker-1"}, 0))

	_, err := store.ClaimTask(ctx, task.ID, "worker-1", 1800)
	require.NoError(t, err)

	before := frozen.Now()
	completed, _, err := k.Complete(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusDone, completed.Status)
	require.NotNil(t, completed.CompletedAt)
	assert.True(t, !completed.CompletedAt.Before(before))

	_, err = store.GetActiveClaim(ctx, task.ID)
	require.Error(t, err)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestDelete_RefusesWhenChildrenExist(t *testing.T) {
	k, _, _ := newTestKernel(t)
	ctx := context.Background()
	parent := mustCreate(t, k, "parent", types.StatusBacklog)
	child := &types.Task{Title: "child", Status: types.StatusBacklog, ParentID: parent.ID}
	require.NoError(t, k.Create(ctx, child, "test"))

	err := k.Delete(ctx, parent.ID, false)
	require.Error(t, err)
	assert.ErrorIs(t, err, kernel.ErrHasChildren)
}

func TestGet_NotFound(t *testing.T) {
	k, _, _ := newTestKernel(t)
	_, err := k.Get(context.Background(), "tx-missing")
	require.Error(t, err)
	assert.ErrorIs(t, err, kernel.ErrTaskNotFound)
	assert.Equal(t, 2, kernel.ExitCode(err))
}

func idsOf(scored []kernel.ScoredTask) []string {
	ids := make([]string, len(scored))
	for i, s := range scored {
		ids[i] = s.Task.ID
	}
	return ids
}

package orchestrator_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jamesaphoenix/tx/internal/clock"
	"github.com/jamesaphoenix/tx/internal/orchestrator"
	"github.com/jamesaphoenix/tx/internal/storage/sqlite"
	"github.com/jamesaphoenix/tx/internal/types"
)

func newTestOrchestrator(t *testing.T, cfg orchestrator.Config) (*orchestrator.Orchestrator, *sqlite.SQLiteStorage, *clock.Frozen) {
	t.Helper()
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "tx.db")
	frozen := clock.NewFrozen(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))

	store, err := sqlite.OpenWithClock(ctx, path, frozen)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	return orchestrator.NewWithClock(store, cfg, frozen), store, frozen
}

func mustCreateTask(t *testing.T, store *sqlite.SQLiteStorage, title string) *types.Task {
	t.Helper()
	task := &types.Task{ID: "tx-" + title, Title: title, Status: types.StatusReady}
	require.NoError(t, store.CreateTask(context.Background(), task))
	return task
}

// Scenario 2 from spec.md §8: register, claim, renew, release — the
// happy path end to end.
func TestClaimRenewRelease_HappyPath(t *testing.T) {
	cfg := orchestrator.DefaultConfig()
	o, store, frozen := newTestOrchestrator(t, cfg)
	ctx := context.Background()

	w, err := o.Register(ctx, "worker-1", "host-a", 1234)
	require.NoError(t, err)

	task := mustCreateTask(t, store, "task1")

	claim, err := o.Claim(ctx, task.ID, w.ID)
	require.NoError(t, err)
	assert.Equal(t, types.ClaimActive, claim.Status)

	got, err := store.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusActive, got.Status)

	frozen.Advance(time.Minute)
	renewed, err := o.Renew(ctx, claim.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, renewed.RenewalCount)

	require.NoError(t, o.Release(ctx, claim.ID, types.ClaimCompleted))

	w2, err := store.GetWorker(ctx, w.ID)
	require.NoError(t, err)
	assert.Equal(t, types.WorkerIdle, w2.Status)
	assert.Empty(t, w2.CurrentTaskID)
}

func TestClaim_AlreadyClaimedRejected(t *testing.T) {
	o, store, _ := newTestOrchestrator(t, orchestrator.DefaultConfig())
	ctx := context.Background()

	w1, err := o.Register(ctx, "w1", "host", 1)
	require.NoError(t, err)
	w2, err := o.Register(ctx, "w2", "host", 2)
	require.NoError(t, err)

	task := mustCreateTask(t, store, "task1")

	_, err = o.Claim(ctx, task.ID, w1.ID)
	require.NoError(t, err)

	_, err = o.Claim(ctx, task.ID, w2.ID)
	require.Error(t, err)
	assert.ErrorIs(t, err, orchestrator.ErrAlreadyClaimed)
}

func TestRegister_RejectsWhenPoolFull(t *testing.T) {
	o, _, _ := newTestOrchestrator(t, orchestrator.Config{PoolSize: 1, LeaseDurationSeconds: 1800, MaxRenewals: 10, HeartbeatIntervalSecond: 30})
	ctx := context.Background()

	_, err := o.Register(ctx, "w1", "host", 1)
	require.NoError(t, err)

	_, err = o.Register(ctx, "w2", "host", 2)
	require.Error(t, err)
	assert.ErrorIs(t, err, orchestrator.ErrRegistrationError)
}

func TestRenew_RejectsPastMaxRenewals(t *testing.T) {
	cfg := orchestrator.DefaultConfig()
	cfg.MaxRenewals = 1
	o, store, _ := newTestOrchestrator(t, cfg)
	ctx := context.Background()

	w, err := o.Register(ctx, "w1", "host", 1)
	require.NoError(t, err)
	task := mustCreateTask(t, store, "task1")

	claim, err := o.Claim(ctx, task.ID, w.ID)
	require.NoError(t, err)

	_, err = o.Renew(ctx, claim.ID)
	require.NoError(t, err)

	_, err = o.Renew(ctx, claim.ID)
	require.Error(t, err)
	assert.ErrorIs(t, err, orchestrator.ErrMaxRenewalsExceeded)
}

// Scenario 3 from spec.md §8: a worker goes silent past its heartbeat
// window; reconciliation marks it dead and restores its task to ready.
func TestReconcile_DeadWorkerRecovery(t *testing.T) {
	cfg := orchestrator.DefaultConfig()
	cfg.HeartbeatIntervalSecond = 30
	o, store, frozen := newTestOrchestrator(t, cfg)
	ctx := context.Background()

	w, err := o.Register(ctx, "w1", "host", 1)
	require.NoError(t, err)
	task := mustCreateTask(t, store, "task1")

	_, err = o.Claim(ctx, task.ID, w.ID)
	require.NoError(t, err)

	frozen.Advance(time.Hour)

	result, err := o.Reconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.DeadWorkersFound)
	assert.Equal(t, 1, result.ExpiredClaimsReleased)

	dead, err := store.GetWorker(ctx, w.ID)
	require.NoError(t, err)
	assert.Equal(t, types.WorkerDead, dead.Status)

	restored, err := store.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusReady, restored.Status)
}

// Universal invariant: an expired but un-renewed claim is recovered by
// reconciliation even if its worker is still heartbeating normally.
func TestReconcile_ExpiredLeaseWithLiveWorker(t *testing.T) {
	cfg := orchestrator.DefaultConfig()
	cfg.LeaseDurationSeconds = 60
	o, store, frozen := newTestOrchestrator(t, cfg)
	ctx := context.Background()

	w, err := o.Register(ctx, "w1", "host", 1)
	require.NoError(t, err)
	task := mustCreateTask(t, store, "task1")

	_, err = o.Claim(ctx, task.ID, w.ID)
	require.NoError(t, err)

	require.NoError(t, o.Heartbeat(ctx, w.ID, types.Worker{Status: types.WorkerBusy, CurrentTaskID: task.ID}))
	frozen.Advance(2 * time.Minute)
	require.NoError(t, o.Heartbeat(ctx, w.ID, types.Worker{Status: types.WorkerBusy, CurrentTaskID: task.ID}))

	result, err := o.Reconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, result.DeadWorkersFound)
	assert.GreaterOrEqual(t, result.ExpiredClaimsReleased, 1)

	restored, err := store.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusReady, restored.Status)
}

func TestReconcile_StampsOrchestratorState(t *testing.T) {
	o, _, frozen := newTestOrchestrator(t, orchestrator.DefaultConfig())
	ctx := context.Background()

	_, err := o.Reconcile(ctx)
	require.NoError(t, err)

	state, err := storeState(t, o)
	require.NoError(t, err)
	require.NotNil(t, state.LastReconcileAt)
	assert.True(t, state.LastReconcileAt.Equal(frozen.Now()))
}

func storeState(t *testing.T, o *orchestrator.Orchestrator) (*types.OrchestratorState, error) {
	t.Helper()
	return o.State(context.Background())
}

package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jamesaphoenix/tx/internal/storage"
	"github.com/jamesaphoenix/tx/internal/types"
)

// ReconcileResult reports what the sweep found and fixed, per spec.md
// §4.5's required counters.
type ReconcileResult struct {
	DeadWorkersFound       int
	ExpiredClaimsReleased  int
	OrphanedTasksRecovered int
	StaleStatesFixed       int
	ReconcileTime          time.Time
}

// Reconcile runs the six-step sweep: dead-worker detection, expired-claim
// release, orphaned-active-task recovery, busy/idle worker-state repair,
// and the orchestrator_state timestamp update. Each step is individually
// atomic (one BEGIN IMMEDIATE transaction per affected row/claim in the
// store layer); a peer process holding the write lock past busy-timeout
// surfaces ErrReconcileBusy rather than blocking the sweep indefinitely.
func (o *Orchestrator) Reconcile(ctx context.Context) (ReconcileResult, error) {
	now := o.clock.Now()
	result := ReconcileResult{ReconcileTime: now}

	// Step 1: workers whose heartbeat is older than one heartbeat
	// interval are dead; release every claim they hold.
	threshold := now.Add(-time.Duration(o.config.HeartbeatIntervalSecond) * time.Second)
	stale, err := o.store.StaleWorkers(ctx, threshold)
	if err != nil {
		return result, reconcileErr(err)
	}
	for _, w := range stale {
		if w.CurrentTaskID != "" {
			claim, err := o.store.GetActiveClaim(ctx, w.CurrentTaskID)
			if err != nil && !errors.Is(err, storage.ErrNotFound) {
				return result, reconcileErr(err)
			}
			if claim != nil {
				if err := o.store.ReleaseClaimAndTask(ctx, claim.ID, types.ClaimReleased); err != nil {
					return result, reconcileErr(err)
				}
				result.ExpiredClaimsReleased++
			}
		}

		// Marked dead after the release, since releasing idles the worker.
		if err := o.store.MarkWorkerDead(ctx, w.ID); err != nil {
			return result, reconcileErr(err)
		}
		result.DeadWorkersFound++
	}

	// Step 2: active claims whose lease has passed are expired; restore
	// their task's status.
	expired, err := o.store.ExpiredClaims(ctx)
	if err != nil {
		return result, reconcileErr(err)
	}
	for _, c := range expired {
		if err := o.store.ReleaseClaimAndTask(ctx, c.ID, types.ClaimExpired); err != nil {
			return result, reconcileErr(err)
		}
		result.ExpiredClaimsReleased++
	}

	// Step 3: tasks left active with no active claim are orphaned by a
	// crash between claim and completion; restore them.
	orphaned, err := o.store.OrphanedActiveTasks(ctx)
	if err != nil {
		return result, reconcileErr(err)
	}
	for _, t := range orphaned {
		if err := o.store.RestoreTaskAfterClaimEnd(ctx, t.ID); err != nil {
			return result, reconcileErr(err)
		}
		result.OrphanedTasksRecovered++
	}

	// Steps 4-5: workers marked busy whose current task is null or no
	// longer active get idled.
	mismatched, err := o.store.IdleMismatchedWorkers(ctx)
	if err != nil {
		return result, reconcileErr(err)
	}
	for _, w := range mismatched {
		if err := o.store.SetWorkerIdle(ctx, w.ID); err != nil {
			return result, reconcileErr(err)
		}
		result.StaleStatesFixed++
	}

	// Step 6: stamp last_reconcile_at.
	state, err := o.store.GetOrchestratorState(ctx)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return result, reconcileErr(err)
	}
	if state == nil {
		state = &types.OrchestratorState{Status: types.OrchestratorRunning, PoolSize: o.config.PoolSize}
	}
	state.LastReconcileAt = &now
	if err := o.store.SetOrchestratorState(ctx, state); err != nil {
		return result, reconcileErr(err)
	}

	return result, nil
}

func reconcileErr(err error) error {
	if errors.Is(err, storage.ErrBusy) {
		return fmt.Errorf("reconcile: %w", ErrReconcileBusy)
	}
	return fmt.Errorf("reconcile: %w", err)
}

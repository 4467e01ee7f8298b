package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/jamesaphoenix/tx/internal/clock"
	"github.com/jamesaphoenix/tx/internal/storage"
	"github.com/jamesaphoenix/tx/internal/types"
)

// Config holds the tunables spec.md §4.5 calls out defaults for.
type Config struct {
	PoolSize                int
	LeaseDurationSeconds    int64
	MaxRenewals             int
	HeartbeatIntervalSecond int
	ReconcileIntervalSecond int
}

// DefaultConfig matches spec.md's stated defaults: 30 min lease, 10 max
// renewals, 30 s heartbeat, 60 s reconcile interval.
func DefaultConfig() Config {
	return Config{
		PoolSize:                4,
		LeaseDurationSeconds:    1800,
		MaxRenewals:             10,
		HeartbeatIntervalSecond: 30,
		ReconcileIntervalSecond: 60,
	}
}

// Orchestrator coordinates worker registration, claim/lease handling, and
// the reconciliation sweep. It holds no in-memory state of its own beyond
// config; every decision is re-derived from the Store.
type Orchestrator struct {
	store  storage.Store
	clock  clock.Clock
	config Config
}

// New builds an Orchestrator over store using the real wall clock.
func New(store storage.Store, config Config) *Orchestrator {
	return NewWithClock(store, config, clock.Real{})
}

// NewWithClock is New with an injectable clock, for deterministic tests
// of lease expiry and heartbeat staleness.
func NewWithClock(store storage.Store, config Config, c clock.Clock) *Orchestrator {
	return &Orchestrator{store: store, clock: c, config: config}
}

// Register enrolls a new worker, letting the store enforce pool capacity
// atomically. name defaults to a random identifier if empty.
func (o *Orchestrator) Register(ctx context.Context, name, hostname string, pid int) (*types.Worker, error) {
	w := &types.Worker{
		ID:       uuid.NewString(),
		Name:     name,
		Hostname: hostname,
		PID:      pid,
		Status:   types.WorkerStarting,
	}
	if w.Name == "" {
		w.Name = w.ID
	}
	if err := o.store.RegisterWorker(ctx, w, o.config.PoolSize); err != nil {
		if errors.Is(err, storage.ErrConflict) {
			return nil, fmt.Errorf("register worker: %w", ErrRegistrationError)
		}
		return nil, fmt.Errorf("register worker: %w", err)
	}
	return w, nil
}

// Heartbeat reports a worker's liveness and self-measured metrics.
func (o *Orchestrator) Heartbeat(ctx context.Context, workerID string, metrics types.Worker) error {
	if err := o.store.Heartbeat(ctx, workerID, metrics); err != nil {
		return translateWorkerErr(err)
	}
	return nil
}

// Claim attempts to reserve taskID for workerID under a fresh lease.
func (o *Orchestrator) Claim(ctx context.Context, taskID, workerID string) (*types.TaskClaim, error) {
	claim, err := o.store.ClaimTask(ctx, taskID, workerID, o.config.LeaseDurationSeconds)
	if err != nil {
		if errors.Is(err, storage.ErrConflict) {
			return nil, fmt.Errorf("claim %s: %w", taskID, ErrAlreadyClaimed)
		}
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("claim %s: %w", taskID, ErrWorkerNotFound)
		}
		return nil, fmt.Errorf("claim %s: %w", taskID, err)
	}
	return claim, nil
}

// Renew extends claimID's lease, enforcing the configured max-renewals
// cap and lease-not-already-expired precondition before touching the
// store — both conditions are simple enough to check with a single
// GetClaim read rather than pushing policy into the repository.
func (o *Orchestrator) Renew(ctx context.Context, claimID int64) (*types.TaskClaim, error) {
	current, err := o.store.GetClaim(ctx, claimID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("renew claim %d: %w", claimID, ErrClaimNotFound)
		}
		return nil, fmt.Errorf("renew claim %d: %w", claimID, err)
	}
	if current.Status != types.ClaimActive {
		return nil, fmt.Errorf("renew claim %d: %w", claimID, ErrClaimNotFound)
	}
	if current.LeaseExpiresAt.Before(o.clock.Now()) {
		return nil, fmt.Errorf("renew claim %d: %w", claimID, ErrLeaseExpired)
	}
	if current.RenewalCount >= o.config.MaxRenewals {
		return nil, fmt.Errorf("renew claim %d: %w", claimID, ErrMaxRenewalsExceeded)
	}

	renewed, err := o.store.RenewClaim(ctx, claimID, o.config.LeaseDurationSeconds)
	if err != nil {
		return nil, fmt.Errorf("renew claim %d: %w", claimID, err)
	}
	return renewed, nil
}

// Release marks claimID with the given terminal status and restores the
// worker/task to idle/ready-or-blocked.
func (o *Orchestrator) Release(ctx context.Context, claimID int64, status types.ClaimStatus) error {
	if err := o.store.ReleaseClaimAndTask(ctx, claimID, status); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("release claim %d: %w", claimID, ErrClaimNotFound)
		}
		return fmt.Errorf("release claim %d: %w", claimID, err)
	}
	return nil
}

// State returns the singleton orchestrator_state row.
func (o *Orchestrator) State(ctx context.Context) (*types.OrchestratorState, error) {
	return o.store.GetOrchestratorState(ctx)
}

func translateWorkerErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("%w", ErrWorkerNotFound)
	}
	return err
}

package storage

import (
	"context"
	"errors"
	"time"

	"github.com/jamesaphoenix/tx/internal/types"
)

// Sentinel errors returned by every backend implementation. Backends wrap
// driver-specific errors into these with fmt.Errorf's %w so callers can use
// errors.Is regardless of which backend is active.
var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("conflict")
	ErrCycle    = errors.New("dependency cycle detected")
	ErrBusy     = errors.New("store busy")
)

// TaskFilter narrows ListTasks results. Zero-value fields are unfiltered.
type TaskFilter struct {
	Statuses   []types.Status
	AssigneeID string
	Query      string
	Limit      int
	Offset     int
}

// Store is the full persistence surface tx is built on. Every method is
// safe for concurrent use; writers serialize via BEGIN IMMEDIATE under the
// hood rather than requiring callers to coordinate locking themselves.
type Store interface {
	TaskStore
	DependencyStore
	WorkerStore
	ClaimStore
	LearningStore
	RunStore
	ConfigStore
	OrchestratorStateStore
	CompactionStore
	ValidationStore
	DirtyTracker

	Close() error
}

// DirtyTracker backs incremental JSONL export (spec.md §6): any task
// touched since the last export is marked dirty so the sync writer only
// has to emit deltas rather than the whole store.
type DirtyTracker interface {
	MarkTaskDirty(ctx context.Context, taskID string) error
	DirtyTasks(ctx context.Context) ([]string, error)
	ClearDirtyTasks(ctx context.Context, taskIDs []string) error
}

// DependencyRef names one row of task_dependencies, reported by the
// orphaned-dependency diagnostic check.
type DependencyRef struct {
	BlockerID string
	BlockedID string
}

// ValidationStore backs the six ordered integrity/diagnostic checks from
// spec.md §4.8: store integrity, schema version, foreign-key violations,
// orphaned dependencies, invalid status values, and missing parent
// references. Each check has a matching Fix method.
type ValidationStore interface {
	IntegrityCheck(ctx context.Context) (string, error)
	AppliedMigrations(ctx context.Context) ([]string, error)
	LatestKnownMigration() string
	ForeignKeyViolations(ctx context.Context) ([]string, error)

	OrphanedDependencies(ctx context.Context) ([]DependencyRef, error)
	DeleteOrphanedDependencies(ctx context.Context) (int, error)

	InvalidStatusTasks(ctx context.Context) ([]*types.Task, error)
	FixInvalidStatusTasks(ctx context.Context) (int, error)

	TasksWithMissingParent(ctx context.Context) ([]*types.Task, error)
	NullMissingParents(ctx context.Context) (int, error)
}

type TaskStore interface {
	CreateTask(ctx context.Context, t *types.Task) error
	GetTask(ctx context.Context, id string) (*types.Task, error)
	UpdateTask(ctx context.Context, t *types.Task) error
	DeleteTask(ctx context.Context, id string) error
	ListTasks(ctx context.Context, filter TaskFilter) ([]*types.Task, error)
	ReadyTasks(ctx context.Context, limit int) ([]*types.Task, error)
	HasChildren(ctx context.Context, id string) (bool, error)

	// CompleteTask atomically transitions a task to done, releasing its
	// active claim (if any) and stamping completed_at, then computes the
	// now-ready set: every task that was blocked solely by this one, in a
	// single batched query rather than a loop over repositories.
	CompleteTask(ctx context.Context, taskID string) (*types.Task, []*types.Task, error)
}

type DependencyStore interface {
	AddDependency(ctx context.Context, blockerID, blockedID string) error
	RemoveDependency(ctx context.Context, blockerID, blockedID string) error
	Blockers(ctx context.Context, taskID string) ([]*types.Task, error)
	Blocked(ctx context.Context, taskID string) ([]*types.Task, error)

	// Bulk lookups used by the kernel's five-query readiness algorithm.
	BlockerMap(ctx context.Context, ids []string) (map[string][]string, error)
	BlockingCountMap(ctx context.Context, ids []string) (map[string]int, error)
	DepthMap(ctx context.Context, ids []string) (map[string]int, error)
	StatusMap(ctx context.Context, ids []string) (map[string]types.Status, error)
}

type WorkerStore interface {
	// RegisterWorker enforces pool capacity atomically: counts workers in
	// {starting,idle,busy} and inserts in the same BEGIN IMMEDIATE
	// transaction, returning ErrConflict if the pool is already full.
	RegisterWorker(ctx context.Context, w *types.Worker, poolSize int) error
	Heartbeat(ctx context.Context, workerID string, metrics types.Worker) error
	GetWorker(ctx context.Context, id string) (*types.Worker, error)
	ListWorkers(ctx context.Context) ([]*types.Worker, error)
	MarkWorkerDead(ctx context.Context, workerID string) error

	// StaleWorkers returns non-dead workers whose last heartbeat predates
	// threshold, for the reconciliation pass's dead-worker sweep.
	StaleWorkers(ctx context.Context, threshold time.Time) ([]*types.Worker, error)
	// IdleMismatchedWorkers returns workers marked busy whose current task
	// is missing, null, or no longer active.
	IdleMismatchedWorkers(ctx context.Context) ([]*types.Worker, error)
	// SetWorkerIdle clears current_task_id and sets status to idle.
	SetWorkerIdle(ctx context.Context, workerID string) error
}

type ClaimStore interface {
	// ClaimTask atomically re-checks readiness, inserts the claim, and
	// transitions the task to active plus the worker to busy, all within
	// one BEGIN IMMEDIATE transaction.
	ClaimTask(ctx context.Context, taskID, workerID string, leaseDuration int64) (*types.TaskClaim, error)
	RenewClaim(ctx context.Context, claimID int64, leaseDuration int64) (*types.TaskClaim, error)
	// ReleaseClaimAndTask marks the claim with the given terminal status,
	// clears the worker's current_task_id, sets the worker idle, and
	// restores the task to ready or blocked (per blocker check) unless it
	// already reached a terminal status such as done.
	ReleaseClaimAndTask(ctx context.Context, claimID int64, status types.ClaimStatus) error
	GetActiveClaim(ctx context.Context, taskID string) (*types.TaskClaim, error)
	GetClaim(ctx context.Context, claimID int64) (*types.TaskClaim, error)
	ExpiredClaims(ctx context.Context) ([]*types.TaskClaim, error)
	// OrphanedActiveTasks returns tasks with status active but no active
	// claim, for the reconciliation pass.
	OrphanedActiveTasks(ctx context.Context) ([]*types.Task, error)
	// RestoreTaskAfterClaimEnd recomputes and persists whether a task
	// should be ready or blocked after its claim ended, in one transaction.
	RestoreTaskAfterClaimEnd(ctx context.Context, taskID string) error
}

type LearningStore interface {
	CreateLearning(ctx context.Context, l *types.Learning) error
	GetLearning(ctx context.Context, id int64) (*types.Learning, error)
	DeleteLearning(ctx context.Context, id int64) error
	KeywordSearch(ctx context.Context, query string, limit int) ([]*types.Learning, error)
	AllLearnings(ctx context.Context) ([]*types.Learning, error)
	RecordUsage(ctx context.Context, ids []int64) error

	CreateCandidate(ctx context.Context, c *types.LearningCandidate) error
	PendingCandidates(ctx context.Context) ([]*types.LearningCandidate, error)
	ResolveCandidate(ctx context.Context, id int64, status types.CandidateStatus, promotedLearningID *int64, reason string) error

	CreateAnchor(ctx context.Context, a *types.Anchor) error
	AnchorsForLearning(ctx context.Context, learningID int64) ([]*types.Anchor, error)
	UpdateAnchorStatus(ctx context.Context, id int64, status types.AnchorStatus) error

	CreateLearningEdge(ctx context.Context, e *types.LearningEdge) error
	// EdgesFrom returns every outgoing edge from learningID, for bounded-
	// depth graph expansion.
	EdgesFrom(ctx context.Context, learningID int64) ([]*types.LearningEdge, error)
}

type RunStore interface {
	CreateRun(ctx context.Context, r *types.Run) error
	UpdateRun(ctx context.Context, r *types.Run) error
	ApplyHeartbeat(ctx context.Context, hb types.Heartbeat) error
	GetRun(ctx context.Context, id string) (*types.Run, error)

	AppendMessage(ctx context.Context, m *types.Message) error
	PendingMessages(ctx context.Context, channel string) ([]*types.Message, error)
	AckMessage(ctx context.Context, id int64) error
}

type ConfigStore interface {
	SetConfig(ctx context.Context, key, value string) error
	GetConfig(ctx context.Context, key string) (string, error)
	GetAllConfig(ctx context.Context) (map[string]string, error)
}

// OrchestratorStateStore persists the singleton orchestrator_state row.
type OrchestratorStateStore interface {
	GetOrchestratorState(ctx context.Context) (*types.OrchestratorState, error)
	SetOrchestratorState(ctx context.Context, st *types.OrchestratorState) error
}

// CompactionStore supports the compaction pipeline's atomic
// select-then-delete-and-log operation.
type CompactionStore interface {
	// EligibleForCompaction returns done tasks completed before cutoff
	// whose entire subtree (descendants via parent_id) is also done.
	EligibleForCompaction(ctx context.Context, cutoff time.Time) ([]*types.Task, error)
	// ApplyCompaction runs, in a single transaction: insert the
	// compaction_log row, delete dependency edges touching taskIDs, then
	// delete the tasks themselves. Callers must perform any markdown file
	// write BEFORE calling this, since the ordering guarantee requires the
	// store never to record an export that failed to write.
	ApplyCompaction(ctx context.Context, entry *types.CompactionLogEntry, taskIDs []string) error
}

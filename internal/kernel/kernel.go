package kernel

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/jamesaphoenix/tx/internal/clock"
	"github.com/jamesaphoenix/tx/internal/idgen"
	"github.com/jamesaphoenix/tx/internal/storage"
	"github.com/jamesaphoenix/tx/internal/types"
)

// Kernel is the task state machine: readiness derivation, priority
// scoring, dependency-cycle rejection, and status transitions, over the
// store's bulk-query repositories. It holds no long-lived entity handles;
// every operation reads and writes by id within its own transaction.
type Kernel struct {
	store storage.Store
	clock clock.Clock
}

// New builds a Kernel over store, using the real wall clock.
func New(store storage.Store) *Kernel {
	return NewWithClock(store, clock.Real{})
}

// NewWithClock is New with an injectable clock, for deterministic tests.
func NewWithClock(store storage.Store, c clock.Clock) *Kernel {
	return &Kernel{store: store, clock: c}
}

// ScoredTask pairs a task with the score breakdown that ranked it.
type ScoredTask struct {
	Task  *types.Task
	Score types.ScoreBreakdown
}

const (
	blockBonusPerTask = 25
	ageBonus24h       = 50
	ageBonus48h       = 100
	depthPenaltyPerHop = 10
	blockedPenalty    = 1000
)

// Score computes task's final priority score and breakdown. blockingCount
// is how many other tasks this one blocks; depth is parent_id hops to
// root; blocked reports whether the task currently has an unmet blocker.
func Score(t *types.Task, blockingCount, depth int, blocked bool, now clock.Clock) types.ScoreBreakdown {
	age := now.Now().Sub(t.CreatedAt)
	ageBonus := 0
	switch {
	case age > 48*time.Hour:
		ageBonus = ageBonus48h
	case age > 24*time.Hour:
		ageBonus = ageBonus24h
	}

	b := types.ScoreBreakdown{
		Base:         t.BaseScore,
		BlocksBonus:  blockBonusPerTask * blockingCount,
		AgeBonus:     ageBonus,
		DepthPenalty: depthPenaltyPerHop * depth,
	}
	if blocked {
		b.BlockedPenalty = blockedPenalty
	}
	b.Total = b.Base + b.BlocksBonus + b.AgeBonus - b.DepthPenalty - b.BlockedPenalty
	return b
}

// Ready computes the ready set with exactly five bulk queries regardless
// of candidate count: ReadyTasks (a), BlockerMap (b), BlockingCountMap
// (c), DepthMap (d), and StatusMap (e) over the union of all blocker ids.
// Blocked-ness and score are then derived in memory; candidates with a
// blocker that is not done are left out, and the rest are sorted by score
// descending and truncated to limit (limit <= 0 means unbounded).
func (k *Kernel) Ready(ctx context.Context, limit int) ([]ScoredTask, error) {
	candidates, err := k.store.ReadyTasks(ctx, 0)
	if err != nil {
		return nil, fmt.Errorf("ready: %w", err)
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	ids := make([]string, len(candidates))
	for i, t := range candidates {
		ids[i] = t.ID
	}

	blockerMap, err := k.store.BlockerMap(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("ready: %w", err)
	}
	blockingCountMap, err := k.store.BlockingCountMap(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("ready: %w", err)
	}
	depthMap, err := k.store.DepthMap(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("ready: %w", err)
	}

	blockerUnion := map[string]bool{}
	for _, blockers := range blockerMap {
		for _, b := range blockers {
			blockerUnion[b] = true
		}
	}
	blockerIDs := make([]string, 0, len(blockerUnion))
	for id := range blockerUnion {
		blockerIDs = append(blockerIDs, id)
	}
	statusMap, err := k.store.StatusMap(ctx, blockerIDs)
	if err != nil {
		return nil, fmt.Errorf("ready: %w", err)
	}

	out := make([]ScoredTask, 0, len(candidates))
	for _, t := range candidates {
		blocked := false
		for _, b := range blockerMap[t.ID] {
			if statusMap[b] != types.StatusDone {
				blocked = true
				break
			}
		}
		if blocked {
			continue
		}
		score := Score(t, blockingCountMap[t.ID], depthMap[t.ID], blocked, k.clock)
		out = append(out, ScoredTask{Task: t, Score: score})
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Score.Total > out[j].Score.Total })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Create assigns a fresh ID via idgen if the caller left one unset, then
// persists the task. IDs start at 6 base36 characters and grow to 7 or 8
// only if a collision is detected against an existing row.
func (k *Kernel) Create(ctx context.Context, t *types.Task, creator string) error {
	if t.ID != "" {
		if err := k.store.CreateTask(ctx, t); err != nil {
			return translateTaskErr(err)
		}
		return nil
	}

	now := k.clock.Now()
	for nonce, length := 0, 6; ; nonce++ {
		if nonce > 0 && nonce%3 == 0 && length < 8 {
			length++
		}
		t.ID = idgen.GenerateTaskID(t.Title, t.Description, creator, now, length, nonce)
		err := k.store.CreateTask(ctx, t)
		if err == nil {
			return nil
		}
		if !errors.Is(err, storage.ErrConflict) {
			return translateTaskErr(err)
		}
		if nonce >= 20 {
			return fmt.Errorf("create task: could not find unused id after %d attempts: %w", nonce+1, err)
		}
	}
}

// Get retrieves a task, translating storage.ErrNotFound to ErrTaskNotFound.
func (k *Kernel) Get(ctx context.Context, id string) (*types.Task, error) {
	t, err := k.store.GetTask(ctx, id)
	if err != nil {
		return nil, translateTaskErr(err)
	}
	return t, nil
}

// Transition moves a task to newStatus, validated against TransitionTable
// unless forced is set (operator bypass). Completion is a special case
// routed through Complete so the now-ready computation always runs.
func (k *Kernel) Transition(ctx context.Context, id string, newStatus types.Status, forced bool) (*types.Task, error) {
	if newStatus == types.StatusDone {
		completed, _, err := k.Complete(ctx, id)
		return completed, err
	}

	t, err := k.store.GetTask(ctx, id)
	if err != nil {
		return nil, translateTaskErr(err)
	}
	if !forced && !types.CanTransition(t.Status, newStatus) {
		return nil, fmt.Errorf("transition %s -> %s: %w", t.Status, newStatus, ErrInvalidStatusTransition)
	}

	// completed_at is left untouched on reopen (done -> backlog): it stays
	// a monotonic "last completion" audit field, not a current-state field.
	t.Status = newStatus
	if err := k.store.UpdateTask(ctx, t); err != nil {
		return nil, translateTaskErr(err)
	}
	return t, nil
}

// Complete transitions taskID to done, releasing any active claim and
// computing the now-ready set in the same transaction.
func (k *Kernel) Complete(ctx context.Context, taskID string) (*types.Task, []*types.Task, error) {
	completed, nowReady, err := k.store.CompleteTask(ctx, taskID)
	if err != nil {
		return nil, nil, translateTaskErr(err)
	}
	return completed, nowReady, nil
}

// Delete removes a task. Refuses when children exist unless cascade is
// requested by the caller detaching them first (spec.md leaves cascading
// deletion of children to callers; the kernel only enforces the guard).
func (k *Kernel) Delete(ctx context.Context, id string, cascade bool) error {
	if !cascade {
		hasChildren, err := k.store.HasChildren(ctx, id)
		if err != nil {
			return translateTaskErr(err)
		}
		if hasChildren {
			return fmt.Errorf("delete task %s: %w", id, ErrHasChildren)
		}
	}
	if err := k.store.DeleteTask(ctx, id); err != nil {
		return translateTaskErr(err)
	}
	return nil
}

// AddDependency records blockerID -> blockedID, rejecting self-loops and
// cycles with ErrCircularDependency.
func (k *Kernel) AddDependency(ctx context.Context, blockerID, blockedID string) error {
	if err := k.store.AddDependency(ctx, blockerID, blockedID); err != nil {
		if errors.Is(err, storage.ErrCycle) {
			return fmt.Errorf("add dependency %s -> %s: %w", blockerID, blockedID, ErrCircularDependency)
		}
		return translateTaskErr(err)
	}
	return nil
}

// RemoveDependency deletes one blocker/blocked edge.
func (k *Kernel) RemoveDependency(ctx context.Context, blockerID, blockedID string) error {
	if err := k.store.RemoveDependency(ctx, blockerID, blockedID); err != nil {
		return translateTaskErr(err)
	}
	return nil
}

func translateTaskErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("%w", ErrTaskNotFound)
	}
	var ve *types.ValidationError
	if errors.As(err, &ve) {
		return fmt.Errorf("%s: %w", ve.Error(), ErrValidationError)
	}
	return err
}

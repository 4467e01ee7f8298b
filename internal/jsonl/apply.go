package jsonl

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/jamesaphoenix/tx/internal/storage"
	"github.com/jamesaphoenix/tx/internal/types"
)

// Apply replays records into store in timestamp order, so a sync file
// merged from multiple machines (and therefore out of file order)
// converges to the same state regardless of line order. task.upsert
// upserts by ID (create if absent, update otherwise); task.delete and
// dependency ops are idempotent against a store that already reflects
// them (ErrNotFound/ErrConflict from a redundant op are swallowed).
func Apply(ctx context.Context, store storage.Store, records []Record) error {
	ordered := make([]Record, len(records))
	copy(ordered, records)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].TS.Before(ordered[j].TS) })

	for i, rec := range ordered {
		if err := applyOne(ctx, store, rec); err != nil {
			return fmt.Errorf("apply record %d (%s): %w", i, rec.Op, err)
		}
	}
	return nil
}

func applyOne(ctx context.Context, store storage.Store, rec Record) error {
	switch rec.Op {
	case OpTaskUpsert:
		if rec.Task == nil {
			return fmt.Errorf("task.upsert record missing task")
		}
		_, err := store.GetTask(ctx, rec.Task.ID)
		switch {
		case errors.Is(err, storage.ErrNotFound):
			return store.CreateTask(ctx, rec.Task)
		case err != nil:
			return err
		default:
			return store.UpdateTask(ctx, rec.Task)
		}

	case OpTaskDelete:
		if rec.TaskID == "" {
			return fmt.Errorf("task.delete record missing task_id")
		}
		if err := store.DeleteTask(ctx, rec.TaskID); err != nil && !errors.Is(err, storage.ErrNotFound) {
			return err
		}
		return nil

	case OpDependencyAdd:
		if rec.Dependency == nil {
			return fmt.Errorf("dependency.add record missing dependency")
		}
		err := store.AddDependency(ctx, rec.Dependency.BlockerID, rec.Dependency.BlockedID)
		if err != nil && !errors.Is(err, storage.ErrConflict) {
			return err
		}
		return nil

	case OpDependencyRemove:
		if rec.Dependency == nil {
			return fmt.Errorf("dependency.remove record missing dependency")
		}
		if err := store.RemoveDependency(ctx, rec.Dependency.BlockerID, rec.Dependency.BlockedID); err != nil && !errors.Is(err, storage.ErrNotFound) {
			return err
		}
		return nil

	case OpLearningUpsert:
		if rec.Learning == nil {
			return fmt.Errorf("learning.upsert record missing learning")
		}
		// Learnings are durable notes, never edited in place once written;
		// replay is idempotent-create rather than a true update.
		if rec.Learning.ID != 0 {
			if _, err := store.GetLearning(ctx, rec.Learning.ID); err == nil {
				return nil
			} else if !errors.Is(err, storage.ErrNotFound) {
				return err
			}
		}
		return store.CreateLearning(ctx, rec.Learning)

	case OpLearningDelete:
		if rec.LearningID == 0 {
			return fmt.Errorf("learning.delete record missing learning_id")
		}
		if err := store.DeleteLearning(ctx, rec.LearningID); err != nil && !errors.Is(err, storage.ErrNotFound) {
			return err
		}
		return nil

	case OpFileLearningUpsert:
		if rec.Anchor == nil {
			return fmt.Errorf("file_learning.upsert record missing anchor")
		}
		existing, err := store.AnchorsForLearning(ctx, rec.Anchor.LearningID)
		if err != nil {
			return err
		}
		for _, a := range existing {
			if a.ID == rec.Anchor.ID {
				return store.UpdateAnchorStatus(ctx, rec.Anchor.ID, rec.Anchor.Status)
			}
		}
		return store.CreateAnchor(ctx, rec.Anchor)

	case OpFileLearningDelete:
		if rec.AnchorID == 0 {
			return fmt.Errorf("file_learning.delete record missing anchor_id")
		}
		return store.UpdateAnchorStatus(ctx, rec.AnchorID, types.AnchorInvalid)

	case OpAttemptUpsert:
		if rec.Attempt == nil {
			return fmt.Errorf("attempt.upsert record missing attempt")
		}
		_, err := store.GetRun(ctx, rec.Attempt.ID)
		switch {
		case errors.Is(err, storage.ErrNotFound):
			return store.CreateRun(ctx, rec.Attempt)
		case err != nil:
			return err
		default:
			return store.UpdateRun(ctx, rec.Attempt)
		}

	default:
		return fmt.Errorf("unknown op %q", rec.Op)
	}
}

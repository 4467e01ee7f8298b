package jsonl

import (
	"context"
	"fmt"
	"io"

	"github.com/jamesaphoenix/tx/internal/clock"
	"github.com/jamesaphoenix/tx/internal/storage"
)

// ExportDirty writes one task.upsert record per dirty task to w (oldest
// dirty first) and clears the dirty set on success, so a later call only
// sees tasks touched since this export. Returns the number of records
// written.
func ExportDirty(ctx context.Context, store storage.Store, c clock.Clock, w io.Writer) (int, error) {
	ids, err := store.DirtyTasks(ctx)
	if err != nil {
		return 0, fmt.Errorf("export dirty: list dirty tasks: %w", err)
	}
	if len(ids) == 0 {
		return 0, nil
	}

	writer := NewWriter(w)
	now := c.Now()
	for _, id := range ids {
		task, err := store.GetTask(ctx, id)
		if err != nil {
			return 0, fmt.Errorf("export dirty: load task %s: %w", id, err)
		}
		if err := writer.WriteRecord(TaskUpsertRecord(task, now)); err != nil {
			return 0, fmt.Errorf("export dirty: write task %s: %w", id, err)
		}
	}
	if err := writer.Flush(); err != nil {
		return 0, fmt.Errorf("export dirty: flush: %w", err)
	}

	if err := store.ClearDirtyTasks(ctx, ids); err != nil {
		return 0, fmt.Errorf("export dirty: clear dirty set: %w", err)
	}
	return len(ids), nil
}

// Dirty-task tracking for incremental JSONL export: any task touched since
// the last sync is marked here so the sync writer only has to emit deltas.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jamesaphoenix/tx/internal/clock"
)

func (s *SQLiteStorage) MarkTaskDirty(ctx context.Context, taskID string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO dirty_tasks (task_id, marked_at)
		VALUES (?, ?)
		ON CONFLICT (task_id) DO UPDATE SET marked_at = excluded.marked_at
	`, taskID, s.clock.Now())
	return wrapDBErrorf(err, "mark task %s dirty", taskID)
}

// markTasksDirtyTx marks multiple tasks as dirty within an existing
// transaction. Used by writers that touch several tasks atomically (e.g.
// adding a dependency marks both ends dirty).
func markTasksDirtyTx(ctx context.Context, conn *sql.Conn, c clock.Clock, taskIDs []string) error {
	if len(taskIDs) == 0 {
		return nil
	}
	now := c.Now()
	stmt, err := conn.PrepareContext(ctx, `
		INSERT INTO dirty_tasks (task_id, marked_at)
		VALUES (?, ?)
		ON CONFLICT (task_id) DO UPDATE SET marked_at = excluded.marked_at
	`)
	if err != nil {
		return fmt.Errorf("prepare dirty statement: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, id := range taskIDs {
		if _, err := stmt.ExecContext(ctx, id, now); err != nil {
			return fmt.Errorf("mark task %s dirty: %w", id, err)
		}
	}
	return nil
}

// DirtyTasks returns the IDs of tasks awaiting export, oldest first.
func (s *SQLiteStorage) DirtyTasks(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT task_id FROM dirty_tasks ORDER BY marked_at ASC`)
	if err != nil {
		return nil, wrapDBError("query dirty tasks", err)
	}
	defer func() { _ = rows.Close() }()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, wrapDBError("scan dirty task id", err)
		}
		ids = append(ids, id)
	}
	return ids, wrapDBError("iterate dirty tasks", rows.Err())
}

// ClearDirtyTasks removes the given task IDs from the dirty set, used once
// they've actually been written to the JSONL stream.
func (s *SQLiteStorage) ClearDirtyTasks(ctx context.Context, taskIDs []string) error {
	if len(taskIDs) == 0 {
		return nil
	}
	return s.withTx(ctx, func(ctx context.Context, conn *sql.Conn) error {
		stmt, err := conn.PrepareContext(ctx, `DELETE FROM dirty_tasks WHERE task_id = ?`)
		if err != nil {
			return fmt.Errorf("prepare delete statement: %w", err)
		}
		defer func() { _ = stmt.Close() }()

		for _, id := range taskIDs {
			if _, err := stmt.ExecContext(ctx, id); err != nil {
				return fmt.Errorf("clear dirty task %s: %w", id, err)
			}
		}
		return nil
	})
}

package migrations

import (
	"context"
	"database/sql"
	"fmt"
)

// migrateBlockedTasksCache creates blocked_tasks_cache, a materialized view
// over task_dependencies that lets readiness queries use a NOT EXISTS
// check instead of a recursive CTE on every call.
func migrateBlockedTasksCache(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS blocked_tasks_cache (
			task_id TEXT PRIMARY KEY REFERENCES tasks(id) ON DELETE CASCADE
		)
	`); err != nil {
		return fmt.Errorf("create blocked_tasks_cache: %w", err)
	}

	if _, err := db.ExecContext(ctx, `
		INSERT OR IGNORE INTO blocked_tasks_cache (task_id)
		SELECT DISTINCT d.blocked_id
		FROM task_dependencies d
		JOIN tasks blocker ON d.blocker_id = blocker.id
		WHERE blocker.status != 'done'
	`); err != nil {
		return fmt.Errorf("populate blocked_tasks_cache: %w", err)
	}
	return nil
}

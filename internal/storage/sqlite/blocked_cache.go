// blocked_tasks_cache materializes which tasks are currently blocked so
// readiness queries can use a NOT EXISTS check instead of a recursive CTE
// on every call. It is rebuilt in full whenever a dependency is added or
// removed, or a task's status changes in a way that could flip its
// blocking state — rebuild is cheap enough (a handful of milliseconds even
// at thousands of tasks) that incremental maintenance isn't worth the
// complexity.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
)

// execer is satisfied by both *sql.DB and *sql.Conn.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

func (s *SQLiteStorage) rebuildBlockedCache(ctx context.Context, exec execer) error {
	if exec == nil {
		exec = s.db
	}

	if _, err := exec.ExecContext(ctx, "DELETE FROM blocked_tasks_cache"); err != nil {
		return fmt.Errorf("clear blocked_tasks_cache: %w", err)
	}

	_, err := exec.ExecContext(ctx, `
		INSERT INTO blocked_tasks_cache (task_id)
		SELECT DISTINCT d.blocked_id
		FROM task_dependencies d
		JOIN tasks blocker ON d.blocker_id = blocker.id
		WHERE blocker.status != 'done'
	`)
	if err != nil {
		return fmt.Errorf("rebuild blocked_tasks_cache: %w", err)
	}
	return nil
}

func (s *SQLiteStorage) invalidateBlockedCache(ctx context.Context, exec execer) error {
	return s.rebuildBlockedCache(ctx, exec)
}

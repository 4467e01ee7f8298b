package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jamesaphoenix/tx/internal/storage"
	"github.com/jamesaphoenix/tx/internal/storage/sqlite/migrations"
	"github.com/jamesaphoenix/tx/internal/types"
)

// IntegrityCheck runs SQLite's built-in PRAGMA integrity_check and
// returns "ok" or the list of problems it reports.
func (s *SQLiteStorage) IntegrityCheck(ctx context.Context) (string, error) {
	row := s.db.QueryRowContext(ctx, `PRAGMA integrity_check`)
	var result string
	if err := row.Scan(&result); err != nil {
		return "", fmt.Errorf("integrity check: %w", err)
	}
	return result, nil
}

// AppliedMigrations returns every schema_migrations name in application
// order, for comparison against the latest known migration step.
func (s *SQLiteStorage) AppliedMigrations(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name FROM schema_migrations ORDER BY applied_at ASC`)
	if err != nil {
		return nil, wrapDBError("list applied migrations", err)
	}
	defer func() { _ = rows.Close() }()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, wrapDBError("scan migration name", err)
		}
		names = append(names, name)
	}
	return names, wrapDBError("iterate applied migrations", rows.Err())
}

// LatestKnownMigration names the newest migration step this binary
// knows how to apply, for comparison against AppliedMigrations.
func (s *SQLiteStorage) LatestKnownMigration() string {
	return migrations.LatestName()
}

// ForeignKeyViolations runs PRAGMA foreign_key_check and reports each
// violating row as "table(rowid)".
func (s *SQLiteStorage) ForeignKeyViolations(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `PRAGMA foreign_key_check`)
	if err != nil {
		return nil, wrapDBError("foreign key check", err)
	}
	defer func() { _ = rows.Close() }()

	var out []string
	for rows.Next() {
		var table string
		var rowid sql.NullInt64
		var parent string
		var fkid int
		if err := rows.Scan(&table, &rowid, &parent, &fkid); err != nil {
			return nil, wrapDBError("scan foreign key violation", err)
		}
		out = append(out, fmt.Sprintf("%s(%d) -> %s", table, rowid.Int64, parent))
	}
	return out, wrapDBError("iterate foreign key violations", rows.Err())
}

// OrphanedDependencies returns task_dependencies rows whose blocker or
// blocked task no longer exists.
func (s *SQLiteStorage) OrphanedDependencies(ctx context.Context) ([]storage.DependencyRef, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT d.blocker_id, d.blocked_id FROM task_dependencies d
		WHERE NOT EXISTS (SELECT 1 FROM tasks t WHERE t.id = d.blocker_id)
		   OR NOT EXISTS (SELECT 1 FROM tasks t WHERE t.id = d.blocked_id)
	`)
	if err != nil {
		return nil, wrapDBError("query orphaned dependencies", err)
	}
	defer func() { _ = rows.Close() }()

	var out []storage.DependencyRef
	for rows.Next() {
		var ref storage.DependencyRef
		if err := rows.Scan(&ref.BlockerID, &ref.BlockedID); err != nil {
			return nil, wrapDBError("scan orphaned dependency", err)
		}
		out = append(out, ref)
	}
	return out, wrapDBError("iterate orphaned dependencies", rows.Err())
}

// DeleteOrphanedDependencies removes every task_dependencies row
// returned by OrphanedDependencies and reports how many were deleted.
func (s *SQLiteStorage) DeleteOrphanedDependencies(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM task_dependencies
		WHERE NOT EXISTS (SELECT 1 FROM tasks t WHERE t.id = task_dependencies.blocker_id)
		   OR NOT EXISTS (SELECT 1 FROM tasks t WHERE t.id = task_dependencies.blocked_id)
	`)
	if err != nil {
		return 0, wrapDBError("delete orphaned dependencies", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return int(n), nil
}

// InvalidStatusTasks returns tasks whose status column doesn't match any
// member of types.Status.
func (s *SQLiteStorage) InvalidStatusTasks(ctx context.Context) ([]*types.Task, error) {
	placeholders, args := inClausePlaceholders(validStatusStrings())
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT id, title, description, status, base_score, assignee_id, assignee_kind,
			content_hash, parent_id, metadata, created_at, updated_at, completed_at
		FROM tasks WHERE status NOT IN (%s)
	`, placeholders), args...)
	if err != nil {
		return nil, wrapDBError("query invalid-status tasks", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*types.Task
	for rows.Next() {
		t, err := scanTaskGeneric(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, wrapDBError("iterate invalid-status tasks", rows.Err())
}

// FixInvalidStatusTasks resets every task with an unrecognized status to
// backlog and reports how many rows were repaired.
func (s *SQLiteStorage) FixInvalidStatusTasks(ctx context.Context) (int, error) {
	placeholders, args := inClausePlaceholders(validStatusStrings())
	args = append([]any{string(types.StatusBacklog)}, args...)
	res, err := s.db.ExecContext(ctx, fmt.Sprintf(`
		UPDATE tasks SET status = ? WHERE status NOT IN (%s)
	`, placeholders), args...)
	if err != nil {
		return 0, wrapDBError("fix invalid-status tasks", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return int(n), nil
}

// TasksWithMissingParent returns tasks whose parent_id is set but
// doesn't reference an existing task.
func (s *SQLiteStorage) TasksWithMissingParent(ctx context.Context) ([]*types.Task, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, title, description, status, base_score, assignee_id, assignee_kind,
			content_hash, parent_id, metadata, created_at, updated_at, completed_at
		FROM tasks t
		WHERE t.parent_id IS NOT NULL
		  AND NOT EXISTS (SELECT 1 FROM tasks p WHERE p.id = t.parent_id)
	`)
	if err != nil {
		return nil, wrapDBError("query missing-parent tasks", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*types.Task
	for rows.Next() {
		t, err := scanTaskGeneric(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, wrapDBError("iterate missing-parent tasks", rows.Err())
}

// NullMissingParents clears parent_id on every task whose parent
// reference is dangling and reports how many rows were repaired.
func (s *SQLiteStorage) NullMissingParents(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE tasks SET parent_id = NULL
		WHERE parent_id IS NOT NULL
		  AND NOT EXISTS (SELECT 1 FROM tasks p WHERE p.id = tasks.parent_id)
	`)
	if err != nil {
		return 0, wrapDBError("null missing parents", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return int(n), nil
}

func validStatusStrings() []string {
	statuses := types.AllStatuses()
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}

func inClausePlaceholders(values []string) (string, []any) {
	placeholders := ""
	args := make([]any, len(values))
	for i, v := range values {
		if i > 0 {
			placeholders += ", "
		}
		placeholders += "?"
		args[i] = v
	}
	return placeholders, args
}

package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jamesaphoenix/tx/internal/storage"
	"github.com/jamesaphoenix/tx/internal/types"
)

// CreateTask inserts a task, stamping timestamps and content hash if the
// caller left them unset, and marks it dirty for the next JSONL export.
func (s *SQLiteStorage) CreateTask(ctx context.Context, t *types.Task) error {
	now := s.clock.Now()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	if t.UpdatedAt.IsZero() {
		t.UpdatedAt = now
	}
	if t.ContentHash == "" {
		t.ContentHash = t.ComputeHash()
	}
	if err := t.Validate(); err != nil {
		return fmt.Errorf("validate task: %w", err)
	}

	metadata, err := marshalMetadata(t.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}

	var assigneeID, assigneeKind sql.NullString
	if t.Assignee != nil {
		assigneeID = sql.NullString{String: t.Assignee.ID, Valid: true}
		assigneeKind = sql.NullString{String: string(t.Assignee.Kind), Valid: true}
	}

	return s.withTx(ctx, func(ctx context.Context, conn *sql.Conn) error {
		_, err := conn.ExecContext(ctx, `
			INSERT INTO tasks (id, title, description, status, base_score, assignee_id, assignee_kind,
				content_hash, parent_id, metadata, created_at, updated_at, completed_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, t.ID, t.Title, t.Description, string(t.Status), t.BaseScore, nullIfEmpty(assigneeID), nullIfEmpty(assigneeKind),
			t.ContentHash, nullIfEmptyStr(t.ParentID), metadata, t.CreatedAt, t.UpdatedAt, t.CompletedAt)
		if err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("create task %s: %w", t.ID, storage.ErrConflict)
			}
			return wrapDBErrorf(err, "create task %s", t.ID)
		}
		return markTasksDirtyTx(ctx, conn, s.clock, []string{t.ID})
	})
}

// GetTask retrieves a task by ID.
func (s *SQLiteStorage) GetTask(ctx context.Context, id string) (*types.Task, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, title, description, status, base_score, assignee_id, assignee_kind,
			content_hash, parent_id, metadata, created_at, updated_at, completed_at
		FROM tasks WHERE id = ?
	`, id)
	return scanTask(row)
}

// UpdateTask persists every mutable field of t, bumping updated_at and
// marking the task dirty.
func (s *SQLiteStorage) UpdateTask(ctx context.Context, t *types.Task) error {
	if err := t.Validate(); err != nil {
		return fmt.Errorf("validate task: %w", err)
	}
	t.UpdatedAt = s.clock.Now()

	metadata, err := marshalMetadata(t.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}

	var assigneeID, assigneeKind sql.NullString
	if t.Assignee != nil {
		assigneeID = sql.NullString{String: t.Assignee.ID, Valid: true}
		assigneeKind = sql.NullString{String: string(t.Assignee.Kind), Valid: true}
	}

	return s.withTx(ctx, func(ctx context.Context, conn *sql.Conn) error {
		res, err := conn.ExecContext(ctx, `
			UPDATE tasks SET title = ?, description = ?, status = ?, base_score = ?,
				assignee_id = ?, assignee_kind = ?, content_hash = ?, parent_id = ?,
				metadata = ?, updated_at = ?, completed_at = ?
			WHERE id = ?
		`, t.Title, t.Description, string(t.Status), t.BaseScore, nullIfEmpty(assigneeID), nullIfEmpty(assigneeKind),
			t.ContentHash, nullIfEmptyStr(t.ParentID), metadata, t.UpdatedAt, t.CompletedAt, t.ID)
		if err != nil {
			return wrapDBErrorf(err, "update task %s", t.ID)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("rows affected: %w", err)
		}
		if n == 0 {
			return fmt.Errorf("update task %s: %w", t.ID, storage.ErrNotFound)
		}
		if err := s.invalidateBlockedCache(ctx, conn); err != nil {
			return err
		}
		return markTasksDirtyTx(ctx, conn, s.clock, []string{t.ID})
	})
}

// DeleteTask removes a task. Dependencies referencing it are removed via
// ON DELETE CASCADE; children are orphaned (parent_id set NULL) rather
// than deleted recursively.
func (s *SQLiteStorage) DeleteTask(ctx context.Context, id string) error {
	return s.withTx(ctx, func(ctx context.Context, conn *sql.Conn) error {
		res, err := conn.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?`, id)
		if err != nil {
			return wrapDBErrorf(err, "delete task %s", id)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("rows affected: %w", err)
		}
		if n == 0 {
			return fmt.Errorf("delete task %s: %w", id, storage.ErrNotFound)
		}
		return s.invalidateBlockedCache(ctx, conn)
	})
}

// ListTasks returns tasks matching filter, newest first.
func (s *SQLiteStorage) ListTasks(ctx context.Context, filter storage.TaskFilter) ([]*types.Task, error) {
	query := `
		SELECT id, title, description, status, base_score, assignee_id, assignee_kind,
			content_hash, parent_id, metadata, created_at, updated_at, completed_at
		FROM tasks WHERE 1=1
	`
	var args []interface{}

	if len(filter.Statuses) > 0 {
		placeholders := make([]string, len(filter.Statuses))
		for i, st := range filter.Statuses {
			placeholders[i] = "?"
			args = append(args, string(st))
		}
		query += fmt.Sprintf(" AND status IN (%s)", strings.Join(placeholders, ","))
	}
	if filter.AssigneeID != "" {
		query += " AND assignee_id = ?"
		args = append(args, filter.AssigneeID)
	}
	if filter.Query != "" {
		query += " AND (title LIKE ? OR description LIKE ?)"
		like := "%" + filter.Query + "%"
		args = append(args, like, like)
	}
	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
		if filter.Offset > 0 {
			query += " OFFSET ?"
			args = append(args, filter.Offset)
		}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapDBError("list tasks", err)
	}
	defer func() { _ = rows.Close() }()

	var tasks []*types.Task
	for rows.Next() {
		t, err := scanTaskRows(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, wrapDBError("iterate tasks", rows.Err())
}

// ReadyTasks is bulk query (a) of the kernel's five-query readiness
// algorithm: every task in a ready-candidate status that has no active
// claim. It deliberately does no blocking/scoring computation itself —
// the kernel package combines this with BlockerMap, BlockingCountMap,
// DepthMap, and StatusMap (each a single additional bulk query) to compute
// blocked-ness and score in memory, with no N+1 regardless of how many
// candidates this returns. limit <= 0 means unbounded.
func (s *SQLiteStorage) ReadyTasks(ctx context.Context, limit int) ([]*types.Task, error) {
	query := `
		SELECT id, title, description, status, base_score, assignee_id, assignee_kind,
			content_hash, parent_id, metadata, created_at, updated_at, completed_at
		FROM tasks t
		WHERE status IN ('backlog', 'ready', 'planning')
		  AND NOT EXISTS (
		      SELECT 1 FROM task_claims c WHERE c.task_id = t.id AND c.status = 'active'
		  )
		ORDER BY created_at ASC
	`
	args := []interface{}{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapDBError("query ready tasks", err)
	}
	defer func() { _ = rows.Close() }()

	var tasks []*types.Task
	for rows.Next() {
		t, err := scanTaskRows(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, wrapDBError("iterate ready tasks", rows.Err())
}

// HasChildren reports whether any task's parent_id points to id, used to
// guard deletion of tasks with a decomposed subtree still present.
func (s *SQLiteStorage) HasChildren(ctx context.Context, id string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM tasks WHERE parent_id = ?`, id).Scan(&n)
	if err != nil {
		return false, wrapDBErrorf(err, "check children of task %s", id)
	}
	return n > 0, nil
}

// CompleteTask transitions taskID to done, releases its active claim (if
// any) and idles the claiming worker, then computes the now-ready set —
// every task that was blocked solely by taskID — all within one
// transaction so completion and readiness recomputation are never
// observed apart.
func (s *SQLiteStorage) CompleteTask(ctx context.Context, taskID string) (*types.Task, []*types.Task, error) {
	var completed *types.Task
	var nowReady []*types.Task

	err := s.withTx(ctx, func(ctx context.Context, conn *sql.Conn) error {
		now := s.clock.Now()

		res, err := conn.ExecContext(ctx, `
			UPDATE tasks SET status = 'done', completed_at = ?, updated_at = ? WHERE id = ?
		`, now, now, taskID)
		if err != nil {
			return wrapDBErrorf(err, "complete task %s", taskID)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("rows affected: %w", err)
		}
		if n == 0 {
			return fmt.Errorf("complete task %s: %w", taskID, storage.ErrNotFound)
		}

		var claimID sql.NullInt64
		var workerID sql.NullString
		err = conn.QueryRowContext(ctx, `
			SELECT id, worker_id FROM task_claims WHERE task_id = ? AND status = 'active'
		`, taskID).Scan(&claimID, &workerID)
		if err != nil && err != sql.ErrNoRows {
			return wrapDBErrorf(err, "load active claim for task %s", taskID)
		}
		if claimID.Valid {
			if _, err := conn.ExecContext(ctx, `
				UPDATE task_claims SET status = 'completed' WHERE id = ?
			`, claimID.Int64); err != nil {
				return wrapDBErrorf(err, "close claim %d", claimID.Int64)
			}
			if _, err := conn.ExecContext(ctx, `
				UPDATE workers SET status = 'idle', current_task_id = NULL WHERE id = ?
			`, workerID.String); err != nil {
				return wrapDBErrorf(err, "idle worker %s", workerID.String)
			}
		}

		completed, err = scanTaskGeneric(conn.QueryRowContext(ctx, `
			SELECT id, title, description, status, base_score, assignee_id, assignee_kind,
				content_hash, parent_id, metadata, created_at, updated_at, completed_at
			FROM tasks WHERE id = ?
		`, taskID))
		if err != nil {
			return err
		}

		// Every task blocked only by now-done blockers and not itself done,
		// in a single bulk query rather than a loop over Blocked(taskID).
		rows, err := conn.QueryContext(ctx, `
			SELECT t.id, t.title, t.description, t.status, t.base_score, t.assignee_id, t.assignee_kind,
				t.content_hash, t.parent_id, t.metadata, t.created_at, t.updated_at, t.completed_at
			FROM tasks t
			JOIN task_dependencies d ON d.blocked_id = t.id
			WHERE d.blocker_id = ?
			  AND t.status NOT IN ('done', 'active')
			  AND NOT EXISTS (
			      SELECT 1 FROM task_dependencies d2
			      JOIN tasks blocker ON blocker.id = d2.blocker_id
			      WHERE d2.blocked_id = t.id AND blocker.status != 'done'
			  )
		`, taskID)
		if err != nil {
			return wrapDBErrorf(err, "compute now-ready set for task %s", taskID)
		}
		defer func() { _ = rows.Close() }()

		var readyIDs []string
		nowReady, err = scanTaskList(rows)
		if err != nil {
			return err
		}
		for _, t := range nowReady {
			readyIDs = append(readyIDs, t.ID)
		}
		if len(readyIDs) > 0 {
			stmt, err := conn.PrepareContext(ctx, `UPDATE tasks SET status = 'ready', updated_at = ? WHERE id = ?`)
			if err != nil {
				return fmt.Errorf("prepare ready-transition statement: %w", err)
			}
			defer func() { _ = stmt.Close() }()
			for _, id := range readyIDs {
				if _, err := stmt.ExecContext(ctx, now, id); err != nil {
					return fmt.Errorf("transition task %s to ready: %w", id, err)
				}
			}
			for _, t := range nowReady {
				t.Status = types.StatusReady
				t.UpdatedAt = now
			}
		}

		dirty := append([]string{taskID}, readyIDs...)
		if err := s.invalidateBlockedCache(ctx, conn); err != nil {
			return err
		}
		return markTasksDirtyTx(ctx, conn, s.clock, dirty)
	})
	if err != nil {
		return nil, nil, err
	}
	return completed, nowReady, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTask(row *sql.Row) (*types.Task, error) {
	return scanTaskGeneric(row)
}

func scanTaskRows(rows *sql.Rows) (*types.Task, error) {
	return scanTaskGeneric(rows)
}

func scanTaskGeneric(s rowScanner) (*types.Task, error) {
	var t types.Task
	var status string
	var assigneeID, assigneeKind, parentID, metadata sql.NullString
	var createdAt, updatedAt string
	var completedAt sql.NullString

	err := s.Scan(&t.ID, &t.Title, &t.Description, &status, &t.BaseScore,
		&assigneeID, &assigneeKind, &t.ContentHash, &parentID, &metadata,
		&createdAt, &updatedAt, &completedAt)
	if err != nil {
		return nil, wrapDBError("scan task", err)
	}

	t.Status = types.Status(status)
	t.ParentID = parentID.String
	t.CreatedAt = parseTimeString(createdAt)
	t.UpdatedAt = parseTimeString(updatedAt)
	t.CompletedAt = parseNullableTimeString(completedAt)

	if assigneeID.Valid && assigneeID.String != "" {
		t.Assignee = &types.Assignee{ID: assigneeID.String, Kind: types.AssigneeKind(assigneeKind.String)}
	}
	if metadata.Valid && metadata.String != "" && metadata.String != "{}" {
		var m map[string]any
		if err := json.Unmarshal([]byte(metadata.String), &m); err == nil {
			t.Metadata = m
		}
	}
	return &t, nil
}

func marshalMetadata(m map[string]any) (string, error) {
	if len(m) == 0 {
		return "{}", nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func nullIfEmptyStr(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullIfEmpty(ns sql.NullString) sql.NullString {
	if ns.Valid && ns.String == "" {
		return sql.NullString{}
	}
	return ns
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

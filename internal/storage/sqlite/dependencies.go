package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/jamesaphoenix/tx/internal/storage"
	"github.com/jamesaphoenix/tx/internal/types"
)

// AddDependency records that blockedID cannot become ready until blockerID
// reaches done. Runs a DFS over the existing edges inside the same
// transaction before inserting, so a cycle is rejected atomically rather
// than racing with a concurrent writer.
func (s *SQLiteStorage) AddDependency(ctx context.Context, blockerID, blockedID string) error {
	if blockerID == blockedID {
		return fmt.Errorf("add dependency %s -> %s: %w", blockerID, blockedID, storage.ErrCycle)
	}

	return s.withTx(ctx, func(ctx context.Context, conn *sql.Conn) error {
		wouldCycle, err := dependencyPathExists(ctx, conn, blockedID, blockerID)
		if err != nil {
			return err
		}
		if wouldCycle {
			return fmt.Errorf("add dependency %s -> %s: %w", blockerID, blockedID, storage.ErrCycle)
		}

		_, err = conn.ExecContext(ctx, `
			INSERT INTO task_dependencies (blocker_id, blocked_id, created_at)
			VALUES (?, ?, ?)
			ON CONFLICT (blocker_id, blocked_id) DO NOTHING
		`, blockerID, blockedID, s.clock.Now())
		if err != nil {
			return wrapDBErrorf(err, "add dependency %s -> %s", blockerID, blockedID)
		}

		if err := s.invalidateBlockedCache(ctx, conn); err != nil {
			return err
		}
		return markTasksDirtyTx(ctx, conn, s.clock, []string{blockerID, blockedID})
	})
}

// dependencyPathExists reports whether a directed path from->to already
// exists in task_dependencies, via an iterative DFS over blocker->blocked
// edges. Adding an edge blockerID->blockedID would create a cycle exactly
// when a path blockedID->...->blockerID already exists, so callers pass
// (blockedID, blockerID) to check that direction before inserting.
func dependencyPathExists(ctx context.Context, conn *sql.Conn, from, to string) (bool, error) {
	rows, err := conn.QueryContext(ctx, `SELECT blocker_id, blocked_id FROM task_dependencies`)
	if err != nil {
		return false, wrapDBError("load dependency edges", err)
	}
	defer func() { _ = rows.Close() }()

	adjacency := make(map[string][]string)
	for rows.Next() {
		var blocker, blocked string
		if err := rows.Scan(&blocker, &blocked); err != nil {
			return false, wrapDBError("scan dependency edge", err)
		}
		adjacency[blocker] = append(adjacency[blocker], blocked)
	}
	if err := rows.Err(); err != nil {
		return false, wrapDBError("iterate dependency edges", err)
	}

	visited := map[string]bool{}
	stack := []string{from}
	for len(stack) > 0 {
		node := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if node == to {
			return true, nil
		}
		if visited[node] {
			continue
		}
		visited[node] = true
		stack = append(stack, adjacency[node]...)
	}
	return false, nil
}

// RemoveDependency deletes one blocker/blocked edge.
func (s *SQLiteStorage) RemoveDependency(ctx context.Context, blockerID, blockedID string) error {
	return s.withTx(ctx, func(ctx context.Context, conn *sql.Conn) error {
		res, err := conn.ExecContext(ctx, `
			DELETE FROM task_dependencies WHERE blocker_id = ? AND blocked_id = ?
		`, blockerID, blockedID)
		if err != nil {
			return wrapDBErrorf(err, "remove dependency %s -> %s", blockerID, blockedID)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("rows affected: %w", err)
		}
		if n == 0 {
			return fmt.Errorf("remove dependency %s -> %s: %w", blockerID, blockedID, storage.ErrNotFound)
		}
		if err := s.invalidateBlockedCache(ctx, conn); err != nil {
			return err
		}
		return markTasksDirtyTx(ctx, conn, s.clock, []string{blockerID, blockedID})
	})
}

// Blockers returns the tasks that must reach done before taskID is ready.
func (s *SQLiteStorage) Blockers(ctx context.Context, taskID string) ([]*types.Task, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT t.id, t.title, t.description, t.status, t.base_score, t.assignee_id, t.assignee_kind,
			t.content_hash, t.parent_id, t.metadata, t.created_at, t.updated_at, t.completed_at
		FROM tasks t
		JOIN task_dependencies d ON d.blocker_id = t.id
		WHERE d.blocked_id = ?
	`, taskID)
	if err != nil {
		return nil, wrapDBError("query blockers", err)
	}
	defer func() { _ = rows.Close() }()
	return scanTaskList(rows)
}

// Blocked returns the tasks waiting on taskID.
func (s *SQLiteStorage) Blocked(ctx context.Context, taskID string) ([]*types.Task, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT t.id, t.title, t.description, t.status, t.base_score, t.assignee_id, t.assignee_kind,
			t.content_hash, t.parent_id, t.metadata, t.created_at, t.updated_at, t.completed_at
		FROM tasks t
		JOIN task_dependencies d ON d.blocked_id = t.id
		WHERE d.blocker_id = ?
	`, taskID)
	if err != nil {
		return nil, wrapDBError("query blocked", err)
	}
	defer func() { _ = rows.Close() }()
	return scanTaskList(rows)
}

// BlockerMap is bulk query (b): for every task in ids, the IDs of its
// blockers. One query regardless of len(ids).
func (s *SQLiteStorage) BlockerMap(ctx context.Context, ids []string) (map[string][]string, error) {
	if len(ids) == 0 {
		return map[string][]string{}, nil
	}
	placeholders := make([]string, len(ids))
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		placeholders[i] = "?"
		args[i] = id
	}
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT blocked_id, blocker_id FROM task_dependencies WHERE blocked_id IN (%s)
	`, strings.Join(placeholders, ",")), args...)
	if err != nil {
		return nil, wrapDBError("query blocker map", err)
	}
	defer func() { _ = rows.Close() }()

	m := make(map[string][]string)
	for rows.Next() {
		var blocked, blocker string
		if err := rows.Scan(&blocked, &blocker); err != nil {
			return nil, wrapDBError("scan blocker map row", err)
		}
		m[blocked] = append(m[blocked], blocker)
	}
	return m, wrapDBError("iterate blocker map", rows.Err())
}

// BlockingCountMap is bulk query (c): for every task in ids, how many
// other tasks it blocks — the scoring formula's 25-per-block bonus.
func (s *SQLiteStorage) BlockingCountMap(ctx context.Context, ids []string) (map[string]int, error) {
	if len(ids) == 0 {
		return map[string]int{}, nil
	}
	placeholders := make([]string, len(ids))
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		placeholders[i] = "?"
		args[i] = id
	}
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT blocker_id, COUNT(*) FROM task_dependencies
		WHERE blocker_id IN (%s) GROUP BY blocker_id
	`, strings.Join(placeholders, ",")), args...)
	if err != nil {
		return nil, wrapDBError("query blocking count map", err)
	}
	defer func() { _ = rows.Close() }()

	m := make(map[string]int)
	for rows.Next() {
		var blocker string
		var count int
		if err := rows.Scan(&blocker, &count); err != nil {
			return nil, wrapDBError("scan blocking count row", err)
		}
		m[blocker] = count
	}
	return m, wrapDBError("iterate blocking count map", rows.Err())
}

// DepthMap is bulk query (d): for every task in ids, its depth — the
// number of parent_id hops to the root. Computed from a single
// whole-table id/parent_id fetch walked in memory, so depth for arbitrarily
// deep hierarchies never costs more than one round trip.
func (s *SQLiteStorage) DepthMap(ctx context.Context, ids []string) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, parent_id FROM tasks`)
	if err != nil {
		return nil, wrapDBError("query parent links", err)
	}
	defer func() { _ = rows.Close() }()

	parentOf := make(map[string]string)
	for rows.Next() {
		var id string
		var parent sql.NullString
		if err := rows.Scan(&id, &parent); err != nil {
			return nil, wrapDBError("scan parent link", err)
		}
		if parent.Valid {
			parentOf[id] = parent.String
		}
	}
	if err := rows.Err(); err != nil {
		return nil, wrapDBError("iterate parent links", err)
	}

	depth := make(map[string]int, len(ids))
	for _, id := range ids {
		d := 0
		node := id
		seen := map[string]bool{}
		for {
			parent, ok := parentOf[node]
			if !ok || parent == "" || seen[parent] {
				break
			}
			seen[parent] = true
			d++
			node = parent
		}
		depth[id] = d
	}
	return depth, nil
}

// StatusMap is bulk query (e): the current status of every task in ids —
// used to resolve the statuses of the union of all blocker ids found by
// BlockerMap, without a second round trip per blocker.
func (s *SQLiteStorage) StatusMap(ctx context.Context, ids []string) (map[string]types.Status, error) {
	if len(ids) == 0 {
		return map[string]types.Status{}, nil
	}
	placeholders := make([]string, len(ids))
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		placeholders[i] = "?"
		args[i] = id
	}
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT id, status FROM tasks WHERE id IN (%s)
	`, strings.Join(placeholders, ",")), args...)
	if err != nil {
		return nil, wrapDBError("query status map", err)
	}
	defer func() { _ = rows.Close() }()

	m := make(map[string]types.Status)
	for rows.Next() {
		var id, status string
		if err := rows.Scan(&id, &status); err != nil {
			return nil, wrapDBError("scan status row", err)
		}
		m[id] = types.Status(status)
	}
	return m, wrapDBError("iterate status map", rows.Err())
}

func scanTaskList(rows *sql.Rows) ([]*types.Task, error) {
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

package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jamesaphoenix/tx/internal/types"
)

// EligibleForCompaction returns done tasks completed before cutoff whose
// entire subtree (descendants reachable via parent_id) is also done —
// compacting a task while an in-progress child still references it as
// parent would orphan the child's lineage from an exported summary.
func (s *SQLiteStorage) EligibleForCompaction(ctx context.Context, cutoff time.Time) ([]*types.Task, error) {
	rows, err := s.db.QueryContext(ctx, `
		WITH RECURSIVE descendants(root_id, id) AS (
			SELECT id, id FROM tasks
			UNION ALL
			SELECT descendants.root_id, tasks.id
			FROM tasks JOIN descendants ON tasks.parent_id = descendants.id
		)
		SELECT t.id, t.title, t.description, t.status, t.base_score, t.assignee_id, t.assignee_kind,
			t.content_hash, t.parent_id, t.metadata, t.created_at, t.updated_at, t.completed_at
		FROM tasks t
		WHERE t.status = 'done'
		  AND t.completed_at IS NOT NULL
		  AND t.completed_at < ?
		  AND NOT EXISTS (
		      SELECT 1 FROM descendants d
		      JOIN tasks dt ON dt.id = d.id
		      WHERE d.root_id = t.id AND dt.status != 'done'
		  )
	`, cutoff)
	if err != nil {
		return nil, wrapDBError("query compaction-eligible tasks", err)
	}
	defer func() { _ = rows.Close() }()
	return scanTaskList(rows)
}

// ApplyCompaction inserts the compaction_log row, deletes dependency edges
// touching taskIDs, then deletes the tasks themselves — all inside one
// transaction. Callers must have already written any markdown export
// before calling this: the ordering guarantee is that the store never
// records a compaction whose export failed, not the reverse.
func (s *SQLiteStorage) ApplyCompaction(ctx context.Context, entry *types.CompactionLogEntry, taskIDs []string) error {
	if len(taskIDs) == 0 {
		return fmt.Errorf("apply compaction: no task ids given")
	}
	if entry.CompactedAt.IsZero() {
		entry.CompactedAt = s.clock.Now()
	}
	entry.TaskCount = len(taskIDs)
	entry.TaskIDs = taskIDs

	taskIDsJSON, err := json.Marshal(taskIDs)
	if err != nil {
		return fmt.Errorf("marshal task ids: %w", err)
	}
	learningsJSON, err := json.Marshal(entry.Learnings)
	if err != nil {
		return fmt.Errorf("marshal learnings: %w", err)
	}

	return s.withTx(ctx, func(ctx context.Context, conn *sql.Conn) error {
		res, err := conn.ExecContext(ctx, `
			INSERT INTO compaction_log (compacted_at, task_count, summary, task_ids, learnings_exported_to, learnings)
			VALUES (?, ?, ?, ?, ?, ?)
		`, entry.CompactedAt, entry.TaskCount, entry.Summary, string(taskIDsJSON), entry.LearningsExportedTo, string(learningsJSON))
		if err != nil {
			return wrapDBError("insert compaction_log", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("compaction log id: %w", err)
		}
		entry.ID = id

		placeholders := make([]string, len(taskIDs))
		args := make([]interface{}, len(taskIDs))
		for i, id := range taskIDs {
			placeholders[i] = "?"
			args[i] = id
		}
		in := "(" + joinPlaceholders(placeholders) + ")"

		if _, err := conn.ExecContext(ctx, `
			DELETE FROM task_dependencies WHERE blocker_id IN `+in+` OR blocked_id IN `+in+`
		`, append(append([]interface{}{}, args...), args...)...); err != nil {
			return wrapDBError("delete dependency edges for compaction", err)
		}

		if _, err := conn.ExecContext(ctx, `DELETE FROM tasks WHERE id IN `+in, args...); err != nil {
			return wrapDBError("delete compacted tasks", err)
		}

		return s.invalidateBlockedCache(ctx, conn)
	})
}

func joinPlaceholders(ph []string) string {
	out := ""
	for i, p := range ph {
		if i > 0 {
			out += ","
		}
		out += p
	}
	return out
}

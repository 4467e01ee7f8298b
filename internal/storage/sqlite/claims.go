package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jamesaphoenix/tx/internal/clock"
	"github.com/jamesaphoenix/tx/internal/storage"
	"github.com/jamesaphoenix/tx/internal/types"
)

// ClaimTask implements spec.md §4.5's five-step atomic claim protocol: re-check
// readiness since time-of-check, insert the claim, transition the task to
// active, and transition the worker to busy — all inside one BEGIN
// IMMEDIATE transaction. A concurrent ClaimTask for the same task loses
// the race on the partial unique index and gets storage.ErrConflict rather
// than a lost-update claim.
func (s *SQLiteStorage) ClaimTask(ctx context.Context, taskID, workerID string, leaseDuration int64) (*types.TaskClaim, error) {
	var claim *types.TaskClaim
	err := s.withTx(ctx, func(ctx context.Context, conn *sql.Conn) error {
		now := s.clock.Now()

		var status string
		if err := conn.QueryRowContext(ctx, `SELECT status FROM tasks WHERE id = ?`, taskID).Scan(&status); err != nil {
			return wrapDBErrorf(err, "claim task %s", taskID)
		}
		if !types.IsReadyCandidateStatus(types.Status(status)) {
			return fmt.Errorf("claim task %s: task not ready: %w", taskID, storage.ErrConflict)
		}

		var blocked int
		if err := conn.QueryRowContext(ctx, `
			SELECT COUNT(*) FROM task_dependencies d
			JOIN tasks blocker ON blocker.id = d.blocker_id
			WHERE d.blocked_id = ? AND blocker.status != 'done'
		`, taskID).Scan(&blocked); err != nil {
			return wrapDBErrorf(err, "check blockers for task %s", taskID)
		}
		if blocked > 0 {
			return fmt.Errorf("claim task %s: task not ready: %w", taskID, storage.ErrConflict)
		}

		var workerStatus string
		if err := conn.QueryRowContext(ctx, `SELECT status FROM workers WHERE id = ?`, workerID).Scan(&workerStatus); err != nil {
			if err == sql.ErrNoRows {
				return fmt.Errorf("claim task %s: %w", taskID, storage.ErrNotFound)
			}
			return wrapDBErrorf(err, "claim task %s", taskID)
		}
		if types.WorkerStatus(workerStatus) == types.WorkerDead {
			return fmt.Errorf("claim task %s: worker %s is dead: %w", taskID, workerID, storage.ErrConflict)
		}

		expires := now.Add(time.Duration(leaseDuration) * time.Second)
		res, err := conn.ExecContext(ctx, `
			INSERT INTO task_claims (task_id, worker_id, claimed_at, lease_expires_at, renewal_count, status)
			VALUES (?, ?, ?, ?, 0, 'active')
		`, taskID, workerID, now, expires)
		if err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("claim task %s: %w", taskID, storage.ErrConflict)
			}
			return wrapDBErrorf(err, "claim task %s", taskID)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("claim id: %w", err)
		}

		if _, err := conn.ExecContext(ctx, `UPDATE tasks SET status = 'active', updated_at = ? WHERE id = ?`, now, taskID); err != nil {
			return wrapDBErrorf(err, "activate task %s", taskID)
		}
		if _, err := conn.ExecContext(ctx, `
			UPDATE workers SET status = 'busy', current_task_id = ?, last_heartbeat_at = ? WHERE id = ?
		`, taskID, now, workerID); err != nil {
			return wrapDBErrorf(err, "mark worker %s busy", workerID)
		}
		if err := markTasksDirtyTx(ctx, conn, s.clock, []string{taskID}); err != nil {
			return err
		}

		claim = &types.TaskClaim{
			ID: id, TaskID: taskID, WorkerID: workerID,
			ClaimedAt: now, LeaseExpiresAt: expires, Status: types.ClaimActive,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claim, nil
}

// RenewClaim extends an active claim's lease, incrementing renewal_count.
// Callers enforce the configured max-renewals limit (kernel/orchestrator
// level policy); this method only requires the claim still be active.
func (s *SQLiteStorage) RenewClaim(ctx context.Context, claimID int64, leaseDuration int64) (*types.TaskClaim, error) {
	var claim *types.TaskClaim
	err := s.withTx(ctx, func(ctx context.Context, conn *sql.Conn) error {
		now := s.clock.Now()
		expires := now.Add(time.Duration(leaseDuration) * time.Second)

		res, err := conn.ExecContext(ctx, `
			UPDATE task_claims SET lease_expires_at = ?, renewal_count = renewal_count + 1
			WHERE id = ? AND status = 'active'
		`, expires, claimID)
		if err != nil {
			return wrapDBErrorf(err, "renew claim %d", claimID)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("rows affected: %w", err)
		}
		if n == 0 {
			return fmt.Errorf("renew claim %d: %w", claimID, storage.ErrNotFound)
		}
		row := conn.QueryRowContext(ctx, `
			SELECT id, task_id, worker_id, claimed_at, lease_expires_at, renewal_count, status
			FROM task_claims WHERE id = ?
		`, claimID)
		claim, err = scanClaim(row)
		return err
	})
	if err != nil {
		return nil, err
	}
	return claim, nil
}

// ReleaseClaimAndTask marks the claim with a terminal status, idles the
// worker, and — unless the task already reached a terminal status such as
// done — restores the task to ready or blocked depending on its blockers,
// all within one transaction.
func (s *SQLiteStorage) ReleaseClaimAndTask(ctx context.Context, claimID int64, status types.ClaimStatus) error {
	return s.withTx(ctx, func(ctx context.Context, conn *sql.Conn) error {
		var taskID, workerID string
		if err := conn.QueryRowContext(ctx, `
			SELECT task_id, worker_id FROM task_claims WHERE id = ? AND status = 'active'
		`, claimID).Scan(&taskID, &workerID); err != nil {
			if err == sql.ErrNoRows {
				return fmt.Errorf("release claim %d: %w", claimID, storage.ErrNotFound)
			}
			return wrapDBErrorf(err, "release claim %d", claimID)
		}

		if _, err := conn.ExecContext(ctx, `
			UPDATE task_claims SET status = ? WHERE id = ?
		`, string(status), claimID); err != nil {
			return wrapDBErrorf(err, "release claim %d", claimID)
		}

		if _, err := conn.ExecContext(ctx, `
			UPDATE workers SET status = 'idle', current_task_id = NULL WHERE id = ?
		`, workerID); err != nil {
			return wrapDBErrorf(err, "idle worker %s", workerID)
		}

		if err := restoreTaskStatusTx(ctx, conn, s.clock, taskID); err != nil {
			return err
		}
		return markTasksDirtyTx(ctx, conn, s.clock, []string{taskID})
	})
}

// restoreTaskStatusTx sets taskID back to ready or blocked based on its
// current blockers, but only if the task is still active — a task that
// already finished (done) or was moved on by another writer is untouched.
func restoreTaskStatusTx(ctx context.Context, conn *sql.Conn, c clock.Clock, taskID string) error {
	var status string
	if err := conn.QueryRowContext(ctx, `SELECT status FROM tasks WHERE id = ?`, taskID).Scan(&status); err != nil {
		if err == sql.ErrNoRows {
			return nil
		}
		return wrapDBErrorf(err, "load task %s for status restore", taskID)
	}
	if status != string(types.StatusActive) {
		return nil
	}

	var blocked int
	if err := conn.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM task_dependencies d
		JOIN tasks blocker ON blocker.id = d.blocker_id
		WHERE d.blocked_id = ? AND blocker.status != 'done'
	`, taskID).Scan(&blocked); err != nil {
		return wrapDBErrorf(err, "check blockers for task %s", taskID)
	}

	next := types.StatusReady
	if blocked > 0 {
		next = types.StatusBlocked
	}
	_, err := conn.ExecContext(ctx, `UPDATE tasks SET status = ?, updated_at = ? WHERE id = ?`, string(next), c.Now(), taskID)
	return wrapDBErrorf(err, "restore task %s status", taskID)
}

// RestoreTaskAfterClaimEnd is the standalone entry point used by the
// reconciliation pass for tasks found orphaned without going through
// ReleaseClaimAndTask (the claim may already be gone or never existed).
func (s *SQLiteStorage) RestoreTaskAfterClaimEnd(ctx context.Context, taskID string) error {
	return s.withTx(ctx, func(ctx context.Context, conn *sql.Conn) error {
		if err := restoreTaskStatusTx(ctx, conn, s.clock, taskID); err != nil {
			return err
		}
		return markTasksDirtyTx(ctx, conn, s.clock, []string{taskID})
	})
}

// GetActiveClaim returns the current active claim on taskID, if any.
func (s *SQLiteStorage) GetActiveClaim(ctx context.Context, taskID string) (*types.TaskClaim, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, task_id, worker_id, claimed_at, lease_expires_at, renewal_count, status
		FROM task_claims WHERE task_id = ? AND status = 'active'
	`, taskID)
	return scanClaim(row)
}

// GetClaim returns a claim by id regardless of status.
func (s *SQLiteStorage) GetClaim(ctx context.Context, claimID int64) (*types.TaskClaim, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, task_id, worker_id, claimed_at, lease_expires_at, renewal_count, status
		FROM task_claims WHERE id = ?
	`, claimID)
	return scanClaim(row)
}

// ExpiredClaims returns every active claim whose lease has passed, for the
// orchestrator's reconciliation pass to release.
func (s *SQLiteStorage) ExpiredClaims(ctx context.Context) ([]*types.TaskClaim, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, task_id, worker_id, claimed_at, lease_expires_at, renewal_count, status
		FROM task_claims WHERE status = 'active' AND lease_expires_at < ?
	`, s.clock.Now())
	if err != nil {
		return nil, wrapDBError("query expired claims", err)
	}
	defer func() { _ = rows.Close() }()

	var claims []*types.TaskClaim
	for rows.Next() {
		c, err := scanClaim(rows)
		if err != nil {
			return nil, err
		}
		claims = append(claims, c)
	}
	return claims, wrapDBError("iterate expired claims", rows.Err())
}

// OrphanedActiveTasks returns tasks with status active but no active
// claim — crash-orphaned work the reconciliation pass must restore.
func (s *SQLiteStorage) OrphanedActiveTasks(ctx context.Context) ([]*types.Task, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT t.id, t.title, t.description, t.status, t.base_score, t.assignee_id, t.assignee_kind,
			t.content_hash, t.parent_id, t.metadata, t.created_at, t.updated_at, t.completed_at
		FROM tasks t
		WHERE t.status = 'active'
		  AND NOT EXISTS (SELECT 1 FROM task_claims c WHERE c.task_id = t.id AND c.status = 'active')
	`)
	if err != nil {
		return nil, wrapDBError("query orphaned active tasks", err)
	}
	defer func() { _ = rows.Close() }()
	return scanTaskList(rows)
}

func scanClaim(s rowScanner) (*types.TaskClaim, error) {
	var c types.TaskClaim
	var status, claimedAt, leaseExpiresAt string
	if err := s.Scan(&c.ID, &c.TaskID, &c.WorkerID, &claimedAt, &leaseExpiresAt, &c.RenewalCount, &status); err != nil {
		return nil, wrapDBError("scan claim", err)
	}
	c.Status = types.ClaimStatus(status)
	c.ClaimedAt = parseTimeString(claimedAt)
	c.LeaseExpiresAt = parseTimeString(leaseExpiresAt)
	return &c, nil
}

package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jamesaphoenix/tx/internal/storage"
	"github.com/jamesaphoenix/tx/internal/types"
)

// RegisterWorker counts workers currently in {starting,idle,busy} and
// inserts the new row in the same BEGIN IMMEDIATE transaction, so two
// workers racing to fill the last pool slot can't both succeed. poolSize
// <= 0 means unbounded.
func (s *SQLiteStorage) RegisterWorker(ctx context.Context, w *types.Worker, poolSize int) error {
	now := s.clock.Now()
	if w.RegisteredAt.IsZero() {
		w.RegisteredAt = now
	}
	w.LastHeartbeatAt = now
	if w.Status == "" {
		w.Status = types.WorkerStarting
	}

	capabilities := formatJSONStringArray(w.Capabilities)
	metadata, err := marshalMetadata(w.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}

	return s.withTx(ctx, func(ctx context.Context, conn *sql.Conn) error {
		if poolSize > 0 {
			var n int
			if err := conn.QueryRowContext(ctx, `
				SELECT COUNT(*) FROM workers WHERE status IN ('starting', 'idle', 'busy')
			`).Scan(&n); err != nil {
				return wrapDBErrorf(err, "count active workers for %s", w.ID)
			}
			if n >= poolSize {
				return fmt.Errorf("register worker %s: pool of %d already full: %w", w.ID, poolSize, storage.ErrConflict)
			}
		}

		_, err := conn.ExecContext(ctx, `
			INSERT INTO workers (id, name, hostname, pid, status, registered_at, last_heartbeat_at,
				current_task_id, capabilities, metadata, cpu_percent, memory_mb, tasks_completed)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, 0, 0)
		`, w.ID, w.Name, w.Hostname, w.PID, string(w.Status), w.RegisteredAt, w.LastHeartbeatAt,
			nullIfEmptyStr(w.CurrentTaskID), capabilities, metadata)
		if err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("register worker %s: %w", w.ID, storage.ErrConflict)
			}
			return wrapDBErrorf(err, "register worker %s", w.ID)
		}
		return nil
	})
}

// Heartbeat updates a worker's liveness timestamp and self-reported
// metrics. The store never reads CPU/memory cross-process for any purpose
// other than display — reconciliation relies solely on LastHeartbeatAt age.
func (s *SQLiteStorage) Heartbeat(ctx context.Context, workerID string, metrics types.Worker) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE workers SET last_heartbeat_at = ?, status = ?, cpu_percent = ?, memory_mb = ?,
			tasks_completed = ?, current_task_id = ?
		WHERE id = ?
	`, s.clock.Now(), string(metrics.Status), metrics.CPUPercent, metrics.MemoryMB,
		metrics.TasksCompleted, nullIfEmptyStr(metrics.CurrentTaskID), workerID)
	if err != nil {
		return wrapDBErrorf(err, "heartbeat worker %s", workerID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("heartbeat worker %s: %w", workerID, storage.ErrNotFound)
	}
	return nil
}

func (s *SQLiteStorage) GetWorker(ctx context.Context, id string) (*types.Worker, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, hostname, pid, status, registered_at, last_heartbeat_at, current_task_id,
			capabilities, metadata, cpu_percent, memory_mb, tasks_completed
		FROM workers WHERE id = ?
	`, id)
	return scanWorker(row)
}

func (s *SQLiteStorage) ListWorkers(ctx context.Context) ([]*types.Worker, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, hostname, pid, status, registered_at, last_heartbeat_at, current_task_id,
			capabilities, metadata, cpu_percent, memory_mb, tasks_completed
		FROM workers ORDER BY registered_at ASC
	`)
	if err != nil {
		return nil, wrapDBError("list workers", err)
	}
	defer func() { _ = rows.Close() }()

	var workers []*types.Worker
	for rows.Next() {
		w, err := scanWorker(rows)
		if err != nil {
			return nil, err
		}
		workers = append(workers, w)
	}
	return workers, wrapDBError("iterate workers", rows.Err())
}

// MarkWorkerDead flips a worker to dead. Called by reconciliation when a
// worker's heartbeat has gone stale past the lease grace period.
func (s *SQLiteStorage) MarkWorkerDead(ctx context.Context, workerID string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE workers SET status = ? WHERE id = ?`, string(types.WorkerDead), workerID)
	return wrapDBErrorf(err, "mark worker %s dead", workerID)
}

// StaleWorkers returns every non-dead worker whose last heartbeat predates
// threshold, for the reconciliation pass's dead-worker sweep.
func (s *SQLiteStorage) StaleWorkers(ctx context.Context, threshold time.Time) ([]*types.Worker, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, hostname, pid, status, registered_at, last_heartbeat_at, current_task_id,
			capabilities, metadata, cpu_percent, memory_mb, tasks_completed
		FROM workers WHERE status != 'dead' AND last_heartbeat_at < ?
	`, threshold)
	if err != nil {
		return nil, wrapDBError("query stale workers", err)
	}
	defer func() { _ = rows.Close() }()

	var workers []*types.Worker
	for rows.Next() {
		w, err := scanWorker(rows)
		if err != nil {
			return nil, err
		}
		workers = append(workers, w)
	}
	return workers, wrapDBError("iterate stale workers", rows.Err())
}

// IdleMismatchedWorkers returns workers marked busy whose current task is
// missing, null, or no longer active — state the reconciliation pass
// repairs by idling the worker.
func (s *SQLiteStorage) IdleMismatchedWorkers(ctx context.Context) ([]*types.Worker, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT w.id, w.name, w.hostname, w.pid, w.status, w.registered_at, w.last_heartbeat_at,
			w.current_task_id, w.capabilities, w.metadata, w.cpu_percent, w.memory_mb, w.tasks_completed
		FROM workers w
		WHERE w.status = 'busy'
		  AND (
		      w.current_task_id IS NULL
		      OR NOT EXISTS (
		          SELECT 1 FROM tasks t WHERE t.id = w.current_task_id AND t.status = 'active'
		      )
		  )
	`)
	if err != nil {
		return nil, wrapDBError("query idle-mismatched workers", err)
	}
	defer func() { _ = rows.Close() }()

	var workers []*types.Worker
	for rows.Next() {
		w, err := scanWorker(rows)
		if err != nil {
			return nil, err
		}
		workers = append(workers, w)
	}
	return workers, wrapDBError("iterate idle-mismatched workers", rows.Err())
}

// SetWorkerIdle clears current_task_id and sets status to idle.
func (s *SQLiteStorage) SetWorkerIdle(ctx context.Context, workerID string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE workers SET status = 'idle', current_task_id = NULL WHERE id = ?
	`, workerID)
	if err != nil {
		return wrapDBErrorf(err, "idle worker %s", workerID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("idle worker %s: %w", workerID, storage.ErrNotFound)
	}
	return nil
}

func scanWorker(s rowScanner) (*types.Worker, error) {
	var w types.Worker
	var status string
	var currentTaskID, capabilities, metadata sql.NullString
	var registeredAt, lastHeartbeatAt string

	err := s.Scan(&w.ID, &w.Name, &w.Hostname, &w.PID, &status, &registeredAt, &lastHeartbeatAt,
		&currentTaskID, &capabilities, &metadata, &w.CPUPercent, &w.MemoryMB, &w.TasksCompleted)
	if err != nil {
		return nil, wrapDBError("scan worker", err)
	}

	w.Status = types.WorkerStatus(status)
	w.CurrentTaskID = currentTaskID.String
	w.RegisteredAt = parseTimeString(registeredAt)
	w.LastHeartbeatAt = parseTimeString(lastHeartbeatAt)
	w.Capabilities = parseJSONStringArray(capabilities.String)
	if metadata.Valid && metadata.String != "" && metadata.String != "{}" {
		var m map[string]any
		if err := json.Unmarshal([]byte(metadata.String), &m); err == nil {
			w.Metadata = m
		}
	}
	return &w, nil
}

package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jamesaphoenix/tx/internal/storage"
	"github.com/jamesaphoenix/tx/internal/types"
)

func (s *SQLiteStorage) CreateRun(ctx context.Context, r *types.Run) error {
	if r.StartedAt.IsZero() {
		r.StartedAt = s.clock.Now()
	}
	if r.Status == "" {
		r.Status = types.RunRunning
	}
	metadata, err := marshalMetadata(r.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO runs (id, task_id, agent, started_at, ended_at, status, exit_code, pid,
			transcript_path, stdout_path, stderr_path, injected_context, summary, error_message,
			metadata, stdout_bytes, stderr_bytes, transcript_bytes, last_activity_at)
		VALUES (?, ?, ?, ?, NULL, ?, NULL, ?, ?, ?, ?, ?, ?, ?, ?, 0, 0, 0, ?)
	`, r.ID, r.TaskID, r.Agent, r.StartedAt, string(r.Status), r.PID, r.TranscriptPath, r.StdoutPath,
		r.StderrPath, r.InjectedContext, r.Summary, r.ErrorMessage, metadata, r.StartedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("create run %s: %w", r.ID, storage.ErrConflict)
		}
		return wrapDBErrorf(err, "create run %s", r.ID)
	}
	return nil
}

func (s *SQLiteStorage) UpdateRun(ctx context.Context, r *types.Run) error {
	metadata, err := marshalMetadata(r.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE runs SET status = ?, ended_at = ?, exit_code = ?, summary = ?, error_message = ?, metadata = ?
		WHERE id = ?
	`, string(r.Status), r.EndedAt, r.ExitCode, r.Summary, r.ErrorMessage, metadata, r.ID)
	if err != nil {
		return wrapDBErrorf(err, "update run %s", r.ID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("update run %s: %w", r.ID, storage.ErrNotFound)
	}
	return nil
}

// ApplyHeartbeat records a worker's progress report for a run: byte
// counters monotonically increase, and activity timestamps only move
// forward, so an out-of-order heartbeat delivery can't regress state.
func (s *SQLiteStorage) ApplyHeartbeat(ctx context.Context, hb types.Heartbeat) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE runs SET
			stdout_bytes = MAX(stdout_bytes, ?),
			stderr_bytes = MAX(stderr_bytes, ?),
			transcript_bytes = MAX(transcript_bytes, ?),
			last_activity_at = CASE
				WHEN last_activity_at IS NULL OR ? > last_activity_at THEN ?
				ELSE last_activity_at
			END
		WHERE id = ?
	`, hb.StdoutBytes, hb.StderrBytes, hb.TranscriptBytes, activityTimestamp(hb), activityTimestamp(hb), hb.RunID)
	if err != nil {
		return wrapDBErrorf(err, "apply heartbeat for run %s", hb.RunID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("apply heartbeat for run %s: %w", hb.RunID, storage.ErrNotFound)
	}
	return nil
}

func activityTimestamp(hb types.Heartbeat) interface{} {
	if hb.ActivityAt != nil {
		return *hb.ActivityAt
	}
	if hb.CheckAt != nil {
		return *hb.CheckAt
	}
	return nil
}

func (s *SQLiteStorage) GetRun(ctx context.Context, id string) (*types.Run, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, task_id, agent, started_at, ended_at, status, exit_code, pid,
			transcript_path, stdout_path, stderr_path, injected_context, summary, error_message,
			metadata, stdout_bytes, stderr_bytes, transcript_bytes, last_activity_at
		FROM runs WHERE id = ?
	`, id)
	return scanRun(row)
}

func scanRun(s rowScanner) (*types.Run, error) {
	var r types.Run
	var status string
	var endedAt, metadata, lastActivityAt sql.NullString
	var exitCode sql.NullInt64
	var startedAt string

	err := s.Scan(&r.ID, &r.TaskID, &r.Agent, &startedAt, &endedAt, &status, &exitCode, &r.PID,
		&r.TranscriptPath, &r.StdoutPath, &r.StderrPath, &r.InjectedContext, &r.Summary, &r.ErrorMessage,
		&metadata, &r.StdoutBytes, &r.StderrBytes, &r.TranscriptBytes, &lastActivityAt)
	if err != nil {
		return nil, wrapDBError("scan run", err)
	}
	r.Status = types.RunStatus(status)
	r.StartedAt = parseTimeString(startedAt)
	r.EndedAt = parseNullableTimeString(endedAt)
	if t := parseNullableTimeString(lastActivityAt); t != nil {
		r.LastActivityAt = *t
	}
	if exitCode.Valid {
		v := int(exitCode.Int64)
		r.ExitCode = &v
	}
	return &r, nil
}

// --- Messages ---

func (s *SQLiteStorage) AppendMessage(ctx context.Context, m *types.Message) error {
	if m.CreatedAt.IsZero() {
		m.CreatedAt = s.clock.Now()
	}
	if m.Status == "" {
		m.Status = types.MessagePending
	}
	metadata, err := marshalMetadata(m.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO messages (channel, sender, content, status, correlation_id, task_id, metadata,
			created_at, acked_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, NULL, ?)
	`, m.Channel, m.Sender, m.Content, string(m.Status), m.CorrelationID, nullIfEmptyStr(m.TaskID),
		metadata, m.CreatedAt, m.ExpiresAt)
	if err != nil {
		return wrapDBError("append message", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("message id: %w", err)
	}
	m.ID = id
	return nil
}

func (s *SQLiteStorage) PendingMessages(ctx context.Context, channel string) ([]*types.Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, channel, sender, content, status, correlation_id, task_id, metadata,
			created_at, acked_at, expires_at
		FROM messages WHERE channel = ? AND status = 'pending' ORDER BY created_at ASC
	`, channel)
	if err != nil {
		return nil, wrapDBError("list pending messages", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*types.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, wrapDBError("iterate pending messages", rows.Err())
}

func (s *SQLiteStorage) AckMessage(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE messages SET status = 'acked', acked_at = ? WHERE id = ? AND status = 'pending'
	`, s.clock.Now(), id)
	if err != nil {
		return wrapDBErrorf(err, "ack message %d", id)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("ack message %d: %w", id, storage.ErrNotFound)
	}
	return nil
}

func scanMessage(s rowScanner) (*types.Message, error) {
	var m types.Message
	var status string
	var taskID, metadata, ackedAt, expiresAt sql.NullString
	var createdAt string

	err := s.Scan(&m.ID, &m.Channel, &m.Sender, &m.Content, &status, &m.CorrelationID, &taskID,
		&metadata, &createdAt, &ackedAt, &expiresAt)
	if err != nil {
		return nil, wrapDBError("scan message", err)
	}
	m.Status = types.MessageStatus(status)
	m.TaskID = taskID.String
	m.CreatedAt = parseTimeString(createdAt)
	m.AckedAt = parseNullableTimeString(ackedAt)
	m.ExpiresAt = parseNullableTimeString(expiresAt)
	return &m, nil
}

package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/jamesaphoenix/tx/internal/storage"
	"github.com/jamesaphoenix/tx/internal/types"
)

// GetOrchestratorState reads the singleton orchestrator_state row,
// returning storage.ErrNotFound until an orchestrator has run Set once
// (the row is seeded on first start, not by migration).
func (s *SQLiteStorage) GetOrchestratorState(ctx context.Context) (*types.OrchestratorState, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT status, pid, started_at, last_reconcile_at, pool_size,
			reconcile_interval_seconds, heartbeat_interval_seconds, lease_duration_seconds, metadata
		FROM orchestrator_state WHERE id = 1
	`)

	var st types.OrchestratorState
	var status string
	var startedAt, lastReconcileAt, metadata sql.NullString
	err := row.Scan(&status, &st.PID, &startedAt, &lastReconcileAt, &st.PoolSize,
		&st.ReconcileIntervalSecond, &st.HeartbeatIntervalSecond, &st.LeaseDurationSeconds, &metadata)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("get orchestrator state: %w", storage.ErrNotFound)
	}
	if err != nil {
		return nil, wrapDBError("scan orchestrator state", err)
	}

	st.Status = types.OrchestratorStatus(status)
	st.StartedAt = parseNullableTimeString(startedAt)
	st.LastReconcileAt = parseNullableTimeString(lastReconcileAt)
	if metadata.Valid && metadata.String != "" && metadata.String != "{}" {
		m, err := unmarshalMetadataMap(metadata.String)
		if err != nil {
			return nil, fmt.Errorf("unmarshal orchestrator metadata: %w", err)
		}
		st.Metadata = m
	}
	return &st, nil
}

// SetOrchestratorState upserts the singleton row, either seeding it on
// first start or updating it on every reconcile/status transition.
func (s *SQLiteStorage) SetOrchestratorState(ctx context.Context, st *types.OrchestratorState) error {
	metadata, err := marshalMetadata(st.Metadata)
	if err != nil {
		return fmt.Errorf("marshal orchestrator metadata: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO orchestrator_state (id, status, pid, started_at, last_reconcile_at, pool_size,
			reconcile_interval_seconds, heartbeat_interval_seconds, lease_duration_seconds, metadata)
		VALUES (1, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			status = excluded.status,
			pid = excluded.pid,
			started_at = excluded.started_at,
			last_reconcile_at = excluded.last_reconcile_at,
			pool_size = excluded.pool_size,
			reconcile_interval_seconds = excluded.reconcile_interval_seconds,
			heartbeat_interval_seconds = excluded.heartbeat_interval_seconds,
			lease_duration_seconds = excluded.lease_duration_seconds,
			metadata = excluded.metadata
	`, string(st.Status), st.PID, st.StartedAt, st.LastReconcileAt, st.PoolSize,
		st.ReconcileIntervalSecond, st.HeartbeatIntervalSecond, st.LeaseDurationSeconds, metadata)
	return wrapDBError("set orchestrator state", err)
}

func unmarshalMetadataMap(s string) (map[string]any, error) {
	if s == "" || s == "{}" {
		return nil, nil
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(s), &m); err != nil {
		return nil, err
	}
	return m, nil
}

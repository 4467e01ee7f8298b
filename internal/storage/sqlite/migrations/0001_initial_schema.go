package migrations

import (
	"context"
	"database/sql"
	"fmt"
)

func migrateInitialSchema(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS tasks (
			id TEXT PRIMARY KEY,
			title TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL,
			base_score INTEGER NOT NULL DEFAULT 0,
			assignee_id TEXT,
			assignee_kind TEXT,
			content_hash TEXT NOT NULL DEFAULT '',
			parent_id TEXT REFERENCES tasks(id) ON DELETE SET NULL,
			metadata TEXT NOT NULL DEFAULT '{}',
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			completed_at TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status)`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_parent ON tasks(parent_id)`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_assignee ON tasks(assignee_id)`,

		`CREATE TABLE IF NOT EXISTS task_dependencies (
			blocker_id TEXT NOT NULL REFERENCES tasks(id) ON DELETE CASCADE,
			blocked_id TEXT NOT NULL REFERENCES tasks(id) ON DELETE CASCADE,
			created_at TEXT NOT NULL,
			PRIMARY KEY (blocker_id, blocked_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_task_deps_blocked ON task_dependencies(blocked_id)`,
		`CREATE INDEX IF NOT EXISTS idx_task_deps_blocker ON task_dependencies(blocker_id)`,

		`CREATE TABLE IF NOT EXISTS dirty_tasks (
			task_id TEXT PRIMARY KEY REFERENCES tasks(id) ON DELETE CASCADE,
			content_hash TEXT,
			marked_at TEXT NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS workers (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			hostname TEXT NOT NULL DEFAULT '',
			pid INTEGER NOT NULL DEFAULT 0,
			status TEXT NOT NULL,
			registered_at TEXT NOT NULL,
			last_heartbeat_at TEXT NOT NULL,
			current_task_id TEXT REFERENCES tasks(id) ON DELETE SET NULL,
			capabilities TEXT NOT NULL DEFAULT '[]',
			metadata TEXT NOT NULL DEFAULT '{}',
			cpu_percent REAL NOT NULL DEFAULT 0,
			memory_mb REAL NOT NULL DEFAULT 0,
			tasks_completed INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_workers_status ON workers(status)`,

		`CREATE TABLE IF NOT EXISTS task_claims (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			task_id TEXT NOT NULL REFERENCES tasks(id) ON DELETE CASCADE,
			worker_id TEXT NOT NULL REFERENCES workers(id) ON DELETE CASCADE,
			claimed_at TEXT NOT NULL,
			lease_expires_at TEXT NOT NULL,
			renewal_count INTEGER NOT NULL DEFAULT 0,
			status TEXT NOT NULL
		)`,
		// At most one active claim per task, enforced with a partial unique
		// index rather than a table constraint so released/expired history
		// rows don't collide.
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_task_claims_one_active
			ON task_claims(task_id) WHERE status = 'active'`,
		`CREATE INDEX IF NOT EXISTS idx_task_claims_worker ON task_claims(worker_id)`,
		`CREATE INDEX IF NOT EXISTS idx_task_claims_lease ON task_claims(lease_expires_at) WHERE status = 'active'`,

		`CREATE TABLE IF NOT EXISTS orchestrator_state (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			status TEXT NOT NULL,
			pid INTEGER NOT NULL DEFAULT 0,
			started_at TEXT,
			last_reconcile_at TEXT,
			pool_size INTEGER NOT NULL DEFAULT 1,
			reconcile_interval_seconds INTEGER NOT NULL DEFAULT 30,
			heartbeat_interval_seconds INTEGER NOT NULL DEFAULT 10,
			lease_duration_seconds INTEGER NOT NULL DEFAULT 300,
			metadata TEXT NOT NULL DEFAULT '{}'
		)`,

		`CREATE TABLE IF NOT EXISTS learnings (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			content TEXT NOT NULL,
			source TEXT NOT NULL,
			source_ref TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL,
			keywords TEXT NOT NULL DEFAULT '[]',
			category TEXT NOT NULL DEFAULT '',
			usage_count INTEGER NOT NULL DEFAULT 0,
			last_used_at TEXT,
			outcome_score REAL,
			embedding BLOB
		)`,
		`CREATE INDEX IF NOT EXISTS idx_learnings_category ON learnings(category)`,

		`CREATE TABLE IF NOT EXISTS learning_candidates (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			content TEXT NOT NULL,
			confidence TEXT NOT NULL,
			category TEXT NOT NULL DEFAULT '',
			source_file TEXT NOT NULL DEFAULT '',
			source_run_id TEXT NOT NULL DEFAULT '',
			source_task_id TEXT NOT NULL DEFAULT '',
			extracted_at TEXT NOT NULL,
			status TEXT NOT NULL,
			reviewed_by TEXT NOT NULL DEFAULT '',
			reviewed_at TEXT,
			promoted_learning_id INTEGER REFERENCES learnings(id) ON DELETE SET NULL,
			rejection_reason TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE INDEX IF NOT EXISTS idx_learning_candidates_status ON learning_candidates(status)`,

		`CREATE TABLE IF NOT EXISTS anchors (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			learning_id INTEGER NOT NULL REFERENCES learnings(id) ON DELETE CASCADE,
			type TEXT NOT NULL,
			value TEXT NOT NULL DEFAULT '',
			file_path TEXT NOT NULL DEFAULT '',
			symbol_fqn TEXT NOT NULL DEFAULT '',
			line_start INTEGER NOT NULL DEFAULT 0,
			line_end INTEGER NOT NULL DEFAULT 0,
			content_hash TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL,
			pinned INTEGER NOT NULL DEFAULT 0,
			verified_at TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_anchors_learning ON anchors(learning_id)`,

		`CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			task_id TEXT NOT NULL REFERENCES tasks(id) ON DELETE CASCADE,
			agent TEXT NOT NULL DEFAULT '',
			started_at TEXT NOT NULL,
			ended_at TEXT,
			status TEXT NOT NULL,
			exit_code INTEGER,
			pid INTEGER NOT NULL DEFAULT 0,
			transcript_path TEXT NOT NULL DEFAULT '',
			stdout_path TEXT NOT NULL DEFAULT '',
			stderr_path TEXT NOT NULL DEFAULT '',
			injected_context TEXT NOT NULL DEFAULT '',
			summary TEXT NOT NULL DEFAULT '',
			error_message TEXT NOT NULL DEFAULT '',
			metadata TEXT NOT NULL DEFAULT '{}',
			stdout_bytes INTEGER NOT NULL DEFAULT 0,
			stderr_bytes INTEGER NOT NULL DEFAULT 0,
			transcript_bytes INTEGER NOT NULL DEFAULT 0,
			last_activity_at TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_task ON runs(task_id)`,

		`CREATE TABLE IF NOT EXISTS messages (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			channel TEXT NOT NULL,
			sender TEXT NOT NULL DEFAULT '',
			content TEXT NOT NULL,
			status TEXT NOT NULL,
			correlation_id TEXT NOT NULL DEFAULT '',
			task_id TEXT REFERENCES tasks(id) ON DELETE SET NULL,
			metadata TEXT NOT NULL DEFAULT '{}',
			created_at TEXT NOT NULL,
			acked_at TEXT,
			expires_at TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_channel_status ON messages(channel, status)`,

		`CREATE TABLE IF NOT EXISTS config (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS metadata (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`,
	}

	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("exec %q: %w", stmt, err)
		}
	}
	return nil
}

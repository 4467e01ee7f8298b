// Package migrations applies tx's SQLite schema in ordered, idempotent
// steps. Each step checks for its own table/column before creating it, so
// Apply is safe to call against both a brand-new file and one already at
// the current schema version.
package migrations

import (
	"context"
	"database/sql"
	"fmt"
)

type step struct {
	name string
	fn   func(ctx context.Context, db *sql.DB) error
}

var steps = []step{
	{"0001_initial_schema", migrateInitialSchema},
	{"0002_learnings_fts", migrateLearningsFTS},
	{"0003_blocked_tasks_cache", migrateBlockedTasksCache},
	{"0004_compaction_log", migrateCompactionLog},
	{"0005_learning_edges", migrateLearningEdges},
}

// LatestName returns the name of the most recently defined migration
// step, for diagnostics comparing a database's applied version against
// what this binary knows how to apply.
func LatestName() string {
	if len(steps) == 0 {
		return ""
	}
	return steps[len(steps)-1].name
}

// Apply runs every schema step that hasn't already been recorded in
// schema_migrations, in order. It refuses a database whose newest recorded
// step is newer than LatestName.
func Apply(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			name TEXT PRIMARY KEY,
			applied_at TEXT NOT NULL DEFAULT (datetime('now'))
		)
	`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	var newest sql.NullString
	if err := db.QueryRowContext(ctx, `SELECT MAX(name) FROM schema_migrations`).Scan(&newest); err != nil {
		return fmt.Errorf("read schema_migrations: %w", err)
	}
	if newest.Valid && newest.String > LatestName() {
		return fmt.Errorf("database schema %s is newer than this binary's latest migration %s", newest.String, LatestName())
	}

	for _, s := range steps {
		var applied int
		if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM schema_migrations WHERE name = ?`, s.name).Scan(&applied); err != nil {
			return fmt.Errorf("check migration %s: %w", s.name, err)
		}
		if applied > 0 {
			continue
		}
		if err := s.fn(ctx, db); err != nil {
			return fmt.Errorf("migration %s: %w", s.name, err)
		}
		if _, err := db.ExecContext(ctx, `INSERT INTO schema_migrations (name) VALUES (?)`, s.name); err != nil {
			return fmt.Errorf("record migration %s: %w", s.name, err)
		}
	}
	return nil
}

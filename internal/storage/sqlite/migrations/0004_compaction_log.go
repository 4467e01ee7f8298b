package migrations

import (
	"context"
	"database/sql"
	"fmt"
)

// migrateCompactionLog creates compaction_log, an append-only record of
// every compaction run: which done tasks it removed, the distilled
// summary (if an LLM backend produced one), and where the learnings it
// extracted were exported.
func migrateCompactionLog(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS compaction_log (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			compacted_at TEXT NOT NULL,
			task_count INTEGER NOT NULL,
			summary TEXT NOT NULL DEFAULT '',
			task_ids TEXT NOT NULL DEFAULT '[]',
			learnings_exported_to TEXT NOT NULL DEFAULT '',
			learnings TEXT NOT NULL DEFAULT '[]'
		)
	`)
	if err != nil {
		return fmt.Errorf("create compaction_log: %w", err)
	}
	return nil
}

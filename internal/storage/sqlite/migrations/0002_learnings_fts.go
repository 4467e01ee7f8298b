package migrations

import (
	"context"
	"database/sql"
	"fmt"
)

// migrateLearningsFTS creates an FTS5 shadow table over learnings.content
// plus triggers that keep it in sync, so KeywordSearch can rank with
// bm25() instead of a LIKE scan.
func migrateLearningsFTS(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE VIRTUAL TABLE IF NOT EXISTS learnings_fts USING fts5(
			content,
			content='learnings',
			content_rowid='id'
		)`,
		`CREATE TRIGGER IF NOT EXISTS learnings_fts_ai AFTER INSERT ON learnings BEGIN
			INSERT INTO learnings_fts(rowid, content) VALUES (new.id, new.content);
		END`,
		`CREATE TRIGGER IF NOT EXISTS learnings_fts_ad AFTER DELETE ON learnings BEGIN
			INSERT INTO learnings_fts(learnings_fts, rowid, content) VALUES ('delete', old.id, old.content);
		END`,
		`CREATE TRIGGER IF NOT EXISTS learnings_fts_au AFTER UPDATE ON learnings BEGIN
			INSERT INTO learnings_fts(learnings_fts, rowid, content) VALUES ('delete', old.id, old.content);
			INSERT INTO learnings_fts(rowid, content) VALUES (new.id, new.content);
		END`,
	}
	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("exec %q: %w", stmt, err)
		}
	}
	return nil
}

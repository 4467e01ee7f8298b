package migrations

import (
	"context"
	"database/sql"
	"fmt"
)

// migrateLearningEdges creates learning_edges, the typed graph retrieval
// walks during bounded-depth expansion.
func migrateLearningEdges(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS learning_edges (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			from_learning_id INTEGER NOT NULL REFERENCES learnings(id),
			to_learning_id INTEGER NOT NULL REFERENCES learnings(id),
			edge_type TEXT NOT NULL,
			created_at TEXT NOT NULL,
			UNIQUE(from_learning_id, to_learning_id, edge_type)
		)
	`)
	if err != nil {
		return fmt.Errorf("create learning_edges: %w", err)
	}
	if _, err := db.ExecContext(ctx, `
		CREATE INDEX IF NOT EXISTS idx_learning_edges_from ON learning_edges(from_learning_id)
	`); err != nil {
		return fmt.Errorf("create idx_learning_edges_from: %w", err)
	}
	return nil
}

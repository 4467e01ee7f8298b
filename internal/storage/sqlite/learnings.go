package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/jamesaphoenix/tx/internal/storage"
	"github.com/jamesaphoenix/tx/internal/types"
)

func (s *SQLiteStorage) CreateLearning(ctx context.Context, l *types.Learning) error {
	if l.CreatedAt.IsZero() {
		l.CreatedAt = s.clock.Now()
	}
	keywords := formatJSONStringArray(l.Keywords)
	embedding := encodeEmbedding(l.Embedding)

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO learnings (content, source, source_ref, created_at, keywords, category,
			usage_count, last_used_at, outcome_score, embedding)
		VALUES (?, ?, ?, ?, ?, ?, 0, NULL, ?, ?)
	`, l.Content, string(l.Source), l.SourceRef, l.CreatedAt, keywords, l.Category, l.OutcomeScore, embedding)
	if err != nil {
		return wrapDBError("create learning", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("learning id: %w", err)
	}
	l.ID = id
	return nil
}

func (s *SQLiteStorage) GetLearning(ctx context.Context, id int64) (*types.Learning, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, content, source, source_ref, created_at, keywords, category,
			usage_count, last_used_at, outcome_score, embedding
		FROM learnings WHERE id = ?
	`, id)
	return scanLearning(row)
}

func (s *SQLiteStorage) DeleteLearning(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM learnings WHERE id = ?`, id)
	if err != nil {
		return wrapDBErrorf(err, "delete learning %d", id)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("delete learning %d: %w", id, storage.ErrNotFound)
	}
	return nil
}

// KeywordSearch ranks learnings by bm25() over the FTS5 shadow table,
// returning the top limit matches best-first.
func (s *SQLiteStorage) KeywordSearch(ctx context.Context, query string, limit int) ([]*types.Learning, error) {
	if strings.TrimSpace(query) == "" {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT l.id, l.content, l.source, l.source_ref, l.created_at, l.keywords, l.category,
			l.usage_count, l.last_used_at, l.outcome_score, l.embedding
		FROM learnings_fts f
		JOIN learnings l ON l.id = f.rowid
		WHERE learnings_fts MATCH ?
		ORDER BY bm25(learnings_fts) ASC
		LIMIT ?
	`, query, limit)
	if err != nil {
		return nil, wrapDBError("keyword search learnings", err)
	}
	defer func() { _ = rows.Close() }()

	var learnings []*types.Learning
	for rows.Next() {
		l, err := scanLearning(rows)
		if err != nil {
			return nil, err
		}
		learnings = append(learnings, l)
	}
	return learnings, wrapDBError("iterate keyword search results", rows.Err())
}

// AllLearnings returns every learning, for the vector index to score
// in-process (see internal/retrieval).
func (s *SQLiteStorage) AllLearnings(ctx context.Context) ([]*types.Learning, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, content, source, source_ref, created_at, keywords, category,
			usage_count, last_used_at, outcome_score, embedding
		FROM learnings
	`)
	if err != nil {
		return nil, wrapDBError("list learnings", err)
	}
	defer func() { _ = rows.Close() }()

	var learnings []*types.Learning
	for rows.Next() {
		l, err := scanLearning(rows)
		if err != nil {
			return nil, err
		}
		learnings = append(learnings, l)
	}
	return learnings, wrapDBError("iterate learnings", rows.Err())
}

// RecordUsage batch-increments usage_count and stamps last_used_at for the
// learnings returned by a retrieval call, feeding future recency/popularity
// signals.
func (s *SQLiteStorage) RecordUsage(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	return s.withTx(ctx, func(ctx context.Context, conn *sql.Conn) error {
		stmt, err := conn.PrepareContext(ctx, `
			UPDATE learnings SET usage_count = usage_count + 1, last_used_at = ? WHERE id = ?
		`)
		if err != nil {
			return fmt.Errorf("prepare usage statement: %w", err)
		}
		defer func() { _ = stmt.Close() }()

		now := s.clock.Now()
		for _, id := range ids {
			if _, err := stmt.ExecContext(ctx, now, id); err != nil {
				return fmt.Errorf("record usage for learning %d: %w", id, err)
			}
		}
		return nil
	})
}

func scanLearning(s rowScanner) (*types.Learning, error) {
	var l types.Learning
	var source string
	var lastUsedAt sql.NullString
	var outcomeScore sql.NullFloat64
	var keywords sql.NullString
	var createdAt string
	var embedding []byte

	err := s.Scan(&l.ID, &l.Content, &source, &l.SourceRef, &createdAt, &keywords, &l.Category,
		&l.UsageCount, &lastUsedAt, &outcomeScore, &embedding)
	if err != nil {
		return nil, wrapDBError("scan learning", err)
	}

	l.Source = types.LearningSource(source)
	l.CreatedAt = parseTimeString(createdAt)
	l.LastUsedAt = parseNullableTimeString(lastUsedAt)
	l.Keywords = parseJSONStringArray(keywords.String)
	if outcomeScore.Valid {
		l.OutcomeScore = &outcomeScore.Float64
	}
	l.Embedding = decodeEmbedding(embedding)
	return &l, nil
}

// --- Learning candidates ---

func (s *SQLiteStorage) CreateCandidate(ctx context.Context, c *types.LearningCandidate) error {
	if c.ExtractedAt.IsZero() {
		c.ExtractedAt = s.clock.Now()
	}
	if c.Status == "" {
		c.Status = types.CandidatePending
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO learning_candidates (content, confidence, category, source_file, source_run_id,
			source_task_id, extracted_at, status, reviewed_by, reviewed_at, promoted_learning_id, rejection_reason)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, '', NULL, NULL, '')
	`, c.Content, string(c.Confidence), c.Category, c.SourceFile, c.SourceRunID, c.SourceTaskID,
		c.ExtractedAt, string(c.Status))
	if err != nil {
		return wrapDBError("create learning candidate", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("candidate id: %w", err)
	}
	c.ID = id
	return nil
}

func (s *SQLiteStorage) PendingCandidates(ctx context.Context) ([]*types.LearningCandidate, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, content, confidence, category, source_file, source_run_id, source_task_id,
			extracted_at, status, reviewed_by, reviewed_at, promoted_learning_id, rejection_reason
		FROM learning_candidates WHERE status = 'pending' ORDER BY extracted_at ASC
	`)
	if err != nil {
		return nil, wrapDBError("list pending candidates", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*types.LearningCandidate
	for rows.Next() {
		c, err := scanCandidate(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, wrapDBError("iterate pending candidates", rows.Err())
}

func (s *SQLiteStorage) ResolveCandidate(ctx context.Context, id int64, status types.CandidateStatus, promotedLearningID *int64, reason string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE learning_candidates SET status = ?, reviewed_at = ?, promoted_learning_id = ?, rejection_reason = ?
		WHERE id = ?
	`, string(status), s.clock.Now(), promotedLearningID, reason, id)
	if err != nil {
		return wrapDBErrorf(err, "resolve candidate %d", id)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("resolve candidate %d: %w", id, storage.ErrNotFound)
	}
	return nil
}

func scanCandidate(s rowScanner) (*types.LearningCandidate, error) {
	var c types.LearningCandidate
	var confidence, status string
	var reviewedBy, rejectionReason sql.NullString
	var reviewedAt sql.NullString
	var promotedLearningID sql.NullInt64
	var extractedAt string

	err := s.Scan(&c.ID, &c.Content, &confidence, &c.Category, &c.SourceFile, &c.SourceRunID, &c.SourceTaskID,
		&extractedAt, &status, &reviewedBy, &reviewedAt, &promotedLearningID, &rejectionReason)
	if err != nil {
		return nil, wrapDBError("scan learning candidate", err)
	}
	c.Confidence = types.Confidence(confidence)
	c.Status = types.CandidateStatus(status)
	c.ReviewedBy = reviewedBy.String
	c.RejectionReason = rejectionReason.String
	c.ExtractedAt = parseTimeString(extractedAt)
	c.ReviewedAt = parseNullableTimeString(reviewedAt)
	if promotedLearningID.Valid {
		c.PromotedLearningID = &promotedLearningID.Int64
	}
	return &c, nil
}

// --- Anchors ---

func (s *SQLiteStorage) CreateAnchor(ctx context.Context, a *types.Anchor) error {
	if err := a.Validate(); err != nil {
		return fmt.Errorf("validate anchor: %w", err)
	}
	if a.Status == "" {
		a.Status = types.AnchorValid
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO anchors (learning_id, type, value, file_path, symbol_fqn, line_start, line_end,
			content_hash, status, pinned, verified_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, NULL)
	`, a.LearningID, string(a.Type), a.Value, a.FilePath, a.SymbolFQN, a.LineStart, a.LineEnd,
		a.ContentHash, string(a.Status), a.Pinned)
	if err != nil {
		return wrapDBError("create anchor", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("anchor id: %w", err)
	}
	a.ID = id
	return nil
}

func (s *SQLiteStorage) AnchorsForLearning(ctx context.Context, learningID int64) ([]*types.Anchor, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, learning_id, type, value, file_path, symbol_fqn, line_start, line_end,
			content_hash, status, pinned, verified_at
		FROM anchors WHERE learning_id = ?
	`, learningID)
	if err != nil {
		return nil, wrapDBError("list anchors", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*types.Anchor
	for rows.Next() {
		a, err := scanAnchor(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, wrapDBError("iterate anchors", rows.Err())
}

func (s *SQLiteStorage) UpdateAnchorStatus(ctx context.Context, id int64, status types.AnchorStatus) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE anchors SET status = ?, verified_at = ? WHERE id = ?
	`, string(status), s.clock.Now(), id)
	if err != nil {
		return wrapDBErrorf(err, "update anchor %d status", id)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("update anchor %d status: %w", id, storage.ErrNotFound)
	}
	return nil
}

// --- Learning edges ---

func (s *SQLiteStorage) CreateLearningEdge(ctx context.Context, e *types.LearningEdge) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.clock.Now()
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO learning_edges (from_learning_id, to_learning_id, edge_type, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (from_learning_id, to_learning_id, edge_type) DO NOTHING
	`, e.FromLearningID, e.ToLearningID, string(e.Type), e.CreatedAt)
	if err != nil {
		return wrapDBError("create learning edge", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("learning edge id: %w", err)
	}
	e.ID = id
	return nil
}

// EdgesFrom returns every outgoing edge from learningID, used by bounded-
// depth graph expansion as the per-hop fanout query.
func (s *SQLiteStorage) EdgesFrom(ctx context.Context, learningID int64) ([]*types.LearningEdge, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, from_learning_id, to_learning_id, edge_type, created_at
		FROM learning_edges WHERE from_learning_id = ?
	`, learningID)
	if err != nil {
		return nil, wrapDBError("query learning edges", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*types.LearningEdge
	for rows.Next() {
		var e types.LearningEdge
		var typ, createdAt string
		if err := rows.Scan(&e.ID, &e.FromLearningID, &e.ToLearningID, &typ, &createdAt); err != nil {
			return nil, wrapDBError("scan learning edge", err)
		}
		e.Type = types.EdgeType(typ)
		e.CreatedAt = parseTimeString(createdAt)
		out = append(out, &e)
	}
	return out, wrapDBError("iterate learning edges", rows.Err())
}

func scanAnchor(s rowScanner) (*types.Anchor, error) {
	var a types.Anchor
	var typ, status string
	var verifiedAt sql.NullString
	var pinned int

	err := s.Scan(&a.ID, &a.LearningID, &typ, &a.Value, &a.FilePath, &a.SymbolFQN, &a.LineStart, &a.LineEnd,
		&a.ContentHash, &status, &pinned, &verifiedAt)
	if err != nil {
		return nil, wrapDBError("scan anchor", err)
	}
	a.Type = types.AnchorType(typ)
	a.Status = types.AnchorStatus(status)
	a.Pinned = pinned != 0
	a.VerifiedAt = parseNullableTimeString(verifiedAt)
	return &a, nil
}

// Package sqlite implements storage.Store on top of a local SQLite file
// using the pure-Go modernc.org/sqlite driver.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/jamesaphoenix/tx/internal/clock"
	"github.com/jamesaphoenix/tx/internal/storage"
	"github.com/jamesaphoenix/tx/internal/storage/sqlite/migrations"
)

// SQLiteStorage is the sqlite-backed implementation of storage.Store.
type SQLiteStorage struct {
	db    *sql.DB
	clock clock.Clock
}

// Open connects to (and, if needed, creates and migrates) the SQLite
// database at path. path may be a plain filesystem path or a "file:" URI;
// connString pragmas (foreign_keys, busy_timeout, WAL) are applied either
// way via storage.SQLiteConnString.
func Open(ctx context.Context, path string) (*SQLiteStorage, error) {
	return OpenWithClock(ctx, path, clock.Real{})
}

// OpenWithClock is Open with an injectable clock, for tests that need
// deterministic timestamps.
func OpenWithClock(ctx context.Context, path string, c clock.Clock) (*SQLiteStorage, error) {
	connStr := storage.SQLiteConnString(path, false)
	db, err := sql.Open("sqlite", connStr)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// Writers serialize on BEGIN IMMEDIATE; a single physical connection
	// avoids handing different goroutines different SQLite connections that
	// would otherwise see inconsistent DEFERRED-transaction snapshots.
	db.SetMaxOpenConns(1)

	s := &SQLiteStorage{db: db, clock: c}
	if err := migrations.Apply(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply migrations: %w", err)
	}
	return s, nil
}

// Close releases the underlying database handle.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// beginImmediateWithRetry starts a BEGIN IMMEDIATE transaction on conn,
// retrying with backoff when SQLite reports the database is busy. We use
// raw Exec rather than database/sql's BeginTx because modernc.org/sqlite's
// BeginTx always opens DEFERRED transactions, which would let two writers
// both proceed past their first read before discovering the conflict.
func beginImmediateWithRetry(ctx context.Context, conn *sql.Conn) error {
	const maxAttempts = 5
	backoff := 10 * time.Millisecond
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		_, err := conn.ExecContext(ctx, "BEGIN IMMEDIATE")
		if err == nil {
			return nil
		}
		lastErr = err
		if !isBusyErr(err) {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	return fmt.Errorf("%w: %v", storage.ErrBusy, lastErr)
}

func isBusyErr(err error) bool {
	return err != nil && (strings.Contains(err.Error(), "SQLITE_BUSY") || strings.Contains(err.Error(), "database is locked"))
}

// withTx runs fn inside a BEGIN IMMEDIATE transaction on a dedicated
// connection, committing on success and rolling back otherwise. fn
// operates directly on the *sql.Conn (not a *sql.Tx) because the
// transaction was opened with a raw "BEGIN IMMEDIATE" statement rather
// than database/sql's own Begin, which modernc.org/sqlite always issues
// as DEFERRED.
func (s *SQLiteStorage) withTx(ctx context.Context, fn func(ctx context.Context, conn *sql.Conn) error) error {
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer func() { _ = conn.Close() }()

	if err := beginImmediateWithRetry(ctx, conn); err != nil {
		return fmt.Errorf("begin immediate: %w", err)
	}

	committed := false
	defer func() {
		if !committed {
			_, _ = conn.ExecContext(context.Background(), "ROLLBACK")
		}
	}()

	if err := fn(ctx, conn); err != nil {
		return err
	}
	if _, err := conn.ExecContext(ctx, "COMMIT"); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	committed = true
	return nil
}

// wrapDBError wraps a database error with operation context, converting
// sql.ErrNoRows to storage.ErrNotFound for consistent error handling.
func wrapDBError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", op, storage.ErrNotFound)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func wrapDBErrorf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return wrapDBError(fmt.Sprintf(format, args...), err)
}

// IsNotFound reports whether err is or wraps storage.ErrNotFound.
func IsNotFound(err error) bool { return errors.Is(err, storage.ErrNotFound) }

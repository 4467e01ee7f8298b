package validation_test

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jamesaphoenix/tx/internal/storage/sqlite"
	"github.com/jamesaphoenix/tx/internal/types"
	"github.com/jamesaphoenix/tx/internal/validation"
)

func newTestStore(t *testing.T) (*sqlite.SQLiteStorage, string) {
	t.Helper()
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "tx.db")
	store, err := sqlite.Open(ctx, path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store, path
}

func resultFor(report validation.Report, check string) *validation.Result {
	for i := range report.Results {
		if report.Results[i].Check == check {
			return &report.Results[i]
		}
	}
	return nil
}

func TestRun_CleanStoreReportsAllInfo(t *testing.T) {
	store, _ := newTestStore(t)
	checker := validation.New(store)

	report, err := checker.Run(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, 0, report.Errors)

	integrity := resultFor(report, "integrity")
	require.NotNil(t, integrity)
	assert.Equal(t, validation.SeverityInfo, integrity.Severity)

	schema := resultFor(report, "schema_version")
	require.NotNil(t, schema)
	assert.Equal(t, validation.SeverityInfo, schema.Severity)
}

// corruptStatus writes an unrecognized status directly to the tasks
// table, bypassing types.Task.Validate, to simulate a row written by an
// out-of-band import that the validation pass must still catch.
func corruptStatus(t *testing.T, path, taskID string) {
	t.Helper()
	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	defer func() { _ = db.Close() }()
	_, err = db.Exec(`UPDATE tasks SET status = 'bogus' WHERE id = ?`, taskID)
	require.NoError(t, err)
}

func TestRun_InvalidStatusDetectedAndFixed(t *testing.T) {
	store, path := newTestStore(t)
	ctx := context.Background()

	task := &types.Task{ID: "tx-bad1", Title: "T", Status: types.StatusBacklog}
	require.NoError(t, store.CreateTask(ctx, task))
	corruptStatus(t, path, task.ID)

	checker := validation.New(store)
	report, err := checker.Run(ctx, false)
	require.NoError(t, err)
	invalid := resultFor(report, "invalid_status")
	require.NotNil(t, invalid)
	assert.Equal(t, validation.SeverityError, invalid.Severity)
	assert.Equal(t, 1, invalid.Count)
	assert.Equal(t, 0, invalid.Fixed)

	report, err = checker.Run(ctx, true)
	require.NoError(t, err)
	invalid = resultFor(report, "invalid_status")
	require.NotNil(t, invalid)
	assert.Equal(t, 1, invalid.Fixed)

	fixed, err := store.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusBacklog, fixed.Status)
}

// insertOrphanedDependency writes a task_dependencies row referencing a
// nonexistent task directly, with foreign key enforcement off for this
// connection, simulating data the in-process FK constraint would
// normally prevent (e.g. a row replayed from an older export).
func insertOrphanedDependency(t *testing.T, path, blockerID, blockedID string) {
	t.Helper()
	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	defer func() { _ = db.Close() }()
	_, err = db.Exec(`PRAGMA foreign_keys = OFF`)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO task_dependencies (blocker_id, blocked_id, created_at) VALUES (?, ?, ?)`,
		blockerID, blockedID, time.Now().UTC().Format(time.RFC3339))
	require.NoError(t, err)
}

func TestRun_OrphanedDependencyDetectedAndFixed(t *testing.T) {
	store, path := newTestStore(t)
	ctx := context.Background()

	b := &types.Task{ID: "tx-b1", Title: "B", Status: types.StatusBacklog}
	require.NoError(t, store.CreateTask(ctx, b))
	insertOrphanedDependency(t, path, "tx-missing", b.ID)

	checker := validation.New(store)
	report, err := checker.Run(ctx, false)
	require.NoError(t, err)
	orphans := resultFor(report, "orphaned_dependencies")
	require.NotNil(t, orphans)
	assert.Equal(t, validation.SeverityWarning, orphans.Severity)
	assert.Equal(t, 1, orphans.Count)
	assert.Equal(t, 0, orphans.Fixed)

	report, err = checker.Run(ctx, true)
	require.NoError(t, err)
	orphans = resultFor(report, "orphaned_dependencies")
	require.NotNil(t, orphans)
	assert.Equal(t, 1, orphans.Fixed)
}

func TestRun_MissingParentCheckRunsClean(t *testing.T) {
	store, _ := newTestStore(t)
	checker := validation.New(store)

	report, err := checker.Run(context.Background(), true)
	require.NoError(t, err)
	missing := resultFor(report, "missing_parent")
	require.NotNil(t, missing)
	assert.Equal(t, validation.SeverityInfo, missing.Severity)
	assert.Equal(t, 0, missing.Fixed)
}

package jsonl

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jamesaphoenix/tx/internal/types"
)

func TestDeduplicateUpserts(t *testing.T) {
	now := time.Now()
	older := now.Add(-1 * time.Hour)

	records := []Record{
		TaskUpsertRecord(&types.Task{ID: "tx-abc123", Title: "First version"}, older),
		TaskUpsertRecord(&types.Task{ID: "tx-abc123", Title: "Second version (newer)"}, now),
		TaskUpsertRecord(&types.Task{ID: "tx-def456", Title: "Unique"}, now),
	}

	removals, cleaned := deduplicateUpserts(records)

	require.Len(t, cleaned, 2)
	require.Len(t, removals, 1)
	require.Equal(t, "tx-abc123", removals[0].TaskID)
	require.Len(t, removals[0].RemovedVersions, 1)

	for _, rec := range cleaned {
		if rec.Task.ID == "tx-abc123" {
			require.Equal(t, "Second version (newer)", rec.Task.Title)
		}
	}
}

func TestDeduplicateUpsertsLeavesOtherOpsAlone(t *testing.T) {
	now := time.Now()
	records := []Record{
		TaskUpsertRecord(&types.Task{ID: "tx-abc123", Title: "Only version"}, now),
		TaskDeleteRecord("tx-other", now),
		DependencyAddRecord(&types.TaskDependency{BlockerID: "tx-abc123", BlockedID: "tx-other"}, now),
	}

	removals, cleaned := deduplicateUpserts(records)

	require.Empty(t, removals)
	require.Len(t, cleaned, 3)
}

func TestRepairBrokenDependencies(t *testing.T) {
	now := time.Now()
	records := []Record{
		TaskUpsertRecord(&types.Task{ID: "tx-abc123", Title: "Known"}, now),
		DependencyAddRecord(&types.TaskDependency{BlockerID: "tx-abc123", BlockedID: "tx-ghost"}, now),
		DependencyAddRecord(&types.TaskDependency{BlockerID: "tx-abc123", BlockedID: "tx-abc123"}, now),
	}

	repaired, removedIDs := repairBrokenDependencies(records)

	require.Len(t, removedIDs, 1)
	require.Contains(t, removedIDs[0], "tx-ghost")
	require.Len(t, repaired, 2)
}

func TestCleanEndToEnd(t *testing.T) {
	now := time.Now()
	older := now.Add(-1 * time.Hour)

	records := []Record{
		TaskUpsertRecord(&types.Task{ID: "tx-abc123", Title: "Old"}, older),
		TaskUpsertRecord(&types.Task{ID: "tx-abc123", Title: "New"}, now),
		TaskUpsertRecord(&types.Task{ID: "tx-def456", Title: "Lone"}, now),
		DependencyAddRecord(&types.TaskDependency{BlockerID: "tx-abc123", BlockedID: "tx-ghost"}, now),
		DependencyAddRecord(&types.TaskDependency{BlockerID: "tx-abc123", BlockedID: "tx-def456"}, now),
	}

	result, cleaned, err := Clean(records, DefaultCleanerOptions())
	require.NoError(t, err)
	require.Equal(t, 5, result.OriginalCount)
	require.Equal(t, 1, result.RemovedDuplicates)
	require.Equal(t, 1, result.BrokenReferencesRemoved)
	require.Equal(t, 3, result.FinalCount)
	require.Len(t, cleaned, 3)
}

func TestCleanNoOptionsIsIdentity(t *testing.T) {
	now := time.Now()
	records := []Record{
		TaskUpsertRecord(&types.Task{ID: "tx-abc123", Title: "A"}, now),
		TaskUpsertRecord(&types.Task{ID: "tx-abc123", Title: "B"}, now.Add(time.Second)),
	}

	result, cleaned, err := Clean(records, CleanerOptions{})
	require.NoError(t, err)
	require.Equal(t, 2, result.FinalCount)
	require.Len(t, cleaned, 2)
}

package jsonl

import (
	"fmt"
	"sort"
)

// CleanerOptions controls how Clean processes a record stream before
// it's applied or re-exported — useful for sanitizing a sync file that
// was hand-merged across branches.
type CleanerOptions struct {
	// RemoveDuplicates keeps only the newest task.upsert per task ID.
	RemoveDuplicates bool
	// RepairBrokenReferences drops dependency.add records pointing at a
	// task ID no other record in the stream ever upserts.
	RepairBrokenReferences bool
	Verbose                bool
}

// DefaultCleanerOptions enables every cleaning step.
func DefaultCleanerOptions() CleanerOptions {
	return CleanerOptions{RemoveDuplicates: true, RepairBrokenReferences: true}
}

// DuplicateRemoval tracks one task ID's duplicate upserts: the version
// kept and the ones discarded.
type DuplicateRemoval struct {
	TaskID          string
	Kept            Record
	RemovedVersions []Record
}

// CleanResult reports what Clean changed.
type CleanResult struct {
	OriginalCount int

	DuplicateTaskCount int
	RemovedDuplicates  int
	Duplicates         []*DuplicateRemoval

	BrokenReferencesRemoved int
	BrokenReferenceTaskIDs  []string

	FinalCount int
}

// Clean applies the requested cleaning steps to records, returning
// statistics plus the cleaned slice. It never mutates the input.
func Clean(records []Record, opts CleanerOptions) (*CleanResult, []Record, error) {
	result := &CleanResult{OriginalCount: len(records)}
	cleaned := records

	if opts.RemoveDuplicates {
		dedup, rest := deduplicateUpserts(cleaned)
		result.DuplicateTaskCount = len(dedup)
		for _, d := range dedup {
			result.RemovedDuplicates += len(d.RemovedVersions)
		}
		result.Duplicates = dedup
		cleaned = rest
	}

	if opts.RepairBrokenReferences {
		repaired, removedIDs := repairBrokenDependencies(cleaned)
		result.BrokenReferencesRemoved = len(removedIDs)
		result.BrokenReferenceTaskIDs = removedIDs
		cleaned = repaired
	}

	result.FinalCount = len(cleaned)
	return result, cleaned, nil
}

// deduplicateUpserts keeps only the most recent task.upsert per task ID
// (by TS), leaving every non-upsert record untouched and in place.
func deduplicateUpserts(records []Record) ([]*DuplicateRemoval, []Record) {
	byID := make(map[string][]Record)
	for _, rec := range records {
		if rec.Op == OpTaskUpsert && rec.Task != nil {
			byID[rec.Task.ID] = append(byID[rec.Task.ID], rec)
		}
	}

	keepByID := make(map[string]Record, len(byID))
	var removals []*DuplicateRemoval
	for id, group := range byID {
		if len(group) == 1 {
			keepByID[id] = group[0]
			continue
		}
		sort.Slice(group, func(i, j int) bool { return group[i].TS.After(group[j].TS) })
		keepByID[id] = group[0]
		removals = append(removals, &DuplicateRemoval{TaskID: id, Kept: group[0], RemovedVersions: group[1:]})
	}

	out := make([]Record, 0, len(records))
	emitted := make(map[string]bool, len(keepByID))
	for _, rec := range records {
		if rec.Op != OpTaskUpsert || rec.Task == nil {
			out = append(out, rec)
			continue
		}
		if emitted[rec.Task.ID] {
			continue
		}
		out = append(out, keepByID[rec.Task.ID])
		emitted[rec.Task.ID] = true
	}
	return removals, out
}

// repairBrokenDependencies drops dependency.add records whose blocker or
// blocked ID is never upserted anywhere in the stream, returning the
// task IDs that triggered a removal.
func repairBrokenDependencies(records []Record) ([]Record, []string) {
	known := make(map[string]bool)
	for _, rec := range records {
		if rec.Op == OpTaskUpsert && rec.Task != nil {
			known[rec.Task.ID] = true
		}
	}

	var removedIDs []string
	out := make([]Record, 0, len(records))
	for _, rec := range records {
		if rec.Op == OpDependencyAdd && rec.Dependency != nil {
			if !known[rec.Dependency.BlockerID] || !known[rec.Dependency.BlockedID] {
				removedIDs = append(removedIDs, fmt.Sprintf("%s->%s", rec.Dependency.BlockerID, rec.Dependency.BlockedID))
				continue
			}
		}
		out = append(out, rec)
	}
	return out, removedIDs
}

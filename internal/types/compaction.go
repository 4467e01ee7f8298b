package types

import "time"

// CompactionLogEntry records one atomic compaction run: the batch of
// completed tasks it deleted, the summary produced (if an LLM backend was
// available), and where the distilled learnings were exported.
type CompactionLogEntry struct {
	ID                  int64          `json:"id"`
	CompactedAt         time.Time      `json:"compacted_at"`
	TaskCount           int            `json:"task_count"`
	Summary             string         `json:"summary,omitempty"`
	TaskIDs             []string       `json:"task_ids"`
	LearningsExportedTo string         `json:"learnings_exported_to,omitempty"`
	Learnings           []string       `json:"learnings,omitempty"`
}

// Package jsonl implements tx's JSONL sync stream (spec.md §6): one
// versioned, timestamped operation per line, readable and writable
// independent of the SQLite store so a project's task history can be
// checked into git and replayed onto any machine.
package jsonl

import (
	"time"

	"github.com/jamesaphoenix/tx/internal/types"
)

// Op names the kind of change a Record describes.
type Op string

const (
	OpTaskUpsert         Op = "task.upsert"
	OpTaskDelete         Op = "task.delete"
	OpDependencyAdd      Op = "dependency.add"
	OpDependencyRemove   Op = "dependency.remove"
	OpLearningUpsert     Op = "learning.upsert"
	OpLearningDelete     Op = "learning.delete"
	OpFileLearningUpsert Op = "file_learning.upsert"
	OpFileLearningDelete Op = "file_learning.delete"
	OpAttemptUpsert      Op = "attempt.upsert"
)

// schemaVersion is the Record.V value this package writes and the
// highest version it knows how to read.
const schemaVersion = 1

// Record is one line of the sync stream: `{"v":1,"op":"task.upsert",...}`.
// Exactly one of the payload fields is populated, depending on Op.
type Record struct {
	V  int       `json:"v"`
	Op Op        `json:"op"`
	TS time.Time `json:"ts"`

	Task       *types.Task           `json:"task,omitempty"`
	TaskID     string                `json:"task_id,omitempty"`
	Dependency *types.TaskDependency `json:"dependency,omitempty"`

	Learning   *types.Learning `json:"learning,omitempty"`
	LearningID int64           `json:"learning_id,omitempty"`

	// FileLearning is represented by an Anchor: a Learning bound to a
	// location in a source file.
	Anchor   *types.Anchor `json:"anchor,omitempty"`
	AnchorID int64         `json:"anchor_id,omitempty"`

	// Attempt is represented by a Run: one execution instance of an
	// agent working a task. Attempts are immutable, so there is no
	// attempt.delete op.
	Attempt *types.Run `json:"attempt,omitempty"`
}

// TaskUpsertRecord builds a task.upsert record for t at ts.
func TaskUpsertRecord(t *types.Task, ts time.Time) Record {
	return Record{V: schemaVersion, Op: OpTaskUpsert, TS: ts, Task: t}
}

// TaskDeleteRecord builds a task.delete record for taskID at ts.
func TaskDeleteRecord(taskID string, ts time.Time) Record {
	return Record{V: schemaVersion, Op: OpTaskDelete, TS: ts, TaskID: taskID}
}

// DependencyAddRecord builds a dependency.add record at ts.
func DependencyAddRecord(dep *types.TaskDependency, ts time.Time) Record {
	return Record{V: schemaVersion, Op: OpDependencyAdd, TS: ts, Dependency: dep}
}

// DependencyRemoveRecord builds a dependency.remove record at ts.
func DependencyRemoveRecord(dep *types.TaskDependency, ts time.Time) Record {
	return Record{V: schemaVersion, Op: OpDependencyRemove, TS: ts, Dependency: dep}
}

// LearningUpsertRecord builds a learning.upsert record for l at ts.
func LearningUpsertRecord(l *types.Learning, ts time.Time) Record {
	return Record{V: schemaVersion, Op: OpLearningUpsert, TS: ts, Learning: l}
}

// LearningDeleteRecord builds a learning.delete tombstone for learningID at ts.
func LearningDeleteRecord(learningID int64, ts time.Time) Record {
	return Record{V: schemaVersion, Op: OpLearningDelete, TS: ts, LearningID: learningID}
}

// FileLearningUpsertRecord builds a file_learning.upsert record for anchor at ts.
func FileLearningUpsertRecord(anchor *types.Anchor, ts time.Time) Record {
	return Record{V: schemaVersion, Op: OpFileLearningUpsert, TS: ts, Anchor: anchor}
}

// FileLearningDeleteRecord builds a file_learning.delete tombstone for anchorID at ts.
func FileLearningDeleteRecord(anchorID int64, ts time.Time) Record {
	return Record{V: schemaVersion, Op: OpFileLearningDelete, TS: ts, AnchorID: anchorID}
}

// AttemptUpsertRecord builds an attempt.upsert record for run at ts. Attempts
// are immutable once written; later upserts for the same run id describe its
// progression (running -> succeeded/failed/cancelled), not an edit.
func AttemptUpsertRecord(run *types.Run, ts time.Time) Record {
	return Record{V: schemaVersion, Op: OpAttemptUpsert, TS: ts, Attempt: run}
}

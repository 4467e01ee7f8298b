package types

import "time"

// RunStatus tracks the lifecycle of a worker loop's execution of a task.
type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunSucceeded RunStatus = "succeeded"
	RunFailed    RunStatus = "failed"
	RunCancelled RunStatus = "cancelled"
)

// Run is one execution instance of an agent working a task.
type Run struct {
	ID        string     `json:"id"`
	TaskID    string     `json:"task_id"`
	Agent     string     `json:"agent"`
	StartedAt time.Time  `json:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
	Status    RunStatus  `json:"status"`
	ExitCode  *int       `json:"exit_code,omitempty"`
	PID       int        `json:"pid,omitempty"`

	TranscriptPath string `json:"transcript_path,omitempty"`
	StdoutPath     string `json:"stdout_path,omitempty"`
	StderrPath     string `json:"stderr_path,omitempty"`

	InjectedContext string `json:"injected_context,omitempty"`
	Summary         string `json:"summary,omitempty"`
	ErrorMessage    string `json:"error_message,omitempty"`
	Metadata        map[string]any `json:"metadata,omitempty"`

	// Heartbeat progress counters, per spec.md §6's wire contract.
	StdoutBytes     int64     `json:"stdout_bytes"`
	StderrBytes     int64     `json:"stderr_bytes"`
	TranscriptBytes int64     `json:"transcript_bytes"`
	LastActivityAt  time.Time `json:"last_activity_at"`
}

// Heartbeat is one progress report for a Run, matching spec.md §6's wire
// contract: {runId, checkAt?, activityAt?, stdoutBytes, stderrBytes,
// transcriptBytes, deltaBytes?}.
type Heartbeat struct {
	RunID           string     `json:"run_id"`
	CheckAt         *time.Time `json:"check_at,omitempty"`
	ActivityAt      *time.Time `json:"activity_at,omitempty"`
	StdoutBytes     int64      `json:"stdout_bytes"`
	StderrBytes     int64      `json:"stderr_bytes"`
	TranscriptBytes int64      `json:"transcript_bytes"`
	DeltaBytes      *int64     `json:"delta_bytes,omitempty"`
}

// MessageStatus tracks whether an outbox entry has been acknowledged.
type MessageStatus string

const (
	MessagePending MessageStatus = "pending"
	MessageAcked   MessageStatus = "acked"
)

// Message is an append-only outbox entry.
type Message struct {
	ID            int64          `json:"id"`
	Channel       string         `json:"channel"`
	Sender        string         `json:"sender"`
	Content       string         `json:"content"`
	Status        MessageStatus  `json:"status"`
	CorrelationID string         `json:"correlation_id,omitempty"`
	TaskID        string         `json:"task_id,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
	AckedAt       *time.Time     `json:"acked_at,omitempty"`
	ExpiresAt     *time.Time     `json:"expires_at,omitempty"`
}

package types

import "time"

// WorkerStatus is a worker process's lifecycle state.
type WorkerStatus string

const (
	WorkerStarting WorkerStatus = "starting"
	WorkerIdle     WorkerStatus = "idle"
	WorkerBusy     WorkerStatus = "busy"
	WorkerStopping WorkerStatus = "stopping"
	WorkerDead     WorkerStatus = "dead"
)

// Worker is a registered agent process eligible to claim tasks.
type Worker struct {
	ID              string         `json:"id"`
	Name            string         `json:"name"`
	Hostname        string         `json:"hostname"`
	PID             int            `json:"pid"`
	Status          WorkerStatus   `json:"status"`
	RegisteredAt    time.Time      `json:"registered_at"`
	LastHeartbeatAt time.Time      `json:"last_heartbeat_at"`
	CurrentTaskID   string         `json:"current_task_id,omitempty"`
	Capabilities    []string       `json:"capabilities,omitempty"`
	Metadata        map[string]any `json:"metadata,omitempty"`

	// Heartbeat metrics, reported by the worker process only — never
	// read cross-process except via the store.
	CPUPercent      float64 `json:"cpu_percent,omitempty"`
	MemoryMB        float64 `json:"memory_mb,omitempty"`
	TasksCompleted  int     `json:"tasks_completed,omitempty"`
}

// ClaimStatus is a task claim's lifecycle state.
type ClaimStatus string

const (
	ClaimActive    ClaimStatus = "active"
	ClaimReleased  ClaimStatus = "released"
	ClaimExpired   ClaimStatus = "expired"
	ClaimCompleted ClaimStatus = "completed"
)

// TaskClaim is a time-bounded reservation of a task by a worker.
type TaskClaim struct {
	ID             int64       `json:"id"`
	TaskID         string      `json:"task_id"`
	WorkerID       string      `json:"worker_id"`
	ClaimedAt      time.Time   `json:"claimed_at"`
	LeaseExpiresAt time.Time   `json:"lease_expires_at"`
	RenewalCount   int         `json:"renewal_count"`
	Status         ClaimStatus `json:"status"`
}

// OrchestratorStatus is the singleton orchestrator's lifecycle state.
type OrchestratorStatus string

const (
	OrchestratorStopped  OrchestratorStatus = "stopped"
	OrchestratorStarting OrchestratorStatus = "starting"
	OrchestratorRunning  OrchestratorStatus = "running"
	OrchestratorStopping OrchestratorStatus = "stopping"
)

// orchestratorTransitions is the fixed lifecycle spec.md §3 describes:
// stopped -> starting -> running -> stopping -> stopped only.
var orchestratorTransitions = map[OrchestratorStatus]OrchestratorStatus{
	OrchestratorStopped:  OrchestratorStarting,
	OrchestratorStarting: OrchestratorRunning,
	OrchestratorRunning:  OrchestratorStopping,
	OrchestratorStopping: OrchestratorStopped,
}

// CanTransitionOrchestrator reports whether the orchestrator's one-way
// lifecycle permits from -> to.
func CanTransitionOrchestrator(from, to OrchestratorStatus) bool {
	return orchestratorTransitions[from] == to
}

// OrchestratorState is the singleton row tracking the coordinator's
// lifecycle and configuration.
type OrchestratorState struct {
	Status                  OrchestratorStatus `json:"status"`
	PID                     int                `json:"pid"`
	StartedAt               *time.Time         `json:"started_at,omitempty"`
	LastReconcileAt         *time.Time         `json:"last_reconcile_at,omitempty"`
	PoolSize                int                `json:"pool_size"`
	ReconcileIntervalSecond int                `json:"reconcile_interval_seconds"`
	HeartbeatIntervalSecond int                `json:"heartbeat_interval_seconds"`
	LeaseDurationSeconds    int                `json:"lease_duration_seconds"`
	Metadata                map[string]any     `json:"metadata,omitempty"`
}

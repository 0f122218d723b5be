package events

import "github.com/ToanPV90/answer42-sub008/pkg/models"

// TaskStatusPayload is the payload for task.status events.
// Published on every task lifecycle transition.
type TaskStatusPayload struct {
	Type      string            `json:"type"` // always EventTypeTaskStatus
	TaskID    string            `json:"task_id"`
	RunID     string            `json:"run_id"`
	UserID    string            `json:"user_id"`
	AgentID   models.AgentID    `json:"agent_id"`
	Status    models.TaskStatus `json:"status"`
	Error     string            `json:"error,omitempty"`
	Timestamp string            `json:"timestamp"` // RFC3339Nano
}

// RunStatusPayload is the payload for run.status events.
// Published when a run transitions between lifecycle states.
type RunStatusPayload struct {
	Type      string           `json:"type"` // always EventTypeRunStatus
	RunID     string           `json:"run_id"`
	PaperID   string           `json:"paper_id"`
	UserID    string           `json:"user_id"`
	Status    models.RunStatus `json:"status"`
	Error     string           `json:"error,omitempty"`
	Timestamp string           `json:"timestamp"` // RFC3339Nano
}

// StageStatusPayload is the payload for stage.status events.
// Single event type for all stage transitions within a run.
type StageStatusPayload struct {
	Type      string `json:"type"` // always EventTypeStageStatus
	RunID     string `json:"run_id"`
	Stage     string `json:"stage"`  // agent ID of the stage
	Status    string `json:"status"` // started, completed, failed, skipped, cancelled
	Error     string `json:"error,omitempty"`
	Timestamp string `json:"timestamp"` // RFC3339Nano
}

// RunProgressPayload is the payload for run.progress transient events.
// Published to the global runs channel after each stage completes.
type RunProgressPayload struct {
	Type      string `json:"type"` // always EventTypeRunProgress
	RunID     string `json:"run_id"`
	Progress  int    `json:"progress"` // 0-100
	Stage     string `json:"stage,omitempty"`
	Timestamp string `json:"timestamp"` // RFC3339Nano
}

// CircuitStatePayload is the payload for circuit.state transient events.
// Published on every breaker transition (closed, open, half-open).
type CircuitStatePayload struct {
	Type      string `json:"type"` // always EventTypeCircuitState
	Circuit   string `json:"circuit"`
	From      string `json:"from"`
	To        string `json:"to"`
	Timestamp string `json:"timestamp"` // RFC3339Nano
}

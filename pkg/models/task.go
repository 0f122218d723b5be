package models

import "time"

// TaskStatus is the lifecycle state of an agent task.
type TaskStatus string

// Task lifecycle states. completed and failed are terminal.
const (
	TaskStatusPending    TaskStatus = "pending"
	TaskStatusProcessing TaskStatus = "processing"
	TaskStatusCompleted  TaskStatus = "completed"
	TaskStatusFailed     TaskStatus = "failed"
)

// Terminal reports whether the status is terminal.
func (s TaskStatus) Terminal() bool {
	return s == TaskStatusCompleted || s == TaskStatusFailed
}

// AgentTask is the durable record of one agent invocation within a run.
type AgentTask struct {
	ID          string     `db:"id" json:"task_id"`
	RunID       string     `db:"run_id" json:"run_id"`
	AgentID     AgentID    `db:"agent_id" json:"agent_id"`
	UserID      string     `db:"user_id" json:"user_id"`
	Input       []byte     `db:"input" json:"-"`
	Status      TaskStatus `db:"status" json:"status"`
	Error       *string    `db:"error" json:"error,omitempty"`
	Result      []byte     `db:"result" json:"-"`
	CreatedAt   time.Time  `db:"created_at" json:"created_at"`
	StartedAt   *time.Time `db:"started_at" json:"started_at,omitempty"`
	CompletedAt *time.Time `db:"completed_at" json:"completed_at,omitempty"`
}

// CreateTaskRequest carries the fields needed to create an agent task.
type CreateTaskRequest struct {
	TaskID  string
	RunID   string
	AgentID AgentID
	UserID  string
	Input   []byte
}

package models

import "time"

// RunStatus is the lifecycle state of a pipeline run.
type RunStatus string

// Run lifecycle states. PENDING runs are queued for a worker to claim.
// PENDING_CREDITS is terminal: the run was refused before any stage executed.
const (
	RunStatusPending        RunStatus = "PENDING"
	RunStatusPendingCredits RunStatus = "PENDING_CREDITS"
	RunStatusInitializing   RunStatus = "INITIALIZING"
	RunStatusRunning        RunStatus = "RUNNING"
	RunStatusCompleted      RunStatus = "COMPLETED"
	RunStatusFailed         RunStatus = "FAILED"
	RunStatusCancelled      RunStatus = "CANCELLED"
)

// Terminal reports whether the status is a terminal state.
func (s RunStatus) Terminal() bool {
	switch s {
	case RunStatusCompleted, RunStatusFailed, RunStatusCancelled, RunStatusPendingCredits:
		return true
	}
	return false
}

// Valid reports whether s is a known run status.
func (s RunStatus) Valid() bool {
	switch s {
	case RunStatusPending, RunStatusPendingCredits, RunStatusInitializing,
		RunStatusRunning, RunStatusCompleted, RunStatusFailed, RunStatusCancelled:
		return true
	}
	return false
}

// PipelineRun is one end-to-end processing of one paper.
type PipelineRun struct {
	ID              string            `db:"id" json:"run_id"`
	PaperID         string            `db:"paper_id" json:"paper_id"`
	UserID          string            `db:"user_id" json:"user_id"`
	Status          RunStatus         `db:"status" json:"status"`
	ProgressPercent int               `db:"progress_percent" json:"progress_percent"`
	CurrentStage    *string           `db:"current_stage" json:"current_stage,omitempty"`
	WorkerID        *string           `db:"worker_id" json:"-"`
	Input           []byte            `db:"input" json:"-"`
	Configuration   []byte            `db:"configuration" json:"-"`
	Context         []byte            `db:"context" json:"-"`
	ErrorMessage    *string           `db:"error_message" json:"error_message,omitempty"`
	StageErrors     []byte            `db:"stage_errors" json:"-"`
	CreditsReserved int               `db:"credits_reserved" json:"credits_reserved"`
	CreatedAt       time.Time         `db:"created_at" json:"created_at"`
	StartedAt       *time.Time        `db:"started_at" json:"started_at,omitempty"`
	CompletedAt     *time.Time        `db:"completed_at" json:"completed_at,omitempty"`
	LastHeartbeatAt *time.Time        `db:"last_heartbeat_at" json:"-"`
	// Decoded views of the JSON columns, populated by the store on read.
	Config       *RunConfiguration       `db:"-" json:"configuration,omitempty"`
	StageResults map[string]*AgentResult `db:"-" json:"-"`
}

// StageError records one stage failure for the status API (no stack traces).
type StageError struct {
	Stage   string    `json:"stage"`
	Message string    `json:"message"`
	At      time.Time `json:"at"`
}

// RunConfiguration controls which stages run and how.
type RunConfiguration struct {
	// DisabledStages lists agent IDs to skip. Skipped stages contribute no
	// progress change and leave no entry in the run context.
	DisabledStages []AgentID `json:"disabled_stages,omitempty" yaml:"disabled_stages"`

	// MaxConcurrentAgents bounds the parallel enhancement group (default 4).
	MaxConcurrentAgents int `json:"max_concurrent_agents,omitempty" yaml:"max_concurrent_agents"`

	// RunTimeout bounds the whole run (default 15m).
	RunTimeout time.Duration `json:"run_timeout,omitempty" yaml:"run_timeout"`

	// CreditCost is the total reservation for the run (default 30).
	CreditCost int `json:"credit_cost,omitempty" yaml:"credit_cost"`
}

// StageDisabled reports whether the given agent is disabled by this configuration.
func (c *RunConfiguration) StageDisabled(agent AgentID) bool {
	if c == nil {
		return false
	}
	for _, d := range c.DisabledStages {
		if d == agent {
			return true
		}
	}
	return false
}

// RunStatusView is the status API projection of a run.
type RunStatusView struct {
	RunID        string       `json:"run_id"`
	Status       RunStatus    `json:"status"`
	Progress     int          `json:"progress"`
	CurrentStage string       `json:"current_stage,omitempty"`
	Errors       []StageError `json:"errors"`
}

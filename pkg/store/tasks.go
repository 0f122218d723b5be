package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/ToanPV90/answer42-sub008/pkg/models"
)

// TaskStore persists agent tasks. Status transitions are guarded at the
// SQL level: an UPDATE that names the required source state matches zero
// rows when the task has moved on, which surfaces as ErrInvalidTransition.
type TaskStore struct {
	db *sqlx.DB
}

// NewTaskStore creates a TaskStore.
func NewTaskStore(db *sqlx.DB) *TaskStore {
	return &TaskStore{db: db}
}

const taskColumns = `id, run_id, agent_id, user_id, input, status, error, result,
	created_at, started_at, completed_at`

// Create inserts a new task in pending state.
func (s *TaskStore) Create(ctx context.Context, task *models.AgentTask) error {
	if len(task.Input) == 0 {
		task.Input = []byte("{}")
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO agent_tasks (id, run_id, agent_id, user_id, input, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		task.ID, task.RunID, task.AgentID, task.UserID, task.Input, task.Status, time.Now())
	if err != nil {
		return fmt.Errorf("failed to create task: %w", err)
	}
	return nil
}

// Get returns one task.
func (s *TaskStore) Get(ctx context.Context, taskID string) (*models.AgentTask, error) {
	var task models.AgentTask
	err := s.db.GetContext(ctx, &task,
		`SELECT `+taskColumns+` FROM agent_tasks WHERE id = $1`, taskID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get task: %w", err)
	}
	return &task, nil
}

// MarkProcessing transitions pending → processing.
func (s *TaskStore) MarkProcessing(ctx context.Context, taskID string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE agent_tasks SET status = $2, started_at = $3
		WHERE id = $1 AND status = $4`,
		taskID, models.TaskStatusProcessing, time.Now(), models.TaskStatusPending)
	if err != nil {
		return fmt.Errorf("failed to mark task processing: %w", err)
	}
	return requireRowAffected(res)
}

// Complete transitions processing → completed with the result document.
func (s *TaskStore) Complete(ctx context.Context, taskID string, result []byte) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE agent_tasks SET status = $2, result = $3, completed_at = $4
		WHERE id = $1 AND status = $5`,
		taskID, models.TaskStatusCompleted, result, time.Now(), models.TaskStatusProcessing)
	if err != nil {
		return fmt.Errorf("failed to complete task: %w", err)
	}
	return requireRowAffected(res)
}

// Fail transitions pending or processing → failed with an error message.
func (s *TaskStore) Fail(ctx context.Context, taskID, errorMessage string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE agent_tasks SET status = $2, error = $3, completed_at = $4
		WHERE id = $1 AND status IN ($5, $6)`,
		taskID, models.TaskStatusFailed, errorMessage, time.Now(),
		models.TaskStatusPending, models.TaskStatusProcessing)
	if err != nil {
		return fmt.Errorf("failed to fail task: %w", err)
	}
	return requireRowAffected(res)
}

// TimeoutStale fails every processing task started strictly before the
// cutoff and returns the affected tasks. Terminal tasks are untouched.
func (s *TaskStore) TimeoutStale(ctx context.Context, cutoff time.Time, message string) ([]*models.AgentTask, error) {
	var tasks []*models.AgentTask
	err := s.db.SelectContext(ctx, &tasks, `
		UPDATE agent_tasks SET status = $1, error = $2, completed_at = $3
		WHERE status = $4 AND started_at < $5
		RETURNING `+taskColumns,
		models.TaskStatusFailed, message, time.Now(), models.TaskStatusProcessing, cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to time out stale tasks: %w", err)
	}
	return tasks, nil
}

// DeleteTerminalBefore removes terminal tasks completed before the cutoff.
func (s *TaskStore) DeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM agent_tasks
		WHERE status IN ($1, $2) AND completed_at < $3`,
		models.TaskStatusCompleted, models.TaskStatusFailed, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete old tasks: %w", err)
	}
	return res.RowsAffected()
}

// ListByRun returns every task of a run in creation order.
func (s *TaskStore) ListByRun(ctx context.Context, runID string) ([]*models.AgentTask, error) {
	var tasks []*models.AgentTask
	err := s.db.SelectContext(ctx, &tasks, `
		SELECT `+taskColumns+` FROM agent_tasks
		WHERE run_id = $1 ORDER BY created_at ASC`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	return tasks, nil
}

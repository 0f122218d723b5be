// Package agenttask implements the durable agent-task lifecycle: creation,
// guarded state transitions, event emission, the timeout reaper, and
// retention cleanup.
package agenttask

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ToanPV90/answer42-sub008/pkg/events"
	"github.com/ToanPV90/answer42-sub008/pkg/models"
	"github.com/ToanPV90/answer42-sub008/pkg/store"
)

// TaskStore is the persistence surface the service needs.
type TaskStore interface {
	Create(ctx context.Context, task *models.AgentTask) error
	Get(ctx context.Context, taskID string) (*models.AgentTask, error)
	MarkProcessing(ctx context.Context, taskID string) error
	Complete(ctx context.Context, taskID string, result []byte) error
	Fail(ctx context.Context, taskID, errorMessage string) error
}

// EventSink publishes task lifecycle events.
type EventSink interface {
	PublishTaskStatus(ctx context.Context, payload events.TaskStatusPayload) error
}

// Service manages agent task lifecycle. State transitions are serialized
// per task by the store's guarded updates: an illegal transition (e.g.
// completing an already-failed task) is rejected and logged, never
// silently overwritten.
type Service struct {
	tasks     TaskStore
	publisher EventSink
	processed *ProcessedSet
}

// NewService creates a task service.
func NewService(tasks TaskStore, publisher EventSink, processed *ProcessedSet) *Service {
	return &Service{tasks: tasks, publisher: publisher, processed: processed}
}

// Create inserts a task in pending state and emits its first event.
func (s *Service) Create(ctx context.Context, req models.CreateTaskRequest) (*models.AgentTask, error) {
	task := &models.AgentTask{
		ID:      req.TaskID,
		RunID:   req.RunID,
		AgentID: req.AgentID,
		UserID:  req.UserID,
		Input:   req.Input,
		Status:  models.TaskStatusPending,
	}
	if err := s.tasks.Create(ctx, task); err != nil {
		return nil, fmt.Errorf("failed to create task %s: %w", req.TaskID, err)
	}
	s.emit(ctx, task, "")
	return task, nil
}

// Start transitions pending → processing.
func (s *Service) Start(ctx context.Context, taskID string) error {
	if err := s.tasks.MarkProcessing(ctx, taskID); err != nil {
		if errors.Is(err, store.ErrInvalidTransition) {
			slog.Warn("Rejected illegal task transition", "task_id", taskID, "to", "processing")
		}
		return fmt.Errorf("failed to start task %s: %w", taskID, err)
	}
	s.emitByID(ctx, taskID)
	return nil
}

// Complete transitions processing → completed and records the result.
// Paper-processor completions register the paper in the processed set.
func (s *Service) Complete(ctx context.Context, taskID string, result []byte) error {
	if err := s.tasks.Complete(ctx, taskID, result); err != nil {
		if errors.Is(err, store.ErrInvalidTransition) {
			slog.Warn("Rejected illegal task transition", "task_id", taskID, "to", "completed")
		}
		return fmt.Errorf("failed to complete task %s: %w", taskID, err)
	}

	task, err := s.tasks.Get(ctx, taskID)
	if err != nil {
		return err
	}
	if task.AgentID == models.AgentPaperProcessor {
		if paperID := paperIDFromInput(task.Input); paperID != "" {
			if err := s.processed.Add(ctx, paperID, task.RunID); err != nil {
				slog.Warn("Failed to register processed paper",
					"paper_id", paperID, "task_id", taskID, "error", err)
			}
		}
	}
	s.emit(ctx, task, "")
	return nil
}

// Fail transitions pending/processing → failed.
func (s *Service) Fail(ctx context.Context, taskID, errorMessage string) error {
	if err := s.tasks.Fail(ctx, taskID, errorMessage); err != nil {
		if errors.Is(err, store.ErrInvalidTransition) {
			slog.Warn("Rejected illegal task transition", "task_id", taskID, "to", "failed")
		}
		return fmt.Errorf("failed to fail task %s: %w", taskID, err)
	}
	s.emitByID(ctx, taskID)
	return nil
}

// Timeout fails a task with a timeout reason. Already-terminal tasks are
// a no-op: the task beat the reaper to the finish line.
func (s *Service) Timeout(ctx context.Context, taskID, reason string) error {
	err := s.tasks.Fail(ctx, taskID, "Task timed out: "+reason)
	if errors.Is(err, store.ErrInvalidTransition) {
		slog.Debug("Timeout skipped, task already terminal", "task_id", taskID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to time out task %s: %w", taskID, err)
	}
	s.emitByID(ctx, taskID)
	return nil
}

// Get returns one task.
func (s *Service) Get(ctx context.Context, taskID string) (*models.AgentTask, error) {
	return s.tasks.Get(ctx, taskID)
}

func (s *Service) emitByID(ctx context.Context, taskID string) {
	task, err := s.tasks.Get(ctx, taskID)
	if err != nil {
		slog.Warn("Failed to load task for event emission", "task_id", taskID, "error", err)
		return
	}
	s.emit(ctx, task, "")
}

// emit publishes the task's current state. Event publication is
// fire-and-forget: a publish failure never fails the transition.
func (s *Service) emit(ctx context.Context, task *models.AgentTask, errOverride string) {
	errMsg := errOverride
	if errMsg == "" && task.Error != nil {
		errMsg = *task.Error
	}
	payload := events.TaskStatusPayload{
		TaskID:    task.ID,
		RunID:     task.RunID,
		UserID:    task.UserID,
		AgentID:   task.AgentID,
		Status:    task.Status,
		Error:     errMsg,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
	}
	if err := s.publisher.PublishTaskStatus(ctx, payload); err != nil {
		slog.Warn("Failed to publish task event",
			"task_id", task.ID, "status", task.Status, "error", err)
	}
}

// paperIDFromInput extracts the paper ID from a task input document.
func paperIDFromInput(input []byte) string {
	var doc struct {
		PaperID string `json:"paper_id"`
	}
	if err := json.Unmarshal(input, &doc); err != nil {
		return ""
	}
	return doc.PaperID
}

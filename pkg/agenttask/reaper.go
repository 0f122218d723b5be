package agenttask

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ToanPV90/answer42-sub008/pkg/events"
	"github.com/ToanPV90/answer42-sub008/pkg/models"
)

// StaleTaskStore is the reaper's persistence surface.
type StaleTaskStore interface {
	TimeoutStale(ctx context.Context, cutoff time.Time, message string) ([]*models.AgentTask, error)
}

// Reaper periodically times out tasks stuck in processing. A task is
// stale when its started_at is strictly older than the task timeout;
// a task exactly at the boundary survives until the next sweep.
type Reaper struct {
	tasks     StaleTaskStore
	publisher EventSink
	interval  time.Duration
	timeout   time.Duration

	cancel context.CancelFunc
	done   chan struct{}
}

// NewReaper creates a Reaper.
func NewReaper(tasks StaleTaskStore, publisher EventSink, interval, timeout time.Duration) *Reaper {
	return &Reaper{
		tasks:     tasks,
		publisher: publisher,
		interval:  interval,
		timeout:   timeout,
	}
}

// Start launches the background sweep loop.
func (r *Reaper) Start(ctx context.Context) {
	ctx, r.cancel = context.WithCancel(ctx)
	r.done = make(chan struct{})
	go r.loop(ctx)
	slog.Info("Task timeout reaper started",
		"interval", r.interval, "task_timeout", r.timeout)
}

// Stop halts the loop and waits for an in-flight sweep to finish.
func (r *Reaper) Stop() {
	if r.cancel == nil {
		return
	}
	r.cancel()
	<-r.done
	slog.Info("Task timeout reaper stopped")
}

func (r *Reaper) loop(ctx context.Context) {
	defer close(r.done)
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := r.RunOnce(ctx); err != nil {
				slog.Error("Task timeout sweep failed", "error", err)
			}
		}
	}
}

// RunOnce performs one sweep and returns the number of tasks timed out.
// Also invoked by the admin API.
func (r *Reaper) RunOnce(ctx context.Context) (int, error) {
	cutoff := time.Now().Add(-r.timeout)
	message := fmt.Sprintf("processing exceeded %s", r.timeout)

	timedOut, err := r.tasks.TimeoutStale(ctx, cutoff, "Task timed out: "+message)
	if err != nil {
		return 0, err
	}
	if len(timedOut) == 0 {
		return 0, nil
	}

	slog.Warn("Timed out stale tasks", "count", len(timedOut))
	for _, task := range timedOut {
		errMsg := ""
		if task.Error != nil {
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
		if err := r.publisher.PublishTaskStatus(ctx, payload); err != nil {
			slog.Warn("Failed to publish timeout event", "task_id", task.ID, "error", err)
		}
	}
	return len(timedOut), nil
}

package agenttask

import (
	"context"
	"log/slog"
	"time"
)

// RetentionStore is the cleanup sweep's persistence surface.
type RetentionStore interface {
	DeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// EventRetention deletes old event rows.
type EventRetention interface {
	DeleteEventsBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Cleanup deletes terminal tasks past their retention window and expired
// event rows.
type Cleanup struct {
	tasks         RetentionStore
	eventsCleaner EventRetention
	interval      time.Duration
	retentionDays int
	eventTTL      time.Duration

	cancel context.CancelFunc
	done   chan struct{}
}

// NewCleanup creates a Cleanup service.
func NewCleanup(tasks RetentionStore, eventsCleaner EventRetention, interval time.Duration, retentionDays int, eventTTL time.Duration) *Cleanup {
	return &Cleanup{
		tasks:         tasks,
		eventsCleaner: eventsCleaner,
		interval:      interval,
		retentionDays: retentionDays,
		eventTTL:      eventTTL,
	}
}

// Start launches the background cleanup loop.
func (c *Cleanup) Start(ctx context.Context) {
	ctx, c.cancel = context.WithCancel(ctx)
	c.done = make(chan struct{})
	go c.loop(ctx)
	slog.Info("Cleanup service started",
		"interval", c.interval, "task_retention_days", c.retentionDays, "event_ttl", c.eventTTL)
}

// Stop halts the loop and waits for an in-flight sweep to finish.
func (c *Cleanup) Stop() {
	if c.cancel == nil {
		return
	}
	c.cancel()
	<-c.done
	slog.Info("Cleanup service stopped")
}

func (c *Cleanup) loop(ctx context.Context) {
	defer close(c.done)
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.RunOnce(ctx)
		}
	}
}

// RunOnce performs one cleanup sweep. Failures are logged, not fatal:
// the next tick retries.
func (c *Cleanup) RunOnce(ctx context.Context) {
	taskCutoff := time.Now().AddDate(0, 0, -c.retentionDays)
	if n, err := c.tasks.DeleteTerminalBefore(ctx, taskCutoff); err != nil {
		slog.Error("Task cleanup failed", "error", err)
	} else if n > 0 {
		slog.Info("Deleted old terminal tasks", "count", n, "older_than", taskCutoff)
	}

	eventCutoff := time.Now().Add(-c.eventTTL)
	if n, err := c.eventsCleaner.DeleteEventsBefore(ctx, eventCutoff); err != nil {
		slog.Error("Event cleanup failed", "error", err)
	} else if n > 0 {
		slog.Info("Deleted expired events", "count", n, "older_than", eventCutoff)
	}
}

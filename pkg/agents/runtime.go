// Package agents implements the per-agent runtimes: each runtime owns a
// bounded worker pool, a provider adapter, and a reliability envelope,
// and drives one agent task from start to completed/failed.
package agents

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/ToanPV90/answer42-sub008/pkg/config"
	"github.com/ToanPV90/answer42-sub008/pkg/models"
	"github.com/ToanPV90/answer42-sub008/pkg/reliability"
	"github.com/ToanPV90/answer42-sub008/pkg/tokens"
)

// ErrMissingInput marks a stage whose required input is absent from the
// task input document. Never retried: the input will not appear on its own.
var ErrMissingInput = errors.New("required input missing")

// Usage is the provider-reported (or estimated) cost of one handler run.
// Nil usage means the handler made no billable provider call.
type Usage struct {
	Provider     models.Provider
	InputTokens  int
	OutputTokens int
	Cost         float64
}

// Handler executes one agent's provider call: build the request from the
// task input, invoke the provider, and parse the typed result. Degraded
// reports payloads that decoded but did not match the expected shape.
type Handler interface {
	Execute(ctx context.Context, input map[string]any) (data models.ResultData, degraded bool, usage *Usage, err error)
}

// TaskLifecycle is the slice of the task service the runtime drives.
type TaskLifecycle interface {
	Start(ctx context.Context, taskID string) error
	Complete(ctx context.Context, taskID string, result []byte) error
	Fail(ctx context.Context, taskID, errorMessage string) error
}

// Runtime runs tasks for a single agent. Concurrency is bounded by a
// per-agent semaphore; every provider call goes through the reliability
// envelope.
type Runtime struct {
	agent      models.AgentID
	handler    Handler
	tasks      TaskLifecycle
	retrier    *reliability.Retrier
	breaker    *reliability.Breaker
	accounting *tokens.Accounting
	workers    *semaphore.Weighted
}

// NewRuntime creates the runtime for one agent.
func NewRuntime(agent models.AgentID, handler Handler, tasks TaskLifecycle,
	retrier *reliability.Retrier, breaker *reliability.Breaker,
	accounting *tokens.Accounting, cfg *config.AgentConfig) *Runtime {
	workers := cfg.Workers
	if workers <= 0 {
		workers = config.DefaultAgentWorkers
	}
	return &Runtime{
		agent:      agent,
		handler:    handler,
		tasks:      tasks,
		retrier:    retrier,
		breaker:    breaker,
		accounting: accounting,
		workers:    semaphore.NewWeighted(int64(workers)),
	}
}

// Agent returns the agent this runtime serves.
func (r *Runtime) Agent() models.AgentID { return r.agent }

// Process executes one task end to end and returns its result. Blocks
// until a worker slot is free. The returned result is never nil; provider
// failures come back as unsuccessful results with the task already marked
// failed.
func (r *Runtime) Process(ctx context.Context, task *models.AgentTask) *models.AgentResult {
	start := time.Now()

	if err := r.workers.Acquire(ctx, 1); err != nil {
		return r.failTask(ctx, task, start, err)
	}
	defer r.workers.Release(1)

	if err := r.tasks.Start(ctx, task.ID); err != nil {
		return r.failure(task, start, fmt.Errorf("failed to start task: %w", err))
	}

	// Fail fast on an open circuit before burning a retry attempt.
	if r.breaker.Open() {
		return r.failTask(ctx, task, start, reliability.ErrCircuitOpen)
	}

	input := map[string]any{}
	if len(task.Input) > 0 {
		if err := json.Unmarshal(task.Input, &input); err != nil {
			return r.failTask(ctx, task, start, fmt.Errorf("malformed task input: %w", err))
		}
	}

	var (
		data     models.ResultData
		degraded bool
		usage    *Usage
	)
	err := r.retrier.Execute(ctx, func(attemptCtx context.Context) error {
		d, deg, u, err := r.handler.Execute(attemptCtx, input)
		if err != nil {
			return err
		}
		data, degraded, usage = d, deg, u
		return nil
	})
	if err != nil {
		return r.failTask(ctx, task, start, err)
	}

	r.recordUsage(ctx, task, usage, start)

	result := &models.AgentResult{
		TaskID:         task.ID,
		AgentID:        r.agent,
		Success:        true,
		Degraded:       degraded,
		Data:           data,
		ProcessingTime: time.Since(start),
	}
	payload, err := json.Marshal(result)
	if err != nil {
		return r.failTask(ctx, task, start, fmt.Errorf("failed to encode result: %w", err))
	}
	if err := r.tasks.Complete(ctx, task.ID, payload); err != nil {
		slog.Error("Failed to complete task", "task_id", task.ID, "agent", r.agent, "error", err)
	}
	if degraded {
		slog.Warn("Agent produced degraded result", "task_id", task.ID, "agent", r.agent)
	}
	return result
}

// failTask marks the task failed and returns an unsuccessful result. The
// task update runs on an uncancellable context so a cancelled run still
// leaves an accurate terminal record.
func (r *Runtime) failTask(ctx context.Context, task *models.AgentTask, start time.Time, err error) *models.AgentResult {
	reason := failureReason(err)
	persistCtx := context.WithoutCancel(ctx)
	if failErr := r.tasks.Fail(persistCtx, task.ID, reason); failErr != nil {
		slog.Error("Failed to mark task failed",
			"task_id", task.ID, "agent", r.agent, "error", failErr)
	}
	return r.failure(task, start, err)
}

func (r *Runtime) failure(task *models.AgentTask, start time.Time, err error) *models.AgentResult {
	return &models.AgentResult{
		TaskID:         task.ID,
		AgentID:        r.agent,
		Success:        false,
		ErrorMessage:   failureReason(err),
		ProcessingTime: time.Since(start),
	}
}

// failureReason normalizes errors into the task's failure message.
func failureReason(err error) string {
	switch {
	case errors.Is(err, context.Canceled):
		return "cancelled"
	case errors.Is(err, reliability.ErrCircuitOpen):
		return "CircuitOpen"
	case errors.Is(err, ErrMissingInput):
		return err.Error()
	default:
		return err.Error()
	}
}

func (r *Runtime) recordUsage(ctx context.Context, task *models.AgentTask, usage *Usage, start time.Time) {
	if usage == nil {
		return
	}
	rec := &models.TokenMetricsRecord{
		UserID:           task.UserID,
		Provider:         usage.Provider,
		AgentType:        r.agent,
		TaskID:           task.ID,
		InputTokens:      usage.InputTokens,
		OutputTokens:     usage.OutputTokens,
		EstimatedCost:    usage.Cost,
		ProcessingTimeMs: time.Since(start).Milliseconds(),
		Success:          true,
	}
	if err := r.accounting.Record(context.WithoutCancel(ctx), rec); err != nil {
		slog.Warn("Failed to record token usage",
			"task_id", task.ID, "agent", r.agent, "error", err)
	}
}

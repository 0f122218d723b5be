package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/ToanPV90/answer42-sub008/pkg/agents"
	"github.com/ToanPV90/answer42-sub008/pkg/config"
	"github.com/ToanPV90/answer42-sub008/pkg/credits"
	"github.com/ToanPV90/answer42-sub008/pkg/events"
	"github.com/ToanPV90/answer42-sub008/pkg/models"
	"github.com/ToanPV90/answer42-sub008/pkg/store"
)

// ExecRunStore is the run persistence surface the executor needs.
type ExecRunStore interface {
	MarkRunning(ctx context.Context, runID string) error
	Complete(ctx context.Context, runID string, status models.RunStatus, errorMessage *string) error
	UpdateProgress(ctx context.Context, runID string, progress int, stage string) error
	SaveContext(ctx context.Context, runID string, results map[string]*models.AgentResult) error
	AppendStageError(ctx context.Context, runID string, stageErr models.StageError) error
}

// TaskCreator creates the durable task record for one stage execution.
type TaskCreator interface {
	Create(ctx context.Context, req models.CreateTaskRequest) (*models.AgentTask, error)
}

// StageRunner executes one agent task. Satisfied by agents.Runtime.
type StageRunner interface {
	Process(ctx context.Context, task *models.AgentTask) *models.AgentResult
}

// CreditLedger is the credit surface the executor needs: per-stage cost
// resolution and the terminal refund.
type CreditLedger interface {
	Cost(op models.OperationType, tier string) int
	Refund(ctx context.Context, userID string, amount int, referenceID string) error
}

// EventSink publishes run and stage events.
type EventSink interface {
	PublishRunStatus(ctx context.Context, payload events.RunStatusPayload) error
	PublishStageStatus(ctx context.Context, payload events.StageStatusPayload) error
	PublishRunProgress(ctx context.Context, payload events.RunProgressPayload) error
}

// ProgressSink receives in-process progress notifications for runs that
// registered a callback.
type ProgressSink interface {
	Progress(runID string, percent int, stage string)
	Finished(runID string, status models.RunStatus)
}

// Executor drives one claimed run through the stage DAG.
type Executor struct {
	runs      ExecRunStore
	tasks     TaskCreator
	runtimes  map[models.AgentID]StageRunner
	credits   CreditLedger
	publisher EventSink
	progress  ProgressSink
	cfg       *config.PipelineConfig
}

// NewExecutor creates an Executor.
func NewExecutor(runs ExecRunStore, tasks TaskCreator, runtimes map[models.AgentID]StageRunner,
	ledger CreditLedger, publisher EventSink, progress ProgressSink, cfg *config.PipelineConfig) *Executor {
	return &Executor{
		runs:      runs,
		tasks:     tasks,
		runtimes:  runtimes,
		credits:   ledger,
		publisher: publisher,
		progress:  progress,
		cfg:       cfg,
	}
}

// stageFailure is a fatal-stage failure carrying the failing agent.
type stageFailure struct {
	agent models.AgentID
	msg   string
}

func (e *stageFailure) Error() string {
	return fmt.Sprintf("stage %s failed: %s", e.agent, e.msg)
}

// runState is the job context shared by the stages of one run.
type runState struct {
	mu       sync.Mutex
	results  map[string]*models.AgentResult
	consumed int
}

func newRunState(prior map[string]*models.AgentResult) *runState {
	if prior == nil {
		prior = make(map[string]*models.AgentResult)
	}
	return &runState{results: prior}
}

func (s *runState) complete(agent models.AgentID, result *models.AgentResult, cost int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results[string(agent)] = result
	s.consumed += cost
}

// fail records a best-effort failure: downstream stages see an explicit
// null for the stage rather than a missing key.
func (s *runState) fail(agent models.AgentID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results[string(agent)] = nil
}

func (s *runState) snapshot() map[string]*models.AgentResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]*models.AgentResult, len(s.results))
	for k, v := range s.results {
		out[k] = v
	}
	return out
}

// doc returns the stage's result data as a generic document for input
// projection. Degraded results expose their raw payload.
func (s *runState) doc(agent models.AgentID) map[string]any {
	s.mu.Lock()
	result := s.results[string(agent)]
	s.mu.Unlock()
	return resultDoc(result)
}

func (s *runState) totalConsumed() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.consumed
}

// Execute drives a claimed run to a terminal status and returns it.
func (e *Executor) Execute(ctx context.Context, run *models.PipelineRun) models.RunStatus {
	timeout := e.cfg.RunTimeout
	if run.Config != nil && run.Config.RunTimeout > 0 {
		timeout = run.Config.RunTimeout
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	state := newRunState(run.StageResults)

	if err := e.runs.MarkRunning(runCtx, run.ID); err != nil {
		if errors.Is(err, store.ErrInvalidTransition) {
			// Cancelled between claim and start; nothing executed.
			slog.Info("Run cancelled before start", "run_id", run.ID)
			return e.finalize(ctx, run, state, models.RunStatusCancelled, nil, true)
		}
		msg := "failed to start run"
		return e.finalize(ctx, run, state, models.RunStatusFailed, &msg, false)
	}
	e.publishRunStatus(runCtx, run, models.RunStatusRunning, "")
	slog.Info("Run started", "run_id", run.ID, "paper_id", run.PaperID, "user_id", run.UserID)

	var fatal error
	for _, group := range stageGroups() {
		if err := runCtx.Err(); err != nil {
			fatal = err
			break
		}
		if err := e.runGroup(runCtx, run, group, state); err != nil {
			fatal = err
			break
		}
	}

	switch {
	case fatal == nil:
		return e.finalize(ctx, run, state, models.RunStatusCompleted, nil, false)
	case errors.Is(fatal, context.DeadlineExceeded) && ctx.Err() == nil:
		msg := fmt.Sprintf("run timed out after %s", timeout)
		return e.finalize(ctx, run, state, models.RunStatusFailed, &msg, false)
	case errors.Is(fatal, context.Canceled):
		return e.finalize(ctx, run, state, models.RunStatusCancelled, nil, false)
	default:
		msg := fatal.Error()
		return e.finalize(ctx, run, state, models.RunStatusFailed, &msg, false)
	}
}

// runGroup executes one DAG group, in parallel when it has more than one
// stage.
func (e *Executor) runGroup(ctx context.Context, run *models.PipelineRun, group []models.AgentID, state *runState) error {
	if len(group) == 1 {
		return e.runStage(ctx, run, group[0], state)
	}

	g, gctx := errgroup.WithContext(ctx)
	maxParallel := e.cfg.MaxConcurrentAgents
	if run.Config != nil && run.Config.MaxConcurrentAgents > 0 {
		maxParallel = run.Config.MaxConcurrentAgents
	}
	g.SetLimit(maxParallel)
	for _, agent := range group {
		g.Go(func() error {
			return e.runStage(gctx, run, agent, state)
		})
	}
	return g.Wait()
}

// runStage executes one stage. Best-effort failures are absorbed here;
// the returned error is a fatal-stage failure or a cancellation.
func (e *Executor) runStage(ctx context.Context, run *models.PipelineRun, agent models.AgentID, state *runState) error {
	if run.Config.StageDisabled(agent) {
		slog.Info("Stage disabled, skipping", "run_id", run.ID, "stage", agent)
		e.publishStage(ctx, run.ID, agent, events.StageStatusSkipped, "")
		return nil
	}

	runner, ok := e.runtimes[agent]
	if !ok {
		return &stageFailure{agent: agent, msg: "no runtime registered"}
	}

	e.publishStage(ctx, run.ID, agent, events.StageStatusStarted, "")

	inputJSON, err := json.Marshal(e.stageInput(run, agent, state))
	if err != nil {
		return &stageFailure{agent: agent, msg: "failed to encode stage input: " + err.Error()}
	}
	task, err := e.tasks.Create(ctx, models.CreateTaskRequest{
		TaskID:  uuid.NewString(),
		RunID:   run.ID,
		AgentID: agent,
		UserID:  run.UserID,
		Input:   inputJSON,
	})
	if err != nil {
		return &stageFailure{agent: agent, msg: "failed to create task: " + err.Error()}
	}

	result := runner.Process(ctx, task)
	if result.Success {
		e.completeStage(ctx, run, agent, state, result)
		return nil
	}

	if ctx.Err() != nil {
		e.publishStage(context.WithoutCancel(ctx), run.ID, agent, events.StageStatusCancelled, "")
		return ctx.Err()
	}

	stageErr := models.StageError{
		Stage:   string(agent),
		Message: result.ErrorMessage,
		At:      time.Now().UTC(),
	}
	if err := e.runs.AppendStageError(ctx, run.ID, stageErr); err != nil {
		slog.Warn("Failed to record stage error", "run_id", run.ID, "stage", agent, "error", err)
	}
	e.publishStage(ctx, run.ID, agent, events.StageStatusFailed, result.ErrorMessage)

	if e.cfg.IsBestEffort(agent) {
		slog.Warn("Best-effort stage failed, run continues",
			"run_id", run.ID, "stage", agent, "error", result.ErrorMessage)
		state.fail(agent)
		e.saveContext(ctx, run.ID, state)
		return nil
	}
	return &stageFailure{agent: agent, msg: result.ErrorMessage}
}

func (e *Executor) completeStage(ctx context.Context, run *models.PipelineRun, agent models.AgentID, state *runState, result *models.AgentResult) {
	state.complete(agent, result, e.stageCost(agent))
	e.saveContext(ctx, run.ID, state)

	progress := e.cfg.ProgressFor(agent)
	if err := e.runs.UpdateProgress(ctx, run.ID, progress, string(agent)); err != nil {
		slog.Warn("Failed to update progress", "run_id", run.ID, "stage", agent, "error", err)
	}
	e.publishStage(ctx, run.ID, agent, events.StageStatusCompleted, "")
	e.publishProgress(ctx, run.ID, progress, string(agent))
	if e.progress != nil {
		e.progress.Progress(run.ID, progress, string(agent))
	}
	slog.Info("Stage completed",
		"run_id", run.ID, "stage", agent, "progress", progress, "degraded", result.Degraded)
}

// finalize moves the run to its terminal status, refunds unconsumed
// credits, and emits the final events. alreadyTerminal suppresses the
// double-completion warning when RequestCancel beat the worker to it.
func (e *Executor) finalize(ctx context.Context, run *models.PipelineRun, state *runState,
	status models.RunStatus, errMsg *string, alreadyTerminal bool) models.RunStatus {
	persistCtx := context.WithoutCancel(ctx)

	if err := e.runs.Complete(persistCtx, run.ID, status, errMsg); err != nil {
		if !errors.Is(err, store.ErrInvalidTransition) {
			slog.Error("Failed to finalize run", "run_id", run.ID, "status", status, "error", err)
		} else if !alreadyTerminal {
			// RequestCancel moved the run terminal mid-flight; our refund
			// and events still apply.
			slog.Debug("Run already terminal", "run_id", run.ID)
		}
	}

	if refund := run.CreditsReserved - state.totalConsumed(); refund > 0 {
		if err := e.credits.Refund(persistCtx, run.UserID, refund, run.ID); err != nil {
			slog.Error("Failed to refund credits",
				"run_id", run.ID, "user_id", run.UserID, "amount", refund, "error", err)
		}
	}

	errText := ""
	if errMsg != nil {
		errText = *errMsg
	}
	if status == models.RunStatusCompleted {
		e.publishProgress(persistCtx, run.ID, 100, "finalize")
		if e.progress != nil {
			e.progress.Progress(run.ID, 100, "finalize")
		}
	}
	e.publishRunStatus(persistCtx, run, status, errText)
	if e.progress != nil {
		e.progress.Finished(run.ID, status)
	}
	slog.Info("Run finished", "run_id", run.ID, "status", status, "error", errText)
	return status
}

func (e *Executor) stageCost(agent models.AgentID) int {
	op, ok := agentOperation[agent]
	if !ok {
		return 0
	}
	return e.credits.Cost(op, credits.DefaultTier)
}

func (e *Executor) saveContext(ctx context.Context, runID string, state *runState) {
	if err := e.runs.SaveContext(ctx, runID, state.snapshot()); err != nil {
		slog.Warn("Failed to save run context", "run_id", runID, "error", err)
	}
}

func (e *Executor) publishRunStatus(ctx context.Context, run *models.PipelineRun, status models.RunStatus, errText string) {
	payload := events.RunStatusPayload{
		RunID:     run.ID,
		PaperID:   run.PaperID,
		UserID:    run.UserID,
		Status:    status,
		Error:     errText,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
	}
	if err := e.publisher.PublishRunStatus(ctx, payload); err != nil {
		slog.Warn("Failed to publish run status", "run_id", run.ID, "status", status, "error", err)
	}
}

func (e *Executor) publishStage(ctx context.Context, runID string, agent models.AgentID, status, errText string) {
	payload := events.StageStatusPayload{
		RunID:     runID,
		Stage:     string(agent),
		Status:    status,
		Error:     errText,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
	}
	if err := e.publisher.PublishStageStatus(ctx, payload); err != nil {
		slog.Warn("Failed to publish stage status", "run_id", runID, "stage", agent, "error", err)
	}
}

func (e *Executor) publishProgress(ctx context.Context, runID string, progress int, stage string) {
	payload := events.RunProgressPayload{
		RunID:     runID,
		Progress:  progress,
		Stage:     stage,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
	}
	if err := e.publisher.PublishRunProgress(ctx, payload); err != nil {
		slog.Debug("Failed to publish progress", "run_id", runID, "error", err)
	}
}

// stageInput projects the fields a stage needs out of the upload document
// and the prior stages' results.
func (e *Executor) stageInput(run *models.PipelineRun, agent models.AgentID, state *runState) map[string]any {
	input := map[string]any{}
	if len(run.Input) > 0 {
		if err := json.Unmarshal(run.Input, &input); err != nil {
			slog.Warn("Malformed run input document", "run_id", run.ID, "error", err)
			input = map[string]any{}
		}
	}
	input["paper_id"] = run.PaperID
	input["user_id"] = run.UserID

	paperDoc := state.doc(models.AgentPaperProcessor)
	switch agent {
	case models.AgentPaperProcessor, models.AgentMetadataEnhancer:
		// Both read the upload document directly.

	case models.AgentContentSummarizer, models.AgentConceptExplainer, models.AgentCitationFormatter:
		projectText(input, paperDoc)

	case models.AgentQualityChecker:
		projectText(input, paperDoc)
		if summary := agents.FirstString(state.doc(models.AgentContentSummarizer),
			"standard", "brief", "detailed"); summary != "" {
			input["summary"] = summary
		}

	case models.AgentCitationVerifier:
		input["citations"] = rawCitations(state.doc(models.AgentCitationFormatter))

	case models.AgentPerplexityResearcher, models.AgentRelatedPaperDiscovery:
		if title := agents.FirstString(state.doc(models.AgentMetadataEnhancer), "title"); title != "" {
			input["title"] = title
		}
		if summary := agents.FirstString(state.doc(models.AgentContentSummarizer),
			"brief", "standard"); summary != "" {
			input["summary"] = summary
		}
		projectText(input, paperDoc)
	}
	return input
}

// projectText copies the paper text into the stage input under the
// canonical key, tolerating upstream key drift.
func projectText(input, paperDoc map[string]any) {
	if text := agents.FirstString(paperDoc, agents.TextKeys...); text != "" {
		input["textContent"] = text
	}
}

// resultDoc flattens a stage result into a generic document.
func resultDoc(result *models.AgentResult) map[string]any {
	if result == nil || result.Data == nil {
		return nil
	}
	if degraded, ok := result.Data.(models.Degraded); ok {
		return degraded.Raw
	}
	raw, err := json.Marshal(result.Data)
	if err != nil {
		return nil
	}
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil
	}
	return doc
}

// rawCitations extracts the raw citation strings from the formatter's
// result document.
func rawCitations(doc map[string]any) []string {
	items, ok := doc["citations"].([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		entry, ok := item.(map[string]any)
		if !ok {
			continue
		}
		if raw, ok := entry["raw"].(string); ok && raw != "" {
			out = append(out, raw)
		}
	}
	return out
}

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

	"github.com/ToanPV90/answer42-sub008/pkg/config"
	"github.com/ToanPV90/answer42-sub008/pkg/events"
	"github.com/ToanPV90/answer42-sub008/pkg/models"
	"github.com/ToanPV90/answer42-sub008/pkg/store"
)

// ErrRunNotFound mirrors the store sentinel for API callers.
var ErrRunNotFound = store.ErrNotFound

// ErrDraining is returned when new runs are refused during drain.
var ErrDraining = errors.New("service is draining, not accepting new runs")

// waitPollInterval is how often WaitFor re-reads the run.
const waitPollInterval = 500 * time.Millisecond

// ServiceRunStore is the run persistence surface the inbound API needs.
type ServiceRunStore interface {
	Create(ctx context.Context, run *models.PipelineRun) error
	Get(ctx context.Context, runID string) (*models.PipelineRun, error)
	RequestCancel(ctx context.Context, runID string) error
}

// CreditGate reserves and refunds run credits.
type CreditGate interface {
	Reserve(ctx context.Context, userID string, amount int, referenceID string) error
	Refund(ctx context.Context, userID string, amount int, referenceID string) error
}

// RunCanceller cancels a run executing in this process.
type RunCanceller interface {
	CancelActive(runID string) bool
}

// StartRequest carries everything needed to enqueue a run.
type StartRequest struct {
	PaperID string
	UserID  string
	// Input is the upload document: paper text plus whatever metadata the
	// caller already knows (title, doi).
	Input map[string]any
	// Config optionally overrides the pipeline defaults for this run.
	Config *models.RunConfiguration
	// OnProgress is invoked after every stage completion, in-process only.
	OnProgress ProgressFunc
}

// Service is the inbound orchestrator surface: start, cancel, status,
// wait. Runs are enqueued as PENDING rows; the worker pool claims and
// executes them.
type Service struct {
	runs      ServiceRunStore
	credits   CreditGate
	publisher EventSink
	canceller RunCanceller
	cfg       *config.PipelineConfig

	draining  bool
	mu        sync.Mutex
	callbacks map[string]ProgressFunc
}

// NewService creates the orchestrator service.
func NewService(runs ServiceRunStore, gate CreditGate, publisher EventSink, cfg *config.PipelineConfig) *Service {
	return &Service{
		runs:      runs,
		credits:   gate,
		publisher: publisher,
		cfg:       cfg,
		callbacks: make(map[string]ProgressFunc),
	}
}

// SetCanceller wires the worker pool in after construction (the pool
// needs the executor, which needs this service as its progress sink).
func (s *Service) SetCanceller(c RunCanceller) { s.canceller = c }

// StartRun reserves credits and enqueues a run. An insufficient balance
// produces a terminal PENDING_CREDITS run with no stages executed and
// nothing reserved.
func (s *Service) StartRun(ctx context.Context, req StartRequest) (*models.PipelineRun, error) {
	if s.isDraining() {
		return nil, ErrDraining
	}
	if req.PaperID == "" || req.UserID == "" {
		return nil, fmt.Errorf("paper_id and user_id are required")
	}

	runID := uuid.NewString()
	cost := s.cfg.DefaultCreditCost
	if req.Config != nil && req.Config.CreditCost > 0 {
		cost = req.Config.CreditCost
	}

	inputJSON, err := json.Marshal(req.Input)
	if err != nil {
		return nil, fmt.Errorf("failed to encode run input: %w", err)
	}
	var configJSON []byte
	if req.Config != nil {
		if configJSON, err = json.Marshal(req.Config); err != nil {
			return nil, fmt.Errorf("failed to encode run configuration: %w", err)
		}
	}

	run := &models.PipelineRun{
		ID:            runID,
		PaperID:       req.PaperID,
		UserID:        req.UserID,
		Input:         inputJSON,
		Configuration: configJSON,
		Config:        req.Config,
	}

	if err := s.credits.Reserve(ctx, req.UserID, cost, runID); err != nil {
		if errors.Is(err, store.ErrInsufficientCredits) {
			return s.refuseForCredits(ctx, run)
		}
		return nil, fmt.Errorf("failed to reserve credits: %w", err)
	}

	run.Status = models.RunStatusPending
	run.CreditsReserved = cost
	if err := s.runs.Create(ctx, run); err != nil {
		// The run never existed; hand the reservation back.
		if refundErr := s.credits.Refund(ctx, req.UserID, cost, runID); refundErr != nil {
			slog.Error("Failed to refund after create failure",
				"run_id", runID, "user_id", req.UserID, "error", refundErr)
		}
		return nil, fmt.Errorf("failed to create run: %w", err)
	}

	if req.OnProgress != nil {
		s.mu.Lock()
		s.callbacks[runID] = req.OnProgress
		s.mu.Unlock()
	}

	s.publishRunStatus(ctx, run, models.RunStatusPending, "")
	slog.Info("Run enqueued",
		"run_id", runID, "paper_id", req.PaperID, "user_id", req.UserID, "credits", cost)
	return run, nil
}

// refuseForCredits records the terminal PENDING_CREDITS run and emits
// its single event.
func (s *Service) refuseForCredits(ctx context.Context, run *models.PipelineRun) (*models.PipelineRun, error) {
	run.Status = models.RunStatusPendingCredits
	if err := s.runs.Create(ctx, run); err != nil {
		return nil, fmt.Errorf("failed to record refused run: %w", err)
	}
	s.publishRunStatus(ctx, run, models.RunStatusPendingCredits, "insufficient credits")
	slog.Info("Run refused for credits", "run_id", run.ID, "user_id", run.UserID)
	return run, nil
}

// Cancel cancels a run. Queued runs are refunded immediately; in-flight
// runs are interrupted and refunded by their executor's finalization.
func (s *Service) Cancel(ctx context.Context, runID string) error {
	run, err := s.runs.Get(ctx, runID)
	if err != nil {
		return err
	}

	if err := s.runs.RequestCancel(ctx, runID); err != nil {
		if errors.Is(err, store.ErrInvalidTransition) {
			return fmt.Errorf("run %s is already terminal: %w", runID, err)
		}
		return err
	}

	interrupted := s.canceller != nil && s.canceller.CancelActive(runID)
	if !interrupted && run.Status == models.RunStatusPending {
		// Never claimed; no executor will refund it.
		if err := s.credits.Refund(ctx, run.UserID, run.CreditsReserved, runID); err != nil {
			slog.Error("Failed to refund cancelled queued run",
				"run_id", runID, "user_id", run.UserID, "error", err)
		}
		s.publishRunStatus(ctx, run, models.RunStatusCancelled, "")
		s.Finished(runID, models.RunStatusCancelled)
	}
	slog.Info("Run cancellation requested", "run_id", runID, "interrupted", interrupted)
	return nil
}

// Status returns the status projection of a run.
func (s *Service) Status(ctx context.Context, runID string) (*models.RunStatusView, error) {
	run, err := s.runs.Get(ctx, runID)
	if err != nil {
		return nil, err
	}
	return statusView(run), nil
}

// WaitFor blocks until the run reaches a terminal status or the context
// expires.
func (s *Service) WaitFor(ctx context.Context, runID string) (*models.RunStatusView, error) {
	ticker := time.NewTicker(waitPollInterval)
	defer ticker.Stop()

	for {
		run, err := s.runs.Get(ctx, runID)
		if err != nil {
			return nil, err
		}
		if run.Status.Terminal() {
			return statusView(run), nil
		}
		select {
		case <-ctx.Done():
			return statusView(run), ctx.Err()
		case <-ticker.C:
		}
	}
}

// Drain makes StartRun refuse new runs. In-flight runs keep going.
func (s *Service) Drain() {
	s.mu.Lock()
	s.draining = true
	s.mu.Unlock()
	slog.Info("Run intake draining")
}

// Draining reports whether new runs are being refused.
func (s *Service) Draining() bool { return s.isDraining() }

func (s *Service) isDraining() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.draining
}

// Progress delivers a stage completion to the run's registered callback.
// Part of the executor's ProgressSink.
func (s *Service) Progress(runID string, percent int, stage string) {
	s.mu.Lock()
	cb := s.callbacks[runID]
	s.mu.Unlock()
	if cb != nil {
		cb(runID, percent, stage)
	}
}

// Finished drops the run's callback registration. Part of the executor's
// ProgressSink.
func (s *Service) Finished(runID string, _ models.RunStatus) {
	s.mu.Lock()
	delete(s.callbacks, runID)
	s.mu.Unlock()
}

func (s *Service) publishRunStatus(ctx context.Context, run *models.PipelineRun, status models.RunStatus, errText string) {
	payload := events.RunStatusPayload{
		RunID:     run.ID,
		PaperID:   run.PaperID,
		UserID:    run.UserID,
		Status:    status,
		Error:     errText,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
	}
	if err := s.publisher.PublishRunStatus(ctx, payload); err != nil {
		slog.Warn("Failed to publish run status", "run_id", run.ID, "status", status, "error", err)
	}
}

func statusView(run *models.PipelineRun) *models.RunStatusView {
	view := &models.RunStatusView{
		RunID:    run.ID,
		Status:   run.Status,
		Progress: run.ProgressPercent,
		Errors:   []models.StageError{},
	}
	if run.CurrentStage != nil {
		view.CurrentStage = *run.CurrentStage
	}
	if len(run.StageErrors) > 0 {
		if err := json.Unmarshal(run.StageErrors, &view.Errors); err != nil {
			slog.Warn("Malformed stage_errors column", "run_id", run.ID, "error", err)
		}
	}
	return view
}

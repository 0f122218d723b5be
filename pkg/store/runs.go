package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/ToanPV90/answer42-sub008/pkg/models"
)

// RunStore persists pipeline runs and implements the queue claiming
// protocol workers use to pick up pending runs.
type RunStore struct {
	db *sqlx.DB
}

// NewRunStore creates a RunStore.
func NewRunStore(db *sqlx.DB) *RunStore {
	return &RunStore{db: db}
}

const runColumns = `id, paper_id, user_id, status, progress_percent, current_stage,
	worker_id, input, configuration, context, error_message, stage_errors,
	credits_reserved, created_at, started_at, completed_at, last_heartbeat_at`

// Create inserts a new run in PENDING state. Configuration must already
// be marshaled into run.Configuration.
func (s *RunStore) Create(ctx context.Context, run *models.PipelineRun) error {
	if len(run.Input) == 0 {
		run.Input = []byte("{}")
	}
	if len(run.Configuration) == 0 {
		run.Configuration = []byte("{}")
	}
	if len(run.Context) == 0 {
		run.Context = []byte("{}")
	}
	if len(run.StageErrors) == 0 {
		run.StageErrors = []byte("[]")
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO pipeline_runs
			(id, paper_id, user_id, status, input, configuration, context, stage_errors, credits_reserved, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		run.ID, run.PaperID, run.UserID, run.Status, run.Input,
		run.Configuration, run.Context, run.StageErrors, run.CreditsReserved, time.Now())
	if err != nil {
		return fmt.Errorf("failed to create run: %w", err)
	}
	return nil
}

// Get returns one run with its configuration and stage results decoded.
func (s *RunStore) Get(ctx context.Context, runID string) (*models.PipelineRun, error) {
	var run models.PipelineRun
	err := s.db.GetContext(ctx, &run,
		`SELECT `+runColumns+` FROM pipeline_runs WHERE id = $1`, runID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	if err := decodeRun(&run); err != nil {
		return nil, err
	}
	return &run, nil
}

// ClaimNextPending atomically claims the oldest PENDING run for the
// given worker, moving it to INITIALIZING. FOR UPDATE SKIP LOCKED makes
// concurrent workers claim disjoint runs without blocking each other.
// Returns (nil, nil) when the queue is empty.
func (s *RunStore) ClaimNextPending(ctx context.Context, workerID string) (*models.PipelineRun, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin claim transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var run models.PipelineRun
	err = tx.GetContext(ctx, &run, `
		SELECT `+runColumns+`
		FROM pipeline_runs
		WHERE status = $1
		ORDER BY created_at ASC
		LIMIT 1
		FOR UPDATE SKIP LOCKED`,
		models.RunStatusPending)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to select pending run: %w", err)
	}

	now := time.Now()
	_, err = tx.ExecContext(ctx, `
		UPDATE pipeline_runs
		SET status = $2, worker_id = $3, started_at = $4, last_heartbeat_at = $4
		WHERE id = $1`,
		run.ID, models.RunStatusInitializing, workerID, now)
	if err != nil {
		return nil, fmt.Errorf("failed to claim run: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit claim: %w", err)
	}

	run.Status = models.RunStatusInitializing
	run.WorkerID = &workerID
	run.StartedAt = &now
	run.LastHeartbeatAt = &now
	if err := decodeRun(&run); err != nil {
		return nil, err
	}
	return &run, nil
}

// MarkRunning transitions an INITIALIZING run to RUNNING. Guarded: the
// run must still be INITIALIZING (not cancelled underneath the worker).
func (s *RunStore) MarkRunning(ctx context.Context, runID string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE pipeline_runs SET status = $2
		WHERE id = $1 AND status = $3`,
		runID, models.RunStatusRunning, models.RunStatusInitializing)
	if err != nil {
		return fmt.Errorf("failed to mark run running: %w", err)
	}
	return requireRowAffected(res)
}

// Complete moves a run to a terminal status with the final progress.
// Guarded against double-completion: terminal states never change.
func (s *RunStore) Complete(ctx context.Context, runID string, status models.RunStatus, errorMessage *string) error {
	if !status.Terminal() {
		return fmt.Errorf("status %s is not terminal", status)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE pipeline_runs
		SET status = $2, error_message = $3, completed_at = $4,
		    progress_percent = CASE WHEN $2 = 'COMPLETED' THEN 100 ELSE progress_percent END
		WHERE id = $1 AND status NOT IN ('COMPLETED', 'FAILED', 'CANCELLED', 'PENDING_CREDITS')`,
		runID, status, errorMessage, time.Now())
	if err != nil {
		return fmt.Errorf("failed to complete run: %w", err)
	}
	return requireRowAffected(res)
}

// RequestCancel moves a PENDING or active run to CANCELLED. Returns
// ErrInvalidTransition if the run is already terminal.
func (s *RunStore) RequestCancel(ctx context.Context, runID string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE pipeline_runs
		SET status = $2, completed_at = $3
		WHERE id = $1 AND status IN ('PENDING', 'INITIALIZING', 'RUNNING')`,
		runID, models.RunStatusCancelled, time.Now())
	if err != nil {
		return fmt.Errorf("failed to cancel run: %w", err)
	}
	return requireRowAffected(res)
}

// UpdateProgress advances progress and the current stage. Progress is
// monotonic: GREATEST keeps concurrent stage completions from moving
// the bar backwards.
func (s *RunStore) UpdateProgress(ctx context.Context, runID string, progress int, stage string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE pipeline_runs
		SET progress_percent = GREATEST(progress_percent, $2), current_stage = $3
		WHERE id = $1`,
		runID, progress, stage)
	if err != nil {
		return fmt.Errorf("failed to update progress: %w", err)
	}
	return nil
}

// SaveContext persists the accumulated stage results for the run.
func (s *RunStore) SaveContext(ctx context.Context, runID string, results map[string]*models.AgentResult) error {
	data, err := json.Marshal(results)
	if err != nil {
		return fmt.Errorf("failed to marshal run context: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`UPDATE pipeline_runs SET context = $2 WHERE id = $1`, runID, data)
	if err != nil {
		return fmt.Errorf("failed to save run context: %w", err)
	}
	return nil
}

// AppendStageError appends one stage error to the run's error list.
func (s *RunStore) AppendStageError(ctx context.Context, runID string, stageErr models.StageError) error {
	data, err := json.Marshal(stageErr)
	if err != nil {
		return fmt.Errorf("failed to marshal stage error: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		UPDATE pipeline_runs
		SET stage_errors = stage_errors || $2::jsonb
		WHERE id = $1`,
		runID, data)
	if err != nil {
		return fmt.Errorf("failed to append stage error: %w", err)
	}
	return nil
}

// Heartbeat refreshes the worker liveness timestamp. Guarded by worker
// ID so a recovered orphan cannot be kept alive by its old worker.
func (s *RunStore) Heartbeat(ctx context.Context, runID, workerID string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE pipeline_runs SET last_heartbeat_at = $3
		WHERE id = $1 AND worker_id = $2 AND status IN ('INITIALIZING', 'RUNNING')`,
		runID, workerID, time.Now())
	if err != nil {
		return fmt.Errorf("failed to heartbeat run: %w", err)
	}
	return requireRowAffected(res)
}

// FindOrphans returns active runs whose heartbeat is older than the
// threshold. Their worker is presumed dead.
func (s *RunStore) FindOrphans(ctx context.Context, olderThan time.Time) ([]*models.PipelineRun, error) {
	var runs []*models.PipelineRun
	err := s.db.SelectContext(ctx, &runs, `
		SELECT `+runColumns+`
		FROM pipeline_runs
		WHERE status IN ('INITIALIZING', 'RUNNING')
		  AND (last_heartbeat_at IS NULL OR last_heartbeat_at < $1)`,
		olderThan)
	if err != nil {
		return nil, fmt.Errorf("failed to find orphaned runs: %w", err)
	}
	for _, run := range runs {
		if err := decodeRun(run); err != nil {
			return nil, err
		}
	}
	return runs, nil
}

// FailOrphan marks an orphaned run FAILED with the given message.
// Guarded: only active runs transition.
func (s *RunStore) FailOrphan(ctx context.Context, runID, message string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE pipeline_runs
		SET status = $2, error_message = $3, completed_at = $4
		WHERE id = $1 AND status IN ('INITIALIZING', 'RUNNING')`,
		runID, models.RunStatusFailed, message, time.Now())
	if err != nil {
		return fmt.Errorf("failed to fail orphaned run: %w", err)
	}
	return requireRowAffected(res)
}

// ListByUser returns a user's runs, newest first.
func (s *RunStore) ListByUser(ctx context.Context, userID string, limit int) ([]*models.PipelineRun, error) {
	var runs []*models.PipelineRun
	err := s.db.SelectContext(ctx, &runs, `
		SELECT `+runColumns+`
		FROM pipeline_runs
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2`,
		userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	for _, run := range runs {
		if err := decodeRun(run); err != nil {
			return nil, err
		}
	}
	return runs, nil
}

// CountByStatus returns run counts grouped by status, for pool health.
func (s *RunStore) CountByStatus(ctx context.Context) (map[models.RunStatus]int, error) {
	rows, err := s.db.QueryxContext(ctx,
		`SELECT status, COUNT(*) FROM pipeline_runs GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("failed to count runs: %w", err)
	}
	defer rows.Close()

	counts := make(map[models.RunStatus]int)
	for rows.Next() {
		var status models.RunStatus
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("failed to scan run count: %w", err)
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

// decodeRun populates the decoded views of the JSON columns.
func decodeRun(run *models.PipelineRun) error {
	if len(run.Configuration) > 0 {
		var cfg models.RunConfiguration
		if err := json.Unmarshal(run.Configuration, &cfg); err != nil {
			return fmt.Errorf("failed to decode run configuration: %w", err)
		}
		run.Config = &cfg
	}
	if len(run.Context) > 0 {
		results := make(map[string]*models.AgentResult)
		if err := json.Unmarshal(run.Context, &results); err != nil {
			return fmt.Errorf("failed to decode run context: %w", err)
		}
		run.StageResults = results
	}
	return nil
}

// requireRowAffected converts a zero-row UPDATE into ErrInvalidTransition.
func requireRowAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 0 {
		return ErrInvalidTransition
	}
	return nil
}

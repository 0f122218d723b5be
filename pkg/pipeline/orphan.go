package pipeline

import (
	"context"
	"log/slog"
	"time"

	"github.com/ToanPV90/answer42-sub008/pkg/config"
	"github.com/ToanPV90/answer42-sub008/pkg/credits"
	"github.com/ToanPV90/answer42-sub008/pkg/events"
	"github.com/ToanPV90/answer42-sub008/pkg/models"
)

// orphanMessage is the error recorded on runs whose worker died.
const orphanMessage = "worker lost: heartbeat expired"

// OrphanStore is the persistence surface orphan recovery needs.
type OrphanStore interface {
	FindOrphans(ctx context.Context, olderThan time.Time) ([]*models.PipelineRun, error)
	FailOrphan(ctx context.Context, runID, message string) error
}

// OrphanDetector fails runs whose worker stopped heartbeating and
// refunds the credits their remaining stages would have consumed. Runs
// once at startup (crash recovery) and then periodically.
type OrphanDetector struct {
	store     OrphanStore
	credits   CreditLedger
	publisher EventSink
	cfg       *config.QueueConfig

	cancel context.CancelFunc
	done   chan struct{}
}

// NewOrphanDetector creates an OrphanDetector.
func NewOrphanDetector(store OrphanStore, ledger CreditLedger, publisher EventSink, cfg *config.QueueConfig) *OrphanDetector {
	return &OrphanDetector{store: store, credits: ledger, publisher: publisher, cfg: cfg}
}

// Start launches the periodic sweep.
func (d *OrphanDetector) Start(ctx context.Context) {
	ctx, d.cancel = context.WithCancel(ctx)
	d.done = make(chan struct{})
	go d.loop(ctx)
	slog.Info("Orphan detector started",
		"interval", d.cfg.OrphanDetectionInterval, "threshold", d.cfg.OrphanThreshold)
}

// Stop halts the sweep loop.
func (d *OrphanDetector) Stop() {
	if d.cancel == nil {
		return
	}
	d.cancel()
	<-d.done
}

func (d *OrphanDetector) loop(ctx context.Context) {
	defer close(d.done)
	ticker := time.NewTicker(d.cfg.OrphanDetectionInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n, err := d.RunOnce(ctx); err != nil {
				slog.Error("Orphan sweep failed", "error", err)
			} else if n > 0 {
				slog.Warn("Recovered orphaned runs", "count", n)
			}
		}
	}
}

// RunOnce fails every orphaned run and returns the count. Strictly
// older-than: a heartbeat exactly at the threshold survives.
func (d *OrphanDetector) RunOnce(ctx context.Context) (int, error) {
	cutoff := time.Now().Add(-d.cfg.OrphanThreshold)
	orphans, err := d.store.FindOrphans(ctx, cutoff)
	if err != nil {
		return 0, err
	}

	recovered := 0
	for _, run := range orphans {
		if err := d.store.FailOrphan(ctx, run.ID, orphanMessage); err != nil {
			slog.Error("Failed to fail orphaned run", "run_id", run.ID, "error", err)
			continue
		}
		recovered++

		if refund := run.CreditsReserved - d.consumed(run); refund > 0 {
			if err := d.credits.Refund(ctx, run.UserID, refund, run.ID); err != nil {
				slog.Error("Failed to refund orphaned run",
					"run_id", run.ID, "user_id", run.UserID, "amount", refund, "error", err)
			}
		}

		payload := events.RunStatusPayload{
			RunID:     run.ID,
			PaperID:   run.PaperID,
			UserID:    run.UserID,
			Status:    models.RunStatusFailed,
			Error:     orphanMessage,
			Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		}
		if err := d.publisher.PublishRunStatus(ctx, payload); err != nil {
			slog.Warn("Failed to publish orphan failure", "run_id", run.ID, "error", err)
		}
		slog.Warn("Orphaned run failed",
			"run_id", run.ID, "worker_id", ptrOr(run.WorkerID, "unknown"),
			"last_heartbeat", run.LastHeartbeatAt)
	}
	return recovered, nil
}

// consumed sums the stage costs of the orphan's completed stages, read
// back from the persisted run context.
func (d *OrphanDetector) consumed(run *models.PipelineRun) int {
	total := 0
	for stage, result := range run.StageResults {
		if result == nil || !result.Success {
			continue
		}
		if op, ok := agentOperation[models.AgentID(stage)]; ok {
			total += d.credits.Cost(op, credits.DefaultTier)
		}
	}
	return total
}

func ptrOr(s *string, fallback string) string {
	if s != nil {
		return *s
	}
	return fallback
}

package pipeline

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ToanPV90/answer42-sub008/pkg/config"
	"github.com/ToanPV90/answer42-sub008/pkg/models"
	"github.com/ToanPV90/answer42-sub008/pkg/store"
)

type fakeCanceller struct {
	interrupted bool

	mu    sync.Mutex
	calls []string
}

func (f *fakeCanceller) CancelActive(runID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, runID)
	return f.interrupted
}

func newTestService(runs *memRunStore, ledger *memLedger) (*Service, *memEvents) {
	sink := &memEvents{}
	svc := NewService(runs, ledger, sink, config.DefaultPipelineConfig())
	return svc, sink
}

func TestStartRunEnqueuesPending(t *testing.T) {
	runs := newMemRunStore()
	ledger := newMemLedger()
	svc, sink := newTestService(runs, ledger)

	run, err := svc.StartRun(context.Background(), StartRequest{
		PaperID: "paper-1",
		UserID:  "user-1",
		Input:   map[string]any{"textContent": "some text"},
	})

	require.NoError(t, err)
	assert.Equal(t, models.RunStatusPending, run.Status)
	assert.Equal(t, 30, run.CreditsReserved, "default full-pipeline reservation")
	assert.Equal(t, 30, ledger.reserves[run.ID])

	stored, err := runs.Get(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusPending, stored.Status)
	assert.JSONEq(t, `{"textContent":"some text"}`, string(stored.Input))
	assert.Equal(t, models.RunStatusPending, sink.lastRunStatus())
}

func TestStartRunConfigOverridesCost(t *testing.T) {
	runs := newMemRunStore()
	ledger := newMemLedger()
	svc, _ := newTestService(runs, ledger)

	run, err := svc.StartRun(context.Background(), StartRequest{
		PaperID: "paper-1",
		UserID:  "user-1",
		Config:  &models.RunConfiguration{CreditCost: 18},
	})

	require.NoError(t, err)
	assert.Equal(t, 18, run.CreditsReserved)
	assert.Equal(t, 18, ledger.reserves[run.ID])
}

func TestStartRunInsufficientCredits(t *testing.T) {
	runs := newMemRunStore()
	ledger := newMemLedger()
	ledger.reserveErr = store.ErrInsufficientCredits
	svc, sink := newTestService(runs, ledger)

	run, err := svc.StartRun(context.Background(), StartRequest{
		PaperID: "paper-1",
		UserID:  "broke-user",
	})

	require.NoError(t, err, "a refused run is a recorded outcome, not an API error")
	assert.Equal(t, models.RunStatusPendingCredits, run.Status)
	assert.True(t, run.Status.Terminal())
	assert.Zero(t, run.CreditsReserved, "nothing reserved, nothing to refund")
	assert.Zero(t, ledger.refunded(run.ID))

	stored, err := runs.Get(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusPendingCredits, stored.Status)
	require.Len(t, sink.runStatuses, 1, "exactly one event for a refused run")
	assert.Equal(t, models.RunStatusPendingCredits, sink.runStatuses[0])
}

func TestStartRunValidation(t *testing.T) {
	svc, _ := newTestService(newMemRunStore(), newMemLedger())

	_, err := svc.StartRun(context.Background(), StartRequest{UserID: "user-1"})
	assert.Error(t, err)
	_, err = svc.StartRun(context.Background(), StartRequest{PaperID: "paper-1"})
	assert.Error(t, err)
}

func TestStartRunRefusedWhileDraining(t *testing.T) {
	svc, _ := newTestService(newMemRunStore(), newMemLedger())
	svc.Drain()

	_, err := svc.StartRun(context.Background(), StartRequest{PaperID: "p", UserID: "u"})
	assert.ErrorIs(t, err, ErrDraining)
	assert.True(t, svc.Draining())
}

func TestCancelQueuedRunRefundsImmediately(t *testing.T) {
	runs := newMemRunStore()
	ledger := newMemLedger()
	svc, sink := newTestService(runs, ledger)
	svc.SetCanceller(&fakeCanceller{interrupted: false})

	run, err := svc.StartRun(context.Background(), StartRequest{PaperID: "p", UserID: "u"})
	require.NoError(t, err)

	require.NoError(t, svc.Cancel(context.Background(), run.ID))

	assert.Equal(t, models.RunStatusCancelled, runs.status(run.ID))
	// No worker ever claimed it, so the service refunds the reservation.
	assert.Equal(t, 30, ledger.refunded(run.ID))
	assert.Equal(t, models.RunStatusCancelled, sink.lastRunStatus())
}

func TestCancelActiveRunDelegatesToWorker(t *testing.T) {
	runs := newMemRunStore()
	ledger := newMemLedger()
	svc, _ := newTestService(runs, ledger)
	canceller := &fakeCanceller{interrupted: true}
	svc.SetCanceller(canceller)

	runs.add(&models.PipelineRun{
		ID: "run-active", PaperID: "p", UserID: "u",
		Status: models.RunStatusRunning, CreditsReserved: 30,
	})

	require.NoError(t, svc.Cancel(context.Background(), "run-active"))

	assert.Equal(t, []string{"run-active"}, canceller.calls)
	// The interrupted executor's finalization owns the refund.
	assert.Zero(t, ledger.refunded("run-active"))
}

func TestCancelTerminalRun(t *testing.T) {
	runs := newMemRunStore()
	svc, _ := newTestService(runs, newMemLedger())
	runs.add(&models.PipelineRun{ID: "run-done", Status: models.RunStatusCompleted})

	err := svc.Cancel(context.Background(), "run-done")
	assert.ErrorIs(t, err, store.ErrInvalidTransition)
}

func TestCancelUnknownRun(t *testing.T) {
	svc, _ := newTestService(newMemRunStore(), newMemLedger())
	err := svc.Cancel(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrRunNotFound)
}

func TestStatusProjection(t *testing.T) {
	runs := newMemRunStore()
	svc, _ := newTestService(runs, newMemLedger())

	stageErrs, _ := json.Marshal([]models.StageError{
		{Stage: "METADATA_ENHANCER", Message: "crossref unavailable", At: time.Now().UTC()},
	})
	stage := "QUALITY_CHECKER"
	runs.add(&models.PipelineRun{
		ID: "run-1", Status: models.RunStatusRunning,
		ProgressPercent: 65, CurrentStage: &stage, StageErrors: stageErrs,
	})

	view, err := svc.Status(context.Background(), "run-1")
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusRunning, view.Status)
	assert.Equal(t, 65, view.Progress)
	assert.Equal(t, "QUALITY_CHECKER", view.CurrentStage)
	require.Len(t, view.Errors, 1)
	assert.Equal(t, "METADATA_ENHANCER", view.Errors[0].Stage)

	_, err = svc.Status(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrRunNotFound)
}

func TestStatusErrorsAlwaysNonNil(t *testing.T) {
	runs := newMemRunStore()
	svc, _ := newTestService(runs, newMemLedger())
	runs.add(&models.PipelineRun{ID: "run-1", Status: models.RunStatusPending})

	view, err := svc.Status(context.Background(), "run-1")
	require.NoError(t, err)
	assert.NotNil(t, view.Errors)
	assert.Empty(t, view.Errors)
}

func TestWaitForTerminalRun(t *testing.T) {
	runs := newMemRunStore()
	svc, _ := newTestService(runs, newMemLedger())
	runs.add(&models.PipelineRun{ID: "run-1", Status: models.RunStatusCompleted, ProgressPercent: 100})

	view, err := svc.WaitFor(context.Background(), "run-1")
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusCompleted, view.Status)
}

func TestWaitForTimesOutWithLastView(t *testing.T) {
	runs := newMemRunStore()
	svc, _ := newTestService(runs, newMemLedger())
	runs.add(&models.PipelineRun{ID: "run-1", Status: models.RunStatusRunning, ProgressPercent: 45})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	view, err := svc.WaitFor(ctx, "run-1")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	require.NotNil(t, view, "the last observed view comes back with the error")
	assert.Equal(t, models.RunStatusRunning, view.Status)
}

func TestProgressCallbackLifecycle(t *testing.T) {
	runs := newMemRunStore()
	svc, _ := newTestService(runs, newMemLedger())

	var mu sync.Mutex
	var seen []int
	run, err := svc.StartRun(context.Background(), StartRequest{
		PaperID: "p", UserID: "u",
		OnProgress: func(_ string, percent int, _ string) {
			mu.Lock()
			seen = append(seen, percent)
			mu.Unlock()
		},
	})
	require.NoError(t, err)

	svc.Progress(run.ID, 15, "PAPER_PROCESSOR")
	svc.Progress(run.ID, 45, "CONTENT_SUMMARIZER")
	svc.Finished(run.ID, models.RunStatusCompleted)
	svc.Progress(run.ID, 100, "finalize") // dropped, registration is gone

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []int{15, 45}, seen)
}

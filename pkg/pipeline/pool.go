package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ToanPV90/answer42-sub008/pkg/config"
	"github.com/ToanPV90/answer42-sub008/pkg/models"
)

// ClaimStore is the queue surface the worker pool needs.
type ClaimStore interface {
	ClaimNextPending(ctx context.Context, workerID string) (*models.PipelineRun, error)
	Heartbeat(ctx context.Context, runID, workerID string) error
	CountByStatus(ctx context.Context) (map[models.RunStatus]int, error)
}

// RunExecutor drives one claimed run to completion.
type RunExecutor interface {
	Execute(ctx context.Context, run *models.PipelineRun) models.RunStatus
}

// Pool claims pending runs and executes them. Each worker polls
// independently with jitter; FOR UPDATE SKIP LOCKED in the store keeps
// concurrent claims disjoint, including across replicas.
type Pool struct {
	store    ClaimStore
	executor RunExecutor
	cfg      *config.QueueConfig
	workerID string

	draining atomic.Bool

	mu     sync.Mutex
	active map[string]context.CancelFunc

	cancel context.CancelFunc
	done   chan struct{}
	wg     sync.WaitGroup
}

// NewPool creates a worker pool.
func NewPool(store ClaimStore, executor RunExecutor, cfg *config.QueueConfig) *Pool {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "worker"
	}
	return &Pool{
		store:    store,
		executor: executor,
		cfg:      cfg,
		workerID: fmt.Sprintf("%s-%d", hostname, os.Getpid()),
		active:   make(map[string]context.CancelFunc),
	}
}

// WorkerID returns this replica's worker identity.
func (p *Pool) WorkerID() string { return p.workerID }

// Start launches the worker goroutines.
func (p *Pool) Start(ctx context.Context) {
	ctx, p.cancel = context.WithCancel(ctx)
	p.done = make(chan struct{})

	for i := 0; i < p.cfg.WorkerCount; i++ {
		p.wg.Add(1)
		go p.worker(ctx, i)
	}
	go func() {
		p.wg.Wait()
		close(p.done)
	}()
	slog.Info("Worker pool started",
		"worker_id", p.workerID, "workers", p.cfg.WorkerCount,
		"max_concurrent_runs", p.cfg.MaxConcurrentRuns)
}

// Stop drains the pool: claiming stops immediately, in-flight runs get
// the graceful window, then their contexts are cancelled.
func (p *Pool) Stop() {
	if p.cancel == nil {
		return
	}
	p.draining.Store(true)

	deadline := time.After(p.cfg.GracefulShutdownTimeout)
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
wait:
	for len(p.ActiveRuns()) > 0 {
		select {
		case <-deadline:
			slog.Warn("Graceful shutdown window elapsed, cancelling in-flight runs",
				"active", len(p.ActiveRuns()))
			break wait
		case <-ticker.C:
		}
	}
	p.cancel()
	<-p.done
	slog.Info("Worker pool stopped", "worker_id", p.workerID)
}

// Drain stops claiming new runs while letting in-flight runs finish.
func (p *Pool) Drain() {
	p.draining.Store(true)
	slog.Info("Worker pool draining", "worker_id", p.workerID)
}

// Draining reports whether the pool has stopped claiming.
func (p *Pool) Draining() bool { return p.draining.Load() }

// CancelActive cancels the context of a run executing in this process.
// Returns false when the run is not active here.
func (p *Pool) CancelActive(runID string) bool {
	p.mu.Lock()
	cancel, ok := p.active[runID]
	p.mu.Unlock()
	if ok {
		cancel()
	}
	return ok
}

// ActiveRuns lists the run IDs currently executing in this process.
func (p *Pool) ActiveRuns() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.active))
	for id := range p.active {
		out = append(out, id)
	}
	return out
}

func (p *Pool) worker(ctx context.Context, n int) {
	defer p.wg.Done()
	log := slog.With("worker_id", p.workerID, "worker", n)

	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(p.pollInterval()):
		}
		if p.draining.Load() {
			continue
		}

		run, err := p.claim(ctx)
		if err != nil {
			if ctx.Err() == nil {
				log.Error("Failed to claim run", "error", err)
			}
			continue
		}
		if run == nil {
			continue
		}
		p.process(ctx, run, log)
	}
}

// claim enforces the global concurrency cap before taking a run.
func (p *Pool) claim(ctx context.Context) (*models.PipelineRun, error) {
	counts, err := p.store.CountByStatus(ctx)
	if err != nil {
		return nil, err
	}
	executing := counts[models.RunStatusInitializing] + counts[models.RunStatusRunning]
	if executing >= p.cfg.MaxConcurrentRuns {
		return nil, nil
	}
	return p.store.ClaimNextPending(ctx, p.workerID)
}

func (p *Pool) process(ctx context.Context, run *models.PipelineRun, log *slog.Logger) {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	p.mu.Lock()
	p.active[run.ID] = cancel
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		delete(p.active, run.ID)
		p.mu.Unlock()
	}()

	stopBeat := p.heartbeat(runCtx, run.ID)
	defer stopBeat()

	log.Info("Claimed run", "run_id", run.ID, "paper_id", run.PaperID)
	status := p.executor.Execute(runCtx, run)
	log.Info("Run execution finished", "run_id", run.ID, "status", status)
}

// heartbeat stamps the run while it executes so the orphan detector can
// tell a slow run from a dead worker.
func (p *Pool) heartbeat(ctx context.Context, runID string) func() {
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(p.cfg.HeartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-done:
				return
			case <-ticker.C:
				if err := p.store.Heartbeat(ctx, runID, p.workerID); err != nil {
					slog.Warn("Heartbeat failed", "run_id", runID, "error", err)
				}
			}
		}
	}()
	var once sync.Once
	return func() { once.Do(func() { close(done) }) }
}

func (p *Pool) pollInterval() time.Duration {
	jitter := p.cfg.PollIntervalJitter
	if jitter <= 0 {
		return p.cfg.PollInterval
	}
	// Uniform in [interval - jitter, interval + jitter].
	return p.cfg.PollInterval - jitter + time.Duration(rand.Int63n(int64(2*jitter)))
}

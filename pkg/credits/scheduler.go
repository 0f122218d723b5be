package credits

import (
	"context"
	"log/slog"
	"time"
)

// ResetScheduler periodically resets balances whose monthly period has
// lapsed. The sweep is cheap (indexed next_reset_at scan), so an hourly
// cadence keeps resets within an hour of their due time.
type ResetScheduler struct {
	service  *Service
	interval time.Duration

	cancel context.CancelFunc
	done   chan struct{}
}

// NewResetScheduler creates a ResetScheduler.
func NewResetScheduler(service *Service, interval time.Duration) *ResetScheduler {
	return &ResetScheduler{service: service, interval: interval}
}

// Start launches the reset loop.
func (r *ResetScheduler) Start(ctx context.Context) {
	ctx, r.cancel = context.WithCancel(ctx)
	r.done = make(chan struct{})
	go r.loop(ctx)
	slog.Info("Credit reset scheduler started", "interval", r.interval)
}

// Stop halts the loop.
func (r *ResetScheduler) Stop() {
	if r.cancel == nil {
		return
	}
	r.cancel()
	<-r.done
}

func (r *ResetScheduler) loop(ctx context.Context) {
	defer close(r.done)
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n, err := r.service.ResetDue(ctx); err != nil {
				slog.Error("Credit reset sweep failed", "error", err)
			} else if n > 0 {
				slog.Info("Reset lapsed credit periods", "count", n)
			}
		}
	}
}

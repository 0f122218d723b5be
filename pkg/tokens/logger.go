package tokens

import (
	"context"
	"log/slog"
	"time"
)

// UsageLogger periodically logs aggregate token usage.
type UsageLogger struct {
	accounting *Accounting
	interval   time.Duration

	cancel context.CancelFunc
	done   chan struct{}
}

// NewUsageLogger creates a UsageLogger.
func NewUsageLogger(accounting *Accounting, interval time.Duration) *UsageLogger {
	return &UsageLogger{accounting: accounting, interval: interval}
}

// Start launches the logging loop.
func (l *UsageLogger) Start(ctx context.Context) {
	ctx, l.cancel = context.WithCancel(ctx)
	l.done = make(chan struct{})
	go l.loop(ctx)
	slog.Info("Token usage logger started", "interval", l.interval)
}

// Stop halts the loop.
func (l *UsageLogger) Stop() {
	if l.cancel == nil {
		return
	}
	l.cancel()
	<-l.done
}

func (l *UsageLogger) loop(ctx context.Context) {
	defer close(l.done)
	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.LogOnce()
		}
	}
}

// LogOnce logs the current aggregate usage.
func (l *UsageLogger) LogOnce() {
	usage := l.accounting.Snapshot()
	slog.Info("Token usage",
		"requests", usage.Global.Requests,
		"input_tokens", usage.Global.InputTokens,
		"output_tokens", usage.Global.OutputTokens,
		"total_tokens", usage.Global.TotalTokens,
		"cost", usage.Global.Cost,
		"providers", len(usage.PerProvider),
		"users", len(usage.PerUser))
}

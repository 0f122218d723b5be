package reliability

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/ToanPV90/answer42-sub008/pkg/config"
	"github.com/ToanPV90/answer42-sub008/pkg/models"
)

// maxBackoffInterval caps the delay between attempts.
const maxBackoffInterval = 30 * time.Second

// cappedBackOff clamps NextBackOff to a hard ceiling. ExponentialBackOff
// randomizes after applying MaxInterval, so jitter alone can exceed it.
type cappedBackOff struct {
	backoff.BackOff
	cap time.Duration
}

func (c *cappedBackOff) NextBackOff() time.Duration {
	d := c.BackOff.NextBackOff()
	if d > c.cap {
		return c.cap
	}
	return d
}

// newAgentBackOff builds the delay schedule for one outer operation:
// initial_delay · 2^n with ±50% jitter, hard-capped at 30s.
func newAgentBackOff(initialDelay time.Duration) backoff.BackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = initialDelay
	bo.Multiplier = 2
	bo.RandomizationFactor = 0.5
	bo.MaxInterval = maxBackoffInterval
	bo.MaxElapsedTime = 0
	return &cappedBackOff{BackOff: bo, cap: maxBackoffInterval}
}

// Retrier executes operations for one agent under the full reliability
// envelope: per-attempt timeout, circuit breaker, exponential backoff
// with jitter, and statistics.
//
// Envelope order per attempt: breaker admission → attempt timeout →
// operation. An open circuit is permanent for the outer operation; the
// breaker's open window outlives any backoff schedule.
type Retrier struct {
	agent   models.AgentID
	cfg     *config.AgentConfig
	probe   time.Duration
	breaker *Breaker
	stats   *Stats
}

// NewRetrier builds the envelope for one agent.
func NewRetrier(agent models.AgentID, cfg *config.AgentConfig, circuit *config.CircuitConfig, breaker *Breaker, stats *Stats) *Retrier {
	return &Retrier{
		agent:   agent,
		cfg:     cfg,
		probe:   circuit.ProbeTimeout,
		breaker: breaker,
		stats:   stats,
	}
}

// Execute runs op until it succeeds, retries are exhausted, or a
// permanent error occurs.
//
// For attempt n (0-based) the delay before the attempt is
// min(initial_delay · 2^n · (1 ± jitter), 30s), jitter uniform in
// [0, 0.5]. The first attempt runs immediately. MaxRetries bounds the
// retries, so an agent with max_retries = 3 makes at most 4 attempts.
//
// Caller cancellation aborts without recording an outcome and without
// counting against the circuit.
func (r *Retrier) Execute(ctx context.Context, op func(context.Context) error) error {
	bo := newAgentBackOff(r.cfg.InitialDelay)

	attempt := 0
	operation := func() error {
		isRetry := attempt > 0
		attempt++
		r.stats.RecordAttempt(isRetry)
		attemptsTotal.WithLabelValues(string(r.agent)).Inc()
		if isRetry {
			retriesTotal.WithLabelValues(string(r.agent)).Inc()
		}

		err := r.breaker.Execute(func() error {
			timeout := r.cfg.AttemptTimeout
			if r.breaker.HalfOpen() && r.probe < timeout {
				timeout = r.probe
			}
			attemptCtx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()
			return op(attemptCtx)
		})
		if err == nil {
			return nil
		}

		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		if !Retryable(err) {
			return backoff.Permanent(err)
		}

		slog.Debug("Retryable agent call failure",
			"agent", r.agent, "attempt", attempt, "error", err)
		return err
	}

	err := backoff.Retry(operation,
		backoff.WithContext(backoff.WithMaxRetries(bo, uint64(r.cfg.MaxRetries)), ctx))

	if errors.Is(err, context.Canceled) {
		// Cancelled operations are neither successes nor failures.
		return err
	}
	if err != nil {
		r.stats.RecordFailure()
		operationsTotal.WithLabelValues(string(r.agent), "failure").Inc()
		return err
	}
	r.stats.RecordSuccess(attempt > 1)
	operationsTotal.WithLabelValues(string(r.agent), "success").Inc()
	return nil
}

package reliability

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ToanPV90/answer42-sub008/pkg/config"
	"github.com/ToanPV90/answer42-sub008/pkg/models"
)

func testRetrier(t *testing.T, agent models.AgentID, maxRetries int) (*Retrier, *Stats) {
	t.Helper()
	agentCfg := &config.AgentConfig{
		MaxRetries:     maxRetries,
		InitialDelay:   time.Millisecond,
		AttemptTimeout: time.Second,
		Workers:        1,
	}
	circuitCfg := &config.CircuitConfig{
		FailureThreshold: 1000, // keep the breaker out of retry tests
		OpenDuration:     time.Minute,
		ProbeTimeout:     time.Second,
	}
	stats := &Stats{}
	breaker := NewBreaker(agent, circuitCfg, nil)
	return NewRetrier(agent, agentCfg, circuitCfg, breaker, stats), stats
}

func TestExecuteFirstAttemptSuccess(t *testing.T) {
	r, stats := testRetrier(t, models.AgentContentSummarizer, 3)

	calls := 0
	err := r.Execute(context.Background(), func(ctx context.Context) error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)

	snap := stats.Snapshot()
	assert.Equal(t, int64(1), snap.SuccessfulOperations)
	assert.Equal(t, int64(0), snap.SuccessfulRetries)
	assert.Equal(t, int64(1), snap.TotalAttempts)
	assert.Equal(t, int64(0), snap.TotalRetries)
}

func TestExecuteSucceedsAfterRetry(t *testing.T) {
	r, stats := testRetrier(t, models.AgentContentSummarizer, 3)

	calls := 0
	err := r.Execute(context.Background(), func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return &HTTPError{StatusCode: 503, Body: "unavailable"}
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)

	snap := stats.Snapshot()
	assert.Equal(t, int64(1), snap.SuccessfulOperations)
	assert.Equal(t, int64(1), snap.SuccessfulRetries)
	assert.Equal(t, int64(3), snap.TotalAttempts)
	assert.Equal(t, int64(2), snap.TotalRetries)
}

func TestExecuteExhaustsRetries(t *testing.T) {
	r, stats := testRetrier(t, models.AgentQualityChecker, 2)

	calls := 0
	err := r.Execute(context.Background(), func(ctx context.Context) error {
		calls++
		return &HTTPError{StatusCode: 500, Body: "boom"}
	})
	require.Error(t, err)
	// max_retries = 2 means at most 3 attempts.
	assert.Equal(t, 3, calls)

	snap := stats.Snapshot()
	assert.Equal(t, int64(0), snap.SuccessfulOperations)
	assert.Equal(t, int64(1), snap.FailedOperations)
}

func TestExecuteNonRetryableFailsImmediately(t *testing.T) {
	r, stats := testRetrier(t, models.AgentCitationFormatter, 3)

	calls := 0
	err := r.Execute(context.Background(), func(ctx context.Context) error {
		calls++
		return &HTTPError{StatusCode: 401, Body: "bad key"}
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.Equal(t, int64(1), stats.Snapshot().FailedOperations)
}

func TestExecuteCancellationRecordsNoOutcome(t *testing.T) {
	r, stats := testRetrier(t, models.AgentPerplexityResearcher, 3)

	ctx, cancel := context.WithCancel(context.Background())
	err := r.Execute(ctx, func(ctx context.Context) error {
		cancel()
		return ctx.Err()
	})
	require.ErrorIs(t, err, context.Canceled)

	snap := stats.Snapshot()
	assert.Equal(t, int64(0), snap.SuccessfulOperations)
	assert.Equal(t, int64(0), snap.FailedOperations)
}

// Reproduces the historical reporting bug: 6 first-attempt successes and
// 3 exhausted failures must yield an overall rate near 0.667, not 0.
func TestOverallRateCountsFirstAttemptSuccesses(t *testing.T) {
	r, stats := testRetrier(t, models.AgentContentSummarizer, 2)

	for i := 0; i < 6; i++ {
		err := r.Execute(context.Background(), func(ctx context.Context) error {
			return nil
		})
		require.NoError(t, err)
	}
	for i := 0; i < 3; i++ {
		err := r.Execute(context.Background(), func(ctx context.Context) error {
			return &HTTPError{StatusCode: 503, Body: "down"}
		})
		require.Error(t, err)
	}

	snap := stats.Snapshot()
	assert.Equal(t, int64(6), snap.SuccessfulOperations)
	assert.Equal(t, int64(3), snap.FailedOperations)
	assert.InDelta(t, 0.667, snap.OverallSuccessRate, 0.001)
	assert.Equal(t, 0.0, snap.RetrySuccessRate)
	// 3 failing operations, 2 retries each.
	assert.Equal(t, int64(6), snap.TotalRetries)
}

func TestStatsInvariant(t *testing.T) {
	r, stats := testRetrier(t, models.AgentConceptExplainer, 1)

	_ = r.Execute(context.Background(), func(ctx context.Context) error { return nil })
	_ = r.Execute(context.Background(), func(ctx context.Context) error {
		return &HTTPError{StatusCode: 500}
	})

	snap := stats.Snapshot()
	completed := snap.SuccessfulOperations + snap.FailedOperations
	assert.Equal(t, int64(2), completed)
	assert.LessOrEqual(t, snap.TotalRetries, snap.TotalAttempts-completed)
}

func TestBackoffCappedAtThirtySeconds(t *testing.T) {
	bo := newAgentBackOff(10 * time.Second)
	var last time.Duration
	for i := 0; i < 30; i++ {
		last = bo.NextBackOff()
		assert.LessOrEqual(t, last, maxBackoffInterval, "attempt %d", i)
	}
	assert.Equal(t, maxBackoffInterval, last)
}

func TestRetryableClassification(t *testing.T) {
	cases := []struct {
		name      string
		err       error
		retryable bool
	}{
		{"nil", nil, false},
		{"http 429", &HTTPError{StatusCode: 429}, true},
		{"http 500", &HTTPError{StatusCode: 500}, true},
		{"http 503", &HTTPError{StatusCode: 503}, true},
		{"http 401", &HTTPError{StatusCode: 401}, false},
		{"http 403", &HTTPError{StatusCode: 403}, false},
		{"http 404", &HTTPError{StatusCode: 404}, false},
		{"http 400", &HTTPError{StatusCode: 400}, false},
		{"attempt timeout", context.DeadlineExceeded, true},
		{"cancellation", context.Canceled, false},
		{"circuit open", ErrCircuitOpen, false},
		{"schema", &SchemaError{Err: errors.New("missing field")}, false},
		{"overloaded", errors.New("provider overloaded, try later"), true},
		{"wrapped 502", fmt.Errorf("call failed: %w", &HTTPError{StatusCode: 502}), true},
		{"unknown", errors.New("something odd"), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.retryable, Retryable(tc.err))
		})
	}
}

package reliability

import (
	"sync"
	"sync/atomic"

	"github.com/ToanPV90/answer42-sub008/pkg/models"
)

// Stats holds the retry counters for one agent. All counters are
// monotonic and safe for concurrent use.
//
// successful_operations counts every outer operation whose final outcome
// is success — first-attempt successes AND eventual-retry successes.
// The two reported rates are distinct:
//
//	overall_success_rate = successful_operations / (successful_operations + failed_operations)
//	retry_success_rate   = successful_retries / total_retries
//
// Conflating them under-reports the overall rate whenever most
// operations succeed without retrying.
type Stats struct {
	totalAttempts        atomic.Int64
	totalRetries         atomic.Int64
	successfulOperations atomic.Int64
	successfulRetries    atomic.Int64
	failedOperations     atomic.Int64
}

// RecordAttempt counts one individual call, including retries.
func (s *Stats) RecordAttempt(isRetry bool) {
	s.totalAttempts.Add(1)
	if isRetry {
		s.totalRetries.Add(1)
	}
}

// RecordSuccess counts one outer operation that ended in success.
func (s *Stats) RecordSuccess(retried bool) {
	s.successfulOperations.Add(1)
	if retried {
		s.successfulRetries.Add(1)
	}
}

// RecordFailure counts one outer operation that ended in failure.
func (s *Stats) RecordFailure() {
	s.failedOperations.Add(1)
}

// StatsSnapshot is a point-in-time view of one agent's counters.
type StatsSnapshot struct {
	TotalAttempts        int64   `json:"total_attempts"`
	TotalRetries         int64   `json:"total_retries"`
	SuccessfulOperations int64   `json:"successful_operations"`
	SuccessfulRetries    int64   `json:"successful_retries"`
	FailedOperations     int64   `json:"failed_operations"`
	OverallSuccessRate   float64 `json:"overall_success_rate"`
	RetrySuccessRate     float64 `json:"retry_success_rate"`
}

// Snapshot returns the current counters with both derived rates.
func (s *Stats) Snapshot() StatsSnapshot {
	snap := StatsSnapshot{
		TotalAttempts:        s.totalAttempts.Load(),
		TotalRetries:         s.totalRetries.Load(),
		SuccessfulOperations: s.successfulOperations.Load(),
		SuccessfulRetries:    s.successfulRetries.Load(),
		FailedOperations:     s.failedOperations.Load(),
	}
	if completed := snap.SuccessfulOperations + snap.FailedOperations; completed > 0 {
		snap.OverallSuccessRate = float64(snap.SuccessfulOperations) / float64(completed)
	}
	if snap.TotalRetries > 0 {
		snap.RetrySuccessRate = float64(snap.SuccessfulRetries) / float64(snap.TotalRetries)
	}
	return snap
}

// Reset zeroes all counters. Admin surface only.
func (s *Stats) Reset() {
	s.totalAttempts.Store(0)
	s.totalRetries.Store(0)
	s.successfulOperations.Store(0)
	s.successfulRetries.Store(0)
	s.failedOperations.Store(0)
}

// StatsRegistry holds per-agent Stats, created on first use.
type StatsRegistry struct {
	mu    sync.Mutex
	stats map[models.AgentID]*Stats
}

// NewStatsRegistry creates an empty registry.
func NewStatsRegistry() *StatsRegistry {
	return &StatsRegistry{stats: make(map[models.AgentID]*Stats)}
}

// For returns the Stats for an agent, creating it if needed.
func (r *StatsRegistry) For(agent models.AgentID) *Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.stats[agent]
	if !ok {
		s = &Stats{}
		r.stats[agent] = s
	}
	return s
}

// SnapshotAll returns a snapshot per agent.
func (r *StatsRegistry) SnapshotAll() map[models.AgentID]StatsSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[models.AgentID]StatsSnapshot, len(r.stats))
	for agent, s := range r.stats {
		out[agent] = s.Snapshot()
	}
	return out
}

// ResetAll zeroes every agent's counters. Admin surface only.
func (r *StatsRegistry) ResetAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.stats {
		s.Reset()
	}
}

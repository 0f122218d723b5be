// Package tokens tracks LLM token usage: every provider call is
// persisted and folded into in-memory running totals per provider, per
// agent, per user, and globally. The totals are volatile; on startup
// they are rebuilt by replaying the recent persisted records.
package tokens

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ToanPV90/answer42-sub008/pkg/models"
)

// MetricsStore is the persistence surface for token records.
type MetricsStore interface {
	Insert(ctx context.Context, rec *models.TokenMetricsRecord) error
	ReplaySince(ctx context.Context, cutoff time.Time, fn func(*models.TokenMetricsRecord) error) (int64, error)
}

// EstimateTokens approximates a token count from text when the provider
// omits usage metadata: ceil(chars / 4).
func EstimateTokens(text string) int {
	return (len(text) + 3) / 4
}

// Accounting records token usage and maintains running totals.
// Totals are guarded by a single mutex; updates touch four map entries
// and nothing else.
type Accounting struct {
	store MetricsStore

	mu          sync.Mutex
	perProvider map[models.Provider]*models.TokenTotals
	perAgent    map[models.AgentID]*models.TokenTotals
	perUser     map[string]*models.TokenTotals
	global      models.TokenTotals
}

// NewAccounting creates an Accounting service.
func NewAccounting(store MetricsStore) *Accounting {
	return &Accounting{
		store:       store,
		perProvider: make(map[models.Provider]*models.TokenTotals),
		perAgent:    make(map[models.AgentID]*models.TokenTotals),
		perUser:     make(map[string]*models.TokenTotals),
	}
}

// Record persists one provider call and folds it into the totals.
// Persistence failure skips the fold so a replay cannot double-count.
func (a *Accounting) Record(ctx context.Context, rec *models.TokenMetricsRecord) error {
	if rec.TotalTokens == 0 {
		rec.TotalTokens = rec.InputTokens + rec.OutputTokens
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}
	if err := a.store.Insert(ctx, rec); err != nil {
		return fmt.Errorf("failed to persist token record: %w", err)
	}
	a.apply(rec)
	return nil
}

// Replay rebuilds the running totals from records newer than the cutoff.
// Call once on startup before serving traffic.
func (a *Accounting) Replay(ctx context.Context, window time.Duration) error {
	cutoff := time.Now().Add(-window)
	n, err := a.store.ReplaySince(ctx, cutoff, func(rec *models.TokenMetricsRecord) error {
		a.apply(rec)
		return nil
	})
	if err != nil {
		return fmt.Errorf("token metrics replay failed: %w", err)
	}
	slog.Info("Token metrics replayed", "records", n, "window", window)
	return nil
}

func (a *Accounting) apply(rec *models.TokenMetricsRecord) {
	a.mu.Lock()
	defer a.mu.Unlock()
	fold(totalsFor(a.perProvider, rec.Provider), rec)
	fold(totalsFor(a.perAgent, rec.AgentType), rec)
	fold(totalsFor(a.perUser, rec.UserID), rec)
	fold(&a.global, rec)
}

func totalsFor[K comparable](m map[K]*models.TokenTotals, key K) *models.TokenTotals {
	t, ok := m[key]
	if !ok {
		t = &models.TokenTotals{}
		m[key] = t
	}
	return t
}

func fold(t *models.TokenTotals, rec *models.TokenMetricsRecord) {
	t.Requests++
	t.InputTokens += int64(rec.InputTokens)
	t.OutputTokens += int64(rec.OutputTokens)
	t.TotalTokens += int64(rec.TotalTokens)
	t.Cost += rec.EstimatedCost
}

// Usage is a snapshot of all running totals.
type Usage struct {
	Global      models.TokenTotals                     `json:"global"`
	PerProvider map[models.Provider]models.TokenTotals `json:"per_provider"`
	PerAgent    map[models.AgentID]models.TokenTotals  `json:"per_agent"`
	PerUser     map[string]models.TokenTotals          `json:"per_user"`
}

// Snapshot returns a copy of the running totals.
func (a *Accounting) Snapshot() Usage {
	a.mu.Lock()
	defer a.mu.Unlock()

	u := Usage{
		Global:      a.global,
		PerProvider: make(map[models.Provider]models.TokenTotals, len(a.perProvider)),
		PerAgent:    make(map[models.AgentID]models.TokenTotals, len(a.perAgent)),
		PerUser:     make(map[string]models.TokenTotals, len(a.perUser)),
	}
	for k, v := range a.perProvider {
		u.PerProvider[k] = *v
	}
	for k, v := range a.perAgent {
		u.PerAgent[k] = *v
	}
	for k, v := range a.perUser {
		u.PerUser[k] = *v
	}
	return u
}

// UserTotals returns one user's running totals.
func (a *Accounting) UserTotals(userID string) models.TokenTotals {
	a.mu.Lock()
	defer a.mu.Unlock()
	if t, ok := a.perUser[userID]; ok {
		return *t
	}
	return models.TokenTotals{}
}

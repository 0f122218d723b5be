package agenttask

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// ProcessedStore persists the processed-papers set.
type ProcessedStore interface {
	Mark(ctx context.Context, paperID, runID string) error
	LoadAll(ctx context.Context) ([]string, error)
}

// ProcessedSet is the process-wide set of papers that completed paper
// processing. Membership checks are hot-path (every run start); the set
// lives in memory and writes through to the store. Adding a paper twice
// is a no-op.
type ProcessedSet struct {
	store ProcessedStore

	mu     sync.RWMutex
	papers map[string]struct{}
}

// NewProcessedSet creates an empty set backed by the store.
func NewProcessedSet(store ProcessedStore) *ProcessedSet {
	return &ProcessedSet{
		store:  store,
		papers: make(map[string]struct{}),
	}
}

// Warm loads the persisted set into memory. Call once on startup.
func (p *ProcessedSet) Warm(ctx context.Context) error {
	ids, err := p.store.LoadAll(ctx)
	if err != nil {
		return fmt.Errorf("failed to warm processed-papers set: %w", err)
	}
	p.mu.Lock()
	for _, id := range ids {
		p.papers[id] = struct{}{}
	}
	p.mu.Unlock()
	slog.Info("Processed-papers set warmed", "papers", len(ids))
	return nil
}

// Contains reports whether the paper already completed processing.
func (p *ProcessedSet) Contains(paperID string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ok := p.papers[paperID]
	return ok
}

// Add registers a paper as processed and writes through to the store.
// Idempotent: a paper already in the set is not re-persisted.
func (p *ProcessedSet) Add(ctx context.Context, paperID, runID string) error {
	p.mu.Lock()
	if _, ok := p.papers[paperID]; ok {
		p.mu.Unlock()
		return nil
	}
	p.papers[paperID] = struct{}{}
	p.mu.Unlock()

	return p.store.Mark(ctx, paperID, runID)
}

// Len returns the set size.
func (p *ProcessedSet) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.papers)
}

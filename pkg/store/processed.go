package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

// ProcessedPaperStore persists the set of papers that completed a full
// pipeline run. The in-memory set is warmed from this table on startup.
type ProcessedPaperStore struct {
	db *sqlx.DB
}

// NewProcessedPaperStore creates a ProcessedPaperStore.
func NewProcessedPaperStore(db *sqlx.DB) *ProcessedPaperStore {
	return &ProcessedPaperStore{db: db}
}

// Mark records a paper as processed. Re-processing overwrites the run
// reference, keeping the latest successful run.
func (s *ProcessedPaperStore) Mark(ctx context.Context, paperID, runID string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO processed_papers (paper_id, run_id, processed_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (paper_id) DO UPDATE SET run_id = $2, processed_at = $3`,
		paperID, runID, time.Now())
	if err != nil {
		return fmt.Errorf("failed to mark paper processed: %w", err)
	}
	return nil
}

// LoadAll returns every processed paper ID.
func (s *ProcessedPaperStore) LoadAll(ctx context.Context) ([]string, error) {
	var ids []string
	if err := s.db.SelectContext(ctx, &ids, `SELECT paper_id FROM processed_papers`); err != nil {
		return nil, fmt.Errorf("failed to load processed papers: %w", err)
	}
	return ids, nil
}

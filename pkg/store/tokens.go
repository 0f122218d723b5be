package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/ToanPV90/answer42-sub008/pkg/models"
)

// TokenMetricsStore persists per-call token usage records. The in-memory
// aggregates are rebuilt from this table on startup via ReplaySince.
type TokenMetricsStore struct {
	db *sqlx.DB
}

// NewTokenMetricsStore creates a TokenMetricsStore.
func NewTokenMetricsStore(db *sqlx.DB) *TokenMetricsStore {
	return &TokenMetricsStore{db: db}
}

// Insert records one provider call.
func (s *TokenMetricsStore) Insert(ctx context.Context, rec *models.TokenMetricsRecord) error {
	err := s.db.QueryRowxContext(ctx, `
		INSERT INTO token_metrics
			(user_id, provider, agent_type, task_id, input_tokens, output_tokens,
			 total_tokens, estimated_cost, processing_time_ms, success, timestamp)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id`,
		rec.UserID, rec.Provider, rec.AgentType, rec.TaskID,
		rec.InputTokens, rec.OutputTokens, rec.TotalTokens,
		rec.EstimatedCost, rec.ProcessingTimeMs, rec.Success, rec.Timestamp,
	).Scan(&rec.ID)
	if err != nil {
		return fmt.Errorf("failed to insert token metrics: %w", err)
	}
	return nil
}

// ReplaySince streams records newer than the cutoff in timestamp order,
// invoking fn for each. Bounded iteration keeps startup replay from
// loading the whole table into memory.
func (s *TokenMetricsStore) ReplaySince(ctx context.Context, cutoff time.Time, fn func(*models.TokenMetricsRecord) error) (int64, error) {
	rows, err := s.db.QueryxContext(ctx, `
		SELECT id, user_id, provider, agent_type, task_id, input_tokens, output_tokens,
		       total_tokens, estimated_cost, processing_time_ms, success, timestamp
		FROM token_metrics
		WHERE timestamp >= $1
		ORDER BY timestamp ASC`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to query token metrics for replay: %w", err)
	}
	defer rows.Close()

	var count int64
	for rows.Next() {
		var rec models.TokenMetricsRecord
		if err := rows.StructScan(&rec); err != nil {
			return count, fmt.Errorf("failed to scan token metrics row: %w", err)
		}
		if err := fn(&rec); err != nil {
			return count, err
		}
		count++
	}
	return count, rows.Err()
}

package models

import "time"

// TokenMetricsRecord captures token usage for one external provider call.
type TokenMetricsRecord struct {
	ID               int64     `db:"id" json:"id"`
	UserID           string    `db:"user_id" json:"user_id"`
	Provider         Provider  `db:"provider" json:"provider"`
	AgentType        AgentID   `db:"agent_type" json:"agent_type"`
	TaskID           string    `db:"task_id" json:"task_id"`
	InputTokens      int       `db:"input_tokens" json:"input_tokens"`
	OutputTokens     int       `db:"output_tokens" json:"output_tokens"`
	TotalTokens      int       `db:"total_tokens" json:"total_tokens"`
	EstimatedCost    float64   `db:"estimated_cost" json:"estimated_cost"`
	ProcessingTimeMs int64     `db:"processing_time_ms" json:"processing_time_ms"`
	Success          bool      `db:"success" json:"success"`
	Timestamp        time.Time `db:"timestamp" json:"timestamp"`
}

// TokenTotals is a running aggregate of token usage.
type TokenTotals struct {
	Requests     int64   `json:"requests"`
	InputTokens  int64   `json:"input_tokens"`
	OutputTokens int64   `json:"output_tokens"`
	TotalTokens  int64   `json:"total_tokens"`
	Cost         float64 `json:"cost"`
}

package config

import "time"

// RetentionConfig controls background maintenance behavior.
type RetentionConfig struct {
	// TaskTimeout is how long a task may stay in processing before the
	// reaper times it out. The reaper targets tasks strictly older.
	TaskTimeout time.Duration `yaml:"task_timeout"`

	// ReaperInterval is how often the timeout reaper runs.
	ReaperInterval time.Duration `yaml:"reaper_interval"`

	// TaskRetentionDays is how many days terminal tasks are kept before
	// the cleanup sweep deletes them.
	TaskRetentionDays int `yaml:"task_retention_days"`

	// CleanupInterval is how often the cleanup sweep runs.
	CleanupInterval time.Duration `yaml:"cleanup_interval"`

	// EventTTL is the maximum age of orphaned event rows before deletion.
	EventTTL time.Duration `yaml:"event_ttl"`

	// UsageLogInterval is how often aggregate token usage is logged.
	UsageLogInterval time.Duration `yaml:"usage_log_interval"`

	// TokenReplayWindow bounds the token-metrics replay on startup.
	TokenReplayWindow time.Duration `yaml:"token_replay_window"`
}

// DefaultRetentionConfig returns the built-in retention defaults.
func DefaultRetentionConfig() *RetentionConfig {
	return &RetentionConfig{
		TaskTimeout:       5 * time.Minute,
		ReaperInterval:    5 * time.Minute,
		TaskRetentionDays: 7,
		CleanupInterval:   1 * time.Hour,
		EventTTL:          1 * time.Hour,
		UsageLogInterval:  5 * time.Minute,
		TokenReplayWindow: 30 * 24 * time.Hour,
	}
}

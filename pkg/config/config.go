// Package config loads and validates the answer42.yaml configuration:
// per-agent reliability settings, pipeline policy, queue sizing, provider
// endpoints, credit costs, and retention.
package config

import (
	"time"

	"github.com/ToanPV90/answer42-sub008/pkg/models"
)

// Config is the fully resolved runtime configuration.
type Config struct {
	configDir string

	Agents    map[models.AgentID]*AgentConfig
	Pipeline  *PipelineConfig
	Circuit   *CircuitConfig
	Queue     *QueueConfig
	Retention *RetentionConfig
	Providers *ProvidersConfig
	Credits   *CreditsConfig
}

// ConfigDir returns the directory the configuration was loaded from.
func (c *Config) ConfigDir() string { return c.configDir }

// AgentConfig holds the reliability envelope settings for one agent.
type AgentConfig struct {
	// MaxRetries is the number of retry attempts after the first call.
	MaxRetries int `yaml:"max_retries"`

	// InitialDelay seeds the exponential backoff between attempts.
	InitialDelay time.Duration `yaml:"initial_delay"`

	// AttemptTimeout bounds a single provider call.
	AttemptTimeout time.Duration `yaml:"attempt_timeout"`

	// Workers bounds concurrent executions for this agent (default 4).
	Workers int `yaml:"workers"`
}

// Agent returns the config for the given agent, falling back to a
// conservative default for unknown agents.
func (c *Config) Agent(id models.AgentID) *AgentConfig {
	if ac, ok := c.Agents[id]; ok {
		return ac
	}
	return &AgentConfig{
		MaxRetries:     3,
		InitialDelay:   5 * time.Second,
		AttemptTimeout: 5 * time.Minute,
		Workers:        DefaultAgentWorkers,
	}
}

// CircuitConfig holds the per-agent circuit breaker parameters.
// One breaker is created per agent with these shared settings.
type CircuitConfig struct {
	// FailureThreshold is the consecutive-failure count that opens the circuit.
	FailureThreshold int `yaml:"failure_threshold"`

	// OpenDuration is how long the circuit stays open before a probe is allowed.
	OpenDuration time.Duration `yaml:"open_duration"`

	// ProbeTimeout bounds the single half-open probe call.
	ProbeTimeout time.Duration `yaml:"probe_timeout"`
}

// PipelineConfig controls stage policy and progress reporting.
type PipelineConfig struct {
	// MaxConcurrentAgents bounds the parallel enhancement group per run.
	MaxConcurrentAgents int `yaml:"max_concurrent_agents"`

	// DefaultCreditCost is the full-pipeline reservation amount.
	DefaultCreditCost int `yaml:"default_credit_cost"`

	// RunTimeout bounds one full run.
	RunTimeout time.Duration `yaml:"run_timeout"`

	// Progress maps each stage to the run progress percent reached when the
	// stage completes. Finalization brings the run to 100.
	Progress map[models.AgentID]int `yaml:"progress"`

	// BestEffort lists stages whose failure does not abort the run.
	BestEffort []models.AgentID `yaml:"best_effort"`
}

// IsBestEffort reports whether a stage failure is tolerated.
func (p *PipelineConfig) IsBestEffort(id models.AgentID) bool {
	for _, a := range p.BestEffort {
		if a == id {
			return true
		}
	}
	return false
}

// ProgressFor returns the progress percent reached when the stage completes.
func (p *PipelineConfig) ProgressFor(id models.AgentID) int {
	if v, ok := p.Progress[id]; ok {
		return v
	}
	return 0
}

// CreditsConfig holds the operation cost table.
type CreditsConfig struct {
	// Costs maps operation type -> subscription tier -> credit cost.
	// The "default" tier applies when the user's tier has no entry.
	Costs map[models.OperationType]map[string]int `yaml:"costs"`
}

// Cost resolves the credit cost for an operation and tier. Unknown
// operations cost zero; unknown tiers fall back to the "default" tier.
func (c *CreditsConfig) Cost(op models.OperationType, tier string) int {
	tiers, ok := c.Costs[op]
	if !ok {
		return 0
	}
	if v, ok := tiers[tier]; ok {
		return v
	}
	return tiers["default"]
}

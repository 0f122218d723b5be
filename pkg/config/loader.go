package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"

	"github.com/ToanPV90/answer42-sub008/pkg/models"
)

// yamlConfig mirrors the answer42.yaml file structure. Every section is
// optional; unset values fall back to built-in defaults.
type yamlConfig struct {
	Agents    map[string]*AgentConfig `yaml:"agents"`
	Pipeline  *PipelineConfig         `yaml:"pipeline"`
	Circuit   *CircuitConfig          `yaml:"circuit"`
	Queue     *QueueConfig            `yaml:"queue"`
	Retention *RetentionConfig        `yaml:"retention"`
	Providers *ProvidersConfig        `yaml:"providers"`
	Credits   *CreditsConfig          `yaml:"credits"`
}

// Initialize loads, validates, and returns ready-to-use configuration.
// This is the primary entry point for configuration loading.
func Initialize(configDir string) (*Config, error) {
	log := slog.With("config_dir", configDir)
	log.Info("Initializing configuration")

	cfg, err := load(configDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	log.Info("Configuration initialized",
		"agents", len(cfg.Agents),
		"workers", cfg.Queue.WorkerCount,
		"max_concurrent_runs", cfg.Queue.MaxConcurrentRuns)

	return cfg, nil
}

func load(configDir string) (*Config, error) {
	var user yamlConfig
	path := filepath.Join(configDir, "answer42.yaml")

	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		// Built-in defaults are a complete configuration; YAML only overrides.
		slog.Info("No answer42.yaml found, using built-in defaults", "path", path)
	case err != nil:
		return nil, NewLoadError("answer42.yaml", err)
	default:
		expanded := ExpandEnv(data)
		if err := yaml.Unmarshal(expanded, &user); err != nil {
			return nil, NewLoadError("answer42.yaml", err)
		}
	}

	// Agents: start from the built-in table, overlay user entries per agent.
	agents := defaultAgentConfigs()
	for name, userAgent := range user.Agents {
		id := models.AgentID(name)
		if !id.Valid() {
			return nil, fmt.Errorf("%w: unknown agent %q", ErrInvalidConfig, name)
		}
		base, ok := agents[id]
		if !ok {
			base = &AgentConfig{}
			agents[id] = base
		}
		if err := mergo.Merge(base, userAgent, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge agent config %q: %w", name, err)
		}
	}

	pipeline, err := mergeSection(DefaultPipelineConfig(), user.Pipeline, "pipeline")
	if err != nil {
		return nil, err
	}
	circuit, err := mergeSection(DefaultCircuitConfig(), user.Circuit, "circuit")
	if err != nil {
		return nil, err
	}
	queue, err := mergeSection(DefaultQueueConfig(), user.Queue, "queue")
	if err != nil {
		return nil, err
	}
	retention, err := mergeSection(DefaultRetentionConfig(), user.Retention, "retention")
	if err != nil {
		return nil, err
	}
	providers, err := mergeSection(DefaultProvidersConfig(), user.Providers, "providers")
	if err != nil {
		return nil, err
	}
	credits, err := mergeSection(DefaultCreditsConfig(), user.Credits, "credits")
	if err != nil {
		return nil, err
	}

	return &Config{
		configDir: configDir,
		Agents:    agents,
		Pipeline:  pipeline,
		Circuit:   circuit,
		Queue:     queue,
		Retention: retention,
		Providers: providers,
		Credits:   credits,
	}, nil
}

// mergeSection overlays a user-provided section onto built-in defaults.
// Non-zero user values override; unset values keep their defaults.
func mergeSection[T any](defaults *T, user *T, name string) (*T, error) {
	if user == nil {
		return defaults, nil
	}
	if err := mergo.Merge(defaults, user, mergo.WithOverride); err != nil {
		return nil, fmt.Errorf("failed to merge %s config: %w", name, err)
	}
	return defaults, nil
}

// validate performs sanity checks on loaded configuration.
func validate(cfg *Config) error {
	for id, ac := range cfg.Agents {
		if ac.MaxRetries < 0 {
			return fmt.Errorf("%w: agent %s: max_retries must be >= 0", ErrInvalidConfig, id)
		}
		if ac.InitialDelay <= 0 {
			return fmt.Errorf("%w: agent %s: initial_delay must be positive", ErrInvalidConfig, id)
		}
		if ac.AttemptTimeout <= 0 {
			return fmt.Errorf("%w: agent %s: attempt_timeout must be positive", ErrInvalidConfig, id)
		}
		if ac.Workers <= 0 {
			ac.Workers = DefaultAgentWorkers
		}
	}
	if cfg.Circuit.FailureThreshold < 1 {
		return fmt.Errorf("%w: circuit failure_threshold must be >= 1", ErrInvalidConfig)
	}
	if cfg.Queue.WorkerCount < 1 {
		return fmt.Errorf("%w: queue worker_count must be >= 1", ErrInvalidConfig)
	}
	if cfg.Queue.MaxConcurrentRuns < 1 {
		return fmt.Errorf("%w: queue max_concurrent_runs must be >= 1", ErrInvalidConfig)
	}
	if cfg.Pipeline.MaxConcurrentAgents < 1 {
		return fmt.Errorf("%w: pipeline max_concurrent_agents must be >= 1", ErrInvalidConfig)
	}
	if cfg.Pipeline.DefaultCreditCost < 0 {
		return fmt.Errorf("%w: pipeline default_credit_cost must be >= 0", ErrInvalidConfig)
	}
	return nil
}

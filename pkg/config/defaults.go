package config

import (
	"time"

	"github.com/ToanPV90/answer42-sub008/pkg/models"
)

// DefaultAgentWorkers is the per-agent concurrent execution bound.
const DefaultAgentWorkers = 4

// defaultAgentConfigs is the built-in per-agent reliability table.
// User YAML overrides individual fields per agent.
func defaultAgentConfigs() map[models.AgentID]*AgentConfig {
	return map[models.AgentID]*AgentConfig{
		models.AgentPaperProcessor: {
			MaxRetries: 3, InitialDelay: 10 * time.Second, AttemptTimeout: 5 * time.Minute, Workers: DefaultAgentWorkers,
		},
		models.AgentContentSummarizer: {
			MaxRetries: 4, InitialDelay: 8 * time.Second, AttemptTimeout: 5 * time.Minute, Workers: DefaultAgentWorkers,
		},
		models.AgentConceptExplainer: {
			MaxRetries: 4, InitialDelay: 5 * time.Second, AttemptTimeout: 5 * time.Minute, Workers: DefaultAgentWorkers,
		},
		models.AgentMetadataEnhancer: {
			MaxRetries: 4, InitialDelay: 5 * time.Second, AttemptTimeout: 3 * time.Minute, Workers: DefaultAgentWorkers,
		},
		models.AgentQualityChecker: {
			MaxRetries: 3, InitialDelay: 6 * time.Second, AttemptTimeout: 5 * time.Minute, Workers: DefaultAgentWorkers,
		},
		models.AgentCitationFormatter: {
			MaxRetries: 3, InitialDelay: 4 * time.Second, AttemptTimeout: 3 * time.Minute, Workers: DefaultAgentWorkers,
		},
		models.AgentCitationVerifier: {
			MaxRetries: 3, InitialDelay: 6 * time.Second, AttemptTimeout: 3 * time.Minute, Workers: DefaultAgentWorkers,
		},
		models.AgentPerplexityResearcher: {
			MaxRetries: 5, InitialDelay: 15 * time.Second, AttemptTimeout: 5 * time.Minute, Workers: DefaultAgentWorkers,
		},
		models.AgentRelatedPaperDiscovery: {
			MaxRetries: 4, InitialDelay: 12 * time.Second, AttemptTimeout: 5 * time.Minute, Workers: DefaultAgentWorkers,
		},
	}
}

// DefaultCircuitConfig returns the built-in circuit breaker parameters.
func DefaultCircuitConfig() *CircuitConfig {
	return &CircuitConfig{
		FailureThreshold: 3,
		OpenDuration:     5 * time.Minute,
		ProbeTimeout:     45 * time.Second,
	}
}

// DefaultPipelineConfig returns the built-in pipeline policy.
func DefaultPipelineConfig() *PipelineConfig {
	return &PipelineConfig{
		MaxConcurrentAgents: 4,
		DefaultCreditCost:   30,
		RunTimeout:          15 * time.Minute,
		Progress: map[models.AgentID]int{
			models.AgentPaperProcessor:        15,
			models.AgentMetadataEnhancer:      25,
			models.AgentContentSummarizer:     45,
			models.AgentConceptExplainer:      55,
			models.AgentQualityChecker:        65,
			models.AgentCitationFormatter:     72,
			models.AgentCitationVerifier:      78,
			models.AgentPerplexityResearcher:  88,
			models.AgentRelatedPaperDiscovery: 95,
		},
		BestEffort: []models.AgentID{
			models.AgentMetadataEnhancer,
			models.AgentCitationFormatter,
			models.AgentCitationVerifier,
			models.AgentPerplexityResearcher,
			models.AgentRelatedPaperDiscovery,
		},
	}
}

// DefaultCreditsConfig returns the built-in operation cost table.
func DefaultCreditsConfig() *CreditsConfig {
	return &CreditsConfig{
		Costs: map[models.OperationType]map[string]int{
			models.OperationFullPipeline:       {"default": 30, "pro": 24, "scholar": 18},
			models.OperationPaperUpload:        {"default": 5, "pro": 4, "scholar": 3},
			models.OperationSummarization:      {"default": 5, "pro": 4, "scholar": 3},
			models.OperationConceptExplanation: {"default": 4, "pro": 3, "scholar": 2},
			models.OperationQualityCheck:       {"default": 4, "pro": 3, "scholar": 2},
			models.OperationCitationFormatting: {"default": 3, "pro": 2, "scholar": 2},
			models.OperationExternalResearch:   {"default": 6, "pro": 5, "scholar": 4},
			models.OperationPaperDiscovery:     {"default": 3, "pro": 2, "scholar": 1},
		},
	}
}

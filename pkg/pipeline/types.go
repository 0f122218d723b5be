// Package pipeline implements the run orchestrator: the queue worker
// pool that claims pending runs, the stage executor that drives the
// agent DAG, and orphan recovery for runs whose worker died.
package pipeline

import (
	"github.com/ToanPV90/answer42-sub008/pkg/models"
)

// ProgressFunc is the caller-supplied progress callback for one run.
type ProgressFunc func(runID string, percent int, stage string)

// stageGroups is the default stage DAG, expressed as sequential groups.
// Stages within one group run in parallel, bounded by
// max_concurrent_agents.
func stageGroups() [][]models.AgentID {
	return [][]models.AgentID{
		{models.AgentPaperProcessor},
		{models.AgentMetadataEnhancer, models.AgentContentSummarizer, models.AgentConceptExplainer},
		{models.AgentQualityChecker},
		{models.AgentCitationFormatter},
		{models.AgentCitationVerifier},
		{models.AgentPerplexityResearcher},
		{models.AgentRelatedPaperDiscovery},
	}
}

// agentOperation maps each stage to its credit operation. Stages absent
// from the map consume no credits on their own; they ride on the
// full-pipeline reservation.
var agentOperation = map[models.AgentID]models.OperationType{
	models.AgentPaperProcessor:        models.OperationPaperUpload,
	models.AgentContentSummarizer:     models.OperationSummarization,
	models.AgentConceptExplainer:      models.OperationConceptExplanation,
	models.AgentQualityChecker:        models.OperationQualityCheck,
	models.AgentCitationFormatter:     models.OperationCitationFormatting,
	models.AgentPerplexityResearcher:  models.OperationExternalResearch,
	models.AgentRelatedPaperDiscovery: models.OperationPaperDiscovery,
}

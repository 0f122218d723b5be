// Package models defines the core entities shared across services:
// pipeline runs, agent tasks, results, credits, and token metrics.
package models

// AgentID identifies one of the specialized processing agents.
type AgentID string

// Agent identifiers, in default pipeline order.
const (
	AgentPaperProcessor        AgentID = "PAPER_PROCESSOR"
	AgentMetadataEnhancer      AgentID = "METADATA_ENHANCER"
	AgentContentSummarizer     AgentID = "CONTENT_SUMMARIZER"
	AgentConceptExplainer      AgentID = "CONCEPT_EXPLAINER"
	AgentQualityChecker        AgentID = "QUALITY_CHECKER"
	AgentCitationFormatter     AgentID = "CITATION_FORMATTER"
	AgentCitationVerifier      AgentID = "CITATION_VERIFIER"
	AgentPerplexityResearcher  AgentID = "PERPLEXITY_RESEARCHER"
	AgentRelatedPaperDiscovery AgentID = "RELATED_PAPER_DISCOVERY"
)

// AllAgents returns every known agent ID in default pipeline order.
func AllAgents() []AgentID {
	return []AgentID{
		AgentPaperProcessor,
		AgentMetadataEnhancer,
		AgentContentSummarizer,
		AgentConceptExplainer,
		AgentQualityChecker,
		AgentCitationFormatter,
		AgentCitationVerifier,
		AgentPerplexityResearcher,
		AgentRelatedPaperDiscovery,
	}
}

// Valid reports whether the agent ID is one of the known agents.
func (a AgentID) Valid() bool {
	switch a {
	case AgentPaperProcessor, AgentMetadataEnhancer, AgentContentSummarizer,
		AgentConceptExplainer, AgentQualityChecker, AgentCitationFormatter,
		AgentCitationVerifier, AgentPerplexityResearcher, AgentRelatedPaperDiscovery:
		return true
	}
	return false
}

func (a AgentID) String() string { return string(a) }

// Provider identifies an external service an agent calls.
type Provider string

// Known external providers.
const (
	ProviderOpenAI          Provider = "openai"
	ProviderAnthropic       Provider = "anthropic"
	ProviderPerplexity      Provider = "perplexity"
	ProviderCrossref        Provider = "crossref"
	ProviderSemanticScholar Provider = "semantic_scholar"
	ProviderArxiv           Provider = "arxiv"
)

// OperationType classifies a credit-consuming operation.
type OperationType string

// Credit operation types.
const (
	OperationFullPipeline       OperationType = "FULL_PIPELINE"
	OperationPaperUpload        OperationType = "PAPER_UPLOAD"
	OperationSummarization      OperationType = "SUMMARIZATION"
	OperationConceptExplanation OperationType = "CONCEPT_EXPLANATION"
	OperationQualityCheck       OperationType = "QUALITY_CHECK"
	OperationCitationFormatting OperationType = "CITATION_FORMATTING"
	OperationExternalResearch   OperationType = "EXTERNAL_RESEARCH"
	OperationPaperDiscovery     OperationType = "PAPER_DISCOVERY"
)

package agents

import (
	"github.com/ToanPV90/answer42-sub008/pkg/config"
	"github.com/ToanPV90/answer42-sub008/pkg/models"
	"github.com/ToanPV90/answer42-sub008/pkg/reliability"
	"github.com/ToanPV90/answer42-sub008/pkg/tokens"
)

// Deps carries everything the registry needs to assemble the runtimes.
type Deps struct {
	Config     *config.Config
	Tasks      TaskLifecycle
	Accounting *tokens.Accounting
	Stats      *reliability.StatsRegistry

	// OnCircuitChange is invoked on every breaker transition, typically to
	// publish a circuit event.
	OnCircuitChange reliability.StateChangeFunc

	OpenAI     LLMCaller
	Perplexity LLMCaller
	Crossref   CrossrefLookup
	Scholar    PaperSearcher
	Arxiv      PreprintSearcher
}

// Registry holds one runtime and one circuit breaker per agent.
type Registry struct {
	runtimes map[models.AgentID]*Runtime
	breakers map[models.AgentID]*reliability.Breaker
}

// NewRegistry builds the full agent fleet.
func NewRegistry(d Deps) *Registry {
	handlers := map[models.AgentID]Handler{
		models.AgentPaperProcessor:        NewPaperProcessorHandler(),
		models.AgentMetadataEnhancer:      NewMetadataEnhancerHandler(d.Crossref),
		models.AgentContentSummarizer:     NewContentSummarizerHandler(d.OpenAI),
		models.AgentConceptExplainer:      NewConceptExplainerHandler(d.OpenAI),
		models.AgentQualityChecker:        NewQualityCheckerHandler(d.OpenAI),
		models.AgentCitationFormatter:     NewCitationFormatterHandler(d.OpenAI),
		models.AgentCitationVerifier:      NewCitationVerifierHandler(d.Crossref),
		models.AgentPerplexityResearcher:  NewPerplexityResearcherHandler(d.Perplexity),
		models.AgentRelatedPaperDiscovery: NewRelatedPaperDiscoveryHandler(d.Scholar, d.Arxiv),
	}

	r := &Registry{
		runtimes: make(map[models.AgentID]*Runtime, len(handlers)),
		breakers: make(map[models.AgentID]*reliability.Breaker, len(handlers)),
	}
	for agent, handler := range handlers {
		agentCfg := d.Config.Agent(agent)
		breaker := reliability.NewBreaker(agent, d.Config.Circuit, d.OnCircuitChange)
		retrier := reliability.NewRetrier(agent, agentCfg, d.Config.Circuit, breaker, d.Stats.For(agent))
		r.breakers[agent] = breaker
		r.runtimes[agent] = NewRuntime(agent, handler, d.Tasks, retrier, breaker, d.Accounting, agentCfg)
	}
	return r
}

// Runtime returns the runtime for an agent.
func (r *Registry) Runtime(agent models.AgentID) (*Runtime, bool) {
	rt, ok := r.runtimes[agent]
	return rt, ok
}

// Breaker returns the circuit breaker for an agent.
func (r *Registry) Breaker(agent models.AgentID) (*reliability.Breaker, bool) {
	b, ok := r.breakers[agent]
	return b, ok
}

// CircuitSnapshots returns a point-in-time view of every breaker.
func (r *Registry) CircuitSnapshots() []reliability.CircuitSnapshot {
	out := make([]reliability.CircuitSnapshot, 0, len(r.breakers))
	for _, agent := range models.AllAgents() {
		if b, ok := r.breakers[agent]; ok {
			out = append(out, b.Snapshot())
		}
	}
	return out
}

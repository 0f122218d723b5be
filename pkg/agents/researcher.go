package agents

import (
	"context"
	"fmt"

	"github.com/ToanPV90/answer42-sub008/pkg/models"
)

const researcherSystem = `You are a research assistant with live web access.
Ground every claim in a citable source. Respond with a single JSON object
and nothing else.`

// PerplexityResearcherHandler runs external fact research on the paper's
// topic through the Perplexity API.
type PerplexityResearcherHandler struct {
	llm LLMCaller
}

// NewPerplexityResearcherHandler creates a PerplexityResearcherHandler.
func NewPerplexityResearcherHandler(llm LLMCaller) *PerplexityResearcherHandler {
	return &PerplexityResearcherHandler{llm: llm}
}

// Execute researches the paper's topic and claims against external sources.
func (h *PerplexityResearcherHandler) Execute(ctx context.Context, input map[string]any) (models.ResultData, bool, *Usage, error) {
	topic := FirstString(input, "title", "summary", "brief")
	if topic == "" {
		text, err := requireText(input)
		if err != nil {
			return nil, false, nil, err
		}
		topic = truncateText(text, 500)
	}

	prompt := fmt.Sprintf(`Research the current state of the field for the paper
described below. Verify its central claims where possible and note recent
related developments. Return JSON:
  {"summary": "overview of findings",
   "findings": ["..."],
   "citations": ["source URL or reference", "..."]}

Paper:
%s`, topic)

	raw, usage, err := completeJSON(ctx, h.llm, researcherSystem, prompt, 2048)
	if err != nil {
		return nil, false, nil, err
	}

	var out models.ResearchFindings
	data, degraded, err := decodeTyped(raw, &out, func() bool {
		return out.Summary != ""
	})
	if err != nil {
		return nil, false, nil, err
	}
	if !degraded {
		data = out
	}
	return data, degraded, usage, nil
}

package agents

import (
	"context"
	"fmt"

	"github.com/ToanPV90/answer42-sub008/pkg/models"
)

const explainerSystem = `You explain technical concepts from academic papers
at multiple reading levels. Respond with a single JSON object and nothing else.`

// ConceptExplainerHandler extracts the paper's technical concepts and
// explains each at several levels.
type ConceptExplainerHandler struct {
	llm LLMCaller
}

// NewConceptExplainerHandler creates a ConceptExplainerHandler.
func NewConceptExplainerHandler(llm LLMCaller) *ConceptExplainerHandler {
	return &ConceptExplainerHandler{llm: llm}
}

// Execute explains the key concepts found in the paper text.
func (h *ConceptExplainerHandler) Execute(ctx context.Context, input map[string]any) (models.ResultData, bool, *Usage, error) {
	text, err := requireText(input)
	if err != nil {
		return nil, false, nil, err
	}

	prompt := fmt.Sprintf(`Identify the 5-10 most important technical concepts
in the following paper and explain each one. Return JSON:
  {"concepts": [{"term": "...",
                 "explanations": {"beginner": "...", "student": "...", "expert": "..."}}]}

Paper text:
%s`, truncateText(text, promptTextLimit))

	raw, usage, err := completeJSON(ctx, h.llm, explainerSystem, prompt, 3072)
	if err != nil {
		return nil, false, nil, err
	}

	var out models.ConceptExplanations
	data, degraded, err := decodeTyped(raw, &out, func() bool {
		return len(out.Concepts) > 0
	})
	if err != nil {
		return nil, false, nil, err
	}
	if !degraded {
		data = out
	}
	return data, degraded, usage, nil
}

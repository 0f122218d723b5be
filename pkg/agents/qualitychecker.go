package agents

import (
	"context"
	"fmt"

	"github.com/ToanPV90/answer42-sub008/pkg/models"
)

const qualitySystem = `You assess the quality and accuracy of generated
summaries of academic papers. Respond with a single JSON object and nothing else.`

// QualityCheckerHandler scores the generated summary against the paper.
type QualityCheckerHandler struct {
	llm LLMCaller
}

// NewQualityCheckerHandler creates a QualityCheckerHandler.
func NewQualityCheckerHandler(llm LLMCaller) *QualityCheckerHandler {
	return &QualityCheckerHandler{llm: llm}
}

// Execute checks the summary for accuracy against the source text.
func (h *QualityCheckerHandler) Execute(ctx context.Context, input map[string]any) (models.ResultData, bool, *Usage, error) {
	text, err := requireText(input)
	if err != nil {
		return nil, false, nil, err
	}
	summary := FirstString(input, "summary", "standard", "brief")
	if summary == "" {
		return nil, false, nil, fmt.Errorf("%w: no summary to check", ErrMissingInput)
	}

	prompt := fmt.Sprintf(`Assess the quality of this summary against the source paper.
Return JSON:
  {"overallScore": 0-100,
   "scores": {"accuracy": 0-100, "completeness": 0-100, "clarity": 0-100},
   "issues": ["..."]}

Summary:
%s

Source paper:
%s`, summary, truncateText(text, promptTextLimit))

	raw, usage, err := completeJSON(ctx, h.llm, qualitySystem, prompt, 1024)
	if err != nil {
		return nil, false, nil, err
	}

	var out models.QualityReport
	data, degraded, err := decodeTyped(raw, &out, func() bool {
		return out.OverallScore > 0 || len(out.Scores) > 0
	})
	if err != nil {
		return nil, false, nil, err
	}
	if !degraded {
		data = out
	}
	return data, degraded, usage, nil
}

package agents

import (
	"context"
	"fmt"

	"github.com/ToanPV90/answer42-sub008/pkg/models"
)

const summarizerSystem = `You are an expert at summarizing academic papers.
Respond with a single JSON object and nothing else.`

// ContentSummarizerHandler produces multi-level summaries of the paper.
type ContentSummarizerHandler struct {
	llm LLMCaller
}

// NewContentSummarizerHandler creates a ContentSummarizerHandler.
func NewContentSummarizerHandler(llm LLMCaller) *ContentSummarizerHandler {
	return &ContentSummarizerHandler{llm: llm}
}

// Execute summarizes the paper text at brief, standard, and detailed levels.
func (h *ContentSummarizerHandler) Execute(ctx context.Context, input map[string]any) (models.ResultData, bool, *Usage, error) {
	text, err := requireText(input)
	if err != nil {
		return nil, false, nil, err
	}

	prompt := fmt.Sprintf(`Summarize the following research paper.
Return JSON with keys:
  "brief": one-paragraph summary (2-3 sentences)
  "standard": summary in 150-250 words
  "detailed": section-by-section summary in 400-600 words
  "keyPoints": array of 3-7 key findings as short strings

Paper text:
%s`, truncateText(text, promptTextLimit))

	raw, usage, err := completeJSON(ctx, h.llm, summarizerSystem, prompt, 2048)
	if err != nil {
		return nil, false, nil, err
	}

	var out models.Summary
	data, degraded, err := decodeTyped(raw, &out, func() bool {
		return out.Brief != "" || out.Standard != "" || out.Detailed != ""
	})
	if err != nil {
		return nil, false, nil, err
	}
	if !degraded {
		data = out
	}
	return data, degraded, usage, nil
}

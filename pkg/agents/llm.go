package agents

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/ToanPV90/answer42-sub008/pkg/models"
	"github.com/ToanPV90/answer42-sub008/pkg/providers"
	"github.com/ToanPV90/answer42-sub008/pkg/reliability"
	"github.com/ToanPV90/answer42-sub008/pkg/tokens"
)

// LLMCaller is the completion surface the LLM-backed handlers use.
type LLMCaller interface {
	Provider() models.Provider
	Complete(ctx context.Context, req providers.CompletionRequest) (*providers.Completion, error)
}

// promptTextLimit bounds how much paper text goes into a prompt.
const promptTextLimit = 24000

// costPerThousandTokens is a coarse blended price per provider, used only
// for the estimated_cost column. Billing truth lives with the provider.
var costPerThousandTokens = map[models.Provider]float64{
	models.ProviderOpenAI:     0.002,
	models.ProviderPerplexity: 0.003,
}

// completeJSON runs one completion and returns the raw text plus usage.
// Token counts missing from the provider response are estimated from the
// prompt and response text.
func completeJSON(ctx context.Context, llm LLMCaller, system, prompt string, maxTokens int) (string, *Usage, error) {
	resp, err := llm.Complete(ctx, providers.CompletionRequest{
		System:    system,
		Prompt:    prompt,
		MaxTokens: maxTokens,
	})
	if err != nil {
		return "", nil, err
	}

	usage := &Usage{
		Provider:     llm.Provider(),
		InputTokens:  resp.InputTokens,
		OutputTokens: resp.OutputTokens,
	}
	if usage.InputTokens == 0 {
		usage.InputTokens = tokens.EstimateTokens(system + prompt)
	}
	if usage.OutputTokens == 0 {
		usage.OutputTokens = tokens.EstimateTokens(resp.Text)
	}
	usage.Cost = float64(usage.InputTokens+usage.OutputTokens) / 1000 *
		costPerThousandTokens[llm.Provider()]
	return resp.Text, usage, nil
}

// decodeTyped decodes an LLM response into the expected typed result.
//
// Valid JSON that fails the shape check degrades to a raw-map wrapper
// instead of failing the stage; a response that is not JSON at all is a
// SchemaError for the envelope to classify.
func decodeTyped(text string, typed models.ResultData, wellFormed func() bool) (models.ResultData, bool, error) {
	raw := extractJSON(text)

	if err := json.Unmarshal([]byte(raw), typed); err == nil && wellFormed() {
		return typed, false, nil
	}

	var m map[string]any
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return nil, false, &reliability.SchemaError{Err: err}
	}
	return models.Degraded{Raw: m}, true, nil
}

// extractJSON strips markdown code fences and any prose around the first
// top-level JSON object. Models wrap JSON in fences often enough that
// every parse path has to tolerate it.
func extractJSON(text string) string {
	text = strings.TrimSpace(text)
	if i := strings.Index(text, "```"); i >= 0 {
		text = text[i+3:]
		text = strings.TrimPrefix(text, "json")
		if j := strings.Index(text, "```"); j >= 0 {
			text = text[:j]
		}
	}
	start := strings.IndexAny(text, "{[")
	if start < 0 {
		return text
	}
	end := strings.LastIndexAny(text, "}]")
	if end < start {
		return text
	}
	return strings.TrimSpace(text[start : end+1])
}

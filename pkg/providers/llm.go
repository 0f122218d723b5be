package providers

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/ToanPV90/answer42-sub008/pkg/config"
	"github.com/ToanPV90/answer42-sub008/pkg/models"
	"github.com/ToanPV90/answer42-sub008/pkg/reliability"
)

// CompletionRequest is one LLM chat completion call.
type CompletionRequest struct {
	System    string
	Prompt    string
	MaxTokens int
}

// Completion is the completion text plus provider-reported usage.
// InputTokens/OutputTokens are zero when the provider omitted usage
// metadata; callers fall back to estimation.
type Completion struct {
	Text         string
	InputTokens  int
	OutputTokens int
	Duration     time.Duration
}

// LLMClient is a chat-completion client for an OpenAI-compatible API.
// Perplexity exposes the same wire protocol, so one adapter serves both.
type LLMClient struct {
	provider models.Provider
	model    string
	client   openai.Client
	pace     *pacer
}

// NewLLMClient creates a client for the given provider settings.
func NewLLMClient(provider models.Provider, cfg *config.ProviderConfig) *LLMClient {
	opts := []option.RequestOption{
		option.WithAPIKey(os.Getenv(cfg.APIKeyEnv)),
		option.WithRequestTimeout(cfg.ReadTimeout),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	return &LLMClient{
		provider: provider,
		model:    cfg.Model,
		client:   openai.NewClient(opts...),
		pace:     newPacer(cfg.MinInterval),
	}
}

// Provider returns the provider this client talks to.
func (c *LLMClient) Provider() models.Provider { return c.provider }

// Model returns the configured model identifier.
func (c *LLMClient) Model() string { return c.model }

// Complete performs one chat completion.
func (c *LLMClient) Complete(ctx context.Context, req CompletionRequest) (*Completion, error) {
	if err := c.pace.wait(ctx); err != nil {
		return nil, err
	}

	messages := make([]openai.ChatCompletionMessageParamUnion, 0, 2)
	if req.System != "" {
		messages = append(messages, openai.SystemMessage(req.System))
	}
	messages = append(messages, openai.UserMessage(req.Prompt))

	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(c.model),
		Messages: messages,
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(req.MaxTokens))
	}

	start := time.Now()
	resp, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, classifyLLMError(err)
	}
	if len(resp.Choices) == 0 {
		return nil, &reliability.SchemaError{Err: errors.New("completion returned no choices")}
	}

	return &Completion{
		Text:         resp.Choices[0].Message.Content,
		InputTokens:  int(resp.Usage.PromptTokens),
		OutputTokens: int(resp.Usage.CompletionTokens),
		Duration:     time.Since(start),
	}, nil
}

// classifyLLMError maps SDK errors onto the envelope's error types so
// retry classification sees HTTP status codes.
func classifyLLMError(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return fmt.Errorf("llm call failed: %w",
			&reliability.HTTPError{StatusCode: apiErr.StatusCode, Body: apiErr.Message})
	}
	return err
}

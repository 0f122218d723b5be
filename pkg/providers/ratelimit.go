// Package providers implements the outbound clients agents call:
// Crossref, Semantic Scholar, arXiv, and OpenAI-compatible LLM APIs
// (OpenAI, Perplexity). Every client enforces a per-provider minimum
// inter-request delay and returns classified errors the reliability
// envelope understands.
package providers

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// pacer enforces a minimum delay between requests to one provider.
// Limiters are per-provider, not per-agent: two agents sharing Crossref
// share its budget.
type pacer struct {
	limiter *rate.Limiter
}

// newPacer creates a pacer from a minimum inter-request interval.
// A zero interval disables pacing.
func newPacer(minInterval time.Duration) *pacer {
	if minInterval <= 0 {
		return &pacer{limiter: rate.NewLimiter(rate.Inf, 1)}
	}
	return &pacer{limiter: rate.NewLimiter(rate.Every(minInterval), 1)}
}

func (p *pacer) wait(ctx context.Context) error {
	return p.limiter.Wait(ctx)
}

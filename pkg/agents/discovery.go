package agents

import (
	"context"
	"log/slog"
	"strings"

	"github.com/ToanPV90/answer42-sub008/pkg/models"
	"github.com/ToanPV90/answer42-sub008/pkg/providers"
)

// discoveryLimit is how many candidates each source contributes.
const discoveryLimit = 5

// PaperSearcher is the Semantic Scholar surface the discovery handler uses.
type PaperSearcher interface {
	SearchPapers(ctx context.Context, query string, limit int) ([]providers.S2Paper, error)
}

// PreprintSearcher is the arXiv surface the discovery handler uses.
type PreprintSearcher interface {
	Search(ctx context.Context, query string, maxResults int) ([]providers.ArxivEntry, error)
}

// RelatedPaperDiscoveryHandler finds related work on Semantic Scholar and
// arXiv. Semantic Scholar is the primary source; arXiv results are
// additive and its failure degrades to a single-source result.
type RelatedPaperDiscoveryHandler struct {
	scholar PaperSearcher
	arxiv   PreprintSearcher
}

// NewRelatedPaperDiscoveryHandler creates a RelatedPaperDiscoveryHandler.
func NewRelatedPaperDiscoveryHandler(scholar PaperSearcher, arxiv PreprintSearcher) *RelatedPaperDiscoveryHandler {
	return &RelatedPaperDiscoveryHandler{scholar: scholar, arxiv: arxiv}
}

// Execute searches both sources and merges the results.
func (h *RelatedPaperDiscoveryHandler) Execute(ctx context.Context, input map[string]any) (models.ResultData, bool, *Usage, error) {
	query := FirstString(input, "title")
	if query == "" {
		text, err := requireText(input)
		if err != nil {
			return nil, false, nil, err
		}
		query = truncateText(text, 200)
	}

	s2Papers, err := h.scholar.SearchPapers(ctx, query, discoveryLimit)
	if err != nil {
		return nil, false, nil, err
	}

	out := models.RelatedPapers{Papers: make([]models.RelatedPaper, 0, 2*discoveryLimit)}
	seen := make(map[string]bool)
	for _, p := range s2Papers {
		if p.Title == "" || seen[titleKey(p.Title)] {
			continue
		}
		seen[titleKey(p.Title)] = true
		out.Papers = append(out.Papers, models.RelatedPaper{
			Title:     p.Title,
			DOI:       p.ExternalIDs.DOI,
			ArxivID:   p.ExternalIDs.ArXiv,
			Source:    "semantic_scholar",
			Relevance: relevanceFromRank(len(out.Papers)),
		})
	}

	entries, err := h.arxiv.Search(ctx, query, discoveryLimit)
	if err != nil {
		slog.Warn("arXiv discovery failed, continuing with Semantic Scholar results",
			"query", query, "error", err)
	}
	for _, e := range entries {
		if e.Title == "" || seen[titleKey(e.Title)] {
			continue
		}
		seen[titleKey(e.Title)] = true
		out.Papers = append(out.Papers, models.RelatedPaper{
			Title:     e.Title,
			ArxivID:   e.ID,
			Source:    "arxiv",
			Relevance: relevanceFromRank(len(out.Papers)),
		})
	}

	return out, false, nil, nil
}

func titleKey(title string) string {
	return strings.ToLower(strings.TrimSpace(title))
}

// relevanceFromRank assigns a decaying score by merge position; neither
// source reports a comparable native relevance.
func relevanceFromRank(rank int) float64 {
	score := 1.0 - 0.05*float64(rank)
	if score < 0.5 {
		return 0.5
	}
	return score
}

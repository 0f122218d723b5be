package providers

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"os"

	"github.com/ToanPV90/answer42-sub008/pkg/config"
)

// s2Fields is the field list requested on every Semantic Scholar call.
const s2Fields = "title,abstract,year,authors,externalIds,citationCount,url"

// SemanticScholarClient talks to the Semantic Scholar Graph API. Used by
// the related-paper discovery agent. An API key raises the rate limit
// but is optional.
type SemanticScholarClient struct {
	baseURL   string
	userAgent string
	apiKey    string
	http      *http.Client
	pace      *pacer
}

// NewSemanticScholarClient creates a SemanticScholarClient.
func NewSemanticScholarClient(cfg *config.ProviderConfig, userAgent string) *SemanticScholarClient {
	return &SemanticScholarClient{
		baseURL:   cfg.BaseURL,
		userAgent: userAgent,
		apiKey:    os.Getenv(cfg.APIKeyEnv),
		http:      newHTTPClient(cfg),
		pace:      newPacer(cfg.MinInterval),
	}
}

// S2Paper is the subset of a Semantic Scholar paper record the agents use.
type S2Paper struct {
	PaperID  string `json:"paperId"`
	Title    string `json:"title"`
	Abstract string `json:"abstract"`
	Year     int    `json:"year"`
	Authors  []struct {
		Name string `json:"name"`
	} `json:"authors"`
	ExternalIDs struct {
		DOI   string `json:"DOI"`
		ArXiv string `json:"ArXiv"`
	} `json:"externalIds"`
	CitationCount int    `json:"citationCount"`
	URL           string `json:"url"`
}

func (c *SemanticScholarClient) header() http.Header {
	h := http.Header{}
	if c.apiKey != "" {
		h.Set("x-api-key", c.apiKey)
	}
	return h
}

// SearchPapers searches papers by relevance.
func (c *SemanticScholarClient) SearchPapers(ctx context.Context, query string, limit int) ([]S2Paper, error) {
	var envelope struct {
		Data []S2Paper `json:"data"`
	}
	q := url.Values{}
	q.Set("query", query)
	q.Set("limit", fmt.Sprint(limit))
	q.Set("fields", s2Fields)
	u := fmt.Sprintf("%s/graph/v1/paper/search?%s", c.baseURL, q.Encode())
	if err := getJSON(ctx, c.http, c.pace, c.userAgent, u, c.header(), &envelope); err != nil {
		return nil, fmt.Errorf("semantic scholar search failed: %w", err)
	}
	return envelope.Data, nil
}

// Recommendations returns papers related to the given paper ID
// (a Semantic Scholar ID, DOI:..., or arXiv:... identifier).
func (c *SemanticScholarClient) Recommendations(ctx context.Context, paperID string, limit int) ([]S2Paper, error) {
	var envelope struct {
		RecommendedPapers []S2Paper `json:"recommendedPapers"`
	}
	q := url.Values{}
	q.Set("limit", fmt.Sprint(limit))
	q.Set("fields", s2Fields)
	u := fmt.Sprintf("%s/recommendations/v1/papers/forpaper/%s?%s",
		c.baseURL, url.PathEscape(paperID), q.Encode())
	if err := getJSON(ctx, c.http, c.pace, c.userAgent, u, c.header(), &envelope); err != nil {
		return nil, fmt.Errorf("semantic scholar recommendations failed: %w", err)
	}
	return envelope.RecommendedPapers, nil
}

package providers

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/ToanPV90/answer42-sub008/pkg/config"
)

// CrossrefClient talks to the Crossref REST API. Used by the metadata
// enhancer (DOI resolution) and the citation verifier (bibliographic
// matching). No API key required; the polite pool asks for a contact
// address in the User-Agent.
type CrossrefClient struct {
	baseURL   string
	userAgent string
	http      *http.Client
	pace      *pacer
}

// NewCrossrefClient creates a CrossrefClient.
func NewCrossrefClient(cfg *config.ProviderConfig, userAgent string) *CrossrefClient {
	return &CrossrefClient{
		baseURL:   cfg.BaseURL,
		userAgent: userAgent,
		http:      newHTTPClient(cfg),
		pace:      newPacer(cfg.MinInterval),
	}
}

// CrossrefWork is the subset of a Crossref work record the agents use.
type CrossrefWork struct {
	DOI       string   `json:"DOI"`
	Title     []string `json:"title"`
	Publisher string   `json:"publisher"`
	Type      string   `json:"type"`
	Author    []struct {
		Given  string `json:"given"`
		Family string `json:"family"`
	} `json:"author"`
	Issued struct {
		DateParts [][]int `json:"date-parts"`
	} `json:"issued"`
	ContainerTitle []string `json:"container-title"`
	Score          float64  `json:"score"`
	URL            string   `json:"URL"`
}

// Year returns the publication year, or 0 when absent.
func (w *CrossrefWork) Year() int {
	if len(w.Issued.DateParts) > 0 && len(w.Issued.DateParts[0]) > 0 {
		return w.Issued.DateParts[0][0]
	}
	return 0
}

// GetWork resolves one DOI.
func (c *CrossrefClient) GetWork(ctx context.Context, doi string) (*CrossrefWork, error) {
	var envelope struct {
		Message CrossrefWork `json:"message"`
	}
	u := fmt.Sprintf("%s/works/%s", c.baseURL, url.PathEscape(doi))
	if err := getJSON(ctx, c.http, c.pace, c.userAgent, u, nil, &envelope); err != nil {
		return nil, fmt.Errorf("crossref work lookup failed: %w", err)
	}
	return &envelope.Message, nil
}

// QueryBibliographic searches works by free-text citation. Results come
// back relevance-scored; the caller decides what score is a match.
func (c *CrossrefClient) QueryBibliographic(ctx context.Context, query string, rows int) ([]CrossrefWork, error) {
	var envelope struct {
		Message struct {
			Items []CrossrefWork `json:"items"`
		} `json:"message"`
	}
	q := url.Values{}
	q.Set("query.bibliographic", query)
	q.Set("rows", fmt.Sprint(rows))
	u := fmt.Sprintf("%s/works?%s", c.baseURL, q.Encode())
	if err := getJSON(ctx, c.http, c.pace, c.userAgent, u, nil, &envelope); err != nil {
		return nil, fmt.Errorf("crossref bibliographic query failed: %w", err)
	}
	return envelope.Message.Items, nil
}

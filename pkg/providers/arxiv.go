package providers

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/ToanPV90/answer42-sub008/pkg/config"
	"github.com/ToanPV90/answer42-sub008/pkg/reliability"
)

// ArxivClient talks to the arXiv Atom API. arXiv asks for a 3 second
// delay between requests, which the pacer enforces.
type ArxivClient struct {
	baseURL   string
	userAgent string
	http      *http.Client
	pace      *pacer
}

// NewArxivClient creates an ArxivClient.
func NewArxivClient(cfg *config.ProviderConfig, userAgent string) *ArxivClient {
	return &ArxivClient{
		baseURL:   cfg.BaseURL,
		userAgent: userAgent,
		http:      newHTTPClient(cfg),
		pace:      newPacer(cfg.MinInterval),
	}
}

// ArxivEntry is one paper in an arXiv query feed.
type ArxivEntry struct {
	ID        string   `xml:"id"`
	Title     string   `xml:"title"`
	Summary   string   `xml:"summary"`
	Published string   `xml:"published"`
	Authors   []string `xml:"-"`
}

type arxivFeed struct {
	Entries []struct {
		ID        string `xml:"id"`
		Title     string `xml:"title"`
		Summary   string `xml:"summary"`
		Published string `xml:"published"`
		Authors   []struct {
			Name string `xml:"name"`
		} `xml:"author"`
	} `xml:"entry"`
}

// Search queries arXiv by free text and returns up to maxResults entries.
func (c *ArxivClient) Search(ctx context.Context, query string, maxResults int) ([]ArxivEntry, error) {
	if err := c.pace.wait(ctx); err != nil {
		return nil, err
	}

	q := url.Values{}
	q.Set("search_query", "all:"+query)
	q.Set("max_results", fmt.Sprint(maxResults))
	u := fmt.Sprintf("%s/api/query?%s", c.baseURL, q.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build arxiv request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		return nil, &reliability.HTTPError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	var feed arxivFeed
	if err := xml.NewDecoder(resp.Body).Decode(&feed); err != nil {
		return nil, &reliability.SchemaError{Err: err}
	}

	entries := make([]ArxivEntry, 0, len(feed.Entries))
	for _, e := range feed.Entries {
		entry := ArxivEntry{
			ID:        e.ID,
			Title:     strings.TrimSpace(e.Title),
			Summary:   strings.TrimSpace(e.Summary),
			Published: e.Published,
		}
		for _, a := range e.Authors {
			entry.Authors = append(entry.Authors, a.Name)
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

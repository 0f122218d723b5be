package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"

	"github.com/ToanPV90/answer42-sub008/pkg/config"
	"github.com/ToanPV90/answer42-sub008/pkg/reliability"
)

// maxErrorBodyBytes bounds how much of an error response is kept for
// the error message.
const maxErrorBodyBytes = 2048

// newHTTPClient builds an HTTP client from provider timeouts.
func newHTTPClient(cfg *config.ProviderConfig) *http.Client {
	return &http.Client{
		Timeout: cfg.ReadTimeout,
		Transport: &http.Transport{
			DialContext: (&net.Dialer{
				Timeout: cfg.ConnectTimeout,
			}).DialContext,
			MaxIdleConnsPerHost: 4,
		},
	}
}

// getJSON performs a paced GET and decodes the JSON body into out.
// Non-2xx responses become *reliability.HTTPError; undecodable bodies
// become *reliability.SchemaError.
func getJSON(ctx context.Context, client *http.Client, p *pacer, userAgent, url string, header http.Header, out any) error {
	if err := p.wait(ctx); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		return &reliability.HTTPError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &reliability.SchemaError{Err: err}
	}
	return nil
}

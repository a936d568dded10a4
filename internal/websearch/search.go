// Package websearch implements the "deliberately external" collaborators
// the Source Finder and Summarizer consume: a query-to-results search
// provider and a URL-to-text fetcher/extractor.
package websearch

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/kadirpekel/deepresearch/internal/httpclient"
	"github.com/kadirpekel/deepresearch/internal/obslog"
)

// SearchResult is one hit returned by a SearchProvider.
type SearchResult struct {
	URL   string
	Title string
}

// SearchProvider turns a query into a ranked list of results.
type SearchProvider interface {
	Search(ctx context.Context, query string, limit int) ([]SearchResult, error)
}

// SearxClient queries a self-hosted SearxNG-compatible JSON search API. It
// needs no API key, matching the self-hosted, single-binary spirit of the
// rest of the stack.
type SearxClient struct {
	baseURL string
	http    *httpclient.Client
}

// NewSearxClient builds a SearchProvider against a SearxNG instance.
func NewSearxClient(baseURL string) *SearxClient {
	return &SearxClient{
		baseURL: baseURL,
		http: httpclient.New(
			httpclient.WithHTTPClient(&http.Client{}),
			httpclient.WithMaxRetries(2),
		),
	}
}

type searxResponse struct {
	Results []struct {
		URL   string `json:"url"`
		Title string `json:"title"`
	} `json:"results"`
}

// Search queries the backend. On failure it returns an empty result list
// and a non-nil error; the Source Finder treats that as "continue to the
// next query" rather than a fatal agent error.
func (c *SearxClient) Search(ctx context.Context, query string, limit int) (results []SearchResult, err error) {
	ctx, span := obslog.Tracer("deepresearch/websearch").Start(ctx, obslog.SpanWebSearch,
		trace.WithAttributes(attribute.String(obslog.AttrSearchQuery, query)),
	)
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	u, err := url.Parse(c.baseURL + "/search")
	if err != nil {
		return nil, fmt.Errorf("websearch: invalid search backend URL: %w", err)
	}
	q := u.Query()
	q.Set("q", query)
	q.Set("format", "json")
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("websearch: build request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("websearch: search request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("websearch: search backend returned HTTP %d", resp.StatusCode)
	}

	var parsed searxResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("websearch: decode search response: %w", err)
	}

	out := make([]SearchResult, 0, min(limit, len(parsed.Results)))
	for i, r := range parsed.Results {
		if i >= limit {
			break
		}
		out = append(out, SearchResult{URL: r.URL, Title: r.Title})
	}
	return out, nil
}

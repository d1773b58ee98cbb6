// Copyright 2025 ResearchFlow
// SPDX-License-Identifier: BUSL-1.1

package search

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	// DuckDuckGoDefaultBaseURL is the Instant Answer API endpoint.
	DuckDuckGoDefaultBaseURL = "https://api.duckduckgo.com/"

	// DuckDuckGoDefaultTimeout bounds one Instant Answer call.
	DuckDuckGoDefaultTimeout = 10 * time.Second
)

// DuckDuckGoConfig configures the keyless provider.
type DuckDuckGoConfig struct {
	BaseURL string        // Optional: endpoint override
	Timeout time.Duration // Optional: call timeout (default: 10s)
}

// DuckDuckGoProvider queries the DuckDuckGo Instant Answer API. It requires
// no credentials, so it sits below the keyed providers in the cascade. The
// API returns encyclopedic abstracts and related topics rather than ranked
// web results.
type DuckDuckGoProvider struct {
	baseURL string
	timeout time.Duration
	client  *HTTPClient
}

// NewDuckDuckGoProvider creates the keyless provider.
func NewDuckDuckGoProvider(cfg DuckDuckGoConfig, client *HTTPClient) *DuckDuckGoProvider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DuckDuckGoDefaultBaseURL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DuckDuckGoDefaultTimeout
	}

	return &DuckDuckGoProvider{
		baseURL: cfg.BaseURL,
		timeout: cfg.Timeout,
		client:  client,
	}
}

// Name returns the provider name.
func (p *DuckDuckGoProvider) Name() string {
	return "duckduckgo"
}

// IsAvailable always reports true; the API is keyless.
func (p *DuckDuckGoProvider) IsAvailable() bool {
	return true
}

// Search executes one Instant Answer call. The abstract (when present)
// becomes the first result, followed by related topics.
func (p *DuckDuckGoProvider) Search(ctx context.Context, query string, maxResults int) SearchResponse {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	params := url.Values{}
	params.Set("q", query)
	params.Set("format", "json")
	params.Set("no_html", "1")
	params.Set("skip_disambig", "1")

	reqURL := p.baseURL + "?" + params.Encode()
	httpReq, err := http.NewRequestWithContext(ctx, "GET", reqURL, nil)
	if err != nil {
		return errorResponse(p.Name(), query, ErrClassMalformed, fmt.Errorf("failed to create request: %w", err))
	}

	resp, err := p.client.Do(p.Name(), httpReq)
	if err != nil {
		return errorResponse(p.Name(), query, ClassifyError(err), fmt.Errorf("duckduckgo error: %w", err))
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return errorResponse(p.Name(), query, ClassifyStatus(resp.StatusCode),
			fmt.Errorf("duckduckgo status %d", resp.StatusCode))
	}

	var apiResp duckDuckGoResponse
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return errorResponse(p.Name(), query, ErrClassMalformed, fmt.Errorf("failed to decode response: %w", err))
	}

	results := p.collectResults(&apiResp, maxResults)
	if len(results) == 0 {
		return SearchResponse{
			Status:   StatusNoResults,
			Query:    query,
			Provider: p.Name(),
		}
	}

	return SearchResponse{
		Status:   StatusSuccess,
		Results:  results,
		Query:    query,
		Provider: p.Name(),
	}
}

// collectResults flattens the abstract and related topics into the
// normalized result list.
func (p *DuckDuckGoProvider) collectResults(apiResp *duckDuckGoResponse, maxResults int) []SearchResult {
	var results []SearchResult

	add := func(title, link, snippet string) bool {
		if link == "" {
			return true
		}
		if maxResults > 0 && len(results) >= maxResults {
			return false
		}
		results = append(results, SearchResult{
			Title:     title,
			URL:       link,
			Snippet:   snippet,
			SourceTag: SourceTagKeyless,
		})
		return true
	}

	if apiResp.AbstractText != "" && apiResp.AbstractURL != "" {
		title := apiResp.Heading
		if title == "" {
			title = titleFromURL(apiResp.AbstractURL)
		}
		add(title, apiResp.AbstractURL, apiResp.AbstractText)
	}

	var walk func(topics []duckDuckGoTopic) bool
	walk = func(topics []duckDuckGoTopic) bool {
		for _, t := range topics {
			// Category nodes hold their entries in a nested Topics list.
			if len(t.Topics) > 0 {
				if !walk(t.Topics) {
					return false
				}
				continue
			}
			title := titleFromURL(t.FirstURL)
			if !add(title, t.FirstURL, t.Text) {
				return false
			}
		}
		return true
	}
	walk(apiResp.RelatedTopics)

	return results
}

// titleFromURL derives a readable title from the last URL path segment.
func titleFromURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Path == "" || u.Path == "/" {
		return rawURL
	}
	segments := strings.Split(strings.Trim(u.Path, "/"), "/")
	last := segments[len(segments)-1]
	if last == "" {
		return rawURL
	}
	return strings.ReplaceAll(last, "_", " ")
}

type duckDuckGoResponse struct {
	Heading       string           `json:"Heading"`
	AbstractText  string           `json:"AbstractText"`
	AbstractURL   string           `json:"AbstractURL"`
	RelatedTopics []duckDuckGoTopic `json:"RelatedTopics"`
}

type duckDuckGoTopic struct {
	Text     string            `json:"Text"`
	FirstURL string            `json:"FirstURL"`
	Topics   []duckDuckGoTopic `json:"Topics,omitempty"`
}

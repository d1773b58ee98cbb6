// Copyright 2025 ResearchFlow
// SPDX-License-Identifier: BUSL-1.1

package search

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

const (
	// SerpAPIDefaultBaseURL is the SerpAPI search endpoint.
	SerpAPIDefaultBaseURL = "https://serpapi.com/search.json"

	// SerpAPIDefaultEngine is used when no engine override is configured.
	SerpAPIDefaultEngine = "google"

	// SerpAPIDefaultTimeout bounds one SerpAPI call.
	SerpAPIDefaultTimeout = 15 * time.Second
)

// SerpAPIConfig configures the SerpAPI provider.
type SerpAPIConfig struct {
	APIKey  string        // Required: SerpAPI key
	BaseURL string        // Optional: endpoint override
	Engine  string        // Optional: engine override ("google", "bing")
	Timeout time.Duration // Optional: call timeout (default: 15s)
}

// SerpAPIProvider queries SerpAPI as the secondary keyed provider. The
// engine parameter selects the underlying search engine.
type SerpAPIProvider struct {
	apiKey  string
	baseURL string
	engine  string
	timeout time.Duration
	client  *HTTPClient
}

// NewSerpAPIProvider creates the SerpAPI provider.
func NewSerpAPIProvider(cfg SerpAPIConfig, client *HTTPClient) *SerpAPIProvider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = SerpAPIDefaultBaseURL
	}
	if cfg.Engine == "" {
		cfg.Engine = SerpAPIDefaultEngine
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = SerpAPIDefaultTimeout
	}

	return &SerpAPIProvider{
		apiKey:  cfg.APIKey,
		baseURL: cfg.BaseURL,
		engine:  cfg.Engine,
		timeout: cfg.Timeout,
		client:  client,
	}
}

// Name returns the provider name.
func (p *SerpAPIProvider) Name() string {
	return "serpapi"
}

// IsAvailable reports whether an API key is configured.
func (p *SerpAPIProvider) IsAvailable() bool {
	return p.apiKey != ""
}

// Search executes one SerpAPI call and normalizes the organic results.
func (p *SerpAPIProvider) Search(ctx context.Context, query string, maxResults int) SearchResponse {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	params := url.Values{}
	params.Set("q", query)
	params.Set("engine", p.engine)
	params.Set("api_key", p.apiKey)
	if maxResults > 0 {
		params.Set("num", strconv.Itoa(maxResults))
	}

	reqURL := p.baseURL + "?" + params.Encode()
	httpReq, err := http.NewRequestWithContext(ctx, "GET", reqURL, nil)
	if err != nil {
		return errorResponse(p.Name(), query, ErrClassMalformed, fmt.Errorf("failed to create request: %w", err))
	}

	resp, err := p.client.Do(p.Name(), httpReq)
	if err != nil {
		return errorResponse(p.Name(), query, ClassifyError(err), fmt.Errorf("serpapi error: %w", err))
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return errorResponse(p.Name(), query, ClassifyStatus(resp.StatusCode),
			fmt.Errorf("serpapi status %d: %s", resp.StatusCode, string(body)))
	}

	var apiResp serpAPIResponse
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return errorResponse(p.Name(), query, ErrClassMalformed, fmt.Errorf("failed to decode response: %w", err))
	}

	// SerpAPI reports its own failures in-band with a 200 status.
	if apiResp.Error != "" {
		return errorResponse(p.Name(), query, ErrClassUpstream, fmt.Errorf("serpapi error: %s", apiResp.Error))
	}

	if len(apiResp.OrganicResults) == 0 {
		return SearchResponse{
			Status:   StatusNoResults,
			Query:    query,
			Provider: p.Name(),
		}
	}

	results := make([]SearchResult, 0, len(apiResp.OrganicResults))
	for _, item := range apiResp.OrganicResults {
		if item.Link == "" {
			continue
		}
		if maxResults > 0 && len(results) >= maxResults {
			break
		}
		results = append(results, SearchResult{
			Title:     item.Title,
			URL:       item.Link,
			Snippet:   item.Snippet,
			SourceTag: SourceTagKeyed,
			Metadata:  map[string]interface{}{"engine": p.engine},
		})
	}

	return SearchResponse{
		Status:   StatusSuccess,
		Results:  results,
		Query:    query,
		Provider: p.Name(),
	}
}

type serpAPIResponse struct {
	OrganicResults []serpAPIOrganicResult `json:"organic_results"`
	Error          string                 `json:"error,omitempty"`
}

type serpAPIOrganicResult struct {
	Title   string `json:"title"`
	Link    string `json:"link"`
	Snippet string `json:"snippet"`
}

// Copyright 2025 ResearchFlow
// SPDX-License-Identifier: BUSL-1.1

package search

import (
	"context"
	"errors"
	"fmt"
	"time"

	"google.golang.org/api/customsearch/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

const (
	// GoogleCSEDefaultTimeout bounds one Custom Search call.
	GoogleCSEDefaultTimeout = 15 * time.Second

	// googleCSEMaxPerPage is the API's hard cap on results per call.
	googleCSEMaxPerPage = 10
)

// GoogleCSEConfig configures the Google Custom Search provider.
type GoogleCSEConfig struct {
	APIKey   string        // Required: Google API key
	EngineID string        // Required: Programmable Search Engine ID (cx)
	Timeout  time.Duration // Optional: call timeout (default: 15s)
}

// GoogleCSEProvider queries the Google Custom Search JSON API. It is the
// primary keyed provider in the cascade, behind grounded search.
type GoogleCSEProvider struct {
	apiKey   string
	engineID string
	timeout  time.Duration
	limiter  *RateLimiter

	// newService is replaceable in tests.
	newService func(ctx context.Context) (*customsearch.Service, error)
}

// NewGoogleCSEProvider creates the Custom Search provider. The limiter
// shares the same per-provider budget as the HTTP-based providers.
func NewGoogleCSEProvider(cfg GoogleCSEConfig, limiter *RateLimiter) *GoogleCSEProvider {
	if cfg.Timeout == 0 {
		cfg.Timeout = GoogleCSEDefaultTimeout
	}

	p := &GoogleCSEProvider{
		apiKey:   cfg.APIKey,
		engineID: cfg.EngineID,
		timeout:  cfg.Timeout,
		limiter:  limiter,
	}
	p.newService = func(ctx context.Context) (*customsearch.Service, error) {
		return customsearch.NewService(ctx, option.WithAPIKey(p.apiKey))
	}
	return p
}

// Name returns the provider name.
func (p *GoogleCSEProvider) Name() string {
	return "google_cse"
}

// IsAvailable reports whether both the API key and engine ID are set.
func (p *GoogleCSEProvider) IsAvailable() bool {
	return p.apiKey != "" && p.engineID != ""
}

// Search executes one Custom Search call. maxResults above the API's
// per-page cap is clamped to 10.
func (p *GoogleCSEProvider) Search(ctx context.Context, query string, maxResults int) SearchResponse {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	if p.limiter != nil {
		if err := p.limiter.Allow(ctx, p.Name()); err != nil {
			return errorResponse(p.Name(), query, ErrClassRateLimit, err)
		}
	}

	svc, err := p.newService(ctx)
	if err != nil {
		return errorResponse(p.Name(), query, ErrClassAuth, fmt.Errorf("failed to create search service: %w", err))
	}

	num := int64(maxResults)
	if num <= 0 || num > googleCSEMaxPerPage {
		num = googleCSEMaxPerPage
	}

	resp, err := svc.Cse.List().
		Q(query).
		Cx(p.engineID).
		Num(num).
		Context(ctx).
		Do()
	if err != nil {
		return errorResponse(p.Name(), query, classifyGoogleAPIError(err), fmt.Errorf("custom search error: %w", err))
	}

	if len(resp.Items) == 0 {
		return SearchResponse{
			Status:   StatusNoResults,
			Query:    query,
			Provider: p.Name(),
		}
	}

	results := make([]SearchResult, 0, len(resp.Items))
	for _, item := range resp.Items {
		if item.Link == "" {
			continue
		}
		results = append(results, SearchResult{
			Title:     item.Title,
			URL:       item.Link,
			Snippet:   item.Snippet,
			SourceTag: SourceTagCustomWeb,
		})
	}

	return SearchResponse{
		Status:   StatusSuccess,
		Results:  results,
		Query:    query,
		Provider: p.Name(),
	}
}

// classifyGoogleAPIError maps googleapi errors to an error class, falling
// back to transport-level classification.
func classifyGoogleAPIError(err error) ErrorClass {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		return ClassifyStatus(apiErr.Code)
	}
	return ClassifyError(err)
}

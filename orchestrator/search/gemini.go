// Copyright 2025 ResearchFlow
// SPDX-License-Identifier: BUSL-1.1

package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"researchflow/platform/orchestrator/citation"
)

const (
	// GeminiDefaultBaseURL is the default Gemini API endpoint.
	GeminiDefaultBaseURL = "https://generativelanguage.googleapis.com"

	// GeminiDefaultAPIVersion is the Gemini API version.
	GeminiDefaultAPIVersion = "v1beta"

	// GeminiDefaultModel is the model used for grounded search.
	GeminiDefaultModel = "gemini-2.0-flash"

	// GeminiDefaultTimeout bounds one grounded search call.
	GeminiDefaultTimeout = 60 * time.Second
)

// GeminiConfig configures the grounded Gemini search provider.
type GeminiConfig struct {
	APIKey     string        // Required: Google API key
	BaseURL    string        // Optional: API base URL
	APIVersion string        // Optional: API version (default: v1beta)
	Model      string        // Optional: model (default: gemini-2.0-flash)
	Timeout    time.Duration // Optional: call timeout (default: 60s)
}

// GeminiProvider sends the query to Gemini with the google_search tool
// enabled and returns both the grounded answer (with parsed grounding
// metadata for the citation pipeline) and a normalized result list derived
// from the grounding chunks.
type GeminiProvider struct {
	apiKey     string
	baseURL    string
	apiVersion string
	model      string
	timeout    time.Duration
	client     *HTTPClient
}

// NewGeminiProvider creates the grounded search provider. The shared HTTP
// client supplies pooling, retries, and the rate-limit budget.
func NewGeminiProvider(cfg GeminiConfig, client *HTTPClient) *GeminiProvider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = GeminiDefaultBaseURL
	}
	if cfg.APIVersion == "" {
		cfg.APIVersion = GeminiDefaultAPIVersion
	}
	if cfg.Model == "" {
		cfg.Model = GeminiDefaultModel
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = GeminiDefaultTimeout
	}

	return &GeminiProvider{
		apiKey:     cfg.APIKey,
		baseURL:    cfg.BaseURL,
		apiVersion: cfg.APIVersion,
		model:      cfg.Model,
		timeout:    cfg.Timeout,
		client:     client,
	}
}

// Name returns the provider name.
func (p *GeminiProvider) Name() string {
	return "gemini"
}

// IsAvailable reports whether an API key is configured.
func (p *GeminiProvider) IsAvailable() bool {
	return p.apiKey != ""
}

// Search executes a grounded search. When the model answers without
// invoking its search tool the call still succeeds with
// GroundingUsed=false.
func (p *GeminiProvider) Search(ctx context.Context, query string, maxResults int) SearchResponse {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	apiReq := map[string]any{
		"contents": []map[string]any{
			{
				"role": "user",
				"parts": []map[string]any{
					{"text": query},
				},
			},
		},
		"tools": []map[string]any{
			{"google_search": map[string]any{}},
		},
	}

	reqBody, err := json.Marshal(apiReq)
	if err != nil {
		return errorResponse(p.Name(), query, ErrClassMalformed, fmt.Errorf("failed to marshal request: %w", err))
	}

	url := fmt.Sprintf("%s/%s/models/%s:generateContent?key=%s",
		p.baseURL, p.apiVersion, p.model, p.apiKey)

	httpReq, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(reqBody))
	if err != nil {
		return errorResponse(p.Name(), query, ErrClassMalformed, fmt.Errorf("failed to create request: %w", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(p.Name(), httpReq)
	if err != nil {
		return errorResponse(p.Name(), query, ClassifyError(err), fmt.Errorf("gemini API error: %w", err))
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return errorResponse(p.Name(), query, ClassifyStatus(resp.StatusCode), parseGeminiError(resp.StatusCode, body))
	}

	var apiResp geminiGenerateResponse
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return errorResponse(p.Name(), query, ErrClassMalformed, fmt.Errorf("failed to decode response: %w", err))
	}

	return p.buildResponse(query, maxResults, &apiResp)
}

// buildResponse assembles the grounded SearchResponse from a decoded API
// response.
func (p *GeminiProvider) buildResponse(query string, maxResults int, apiResp *geminiGenerateResponse) SearchResponse {
	if len(apiResp.Candidates) == 0 {
		return SearchResponse{
			Status:   StatusNoResults,
			Query:    query,
			Provider: p.Name(),
		}
	}

	candidate := apiResp.Candidates[0]

	var answer strings.Builder
	for _, part := range candidate.Content.Parts {
		answer.WriteString(part.Text)
	}

	md, err := citation.ParseGroundingMetadata(candidate.GroundingMetadata)
	if err != nil {
		return errorResponse(p.Name(), query, ErrClassMalformed, err)
	}

	var results []SearchResult
	for _, chunk := range md.Chunks {
		if chunk.URI == "" {
			continue
		}
		if maxResults > 0 && len(results) >= maxResults {
			break
		}
		title := chunk.Title
		if title == "" {
			title = chunk.URI
		}
		results = append(results, SearchResult{
			Title:     title,
			URL:       chunk.URI,
			Snippet:   snippetFrom(answer.String()),
			SourceTag: SourceTagGrounding,
		})
	}

	return SearchResponse{
		Status:        StatusSuccess,
		Results:       results,
		Query:         query,
		Provider:      p.Name(),
		GroundingUsed: !md.IsEmpty(),
		Answer:        answer.String(),
		Grounding:     md,
	}
}

// snippetFrom truncates the answer into a result snippet.
func snippetFrom(answer string) string {
	const maxSnippet = 200
	if len(answer) <= maxSnippet {
		return answer
	}
	return answer[:maxSnippet] + "..."
}

// parseGeminiError parses a non-200 API response body.
func parseGeminiError(statusCode int, body []byte) error {
	var errResp struct {
		Error struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
			Status  string `json:"status"`
		} `json:"error"`
	}

	if err := json.Unmarshal(body, &errResp); err != nil {
		return fmt.Errorf("gemini API error (status %d): %s", statusCode, string(body))
	}
	return fmt.Errorf("gemini API error (status %d, %s): %s",
		statusCode, errResp.Error.Status, errResp.Error.Message)
}

// Internal API types. GroundingMetadata stays raw here; the citation
// package owns its typed parse.

type geminiGenerateResponse struct {
	Candidates []geminiCandidate `json:"candidates,omitempty"`
}

type geminiCandidate struct {
	Content           geminiContent   `json:"content"`
	FinishReason      string          `json:"finishReason,omitempty"`
	GroundingMetadata json.RawMessage `json:"groundingMetadata,omitempty"`
}

type geminiContent struct {
	Parts []geminiPart `json:"parts"`
	Role  string       `json:"role"`
}

type geminiPart struct {
	Text string `json:"text,omitempty"`
}

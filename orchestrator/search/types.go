// Copyright 2025 ResearchFlow
// SPDX-License-Identifier: BUSL-1.1

// Package search implements the web search provider cascade: a uniform
// provider contract, a registry with sequential, parallel, and best-effort
// selection strategies, and concrete providers for grounded LLM search,
// keyed web search APIs, a keyless public API, and an always-available
// knowledge fallback.
package search

import (
	"researchflow/platform/orchestrator/citation"
)

// Status is the outcome of a provider search call.
type Status string

const (
	StatusSuccess   Status = "success"
	StatusError     Status = "error"
	StatusNoResults Status = "no_results"
)

// ErrorClass buckets provider failures for retry and cascade decisions.
type ErrorClass string

const (
	// ErrClassNetwork covers connection failures; retryable.
	ErrClassNetwork ErrorClass = "network"

	// ErrClassTimeout covers deadline expiry; retryable and
	// indistinguishable from cancellation downstream.
	ErrClassTimeout ErrorClass = "timeout"

	// ErrClassAuth covers authentication and configuration failures. The
	// provider is disabled for the remainder of the request; never retried.
	ErrClassAuth ErrorClass = "auth"

	// ErrClassRateLimit covers vendor throttling; retryable with backoff.
	ErrClassRateLimit ErrorClass = "rate_limit"

	// ErrClassUpstream covers vendor 5xx responses; retryable.
	ErrClassUpstream ErrorClass = "upstream"

	// ErrClassMalformed covers unparseable payloads and invalid requests;
	// terminal for this query.
	ErrClassMalformed ErrorClass = "malformed"
)

// Source tags recording result provenance, consumed by the quality
// validator's source classification.
const (
	SourceTagGrounding = "grounding"
	SourceTagCustomWeb = "custom_web"
	SourceTagKeyed     = "keyed"
	SourceTagKeyless   = "keyless"
	SourceTagKnowledge = "knowledge_base_fallback"
)

// SearchResult is one normalized result item from any provider.
type SearchResult struct {
	Title     string                 `json:"title"`
	URL       string                 `json:"url"`
	Snippet   string                 `json:"snippet"`
	SourceTag string                 `json:"source_tag"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// SearchResponse is the uniform provider response. Failures are encoded in
// Status/Error/ErrorClass; Search never returns a Go error and never
// panics to the caller.
type SearchResponse struct {
	Status        Status         `json:"status"`
	Results       []SearchResult `json:"results"`
	Query         string         `json:"query"`
	Provider      string         `json:"provider_name"`
	Error         string         `json:"error,omitempty"`
	ErrorClass    ErrorClass     `json:"error_class,omitempty"`
	GroundingUsed bool           `json:"grounding_used"`

	// Answer and Grounding are populated only by the grounded LLM
	// provider; the citation pipeline consumes them.
	Answer    string                      `json:"answer,omitempty"`
	Grounding *citation.GroundingMetadata `json:"-"`
}

// HasResults reports whether the response succeeded with at least one
// result.
func (r *SearchResponse) HasResults() bool {
	return r.Status == StatusSuccess && len(r.Results) > 0
}

// errorResponse builds a failed SearchResponse for a provider.
func errorResponse(provider, query string, class ErrorClass, err error) SearchResponse {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	return SearchResponse{
		Status:     StatusError,
		Query:      query,
		Provider:   provider,
		Error:      msg,
		ErrorClass: class,
	}
}

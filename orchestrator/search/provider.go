// Copyright 2025 ResearchFlow
// SPDX-License-Identifier: BUSL-1.1

package search

import "context"

// Provider adapts one external search backend to the uniform
// query→results contract. Implementations must be safe for concurrent use.
type Provider interface {
	// Name returns the unique identifier for this provider.
	// Example: "gemini", "google_cse", "duckduckgo".
	Name() string

	// IsAvailable reports whether the provider has the configuration it
	// needs (API keys, endpoint IDs). It must be cheap, synchronous, and
	// must not perform network I/O.
	IsAvailable() bool

	// Search executes the query and returns within the provider's
	// configured timeout. All failures are reflected in the response's
	// Status/Error/ErrorClass; Search never panics and never raises.
	// The context is used for cancellation and deadlines; implementations
	// must observe it at every I/O boundary.
	Search(ctx context.Context, query string, maxResults int) SearchResponse
}

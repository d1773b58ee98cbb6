// Copyright 2025 ResearchFlow
// SPDX-License-Identifier: BUSL-1.1

package search

import (
	"log"
	"sync"
)

// RegistryConfig aggregates per-provider configuration.
type RegistryConfig struct {
	Gemini     GeminiConfig
	GoogleCSE  GoogleCSEConfig
	SerpAPI    SerpAPIConfig
	DuckDuckGo DuckDuckGoConfig
}

// OutcomeHook observes one provider call's outcome. Hooks must be fast and
// safe for concurrent use; the cascade calls them inline.
type OutcomeHook func(provider string, success bool, resultCount int)

// Registry holds the provider cascade in priority order. It is built once
// at startup and never mutated afterwards; per-request state (providers
// disabled by auth failures) lives in the Cascade returned by ForRequest.
type Registry struct {
	providers []Provider
	outcome   OutcomeHook
}

// RegistryOption customizes registry construction.
type RegistryOption func(*registryOptions)

type registryOptions struct {
	extra []Provider
}

// WithProvider appends a custom provider ahead of the knowledge fallback.
// Used by tests and embedders.
func WithProvider(p Provider) RegistryOption {
	return func(o *registryOptions) {
		o.extra = append(o.extra, p)
	}
}

// NewRegistry builds the cascade: grounded search, then the keyed web
// providers, then the keyless provider, with the knowledge fallback always
// last. Providers whose configuration is incomplete are skipped at
// construction time.
func NewRegistry(cfg RegistryConfig, client *HTTPClient, limiter *RateLimiter, opts ...RegistryOption) *Registry {
	var o registryOptions
	for _, opt := range opts {
		opt(&o)
	}

	candidates := []Provider{
		NewGeminiProvider(cfg.Gemini, client),
		NewGoogleCSEProvider(cfg.GoogleCSE, limiter),
		NewSerpAPIProvider(cfg.SerpAPI, client),
		NewDuckDuckGoProvider(cfg.DuckDuckGo, client),
	}
	candidates = append(candidates, o.extra...)

	r := &Registry{}
	for _, p := range candidates {
		if !p.IsAvailable() {
			log.Printf("[SearchRegistry] Provider %s not configured, skipping", p.Name())
			continue
		}
		log.Printf("[SearchRegistry] Registered provider: %s", p.Name())
		r.providers = append(r.providers, p)
	}

	// The knowledge fallback terminates every cascade.
	r.providers = append(r.providers, NewKnowledgeProvider())

	return r
}

// NewRegistryWithProviders builds a registry over an explicit provider list
// (tests). The list is used as-is; callers are responsible for ordering and
// for including a fallback.
func NewRegistryWithProviders(providers ...Provider) *Registry {
	return &Registry{providers: providers}
}

// SetOutcomeHook registers an observer for provider call outcomes, feeding
// the metrics collector. Set once at startup, before requests flow.
func (r *Registry) SetOutcomeHook(hook OutcomeHook) {
	r.outcome = hook
}

// Providers returns a copy of the cascade in priority order.
func (r *Registry) Providers() []Provider {
	out := make([]Provider, len(r.providers))
	copy(out, r.providers)
	return out
}

// ProviderStatus reports each registered provider's name and availability.
func (r *Registry) ProviderStatus() []ProviderStatus {
	statuses := make([]ProviderStatus, 0, len(r.providers))
	for _, p := range r.providers {
		statuses = append(statuses, ProviderStatus{
			Name:      p.Name(),
			Available: p.IsAvailable(),
		})
	}
	return statuses
}

// ProviderStatus is one entry in the registry status report.
type ProviderStatus struct {
	Name      string `json:"name"`
	Available bool   `json:"available"`
}

// ForRequest returns a request-scoped view of the cascade. Auth failures
// disable a provider in the view only; the registry itself is untouched, so
// concurrent requests never see each other's disables.
func (r *Registry) ForRequest() *Cascade {
	return &Cascade{
		providers: r.providers,
		outcome:   r.outcome,
		disabled:  make(map[string]bool),
	}
}

// Cascade is the per-request provider view. Safe for concurrent use by the
// request's worker pool.
type Cascade struct {
	providers []Provider
	outcome   OutcomeHook

	mu       sync.Mutex
	disabled map[string]bool
}

// Disable removes a provider from this request's cascade. Called on auth
// failures so later queries in the same request skip the provider.
func (c *Cascade) Disable(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.disabled[name] {
		log.Printf("[SearchRegistry] Provider %s disabled for remainder of request", name)
		c.disabled[name] = true
	}
}

// Active returns the providers still enabled for this request, in cascade
// order.
func (c *Cascade) Active() []Provider {
	c.mu.Lock()
	defer c.mu.Unlock()

	var out []Provider
	for _, p := range c.providers {
		if !c.disabled[p.Name()] {
			out = append(out, p)
		}
	}
	return out
}

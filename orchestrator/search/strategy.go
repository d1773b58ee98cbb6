// Copyright 2025 ResearchFlow
// SPDX-License-Identifier: BUSL-1.1

package search

import (
	"context"
	"fmt"
	"log"
	"time"
)

// Strategy selects how the cascade consults its providers for one query.
type Strategy string

const (
	// StrategySequential walks the cascade in priority order and returns
	// the first response with results.
	StrategySequential Strategy = "sequential"

	// StrategyParallel races every non-fallback provider; the first
	// success wins and the rest are cancelled.
	StrategyParallel Strategy = "parallel_first_wins"

	// StrategyBestEffort queries every provider, waits for all of them,
	// and keeps the response with the most results.
	StrategyBestEffort Strategy = "best_effort"
)

// ParallelRaceTimeout bounds the race before falling back to the knowledge
// provider.
const ParallelRaceTimeout = 20 * time.Second

// Search runs one query through the cascade using the given strategy.
// Unknown strategies fall back to sequential. The returned response always
// has Status set; because the knowledge fallback cannot fail, a cascade
// search never returns an empty error response unless the context is
// already cancelled.
func (c *Cascade) Search(ctx context.Context, strategy Strategy, query string, maxResults int) SearchResponse {
	if err := ctx.Err(); err != nil {
		return errorResponse("cascade", query, ErrClassTimeout, err)
	}

	switch strategy {
	case StrategyParallel:
		return c.searchParallel(ctx, query, maxResults)
	case StrategyBestEffort:
		return c.searchBestEffort(ctx, query, maxResults)
	default:
		return c.searchSequential(ctx, query, maxResults)
	}
}

// searchSequential walks active providers in order. Auth failures disable
// the provider for the rest of the request; other failures just move the
// cascade along.
func (c *Cascade) searchSequential(ctx context.Context, query string, maxResults int) SearchResponse {
	var last SearchResponse
	for _, p := range c.Active() {
		if err := ctx.Err(); err != nil {
			return errorResponse("cascade", query, ErrClassTimeout, err)
		}

		resp := safeSearch(ctx, p, query, maxResults)
		c.recordOutcome(p, resp)
		if resp.HasResults() {
			return resp
		}
		last = resp
	}

	if last.Provider == "" {
		return errorResponse("cascade", query, ErrClassUpstream, fmt.Errorf("no providers available"))
	}
	return last
}

// searchParallel races the non-fallback providers. The first response with
// results wins and cancels the rest. When nobody wins, the knowledge
// fallback answers.
func (c *Cascade) searchParallel(ctx context.Context, query string, maxResults int) SearchResponse {
	racers, fallback := c.splitFallback()
	if len(racers) == 0 {
		if fallback != nil {
			return safeSearch(ctx, fallback, query, maxResults)
		}
		return errorResponse("cascade", query, ErrClassUpstream, fmt.Errorf("no providers available"))
	}

	raceCtx, cancel := context.WithTimeout(ctx, ParallelRaceTimeout)
	defer cancel()

	type outcome struct {
		provider Provider
		resp     SearchResponse
	}
	results := make(chan outcome, len(racers))
	for _, p := range racers {
		go func(p Provider) {
			results <- outcome{p, safeSearch(raceCtx, p, query, maxResults)}
		}(p)
	}

	for remaining := len(racers); remaining > 0; remaining-- {
		select {
		case <-raceCtx.Done():
			remaining = 0
		case out := <-results:
			c.recordOutcome(out.provider, out.resp)
			if out.resp.HasResults() {
				cancel()
				return out.resp
			}
		}
	}

	if fallback != nil {
		return safeSearch(ctx, fallback, query, maxResults)
	}
	return errorResponse("cascade", query, ErrClassUpstream, fmt.Errorf("all providers failed"))
}

// searchBestEffort queries every active provider, waits for all of them,
// and keeps the response with the most results. Ties prefer a grounded
// response.
func (c *Cascade) searchBestEffort(ctx context.Context, query string, maxResults int) SearchResponse {
	active := c.Active()
	if len(active) == 0 {
		return errorResponse("cascade", query, ErrClassUpstream, fmt.Errorf("no providers available"))
	}

	responses := make([]SearchResponse, len(active))
	done := make(chan int, len(active))
	for i, p := range active {
		go func(i int, p Provider) {
			responses[i] = safeSearch(ctx, p, query, maxResults)
			done <- i
		}(i, p)
	}
	for range active {
		<-done
	}

	best := -1
	for i, resp := range responses {
		c.recordOutcome(active[i], resp)
		if !resp.HasResults() {
			continue
		}
		if best < 0 {
			best = i
			continue
		}
		switch {
		case len(resp.Results) > len(responses[best].Results):
			best = i
		case len(resp.Results) == len(responses[best].Results) &&
			resp.GroundingUsed && !responses[best].GroundingUsed:
			best = i
		}
	}

	if best < 0 {
		return SearchResponse{
			Status:   StatusNoResults,
			Query:    query,
			Provider: "best_effort",
		}
	}
	return responses[best]
}

// recordOutcome applies cascade-level policy to one provider response: auth
// failures disable the provider for the remainder of the request, and the
// outcome hook observes the call.
func (c *Cascade) recordOutcome(p Provider, resp SearchResponse) {
	if resp.Status == StatusError && resp.ErrorClass == ErrClassAuth {
		c.Disable(p.Name())
	}
	if c.outcome != nil {
		c.outcome(p.Name(), resp.Status == StatusSuccess, len(resp.Results))
	}
}

// splitFallback partitions the active cascade into racing providers and the
// terminal knowledge fallback.
func (c *Cascade) splitFallback() ([]Provider, Provider) {
	var racers []Provider
	var fallback Provider
	for _, p := range c.Active() {
		if _, ok := p.(*KnowledgeProvider); ok {
			fallback = p
			continue
		}
		racers = append(racers, p)
	}
	return racers, fallback
}

// safeSearch invokes a provider, converting any panic into an error
// response so one misbehaving provider cannot take down the request.
func safeSearch(ctx context.Context, p Provider, query string, maxResults int) (resp SearchResponse) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[SearchRegistry] Provider %s panicked: %v", p.Name(), r)
			resp = errorResponse(p.Name(), query, ErrClassMalformed, fmt.Errorf("provider panic: %v", r))
		}
	}()
	return p.Search(ctx, query, maxResults)
}

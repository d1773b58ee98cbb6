// Copyright 2025 ResearchFlow
// SPDX-License-Identifier: BUSL-1.1

package orchestrator

import (
	"context"
	"fmt"
	"log"
	"runtime"
	"strings"
	"sync"
	"time"

	"researchflow/platform/orchestrator/citation"
	"researchflow/platform/orchestrator/search"
)

// Research defaults. Request fields override them per call.
const (
	DefaultInitialQueryCount = 3
	DefaultMaxResearchLoops  = 2
	DefaultMaxResultsPerQry  = 5
	DefaultQueryTimeout      = 30 * time.Second
	DefaultBatchTimeout      = 2 * time.Minute
)

// ResearchPhase names one state of the research state machine.
type ResearchPhase string

const (
	PhaseGenerateQueries ResearchPhase = "GENERATE_QUERIES"
	PhaseSearchBatch     ResearchPhase = "SEARCH_BATCH"
	PhaseReflect         ResearchPhase = "REFLECT"
	PhaseFinalize        ResearchPhase = "FINALIZE"
	PhaseDone            ResearchPhase = "DONE"
	PhaseFailed          ResearchPhase = "FAILED"
)

// Message is one conversational turn in the research request.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// TaggedSource is a citation Source plus the provider provenance tag the
// quality validator classifies on.
type TaggedSource struct {
	citation.Source
	SourceTag string `json:"source_tag,omitempty"`
}

// ResearchRequest is the engine's input, already validated by the caller.
type ResearchRequest struct {
	Messages          []Message
	InitialQueryCount int
	MaxResearchLoops  int
	ReasoningModel    string
	Strategy          search.Strategy
	QualityThreshold  float64 // 0 disables graduated filtering
	Profile           bool
}

// ResearchResult is the engine's output.
type ResearchResult struct {
	FinalAnswer   string
	Sources       []TaggedSource
	LoopsExecuted int
	TotalQueries  int
	Quality       *SourceQualitySummary
	Profile       *PerformanceProfile
}

// PerformanceProfile records wall-clock milliseconds per phase.
type PerformanceProfile struct {
	QueryGenerationMS int64 `json:"query_generation_ms"`
	SearchMS          int64 `json:"search_ms"`
	ReflectionMS      int64 `json:"reflection_ms"`
	FinalizationMS    int64 `json:"finalization_ms"`
	TotalMS           int64 `json:"total_ms"`
}

// researchState is the per-request mutable state. It is owned by one
// Research call and never shared across requests.
type researchState struct {
	topic           string
	currentDate     string
	searchQueries   []string
	researchResults []string
	sources         []TaggedSource
	seenURLs        map[string]bool
	loopCount       int
	maxLoops        int
	totalQueries    int
}

// EngineConfig configures the research engine.
type EngineConfig struct {
	Workers      int           // Bounded pool for the search batch (default: GOMAXPROCS)
	QueryTimeout time.Duration // Per-query deadline (default: 30s)
	BatchTimeout time.Duration // Per-batch deadline (default: 2m)
	MaxResults   int           // Per-query result cap (default: 5)
	Strategy     search.Strategy
}

// ResearchEngine drives one research request through the state machine:
// GENERATE_QUERIES, then alternating SEARCH_BATCH and REFLECT until the
// reflection is satisfied or the loop bound is hit, then FINALIZE.
type ResearchEngine struct {
	registry  *search.Registry
	queryGen  QueryGenerator
	reflector Reflector
	finalizer Finalizer
	validator *QualityValidator

	workers      int
	queryTimeout time.Duration
	batchTimeout time.Duration
	maxResults   int
	strategy     search.Strategy
}

// NewResearchEngine wires the engine. Any nil agent falls back to the
// deterministic substitute on every call.
func NewResearchEngine(registry *search.Registry, queryGen QueryGenerator, reflector Reflector, finalizer Finalizer, validator *QualityValidator, cfg EngineConfig) *ResearchEngine {
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.GOMAXPROCS(0)
	}
	if cfg.QueryTimeout <= 0 {
		cfg.QueryTimeout = DefaultQueryTimeout
	}
	if cfg.BatchTimeout <= 0 {
		cfg.BatchTimeout = DefaultBatchTimeout
	}
	if cfg.MaxResults <= 0 {
		cfg.MaxResults = DefaultMaxResultsPerQry
	}
	if cfg.Strategy == "" {
		cfg.Strategy = search.StrategySequential
	}

	return &ResearchEngine{
		registry:     registry,
		queryGen:     queryGen,
		reflector:    reflector,
		finalizer:    finalizer,
		validator:    validator,
		workers:      cfg.Workers,
		queryTimeout: cfg.QueryTimeout,
		batchTimeout: cfg.BatchTimeout,
		maxResults:   cfg.MaxResults,
		strategy:     cfg.Strategy,
	}
}

// Research executes one request. On context cancellation it returns the
// context error and no result; agent failures are absorbed by deterministic
// fallbacks and never fail the request.
func (e *ResearchEngine) Research(ctx context.Context, req ResearchRequest) (*ResearchResult, error) {
	start := time.Now()
	profile := &PerformanceProfile{}

	if req.InitialQueryCount < 1 {
		req.InitialQueryCount = DefaultInitialQueryCount
	}
	if req.MaxResearchLoops < 0 {
		req.MaxResearchLoops = DefaultMaxResearchLoops
	}
	strategy := req.Strategy
	if strategy == "" {
		strategy = e.strategy
	}

	// Topic and date are derived once and reused for the whole request.
	state := &researchState{
		topic:       deriveTopic(req.Messages),
		currentDate: time.Now().Format("January 2, 2006"),
		seenURLs:    make(map[string]bool),
		maxLoops:    req.MaxResearchLoops,
	}
	if state.topic == "" {
		return nil, fmt.Errorf("research request has no user message")
	}

	// GENERATE_QUERIES
	genStart := time.Now()
	queries, err := e.queryGen.GenerateQueries(ctx, state.topic, req.InitialQueryCount, state.currentDate)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		log.Printf("[ResearchEngine] Query generation failed, using fallback queries: %v", err)
		queries = FallbackQueries(state.topic, req.InitialQueryCount)
	}
	profile.QueryGenerationMS = time.Since(genStart).Milliseconds()

	cascade := e.registry.ForRequest()

	// SEARCH_BATCH / REFLECT loop
	for {
		batchStart := time.Now()
		e.searchBatch(ctx, cascade, strategy, queries, state)
		profile.SearchMS += time.Since(batchStart).Milliseconds()

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if state.loopCount >= state.maxLoops {
			break
		}
		state.loopCount++

		reflStart := time.Now()
		reflection, err := e.reflector.Reflect(ctx, state.topic, state.researchResults)
		profile.ReflectionMS += time.Since(reflStart).Milliseconds()
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			log.Printf("[ResearchEngine] Reflection failed, assuming insufficient: %v", err)
			reflection = FallbackReflection(state.topic)
		}
		if reflection.IsSufficient || len(reflection.FollowUpQueries) == 0 {
			break
		}
		queries = reflection.FollowUpQueries
	}

	// FINALIZE
	retained, quality := e.filterSources(state.sources, req.QualityThreshold)

	finStart := time.Now()
	answer, err := e.finalizer.Finalize(ctx, state.topic, state.researchResults,
		plainSources(retained), req.ReasoningModel, state.currentDate)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		log.Printf("[ResearchEngine] Finalization failed, using summary-based answer: %v", err)
		answer = FallbackAnswer(state.topic, state.researchResults, plainSources(retained))
	}
	profile.FinalizationMS = time.Since(finStart).Milliseconds()
	profile.TotalMS = time.Since(start).Milliseconds()

	result := &ResearchResult{
		FinalAnswer:   answer,
		Sources:       retained,
		LoopsExecuted: state.loopCount,
		TotalQueries:  state.totalQueries,
		Quality:       quality,
	}
	if req.Profile {
		result.Profile = profile
	}
	return result, nil
}

// searchBatch runs the batch of queries on a bounded worker pool. All
// queries run to completion or deadline; one query's failure never cancels
// its siblings. Results are folded into the state in query-index order.
func (e *ResearchEngine) searchBatch(ctx context.Context, cascade *search.Cascade, strategy search.Strategy, queries []string, state *researchState) {
	batchCtx, cancel := context.WithTimeout(ctx, e.batchTimeout)
	defer cancel()

	responses := make([]search.SearchResponse, len(queries))
	sem := make(chan struct{}, e.workers)
	var wg sync.WaitGroup

	for i, q := range queries {
		wg.Add(1)
		go func(i int, q string) {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-batchCtx.Done():
				return
			}

			qCtx, qCancel := context.WithTimeout(batchCtx, e.queryTimeout)
			defer qCancel()
			responses[i] = cascade.Search(qCtx, strategy, q, e.maxResults)
		}(i, q)
	}
	wg.Wait()

	state.searchQueries = append(state.searchQueries, queries...)
	state.totalQueries += len(queries)

	for i, resp := range responses {
		if !resp.HasResults() {
			if resp.Status != "" {
				log.Printf("[ResearchEngine] Query %d produced no usable output (provider=%s, status=%s)",
					i, resp.Provider, resp.Status)
			}
			continue
		}
		state.researchResults = append(state.researchResults, buildSummary(resp))
		state.appendSources(resp)
	}
}

// appendSources folds a response's sources into the state, first
// occurrence of each URL winning.
func (s *researchState) appendSources(resp search.SearchResponse) {
	if resp.Grounding != nil && !resp.Grounding.IsEmpty() {
		tag := search.SourceTagGrounding
		for _, src := range citation.ExtractSources(resp.Grounding) {
			if s.seenURLs[src.URL] {
				continue
			}
			s.seenURLs[src.URL] = true
			s.sources = append(s.sources, TaggedSource{Source: src, SourceTag: tag})
		}
		return
	}

	for _, r := range resp.Results {
		if r.URL == "" || s.seenURLs[r.URL] {
			continue
		}
		s.seenURLs[r.URL] = true
		s.sources = append(s.sources, TaggedSource{
			Source:    citation.Source{Title: r.Title, URL: r.URL},
			SourceTag: r.SourceTag,
		})
	}
}

// buildSummary turns one search response into a per-query research summary.
// Grounded answers get inline citation markers; plain result lists are
// flattened to title/snippet lines.
func buildSummary(resp search.SearchResponse) string {
	if resp.Answer != "" && resp.Grounding != nil {
		return citation.InsertCitationMarkers(resp.Answer, resp.Grounding)
	}
	if resp.Answer != "" {
		return resp.Answer
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Search results for %q:\n", resp.Query)
	for _, r := range resp.Results {
		if r.Snippet != "" {
			fmt.Fprintf(&b, "- %s: %s\n", r.Title, r.Snippet)
		} else {
			fmt.Fprintf(&b, "- %s (%s)\n", r.Title, r.URL)
		}
	}
	return b.String()
}

// filterSources applies graduated quality filtering when a threshold is
// set. Sources scoring below the threshold are set aside; the summary
// reports both groups.
func (e *ResearchEngine) filterSources(sources []TaggedSource, threshold float64) ([]TaggedSource, *SourceQualitySummary) {
	if e.validator == nil {
		return sources, nil
	}
	return e.validator.FilterSources(sources, threshold)
}

// plainSources strips provenance tags for agent consumption.
func plainSources(tagged []TaggedSource) []citation.Source {
	out := make([]citation.Source, 0, len(tagged))
	for _, t := range tagged {
		out = append(out, t.Source)
	}
	return out
}

// deriveTopic extracts the research topic from the message list: the most
// recent user message wins.
func deriveTopic(messages []Message) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == "user" {
			return strings.TrimSpace(messages[i].Content)
		}
	}
	return ""
}

// Copyright 2025 ResearchFlow
// SPDX-License-Identifier: BUSL-1.1

package orchestrator

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"researchflow/platform/orchestrator/search"
	"researchflow/platform/shared/logger"
)

// setupHandlerComponents wires the package singletons with in-memory
// doubles. The provider returns one web result per query.
func setupHandlerComponents(t *testing.T) *engineProvider {
	t.Helper()

	provider := &engineProvider{
		name: "stub",
		respond: func(q string) search.SearchResponse {
			return webResults(q, "https://site.test/"+strings.ReplaceAll(q, " ", "-"))
		},
	}

	serviceConfig = &Config{Port: "0", SearchStrategy: "sequential"}
	serviceLogger = logger.New("OrchestratorTest")
	searchRegistry = search.NewRegistryWithProviders(provider)
	qualityValidator = NewQualityValidator()
	auditLogger = NewAuditLogger("")
	metricsCollector = NewMetricsCollector()
	researchEngine = NewResearchEngine(
		searchRegistry,
		&stubQueryGen{queries: []string{"q1", "q2"}},
		&stubReflector{script: []Reflection{{IsSufficient: true}}},
		&stubFinalizer{},
		qualityValidator,
		EngineConfig{Workers: 2},
	)

	return provider
}

func postResearch(t *testing.T, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest("POST", "/api/v1/research", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	researchHandler(w, req)
	return w
}

func TestResearchHandlerSuccess(t *testing.T) {
	setupHandlerComponents(t)

	w := postResearch(t, `{"question": "What is Go?", "initial_search_query_count": 2, "max_research_loops": 1}`)
	require.Equal(t, http.StatusOK, w.Code)

	var resp ResearchAPIResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))

	assert.Contains(t, resp.FinalAnswer, "What is Go?")
	assert.NotEmpty(t, resp.Sources)
	assert.Equal(t, 2, resp.TotalQueries)
	assert.Equal(t, 1, resp.ResearchLoopsExecuted)
	assert.Nil(t, resp.QualitySummary)
	assert.Nil(t, resp.PerformanceProfile)
}

func TestResearchHandlerOptionalBlocks(t *testing.T) {
	setupHandlerComponents(t)

	w := postResearch(t, `{
		"question": "What is Go?",
		"include_quality_summary": true,
		"include_performance_profile": true
	}`)
	require.Equal(t, http.StatusOK, w.Code)

	var resp ResearchAPIResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))

	require.NotNil(t, resp.QualitySummary)
	assert.True(t, resp.QualitySummary.HasRealSearch)
	require.NotNil(t, resp.PerformanceProfile)
	assert.GreaterOrEqual(t, resp.PerformanceProfile.TotalMS, int64(0))
}

func TestResearchHandlerValidation(t *testing.T) {
	setupHandlerComponents(t)

	tests := []struct {
		name string
		body string
	}{
		{name: "malformed json", body: `{"question": `},
		{name: "missing question", body: `{}`},
		{name: "empty question", body: `{"question": ""}`},
		{name: "zero query count", body: `{"question": "q", "initial_search_query_count": 0}`},
		{name: "negative query count", body: `{"question": "q", "initial_search_query_count": -1}`},
		{name: "negative loop count", body: `{"question": "q", "max_research_loops": -1}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := postResearch(t, tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code)

			var resp ErrorResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.Equal(t, "validation", resp.Kind)
			assert.NotEmpty(t, resp.Error)
		})
	}
}

func TestResearchHandlerValidationDoesNotInvokeAgents(t *testing.T) {
	provider := setupHandlerComponents(t)
	gen := &stubQueryGen{queries: []string{"q"}}
	researchEngine = NewResearchEngine(searchRegistry, gen,
		&stubReflector{script: []Reflection{{IsSufficient: true}}},
		&stubFinalizer{}, qualityValidator, EngineConfig{Workers: 1})

	postResearch(t, `{"question": "", "max_research_loops": 1}`)

	assert.Zero(t, gen.calls)
	assert.Empty(t, provider.seenQueries())
}

func TestResearchHandlerInternalErrorIsSanitized(t *testing.T) {
	setupHandlerComponents(t)
	// No user message reaches the engine only through a handler bug, but a
	// failing engine must never leak internals to the caller. Force a
	// failure through an engine whose request derivation fails.
	researchEngine = NewResearchEngine(
		search.NewRegistryWithProviders(&engineProvider{name: "stub", respond: func(q string) search.SearchResponse {
			return webResults(q, "https://site.test/a")
		}}),
		&stubQueryGen{queries: nil},
		&stubReflector{script: []Reflection{{IsSufficient: true}}},
		&stubFinalizer{},
		qualityValidator,
		EngineConfig{Workers: 1},
	)

	// A whitespace-only question passes the non-empty check but derives an
	// empty topic.
	w := postResearch(t, `{"question": "   "}`)
	require.Equal(t, http.StatusInternalServerError, w.Code)

	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "Research failed", resp.Error)
	assert.Equal(t, "internal", resp.Kind)
}

func TestHealthHandler(t *testing.T) {
	setupHandlerComponents(t)

	req := httptest.NewRequest("GET", "/health", nil)
	w := httptest.NewRecorder()
	healthHandler(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var health map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &health))
	assert.Equal(t, "healthy", health["status"])
	assert.Equal(t, "researchflow-orchestrator", health["service"])

	components := health["components"].(map[string]interface{})
	assert.Equal(t, true, components["search_registry"])
	assert.Equal(t, true, components["research_engine"])
	assert.Equal(t, true, components["audit_logger"])
}

func TestProviderStatusHandler(t *testing.T) {
	setupHandlerComponents(t)

	req := httptest.NewRequest("GET", "/api/v1/providers/status", nil)
	w := httptest.NewRecorder()
	providerStatusHandler(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Providers []search.ProviderStatus `json:"providers"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Providers, 1)
	assert.Equal(t, "stub", resp.Providers[0].Name)
	assert.True(t, resp.Providers[0].Available)
}

func TestMetricsHandlerCountsRequests(t *testing.T) {
	setupHandlerComponents(t)

	postResearch(t, `{"question": "What is Go?"}`)

	req := httptest.NewRequest("GET", "/metrics", nil)
	w := httptest.NewRecorder()
	metricsHandler(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var m Metrics
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &m))
	assert.Equal(t, int64(1), m.ResearchMetrics.TotalRequests)
	assert.Equal(t, int64(1), m.ResearchMetrics.SuccessCount)
}

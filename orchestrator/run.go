// Copyright 2025 ResearchFlow
// SPDX-License-Identifier: BUSL-1.1

package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"

	"researchflow/platform/orchestrator/search"
	"researchflow/platform/shared/logger"
)

// ResearchFlow Orchestrator - iterative web research service. Generates
// search queries for a question, runs them through the provider cascade,
// reflects on the gathered evidence, and finalizes a cited answer.

// DefaultRequestTimeout bounds one research request end to end.
const DefaultRequestTimeout = 5 * time.Minute

// Service components, initialized once at startup.
var (
	serviceConfig    *Config
	searchRegistry   *search.Registry
	researchEngine   *ResearchEngine
	qualityValidator *QualityValidator
	auditLogger      *AuditLogger
	metricsCollector *MetricsCollector
	rateLimiter      *search.RateLimiter
	serviceLogger    *logger.Logger
)

// Prometheus metrics
var (
	promResearchTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "researchflow_orchestrator_requests_total",
			Help: "Total number of research requests processed",
		},
		[]string{"status"},
	)
	promResearchDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "researchflow_orchestrator_request_duration_milliseconds",
			Help:    "Research request duration in milliseconds",
			Buckets: []float64{100, 500, 1000, 2000, 5000, 10000, 30000, 60000, 120000},
		},
	)
	promResearchLoops = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "researchflow_orchestrator_research_loops",
			Help:    "Research loops executed per request",
			Buckets: []float64{0, 1, 2, 3, 4, 5},
		},
	)
	promSearchQueries = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "researchflow_orchestrator_search_queries_total",
			Help: "Total number of search queries dispatched",
		},
	)
	promQualityScore = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "researchflow_orchestrator_quality_score",
			Help:    "Overall quality score per completed request",
			Buckets: []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1.0},
		},
	)
)

func init() {
	prometheus.MustRegister(promResearchTotal)
	prometheus.MustRegister(promResearchDuration)
	prometheus.MustRegister(promResearchLoops)
	prometheus.MustRegister(promSearchQueries)
	prometheus.MustRegister(promQualityScore)
}

// ResearchAPIRequest is the POST /api/v1/research body. Pointer fields
// distinguish "absent" from an explicit zero.
type ResearchAPIRequest struct {
	Question                  string  `json:"question"`
	InitialSearchQueryCount   *int    `json:"initial_search_query_count,omitempty"`
	MaxResearchLoops          *int    `json:"max_research_loops,omitempty"`
	ReasoningModel            string  `json:"reasoning_model,omitempty"`
	SearchStrategy            string  `json:"search_strategy,omitempty"`
	QualityThreshold          float64 `json:"quality_threshold,omitempty"`
	IncludeQualitySummary     bool    `json:"include_quality_summary,omitempty"`
	IncludePerformanceProfile bool    `json:"include_performance_profile,omitempty"`
}

// ResearchAPIResponse is the success body.
type ResearchAPIResponse struct {
	FinalAnswer           string              `json:"final_answer"`
	Sources               []TaggedSource      `json:"sources"`
	ResearchLoopsExecuted int                 `json:"research_loops_executed"`
	TotalQueries          int                 `json:"total_queries"`
	QualitySummary        *QualitySummary     `json:"quality_summary,omitempty"`
	PerformanceProfile    *PerformanceProfile `json:"performance_profile,omitempty"`
}

// QualitySummary is the caller-facing quality block.
type QualitySummary struct {
	Scores          QualityScores         `json:"scores"`
	HasRealSearch   bool                  `json:"has_real_search"`
	HasFallback     bool                  `json:"has_fallback"`
	SourceFiltering *SourceQualitySummary `json:"source_filtering,omitempty"`
}

// ErrorResponse is the failure body. Details never include internals.
type ErrorResponse struct {
	Error   string `json:"error"`
	Kind    string `json:"kind"`
	Success bool   `json:"success"`
}

// Run is the exported entry point for the orchestrator service. It loads
// configuration, wires all components, and blocks serving HTTP.
//
// Environment variables used:
//   - PORT: HTTP server port (default: 8081)
//   - GEMINI_API_KEY: Gemini API key (required for live search and agents)
//   - GOOGLE_CSE_KEY / GOOGLE_CSE_ENGINE_ID: Custom Search (optional)
//   - SERPAPI_KEY / SERPAPI_ENGINE: SerpAPI (optional)
//   - REDIS_URL: shared rate-limit window (optional)
//   - DATABASE_URL: audit log sink (optional)
//   - BEDROCK_REGION / BEDROCK_MODEL: reasoning-model backend (optional)
func Run() {
	log.Println("Starting ResearchFlow Orchestrator...")

	ctx := context.Background()
	cfg, err := LoadConfig(ctx)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	initializeComponents(ctx, cfg)
	defer auditLogger.Shutdown()
	defer func() {
		_ = rateLimiter.Close()
	}()

	r := mux.NewRouter()

	c := cors.New(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	})

	// Health check
	r.HandleFunc("/health", healthHandler).Methods("GET")

	// Metrics endpoints
	r.HandleFunc("/metrics", metricsHandler).Methods("GET")       // JSON metrics
	r.Handle("/prometheus", promhttp.Handler()).Methods("GET")    // Prometheus native format

	// Research endpoint
	r.HandleFunc("/api/v1/research", researchHandler).Methods("POST")

	// Provider status
	r.HandleFunc("/api/v1/providers/status", providerStatusHandler).Methods("GET")

	port := cfg.Port
	handler := c.Handler(r)
	log.Printf("ResearchFlow Orchestrator listening on port %s", port)
	log.Fatal(http.ListenAndServe(":"+port, handler))
}

func initializeComponents(ctx context.Context, cfg *Config) {
	serviceConfig = cfg
	serviceLogger = logger.New("Orchestrator")

	var err error
	rateLimiter, err = search.NewRateLimiter(cfg.RedisURL, cfg.RateLimitRPM, cfg.RateLimitBurst)
	if err != nil {
		log.Printf("Warning: Redis rate limiter unavailable, using in-memory budget: %v", err)
		rateLimiter, _ = search.NewRateLimiter("", cfg.RateLimitRPM, cfg.RateLimitBurst)
	}

	httpClient := search.NewHTTPClient(0, search.RetryConfig{}, rateLimiter)

	searchRegistry = search.NewRegistry(search.RegistryConfig{
		Gemini:    search.GeminiConfig{APIKey: cfg.GeminiAPIKey, Model: cfg.GeminiModel},
		GoogleCSE: search.GoogleCSEConfig{APIKey: cfg.GoogleCSEKey, EngineID: cfg.GoogleCSEEngineID},
		SerpAPI:   search.SerpAPIConfig{APIKey: cfg.SerpAPIKey, Engine: cfg.SerpAPIEngine},
	}, httpClient, rateLimiter)
	log.Println("Search provider registry initialized")

	geminiClient := NewGeminiLLMClient(GeminiLLMConfig{
		APIKey:       cfg.GeminiAPIKey,
		DefaultModel: cfg.GeminiModel,
	})

	var bedrockClient LLMClient
	if cfg.BedrockRegion != "" {
		client, err := NewBedrockLLMClient(ctx, cfg.BedrockRegion, cfg.BedrockModel)
		if err != nil {
			log.Printf("Warning: Bedrock backend unavailable: %v", err)
		} else {
			bedrockClient = client
			log.Printf("Bedrock reasoning backend initialized (region: %s)", cfg.BedrockRegion)
		}
	}

	qualityValidator = NewQualityValidator()
	log.Println("Quality Validator initialized")

	researchEngine = NewResearchEngine(
		searchRegistry,
		&LLMQueryGenerator{Client: geminiClient},
		&LLMReflector{Client: geminiClient},
		&LLMFinalizer{Client: geminiClient, Bedrock: bedrockClient},
		qualityValidator,
		EngineConfig{
			Workers:  cfg.Workers,
			Strategy: search.Strategy(cfg.SearchStrategy),
		},
	)
	log.Println("Research Engine initialized")

	auditLogger = NewAuditLogger(cfg.DatabaseURL)
	log.Println("Audit Logger initialized")

	metricsCollector = NewMetricsCollector()
	searchRegistry.SetOutcomeHook(metricsCollector.RecordProviderCall)
	log.Println("Metrics Collector initialized")
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	health := map[string]interface{}{
		"status":    "healthy",
		"service":   "researchflow-orchestrator",
		"version":   "1.0.0",
		"timestamp": time.Now().UTC(),
		"components": map[string]bool{
			"search_registry": searchRegistry != nil,
			"research_engine": researchEngine != nil,
			"audit_logger":    auditLogger.IsHealthy(),
		},
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(health); err != nil {
		log.Printf("Error encoding response: %v", err)
	}
}

func researchHandler(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()
	requestID := fmt.Sprintf("req_%s", uuid.NewString())

	var apiReq ResearchAPIRequest
	if err := json.NewDecoder(r.Body).Decode(&apiReq); err != nil {
		sendErrorResponse(w, "Invalid request body", "validation", http.StatusBadRequest)
		return
	}

	if apiReq.Question == "" {
		sendErrorResponse(w, "Field 'question' is required and must be non-empty", "validation", http.StatusBadRequest)
		return
	}
	if apiReq.InitialSearchQueryCount != nil && *apiReq.InitialSearchQueryCount < 1 {
		sendErrorResponse(w, "Field 'initial_search_query_count' must be >= 1", "validation", http.StatusBadRequest)
		return
	}
	if apiReq.MaxResearchLoops != nil && *apiReq.MaxResearchLoops < 0 {
		sendErrorResponse(w, "Field 'max_research_loops' must be >= 0", "validation", http.StatusBadRequest)
		return
	}

	req := ResearchRequest{
		Messages:          []Message{{Role: "user", Content: apiReq.Question}},
		InitialQueryCount: DefaultInitialQueryCount,
		MaxResearchLoops:  DefaultMaxResearchLoops,
		ReasoningModel:    apiReq.ReasoningModel,
		Strategy:          search.Strategy(apiReq.SearchStrategy),
		QualityThreshold:  apiReq.QualityThreshold,
		Profile:           apiReq.IncludePerformanceProfile,
	}
	if apiReq.InitialSearchQueryCount != nil {
		req.InitialQueryCount = *apiReq.InitialSearchQueryCount
	}
	if apiReq.MaxResearchLoops != nil {
		req.MaxResearchLoops = *apiReq.MaxResearchLoops
	}
	strategy := string(req.Strategy)
	if strategy == "" {
		strategy = serviceConfig.SearchStrategy
	}

	ctx, cancel := context.WithTimeout(r.Context(), DefaultRequestTimeout)
	defer cancel()

	serviceLogger.Info(requestID, "Research request received", map[string]interface{}{
		"initial_query_count": req.InitialQueryCount,
		"max_research_loops":  req.MaxResearchLoops,
		"strategy":            strategy,
	})

	result, err := researchEngine.Research(ctx, req)
	elapsed := time.Since(startTime)

	if err != nil {
		// Client disconnect: no response body.
		if errors.Is(err, context.Canceled) && r.Context().Err() != nil {
			serviceLogger.Info(requestID, "Research request cancelled by client", nil)
			return
		}

		auditLogger.LogFailedResearch(requestID, apiReq.Question, strategy, err, elapsed)
		metricsCollector.RecordResearchError()
		promResearchTotal.WithLabelValues("error").Inc()

		serviceLogger.ErrorWithCode(requestID, "Research request failed", http.StatusInternalServerError, err, nil)
		if errors.Is(err, context.DeadlineExceeded) {
			sendErrorResponse(w, "Research request timed out", "timeout", http.StatusGatewayTimeout)
			return
		}
		sendErrorResponse(w, "Research failed", "internal", http.StatusInternalServerError)
		return
	}

	report := qualityValidator.Evaluate(apiReq.Question, result, elapsed)

	auditLogger.LogCompletedResearch(requestID, apiReq.Question, strategy, result, report.Scores.Overall, elapsed)
	metricsCollector.RecordResearch(result.LoopsExecuted, result.TotalQueries, report.Scores.Overall, elapsed)

	promResearchTotal.WithLabelValues("success").Inc()
	promResearchDuration.Observe(float64(elapsed.Milliseconds()))
	promResearchLoops.Observe(float64(result.LoopsExecuted))
	promSearchQueries.Add(float64(result.TotalQueries))
	promQualityScore.Observe(report.Scores.Overall)

	apiResp := ResearchAPIResponse{
		FinalAnswer:           result.FinalAnswer,
		Sources:               result.Sources,
		ResearchLoopsExecuted: result.LoopsExecuted,
		TotalQueries:          result.TotalQueries,
	}
	if apiReq.IncludeQualitySummary || apiReq.QualityThreshold > 0 {
		apiResp.QualitySummary = &QualitySummary{
			Scores:          report.Scores,
			HasRealSearch:   report.HasRealSearch,
			HasFallback:     report.HasFallback,
			SourceFiltering: result.Quality,
		}
	}
	if apiReq.IncludePerformanceProfile {
		apiResp.PerformanceProfile = result.Profile
	}

	serviceLogger.InfoWithDuration(requestID, "Research request completed", float64(elapsed.Milliseconds()), map[string]interface{}{
		"loops":         result.LoopsExecuted,
		"total_queries": result.TotalQueries,
		"sources":       len(result.Sources),
		"quality_score": report.Scores.Overall,
	})

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(apiResp); err != nil {
		log.Printf("Error encoding response: %v", err)
	}
}

func providerStatusHandler(w http.ResponseWriter, r *http.Request) {
	status := searchRegistry.ProviderStatus()

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]interface{}{
		"providers": status,
	}); err != nil {
		log.Printf("Error encoding response: %v", err)
	}
}

func metricsHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(metricsCollector.GetMetrics()); err != nil {
		log.Printf("Error encoding response: %v", err)
	}
}

func sendErrorResponse(w http.ResponseWriter, message, kind string, statusCode int) {
	response := ErrorResponse{
		Error: message,
		Kind:  kind,
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(response); err != nil {
		log.Printf("Error encoding response: %v", err)
	}
}

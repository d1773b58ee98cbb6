// Copyright 2025 ResearchFlow
// SPDX-License-Identifier: BUSL-1.1

package orchestrator

import (
	"sort"
	"sync"
	"time"
)

// MetricsCollector aggregates in-process metrics for the research service.
// Prometheus counters cover the hot path; this collector backs the JSON
// /metrics endpoint with richer derived values.
type MetricsCollector struct {
	metrics *Metrics
	mu      sync.RWMutex
}

// Metrics is the full metric snapshot.
type Metrics struct {
	ResearchMetrics   *ResearchMetrics            `json:"research_metrics"`
	ProviderMetrics   map[string]*ProviderMetrics `json:"provider_metrics"`
	SystemMetrics     *SystemMetrics              `json:"system_metrics"`
	LastResetTime     time.Time                   `json:"last_reset_time"`
	CollectionStarted time.Time                   `json:"collection_started"`
}

// ResearchMetrics tracks completed research requests.
type ResearchMetrics struct {
	TotalRequests   int64         `json:"total_requests"`
	SuccessCount    int64         `json:"success_count"`
	ErrorCount      int64         `json:"error_count"`
	TotalLoops      int64         `json:"total_loops"`
	TotalQueries    int64         `json:"total_queries"`
	AvgQualityScore float64       `json:"avg_quality_score"`
	AvgResponseTime time.Duration `json:"avg_response_time_ms"`
	P95ResponseTime time.Duration `json:"p95_response_time_ms"`
	P99ResponseTime time.Duration `json:"p99_response_time_ms"`

	qualitySum    float64
	responseTimes []time.Duration
}

// ProviderMetrics tracks one search provider's calls.
type ProviderMetrics struct {
	RequestCount int64   `json:"request_count"`
	SuccessCount int64   `json:"success_count"`
	ErrorCount   int64   `json:"error_count"`
	ResultCount  int64   `json:"result_count"`
	Availability float64 `json:"availability_percentage"`
}

// SystemMetrics tracks service-level values.
type SystemMetrics struct {
	UptimeSeconds     int64     `json:"uptime_seconds"`
	TotalRequests     int64     `json:"total_requests"`
	LastHealthCheck   time.Time `json:"last_health_check"`
	HealthCheckPassed bool      `json:"health_check_passed"`
}

// NewMetricsCollector creates the collector and starts its background
// health ticker.
func NewMetricsCollector() *MetricsCollector {
	collector := &MetricsCollector{
		metrics: newMetrics(),
	}

	go collector.systemMetricsUpdater()

	return collector
}

func newMetrics() *Metrics {
	return &Metrics{
		ResearchMetrics: &ResearchMetrics{
			responseTimes: make([]time.Duration, 0, 1000),
		},
		ProviderMetrics:   make(map[string]*ProviderMetrics),
		SystemMetrics:     &SystemMetrics{HealthCheckPassed: true},
		CollectionStarted: time.Now(),
		LastResetTime:     time.Now(),
	}
}

// RecordResearch records one completed research request.
func (c *MetricsCollector) RecordResearch(loops, queries int, qualityScore float64, responseTime time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	rm := c.metrics.ResearchMetrics
	rm.TotalRequests++
	rm.SuccessCount++
	rm.TotalLoops += int64(loops)
	rm.TotalQueries += int64(queries)
	rm.qualitySum += qualityScore
	rm.responseTimes = append(rm.responseTimes, responseTime)

	// Keep only the last 1000 response times for percentile calculation.
	if len(rm.responseTimes) > 1000 {
		rm.responseTimes = rm.responseTimes[len(rm.responseTimes)-1000:]
	}

	c.metrics.SystemMetrics.TotalRequests++
}

// RecordResearchError records a failed research request.
func (c *MetricsCollector) RecordResearchError() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.metrics.ResearchMetrics.TotalRequests++
	c.metrics.ResearchMetrics.ErrorCount++
	c.metrics.SystemMetrics.TotalRequests++
}

// RecordProviderCall records one search provider call outcome.
func (c *MetricsCollector) RecordProviderCall(provider string, success bool, resultCount int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	pm, exists := c.metrics.ProviderMetrics[provider]
	if !exists {
		pm = &ProviderMetrics{}
		c.metrics.ProviderMetrics[provider] = pm
	}

	pm.RequestCount++
	if success {
		pm.SuccessCount++
		pm.ResultCount += int64(resultCount)
	} else {
		pm.ErrorCount++
	}
}

// GetMetrics returns a deep copy of the current metrics with derived
// values computed.
func (c *MetricsCollector) GetMetrics() *Metrics {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.calculateDerivedMetrics()

	rm := c.metrics.ResearchMetrics
	out := &Metrics{
		ResearchMetrics: &ResearchMetrics{
			TotalRequests:   rm.TotalRequests,
			SuccessCount:    rm.SuccessCount,
			ErrorCount:      rm.ErrorCount,
			TotalLoops:      rm.TotalLoops,
			TotalQueries:    rm.TotalQueries,
			AvgQualityScore: rm.AvgQualityScore,
			AvgResponseTime: rm.AvgResponseTime,
			P95ResponseTime: rm.P95ResponseTime,
			P99ResponseTime: rm.P99ResponseTime,
		},
		ProviderMetrics: make(map[string]*ProviderMetrics, len(c.metrics.ProviderMetrics)),
		SystemMetrics: &SystemMetrics{
			UptimeSeconds:     c.metrics.SystemMetrics.UptimeSeconds,
			TotalRequests:     c.metrics.SystemMetrics.TotalRequests,
			LastHealthCheck:   c.metrics.SystemMetrics.LastHealthCheck,
			HealthCheckPassed: c.metrics.SystemMetrics.HealthCheckPassed,
		},
		LastResetTime:     c.metrics.LastResetTime,
		CollectionStarted: c.metrics.CollectionStarted,
	}

	for k, v := range c.metrics.ProviderMetrics {
		out.ProviderMetrics[k] = &ProviderMetrics{
			RequestCount: v.RequestCount,
			SuccessCount: v.SuccessCount,
			ErrorCount:   v.ErrorCount,
			ResultCount:  v.ResultCount,
			Availability: v.Availability,
		}
	}

	return out
}

// ResetMetrics clears all counters but keeps the collection start time.
func (c *MetricsCollector) ResetMetrics() {
	c.mu.Lock()
	defer c.mu.Unlock()

	started := c.metrics.CollectionStarted
	c.metrics = newMetrics()
	c.metrics.CollectionStarted = started
}

func (c *MetricsCollector) calculateDerivedMetrics() {
	rm := c.metrics.ResearchMetrics
	if rm.SuccessCount > 0 {
		rm.AvgQualityScore = rm.qualitySum / float64(rm.SuccessCount)
	}
	if len(rm.responseTimes) > 0 {
		var total time.Duration
		for _, rt := range rm.responseTimes {
			total += rt
		}
		rm.AvgResponseTime = total / time.Duration(len(rm.responseTimes))
		rm.P95ResponseTime = percentile(rm.responseTimes, 95)
		rm.P99ResponseTime = percentile(rm.responseTimes, 99)
	}

	for _, pm := range c.metrics.ProviderMetrics {
		if pm.RequestCount > 0 {
			pm.Availability = float64(pm.SuccessCount) / float64(pm.RequestCount) * 100
		}
	}

	c.metrics.SystemMetrics.UptimeSeconds = int64(time.Since(c.metrics.CollectionStarted).Seconds())
}

func percentile(times []time.Duration, pct int) time.Duration {
	if len(times) == 0 {
		return 0
	}
	sorted := make([]time.Duration, len(times))
	copy(sorted, times)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	index := (len(sorted) * pct) / 100
	if index >= len(sorted) {
		index = len(sorted) - 1
	}
	return sorted[index]
}

func (c *MetricsCollector) systemMetricsUpdater() {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	for range ticker.C {
		c.mu.Lock()
		c.metrics.SystemMetrics.LastHealthCheck = time.Now()
		c.metrics.SystemMetrics.HealthCheckPassed = true
		c.mu.Unlock()
	}
}

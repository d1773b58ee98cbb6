// Copyright 2025 ResearchFlow
// SPDX-License-Identifier: BUSL-1.1

/*
Package orchestrator implements the ResearchFlow research service: an
iterative web-research engine that turns a natural-language question into
a cited answer.

# Overview

A research request moves through four phases:

 1. Query generation: an LLM agent expands the question into a set of
    targeted search queries (with a deterministic fallback when the agent
    is unavailable).
 2. Search: the queries run concurrently through a provider cascade
    (Gemini grounded search, Google Custom Search, SerpAPI, DuckDuckGo,
    and a built-in knowledge base that never fails).
 3. Reflection: an LLM agent reviews the gathered summaries, decides
    whether the evidence is sufficient, and proposes follow-up queries.
    The search/reflect loop repeats until the evidence is sufficient or
    the loop budget is exhausted.
 4. Finalization: an LLM agent composes the final answer from the
    summaries, preserving inline citation markers so every claim links
    back to a gathered source.

# Components

  - ResearchEngine (research_engine.go): drives the phase loop, fans out
    query batches over a bounded worker pool, and deduplicates sources
    across loops.
  - search.Registry / search.Cascade (search/): the provider cascade and
    its execution strategies (sequential, parallel_first_wins,
    best_effort), with retry, rate limiting, and a per-request disable
    list for providers that fail authentication.
  - citation (citation/): grounding-metadata parsing, source extraction,
    URL shortening, and inline citation-marker insertion.
  - QualityValidator (quality_validator.go): scores completed responses
    on six dimensions and applies graduated source filtering by
    provenance class.
  - AuditLogger (audit_logger.go): batched PostgreSQL audit trail of
    every request.
  - MetricsCollector (metrics_collector.go): in-process metrics backing
    the JSON /metrics endpoint; Prometheus counters cover the hot path.

# HTTP API

	POST /api/v1/research            Run a research request
	GET  /api/v1/providers/status    Provider availability
	GET  /health                     Health check
	GET  /metrics                    JSON metrics
	GET  /prometheus                 Prometheus metrics

# Configuration

Configuration layers, lowest to highest precedence: built-in defaults,
YAML config file (RESEARCHFLOW_CONFIG_FILE), environment variables, and
AWS Secrets Manager (RESEARCHFLOW_SECRETS_ARN). Search providers without
credentials are skipped at startup; the knowledge-base fallback is always
available, so a request never fails for lack of providers.
*/
package orchestrator

// Copyright 2025 ResearchFlow
// SPDX-License-Identifier: BUSL-1.1

/*
Command orchestrator runs the ResearchFlow research service.

The service answers natural-language questions by generating search
queries, running them through a cascade of web search providers,
reflecting on the gathered evidence, and composing a final answer with
inline citations.

# Usage

	orchestrator

# Environment Variables

Required for live research:
  - GEMINI_API_KEY: Gemini API key (grounded search and research agents)

Optional:
  - PORT: HTTP server port (default: 8081)
  - GOOGLE_CSE_KEY / GOOGLE_CSE_ENGINE_ID: Google Custom Search provider
  - SERPAPI_KEY / SERPAPI_ENGINE: SerpAPI provider
  - BEDROCK_REGION / BEDROCK_MODEL: AWS Bedrock reasoning-model backend
  - REDIS_URL: shared rate-limit window across instances
  - DATABASE_URL: PostgreSQL audit log sink
  - SEARCH_STRATEGY: sequential | parallel_first_wins | best_effort
  - RESEARCHFLOW_CONFIG_FILE: YAML config file path
  - RESEARCHFLOW_SECRETS_ARN: AWS Secrets Manager secret with API keys

Without any provider keys the service still answers from its built-in
knowledge base, so local development needs no credentials:

	export GEMINI_API_KEY="..."
	./orchestrator

# Example

	curl -X POST localhost:8081/api/v1/research \
	  -d '{"question": "What is the current state of quantum computing?"}'
*/
package main

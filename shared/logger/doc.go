// Copyright 2025 ResearchFlow
// SPDX-License-Identifier: BUSL-1.1

/*
Package logger provides structured JSON logging for ResearchFlow components.

# Overview

The logger package provides structured logging that outputs JSON to stdout,
making logs easily consumable by CloudWatch, ELK stack, or other log
aggregation systems.

Each log entry includes:
  - Timestamp (RFC3339Nano format)
  - Log level (DEBUG, INFO, WARN, ERROR)
  - Component name (orchestrator, search, etc.)
  - Instance ID and container name (for distributed tracing)
  - Request ID (for request correlation)
  - Custom fields

# Usage

Create a logger for your component:

	log := logger.New("orchestrator")

Log messages with request context:

	log.Info("req-456", "Processing research request", map[string]interface{}{
	    "method": "POST",
	    "path":   "/api/v1/research",
	})

Log errors with status codes:

	log.ErrorWithCode("req-456", "Request failed", 500, err, map[string]interface{}{
	    "endpoint": "/api/v1/research",
	})

Log with duration tracking:

	start := time.Now()
	// ... do work ...
	log.InfoWithDuration("req-456", "Request completed",
	    float64(time.Since(start).Milliseconds()), nil)

# Output Format

Log entries are output as single-line JSON:

	{"timestamp":"2025-01-15T10:30:00.123456789Z","level":"INFO",
	 "component":"orchestrator","instance_id":"i-abc123","container":"orch-xyz",
	 "request_id":"req-456","message":"Processing research request",
	 "fields":{"method":"POST"}}

# Environment Variables

The logger reads these environment variables:

  - INSTANCE_ID: Deployment instance identifier
  - HOSTNAME: Container hostname (auto-detected)

# Thread Safety

Logger instances are safe for concurrent use from multiple goroutines.
*/
package logger

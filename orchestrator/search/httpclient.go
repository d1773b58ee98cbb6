// Copyright 2025 ResearchFlow
// SPDX-License-Identifier: BUSL-1.1

package search

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"net"
	"net/http"
	"time"
)

const (
	// DefaultMaxAttempts bounds retries inside the HTTP client.
	DefaultMaxAttempts = 3

	// DefaultBaseBackoff is the first retry delay; subsequent delays
	// double (base * 2^n) up to DefaultMaxBackoff.
	DefaultBaseBackoff = 500 * time.Millisecond
	DefaultMaxBackoff  = 8 * time.Second

	// DefaultRequestTimeout is the per-provider-call timeout.
	DefaultRequestTimeout = 30 * time.Second
)

// HTTPDoer is the minimal HTTP client interface (enables testing).
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// RetryConfig configures the bounded retry policy.
type RetryConfig struct {
	MaxAttempts int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
}

// HTTPClient wraps one process-wide connection pool with a bounded
// exponential-backoff retry policy and a per-provider rate-limit budget.
// All providers share a single instance; it is constructed once at startup
// and threaded through provider constructors.
type HTTPClient struct {
	client  HTTPDoer
	retry   RetryConfig
	limiter *RateLimiter
}

// NewHTTPClient builds the shared client. A nil limiter disables the
// rate-limit budget.
func NewHTTPClient(timeout time.Duration, retry RetryConfig, limiter *RateLimiter) *HTTPClient {
	if timeout == 0 {
		timeout = DefaultRequestTimeout
	}
	if retry.MaxAttempts <= 0 {
		retry.MaxAttempts = DefaultMaxAttempts
	}
	if retry.BaseBackoff <= 0 {
		retry.BaseBackoff = DefaultBaseBackoff
	}
	if retry.MaxBackoff <= 0 {
		retry.MaxBackoff = DefaultMaxBackoff
	}

	transport := &http.Transport{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
	}

	return &HTTPClient{
		client:  &http.Client{Timeout: timeout, Transport: transport},
		retry:   retry,
		limiter: limiter,
	}
}

// NewHTTPClientWithDoer builds a client around a custom doer (tests).
func NewHTTPClientWithDoer(doer HTTPDoer, retry RetryConfig, limiter *RateLimiter) *HTTPClient {
	c := NewHTTPClient(0, retry, limiter)
	c.client = doer
	return c
}

// Do executes the request, retrying network, timeout, rate-limit, and
// upstream-5xx failures with exponential backoff. Requests with a body must
// carry GetBody so retries can replay it (http.NewRequestWithContext sets
// it for byte readers). All other error classes return immediately. The
// provider name keys the rate-limit budget.
func (c *HTTPClient) Do(provider string, req *http.Request) (*http.Response, error) {
	ctx := req.Context()

	var lastErr error
	for attempt := 0; attempt < c.retry.MaxAttempts; attempt++ {
		if attempt > 0 {
			if err := c.sleepBackoff(ctx, attempt); err != nil {
				return nil, err
			}
			clone, err := cloneRequest(req)
			if err != nil {
				return nil, err
			}
			req = clone
		}

		if c.limiter != nil {
			if err := c.limiter.Allow(ctx, provider); err != nil {
				lastErr = err
				log.Printf("[HTTPClient] %s: rate limit budget exhausted (attempt %d/%d)",
					provider, attempt+1, c.retry.MaxAttempts)
				continue
			}
		}

		resp, err := c.client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			class := ClassifyError(err)
			if class != ErrClassNetwork && class != ErrClassTimeout {
				return nil, err
			}
			lastErr = err
			log.Printf("[HTTPClient] %s: %s error, retrying (attempt %d/%d): %v",
				provider, class, attempt+1, c.retry.MaxAttempts, err)
			continue
		}

		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			lastErr = fmt.Errorf("upstream status %d", resp.StatusCode)
			_ = resp.Body.Close()
			log.Printf("[HTTPClient] %s: status %d, retrying (attempt %d/%d)",
				provider, resp.StatusCode, attempt+1, c.retry.MaxAttempts)
			continue
		}

		return resp, nil
	}

	if lastErr == nil {
		lastErr = errors.New("all attempts failed")
	}
	return nil, fmt.Errorf("request failed after %d attempts: %w", c.retry.MaxAttempts, lastErr)
}

// sleepBackoff waits base*2^(attempt-1) capped at MaxBackoff, or returns
// early on cancellation.
func (c *HTTPClient) sleepBackoff(ctx context.Context, attempt int) error {
	backoff := time.Duration(float64(c.retry.BaseBackoff) * math.Pow(2, float64(attempt-1)))
	if backoff > c.retry.MaxBackoff {
		backoff = c.retry.MaxBackoff
	}

	timer := time.NewTimer(backoff)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// cloneRequest duplicates a request for a retry attempt, replaying the
// body via GetBody when present.
func cloneRequest(req *http.Request) (*http.Request, error) {
	clone := req.Clone(req.Context())
	if req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			return nil, fmt.Errorf("failed to replay request body: %w", err)
		}
		clone.Body = body
	}
	return clone, nil
}

// ClassifyError maps a transport-level error to an error class.
func ClassifyError(err error) ErrorClass {
	if err == nil {
		return ""
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrClassTimeout
	}
	if errors.Is(err, context.Canceled) {
		return ErrClassTimeout
	}
	if errors.Is(err, ErrRateLimited) {
		return ErrClassRateLimit
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return ErrClassTimeout
		}
		return ErrClassNetwork
	}
	return ErrClassNetwork
}

// ClassifyStatus maps an HTTP status code to an error class. 2xx codes map
// to the empty class.
func ClassifyStatus(code int) ErrorClass {
	switch {
	case code < 400:
		return ""
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return ErrClassAuth
	case code == http.StatusTooManyRequests:
		return ErrClassRateLimit
	case code >= 500:
		return ErrClassUpstream
	default:
		return ErrClassMalformed
	}
}

// Copyright 2025 ResearchFlow
// SPDX-License-Identifier: BUSL-1.1

package search

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedDoer returns canned outcomes in sequence.
type scriptedDoer struct {
	outcomes []func() (*http.Response, error)
	calls    int
	bodies   []string
}

func (d *scriptedDoer) Do(req *http.Request) (*http.Response, error) {
	if req.Body != nil {
		b, _ := io.ReadAll(req.Body)
		d.bodies = append(d.bodies, string(b))
	}
	i := d.calls
	d.calls++
	if i >= len(d.outcomes) {
		i = len(d.outcomes) - 1
	}
	return d.outcomes[i]()
}

func okResponse() (*http.Response, error) {
	return &http.Response{
		StatusCode: http.StatusOK,
		Body:       io.NopCloser(bytes.NewReader([]byte("ok"))),
	}, nil
}

func statusResponse(code int) func() (*http.Response, error) {
	return func() (*http.Response, error) {
		return &http.Response{
			StatusCode: code,
			Body:       io.NopCloser(bytes.NewReader(nil)),
		}, nil
	}
}

func fastRetry(attempts int) RetryConfig {
	return RetryConfig{
		MaxAttempts: attempts,
		BaseBackoff: time.Millisecond,
		MaxBackoff:  5 * time.Millisecond,
	}
}

func TestDoRetriesNetworkErrors(t *testing.T) {
	doer := &scriptedDoer{outcomes: []func() (*http.Response, error){
		func() (*http.Response, error) { return nil, &net.OpError{Op: "dial", Err: errors.New("refused")} },
		okResponse,
	}}
	c := NewHTTPClientWithDoer(doer, fastRetry(3), nil)

	req, err := http.NewRequest("GET", "http://example.com", nil)
	require.NoError(t, err)

	resp, err := c.Do("test", req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 2, doer.calls)
}

func TestDoRetriesServerErrors(t *testing.T) {
	doer := &scriptedDoer{outcomes: []func() (*http.Response, error){
		statusResponse(http.StatusBadGateway),
		statusResponse(http.StatusTooManyRequests),
		okResponse,
	}}
	c := NewHTTPClientWithDoer(doer, fastRetry(3), nil)

	req, err := http.NewRequest("GET", "http://example.com", nil)
	require.NoError(t, err)

	resp, err := c.Do("test", req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 3, doer.calls)
}

func TestDoDoesNotRetryClientErrors(t *testing.T) {
	doer := &scriptedDoer{outcomes: []func() (*http.Response, error){
		statusResponse(http.StatusBadRequest),
	}}
	c := NewHTTPClientWithDoer(doer, fastRetry(3), nil)

	req, err := http.NewRequest("GET", "http://example.com", nil)
	require.NoError(t, err)

	resp, err := c.Do("test", req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, 1, doer.calls)
}

func TestDoExhaustsAttempts(t *testing.T) {
	doer := &scriptedDoer{outcomes: []func() (*http.Response, error){
		statusResponse(http.StatusInternalServerError),
	}}
	c := NewHTTPClientWithDoer(doer, fastRetry(3), nil)

	req, err := http.NewRequest("GET", "http://example.com", nil)
	require.NoError(t, err)

	_, err = c.Do("test", req)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "after 3 attempts")
	assert.Equal(t, 3, doer.calls)
}

func TestDoReplaysBodyOnRetry(t *testing.T) {
	doer := &scriptedDoer{outcomes: []func() (*http.Response, error){
		statusResponse(http.StatusServiceUnavailable),
		okResponse,
	}}
	c := NewHTTPClientWithDoer(doer, fastRetry(3), nil)

	payload := `{"q": "test"}`
	req, err := http.NewRequestWithContext(context.Background(), "POST", "http://example.com", bytes.NewReader([]byte(payload)))
	require.NoError(t, err)

	resp, err := c.Do("test", req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	require.Len(t, doer.bodies, 2)
	assert.Equal(t, payload, doer.bodies[0])
	assert.Equal(t, payload, doer.bodies[1], "retried request must carry the same body")
}

func TestDoHonorsCancellation(t *testing.T) {
	doer := &scriptedDoer{outcomes: []func() (*http.Response, error){
		statusResponse(http.StatusInternalServerError),
	}}
	c := NewHTTPClientWithDoer(doer, RetryConfig{MaxAttempts: 5, BaseBackoff: time.Second, MaxBackoff: time.Second}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	req, err := http.NewRequestWithContext(ctx, "GET", "http://example.com", nil)
	require.NoError(t, err)

	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	_, err = c.Do("test", req)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), 500*time.Millisecond, "cancellation should interrupt backoff")
}

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorClass
	}{
		{"deadline", context.DeadlineExceeded, ErrClassTimeout},
		{"canceled", context.Canceled, ErrClassTimeout},
		{"net op", &net.OpError{Op: "dial", Err: errors.New("refused")}, ErrClassNetwork},
		{"rate limited", fmt.Errorf("request failed after 3 attempts: %w", ErrRateLimited), ErrClassRateLimit},
		{"generic", errors.New("boom"), ErrClassNetwork},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ClassifyError(tt.err))
		})
	}
}

func TestClassifyStatus(t *testing.T) {
	tests := []struct {
		code int
		want ErrorClass
	}{
		{http.StatusOK, ""},
		{http.StatusUnauthorized, ErrClassAuth},
		{http.StatusForbidden, ErrClassAuth},
		{http.StatusTooManyRequests, ErrClassRateLimit},
		{http.StatusInternalServerError, ErrClassUpstream},
		{http.StatusBadGateway, ErrClassUpstream},
		{http.StatusBadRequest, ErrClassMalformed},
		{http.StatusNotFound, ErrClassMalformed},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ClassifyStatus(tt.code), "status %d", tt.code)
	}
}

func TestRateLimiterLocalBudget(t *testing.T) {
	l := NewRateLimiterWithClient(nil, 60, 3)

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		require.NoError(t, l.Allow(ctx, "test"), "burst request %d should pass", i)
	}
	// Burst spent; the steady rate of 1/s cannot refill instantly.
	err := l.Allow(ctx, "test")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRateLimited)
}

func TestDoExhaustedBudgetClassifiesAsRateLimit(t *testing.T) {
	doer := &scriptedDoer{outcomes: []func() (*http.Response, error){okResponse}}
	limiter := NewRateLimiterWithClient(nil, 60, 1)
	c := NewHTTPClientWithDoer(doer, fastRetry(2), limiter)

	ctx := context.Background()
	require.NoError(t, limiter.Allow(ctx, "test"), "spend the burst")

	req, err := http.NewRequest("GET", "http://example.com", nil)
	require.NoError(t, err)

	_, err = c.Do("test", req)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRateLimited)
	assert.Equal(t, ErrClassRateLimit, ClassifyError(err))
	assert.Equal(t, 0, doer.calls, "rejected budget must not reach the network")
}

func TestRateLimiterPerProviderIsolation(t *testing.T) {
	l := NewRateLimiterWithClient(nil, 60, 1)

	ctx := context.Background()
	require.NoError(t, l.Allow(ctx, "a"))
	require.Error(t, l.Allow(ctx, "a"))
	require.NoError(t, l.Allow(ctx, "b"), "providers must not share a bucket")
}

func TestRateLimiterRedisSlidingWindow(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer func() { _ = client.Close() }()

	l := NewRateLimiterWithClient(client, 2, 1)

	ctx := context.Background()
	// Budget is rpm+burst = 3 concurrent entries in the window.
	require.NoError(t, l.Allow(ctx, "test"))
	require.NoError(t, l.Allow(ctx, "test"))
	require.NoError(t, l.Allow(ctx, "test"))

	err := l.Allow(ctx, "test")
	require.Error(t, err)

	// Advancing past the window frees the budget.
	mr.FastForward(2 * time.Minute)
	assert.NoError(t, l.Allow(ctx, "test"))
}

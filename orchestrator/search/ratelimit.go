// Copyright 2025 ResearchFlow
// SPDX-License-Identifier: BUSL-1.1

package search

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"golang.org/x/time/rate"
)

// ErrRateLimited is returned by Allow when the provider's budget is
// exhausted. Callers classify it with errors.Is.
var ErrRateLimited = errors.New("rate limit exceeded")

const (
	// DefaultRequestsPerMinute is the per-provider budget.
	DefaultRequestsPerMinute = 60

	// DefaultBurst allows short spikes above the steady rate.
	DefaultBurst = 10
)

// RateLimiter enforces a process-wide requests-per-minute budget per
// provider name. When a Redis client is configured the budget is shared
// across replicas via a sliding window; otherwise an in-memory token
// bucket is used.
type RateLimiter struct {
	redisClient *redis.Client
	rpm         int
	burst       int

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewRateLimiter creates a limiter. redisURL may be empty, which selects
// the in-memory fallback.
func NewRateLimiter(redisURL string, rpm, burst int) (*RateLimiter, error) {
	if rpm <= 0 {
		rpm = DefaultRequestsPerMinute
	}
	if burst <= 0 {
		burst = DefaultBurst
	}

	l := &RateLimiter{
		rpm:      rpm,
		burst:    burst,
		limiters: make(map[string]*rate.Limiter),
	}

	if redisURL != "" {
		opts, err := redis.ParseURL(redisURL)
		if err != nil {
			return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
		}
		client := redis.NewClient(opts)

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := client.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("failed to connect to Redis: %w", err)
		}
		l.redisClient = client
	}

	return l, nil
}

// NewRateLimiterWithClient wires an existing Redis client (tests).
func NewRateLimiterWithClient(client *redis.Client, rpm, burst int) *RateLimiter {
	l := &RateLimiter{
		redisClient: client,
		rpm:         rpm,
		burst:       burst,
		limiters:    make(map[string]*rate.Limiter),
	}
	if l.rpm <= 0 {
		l.rpm = DefaultRequestsPerMinute
	}
	if l.burst <= 0 {
		l.burst = DefaultBurst
	}
	return l
}

// Allow consumes one unit of the provider's budget, returning an error
// when the budget is exhausted.
func (l *RateLimiter) Allow(ctx context.Context, provider string) error {
	if l == nil {
		return nil
	}
	if l.redisClient != nil {
		return l.allowRedis(ctx, provider)
	}
	return l.allowLocal(provider)
}

// allowRedis implements a sliding-window counter in Redis using an atomic
// pipeline: trim the window, count, add, refresh expiry.
func (l *RateLimiter) allowRedis(ctx context.Context, provider string) error {
	now := time.Now()
	key := fmt.Sprintf("ratelimit:search:%s", provider)

	pipe := l.redisClient.Pipeline()

	// Remove timestamps older than one minute (sliding window).
	minScore := now.Add(-time.Minute).UnixNano()
	pipe.ZRemRangeByScore(ctx, key, "0", fmt.Sprintf("%d", minScore))

	countCmd := pipe.ZCard(ctx, key)

	pipe.ZAdd(ctx, key, &redis.Z{
		Score:  float64(now.UnixNano()),
		Member: fmt.Sprintf("%d", now.UnixNano()),
	})

	pipe.Expire(ctx, key, 2*time.Minute)

	if _, err := pipe.Exec(ctx); err != nil {
		// Redis unavailable: degrade to the in-memory budget rather than
		// failing the search.
		return l.allowLocal(provider)
	}

	if countCmd.Val() >= int64(l.rpm+l.burst) {
		return fmt.Errorf("%w for provider %s (%d requests/minute)", ErrRateLimited, provider, l.rpm)
	}
	return nil
}

// allowLocal uses a per-provider token bucket at rpm/minute with burst.
func (l *RateLimiter) allowLocal(provider string) error {
	l.mu.Lock()
	limiter, exists := l.limiters[provider]
	if !exists {
		limiter = rate.NewLimiter(rate.Limit(float64(l.rpm)/60.0), l.burst)
		l.limiters[provider] = limiter
	}
	l.mu.Unlock()

	if !limiter.Allow() {
		return fmt.Errorf("%w for provider %s (%d requests/minute)", ErrRateLimited, provider, l.rpm)
	}
	return nil
}

// Close releases the Redis connection if one was opened.
func (l *RateLimiter) Close() error {
	if l != nil && l.redisClient != nil {
		return l.redisClient.Close()
	}
	return nil
}

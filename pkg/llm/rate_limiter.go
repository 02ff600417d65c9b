// Copyright 2026 Teradata
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package llm

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// RateLimiterConfig configures provider-call pacing.
type RateLimiterConfig struct {
	// Enabled turns pacing on. Disabled limiters pass calls through.
	Enabled bool

	// RequestsPerSecond is the sustained request rate (default 2).
	RequestsPerSecond float64

	// BurstCapacity is the bucket size for short bursts (default 3).
	BurstCapacity int

	// MaxRetries bounds retries of throttled calls (default 5).
	MaxRetries int

	// RetryBackoff is the initial backoff, doubled per attempt and capped
	// at 30s (default 1s).
	RetryBackoff time.Duration

	Logger *zap.Logger
}

// DefaultRateLimiterConfig returns conservative defaults suitable for most
// provider tiers.
func DefaultRateLimiterConfig() RateLimiterConfig {
	return RateLimiterConfig{
		Enabled:           true,
		RequestsPerSecond: 2,
		BurstCapacity:     3,
		MaxRetries:        5,
		RetryBackoff:      time.Second,
	}
}

// RateLimiterMetrics exposes limiter activity counters.
type RateLimiterMetrics struct {
	Requests   int64
	Throttled  int64
	Retries    int64
	TotalDelay time.Duration
}

// RateLimiter paces provider calls with a token bucket and retries
// throttled calls with capped exponential backoff. One limiter is shared
// per provider family so concurrent runs coordinate.
type RateLimiter struct {
	mu         sync.Mutex
	config     RateLimiterConfig
	tokens     float64
	lastRefill time.Time
	metrics    RateLimiterMetrics
	logger     *zap.Logger
}

// NewRateLimiter creates a limiter from config, applying defaults to zero
// values.
func NewRateLimiter(config RateLimiterConfig) *RateLimiter {
	if config.RequestsPerSecond <= 0 {
		config.RequestsPerSecond = 2
	}
	if config.BurstCapacity <= 0 {
		config.BurstCapacity = 3
	}
	if config.MaxRetries <= 0 {
		config.MaxRetries = 5
	}
	if config.RetryBackoff <= 0 {
		config.RetryBackoff = time.Second
	}
	if config.Logger == nil {
		config.Logger = zap.NewNop()
	}
	return &RateLimiter{
		config:     config,
		tokens:     float64(config.BurstCapacity),
		lastRefill: time.Now(),
		logger:     config.Logger,
	}
}

// Do executes call under the rate limit, retrying throttling errors with
// exponential backoff. Disabled limiters invoke call directly.
func (rl *RateLimiter) Do(ctx context.Context, call func(context.Context) (interface{}, error)) (interface{}, error) {
	if rl == nil || !rl.config.Enabled {
		return call(ctx)
	}

	rl.mu.Lock()
	rl.metrics.Requests++
	rl.mu.Unlock()

	backoff := rl.config.RetryBackoff
	var lastErr error
	for attempt := 0; attempt <= rl.config.MaxRetries; attempt++ {
		if attempt > 0 {
			rl.mu.Lock()
			rl.metrics.Retries++
			rl.mu.Unlock()
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > 30*time.Second {
				backoff = 30 * time.Second
			}
		}

		if err := rl.wait(ctx); err != nil {
			return nil, err
		}

		result, err := call(ctx)
		if err == nil {
			return result, nil
		}
		lastErr = err
		if !IsThrottlingError(err) {
			return nil, err
		}
		rl.mu.Lock()
		rl.metrics.Throttled++
		rl.mu.Unlock()
		rl.logger.Warn("provider throttled, backing off",
			zap.Int("attempt", attempt+1),
			zap.Duration("backoff", backoff),
			zap.Error(err))
	}
	return nil, fmt.Errorf("rate limited after %d retries: %w", rl.config.MaxRetries, lastErr)
}

// wait blocks until a bucket token is available or ctx is done.
func (rl *RateLimiter) wait(ctx context.Context) error {
	for {
		rl.mu.Lock()
		now := time.Now()
		elapsed := now.Sub(rl.lastRefill).Seconds()
		rl.tokens += elapsed * rl.config.RequestsPerSecond
		if max := float64(rl.config.BurstCapacity); rl.tokens > max {
			rl.tokens = max
		}
		rl.lastRefill = now

		if rl.tokens >= 1 {
			rl.tokens--
			rl.mu.Unlock()
			return nil
		}
		deficit := 1 - rl.tokens
		rl.mu.Unlock()

		delay := time.Duration(deficit / rl.config.RequestsPerSecond * float64(time.Second))
		rl.mu.Lock()
		rl.metrics.TotalDelay += delay
		rl.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
}

// Metrics returns a snapshot of limiter activity.
func (rl *RateLimiter) Metrics() RateLimiterMetrics {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return rl.metrics
}

// IsThrottlingError reports whether err looks like a provider throttle
// (HTTP 429 or an explicit throttling message).
func IsThrottlingError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{
		"429",
		"throttl",
		"too many requests",
		"rate limit",
		"rate_limit",
	} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

package notifier

import (
	"context"
	"sync/atomic"

	"golang.org/x/time/rate"
)

// RateLimiter caps the global notification send rate with a token bucket.
type RateLimiter struct {
	limiter *rate.Limiter
	enabled bool
	allowed atomic.Int64
	dropped atomic.Int64
}

// RateLimitConfig holds rate limiter configuration.
type RateLimitConfig struct {
	MaxPerMinute int  // Maximum notifications per minute (default: 60)
	Burst        int  // Bucket size (default: MaxPerMinute/6, at least 1)
	Enabled      bool // Whether rate limiting is enabled (default: true)
}

// DefaultRateLimitConfig returns default rate limit settings.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		MaxPerMinute: 60,
		Enabled:      true,
	}
}

// NewRateLimiter creates a new rate limiter with the given configuration.
func NewRateLimiter(config RateLimitConfig) *RateLimiter {
	if config.MaxPerMinute <= 0 {
		config.MaxPerMinute = 60
	}
	if config.Burst <= 0 {
		config.Burst = max(config.MaxPerMinute/6, 1)
	}

	return &RateLimiter{
		limiter: rate.NewLimiter(rate.Limit(float64(config.MaxPerMinute)/60), config.Burst),
		enabled: config.Enabled,
	}
}

// Allow reports whether a notification may be sent now without waiting.
func (r *RateLimiter) Allow() bool {
	if !r.enabled {
		r.allowed.Add(1)
		return true
	}
	if !r.limiter.Allow() {
		r.dropped.Add(1)
		return false
	}
	r.allowed.Add(1)
	return true
}

// Wait blocks until a notification may be sent or ctx is done.
func (r *RateLimiter) Wait(ctx context.Context) error {
	if r.enabled {
		if err := r.limiter.Wait(ctx); err != nil {
			r.dropped.Add(1)
			return err
		}
	}
	r.allowed.Add(1)
	return nil
}

// Dropped returns the number of notifications refused by the limiter.
func (r *RateLimiter) Dropped() int64 {
	return r.dropped.Load()
}

// RateLimitStats holds rate limiter statistics.
type RateLimitStats struct {
	Allowed int64
	Dropped int64
	Enabled bool
}

// Stats returns current rate limiter statistics.
func (r *RateLimiter) Stats() RateLimitStats {
	return RateLimitStats{
		Allowed: r.allowed.Load(),
		Dropped: r.dropped.Load(),
		Enabled: r.enabled,
	}
}

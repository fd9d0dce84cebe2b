package biz

import (
	"context"
	"time"

	"github.com/go-kratos/kratos/v2/log"

	pkglog "github.com/dylanallan/genesiswebapp-sub003/pkg/log"
)

// RateLimitStore defines the interface for the per-source call-interval
// state. Following Kratos v2 DDD architecture the interface lives in
// the biz layer; memory and redis implementations live in data.
type RateLimitStore interface {
	// Reserve atomically claims a call slot for key. It reports whether
	// the slot was granted and, when denied, how long until the next
	// slot opens. The stored timestamp advances only on granted calls.
	Reserve(ctx context.Context, key string, minInterval time.Duration) (bool, time.Duration, error)
}

// RateLimiter enforces a minimum spacing between calls to the same
// source. The spacing is derived from the source's configured
// calls-per-second budget.
type RateLimiter struct {
	store  RateLimitStore
	logger *pkglog.LogHelper
}

// NewRateLimiter creates a new rate limiter over store.
func NewRateLimiter(store RateLimitStore, logger log.Logger) *RateLimiter {
	return &RateLimiter{
		store:  store,
		logger: pkglog.NewLogHelper(logger),
	}
}

// Reserve claims the next call slot for sourceID at ratePerSecond. A
// zero or negative rate means unlimited. When denied it returns the
// wait until the next slot opens.
// Store degradation: on store failure, logs warning and allows the call.
func (rl *RateLimiter) Reserve(ctx context.Context, sourceID string, ratePerSecond float64) (bool, time.Duration) {
	if ratePerSecond <= 0 {
		return true, 0
	}
	minInterval := time.Duration(float64(time.Second) / ratePerSecond)
	allowed, retryAfter, err := rl.store.Reserve(ctx, sourceID, minInterval)
	if err != nil {
		rl.logger.RateLimit("rate limit store unavailable, allowing call",
			"source_id", sourceID,
			"error", err.Error())
		return true, 0
	}
	if !allowed {
		rl.logger.RateLimit("rate limit exceeded",
			"source_id", sourceID,
			"min_interval_ms", minInterval.Milliseconds(),
			"retry_after_ms", retryAfter.Milliseconds())
	}
	return allowed, retryAfter
}

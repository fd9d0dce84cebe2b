package data

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/redis/go-redis/v9"
)

// rateLimitKeyPrefix namespaces rate limit timestamps in Redis.
const rateLimitKeyPrefix = "relay:rate:"

// reserveScript grants a call when at least the minimum interval has
// passed since the last granted call, and records the new timestamp.
// Denied calls leave the stored timestamp untouched. Times are in
// microseconds; the key expires shortly after the interval so idle
// sources do not accumulate state.
//
// KEYS[1] = rate limit key
// ARGV[1] = now (unix microseconds)
// ARGV[2] = minimum interval (microseconds)
// ARGV[3] = key TTL (milliseconds)
//
// Returns {granted 0|1, wait in microseconds}.
var reserveScript = redis.NewScript(`
local last = tonumber(redis.call('GET', KEYS[1]))
local now = tonumber(ARGV[1])
local interval = tonumber(ARGV[2])
if last and now - last < interval then
  return {0, interval - (now - last)}
end
redis.call('SET', KEYS[1], now, 'PX', ARGV[3])
return {1, 0}
`)

// RedisRateLimitStore implements biz.RateLimitStore on Redis so the
// minimum interval holds across relay instances.
type RedisRateLimitStore struct {
	rdb    *redis.Client
	logger *log.Helper
}

// NewRedisRateLimitStore creates a Redis backed rate limit store.
func NewRedisRateLimitStore(d *Data, logger log.Logger) *RedisRateLimitStore {
	return &RedisRateLimitStore{
		rdb:    d.GetRedisClient(),
		logger: log.NewHelper(logger),
	}
}

// Reserve atomically checks and advances the last-granted timestamp.
func (s *RedisRateLimitStore) Reserve(ctx context.Context, key string, minInterval time.Duration) (bool, time.Duration, error) {
	if s.rdb == nil {
		return false, 0, fmt.Errorf("redis client is nil")
	}
	if minInterval <= 0 {
		return true, 0, nil
	}

	nowUs := time.Now().UnixMicro()
	intervalUs := minInterval.Microseconds()
	ttlMs := intervalUs/1000 + 1

	vals, err := reserveScript.Run(ctx, s.rdb, []string{rateLimitKeyPrefix + key}, nowUs, intervalUs, ttlMs).Int64Slice()
	if err != nil {
		return false, 0, fmt.Errorf("failed to reserve rate limit slot: %w", err)
	}
	if len(vals) != 2 {
		return false, 0, fmt.Errorf("unexpected rate limit script reply: %v", vals)
	}

	if vals[0] == 1 {
		return true, 0, nil
	}
	return false, time.Duration(vals[1]) * time.Microsecond, nil
}

// MemoryRateLimitStore implements biz.RateLimitStore in process. It is
// the default backend for single instance deployments.
type MemoryRateLimitStore struct {
	mu     sync.Mutex
	last   map[string]time.Time
	logger *log.Helper

	// now is swappable for tests.
	now func() time.Time
}

// NewMemoryRateLimitStore creates an in-process rate limit store.
func NewMemoryRateLimitStore(logger log.Logger) *MemoryRateLimitStore {
	return &MemoryRateLimitStore{
		last:   make(map[string]time.Time),
		logger: log.NewHelper(logger),
		now:    time.Now,
	}
}

// Reserve grants a call when the minimum interval has passed since the
// last granted call for the key. The timestamp only advances on grants.
func (s *MemoryRateLimitStore) Reserve(_ context.Context, key string, minInterval time.Duration) (bool, time.Duration, error) {
	if minInterval <= 0 {
		return true, 0, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if last, ok := s.last[key]; ok {
		if elapsed := now.Sub(last); elapsed < minInterval {
			return false, minInterval - elapsed, nil
		}
	}
	s.last[key] = now
	return true, 0, nil
}

// Prune drops entries whose last granted call is older than olderThan,
// so idle sources do not accumulate state. The scheduled janitor calls
// this; the Redis store expires its keys itself.
func (s *MemoryRateLimitStore) Prune(olderThan time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.now().Add(-olderThan)
	removed := 0
	for key, last := range s.last {
		if last.Before(cutoff) {
			delete(s.last, key)
			removed++
		}
	}
	return removed
}

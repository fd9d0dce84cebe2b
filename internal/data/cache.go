// Package data provides data access layer implementations.
package data

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-kratos/kratos/v2/log"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/redis/go-redis/v9"

	pkglog "github.com/dylanallan/genesiswebapp-sub003/pkg/log"
)

const (
	// responseCacheKeyPrefix namespaces gateway responses in Redis.
	responseCacheKeyPrefix = "relay:gw:"

	// defaultCacheMaxEntries bounds the in-process cache when the
	// configuration does not.
	defaultCacheMaxEntries = 1024

	// janitorInterval is how often expired entries are swept.
	janitorInterval = time.Minute
)

// cachedResponse is one stored gateway response with its deadline.
type cachedResponse struct {
	payload   []byte
	expiresAt time.Time
}

// MemoryResponseCache implements biz.ResponseCache with a bounded LRU
// and per-entry TTLs. Expired entries are dropped on read and swept by
// a background janitor. Returned payloads are shared, callers must
// treat them as read only.
type MemoryResponseCache struct {
	store      *lru.Cache[string, cachedResponse]
	maxEntries int
	logger     *pkglog.LogHelper

	hits      int64
	misses    int64
	evictions int64

	stopCh   chan struct{}
	stopOnce sync.Once

	// now is swappable for tests.
	now func() time.Time
}

// NewMemoryResponseCache creates an in-process response cache holding
// at most maxEntries entries. A non-positive maxEntries falls back to
// the default bound.
func NewMemoryResponseCache(maxEntries int, logger log.Logger) (*MemoryResponseCache, error) {
	if maxEntries <= 0 {
		maxEntries = defaultCacheMaxEntries
	}

	c := &MemoryResponseCache{
		maxEntries: maxEntries,
		logger:     pkglog.NewLogHelper(logger),
		stopCh:     make(chan struct{}),
		now:        time.Now,
	}

	store, err := lru.NewWithEvict[string, cachedResponse](maxEntries, func(string, cachedResponse) {
		atomic.AddInt64(&c.evictions, 1)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create response cache: %w", err)
	}
	c.store = store

	go c.janitor()
	return c, nil
}

// Get returns the cached payload for key. Expired entries count as
// misses and are removed.
func (c *MemoryResponseCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	entry, ok := c.store.Get(key)
	if !ok {
		atomic.AddInt64(&c.misses, 1)
		return nil, false, nil
	}
	if c.now().After(entry.expiresAt) {
		c.store.Remove(key)
		atomic.AddInt64(&c.misses, 1)
		return nil, false, nil
	}
	atomic.AddInt64(&c.hits, 1)
	return entry.payload, true, nil
}

// Set stores payload under key for ttl. The oldest entry is evicted
// when the cache is full.
func (c *MemoryResponseCache) Set(_ context.Context, key string, payload []byte, ttl time.Duration) error {
	c.store.Add(key, cachedResponse{
		payload:   payload,
		expiresAt: c.now().Add(ttl),
	})
	return nil
}

// Stop shuts down the janitor. Safe to call more than once.
func (c *MemoryResponseCache) Stop() {
	c.stopOnce.Do(func() {
		close(c.stopCh)
	})
}

// janitor sweeps expired entries and reports cache statistics.
func (c *MemoryResponseCache) janitor() {
	ticker := time.NewTicker(janitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopCh:
			return
		case <-ticker.C:
			purged := c.purgeExpired()
			c.logger.CacheStats(context.Background(), "gateway-responses",
				int64(c.store.Len()), int64(c.maxEntries),
				atomic.LoadInt64(&c.hits), atomic.LoadInt64(&c.misses),
				atomic.LoadInt64(&c.evictions),
				"purged", purged)
		}
	}
}

// purgeExpired removes entries past their deadline without refreshing
// their recency.
func (c *MemoryResponseCache) purgeExpired() int {
	now := c.now()
	purged := 0
	for _, key := range c.store.Keys() {
		if entry, ok := c.store.Peek(key); ok && now.After(entry.expiresAt) {
			c.store.Remove(key)
			purged++
		}
	}
	return purged
}

// RedisResponseCache implements biz.ResponseCache on Redis so cached
// gateway responses are shared across relay instances.
type RedisResponseCache struct {
	rdb    *redis.Client
	logger *log.Helper
}

// NewRedisResponseCache creates a Redis backed response cache.
func NewRedisResponseCache(d *Data, logger log.Logger) *RedisResponseCache {
	return &RedisResponseCache{
		rdb:    d.GetRedisClient(),
		logger: log.NewHelper(logger),
	}
}

// Get returns the cached payload for key, a miss when the key does not
// exist.
func (c *RedisResponseCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if c.rdb == nil {
		return nil, false, fmt.Errorf("redis client is nil")
	}

	payload, err := c.rdb.Get(ctx, responseCacheKeyPrefix+key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("failed to get cached response %s: %w", key, err)
	}
	return payload, true, nil
}

// Set stores payload under key for ttl.
func (c *RedisResponseCache) Set(ctx context.Context, key string, payload []byte, ttl time.Duration) error {
	if c.rdb == nil {
		return fmt.Errorf("redis client is nil")
	}

	if err := c.rdb.Set(ctx, responseCacheKeyPrefix+key, payload, ttl).Err(); err != nil {
		return fmt.Errorf("failed to cache response %s: %w", key, err)
	}
	return nil
}

// Package biz contains business logic layer implementations.
// This layer holds the core business rules and domain models.
package biz

import (
	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/wire"

	"github.com/dylanallan/genesiswebapp-sub003/internal/conf"
	"github.com/dylanallan/genesiswebapp-sub003/internal/data"
)

// ProviderSet is biz providers.
var ProviderSet = wire.NewSet(
	NewBreakerManager,
	NewProviderRouter,
	NewRateLimiter,
	NewSourceRegistry,
	NewGateway,
	// Backend selection happens at startup from conf.
	NewRateLimitStore,
	NewResponseCache,
	NewNotifier,
	// Import data layer providers
	data.NewAuditTrail,
	data.NewProviderClient,
	data.NewSourceClient,
	// Bind data layer implementations to biz layer interfaces
	wire.Bind(new(AuditTrail), new(*data.AuditTrailImpl)),
	wire.Bind(new(ProviderInvoker), new(*data.ProviderClient)),
	wire.Bind(new(SourceFetcher), new(*data.SourceClient)),
)

// NewRateLimitStore picks the rate limit backend: redis when the
// deployment shares state across instances, in-process otherwise.
func NewRateLimitStore(c *conf.Data, d *data.Data, logger log.Logger) RateLimitStore {
	if c != nil && c.Store == "redis" {
		return data.NewRedisRateLimitStore(d, logger)
	}
	return data.NewMemoryRateLimitStore(logger)
}

// NewResponseCache picks the gateway cache backend the same way.
func NewResponseCache(c *conf.Data, g *conf.Gateway, d *data.Data, logger log.Logger) (ResponseCache, func(), error) {
	if c != nil && c.Store == "redis" {
		return data.NewRedisResponseCache(d, logger), func() {}, nil
	}
	maxEntries := 0
	if g != nil {
		maxEntries = g.CacheMaxEntries
	}
	cache, err := data.NewMemoryResponseCache(maxEntries, logger)
	if err != nil {
		return nil, nil, err
	}
	return cache, cache.Stop, nil
}

// NewNotifier returns the webhook notifier when notifications are
// enabled, otherwise the log-only fallback.
func NewNotifier(c *conf.Notify, logger log.Logger) Notifier {
	if c != nil && c.Enabled && c.WebhookURL != "" {
		return data.NewWebhookNotifier(c.WebhookURL, logger)
	}
	return data.NewLogNotifier(logger)
}

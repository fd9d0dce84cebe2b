// Package data provides data access layer implementations.
// It handles backend connections and outbound transport.
package data

import (
	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/wire"
	"github.com/redis/go-redis/v9"

	"github.com/dylanallan/genesiswebapp-sub003/internal/conf"
)

// ProviderSet is data providers.
var ProviderSet = wire.NewSet(
	NewData,
	NewRedisClient,
	NewMySQLClient,
	NewHTTPClientFactory,
)

// Data contains shared data layer dependencies.
type Data struct {
	// redisClient backs the distributed rate limit and cache stores.
	// Nil when Redis is not configured or unreachable.
	redisClient *redis.Client
	// Note: the audit DB is not stored here, it is injected directly
	// into the audit trail.
}

// NewData creates a new Data instance.
// Redis connection failure does not prevent application startup.
func NewData(_ *conf.Data, logger log.Logger, rdb *redis.Client) (*Data, func(), error) {
	helper := log.NewHelper(logger)

	if rdb == nil {
		helper.Warn("Redis client is nil, shared stores will be unavailable")
	}

	d := &Data{
		redisClient: rdb,
	}

	cleanup := func() {
		helper.Info("closing the data resources")
		// Redis cleanup is handled by NewRedisClient's cleanup function
		// which is called automatically by Wire.
	}

	return d, cleanup, nil
}

// GetRedisClient returns the Redis client for store implementations.
func (d *Data) GetRedisClient() *redis.Client {
	return d.redisClient
}

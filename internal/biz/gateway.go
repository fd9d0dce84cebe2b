package biz

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/go-kratos/kratos/v2/log"

	"github.com/dylanallan/genesiswebapp-sub003/internal/conf"
	"github.com/dylanallan/genesiswebapp-sub003/internal/model"
	pkgerrors "github.com/dylanallan/genesiswebapp-sub003/pkg/errors"
	pkglog "github.com/dylanallan/genesiswebapp-sub003/pkg/log"
)

// ResponseCache defines the interface for the gateway's response cache.
// Following Kratos v2 DDD architecture the interface lives in biz;
// memory and redis implementations live in data. A miss is (nil, false,
// nil); an error means the cache itself failed.
type ResponseCache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, payload []byte, ttl time.Duration) error
}

// SourceFetcher defines the interface for the actual HTTP exchange with
// a data source. The implementation in data owns transports and proxy
// dialing; the gateway owns everything up to the wire.
type SourceFetcher interface {
	Fetch(ctx context.Context, req *model.OutboundRequest) (*model.OutboundResponse, error)
}

// CallOptions carries the optional parts of a gateway call.
type CallOptions struct {
	// Method defaults to GET, or POST when a body is present.
	Method  string
	Headers map[string]string
	Body    []byte
}

// GatewayResult is the answer of one gateway call.
type GatewayResult struct {
	SourceID string          `json:"source_id"`
	Cached   bool            `json:"cached"`
	Status   int             `json:"status"`
	Payload  json.RawMessage `json:"payload"`
}

// Gateway wraps outbound data-source calls with per-source rate
// limiting and a TTL response cache. The rate check runs before the
// cache check, so a cache hit still consumes rate budget.
type Gateway struct {
	registry *SourceRegistry
	limiter  *RateLimiter
	cache    ResponseCache
	fetcher  SourceFetcher
	audit    AuditTrail
	logger   *pkglog.LogHelper

	callTimeout time.Duration
	cacheTTL    time.Duration
}

// NewGateway creates the gateway with timeouts and TTL from
// configuration.
func NewGateway(c *conf.Gateway, registry *SourceRegistry, limiter *RateLimiter, cache ResponseCache, fetcher SourceFetcher, audit AuditTrail, logger log.Logger) *Gateway {
	g := &Gateway{
		registry:    registry,
		limiter:     limiter,
		cache:       cache,
		fetcher:     fetcher,
		audit:       audit,
		logger:      pkglog.NewLogHelper(logger),
		callTimeout: 15 * time.Second,
		cacheTTL:    5 * time.Minute,
	}
	if c != nil {
		if d := c.CallTimeout.AsDuration(); d > 0 {
			g.callTimeout = d
		}
		if d := c.CacheTTL.AsDuration(); d > 0 {
			g.cacheTTL = d
		}
	}
	return g
}

// CacheKey derives the cache key for one logical request: SHA-256 over
// the source id, the endpoint, and the canonically ordered params.
func CacheKey(sourceID, endpoint string, params map[string]string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	b.WriteString(sourceID)
	b.WriteByte('\n')
	b.WriteString(endpoint)
	for _, k := range keys {
		b.WriteByte('\n')
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(params[k])
	}
	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

// Call performs one rate limited, cached call against a registered
// source. Order: registry lookup, credential check, rate check, cache
// check, fetch. A denied rate check never touches the network.
func (g *Gateway) Call(ctx context.Context, sourceID, endpoint string, params map[string]string, opts *CallOptions) (*GatewayResult, error) {
	start := time.Now()
	record := &model.GatewayCallRecord{
		RequestID: pkglog.GetRequestID(ctx),
		SourceID:  sourceID,
		Endpoint:  endpoint,
	}
	pkglog.SetSourceID(ctx, sourceID)

	src, ok := g.registry.GetSource(sourceID)
	if !ok {
		return nil, g.fail(ctx, record, start, newSourceNotConfiguredError(sourceID, "not registered"))
	}
	if !src.Enabled {
		return nil, g.fail(ctx, record, start, newSourceNotConfiguredError(sourceID, "disabled"))
	}
	if src.AuthType != "" && src.AuthType != AuthNone && src.APIKey == "" {
		return nil, g.fail(ctx, record, start,
			newConfigurationError("source "+sourceID+" has auth_type "+src.AuthType+" but no credential configured"))
	}

	if allowed, retryAfter := g.limiter.Reserve(ctx, sourceID, src.RateLimit); !allowed {
		record.RateLimited = true
		return nil, g.fail(ctx, record, start, newRateLimitError(sourceID, retryAfter))
	}

	key := CacheKey(sourceID, endpoint, params)
	if payload, hit := g.cacheGet(ctx, key); hit {
		record.CacheHit = true
		record.Status = 200
		record.Duration = time.Since(start)
		g.auditCall(ctx, record)
		g.logger.Cache("gateway cache hit",
			"source_id", sourceID,
			"endpoint", endpoint)
		return &GatewayResult{SourceID: sourceID, Cached: true, Status: 200, Payload: payload}, nil
	}

	result, err := g.fetch(ctx, src, endpoint, params, opts, record)
	if err != nil {
		return nil, g.fail(ctx, record, start, err)
	}
	if err := g.cache.Set(ctx, key, result.Payload, g.cacheTTL); err != nil {
		g.logger.Cache("gateway cache store failed",
			"source_id", sourceID,
			"error", err.Error())
	}
	record.Status = result.Status
	record.Duration = time.Since(start)
	g.auditCall(ctx, record)
	g.logger.GatewayWithContext(ctx, "gateway call served",
		"source_id", sourceID,
		"endpoint", endpoint,
		"status", result.Status,
		"duration_ms", record.Duration.Milliseconds())
	return result, nil
}

func (g *Gateway) fetch(ctx context.Context, src *DataSource, endpoint string, params map[string]string, opts *CallOptions, record *model.GatewayCallRecord) (*GatewayResult, error) {
	target, err := buildSourceURL(src.BaseURL, endpoint, params)
	if err != nil {
		return nil, newConfigurationError("source " + src.ID + ": " + err.Error())
	}

	req := &model.OutboundRequest{
		Method:  "GET",
		URL:     target,
		Headers: map[string]string{"Accept": "application/json"},
	}
	if opts != nil {
		if len(opts.Body) > 0 {
			req.Method = "POST"
			req.Body = opts.Body
			req.Headers["Content-Type"] = "application/json"
		}
		if opts.Method != "" {
			req.Method = strings.ToUpper(opts.Method)
		}
		for k, v := range opts.Headers {
			req.Headers[k] = v
		}
	}
	switch src.AuthType {
	case AuthAPIKey:
		req.Headers["X-API-Key"] = src.APIKey
	case AuthBearer, AuthOAuth:
		req.Headers["Authorization"] = "Bearer " + src.APIKey
	}
	if src.Metadata != nil && src.Metadata.ProxyEnabled {
		req.ProxyURL = src.Metadata.ProxyURL
	}

	callCtx, cancel := context.WithTimeout(ctx, g.callTimeout)
	defer cancel()
	resp, err := g.fetcher.Fetch(callCtx, req)
	if err != nil {
		return nil, newUpstreamError(src.ID, 0, pkgerrors.ClassifyUpstreamError(err))
	}
	record.Status = resp.Status
	if resp.Status < 200 || resp.Status > 299 {
		return nil, newUpstreamError(src.ID, resp.Status, pkgerrors.NewStatusError(resp.Status, string(resp.Body)))
	}
	if !json.Valid(resp.Body) {
		return nil, newUpstreamError(src.ID, resp.Status, pkgerrors.NewProtocolError(nil, "response is not valid JSON"))
	}
	return &GatewayResult{
		SourceID: src.ID,
		Status:   resp.Status,
		Payload:  json.RawMessage(resp.Body),
	}, nil
}

// cacheGet treats a cache failure as a miss so a broken cache never
// blocks a live call.
func (g *Gateway) cacheGet(ctx context.Context, key string) ([]byte, bool) {
	payload, ok, err := g.cache.Get(ctx, key)
	if err != nil {
		g.logger.Cache("gateway cache read failed, treating as miss",
			"error", err.Error())
		return nil, false
	}
	return payload, ok
}

func (g *Gateway) auditCall(ctx context.Context, record *model.GatewayCallRecord) {
	if g.audit != nil {
		g.audit.LogGatewayCall(ctx, record)
	}
}

func (g *Gateway) fail(ctx context.Context, record *model.GatewayCallRecord, start time.Time, err error) error {
	record.Duration = time.Since(start)
	record.Err = err.Error()
	g.auditCall(ctx, record)
	g.logger.Gateway("gateway call failed",
		"source_id", record.SourceID,
		"endpoint", record.Endpoint,
		"error", err.Error())
	return err
}

func buildSourceURL(base, endpoint string, params map[string]string) (string, error) {
	raw := strings.TrimRight(base, "/")
	if endpoint != "" {
		raw += "/" + strings.TrimLeft(endpoint, "/")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	if len(params) > 0 {
		q := u.Query()
		for k, v := range params {
			q.Set(k, v)
		}
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

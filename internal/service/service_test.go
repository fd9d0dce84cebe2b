package service

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	nethttp "net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/go-kratos/kratos/v2/middleware/recovery"
	"github.com/go-kratos/kratos/v2/transport/http"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/types/known/durationpb"

	"github.com/dylanallan/genesiswebapp-sub003/internal/biz"
	"github.com/dylanallan/genesiswebapp-sub003/internal/conf"
	"github.com/dylanallan/genesiswebapp-sub003/internal/model"
)

// stubStream replays canned chunks, then fails or ends cleanly.
type stubStream struct {
	chunks []model.StreamChunk
	err    error
	i      int
}

func (s *stubStream) Recv() (*model.StreamChunk, error) {
	if s.i < len(s.chunks) {
		c := s.chunks[s.i]
		s.i++
		return &c, nil
	}
	if s.err != nil {
		return nil, s.err
	}
	return nil, io.EOF
}

func (s *stubStream) Close() error { return nil }

// stubInvoker scripts completions per provider id.
type stubInvoker struct {
	mu      sync.Mutex
	scripts map[string]func() (model.ChunkStream, error)
}

func newStubInvoker() *stubInvoker {
	return &stubInvoker{scripts: make(map[string]func() (model.ChunkStream, error))}
}

func (f *stubInvoker) succeed(provider string, contents ...string) {
	chunks := make([]model.StreamChunk, len(contents))
	for i, c := range contents {
		chunks[i] = model.StreamChunk{Content: c}
	}
	f.mu.Lock()
	f.scripts[provider] = func() (model.ChunkStream, error) {
		return &stubStream{chunks: chunks}, nil
	}
	f.mu.Unlock()
}

func (f *stubInvoker) failConnect(provider string, err error) {
	f.mu.Lock()
	f.scripts[provider] = func() (model.ChunkStream, error) { return nil, err }
	f.mu.Unlock()
}

func (f *stubInvoker) failMidStream(provider string, err error, contents ...string) {
	chunks := make([]model.StreamChunk, len(contents))
	for i, c := range contents {
		chunks[i] = model.StreamChunk{Content: c}
	}
	f.mu.Lock()
	f.scripts[provider] = func() (model.ChunkStream, error) {
		return &stubStream{chunks: chunks, err: err}, nil
	}
	f.mu.Unlock()
}

func (f *stubInvoker) Stream(_ context.Context, req *model.ChatRequest) (model.ChunkStream, error) {
	f.mu.Lock()
	script := f.scripts[req.Provider]
	f.mu.Unlock()
	if script == nil {
		return nil, errors.New("no script for provider " + req.Provider)
	}
	return script()
}

type stubFetcher struct {
	mu    sync.Mutex
	resp  *model.OutboundResponse
	err   error
	calls int
}

func (f *stubFetcher) Fetch(_ context.Context, _ *model.OutboundRequest) (*model.OutboundResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.resp, nil
}

type stubRateStore struct {
	mu      sync.Mutex
	allowed bool
	retry   time.Duration
}

func (s *stubRateStore) Reserve(_ context.Context, _ string, _ time.Duration) (bool, time.Duration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.allowed, s.retry, nil
}

func (s *stubRateStore) deny(retry time.Duration) {
	s.mu.Lock()
	s.allowed = false
	s.retry = retry
	s.mu.Unlock()
}

type stubCache struct {
	mu      sync.Mutex
	entries map[string][]byte
}

func newStubCache() *stubCache {
	return &stubCache{entries: make(map[string][]byte)}
}

func (c *stubCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	payload, ok := c.entries[key]
	return payload, ok, nil
}

func (c *stubCache) Set(_ context.Context, key string, payload []byte, _ time.Duration) error {
	c.mu.Lock()
	c.entries[key] = payload
	c.mu.Unlock()
	return nil
}

// testBackend runs the real services over a real HTTP server, with the
// data layer replaced by scripted stubs.
type testBackend struct {
	invoker  *stubInvoker
	fetcher  *stubFetcher
	rate     *stubRateStore
	manager  *biz.BreakerManager
	registry *biz.SourceRegistry
	server   *httptest.Server
}

type backendConfig struct {
	routes    map[string][]string
	providers []*conf.Provider
	rules     []*conf.BreakerRule
	sources   []*conf.Source
	useCases  []*conf.UseCase
}

func startBackend(t *testing.T, cfg backendConfig) *testBackend {
	t.Helper()
	logger := log.DefaultLogger

	b := &testBackend{
		invoker: newStubInvoker(),
		fetcher: &stubFetcher{resp: &model.OutboundResponse{Status: 200, Body: []byte(`{"ok":true}`)}},
		rate:    &stubRateStore{allowed: true},
	}
	b.manager = biz.NewBreakerManager(cfg.rules, nil, nil, logger)

	router, err := biz.NewProviderRouter(&conf.Router{
		RequestTimeout: durationpb.New(5 * time.Second),
		Routes:         cfg.routes,
	}, cfg.providers, b.manager, b.invoker, nil, logger)
	require.NoError(t, err)

	b.registry, err = biz.NewSourceRegistry(cfg.sources, cfg.useCases, nil, logger)
	require.NoError(t, err)

	limiter := biz.NewRateLimiter(b.rate, logger)
	gateway := biz.NewGateway(nil, b.registry, limiter, newStubCache(), b.fetcher, nil, logger)

	srv := http.NewServer(
		http.Middleware(recovery.Recovery()),
		// Streams must outlive any fixed request deadline.
		http.Timeout(0),
	)
	NewRelayService(router, logger).RegisterRoutes(srv)
	NewGatewayService(gateway, b.registry, logger).RegisterRoutes(srv)
	NewStatusService(b.manager, b.registry, logger).RegisterRoutes(srv)

	b.server = httptest.NewServer(srv)
	t.Cleanup(b.server.Close)
	return b
}

func relayProvider(id string) *conf.Provider {
	return &conf.Provider{
		ID:      id,
		BaseURL: "https://api.example.com",
		APIKey:  "sk-test",
		Model:   id + "-model",
		Enabled: true,
	}
}

func gatewaySource(id string) *conf.Source {
	return &conf.Source{
		ID:          id,
		Name:        id,
		Description: "integration test source",
		Type:        biz.SourceTypeAPI,
		BaseURL:     "https://api.example.com/v2",
		AuthType:    biz.AuthNone,
		RateLimit:   2,
		Enabled:     true,
		Categories:  []string{"research"},
	}
}

func (b *testBackend) request(t *testing.T, method, path, body string) *nethttp.Response {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req, err := nethttp.NewRequest(method, b.server.URL+path, reader)
	require.NoError(t, err)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := b.server.Client().Do(req)
	require.NoError(t, err)
	return resp
}

func readBody(t *testing.T, resp *nethttp.Response) string {
	t.Helper()
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(body)
}

func decodeJSON(t *testing.T, resp *nethttp.Response, v interface{}) {
	t.Helper()
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

// errorReply mirrors the JSON shape of the Kratos error encoder.
type errorReply struct {
	Code   int    `json:"code"`
	Reason string `json:"reason"`
}

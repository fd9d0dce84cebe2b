package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dylanallan/genesiswebapp-sub003/internal/biz"
	"github.com/dylanallan/genesiswebapp-sub003/internal/conf"
	"github.com/dylanallan/genesiswebapp-sub003/internal/model"
)

func statusBackend(t *testing.T) *testBackend {
	return startBackend(t, backendConfig{
		rules: []*conf.BreakerRule{
			{Name: "openai", FailureThreshold: 1, ResetTimeout: time.Minute},
		},
		sources: []*conf.Source{gatewaySource("crossref")},
	})
}

func tripTestBreaker(t *testing.T, cb *biz.CircuitBreaker) {
	t.Helper()
	for i := 0; i < 10 && cb.State() != model.StateOpen; i++ {
		_ = cb.Execute(context.Background(), func(context.Context) error {
			return errors.New("upstream down")
		})
	}
	require.Equal(t, model.StateOpen, cb.State())
}

type breakerStatusReply struct {
	Total    int `json:"total"`
	Breakers []struct {
		Name         string `json:"name"`
		State        string `json:"state"`
		FailureCount int    `json:"failure_count"`
	} `json:"breakers"`
}

func TestBreakerStatus(t *testing.T) {
	b := statusBackend(t)
	tripTestBreaker(t, b.manager.GetBreaker("openai"))
	b.manager.GetBreaker("deepseek")

	resp := b.request(t, "GET", "/v1/status/breakers", "")
	var reply breakerStatusReply
	decodeJSON(t, resp, &reply)

	assert.Equal(t, 200, resp.StatusCode)
	require.Equal(t, 2, reply.Total)
	// Sorted by name.
	assert.Equal(t, "deepseek", reply.Breakers[0].Name)
	assert.Equal(t, "CLOSED", reply.Breakers[0].State)
	assert.Equal(t, "openai", reply.Breakers[1].Name)
	assert.Equal(t, "OPEN", reply.Breakers[1].State)
	assert.Equal(t, 1, reply.Breakers[1].FailureCount)
}

func TestResetBreaker(t *testing.T) {
	b := statusBackend(t)
	cb := b.manager.GetBreaker("openai")
	tripTestBreaker(t, cb)

	resp := b.request(t, "POST", "/v1/admin/breakers/openai/reset", "")
	var reply struct {
		Breaker string `json:"breaker"`
		Reset   bool   `json:"reset"`
	}
	decodeJSON(t, resp, &reply)

	assert.Equal(t, 200, resp.StatusCode)
	assert.Equal(t, "openai", reply.Breaker)
	assert.True(t, reply.Reset)
	assert.Equal(t, model.StateClosed, cb.State())
}

func TestResetBreaker_Unknown(t *testing.T) {
	b := statusBackend(t)

	resp := b.request(t, "POST", "/v1/admin/breakers/ghost/reset", "")
	var reply errorReply
	decodeJSON(t, resp, &reply)

	assert.Equal(t, 404, resp.StatusCode)
	assert.Equal(t, "BREAKER_NOT_FOUND", reply.Reason)
}

func TestResetAllBreakers(t *testing.T) {
	b := statusBackend(t)
	tripTestBreaker(t, b.manager.GetBreaker("openai"))
	b.manager.GetBreaker("deepseek")

	resp := b.request(t, "POST", "/v1/admin/breakers/reset", "")
	var reply struct {
		ResetCount int `json:"reset_count"`
	}
	decodeJSON(t, resp, &reply)

	assert.Equal(t, 200, resp.StatusCode)
	// Only the tripped breaker actually changed state.
	assert.Equal(t, 1, reply.ResetCount)
}

func TestToggleSource(t *testing.T) {
	b := statusBackend(t)

	resp := b.request(t, "PATCH", "/v1/sources/crossref", `{"enabled":false}`)
	var view struct {
		ID      string `json:"id"`
		Enabled bool   `json:"enabled"`
	}
	decodeJSON(t, resp, &view)

	assert.Equal(t, 200, resp.StatusCode)
	assert.Equal(t, "crossref", view.ID)
	assert.False(t, view.Enabled)

	src, ok := b.registry.GetSource("crossref")
	require.True(t, ok)
	assert.False(t, src.Enabled)

	// A disabled source refuses gateway calls until turned back on.
	callResp := b.request(t, "POST", "/v1/gateway/crossref/call", `{"endpoint":"works"}`)
	var reply errorReply
	decodeJSON(t, callResp, &reply)
	assert.Equal(t, 400, callResp.StatusCode)
	assert.Equal(t, "SOURCE_NOT_CONFIGURED", reply.Reason)
}

func TestToggleSource_Unknown(t *testing.T) {
	b := statusBackend(t)

	resp := b.request(t, "PATCH", "/v1/sources/ghost", `{"enabled":true}`)
	var reply errorReply
	decodeJSON(t, resp, &reply)

	assert.Equal(t, 404, resp.StatusCode)
	assert.Equal(t, "SOURCE_NOT_FOUND", reply.Reason)
}

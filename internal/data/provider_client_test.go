package data

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dylanallan/genesiswebapp-sub003/internal/model"
	pkgerrors "github.com/dylanallan/genesiswebapp-sub003/pkg/errors"
)

func newTestProviderClient() *ProviderClient {
	return NewProviderClient(NewHTTPClientFactory(log.DefaultLogger), log.DefaultLogger)
}

func sseServer(t *testing.T, body string, check func(r *http.Request)) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if check != nil {
			check(r)
		}
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = w.Write([]byte(body))
	}))
}

func TestProviderClient_Stream(t *testing.T) {
	body := "data: {\"id\":\"c1\",\"model\":\"gpt-4o\",\"choices\":[{\"delta\":{\"content\":\"Hel\"}}]}\n\n" +
		"data: {\"choices\":[{\"delta\":{\"content\":\"lo\"}}]}\n\n" +
		"data: {\"choices\":[{\"delta\":{},\"finish_reason\":\"stop\"}]}\n\n" +
		"data: [DONE]\n\n"

	server := sseServer(t, body, func(r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		assert.Equal(t, "text/event-stream", r.Header.Get("Accept"))
	})
	defer server.Close()

	client := newTestProviderClient()
	stream, err := client.Stream(context.Background(), &model.ChatRequest{
		Provider: "openai",
		BaseURL:  server.URL,
		APIKey:   "sk-test",
		Model:    "gpt-4o",
		Prompt:   "hello",
	})
	require.NoError(t, err)
	defer func() {
		assert.NoError(t, stream.Close())
	}()

	chunk, err := stream.Recv()
	require.NoError(t, err)
	assert.Equal(t, "Hel", chunk.Content)
	assert.Equal(t, "gpt-4o", chunk.Model)

	chunk, err = stream.Recv()
	require.NoError(t, err)
	assert.Equal(t, "lo", chunk.Content)

	_, err = stream.Recv()
	assert.Equal(t, io.EOF, err)

	// Recv after completion keeps returning EOF.
	_, err = stream.Recv()
	assert.Equal(t, io.EOF, err)
}

func TestProviderClient_SkipsNonContentEvents(t *testing.T) {
	body := ": keep-alive comment\n\n" +
		"data: {\"choices\":[{\"delta\":{\"role\":\"assistant\"}}]}\n\n" +
		"data: not-json\n\n" +
		"data: {\"choices\":[{\"delta\":{\"content\":\"only\"}}]}\n\n" +
		"data: [DONE]\n\n"

	server := sseServer(t, body, nil)
	defer server.Close()

	client := newTestProviderClient()
	stream, err := client.Stream(context.Background(), &model.ChatRequest{
		BaseURL: server.URL,
		Model:   "gpt-4o",
		Prompt:  "hello",
	})
	require.NoError(t, err)
	defer func() { _ = stream.Close() }()

	chunk, err := stream.Recv()
	require.NoError(t, err)
	assert.Equal(t, "only", chunk.Content)

	_, err = stream.Recv()
	assert.Equal(t, io.EOF, err)
}

func TestProviderClient_EOFWithoutDone(t *testing.T) {
	body := "data: {\"choices\":[{\"delta\":{\"content\":\"partial\"}}]}\n\n"

	server := sseServer(t, body, nil)
	defer server.Close()

	client := newTestProviderClient()
	stream, err := client.Stream(context.Background(), &model.ChatRequest{
		BaseURL: server.URL,
		Model:   "gpt-4o",
		Prompt:  "hello",
	})
	require.NoError(t, err)
	defer func() { _ = stream.Close() }()

	chunk, err := stream.Recv()
	require.NoError(t, err)
	assert.Equal(t, "partial", chunk.Content)

	_, err = stream.Recv()
	assert.Equal(t, io.EOF, err)
}

func TestProviderClient_ErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"message":"Incorrect API key provided","type":"invalid_request_error"}}`))
	}))
	defer server.Close()

	client := newTestProviderClient()
	_, err := client.Stream(context.Background(), &model.ChatRequest{
		BaseURL: server.URL,
		Model:   "gpt-4o",
		Prompt:  "hello",
	})
	require.Error(t, err)
	assert.Equal(t, http.StatusUnauthorized, pkgerrors.StatusCode(err))
	assert.Contains(t, err.Error(), "Incorrect API key provided")
}

func TestProviderClient_ConnectionError(t *testing.T) {
	client := newTestProviderClient()

	_, err := client.Stream(context.Background(), &model.ChatRequest{
		BaseURL: "http://127.0.0.1:1",
		Model:   "gpt-4o",
		Prompt:  "hello",
	})
	assert.True(t, pkgerrors.IsConnectionError(err))
}

func TestProviderClient_MissingBaseURL(t *testing.T) {
	client := newTestProviderClient()

	_, err := client.Stream(context.Background(), &model.ChatRequest{
		Provider: "openai",
		Model:    "gpt-4o",
		Prompt:   "hello",
	})
	assert.ErrorContains(t, err, "no base URL")
}

func TestProviderClient_ContextCancelTearsDownStream(t *testing.T) {
	server := sseServer(t, "data: {\"choices\":[{\"delta\":{\"content\":\"x\"}}]}\n\n", nil)
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())

	client := newTestProviderClient()
	stream, err := client.Stream(ctx, &model.ChatRequest{
		BaseURL: server.URL,
		Model:   "gpt-4o",
		Prompt:  "hello",
	})
	require.NoError(t, err)

	cancel()
	_ = stream.Close()
}

package data

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/go-kratos/kratos/v2/log"

	"github.com/dylanallan/genesiswebapp-sub003/internal/model"
	pkgerrors "github.com/dylanallan/genesiswebapp-sub003/pkg/errors"
)

const (
	// completionsPath is the OpenAI compatible streaming endpoint every
	// configured provider is expected to serve.
	completionsPath = "/v1/chat/completions"

	// maxEventBytes caps one SSE event, oversized events abort the
	// stream instead of growing the buffer without bound.
	maxEventBytes = 64 * 1024

	// maxErrorBodyBytes caps how much of an error response is read for
	// the error message.
	maxErrorBodyBytes = 32 * 1024
)

// chatMessage is one turn of an OpenAI compatible conversation.
type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// chatCompletionRequest is the streaming request body.
type chatCompletionRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
	Stream   bool          `json:"stream"`
}

// chatCompletionChunk is one decoded SSE data event.
type chatCompletionChunk struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}

// providerErrorResponse is the OpenAI compatible error envelope.
type providerErrorResponse struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    string `json:"code"`
	} `json:"error"`
}

// ProviderClient implements biz.ProviderInvoker against OpenAI
// compatible chat completion endpoints using server-sent events.
type ProviderClient struct {
	factory *HTTPClientFactory
	logger  *log.Helper
}

// NewProviderClient creates the streaming provider client.
func NewProviderClient(factory *HTTPClientFactory, logger log.Logger) *ProviderClient {
	return &ProviderClient{
		factory: factory,
		logger:  log.NewHelper(logger),
	}
}

// Stream opens a streaming completion against the provider resolved in
// req. The returned stream stays bound to ctx, canceling ctx tears the
// connection down.
func (c *ProviderClient) Stream(ctx context.Context, req *model.ChatRequest) (model.ChunkStream, error) {
	if req.BaseURL == "" {
		return nil, fmt.Errorf("provider %s has no base URL", req.Provider)
	}

	client, err := c.factory.Client(req.ProxyURL)
	if err != nil {
		return nil, err
	}

	body, err := json.Marshal(chatCompletionRequest{
		Model:    req.Model,
		Messages: []chatMessage{{Role: "user", Content: req.Prompt}},
		Stream:   true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	endpoint := strings.TrimSuffix(req.BaseURL, "/") + completionsPath
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	httpReq.Header.Set("Cache-Control", "no-cache")
	httpReq.Header.Set("User-Agent", UserAgent)
	if req.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+req.APIKey)
	}

	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, pkgerrors.ClassifyUpstreamError(err)
	}

	if resp.StatusCode != http.StatusOK {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		_ = resp.Body.Close()
		return nil, pkgerrors.NewStatusError(resp.StatusCode, providerErrorMessage(payload))
	}

	return &providerStream{
		body:   resp.Body,
		reader: bufio.NewReader(resp.Body),
	}, nil
}

// providerErrorMessage extracts the error message from an OpenAI style
// error body, falling back to the raw body.
func providerErrorMessage(payload []byte) string {
	var errResp providerErrorResponse
	if err := json.Unmarshal(payload, &errResp); err == nil && errResp.Error.Message != "" {
		return errResp.Error.Message
	}
	return string(payload)
}

// providerStream reads SSE data events off one response body and
// yields content chunks. Single consumer.
type providerStream struct {
	body   io.Closer
	reader *bufio.Reader

	done      bool
	closeOnce sync.Once
	closeErr  error
}

// Recv returns the next content chunk. It skips empty deltas and
// malformed events, and returns io.EOF once the stream signals
// completion.
func (s *providerStream) Recv() (*model.StreamChunk, error) {
	if s.done {
		return nil, io.EOF
	}

	for {
		data, err := s.readEvent()
		if err != nil {
			if err == io.EOF {
				s.done = true
				return nil, io.EOF
			}
			return nil, err
		}

		if bytes.Equal(data, []byte("[DONE]")) {
			s.done = true
			return nil, io.EOF
		}

		var chunk chatCompletionChunk
		if err := json.Unmarshal(data, &chunk); err != nil {
			// Skip malformed events.
			continue
		}
		if len(chunk.Choices) == 0 {
			continue
		}

		content := chunk.Choices[0].Delta.Content
		if content == "" {
			// Role-only or finish events carry no content.
			continue
		}

		return &model.StreamChunk{
			Content: content,
			Model:   chunk.Model,
		}, nil
	}
}

// readEvent reads the next SSE data payload. Multi-line data fields
// are joined with newlines per the SSE format.
func (s *providerStream) readEvent() ([]byte, error) {
	var dataLines [][]byte

	for {
		line, err := s.reader.ReadBytes('\n')
		if err != nil {
			if err == io.EOF {
				if len(dataLines) > 0 {
					return bytes.Join(dataLines, []byte("\n")), nil
				}
				return nil, io.EOF
			}
			return nil, err
		}
		if len(line) > maxEventBytes {
			return nil, pkgerrors.NewProtocolError(nil, "SSE event exceeds size limit")
		}

		line = bytes.TrimRight(line, "\r\n")

		// Blank line terminates the event.
		if len(line) == 0 {
			if len(dataLines) > 0 {
				return bytes.Join(dataLines, []byte("\n")), nil
			}
			continue
		}

		if bytes.HasPrefix(line, []byte("data:")) {
			dataLines = append(dataLines, bytes.TrimSpace(line[5:]))
		}
		// Other fields (event:, id:, retry:, comments) are ignored.
	}
}

// Close releases the connection. Safe to call more than once.
func (s *providerStream) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.body.Close()
	})
	return s.closeErr
}

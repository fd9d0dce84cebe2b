package data

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/go-kratos/kratos/v2/log"

	"github.com/dylanallan/genesiswebapp-sub003/internal/model"
)

// maxSourceResponseBytes caps how much of a data-source response is
// read into memory.
const maxSourceResponseBytes = 10 << 20

// SourceClient implements biz.SourceFetcher. It executes one resolved
// outbound request and returns the raw response, status handling stays
// with the gateway.
type SourceClient struct {
	factory *HTTPClientFactory
	logger  *log.Helper
}

// NewSourceClient creates the data-source HTTP client.
func NewSourceClient(factory *HTTPClientFactory, logger log.Logger) *SourceClient {
	return &SourceClient{
		factory: factory,
		logger:  log.NewHelper(logger),
	}
}

// Fetch performs the exchange described by req.
func (c *SourceClient) Fetch(ctx context.Context, req *model.OutboundRequest) (*model.OutboundResponse, error) {
	client, err := c.factory.Client(req.ProxyURL)
	if err != nil {
		return nil, err
	}

	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	for key, value := range req.Headers {
		httpReq.Header.Set(key, value)
	}
	httpReq.Header.Set("User-Agent", UserAgent)

	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxSourceResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	return &model.OutboundResponse{
		Status: resp.StatusCode,
		Body:   payload,
	}, nil
}

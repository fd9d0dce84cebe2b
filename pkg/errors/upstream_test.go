package errors

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifyUpstreamError_Nil(t *testing.T) {
	assert.Nil(t, ClassifyUpstreamError(nil))
}

func TestClassifyUpstreamError_DeadlineExceeded(t *testing.T) {
	err := fmt.Errorf("calling provider: %w", context.DeadlineExceeded)
	upErr := ClassifyUpstreamError(err)

	assert.NotNil(t, upErr)
	assert.Equal(t, ErrorTypeTimeout, upErr.Type)
	assert.Equal(t, "timeout", upErr.Type.String())
	assert.True(t, errors.Is(upErr.OriginalErr, context.DeadlineExceeded))
}

func TestClassifyUpstreamError_Canceled(t *testing.T) {
	err := fmt.Errorf("stream aborted: %w", context.Canceled)
	upErr := ClassifyUpstreamError(err)

	assert.NotNil(t, upErr)
	assert.Equal(t, ErrorTypeCanceled, upErr.Type)
}

func TestClassifyUpstreamError_DNS(t *testing.T) {
	dnsErr := &net.DNSError{
		Err:  "no such host",
		Name: "api.unknown-provider.example",
	}

	upErr := ClassifyUpstreamError(dnsErr)

	assert.Equal(t, ErrorTypeDNS, upErr.Type)
	assert.Equal(t, "dns", upErr.Type.String())
}

func TestClassifyUpstreamError_URLError(t *testing.T) {
	urlErr := &url.Error{
		Op:  "Post",
		URL: "https://api.example.com/v1/chat",
		Err: errors.New("connection refused"),
	}

	upErr := ClassifyUpstreamError(urlErr)

	assert.Equal(t, ErrorTypeConnection, upErr.Type)
}

func TestClassifyUpstreamError_ConnectionKeywords(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"refused", errors.New("dial tcp 10.0.0.1:443: connection refused")},
		{"reset", errors.New("read: Connection Reset by peer")},
		{"tls", errors.New("TLS handshake failure")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			upErr := ClassifyUpstreamError(tt.err)
			assert.Equal(t, ErrorTypeConnection, upErr.Type)
		})
	}
}

func TestClassifyUpstreamError_AlreadyClassified(t *testing.T) {
	original := NewStatusError(503, "service unavailable")
	wrapped := fmt.Errorf("attempt 2: %w", original)

	upErr := ClassifyUpstreamError(wrapped)

	assert.Same(t, original, upErr)
}

func TestClassifyUpstreamError_Unknown(t *testing.T) {
	upErr := ClassifyUpstreamError(errors.New("something odd happened"))

	assert.Equal(t, ErrorTypeUnknownUpstream, upErr.Type)
	assert.Equal(t, "unknown", upErr.Type.String())
}

func TestNewStatusError(t *testing.T) {
	tests := []struct {
		name       string
		statusCode int
		expected   UpstreamErrorType
	}{
		{"429 is rate limited", 429, ErrorTypeRateLimited},
		{"500 is server status", 500, ErrorTypeServerStatus},
		{"503 is server status", 503, ErrorTypeServerStatus},
		{"400 is client status", 400, ErrorTypeClientStatus},
		{"404 is client status", 404, ErrorTypeClientStatus},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			upErr := NewStatusError(tt.statusCode, "body")

			assert.Equal(t, tt.expected, upErr.Type)
			assert.Equal(t, tt.statusCode, upErr.StatusCode)
			assert.Contains(t, upErr.Error(), fmt.Sprintf("status %d", tt.statusCode))
		})
	}
}

func TestNewStatusError_TruncatesBody(t *testing.T) {
	longBody := make([]byte, 500)
	for i := range longBody {
		longBody[i] = 'x'
	}

	upErr := NewStatusError(502, string(longBody))

	assert.Less(t, len(upErr.Error()), 300)
	assert.Contains(t, upErr.Error(), "...")
}

func TestNewProtocolError(t *testing.T) {
	upErr := NewProtocolError(errors.New("unexpected end of JSON input"), "malformed stream event")

	assert.Equal(t, ErrorTypeProtocol, upErr.Type)
	assert.Contains(t, upErr.Error(), "malformed stream event")
}

func TestHelperPredicates(t *testing.T) {
	assert.True(t, IsTimeoutError(context.DeadlineExceeded))
	assert.False(t, IsTimeoutError(errors.New("other")))

	assert.True(t, IsCanceledError(context.Canceled))

	assert.True(t, IsConnectionError(errors.New("dial tcp: connection refused")))
	assert.True(t, IsConnectionError(&net.DNSError{Err: "no such host"}))

	assert.True(t, IsUpstreamRateLimited(NewStatusError(429, "slow down")))
	assert.False(t, IsUpstreamRateLimited(NewStatusError(500, "boom")))
}

func TestStatusCode(t *testing.T) {
	assert.Equal(t, 503, StatusCode(NewStatusError(503, "")))
	assert.Equal(t, 503, StatusCode(fmt.Errorf("wrapped: %w", NewStatusError(503, ""))))
	assert.Equal(t, 0, StatusCode(errors.New("no status")))
}

func TestUpstreamError_Unwrap(t *testing.T) {
	inner := errors.New("inner failure")
	upErr := &UpstreamError{
		Type:        ErrorTypeConnection,
		OriginalErr: inner,
		Message:     "upstream connection failed",
	}

	assert.True(t, errors.Is(upErr, inner))
}

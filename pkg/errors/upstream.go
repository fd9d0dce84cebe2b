// Package errors provides error classification utilities for outbound calls.
package errors

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
)

// UpstreamErrorType represents the type of outbound call failure.
type UpstreamErrorType int

const (
	// ErrorTypeUnknownUpstream represents an unclassified upstream error.
	ErrorTypeUnknownUpstream UpstreamErrorType = iota
	// ErrorTypeTimeout represents a deadline exceeded while calling upstream.
	ErrorTypeTimeout
	// ErrorTypeCanceled represents a caller-side cancellation.
	ErrorTypeCanceled
	// ErrorTypeConnection represents a transport-level connection failure.
	ErrorTypeConnection
	// ErrorTypeDNS represents a name resolution failure.
	ErrorTypeDNS
	// ErrorTypeRateLimited represents an upstream 429 response.
	ErrorTypeRateLimited
	// ErrorTypeServerStatus represents an upstream 5xx response.
	ErrorTypeServerStatus
	// ErrorTypeClientStatus represents an upstream 4xx response other than 429.
	ErrorTypeClientStatus
	// ErrorTypeProtocol represents a malformed upstream payload (bad JSON, broken event stream).
	ErrorTypeProtocol
)

// String returns a short label used in logs and audit rows.
func (t UpstreamErrorType) String() string {
	switch t {
	case ErrorTypeTimeout:
		return "timeout"
	case ErrorTypeCanceled:
		return "canceled"
	case ErrorTypeConnection:
		return "connection"
	case ErrorTypeDNS:
		return "dns"
	case ErrorTypeRateLimited:
		return "rate_limited"
	case ErrorTypeServerStatus:
		return "server_status"
	case ErrorTypeClientStatus:
		return "client_status"
	case ErrorTypeProtocol:
		return "protocol"
	default:
		return "unknown"
	}
}

// UpstreamError wraps an outbound call error with classification information.
type UpstreamError struct {
	Type        UpstreamErrorType
	OriginalErr error
	StatusCode  int // HTTP status for status-class errors, 0 otherwise
	Message     string
}

// Error implements the error interface.
func (e *UpstreamError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s (status %d): %v", e.Message, e.StatusCode, e.OriginalErr)
	}
	if e.OriginalErr == nil {
		return e.Message
	}
	return fmt.Sprintf("%s: %v", e.Message, e.OriginalErr)
}

// Unwrap returns the underlying error for errors.Is and errors.As compatibility.
func (e *UpstreamError) Unwrap() error {
	return e.OriginalErr
}

// ClassifyUpstreamError classifies an outbound call error.
//
// It recognizes context cancellation and deadlines, net-level failures
// (DNS, refused connections, resets) and anything already classified.
// Status-code failures are produced with NewStatusError at the call site,
// where the code is known.
func ClassifyUpstreamError(err error) *UpstreamError {
	if err == nil {
		return nil
	}

	var upstreamErr *UpstreamError
	if errors.As(err, &upstreamErr) {
		return upstreamErr
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return &UpstreamError{
			Type:        ErrorTypeTimeout,
			OriginalErr: err,
			Message:     "upstream call timed out",
		}
	}

	if errors.Is(err, context.Canceled) {
		return &UpstreamError{
			Type:        ErrorTypeCanceled,
			OriginalErr: err,
			Message:     "upstream call canceled",
		}
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return &UpstreamError{
			Type:        ErrorTypeDNS,
			OriginalErr: err,
			Message:     "name resolution failed",
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &UpstreamError{
			Type:        ErrorTypeTimeout,
			OriginalErr: err,
			Message:     "upstream call timed out",
		}
	}

	// url.Error from net/http wraps the transport failure
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		if urlErr.Timeout() {
			return &UpstreamError{
				Type:        ErrorTypeTimeout,
				OriginalErr: err,
				Message:     "upstream call timed out",
			}
		}
		return &UpstreamError{
			Type:        ErrorTypeConnection,
			OriginalErr: err,
			Message:     "upstream connection failed",
		}
	}

	if isConnectionError(err.Error()) {
		return &UpstreamError{
			Type:        ErrorTypeConnection,
			OriginalErr: err,
			Message:     "upstream connection failed",
		}
	}

	return &UpstreamError{
		Type:        ErrorTypeUnknownUpstream,
		OriginalErr: err,
		Message:     "unknown upstream error",
	}
}

// NewStatusError builds a classified error from a non-2xx upstream response.
func NewStatusError(statusCode int, body string) *UpstreamError {
	errType := ErrorTypeClientStatus
	switch {
	case statusCode == 429:
		errType = ErrorTypeRateLimited
	case statusCode >= 500:
		errType = ErrorTypeServerStatus
	}

	return &UpstreamError{
		Type:        errType,
		OriginalErr: fmt.Errorf("upstream returned %d: %s", statusCode, truncate(body, 200)),
		StatusCode:  statusCode,
		Message:     "unexpected upstream status",
	}
}

// NewProtocolError builds a classified error for malformed upstream payloads.
func NewProtocolError(err error, detail string) *UpstreamError {
	return &UpstreamError{
		Type:        ErrorTypeProtocol,
		OriginalErr: err,
		Message:     detail,
	}
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}

// IsTimeoutError checks if the error is a timeout.
func IsTimeoutError(err error) bool {
	upErr := ClassifyUpstreamError(err)
	return upErr != nil && upErr.Type == ErrorTypeTimeout
}

// IsCanceledError checks if the error is a caller-side cancellation.
func IsCanceledError(err error) bool {
	upErr := ClassifyUpstreamError(err)
	return upErr != nil && upErr.Type == ErrorTypeCanceled
}

// IsConnectionError checks if the error is a transport-level failure.
func IsConnectionError(err error) bool {
	upErr := ClassifyUpstreamError(err)
	return upErr != nil && (upErr.Type == ErrorTypeConnection || upErr.Type == ErrorTypeDNS)
}

// IsUpstreamRateLimited checks if the error is an upstream 429.
func IsUpstreamRateLimited(err error) bool {
	upErr := ClassifyUpstreamError(err)
	return upErr != nil && upErr.Type == ErrorTypeRateLimited
}

// StatusCode extracts the upstream HTTP status from a classified error, 0 when absent.
func StatusCode(err error) int {
	var upstreamErr *UpstreamError
	if errors.As(err, &upstreamErr) {
		return upstreamErr.StatusCode
	}
	return 0
}

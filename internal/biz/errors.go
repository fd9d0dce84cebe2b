package biz

import (
	"fmt"
	"time"

	"github.com/go-kratos/kratos/v2/errors"
)

// Error reason codes carried by the coded errors this layer returns.
// Callers branch on the reason, never on the message.
const (
	ReasonCircuitOpen         = "CIRCUIT_OPEN"
	ReasonRateLimitExceeded   = "RATE_LIMIT_EXCEEDED"
	ReasonSourceNotConfigured = "SOURCE_NOT_CONFIGURED"
	ReasonConfiguration       = "CONFIGURATION_ERROR"
	ReasonUpstream            = "UPSTREAM_ERROR"
	ReasonFallbackExhausted   = "FALLBACK_EXHAUSTED"
)

// newCircuitOpenError is returned when a breaker rejects a call without
// invoking the operation.
func newCircuitOpenError(breaker string, nextAttempt time.Time) error {
	return errors.New(
		503,
		ReasonCircuitOpen,
		fmt.Sprintf("circuit breaker %q is open, next attempt at %s",
			breaker, nextAttempt.UTC().Format(time.RFC3339)),
	).WithMetadata(map[string]string{
		"breaker":      breaker,
		"next_attempt": nextAttempt.UTC().Format(time.RFC3339),
	})
}

// newProbeLimitError is returned when a half-open breaker already has
// its full complement of probes in flight.
func newProbeLimitError(breaker string) error {
	return errors.New(
		503,
		ReasonCircuitOpen,
		fmt.Sprintf("circuit breaker %q is half-open, probe slots are taken", breaker),
	).WithMetadata(map[string]string{
		"breaker": breaker,
	})
}

// newRateLimitError is returned when the gateway rejects a call locally
// before any network activity.
func newRateLimitError(sourceID string, retryAfter time.Duration) error {
	return errors.New(
		429,
		ReasonRateLimitExceeded,
		fmt.Sprintf("rate limit exceeded for source %q, retry in %dms",
			sourceID, retryAfter.Milliseconds()),
	).WithMetadata(map[string]string{
		"source_id":      sourceID,
		"retry_after_ms": fmt.Sprintf("%d", retryAfter.Milliseconds()),
	})
}

// newSourceNotConfiguredError is returned for unknown or disabled sources.
func newSourceNotConfiguredError(sourceID, detail string) error {
	return errors.New(
		400,
		ReasonSourceNotConfigured,
		fmt.Sprintf("source %q is not available: %s", sourceID, detail),
	).WithMetadata(map[string]string{
		"source_id": sourceID,
	})
}

// newConfigurationError is returned for invalid descriptors or missing
// credentials discovered at call time.
func newConfigurationError(detail string) error {
	return errors.New(400, ReasonConfiguration, detail)
}

// newUpstreamError wraps a dependency failure from a provider or source.
func newUpstreamError(target string, status int, cause error) error {
	e := errors.New(
		502,
		ReasonUpstream,
		fmt.Sprintf("upstream %q failed: %v", target, cause),
	)
	md := map[string]string{"target": target}
	if status > 0 {
		md["upstream_status"] = fmt.Sprintf("%d", status)
	}
	return e.WithMetadata(md)
}

// newFallbackExhaustedError is the single terminal error surfaced when
// every candidate provider failed. It names the last provider attempted
// and the reason it failed.
func newFallbackExhaustedError(classification, lastProvider string, attempts int, lastErr error) error {
	detail := "no providers configured"
	if lastErr != nil {
		detail = fmt.Sprintf("last provider %q failed: %v", lastProvider, lastErr)
	} else if attempts > 0 {
		detail = "no provider delivered any content"
	}
	return errors.New(
		503,
		ReasonFallbackExhausted,
		fmt.Sprintf("all %d provider(s) for classification %q exhausted: %s",
			attempts, classification, detail),
	).WithMetadata(map[string]string{
		"classification": classification,
		"last_provider":  lastProvider,
		"attempts":       fmt.Sprintf("%d", attempts),
	})
}

// IsCircuitOpen reports whether err is a breaker fast-fail rejection.
func IsCircuitOpen(err error) bool {
	return errors.Reason(err) == ReasonCircuitOpen
}

// IsRateLimited reports whether err is a local rate limit rejection.
func IsRateLimited(err error) bool {
	return errors.Reason(err) == ReasonRateLimitExceeded
}

// IsSourceNotConfigured reports whether err names an unknown or disabled source.
func IsSourceNotConfigured(err error) bool {
	return errors.Reason(err) == ReasonSourceNotConfigured
}

// IsConfigurationError reports whether err is a descriptor or credential problem.
func IsConfigurationError(err error) bool {
	return errors.Reason(err) == ReasonConfiguration
}

// IsUpstreamError reports whether err wraps a dependency failure.
func IsUpstreamError(err error) bool {
	return errors.Reason(err) == ReasonUpstream
}

// IsFallbackExhausted reports whether err means every provider candidate failed.
func IsFallbackExhausted(err error) bool {
	return errors.Reason(err) == ReasonFallbackExhausted
}

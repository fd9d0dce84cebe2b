package biz

import (
	"context"

	"github.com/dylanallan/genesiswebapp-sub003/internal/model"
)

// AuditTrail defines the interface for recording outbound-call outcomes
// to the persistence store. Following Kratos v2 DDD architecture the
// interface lives in the biz layer and the implementation in data.
// Implementations must not block the caller.
type AuditTrail interface {
	// LogBreakerTransition records a circuit breaker state change.
	LogBreakerTransition(ctx context.Context, change model.StateChange)

	// LogBreakerReset records a manual reset of one breaker.
	LogBreakerReset(ctx context.Context, breaker string)

	// LogProviderAttempt records one provider try of a routed request.
	LogProviderAttempt(ctx context.Context, attempt *model.ProviderAttempt)

	// LogFallbackExhausted records a routed request that failed on every
	// candidate provider before any of them committed output.
	LogFallbackExhausted(ctx context.Context, classification, lastProvider string, attempts int, lastErr string)

	// LogGatewayCall records one gateway call and how it was answered.
	LogGatewayCall(ctx context.Context, call *model.GatewayCallRecord)

	// LogSourceToggled records an admin enable/disable of a source.
	LogSourceToggled(ctx context.Context, sourceID string, enabled bool)
}

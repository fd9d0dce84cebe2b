package model

import "time"

// Audit event type constants
const (
	AuditEventCircuitOpened    = "CIRCUIT_OPENED"
	AuditEventCircuitHalfOpen  = "CIRCUIT_HALF_OPEN"
	AuditEventCircuitClosed    = "CIRCUIT_CLOSED"
	AuditEventCircuitReset     = "CIRCUIT_RESET"
	AuditEventProviderAttempt  = "PROVIDER_ATTEMPT"
	AuditEventProviderServed   = "PROVIDER_SERVED"
	AuditEventFallbackExhaust  = "FALLBACK_EXHAUSTED"
	AuditEventGatewayCall      = "GATEWAY_CALL"
	AuditEventGatewayCacheHit  = "GATEWAY_CACHE_HIT"
	AuditEventGatewayRateLimit = "GATEWAY_RATE_LIMITED"
	AuditEventSourceToggled    = "SOURCE_TOGGLED"
)

// ProviderAttempt captures one provider try during a routed request.
// Served marks the attempt whose stream was delivered to the caller.
type ProviderAttempt struct {
	RequestID      string
	Classification string
	Provider       string
	Model          string
	Served         bool
	Committed      bool
	Chunks         int
	Bytes          int
	Duration       time.Duration
	Err            string
}

// GatewayCallRecord captures one gateway call and how it was answered.
type GatewayCallRecord struct {
	RequestID   string
	SourceID    string
	Endpoint    string
	CacheHit    bool
	RateLimited bool
	Status      int
	Duration    time.Duration
	Err         string
}

package model

import "time"

// BreakerState is the circuit breaker lifecycle state.
type BreakerState int32

const (
	// StateClosed lets calls through and counts failures.
	StateClosed BreakerState = iota
	// StateOpen fails fast until the reset timeout elapses.
	StateOpen
	// StateHalfOpen lets a limited number of probe calls through.
	StateHalfOpen
)

// String returns the canonical state name.
func (s BreakerState) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// BreakerConfig holds the tunables of a single circuit breaker.
type BreakerConfig struct {
	// FailureThreshold is the consecutive-failure budget that trips the
	// breaker out of CLOSED.
	FailureThreshold int
	// ResetTimeout is how long an OPEN breaker rejects calls before
	// allowing a probe.
	ResetTimeout time.Duration
	// HalfOpenMaxCalls is the number of successful probes required to
	// close the breaker again.
	HalfOpenMaxCalls int
}

// DefaultBreakerConfig returns the config applied when a breaker is
// created without explicit settings.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 5,
		ResetTimeout:     60 * time.Second,
		HalfOpenMaxCalls: 2,
	}
}

// Normalize fills zero fields from the defaults so partially specified
// configs behave predictably.
func (c BreakerConfig) Normalize() BreakerConfig {
	def := DefaultBreakerConfig()
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = def.FailureThreshold
	}
	if c.ResetTimeout <= 0 {
		c.ResetTimeout = def.ResetTimeout
	}
	if c.HalfOpenMaxCalls <= 0 {
		c.HalfOpenMaxCalls = def.HalfOpenMaxCalls
	}
	return c
}

// BreakerSnapshot is a point-in-time view of one breaker, as exposed by
// the status endpoint and the monitor job.
type BreakerSnapshot struct {
	Name            string     `json:"name"`
	State           string     `json:"state"`
	FailureCount    int        `json:"failure_count"`
	SuccessCount    int        `json:"success_count,omitempty"`
	NextAttemptTime *time.Time `json:"next_attempt_time,omitempty"`
}

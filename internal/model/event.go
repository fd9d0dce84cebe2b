package model

import "time"

// BreakerOpenedEvent is published when a breaker trips to OPEN.
type BreakerOpenedEvent struct {
	Breaker      string
	FailureCount int
	OpenedAt     time.Time
	NextAttempt  time.Time
	LastError    string
}

// BreakerRecoveredEvent is published when a breaker closes after
// successful probes.
type BreakerRecoveredEvent struct {
	Breaker     string
	ProbeCount  int
	RecoverTime time.Duration
}

// StateChange describes a single breaker transition, delivered to
// registered listeners. The counters are captured at the moment of the
// transition, before the new state resets them.
type StateChange struct {
	Breaker      string
	From         BreakerState
	To           BreakerState
	At           time.Time
	FailureCount int
	// ProbeCount is the number of successful probes that closed the
	// breaker. Zero unless the transition is HALF_OPEN to CLOSED.
	ProbeCount int
	// NextAttempt is set when To is OPEN.
	NextAttempt time.Time
	// LastError is the message of the failure that caused the transition,
	// empty for recoveries and resets.
	LastError string
}

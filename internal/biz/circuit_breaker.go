package biz

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dylanallan/genesiswebapp-sub003/internal/model"
)

// CircuitBreaker guards a single outbound dependency. It tracks
// consecutive failures and short-circuits calls while the dependency is
// considered down.
//
// State machine:
//
//	CLOSED    -> OPEN       after FailureThreshold consecutive failures
//	OPEN      -> HALF_OPEN  once ResetTimeout has elapsed
//	HALF_OPEN -> CLOSED     after HalfOpenMaxCalls successful probes
//	HALF_OPEN -> OPEN       on any probe failure
//
// A success in CLOSED decrements the failure count by one instead of
// clearing it. Every transition bumps an internal generation counter;
// calls admitted under an older generation report their outcome into the
// void, so a slow call finishing after the breaker moved on never skews
// the new state's counters.
type CircuitBreaker struct {
	name   string
	config model.BreakerConfig

	mu             sync.Mutex
	state          model.BreakerState
	generation     uint64
	failureCount   int
	successCount   int
	probesInFlight int
	nextAttempt    time.Time
	lastFailure    string

	// now is replaceable in tests.
	now func() time.Time
	// onStateChange must be assigned before the breaker is shared.
	onStateChange func(model.StateChange)
}

// NewCircuitBreaker builds a CLOSED breaker. Zero config fields fall
// back to the package defaults.
func NewCircuitBreaker(name string, cfg model.BreakerConfig) *CircuitBreaker {
	return &CircuitBreaker{
		name:   name,
		config: cfg.Normalize(),
		state:  model.StateClosed,
		now:    time.Now,
	}
}

// Name returns the breaker's registry name.
func (cb *CircuitBreaker) Name() string { return cb.name }

// Config returns the breaker's effective configuration.
func (cb *CircuitBreaker) Config() model.BreakerConfig { return cb.config }

// Execute runs op under the breaker's admission control. While the
// breaker is OPEN the call fails immediately with a CIRCUIT_OPEN error
// and op is never invoked. op's own error is returned unchanged; any
// non-nil error, context cancellation included, counts as a failure.
func (cb *CircuitBreaker) Execute(ctx context.Context, op func(context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	gen, err := cb.beforeCall()
	if err != nil {
		return err
	}
	defer func() {
		if r := recover(); r != nil {
			cb.afterCall(gen, fmt.Errorf("panic: %v", r))
			panic(r)
		}
	}()
	opErr := op(ctx)
	cb.afterCall(gen, opErr)
	return opErr
}

// State returns the current lifecycle state.
func (cb *CircuitBreaker) State() model.BreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Snapshot returns a point-in-time view for the status endpoint and the
// monitor job.
func (cb *CircuitBreaker) Snapshot() model.BreakerSnapshot {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	snap := model.BreakerSnapshot{
		Name:         cb.name,
		State:        cb.state.String(),
		FailureCount: cb.failureCount,
	}
	switch cb.state {
	case model.StateHalfOpen:
		snap.SuccessCount = cb.successCount
	case model.StateOpen:
		t := cb.nextAttempt
		snap.NextAttemptTime = &t
	}
	return snap
}

// Reset forces the breaker back to CLOSED with cleared counters and
// reports whether anything changed. In-flight calls admitted before the
// reset are not counted when they complete.
func (cb *CircuitBreaker) Reset() bool {
	cb.mu.Lock()
	if cb.state == model.StateClosed {
		changed := cb.failureCount != 0
		cb.failureCount = 0
		cb.lastFailure = ""
		cb.generation++
		cb.mu.Unlock()
		return changed
	}
	change := cb.transition(model.StateClosed, cb.now())
	cb.mu.Unlock()
	cb.emit(change)
	return true
}

func (cb *CircuitBreaker) beforeCall() (uint64, error) {
	cb.mu.Lock()
	gen, change, err := cb.admit(cb.now())
	cb.mu.Unlock()
	cb.emit(change)
	return gen, err
}

func (cb *CircuitBreaker) afterCall(gen uint64, opErr error) {
	cb.mu.Lock()
	change := cb.record(gen, opErr, cb.now())
	cb.mu.Unlock()
	cb.emit(change)
}

// admit decides whether a call may proceed. Caller holds cb.mu.
func (cb *CircuitBreaker) admit(now time.Time) (uint64, *model.StateChange, error) {
	switch cb.state {
	case model.StateClosed:
		return cb.generation, nil, nil
	case model.StateOpen:
		if now.Before(cb.nextAttempt) {
			return 0, nil, newCircuitOpenError(cb.name, cb.nextAttempt)
		}
		change := cb.transition(model.StateHalfOpen, now)
		cb.probesInFlight = 1
		return cb.generation, change, nil
	default:
		if cb.probesInFlight >= cb.config.HalfOpenMaxCalls {
			return 0, nil, newProbeLimitError(cb.name)
		}
		cb.probesInFlight++
		return cb.generation, nil, nil
	}
}

// record books a call outcome. Caller holds cb.mu. Outcomes from an
// older generation are discarded.
func (cb *CircuitBreaker) record(gen uint64, opErr error, now time.Time) *model.StateChange {
	if gen != cb.generation {
		return nil
	}
	if opErr == nil {
		return cb.recordSuccess(now)
	}
	return cb.recordFailure(opErr, now)
}

func (cb *CircuitBreaker) recordSuccess(now time.Time) *model.StateChange {
	switch cb.state {
	case model.StateClosed:
		if cb.failureCount > 0 {
			cb.failureCount--
		}
	case model.StateHalfOpen:
		cb.probesInFlight--
		cb.successCount++
		if cb.successCount >= cb.config.HalfOpenMaxCalls {
			return cb.transition(model.StateClosed, now)
		}
	}
	return nil
}

func (cb *CircuitBreaker) recordFailure(opErr error, now time.Time) *model.StateChange {
	cb.lastFailure = opErr.Error()
	switch cb.state {
	case model.StateClosed:
		cb.failureCount++
		if cb.failureCount >= cb.config.FailureThreshold {
			return cb.transition(model.StateOpen, now)
		}
	case model.StateHalfOpen:
		return cb.transition(model.StateOpen, now)
	}
	return nil
}

// transition moves the breaker to a new state and bumps the generation.
// Caller holds cb.mu. The returned change carries the counters as they
// stood at the moment of the transition.
func (cb *CircuitBreaker) transition(to model.BreakerState, now time.Time) *model.StateChange {
	change := &model.StateChange{
		Breaker:      cb.name,
		From:         cb.state,
		To:           to,
		At:           now,
		FailureCount: cb.failureCount,
	}
	cb.state = to
	cb.generation++
	cb.probesInFlight = 0
	switch to {
	case model.StateOpen:
		cb.nextAttempt = now.Add(cb.config.ResetTimeout)
		cb.successCount = 0
		change.NextAttempt = cb.nextAttempt
		change.LastError = cb.lastFailure
	case model.StateHalfOpen:
		cb.successCount = 0
	case model.StateClosed:
		change.ProbeCount = cb.successCount
		cb.failureCount = 0
		cb.successCount = 0
		cb.nextAttempt = time.Time{}
		cb.lastFailure = ""
	}
	return change
}

func (cb *CircuitBreaker) emit(change *model.StateChange) {
	if change == nil || cb.onStateChange == nil {
		return
	}
	cb.onStateChange(*change)
}

package biz

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/go-kratos/kratos/v2/log"

	"github.com/dylanallan/genesiswebapp-sub003/internal/conf"
	"github.com/dylanallan/genesiswebapp-sub003/internal/model"
	pkglog "github.com/dylanallan/genesiswebapp-sub003/pkg/log"
)

// CriticalBreakerPrefix marks breakers whose transitions raise
// out-of-band notifications in addition to logs and audit entries.
const CriticalBreakerPrefix = "critical-"

// BreakerManager owns every circuit breaker in the process. Breakers
// are created lazily on first lookup and live for the lifetime of the
// process; there is no eviction.
type BreakerManager struct {
	mu       sync.RWMutex
	breakers map[string]*CircuitBreaker

	// rules holds per-name overrides loaded from configuration.
	rules map[string]model.BreakerConfig

	lmu       sync.RWMutex
	listeners []func(model.StateChange)

	emu      sync.Mutex
	openedAt map[string]time.Time

	audit    AuditTrail
	notifier Notifier
	logger   *pkglog.LogHelper
}

// NewBreakerManager creates the manager with per-breaker rules from
// configuration. Names without a rule fall back to the defaults.
func NewBreakerManager(rules []*conf.BreakerRule, audit AuditTrail, notifier Notifier, logger log.Logger) *BreakerManager {
	m := &BreakerManager{
		breakers: make(map[string]*CircuitBreaker),
		rules:    make(map[string]model.BreakerConfig, len(rules)),
		openedAt: make(map[string]time.Time),
		audit:    audit,
		notifier: notifier,
		logger:   pkglog.NewLogHelper(logger),
	}
	for _, r := range rules {
		if r == nil || r.Name == "" {
			continue
		}
		m.rules[r.Name] = model.BreakerConfig{
			FailureThreshold: r.FailureThreshold,
			ResetTimeout:     r.ResetTimeout,
			HalfOpenMaxCalls: r.HalfOpenMaxCalls,
		}.Normalize()
	}
	return m
}

// GetBreaker returns the named breaker, creating it on first use with
// the configured rule for that name or the defaults.
func (m *BreakerManager) GetBreaker(name string) *CircuitBreaker {
	m.mu.RLock()
	cb, ok := m.breakers[name]
	m.mu.RUnlock()
	if ok {
		return cb
	}
	return m.getOrCreate(name, m.configFor(name))
}

// GetBreakerWithConfig returns the named breaker, creating it with cfg
// when absent. An existing breaker keeps its original configuration.
func (m *BreakerManager) GetBreakerWithConfig(name string, cfg model.BreakerConfig) *CircuitBreaker {
	m.mu.RLock()
	cb, ok := m.breakers[name]
	m.mu.RUnlock()
	if ok {
		return cb
	}
	return m.getOrCreate(name, cfg.Normalize())
}

// Status returns a snapshot of every breaker, sorted by name.
func (m *BreakerManager) Status() []model.BreakerSnapshot {
	list := m.all()
	snaps := make([]model.BreakerSnapshot, 0, len(list))
	for _, cb := range list {
		snaps = append(snaps, cb.Snapshot())
	}
	sort.Slice(snaps, func(i, j int) bool { return snaps[i].Name < snaps[j].Name })
	return snaps
}

// Reset forces one breaker back to CLOSED. It reports whether a breaker
// with that name exists.
func (m *BreakerManager) Reset(ctx context.Context, name string) bool {
	m.mu.RLock()
	cb, ok := m.breakers[name]
	m.mu.RUnlock()
	if !ok {
		return false
	}
	if cb.Reset() && m.audit != nil {
		m.audit.LogBreakerReset(ctx, name)
	}
	return true
}

// ResetAll forces every breaker back to CLOSED and returns how many
// actually changed state or counters.
func (m *BreakerManager) ResetAll(ctx context.Context) int {
	changed := 0
	for _, cb := range m.all() {
		if cb.Reset() {
			changed++
			if m.audit != nil {
				m.audit.LogBreakerReset(ctx, cb.Name())
			}
		}
	}
	m.logger.Breaker("breakers reset", "changed", changed)
	return changed
}

// AddListener registers fn for every breaker state change. Each
// delivery runs on its own goroutine; a panic inside fn is recovered
// and logged.
func (m *BreakerManager) AddListener(fn func(model.StateChange)) {
	m.lmu.Lock()
	m.listeners = append(m.listeners, fn)
	m.lmu.Unlock()
}

// MonitorTick logs every breaker not currently CLOSED. The cron
// scheduler calls it once per monitoring period.
func (m *BreakerManager) MonitorTick() {
	unhealthy := 0
	for _, snap := range m.Status() {
		if snap.State == model.StateClosed.String() {
			continue
		}
		unhealthy++
		kvs := []interface{}{
			"breaker", snap.Name,
			"state", snap.State,
			"failure_count", snap.FailureCount,
		}
		if snap.NextAttemptTime != nil {
			kvs = append(kvs, "next_attempt", snap.NextAttemptTime.UTC().Format(time.RFC3339))
		}
		m.logger.Scheduler("breaker unhealthy", kvs...)
	}
	if unhealthy == 0 {
		m.logger.Scheduler("all breakers closed")
	}
}

func (m *BreakerManager) all() []*CircuitBreaker {
	m.mu.RLock()
	defer m.mu.RUnlock()
	list := make([]*CircuitBreaker, 0, len(m.breakers))
	for _, cb := range m.breakers {
		list = append(list, cb)
	}
	return list
}

func (m *BreakerManager) configFor(name string) model.BreakerConfig {
	if cfg, ok := m.rules[name]; ok {
		return cfg
	}
	return model.DefaultBreakerConfig()
}

func (m *BreakerManager) getOrCreate(name string, cfg model.BreakerConfig) *CircuitBreaker {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cb, ok := m.breakers[name]; ok {
		return cb
	}
	cb := NewCircuitBreaker(name, cfg)
	cb.onStateChange = m.handleChange
	m.breakers[name] = cb
	m.logger.Breaker("circuit breaker created",
		"breaker", name,
		"failure_threshold", cfg.FailureThreshold,
		"reset_timeout", cfg.ResetTimeout.String(),
		"half_open_max_calls", cfg.HalfOpenMaxCalls)
	return cb
}

// handleChange is installed as the per-breaker transition hook. It runs
// on the goroutine that completed the transitioning call, so everything
// slow here is pushed onto other goroutines or async sinks.
func (m *BreakerManager) handleChange(change model.StateChange) {
	ctx := context.Background()
	m.logTransition(change)
	if m.audit != nil {
		m.audit.LogBreakerTransition(ctx, change)
	}
	m.notify(change)
	m.fanOut(change)
}

func (m *BreakerManager) logTransition(change model.StateChange) {
	switch change.To {
	case model.StateOpen:
		m.logger.BreakerTripped(change.Breaker, change.FailureCount,
			change.NextAttempt.Sub(change.At).Milliseconds(),
			"from", change.From.String(),
			"last_error", change.LastError)
	case model.StateHalfOpen:
		m.logger.Breaker("circuit breaker half-open, probing",
			"breaker", change.Breaker)
	case model.StateClosed:
		if change.From == model.StateHalfOpen {
			m.logger.BreakerRecovered(change.Breaker, change.ProbeCount)
		} else {
			m.logger.Breaker("circuit breaker reset",
				"breaker", change.Breaker,
				"from", change.From.String())
		}
	}
}

func (m *BreakerManager) notify(change model.StateChange) {
	if m.notifier == nil || !strings.HasPrefix(change.Breaker, CriticalBreakerPrefix) {
		return
	}
	switch change.To {
	case model.StateOpen:
		m.emu.Lock()
		if _, ok := m.openedAt[change.Breaker]; !ok {
			m.openedAt[change.Breaker] = change.At
		}
		m.emu.Unlock()
		ev := &model.BreakerOpenedEvent{
			Breaker:      change.Breaker,
			FailureCount: change.FailureCount,
			OpenedAt:     change.At,
			NextAttempt:  change.NextAttempt,
			LastError:    change.LastError,
		}
		go func() {
			if err := m.notifier.NotifyBreakerOpened(context.Background(), ev); err != nil {
				m.logger.Warnw("msg", "breaker-open notification failed",
					"breaker", ev.Breaker, "error", err.Error())
			}
		}()
	case model.StateClosed:
		m.emu.Lock()
		opened, wasOpen := m.openedAt[change.Breaker]
		delete(m.openedAt, change.Breaker)
		m.emu.Unlock()
		if change.From != model.StateHalfOpen {
			return
		}
		ev := &model.BreakerRecoveredEvent{
			Breaker:    change.Breaker,
			ProbeCount: change.ProbeCount,
		}
		if wasOpen {
			ev.RecoverTime = change.At.Sub(opened)
		}
		go func() {
			if err := m.notifier.NotifyBreakerRecovered(context.Background(), ev); err != nil {
				m.logger.Warnw("msg", "breaker-recovered notification failed",
					"breaker", ev.Breaker, "error", err.Error())
			}
		}()
	}
}

func (m *BreakerManager) fanOut(change model.StateChange) {
	m.lmu.RLock()
	listeners := make([]func(model.StateChange), len(m.listeners))
	copy(listeners, m.listeners)
	m.lmu.RUnlock()
	for _, fn := range listeners {
		fn := fn
		go func() {
			defer func() {
				if r := recover(); r != nil {
					m.logger.Errorw("msg", "breaker listener panicked",
						"breaker", change.Breaker, "panic", r)
				}
			}()
			fn(change)
		}()
	}
}

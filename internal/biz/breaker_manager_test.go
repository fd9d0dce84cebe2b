package biz

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dylanallan/genesiswebapp-sub003/internal/conf"
	"github.com/dylanallan/genesiswebapp-sub003/internal/model"
)

// sourceToggle is one recorded LogSourceToggled call.
type sourceToggle struct {
	sourceID string
	enabled  bool
}

// recordingAudit captures audit calls for assertions.
type recordingAudit struct {
	mu          sync.Mutex
	transitions []model.StateChange
	resets      []string
	attempts    []*model.ProviderAttempt
	exhausted   []string
	calls       []*model.GatewayCallRecord
	toggles     []sourceToggle
}

func newRecordingAudit() *recordingAudit {
	return &recordingAudit{}
}

func (a *recordingAudit) LogBreakerTransition(_ context.Context, change model.StateChange) {
	a.mu.Lock()
	a.transitions = append(a.transitions, change)
	a.mu.Unlock()
}

func (a *recordingAudit) LogBreakerReset(_ context.Context, breaker string) {
	a.mu.Lock()
	a.resets = append(a.resets, breaker)
	a.mu.Unlock()
}

func (a *recordingAudit) LogProviderAttempt(_ context.Context, attempt *model.ProviderAttempt) {
	a.mu.Lock()
	a.attempts = append(a.attempts, attempt)
	a.mu.Unlock()
}

func (a *recordingAudit) LogFallbackExhausted(_ context.Context, classification, _ string, _ int, _ string) {
	a.mu.Lock()
	a.exhausted = append(a.exhausted, classification)
	a.mu.Unlock()
}

func (a *recordingAudit) LogGatewayCall(_ context.Context, call *model.GatewayCallRecord) {
	a.mu.Lock()
	a.calls = append(a.calls, call)
	a.mu.Unlock()
}

func (a *recordingAudit) LogSourceToggled(_ context.Context, sourceID string, enabled bool) {
	a.mu.Lock()
	a.toggles = append(a.toggles, sourceToggle{sourceID: sourceID, enabled: enabled})
	a.mu.Unlock()
}

func (a *recordingAudit) transitionCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.transitions)
}

// recordingNotifier captures breaker notifications.
type recordingNotifier struct {
	mu        sync.Mutex
	opened    []*model.BreakerOpenedEvent
	recovered []*model.BreakerRecoveredEvent
}

func (n *recordingNotifier) NotifyBreakerOpened(_ context.Context, ev *model.BreakerOpenedEvent) error {
	n.mu.Lock()
	n.opened = append(n.opened, ev)
	n.mu.Unlock()
	return nil
}

func (n *recordingNotifier) NotifyBreakerRecovered(_ context.Context, ev *model.BreakerRecoveredEvent) error {
	n.mu.Lock()
	n.recovered = append(n.recovered, ev)
	n.mu.Unlock()
	return nil
}

func (n *recordingNotifier) openedCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.opened)
}

func (n *recordingNotifier) recoveredCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.recovered)
}

func TestBreakerManager_AppliesConfiguredRules(t *testing.T) {
	rules := []*conf.BreakerRule{
		{Name: "openai", FailureThreshold: 2, ResetTimeout: 5 * time.Second, HalfOpenMaxCalls: 1},
	}
	m := NewBreakerManager(rules, nil, nil, log.DefaultLogger)

	cfg := m.GetBreaker("openai").Config()
	assert.Equal(t, 2, cfg.FailureThreshold)
	assert.Equal(t, 5*time.Second, cfg.ResetTimeout)
	assert.Equal(t, 1, cfg.HalfOpenMaxCalls)

	// Names without a rule get the defaults.
	def := model.DefaultBreakerConfig()
	assert.Equal(t, def, m.GetBreaker("unknown-upstream").Config())
}

func TestBreakerManager_GetBreakerReturnsSameInstance(t *testing.T) {
	m := NewBreakerManager(nil, nil, nil, log.DefaultLogger)

	first := m.GetBreaker("openai")
	assert.Same(t, first, m.GetBreaker("openai"))
}

func TestBreakerManager_ExistingBreakerKeepsConfig(t *testing.T) {
	m := NewBreakerManager(nil, nil, nil, log.DefaultLogger)

	first := m.GetBreakerWithConfig("openai", model.BreakerConfig{FailureThreshold: 2})
	second := m.GetBreakerWithConfig("openai", model.BreakerConfig{FailureThreshold: 9})

	assert.Same(t, first, second)
	assert.Equal(t, 2, second.Config().FailureThreshold)
}

func TestBreakerManager_StatusSortedByName(t *testing.T) {
	m := NewBreakerManager(nil, nil, nil, log.DefaultLogger)
	m.GetBreaker("charlie")
	m.GetBreaker("alpha")
	m.GetBreaker("bravo")

	snaps := m.Status()
	require.Len(t, snaps, 3)
	assert.Equal(t, "alpha", snaps[0].Name)
	assert.Equal(t, "bravo", snaps[1].Name)
	assert.Equal(t, "charlie", snaps[2].Name)
}

func TestBreakerManager_ResetUnknownBreaker(t *testing.T) {
	m := NewBreakerManager(nil, nil, nil, log.DefaultLogger)
	assert.False(t, m.Reset(context.Background(), "ghost"))
}

func TestBreakerManager_ResetRecordsAudit(t *testing.T) {
	audit := newRecordingAudit()
	rules := []*conf.BreakerRule{{Name: "openai", FailureThreshold: 1, ResetTimeout: time.Minute}}
	m := NewBreakerManager(rules, audit, nil, log.DefaultLogger)

	cb := m.GetBreaker("openai")
	tripBreaker(t, cb)

	assert.True(t, m.Reset(context.Background(), "openai"))
	assert.Equal(t, model.StateClosed, cb.State())

	audit.mu.Lock()
	defer audit.mu.Unlock()
	assert.Equal(t, []string{"openai"}, audit.resets)
}

func TestBreakerManager_ResetAllCountsChanged(t *testing.T) {
	rules := []*conf.BreakerRule{{Name: "down", FailureThreshold: 1, ResetTimeout: time.Minute}}
	m := NewBreakerManager(rules, nil, nil, log.DefaultLogger)

	tripBreaker(t, m.GetBreaker("down"))
	m.GetBreaker("healthy")

	assert.Equal(t, 1, m.ResetAll(context.Background()))
}

func TestBreakerManager_AuditsTransitions(t *testing.T) {
	audit := newRecordingAudit()
	rules := []*conf.BreakerRule{{Name: "openai", FailureThreshold: 1, ResetTimeout: time.Minute}}
	m := NewBreakerManager(rules, audit, nil, log.DefaultLogger)

	tripBreaker(t, m.GetBreaker("openai"))

	audit.mu.Lock()
	defer audit.mu.Unlock()
	require.Len(t, audit.transitions, 1)
	assert.Equal(t, "openai", audit.transitions[0].Breaker)
	assert.Equal(t, model.StateClosed, audit.transitions[0].From)
	assert.Equal(t, model.StateOpen, audit.transitions[0].To)
}

func TestBreakerManager_ListenersReceiveChanges(t *testing.T) {
	rules := []*conf.BreakerRule{{Name: "openai", FailureThreshold: 1, ResetTimeout: time.Minute}}
	m := NewBreakerManager(rules, nil, nil, log.DefaultLogger)

	received := make(chan model.StateChange, 4)
	m.AddListener(func(c model.StateChange) { received <- c })
	// A panicking listener must not take the others down.
	m.AddListener(func(model.StateChange) { panic("listener boom") })

	tripBreaker(t, m.GetBreaker("openai"))

	select {
	case change := <-received:
		assert.Equal(t, model.StateOpen, change.To)
	case <-time.After(2 * time.Second):
		t.Fatal("listener never received the state change")
	}
}

func TestBreakerManager_NotifiesOnlyCriticalBreakers(t *testing.T) {
	notifier := &recordingNotifier{}
	rules := []*conf.BreakerRule{
		{Name: "critical-payments-api", FailureThreshold: 1, ResetTimeout: time.Minute},
		{Name: "openai", FailureThreshold: 1, ResetTimeout: time.Minute},
	}
	m := NewBreakerManager(rules, nil, notifier, log.DefaultLogger)

	tripBreaker(t, m.GetBreaker("openai"))
	tripBreaker(t, m.GetBreaker("critical-payments-api"))

	assert.Eventually(t, func() bool { return notifier.openedCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	notifier.mu.Lock()
	defer notifier.mu.Unlock()
	require.Len(t, notifier.opened, 1)
	assert.Equal(t, "critical-payments-api", notifier.opened[0].Breaker)
	assert.Equal(t, 1, notifier.opened[0].FailureCount)
	assert.Equal(t, errUpstreamDown.Error(), notifier.opened[0].LastError)
}

func TestBreakerManager_RecoveryNotificationCarriesDowntime(t *testing.T) {
	notifier := &recordingNotifier{}
	rules := []*conf.BreakerRule{
		{Name: "critical-payments-api", FailureThreshold: 1, ResetTimeout: 30 * time.Second, HalfOpenMaxCalls: 2},
	}
	m := NewBreakerManager(rules, nil, notifier, log.DefaultLogger)

	clock := newFakeClock()
	cb := m.GetBreaker("critical-payments-api")
	cb.now = clock.Now

	tripBreaker(t, cb)
	clock.Advance(45 * time.Second)
	require.NoError(t, cb.Execute(context.Background(), okOp))
	require.NoError(t, cb.Execute(context.Background(), okOp))
	require.Equal(t, model.StateClosed, cb.State())

	assert.Eventually(t, func() bool { return notifier.recoveredCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	notifier.mu.Lock()
	defer notifier.mu.Unlock()
	require.Len(t, notifier.recovered, 1)
	assert.Equal(t, "critical-payments-api", notifier.recovered[0].Breaker)
	assert.Equal(t, 2, notifier.recovered[0].ProbeCount)
	assert.Equal(t, 45*time.Second, notifier.recovered[0].RecoverTime)
}

func TestBreakerManager_ConcurrentGetBreaker(t *testing.T) {
	m := NewBreakerManager(nil, nil, nil, log.DefaultLogger)

	var wg sync.WaitGroup
	results := make([]*CircuitBreaker, 16)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = m.GetBreaker("shared")
		}(i)
	}
	wg.Wait()

	for _, cb := range results {
		assert.Same(t, results[0], cb)
	}
	assert.Len(t, m.Status(), 1)
}

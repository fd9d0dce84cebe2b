package biz

import (
	"context"

	"github.com/dylanallan/genesiswebapp-sub003/internal/model"
)

// Notifier defines the interface for degraded-service notifications.
// The manager raises them when a critical breaker trips or recovers; the
// implementation in the data layer delivers them out of band.
type Notifier interface {
	// NotifyBreakerOpened sends a notification when a breaker trips OPEN.
	NotifyBreakerOpened(ctx context.Context, event *model.BreakerOpenedEvent) error

	// NotifyBreakerRecovered sends a notification when a breaker closes
	// again after successful probes.
	NotifyBreakerRecovered(ctx context.Context, event *model.BreakerRecoveredEvent) error
}

package data

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-kratos/kratos/v2/log"
	"gorm.io/gorm"

	"github.com/dylanallan/genesiswebapp-sub003/internal/model"
	pkgerrors "github.com/dylanallan/genesiswebapp-sub003/pkg/errors"
)

// OutboundAuditLog is the GORM model for the outbound_audit_logs table.
type OutboundAuditLog struct {
	ID        int64     `gorm:"primaryKey;column:id"`
	RequestID string    `gorm:"column:request_id;type:varchar(64);index"`
	Target    string    `gorm:"column:target;type:varchar(128);not null;index"`
	EventType string    `gorm:"column:event_type;type:varchar(50);not null"`
	Details   string    `gorm:"column:details;type:json"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
}

// TableName specifies the table name for GORM.
func (OutboundAuditLog) TableName() string {
	return "outbound_audit_logs"
}

// AuditTrailImpl implements biz.AuditTrail. Events are enqueued without
// blocking and written by a background goroutine; when the queue is
// full the event is dropped with a warning. A nil DB degrades to
// logging the events instead of persisting them.
type AuditTrailImpl struct {
	db      *gorm.DB
	logChan chan *OutboundAuditLog
	logger  *log.Helper
}

// NewAuditTrail creates the audit trail and starts its writer.
func NewAuditTrail(db *gorm.DB, logger log.Logger) *AuditTrailImpl {
	at := &AuditTrailImpl{
		db:      db,
		logChan: make(chan *OutboundAuditLog, 1000),
		logger:  log.NewHelper(logger),
	}

	go at.start()

	return at
}

// start drains the event channel for the lifetime of the process.
func (a *AuditTrailImpl) start() {
	for event := range a.logChan {
		if a.db == nil {
			a.logger.Debugw("msg", "audit event (db unavailable)",
				"event_type", event.EventType,
				"target", event.Target,
				"details", event.Details)
			continue
		}
		if err := a.db.WithContext(context.Background()).Create(event).Error; err != nil {
			dbErr := pkgerrors.ClassifyDBError(err)
			switch dbErr.Type {
			case pkgerrors.ErrorTypeConnectionError:
				a.logger.Errorw("msg", "database unreachable, audit event lost",
					"event_type", event.EventType,
					"target", event.Target,
					"error", dbErr.Error())
			case pkgerrors.ErrorTypeInvalidJSON, pkgerrors.ErrorTypeDataTooLong:
				// Bad details payload, the event itself is still worth a trace.
				a.logger.Warnw("msg", "audit event rejected by schema",
					"event_type", event.EventType,
					"target", event.Target,
					"details", event.Details,
					"error", dbErr.Error())
			default:
				a.logger.Errorw("msg", "failed to write audit log",
					"event_type", event.EventType,
					"target", event.Target,
					"error", dbErr.Error())
			}
		}
	}
}

// QueueDepth reports how many events are waiting to be written.
func (a *AuditTrailImpl) QueueDepth() int {
	return len(a.logChan)
}

// LogBreakerTransition records a circuit breaker state change.
func (a *AuditTrailImpl) LogBreakerTransition(_ context.Context, change model.StateChange) {
	var eventType string
	details := map[string]interface{}{
		"from": change.From.String(),
	}

	switch change.To {
	case model.StateOpen:
		eventType = model.AuditEventCircuitOpened
		details["failure_count"] = change.FailureCount
		details["next_attempt"] = change.NextAttempt.Format(time.RFC3339)
		if change.LastError != "" {
			details["last_error"] = change.LastError
		}
	case model.StateHalfOpen:
		eventType = model.AuditEventCircuitHalfOpen
	case model.StateClosed:
		eventType = model.AuditEventCircuitClosed
		details["probe_count"] = change.ProbeCount
	default:
		return
	}

	a.enqueue(&OutboundAuditLog{
		Target:    change.Breaker,
		EventType: eventType,
		Details:   a.marshalDetails(details),
	})
}

// LogBreakerReset records a manual reset of one breaker.
func (a *AuditTrailImpl) LogBreakerReset(_ context.Context, breaker string) {
	a.enqueue(&OutboundAuditLog{
		Target:    breaker,
		EventType: model.AuditEventCircuitReset,
		Details:   "{}",
	})
}

// LogProviderAttempt records one provider try of a routed request.
func (a *AuditTrailImpl) LogProviderAttempt(_ context.Context, attempt *model.ProviderAttempt) {
	eventType := model.AuditEventProviderAttempt
	if attempt.Served {
		eventType = model.AuditEventProviderServed
	}

	details := map[string]interface{}{
		"classification": attempt.Classification,
		"model":          attempt.Model,
		"committed":      attempt.Committed,
		"chunks":         attempt.Chunks,
		"bytes":          attempt.Bytes,
		"duration_ms":    attempt.Duration.Milliseconds(),
	}
	if attempt.Err != "" {
		details["error"] = attempt.Err
	}

	a.enqueue(&OutboundAuditLog{
		RequestID: attempt.RequestID,
		Target:    attempt.Provider,
		EventType: eventType,
		Details:   a.marshalDetails(details),
	})
}

// LogFallbackExhausted records a routed request that failed every
// candidate without committing.
func (a *AuditTrailImpl) LogFallbackExhausted(_ context.Context, classification, lastProvider string, attempts int, lastErr string) {
	details := map[string]interface{}{
		"attempts":      attempts,
		"last_provider": lastProvider,
	}
	if lastErr != "" {
		details["last_error"] = lastErr
	}

	a.enqueue(&OutboundAuditLog{
		Target:    classification,
		EventType: model.AuditEventFallbackExhaust,
		Details:   a.marshalDetails(details),
	})
}

// LogGatewayCall records one gateway call and how it was answered.
func (a *AuditTrailImpl) LogGatewayCall(_ context.Context, call *model.GatewayCallRecord) {
	eventType := model.AuditEventGatewayCall
	switch {
	case call.RateLimited:
		eventType = model.AuditEventGatewayRateLimit
	case call.CacheHit:
		eventType = model.AuditEventGatewayCacheHit
	}

	details := map[string]interface{}{
		"endpoint":    call.Endpoint,
		"status":      call.Status,
		"duration_ms": call.Duration.Milliseconds(),
	}
	if call.Err != "" {
		details["error"] = call.Err
	}

	a.enqueue(&OutboundAuditLog{
		RequestID: call.RequestID,
		Target:    call.SourceID,
		EventType: eventType,
		Details:   a.marshalDetails(details),
	})
}

// LogSourceToggled records an admin enable/disable of a source.
func (a *AuditTrailImpl) LogSourceToggled(_ context.Context, sourceID string, enabled bool) {
	a.enqueue(&OutboundAuditLog{
		Target:    sourceID,
		EventType: model.AuditEventSourceToggled,
		Details:   a.marshalDetails(map[string]interface{}{"enabled": enabled}),
	})
}

// enqueue sends the event to the writer without blocking.
func (a *AuditTrailImpl) enqueue(event *OutboundAuditLog) {
	select {
	case a.logChan <- event:
	default:
		a.logger.Warnw("msg", "audit log channel full, dropping event",
			"event_type", event.EventType,
			"target", event.Target)
	}
}

// marshalDetails renders the details column, "{}" on marshal failure.
func (a *AuditTrailImpl) marshalDetails(details map[string]interface{}) string {
	payload, err := json.Marshal(details)
	if err != nil {
		a.logger.Errorw("msg", "failed to marshal audit log details", "error", err.Error())
		return "{}"
	}
	return string(payload)
}

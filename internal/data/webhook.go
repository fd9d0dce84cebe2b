package data

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-kratos/kratos/v2/log"

	"github.com/dylanallan/genesiswebapp-sub003/internal/model"
)

// webhookTimeout bounds one notification delivery.
const webhookTimeout = 10 * time.Second

// LogNotifier implements biz.Notifier by logging the events. It is the
// fallback when no webhook is configured.
type LogNotifier struct {
	logger *log.Helper
}

// NewLogNotifier creates a log-only notifier.
func NewLogNotifier(logger log.Logger) *LogNotifier {
	return &LogNotifier{
		logger: log.NewHelper(logger),
	}
}

// NotifyBreakerOpened logs the opened event.
func (n *LogNotifier) NotifyBreakerOpened(_ context.Context, event *model.BreakerOpenedEvent) error {
	n.logger.Warnw("msg", "circuit breaker opened (webhook disabled)",
		"breaker", event.Breaker,
		"failure_count", event.FailureCount,
		"next_attempt", event.NextAttempt.Format(time.RFC3339))
	return nil
}

// NotifyBreakerRecovered logs the recovered event.
func (n *LogNotifier) NotifyBreakerRecovered(_ context.Context, event *model.BreakerRecoveredEvent) error {
	n.logger.Infow("msg", "circuit breaker recovered (webhook disabled)",
		"breaker", event.Breaker,
		"probe_count", event.ProbeCount,
		"recover_time", event.RecoverTime.String())
	return nil
}

// WebhookNotifier implements biz.Notifier by POSTing breaker events to
// a configured webhook endpoint.
type WebhookNotifier struct {
	url    string
	client *http.Client
	logger *log.Helper
}

// NewWebhookNotifier creates a webhook notifier for the given URL.
func NewWebhookNotifier(url string, logger log.Logger) *WebhookNotifier {
	return &WebhookNotifier{
		url:    url,
		client: &http.Client{Timeout: webhookTimeout},
		logger: log.NewHelper(logger),
	}
}

// NotifyBreakerOpened delivers the opened event.
func (n *WebhookNotifier) NotifyBreakerOpened(ctx context.Context, event *model.BreakerOpenedEvent) error {
	payload := map[string]interface{}{
		"event":         "breaker_opened",
		"breaker":       event.Breaker,
		"failure_count": event.FailureCount,
		"opened_at":     event.OpenedAt.Format(time.RFC3339),
		"next_attempt":  event.NextAttempt.Format(time.RFC3339),
	}
	if event.LastError != "" {
		payload["last_error"] = event.LastError
	}
	return n.post(ctx, payload)
}

// NotifyBreakerRecovered delivers the recovered event.
func (n *WebhookNotifier) NotifyBreakerRecovered(ctx context.Context, event *model.BreakerRecoveredEvent) error {
	return n.post(ctx, map[string]interface{}{
		"event":                "breaker_recovered",
		"breaker":              event.Breaker,
		"probe_count":          event.ProbeCount,
		"recover_time_seconds": event.RecoverTime.Seconds(),
	})
}

// post sends one JSON payload to the webhook endpoint.
func (n *WebhookNotifier) post(ctx context.Context, payload map[string]interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", UserAgent)

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to deliver webhook: %w", err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

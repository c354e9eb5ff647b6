// Package webhook delivers domain events to registered subscriber URLs with
// at-least-once semantics. Every attempt stream is tracked in a delivery
// record; failed deliveries are retried by a background sweep until the retry
// budget runs out.
package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/kaiwen/docverify/internal/application/port"
	"github.com/kaiwen/docverify/internal/domain/entity"
	"github.com/kaiwen/docverify/internal/domain/event"
)

// Delivery limits
const (
	maxResponseBodyBytes = 1000
	defaultMaxRetries    = 3
	defaultTimeout       = 10 * time.Second
	retryBatchSize       = 50
)

// Notifier fans events out to subscribed endpoints
type Notifier struct {
	webhookRepo port.WebhookRepository
	client      *http.Client
	logger      *zap.Logger
	maxRetries  int
}

// NewNotifier creates a webhook notifier
func NewNotifier(webhookRepo port.WebhookRepository, logger *zap.Logger) *Notifier {
	return &Notifier{
		webhookRepo: webhookRepo,
		client:      &http.Client{Timeout: defaultTimeout},
		logger:      logger,
		maxRetries:  defaultMaxRetries,
	}
}

// NotifyEvent creates one delivery per subscribed endpoint and attempts each
// immediately. A failed attempt leaves a failed delivery record for the retry
// sweep; it never propagates an error to the event producer.
func (n *Notifier) NotifyEvent(ctx context.Context, evt *event.Event) error {
	endpoints, err := n.webhookRepo.ListActiveEndpoints(ctx)
	if err != nil {
		return fmt.Errorf("list endpoints: %w", err)
	}

	payload, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal event %s: %w", evt.ID, err)
	}

	for _, ep := range endpoints {
		if !ep.SubscribedTo(evt.Type.String()) {
			continue
		}

		delivery := entity.NewWebhookDelivery(ep.URL, evt.Type.String(), string(payload), evt.DocumentID)
		if err := n.webhookRepo.CreateDelivery(ctx, delivery); err != nil {
			n.logger.Error("Failed to create delivery record",
				zap.Error(err),
				zap.String("url", ep.URL),
				zap.String("event_id", evt.ID))
			continue
		}

		n.attempt(ctx, delivery, ep.Secret)
	}
	return nil
}

// Handler adapts the notifier to the event dispatcher
func (n *Notifier) Handler() func(ctx context.Context, evt *event.Event) error {
	return n.NotifyEvent
}

// RetryFailed re-attempts failed deliveries that still have retry budget.
// Returns the number of deliveries attempted.
func (n *Notifier) RetryFailed(ctx context.Context) (int, error) {
	deliveries, err := n.webhookRepo.ListFailedDeliveries(ctx, n.maxRetries, retryBatchSize)
	if err != nil {
		return 0, fmt.Errorf("list failed deliveries: %w", err)
	}
	if len(deliveries) == 0 {
		return 0, nil
	}

	// Secrets live on the endpoint, not the delivery record. Each delivery
	// resolves its own endpoint so re-keyed or deactivated endpoints still
	// get retries signed with their current secret.
	secrets := make(map[string]string)
	for _, d := range deliveries {
		secret, ok := secrets[d.WebhookURL]
		if !ok {
			if ep, err := n.webhookRepo.GetEndpointByURL(ctx, d.WebhookURL); err == nil {
				secret = ep.Secret
			} else {
				n.logger.Warn("No endpoint record for delivery, retrying unsigned",
					zap.String("delivery_id", d.ID),
					zap.String("url", d.WebhookURL),
					zap.Error(err))
			}
			secrets[d.WebhookURL] = secret
		}

		d.RetryCount++
		n.attempt(ctx, d, secret)
	}
	return len(deliveries), nil
}

// attempt performs one HTTP POST and records the outcome on the delivery
func (n *Notifier) attempt(ctx context.Context, d *entity.WebhookDelivery, secret string) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.WebhookURL, bytes.NewReader([]byte(d.Payload)))
	if err != nil {
		n.recordFailure(ctx, d, 0, "", err)
		return
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Webhook-Event", d.EventType)
	req.Header.Set("X-Webhook-Delivery", d.ID)
	if secret != "" {
		req.Header.Set("X-Webhook-Signature", Sign(secret, d.Payload))
	}

	resp, err := n.client.Do(req)
	if err != nil {
		n.recordFailure(ctx, d, 0, "", err)
		return
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBodyBytes))

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		now := time.Now().UTC()
		d.Status = entity.DeliveryStatusDelivered
		d.ResponseStatus = resp.StatusCode
		d.ResponseBody = string(body)
		d.ErrorMessage = ""
		d.DeliveredAt = &now
		if err := n.webhookRepo.UpdateDelivery(ctx, d); err != nil {
			n.logger.Error("Failed to record delivery", zap.Error(err), zap.String("delivery_id", d.ID))
		}
		n.logger.Info("Webhook delivered",
			zap.String("delivery_id", d.ID),
			zap.String("event_type", d.EventType),
			zap.Int("status", resp.StatusCode))
		return
	}

	n.recordFailure(ctx, d, resp.StatusCode, string(body),
		fmt.Errorf("unexpected status %d", resp.StatusCode))
}

func (n *Notifier) recordFailure(ctx context.Context, d *entity.WebhookDelivery, status int, body string, cause error) {
	d.Status = entity.DeliveryStatusFailed
	d.ResponseStatus = status
	d.ResponseBody = body
	d.ErrorMessage = cause.Error()
	if err := n.webhookRepo.UpdateDelivery(ctx, d); err != nil {
		n.logger.Error("Failed to record delivery failure", zap.Error(err), zap.String("delivery_id", d.ID))
	}

	n.logger.Warn("Webhook delivery failed",
		zap.String("delivery_id", d.ID),
		zap.String("url", d.WebhookURL),
		zap.Int("retry_count", d.RetryCount),
		zap.Error(cause))
}

// Sign computes the hex HMAC-SHA256 of the payload under the endpoint secret
func Sign(secret, payload string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}

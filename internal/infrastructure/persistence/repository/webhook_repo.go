package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kaiwen/docverify/internal/application/port"
	"github.com/kaiwen/docverify/internal/domain/entity"
)

// WebhookRepository implements port.WebhookRepository
type WebhookRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewWebhookRepository creates a new webhook repository
func NewWebhookRepository(db *sql.DB, logger *zap.Logger) port.WebhookRepository {
	return &WebhookRepository{
		db:     db,
		logger: logger,
	}
}

// CreateEndpoint registers a subscriber endpoint
func (r *WebhookRepository) CreateEndpoint(ctx context.Context, ep *entity.WebhookEndpoint) error {
	eventTypes, err := marshalJSON(ep.EventTypes)
	if err != nil {
		return err
	}

	_, err = executorFor(ctx, r.db).ExecContext(ctx, `
		INSERT INTO webhook_endpoints (id, url, event_types, secret, active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		ep.ID, ep.URL, eventTypes, ep.Secret, ep.Active, ep.CreatedAt, nullTime(ep.UpdatedAt),
	)
	if err != nil {
		r.logger.Error("Failed to create endpoint", zap.Error(err), zap.String("url", ep.URL))
		return fmt.Errorf("create endpoint: %w", err)
	}
	return nil
}

// GetEndpoint retrieves one endpoint by ID
func (r *WebhookRepository) GetEndpoint(ctx context.Context, id string) (*entity.WebhookEndpoint, error) {
	row := executorFor(ctx, r.db).QueryRowContext(ctx, `
		SELECT id, url, event_types, secret, active, created_at, updated_at
		FROM webhook_endpoints WHERE id = ?`, id)

	ep, err := r.scanEndpoint(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("endpoint %s: %w", id, entity.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get endpoint: %w", err)
	}
	return ep, nil
}

// GetEndpointByURL retrieves an endpoint by its URL, active or not. Delivery
// records reference endpoints by URL, so retries resolve secrets through here.
func (r *WebhookRepository) GetEndpointByURL(ctx context.Context, url string) (*entity.WebhookEndpoint, error) {
	row := executorFor(ctx, r.db).QueryRowContext(ctx, `
		SELECT id, url, event_types, secret, active, created_at, updated_at
		FROM webhook_endpoints WHERE url = ?`, url)

	ep, err := r.scanEndpoint(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("endpoint %s: %w", url, entity.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get endpoint by url: %w", err)
	}
	return ep, nil
}

// ListActiveEndpoints returns all active subscriber endpoints
func (r *WebhookRepository) ListActiveEndpoints(ctx context.Context) ([]*entity.WebhookEndpoint, error) {
	rows, err := executorFor(ctx, r.db).QueryContext(ctx, `
		SELECT id, url, event_types, secret, active, created_at, updated_at
		FROM webhook_endpoints WHERE active = 1 ORDER BY created_at ASC`)
	if err != nil {
		r.logger.Error("Failed to list endpoints", zap.Error(err))
		return nil, fmt.Errorf("list endpoints: %w", err)
	}
	defer rows.Close()

	var endpoints []*entity.WebhookEndpoint
	for rows.Next() {
		ep, err := r.scanEndpoint(rows)
		if err != nil {
			return nil, fmt.Errorf("scan endpoint: %w", err)
		}
		endpoints = append(endpoints, ep)
	}
	return endpoints, rows.Err()
}

// UpdateEndpoint persists endpoint changes
func (r *WebhookRepository) UpdateEndpoint(ctx context.Context, ep *entity.WebhookEndpoint) error {
	eventTypes, err := marshalJSON(ep.EventTypes)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	ep.UpdatedAt = &now

	result, err := executorFor(ctx, r.db).ExecContext(ctx, `
		UPDATE webhook_endpoints
		SET url = ?, event_types = ?, secret = ?, active = ?, updated_at = ?
		WHERE id = ?`,
		ep.URL, eventTypes, ep.Secret, ep.Active, nullTime(ep.UpdatedAt), ep.ID,
	)
	if err != nil {
		r.logger.Error("Failed to update endpoint", zap.Error(err), zap.String("id", ep.ID))
		return fmt.Errorf("update endpoint: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("endpoint %s: %w", ep.ID, entity.ErrNotFound)
	}
	return nil
}

// CreateDelivery inserts a delivery record
func (r *WebhookRepository) CreateDelivery(ctx context.Context, d *entity.WebhookDelivery) error {
	_, err := executorFor(ctx, r.db).ExecContext(ctx, `
		INSERT INTO webhook_deliveries (
			id, webhook_url, event_type, payload, resource_id, status,
			retry_count, response_status, response_body, error_message,
			delivered_at, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.WebhookURL, d.EventType, d.Payload, d.ResourceID, d.Status,
		d.RetryCount, d.ResponseStatus, d.ResponseBody, d.ErrorMessage,
		nullTime(d.DeliveredAt), d.CreatedAt,
	)
	if err != nil {
		r.logger.Error("Failed to create delivery", zap.Error(err), zap.String("id", d.ID))
		return fmt.Errorf("create delivery: %w", err)
	}
	return nil
}

// UpdateDelivery persists delivery outcome changes
func (r *WebhookRepository) UpdateDelivery(ctx context.Context, d *entity.WebhookDelivery) error {
	result, err := executorFor(ctx, r.db).ExecContext(ctx, `
		UPDATE webhook_deliveries
		SET status = ?, retry_count = ?, response_status = ?,
			response_body = ?, error_message = ?, delivered_at = ?
		WHERE id = ?`,
		d.Status, d.RetryCount, d.ResponseStatus, d.ResponseBody,
		d.ErrorMessage, nullTime(d.DeliveredAt), d.ID,
	)
	if err != nil {
		r.logger.Error("Failed to update delivery", zap.Error(err), zap.String("id", d.ID))
		return fmt.Errorf("update delivery: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("delivery %s: %w", d.ID, entity.ErrNotFound)
	}
	return nil
}

// ListFailedDeliveries returns failed deliveries with retry budget remaining,
// oldest first
func (r *WebhookRepository) ListFailedDeliveries(ctx context.Context, maxRetries, limit int) ([]*entity.WebhookDelivery, error) {
	rows, err := executorFor(ctx, r.db).QueryContext(ctx, `
		SELECT id, webhook_url, event_type, payload, resource_id, status,
			retry_count, response_status, response_body, error_message,
			delivered_at, created_at
		FROM webhook_deliveries
		WHERE status = ? AND retry_count < ?
		ORDER BY created_at ASC LIMIT ?`,
		entity.DeliveryStatusFailed, maxRetries, limit)
	if err != nil {
		r.logger.Error("Failed to list failed deliveries", zap.Error(err))
		return nil, fmt.Errorf("list failed deliveries: %w", err)
	}
	defer rows.Close()

	var deliveries []*entity.WebhookDelivery
	for rows.Next() {
		var d entity.WebhookDelivery
		var deliveredAt sql.NullTime
		err := rows.Scan(
			&d.ID, &d.WebhookURL, &d.EventType, &d.Payload, &d.ResourceID,
			&d.Status, &d.RetryCount, &d.ResponseStatus, &d.ResponseBody,
			&d.ErrorMessage, &deliveredAt, &d.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan delivery: %w", err)
		}
		d.DeliveredAt = timePtr(deliveredAt)
		deliveries = append(deliveries, &d)
	}
	return deliveries, rows.Err()
}

// CountDeliveriesByStatus aggregates delivery counts per status
func (r *WebhookRepository) CountDeliveriesByStatus(ctx context.Context) (map[string]int, error) {
	rows, err := executorFor(ctx, r.db).QueryContext(ctx,
		`SELECT status, COUNT(*) FROM webhook_deliveries GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("count deliveries: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan delivery count: %w", err)
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

func (r *WebhookRepository) scanEndpoint(row rowScanner) (*entity.WebhookEndpoint, error) {
	var ep entity.WebhookEndpoint
	var eventTypes string
	var updatedAt sql.NullTime

	err := row.Scan(&ep.ID, &ep.URL, &eventTypes, &ep.Secret, &ep.Active, &ep.CreatedAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	ep.UpdatedAt = timePtr(updatedAt)
	if err := unmarshalJSON(eventTypes, &ep.EventTypes); err != nil {
		return nil, err
	}
	return &ep, nil
}

// Verify interface compliance
var _ port.WebhookRepository = (*WebhookRepository)(nil)

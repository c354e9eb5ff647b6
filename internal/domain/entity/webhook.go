package entity

import (
	"time"

	"github.com/google/uuid"
)

// Webhook delivery status constants
const (
	DeliveryStatusPending   = "pending"
	DeliveryStatusDelivered = "delivered"
	DeliveryStatusFailed    = "failed"
)

// WebhookEndpoint is a registered subscriber URL with the event types it
// wants. An empty EventTypes list subscribes to everything.
type WebhookEndpoint struct {
	ID         string     `json:"id"`
	URL        string     `json:"url"`
	EventTypes []string   `json:"event_types,omitempty"`
	Secret     string     `json:"secret,omitempty"`
	Active     bool       `json:"active"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  *time.Time `json:"updated_at,omitempty"`
}

// NewWebhookEndpoint registers a subscriber for the given event types
func NewWebhookEndpoint(url string, eventTypes []string) *WebhookEndpoint {
	return &WebhookEndpoint{
		ID:         uuid.NewString(),
		URL:        url,
		EventTypes: eventTypes,
		Active:     true,
		CreatedAt:  time.Now().UTC(),
	}
}

// SubscribedTo reports whether the endpoint wants the given event type
func (e *WebhookEndpoint) SubscribedTo(eventType string) bool {
	if !e.Active {
		return false
	}
	if len(e.EventTypes) == 0 {
		return true
	}
	for _, t := range e.EventTypes {
		if t == eventType {
			return true
		}
	}
	return false
}

// WebhookDelivery records one attempt stream to deliver one event to one
/// subscriber URL. ResourceID is polymorphic: a document, verification or
// task identifier depending on the event.
type WebhookDelivery struct {
	ID             string     `json:"id"`
	WebhookURL     string     `json:"webhook_url"`
	EventType      string     `json:"event_type"`
	Payload        string     `json:"payload"`
	ResourceID     string     `json:"resource_id"`
	Status         string     `json:"status"`
	RetryCount     int        `json:"retry_count"`
	ResponseStatus int        `json:"response_status,omitempty"`
	ResponseBody   string     `json:"response_body,omitempty"`
	ErrorMessage   string     `json:"error_message,omitempty"`
	DeliveredAt    *time.Time `json:"delivered_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

// NewWebhookDelivery creates a pending delivery for one subscriber
func NewWebhookDelivery(url, eventType, payload, resourceID string) *WebhookDelivery {
	return &WebhookDelivery{
		ID:         uuid.NewString(),
		WebhookURL: url,
		EventType:  eventType,
		Payload:    payload,
		ResourceID: resourceID,
		Status:     DeliveryStatusPending,
		CreatedAt:  time.Now().UTC(),
	}
}

package domain

import "time"

// EventType names a lifecycle event delivered to webhook subscribers.
type EventType string

// Lifecycle events.
const (
	EventNotificationCreated  EventType = "notification.created"
	EventNotificationSent     EventType = "notification.sent"
	EventNotificationFailed   EventType = "notification.failed"
	EventNotificationRetrying EventType = "notification.retrying"
	EventNotificationDead     EventType = "notification.dead"
)

// EventTypeAny subscribes to every event type.
const EventTypeAny EventType = "*"

// Event is the envelope fanned out to webhook subscribers.
type Event struct {
	ID             string         `json:"-"`
	Type           EventType      `json:"event_type"`
	NotificationID string         `json:"notification_id,omitempty"`
	Timestamp      time.Time      `json:"timestamp"`
	Data           map[string]any `json:"data"`
}

// WebhookSubscription is a registered callback URL for one event type.
type WebhookSubscription struct {
	ID        string    `json:"id"`
	URL       string    `json:"url"`
	EventType EventType `json:"event_type"`
	Secret    string    `json:"-"`
	HasSecret bool      `json:"has_secret"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Matches reports whether the subscription should receive events of type t.
func (s *WebhookSubscription) Matches(t EventType) bool {
	return s.Active && (s.EventType == t || s.EventType == EventTypeAny)
}

// Package domain contains the core types shared by the delivery engine.
package domain

import "time"

// Channel is a delivery medium.
type Channel string

// Supported channels.
const (
	ChannelEmail Channel = "email"
	ChannelSMS   Channel = "sms"
	ChannelPush  Channel = "push"
)

// IsValid reports whether c is a known channel.
func (c Channel) IsValid() bool {
	switch c {
	case ChannelEmail, ChannelSMS, ChannelPush:
		return true
	}
	return false
}

// Channels returns all supported channels.
func Channels() []Channel {
	return []Channel{ChannelEmail, ChannelSMS, ChannelPush}
}

// NotificationStatus is the lifecycle state of a notification.
type NotificationStatus string

// Notification statuses.
// StatusFailed is accepted when reading stored records but never written by the worker:
// a failed attempt moves the record back to pending or on to dead.
const (
	StatusPending  NotificationStatus = "pending"
	StatusInFlight NotificationStatus = "in_flight"
	StatusSent     NotificationStatus = "sent"
	StatusFailed   NotificationStatus = "failed"
	StatusDead     NotificationStatus = "dead"
)

// IsTerminal reports whether no further transitions are allowed from s.
func (s NotificationStatus) IsTerminal() bool {
	return s == StatusSent || s == StatusDead
}

// Notification is a single request to deliver one message to one recipient on one channel.
type Notification struct {
	ID            string             `json:"id"`
	Recipient     string             `json:"recipient"`
	Channel       Channel            `json:"channel"`
	TemplateName  string             `json:"template_name,omitempty"`
	Payload       map[string]any     `json:"payload"`
	Status        NotificationStatus `json:"status"`
	Attempts      int                `json:"attempts"`
	NextAttemptAt time.Time          `json:"next_attempt_at"`
	ScheduledAt   *time.Time         `json:"scheduled_at,omitempty"`
	ClaimToken    string             `json:"-"`
	ClaimedAt     *time.Time         `json:"-"`
	LastError     string             `json:"last_error,omitempty"`
	CreatedAt     time.Time          `json:"created_at"`
	UpdatedAt     time.Time          `json:"updated_at"`
	SentAt        *time.Time         `json:"sent_at,omitempty"`
}

// IsDue reports whether the notification is eligible for a claim at now.
func (n *Notification) IsDue(now time.Time) bool {
	if n.Status != StatusPending {
		return false
	}
	if now.Before(n.NextAttemptAt) {
		return false
	}
	if n.ScheduledAt != nil && now.Before(*n.ScheduledAt) {
		return false
	}
	return true
}

// Outcome is the classified result of one delivery attempt.
type Outcome string

// Attempt outcomes.
const (
	OutcomeSuccess          Outcome = "success"
	OutcomeRetryableFailure Outcome = "retryable_failure"
	OutcomePermanentFailure Outcome = "permanent_failure"
)

// DeliveryLogEntry is an immutable audit record of one delivery attempt.
type DeliveryLogEntry struct {
	ID             string    `json:"id"`
	NotificationID string    `json:"notification_id"`
	Channel        Channel   `json:"channel"`
	Attempt        int       `json:"attempt"`
	Outcome        Outcome   `json:"outcome"`
	StatusCode     int       `json:"status_code,omitempty"`
	Response       string    `json:"response,omitempty"`
	Error          string    `json:"error,omitempty"`
	DurationMs     int64     `json:"duration_ms"`
	CreatedAt      time.Time `json:"created_at"`
}

// QueueStats holds notification counts by status.
type QueueStats struct {
	Pending  int64
	InFlight int64
	Sent     int64
	Dead     int64
}

// Package memory provides an in-process implementation of notifications.Repository.
//
// A single mutex stands in for row-level atomicity: every conditional update
// checks its predicate and applies its change in one critical section, which
// gives the same claim guarantees as the PostgreSQL implementation.
package memory

import (
	"context"
	"fmt"
	"maps"
	"sort"
	"sync"
	"time"

	"github.com/amodvardhan/notification-engine/internal/domain"
	"github.com/amodvardhan/notification-engine/internal/notifications"
)

type templateKey struct {
	name    string
	channel domain.Channel
}

// Repository implements notifications.Repository in memory.
type Repository struct {
	mu            sync.Mutex
	notifications map[string]*domain.Notification
	logs          map[string][]domain.DeliveryLogEntry
	templates     map[templateKey]domain.Template
}

// NewRepository creates an empty in-memory repository.
func NewRepository() *Repository {
	return &Repository{
		notifications: make(map[string]*domain.Notification),
		logs:          make(map[string][]domain.DeliveryLogEntry),
		templates:     make(map[templateKey]domain.Template),
	}
}

var _ notifications.Repository = (*Repository)(nil)

// CreateNotification stores a new notification.
func (r *Repository) CreateNotification(_ context.Context, n *domain.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.notifications[n.ID]; exists {
		return fmt.Errorf("create notification: duplicate id %s", n.ID)
	}
	r.notifications[n.ID] = clone(n)
	return nil
}

// GetNotification returns a copy of the stored notification.
func (r *Repository) GetNotification(_ context.Context, id string) (*domain.Notification, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	n, ok := r.notifications[id]
	if !ok {
		return nil, notifications.ErrNotificationNotFound
	}
	return clone(n), nil
}

// FetchDue returns ids of due pending notifications, oldest next_attempt_at first.
func (r *Repository) FetchDue(_ context.Context, now time.Time, limit int) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	due := make([]*domain.Notification, 0)
	for _, n := range r.notifications {
		if n.IsDue(now) {
			due = append(due, n)
		}
	}

	sort.Slice(due, func(i, j int) bool {
		if !due[i].NextAttemptAt.Equal(due[j].NextAttemptAt) {
			return due[i].NextAttemptAt.Before(due[j].NextAttemptAt)
		}
		return due[i].CreatedAt.Before(due[j].CreatedAt)
	})

	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}

	ids := make([]string, 0, len(due))
	for _, n := range due {
		ids = append(ids, n.ID)
	}
	return ids, nil
}

// Claim moves a due pending notification to in_flight under token.
func (r *Repository) Claim(_ context.Context, id, token string, now time.Time) (*domain.Notification, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	n, ok := r.notifications[id]
	if !ok || !n.IsDue(now) {
		return nil, notifications.ErrNotClaimed
	}

	claimedAt := now
	n.Status = domain.StatusInFlight
	n.ClaimToken = token
	n.ClaimedAt = &claimedAt
	n.UpdatedAt = now

	return clone(n), nil
}

// CompleteAttempt applies the transition and appends the log entry if the claim is still held.
func (r *Repository) CompleteAttempt(_ context.Context, c notifications.Completion) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	n, ok := r.notifications[c.NotificationID]
	if !ok {
		return notifications.ErrNotificationNotFound
	}
	if n.Status != domain.StatusInFlight || n.ClaimToken != c.ClaimToken {
		return notifications.ErrClaimLost
	}

	n.Status = c.Status
	n.Attempts = c.Attempts
	n.NextAttemptAt = c.NextAttemptAt
	n.LastError = c.LastError
	n.SentAt = c.SentAt
	n.ClaimToken = ""
	n.ClaimedAt = nil
	n.UpdatedAt = c.Log.CreatedAt

	r.logs[n.ID] = append(r.logs[n.ID], c.Log)
	return nil
}

// ReapStalled returns in_flight notifications claimed before claimedBefore to pending.
func (r *Repository) ReapStalled(_ context.Context, claimedBefore, now time.Time, limit int) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	reaped := 0
	for _, n := range r.notifications {
		if limit > 0 && reaped >= limit {
			break
		}
		if n.Status != domain.StatusInFlight || n.ClaimedAt == nil || !n.ClaimedAt.Before(claimedBefore) {
			continue
		}
		n.Status = domain.StatusPending
		n.ClaimToken = ""
		n.ClaimedAt = nil
		n.NextAttemptAt = now
		n.UpdatedAt = now
		reaped++
	}
	return reaped, nil
}

// GetQueueStats returns notification counts by status.
func (r *Repository) GetQueueStats(_ context.Context) (*domain.QueueStats, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var stats domain.QueueStats
	for _, n := range r.notifications {
		switch n.Status {
		case domain.StatusPending:
			stats.Pending++
		case domain.StatusInFlight:
			stats.InFlight++
		case domain.StatusSent:
			stats.Sent++
		case domain.StatusDead:
			stats.Dead++
		}
	}
	return &stats, nil
}

// ListLogs returns the delivery log of a notification in attempt order.
func (r *Repository) ListLogs(_ context.Context, notificationID string) ([]domain.DeliveryLogEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.notifications[notificationID]; !ok {
		return nil, notifications.ErrNotificationNotFound
	}

	logs := make([]domain.DeliveryLogEntry, len(r.logs[notificationID]))
	copy(logs, r.logs[notificationID])
	return logs, nil
}

// UpsertTemplate creates or replaces the template for (name, channel).
func (r *Repository) UpsertTemplate(_ context.Context, t *domain.Template) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := templateKey{name: t.Name, channel: t.Channel}
	if existing, ok := r.templates[key]; ok {
		t.CreatedAt = existing.CreatedAt
	}
	r.templates[key] = *t
	return nil
}

// GetTemplate returns the template for (name, channel).
func (r *Repository) GetTemplate(_ context.Context, name string, channel domain.Channel) (*domain.Template, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.templates[templateKey{name: name, channel: channel}]
	if !ok {
		return nil, notifications.ErrTemplateNotFound
	}
	return &t, nil
}

// ListTemplates returns all templates ordered by name and channel.
func (r *Repository) ListTemplates(_ context.Context) ([]domain.Template, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]domain.Template, 0, len(r.templates))
	for _, t := range r.templates {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].Channel < out[j].Channel
	})
	return out, nil
}

func clone(n *domain.Notification) *domain.Notification {
	c := *n
	c.Payload = maps.Clone(n.Payload)
	if n.ScheduledAt != nil {
		t := *n.ScheduledAt
		c.ScheduledAt = &t
	}
	if n.ClaimedAt != nil {
		t := *n.ClaimedAt
		c.ClaimedAt = &t
	}
	if n.SentAt != nil {
		t := *n.SentAt
		c.SentAt = &t
	}
	return &c
}

// Package memory provides an in-process implementation of webhooks.Repository.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/amodvardhan/notification-engine/internal/domain"
	"github.com/amodvardhan/notification-engine/internal/webhooks"
)

// Repository implements webhooks.Repository in memory.
type Repository struct {
	mu   sync.RWMutex
	subs map[string]domain.WebhookSubscription
}

// NewRepository creates an empty in-memory repository.
func NewRepository() *Repository {
	return &Repository{subs: make(map[string]domain.WebhookSubscription)}
}

var _ webhooks.Repository = (*Repository)(nil)

// CreateSubscription stores a new subscription.
func (r *Repository) CreateSubscription(_ context.Context, sub *domain.WebhookSubscription) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.subs[sub.ID]; exists {
		return fmt.Errorf("create subscription: duplicate id %s", sub.ID)
	}
	r.subs[sub.ID] = *sub
	return nil
}

// GetSubscription returns a subscription by ID.
func (r *Repository) GetSubscription(_ context.Context, id string) (*domain.WebhookSubscription, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sub, ok := r.subs[id]
	if !ok {
		return nil, webhooks.ErrSubscriptionNotFound
	}
	return &sub, nil
}

// ListSubscriptions returns all subscriptions, newest first.
func (r *Repository) ListSubscriptions(_ context.Context) ([]domain.WebhookSubscription, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.sorted(func(domain.WebhookSubscription) bool { return true }), nil
}

// ListActiveForEvent returns active subscriptions matching eventType.
func (r *Repository) ListActiveForEvent(_ context.Context, eventType domain.EventType) ([]domain.WebhookSubscription, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.sorted(func(s domain.WebhookSubscription) bool { return s.Matches(eventType) }), nil
}

// DeleteSubscription removes a subscription.
func (r *Repository) DeleteSubscription(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.subs[id]; !ok {
		return webhooks.ErrSubscriptionNotFound
	}
	delete(r.subs, id)
	return nil
}

func (r *Repository) sorted(keep func(domain.WebhookSubscription) bool) []domain.WebhookSubscription {
	out := make([]domain.WebhookSubscription, 0, len(r.subs))
	for _, s := range r.subs {
		if keep(s) {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// Package webhooks manages webhook subscriptions and fans lifecycle events out to them.
package webhooks

import (
	"context"

	"github.com/amodvardhan/notification-engine/internal/domain"
)

// Repository defines the interface for webhook subscription storage.
type Repository interface {
	CreateSubscription(ctx context.Context, sub *domain.WebhookSubscription) error
	GetSubscription(ctx context.Context, id string) (*domain.WebhookSubscription, error)
	ListSubscriptions(ctx context.Context) ([]domain.WebhookSubscription, error)
	// ListActiveForEvent returns active subscriptions for eventType, including wildcard ones.
	ListActiveForEvent(ctx context.Context, eventType domain.EventType) ([]domain.WebhookSubscription, error)
	DeleteSubscription(ctx context.Context, id string) error
}

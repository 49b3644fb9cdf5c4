// Package notifications provides the notification queue, dispatch worker and delivery log.
package notifications

import (
	"context"
	"time"

	"github.com/amodvardhan/notification-engine/internal/domain"
)

// Repository defines the interface for notifications data access.
//
// Claim and CompleteAttempt are the only operations that change a
// notification's status and both are conditional: a claim succeeds only for a
// due pending record, a completion only while the caller's claim is still held.
type Repository interface {
	// Notifications
	CreateNotification(ctx context.Context, n *domain.Notification) error
	GetNotification(ctx context.Context, id string) (*domain.Notification, error)

	// Queue
	FetchDue(ctx context.Context, now time.Time, limit int) ([]string, error)
	Claim(ctx context.Context, id, token string, now time.Time) (*domain.Notification, error)
	CompleteAttempt(ctx context.Context, c Completion) error
	ReapStalled(ctx context.Context, claimedBefore, now time.Time, limit int) (int, error)
	GetQueueStats(ctx context.Context) (*domain.QueueStats, error)

	// Delivery log
	ListLogs(ctx context.Context, notificationID string) ([]domain.DeliveryLogEntry, error)

	// Templates
	UpsertTemplate(ctx context.Context, t *domain.Template) error
	GetTemplate(ctx context.Context, name string, channel domain.Channel) (*domain.Template, error)
	ListTemplates(ctx context.Context) ([]domain.Template, error)
}

// Completion describes the state transition that ends one attempt.
// It is applied together with appending Log, or not at all.
type Completion struct {
	NotificationID string
	ClaimToken     string
	Status         domain.NotificationStatus
	Attempts       int
	NextAttemptAt  time.Time
	LastError      string
	SentAt         *time.Time
	Log            domain.DeliveryLogEntry
}

// Package postgres provides PostgreSQL implementation of webhooks repository.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/amodvardhan/notification-engine/internal/domain"
	"github.com/amodvardhan/notification-engine/internal/webhooks"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository implements webhooks.Repository using PostgreSQL.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository creates a new PostgreSQL repository.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

var _ webhooks.Repository = (*Repository)(nil)

// CreateSubscription inserts a new subscription.
func (r *Repository) CreateSubscription(ctx context.Context, sub *domain.WebhookSubscription) error {
	query := `
		INSERT INTO webhook_subscriptions (id, url, event_type, secret, active, created_at, updated_at)
		VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6, $7)
	`
	_, err := r.db.Exec(ctx, query,
		sub.ID,
		sub.URL,
		sub.EventType,
		sub.Secret,
		sub.Active,
		sub.CreatedAt,
		sub.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert subscription: %w", err)
	}
	return nil
}

// GetSubscription retrieves a subscription by ID.
func (r *Repository) GetSubscription(ctx context.Context, id string) (*domain.WebhookSubscription, error) {
	if uuid.Validate(id) != nil {
		return nil, webhooks.ErrSubscriptionNotFound
	}

	query := `
		SELECT id, url, event_type, COALESCE(secret, ''), active, created_at, updated_at
		FROM webhook_subscriptions
		WHERE id = $1
	`
	sub, err := scanSubscription(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, webhooks.ErrSubscriptionNotFound
		}
		return nil, fmt.Errorf("get subscription: %w", err)
	}
	return sub, nil
}

// ListSubscriptions retrieves all subscriptions, newest first.
func (r *Repository) ListSubscriptions(ctx context.Context) ([]domain.WebhookSubscription, error) {
	query := `
		SELECT id, url, event_type, COALESCE(secret, ''), active, created_at, updated_at
		FROM webhook_subscriptions
		ORDER BY created_at DESC
	`
	return r.list(ctx, query)
}

// ListActiveForEvent retrieves active subscriptions for eventType or the wildcard.
func (r *Repository) ListActiveForEvent(ctx context.Context, eventType domain.EventType) ([]domain.WebhookSubscription, error) {
	query := `
		SELECT id, url, event_type, COALESCE(secret, ''), active, created_at, updated_at
		FROM webhook_subscriptions
		WHERE active AND event_type IN ($1, '*')
		ORDER BY created_at DESC
	`
	return r.list(ctx, query, eventType)
}

// DeleteSubscription deletes a subscription.
func (r *Repository) DeleteSubscription(ctx context.Context, id string) error {
	if uuid.Validate(id) != nil {
		return webhooks.ErrSubscriptionNotFound
	}

	query := `DELETE FROM webhook_subscriptions WHERE id = $1`
	result, err := r.db.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("delete subscription: %w", err)
	}

	if result.RowsAffected() == 0 {
		return webhooks.ErrSubscriptionNotFound
	}
	return nil
}

func (r *Repository) list(ctx context.Context, query string, args ...any) ([]domain.WebhookSubscription, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list subscriptions: %w", err)
	}
	defer rows.Close()

	subs := make([]domain.WebhookSubscription, 0)
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, fmt.Errorf("scan subscription: %w", err)
		}
		subs = append(subs, *sub)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate subscriptions: %w", err)
	}

	return subs, nil
}

func scanSubscription(row pgx.Row) (*domain.WebhookSubscription, error) {
	var sub domain.WebhookSubscription
	err := row.Scan(
		&sub.ID,
		&sub.URL,
		&sub.EventType,
		&sub.Secret,
		&sub.Active,
		&sub.CreatedAt,
		&sub.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	sub.HasSecret = sub.Secret != ""
	return &sub, nil
}

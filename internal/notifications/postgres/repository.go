// Package postgres provides PostgreSQL implementation of notifications repository.
package postgres

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/amodvardhan/notification-engine/internal/domain"
	"github.com/amodvardhan/notification-engine/internal/notifications"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const notificationColumns = `
	id, recipient, channel, template_name, payload, status, attempts,
	next_attempt_at, scheduled_at, claim_token, claimed_at, last_error,
	created_at, updated_at, sent_at`

// Repository implements notifications.Repository using PostgreSQL.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository creates a new PostgreSQL repository.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

var _ notifications.Repository = (*Repository)(nil)

// CreateNotification inserts a new notification.
func (r *Repository) CreateNotification(ctx context.Context, n *domain.Notification) error {
	payload, err := json.Marshal(n.Payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	query := `
		INSERT INTO notifications (id, recipient, channel, template_name, payload, status, attempts,
			next_attempt_at, scheduled_at, created_at, updated_at)
		VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6, $7, $8, $9, $10, $11)
	`
	_, err = r.db.Exec(ctx, query,
		n.ID,
		n.Recipient,
		n.Channel,
		n.TemplateName,
		payload,
		n.Status,
		n.Attempts,
		n.NextAttemptAt,
		n.ScheduledAt,
		n.CreatedAt,
		n.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}
	return nil
}

// GetNotification retrieves a notification by ID.
func (r *Repository) GetNotification(ctx context.Context, id string) (*domain.Notification, error) {
	if uuid.Validate(id) != nil {
		return nil, notifications.ErrNotificationNotFound
	}

	query := `SELECT ` + notificationColumns + ` FROM notifications WHERE id = $1`

	n, err := scanNotification(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, notifications.ErrNotificationNotFound
		}
		return nil, fmt.Errorf("get notification: %w", err)
	}
	return n, nil
}

// FetchDue returns ids of due pending notifications, oldest next_attempt_at first.
// It takes no locks; Claim decides ownership.
func (r *Repository) FetchDue(ctx context.Context, now time.Time, limit int) ([]string, error) {
	query := `
		SELECT id
		FROM notifications
		WHERE status = 'pending'
		  AND next_attempt_at <= $1
		  AND (scheduled_at IS NULL OR scheduled_at <= $1)
		ORDER BY next_attempt_at, created_at
		LIMIT $2
	`
	rows, err := r.db.Query(ctx, query, now, limit)
	if err != nil {
		return nil, fmt.Errorf("fetch due notifications: %w", err)
	}
	defer rows.Close()

	ids := make([]string, 0, limit)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan notification id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate due notifications: %w", err)
	}

	return ids, nil
}

// Claim moves a due pending notification to in_flight under token.
// The eligibility predicate is re-checked in the UPDATE so concurrent claimers
// cannot both succeed.
func (r *Repository) Claim(ctx context.Context, id, token string, now time.Time) (*domain.Notification, error) {
	query := `
		UPDATE notifications
		SET status = 'in_flight', claim_token = $2, claimed_at = $3, updated_at = $3
		WHERE id = $1
		  AND status = 'pending'
		  AND next_attempt_at <= $3
		  AND (scheduled_at IS NULL OR scheduled_at <= $3)
		RETURNING ` + notificationColumns

	n, err := scanNotification(r.db.QueryRow(ctx, query, id, token, now))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, notifications.ErrNotClaimed
		}
		return nil, fmt.Errorf("claim notification: %w", err)
	}
	return n, nil
}

// CompleteAttempt applies the transition and appends the delivery log entry in one transaction.
func (r *Repository) CompleteAttempt(ctx context.Context, c notifications.Completion) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	updateQuery := `
		UPDATE notifications
		SET status = $3,
		    attempts = $4,
		    next_attempt_at = $5,
		    last_error = NULLIF($6, ''),
		    sent_at = $7,
		    claim_token = NULL,
		    claimed_at = NULL,
		    updated_at = $8
		WHERE id = $1 AND status = 'in_flight' AND claim_token = $2
	`
	result, err := tx.Exec(ctx, updateQuery,
		c.NotificationID,
		c.ClaimToken,
		c.Status,
		c.Attempts,
		c.NextAttemptAt,
		c.LastError,
		c.SentAt,
		c.Log.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("update notification: %w", err)
	}
	if result.RowsAffected() == 0 {
		return notifications.ErrClaimLost
	}

	logQuery := `
		INSERT INTO delivery_logs (id, notification_id, channel, attempt, outcome, status_code,
			response, error, duration_ms, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''), NULLIF($8, ''), $9, $10)
	`
	_, err = tx.Exec(ctx, logQuery,
		c.Log.ID,
		c.Log.NotificationID,
		c.Log.Channel,
		c.Log.Attempt,
		c.Log.Outcome,
		c.Log.StatusCode,
		c.Log.Response,
		c.Log.Error,
		c.Log.DurationMs,
		c.Log.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert delivery log: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// ReapStalled returns in_flight notifications claimed before claimedBefore to pending.
func (r *Repository) ReapStalled(ctx context.Context, claimedBefore, now time.Time, limit int) (int, error) {
	query := `
		UPDATE notifications
		SET status = 'pending', claim_token = NULL, claimed_at = NULL,
		    next_attempt_at = $2, updated_at = $2
		WHERE id IN (
			SELECT id FROM notifications
			WHERE status = 'in_flight' AND claimed_at < $1
			ORDER BY claimed_at
			LIMIT $3
		)
		AND status = 'in_flight' AND claimed_at < $1
	`
	result, err := r.db.Exec(ctx, query, claimedBefore, now, limit)
	if err != nil {
		return 0, fmt.Errorf("reap stalled notifications: %w", err)
	}
	return int(result.RowsAffected()), nil
}

// GetQueueStats returns notification counts by status.
func (r *Repository) GetQueueStats(ctx context.Context) (*domain.QueueStats, error) {
	query := `
		SELECT
			COUNT(*) FILTER (WHERE status = 'pending'),
			COUNT(*) FILTER (WHERE status = 'in_flight'),
			COUNT(*) FILTER (WHERE status = 'sent'),
			COUNT(*) FILTER (WHERE status = 'dead')
		FROM notifications
	`
	var stats domain.QueueStats
	err := r.db.QueryRow(ctx, query).Scan(&stats.Pending, &stats.InFlight, &stats.Sent, &stats.Dead)
	if err != nil {
		return nil, fmt.Errorf("get queue stats: %w", err)
	}
	return &stats, nil
}

// ListLogs returns the delivery log of a notification, oldest first.
func (r *Repository) ListLogs(ctx context.Context, notificationID string) ([]domain.DeliveryLogEntry, error) {
	if uuid.Validate(notificationID) != nil {
		return nil, notifications.ErrNotificationNotFound
	}

	var exists bool
	if err := r.db.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM notifications WHERE id = $1)`, notificationID).Scan(&exists); err != nil {
		return nil, fmt.Errorf("check notification: %w", err)
	}
	if !exists {
		return nil, notifications.ErrNotificationNotFound
	}

	query := `
		SELECT id, notification_id, channel, attempt, outcome, status_code,
		       COALESCE(response, ''), COALESCE(error, ''), duration_ms, created_at
		FROM delivery_logs
		WHERE notification_id = $1
		ORDER BY attempt, created_at
	`
	rows, err := r.db.Query(ctx, query, notificationID)
	if err != nil {
		return nil, fmt.Errorf("list delivery logs: %w", err)
	}
	defer rows.Close()

	logs := make([]domain.DeliveryLogEntry, 0)
	for rows.Next() {
		var e domain.DeliveryLogEntry
		err := rows.Scan(
			&e.ID,
			&e.NotificationID,
			&e.Channel,
			&e.Attempt,
			&e.Outcome,
			&e.StatusCode,
			&e.Response,
			&e.Error,
			&e.DurationMs,
			&e.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan delivery log: %w", err)
		}
		logs = append(logs, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate delivery logs: %w", err)
	}

	return logs, nil
}

// UpsertTemplate creates or replaces the template for (name, channel).
func (r *Repository) UpsertTemplate(ctx context.Context, t *domain.Template) error {
	query := `
		INSERT INTO templates (name, channel, subject_template, body_template, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $5)
		ON CONFLICT (name, channel) DO UPDATE
		SET subject_template = EXCLUDED.subject_template,
		    body_template = EXCLUDED.body_template,
		    updated_at = EXCLUDED.updated_at
		RETURNING created_at, updated_at
	`
	err := r.db.QueryRow(ctx, query,
		t.Name,
		t.Channel,
		t.SubjectTemplate,
		t.BodyTemplate,
		t.UpdatedAt,
	).Scan(&t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert template: %w", err)
	}
	return nil
}

// GetTemplate retrieves the template for (name, channel).
func (r *Repository) GetTemplate(ctx context.Context, name string, channel domain.Channel) (*domain.Template, error) {
	query := `
		SELECT name, channel, subject_template, body_template, created_at, updated_at
		FROM templates
		WHERE name = $1 AND channel = $2
	`
	var t domain.Template
	err := r.db.QueryRow(ctx, query, name, channel).Scan(
		&t.Name,
		&t.Channel,
		&t.SubjectTemplate,
		&t.BodyTemplate,
		&t.CreatedAt,
		&t.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, notifications.ErrTemplateNotFound
		}
		return nil, fmt.Errorf("get template: %w", err)
	}
	return &t, nil
}

// ListTemplates retrieves all templates ordered by name and channel.
func (r *Repository) ListTemplates(ctx context.Context) ([]domain.Template, error) {
	query := `
		SELECT name, channel, subject_template, body_template, created_at, updated_at
		FROM templates
		ORDER BY name, channel
	`
	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list templates: %w", err)
	}
	defer rows.Close()

	templates := make([]domain.Template, 0)
	for rows.Next() {
		var t domain.Template
		if err := rows.Scan(&t.Name, &t.Channel, &t.SubjectTemplate, &t.BodyTemplate, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan template: %w", err)
		}
		templates = append(templates, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate templates: %w", err)
	}

	return templates, nil
}

func scanNotification(row pgx.Row) (*domain.Notification, error) {
	var (
		n            domain.Notification
		templateName *string
		payload      []byte
		claimToken   *string
		lastError    *string
	)
	err := row.Scan(
		&n.ID,
		&n.Recipient,
		&n.Channel,
		&templateName,
		&payload,
		&n.Status,
		&n.Attempts,
		&n.NextAttemptAt,
		&n.ScheduledAt,
		&claimToken,
		&n.ClaimedAt,
		&lastError,
		&n.CreatedAt,
		&n.UpdatedAt,
		&n.SentAt,
	)
	if err != nil {
		return nil, err
	}

	if templateName != nil {
		n.TemplateName = *templateName
	}
	if claimToken != nil {
		n.ClaimToken = *claimToken
	}
	if lastError != nil {
		n.LastError = *lastError
	}
	if len(payload) > 0 {
		dec := json.NewDecoder(bytes.NewReader(payload))
		dec.UseNumber()
		if err := dec.Decode(&n.Payload); err != nil {
			return nil, fmt.Errorf("unmarshal payload: %w", err)
		}
	}
	if n.Payload == nil {
		n.Payload = map[string]any{}
	}

	return &n, nil
}

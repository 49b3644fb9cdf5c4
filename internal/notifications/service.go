package notifications

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/amodvardhan/notification-engine/internal/domain"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// Notifier is told about every enqueued notification so idle workers can wake early.
type Notifier interface {
	Notify(ctx context.Context, notificationID string) error
}

// Service implements notification intake and queries.
type Service struct {
	repo      Repository
	publisher EventPublisher
	notifier  Notifier
	validate  *validator.Validate
	now       func() time.Time
}

// NewService creates a new notification service. publisher and notifier may be nil.
func NewService(repo Repository, publisher EventPublisher, notifier Notifier) *Service {
	return &Service{
		repo:      repo,
		publisher: publisher,
		notifier:  notifier,
		validate:  validator.New(),
		now:       time.Now,
	}
}

// EnqueueInput describes a notification request.
type EnqueueInput struct {
	Recipient    string
	Channel      domain.Channel
	TemplateName string
	Payload      map[string]any
	ScheduledAt  *time.Time
}

// Enqueue validates and persists a new pending notification.
func (s *Service) Enqueue(ctx context.Context, in EnqueueInput) (*domain.Notification, error) {
	if !in.Channel.IsValid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidChannel, in.Channel)
	}

	recipient := strings.TrimSpace(in.Recipient)
	if recipient == "" {
		return nil, fmt.Errorf("%w: recipient is required", ErrInvalidRecipient)
	}
	if in.Channel == domain.ChannelEmail {
		if err := s.validate.Var(recipient, "email"); err != nil {
			return nil, fmt.Errorf("%w: %q is not an email address", ErrInvalidRecipient, recipient)
		}
	}

	payload := in.Payload
	if payload == nil {
		payload = map[string]any{}
	}

	now := s.now().UTC()
	n := &domain.Notification{
		ID:            uuid.NewString(),
		Recipient:     recipient,
		Channel:       in.Channel,
		TemplateName:  strings.TrimSpace(in.TemplateName),
		Payload:       payload,
		Status:        domain.StatusPending,
		Attempts:      0,
		NextAttemptAt: now,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if in.ScheduledAt != nil {
		scheduled := in.ScheduledAt.UTC()
		n.ScheduledAt = &scheduled
		if scheduled.After(now) {
			n.NextAttemptAt = scheduled
		}
	}

	if err := s.repo.CreateNotification(ctx, n); err != nil {
		return nil, fmt.Errorf("create notification: %w", err)
	}
	recordEnqueued(n.Channel)

	slog.Debug("notification enqueued",
		"notification_id", n.ID,
		"channel", n.Channel,
		"scheduled_at", n.ScheduledAt,
	)

	if s.notifier != nil {
		if err := s.notifier.Notify(ctx, n.ID); err != nil {
			slog.Warn("failed to signal workers", "notification_id", n.ID, "error", err)
		}
	}
	if s.publisher != nil {
		s.publisher.Publish(ctx, NewEvent(domain.EventNotificationCreated, n, now))
	}

	return n, nil
}

// GetNotification returns a notification by ID.
func (s *Service) GetNotification(ctx context.Context, id string) (*domain.Notification, error) {
	n, err := s.repo.GetNotification(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get notification: %w", err)
	}
	return n, nil
}

// ListLogs returns the delivery log of a notification, oldest first.
func (s *Service) ListLogs(ctx context.Context, id string) ([]domain.DeliveryLogEntry, error) {
	logs, err := s.repo.ListLogs(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("list delivery logs: %w", err)
	}
	return logs, nil
}

// TemplateInput describes a template to create or replace.
type TemplateInput struct {
	Name            string
	Channel         domain.Channel
	SubjectTemplate string
	BodyTemplate    string
}

// UpsertTemplate creates or replaces the template for (name, channel).
// Changes apply to every notification rendered afterwards, including queued ones.
func (s *Service) UpsertTemplate(ctx context.Context, in TemplateInput) (*domain.Template, error) {
	if !in.Channel.IsValid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidChannel, in.Channel)
	}

	now := s.now().UTC()
	t := &domain.Template{
		Name:            strings.TrimSpace(in.Name),
		Channel:         in.Channel,
		SubjectTemplate: in.SubjectTemplate,
		BodyTemplate:    in.BodyTemplate,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.repo.UpsertTemplate(ctx, t); err != nil {
		return nil, fmt.Errorf("upsert template: %w", err)
	}
	return t, nil
}

// ListTemplates returns all templates.
func (s *Service) ListTemplates(ctx context.Context) ([]domain.Template, error) {
	templates, err := s.repo.ListTemplates(ctx)
	if err != nil {
		return nil, fmt.Errorf("list templates: %w", err)
	}
	return templates, nil
}

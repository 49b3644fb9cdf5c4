package webhooks

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/amodvardhan/notification-engine/internal/domain"
	"github.com/google/uuid"
)

// Broadcaster fans arbitrary events out to subscribers.
type Broadcaster interface {
	Broadcast(ctx context.Context, event domain.Event)
}

// Service manages webhook subscriptions and ad-hoc event ingestion.
type Service struct {
	repo        Repository
	broadcaster Broadcaster
	now         func() time.Time
}

// NewService creates a new webhooks service.
func NewService(repo Repository, broadcaster Broadcaster) *Service {
	return &Service{
		repo:        repo,
		broadcaster: broadcaster,
		now:         time.Now,
	}
}

// SubscribeInput describes a new subscription.
type SubscribeInput struct {
	URL       string
	EventType domain.EventType
	Secret    string
}

// Subscribe registers an active subscription.
func (s *Service) Subscribe(ctx context.Context, in SubscribeInput) (*domain.WebhookSubscription, error) {
	if err := ValidateURL(in.URL); err != nil {
		return nil, err
	}
	eventType := domain.EventType(strings.TrimSpace(string(in.EventType)))
	if eventType == "" || strings.ContainsAny(string(eventType), " \t\n") {
		return nil, fmt.Errorf("%w: %q", ErrInvalidEventType, in.EventType)
	}

	now := s.now().UTC()
	sub := &domain.WebhookSubscription{
		ID:        uuid.NewString(),
		URL:       in.URL,
		EventType: eventType,
		Secret:    in.Secret,
		HasSecret: in.Secret != "",
		Active:    true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.repo.CreateSubscription(ctx, sub); err != nil {
		return nil, fmt.Errorf("create subscription: %w", err)
	}
	return sub, nil
}

// ListSubscriptions returns all subscriptions.
func (s *Service) ListSubscriptions(ctx context.Context) ([]domain.WebhookSubscription, error) {
	subs, err := s.repo.ListSubscriptions(ctx)
	if err != nil {
		return nil, fmt.Errorf("list subscriptions: %w", err)
	}
	return subs, nil
}

// Unsubscribe permanently removes a subscription.
func (s *Service) Unsubscribe(ctx context.Context, id string) error {
	if err := s.repo.DeleteSubscription(ctx, id); err != nil {
		return fmt.Errorf("delete subscription: %w", err)
	}
	return nil
}

// IngestInput describes an internal event to fan out.
type IngestInput struct {
	EventType      domain.EventType
	NotificationID string
	Data           map[string]any
}

// Ingest accepts an event for asynchronous fan-out and returns its envelope.
func (s *Service) Ingest(ctx context.Context, in IngestInput) (*domain.Event, error) {
	eventType := domain.EventType(strings.TrimSpace(string(in.EventType)))
	if eventType == "" || eventType == domain.EventTypeAny {
		return nil, fmt.Errorf("%w: %q", ErrInvalidEventType, in.EventType)
	}

	data := in.Data
	if data == nil {
		data = map[string]any{}
	}

	event := domain.Event{
		ID:             uuid.NewString(),
		Type:           eventType,
		NotificationID: in.NotificationID,
		Timestamp:      s.now().UTC(),
		Data:           data,
	}
	s.broadcaster.Broadcast(ctx, event)
	return &event, nil
}

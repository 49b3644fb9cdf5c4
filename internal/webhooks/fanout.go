package webhooks

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/amodvardhan/notification-engine/internal/domain"
	"golang.org/x/sync/errgroup"
)

const (
	defaultConcurrency = 8
	publishTimeout     = 2 * time.Minute
)

// FanoutConfig holds fan-out configuration.
type FanoutConfig struct {
	// Events lists optional lifecycle events to publish in addition to
	// notification.sent and notification.dead.
	Events []domain.EventType
	// Concurrency bounds parallel deliveries per event.
	Concurrency int
}

// Fanout delivers events to matching subscribers in the background.
// Delivery failures are logged and counted; they never reach the publisher.
type Fanout struct {
	repo        Repository
	sender      *Sender
	enabled     map[domain.EventType]bool
	concurrency int

	wg sync.WaitGroup
}

// NewFanout creates a new fan-out publisher.
func NewFanout(config FanoutConfig, repo Repository, sender *Sender) *Fanout {
	enabled := map[domain.EventType]bool{
		domain.EventNotificationSent: true,
		domain.EventNotificationDead: true,
	}
	for _, e := range config.Events {
		enabled[e] = true
	}
	if config.Concurrency <= 0 {
		config.Concurrency = defaultConcurrency
	}

	return &Fanout{
		repo:        repo,
		sender:      sender,
		enabled:     enabled,
		concurrency: config.Concurrency,
	}
}

// Enabled reports whether lifecycle events of type t are published.
func (f *Fanout) Enabled(t domain.EventType) bool {
	return f.enabled[t]
}

// Publish fans a lifecycle event out if its type is enabled. It returns immediately.
func (f *Fanout) Publish(ctx context.Context, event domain.Event) {
	if !f.enabled[event.Type] {
		return
	}
	f.Broadcast(ctx, event)
}

// Broadcast fans any event out regardless of the lifecycle filter. It returns immediately.
func (f *Fanout) Broadcast(ctx context.Context, event domain.Event) {
	recordPublished(string(event.Type))

	// Detach from the caller: request and worker contexts end long before slow subscribers answer.
	deliverCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)

	f.wg.Add(1)
	go func() {
		defer f.wg.Done()
		defer cancel()
		f.deliver(deliverCtx, event)
	}()
}

// Wait blocks until all in-progress fan-outs finish.
func (f *Fanout) Wait() {
	f.wg.Wait()
}

func (f *Fanout) deliver(ctx context.Context, event domain.Event) {
	subs, err := f.repo.ListActiveForEvent(ctx, event.Type)
	if err != nil {
		slog.Error("failed to load webhook subscriptions", "event_type", event.Type, "error", err)
		return
	}
	if len(subs) == 0 {
		return
	}

	body, err := json.Marshal(event)
	if err != nil {
		slog.Error("failed to marshal webhook event", "event_type", event.Type, "error", err)
		return
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(f.concurrency)

	for _, sub := range subs {
		sub := sub
		g.Go(func() error {
			res, err := f.sender.Deliver(gctx, sub, event.Type, body)
			if err != nil {
				result := "failed"
				if IsPermanent(err) {
					result = "rejected"
				}
				recordDelivery(string(event.Type), result, res.Duration)
				slog.Warn("webhook delivery failed",
					"subscription_id", sub.ID,
					"event_type", event.Type,
					"notification_id", event.NotificationID,
					"attempts", res.Attempts,
					"status_code", res.StatusCode,
					"error", err,
				)
				return nil
			}

			recordDelivery(string(event.Type), "delivered", res.Duration)
			slog.Debug("webhook delivered",
				"subscription_id", sub.ID,
				"event_type", event.Type,
				"attempts", res.Attempts,
			)
			return nil
		})
	}

	_ = g.Wait()
}

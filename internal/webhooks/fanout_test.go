package webhooks_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/amodvardhan/notification-engine/internal/domain"
	"github.com/amodvardhan/notification-engine/internal/webhooks"
	"github.com/amodvardhan/notification-engine/internal/webhooks/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type receiver struct {
	mu     sync.Mutex
	events []domain.Event
	server *httptest.Server
}

func newReceiver(t *testing.T, status int) *receiver {
	t.Helper()
	rc := &receiver{}
	rc.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var e domain.Event
		if err := json.Unmarshal(body, &e); err == nil {
			rc.mu.Lock()
			rc.events = append(rc.events, e)
			rc.mu.Unlock()
		}
		w.WriteHeader(status)
	}))
	t.Cleanup(rc.server.Close)
	return rc
}

func (rc *receiver) received() []domain.Event {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	out := make([]domain.Event, len(rc.events))
	copy(out, rc.events)
	return out
}

func subscribe(t *testing.T, repo webhooks.Repository, url string, eventType domain.EventType) {
	t.Helper()
	require.NoError(t, repo.CreateSubscription(context.Background(), &domain.WebhookSubscription{
		ID:        url + "/" + string(eventType),
		URL:       url,
		EventType: eventType,
		Active:    true,
		CreatedAt: time.Now(),
	}))
}

func event(t domain.EventType) domain.Event {
	return domain.Event{
		ID:             "e-" + string(t),
		Type:           t,
		NotificationID: "n-1",
		Timestamp:      time.Now().UTC(),
		Data:           map[string]any{"channel": "email"},
	}
}

func TestFanout_DeliversToMatchingSubscribers(t *testing.T) {
	repo := memory.NewRepository()
	sentOnly := newReceiver(t, http.StatusOK)
	all := newReceiver(t, http.StatusOK)
	deadOnly := newReceiver(t, http.StatusOK)
	subscribe(t, repo, sentOnly.server.URL, domain.EventNotificationSent)
	subscribe(t, repo, all.server.URL, domain.EventTypeAny)
	subscribe(t, repo, deadOnly.server.URL, domain.EventNotificationDead)

	fanout := webhooks.NewFanout(webhooks.FanoutConfig{}, repo, webhooks.NewSender(webhooks.SenderConfig{}, nil))
	fanout.Publish(context.Background(), event(domain.EventNotificationSent))
	fanout.Wait()

	require.Len(t, sentOnly.received(), 1)
	assert.Equal(t, domain.EventNotificationSent, sentOnly.received()[0].Type)
	assert.Equal(t, "n-1", sentOnly.received()[0].NotificationID)
	assert.Len(t, all.received(), 1)
	assert.Empty(t, deadOnly.received())
}

func TestFanout_FiltersDisabledLifecycleEvents(t *testing.T) {
	repo := memory.NewRepository()
	rc := newReceiver(t, http.StatusOK)
	subscribe(t, repo, rc.server.URL, domain.EventTypeAny)

	fanout := webhooks.NewFanout(webhooks.FanoutConfig{
		Events: []domain.EventType{domain.EventNotificationRetrying},
	}, repo, webhooks.NewSender(webhooks.SenderConfig{}, nil))

	assert.True(t, fanout.Enabled(domain.EventNotificationSent))
	assert.True(t, fanout.Enabled(domain.EventNotificationDead))
	assert.True(t, fanout.Enabled(domain.EventNotificationRetrying))
	assert.False(t, fanout.Enabled(domain.EventNotificationCreated))

	ctx := context.Background()
	fanout.Publish(ctx, event(domain.EventNotificationCreated))
	fanout.Publish(ctx, event(domain.EventNotificationFailed))
	fanout.Publish(ctx, event(domain.EventNotificationRetrying))
	fanout.Broadcast(ctx, event("billing.invoice_paid"))
	fanout.Wait()

	var types []domain.EventType
	for _, e := range rc.received() {
		types = append(types, e.Type)
	}
	assert.ElementsMatch(t, []domain.EventType{domain.EventNotificationRetrying, "billing.invoice_paid"}, types)
}

func TestFanout_FailingSubscriberIsIsolated(t *testing.T) {
	repo := memory.NewRepository()
	broken := newReceiver(t, http.StatusInternalServerError)
	healthy := newReceiver(t, http.StatusOK)
	subscribe(t, repo, broken.server.URL, domain.EventNotificationDead)
	subscribe(t, repo, healthy.server.URL, domain.EventNotificationDead)
	subscribe(t, repo, "http://127.0.0.1:1/unreachable", domain.EventNotificationDead)

	fanout := webhooks.NewFanout(webhooks.FanoutConfig{Concurrency: 1}, repo,
		webhooks.NewSender(webhooks.SenderConfig{MaxRetries: 1, Timeout: time.Second}, nil))

	ctx, cancel := context.WithCancel(context.Background())
	start := time.Now()
	fanout.Publish(ctx, event(domain.EventNotificationDead))
	cancel()
	assert.Less(t, time.Since(start), 100*time.Millisecond, "publish must not block on delivery")

	fanout.Wait()

	assert.Len(t, healthy.received(), 1, "delivery continues after the caller's context ends")
	assert.Len(t, broken.received(), 2, "transient failures are retried")
}

func TestFanout_InactiveSubscriptionSkipped(t *testing.T) {
	repo := memory.NewRepository()
	rc := newReceiver(t, http.StatusOK)
	require.NoError(t, repo.CreateSubscription(context.Background(), &domain.WebhookSubscription{
		ID: "inactive", URL: rc.server.URL, EventType: domain.EventNotificationSent, Active: false,
	}))

	fanout := webhooks.NewFanout(webhooks.FanoutConfig{}, repo, webhooks.NewSender(webhooks.SenderConfig{}, nil))
	fanout.Publish(context.Background(), event(domain.EventNotificationSent))
	fanout.Wait()

	assert.Empty(t, rc.received())
}

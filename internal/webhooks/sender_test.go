package webhooks_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/amodvardhan/notification-engine/internal/domain"
	"github.com/amodvardhan/notification-engine/internal/webhooks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSender_DeliversSignedPayload(t *testing.T) {
	body := []byte(`{"event_type":"notification.sent","notification_id":"n-1"}`)

	var gotHeaders http.Header
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeaders = r.Header.Clone()
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	sender := webhooks.NewSender(webhooks.SenderConfig{Timeout: time.Second}, srv.Client())
	sub := domain.WebhookSubscription{ID: "s1", URL: srv.URL, Secret: "k3y", Active: true}

	res, err := sender.Deliver(context.Background(), sub, domain.EventNotificationSent, body)
	require.NoError(t, err)

	assert.Equal(t, 1, res.Attempts)
	assert.Equal(t, http.StatusNoContent, res.StatusCode)
	assert.Equal(t, body, gotBody)
	assert.Equal(t, "application/json", gotHeaders.Get("Content-Type"))
	assert.Equal(t, "notification.sent", gotHeaders.Get(webhooks.HeaderEvent))
	assert.NotEmpty(t, gotHeaders.Get(webhooks.HeaderID))
	assert.NotEmpty(t, gotHeaders.Get(webhooks.HeaderTimestamp))
	assert.True(t, webhooks.VerifySignature("k3y", gotBody, gotHeaders.Get(webhooks.HeaderSignature)))
}

func TestSender_NoSecretNoSignature(t *testing.T) {
	var sig atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sig.Store(r.Header.Get(webhooks.HeaderSignature))
	}))
	defer srv.Close()

	sender := webhooks.NewSender(webhooks.SenderConfig{}, srv.Client())
	_, err := sender.Deliver(context.Background(), domain.WebhookSubscription{URL: srv.URL}, domain.EventNotificationDead, []byte(`{}`))

	require.NoError(t, err)
	assert.Equal(t, "", sig.Load())
}

func TestSender_RetriesTransientFailures(t *testing.T) {
	var (
		calls atomic.Int32
		mu    sync.Mutex
		ids   []string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		ids = append(ids, r.Header.Get(webhooks.HeaderID))
		mu.Unlock()
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	sender := webhooks.NewSender(webhooks.SenderConfig{MaxRetries: 2}, srv.Client())
	res, err := sender.Deliver(context.Background(), domain.WebhookSubscription{URL: srv.URL}, domain.EventNotificationSent, []byte(`{}`))

	require.NoError(t, err)
	assert.Equal(t, 3, res.Attempts)
	assert.Equal(t, int32(3), calls.Load())
	mu.Lock()
	defer mu.Unlock()
	require.Len(t, ids, 3)
	assert.Equal(t, ids[0], ids[2], "retries reuse the delivery id")
}

func TestSender_GivesUpAfterMaxRetries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	defer srv.Close()

	sender := webhooks.NewSender(webhooks.SenderConfig{MaxRetries: 1}, srv.Client())
	res, err := sender.Deliver(context.Background(), domain.WebhookSubscription{URL: srv.URL}, domain.EventNotificationSent, []byte(`{}`))

	require.Error(t, err)
	assert.ErrorIs(t, err, webhooks.ErrDeliveryFailed)
	assert.False(t, webhooks.IsPermanent(err))
	assert.Contains(t, err.Error(), "boom")
	assert.Equal(t, 2, res.Attempts)
	assert.Equal(t, http.StatusBadGateway, res.StatusCode)
	assert.Equal(t, int32(2), calls.Load())
}

func TestSender_ClientErrorIsPermanent(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusGone)
	}))
	defer srv.Close()

	sender := webhooks.NewSender(webhooks.SenderConfig{MaxRetries: 3}, srv.Client())
	res, err := sender.Deliver(context.Background(), domain.WebhookSubscription{URL: srv.URL}, domain.EventNotificationSent, []byte(`{}`))

	require.Error(t, err)
	assert.True(t, webhooks.IsPermanent(err))
	assert.Equal(t, 1, res.Attempts)
	assert.Equal(t, int32(1), calls.Load())
}

func TestSender_TooManyRequestsIsRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
	}))
	defer srv.Close()

	sender := webhooks.NewSender(webhooks.SenderConfig{MaxRetries: 1}, srv.Client())
	res, err := sender.Deliver(context.Background(), domain.WebhookSubscription{URL: srv.URL}, domain.EventNotificationSent, []byte(`{}`))

	require.NoError(t, err)
	assert.Equal(t, 2, res.Attempts)
}

func TestSender_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	sender := webhooks.NewSender(webhooks.SenderConfig{Timeout: 50 * time.Millisecond}, srv.Client())
	start := time.Now()
	_, err := sender.Deliver(context.Background(), domain.WebhookSubscription{URL: srv.URL}, domain.EventNotificationSent, []byte(`{}`))

	require.Error(t, err)
	assert.False(t, webhooks.IsPermanent(err))
	assert.Less(t, time.Since(start), 2*time.Second)
}

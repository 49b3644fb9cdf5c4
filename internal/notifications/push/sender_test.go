package push

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/amodvardhan/notification-engine/internal/domain"
	"github.com/amodvardhan/notification-engine/internal/notifications"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSender(t *testing.T, handler http.HandlerFunc) *Sender {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	sender, err := NewSender(Config{GatewayURL: server.URL, APIKey: "push-key"})
	require.NoError(t, err)
	return sender
}

func TestNewSender(t *testing.T) {
	_, err := NewSender(Config{})
	assert.ErrorContains(t, err, "gateway url is required")

	sender, err := NewSender(Config{GatewayURL: "https://push.example.com/send"})
	require.NoError(t, err)
	assert.Equal(t, defaultTimeout, sender.config.Timeout)
	assert.Equal(t, defaultRateLimit, sender.config.RateLimit)
	assert.NotNil(t, sender.limiter)
	assert.Equal(t, domain.ChannelPush, sender.Channel())
}

func TestSender_Send_Success(t *testing.T) {
	sender := newTestSender(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "Bearer push-key", r.Header.Get("Authorization"))

		var payload pushPayload
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		assert.Equal(t, "device-token-1", payload.To)
		assert.Equal(t, "Build finished", payload.Title)
		assert.Equal(t, "main is green", payload.Body)
		assert.Equal(t, "n-1", payload.Data["notification_id"])
		assert.Equal(t, "ci", payload.Data["source"])

		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"id":"msg-1"}`))
	})

	res, err := sender.Send(context.Background(), notifications.Message{
		NotificationID: "n-1",
		Recipient:      "device-token-1",
		Subject:        "Build finished",
		Body:           "main is green",
		Metadata:       map[string]any{"source": "ci"},
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, `{"id":"msg-1"}`, res.Response)
}

func TestSender_Send_StatusMapping(t *testing.T) {
	tests := []struct {
		name        string
		status      int
		outcome     domain.Outcome
		wantMessage string
	}{
		{name: "bad request", status: http.StatusBadRequest, outcome: domain.OutcomePermanentFailure, wantMessage: "bad request"},
		{name: "unauthorized", status: http.StatusUnauthorized, outcome: domain.OutcomePermanentFailure, wantMessage: "invalid gateway credentials"},
		{name: "forbidden", status: http.StatusForbidden, outcome: domain.OutcomePermanentFailure, wantMessage: "invalid gateway credentials"},
		{name: "token gone", status: http.StatusGone, outcome: domain.OutcomePermanentFailure, wantMessage: "device token not registered"},
		{name: "request timeout", status: http.StatusRequestTimeout, outcome: domain.OutcomeRetryableFailure, wantMessage: "gateway timeout"},
		{name: "unprocessable", status: http.StatusUnprocessableEntity, outcome: domain.OutcomePermanentFailure, wantMessage: "rejected"},
		{name: "rate limited", status: http.StatusTooManyRequests, outcome: domain.OutcomeRetryableFailure, wantMessage: "rate limited"},
		{name: "server error", status: http.StatusInternalServerError, outcome: domain.OutcomeRetryableFailure, wantMessage: "server error"},
		{name: "unavailable", status: http.StatusServiceUnavailable, outcome: domain.OutcomeRetryableFailure, wantMessage: "server error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sender := newTestSender(t, func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
			})

			res, err := sender.Send(context.Background(), notifications.Message{Recipient: "tok", Body: "hi"})

			require.Error(t, err)
			assert.Equal(t, tt.status, res.StatusCode)
			assert.Contains(t, err.Error(), tt.wantMessage)
			assert.Equal(t, tt.outcome, notifications.Classify(err))
		})
	}
}

func TestSender_Send_OtherClientErrorIsPermanent(t *testing.T) {
	sender := newTestSender(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		_, _ = w.Write([]byte("I'm a teapot"))
	})

	_, err := sender.Send(context.Background(), notifications.Message{Recipient: "tok", Body: "hi"})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "push error 418")
	assert.Equal(t, domain.OutcomePermanentFailure, notifications.Classify(err))
}

func TestSender_Send_ErrorBodyIsBounded(t *testing.T) {
	body := strings.Repeat("x", maxErrorBody-1) + "é" + strings.Repeat("y", 4096)
	sender := newTestSender(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(body))
	})

	res, err := sender.Send(context.Background(), notifications.Message{Recipient: "tok", Body: "hi"})

	require.Error(t, err)
	assert.Equal(t, body, res.Response)
	assert.True(t, utf8.ValidString(err.Error()))
	assert.Less(t, len(err.Error()), maxErrorBody+64)
	assert.NotContains(t, err.Error(), "y")
}

func TestSender_Send_EmptyToken(t *testing.T) {
	sender := newTestSender(t, func(_ http.ResponseWriter, _ *http.Request) {
		t.Fatal("gateway must not be called")
	})

	_, err := sender.Send(context.Background(), notifications.Message{Body: "hi"})

	var permErr *PermanentError
	require.ErrorAs(t, err, &permErr)
	assert.Contains(t, permErr.Message, "device token is empty")
}

func TestSender_Send_NetworkError(t *testing.T) {
	sender, err := NewSender(Config{
		GatewayURL: "http://localhost:59999",
		Timeout:    100 * time.Millisecond,
	})
	require.NoError(t, err)

	_, err = sender.Send(context.Background(), notifications.Message{Recipient: "tok", Body: "hi"})

	var retryErr *RetryableError
	require.ErrorAs(t, err, &retryErr)
	assert.Contains(t, retryErr.Message, "send request")
}

func TestMaskURL(t *testing.T) {
	assert.Equal(t, "http://example.com/push", maskURL("http://example.com/push"))
	assert.Equal(t, "https://push.example....4567890abc", maskURL("https://push.example.com/v1/send/1234567890abc"))
}

func TestErrorMessages(t *testing.T) {
	assert.Equal(t, "push error 410: gone", (&PermanentError{Code: 410, Message: "gone"}).Error())
	assert.Equal(t, "push error: empty", (&PermanentError{Message: "empty"}).Error())
	assert.Equal(t, "push error 503: down", (&RetryableError{Code: 503, Message: "down"}).Error())
	assert.Equal(t, "push error: refused", (&RetryableError{Message: "refused"}).Error())
}

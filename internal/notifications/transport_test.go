package notifications

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/amodvardhan/notification-engine/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type flakyError struct{ retry bool }

func (e flakyError) Error() string     { return "flaky" }
func (e flakyError) IsRetryable() bool { return e.retry }

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want domain.Outcome
	}{
		{"nil", nil, domain.OutcomeSuccess},
		{"deadline", context.DeadlineExceeded, domain.OutcomeRetryableFailure},
		{"wrapped cancel", fmt.Errorf("send: %w", context.Canceled), domain.OutcomeRetryableFailure},
		{"unknown error", errors.New("connection reset"), domain.OutcomeRetryableFailure},
		{"retryable", NewRetryableError(errors.New("503")), domain.OutcomeRetryableFailure},
		{"non-retryable", NewNonRetryableError(errors.New("400")), domain.OutcomePermanentFailure},
		{"wrapped non-retryable", fmt.Errorf("twilio: %w", NewNonRetryableError(errors.New("21211"))), domain.OutcomePermanentFailure},
		{"custom classifier", flakyError{retry: false}, domain.OutcomePermanentFailure},
		{"timeout wrapped as retryable", NewRetryableError(fmt.Errorf("timeout: %w", context.DeadlineExceeded)), domain.OutcomeRetryableFailure},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err))
		})
	}
}

type stubTransport struct {
	channel domain.Channel
	got     []Message
}

func (s *stubTransport) Channel() domain.Channel { return s.channel }

func (s *stubTransport) Send(_ context.Context, msg Message) (Result, error) {
	s.got = append(s.got, msg)
	return Result{StatusCode: 200}, nil
}

func TestRegistry(t *testing.T) {
	email := &stubTransport{channel: domain.ChannelEmail}
	push := &stubTransport{channel: domain.ChannelPush}
	reg := NewRegistry(email, push)

	assert.Equal(t, []domain.Channel{domain.ChannelEmail, domain.ChannelPush}, reg.Channels())

	res, err := reg.Send(context.Background(), Message{Channel: domain.ChannelPush, Body: "hi"})
	require.NoError(t, err)
	assert.Equal(t, 200, res.StatusCode)
	assert.Len(t, push.got, 1)
	assert.Empty(t, email.got)

	_, err = reg.Send(context.Background(), Message{Channel: domain.ChannelSMS})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNoTransport)
	assert.Equal(t, domain.OutcomePermanentFailure, Classify(err))
}

func TestRegistry_LaterTransportWins(t *testing.T) {
	first := &stubTransport{channel: domain.ChannelSMS}
	second := &stubTransport{channel: domain.ChannelSMS}

	reg := NewRegistry(first, second)
	got, err := reg.Get(domain.ChannelSMS)

	require.NoError(t, err)
	assert.Same(t, second, got)
}

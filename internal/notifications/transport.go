package notifications

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/amodvardhan/notification-engine/internal/domain"
)

// Message is a rendered notification handed to a transport.
type Message struct {
	NotificationID string
	Recipient      string
	Channel        domain.Channel
	Subject        string
	Body           string
	Metadata       map[string]any
}

// Result carries whatever the provider answered. It is recorded in the delivery log
// regardless of the outcome.
type Result struct {
	StatusCode int
	Response   string
}

// Transport delivers rendered messages for one channel.
//
// A nil error means the provider accepted the message. A non-nil error is
// classified by Classify: errors implementing IsRetryable() decide for
// themselves, everything else is retried.
type Transport interface {
	Channel() domain.Channel
	Send(ctx context.Context, msg Message) (Result, error)
}

// Registry maps channels to transports.
type Registry struct {
	transports map[domain.Channel]Transport
}

// NewRegistry creates a registry from the given transports.
// A later transport for the same channel replaces an earlier one.
func NewRegistry(transports ...Transport) *Registry {
	m := make(map[domain.Channel]Transport, len(transports))
	for _, t := range transports {
		m[t.Channel()] = t
	}
	return &Registry{transports: m}
}

// Get returns the transport registered for channel.
func (r *Registry) Get(channel domain.Channel) (Transport, error) {
	t, ok := r.transports[channel]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoTransport, channel)
	}
	return t, nil
}

// Channels returns the channels that have a transport.
func (r *Registry) Channels() []domain.Channel {
	out := make([]domain.Channel, 0, len(r.transports))
	for _, c := range domain.Channels() {
		if _, ok := r.transports[c]; ok {
			out = append(out, c)
		}
	}
	return out
}

// Send looks up the transport for msg.Channel and sends through it.
func (r *Registry) Send(ctx context.Context, msg Message) (Result, error) {
	t, err := r.Get(msg.Channel)
	if err != nil {
		slog.Warn("no transport for channel", "channel", msg.Channel)
		return Result{}, NewNonRetryableError(err)
	}
	return t.Send(ctx, msg)
}

// Classify maps a transport error to an attempt outcome.
func Classify(err error) domain.Outcome {
	if err == nil {
		return domain.OutcomeSuccess
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return domain.OutcomeRetryableFailure
	}
	if isRetryable(err) {
		return domain.OutcomeRetryableFailure
	}
	return domain.OutcomePermanentFailure
}

// isRetryable checks if an error is retryable.
func isRetryable(err error) bool {
	type retryable interface {
		IsRetryable() bool
	}
	var r retryable
	if errors.As(err, &r) {
		return r.IsRetryable()
	}

	// Default: retry unknown errors
	return true
}

// RetryableError wraps an error and marks it as retryable or not.
type RetryableError struct {
	Err       error
	Retryable bool
}

func (e *RetryableError) Error() string {
	return e.Err.Error()
}

// IsRetryable returns whether the error is retryable.
func (e *RetryableError) IsRetryable() bool {
	return e.Retryable
}

func (e *RetryableError) Unwrap() error {
	return e.Err
}

// NewRetryableError creates a retryable error.
func NewRetryableError(err error) *RetryableError {
	return &RetryableError{Err: err, Retryable: true}
}

// NewNonRetryableError creates a non-retryable error.
func NewNonRetryableError(err error) *RetryableError {
	return &RetryableError{Err: err, Retryable: false}
}

// Package inmemory provides a transport that records messages instead of
// delivering them. It backs the inmemory provider in development and drives
// worker tests with scripted failures.
package inmemory

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/amodvardhan/notification-engine/internal/domain"
	"github.com/amodvardhan/notification-engine/internal/notifications"
)

// Option configures a Transport.
type Option func(*Transport)

// WithFailures scripts the errors returned by successive Send calls.
// A nil entry succeeds. Once the script is exhausted every call succeeds.
func WithFailures(errs ...error) Option {
	return func(t *Transport) {
		t.Script(errs...)
	}
}

// WithFailFunc decides the outcome of every call that is not scripted.
func WithFailFunc(fn func(notifications.Message) error) Option {
	return func(t *Transport) {
		t.failFunc = fn
	}
}

// WithDelay makes every Send take d. The delay honours ctx unless
// IgnoreContext is also set.
func WithDelay(d time.Duration) Option {
	return func(t *Transport) {
		t.delay = d
	}
}

// IgnoreContext makes Send sleep through cancellation, like a provider
// client without context support.
func IgnoreContext() Option {
	return func(t *Transport) {
		t.ignoreCtx = true
	}
}

// Transport records every message it is asked to send.
type Transport struct {
	channel   domain.Channel
	delay     time.Duration
	ignoreCtx bool
	failFunc  func(notifications.Message) error

	mu     sync.Mutex
	script []error
	calls  int
	sent   []notifications.Message
}

// New creates an in-memory transport for channel.
func New(channel domain.Channel, opts ...Option) *Transport {
	t := &Transport{channel: channel}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Channel returns the channel this transport serves.
func (t *Transport) Channel() domain.Channel {
	return t.channel
}

// Send records msg. Successful sends are kept and visible through Sent.
func (t *Transport) Send(ctx context.Context, msg notifications.Message) (notifications.Result, error) {
	if t.delay > 0 {
		if t.ignoreCtx {
			time.Sleep(t.delay)
		} else {
			timer := time.NewTimer(t.delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				t.countCall()
				return notifications.Result{}, ctx.Err()
			case <-timer.C:
			}
		}
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.calls++

	var err error
	if len(t.script) > 0 {
		err = t.script[0]
		t.script = t.script[1:]
	} else if t.failFunc != nil {
		err = t.failFunc(msg)
	}
	if err != nil {
		return notifications.Result{StatusCode: 500, Response: err.Error()}, err
	}

	t.sent = append(t.sent, msg)
	slog.Debug("inmemory transport recorded message",
		"channel", t.channel,
		"notification_id", msg.NotificationID,
	)
	return notifications.Result{StatusCode: 200, Response: "recorded"}, nil
}

// Script appends errs to the queue of outcomes for upcoming Send calls.
func (t *Transport) Script(errs ...error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.script = append(t.script, errs...)
}

func (t *Transport) countCall() {
	t.mu.Lock()
	t.calls++
	t.mu.Unlock()
}

// Sent returns a copy of the successfully recorded messages.
func (t *Transport) Sent() []notifications.Message {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]notifications.Message, len(t.sent))
	copy(out, t.sent)
	return out
}

// Calls returns how many times Send was invoked.
func (t *Transport) Calls() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.calls
}

// Package signal wakes idle dispatch workers when new notifications are
// enqueued. Signals are hints only: workers keep polling, so a lost signal
// delays delivery by at most one poll interval.
package signal

import "context"

const defaultBuffer = 64

// Local is an in-process wake-up channel.
type Local struct {
	ch chan struct{}
}

// NewLocal creates a local signal with room for buffer pending hints.
func NewLocal(buffer int) *Local {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	return &Local{ch: make(chan struct{}, buffer)}
}

// Notify records a hint. It never blocks; hints beyond the buffer are dropped.
func (l *Local) Notify(_ context.Context, _ string) error {
	l.wake()
	return nil
}

// Wakeups returns the channel workers select on.
func (l *Local) Wakeups() <-chan struct{} {
	return l.ch
}

func (l *Local) wake() {
	select {
	case l.ch <- struct{}{}:
	default:
	}
}

package notifications

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoff(t *testing.T) {
	tests := []struct {
		attempts int
		base     float64
		cap      time.Duration
		want     time.Duration
	}{
		{attempts: 0, base: 2, cap: time.Hour, want: 0},
		{attempts: -1, base: 2, cap: time.Hour, want: 0},
		{attempts: 1, base: 2, cap: time.Hour, want: 2 * time.Second},
		{attempts: 2, base: 2, cap: time.Hour, want: 4 * time.Second},
		{attempts: 5, base: 2, cap: time.Hour, want: 32 * time.Second},
		{attempts: 12, base: 2, cap: time.Hour, want: time.Hour},
		{attempts: 3, base: 1.5, cap: time.Hour, want: 3375 * time.Millisecond},
		{attempts: 10000, base: 2, cap: time.Minute, want: time.Minute},
		{attempts: 4, base: 0.5, cap: time.Hour, want: time.Second},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, Backoff(tt.attempts, tt.base, tt.cap),
			"attempts=%d base=%v cap=%s", tt.attempts, tt.base, tt.cap)
	}
}

func TestBackoff_MonotonicAndCapped(t *testing.T) {
	maxDelay := 10 * time.Minute
	prev := time.Duration(0)
	for attempts := 1; attempts <= 64; attempts++ {
		d := Backoff(attempts, 2, maxDelay)
		assert.GreaterOrEqual(t, d, prev, "attempt %d", attempts)
		assert.LessOrEqual(t, d, maxDelay, "attempt %d", attempts)
		prev = d
	}
	assert.Equal(t, maxDelay, prev)
}

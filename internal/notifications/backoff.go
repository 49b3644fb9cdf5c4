package notifications

import (
	"math"
	"time"
)

// Backoff returns the delay before the next attempt after attempts completed attempts:
// min(base^attempts seconds, maxDelay). Non-positive attempts yield zero.
func Backoff(attempts int, base float64, maxDelay time.Duration) time.Duration {
	if attempts <= 0 {
		return 0
	}
	if base < 1 {
		base = 1
	}

	seconds := math.Pow(base, float64(attempts))
	if math.IsInf(seconds, 0) || math.IsNaN(seconds) || seconds >= maxDelay.Seconds() {
		return maxDelay
	}

	return time.Duration(seconds * float64(time.Second))
}

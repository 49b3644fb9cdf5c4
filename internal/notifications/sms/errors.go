package sms

import (
	"errors"
	"fmt"
	"time"
)

// RateLimitError indicates the provider throttled the request.
type RateLimitError struct {
	RetryAfter time.Duration
	Message    string
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("sms rate limited, retry after %s: %s", e.RetryAfter, e.Message)
	}
	return fmt.Sprintf("sms rate limited: %s", e.Message)
}

// IsRetryable returns true; throttling is temporary.
func (e *RateLimitError) IsRetryable() bool { return true }

// PermanentError indicates a rejection that will not succeed on retry,
// such as an invalid number or bad credentials.
type PermanentError struct {
	Code    int
	Message string
}

func (e *PermanentError) Error() string {
	return fmt.Sprintf("sms error %d: %s", e.Code, e.Message)
}

// IsRetryable returns false.
func (e *PermanentError) IsRetryable() bool { return false }

// RetryableError indicates a temporary provider failure.
type RetryableError struct {
	Code    int
	Message string
}

func (e *RetryableError) Error() string {
	if e.Code > 0 {
		return fmt.Sprintf("sms error %d: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("sms error: %s", e.Message)
}

// IsRetryable returns true.
func (e *RetryableError) IsRetryable() bool { return true }

// IsRetryable reports whether err is one of the retryable sms errors.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var r interface{ IsRetryable() bool }
	if errors.As(err, &r) {
		return r.IsRetryable()
	}
	return false
}

// GetRetryAfter returns the provider's requested delay, or zero.
func GetRetryAfter(err error) time.Duration {
	var rl *RateLimitError
	if errors.As(err, &rl) {
		return rl.RetryAfter
	}
	return 0
}

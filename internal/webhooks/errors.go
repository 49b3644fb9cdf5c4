package webhooks

import "errors"

// Repository errors.
var (
	ErrSubscriptionNotFound = errors.New("webhook subscription not found")
)

// Validation errors.
var (
	ErrInvalidURL       = errors.New("invalid webhook url")
	ErrInvalidEventType = errors.New("invalid event type")
)

// Delivery errors.
var (
	ErrPermanentFailure = errors.New("webhook permanently rejected")
	ErrDeliveryFailed   = errors.New("webhook delivery failed")
)

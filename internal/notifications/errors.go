package notifications

import "errors"

// Repository errors.
var (
	ErrNotificationNotFound = errors.New("notification not found")
	ErrTemplateNotFound     = errors.New("template not found")
	ErrNotClaimed           = errors.New("notification not claimable")
	ErrClaimLost            = errors.New("claim no longer held")
)

// Validation errors.
var (
	ErrInvalidChannel   = errors.New("invalid channel")
	ErrInvalidRecipient = errors.New("invalid recipient")
)

// Transport errors.
var (
	ErrNoTransport = errors.New("no transport registered for channel")
)

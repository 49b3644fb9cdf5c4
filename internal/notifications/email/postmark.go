package email

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/amodvardhan/notification-engine/internal/domain"
	"github.com/amodvardhan/notification-engine/internal/notifications"
	"github.com/mrz1836/postmark"
)

// Postmark API error codes that are worth retrying.
const (
	postmarkErrMaintenance = 100
	postmarkErrRateLimited = 429
)

// PostmarkConfig holds Postmark API configuration.
type PostmarkConfig struct {
	ServerToken  string
	AccountToken string
	FromAddress  string
	ReplyTo      string
	Tag          string
}

// PostmarkSender delivers email through the Postmark transactional API.
type PostmarkSender struct {
	client *postmark.Client
	config PostmarkConfig
}

// NewPostmarkSender creates a new Postmark transport.
func NewPostmarkSender(config PostmarkConfig) (*PostmarkSender, error) {
	if config.ServerToken == "" {
		return nil, errors.New("postmark sender: server token is required")
	}
	if config.FromAddress == "" {
		return nil, errors.New("postmark sender: from address is required")
	}

	slog.Info("postmark transport configured", "from_address", config.FromAddress)

	return &PostmarkSender{
		client: postmark.NewClient(config.ServerToken, config.AccountToken),
		config: config,
	}, nil
}

// Channel returns the channel this transport serves.
func (s *PostmarkSender) Channel() domain.Channel {
	return domain.ChannelEmail
}

// Send delivers a single message.
func (s *PostmarkSender) Send(ctx context.Context, msg notifications.Message) (notifications.Result, error) {
	resp, err := s.client.SendEmail(ctx, postmark.Email{
		From:     s.config.FromAddress,
		ReplyTo:  s.config.ReplyTo,
		To:       msg.Recipient,
		Subject:  msg.Subject,
		Tag:      s.config.Tag,
		HTMLBody: msg.Body,
	})
	if err != nil {
		// Transport-level failure; Postmark never saw a valid request.
		return notifications.Result{Response: err.Error()}, notifications.NewRetryableError(fmt.Errorf("postmark: %w", err))
	}

	result := notifications.Result{StatusCode: int(resp.ErrorCode), Response: resp.Message}
	if resp.ErrorCode > 0 {
		return result, postmarkError(int(resp.ErrorCode), resp.Message)
	}
	return result, nil
}

func postmarkError(code int, message string) error {
	err := fmt.Errorf("postmark error: %d - %s", code, message)
	return &notifications.RetryableError{Err: err, Retryable: postmarkRetryable(code)}
}

func postmarkRetryable(code int) bool {
	return code == postmarkErrMaintenance || code == postmarkErrRateLimited
}

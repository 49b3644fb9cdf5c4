package webhooks

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/amodvardhan/notification-engine/internal/domain"
	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const (
	defaultTimeout    = 10 * time.Second
	defaultMaxRetries = 2
	defaultRetryDelay = 500 * time.Millisecond
	userAgent         = "notifyd-webhook/1.0"
	maxErrorBody      = 200
)

// SenderConfig holds webhook sender configuration.
type SenderConfig struct {
	Timeout    time.Duration // per request
	MaxRetries int           // immediate retries after the first attempt
	RetryDelay time.Duration // fixed pause between attempts
}

// Sender POSTs signed event payloads to subscriber URLs.
type Sender struct {
	config SenderConfig
	client *http.Client
}

// NewSender creates a webhook sender. A nil client gets an instrumented default.
func NewSender(config SenderConfig, client *http.Client) *Sender {
	if config.Timeout <= 0 {
		config.Timeout = defaultTimeout
	}
	if config.MaxRetries < 0 {
		config.MaxRetries = 0
	}
	if config.RetryDelay < 0 {
		config.RetryDelay = defaultRetryDelay
	}
	if client == nil {
		client = &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		}
	}
	return &Sender{config: config, client: client}
}

// DeliveryResult describes the last attempt made for one subscription.
type DeliveryResult struct {
	Attempts   int
	StatusCode int
	Duration   time.Duration
}

// Deliver sends body to sub, retrying transient failures up to MaxRetries times.
// 4xx responses other than 408, 425 and 429 are not retried.
func (s *Sender) Deliver(ctx context.Context, sub domain.WebhookSubscription, eventType domain.EventType, body []byte) (DeliveryResult, error) {
	var (
		result  DeliveryResult
		lastErr error
	)
	start := time.Now()
	deliveryID := uuid.NewString()

	for attempt := 0; attempt <= s.config.MaxRetries; attempt++ {
		if attempt > 0 && s.config.RetryDelay > 0 {
			select {
			case <-ctx.Done():
				result.Duration = time.Since(start)
				return result, ctx.Err()
			case <-time.After(s.config.RetryDelay):
			}
		}

		result.Attempts = attempt + 1
		status, err := s.attempt(ctx, sub, eventType, deliveryID, body)
		result.StatusCode = status
		if err == nil {
			result.Duration = time.Since(start)
			return result, nil
		}
		lastErr = err

		if isPermanentStatus(status) {
			result.Duration = time.Since(start)
			return result, fmt.Errorf("%w: %w", ErrPermanentFailure, err)
		}
	}

	result.Duration = time.Since(start)
	return result, fmt.Errorf("%w after %d attempts: %w", ErrDeliveryFailed, result.Attempts, lastErr)
}

func (s *Sender) attempt(ctx context.Context, sub domain.WebhookSubscription, eventType domain.EventType, deliveryID string, body []byte) (int, error) {
	reqCtx, cancel := context.WithTimeout(ctx, s.config.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, sub.URL, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set(HeaderEvent, string(eventType))
	req.Header.Set(HeaderID, deliveryID)
	req.Header.Set(HeaderTimestamp, strconv.FormatInt(time.Now().Unix(), 10))
	if sub.Secret != "" {
		req.Header.Set(HeaderSignature, Sign(sub.Secret, body))
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("send request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64*1024))
		return resp.StatusCode, nil
	}

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	msg := strings.ReplaceAll(string(respBody), "\n", " ")
	if len(msg) > maxErrorBody {
		msg = msg[:maxErrorBody] + "..."
	}
	return resp.StatusCode, fmt.Errorf("webhook returned status %d: %s", resp.StatusCode, msg)
}

func isPermanentStatus(status int) bool {
	if status < 400 || status >= 500 {
		return false
	}
	switch status {
	case http.StatusRequestTimeout, http.StatusTooEarly, http.StatusTooManyRequests:
		return false
	}
	return true
}

// ValidateURL accepts absolute http and https URLs with a host.
func ValidateURL(raw string) error {
	if raw == "" {
		return fmt.Errorf("%w: url is required", ErrInvalidURL)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%w: only http and https schemes are supported", ErrInvalidURL)
	}
	if u.Host == "" {
		return fmt.Errorf("%w: host is required", ErrInvalidURL)
	}
	return nil
}

// IsPermanent reports whether err came from a non-retryable rejection.
func IsPermanent(err error) bool {
	return errors.Is(err, ErrPermanentFailure)
}

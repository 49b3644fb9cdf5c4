// Package push provides mobile push delivery through an HTTP push gateway.
//
// The gateway receives a JSON document per device token and answers with an
// HTTP status; 410 Gone marks a token as unregistered.
package push

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/amodvardhan/notification-engine/internal/domain"
	"github.com/amodvardhan/notification-engine/internal/notifications"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/time/rate"
)

const (
	defaultTimeout   = 10 * time.Second
	defaultRateLimit = 50.0
	maxResponseBytes = 64 << 10
	maxErrorBody     = 256
)

// Config holds push sender configuration.
type Config struct {
	GatewayURL string
	APIKey     string
	RateLimit  float64
	Timeout    time.Duration
}

// Sender delivers push notifications.
type Sender struct {
	config     Config
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewSender creates a new push sender.
func NewSender(config Config) (*Sender, error) {
	if config.GatewayURL == "" {
		return nil, errors.New("push sender: gateway url is required")
	}
	if config.Timeout == 0 {
		config.Timeout = defaultTimeout
	}
	if config.RateLimit <= 0 {
		config.RateLimit = defaultRateLimit
	}

	slog.Info("push transport configured",
		"gateway", maskURL(config.GatewayURL),
		"rate_limit", config.RateLimit,
	)

	return &Sender{
		config: config,
		httpClient: &http.Client{
			Timeout:   config.Timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		limiter: rate.NewLimiter(rate.Limit(config.RateLimit), int(config.RateLimit)+1),
	}, nil
}

// Channel returns the channel this transport serves.
func (s *Sender) Channel() domain.Channel {
	return domain.ChannelPush
}

type pushPayload struct {
	To    string         `json:"to"`
	Title string         `json:"title,omitempty"`
	Body  string         `json:"body"`
	Data  map[string]any `json:"data,omitempty"`
}

// Send delivers one push notification. msg.Recipient is the device token.
func (s *Sender) Send(ctx context.Context, msg notifications.Message) (notifications.Result, error) {
	if msg.Recipient == "" {
		return notifications.Result{}, &PermanentError{Message: "device token is empty"}
	}

	if err := s.limiter.Wait(ctx); err != nil {
		return notifications.Result{}, fmt.Errorf("rate limit wait: %w", err)
	}

	data := map[string]any{"notification_id": msg.NotificationID}
	for k, v := range msg.Metadata {
		data[k] = v
	}

	body, err := json.Marshal(pushPayload{
		To:    msg.Recipient,
		Title: msg.Subject,
		Body:  msg.Body,
		Data:  data,
	})
	if err != nil {
		return notifications.Result{}, &PermanentError{Message: fmt.Sprintf("marshal payload: %v", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.config.GatewayURL, bytes.NewReader(body))
	if err != nil {
		return notifications.Result{}, &PermanentError{Message: fmt.Sprintf("create request: %v", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	if s.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.config.APIKey)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return notifications.Result{}, &RetryableError{Message: fmt.Sprintf("send request: %v", err)}
	}
	defer func() { _ = resp.Body.Close() }()

	return s.handleResponse(resp)
}

func (s *Sender) handleResponse(resp *http.Response) (notifications.Result, error) {
	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return notifications.Result{StatusCode: resp.StatusCode}, &RetryableError{Code: resp.StatusCode, Message: fmt.Sprintf("read response: %v", err)}
	}
	result := notifications.Result{StatusCode: resp.StatusCode, Response: string(raw)}

	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated, http.StatusAccepted, http.StatusNoContent:
		slog.Debug("push accepted", "gateway", maskURL(s.config.GatewayURL))
		return result, nil

	case http.StatusBadRequest:
		return result, &PermanentError{Code: resp.StatusCode, Message: fmt.Sprintf("bad request: %s", excerpt(raw))}

	case http.StatusUnauthorized, http.StatusForbidden:
		return result, &PermanentError{Code: resp.StatusCode, Message: "invalid gateway credentials"}

	case http.StatusNotFound, http.StatusGone:
		return result, &PermanentError{Code: resp.StatusCode, Message: "device token not registered"}

	case http.StatusRequestTimeout:
		return result, &RetryableError{Code: resp.StatusCode, Message: "gateway timeout"}

	case http.StatusTooManyRequests:
		return result, &RetryableError{Code: resp.StatusCode, Message: "rate limited"}

	default:
		if resp.StatusCode >= 400 && resp.StatusCode < 500 {
			return result, &PermanentError{Code: resp.StatusCode, Message: fmt.Sprintf("rejected: %s", excerpt(raw))}
		}
		if resp.StatusCode >= 500 {
			return result, &RetryableError{Code: resp.StatusCode, Message: fmt.Sprintf("server error: %s", excerpt(raw))}
		}
		return result, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, excerpt(raw))
	}
}

// excerpt returns the start of a gateway body for error messages.
func excerpt(raw []byte) string {
	s := strings.ToValidUTF8(string(raw), "")
	if len(s) <= maxErrorBody {
		return s
	}
	cut := maxErrorBody
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}

// maskURL hides part of the URL for logging.
func maskURL(url string) string {
	if len(url) > 40 {
		return url[:20] + "..." + url[len(url)-10:]
	}
	return url
}

// PermanentError indicates a permanent error that should not be retried.
type PermanentError struct {
	Code    int
	Message string
}

func (e *PermanentError) Error() string {
	if e.Code > 0 {
		return fmt.Sprintf("push error %d: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("push error: %s", e.Message)
}

// IsRetryable returns false as permanent errors should not be retried.
func (e *PermanentError) IsRetryable() bool { return false }

// RetryableError indicates a temporary error that can be retried.
type RetryableError struct {
	Code    int
	Message string
}

func (e *RetryableError) Error() string {
	if e.Code > 0 {
		return fmt.Sprintf("push error %d: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("push error: %s", e.Message)
}

// IsRetryable returns true as these errors are temporary.
func (e *RetryableError) IsRetryable() bool { return true }

// Package sms provides SMS delivery through the Twilio Messages API.
package sms

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/amodvardhan/notification-engine/internal/domain"
	"github.com/amodvardhan/notification-engine/internal/notifications"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/time/rate"
)

const (
	defaultAPIURL    = "https://api.twilio.com/2010-04-01/Accounts/%s/Messages.json"
	defaultRateLimit = 1.0
	defaultTimeout   = 10 * time.Second
	maxResponseBytes = 64 << 10
)

// Twilio error codes that mean the destination can never receive the message.
var permanentCodes = map[int]bool{
	21211: true, // invalid 'To' number
	21408: true, // region not enabled
	21610: true, // recipient unsubscribed
	21614: true, // not a mobile number
}

// Config holds SMS sender configuration.
type Config struct {
	AccountSID string
	AuthToken  string
	FromNumber string
	// RateLimit is the maximum messages per second.
	RateLimit float64
	Timeout   time.Duration
}

// Sender delivers SMS messages.
type Sender struct {
	config     Config
	httpClient *http.Client
	limiter    *rate.Limiter
	apiURL     string
}

// NewSender creates a new SMS sender.
func NewSender(config Config) (*Sender, error) {
	if config.AccountSID == "" || config.AuthToken == "" {
		return nil, errors.New("sms sender: account sid and auth token are required")
	}
	if config.FromNumber == "" {
		return nil, errors.New("sms sender: from number is required")
	}

	if config.RateLimit <= 0 {
		config.RateLimit = defaultRateLimit
	}
	if config.Timeout == 0 {
		config.Timeout = defaultTimeout
	}

	slog.Info("sms transport configured",
		"from_number", config.FromNumber,
		"rate_limit", config.RateLimit,
	)

	return &Sender{
		config: config,
		httpClient: &http.Client{
			Timeout:   config.Timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		limiter: rate.NewLimiter(rate.Limit(config.RateLimit), 1),
		apiURL:  defaultAPIURL,
	}, nil
}

// Channel returns the channel this transport serves.
func (s *Sender) Channel() domain.Channel {
	return domain.ChannelSMS
}

type messageResponse struct {
	SID          string `json:"sid"`
	Status       string `json:"status"`
	Code         int    `json:"code"`
	Message      string `json:"message"`
	ErrorMessage string `json:"error_message"`
}

// Send delivers one text message. The subject, if any, is prefixed to the body.
func (s *Sender) Send(ctx context.Context, msg notifications.Message) (notifications.Result, error) {
	if msg.Recipient == "" {
		return notifications.Result{}, &PermanentError{Message: "recipient is empty"}
	}

	if err := s.limiter.Wait(ctx); err != nil {
		return notifications.Result{}, fmt.Errorf("rate limit wait: %w", err)
	}

	text := msg.Body
	if msg.Subject != "" {
		text = msg.Subject + "\n" + msg.Body
	}

	form := url.Values{}
	form.Set("To", msg.Recipient)
	form.Set("From", s.config.FromNumber)
	form.Set("Body", text)

	endpoint := fmt.Sprintf(s.apiURL, s.config.AccountSID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return notifications.Result{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(s.config.AccountSID, s.config.AuthToken)

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

	var body messageResponse
	_ = json.Unmarshal(raw, &body)

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		slog.Debug("sms accepted", "sid", body.SID, "status", body.Status)
		return result, nil

	case resp.StatusCode == http.StatusTooManyRequests:
		return result, &RateLimitError{
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
			Message:    body.Message,
		}

	case resp.StatusCode >= 500:
		return result, &RetryableError{Code: resp.StatusCode, Message: fmt.Sprintf("server error: %s", body.Message)}

	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		return result, &PermanentError{Code: resp.StatusCode, Message: "invalid credentials"}

	case permanentCodes[body.Code]:
		return result, &PermanentError{Code: body.Code, Message: body.Message}

	case resp.StatusCode == http.StatusRequestTimeout:
		return result, &RetryableError{Code: resp.StatusCode, Message: "request timeout"}

	default:
		return result, &PermanentError{Code: resp.StatusCode, Message: body.Message}
	}
}

func parseRetryAfter(v string) time.Duration {
	secs, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || secs < 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}

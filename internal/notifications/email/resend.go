package email

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/amodvardhan/notification-engine/internal/domain"
	"github.com/amodvardhan/notification-engine/internal/notifications"
	"github.com/resend/resend-go/v2"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// ResendConfig holds Resend API configuration.
type ResendConfig struct {
	APIKey      string
	FromAddress string
	Timeout     time.Duration
}

// ResendSender delivers email through the Resend API.
type ResendSender struct {
	client *resend.Client
	from   string
}

// NewResendSender creates a new Resend transport.
func NewResendSender(config ResendConfig) (*ResendSender, error) {
	if config.APIKey == "" {
		return nil, errors.New("resend sender: api key is required")
	}
	if config.FromAddress == "" {
		return nil, errors.New("resend sender: from address is required")
	}
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}

	httpClient := &http.Client{
		Timeout:   config.Timeout,
		Transport: &statusRecorder{next: otelhttp.NewTransport(http.DefaultTransport)},
	}

	slog.Info("resend transport configured", "from_address", config.FromAddress)

	return &ResendSender{
		client: resend.NewCustomClient(httpClient, config.APIKey),
		from:   config.FromAddress,
	}, nil
}

// Channel returns the channel this transport serves.
func (s *ResendSender) Channel() domain.Channel {
	return domain.ChannelEmail
}

// Send delivers a single message.
func (s *ResendSender) Send(ctx context.Context, msg notifications.Message) (notifications.Result, error) {
	status := &capturedStatus{}
	ctx = context.WithValue(ctx, capturedStatusKey{}, status)

	resp, err := s.client.Emails.SendWithContext(ctx, &resend.SendEmailRequest{
		From:    s.from,
		To:      []string{msg.Recipient},
		Subject: msg.Subject,
		Html:    msg.Body,
		Headers: map[string]string{"X-Notification-ID": msg.NotificationID},
	})
	if err != nil {
		result := notifications.Result{StatusCode: status.code, Response: err.Error()}
		return result, &notifications.RetryableError{Err: err, Retryable: retryableStatus(status.code)}
	}

	return notifications.Result{StatusCode: status.code, Response: resp.Id}, nil
}

// retryableStatus reports whether an HTTP API failure is worth retrying.
// Zero means the request never got a response.
func retryableStatus(code int) bool {
	switch {
	case code == 0:
		return true
	case code == http.StatusRequestTimeout, code == http.StatusTooManyRequests:
		return true
	case code >= 500:
		return true
	default:
		return false
	}
}

type capturedStatusKey struct{}

type capturedStatus struct {
	code int
}

// statusRecorder stores the response status in the request context so it
// survives clients that flatten errors into strings.
type statusRecorder struct {
	next http.RoundTripper
}

func (t *statusRecorder) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := t.next.RoundTrip(req)
	if resp != nil {
		if c, ok := req.Context().Value(capturedStatusKey{}).(*capturedStatus); ok {
			c.code = resp.StatusCode
		}
	}
	return resp, err
}

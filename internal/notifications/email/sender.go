// Package email provides email transports: plain SMTP and the Resend and
// Postmark HTTP APIs.
package email

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"net"
	"net/smtp"
	"net/textproto"
	"strings"
	"time"

	"github.com/amodvardhan/notification-engine/internal/domain"
	"github.com/amodvardhan/notification-engine/internal/notifications"
)

// Config holds SMTP transport configuration.
type Config struct {
	SMTPHost     string
	SMTPPort     int
	SMTPUser     string
	SMTPPassword string
	FromAddress  string
	DialTimeout  time.Duration
}

// Sender delivers email over SMTP with opportunistic STARTTLS.
type Sender struct {
	config Config
	auth   smtp.Auth
}

// NewSender creates a new SMTP sender.
func NewSender(config Config) (*Sender, error) {
	if config.SMTPHost == "" {
		return nil, errors.New("email sender: SMTP host is required")
	}
	if config.FromAddress == "" {
		return nil, errors.New("email sender: from address is required")
	}

	if config.SMTPPort == 0 {
		config.SMTPPort = 587
	}
	if config.DialTimeout == 0 {
		config.DialTimeout = 10 * time.Second
	}

	var auth smtp.Auth
	if config.SMTPUser != "" && config.SMTPPassword != "" {
		auth = smtp.PlainAuth("", config.SMTPUser, config.SMTPPassword, config.SMTPHost)
	}

	slog.Info("smtp transport configured",
		"smtp_host", config.SMTPHost,
		"smtp_port", config.SMTPPort,
		"from_address", config.FromAddress,
	)

	return &Sender{
		config: config,
		auth:   auth,
	}, nil
}

// Channel returns the channel this transport serves.
func (s *Sender) Channel() domain.Channel {
	return domain.ChannelEmail
}

// Send delivers a single message. SMTP 4xx replies and network failures are
// retryable, 5xx replies are permanent.
func (s *Sender) Send(ctx context.Context, msg notifications.Message) (notifications.Result, error) {
	addr := fmt.Sprintf("%s:%d", s.config.SMTPHost, s.config.SMTPPort)
	tlsConfig := &tls.Config{
		ServerName: s.config.SMTPHost,
		MinVersion: tls.VersionTLS12,
	}

	body := s.buildMessage(msg.Recipient, msg.Subject, msg.Body)
	if err := s.sendWithSTARTTLS(ctx, addr, tlsConfig, msg.Recipient, body); err != nil {
		return resultFromError(err), &notifications.RetryableError{Err: err, Retryable: IsRetryable(err)}
	}

	return notifications.Result{StatusCode: 250, Response: "accepted"}, nil
}

func (s *Sender) buildMessage(to, subject, body string) []byte {
	var msg strings.Builder

	// Headers in deterministic order
	msg.WriteString(fmt.Sprintf("From: %s\r\n", s.config.FromAddress))
	msg.WriteString(fmt.Sprintf("To: %s\r\n", to))
	msg.WriteString(fmt.Sprintf("Subject: %s\r\n", mime.QEncoding.Encode("utf-8", subject)))
	msg.WriteString("MIME-Version: 1.0\r\n")
	msg.WriteString("Content-Type: text/plain; charset=\"utf-8\"\r\n")
	msg.WriteString("\r\n")
	msg.WriteString(body)

	return []byte(msg.String())
}

func (s *Sender) sendWithSTARTTLS(ctx context.Context, addr string, tlsConfig *tls.Config, recipient string, msg []byte) error {
	dialer := &net.Dialer{Timeout: s.config.DialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("dial smtp: %w", err)
	}
	defer func() { _ = conn.Close() }()

	// net/smtp has no context support; bound the whole conversation instead.
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	client, err := smtp.NewClient(conn, s.config.SMTPHost)
	if err != nil {
		return fmt.Errorf("create smtp client: %w", err)
	}
	defer func() { _ = client.Close() }()

	if ok, _ := client.Extension("STARTTLS"); ok {
		if err := client.StartTLS(tlsConfig); err != nil {
			return fmt.Errorf("starttls: %w", err)
		}
	}

	if s.auth != nil {
		if err := client.Auth(s.auth); err != nil {
			return fmt.Errorf("auth: %w", err)
		}
	}

	if err := client.Mail(extractEmail(s.config.FromAddress)); err != nil {
		return fmt.Errorf("mail from: %w", err)
	}
	if err := client.Rcpt(extractEmail(recipient)); err != nil {
		return fmt.Errorf("rcpt to: %w", err)
	}

	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("data: %w", err)
	}
	if _, err := w.Write(msg); err != nil {
		return fmt.Errorf("write message: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("close data: %w", err)
	}

	return client.Quit()
}

// extractEmail extracts the email address from formats like "Name <email@example.com>".
func extractEmail(address string) string {
	if idx := strings.Index(address, "<"); idx != -1 {
		end := strings.Index(address, ">")
		if end > idx {
			return address[idx+1 : end]
		}
	}
	return address
}

func resultFromError(err error) notifications.Result {
	var tpErr *textproto.Error
	if errors.As(err, &tpErr) {
		return notifications.Result{StatusCode: tpErr.Code, Response: tpErr.Msg}
	}
	return notifications.Result{}
}

// IsRetryable determines if an SMTP error is worth another attempt.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	// Connection refused, reset and friends
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}

	var tpErr *textproto.Error
	if errors.As(err, &tpErr) {
		// 552 mailbox full is transient in practice
		return tpErr.Code/100 == 4 || tpErr.Code == 552
	}

	return false
}

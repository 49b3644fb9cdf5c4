package app

import (
	"fmt"
	"log/slog"

	"github.com/amodvardhan/notification-engine/internal/config"
	"github.com/amodvardhan/notification-engine/internal/domain"
	"github.com/amodvardhan/notification-engine/internal/notifications"
	"github.com/amodvardhan/notification-engine/internal/notifications/email"
	"github.com/amodvardhan/notification-engine/internal/notifications/inmemory"
	"github.com/amodvardhan/notification-engine/internal/notifications/push"
	"github.com/amodvardhan/notification-engine/internal/notifications/sms"
)

// buildTransports creates one transport per configured channel.
// Channels without a provider get no transport; their notifications go dead
// on the first attempt.
func buildTransports(cfg *config.Config) ([]notifications.Transport, error) {
	var transports []notifications.Transport

	emailTransport, err := buildEmailTransport(cfg.Email)
	if err != nil {
		return nil, fmt.Errorf("create email transport: %w", err)
	}
	if emailTransport != nil {
		transports = append(transports, emailTransport)
	}

	switch cfg.SMS.Provider {
	case config.ProviderTwilio:
		s, err := sms.NewSender(sms.Config{
			AccountSID: cfg.SMS.AccountSID,
			AuthToken:  cfg.SMS.AuthToken,
			FromNumber: cfg.SMS.FromNumber,
			RateLimit:  cfg.SMS.RateLimit,
			Timeout:    cfg.Worker.TransportTimeout,
		})
		if err != nil {
			return nil, fmt.Errorf("create sms transport: %w", err)
		}
		transports = append(transports, s)
	case config.ProviderInMemory:
		transports = append(transports, inmemory.New(domain.ChannelSMS))
	}

	switch cfg.Push.Provider {
	case config.ProviderHTTP:
		p, err := push.NewSender(push.Config{
			GatewayURL: cfg.Push.GatewayURL,
			APIKey:     cfg.Push.APIKey,
			RateLimit:  cfg.Push.RateLimit,
			Timeout:    cfg.Worker.TransportTimeout,
		})
		if err != nil {
			return nil, fmt.Errorf("create push transport: %w", err)
		}
		transports = append(transports, p)
	case config.ProviderInMemory:
		transports = append(transports, inmemory.New(domain.ChannelPush))
	}

	for _, ch := range domain.Channels() {
		if !hasChannel(transports, ch) {
			slog.Warn("no transport configured: notifications on this channel will fail permanently", "channel", ch)
		}
	}

	return transports, nil
}

func buildEmailTransport(cfg config.EmailConfig) (notifications.Transport, error) {
	switch cfg.Provider {
	case config.ProviderSMTP:
		return email.NewSender(email.Config{
			SMTPHost:     cfg.SMTPHost,
			SMTPPort:     cfg.SMTPPort,
			SMTPUser:     cfg.SMTPUser,
			SMTPPassword: cfg.SMTPPassword,
			FromAddress:  cfg.FromAddress,
		})
	case config.ProviderResend:
		return email.NewResendSender(email.ResendConfig{
			APIKey:      cfg.ResendAPIKey,
			FromAddress: cfg.FromAddress,
			Timeout:     cfg.Timeout,
		})
	case config.ProviderPostmark:
		return email.NewPostmarkSender(email.PostmarkConfig{
			ServerToken:  cfg.PostmarkServerToken,
			AccountToken: cfg.PostmarkAccountToken,
			FromAddress:  cfg.FromAddress,
		})
	case config.ProviderInMemory:
		return inmemory.New(domain.ChannelEmail), nil
	default:
		return nil, nil
	}
}

func hasChannel(transports []notifications.Transport, ch domain.Channel) bool {
	for _, t := range transports {
		if t.Channel() == ch {
			return true
		}
	}
	return false
}

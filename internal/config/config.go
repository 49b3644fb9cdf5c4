// Package config loads service configuration from a YAML file and
// NOTIFY_-prefixed environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix prefixes every environment override. Nested keys are separated
// by a double underscore: NOTIFY_WORKER__MAX_ATTEMPTS=8.
const EnvPrefix = "NOTIFY_"

// Storage drivers.
const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// Transport providers.
const (
	ProviderSMTP     = "smtp"
	ProviderResend   = "resend"
	ProviderPostmark = "postmark"
	ProviderTwilio   = "twilio"
	ProviderHTTP     = "http"
	ProviderInMemory = "inmemory"
)

// listKeys are split on commas when given through the environment.
var listKeys = map[string]bool{
	"cors.allowed_origins": true,
	"webhooks.events":      true,
}

// Config is the complete service configuration.
type Config struct {
	Server   ServerConfig   `koanf:"server"`
	Database DatabaseConfig `koanf:"database"`
	Log      LogConfig      `koanf:"log"`
	CORS     CORSConfig     `koanf:"cors"`
	Auth     AuthConfig     `koanf:"auth"`
	Worker   WorkerConfig   `koanf:"worker"`
	Webhooks WebhooksConfig `koanf:"webhooks"`
	Email    EmailConfig    `koanf:"email"`
	SMS      SMSConfig      `koanf:"sms"`
	Push     PushConfig     `koanf:"push"`
	Redis    RedisConfig    `koanf:"redis"`
}

// ServerConfig configures the API and metrics listeners.
type ServerConfig struct {
	Host              string        `koanf:"host"`
	Port              string        `koanf:"port"`
	MetricsPort       string        `koanf:"metrics_port"`
	ReadTimeout       time.Duration `koanf:"read_timeout"`
	ReadHeaderTimeout time.Duration `koanf:"read_header_timeout"`
	WriteTimeout      time.Duration `koanf:"write_timeout"`
	IdleTimeout       time.Duration `koanf:"idle_timeout"`
}

// DatabaseConfig configures the delivery record store.
type DatabaseConfig struct {
	// Driver is postgres or memory.
	Driver          string        `koanf:"driver"`
	URL             string        `koanf:"url"`
	MaxOpenConns    int           `koanf:"max_open_conns"`
	MaxIdleConns    int           `koanf:"max_idle_conns"`
	ConnMaxLifetime time.Duration `koanf:"conn_max_lifetime"`
	ConnectTimeout  time.Duration `koanf:"connect_timeout"`
	ConnectAttempts int           `koanf:"connect_attempts"`
	AutoMigrate     bool          `koanf:"auto_migrate"`
}

// LogConfig configures slog.
type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// CORSConfig configures allowed browser origins.
type CORSConfig struct {
	AllowedOrigins []string `koanf:"allowed_origins"`
}

// AuthConfig configures the optional service-token check.
type AuthConfig struct {
	Enabled   bool   `koanf:"enabled"`
	SecretKey string `koanf:"secret_key"`
	Issuer    string `koanf:"issuer"`
}

// WorkerConfig configures dispatch and retry behaviour.
type WorkerConfig struct {
	Enabled          bool          `koanf:"enabled"`
	NumWorkers       int           `koanf:"num_workers"`
	BatchSize        int           `koanf:"batch_size"`
	PollInterval     time.Duration `koanf:"poll_interval"`
	MaxAttempts      int           `koanf:"max_attempts"`
	BackoffBase      float64       `koanf:"backoff_base"`
	BackoffCap       time.Duration `koanf:"backoff_cap"`
	TransportTimeout time.Duration `koanf:"transport_timeout"`
	// StallThreshold of zero means five transport timeouts.
	StallThreshold time.Duration `koanf:"stall_threshold"`
	ReapInterval   time.Duration `koanf:"reap_interval"`
}

// WebhooksConfig configures outbound event fan-out.
type WebhooksConfig struct {
	// Events lists optional lifecycle events published in addition to
	// notification.sent and notification.dead.
	Events      []string      `koanf:"events"`
	Concurrency int           `koanf:"concurrency"`
	Timeout     time.Duration `koanf:"timeout"`
	MaxRetries  int           `koanf:"max_retries"`
	RetryDelay  time.Duration `koanf:"retry_delay"`
}

// EmailConfig selects and configures the email transport.
type EmailConfig struct {
	// Provider is smtp, resend, postmark, inmemory or empty to disable email.
	Provider             string        `koanf:"provider"`
	FromAddress          string        `koanf:"from_address"`
	SMTPHost             string        `koanf:"smtp_host"`
	SMTPPort             int           `koanf:"smtp_port"`
	SMTPUser             string        `koanf:"smtp_user"`
	SMTPPassword         string        `koanf:"smtp_password"`
	ResendAPIKey         string        `koanf:"resend_api_key"`
	PostmarkServerToken  string        `koanf:"postmark_server_token"`
	PostmarkAccountToken string        `koanf:"postmark_account_token"`
	Timeout              time.Duration `koanf:"timeout"`
}

// SMSConfig selects and configures the SMS transport.
type SMSConfig struct {
	// Provider is twilio, inmemory or empty to disable SMS.
	Provider   string  `koanf:"provider"`
	AccountSID string  `koanf:"account_sid"`
	AuthToken  string  `koanf:"auth_token"`
	FromNumber string  `koanf:"from_number"`
	RateLimit  float64 `koanf:"rate_limit"`
}

// PushConfig selects and configures the push transport.
type PushConfig struct {
	// Provider is http, inmemory or empty to disable push.
	Provider   string  `koanf:"provider"`
	GatewayURL string  `koanf:"gateway_url"`
	APIKey     string  `koanf:"api_key"`
	RateLimit  float64 `koanf:"rate_limit"`
}

// RedisConfig configures the optional cross-process wake-up signal.
type RedisConfig struct {
	Enabled  bool   `koanf:"enabled"`
	Addr     string `koanf:"addr"`
	Password string `koanf:"password"`
	DB       int    `koanf:"db"`
	QueueKey string `koanf:"queue_key"`
}

// Default returns the configuration used for every key not set explicitly.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:              "0.0.0.0",
			Port:              "8080",
			MetricsPort:       "9090",
			ReadTimeout:       15 * time.Second,
			ReadHeaderTimeout: 5 * time.Second,
			WriteTimeout:      15 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
		Database: DatabaseConfig{
			Driver:          DriverPostgres,
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
			ConnectTimeout:  30 * time.Second,
			ConnectAttempts: 5,
			AutoMigrate:     true,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Worker: WorkerConfig{
			Enabled:          true,
			NumWorkers:       4,
			BatchSize:        50,
			PollInterval:     time.Second,
			MaxAttempts:      5,
			BackoffBase:      2,
			BackoffCap:       time.Hour,
			TransportTimeout: 10 * time.Second,
			ReapInterval:     30 * time.Second,
		},
		Webhooks: WebhooksConfig{
			Concurrency: 8,
			Timeout:     10 * time.Second,
			MaxRetries:  2,
			RetryDelay:  500 * time.Millisecond,
		},
		Email: EmailConfig{
			SMTPPort: 587,
		},
		SMS: SMSConfig{
			RateLimit: 1,
		},
		Push: PushConfig{
			RateLimit: 50,
		},
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			QueueKey: "notification_queue",
		},
	}
}

// Load reads path (optional; empty skips the file) and then environment
// overrides on top of Default.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.ProviderWithValue(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	cfg := Default()
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// envKey maps NOTIFY_WORKER__MAX_ATTEMPTS to worker.max_attempts.
func envKey(key, value string) (string, any) {
	k := strings.ToLower(strings.TrimPrefix(key, EnvPrefix))
	k = strings.ReplaceAll(k, "__", ".")
	if k == "config" {
		return "", nil
	}
	if listKeys[k] {
		parts := strings.Split(value, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		return k, out
	}
	return k, value
}

// Validate reports every configuration problem at once.
func (c *Config) Validate() error {
	var errs []error

	switch c.Database.Driver {
	case DriverPostgres:
		if c.Database.URL == "" {
			errs = append(errs, errors.New("database.url is required for the postgres driver"))
		}
	case DriverMemory:
	default:
		errs = append(errs, fmt.Errorf("database.driver: unknown driver %q", c.Database.Driver))
	}

	if c.Auth.Enabled && c.Auth.SecretKey == "" {
		errs = append(errs, errors.New("auth.secret_key is required when auth is enabled"))
	}

	w := c.Worker
	if w.MaxAttempts < 1 {
		errs = append(errs, errors.New("worker.max_attempts must be at least 1"))
	}
	if w.BackoffBase < 1 {
		errs = append(errs, errors.New("worker.backoff_base must be at least 1"))
	}
	if w.BackoffCap <= 0 {
		errs = append(errs, errors.New("worker.backoff_cap must be positive"))
	}
	if w.BatchSize < 1 {
		errs = append(errs, errors.New("worker.batch_size must be at least 1"))
	}
	if w.PollInterval <= 0 {
		errs = append(errs, errors.New("worker.poll_interval must be positive"))
	}
	if w.TransportTimeout <= 0 {
		errs = append(errs, errors.New("worker.transport_timeout must be positive"))
	}
	if w.StallThreshold < 0 {
		errs = append(errs, errors.New("worker.stall_threshold must not be negative"))
	}
	if w.StallThreshold > 0 && w.StallThreshold <= w.TransportTimeout {
		errs = append(errs, errors.New("worker.stall_threshold must exceed worker.transport_timeout"))
	}

	for _, e := range c.Webhooks.Events {
		switch e {
		case "notification.created", "notification.retrying", "notification.failed",
			"notification.sent", "notification.dead":
		default:
			errs = append(errs, fmt.Errorf("webhooks.events: unknown event %q", e))
		}
	}

	switch c.Email.Provider {
	case "", ProviderInMemory:
	case ProviderSMTP:
		if c.Email.SMTPHost == "" {
			errs = append(errs, errors.New("email.smtp_host is required for the smtp provider"))
		}
	case ProviderResend:
		if c.Email.ResendAPIKey == "" {
			errs = append(errs, errors.New("email.resend_api_key is required for the resend provider"))
		}
	case ProviderPostmark:
		if c.Email.PostmarkServerToken == "" {
			errs = append(errs, errors.New("email.postmark_server_token is required for the postmark provider"))
		}
	default:
		errs = append(errs, fmt.Errorf("email.provider: unknown provider %q", c.Email.Provider))
	}
	if c.Email.Provider != "" && c.Email.Provider != ProviderInMemory && c.Email.FromAddress == "" {
		errs = append(errs, errors.New("email.from_address is required"))
	}

	switch c.SMS.Provider {
	case "", ProviderInMemory:
	case ProviderTwilio:
		if c.SMS.AccountSID == "" || c.SMS.AuthToken == "" || c.SMS.FromNumber == "" {
			errs = append(errs, errors.New("sms.account_sid, sms.auth_token and sms.from_number are required for the twilio provider"))
		}
	default:
		errs = append(errs, fmt.Errorf("sms.provider: unknown provider %q", c.SMS.Provider))
	}

	switch c.Push.Provider {
	case "", ProviderInMemory:
	case ProviderHTTP:
		if c.Push.GatewayURL == "" {
			errs = append(errs, errors.New("push.gateway_url is required for the http provider"))
		}
	default:
		errs = append(errs, fmt.Errorf("push.provider: unknown provider %q", c.Push.Provider))
	}

	if c.Redis.Enabled && c.Redis.Addr == "" {
		errs = append(errs, errors.New("redis.addr is required when redis is enabled"))
	}

	return errors.Join(errs...)
}

// LookupPath returns the config file path from NOTIFY_CONFIG, if set.
func LookupPath() string {
	return os.Getenv(EnvPrefix + "CONFIG")
}

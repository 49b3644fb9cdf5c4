package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, 2.0, cfg.Worker.BackoffBase)
	assert.Equal(t, time.Hour, cfg.Worker.BackoffCap)
	assert.Equal(t, 5, cfg.Worker.MaxAttempts)
	assert.Equal(t, 50, cfg.Worker.BatchSize)
	assert.Equal(t, time.Second, cfg.Worker.PollInterval)
	assert.Equal(t, 10*time.Second, cfg.Worker.TransportTimeout)
	assert.Zero(t, cfg.Worker.StallThreshold)
	assert.Equal(t, "notification_queue", cfg.Redis.QueueKey)
	assert.Equal(t, DriverPostgres, cfg.Database.Driver)
}

func TestLoad_File(t *testing.T) {
	path := writeConfig(t, `
database:
  driver: memory
worker:
  max_attempts: 3
  backoff_base: 3
  backoff_cap: 90s
  poll_interval: 250ms
  stall_threshold: 2m
webhooks:
  events: [notification.created, notification.retrying]
email:
  provider: inmemory
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, DriverMemory, cfg.Database.Driver)
	assert.Equal(t, 3, cfg.Worker.MaxAttempts)
	assert.Equal(t, 3.0, cfg.Worker.BackoffBase)
	assert.Equal(t, 90*time.Second, cfg.Worker.BackoffCap)
	assert.Equal(t, 250*time.Millisecond, cfg.Worker.PollInterval)
	assert.Equal(t, 2*time.Minute, cfg.Worker.StallThreshold)
	assert.Equal(t, []string{"notification.created", "notification.retrying"}, cfg.Webhooks.Events)
	assert.Equal(t, ProviderInMemory, cfg.Email.Provider)

	// untouched keys keep defaults
	assert.Equal(t, 50, cfg.Worker.BatchSize)
	assert.Equal(t, "8080", cfg.Server.Port)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeConfig(t, `
database:
  driver: memory
worker:
  max_attempts: 3
`)
	t.Setenv("NOTIFY_WORKER__MAX_ATTEMPTS", "8")
	t.Setenv("NOTIFY_WORKER__TRANSPORT_TIMEOUT", "1500ms")
	t.Setenv("NOTIFY_CORS__ALLOWED_ORIGINS", "https://a.example.com, https://b.example.com")
	t.Setenv("NOTIFY_AUTH__ENABLED", "true")
	t.Setenv("NOTIFY_AUTH__SECRET_KEY", "s3cret")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 8, cfg.Worker.MaxAttempts)
	assert.Equal(t, 1500*time.Millisecond, cfg.Worker.TransportTimeout)
	assert.Equal(t, []string{"https://a.example.com", "https://b.example.com"}, cfg.CORS.AllowedOrigins)
	assert.True(t, cfg.Auth.Enabled)
	assert.Equal(t, "s3cret", cfg.Auth.SecretKey)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.ErrorContains(t, err, "load config file")
}

func TestLoad_InvalidConfig(t *testing.T) {
	path := writeConfig(t, `
database:
  driver: postgres
`)
	_, err := Load(path)
	assert.ErrorContains(t, err, "database.url is required")
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg := Default()
		cfg.Database.URL = "postgres://localhost/notify"
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "defaults with url", mutate: func(*Config) {}},
		{name: "unknown driver", mutate: func(c *Config) { c.Database.Driver = "mysql" }, wantErr: "unknown driver"},
		{name: "auth without secret", mutate: func(c *Config) { c.Auth.Enabled = true }, wantErr: "auth.secret_key"},
		{name: "zero max attempts", mutate: func(c *Config) { c.Worker.MaxAttempts = 0 }, wantErr: "worker.max_attempts"},
		{name: "backoff base below one", mutate: func(c *Config) { c.Worker.BackoffBase = 0.5 }, wantErr: "worker.backoff_base"},
		{name: "stall below transport timeout", mutate: func(c *Config) { c.Worker.StallThreshold = time.Second }, wantErr: "worker.stall_threshold"},
		{name: "unknown webhook event", mutate: func(c *Config) { c.Webhooks.Events = []string{"incident.created"} }, wantErr: "unknown event"},
		{name: "smtp without host", mutate: func(c *Config) {
			c.Email.Provider = ProviderSMTP
			c.Email.FromAddress = "noreply@example.com"
		}, wantErr: "email.smtp_host"},
		{name: "resend without from", mutate: func(c *Config) {
			c.Email.Provider = ProviderResend
			c.Email.ResendAPIKey = "re_123"
		}, wantErr: "email.from_address"},
		{name: "unknown email provider", mutate: func(c *Config) { c.Email.Provider = "sendgrid" }, wantErr: "unknown provider"},
		{name: "twilio incomplete", mutate: func(c *Config) { c.SMS.Provider = ProviderTwilio }, wantErr: "sms.account_sid"},
		{name: "push without gateway", mutate: func(c *Config) { c.Push.Provider = ProviderHTTP }, wantErr: "push.gateway_url"},
		{name: "redis without addr", mutate: func(c *Config) {
			c.Redis.Enabled = true
			c.Redis.Addr = ""
		}, wantErr: "redis.addr"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestEnvKey(t *testing.T) {
	k, v := envKey("NOTIFY_WORKER__BACKOFF_CAP", "2h")
	assert.Equal(t, "worker.backoff_cap", k)
	assert.Equal(t, "2h", v)

	k, v = envKey("NOTIFY_WEBHOOKS__EVENTS", "notification.created,,notification.failed")
	assert.Equal(t, "webhooks.events", k)
	assert.Equal(t, []string{"notification.created", "notification.failed"}, v)

	k, _ = envKey("NOTIFY_CONFIG", "/etc/notify.yaml")
	assert.Empty(t, k)
}

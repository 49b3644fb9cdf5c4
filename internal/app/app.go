// Package app provides application initialization and lifecycle management.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/amodvardhan/notification-engine/internal/config"
	"github.com/amodvardhan/notification-engine/internal/domain"
	"github.com/amodvardhan/notification-engine/internal/notifications"
	notificationsmemory "github.com/amodvardhan/notification-engine/internal/notifications/memory"
	notificationspostgres "github.com/amodvardhan/notification-engine/internal/notifications/postgres"
	"github.com/amodvardhan/notification-engine/internal/notifications/signal"
	"github.com/amodvardhan/notification-engine/internal/pkg/auth"
	"github.com/amodvardhan/notification-engine/internal/pkg/ctxlog"
	"github.com/amodvardhan/notification-engine/internal/pkg/httputil"
	"github.com/amodvardhan/notification-engine/internal/pkg/metrics"
	"github.com/amodvardhan/notification-engine/internal/pkg/postgres"
	"github.com/amodvardhan/notification-engine/internal/version"
	"github.com/amodvardhan/notification-engine/internal/webhooks"
	webhooksmemory "github.com/amodvardhan/notification-engine/internal/webhooks/memory"
	webhookspostgres "github.com/amodvardhan/notification-engine/internal/webhooks/postgres"
	"github.com/amodvardhan/notification-engine/migrations"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// wakeSignal is both ends of the enqueue-to-worker hint.
type wakeSignal interface {
	notifications.Notifier
	notifications.Wakeup
}

// App represents the application instance.
type App struct {
	config        *config.Config
	logger        *slog.Logger
	db            *pgxpool.Pool
	redis         *redis.Client
	server        *http.Server
	metricsServer *http.Server
	bgCancel      context.CancelFunc
	bgWG          sync.WaitGroup

	notificationsRepo notifications.Repository
	webhooksRepo      webhooks.Repository
	registry          *notifications.Registry
	worker            *notifications.Worker
	fanout            *webhooks.Fanout
}

// New creates a new application instance. With worker.enabled the dispatch
// loop starts immediately; otherwise attempts run only through Worker().RunOnce.
func New(cfg *config.Config) (*App, error) {
	logger := initLogger(cfg.Log)
	slog.SetDefault(logger)

	app := &App{
		config: cfg,
		logger: logger,
	}

	if err := app.initStorage(); err != nil {
		return nil, err
	}

	transports, err := buildTransports(cfg)
	if err != nil {
		app.closeStores()
		return nil, err
	}
	app.registry = notifications.NewRegistry(transports...)

	bgCtx, bgCancel := context.WithCancel(context.Background())
	app.bgCancel = bgCancel

	sig := app.initSignal(bgCtx)

	fanoutEvents := make([]domain.EventType, 0, len(cfg.Webhooks.Events))
	for _, e := range cfg.Webhooks.Events {
		fanoutEvents = append(fanoutEvents, domain.EventType(e))
	}
	webhookSender := webhooks.NewSender(webhooks.SenderConfig{
		Timeout:    cfg.Webhooks.Timeout,
		MaxRetries: cfg.Webhooks.MaxRetries,
		RetryDelay: cfg.Webhooks.RetryDelay,
	}, nil)
	app.fanout = webhooks.NewFanout(webhooks.FanoutConfig{
		Events:      fanoutEvents,
		Concurrency: cfg.Webhooks.Concurrency,
	}, app.webhooksRepo, webhookSender)

	app.worker = notifications.NewWorker(notifications.WorkerConfig{
		BatchSize:        cfg.Worker.BatchSize,
		PollInterval:     cfg.Worker.PollInterval,
		MaxAttempts:      cfg.Worker.MaxAttempts,
		BackoffBase:      cfg.Worker.BackoffBase,
		BackoffCap:       cfg.Worker.BackoffCap,
		TransportTimeout: cfg.Worker.TransportTimeout,
		StallThreshold:   cfg.Worker.StallThreshold,
		ReapInterval:     cfg.Worker.ReapInterval,
		NumWorkers:       cfg.Worker.NumWorkers,
	}, app.notificationsRepo, app.registry,
		notifications.WithPublisher(app.fanout),
		notifications.WithWakeup(sig),
	)

	router, err := app.setupRouter(sig)
	if err != nil {
		bgCancel()
		app.closeStores()
		return nil, fmt.Errorf("setup router: %w", err)
	}

	app.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port),
		Handler:           otelhttp.NewHandler(router, "notifyd"),
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
	}

	// Metrics server on separate port
	metricsRouter := chi.NewRouter()
	metricsRouter.Handle("/metrics", promhttp.Handler())

	app.metricsServer = &http.Server{
		Addr:              fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.MetricsPort),
		Handler:           metricsRouter,
		ReadTimeout:       5 * time.Second,
		ReadHeaderTimeout: 2 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	app.goBackground(func() { app.collectQueueMetrics(bgCtx) })
	if app.db != nil {
		app.goBackground(func() { app.collectDBMetrics(bgCtx) })
	}

	slog.Info("notification engine configured",
		"driver", cfg.Database.Driver,
		"channels", app.registry.Channels(),
		"worker_enabled", cfg.Worker.Enabled,
		"redis_enabled", cfg.Redis.Enabled,
		"auth_enabled", cfg.Auth.Enabled,
	)

	if cfg.Worker.Enabled {
		app.worker.Start(bgCtx)
	}

	return app, nil
}

func (a *App) initStorage() error {
	cfg := a.config.Database

	if cfg.Driver == config.DriverMemory {
		slog.Warn("using in-memory storage: notifications are lost on restart")
		a.notificationsRepo = notificationsmemory.NewRepository()
		a.webhooksRepo = webhooksmemory.NewRepository()
		return nil
	}

	connectCtx, connectCancel := context.WithTimeout(context.Background(), cfg.ConnectTimeout)
	defer connectCancel()

	db, err := postgres.Connect(connectCtx, postgres.Config{
		URL:             cfg.URL,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
		ConnectAttempts: cfg.ConnectAttempts,
	})
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}

	if cfg.AutoMigrate {
		if err := postgres.MigrateUp(migrations.FS, cfg.URL); err != nil {
			db.Close()
			return fmt.Errorf("migrate database: %w", err)
		}
	}

	a.db = db
	a.notificationsRepo = notificationspostgres.NewRepository(db)
	a.webhooksRepo = webhookspostgres.NewRepository(db)
	return nil
}

// initSignal picks the wake-up signal. Without Redis the hint only reaches
// workers in this process.
func (a *App) initSignal(ctx context.Context) wakeSignal {
	if !a.config.Redis.Enabled {
		return signal.NewLocal(0)
	}

	a.redis = redis.NewClient(&redis.Options{
		Addr:     a.config.Redis.Addr,
		Password: a.config.Redis.Password,
		DB:       a.config.Redis.DB,
	})
	sig := signal.NewRedis(a.redis, a.config.Redis.QueueKey)
	a.goBackground(func() { sig.Run(ctx) })
	return sig
}

func (a *App) goBackground(fn func()) {
	a.bgWG.Add(1)
	go func() {
		defer a.bgWG.Done()
		fn()
	}()
}

// Run starts the HTTP servers.
func (a *App) Run() error {
	// Start metrics server in background
	go func() {
		a.logger.Info("starting metrics server",
			"host", a.config.Server.Host,
			"port", a.config.Server.MetricsPort,
		)
		if err := a.metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			a.logger.Error("metrics server error", "error", err)
		}
	}()

	// Start main server
	a.logger.Info("starting server",
		"host", a.config.Server.Host,
		"port", a.config.Server.Port,
	)

	if err := a.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server error: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the application. In-flight attempts and
// webhook deliveries finish before the stores close.
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("shutting down servers")

	// Stop notification worker first
	a.worker.Stop()
	a.bgCancel()

	// Shutdown both servers in parallel
	var wg sync.WaitGroup
	var errs []error
	var mu sync.Mutex

	wg.Add(2)

	go func() {
		defer wg.Done()
		if err := a.server.Shutdown(ctx); err != nil {
			mu.Lock()
			errs = append(errs, fmt.Errorf("shutdown server: %w", err))
			mu.Unlock()
		}
	}()

	go func() {
		defer wg.Done()
		if err := a.metricsServer.Shutdown(ctx); err != nil {
			mu.Lock()
			errs = append(errs, fmt.Errorf("shutdown metrics server: %w", err))
			mu.Unlock()
		}
	}()

	wg.Wait()

	a.fanout.Wait()
	a.bgWG.Wait()

	if err := a.closeStores(); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

func (a *App) closeStores() error {
	var err error
	if a.redis != nil {
		if cErr := a.redis.Close(); cErr != nil {
			err = fmt.Errorf("close redis: %w", cErr)
		}
	}
	if a.db != nil {
		a.db.Close()
	}
	return err
}

func (a *App) collectDBMetrics(ctx context.Context) {
	// Collect immediately on start
	metrics.RecordDBPoolMetrics(a.db)

	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			metrics.RecordDBPoolMetrics(a.db)
		case <-ctx.Done():
			return
		}
	}
}

func (a *App) collectQueueMetrics(ctx context.Context) {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			stats, err := a.notificationsRepo.GetQueueStats(ctx)
			if err != nil {
				if ctx.Err() == nil {
					slog.Error("failed to get queue stats", "error", err)
				}
				continue
			}
			notifications.RecordQueueStats(stats)
		case <-ctx.Done():
			return
		}
	}
}

// Router returns the HTTP handler for testing.
func (a *App) Router() http.Handler {
	return a.server.Handler
}

// Worker returns the notification worker. It exists even when the
// background loop is disabled.
func (a *App) Worker() *notifications.Worker {
	return a.worker
}

// Registry returns the channel transports.
func (a *App) Registry() *notifications.Registry {
	return a.registry
}

// Fanout returns the webhook fan-out publisher.
func (a *App) Fanout() *webhooks.Fanout {
	return a.fanout
}

func (a *App) setupRouter(sig wakeSignal) (*chi.Mux, error) {
	r := chi.NewRouter()

	// Metrics middleware must be first to measure full request time
	r.Use(httputil.MetricsMiddleware)

	// CORS must be early to handle preflight requests before other middleware
	r.Use(httputil.CORSMiddleware(a.config.CORS.AllowedOrigins))
	r.Use(middleware.RequestID)
	r.Use(httputil.RequestLoggerMiddleware(a.logger))
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/healthz", a.healthzHandler)
	r.Get("/readyz", a.readyzHandler)
	r.Get("/version", a.versionHandler)

	r.Get("/api/openapi.yaml", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/x-yaml")
		http.ServeFile(w, r, "api/openapi/openapi.yaml")
	})

	r.Get("/docs", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(`<!DOCTYPE html>
<html>
<head>
    <title>Notification Engine API</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css">
</head>
<body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js"></script>
    <script>
        SwaggerUIBundle({
            url: "/api/openapi.yaml",
            dom_id: '#swagger-ui',
            presets: [SwaggerUIBundle.presets.apis, SwaggerUIBundle.SwaggerUIStandalonePreset],
            layout: "BaseLayout"
        });
    </script>
</body>
</html>`))
	})

	notificationsService := notifications.NewService(a.notificationsRepo, a.fanout, sig)
	notificationsHandler := notifications.NewHandler(notificationsService)

	webhooksService := webhooks.NewService(a.webhooksRepo, a.fanout)
	webhooksHandler := webhooks.NewHandler(webhooksService)

	// Without auth every route is open and scope checks pass through.
	authenticate := passthrough
	requireScope := func(...string) func(http.Handler) http.Handler { return passthrough }
	if a.config.Auth.Enabled {
		authenticator, err := auth.NewAuthenticator(auth.Config{
			SecretKey: a.config.Auth.SecretKey,
			Issuer:    a.config.Auth.Issuer,
		})
		if err != nil {
			return nil, fmt.Errorf("create authenticator: %w", err)
		}
		authenticate = httputil.AuthMiddleware(authenticator)
		requireScope = httputil.RequireScope
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(authenticate)

		r.Group(func(r chi.Router) {
			r.Use(requireScope(auth.ScopeNotify, auth.ScopeAdmin))
			notificationsHandler.RegisterRoutes(r)
		})

		r.Group(func(r chi.Router) {
			r.Use(requireScope(auth.ScopeWebhooks, auth.ScopeAdmin))
			webhooksHandler.RegisterRoutes(r)
			webhooksHandler.RegisterEventRoutes(r)
		})
	})

	return r, nil
}

func passthrough(next http.Handler) http.Handler {
	return next
}

func (a *App) healthzHandler(w http.ResponseWriter, _ *http.Request) {
	httputil.Text(w, http.StatusOK, "OK")
}

func (a *App) readyzHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if a.db != nil {
		if err := a.db.Ping(ctx); err != nil {
			ctxlog.FromContext(r.Context()).Error("readiness check failed", "error", err)
			httputil.Text(w, http.StatusServiceUnavailable, "Database unavailable")
			return
		}
	}

	if a.redis != nil {
		if err := a.redis.Ping(ctx).Err(); err != nil {
			ctxlog.FromContext(r.Context()).Error("readiness check failed", "error", err)
			httputil.Text(w, http.StatusServiceUnavailable, "Redis unavailable")
			return
		}
	}

	httputil.Text(w, http.StatusOK, "OK")
}

func (a *App) versionHandler(w http.ResponseWriter, _ *http.Request) {
	httputil.JSON(w, http.StatusOK, map[string]any{
		"version":        version.Version,
		"commit":         version.GitCommit,
		"build_date":     version.BuildDate,
		"worker_enabled": a.config.Worker.Enabled,
		"channels":       a.registry.Channels(),
	})
}

// Migrate runs schema migrations against the configured database.
// steps of zero applies every pending migration; a positive value rolls back that many.
func Migrate(cfg *config.Config, steps int) error {
	if cfg.Database.Driver != config.DriverPostgres {
		return fmt.Errorf("migrations need the %s driver, got %q", config.DriverPostgres, cfg.Database.Driver)
	}
	if steps > 0 {
		return postgres.MigrateDown(migrations.FS, cfg.Database.URL, steps)
	}
	return postgres.MigrateUp(migrations.FS, cfg.Database.URL)
}

func initLogger(cfg config.LogConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: level}

	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}

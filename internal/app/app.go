// Package app assembles the cutover control plane: circuit breakers, the
// sync coordinator, the migration manager, and the admin API server.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/metric"

	"github.com/cutover-sh/cutover/internal/api"
	"github.com/cutover-sh/cutover/internal/breaker"
	"github.com/cutover-sh/cutover/internal/config"
	"github.com/cutover-sh/cutover/internal/migration"
	"github.com/cutover-sh/cutover/internal/storage"
	"github.com/cutover-sh/cutover/internal/storage/inmemory"
	syncpkg "github.com/cutover-sh/cutover/internal/sync"
	"github.com/cutover-sh/cutover/internal/telemetry"
	"github.com/cutover-sh/cutover/internal/versions"
)

// Option configures the application builder.
type Option func(*options)

type options struct {
	cfg      *config.Config
	exec     storage.Executor
	logger   *slog.Logger
	address  string
	registry *prometheus.Registry
}

// WithConfig sets the loaded configuration. Required.
func WithConfig(cfg *config.Config) Option {
	return func(o *options) {
		o.cfg = cfg
	}
}

// WithExecutor sets the storage executor backing the coordinator. Defaults to
// the in-memory store, which is only suitable for development.
func WithExecutor(exec storage.Executor) Option {
	return func(o *options) {
		o.exec = exec
	}
}

// WithLogger overrides the logger derived from the config.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithAddress overrides the listen address from the config.
func WithAddress(address string) Option {
	return func(o *options) {
		o.address = address
	}
}

// WithPrometheusRegistry overrides the metrics registry, mainly for tests.
func WithPrometheusRegistry(reg *prometheus.Registry) Option {
	return func(o *options) {
		o.registry = reg
	}
}

// App is the assembled control plane.
type App struct {
	cfg    *config.Config
	logger *slog.Logger

	breakers    *breaker.Manager
	coordinator *syncpkg.Coordinator
	migration   *migration.Manager

	server        *http.Server
	meterProvider metric.MeterProvider

	startedAt time.Time
	ready     atomic.Bool
}

// New builds the control plane from configuration.
func New(opts ...Option) (*App, error) {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	if o.cfg == nil {
		return nil, fmt.Errorf("configuration is required")
	}
	cfg := o.cfg

	logger := o.logger
	if logger == nil {
		logger = buildLogger(cfg.Logging)
	}

	exec := o.exec
	if exec == nil {
		logger.Warn("No storage executor supplied, using the in-memory store")
		exec = inmemory.NewStore()
	}

	breakerCfg, err := cfg.BreakerConfig()
	if err != nil {
		return nil, err
	}
	breakers, err := breaker.NewManager(breakerCfg, breaker.WithLogger(logger))
	if err != nil {
		return nil, err
	}

	var (
		meterProvider  metric.MeterProvider
		metricsHandler http.Handler
	)
	if cfg.Telemetry.Enabled {
		registry := o.registry
		if registry == nil {
			registry = prometheus.NewRegistry()
		}
		serviceName := cfg.Telemetry.ServiceName
		if serviceName == "" {
			serviceName = "cutoverd"
		}
		meterProvider, err = telemetry.NewMeterProvider(
			telemetry.WithServiceName(serviceName),
			telemetry.WithServiceVersion(versions.Version),
			telemetry.WithPrometheusRegisterer(registry),
		)
		if err != nil {
			return nil, err
		}
		metricsHandler = promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
	}

	syncMetrics, err := telemetry.NewSyncMetrics(meterProvider)
	if err != nil {
		return nil, err
	}
	routingMetrics, err := telemetry.NewRoutingMetrics(meterProvider)
	if err != nil {
		return nil, err
	}

	syncCfg, err := cfg.SyncConfig()
	if err != nil {
		return nil, err
	}
	coordinator, err := syncpkg.NewCoordinator(syncCfg, exec, breakers,
		syncpkg.WithLogger(logger),
		syncpkg.WithMetrics(syncMetrics),
	)
	if err != nil {
		return nil, err
	}

	migrationCfg, err := cfg.MigrationConfig()
	if err != nil {
		return nil, err
	}
	migrationMgr, err := migration.NewManager(migrationCfg, breakers,
		migration.WithLogger(logger),
		migration.WithMetrics(routingMetrics),
	)
	if err != nil {
		return nil, err
	}

	a := &App{
		cfg:           cfg,
		logger:        logger,
		breakers:      breakers,
		coordinator:   coordinator,
		migration:     migrationMgr,
		meterProvider: meterProvider,
	}

	serverOpts := []api.ServerOption{
		api.WithLogger(logger),
		api.WithMiddlewares(
			middleware.RequestID,
			middleware.Recoverer,
			api.LoggingMiddleware(logger),
		),
	}
	if metricsHandler != nil {
		serverOpts = append(serverOpts, api.WithMetricsHandler(metricsHandler))
	}

	address := o.address
	if address == "" {
		address = cfg.GetAddress()
	}
	a.server = &http.Server{
		Addr:              address,
		Handler:           api.NewServer(a, serverOpts...),
		ReadHeaderTimeout: 10 * time.Second,
	}

	return a, nil
}

func buildLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	return slog.New(handler)
}

// Coordinator exposes the sync coordinator for embedding services.
func (a *App) Coordinator() *syncpkg.Coordinator {
	return a.coordinator
}

// Migration exposes the migration manager for embedding services.
func (a *App) Migration() *migration.Manager {
	return a.migration
}

// Run starts the control plane and blocks until ctx is cancelled or the HTTP
// server fails, then shuts everything down within the configured timeout.
func (a *App) Run(ctx context.Context) error {
	if err := a.coordinator.Start(ctx); err != nil {
		return err
	}
	if err := a.migration.Start(ctx); err != nil {
		return err
	}
	a.startedAt = time.Now()
	a.ready.Store(true)

	serverErr := make(chan error, 1)
	go func() {
		a.logger.Info("Admin API listening", "address", a.server.Addr, "version", versions.Version)
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case <-ctx.Done():
		a.logger.Info("Shutdown signal received")
	case err := <-serverErr:
		a.logger.Error("Admin API server failed", "error", err)
		return errors.Join(err, a.shutdown())
	}

	return a.shutdown()
}

func (a *App) shutdown() error {
	a.ready.Store(false)

	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.GetShutdownTimeout())
	defer cancel()

	var errs []error
	if err := a.server.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("http server: %w", err))
	}
	if err := a.coordinator.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("sync coordinator: %w", err))
	}
	if err := a.migration.Stop(ctx); err != nil {
		errs = append(errs, fmt.Errorf("migration manager: %w", err))
	}
	if shutdownable, ok := a.meterProvider.(interface{ Shutdown(context.Context) error }); ok {
		if err := shutdownable.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("meter provider: %w", err))
		}
	}

	a.logger.Info("Control plane stopped")
	return errors.Join(errs...)
}

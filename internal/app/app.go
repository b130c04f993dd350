package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aitorroca/wn-securityheaders-plugin/internal/config"
	"github.com/aitorroca/wn-securityheaders-plugin/internal/metrics"
	"github.com/aitorroca/wn-securityheaders-plugin/internal/middleware"
	"github.com/aitorroca/wn-securityheaders-plugin/internal/nonce"
	"github.com/aitorroca/wn-securityheaders-plugin/internal/proxy"
	"github.com/aitorroca/wn-securityheaders-plugin/internal/reports"
	"github.com/aitorroca/wn-securityheaders-plugin/internal/rewrite"
	"github.com/aitorroca/wn-securityheaders-plugin/internal/server"
	"github.com/aitorroca/wn-securityheaders-plugin/internal/settings"
	"github.com/aitorroca/wn-securityheaders-plugin/internal/tracing"
	"github.com/aitorroca/wn-securityheaders-plugin/pkg/version"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const shutdownTimeout = 30 * time.Second

// App represents the main application
type App struct {
	config      *config.Config
	logger      *zap.Logger
	server      *server.Server
	proxy       *proxy.Proxy
	pipeline    *rewrite.Pipeline
	settings    *settings.Provider
	source      settings.Source
	reportStore reports.Store

	tracingShutdown tracing.ShutdownFunc
	stopReload      context.CancelFunc
}

// New loads configuration from configPath and creates the application
func New(configPath string) (*App, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger, err := SetupLogger(&cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to setup logger: %w", err)
	}

	return NewWithConfig(cfg, logger)
}

// NewWithConfig creates the application from an already validated configuration
func NewWithConfig(cfg *config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx := context.Background()

	tracingShutdown, err := tracing.Initialize(ctx, &cfg.Tracing)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tracing: %w", err)
	}

	bi := version.GetBuildInfo()
	metrics.SetBuildInfo(bi.Version, bi.GitCommit, bi.BuildDate)

	source, err := NewSettingsSource(cfg, logger)
	if err != nil {
		return nil, err
	}

	provider := settings.NewProvider(source, logger)
	if err := provider.Reload(ctx); err != nil {
		closeSource(source, logger)
		return nil, fmt.Errorf("failed to load header settings: %w", err)
	}

	var reportStore reports.Store
	if cfg.Reports.Enabled {
		reportStore, err = reports.NewFactory(logger).CreateStore(&cfg.Reports)
		if err != nil {
			closeSource(source, logger)
			return nil, fmt.Errorf("failed to create report store: %w", err)
		}
	}

	reverseProxy, err := proxy.New(&proxy.Config{
		TargetHost:       cfg.Proxy.TargetHost,
		TargetPort:       cfg.Proxy.TargetPort,
		TargetScheme:     cfg.Proxy.TargetScheme,
		IdentityEncoding: cfg.Proxy.IdentityEncoding,
		HealthPath:       cfg.Proxy.HealthPath,
		Retry:            proxy.RetryConfig(cfg.Proxy.Retry),
		CircuitBreaker:   proxy.CircuitBreakerConfig(cfg.Proxy.CircuitBreaker),
	}, logger)
	if err != nil {
		closeSource(source, logger)
		if reportStore != nil {
			_ = reportStore.Close()
		}
		return nil, fmt.Errorf("failed to create reverse proxy: %w", err)
	}

	app := &App{
		config:          cfg,
		logger:          logger,
		server:          server.New(cfg.Server.ToServerConfig(), logger),
		proxy:           reverseProxy,
		pipeline:        rewrite.NewPipeline(cfg.Rewrite.ToOptions(), logger),
		settings:        provider,
		source:          source,
		reportStore:     reportStore,
		tracingShutdown: tracingShutdown,
	}

	app.registerHealthChecks()
	app.setupRoutes()

	return app, nil
}

// NewSettingsSource builds the header settings source selected by settings.source
func NewSettingsSource(cfg *config.Config, logger *zap.Logger) (settings.Source, error) {
	switch cfg.Settings.Source {
	case "redis":
		source, err := settings.NewRedisSource(cfg.Settings.ToSettingsRedisConfig(), &cfg.Headers, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create redis settings source: %w", err)
		}
		return source, nil
	case "static", "":
		return settings.NewStaticSource(&cfg.Headers), nil
	default:
		return nil, fmt.Errorf("unsupported settings source: %s", cfg.Settings.Source)
	}
}

func (a *App) registerHealthChecks() {
	a.server.AddHealthCheck("settings", a.settings)
	a.server.AddHealthCheck("backend", a.proxy)
	if checker, ok := a.reportStore.(server.HealthChecker); ok {
		a.server.AddHealthCheck("reports", checker)
	}
}

// setupRoutes configures the application routes. /health and /version are
// registered by the server before any of this middleware and stay outside it.
func (a *App) setupRoutes() {
	router := a.server.Router()

	if a.config.Metrics.Enabled {
		router.GET(a.config.Metrics.Path, gin.WrapH(promhttp.Handler()))
	}

	router.Use(
		server.RequestIDMiddleware(),
		middleware.TracingMiddleware(a.config.Tracing.ServiceName),
		middleware.StructuredLoggingMiddleware(a.logger),
		middleware.MetricsMiddleware(),
	)

	if a.config.Nonce.Enabled {
		gen := nonce.NewGenerator(a.config.Nonce.Bytes)
		router.Use(middleware.NonceMiddleware(gen, a.config.Nonce.ForwardHeader, a.logger))
	}

	router.Use(middleware.SecurityHeadersMiddleware(a.pipeline, a.settings, a.config.Server.TrustForwardedProto))

	if a.reportStore != nil {
		reports.NewHandler(a.reportStore, a.config.Reports.ExposeList, a.logger).Register(router)
	}

	// Everything else goes upstream
	router.NoRoute(gin.WrapH(a.proxy))
}

// Handler returns the root HTTP handler
func (a *App) Handler() http.Handler {
	return a.server.Router()
}

// Run starts the application and blocks until a shutdown signal
func (a *App) Run() error {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	reloadCtx, cancel := context.WithCancel(context.Background())
	a.stopReload = cancel
	if a.config.Settings.Source == "redis" && a.config.Settings.ReloadInterval > 0 {
		go a.settings.Run(reloadCtx, a.config.Settings.ReloadInterval)
	}

	serverErr := make(chan error, 1)
	go func() {
		a.logger.Info("Starting server",
			zap.String("host", a.config.Server.Host),
			zap.Int("port", a.config.Server.Port),
			zap.String("target", a.proxy.Target().String()),
			zap.String("settings_source", a.source.Name()),
		)

		if err := a.server.Run(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- fmt.Errorf("server failed to start: %w", err)
		}
	}()

	var runErr error
	select {
	case runErr = <-serverErr:
	case sig := <-quit:
		a.logger.Info("Received shutdown signal", zap.String("signal", sig.String()))
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancelShutdown()

	if err := a.Shutdown(shutdownCtx); err != nil && runErr == nil {
		runErr = err
	}
	return runErr
}

// Shutdown stops the server and releases every backing resource
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("Shutting down application...")

	if a.stopReload != nil {
		a.stopReload()
	}

	var errs []error
	if err := a.server.Shutdown(ctx); err != nil {
		a.logger.Error("Failed to shutdown HTTP server", zap.Error(err))
		errs = append(errs, err)
	}

	if a.reportStore != nil {
		if err := a.reportStore.Close(); err != nil {
			a.logger.Error("Failed to close report store", zap.Error(err))
			errs = append(errs, err)
		}
	}

	closeSource(a.source, a.logger)

	if a.tracingShutdown != nil {
		if err := a.tracingShutdown(ctx); err != nil {
			a.logger.Error("Failed to flush traces", zap.Error(err))
			errs = append(errs, err)
		}
	}

	a.logger.Info("Application shutdown complete")
	_ = a.logger.Sync()
	return errors.Join(errs...)
}

func closeSource(source settings.Source, logger *zap.Logger) {
	if c, ok := source.(io.Closer); ok {
		if err := c.Close(); err != nil {
			logger.Error("Failed to close settings source", zap.Error(err))
		}
	}
}

// SetupLogger creates and configures the logger
func SetupLogger(cfg *config.LoggingConfig) (*zap.Logger, error) {
	var zapConfig zap.Config

	switch cfg.Level {
	case "debug":
		zapConfig = zap.NewDevelopmentConfig()
	default:
		zapConfig = zap.NewProductionConfig()
	}

	switch cfg.Level {
	case "debug":
		zapConfig.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	case "info":
		zapConfig.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	case "warn":
		zapConfig.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	case "error":
		zapConfig.Level = zap.NewAtomicLevelAt(zap.ErrorLevel)
	}

	if cfg.Format == "console" {
		zapConfig.Encoding = "console"
		zapConfig.EncoderConfig = zap.NewDevelopmentEncoderConfig()
	} else {
		zapConfig.Encoding = "json"
		zapConfig.EncoderConfig = zap.NewProductionEncoderConfig()
	}

	switch cfg.Output {
	case "stderr":
		zapConfig.OutputPaths = []string{"stderr"}
	case "file":
		zapConfig.OutputPaths = []string{cfg.File.Path}
	default:
		zapConfig.OutputPaths = []string{"stdout"}
	}

	return zapConfig.Build()
}

package server

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Server represents the HTTP server
type Server struct {
	config     *Config
	router     *gin.Engine
	httpServer *http.Server
	logger     *zap.Logger

	mu     sync.RWMutex
	checks map[string]HealthChecker
}

// Config holds server configuration
type Config struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
	// TLSCertFile and TLSKeyFile enable HTTPS when both are set
	TLSCertFile string
	TLSKeyFile  string
}

// HealthChecker reports whether a dependency is usable
type HealthChecker interface {
	Health(ctx context.Context) error
}

// HealthCheckFunc adapts a function to HealthChecker
type HealthCheckFunc func(ctx context.Context) error

// Health calls f(ctx)
func (f HealthCheckFunc) Health(ctx context.Context) error {
	return f(ctx)
}

// DefaultConfig returns default server configuration
func DefaultConfig() *Config {
	return &Config{
		Host:         "0.0.0.0",
		Port:         8080,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
}

// New creates a new server instance with the health and version routes
// registered. Everything else is routed by the caller.
func New(cfg *Config, logger *zap.Logger) *Server {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	// Set Gin mode based on logger level
	if logger.Level() == zap.DebugLevel {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())

	s := &Server{
		config: cfg,
		router: router,
		logger: logger,
		checks: make(map[string]HealthChecker),
	}

	router.GET("/health", s.handleHealth)
	router.GET("/version", s.handleVersion)

	return s
}

// AddHealthCheck registers a dependency reported by /health
func (s *Server) AddHealthCheck(name string, check HealthChecker) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checks[name] = check
}

func (s *Server) healthChecks() ([]string, map[string]HealthChecker) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.checks))
	checks := make(map[string]HealthChecker, len(s.checks))
	for name, check := range s.checks {
		names = append(names, name)
		checks[name] = check
	}
	sort.Strings(names)
	return names, checks
}

// TLSEnabled reports whether Run serves HTTPS
func (s *Server) TLSEnabled() bool {
	return s.config.TLSCertFile != "" && s.config.TLSKeyFile != ""
}

// Run starts the HTTP server
func (s *Server) Run() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  s.config.IdleTimeout,
	}

	s.logger.Info("Starting HTTP server",
		zap.String("address", addr),
		zap.Bool("tls", s.TLSEnabled()),
		zap.Duration("read_timeout", s.config.ReadTimeout),
		zap.Duration("write_timeout", s.config.WriteTimeout),
	)

	if s.TLSEnabled() {
		return s.httpServer.ListenAndServeTLS(s.config.TLSCertFile, s.config.TLSKeyFile)
	}
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}

	s.logger.Info("Shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}

// Router returns the gin router for testing
func (s *Server) Router() *gin.Engine {
	return s.router
}

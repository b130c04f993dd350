// Package proxy forwards requests to the protected application and returns its
// responses for header composition and nonce injection.
package proxy

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strconv"
	"time"

	"github.com/aitorroca/wn-securityheaders-plugin/internal/metrics"
	"github.com/aitorroca/wn-securityheaders-plugin/pkg/version"
	"go.uber.org/zap"
)

// Proxy handles reverse proxy operations
type Proxy struct {
	target         *url.URL
	reverseProxy   *httputil.ReverseProxy
	circuitBreaker *CircuitBreaker
	retryConfig    RetryConfig
	healthPath     string
	logger         *zap.Logger
}

// Config holds proxy configuration
type Config struct {
	TargetHost   string
	TargetPort   int
	TargetScheme string
	// IdentityEncoding asks the backend for uncompressed bodies so that
	// HTML responses can be rewritten.
	IdentityEncoding bool
	HealthPath       string
	Retry            RetryConfig
	CircuitBreaker   CircuitBreakerConfig
}

// RetryConfig holds retry configuration
type RetryConfig struct {
	MaxAttempts int
	Backoff     time.Duration
}

// CircuitBreakerConfig holds circuit breaker configuration
type CircuitBreakerConfig struct {
	Threshold int
	Timeout   time.Duration
}

// New creates a new reverse proxy
func New(config *Config, logger *zap.Logger) (*Proxy, error) {
	if config == nil {
		return nil, errors.New("config cannot be nil")
	}
	if config.TargetHost == "" {
		return nil, errors.New("target host is required")
	}
	if config.TargetPort <= 0 {
		return nil, errors.New("target port must be positive")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	scheme := config.TargetScheme
	if scheme == "" {
		scheme = "http"
	}
	targetURL := &url.URL{
		Scheme: scheme,
		Host:   fmt.Sprintf("%s:%d", config.TargetHost, config.TargetPort),
	}

	retry := config.Retry
	if retry.MaxAttempts < 1 {
		retry.MaxAttempts = 1
	}

	healthPath := config.HealthPath
	if healthPath == "" {
		healthPath = "/health"
	}

	p := &Proxy{
		target:         targetURL,
		circuitBreaker: NewCircuitBreaker(config.CircuitBreaker.Threshold, config.CircuitBreaker.Timeout, targetURL.String(), logger),
		retryConfig:    retry,
		healthPath:     healthPath,
		logger:         logger,
	}
	p.reverseProxy = p.newReverseProxy(config.IdentityEncoding)

	return p, nil
}

func (p *Proxy) newReverseProxy(identityEncoding bool) *httputil.ReverseProxy {
	rp := httputil.NewSingleHostReverseProxy(p.target)

	director := rp.Director
	rp.Director = func(req *http.Request) {
		director(req)
		prepareOutbound(req, identityEncoding)
	}

	rp.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		p.logger.Error("Proxy error",
			zap.Error(err),
			zap.String("method", r.Method),
			zap.String("url", r.URL.String()),
			zap.String("remote_addr", r.RemoteAddr),
		)
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("Bad Gateway"))
	}

	return rp
}

// prepareOutbound sets forwarding headers on a request bound for the backend.
// Hop-by-hop headers are left to the reverse proxy, which needs Upgrade to
// pass WebSocket handshakes through.
func prepareOutbound(req *http.Request, identityEncoding bool) {
	req.Header.Set("X-Forwarded-Proto", getScheme(req))
	req.Header.Set("X-Forwarded-Host", req.Host)
	if identityEncoding {
		req.Header.Set("Accept-Encoding", "identity")
	}
}

// ServeHTTP implements http.Handler interface
func (p *Proxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if IsStreamingRequest(r) {
		p.handleStreaming(w, r)
		return
	}

	ctx := r.Context()
	start := time.Now()
	backend := p.target.String()

	if !p.circuitBreaker.Allow() {
		p.logger.Warn("Circuit breaker open, rejecting request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("remote_addr", r.RemoteAddr),
			zap.String("target", backend),
		)
		metrics.ProxyRequestsTotal.WithLabelValues(r.Method, "503", backend).Inc()
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("Service Unavailable"))
		return
	}

	statusCode, err := p.executeWithRetry(ctx, w, r)

	status := strconv.Itoa(statusCode)
	metrics.ProxyRequestsTotal.WithLabelValues(r.Method, status, backend).Inc()
	metrics.ProxyRequestDuration.WithLabelValues(r.Method, status, backend).Observe(time.Since(start).Seconds())

	if err != nil {
		p.circuitBreaker.RecordFailure()
	} else {
		p.circuitBreaker.RecordSuccess()
	}
}

// executeWithRetry executes the proxy request with retry logic. Only the
// final attempt is written to w.
func (p *Proxy) executeWithRetry(ctx context.Context, w http.ResponseWriter, r *http.Request) (int, error) {
	var lastErr error
	maxAttempts := p.retryConfig.MaxAttempts

	if r.Body != nil && r.Body != http.NoBody && r.GetBody == nil {
		p.logger.Debug("Request body cannot be replayed, retries disabled",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int64("content_length", r.ContentLength),
		)
		maxAttempts = 1
	}

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-time.After(p.retryConfig.Backoff):
			case <-ctx.Done():
				return http.StatusRequestTimeout, ctx.Err()
			}

			if r.GetBody != nil {
				newBody, err := r.GetBody()
				if err != nil {
					return http.StatusBadRequest, fmt.Errorf("failed to reset request body: %w", err)
				}
				r.Body = newBody
			}

			p.logger.Debug("Retrying proxy request",
				zap.Int("attempt", attempt),
				zap.Int("max_attempts", maxAttempts),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Duration("backoff", p.retryConfig.Backoff),
			)
			metrics.ProxyRetryTotal.WithLabelValues(r.Method, p.target.String()).Inc()
		}

		try := newAttempt()
		p.reverseProxy.ServeHTTP(try, r)

		if try.retryable() {
			lastErr = fmt.Errorf("server error: %d", try.status)
			if attempt < maxAttempts {
				continue
			}
			// still hand the backend's error page to the client
			try.replay(w)
			return try.status, lastErr
		}

		try.replay(w)
		return try.status, nil
	}

	return http.StatusBadGateway, lastErr
}

// Health checks if the target server is healthy
func (p *Proxy) Health(ctx context.Context) error {
	client := &http.Client{
		Timeout: 5 * time.Second,
	}

	healthURL := *p.target
	healthURL.Path = p.healthPath

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, healthURL.String(), nil)
	if err != nil {
		return fmt.Errorf("failed to create health check request: %w", err)
	}
	req.Header.Set("User-Agent", version.UserAgent())

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// Target returns the target URL
func (p *Proxy) Target() *url.URL {
	return p.target
}

// CircuitState returns the state of the backend circuit breaker
func (p *Proxy) CircuitState() CircuitState {
	return p.circuitBreaker.State()
}

func getScheme(r *http.Request) string {
	if r.TLS != nil {
		return "https"
	}
	if scheme := r.Header.Get("X-Forwarded-Proto"); scheme != "" {
		return scheme
	}
	return "http"
}

// removeHopHeaders removes hop-by-hop headers that shouldn't be forwarded
func removeHopHeaders(header http.Header) {
	hopHeaders := []string{
		"Connection",
		"Proxy-Connection",
		"Keep-Alive",
		"Proxy-Authenticate",
		"Proxy-Authorization",
		"Te",
		"Trailer",
		"Transfer-Encoding",
		"Upgrade",
	}

	for _, h := range hopHeaders {
		header.Del(h)
	}
}

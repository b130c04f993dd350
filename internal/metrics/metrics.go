package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "securityheaders_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "securityheaders_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	// Rewrite pipeline metrics
	RewriteProcessedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "securityheaders_rewrite_processed_total",
			Help: "Total number of responses passed through the rewrite pipeline",
		},
		[]string{"outcome"},
	)

	RewriteSkippedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "securityheaders_rewrite_skipped_total",
			Help: "Total number of responses whose body was not rewritten, by reason",
		},
		[]string{"reason"},
	)

	NoncesInjectedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "securityheaders_nonces_injected_total",
			Help: "Total number of tags stamped with a nonce attribute",
		},
	)

	HeadersAppliedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "securityheaders_headers_applied_total",
			Help: "Total number of security headers attached to responses",
		},
		[]string{"header"},
	)

	RewriteDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "securityheaders_rewrite_duration_seconds",
			Help:    "Time spent composing headers and injecting nonces",
			Buckets: []float64{.00005, .0001, .00025, .0005, .001, .0025, .005, .01, .025, .05},
		},
	)

	NonceGenerationErrorsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "securityheaders_nonce_generation_errors_total",
			Help: "Total number of failed nonce generations",
		},
	)

	// Settings metrics
	SettingsReloadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "securityheaders_settings_reloads_total",
			Help: "Total number of settings reloads",
		},
		[]string{"source", "status"},
	)

	SettingsIssues = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "securityheaders_settings_issues",
			Help: "Number of configuration issues found by the last settings load",
		},
		[]string{"severity"},
	)

	// Proxy metrics
	ProxyRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "securityheaders_proxy_requests_total",
			Help: "Total number of proxy requests",
		},
		[]string{"method", "status", "backend"},
	)

	ProxyRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "securityheaders_proxy_request_duration_seconds",
			Help:    "Proxy request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "status", "backend"},
	)

	ProxyRetryTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "securityheaders_proxy_retry_total",
			Help: "Total number of proxy request retries",
		},
		[]string{"method", "backend"},
	)

	ProxyStreamingRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "securityheaders_proxy_streaming_requests_total",
			Help: "Total number of streaming (SSE and WebSocket) proxy requests",
		},
		[]string{"type", "backend"},
	)

	ProxyStreamingErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "securityheaders_proxy_streaming_errors_total",
			Help: "Total number of failed streaming proxy requests",
		},
		[]string{"reason", "backend"},
	)

	// Circuit Breaker metrics
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "securityheaders_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
		},
		[]string{"backend"},
	)

	CircuitBreakerFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "securityheaders_circuit_breaker_failures_total",
			Help: "Total number of circuit breaker failures",
		},
		[]string{"backend"},
	)

	// CSP report metrics
	CSPReportsReceivedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "securityheaders_csp_reports_received_total",
			Help: "Total number of CSP violation reports received",
		},
		[]string{"action", "outcome"},
	)

	CSPReportsStored = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "securityheaders_csp_reports_stored",
			Help: "Number of CSP violation reports currently stored",
		},
	)

	ReportStoreOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "securityheaders_report_store_operations_total",
			Help: "Total number of report store operations",
		},
		[]string{"operation", "store_type", "status"},
	)

	ReportStoreOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "securityheaders_report_store_operation_duration_seconds",
			Help:    "Report store operation duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation", "store_type"},
	)

	// Application info
	BuildInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "securityheaders_build_info",
			Help: "Build information",
		},
		[]string{"version", "commit", "build_date"},
	)
)

// SetBuildInfo sets the build information metric
func SetBuildInfo(version, commit, buildDate string) {
	BuildInfo.WithLabelValues(version, commit, buildDate).Set(1)
}

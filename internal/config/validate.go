package config

import (
	"fmt"
	"net/url"
	"strings"

	"golang.org/x/net/http/httpguts"
)

// minNonceBytes keeps nonces at 128 bits or more
const minNonceBytes = 16

// Validate validates the configuration. Header settings are not checked
// here; the settings provider normalizes them and reports issues at runtime.
func Validate(config *Config) error {
	if err := validateServerConfig(&config.Server); err != nil {
		return fmt.Errorf("server config: %w", err)
	}

	if err := validateProxyConfig(&config.Proxy); err != nil {
		return fmt.Errorf("proxy config: %w", err)
	}

	if err := validateNonceConfig(&config.Nonce); err != nil {
		return fmt.Errorf("nonce config: %w", err)
	}

	if err := validateRewriteConfig(&config.Rewrite); err != nil {
		return fmt.Errorf("rewrite config: %w", err)
	}

	if err := validateSettingsConfig(&config.Settings); err != nil {
		return fmt.Errorf("settings config: %w", err)
	}

	if config.Reports.Enabled {
		if err := validateReportsConfig(&config.Reports); err != nil {
			return fmt.Errorf("reports config: %w", err)
		}
	}

	if err := validateLoggingConfig(&config.Logging); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	if config.Metrics.Enabled && !strings.HasPrefix(config.Metrics.Path, "/") {
		return fmt.Errorf("metrics config: path must start with '/'")
	}

	if config.Tracing.Enabled {
		if err := validateTracingConfig(&config.Tracing); err != nil {
			return fmt.Errorf("tracing config: %w", err)
		}
	}

	return nil
}

func validateServerConfig(config *ServerConfig) error {
	if config.Port < 1 || config.Port > 65535 {
		return fmt.Errorf("invalid port: %d", config.Port)
	}

	if config.TLS.Enabled {
		if config.TLS.CertFile == "" {
			return fmt.Errorf("TLS cert file is required when TLS is enabled")
		}
		if config.TLS.KeyFile == "" {
			return fmt.Errorf("TLS key file is required when TLS is enabled")
		}
	}

	if config.ReadTimeout <= 0 {
		return fmt.Errorf("read timeout must be positive")
	}
	if config.WriteTimeout <= 0 {
		return fmt.Errorf("write timeout must be positive")
	}
	if config.IdleTimeout <= 0 {
		return fmt.Errorf("idle timeout must be positive")
	}

	return nil
}

func validateProxyConfig(config *ProxyConfig) error {
	if config.TargetHost == "" {
		return fmt.Errorf("target host is required")
	}

	if config.TargetPort < 1 || config.TargetPort > 65535 {
		return fmt.Errorf("invalid target port: %d", config.TargetPort)
	}

	if config.TargetScheme != "http" && config.TargetScheme != "https" {
		return fmt.Errorf("target scheme must be http or https")
	}

	if config.HealthPath != "" && !strings.HasPrefix(config.HealthPath, "/") {
		return fmt.Errorf("health path must start with '/'")
	}

	if config.Retry.MaxAttempts < 0 {
		return fmt.Errorf("retry max attempts must be non-negative")
	}
	if config.Retry.Backoff < 0 {
		return fmt.Errorf("retry backoff must be non-negative")
	}

	if config.CircuitBreaker.Threshold < 0 {
		return fmt.Errorf("circuit breaker threshold must be non-negative")
	}
	if config.CircuitBreaker.Timeout < 0 {
		return fmt.Errorf("circuit breaker timeout must be non-negative")
	}

	return nil
}

func validateNonceConfig(config *NonceConfig) error {
	if !config.Enabled {
		return nil
	}

	if config.Bytes < minNonceBytes {
		return fmt.Errorf("nonce bytes must be at least %d, got %d", minNonceBytes, config.Bytes)
	}

	if config.ForwardHeader != "" && !httpguts.ValidHeaderFieldName(config.ForwardHeader) {
		return fmt.Errorf("invalid forward header name: %q", config.ForwardHeader)
	}

	return nil
}

func validateRewriteConfig(config *RewriteConfig) error {
	if config.MaxBodyBytes < 0 {
		return fmt.Errorf("max body bytes must be non-negative")
	}

	for _, ct := range config.ContentTypes {
		ct = strings.TrimSpace(ct)
		if ct == "" || !strings.Contains(ct, "/") {
			return fmt.Errorf("invalid content type: %q", ct)
		}
	}

	return nil
}

func validateSettingsConfig(config *SettingsConfig) error {
	switch config.Source {
	case "static":
		// Valid source
	case "redis":
		if err := validateRedisConfig(&config.Redis); err != nil {
			return err
		}
	default:
		return fmt.Errorf("invalid settings source: %s (must be 'static' or 'redis')", config.Source)
	}

	if config.ReloadInterval < 0 {
		return fmt.Errorf("reload interval must be non-negative")
	}

	return nil
}

func validateReportsConfig(config *ReportsConfig) error {
	switch config.Store {
	case "memory":
		// Valid store
	case "redis":
		if err := validateRedisConfig(&config.Redis); err != nil {
			return err
		}
	default:
		return fmt.Errorf("invalid reports store: %s (must be 'memory' or 'redis')", config.Store)
	}

	if config.MaxEntries <= 0 {
		return fmt.Errorf("max entries must be positive")
	}
	if config.Retention < 0 {
		return fmt.Errorf("retention must be non-negative")
	}

	return nil
}

func validateRedisConfig(config *RedisConfig) error {
	if config.URL == "" {
		return fmt.Errorf("redis URL is required when using redis")
	}
	if _, err := url.Parse(config.URL); err != nil {
		return fmt.Errorf("invalid redis URL: %w", err)
	}
	if config.DB < 0 {
		return fmt.Errorf("redis DB must be non-negative")
	}
	return nil
}

func validateLoggingConfig(config *LoggingConfig) error {
	switch strings.ToLower(config.Level) {
	case "debug", "info", "warn", "error":
		// Valid levels
	default:
		return fmt.Errorf("invalid log level: %s (must be 'debug', 'info', 'warn', or 'error')", config.Level)
	}

	switch strings.ToLower(config.Format) {
	case "json", "console":
		// Valid formats
	default:
		return fmt.Errorf("invalid log format: %s (must be 'json' or 'console')", config.Format)
	}

	switch strings.ToLower(config.Output) {
	case "stdout", "stderr":
		// Valid outputs
	case "file":
		if config.File.Path == "" {
			return fmt.Errorf("log file path is required when output is 'file'")
		}
	default:
		return fmt.Errorf("invalid log output: %s (must be 'stdout', 'stderr', or 'file')", config.Output)
	}

	return nil
}

func validateTracingConfig(config *TracingConfig) error {
	switch strings.ToLower(config.Provider) {
	case "otlp", "jaeger":
		// jaeger accepts OTLP over HTTP on :4318
	default:
		return fmt.Errorf("invalid tracing provider: %s (must be 'otlp' or 'jaeger')", config.Provider)
	}

	if config.Endpoint == "" {
		return fmt.Errorf("tracing endpoint is required when tracing is enabled")
	}
	if _, err := url.Parse(config.Endpoint); err != nil {
		return fmt.Errorf("invalid tracing endpoint: %w", err)
	}

	if config.ServiceName == "" {
		return fmt.Errorf("service name is required when tracing is enabled")
	}

	if config.SampleRate < 0 || config.SampleRate > 1 {
		return fmt.Errorf("sample rate must be between 0 and 1")
	}

	return nil
}

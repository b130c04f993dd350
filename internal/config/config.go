package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/aitorroca/wn-securityheaders-plugin/internal/rewrite"
	"github.com/aitorroca/wn-securityheaders-plugin/internal/server"
	"github.com/aitorroca/wn-securityheaders-plugin/internal/settings"
	"github.com/spf13/viper"
)

// Config represents the complete application configuration
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Proxy    ProxyConfig    `mapstructure:"proxy"`
	Nonce    NonceConfig    `mapstructure:"nonce"`
	Rewrite  RewriteConfig  `mapstructure:"rewrite"`
	Settings SettingsConfig `mapstructure:"settings"`
	Reports  ReportsConfig  `mapstructure:"reports"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Tracing  TracingConfig  `mapstructure:"tracing"`

	// Headers is decoded per family by loadHeaders
	Headers settings.Snapshot `mapstructure:"-"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host                string        `mapstructure:"host"`
	Port                int           `mapstructure:"port"`
	TLS                 TLSConfig     `mapstructure:"tls"`
	ReadTimeout         time.Duration `mapstructure:"read_timeout"`
	WriteTimeout        time.Duration `mapstructure:"write_timeout"`
	IdleTimeout         time.Duration `mapstructure:"idle_timeout"`
	TrustForwardedProto bool          `mapstructure:"trust_forwarded_proto"`
}

// TLSConfig holds TLS configuration
type TLSConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	CertFile string `mapstructure:"cert_file"`
	KeyFile  string `mapstructure:"key_file"`
}

// ProxyConfig holds reverse proxy configuration
type ProxyConfig struct {
	TargetHost       string               `mapstructure:"target_host"`
	TargetPort       int                  `mapstructure:"target_port"`
	TargetScheme     string               `mapstructure:"target_scheme"`
	IdentityEncoding bool                 `mapstructure:"identity_encoding"`
	HealthPath       string               `mapstructure:"health_path"`
	Retry            RetryConfig          `mapstructure:"retry"`
	CircuitBreaker   CircuitBreakerConfig `mapstructure:"circuit_breaker"`
}

// RetryConfig holds retry configuration
type RetryConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	Backoff     time.Duration `mapstructure:"backoff"`
}

// CircuitBreakerConfig holds circuit breaker configuration
type CircuitBreakerConfig struct {
	Threshold int           `mapstructure:"threshold"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

// NonceConfig controls per-request nonce generation
type NonceConfig struct {
	Enabled bool `mapstructure:"enabled"`
	// Bytes of entropy per nonce before base64 encoding
	Bytes int `mapstructure:"bytes"`
	// ForwardHeader carries the nonce to the upstream application. Empty disables forwarding.
	ForwardHeader string `mapstructure:"forward_header"`
}

// RewriteConfig controls which response bodies are rewritten
type RewriteConfig struct {
	ContentTypes []string `mapstructure:"content_types"`
	MaxBodyBytes int64    `mapstructure:"max_body_bytes"`
}

// SettingsConfig selects where header settings come from
type SettingsConfig struct {
	Source         string        `mapstructure:"source"`
	ReloadInterval time.Duration `mapstructure:"reload_interval"`
	Redis          RedisConfig   `mapstructure:"redis"`
}

// ReportsConfig holds CSP violation report ingestion configuration
type ReportsConfig struct {
	Enabled    bool          `mapstructure:"enabled"`
	Store      string        `mapstructure:"store"`
	MaxEntries int           `mapstructure:"max_entries"`
	Retention  time.Duration `mapstructure:"retention"`
	ExposeList bool          `mapstructure:"expose_list"`
	Redis      RedisConfig   `mapstructure:"redis"`
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	URL       string `mapstructure:"url"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string        `mapstructure:"level"`
	Format string        `mapstructure:"format"`
	Output string        `mapstructure:"output"`
	File   FileLogConfig `mapstructure:"file"`
}

// FileLogConfig holds file logging configuration
type FileLogConfig struct {
	Path string `mapstructure:"path"`
}

// MetricsConfig holds metrics configuration
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// TracingConfig holds tracing configuration
type TracingConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	Provider    string  `mapstructure:"provider"`
	Endpoint    string  `mapstructure:"endpoint"`
	ServiceName string  `mapstructure:"service_name"`
	SampleRate  float64 `mapstructure:"sample_rate"`
}

// Load loads configuration from file, environment variables, and command line flags
func Load(configPath string) (*Config, error) {
	v := viper.New()

	if configPath != "" && configPath != "-" {
		v.SetConfigFile(configPath)
	} else if configPath == "" {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/securityheaders")
	}

	setDefaults(v)

	if configPath != "-" {
		if err := v.ReadInConfig(); err != nil {
			// It's okay if config file doesn't exist
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	v.SetEnvPrefix("SECURITYHEADERS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	bindEnvVars(v)

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	headers, err := loadHeaders(v)
	if err != nil {
		return nil, err
	}
	config.Headers = *headers

	if err := Validate(&config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// loadHeaders starts from the built-in header settings and replaces every
// family present under headers.<family> as a whole. Merging element-wise
// would mix configured and default directive lists.
func loadHeaders(v *viper.Viper) (*settings.Snapshot, error) {
	snap := settings.Default()

	families := []struct {
		name   string
		reset  func()
		target interface{}
	}{
		{settings.FamilyCSP, func() { snap.CSP = settings.CSP{} }, &snap.CSP},
		{settings.FamilyHSTS, func() { snap.HSTS = settings.HSTS{} }, &snap.HSTS},
		{settings.FamilyPermissionsPolicy, func() { snap.PermissionsPolicy = settings.PermissionsPolicy{} }, &snap.PermissionsPolicy},
		{settings.FamilyMisc, func() { snap.Misc = settings.Misc{} }, &snap.Misc},
	}

	for _, f := range families {
		key := "headers." + f.name
		if !v.IsSet(key) {
			continue
		}
		f.reset()
		if err := v.UnmarshalKey(key, f.target); err != nil {
			return nil, fmt.Errorf("failed to unmarshal %s: %w", key, err)
		}
	}

	return snap, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.tls.enabled", false)
	v.SetDefault("server.trust_forwarded_proto", false)

	// Proxy defaults
	v.SetDefault("proxy.target_host", "localhost")
	v.SetDefault("proxy.target_port", 3000)
	v.SetDefault("proxy.target_scheme", "http")
	v.SetDefault("proxy.identity_encoding", true)
	v.SetDefault("proxy.health_path", "/health")
	v.SetDefault("proxy.retry.max_attempts", 3)
	v.SetDefault("proxy.retry.backoff", "100ms")
	v.SetDefault("proxy.circuit_breaker.threshold", 5)
	v.SetDefault("proxy.circuit_breaker.timeout", "60s")

	// Nonce defaults
	v.SetDefault("nonce.enabled", true)
	v.SetDefault("nonce.bytes", 16)
	v.SetDefault("nonce.forward_header", "X-Csp-Nonce")

	// Rewrite defaults
	defaults := rewrite.DefaultOptions()
	v.SetDefault("rewrite.content_types", defaults.ContentTypes)
	v.SetDefault("rewrite.max_body_bytes", defaults.MaxBodyBytes)

	// Settings defaults
	v.SetDefault("settings.source", "static")
	v.SetDefault("settings.reload_interval", "30s")
	v.SetDefault("settings.redis.url", "redis://localhost:6379/0")
	v.SetDefault("settings.redis.key_prefix", "securityheaders:settings:")

	// Reports defaults
	v.SetDefault("reports.enabled", true)
	v.SetDefault("reports.store", "memory")
	v.SetDefault("reports.max_entries", 1000)
	v.SetDefault("reports.retention", "24h")
	v.SetDefault("reports.expose_list", false)
	v.SetDefault("reports.redis.url", "redis://localhost:6379/0")
	v.SetDefault("reports.redis.key_prefix", "securityheaders:csp:")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")

	// Metrics defaults
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")

	// Tracing defaults
	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.provider", "otlp")
	v.SetDefault("tracing.service_name", "securityheaders")
	v.SetDefault("tracing.sample_rate", 0.1)
}

// bindEnvVars binds the short environment variable names used in deployments
func bindEnvVars(v *viper.Viper) {
	_ = v.BindEnv("server.host", "SECURITYHEADERS_HOST")
	_ = v.BindEnv("server.port", "SECURITYHEADERS_PORT")

	_ = v.BindEnv("proxy.target_host", "SECURITYHEADERS_TARGET_HOST")
	_ = v.BindEnv("proxy.target_port", "SECURITYHEADERS_TARGET_PORT")

	_ = v.BindEnv("settings.source", "SETTINGS_SOURCE")
	_ = v.BindEnv("settings.redis.url", "REDIS_URL")
	_ = v.BindEnv("reports.redis.url", "REPORTS_REDIS_URL", "REDIS_URL")

	_ = v.BindEnv("logging.level", "LOG_LEVEL")
}

// ToServerConfig converts ServerConfig to internal server.Config
func (c *ServerConfig) ToServerConfig() *server.Config {
	return &server.Config{
		Host:         c.Host,
		Port:         c.Port,
		ReadTimeout:  c.ReadTimeout,
		WriteTimeout: c.WriteTimeout,
		IdleTimeout:  c.IdleTimeout,
		TLSCertFile:  c.tlsFile(c.TLS.CertFile),
		TLSKeyFile:   c.tlsFile(c.TLS.KeyFile),
	}
}

func (c *ServerConfig) tlsFile(path string) string {
	if !c.TLS.Enabled {
		return ""
	}
	return path
}

// ToOptions converts RewriteConfig to pipeline options
func (c *RewriteConfig) ToOptions() rewrite.Options {
	return rewrite.Options{
		ContentTypes: c.ContentTypes,
		MaxBodyBytes: c.MaxBodyBytes,
	}
}

// ToSettingsRedisConfig converts the settings redis section for settings.NewRedisSource
func (c *SettingsConfig) ToSettingsRedisConfig() *settings.RedisConfig {
	return &settings.RedisConfig{
		URL:         c.Redis.URL,
		Password:    c.Redis.Password,
		DB:          c.Redis.DB,
		KeyPrefix:   c.Redis.KeyPrefix,
		DialTimeout: 5 * time.Second,
	}
}

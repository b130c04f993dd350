// Package reports ingests CSP violation reports sent by browsers and keeps the
// most recent ones for inspection.
package reports

import (
	"fmt"
	"time"

	"github.com/aitorroca/wn-securityheaders-plugin/internal/config"
	"github.com/aitorroca/wn-securityheaders-plugin/internal/reports/memory"
	"github.com/aitorroca/wn-securityheaders-plugin/internal/reports/redis"
	"github.com/aitorroca/wn-securityheaders-plugin/internal/reports/violation"
	"go.uber.org/zap"
)

// Report and Store are re-exported so callers need a single import.
type (
	Report = violation.Report
	Store  = violation.Store
	Stats  = violation.Stats
)

// Factory creates report stores based on configuration
type Factory struct {
	logger *zap.Logger
}

// NewFactory creates a new report store factory
func NewFactory(logger *zap.Logger) *Factory {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Factory{
		logger: logger,
	}
}

// CreateStore creates a report store wrapped with operation metrics
func (f *Factory) CreateStore(cfg *config.ReportsConfig) (Store, error) {
	if err := ValidateConfig(cfg); err != nil {
		return nil, err
	}

	var (
		store Store
		err   error
	)
	switch cfg.Store {
	case "redis":
		store, err = f.createRedisStore(cfg)
	case "memory":
		store = f.createMemoryStore(cfg)
	}
	if err != nil {
		return nil, err
	}

	return NewMetricsStore(store, cfg.Store), nil
}

func (f *Factory) createRedisStore(cfg *config.ReportsConfig) (Store, error) {
	redisConfig := redis.DefaultConfig()
	redisConfig.URL = cfg.Redis.URL
	redisConfig.Password = cfg.Redis.Password
	redisConfig.DB = cfg.Redis.DB
	if cfg.Redis.KeyPrefix != "" {
		redisConfig.KeyPrefix = cfg.Redis.KeyPrefix
	}
	redisConfig.MaxEntries = cfg.MaxEntries
	redisConfig.Retention = cfg.Retention

	store, err := redis.NewStore(redisConfig, f.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create Redis report store: %w", err)
	}

	f.logger.Info("Redis report store created",
		zap.String("key_prefix", redisConfig.KeyPrefix),
		zap.Int("max_entries", redisConfig.MaxEntries),
		zap.Duration("retention", redisConfig.Retention),
	)

	return store, nil
}

func (f *Factory) createMemoryStore(cfg *config.ReportsConfig) Store {
	memoryConfig := &memory.Config{
		MaxEntries:      cfg.MaxEntries,
		Retention:       cfg.Retention,
		CleanupInterval: cleanupInterval(cfg.Retention),
	}

	store := memory.NewStore(memoryConfig, f.logger)

	f.logger.Info("Memory report store created",
		zap.Int("max_entries", memoryConfig.MaxEntries),
		zap.Duration("retention", memoryConfig.Retention),
	)

	return store
}

// cleanupInterval sweeps ten times per retention window, between one second
// and five minutes.
func cleanupInterval(retention time.Duration) time.Duration {
	interval := retention / 10
	switch {
	case interval < time.Second:
		return time.Second
	case interval > 5*time.Minute:
		return 5 * time.Minute
	default:
		return interval
	}
}

// ValidateConfig validates reports configuration
func ValidateConfig(cfg *config.ReportsConfig) error {
	if cfg == nil {
		return fmt.Errorf("reports config cannot be nil")
	}

	switch cfg.Store {
	case "redis":
		if cfg.Redis.URL == "" {
			return fmt.Errorf("Redis URL is required for Redis report store")
		}
		if cfg.Redis.DB < 0 || cfg.Redis.DB > 15 {
			return fmt.Errorf("Redis DB must be between 0 and 15")
		}
	case "memory":
		// Memory store has no specific requirements
	case "":
		return fmt.Errorf("report store type is required")
	default:
		return fmt.Errorf("unsupported report store type: %s (supported: redis, memory)", cfg.Store)
	}

	if cfg.MaxEntries <= 0 {
		return fmt.Errorf("report max entries must be positive")
	}
	if cfg.Retention < 0 {
		return fmt.Errorf("report retention cannot be negative")
	}

	return nil
}

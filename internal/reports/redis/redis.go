package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aitorroca/wn-securityheaders-plugin/internal/reports/violation"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const defaultKeyPrefix = "securityheaders:csp:"

// Store implements violation.Store on a capped Redis list
type Store struct {
	client     redis.Cmdable
	keyPrefix  string
	maxEntries int64
	retention  time.Duration
	logger     *zap.Logger
}

// Config holds Redis report store configuration
type Config struct {
	// Redis connection URL (redis://localhost:6379/0)
	URL string
	// Password for Redis authentication
	Password string
	// Database number (0-15)
	DB int
	// Key prefix for report keys
	KeyPrefix string
	// MaxEntries caps the list length
	MaxEntries int
	// Retention expires the list when no report arrives for this long
	Retention time.Duration
	// Connection pool size
	PoolSize int
	// Minimum idle connections
	MinIdleConns int
	// Connection timeout
	DialTimeout time.Duration
	// Read timeout
	ReadTimeout time.Duration
	// Write timeout
	WriteTimeout time.Duration
}

// DefaultConfig returns a default Redis configuration
func DefaultConfig() *Config {
	return &Config{
		URL:          "redis://localhost:6379/0",
		KeyPrefix:    defaultKeyPrefix,
		MaxEntries:   1000,
		Retention:    24 * time.Hour,
		PoolSize:     10,
		MinIdleConns: 2,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	}
}

// NewStore creates a new Redis report store
func NewStore(config *Config, logger *zap.Logger) (*Store, error) {
	if config == nil {
		config = DefaultConfig()
	}

	opt, err := redis.ParseURL(config.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	if config.Password != "" {
		opt.Password = config.Password
	}
	if config.DB > 0 {
		opt.DB = config.DB
	}
	if config.PoolSize > 0 {
		opt.PoolSize = config.PoolSize
	}
	if config.MinIdleConns > 0 {
		opt.MinIdleConns = config.MinIdleConns
	}
	if config.DialTimeout > 0 {
		opt.DialTimeout = config.DialTimeout
	}
	if config.ReadTimeout > 0 {
		opt.ReadTimeout = config.ReadTimeout
	}
	if config.WriteTimeout > 0 {
		opt.WriteTimeout = config.WriteTimeout
	}

	client := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	store := NewStoreWithClient(client, config.KeyPrefix, logger)
	store.configure(config.MaxEntries, config.Retention)
	return store, nil
}

// NewStoreWithClient creates a new Redis report store with an existing Redis
// client, using the default size and retention limits.
func NewStoreWithClient(client redis.Cmdable, keyPrefix string, logger *zap.Logger) *Store {
	if keyPrefix == "" {
		keyPrefix = defaultKeyPrefix
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	defaults := DefaultConfig()
	return &Store{
		client:     client,
		keyPrefix:  keyPrefix,
		maxEntries: int64(defaults.MaxEntries),
		retention:  defaults.Retention,
		logger:     logger,
	}
}

// WithLimits overrides the list cap and retention
func (s *Store) WithLimits(maxEntries int, retention time.Duration) *Store {
	s.configure(maxEntries, retention)
	return s
}

func (s *Store) configure(maxEntries int, retention time.Duration) {
	if maxEntries > 0 {
		s.maxEntries = int64(maxEntries)
	}
	if retention >= 0 {
		s.retention = retention
	}
}

func (s *Store) listKey() string     { return s.keyPrefix + "list" }
func (s *Store) receivedKey() string { return s.keyPrefix + "received" }

// Add pushes the report and trims the list in one transaction
func (s *Store) Add(ctx context.Context, r *violation.Report) error {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("failed to marshal report: %w", err)
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LPush(ctx, s.listKey(), data)
		pipe.LTrim(ctx, s.listKey(), 0, s.maxEntries-1)
		if s.retention > 0 {
			pipe.Expire(ctx, s.listKey(), s.retention)
		}
		pipe.Incr(ctx, s.receivedKey())
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to store report in Redis: %w", err)
	}

	s.logger.Debug("CSP report stored",
		zap.String("id", r.ID),
		zap.String("directive", r.Directive()),
	)
	return nil
}

// List returns up to limit reports, newest first. Entries that no longer
// decode are skipped.
func (s *Store) List(ctx context.Context, limit int) ([]*violation.Report, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit) - 1
	}

	raw, err := s.client.LRange(ctx, s.listKey(), 0, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list reports from Redis: %w", err)
	}

	out := make([]*violation.Report, 0, len(raw))
	for _, item := range raw {
		var r violation.Report
		if err := json.Unmarshal([]byte(item), &r); err != nil {
			s.logger.Warn("Skipping undecodable CSP report", zap.Error(err))
			continue
		}
		out = append(out, &r)
	}
	return out, nil
}

// Count returns the list length
func (s *Store) Count(ctx context.Context) (int64, error) {
	n, err := s.client.LLen(ctx, s.listKey()).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to count reports: %w", err)
	}
	return n, nil
}

// Clear deletes the list. The received counter is kept.
func (s *Store) Clear(ctx context.Context) error {
	if err := s.client.Del(ctx, s.listKey()).Err(); err != nil {
		return fmt.Errorf("failed to clear reports: %w", err)
	}
	s.logger.Debug("CSP reports cleared")
	return nil
}

// Stats returns report store statistics
func (s *Store) Stats(ctx context.Context) (*violation.Stats, error) {
	stored, err := s.Count(ctx)
	if err != nil {
		return nil, err
	}

	received, err := s.client.Get(ctx, s.receivedKey()).Int64()
	if err != nil && err != redis.Nil {
		return nil, fmt.Errorf("failed to read received counter: %w", err)
	}

	return &violation.Stats{
		Stored:        stored,
		TotalReceived: received,
		Store:         "redis",
	}, nil
}

// Close closes the Redis connection
func (s *Store) Close() error {
	if client, ok := s.client.(*redis.Client); ok {
		return client.Close()
	}
	return nil
}

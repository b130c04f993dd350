package settings

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// ErrReadOnlySource is returned when writing to a source that cannot be changed at runtime.
var ErrReadOnlySource = errors.New("settings source is read-only")

// Source loads a settings snapshot.
type Source interface {
	// Load returns a fresh snapshot. Implementations must not return a value they retain.
	Load(ctx context.Context) (*Snapshot, error)

	// Name identifies the source in logs and metrics
	Name() string
}

// Writer is implemented by sources that accept runtime changes.
type Writer interface {
	// Set stores a single setting identified by family and key.
	Set(ctx context.Context, family, key, value string) error
}

// StaticSource serves the snapshot it was created with.
type StaticSource struct {
	snapshot *Snapshot
}

// NewStaticSource creates a source backed by a fixed snapshot
func NewStaticSource(s *Snapshot) *StaticSource {
	if s == nil {
		s = Default()
	}
	return &StaticSource{snapshot: s.Clone()}
}

// Load returns a copy of the configured snapshot
func (s *StaticSource) Load(ctx context.Context) (*Snapshot, error) {
	return s.snapshot.Clone(), nil
}

// Name returns the source name
func (s *StaticSource) Name() string {
	return "static"
}

// RedisConfig holds redis settings source configuration
type RedisConfig struct {
	// Redis connection URL (redis://localhost:6379/0)
	URL string
	// Password for Redis authentication
	Password string
	// Database number (0-15)
	DB int
	// Key prefix for the per-family hashes
	KeyPrefix string
	// Connection timeout
	DialTimeout time.Duration
}

const defaultKeyPrefix = "securityheaders:settings:"

// RedisSource reads settings from one redis hash per family. Fields missing
// from the store keep the value of the defaults snapshot.
type RedisSource struct {
	client    redis.Cmdable
	keyPrefix string
	defaults  *Snapshot
	logger    *zap.Logger
}

// NewRedisSource connects to redis and returns a settings source
func NewRedisSource(config *RedisConfig, defaults *Snapshot, logger *zap.Logger) (*RedisSource, error) {
	if config == nil {
		return nil, errors.New("redis config cannot be nil")
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
	if config.DialTimeout > 0 {
		opt.DialTimeout = config.DialTimeout
	}

	client := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return NewRedisSourceWithClient(client, config.KeyPrefix, defaults, logger), nil
}

// NewRedisSourceWithClient creates a redis settings source with an existing client
func NewRedisSourceWithClient(client redis.Cmdable, keyPrefix string, defaults *Snapshot, logger *zap.Logger) *RedisSource {
	if keyPrefix == "" {
		keyPrefix = defaultKeyPrefix
	}
	if defaults == nil {
		defaults = Default()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisSource{
		client:    client,
		keyPrefix: keyPrefix,
		defaults:  defaults.Clone(),
		logger:    logger,
	}
}

// Name returns the source name
func (s *RedisSource) Name() string {
	return "redis"
}

// Load reads every family hash and overlays it on the defaults
func (s *RedisSource) Load(ctx context.Context) (*Snapshot, error) {
	snap := s.defaults.Clone()

	for _, family := range Families {
		fields, err := s.client.HGetAll(ctx, s.key(family)).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to read %s settings: %w", family, err)
		}

		for key, value := range fields {
			if err := applyField(snap, family, key, value); err != nil {
				return nil, err
			}
		}
	}

	return snap, nil
}

// Set validates and stores a single field
func (s *RedisSource) Set(ctx context.Context, family, key, value string) error {
	// parse against a scratch snapshot so bad values never reach the store
	if err := applyField(Default(), family, key, value); err != nil {
		return err
	}

	if err := s.client.HSet(ctx, s.key(family), key, value).Err(); err != nil {
		return fmt.Errorf("failed to store %s.%s: %w", family, key, err)
	}

	s.logger.Info("Setting updated",
		zap.String("family", family),
		zap.String("key", key),
	)
	return nil
}

// Reset removes every stored field so the defaults apply again
func (s *RedisSource) Reset(ctx context.Context) error {
	keys := make([]string, 0, len(Families))
	for _, family := range Families {
		keys = append(keys, s.key(family))
	}
	if err := s.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("failed to reset settings: %w", err)
	}
	return nil
}

// Close closes the underlying client when it owns one
func (s *RedisSource) Close() error {
	if client, ok := s.client.(*redis.Client); ok {
		return client.Close()
	}
	return nil
}

func (s *RedisSource) key(family string) string {
	return s.keyPrefix + family
}

// applyField decodes one stored value into the snapshot.
func applyField(s *Snapshot, family, key, raw string) error {
	var err error

	switch family + "." + key {
	case "csp.enabled":
		s.CSP.Enabled, err = parseBool(raw)
	case "csp.inject_nonce":
		s.CSP.InjectNonce, err = parseBool(raw)
	case "csp.report_only":
		s.CSP.ReportOnly, err = parseBool(raw)
	case "csp.report_uri":
		s.CSP.ReportURI = raw
	case "csp.directives":
		var directives []Directive
		err = json.Unmarshal([]byte(raw), &directives)
		s.CSP.Directives = directives
	case "hsts.enabled":
		s.HSTS.Enabled, err = parseBool(raw)
	case "hsts.max_age":
		s.HSTS.MaxAge, err = strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	case "hsts.include_subdomains":
		s.HSTS.IncludeSubdomains, err = parseBool(raw)
	case "hsts.preload":
		s.HSTS.Preload, err = parseBool(raw)
	case "permissions_policy.enabled":
		s.PermissionsPolicy.Enabled, err = parseBool(raw)
	case "permissions_policy.features":
		var features []Feature
		err = json.Unmarshal([]byte(raw), &features)
		s.PermissionsPolicy.Features = features
	case "misc.enabled":
		s.Misc.Enabled, err = parseBool(raw)
	case "misc.headers":
		var headers []MiscHeader
		err = json.Unmarshal([]byte(raw), &headers)
		s.Misc.Headers = headers
	default:
		return fmt.Errorf("unknown setting %s.%s", family, key)
	}

	if err != nil {
		return fmt.Errorf("invalid value for %s.%s: %w", family, key, err)
	}
	return nil
}

func parseBool(raw string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "1", "true", "yes", "on":
		return true, nil
	case "0", "false", "no", "off", "":
		return false, nil
	}
	return false, fmt.Errorf("not a boolean: %q", raw)
}

package memory

import (
	"context"
	"sync"
	"time"

	"github.com/aitorroca/wn-securityheaders-plugin/internal/reports/violation"
	"go.uber.org/zap"
)

// Store implements violation.Store as a bounded in-memory ring, newest last.
type Store struct {
	mu            sync.RWMutex
	reports       []*violation.Report
	maxEntries    int
	retention     time.Duration
	totalReceived int64
	logger        *zap.Logger
	cleanupTimer  *time.Timer
	closed        bool
}

// Config holds memory report store configuration
type Config struct {
	// MaxEntries caps the number of stored reports
	MaxEntries int
	// Retention drops reports older than this. Zero keeps them until evicted.
	Retention time.Duration
	// CleanupInterval for removing reports past retention
	CleanupInterval time.Duration
}

// DefaultConfig returns a default memory store configuration
func DefaultConfig() *Config {
	return &Config{
		MaxEntries:      1000,
		Retention:       24 * time.Hour,
		CleanupInterval: 5 * time.Minute,
	}
}

// NewStore creates a new memory report store
func NewStore(config *Config, logger *zap.Logger) *Store {
	if config == nil {
		config = DefaultConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	maxEntries := config.MaxEntries
	if maxEntries <= 0 {
		maxEntries = DefaultConfig().MaxEntries
	}

	store := &Store{
		reports:    make([]*violation.Report, 0, min(maxEntries, 64)),
		maxEntries: maxEntries,
		retention:  config.Retention,
		logger:     logger,
	}

	if config.Retention > 0 && config.CleanupInterval > 0 {
		store.startCleanup(config.CleanupInterval)
	}

	return store
}

func (s *Store) startCleanup(interval time.Duration) {
	s.cleanupTimer = time.AfterFunc(interval, func() {
		s.cleanup(time.Now())

		s.mu.Lock()
		defer s.mu.Unlock()
		if !s.closed {
			s.startCleanup(interval)
		}
	})
}

// cleanup drops reports received before now-retention. Reports are kept in
// arrival order so the expired ones form a prefix.
func (s *Store) cleanup(now time.Time) int {
	if s.retention <= 0 {
		return 0
	}
	cutoff := now.Add(-s.retention)

	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for n < len(s.reports) && s.reports[n].ReceivedAt.Before(cutoff) {
		n++
	}
	if n > 0 {
		s.reports = append(s.reports[:0:0], s.reports[n:]...)
		s.logger.Debug("Dropped expired CSP reports", zap.Int("count", n))
	}
	return n
}

// Add stores a report, evicting the oldest once MaxEntries is reached
func (s *Store) Add(ctx context.Context, r *violation.Report) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.reports) >= s.maxEntries {
		drop := len(s.reports) - s.maxEntries + 1
		s.reports = append(s.reports[:0:0], s.reports[drop:]...)
	}
	s.reports = append(s.reports, r)
	s.totalReceived++

	s.logger.Debug("CSP report stored",
		zap.String("id", r.ID),
		zap.String("directive", r.Directive()),
	)
	return nil
}

// List returns up to limit reports, newest first
func (s *Store) List(ctx context.Context, limit int) ([]*violation.Report, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := len(s.reports)
	if limit > 0 && limit < n {
		n = limit
	}

	out := make([]*violation.Report, 0, n)
	for i := len(s.reports) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, s.reports[i])
	}
	return out, nil
}

// Count returns the number of stored reports
func (s *Store) Count(ctx context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.reports)), nil
}

// Clear removes every stored report. The received counter is kept.
func (s *Store) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.reports = s.reports[:0:0]
	s.logger.Debug("CSP reports cleared")
	return nil
}

// Stats returns report store statistics
func (s *Store) Stats(ctx context.Context) (*violation.Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return &violation.Stats{
		Stored:        int64(len(s.reports)),
		TotalReceived: s.totalReceived,
		Store:         "memory",
	}, nil
}

// Close stops the cleanup routine and drops all reports
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	if s.cleanupTimer != nil {
		s.cleanupTimer.Stop()
	}
	s.reports = nil

	s.logger.Debug("Memory report store closed")
	return nil
}

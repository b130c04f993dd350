package settings

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aitorroca/wn-securityheaders-plugin/internal/metrics"
	"go.uber.org/zap"
)

// Provider caches the normalized snapshot for concurrent readers and
// refreshes it from a Source.
type Provider struct {
	source  Source
	logger  *zap.Logger
	current atomic.Pointer[Snapshot]

	mu         sync.Mutex
	issues     []*ConfigurationError
	lastDigest string
	lastLoad   time.Time
	lastErr    error
}

// NewProvider creates a provider. Reload must be called before Snapshot
// returns anything but an empty snapshot.
func NewProvider(source Source, logger *zap.Logger) *Provider {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Provider{
		source:     source,
		logger:     logger,
		lastDigest: "-",
	}
}

// Snapshot returns the active snapshot. It never returns nil.
func (p *Provider) Snapshot() *Snapshot {
	if s := p.current.Load(); s != nil {
		return s
	}
	return &Snapshot{}
}

// Issues returns the issues found by the last successful load
func (p *Provider) Issues() []*ConfigurationError {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*ConfigurationError(nil), p.issues...)
}

// Reload reads the source, normalizes the result and swaps it in. On failure
// the previous snapshot stays active.
func (p *Provider) Reload(ctx context.Context) error {
	raw, err := p.source.Load(ctx)
	if err != nil {
		metrics.SettingsReloadsTotal.WithLabelValues(p.source.Name(), "error").Inc()
		p.mu.Lock()
		p.lastErr = err
		p.mu.Unlock()
		p.logger.Error("Failed to load settings, keeping previous snapshot",
			zap.String("source", p.source.Name()),
			zap.Error(err),
		)
		return err
	}

	snap, issues := Normalize(raw)
	p.current.Store(snap)
	metrics.SettingsReloadsTotal.WithLabelValues(p.source.Name(), "success").Inc()

	p.mu.Lock()
	defer p.mu.Unlock()

	p.issues = issues
	p.lastLoad = time.Now()
	p.lastErr = nil

	var errorCount, warningCount int
	for _, i := range issues {
		if i.Severity == SeverityError {
			errorCount++
		} else {
			warningCount++
		}
	}
	metrics.SettingsIssues.WithLabelValues(SeverityError.String()).Set(float64(errorCount))
	metrics.SettingsIssues.WithLabelValues(SeverityWarning.String()).Set(float64(warningCount))

	// surface each distinct issue set once rather than on every reload
	digest := digestIssues(issues)
	if digest == p.lastDigest {
		return nil
	}
	p.lastDigest = digest

	for _, i := range issues {
		fields := []zap.Field{
			zap.String("family", i.Family),
			zap.String("key", i.Key),
			zap.String("reason", i.Reason),
		}
		if i.Severity == SeverityError {
			p.logger.Error("Invalid security header settings, family disabled", fields...)
		} else {
			p.logger.Warn("Questionable security header settings", fields...)
		}
	}
	if len(issues) == 0 {
		p.logger.Info("Security header settings loaded", zap.String("source", p.source.Name()))
	}

	return nil
}

// Run reloads the settings every interval until ctx is done.
func (p *Provider) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := p.Reload(ctx); err != nil && !errors.Is(err, context.Canceled) {
				p.logger.Debug("Scheduled settings reload failed", zap.Error(err))
			}
		}
	}
}

// Health reports an error when no snapshot has been loaded or the last reload failed
func (p *Provider) Health(ctx context.Context) error {
	if p.current.Load() == nil {
		return errors.New("settings not loaded")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastErr
}

func digestIssues(issues []*ConfigurationError) string {
	parts := make([]string, 0, len(issues))
	for _, i := range issues {
		parts = append(parts, i.Severity.String()+"|"+i.Error())
	}
	sort.Strings(parts)
	return strings.Join(parts, "\n")
}

// LoadedAt returns the time of the last successful load
func (p *Provider) LoadedAt() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastLoad
}

// Source returns the underlying settings source
func (p *Provider) Source() Source {
	return p.source
}

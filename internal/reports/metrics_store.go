package reports

import (
	"context"
	"time"

	"github.com/aitorroca/wn-securityheaders-plugin/internal/metrics"
)

// MetricsStore wraps a Store and records metrics
type MetricsStore struct {
	store     Store
	storeType string
}

// NewMetricsStore creates a new metrics-enabled store wrapper
func NewMetricsStore(store Store, storeType string) Store {
	return &MetricsStore{
		store:     store,
		storeType: storeType,
	}
}

func (m *MetricsStore) observe(operation string, start time.Time, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}

	metrics.ReportStoreOperationsTotal.WithLabelValues(operation, m.storeType, status).Inc()
	metrics.ReportStoreOperationDuration.WithLabelValues(operation, m.storeType).Observe(time.Since(start).Seconds())
}

// refreshGauge updates the stored reports gauge after a write
func (m *MetricsStore) refreshGauge(ctx context.Context) {
	if n, err := m.store.Count(ctx); err == nil {
		metrics.CSPReportsStored.Set(float64(n))
	}
}

// Add stores a report and records metrics
func (m *MetricsStore) Add(ctx context.Context, r *Report) error {
	start := time.Now()
	err := m.store.Add(ctx, r)
	m.observe("add", start, err)
	if err == nil {
		m.refreshGauge(ctx)
	}
	return err
}

// List lists reports and records metrics
func (m *MetricsStore) List(ctx context.Context, limit int) ([]*Report, error) {
	start := time.Now()
	out, err := m.store.List(ctx, limit)
	m.observe("list", start, err)
	return out, err
}

// Count counts reports and records metrics
func (m *MetricsStore) Count(ctx context.Context) (int64, error) {
	start := time.Now()
	n, err := m.store.Count(ctx)
	m.observe("count", start, err)
	return n, err
}

// Clear removes reports and records metrics
func (m *MetricsStore) Clear(ctx context.Context) error {
	start := time.Now()
	err := m.store.Clear(ctx)
	m.observe("clear", start, err)
	if err == nil {
		metrics.CSPReportsStored.Set(0)
	}
	return err
}

// Stats returns store statistics and records metrics
func (m *MetricsStore) Stats(ctx context.Context) (*Stats, error) {
	start := time.Now()
	stats, err := m.store.Stats(ctx)
	m.observe("stats", start, err)
	return stats, err
}

// Close closes the underlying store
func (m *MetricsStore) Close() error {
	return m.store.Close()
}

// Health reports whether the underlying store answers
func (m *MetricsStore) Health(ctx context.Context) error {
	_, err := m.Count(ctx)
	return err
}

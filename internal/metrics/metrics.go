// Package metrics exports Prometheus metrics for the cache store and the
// refresh scheduler.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/linabrihoum/microcap-trader/internal/cache"
	"github.com/linabrihoum/microcap-trader/internal/refresh"
)

// Metrics holds all Prometheus collectors for the trader. It satisfies
// both the cache and refresh Recorder interfaces so a single instance
// plugs into both components.
type Metrics struct {
	CacheHits          prometheus.Counter
	CacheMisses        prometheus.Counter
	CacheEvictions     prometheus.Counter
	CacheInvalidations prometheus.Counter

	RefreshProcessed prometheus.Counter
	RefreshRetried   prometheus.Counter
	RefreshFailed    prometheus.Counter
	RefreshDuration  prometheus.Histogram
	RefreshQueueSize prometheus.Gauge
}

// New creates a Metrics instance registered with the default registry
// under the given namespace.
func New(namespace string) *Metrics {
	return &Metrics{
		CacheHits: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_hits_total",
			Help:      "Total number of cache hits",
		}),
		CacheMisses: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_misses_total",
			Help:      "Total number of cache misses, expired entries included",
		}),
		CacheEvictions: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_evictions_total",
			Help:      "Total number of entries evicted to respect capacity",
		}),
		CacheInvalidations: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_invalidations_total",
			Help:      "Total number of entries removed by expiry or explicit invalidation",
		}),

		RefreshProcessed: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "refresh_tasks_processed_total",
			Help:      "Total number of successfully completed refresh tasks",
		}),
		RefreshRetried: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "refresh_tasks_retried_total",
			Help:      "Total number of refresh task retries",
		}),
		RefreshFailed: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "refresh_tasks_failed_total",
			Help:      "Total number of refresh tasks dropped after retry exhaustion",
		}),
		RefreshDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "refresh_duration_seconds",
			Help:      "Background refresh duration in seconds",
			Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}),
		RefreshQueueSize: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "refresh_queue_size",
			Help:      "Current number of queued refresh tasks",
		}),
	}
}

// Hit implements cache.Recorder
func (m *Metrics) Hit() { m.CacheHits.Inc() }

// Miss implements cache.Recorder
func (m *Metrics) Miss() { m.CacheMisses.Inc() }

// Eviction implements cache.Recorder
func (m *Metrics) Eviction() { m.CacheEvictions.Inc() }

// Invalidation implements cache.Recorder
func (m *Metrics) Invalidation() { m.CacheInvalidations.Inc() }

// TaskProcessed implements refresh.Recorder
func (m *Metrics) TaskProcessed(d time.Duration) {
	m.RefreshProcessed.Inc()
	m.RefreshDuration.Observe(d.Seconds())
}

// TaskRetried implements refresh.Recorder
func (m *Metrics) TaskRetried() { m.RefreshRetried.Inc() }

// TaskFailed implements refresh.Recorder
func (m *Metrics) TaskFailed() { m.RefreshFailed.Inc() }

// QueueDepth implements refresh.Recorder
func (m *Metrics) QueueDepth(n int) { m.RefreshQueueSize.Set(float64(n)) }

// Verify that Metrics satisfies both recorder interfaces
var (
	_ cache.Recorder   = (*Metrics)(nil)
	_ refresh.Recorder = (*Metrics)(nil)
)

package reconcile

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics exposes reconciler health counters. It satisfies fetcher.Observer;
// all methods are nil-safe so wiring metrics stays optional.
type Metrics struct {
	chunksFetched prometheus.Counter
	chunksFailed  prometheus.Counter
	rateLimits    prometheus.Counter
	logsFetched   prometheus.Counter
	liveEvents    prometheus.Counter

	runs              *prometheus.CounterVec
	runDuration       prometheus.Histogram
	lastReconciled    prometheus.Gauge
	packagesPublished prometheus.Gauge
}

// NewMetrics registers the reconciler metrics on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		chunksFetched: factory.NewCounter(prometheus.CounterOpts{
			Name: "supplytrace_chunks_fetched_total",
			Help: "Log chunks fetched successfully.",
		}),
		chunksFailed: factory.NewCounter(prometheus.CounterOpts{
			Name: "supplytrace_chunks_failed_total",
			Help: "Log chunks that failed after retries.",
		}),
		rateLimits: factory.NewCounter(prometheus.CounterOpts{
			Name: "supplytrace_rate_limits_total",
			Help: "Provider throttle responses observed.",
		}),
		logsFetched: factory.NewCounter(prometheus.CounterOpts{
			Name: "supplytrace_logs_fetched_total",
			Help: "Raw logs fetched.",
		}),
		liveEvents: factory.NewCounter(prometheus.CounterOpts{
			Name: "supplytrace_live_events_total",
			Help: "Live creation events received over the subscription.",
		}),
		runs: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "supplytrace_reconcile_runs_total",
			Help: "Reconciliation runs by outcome.",
		}, []string{"outcome"}),
		runDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "supplytrace_reconcile_duration_seconds",
			Help:    "Wall time of a reconciliation run.",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		}),
		lastReconciled: factory.NewGauge(prometheus.GaugeOpts{
			Name: "supplytrace_last_reconciled_block",
			Help: "Highest block merged into the cache.",
		}),
		packagesPublished: factory.NewGauge(prometheus.GaugeOpts{
			Name: "supplytrace_packages_published",
			Help: "Packages in the currently published state.",
		}),
	}
}

// ChunkFetched implements fetcher.Observer.
func (m *Metrics) ChunkFetched(logs int) {
	if m == nil {
		return
	}
	m.chunksFetched.Inc()
	m.logsFetched.Add(float64(logs))
}

// ChunkFailed implements fetcher.Observer.
func (m *Metrics) ChunkFailed() {
	if m == nil {
		return
	}
	m.chunksFailed.Inc()
}

// RateLimited implements fetcher.Observer.
func (m *Metrics) RateLimited() {
	if m == nil {
		return
	}
	m.rateLimits.Inc()
}

func (m *Metrics) liveEvent() {
	if m == nil {
		return
	}
	m.liveEvents.Inc()
}

func (m *Metrics) runFinished(outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.runs.WithLabelValues(outcome).Inc()
	m.runDuration.Observe(seconds)
}

func (m *Metrics) reconciled(block uint64, packages int) {
	if m == nil {
		return
	}
	m.lastReconciled.Set(float64(block))
	m.packagesPublished.Set(float64(packages))
}

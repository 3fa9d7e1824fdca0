// Package metrics exposes Prometheus instruments for the reconciler.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "indexwarden"

// Sink receives one observation per processed unit and the timestamp of the
// most recent one.
type Sink interface {
	ObserveProcessed(d time.Duration)
	ReportTimestamp(t time.Time)
}

// Nop discards all observations.
type Nop struct{}

func (Nop) ObserveProcessed(time.Duration) {}
func (Nop) ReportTimestamp(time.Time)      {}

// StreamMetrics is a Sink backed by a latency histogram and a last-seen
// timestamp gauge.
type StreamMetrics struct {
	latency  prometheus.Histogram
	lastSeen prometheus.Gauge
}

var _ Sink = (*StreamMetrics)(nil)

// NewStreamMetrics registers the instruments with reg under the given
// subsystem.
func NewStreamMetrics(reg prometheus.Registerer, subsystem string) (*StreamMetrics, error) {
	m := &StreamMetrics{
		latency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "processing_seconds",
			Help:      "Time spent processing one unit.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30},
		}),
		lastSeen: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "last_processed_timestamp_seconds",
			Help:      "Unix time of the most recently processed unit.",
		}),
	}
	for _, c := range []prometheus.Collector{m.latency, m.lastSeen} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *StreamMetrics) ObserveProcessed(d time.Duration) {
	m.latency.Observe(d.Seconds())
}

func (m *StreamMetrics) ReportTimestamp(t time.Time) {
	m.lastSeen.Set(float64(t.UnixNano()) / 1e9)
}

// ReconcileMetrics counts reconciliation cycles and their per-indexer results.
type ReconcileMetrics struct {
	Cycles        prometheus.Counter
	CycleDuration prometheus.Histogram
	Evaluations   *prometheus.CounterVec
	Commits       *prometheus.CounterVec
	Pending       prometheus.Gauge
}

// NewReconcileMetrics registers the reconciler instruments with reg.
func NewReconcileMetrics(reg prometheus.Registerer) (*ReconcileMetrics, error) {
	m := &ReconcileMetrics{
		Cycles: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reconcile",
			Name:      "cycles_total",
			Help:      "Reconciliation cycles run.",
		}),
		CycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "reconcile",
			Name:      "cycle_duration_seconds",
			Help:      "Wall time of one reconciliation cycle.",
			Buckets:   prometheus.DefBuckets,
		}),
		Evaluations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reconcile",
			Name:      "evaluations_total",
			Help:      "Batch build evaluations by outcome.",
		}, []string{"outcome"}),
		Commits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reconcile",
			Name:      "commits_total",
			Help:      "Commit attempts by result.",
		}, []string{"result"}),
		Pending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "reconcile",
			Name:      "pending_builds",
			Help:      "Active builds still in flight after the last cycle.",
		}),
	}
	for _, c := range []prometheus.Collector{m.Cycles, m.CycleDuration, m.Evaluations, m.Commits, m.Pending} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

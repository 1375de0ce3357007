// Package metrics exposes the engine's Prometheus instrumentation
// (SPEC_FULL.md §4.8). Metrics follow the taxonomy
// applimit_engine_<metric>_<unit>, one registry per process.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// EngineMetrics holds the counters, gauges, and histograms the Controller
// updates as it processes events.
type EngineMetrics struct {
	ActiveGroups *prometheus.GaugeVec // labels: variant=app|session

	ObserversTotal *prometheus.GaugeVec // labels: uid

	LimitReachedTotal prometheus.Counter
	SessionEndTotal   prometheus.Counter

	TimerPending prometheus.Gauge

	EventDurationSeconds prometheus.Histogram
}

// New registers EngineMetrics against reg. Pass prometheus.NewRegistry()
// for an isolated test registry, or prometheus.DefaultRegisterer-backed
// promauto.With(reg) in production via reg.
func New(reg prometheus.Registerer) *EngineMetrics {
	factory := promauto.With(reg)

	return &EngineMetrics{
		ActiveGroups: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "applimit",
				Subsystem: "engine",
				Name:      "active_groups",
				Help:      "Number of usage groups currently registered, by variant.",
			},
			[]string{"variant"},
		),

		ObserversTotal: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "applimit",
				Subsystem: "engine",
				Name:      "observers_total",
				Help:      "Number of registered observers per uid.",
			},
			[]string{"uid"},
		),

		LimitReachedTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: "applimit",
				Subsystem: "engine",
				Name:      "limit_reached_total",
				Help:      "Total number of onLimitReached notifications fired.",
			},
		),

		SessionEndTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: "applimit",
				Subsystem: "engine",
				Name:      "session_end_total",
				Help:      "Total number of onSessionEnd notifications fired.",
			},
		),

		TimerPending: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "applimit",
				Subsystem: "engine",
				Name:      "timer_pending",
				Help:      "Number of CHECK_TIMEOUT/INFORM_SESSION_END messages currently pending.",
			},
		),

		EventDurationSeconds: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "applimit",
				Subsystem: "engine",
				Name:      "event_duration_seconds",
				Help:      "Duration of each noteUsageStart/noteUsageStop call, including time spent waiting for the global lock.",
				Buckets:   prometheus.DefBuckets,
			},
		),
	}
}

// ObserveEvent records the duration of a single noteUsageStart/Stop call.
func (m *EngineMetrics) ObserveEvent(d time.Duration) {
	m.EventDurationSeconds.Observe(d.Seconds())
}

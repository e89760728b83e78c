// Package observe provides the Prometheus metrics and OpenTelemetry tracing
// used across the interpretation pipeline.
//
// A nil *Metrics is valid and records nothing, so components can be built
// without observability in tests.
package observe

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/nadzzz/aura/internal/message"
)

const namespace = "aura"

// Metrics holds the pipeline's Prometheus collectors.
type Metrics struct {
	// Segments counts finalized segments by tier that resolved them and
	// error kind ("" on success).
	Segments *prometheus.CounterVec

	// Intents counts dispatched commands by intent and handler success.
	Intents *prometheus.CounterVec

	// TurnLatency observes end-to-end turn processing time.
	TurnLatency prometheus.Histogram

	// FallbackLatency observes model classification time by backend.
	FallbackLatency *prometheus.HistogramVec

	// ActiveTurns tracks turns currently being processed.
	ActiveTurns prometheus.Gauge
}

// NewMetrics registers the pipeline collectors with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Segments: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "segments_total",
			Help:      "Finalized command segments by resolution source and error kind.",
		}, []string{"source", "error_kind"}),
		Intents: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "intents_dispatched_total",
			Help:      "Commands dispatched to handlers by intent and result.",
		}, []string{"intent", "status"}),
		TurnLatency: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "turn_duration_seconds",
			Help:      "Time to process one transcript end to end.",
			Buckets:   prometheus.DefBuckets,
		}),
		FallbackLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "fallback_duration_seconds",
			Help:      "Fallback classifier latency by backend.",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2, 3, 5},
		}, []string{"backend"}),
		ActiveTurns: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_turns",
			Help:      "Turns currently in progress.",
		}),
	}
}

// ObserveSegment records one finalized segment.
func (m *Metrics) ObserveSegment(r message.SegmentResult) {
	if m == nil {
		return
	}
	m.Segments.WithLabelValues(string(r.Command.Source), string(r.Outcome.ErrorKind)).Inc()
	if r.Outcome.Invoked {
		status := "success"
		if !r.Outcome.Success {
			status = "failure"
		}
		m.Intents.WithLabelValues(r.Command.IntentID, status).Inc()
	}
}

// ObserveFallback records one model call.
func (m *Metrics) ObserveFallback(backend string, d time.Duration) {
	if m == nil {
		return
	}
	m.FallbackLatency.WithLabelValues(backend).Observe(d.Seconds())
}

// TurnStarted marks a turn as in progress and returns a func that ends it.
func (m *Metrics) TurnStarted() func() {
	if m == nil {
		return func() {}
	}
	start := time.Now()
	m.ActiveTurns.Inc()
	return func() {
		m.ActiveTurns.Dec()
		m.TurnLatency.Observe(time.Since(start).Seconds())
	}
}

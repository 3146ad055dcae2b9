// Package metrics holds the Prometheus collectors for the generation
// pipeline. Every method is safe to call on a nil *Metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Request statuses.
const (
	StatusSuccess = "success"
	StatusFailure = "failure"
	StatusInvalid = "invalid"
)

// Synthesis attempt outcomes.
const (
	AttemptSuccess = "success"
	AttemptFailure = "failure"
	AttemptBlocked = "blocked"
)

// Metrics owns a private registry so tests and multiple engines never
// collide on the global one.
type Metrics struct {
	registry *prometheus.Registry

	requests  *prometheus.CounterVec
	duration  prometheus.Histogram
	segments  prometheus.Counter
	attempts  *prometheus.CounterVec
	mergeRuns *prometheus.CounterVec
}

// New creates and registers the pipeline collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tts_generation_requests_total",
				Help: "Generation requests by final status.",
			},
			[]string{"status"},
		),

		duration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "tts_generation_duration_seconds",
				Help:    "Wall time of a generation run.",
				Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600, 1200},
			},
		),

		segments: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "tts_segments_synthesized_total",
				Help: "Segments synthesized and persisted.",
			},
		),

		attempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tts_synthesis_attempts_total",
				Help: "Synthesis calls by outcome.",
			},
			[]string{"outcome"}, // success, failure, blocked
		),

		mergeRuns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tts_merge_outcomes_total",
				Help: "How final artifacts were assembled.",
			},
			[]string{"outcome"}, // single, combined, degraded
		),
	}

	m.registry.MustRegister(
		m.requests,
		m.duration,
		m.segments,
		m.attempts,
		m.mergeRuns,
	)

	return m
}

// ObserveRequest records one finished generation run.
func (m *Metrics) ObserveRequest(status string, elapsed time.Duration) {
	if m == nil {
		return
	}

	m.requests.WithLabelValues(status).Inc()
	m.duration.Observe(elapsed.Seconds())
}

// SegmentSynthesized counts a persisted segment.
func (m *Metrics) SegmentSynthesized() {
	if m == nil {
		return
	}

	m.segments.Inc()
}

// SynthesisAttempt counts one call to a synthesis capability.
func (m *Metrics) SynthesisAttempt(outcome string) {
	if m == nil {
		return
	}

	m.attempts.WithLabelValues(outcome).Inc()
}

// MergeOutcome counts how an artifact was assembled.
func (m *Metrics) MergeOutcome(outcome string) {
	if m == nil {
		return
	}

	m.mergeRuns.WithLabelValues(outcome).Inc()
}

// Handler exposes the private registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}

	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

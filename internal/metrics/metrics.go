// Package metrics exposes Prometheus instrumentation for board generation.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups the collectors shared by the generation pipeline.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry          *prometheus.Registry
	attempts          *prometheus.CounterVec
	placeholders      prometheus.Counter
	jobs              *prometheus.CounterVec
	jobsInFlight      prometheus.Gauge
	phaseDuration     *prometheus.HistogramVec
	sessionsFinalized *prometheus.CounterVec
}

// New registers all collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		attempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "board_generation_attempts_total",
			Help: "Whole-batch image acquisition attempts by result.",
		}, []string{"result"}),
		placeholders: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "board_placeholder_fallbacks_total",
			Help: "Entities rendered with the placeholder image after a primary producer miss.",
		}),
		jobs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "board_jobs_total",
			Help: "Asynchronous generation jobs by terminal status.",
		}, []string{"status"}),
		jobsInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "board_jobs_in_flight",
			Help: "Asynchronous generation jobs currently queued or running.",
		}),
		phaseDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "board_phase_duration_seconds",
			Help:    "Duration of generation phases.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		}, []string{"phase"}),
		sessionsFinalized: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "board_sessions_finalized_total",
			Help: "Sessions flushed to durable telemetry by reason.",
		}, []string{"reason"}),
	}
	reg.MustRegister(
		m.attempts, m.placeholders, m.jobs, m.jobsInFlight, m.phaseDuration, m.sessionsFinalized,
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Attempt records the outcome of one generation attempt ("success" or "failure").
func (m *Metrics) Attempt(result string) {
	if m == nil {
		return
	}
	m.attempts.WithLabelValues(result).Inc()
}

// PlaceholderFallback records one placeholder substitution.
func (m *Metrics) PlaceholderFallback() {
	if m == nil {
		return
	}
	m.placeholders.Inc()
}

// JobStarted marks a job as in flight.
func (m *Metrics) JobStarted() {
	if m == nil {
		return
	}
	m.jobsInFlight.Inc()
}

// JobFinished records a job's terminal status.
func (m *Metrics) JobFinished(status string) {
	if m == nil {
		return
	}
	m.jobsInFlight.Dec()
	m.jobs.WithLabelValues(status).Inc()
}

// ObservePhase records how long a named phase took.
func (m *Metrics) ObservePhase(phase string, d time.Duration) {
	if m == nil {
		return
	}
	m.phaseDuration.WithLabelValues(phase).Observe(d.Seconds())
}

// SessionFinalized records a telemetry flush ("explicit" or "idle").
func (m *Metrics) SessionFinalized(reason string) {
	if m == nil {
		return
	}
	m.sessionsFinalized.WithLabelValues(reason).Inc()
}

// ABOUTME: Prometheus collectors for relay activity
// ABOUTME: Counts prompts, generations, acknowledgements and uploads, times API calls

package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the relay's collectors on a private registry.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	prompts           *prometheus.CounterVec
	generations       *prometheus.CounterVec
	generationLatency *prometheus.HistogramVec
	acknowledgements  prometheus.Counter
	uploads           *prometheus.CounterVec
	handlerErrors     prometheus.Counter
}

// New creates and registers the relay collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		prompts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_prompts_total",
			Help: "Inbound prompts by classification",
		}, []string{"kind"}),
		generations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_generations_total",
			Help: "Generation API calls by kind and outcome",
		}, []string{"kind", "status"}),
		generationLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "relay_generation_latency_seconds",
			Help:    "Latency of generation API calls",
			Buckets: []float64{0.25, 0.5, 1, 2, 4, 8, 15, 30, 60},
		}, []string{"kind"}),
		acknowledgements: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "relay_acknowledgements_total",
			Help: "Filler acknowledgements sent",
		}),
		uploads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_image_uploads_total",
			Help: "Image uploads by outcome",
		}, []string{"outcome"}),
		handlerErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "relay_handler_errors_total",
			Help: "Events whose handling failed",
		}),
	}

	m.registry.MustRegister(
		m.prompts,
		m.generations,
		m.generationLatency,
		m.acknowledgements,
		m.uploads,
		m.handlerErrors,
	)
	return m
}

// Registry exposes the registry for the HTTP handler.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return prometheus.NewRegistry()
	}
	return m.registry
}

// IncPrompt counts an inbound prompt of the given kind.
func (m *Metrics) IncPrompt(kind string) {
	if m == nil {
		return
	}
	m.prompts.WithLabelValues(kind).Inc()
}

// ObserveGeneration records a generation call that started at start.
func (m *Metrics) ObserveGeneration(kind, status string, start time.Time) {
	if m == nil {
		return
	}
	m.generations.WithLabelValues(kind, status).Inc()
	m.generationLatency.WithLabelValues(kind).Observe(time.Since(start).Seconds())
}

// IncAcknowledgement counts a filler acknowledgement.
func (m *Metrics) IncAcknowledgement() {
	if m == nil {
		return
	}
	m.acknowledgements.Inc()
}

// IncUpload counts an image upload attempt by outcome ("ok" or "failed").
func (m *Metrics) IncUpload(outcome string) {
	if m == nil {
		return
	}
	m.uploads.WithLabelValues(outcome).Inc()
}

// IncHandlerError counts a failed event.
func (m *Metrics) IncHandlerError() {
	if m == nil {
		return
	}
	m.handlerErrors.Inc()
}

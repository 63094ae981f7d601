// Package metrics holds the Prometheus collectors for the assistant.
// All recording methods are safe to call on a nil *Metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the service.
type Metrics struct {
	registry *prometheus.Registry

	TurnsTotal       *prometheus.CounterVec
	ProviderRequests *prometheus.CounterVec
	ProviderDuration *prometheus.HistogramVec
	OutputRepairs    *prometheus.CounterVec
	GroundingDrops   *prometheus.CounterVec
	CaptureRestarts  prometheus.Counter
	Endpointings     *prometheus.CounterVec
	VoiceSessions    prometheus.Gauge
	InventoryLookups *prometheus.CounterVec
}

// New creates a Metrics instance with every collector registered on its own registry.
func New(namespace string) *Metrics {
	if namespace == "" {
		namespace = "store_assistant"
	}
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		TurnsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_total",
			Help:      "Dialogue turns by outcome",
		}, []string{"outcome"}),
		ProviderRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_requests_total",
			Help:      "Language model requests by provider and result",
		}, []string{"provider", "result"}),
		ProviderDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "provider_request_duration_seconds",
			Help:      "Language model request duration in seconds",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		}, []string{"provider"}),
		OutputRepairs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "model_output_repairs_total",
			Help:      "Model outputs that failed the schema check and were coerced",
		}, []string{"provider"}),
		GroundingDrops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "grounding_dropped_skus_total",
			Help:      "Recommended SKUs removed by the validator",
		}, []string{"reason"}),
		CaptureRestarts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "capture_restarts_total",
			Help:      "Speech capture sessions restarted after a recoverable end",
		}),
		Endpointings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "endpointings_total",
			Help:      "Utterances handed off, by trigger",
		}, []string{"trigger"}),
		VoiceSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "voice_sessions_active",
			Help:      "Active realtime voice sessions",
		}),
		InventoryLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "inventory_lookups_total",
			Help:      "Inventory lookups by source",
		}, []string{"source"}),
	}

	registry.MustRegister(
		m.TurnsTotal,
		m.ProviderRequests,
		m.ProviderDuration,
		m.OutputRepairs,
		m.GroundingDrops,
		m.CaptureRestarts,
		m.Endpointings,
		m.VoiceSessions,
		m.InventoryLookups,
		collectors.NewGoCollector(),
	)
	return m
}

// Handler exposes the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Turn(outcome string) {
	if m == nil {
		return
	}
	m.TurnsTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ProviderRequest(provider, result string, d time.Duration) {
	if m == nil {
		return
	}
	m.ProviderRequests.WithLabelValues(provider, result).Inc()
	m.ProviderDuration.WithLabelValues(provider).Observe(d.Seconds())
}

func (m *Metrics) OutputRepaired(provider string) {
	if m == nil {
		return
	}
	m.OutputRepairs.WithLabelValues(provider).Inc()
}

func (m *Metrics) GroundingDropped(reason string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.GroundingDrops.WithLabelValues(reason).Add(float64(n))
}

func (m *Metrics) CaptureRestarted() {
	if m == nil {
		return
	}
	m.CaptureRestarts.Inc()
}

func (m *Metrics) Endpointed(trigger string) {
	if m == nil {
		return
	}
	m.Endpointings.WithLabelValues(trigger).Inc()
}

func (m *Metrics) VoiceSessionStarted() {
	if m == nil {
		return
	}
	m.VoiceSessions.Inc()
}

func (m *Metrics) VoiceSessionEnded() {
	if m == nil {
		return
	}
	m.VoiceSessions.Dec()
}

func (m *Metrics) InventoryLookup(source string) {
	if m == nil {
		return
	}
	m.InventoryLookups.WithLabelValues(source).Inc()
}

// ABOUTME: Prometheus collectors for the real-time event layer
// ABOUTME: Registered on a private registry and served via promhttp

package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "sure"

// Metrics holds every collector the gateway records into.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	Subscribers      *prometheus.GaugeVec
	Broadcasts       *prometheus.CounterVec
	Deliveries       *prometheus.CounterVec
	Pruned           *prometheus.CounterVec
	StreamsOpened    *prometheus.CounterVec
	ForwardFailures  *prometheus.CounterVec
	ForwardLatency   *prometheus.HistogramVec
	IngestedEvents   *prometheus.CounterVec
	AssistantReplies *prometheus.CounterVec
}

// New creates the collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &Metrics{
		registry: reg,
		Subscribers: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "registry",
			Name:      "subscribers",
			Help:      "Current number of subscribed channels",
		}, []string{"registry"}),
		Broadcasts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "registry",
			Name:      "broadcasts_total",
			Help:      "Total number of broadcast calls",
		}, []string{"registry", "type"}),
		Deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "registry",
			Name:      "deliveries_total",
			Help:      "Total number of frames enqueued on subscriber channels",
		}, []string{"registry"}),
		Pruned: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "registry",
			Name:      "pruned_total",
			Help:      "Total number of channels removed after a failed write",
		}, []string{"registry"}),
		StreamsOpened: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sse",
			Name:      "streams_opened_total",
			Help:      "Total number of SSE streams opened",
		}, []string{"stream"}),
		ForwardFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "forward",
			Name:      "failures_total",
			Help:      "Total number of failed cross-process forwards",
		}, []string{"forwarder"}),
		ForwardLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "forward",
			Name:      "latency_seconds",
			Help:      "Latency of cross-process forwards",
			Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}, []string{"forwarder"}),
		IngestedEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "events_total",
			Help:      "Total number of events received from companion processes",
		}, []string{"source", "type"}),
		AssistantReplies: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "conversation",
			Name:      "assistant_replies_total",
			Help:      "Total number of generated assistant replies by outcome",
		}, []string{"outcome"}),
	}

	reg.MustRegister(
		m.Subscribers,
		m.Broadcasts,
		m.Deliveries,
		m.Pruned,
		m.StreamsOpened,
		m.ForwardFailures,
		m.ForwardLatency,
		m.IngestedEvents,
		m.AssistantReplies,
	)
	return m
}

// Registry exposes the underlying registry for tests and custom collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObserveBroadcast records one broadcast call and how many channels it reached.
func (m *Metrics) ObserveBroadcast(registry, eventType string, delivered int) {
	if m == nil {
		return
	}
	m.Broadcasts.WithLabelValues(registry, eventType).Inc()
	m.Deliveries.WithLabelValues(registry).Add(float64(delivered))
}

// ObservePrune records channels removed after failed writes.
func (m *Metrics) ObservePrune(registry string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.Pruned.WithLabelValues(registry).Add(float64(n))
}

// SetSubscribers records the current subscriber count of a registry.
func (m *Metrics) SetSubscribers(registry string, n int) {
	if m == nil {
		return
	}
	m.Subscribers.WithLabelValues(registry).Set(float64(n))
}

// StreamOpened counts an SSE stream reaching the open state.
func (m *Metrics) StreamOpened(stream string) {
	if m == nil {
		return
	}
	m.StreamsOpened.WithLabelValues(stream).Inc()
}

// ObserveForward records the latency and outcome of one forward.
func (m *Metrics) ObserveForward(forwarder string, seconds float64, failed bool) {
	if m == nil {
		return
	}
	m.ForwardLatency.WithLabelValues(forwarder).Observe(seconds)
	if failed {
		m.ForwardFailures.WithLabelValues(forwarder).Inc()
	}
}

// ObserveIngest counts an event received from a companion process.
func (m *Metrics) ObserveIngest(source, eventType string) {
	if m == nil {
		return
	}
	m.IngestedEvents.WithLabelValues(source, eventType).Inc()
}

// ObserveAssistantReply counts an assistant reply attempt by outcome.
func (m *Metrics) ObserveAssistantReply(outcome string) {
	if m == nil {
		return
	}
	m.AssistantReplies.WithLabelValues(outcome).Inc()
}

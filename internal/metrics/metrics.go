// Package metrics exposes Prometheus instrumentation for the daemon.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "nowplaying"

// Metrics groups every collector the daemon updates. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	storeEvents     *prometheus.CounterVec
	skippedPayloads *prometheus.CounterVec
	sessions        prometheus.Gauge
	monitorEvents   *prometheus.CounterVec
	artworkFetches  *prometheus.CounterVec
	wsClients       prometheus.Gauge
}

// New creates a registry with Go runtime and process collectors plus the daemon metrics
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := &Metrics{
		registry: reg,
		storeEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "events_total",
			Help:      "Store mutations applied, by event kind.",
		}, []string{"kind"}),
		skippedPayloads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "bridge",
			Name:      "skipped_payloads_total",
			Help:      "Host events dropped because their payload was absent or malformed.",
		}, []string{"event"}),
		sessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "sessions",
			Help:      "Media sessions currently known to the store.",
		}),
		monitorEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "monitor",
			Name:      "events_total",
			Help:      "Session lifecycle events observed, by kind.",
		}, []string{"kind"}),
		artworkFetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "artwork_fetches_total",
			Help:      "Artwork fetch attempts, by result.",
		}, []string{"result"}),
		wsClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "overlay",
			Name:      "websocket_clients",
			Help:      "Connected overlay websocket clients.",
		}),
	}

	reg.MustRegister(m.storeEvents, m.skippedPayloads, m.sessions, m.monitorEvents, m.artworkFetches, m.wsClients)
	return m
}

// Handler serves the registry in the Prometheus text format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry, mainly for tests
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) StoreEvent(kind string, sessions int) {
	if m == nil {
		return
	}
	m.storeEvents.WithLabelValues(kind).Inc()
	m.sessions.Set(float64(sessions))
}

func (m *Metrics) SkippedPayload(event string) {
	if m == nil {
		return
	}
	m.skippedPayloads.WithLabelValues(event).Inc()
}

func (m *Metrics) MonitorEvent(kind string) {
	if m == nil {
		return
	}
	m.monitorEvents.WithLabelValues(kind).Inc()
}

func (m *Metrics) ArtworkFetch(result string) {
	if m == nil {
		return
	}
	m.artworkFetches.WithLabelValues(result).Inc()
}

func (m *Metrics) ClientConnected() {
	if m == nil {
		return
	}
	m.wsClients.Inc()
}

func (m *Metrics) ClientDisconnected() {
	if m == nil {
		return
	}
	m.wsClients.Dec()
}

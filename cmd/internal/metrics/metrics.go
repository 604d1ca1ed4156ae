// Package metrics exposes the server's Prometheus collectors on a private registry.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "inbox"

// Metrics holds every collector. A nil *Metrics is valid and records nothing,
// so components can take one unconditionally.
type Metrics struct {
	reg *prometheus.Registry

	ingested       prometheus.Counter
	ingestFailures *prometheus.CounterVec
	delivered      prometheus.Counter
	dropped        prometheus.Counter
	viewers        prometheus.Gauge
	httpRequests   *prometheus.CounterVec
}

// New registers the collectors (plus Go runtime and process collectors) on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		reg: reg,
		ingested: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_ingested_total",
			Help:      "Inbound messages stored and summarized.",
		}),
		ingestFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingest_failures_total",
			Help:      "Ingestion failures by pipeline stage.",
		}, []string{"stage"}),
		delivered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_delivered_total",
			Help:      "Realtime events queued to a viewer session.",
		}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_dropped_total",
			Help:      "Realtime events dropped because a viewer queue was full.",
		}),
		viewers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "viewers_connected",
			Help:      "Currently connected viewer sessions.",
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route pattern, method and status class.",
		}, []string{"route", "method", "class"}),
	}

	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.ingested,
		m.ingestFailures,
		m.delivered,
		m.dropped,
		m.viewers,
		m.httpRequests,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.reg
}

// MessageIngested counts a fully ingested message.
func (m *Metrics) MessageIngested() {
	if m == nil {
		return
	}
	m.ingested.Inc()
}

// IngestFailed counts a failure at the given pipeline stage.
func (m *Metrics) IngestFailed(stage string) {
	if m == nil {
		return
	}
	m.ingestFailures.WithLabelValues(stage).Inc()
}

// ViewersChanged sets the connected viewer gauge.
func (m *Metrics) ViewersChanged(n int) {
	if m == nil {
		return
	}
	m.viewers.Set(float64(n))
}

// EventDelivered counts an event queued to one viewer.
func (m *Metrics) EventDelivered() {
	if m == nil {
		return
	}
	m.delivered.Inc()
}

// EventDropped counts an event dropped for one viewer.
func (m *Metrics) EventDropped() {
	if m == nil {
		return
	}
	m.dropped.Inc()
}

// HTTPRequest counts a served request. class is "2xx", "4xx", ...
func (m *Metrics) HTTPRequest(route, method, class string) {
	if m == nil {
		return
	}
	if route == "" {
		route = "unmatched"
	}
	m.httpRequests.WithLabelValues(route, method, class).Inc()
}

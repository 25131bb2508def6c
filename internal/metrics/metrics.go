// Package metrics exposes the editor's Prometheus instrumentation on a
// dedicated registry, keeping the default registry's Go runtime collectors
// out of the picture.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry *prometheus.Registry

	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	EntityMutations *prometheus.CounterVec
	PublishesTotal  *prometheus.CounterVec
	JobsRunning     prometheus.Gauge
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "feedsmith_http_requests_total",
			Help: "HTTP requests by method, route pattern, and status code.",
		}, []string{"method", "route", "status"}),
		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "feedsmith_http_request_duration_seconds",
			Help:    "HTTP request latency by route pattern.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
		EntityMutations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "feedsmith_entity_mutations_total",
			Help: "Entity store mutations by entity kind and operation.",
		}, []string{"kind", "op"}),
		PublishesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "feedsmith_publishes_total",
			Help: "Snapshot publish attempts by outcome.",
		}, []string{"outcome"}),
		JobsRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "feedsmith_jobs_running",
			Help: "Asynchronous jobs currently running.",
		}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		m.RequestsTotal,
		m.RequestDuration,
		m.EntityMutations,
		m.PublishesTotal,
		m.JobsRunning,
	)
	return m
}

// Handler serves the /metrics scrape endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

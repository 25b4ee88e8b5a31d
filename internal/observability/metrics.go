// Package observability exposes the service's Prometheus metrics.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry *prometheus.Registry

	CommandOutcomes    *prometheus.CounterVec
	CommandRejections  prometheus.Counter
	CacheInvalidations *prometheus.CounterVec
	UpstreamFailures   *prometheus.CounterVec
	HTTPDuration       *prometheus.HistogramVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		CommandOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "aprueba_command_outcomes_total",
			Help: "Settled approval commands by kind, action and outcome.",
		}, []string{"kind", "action", "outcome"}),
		CommandRejections: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "aprueba_command_rejections_total",
			Help: "Command requests rejected because another command was pending.",
		}),
		CacheInvalidations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "aprueba_cache_invalidations_total",
			Help: "Kind-scoped cache invalidations after settled mutations.",
		}, []string{"kind"}),
		UpstreamFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "aprueba_upstream_failures_total",
			Help: "ERP calls that failed, by error class.",
		}, []string{"class"}),
		HTTPDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "aprueba_http_request_duration_seconds",
			Help:    "Dashboard API request latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "status"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.CommandOutcomes,
		m.CommandRejections,
		m.CacheInvalidations,
		m.UpstreamFailures,
		m.HTTPDuration,
	)
	return m
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

package worker

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type metrics struct {
	registry         *prometheus.Registry
	deletionsTotal   *prometheus.CounterVec
	deletionDuration *prometheus.HistogramVec
	activeJobs       prometheus.Gauge
}

func newMetrics() *metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &metrics{
		registry: registry,
		deletionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vintagebooth_worker_artifact_deletions_total",
			Help: "Total deferred artifact deletions by final status.",
		}, []string{"status"}),
		deletionDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "vintagebooth_worker_artifact_deletion_duration_seconds",
			Help:    "Duration of each deferred artifact deletion.",
			Buckets: prometheus.DefBuckets,
		}, []string{"status"}),
		activeJobs: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "vintagebooth_worker_active_jobs",
			Help: "Current number of deletions in progress.",
		}),
	}

	registry.MustRegister(
		m.deletionsTotal,
		m.deletionDuration,
		m.activeJobs,
	)
	return m
}

func (m *metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

package relay

import (
	"github.com/prometheus/client_golang/prometheus"
)

type metrics struct {
	transformsTotal   *prometheus.CounterVec
	transformDuration *prometheus.HistogramVec
	attemptsTotal     *prometheus.CounterVec
	inFlight          prometheus.Gauge
	artifactsCreated  prometheus.Counter
	artifactsDeleted  prometheus.Counter
	cleanupFailures   prometheus.Counter
	cleanupEnqueued   prometheus.Counter
}

func newMetrics() *metrics {
	return &metrics{
		transformsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vintagebooth_relay_transforms_total",
			Help: "Total transform requests by provider and outcome category.",
		}, []string{"provider", "outcome"}),
		transformDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "vintagebooth_relay_transform_duration_seconds",
			Help:    "End to end transform latency in seconds.",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 40, 80},
		}, []string{"provider", "outcome"}),
		attemptsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vintagebooth_relay_provider_attempts_total",
			Help: "Total provider calls including retries.",
		}, []string{"provider"}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "vintagebooth_relay_in_flight",
			Help: "Transforms currently holding a provider slot.",
		}),
		artifactsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "vintagebooth_relay_artifacts_created_total",
			Help: "Temporary artifacts staged in object storage.",
		}),
		artifactsDeleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "vintagebooth_relay_artifacts_deleted_total",
			Help: "Temporary artifacts deleted inline after a transform.",
		}),
		cleanupFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "vintagebooth_relay_artifact_cleanup_failures_total",
			Help: "Inline artifact deletions that failed.",
		}),
		cleanupEnqueued: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "vintagebooth_relay_artifact_cleanup_enqueued_total",
			Help: "Failed artifact deletions handed to the cleanup queue.",
		}),
	}
}

func (m *metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.transformsTotal,
		m.transformDuration,
		m.attemptsTotal,
		m.inFlight,
		m.artifactsCreated,
		m.artifactsDeleted,
		m.cleanupFailures,
		m.cleanupEnqueued,
	}
}

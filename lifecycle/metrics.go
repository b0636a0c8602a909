package lifecycle

import (
	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "memfixture"

type metrics struct {
	spawned  prometheus.Counter
	stopped  prometheus.Counter
	failures prometheus.Counter
	live     prometheus.Gauge

	registry *prometheus.Registry
}

func newMetrics() *metrics {
	m := &metrics{
		registry: prometheus.NewRegistry(),
	}

	m.spawned = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "servers_spawned_total",
			Help:      "Total number of cache servers started",
		},
	)

	m.stopped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "servers_stopped_total",
			Help:      "Total number of cache servers sent SIGTERM",
		},
	)

	m.failures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "spawn_failures_total",
			Help:      "Total number of failed or refused spawns",
		},
	)

	m.live = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "servers_live",
			Help:      "Cache servers started by this process and not yet stopped",
		},
	)

	m.registry.MustRegister(
		m.spawned,
		m.stopped,
		m.failures,
		m.live,
	)

	return m
}

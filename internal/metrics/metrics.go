// Package metrics exposes Prometheus collectors for the price stream.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ActiveConnections tracks currently registered stream connections.
	ActiveConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "pricepulse_active_connections",
			Help: "Currently registered stream connections",
		},
	)

	// ArmedJobs tracks currently armed polling jobs.
	ArmedJobs = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "pricepulse_armed_jobs",
			Help: "Currently armed price polling jobs",
		},
	)

	// SamplesTotal counts extracted price samples by status (ok/error).
	SamplesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pricepulse_samples_total",
			Help: "Price samples produced by the poll scheduler, by status",
		},
		[]string{"status"},
	)

	// DeliveriesTotal counts samples enqueued to stream connections.
	DeliveriesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pricepulse_deliveries_total",
			Help: "Samples delivered to stream connections",
		},
	)

	// EvictedConnectionsTotal counts connections removed after a delivery failure.
	EvictedConnectionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pricepulse_evicted_connections_total",
			Help: "Connections evicted because their delivery queue was full or closed",
		},
	)

	// KeepalivesTotal counts keepalive events emitted to clients.
	KeepalivesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pricepulse_keepalives_total",
			Help: "Keepalive events emitted to stream clients",
		},
	)

	// ExtractDuration tracks page fetch + extraction latency in seconds.
	ExtractDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "pricepulse_extract_duration_seconds",
			Help:    "Price extraction duration in seconds",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
	)
)

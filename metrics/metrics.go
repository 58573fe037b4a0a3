// Package metrics holds the process-wide Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/version"
)

const namespace = "radiotiker"

var (
	RelayRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "relay_requests_total",
		Help:      "Relay responses by delivery mode.",
	}, []string{"delivery"})

	RelayErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "relay_errors_total",
		Help:      "Relay failures by error kind.",
	}, []string{"kind"})

	RelayBytes = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "relay_bytes_total",
		Help:      "Bytes streamed to relay and transcode clients.",
	})

	RangeProbes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "range_probes_total",
		Help:      "Origin range-support probes by result.",
	}, []string{"result"})

	TranscodeSessions = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "transcode_sessions_active",
		Help:      "Live encoder processes currently running.",
	})

	CatalogUpserts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "catalog_upserts_total",
		Help:      "Accepted scan batches.",
	}, []string{"replace"})
)

func init() {
	prometheus.MustRegister(
		version.NewCollector(namespace),
		RelayRequests,
		RelayErrors,
		RelayBytes,
		RangeProbes,
		TranscodeSessions,
		CatalogUpserts,
	)
}

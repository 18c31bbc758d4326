// Package metrics provides the Prometheus registry shared by the connector.
// All metrics are defined in their respective packages (client, pagination,
// connector, snapshot) to keep those packages free of a common dependency.
//
// This package provides documentation and reference for all available metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is the default Prometheus registry used by the connector.
// All metrics are automatically registered via promauto in their respective packages.
var Registry = prometheus.DefaultRegisterer

// Gatherer is the gatherer matching Registry.
var Gatherer = prometheus.DefaultGatherer

// Handler serves every registered metric in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Gatherer, promhttp.HandlerOpts{})
}

// Metrics Documentation
//
// Request Metrics (pkg/client):
//   - aircall_requests_total{resource, status} (Counter): Gateway requests by resource and HTTP status
//   - aircall_request_duration_seconds{resource} (Histogram): Request duration by resource
//   - aircall_errors_total{class} (Counter): Errors by class (client, server, network)
//
// Walk Metrics (pkg/pagination):
//   - aircall_walk_pages (Histogram): Pages accumulated per completed walk
//   - aircall_walk_duration_seconds (Histogram): Walk duration
//   - aircall_walk_truncations_total (Counter): Walks stopped by the page limit
//   - aircall_walk_failures_total (Counter): Walks aborted by a failed page
//
// Connector Metrics (pkg/connector):
//   - aircall_acquisitions_total{dataset, status} (Counter): Acquisitions by outcome
//   - aircall_acquisition_duration_seconds{dataset} (Histogram): Time until all walks joined
//   - aircall_rows_assembled{dataset} (Gauge): Rows in the last assembled table
//
// Snapshot Metrics (pkg/snapshot):
//   - aircall_snapshot_operations_total{operation, status} (Counter): Store operations
//   - aircall_snapshot_size_bytes{dataset} (Gauge): Encoded size of the last saved snapshot
//
// Example Prometheus Queries:
//
//   # Acquisition Failure Rate
//   sum(rate(aircall_acquisitions_total{status="error"}[5m])) /
//   sum(rate(aircall_acquisitions_total[5m]))
//
//   # Share of walks cut by the page limit
//   rate(aircall_walk_truncations_total[1h]) / rate(aircall_walk_pages_count[1h])
//
//   # P95 Request Latency
//   histogram_quantile(0.95, rate(aircall_request_duration_seconds_bucket[5m]))

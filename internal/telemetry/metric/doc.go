// Package metric provides Prometheus metrics for tokvaultd.
//
// This package implements metrics collection and exposition:
//
//   - prometheus.go: request counters/histograms and the storage/
//     connection Collector
//
// Metrics include:
//
//   - Request latency histograms, by protocol
//   - Request counters, by protocol/method/status
//   - Storage key counts (strings, lists)
//   - Active connection count
//
// Metrics are exposed at /metrics in Prometheus format via promhttp.
//
// @req RQ-0403
// @design DS-0402
package metric

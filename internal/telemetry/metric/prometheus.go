// Package metric provides Prometheus metrics for tokvaultd.
//
// It exposes request counters/histograms (recorded by HTTP middleware
// and the line protocol server) and a Collector that samples the
// storage engine and connection state on each /metrics scrape.
package metric

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// RequestsTotal counts served requests by protocol, method, and outcome.
var RequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "tokvaultd_requests_total",
	Help: "Total requests served, by protocol, method, and status.",
}, []string{"protocol", "method", "status"})

// RequestDuration observes request latency in seconds, by protocol.
var RequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Name:    "tokvaultd_request_duration_seconds",
	Help:    "Request latency in seconds, by protocol.",
	Buckets: prometheus.DefBuckets,
}, []string{"protocol"})

// StorageSource is sampled by Collector on each scrape.
type StorageSource interface {
	Dump() (map[string]string, map[string][]string)
}

// Collector reports storage and connection gauges alongside the
// request counters above. Registered once against the default
// registry in cmd/tokvaultd-server.
type Collector struct {
	storage         StorageSource
	activeConns     func() int
	stringKeys      *prometheus.Desc
	listKeys        *prometheus.Desc
	activeConnsDesc *prometheus.Desc
}

// NewCollector builds a Collector sampling storage and activeConns.
// activeConns may be nil, in which case the connections gauge reads 0.
func NewCollector(storage StorageSource, activeConns func() int) *Collector {
	if activeConns == nil {
		activeConns = func() int { return 0 }
	}
	return &Collector{
		storage:     storage,
		activeConns: activeConns,
		stringKeys: prometheus.NewDesc(
			"tokvaultd_string_keys", "Number of string keys in the storage engine.", nil, nil),
		listKeys: prometheus.NewDesc(
			"tokvaultd_list_keys", "Number of list keys in the storage engine.", nil, nil),
		activeConnsDesc: prometheus.NewDesc(
			"tokvaultd_active_connections", "Number of active line-protocol connections.", nil, nil),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.stringKeys
	ch <- c.listKeys
	ch <- c.activeConnsDesc
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	strs, lists := c.storage.Dump()
	ch <- prometheus.MustNewConstMetric(c.stringKeys, prometheus.GaugeValue, float64(len(strs)))
	ch <- prometheus.MustNewConstMetric(c.listKeys, prometheus.GaugeValue, float64(len(lists)))
	ch <- prometheus.MustNewConstMetric(c.activeConnsDesc, prometheus.GaugeValue, float64(c.activeConns()))
}

// Register registers a Collector sampling storage and activeConns
// against reg and returns it.
func Register(reg prometheus.Registerer, storage StorageSource, activeConns func() int) *Collector {
	c := NewCollector(storage, activeConns)
	reg.MustRegister(c)
	return c
}

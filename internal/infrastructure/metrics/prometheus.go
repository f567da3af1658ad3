package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusExporter exports metrics to Prometheus format.
type PrometheusExporter struct {
	collector *Collector

	cacheHits        *prometheus.CounterVec
	cacheMisses      *prometheus.CounterVec
	cacheHitRate     prometheus.Gauge
	cacheKeys        prometheus.Gauge
	cacheMemoryBytes prometheus.Gauge
	cacheEvictions   prometheus.Gauge
	traversalRows    *prometheus.HistogramVec
	grpcRequests     *prometheus.CounterVec
	grpcDuration     *prometheus.HistogramVec
	grpcErrors       *prometheus.CounterVec
}

// NewPrometheusExporter creates a new Prometheus exporter registered with reg.
// A nil reg uses the default registerer.
func NewPrometheusExporter(collector *Collector, reg prometheus.Registerer) *PrometheusExporter {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)

	return &PrometheusExporter{
		collector: collector,
		cacheHits: f.NewCounterVec(prometheus.CounterOpts{
			Name: "provgraph_traversal_cache_hits_total",
			Help: "Total number of traversal cache hits",
		}, []string{"operation"}),
		cacheMisses: f.NewCounterVec(prometheus.CounterOpts{
			Name: "provgraph_traversal_cache_misses_total",
			Help: "Total number of traversal cache misses",
		}, []string{"operation"}),
		cacheHitRate: f.NewGauge(prometheus.GaugeOpts{
			Name: "provgraph_traversal_cache_hit_rate",
			Help: "Current cache hit rate (0.0 to 1.0)",
		}),
		cacheKeys: f.NewGauge(prometheus.GaugeOpts{
			Name: "provgraph_traversal_cache_keys_current",
			Help: "Current number of keys in the traversal cache",
		}),
		cacheMemoryBytes: f.NewGauge(prometheus.GaugeOpts{
			Name: "provgraph_traversal_cache_memory_bytes",
			Help: "Current memory usage of the traversal cache in bytes",
		}),
		cacheEvictions: f.NewGauge(prometheus.GaugeOpts{
			Name: "provgraph_traversal_cache_evictions",
			Help: "Number of cache evictions due to memory limits since start",
		}),
		traversalRows: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "provgraph_traversal_rows",
			Help:    "Rows returned per traversal",
			Buckets: prometheus.ExponentialBuckets(1, 4, 8),
		}, []string{"operation"}),
		grpcRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "provgraph_grpc_requests_total",
			Help: "Total number of gRPC requests",
		}, []string{"method"}),
		grpcDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "provgraph_grpc_request_duration_seconds",
			Help:    "Duration of gRPC requests in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 5.0, 10.0},
		}, []string{"method"}),
		grpcErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "provgraph_grpc_errors_total",
			Help: "Total number of gRPC errors",
		}, []string{"method", "code"}),
	}
}

// Update updates Gauge metrics from the collector.
// This should be called periodically (e.g., every 10 seconds).
func (e *PrometheusExporter) Update() {
	cacheMetrics := e.collector.GetCacheMetrics()
	e.cacheHitRate.Set(cacheMetrics.HitRate)
	e.cacheKeys.Set(float64(cacheMetrics.KeysCurrent))
	e.cacheMemoryBytes.Set(float64(cacheMetrics.MemoryBytes))
	e.cacheEvictions.Set(float64(cacheMetrics.Evictions))
}

// RecordRequest records a request in Prometheus.
func (e *PrometheusExporter) RecordRequest(method string) {
	e.grpcRequests.WithLabelValues(method).Inc()
}

// RecordDuration records a duration in Prometheus.
func (e *PrometheusExporter) RecordDuration(method string, durationSeconds float64) {
	e.grpcDuration.WithLabelValues(method).Observe(durationSeconds)
}

// RecordError records an error with its status code in Prometheus.
func (e *PrometheusExporter) RecordError(method, code string) {
	e.grpcErrors.WithLabelValues(method, code).Inc()
}

// ObserveTraversal records the row count of a traversal and whether it was served from cache.
func (e *PrometheusExporter) ObserveTraversal(operation string, rows int, cached bool) {
	e.traversalRows.WithLabelValues(operation).Observe(float64(rows))
	if cached {
		e.cacheHits.WithLabelValues(operation).Inc()
	} else {
		e.cacheMisses.WithLabelValues(operation).Inc()
	}
	e.collector.ObserveTraversal(operation, rows, cached)
}

var (
	_ Recorder = (*Collector)(nil)
	_ Recorder = (*PrometheusExporter)(nil)
)

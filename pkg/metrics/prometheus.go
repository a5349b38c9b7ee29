// Package metrics provides Prometheus metrics for the onebest ranking service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Manager manages all Prometheus metrics for the ranking engine.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	registry         prometheus.Registerer

	// Core business metrics
	mutationsTotal   *prometheus.CounterVec
	mutationErrors   *prometheus.CounterVec
	rowsShifted      prometheus.Counter
	historyEntries   prometheus.Counter
	recomputesTotal  prometheus.Counter
	recomputeLatency prometheus.Histogram
	recomputesQueued prometheus.Counter
	coalescedJobs    prometheus.Counter
	trackedDishes    prometheus.Gauge

	// Store metrics
	storeApplyLatency prometheus.Histogram
	storeQueryLatency prometheus.Histogram

	// Queue metrics
	queueSize        prometheus.Gauge
	queueCapacity    prometheus.Gauge
	queueUtilization prometheus.Gauge
	queueEnqueues    prometheus.Counter
	queueDequeues    prometheus.Counter
	queueDropped     prometheus.Counter

	// Worker metrics
	workerCount      prometheus.Gauge
	workerErrors     prometheus.Counter
	workerJobLatency prometheus.Histogram

	// HTTP metrics
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// Error tracking
	errorsByComponent *prometheus.CounterVec
}

// Global metrics manager instance.
var globalManager *Manager //nolint:gochecknoglobals // intentional global for singleton metrics manager

// Custom registry to avoid default Go metrics.
var customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // intentional global for metrics registry

// Initialize global metrics.
func init() { //nolint:gochecknoinits // intentional init for global metrics setup
	globalManager = NewManager(WithPrometheusRegistry(customRegistry))
}

// NewManager creates a new metrics manager with default configuration.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "onebest",
		subsystem:        "ranking",
		histogramBuckets: prometheus.DefBuckets,
		registry:         prometheus.DefaultRegisterer,
	}

	for _, opt := range opts {
		opt(m)
	}

	m.initializeMetrics()

	return m
}

// initializeMetrics creates all the Prometheus metrics.
func (m *Manager) initializeMetrics() {
	auto := promauto.With(m.registry)

	m.mutationsTotal = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "mutations_total",
		Help:      "Total number of rank mutations by operation",
	}, []string{"op"})

	m.mutationErrors = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "mutation_errors_total",
		Help:      "Total number of rejected rank mutations by kind",
	}, []string{"kind"})

	m.rowsShifted = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "rows_shifted_total",
		Help:      "Total number of ranking rows whose rank changed during shifts",
	})

	m.historyEntries = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "history_entries_total",
		Help:      "Total number of history ledger entries appended",
	})

	m.recomputesTotal = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "aggregate_recomputes_total",
		Help:      "Total number of per-dish aggregate recomputations",
	})

	m.recomputeLatency = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "aggregate_recompute_latency_milliseconds",
		Help:      "Histogram of aggregate recomputation latency in milliseconds",
		Buckets:   m.histogramBuckets,
	})

	m.recomputesQueued = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "aggregate_recomputes_queued_total",
		Help:      "Total number of recompute jobs enqueued",
	})

	m.coalescedJobs = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "aggregate_recomputes_coalesced_total",
		Help:      "Total number of recompute jobs coalesced into an already-pending job",
	})

	m.trackedDishes = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "tracked_dishes",
		Help:      "Number of dishes with a stored aggregate",
	})

	m.storeApplyLatency = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "store_apply_latency_milliseconds",
		Help:      "Histogram of atomic mutation apply latency in milliseconds",
		Buckets:   m.histogramBuckets,
	})

	m.storeQueryLatency = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "store_query_latency_milliseconds",
		Help:      "Histogram of store read latency in milliseconds",
		Buckets:   m.histogramBuckets,
	})

	m.queueSize = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "recompute_queue_size",
		Help:      "Current size of the recompute job queue",
	})

	m.queueCapacity = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "recompute_queue_capacity",
		Help:      "Maximum capacity of the recompute job queue",
	})

	m.queueUtilization = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "recompute_queue_utilization",
		Help:      "Recompute queue fill ratio between 0 and 1",
	})

	m.queueEnqueues = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "recompute_queue_enqueues_total",
		Help:      "Total number of jobs accepted by the recompute queue",
	})

	m.queueDequeues = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "recompute_queue_dequeues_total",
		Help:      "Total number of jobs handed to workers",
	})

	m.queueDropped = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "recompute_queue_dropped_total",
		Help:      "Total number of jobs rejected by a full or closed queue",
	})

	m.workerCount = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "worker_count",
		Help:      "Number of recompute workers",
	})

	m.workerErrors = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "worker_errors_total",
		Help:      "Total number of recompute worker failures",
	})

	m.workerJobLatency = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "worker_job_latency_milliseconds",
		Help:      "Histogram of end-to-end recompute job latency in milliseconds",
		Buckets:   m.histogramBuckets,
	})

	m.httpRequests = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "http_requests_total",
		Help:      "Total number of HTTP requests by endpoint and method",
	}, []string{"endpoint", "method", "status_code"})

	m.httpRequestDuration = auto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "http_request_duration_milliseconds",
		Help:      "HTTP request duration in milliseconds",
		Buckets:   m.histogramBuckets,
	}, []string{"endpoint", "method", "status_code"})

	m.errorsByComponent = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "errors_total",
		Help:      "Total errors by component and error type",
	}, []string{"component", "error_type"})
}

// RecordMutation increments the mutation counter for an operation ("upsert", "remove").
func RecordMutation(op string) {
	globalManager.mutationsTotal.WithLabelValues(op).Inc()
}

// RecordMutationError increments the rejected mutation counter for an error kind.
func RecordMutationError(kind string) {
	globalManager.mutationErrors.WithLabelValues(kind).Inc()
}

// RecordRowsShifted adds the number of rows whose rank changed in one mutation.
func RecordRowsShifted(n int) {
	globalManager.rowsShifted.Add(float64(n))
}

// RecordHistoryEntries adds the number of ledger entries appended in one mutation.
func RecordHistoryEntries(n int) {
	globalManager.historyEntries.Add(float64(n))
}

// RecordRecompute increments the aggregate recomputation counter.
func RecordRecompute() {
	globalManager.recomputesTotal.Inc()
}

// RecordRecomputeLatency records aggregate recomputation latency in milliseconds.
func RecordRecomputeLatency(latencyMs float64) {
	globalManager.recomputeLatency.Observe(latencyMs)
}

// RecordRecomputeQueued increments the queued recompute job counter.
func RecordRecomputeQueued() {
	globalManager.recomputesQueued.Inc()
}

// RecordRecomputeCoalesced increments the coalesced recompute job counter.
func RecordRecomputeCoalesced() {
	globalManager.coalescedJobs.Inc()
}

// UpdateTrackedDishes sets the number of dishes with a stored aggregate.
func UpdateTrackedDishes(count int) {
	globalManager.trackedDishes.Set(float64(count))
}

// RecordStoreApplyLatency records atomic mutation apply latency in milliseconds.
func RecordStoreApplyLatency(latencyMs float64) {
	globalManager.storeApplyLatency.Observe(latencyMs)
}

// RecordStoreQueryLatency records store read latency in milliseconds.
func RecordStoreQueryLatency(latencyMs float64) {
	globalManager.storeQueryLatency.Observe(latencyMs)
}

// UpdateQueueSize sets the current recompute queue size.
func UpdateQueueSize(size int) {
	globalManager.queueSize.Set(float64(size))
}

// UpdateQueueCapacity sets the recompute queue capacity.
func UpdateQueueCapacity(capacity int) {
	globalManager.queueCapacity.Set(float64(capacity))
}

// UpdateQueueUtilization sets the recompute queue fill ratio.
func UpdateQueueUtilization(utilization float64) {
	globalManager.queueUtilization.Set(utilization)
}

// RecordQueueEnqueue increments the enqueue counter.
func RecordQueueEnqueue() {
	globalManager.queueEnqueues.Inc()
}

// RecordQueueDequeue increments the dequeue counter.
func RecordQueueDequeue() {
	globalManager.queueDequeues.Inc()
}

// RecordQueueDropped increments the dropped job counter.
func RecordQueueDropped() {
	globalManager.queueDropped.Inc()
}

// UpdateWorkerCount sets the recompute worker count.
func UpdateWorkerCount(count int) {
	globalManager.workerCount.Set(float64(count))
}

// RecordWorkerError increments the worker failure counter.
func RecordWorkerError() {
	globalManager.workerErrors.Inc()
}

// RecordWorkerJobLatency records end-to-end recompute job latency in milliseconds.
func RecordWorkerJobLatency(latencyMs float64) {
	globalManager.workerJobLatency.Observe(latencyMs)
}

// RecordHTTPRequest records an HTTP request.
func RecordHTTPRequest(endpoint, method, statusCode string) {
	globalManager.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
}

// RecordHTTPRequestDuration records HTTP request duration.
func RecordHTTPRequestDuration(endpoint, method, statusCode string, duration float64) {
	globalManager.httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(duration)
}

// RecordErrorByComponent records an error with component and type labels.
func RecordErrorByComponent(component, errorType string) {
	globalManager.errorsByComponent.WithLabelValues(component, errorType).Inc()
}

// GetRegistry returns the custom Prometheus registry used by our metrics.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}

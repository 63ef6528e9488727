// Package metrics provides Prometheus metrics for the rally scoring service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	defaultNamespace = "rally"
	subsystem        = "scoring"
)

// Latency buckets in milliseconds.
var latencyBuckets = []float64{0.1, 0.5, 1, 2, 5, 10, 25, 50, 100, 250, 500, 1000} //nolint:gochecknoglobals // read-only bucket layout

// Manager manages all Prometheus metrics for the rally service.
type Manager struct {
	namespace string
	enabled   bool
	registry  prometheus.Registerer

	// Core scoring metrics
	operations       *prometheus.CounterVec
	operationLatency *prometheus.HistogramVec
	pointsApplied    *prometheus.CounterVec
	setsFinished     prometheus.Counter
	matchesFinished  prometheus.Counter
	matchesCreated   prometheus.Counter
	budgetRejections *prometheus.CounterVec
	writeConflicts   prometheus.Counter
	writeRetries     *prometheus.CounterVec
	activeMatches    prometheus.Gauge
	totalMatches     prometheus.Gauge

	// Repository metrics
	storeLatency *prometheus.HistogramVec
	storeErrors  *prometheus.CounterVec

	// HTTP performance metrics
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// Queue metrics
	queueSize              prometheus.Gauge
	queueCapacity          prometheus.Gauge
	queueUtilization       prometheus.Gauge
	queueEnqueue           prometheus.Counter
	queueDequeue           prometheus.Counter
	queueEnqueueErrors     prometheus.Counter
	queueProcessingLatency prometheus.Histogram

	// Worker metrics
	workerCount             prometheus.Gauge
	workerActiveCount       prometheus.Gauge
	workerMessagesPerSecond prometheus.Gauge
	workerProcessingLatency prometheus.Histogram
	workerErrors            prometheus.Counter

	// Notification metrics
	notifySubscribers prometheus.Gauge
	notifyDelivered   prometheus.Counter
	notifyDropped     prometheus.Counter
	viewerRefreshes   *prometheus.CounterVec

	// Error metrics
	errorRateByComponent *prometheus.CounterVec
	errorRateByEndpoint  *prometheus.CounterVec

	// System metrics
	systemMemoryUsage    prometheus.Gauge
	systemGoroutineCount prometheus.Gauge
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
		namespace: defaultNamespace,
		enabled:   true,
		registry:  prometheus.DefaultRegisterer,
	}

	// Apply all options
	for _, opt := range opts {
		opt(m)
	}

	m.initializeMetrics()

	return m
}

// Enabled reports whether recording is active.
func (m *Manager) Enabled() bool { return m.enabled }

func (m *Manager) counterOpts(name, help string) prometheus.CounterOpts {
	return prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: subsystem, Name: name, Help: help,
	}
}

func (m *Manager) gaugeOpts(name, help string) prometheus.GaugeOpts {
	return prometheus.GaugeOpts{
		Namespace: m.namespace, Subsystem: subsystem, Name: name, Help: help,
	}
}

func (m *Manager) histogramOpts(name, help string) prometheus.HistogramOpts {
	return prometheus.HistogramOpts{
		Namespace: m.namespace, Subsystem: subsystem, Name: name, Help: help,
		Buckets: latencyBuckets,
	}
}

// initializeMetrics creates all the Prometheus metrics.
func (m *Manager) initializeMetrics() { //nolint:funlen // long function required for comprehensive metrics initialization
	auto := promauto.With(m.registry)

	m.operations = auto.NewCounterVec(
		m.counterOpts("operations_total", "Scoring operations by name and outcome"),
		[]string{"operation", "outcome"},
	)
	m.operationLatency = auto.NewHistogramVec(
		m.histogramOpts("operation_latency_milliseconds", "End to end latency of scoring operations in milliseconds"),
		[]string{"operation"},
	)
	m.pointsApplied = auto.NewCounterVec(
		m.counterOpts("points_applied_total", "Point events accepted, by sport and direction"),
		[]string{"sport", "direction"},
	)
	m.setsFinished = auto.NewCounter(m.counterOpts("sets_finished_total", "Sets that reached their win condition"))
	m.matchesFinished = auto.NewCounter(m.counterOpts("matches_finished_total", "Matches decided by a strict majority of sets"))
	m.matchesCreated = auto.NewCounter(m.counterOpts("matches_created_total", "Matches scheduled"))
	m.budgetRejections = auto.NewCounterVec(
		m.counterOpts("budget_rejections_total", "Timeout and substitution requests refused by the ledger"),
		[]string{"kind"},
	)
	m.writeConflicts = auto.NewCounter(m.counterOpts("write_conflicts_total", "Conditional writes rejected for a stale version"))
	m.writeRetries = auto.NewCounterVec(
		m.counterOpts("write_retries_total", "Write attempts retried, by reason"),
		[]string{"reason"},
	)
	m.activeMatches = auto.NewGauge(m.gaugeOpts("active_matches", "Matches not yet finished"))
	m.totalMatches = auto.NewGauge(m.gaugeOpts("matches", "Matches held by the store"))

	m.storeLatency = auto.NewHistogramVec(
		m.histogramOpts("store_latency_milliseconds", "Store call latency in milliseconds"),
		[]string{"driver", "op"},
	)
	m.storeErrors = auto.NewCounterVec(
		m.counterOpts("store_errors_total", "Store calls that failed, by driver, op and kind"),
		[]string{"driver", "op", "kind"},
	)

	m.httpRequests = auto.NewCounterVec(
		m.counterOpts("http_requests_total", "Total number of HTTP requests by endpoint and method"),
		[]string{"endpoint", "method", "status_code"},
	)
	m.httpRequestDuration = auto.NewHistogramVec(
		m.histogramOpts("http_request_duration_milliseconds", "HTTP request duration in milliseconds"),
		[]string{"endpoint", "method", "status_code"},
	)

	m.queueSize = auto.NewGauge(m.gaugeOpts("queue_size", "Change notices waiting for dispatch"))
	m.queueCapacity = auto.NewGauge(m.gaugeOpts("queue_capacity", "Maximum capacity of the change queue"))
	m.queueUtilization = auto.NewGauge(m.gaugeOpts("queue_utilization_ratio", "Change queue fill ratio (0-1)"))
	m.queueEnqueue = auto.NewCounter(m.counterOpts("queue_enqueue_total", "Change notices enqueued"))
	m.queueDequeue = auto.NewCounter(m.counterOpts("queue_dequeue_total", "Change notices dequeued"))
	m.queueEnqueueErrors = auto.NewCounter(m.counterOpts("queue_enqueue_errors_total", "Change notices dropped at enqueue"))
	m.queueProcessingLatency = auto.NewHistogram(m.histogramOpts("queue_processing_latency_milliseconds", "Enqueue latency in milliseconds"))

	m.workerCount = auto.NewGauge(m.gaugeOpts("worker_count", "Configured dispatch workers"))
	m.workerActiveCount = auto.NewGauge(m.gaugeOpts("worker_active_count", "Dispatch workers currently running"))
	m.workerMessagesPerSecond = auto.NewGauge(m.gaugeOpts("worker_messages_per_second", "Change notices dispatched per second"))
	m.workerProcessingLatency = auto.NewHistogram(m.histogramOpts("worker_processing_latency_milliseconds", "Dispatch latency per change notice in milliseconds"))
	m.workerErrors = auto.NewCounter(m.counterOpts("worker_errors_total", "Dispatch failures"))

	m.notifySubscribers = auto.NewGauge(m.gaugeOpts("notify_subscribers", "Open change subscriptions"))
	m.notifyDelivered = auto.NewCounter(m.counterOpts("notify_delivered_total", "Change notices delivered to subscribers"))
	m.notifyDropped = auto.NewCounter(m.counterOpts("notify_dropped_total", "Change notices coalesced because a subscriber was behind"))
	m.viewerRefreshes = auto.NewCounterVec(
		m.counterOpts("viewer_refreshes_total", "Viewer snapshot refreshes by outcome"),
		[]string{"outcome"},
	)

	m.errorRateByComponent = auto.NewCounterVec(
		m.counterOpts("errors_by_component_total", "Errors by component and type"),
		[]string{"component", "error_type"},
	)
	m.errorRateByEndpoint = auto.NewCounterVec(
		m.counterOpts("errors_by_endpoint_total", "Errors by HTTP endpoint and type"),
		[]string{"endpoint", "method", "error_type"},
	)

	m.systemMemoryUsage = auto.NewGauge(m.gaugeOpts("system_memory_bytes", "Heap memory in use in bytes"))
	m.systemGoroutineCount = auto.NewGauge(m.gaugeOpts("system_goroutines", "Number of goroutines"))
}

// Core scoring metrics.

// RecordOperation records the outcome and latency of a scoring operation.
func RecordOperation(operation, outcome string, latencyMs float64) {
	if !globalManager.enabled {
		return
	}
	globalManager.operations.WithLabelValues(operation, outcome).Inc()
	globalManager.operationLatency.WithLabelValues(operation).Observe(latencyMs)
}

// RecordPointApplied counts an accepted point event.
func RecordPointApplied(sport string, delta int) {
	if !globalManager.enabled {
		return
	}
	direction := "add"
	if delta < 0 {
		direction = "remove"
	}
	globalManager.pointsApplied.WithLabelValues(sport, direction).Inc()
}

// RecordSetFinished increments the finished sets counter.
func RecordSetFinished() {
	if globalManager.enabled {
		globalManager.setsFinished.Inc()
	}
}

// RecordMatchFinished increments the finished matches counter.
func RecordMatchFinished() {
	if globalManager.enabled {
		globalManager.matchesFinished.Inc()
	}
}

// RecordMatchCreated increments the created matches counter.
func RecordMatchCreated() {
	if globalManager.enabled {
		globalManager.matchesCreated.Inc()
	}
}

// RecordBudgetRejection counts a ledger refusal for kind (timeout or substitution).
func RecordBudgetRejection(kind string) {
	if globalManager.enabled {
		globalManager.budgetRejections.WithLabelValues(kind).Inc()
	}
}

// RecordWriteConflict counts a stale-version commit.
func RecordWriteConflict() {
	if globalManager.enabled {
		globalManager.writeConflicts.Inc()
	}
}

// RecordWriteRetry counts a retried write attempt.
func RecordWriteRetry(reason string) {
	if globalManager.enabled {
		globalManager.writeRetries.WithLabelValues(reason).Inc()
	}
}

// UpdateMatchCounts sets the active and total match gauges.
func UpdateMatchCounts(active, total int) {
	globalManager.activeMatches.Set(float64(active))
	globalManager.totalMatches.Set(float64(total))
}

// Repository metrics.

// RecordStoreLatency records the latency of a store call.
func RecordStoreLatency(driver, op string, latencyMs float64) {
	if globalManager.enabled {
		globalManager.storeLatency.WithLabelValues(driver, op).Observe(latencyMs)
	}
}

// RecordStoreError counts a failed store call.
func RecordStoreError(driver, op, kind string) {
	if globalManager.enabled {
		globalManager.storeErrors.WithLabelValues(driver, op, kind).Inc()
	}
}

// HTTP metrics.

// RecordHTTPRequest records an HTTP request.
func RecordHTTPRequest(endpoint, method, statusCode string) {
	if globalManager.enabled {
		globalManager.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
	}
}

// RecordHTTPRequestDuration records HTTP request duration.
func RecordHTTPRequestDuration(endpoint, method, statusCode string, duration float64) {
	if globalManager.enabled {
		globalManager.httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(duration)
	}
}

// Queue metrics.

// UpdateQueueSize sets the current queue size.
func UpdateQueueSize(size int) {
	globalManager.queueSize.Set(float64(size))
}

// UpdateQueueCapacity sets the queue capacity.
func UpdateQueueCapacity(capacity int) {
	globalManager.queueCapacity.Set(float64(capacity))
}

// UpdateQueueUtilization sets the queue fill ratio.
func UpdateQueueUtilization(utilization float64) {
	globalManager.queueUtilization.Set(utilization)
}

// RecordQueueEnqueue increments the enqueue counter.
func RecordQueueEnqueue() {
	if globalManager.enabled {
		globalManager.queueEnqueue.Inc()
	}
}

// RecordQueueDequeue increments the dequeue counter.
func RecordQueueDequeue() {
	if globalManager.enabled {
		globalManager.queueDequeue.Inc()
	}
}

// RecordQueueEnqueueError increments the enqueue error counter.
func RecordQueueEnqueueError() {
	if globalManager.enabled {
		globalManager.queueEnqueueErrors.Inc()
	}
}

// RecordQueueProcessingLatency records enqueue latency.
func RecordQueueProcessingLatency(latencyMs float64) {
	if globalManager.enabled {
		globalManager.queueProcessingLatency.Observe(latencyMs)
	}
}

// Worker metrics.

// UpdateWorkerCount sets the configured worker count.
func UpdateWorkerCount(count int) {
	globalManager.workerCount.Set(float64(count))
}

// UpdateWorkerActiveCount sets the number of running workers.
func UpdateWorkerActiveCount(count int) {
	globalManager.workerActiveCount.Set(float64(count))
}

// UpdateWorkerMessagesPerSecond sets the dispatch rate.
func UpdateWorkerMessagesPerSecond(rate float64) {
	globalManager.workerMessagesPerSecond.Set(rate)
}

// RecordWorkerProcessingLatency records dispatch latency.
func RecordWorkerProcessingLatency(latencyMs float64) {
	if globalManager.enabled {
		globalManager.workerProcessingLatency.Observe(latencyMs)
	}
}

// RecordWorkerError increments the worker error counter.
func RecordWorkerError() {
	if globalManager.enabled {
		globalManager.workerErrors.Inc()
	}
}

// Notification metrics.

// UpdateNotifySubscribers sets the number of open subscriptions.
func UpdateNotifySubscribers(count int) {
	globalManager.notifySubscribers.Set(float64(count))
}

// RecordNotifyDelivered counts a delivered change notice.
func RecordNotifyDelivered() {
	if globalManager.enabled {
		globalManager.notifyDelivered.Inc()
	}
}

// RecordNotifyDropped counts a coalesced change notice.
func RecordNotifyDropped() {
	if globalManager.enabled {
		globalManager.notifyDropped.Inc()
	}
}

// RecordViewerRefresh counts a viewer refresh by outcome (ok, error).
func RecordViewerRefresh(outcome string) {
	if globalManager.enabled {
		globalManager.viewerRefreshes.WithLabelValues(outcome).Inc()
	}
}

// Error metrics.

// RecordErrorByComponent records an error by component and type.
func RecordErrorByComponent(component, errorType string) {
	if globalManager.enabled {
		globalManager.errorRateByComponent.WithLabelValues(component, errorType).Inc()
	}
}

// RecordErrorByEndpoint records an error by endpoint.
func RecordErrorByEndpoint(endpoint, method, errorType string) {
	if globalManager.enabled {
		globalManager.errorRateByEndpoint.WithLabelValues(endpoint, method, errorType).Inc()
	}
}

// System metrics.

// UpdateSystemMemoryUsage sets heap memory in use.
func UpdateSystemMemoryUsage(bytes uint64) {
	globalManager.systemMemoryUsage.Set(float64(bytes))
}

// UpdateSystemGoroutineCount sets the goroutine gauge.
func UpdateSystemGoroutineCount(count int) {
	globalManager.systemGoroutineCount.Set(float64(count))
}

// Configure rebuilds the global manager on a fresh registry. Call it once at
// startup, before any handler captures GetRegistry.
func Configure(opts ...Option) *Manager {
	customRegistry = prometheus.NewRegistry()
	globalManager = NewManager(append([]Option{WithPrometheusRegistry(customRegistry)}, opts...)...)
	return globalManager
}

// GetRegistry returns the custom Prometheus registry used by our metrics.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}

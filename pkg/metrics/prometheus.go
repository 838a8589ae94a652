// Package metrics provides Prometheus metrics for the tempo score engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Manager manages all Prometheus metrics for the tempo service.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	registry         prometheus.Registerer

	// Correlation metrics
	feedEvents     *prometheus.CounterVec
	pendingMatches prometheus.Gauge
	settlements    *prometheus.CounterVec

	// Tracking metrics
	trackResults         *prometheus.CounterVec
	trackLatency         prometheus.Histogram
	validationRejections prometheus.Counter
	scoresArchived       prometheus.Counter

	// Cascade metrics
	cascadeRuns          *prometheus.CounterVec
	cascadeChartsSeen    *prometheus.CounterVec
	cascadeChartsChanged *prometheus.CounterVec
	cascadeScoresUpdated *prometheus.CounterVec
	cascadeChartFailures prometheus.Counter

	// Lookup metrics
	lookupRequests prometheus.Counter
	lookupErrors   prometheus.Counter

	// Queue and worker metrics
	queueDepth         prometheus.Gauge
	queueCapacity      prometheus.Gauge
	queueEnqueues      prometheus.Counter
	queueDequeues      prometheus.Counter
	queueEnqueueErrors prometheus.Counter
	workerCount        prometheus.Gauge
	workerErrors       prometheus.Counter

	// Store metrics
	storeCharts prometheus.Gauge
}

// Global metrics manager instance.
var globalManager *Manager //nolint:gochecknoglobals // intentional global for singleton metrics manager

// Custom registry to avoid default Go metrics.
var customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // intentional global for metrics registry

func init() { //nolint:gochecknoinits // intentional init for global metrics setup
	globalManager = NewManager(WithRegistry(customRegistry))
}

// NewManager creates a new metrics manager with default configuration.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "tempo",
		subsystem:        "scores",
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

	m.feedEvents = auto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.namespace,
			Subsystem: m.subsystem,
			Name:      "feed_events_total",
			Help:      "Total feed events received, by source",
		},
		[]string{"source"},
	)

	m.pendingMatches = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "pending_matches",
		Help:      "Correlation matches currently waiting for a counterpart",
	})

	m.settlements = auto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.namespace,
			Subsystem: m.subsystem,
			Name:      "settlements_total",
			Help:      "Settled correlation matches, by outcome (paired/timeout)",
		},
		[]string{"outcome"},
	)

	m.trackResults = auto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.namespace,
			Subsystem: m.subsystem,
			Name:      "track_results_total",
			Help:      "Tracked score outcomes, by status (new/duplicate/improved)",
		},
		[]string{"status"},
	)

	m.trackLatency = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "track_latency_milliseconds",
		Help:      "Histogram of score tracking latency in milliseconds",
		Buckets:   m.histogramBuckets,
	})

	m.validationRejections = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "validation_rejections_total",
		Help:      "Candidates rejected for missing required discriminators",
	})

	m.scoresArchived = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "scores_archived_total",
		Help:      "Superseded scores snapshotted into the archive",
	})

	m.cascadeRuns = auto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.namespace,
			Subsystem: m.subsystem,
			Name:      "cascade_runs_total",
			Help:      "Ranking refresh runs, by kind",
		},
		[]string{"kind"},
	)

	m.cascadeChartsSeen = auto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.namespace,
			Subsystem: m.subsystem,
			Name:      "cascade_charts_seen_total",
			Help:      "Charts walked by ranking refreshes, by kind",
		},
		[]string{"kind"},
	)

	m.cascadeChartsChanged = auto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.namespace,
			Subsystem: m.subsystem,
			Name:      "cascade_charts_changed_total",
			Help:      "Charts whose ranking state changed, by kind",
		},
		[]string{"kind"},
	)

	m.cascadeScoresUpdated = auto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.namespace,
			Subsystem: m.subsystem,
			Name:      "cascade_scores_updated_total",
			Help:      "Score rows rewritten by ranking refreshes, by kind",
		},
		[]string{"kind"},
	)

	m.cascadeChartFailures = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "cascade_chart_failures_total",
		Help:      "Charts skipped by ranking refreshes due to errors",
	})

	m.lookupRequests = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "lookup_requests_total",
		Help:      "Requests issued to the chart rating upstream",
	})

	m.lookupErrors = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "lookup_errors_total",
		Help:      "Failed requests to the chart rating upstream",
	})

	m.queueDepth = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "queue_depth",
		Help:      "Settled events waiting for a tracking worker",
	})

	m.queueCapacity = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "queue_capacity",
		Help:      "Maximum settled-event queue capacity",
	})

	m.queueEnqueues = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "queue_enqueue_total",
		Help:      "Settled events enqueued",
	})

	m.queueDequeues = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "queue_dequeue_total",
		Help:      "Settled events handed to workers",
	})

	m.queueEnqueueErrors = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "queue_enqueue_errors_total",
		Help:      "Settled events dropped because the queue was full or closed",
	})

	m.workerCount = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "worker_count",
		Help:      "Tracking workers currently running",
	})

	m.workerErrors = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "worker_errors_total",
		Help:      "Settled events whose tracking failed",
	})

	m.storeCharts = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "store_charts",
		Help:      "Charts with stored ranking state",
	})
}

// Package-level helpers recording on the global manager.

// RecordFeedEvent counts one received feed event.
func RecordFeedEvent(source string) {
	globalManager.feedEvents.WithLabelValues(source).Inc()
}

// UpdatePendingMatches sets the pending-match gauge.
func UpdatePendingMatches(n int) {
	globalManager.pendingMatches.Set(float64(n))
}

// RecordSettlement counts one settlement by outcome.
func RecordSettlement(outcome string) {
	globalManager.settlements.WithLabelValues(outcome).Inc()
}

// RecordTrackResult counts one tracking outcome by status.
func RecordTrackResult(status string) {
	globalManager.trackResults.WithLabelValues(status).Inc()
}

// RecordTrackLatency records one tracking latency sample.
func RecordTrackLatency(latencyMs float64) {
	globalManager.trackLatency.Observe(latencyMs)
}

// RecordValidationRejection counts one rejected candidate.
func RecordValidationRejection() {
	globalManager.validationRejections.Inc()
}

// RecordScoreArchived counts one archived snapshot.
func RecordScoreArchived() {
	globalManager.scoresArchived.Inc()
}

// RecordCascadeRun counts one refresh run.
func RecordCascadeRun(kind string) {
	globalManager.cascadeRuns.WithLabelValues(kind).Inc()
}

// RecordCascadeSummary folds one refresh summary into the counters.
func RecordCascadeSummary(kind string, seen, changed, updated int) {
	globalManager.cascadeChartsSeen.WithLabelValues(kind).Add(float64(seen))
	globalManager.cascadeChartsChanged.WithLabelValues(kind).Add(float64(changed))
	globalManager.cascadeScoresUpdated.WithLabelValues(kind).Add(float64(updated))
}

// RecordCascadeChartFailure counts one skipped chart.
func RecordCascadeChartFailure() {
	globalManager.cascadeChartFailures.Inc()
}

// RecordLookupRequest counts one upstream request.
func RecordLookupRequest() {
	globalManager.lookupRequests.Inc()
}

// RecordLookupError counts one failed upstream request.
func RecordLookupError() {
	globalManager.lookupErrors.Inc()
}

// UpdateQueueDepth sets the queue depth gauge.
func UpdateQueueDepth(n int) {
	globalManager.queueDepth.Set(float64(n))
}

// UpdateQueueCapacity sets the queue capacity gauge.
func UpdateQueueCapacity(n int) {
	globalManager.queueCapacity.Set(float64(n))
}

// RecordQueueEnqueue counts one enqueued event.
func RecordQueueEnqueue() {
	globalManager.queueEnqueues.Inc()
}

// RecordQueueDequeue counts one dequeued event.
func RecordQueueDequeue() {
	globalManager.queueDequeues.Inc()
}

// RecordQueueEnqueueError counts one dropped event.
func RecordQueueEnqueueError() {
	globalManager.queueEnqueueErrors.Inc()
}

// UpdateWorkerCount sets the worker gauge.
func UpdateWorkerCount(n int) {
	globalManager.workerCount.Set(float64(n))
}

// RecordWorkerError counts one failed tracking attempt.
func RecordWorkerError() {
	globalManager.workerErrors.Inc()
}

// UpdateStoreCharts sets the stored-chart gauge.
func UpdateStoreCharts(n int) {
	globalManager.storeCharts.Set(float64(n))
}

// GetRegistry returns the custom registry for the /metrics endpoint.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}

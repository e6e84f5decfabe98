package metrics

import (
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Processing metrics
	lastProcessedHeight = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "starboard_last_processed_height",
			Help: "The last block height durably committed",
		},
		[]string{"process"},
	)

	blocksProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "starboard_blocks_processed_total",
			Help: "Total number of blocks processed",
		},
		[]string{"process"},
	)

	receiptsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "starboard_receipts_total",
			Help: "Total number of log receipts by outcome",
		},
		[]string{"outcome"},
	)

	eventsHandled = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "starboard_events_handled_total",
			Help: "Total number of decoded events applied by handlers",
		},
		[]string{"event"},
	)

	batchProcessingTime = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "starboard_batch_processing_duration_seconds",
			Help:    "Time taken to process and commit a batch of blocks",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"process"},
	)

	processingRate = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "starboard_processing_rate_blocks_per_second",
			Help: "Current processing rate in blocks per second",
		},
		[]string{"process"},
	)

	processorState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "starboard_processor_state",
			Help: "Current processor state (1 for the active state)",
		},
		[]string{"process", "state"},
	)

	// Store metrics
	entitiesWritten = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "starboard_entities_written_total",
			Help: "Total number of entity upserts by kind",
		},
		[]string{"kind"},
	)

	commitDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "starboard_commit_duration_seconds",
			Help:    "Duration of entity store commits",
			Buckets: prometheus.DefBuckets,
		},
	)

	commitFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "starboard_commit_failures_total",
			Help: "Total number of failed batch commits",
		},
	)

	// Source metrics
	sourceRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "starboard_source_requests_total",
			Help: "Total number of upstream requests by outcome",
		},
		[]string{"operation", "status"},
	)

	sourceRequestTime = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "starboard_source_request_duration_seconds",
			Help:    "Duration of upstream requests",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	retries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "starboard_retries_total",
			Help: "Total number of retried operations",
		},
		[]string{"operation"},
	)

	chainHead = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "starboard_chain_head_height",
			Help: "Latest block height reported by the source",
		},
	)

	// Checkpoint metrics
	leaseRenewals = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "starboard_lease_renewals_total",
			Help: "Total number of checkpoint lease renewals by outcome",
		},
		[]string{"backend", "status"},
	)

	// Notifier metrics
	notificationsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "starboard_notifications_total",
			Help: "Total number of batch notifications by outcome",
		},
		[]string{"status"},
	)

	// System metrics
	uptime = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "starboard_uptime_seconds",
			Help: "Application uptime in seconds",
		},
	)

	errorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "starboard_errors_total",
			Help: "Total number of errors by component and severity",
		},
		[]string{"component", "severity"},
	)

	componentHealth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "starboard_component_health",
			Help: "Component health status (1=healthy, 0=unhealthy)",
		},
		[]string{"component"},
	)

	goroutines = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "starboard_goroutines",
			Help: "Number of active goroutines",
		},
	)

	memoryUsage = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "starboard_memory_usage_bytes",
			Help: "Memory usage statistics",
		},
		[]string{"type"},
	)

	startTime = time.Now()
)

func LastProcessedHeightSet(process string, height uint64) {
	lastProcessedHeight.WithLabelValues(process).Set(float64(height))
}

func BlocksProcessedAdd(process string, count int) {
	blocksProcessed.WithLabelValues(process).Add(float64(count))
}

func ReceiptInc(outcome string) {
	receiptsProcessed.WithLabelValues(outcome).Inc()
}

func EventHandledInc(event string) {
	eventsHandled.WithLabelValues(event).Inc()
}

func BatchProcessingTimeLog(process string, duration time.Duration) {
	batchProcessingTime.WithLabelValues(process).Observe(duration.Seconds())
}

func ProcessingRateLog(process string, rate float64) {
	processingRate.WithLabelValues(process).Set(rate)
}

// ProcessorStateSet marks state as the active state of process and clears the others.
func ProcessorStateSet(process, state string, all []string) {
	for _, s := range all {
		v := float64(0)
		if s == state {
			v = 1
		}
		processorState.WithLabelValues(process, s).Set(v)
	}
}

func EntitiesWrittenAdd(kind string, count int) {
	entitiesWritten.WithLabelValues(kind).Add(float64(count))
}

func CommitDurationLog(duration time.Duration) {
	commitDuration.Observe(duration.Seconds())
}

func CommitFailureInc() {
	commitFailures.Inc()
}

func SourceRequestInc(operation, status string) {
	sourceRequests.WithLabelValues(operation, status).Inc()
}

func SourceRequestDuration(operation string, duration time.Duration) {
	sourceRequestTime.WithLabelValues(operation).Observe(duration.Seconds())
}

func RetryInc(operation string) {
	retries.WithLabelValues(operation).Inc()
}

func ChainHeadSet(height uint64) {
	chainHead.Set(float64(height))
}

func LeaseRenewalInc(backend, status string) {
	leaseRenewals.WithLabelValues(backend, status).Inc()
}

func NotificationInc(status string) {
	notificationsPublished.WithLabelValues(status).Inc()
}

func ErrorInc(component, severity string) {
	errorsTotal.WithLabelValues(component, severity).Inc()
}

func ComponentHealthSet(component string, healthy bool) {
	boolAsFloat := float64(1)
	if !healthy {
		boolAsFloat = 0
	}

	componentHealth.WithLabelValues(component).Set(boolAsFloat)
}

// UpdateSystemMetrics updates runtime system metrics.
func UpdateSystemMetrics() {
	uptime.Set(time.Since(startTime).Seconds())
	goroutines.Set(float64(runtime.NumGoroutine()))

	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	memoryUsage.WithLabelValues("alloc").Set(float64(m.Alloc))
	memoryUsage.WithLabelValues("total_alloc").Set(float64(m.TotalAlloc))
	memoryUsage.WithLabelValues("sys").Set(float64(m.Sys))
	memoryUsage.WithLabelValues("heap_inuse").Set(float64(m.HeapInuse))
}

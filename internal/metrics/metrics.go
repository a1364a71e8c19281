// Package metrics defines the Prometheus series the emitter pipeline
// publishes: fetch-cycle progress, reorg counts, confirmation buffer
// depth, dispatch latency, and a per-component failure counter.
package metrics

import (
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	FetchCycles = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chainwatch_fetch_cycles_total",
			Help: "Total number of EventsEmitter.Fetch cycles run",
		},
		[]string{"emitter", "outcome"},
	)

	FetchCycleDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chainwatch_fetch_cycle_duration_seconds",
			Help:    "Duration of a full fetch cycle",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"emitter"},
	)

	BlocksScanned = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chainwatch_blocks_scanned_total",
			Help: "Total number of blocks scanned via GetPastLogs",
		},
		[]string{"emitter"},
	)

	LogsFetched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chainwatch_logs_fetched_total",
			Help: "Total number of logs returned by the LogSource",
		},
		[]string{"emitter"},
	)

	EventsEmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chainwatch_events_emitted_total",
			Help: "Total number of events delivered on newEvent",
		},
		[]string{"emitter"},
	)

	LastFetchedBlock = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "chainwatch_last_fetched_block",
			Help: "The last block number the emitter scanned logs up to",
		},
		[]string{"emitter"},
	)

	LastProcessedBlock = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "chainwatch_last_processed_block",
			Help: "The last block number whose events were fully confirmed and emitted",
		},
		[]string{"emitter"},
	)

	ReorgsDetected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chainwatch_reorgs_detected_total",
			Help: "Total number of reorgs detected",
		},
		[]string{"emitter", "kind"}, // kind: shallow, out_of_range
	)

	BufferDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "chainwatch_confirmation_buffer_depth",
			Help: "Number of events currently held in the confirmation buffer",
		},
		[]string{"emitter"},
	)

	ConfirmationsPromoted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chainwatch_confirmations_promoted_total",
			Help: "Total number of buffered events promoted to newEvent",
		},
		[]string{"emitter"},
	)

	ConfirmationsInvalidated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chainwatch_confirmations_invalidated_total",
			Help: "Total number of buffered events discarded by a reorg",
		},
		[]string{"emitter"},
	)

	DispatchLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chainwatch_dispatch_latency_seconds",
			Help:    "Time spent delivering one Publish/PublishAwait call to its listeners",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"topic"},
	)

	SubscriberCount = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "chainwatch_subscriber_count",
			Help: "Current number of listeners subscribed to a topic",
		},
		[]string{"topic"},
	)

	FailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chainwatch_failures_total",
			Help: "Total number of failures by component and severity",
		},
		[]string{"component", "severity"},
	)

	ComponentHealth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "chainwatch_component_health",
			Help: "Component health status (1=healthy, 0=unhealthy)",
		},
		[]string{"component"},
	)

	Uptime = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chainwatch_uptime_seconds",
			Help: "Application uptime in seconds",
		},
	)

	Goroutines = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chainwatch_goroutines",
			Help: "Number of active goroutines",
		},
	)

	MemoryUsage = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "chainwatch_memory_usage_bytes",
			Help: "Memory usage statistics",
		},
		[]string{"type"},
	)

	startTime = time.Now()
)

// FetchCycleInc records one completed fetch cycle and its outcome
// ("ok", "transient_rpc_error", "storage_error", "duplicate_event").
func FetchCycleInc(emitter, outcome string) {
	FetchCycles.WithLabelValues(emitter, outcome).Inc()
}

// FetchCycleDurationLog records how long a fetch cycle took.
func FetchCycleDurationLog(emitter string, d time.Duration) {
	FetchCycleDuration.WithLabelValues(emitter).Observe(d.Seconds())
}

// BlocksScannedInc adds count to the blocks-scanned counter.
func BlocksScannedInc(emitter string, count uint64) {
	BlocksScanned.WithLabelValues(emitter).Add(float64(count))
}

// LogsFetchedInc adds count to the logs-fetched counter.
func LogsFetchedInc(emitter string, count int) {
	LogsFetched.WithLabelValues(emitter).Add(float64(count))
}

// EventsEmittedInc adds count to the events-emitted counter.
func EventsEmittedInc(emitter string, count int) {
	EventsEmitted.WithLabelValues(emitter).Add(float64(count))
}

// LastFetchedBlockSet updates the lastFetched cursor gauge.
func LastFetchedBlockSet(emitter string, blockNum uint64) {
	LastFetchedBlock.WithLabelValues(emitter).Set(float64(blockNum))
}

// LastProcessedBlockSet updates the lastProcessed cursor gauge.
func LastProcessedBlockSet(emitter string, blockNum uint64) {
	LastProcessedBlock.WithLabelValues(emitter).Set(float64(blockNum))
}

// ReorgDetectedInc records a detected reorg of the given kind.
func ReorgDetectedInc(emitter, kind string) {
	ReorgsDetected.WithLabelValues(emitter, kind).Inc()
}

// BufferDepthSet updates the confirmation buffer depth gauge.
func BufferDepthSet(emitter string, depth int) {
	BufferDepth.WithLabelValues(emitter).Set(float64(depth))
}

// ConfirmationPromotedInc records one buffered event reaching its
// target confirmation depth.
func ConfirmationPromotedInc(emitter string) {
	ConfirmationsPromoted.WithLabelValues(emitter).Inc()
}

// ConfirmationInvalidatedInc records one buffered event discarded by
// a reorg before it reached its target confirmation depth.
func ConfirmationInvalidatedInc(emitter string) {
	ConfirmationsInvalidated.WithLabelValues(emitter).Inc()
}

// DispatchLatencyLog records how long a Dispatcher spent delivering
// one Publish/PublishAwait call.
func DispatchLatencyLog(topic string, d time.Duration) {
	DispatchLatency.WithLabelValues(topic).Observe(d.Seconds())
}

// SubscriberCountSet updates the subscriber-count gauge for a topic.
func SubscriberCountSet(topic string, count int) {
	SubscriberCount.WithLabelValues(topic).Set(float64(count))
}

// FailureInc records one failure for component at the given severity
// ("transient", "fatal").
func FailureInc(component, severity string) {
	FailuresTotal.WithLabelValues(component, severity).Inc()
}

// ComponentHealthSet marks component healthy or unhealthy.
func ComponentHealthSet(component string, healthy bool) {
	boolAsFloat := float64(1)
	if !healthy {
		boolAsFloat = 0
	}
	ComponentHealth.WithLabelValues(component).Set(boolAsFloat)
}

// UpdateSystemMetrics updates runtime system metrics.
// This should be called periodically (e.g., every 15 seconds).
func UpdateSystemMetrics() {
	Uptime.Set(time.Since(startTime).Seconds())

	Goroutines.Set(float64(runtime.NumGoroutine()))

	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	MemoryUsage.WithLabelValues("alloc").Set(float64(m.Alloc))
	MemoryUsage.WithLabelValues("total_alloc").Set(float64(m.TotalAlloc))
	MemoryUsage.WithLabelValues("sys").Set(float64(m.Sys))
	MemoryUsage.WithLabelValues("heap_inuse").Set(float64(m.HeapInuse))
}

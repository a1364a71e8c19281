package db

import (
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Maintenance metrics
	maintenanceRuns = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chainwatch_maintenance_runs_total",
			Help: "Total number of maintenance operations",
		},
	)

	maintenanceOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chainwatch_maintenance_outcomes_total",
			Help: "Total number of maintenance operations by outcome",
		},
		[]string{"status"},
	)

	maintenanceDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "chainwatch_maintenance_duration_seconds",
			Help:    "Duration of maintenance operations",
			Buckets: prometheus.DefBuckets,
		},
	)

	maintenanceLastRun = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chainwatch_maintenance_last_run_timestamp",
			Help: "Unix timestamp of last maintenance run",
		},
	)

	maintenanceSpaceReclaimed = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chainwatch_maintenance_space_reclaimed_bytes",
			Help: "Bytes reclaimed by last maintenance operation",
		},
	)

	walCheckpoints = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chainwatch_wal_checkpoint_total",
			Help: "Total number of WAL checkpoint operations",
		},
		[]string{"mode"},
	)

	vacuumRuns = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chainwatch_vacuum_total",
			Help: "Total number of VACUUM operations",
		},
	)

	dbSize = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "chainwatch_db_size_bytes",
			Help: "Database file size in bytes",
		},
		[]string{"type"},
	)

	// Confirmation-buffer churn metrics. Every confirmed or
	// reorg-discarded event removes buffered_events rows; VACUUM only
	// pays for itself once enough of that churn has accumulated.
	bufferRowsDeleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chainwatch_buffer_rows_deleted_total",
			Help: "Total buffered_events rows deleted, by reason",
		},
		[]string{"reason"},
	)

	bufferRowsReplayed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chainwatch_buffer_rows_replayed_total",
			Help: "Total buffered_events rows re-inserted identically after a crash, tolerated instead of raised as a duplicate",
		},
	)
)

// rowsDeletedSinceVacuum accumulates churn from RowsDeletedInc between
// VACUUM passes; MaintenanceCoordinator reads it with
// RowsDeletedSinceVacuum and clears it with ResetRowsDeletedSinceVacuum
// once a pass decides to run.
var rowsDeletedSinceVacuum atomic.Uint64

func MaintenanceRunsInc() {
	maintenanceRuns.Inc()
}

func MaintenanceDurationLog(duration time.Duration) {
	maintenanceDuration.Observe(duration.Seconds())
}

func MaintenanceLastRunLog() {
	maintenanceLastRun.Set(float64(time.Now().UTC().Unix()))
}

func MaintenanceErrorInc() {
	maintenanceOutcomes.WithLabelValues("error").Inc()
}

func MaintenanceSuccessInc() {
	maintenanceOutcomes.WithLabelValues("success").Inc()
}

func MaintenanceSpaceReclaimedLog(bytesReclaimed uint64) {
	maintenanceSpaceReclaimed.Set(float64(bytesReclaimed))
}

func WALCheckpointInc(mode string) {
	walCheckpoints.WithLabelValues(mode).Inc()
}

func VacuumRunsInc() {
	vacuumRuns.Inc()
}

func DBSizeLog(sizeBytes int64) {
	dbSize.WithLabelValues("total").Set(float64(sizeBytes))
}

// RowsDeletedInc records n confirmation-buffer rows removed for the
// given reason ("destroy_all" for a reorg wiping a whole contract,
// "destroy_one" for a single row promoted past its confirmation
// depth or found invalidated), and feeds the VACUUM-worthiness threshold tracked by
// RowsDeletedSinceVacuum.
func RowsDeletedInc(reason string, n int) {
	if n <= 0 {
		return
	}
	bufferRowsDeleted.WithLabelValues(reason).Add(float64(n))
	rowsDeletedSinceVacuum.Add(uint64(n))
}

// BufferReplayedRowsInc records n buffered rows whose re-insertion was
// tolerated because the conflicting row's content matched exactly.
func BufferReplayedRowsInc(n int) {
	if n <= 0 {
		return
	}
	bufferRowsReplayed.Add(float64(n))
}

// RowsDeletedSinceVacuum reports the churn accumulated since the last
// ResetRowsDeletedSinceVacuum call, without clearing it.
func RowsDeletedSinceVacuum() uint64 {
	return rowsDeletedSinceVacuum.Load()
}

// ResetRowsDeletedSinceVacuum clears the churn counter; called once a
// VACUUM pass actually runs.
func ResetRowsDeletedSinceVacuum() {
	rowsDeletedSinceVacuum.Store(0)
}

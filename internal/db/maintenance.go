package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/goran-ethernal/chainwatch/internal/common"
	"github.com/goran-ethernal/chainwatch/internal/logger"
	"github.com/goran-ethernal/chainwatch/pkg/config"
)

// Maintenance keeps an on-disk SQLite file healthy over a long-running
// watch: periodic WAL checkpointing and VACUUM, plus a lock that lets
// ordinary readers/writers run freely while a maintenance pass is in
// progress needs them to pause.
type Maintenance interface {
	Start(ctx context.Context) error
	Stop() error

	// AcquireOperationLock blocks until it is safe to touch the database
	// and returns the function the caller must invoke when done.
	AcquireOperationLock() func()

	GetMetrics() MaintenanceMetrics

	// RunMaintenance runs a maintenance pass outside of the background
	// schedule, e.g. from an operator-triggered CLI command.
	RunMaintenance(ctx context.Context) error
}

// NoOpMaintenance satisfies Maintenance for deployments that disable
// background maintenance entirely; every call is a free pass.
type NoOpMaintenance struct{}

func (m *NoOpMaintenance) Start(ctx context.Context) error             { return nil }
func (m *NoOpMaintenance) Stop() error                                 { return nil }
func (m *NoOpMaintenance) RunMaintenance(ctx context.Context) error    { return nil }
func (m *NoOpMaintenance) AcquireOperationLock() func()                { return func() {} }
func (m *NoOpMaintenance) GetMetrics() MaintenanceMetrics              { return MaintenanceMetrics{} }

// MaintenanceCoordinator runs WAL checkpoints and VACUUMs against a
// SQLite database on a timer. It guards every pass behind a RWMutex:
// normal reads/writes hold the read side and run concurrently with each
// other, while a maintenance pass takes the write side and waits for
// all of them to drain before it touches the file.
type MaintenanceCoordinator struct {
	db     *sql.DB
	config config.MaintenanceConfig
	dbPath string
	log    *logger.Logger

	opLock sync.RWMutex

	maintenanceCtx    context.Context
	maintenanceCancel context.CancelFunc
	maintenanceWg     sync.WaitGroup

	metricsLock         sync.Mutex
	lastMaintenanceTime time.Time
	maintenanceCount    uint64
	lastMaintenanceErr  error
}

// NewMaintenanceCoordinator builds a Maintenance for dbPath/db. A nil
// cfg disables maintenance entirely and returns a NoOpMaintenance
// rather than forcing every caller to nil-check a *MaintenanceConfig.
func NewMaintenanceCoordinator(
	dbPath string,
	db *sql.DB,
	cfg *config.MaintenanceConfig,
	log *logger.Logger,
) Maintenance {
	if cfg == nil {
		return &NoOpMaintenance{}
	}

	return newMaintenanceCoordinator(dbPath, db, *cfg, log)
}

// newMaintenanceCoordinator builds the concrete type directly, bypassing
// the nil-config-to-NoOp dispatch above; tests use this to get a
// *MaintenanceCoordinator they can inspect and drive directly.
func newMaintenanceCoordinator(
	dbPath string,
	db *sql.DB,
	cfg config.MaintenanceConfig,
	log *logger.Logger,
) *MaintenanceCoordinator {
	return &MaintenanceCoordinator{
		db:     db,
		config: cfg,
		dbPath: dbPath,
		log:    log.WithComponent("db-maintenance"),
	}
}

// Start arms the background maintenance ticker. It is a no-op if the
// coordinator's config disables maintenance.
func (m *MaintenanceCoordinator) Start(ctx context.Context) error {
	if !m.config.Enabled {
		m.log.Info("background maintenance disabled, skipping")
		return nil
	}

	m.maintenanceCtx, m.maintenanceCancel = context.WithCancel(ctx)

	if m.config.VacuumOnStartup {
		m.log.Info("running maintenance pass before startup completes")
		if err := m.runMaintenance(m.maintenanceCtx, true); err != nil {
			m.log.Warnf("startup maintenance pass failed: %v", err)
		}
	}

	m.maintenanceWg.Add(1)
	go m.maintenanceWorker(m.config.CheckInterval.Duration)

	m.log.Infof("background maintenance armed: interval=%v checkpoint_mode=%s",
		m.config.CheckInterval.Duration, m.config.WALCheckpointMode)

	return nil
}

// Stop cancels the background ticker and waits for the current pass,
// if any, to finish before returning.
func (m *MaintenanceCoordinator) Stop() error {
	if m.maintenanceCancel == nil {
		return nil
	}

	m.log.Info("stopping background maintenance")
	m.maintenanceCancel()
	m.maintenanceWg.Wait()
	m.log.Info("background maintenance stopped")

	return nil
}

func (m *MaintenanceCoordinator) maintenanceWorker(checkInterval time.Duration) {
	defer m.maintenanceWg.Done()

	ticker := time.NewTicker(checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.maintenanceCtx.Done():
			return
		case <-ticker.C:
			m.log.Debug("running scheduled maintenance pass")
			if err := m.RunMaintenance(m.maintenanceCtx); err != nil {
				m.log.Warnf("scheduled maintenance pass failed: %v", err)
			}
		}
	}
}

// RunMaintenance takes the coordinator's write lock, runs a WAL
// checkpoint, and runs a VACUUM if confirmation-buffer churn since the
// last one meets VacuumMinDeletedRows. All other database operations
// block on the read side of opLock until this returns.
func (m *MaintenanceCoordinator) RunMaintenance(ctx context.Context) error {
	return m.runMaintenance(ctx, false)
}

// runMaintenance is RunMaintenance's implementation. force bypasses
// the churn threshold and always runs VACUUM, used for the
// VacuumOnStartup pass where an operator has asked for one explicitly
// regardless of how little has been deleted since the last run.
func (m *MaintenanceCoordinator) runMaintenance(ctx context.Context, force bool) error {
	m.log.Info("starting maintenance pass")
	start := time.Now().UTC()
	MaintenanceRunsInc()

	m.opLock.Lock()
	defer m.opLock.Unlock()

	if ctx.Err() != nil {
		return ctx.Err()
	}

	sizeBefore, err := DBTotalSize(m.dbPath)
	if err != nil {
		m.log.Warnf("could not measure database size before maintenance: %v", err)
	}

	var maintErr error
	if err := m.walCheckpoint(); err != nil {
		m.log.Errorf("WAL checkpoint failed: %v", err)
		maintErr = fmt.Errorf("WAL checkpoint failed: %w", err)
	}

	churn := RowsDeletedSinceVacuum()
	if !force && churn < m.config.VacuumMinDeletedRows {
		m.log.Debugf("skipping VACUUM: only %d row(s) deleted since last pass, threshold is %d",
			churn, m.config.VacuumMinDeletedRows)
	} else if err := m.vacuum(); err != nil {
		m.log.Warnf("VACUUM failed (expected in some WAL configurations): %v", err)
		if maintErr == nil {
			maintErr = fmt.Errorf("VACUUM failed: %w", err)
		}
	} else {
		ResetRowsDeletedSinceVacuum()
	}

	sizeAfter, err := DBTotalSize(m.dbPath)
	if err != nil {
		m.log.Warnf("could not measure database size after maintenance: %v", err)
	}

	elapsed := time.Since(start)

	m.metricsLock.Lock()
	m.lastMaintenanceTime = time.Now().UTC()
	m.maintenanceCount++
	m.lastMaintenanceErr = maintErr
	m.metricsLock.Unlock()

	MaintenanceDurationLog(elapsed)
	MaintenanceLastRunLog()

	if maintErr != nil {
		MaintenanceErrorInc()
		m.log.Warnf("maintenance pass finished with errors after %v: %v", elapsed, maintErr)
		return maintErr
	}

	MaintenanceSuccessInc()
	m.log.Infof("maintenance pass completed in %v", elapsed)

	if sizeBefore > sizeAfter {
		reclaimed := uint64(sizeBefore - sizeAfter)
		MaintenanceSpaceReclaimedLog(reclaimed)
		m.log.Infof("maintenance reclaimed %d MB", common.BytesToMB(reclaimed))
	}

	DBSizeLog(sizeAfter)

	return nil
}

// walCheckpoint flushes the write-ahead log back into the main database
// file. It is skipped outright when the database isn't in WAL mode,
// since the pragma is meaningless there.
func (m *MaintenanceCoordinator) walCheckpoint() error {
	isWAL, err := m.isWALMode()
	if err != nil {
		return fmt.Errorf("failed to check journal mode: %w", err)
	}
	if !isWAL {
		m.log.Debug("not in WAL mode, skipping checkpoint")
		return nil
	}

	checkpointSQL := fmt.Sprintf("PRAGMA wal_checkpoint(%s)", m.config.WALCheckpointMode)
	m.log.Debugf("running %s", checkpointSQL)

	var busy, logFrames, checkpointed int
	if err := m.db.QueryRow(checkpointSQL).Scan(&busy, &logFrames, &checkpointed); err != nil {
		return fmt.Errorf("failed to execute WAL checkpoint: %w", err)
	}

	m.log.Infof("WAL checkpoint done: mode=%s busy=%d log_frames=%d checkpointed=%d",
		m.config.WALCheckpointMode, busy, logFrames, checkpointed)
	WALCheckpointInc(strings.ToLower(m.config.WALCheckpointMode))

	if busy > 0 {
		m.log.Warnf("WAL checkpoint left %d pages busy (not fully checkpointed)", busy)
	}

	return nil
}

// vacuum rebuilds the database file to reclaim space left behind by
// deletes and updates. It runs under the coordinator's exclusive lock,
// so the "database is locked" case below should only surface if some
// other process outside this coordinator holds a transaction open.
func (m *MaintenanceCoordinator) vacuum() error {
	m.log.Debug("running VACUUM")

	if _, err := m.db.Exec("VACUUM"); err != nil {
		if strings.Contains(err.Error(), "database is locked") {
			return fmt.Errorf("cannot vacuum: database is locked by another connection, retry later")
		}
		return fmt.Errorf("vacuum failed: %w", err)
	}

	VacuumRunsInc()
	m.log.Info("VACUUM completed")
	return nil
}

func (m *MaintenanceCoordinator) isWALMode() (bool, error) {
	var mode string
	if err := m.db.QueryRow("PRAGMA journal_mode").Scan(&mode); err != nil {
		return false, err
	}
	return strings.EqualFold(mode, "wal"), nil
}

// AcquireOperationLock takes the coordinator's read lock so a caller
// can safely run a query or write while maintenance, if it starts,
// waits for the unlock function to be called.
func (m *MaintenanceCoordinator) AcquireOperationLock() func() {
	m.opLock.RLock()
	return m.opLock.RUnlock
}

// GetMetrics reports the most recent maintenance pass's outcome.
func (m *MaintenanceCoordinator) GetMetrics() MaintenanceMetrics {
	m.metricsLock.Lock()
	defer m.metricsLock.Unlock()

	return MaintenanceMetrics{
		LastMaintenanceTime:  m.lastMaintenanceTime,
		MaintenanceCount:     m.maintenanceCount,
		LastMaintenanceError: m.lastMaintenanceErr,
	}
}

// MaintenanceMetrics is a snapshot of the coordinator's maintenance
// history, independent of the Prometheus counters exported alongside it.
type MaintenanceMetrics struct {
	LastMaintenanceTime  time.Time
	MaintenanceCount     uint64
	LastMaintenanceError error
}

// Package blocktracker is the default tracker.Store: a SQLite-backed
// table of (lastFetched, lastProcessed) cursor pairs keyed by emitter
// name, so several EventsEmitters can share one database.
package blocktracker

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/goran-ethernal/chainwatch/internal/db"
	"github.com/goran-ethernal/chainwatch/internal/logger"
	"github.com/goran-ethernal/chainwatch/pkg/chain"
	"github.com/goran-ethernal/chainwatch/pkg/tracker"
	"github.com/russross/meddler"
)

var _ tracker.Store = (*SQLiteStore)(nil)

// trackerRow maps to one row of the block_tracker table. A nil
// pointer field means that cursor has never been recorded.
type trackerRow struct {
	Emitter             string       `meddler:"emitter,pk"`
	LastFetchedNumber   *int64       `meddler:"last_fetched_number"`
	LastFetchedHash     *common.Hash `meddler:"last_fetched_hash,hash"`
	LastProcessedNumber *int64       `meddler:"last_processed_number"`
	LastProcessedHash   *common.Hash `meddler:"last_processed_hash,hash"`
}

// SQLiteStore is the default tracker.Store.
type SQLiteStore struct {
	db      *sql.DB
	emitter string
	maint   db.Maintenance
	log     *logger.Logger
}

// NewSQLiteStore scopes a cursor pair to emitter within conn. maint
// may be nil, in which case no maintenance coordination is applied.
func NewSQLiteStore(conn *sql.DB, emitter string, maint db.Maintenance, log *logger.Logger) *SQLiteStore {
	if maint == nil {
		maint = &db.NoOpMaintenance{}
	}
	if log == nil {
		log = logger.GetDefaultLogger()
	}

	return &SQLiteStore{
		db:      conn,
		emitter: emitter,
		maint:   maint,
		log:     log.WithComponent("block-tracker"),
	}
}

func (s *SQLiteStore) GetLastFetched(ctx context.Context) (*chain.BlockRef, error) {
	row, err := s.fetchRow(ctx)
	if err != nil || row == nil {
		return nil, err
	}
	if row.LastFetchedNumber == nil {
		return nil, nil
	}

	ref := chain.BlockRef{Number: uint64(*row.LastFetchedNumber)}
	if row.LastFetchedHash != nil {
		ref.Hash = *row.LastFetchedHash
	}
	return &ref, nil
}

func (s *SQLiteStore) SetLastFetched(ctx context.Context, ref chain.BlockRef) error {
	unlock := s.maint.AcquireOperationLock()
	defer unlock()

	const q = `
		INSERT INTO block_tracker (emitter, last_fetched_number, last_fetched_hash)
		VALUES (?, ?, ?)
		ON CONFLICT(emitter) DO UPDATE SET
			last_fetched_number = excluded.last_fetched_number,
			last_fetched_hash = excluded.last_fetched_hash
	`
	if _, err := s.db.ExecContext(ctx, q, s.emitter, ref.Number, ref.Hash.Hex()); err != nil {
		return fmt.Errorf("failed to set last fetched cursor: %w", err)
	}

	s.log.Debugf("last fetched cursor set to %d (%s)", ref.Number, ref.Hash.Hex())
	return nil
}

func (s *SQLiteStore) GetLastProcessed(ctx context.Context) (*chain.BlockRef, error) {
	row, err := s.fetchRow(ctx)
	if err != nil || row == nil {
		return nil, err
	}
	if row.LastProcessedNumber == nil {
		return nil, nil
	}

	ref := chain.BlockRef{Number: uint64(*row.LastProcessedNumber)}
	if row.LastProcessedHash != nil {
		ref.Hash = *row.LastProcessedHash
	}
	return &ref, nil
}

// SetLastProcessedIfHigher updates lastProcessed only when ref.Number
// strictly exceeds the stored number, or none is stored yet. The
// comparison and write happen in a single statement so concurrent
// callers can't race past each other.
func (s *SQLiteStore) SetLastProcessedIfHigher(ctx context.Context, ref chain.BlockRef) error {
	unlock := s.maint.AcquireOperationLock()
	defer unlock()

	const q = `
		INSERT INTO block_tracker (emitter, last_processed_number, last_processed_hash)
		VALUES (?, ?, ?)
		ON CONFLICT(emitter) DO UPDATE SET
			last_processed_number = excluded.last_processed_number,
			last_processed_hash = excluded.last_processed_hash
		WHERE block_tracker.last_processed_number IS NULL
			OR excluded.last_processed_number > block_tracker.last_processed_number
	`
	if _, err := s.db.ExecContext(ctx, q, s.emitter, ref.Number, ref.Hash.Hex()); err != nil {
		return fmt.Errorf("failed to set last processed cursor: %w", err)
	}

	s.log.Debugf("last processed cursor advanced toward %d (%s)", ref.Number, ref.Hash.Hex())
	return nil
}

func (s *SQLiteStore) fetchRow(ctx context.Context) (*trackerRow, error) {
	unlock := s.maint.AcquireOperationLock()
	defer unlock()

	var row trackerRow
	err := meddler.QueryRow(s.db, &row, `SELECT * FROM block_tracker WHERE emitter = ?`, s.emitter)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query block tracker row: %w", err)
	}

	return &row, nil
}

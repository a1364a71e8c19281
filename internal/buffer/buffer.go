// Package buffer is the default buffer.Repository: a SQLite-backed
// table of buffered events, keyed by (contractAddress, txHash,
// logIndex), following the teacher's meddler-based transaction
// pattern from internal/fetcher.SQLiteLogStore.
package buffer

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/goran-ethernal/chainwatch/internal/db"
	"github.com/goran-ethernal/chainwatch/internal/logger"
	"github.com/goran-ethernal/chainwatch/pkg/buffer"
	"github.com/mattn/go-sqlite3"
	"github.com/russross/meddler"
)

var _ buffer.Repository = (*SQLiteRepository)(nil)

// SQLiteRepository is the default buffer.Repository.
type SQLiteRepository struct {
	db    *sql.DB
	maint db.Maintenance
	log   *logger.Logger
}

// NewSQLiteRepository builds a repository over an already-migrated
// database connection. maint may be nil.
func NewSQLiteRepository(conn *sql.DB, maint db.Maintenance, log *logger.Logger) *SQLiteRepository {
	if maint == nil {
		maint = &db.NoOpMaintenance{}
	}
	if log == nil {
		log = logger.GetDefaultLogger()
	}

	return &SQLiteRepository{
		db:    conn,
		maint: maint,
		log:   log.WithComponent("buffer"),
	}
}

// BulkInsert inserts all rows in a single transaction. A unique-key
// collision is tolerated when the conflicting row already on disk is
// byte-identical to the one being (re-)inserted: a crash between a
// fetch's BulkInsert and its SetLastFetched leaves the cursor pointed
// at a range that will be re-fetched and re-inserted verbatim on the
// next cycle, and that replay must not be fatal. A collision whose
// stored content differs is a genuine conflict and is surfaced as a
// *buffer.DuplicateEventError naming the offending row.
func (r *SQLiteRepository) BulkInsert(ctx context.Context, rows []buffer.Event) error {
	unlock := r.maint.AcquireOperationLock()
	defer unlock()

	if len(rows) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
			r.log.Errorf("failed to rollback bulk insert transaction: %v", err)
		}
	}()

	replayed := 0
	for i := range rows {
		row := rows[i]
		if err := meddler.Insert(tx, "buffered_events", &row); err != nil {
			if !isUniqueViolation(err) {
				return fmt.Errorf("failed to insert buffered event: %w", err)
			}

			existing, findErr := findBufferedEvent(tx, row.ContractAddress, row.TransactionHash, row.LogIndex)
			if findErr != nil {
				return fmt.Errorf("failed to read conflicting buffered event: %w", findErr)
			}
			if existing == nil || !sameContent(*existing, row) {
				return &buffer.DuplicateEventError{
					ContractAddress: row.ContractAddress,
					TransactionHash: row.TransactionHash,
					LogIndex:        row.LogIndex,
				}
			}
			replayed++
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit bulk insert: %w", err)
	}

	if replayed > 0 {
		db.BufferReplayedRowsInc(replayed)
		r.log.Infof("tolerated %d re-fetched row(s) already buffered from a prior cycle", replayed)
	}
	r.log.Debugf("buffered %d events", len(rows)-replayed)
	return nil
}

// findBufferedEvent looks up a row by its primary key inside tx. It
// returns a nil event (not an error) when no row exists.
func findBufferedEvent(tx *sql.Tx, contract common.Address, txHash common.Hash, logIndex uint) (*buffer.Event, error) {
	const q = `
		SELECT * FROM buffered_events
		WHERE contract_address = ? AND transaction_hash = ? AND log_index = ?
	`
	var existing buffer.Event
	if err := meddler.QueryRow(tx, &existing, q, contract.Hex(), txHash.Hex(), logIndex); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &existing, nil
}

// sameContent reports whether two buffered rows describing the same
// primary key agree on everything a re-fetch would reproduce.
func sameContent(a, b buffer.Event) bool {
	return a.BlockNumber == b.BlockNumber &&
		a.BlockHash == b.BlockHash &&
		a.EventName == b.EventName &&
		a.TargetConfirmation == b.TargetConfirmation &&
		bytes.Equal(a.Content, b.Content)
}

// FindAll returns every buffered row for contract, ordered by
// (blockNumber, transactionHash, logIndex).
func (r *SQLiteRepository) FindAll(ctx context.Context, contract common.Address) ([]buffer.Event, error) {
	unlock := r.maint.AcquireOperationLock()
	defer unlock()

	const q = `
		SELECT * FROM buffered_events
		WHERE contract_address = ?
		ORDER BY block_number ASC, transaction_hash ASC, log_index ASC
	`

	var rows []*buffer.Event
	if err := meddler.QueryAll(r.db, &rows, q, contract.Hex()); err != nil {
		return nil, fmt.Errorf("failed to query buffered events: %w", err)
	}

	events := make([]buffer.Event, len(rows))
	for i, row := range rows {
		events[i] = *row
	}
	return events, nil
}

// DestroyAll deletes every buffered row for contract, used when a
// reorg discards an entire pending range.
func (r *SQLiteRepository) DestroyAll(ctx context.Context, contract common.Address) error {
	unlock := r.maint.AcquireOperationLock()
	defer unlock()

	const q = `DELETE FROM buffered_events WHERE contract_address = ?`
	res, err := r.db.ExecContext(ctx, q, contract.Hex())
	if err != nil {
		return fmt.Errorf("failed to destroy buffered events: %w", err)
	}

	if n, err := res.RowsAffected(); err == nil {
		db.RowsDeletedInc("destroy_all", int(n))
	}
	return nil
}

// DestroyOne deletes a single row, either once it is promoted past the
// confirmation depth and emitted or once it is found invalidated.
func (r *SQLiteRepository) DestroyOne(ctx context.Context, contract common.Address, txHash common.Hash, logIndex uint) error {
	unlock := r.maint.AcquireOperationLock()
	defer unlock()

	const q = `
		DELETE FROM buffered_events
		WHERE contract_address = ? AND transaction_hash = ? AND log_index = ?
	`
	res, err := r.db.ExecContext(ctx, q, contract.Hex(), txHash.Hex(), logIndex)
	if err != nil {
		return fmt.Errorf("failed to destroy buffered event: %w", err)
	}

	if n, err := res.RowsAffected(); err == nil {
		db.RowsDeletedInc("destroy_one", int(n))
	}
	return nil
}

// isUniqueViolation reports whether err is a SQLite unique-constraint
// violation on the buffered_events primary key.
func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code == sqlite3.ErrConstraint
	}
	return false
}

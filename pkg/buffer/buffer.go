// Package buffer defines the confirmation buffer's persisted row and
// the repository contract used by the Confirmator and EventsEmitter.
// Implementations live in internal/buffer.
package buffer

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/goran-ethernal/chainwatch/pkg/chain"
)

// Event is a log record persisted while it awaits sufficient
// confirmation depth. Primary key is (ContractAddress, TxHash, LogIndex).
// Rows exist only while the event's depth is below TargetConfirmation,
// or until a reorg discards them.
type Event struct {
	ContractAddress    common.Address `meddler:"contract_address,address"`
	BlockNumber         uint64         `meddler:"block_number"`
	BlockHash           common.Hash    `meddler:"block_hash,hash"`
	TransactionHash     common.Hash    `meddler:"transaction_hash,hash"`
	LogIndex            uint           `meddler:"log_index"`
	EventName           string         `meddler:"event_name"`
	TargetConfirmation  uint64         `meddler:"target_confirmation"`
	Emitted             bool           `meddler:"emitted"`
	Content             []byte         `meddler:"content"`
}

// BlockRef reconstructs the block the row was buffered at.
func (e Event) BlockRef() chain.BlockRef {
	return chain.BlockRef{Number: e.BlockNumber, Hash: e.BlockHash}
}

// Repository is the relational persistence surface for buffered
// events: insert, list, delete-by-contract, delete-by-identity.
type Repository interface {
	// BulkInsert inserts all rows atomically. A unique-constraint
	// violation on (ContractAddress, TransactionHash, LogIndex) must
	// surface as a *DuplicateEventError.
	BulkInsert(ctx context.Context, rows []Event) error

	// FindAll returns every buffered row for the given contract,
	// ordered by (BlockNumber, TransactionHash, LogIndex).
	FindAll(ctx context.Context, contract common.Address) ([]Event, error)

	// DestroyAll deletes every buffered row for the given contract.
	DestroyAll(ctx context.Context, contract common.Address) error

	// DestroyOne deletes a single row by its identity.
	DestroyOne(ctx context.Context, contract common.Address, txHash common.Hash, logIndex uint) error
}

// DuplicateEventError signals a unique-constraint violation on insert.
// Under normal operation this indicates overlapping batches (a logic
// bug) and is fatal to the fetch cycle. Under post-crash recovery it
// should be tolerated when the offending row's content matches.
type DuplicateEventError struct {
	ContractAddress common.Address
	TransactionHash common.Hash
	LogIndex        uint
}

func (e *DuplicateEventError) Error() string {
	return "chainwatch: duplicate buffered event for " + e.ContractAddress.Hex() +
		" tx=" + e.TransactionHash.Hex()
}

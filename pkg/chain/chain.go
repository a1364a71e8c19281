// Package chain defines the data model and the chain-facing interface
// the event pipeline consumes. Implementations live in internal/rpcsource;
// this package only fixes the contract so the pipeline can be tested
// against a fake.
package chain

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
)

// BlockRef identifies a block by number and hash. Equality is by hash
// at a given number.
type BlockRef struct {
	Number uint64
	Hash   common.Hash
}

// Equal reports whether two refs name the same block.
func (b BlockRef) Equal(other BlockRef) bool {
	return b.Number == other.Number && b.Hash == other.Hash
}

// IsZero reports whether the ref was never assigned.
func (b BlockRef) IsZero() bool {
	return b.Number == 0 && b.Hash == (common.Hash{})
}

// LogRecord is a decoded contract log as delivered by the ABI/decoder
// layer external to this module. Identity is (TxHash, LogIndex);
// (BlockNumber, TxHash, LogIndex) is also unique.
type LogRecord struct {
	BlockNumber     uint64
	BlockHash       common.Hash
	TransactionHash common.Hash
	LogIndex        uint
	Address         common.Address
	EventName       string
	Topics          []common.Hash
	DecodedPayload  []byte
}

// Identity returns the unique key used by the confirmation buffer.
func (l LogRecord) Identity() (common.Address, common.Hash, uint) {
	return l.Address, l.TransactionHash, l.LogIndex
}

// LatestBlockTag requests the chain head from GetBlockHeader.
const LatestBlockTag uint64 = ^uint64(0)

// LogSource is the thin adapter over the chain RPC the core pipeline
// consumes: a closed-interval log range fetch and a block header
// lookup. Retry policy (e.g. splitting an oversized eth_getLogs range)
// belongs to the adapter, not to the core.
type LogSource interface {
	// GetBlockHeader fetches a header by number, or the chain head when
	// number equals LatestBlockTag.
	GetBlockHeader(ctx context.Context, number uint64) (BlockRef, error)

	// GetPastLogs fetches logs over the closed interval [fromBlock, toBlock]
	// filtered by contract address and (optionally nested OR-of-topics)
	// topic filter. A nil/empty topics filter matches every topic.
	GetPastLogs(ctx context.Context, fromBlock, toBlock uint64, address common.Address, topics [][]common.Hash) ([]LogRecord, error)
}

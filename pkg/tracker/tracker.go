// Package tracker defines the BlockTracker contract: the two durable
// cursors (lastFetched, lastProcessed) an EventsEmitter advances as it
// scans the chain. Implementations live in internal/blocktracker.
package tracker

import (
	"context"

	"github.com/goran-ethernal/chainwatch/pkg/chain"
)

// Store is the persisted key-value surface a BlockTracker needs: two
// slots per emitter scope. Writes must be durable before the caller's
// next observable progress step.
type Store interface {
	// GetLastFetched returns the last block the emitter successfully
	// scanned logs up to, or nil if none has been recorded yet.
	GetLastFetched(ctx context.Context) (*chain.BlockRef, error)

	// SetLastFetched unconditionally overwrites the lastFetched cursor.
	SetLastFetched(ctx context.Context, ref chain.BlockRef) error

	// GetLastProcessed returns the last block whose events were fully
	// confirmed and emitted, or nil if none has been recorded yet.
	GetLastProcessed(ctx context.Context) (*chain.BlockRef, error)

	// SetLastProcessedIfHigher updates the lastProcessed cursor only
	// when ref.Number strictly exceeds the stored number, or none is
	// stored yet. The hash at the accepted number is always overwritten.
	SetLastProcessedIfHigher(ctx context.Context, ref chain.BlockRef) error
}

// State is a point-in-time snapshot of both cursors.
type State struct {
	LastFetched   *chain.BlockRef
	LastProcessed *chain.BlockRef
}

// Package confirmator is the default Confirmator from SPEC_FULL.md
// §4.5: on every new block it promotes buffered events whose depth has
// reached the target confirmation, reports progress on shallower rows,
// and discards rows whose transaction was dropped by a reorg. It holds
// a non-owning reference to the emitter's Dispatcher, repository, and
// block tracker rather than a back-edge to the EventsEmitter itself,
// breaking the emitter/confirmator cycle spec.md's Open Questions call
// out.
package confirmator

import (
	"context"
	"fmt"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/goran-ethernal/chainwatch/internal/emitter"
	"github.com/goran-ethernal/chainwatch/internal/logger"
	"github.com/goran-ethernal/chainwatch/internal/metrics"
	"github.com/goran-ethernal/chainwatch/pkg/buffer"
	"github.com/goran-ethernal/chainwatch/pkg/chain"
	"github.com/goran-ethernal/chainwatch/pkg/dispatch"
	pkgemitter "github.com/goran-ethernal/chainwatch/pkg/emitter"
	"github.com/goran-ethernal/chainwatch/pkg/tracker"
)

// Confirmator is the default confirmation-depth promoter.
type Confirmator struct {
	name     string
	contract common.Address

	source     chain.LogSource
	store      tracker.Store
	repo       buffer.Repository
	dispatcher dispatch.Dispatcher

	log *logger.Logger
}

// New builds a Confirmator scoped to one contract. dispatcher is the
// owning EventsEmitter's Dispatcher, shared so promoted events land on
// the same newEvent/error topics as directly fetched ones.
func New(
	name string,
	contract common.Address,
	source chain.LogSource,
	store tracker.Store,
	repo buffer.Repository,
	dispatcher dispatch.Dispatcher,
	log *logger.Logger,
) *Confirmator {
	if log == nil {
		log = logger.GetDefaultLogger()
	}
	return &Confirmator{
		name:       name,
		contract:   contract,
		source:     source,
		store:      store,
		repo:       repo,
		dispatcher: dispatcher,
		log:        log.WithComponent("confirmator").With("emitter_name", name),
	}
}

// RunConfirmationsRoutine implements spec §4.5: list every buffered
// row for the contract, promote those past target confirmation depth
// to newEvent (or invalidConfirmation if the transaction was dropped),
// and report progress on the rest via newConfirmation.
func (c *Confirmator) RunConfirmationsRoutine(ctx context.Context, head chain.BlockRef) error {
	rows, err := c.repo.FindAll(ctx, c.contract)
	if err != nil {
		return fmt.Errorf("chainwatch: confirmator failed to list buffered rows: %w", err)
	}

	sort.Slice(rows, func(i, j int) bool {
		if rows[i].BlockNumber != rows[j].BlockNumber {
			return rows[i].BlockNumber < rows[j].BlockNumber
		}
		return rows[i].LogIndex < rows[j].LogIndex
	})

	metrics.BufferDepthSet(c.name, len(rows))

	for _, row := range rows {
		if row.BlockNumber > head.Number {
			// Future block after a shallow reorg; handleReorg will clean it up.
			continue
		}

		depth := head.Number - row.BlockNumber
		if depth < row.TargetConfirmation {
			c.dispatcher.Publish(ctx, dispatch.TopicNewConfirmation, dispatch.ConfirmationNotice{
				Event:              row,
				Confirmations:      depth,
				TargetConfirmation: row.TargetConfirmation,
			})
			continue
		}

		if err := c.promote(ctx, row); err != nil {
			return err
		}
	}

	return nil
}

// promote handles a row whose depth has reached its target: verify the
// transaction is still on chain at the stored identity, then either
// discard it as dropped or deliver it as newEvent.
func (c *Confirmator) promote(ctx context.Context, row buffer.Event) error {
	onChain, err := c.stillOnChain(ctx, row)
	if err != nil {
		return fmt.Errorf("chainwatch: confirmator failed to verify %s tx=%s: %w", row.ContractAddress.Hex(), row.TransactionHash.Hex(), err)
	}

	if !onChain {
		metrics.ConfirmationInvalidatedInc(c.name)
		c.dispatcher.PublishAwait(ctx, dispatch.TopicInvalidConfirmation, dispatch.InvalidConfirmationNotice{Event: row})
		return c.destroy(ctx, row)
	}

	record, err := emitter.DecodeLogRecord(row.Content)
	if err != nil {
		return fmt.Errorf("chainwatch: confirmator failed to decode buffered content: %w", err)
	}

	metrics.ConfirmationPromotedInc(c.name)
	c.dispatcher.PublishAwait(ctx, dispatch.TopicNewEvent, dispatch.NewEventNotice{Event: record})

	if err := c.store.SetLastProcessedIfHigher(ctx, row.BlockRef()); err != nil {
		return &pkgemitter.StorageError{Op: "SetLastProcessedIfHigher", Err: err}
	}
	metrics.LastProcessedBlockSet(c.name, row.BlockNumber)

	return c.destroy(ctx, row)
}

func (c *Confirmator) destroy(ctx context.Context, row buffer.Event) error {
	if err := c.repo.DestroyOne(ctx, row.ContractAddress, row.TransactionHash, row.LogIndex); err != nil {
		return &pkgemitter.StorageError{Op: "DestroyOne", Err: err}
	}
	return nil
}

// stillOnChain re-fetches logs at the row's stored block number and
// reports whether its (transactionHash, logIndex) identity is still
// present, i.e. the transaction was not dropped by an intervening
// reorg the emitter's own detection missed (e.g. a reorg entirely
// within the confirmation window that never changed lastFetched's
// hash at a later height).
func (c *Confirmator) stillOnChain(ctx context.Context, row buffer.Event) (bool, error) {
	logs, err := c.source.GetPastLogs(ctx, row.BlockNumber, row.BlockNumber, row.ContractAddress, nil)
	if err != nil {
		return false, err
	}

	for _, l := range logs {
		if l.TransactionHash == row.TransactionHash && l.LogIndex == row.LogIndex {
			return true, nil
		}
	}
	return false, nil
}

package emitter

import (
	"context"
	"errors"

	"github.com/goran-ethernal/chainwatch/internal/metrics"
	"github.com/goran-ethernal/chainwatch/pkg/buffer"
	"github.com/goran-ethernal/chainwatch/pkg/chain"
	"github.com/goran-ethernal/chainwatch/pkg/dispatch"
	"github.com/goran-ethernal/chainwatch/pkg/emitter"
)

// isReorg implements spec §4.4's isReorg(): absent lastFetched means
// no reorg is possible yet; otherwise the stored hash at lastFetched
// is compared against the chain's current hash at that height. A
// mismatch also checks lastProcessed for out-of-range damage before
// reporting the reorg.
func (e *EventsEmitter) isReorg(ctx context.Context) (bool, error) {
	lastFetched, err := e.store.GetLastFetched(ctx)
	if err != nil {
		return false, &emitter.StorageError{Op: "GetLastFetched", Err: err}
	}
	if lastFetched == nil {
		return false, nil
	}

	header, err := e.source.GetBlockHeader(ctx, lastFetched.Number)
	if err != nil {
		return false, &emitter.TransientRPCError{Op: "GetBlockHeader(lastFetched)", Err: err}
	}
	if header.Hash == lastFetched.Hash {
		return false, nil
	}

	lastProcessed, err := e.store.GetLastProcessed(ctx)
	if err != nil {
		return false, &emitter.StorageError{Op: "GetLastProcessed", Err: err}
	}
	if lastProcessed != nil {
		procHeader, err := e.source.GetBlockHeader(ctx, lastProcessed.Number)
		if err == nil && procHeader.Hash != lastProcessed.Hash {
			e.dispatcher.PublishAwait(ctx, dispatch.TopicReorgOutOfRange, dispatch.ReorgOutOfRangeNotice{
				ContractAddress: e.cfg.ContractAddress,
				BlockNumber:     lastProcessed.Number,
			})
		}
	}

	metrics.ReorgDetectedInc(e.name, "shallow")
	e.dispatcher.PublishAwait(ctx, dispatch.TopicReorg, dispatch.ReorgNotice{
		ContractAddress: e.cfg.ContractAddress,
		AtBlock:         header,
	})
	return true, nil
}

// handleReorg implements spec §4.4's handleReorg(currentBlock):
// refetch the affected range, report every buffered row whose tx was
// dropped as invalidConfirmation, clear the buffer, then reclassify
// the refetched set as a single batch covering the whole range.
func (e *EventsEmitter) handleReorg(ctx context.Context, currentBlock chain.BlockRef, onBatch func(emitter.Batch) error) error {
	lastProcessed, err := e.store.GetLastProcessed(ctx)
	if err != nil {
		return &emitter.StorageError{Op: "GetLastProcessed", Err: err}
	}

	var from uint64
	if lastProcessed != nil {
		from = lastProcessed.Number + 1
	} else {
		from = e.cfg.StartingBlock.Resolve(currentBlock.Number)
	}
	to := currentBlock.Number

	var refetched []chain.LogRecord
	if from <= to {
		refetched, err = e.source.GetPastLogs(ctx, from, to, e.cfg.ContractAddress, e.cfg.Topics)
		if err != nil {
			return &emitter.TransientRPCError{Op: "GetPastLogs(reorg)", Err: err}
		}
		refetched = filterByEventName(refetched, e.cfg.Events)
	}

	if err := e.checkDroppedTransactions(ctx, refetched); err != nil {
		return err
	}

	if err := e.repo.DestroyAll(ctx, e.cfg.ContractAddress); err != nil {
		return &emitter.StorageError{Op: "DestroyAll", Err: err}
	}

	confirmed, buffered, err := classify(refetched, currentBlock.Number, e.cfg.Confirmations)
	if err != nil {
		return err
	}

	if len(buffered) > 0 {
		if err := e.repo.BulkInsert(ctx, buffered); err != nil {
			var dup *buffer.DuplicateEventError
			if errors.As(err, &dup) {
				return err
			}
			return &emitter.StorageError{Op: "BulkInsert", Err: err}
		}
	}

	if err := e.store.SetLastFetched(ctx, currentBlock); err != nil {
		return &emitter.StorageError{Op: "SetLastFetched", Err: err}
	}
	metrics.LastFetchedBlockSet(e.name, currentBlock.Number)

	e.publishProgress(ctx, 1, 1, from, to)
	e.publishNewEvents(ctx, confirmed)

	batch := emitter.Batch{
		StepsComplete: 1,
		TotalSteps:    1,
		StepFromBlock: from,
		StepToBlock:   to,
		Events:        confirmed,
	}
	if onBatch != nil {
		if err := onBatch(batch); err != nil {
			return err
		}
	}

	return nil
}

// checkDroppedTransactions is spec §4.4's remediation helper: any
// buffered row for this contract whose (txHash, logIndex) is absent
// from the refetched set was dropped by the reorg and is reported on
// invalidConfirmation.
func (e *EventsEmitter) checkDroppedTransactions(ctx context.Context, refetched []chain.LogRecord) error {
	buffered, err := e.repo.FindAll(ctx, e.cfg.ContractAddress)
	if err != nil {
		return &emitter.StorageError{Op: "FindAll", Err: err}
	}
	if len(buffered) == 0 {
		return nil
	}

	present := make(map[eventKey]struct{}, len(refetched))
	for _, l := range refetched {
		present[keyOf(l)] = struct{}{}
	}

	for _, row := range buffered {
		key := eventKey{txHash: row.TransactionHash.Hex(), logIndex: row.LogIndex}
		if _, ok := present[key]; ok {
			continue
		}
		metrics.ConfirmationInvalidatedInc(e.name)
		e.dispatcher.PublishAwait(ctx, dispatch.TopicInvalidConfirmation, dispatch.InvalidConfirmationNotice{Event: row})
	}

	return nil
}

// Package emitter is the default emitter.EventsEmitter: the
// single-permit-gated fetch pipeline described in SPEC_FULL.md §4.4,
// generalizing the teacher's IndexerCoordinator registration/fan-out
// pattern onto a single contract's batched log scan, reorg detection,
// and confirmation-depth classification.
package emitter

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goran-ethernal/chainwatch/internal/dispatcher"
	"github.com/goran-ethernal/chainwatch/internal/logger"
	"github.com/goran-ethernal/chainwatch/internal/metrics"
	"github.com/goran-ethernal/chainwatch/pkg/buffer"
	"github.com/goran-ethernal/chainwatch/pkg/chain"
	"github.com/goran-ethernal/chainwatch/pkg/dispatch"
	"github.com/goran-ethernal/chainwatch/pkg/emitter"
	"github.com/goran-ethernal/chainwatch/pkg/tracker"
	"golang.org/x/sync/semaphore"
)

var _ emitter.EventsEmitter = (*EventsEmitter)(nil)

// EventsEmitter is the default emitter.EventsEmitter.
type EventsEmitter struct {
	name string
	cfg  emitter.Config

	source chain.LogSource
	store  tracker.Store
	repo   buffer.Repository

	dispatcher *dispatcher.Dispatcher
	gate       *semaphore.Weighted

	log *logger.Logger
}

// New constructs an EventsEmitter. name scopes metrics/logging and is
// typically also the tracker.Store's emitter key. cfg is validated
// and defaulted in place.
func New(
	name string,
	cfg emitter.Config,
	source chain.LogSource,
	store tracker.Store,
	repo buffer.Repository,
	log *logger.Logger,
) (*EventsEmitter, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	// The client-side Events filter applies only when no Topics (which
	// by now include any hashed EventSignatures) are set.
	if len(cfg.Topics) > 0 {
		cfg.Events = nil
	}
	if log == nil {
		log = logger.GetDefaultLogger()
	}

	return &EventsEmitter{
		name:       name,
		cfg:        cfg,
		source:     source,
		store:      store,
		repo:       repo,
		dispatcher: dispatcher.New(cfg.SerialListeners, log),
		gate:       semaphore.NewWeighted(1),
		log:        log.WithComponent("emitter").With("emitter_name", name),
	}, nil
}

// Dispatcher returns the emitter's Dispatcher.
func (e *EventsEmitter) Dispatcher() dispatch.Dispatcher {
	return e.dispatcher
}

// Fetch runs one fetch cycle, blocking until it completes. At most one
// concurrent fetch per emitter ever runs; concurrent callers wait on
// the single-permit gate rather than failing.
func (e *EventsEmitter) Fetch(ctx context.Context, currentBlock *chain.BlockRef, onBatch func(emitter.Batch) error) error {
	return e.fetchAndMaybeConfirm(ctx, currentBlock, onBatch, nil)
}

// FetchAndConfirm runs one fetch cycle followed by confirm, both under
// the same held fetch gate. This is spec §4.7's requirement that
// fetch() and runConfirmationsRoutine() never race the buffer: confirm
// is typically Confirmator.RunConfirmationsRoutine, invoked with the
// same resolved head the fetch cycle just used.
func (e *EventsEmitter) FetchAndConfirm(
	ctx context.Context,
	currentBlock *chain.BlockRef,
	onBatch func(emitter.Batch) error,
	confirm func(ctx context.Context, head chain.BlockRef) error,
) error {
	return e.fetchAndMaybeConfirm(ctx, currentBlock, onBatch, confirm)
}

func (e *EventsEmitter) fetchAndMaybeConfirm(
	ctx context.Context,
	currentBlock *chain.BlockRef,
	onBatch func(emitter.Batch) error,
	confirm func(ctx context.Context, head chain.BlockRef) error,
) error {
	if err := e.gate.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("chainwatch: failed to acquire fetch gate: %w", err)
	}
	defer e.gate.Release(1)

	start := time.Now()
	outcome := "ok"
	defer func() {
		metrics.FetchCycleInc(e.name, outcome)
		metrics.FetchCycleDurationLog(e.name, time.Since(start))
	}()

	head, err := e.resolveCurrentBlock(ctx, currentBlock)
	if err != nil {
		outcome = "transient_rpc_error"
		e.publishError(ctx, err)
		return err
	}

	if err := e.runCycle(ctx, head, onBatch, &outcome); err != nil {
		e.publishError(ctx, err)
		return err
	}

	if confirm != nil {
		if err := confirm(ctx, head); err != nil {
			outcome = "storage_error"
			e.publishError(ctx, err)
			return err
		}
	}

	return nil
}

// runCycle is fetchAndMaybeConfirm's body, factored out so every
// returned error uniformly routes to the error topic per spec §7's
// at-least-once delivery contract, on top of being returned directly.
func (e *EventsEmitter) runCycle(ctx context.Context, head chain.BlockRef, onBatch func(emitter.Batch) error, outcome *string) error {
	if e.cfg.Confirmations > 0 {
		isReorgDetected, err := e.isReorg(ctx)
		if err != nil {
			*outcome = "transient_rpc_error"
			return err
		}
		if isReorgDetected {
			if err := e.handleReorg(ctx, head, onBatch); err != nil {
				*outcome = classifyErrOutcome(err)
				return err
			}
			return nil
		}
	}

	return e.forwardFetch(ctx, head, onBatch, outcome)
}

func (e *EventsEmitter) resolveCurrentBlock(ctx context.Context, currentBlock *chain.BlockRef) (chain.BlockRef, error) {
	if currentBlock != nil {
		return *currentBlock, nil
	}

	head, err := e.source.GetBlockHeader(ctx, chain.LatestBlockTag)
	if err != nil {
		return chain.BlockRef{}, &emitter.TransientRPCError{Op: "GetBlockHeader(latest)", Err: err}
	}
	return head, nil
}

// forwardFetch performs the normal (non-reorg) batched scan from
// lastFetched+1 (or the starting block) up to head.
func (e *EventsEmitter) forwardFetch(ctx context.Context, head chain.BlockRef, onBatch func(emitter.Batch) error, outcome *string) error {
	lastFetched, err := e.store.GetLastFetched(ctx)
	if err != nil {
		*outcome = "storage_error"
		return &emitter.StorageError{Op: "GetLastFetched", Err: err}
	}

	var from uint64
	if lastFetched != nil {
		from = lastFetched.Number + 1
	} else {
		from = e.cfg.StartingBlock.Resolve(head.Number)
	}
	to := head.Number

	if from > to {
		return nil
	}

	total := numBatches(from, to, e.cfg.BatchSize)
	for i := uint64(0); i < total; i++ {
		stepFrom, stepTo := batchRange(from, to, e.cfg.BatchSize, i)

		if err := e.runBatch(ctx, i+1, total, stepFrom, stepTo, head, onBatch); err != nil {
			*outcome = classifyErrOutcome(err)
			return err
		}
	}

	return nil
}

func (e *EventsEmitter) runBatch(
	ctx context.Context,
	stepsComplete, totalSteps, stepFrom, stepTo uint64,
	head chain.BlockRef,
	onBatch func(emitter.Batch) error,
) error {
	logs, err := e.source.GetPastLogs(ctx, stepFrom, stepTo, e.cfg.ContractAddress, e.cfg.Topics)
	if err != nil {
		return &emitter.TransientRPCError{Op: "GetPastLogs", Err: err}
	}
	logs = filterByEventName(logs, e.cfg.Events)
	metrics.LogsFetchedInc(e.name, len(logs))

	stepHeader, err := e.source.GetBlockHeader(ctx, stepTo)
	if err != nil {
		return &emitter.TransientRPCError{Op: "GetBlockHeader", Err: err}
	}

	confirmed, buffered, err := classify(logs, head.Number, e.cfg.Confirmations)
	if err != nil {
		return fmt.Errorf("chainwatch: failed to classify batch [%d,%d]: %w", stepFrom, stepTo, err)
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

	if err := e.store.SetLastFetched(ctx, chain.BlockRef{Number: stepTo, Hash: stepHeader.Hash}); err != nil {
		return &emitter.StorageError{Op: "SetLastFetched", Err: err}
	}

	metrics.BlocksScannedInc(e.name, stepTo-stepFrom+1)
	metrics.LastFetchedBlockSet(e.name, stepTo)

	e.publishProgress(ctx, stepsComplete, totalSteps, stepFrom, stepTo)
	e.publishNewEvents(ctx, confirmed)

	batch := emitter.Batch{
		StepsComplete: stepsComplete,
		TotalSteps:    totalSteps,
		StepFromBlock: stepFrom,
		StepToBlock:   stepTo,
		Events:        confirmed,
	}
	if onBatch != nil {
		if err := onBatch(batch); err != nil {
			return fmt.Errorf("chainwatch: onBatch callback failed: %w", err)
		}
	}

	return nil
}

func (e *EventsEmitter) publishProgress(ctx context.Context, stepsComplete, totalSteps, from, to uint64) {
	notice := dispatch.ProgressInfo{
		StepsComplete: stepsComplete,
		TotalSteps:    totalSteps,
		StepFromBlock: from,
		StepToBlock:   to,
	}
	e.dispatcher.Publish(ctx, dispatch.TopicProgress, notice)
}

func (e *EventsEmitter) publishNewEvents(ctx context.Context, events []chain.LogRecord) {
	for _, ev := range events {
		metrics.EventsEmittedInc(e.name, 1)
		notice := dispatch.NewEventNotice{Event: ev}
		if e.cfg.SerialProcessing {
			e.dispatcher.PublishAwait(ctx, dispatch.TopicNewEvent, notice)
		} else {
			e.dispatcher.Publish(ctx, dispatch.TopicNewEvent, notice)
		}
	}
}

// publishError routes a pipeline failure to the error topic, mirroring
// SPEC_FULL.md §7's at-least-once delivery contract (errors surfaced
// as payloads, not panics or silent drops).
func (e *EventsEmitter) publishError(ctx context.Context, err error) {
	metrics.FailureInc(e.name, "transient")
	e.dispatcher.PublishAwait(ctx, dispatch.TopicError, dispatch.ErrorNotice{Err: err, Component: e.name})
}

func classifyErrOutcome(err error) string {
	var dup *buffer.DuplicateEventError
	if errors.As(err, &dup) {
		return "duplicate_event"
	}
	var storageErr *emitter.StorageError
	if errors.As(err, &storageErr) {
		return "storage_error"
	}
	return "transient_rpc_error"
}

// Package emitter defines the public contract of the fetch pipeline:
// the Batch shape yielded by EventsEmitter.Fetch, the configuration
// knobs from spec §6, and the error kinds from spec §7. Concrete
// implementations live in internal/emitter and internal/autoemitter.
package emitter

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/goran-ethernal/chainwatch/pkg/chain"
	"github.com/goran-ethernal/chainwatch/pkg/dispatch"
)

// Batch is one closed block range an EventsEmitter fetch cycle
// processed. Events holds only the logs already past the configured
// confirmation depth; anything shallower was written to the
// confirmation buffer instead and is not present here.
type Batch struct {
	StepsComplete uint64
	TotalSteps    uint64
	StepFromBlock uint64
	StepToBlock   uint64
	Events        []chain.LogRecord
}

// StartingBlock selects where a fresh (never-fetched) emitter begins.
type StartingBlock struct {
	// Genesis and Latest are mutually exclusive with Number; when
	// neither alias is set, Number is used verbatim.
	Genesis bool
	Latest  bool
	Number  uint64
}

// Genesis is the "genesis" starting-block alias (block 0).
func Genesis() StartingBlock { return StartingBlock{Genesis: true} }

// Latest is the "latest" starting-block alias (the current head at
// the time fetch is first called).
func Latest() StartingBlock { return StartingBlock{Latest: true} }

// AtBlock pins a fresh emitter to start at an explicit block number.
func AtBlock(n uint64) StartingBlock { return StartingBlock{Number: n} }

// Resolve returns the concrete starting block number given the
// current chain head, used when no lastFetched cursor exists yet.
func (s StartingBlock) Resolve(currentBlockNumber uint64) uint64 {
	switch {
	case s.Genesis:
		return 0
	case s.Latest:
		return currentBlockNumber
	default:
		return s.Number
	}
}

// Config holds the configuration knobs from spec §6. Construction
// fails with ConfigurationError if none of Topics, EventSignatures or
// Events is set. A zero BatchSize is replaced by the default (120)
// before validation, so construction does not reject it; Validate
// called on its own does.
type Config struct {
	ContractAddress common.Address

	// Topics is the server-side OR-of-topics filter: each inner slice
	// is OR'd together, positions are AND'd. Preferred over Events when
	// either it or EventSignatures is set. Values here are taken as
	// already-hashed 32-byte topics (e.g. an indexed address or uint256
	// argument value); to filter on an event signature itself, use
	// EventSignatures instead.
	Topics [][]common.Hash

	// EventSignatures is a list of human-readable event signatures
	// (e.g. "Transfer(address,address,uint256)") hashed with
	// keccak-256 at construction time and OR'd into topic position 0
	// of Topics. Lets callers configure the server-side filter without
	// computing the hash themselves.
	EventSignatures []string

	// Events is the client-side event-name filter, applied after fetch
	// when Topics and EventSignatures are both unset.
	Events []string

	// BatchSize is the number of blocks scanned per LogSource call.
	BatchSize uint64

	// Confirmations is the confirmation depth; zero disables buffering
	// entirely and every fetched log is yielded immediately.
	Confirmations uint64

	// StartingBlock selects where a fresh emitter begins.
	StartingBlock StartingBlock

	// SerialListeners selects the Dispatcher's fan-out strategy.
	SerialListeners bool

	// SerialProcessing makes fetch await full dispatch of event N
	// before dispatching event N+1.
	SerialProcessing bool
}

// ApplyDefaults fills in the spec §6 defaults for zero-valued fields
// and hashes EventSignatures into Topics[0], per spec.md's "raw event
// signatures are hashed (keccak-256) at construction time".
func (c *Config) ApplyDefaults() {
	if c.BatchSize == 0 {
		c.BatchSize = 120
	}
	if c.StartingBlock == (StartingBlock{}) {
		c.StartingBlock = Genesis()
	}

	if len(c.EventSignatures) > 0 {
		if len(c.Topics) == 0 {
			c.Topics = make([][]common.Hash, 1)
		}
		for _, sig := range c.EventSignatures {
			c.Topics[0] = append(c.Topics[0], crypto.Keccak256Hash([]byte(sig)))
		}
	}
}

// Validate enforces the construction-time invariants from spec §7.
// It runs after ApplyDefaults, by which point any EventSignatures
// have already been folded into Topics.
func (c *Config) Validate() error {
	if len(c.Topics) == 0 && len(c.Events) == 0 {
		return &ConfigurationError{Reason: "at least one of Topics, EventSignatures, or Events must be configured"}
	}
	if c.BatchSize == 0 {
		return &ConfigurationError{Reason: "BatchSize must be positive"}
	}
	return nil
}

// AutoConfig adds the AutoEventsEmitter-only knobs on top of Config.
type AutoConfig struct {
	Config

	// AutoStart, when true, starts the emitter on the first newEvent
	// subscription and stops it when the last such subscription is
	// removed.
	AutoStart bool

	// PollingIntervalMS is the polling interval in milliseconds
	// (default 5000). AutoEventsEmitter does not read it; a
	// PollingProducer polls at the interval passed to its own
	// constructor.
	PollingIntervalMS uint64
}

// ApplyDefaults fills in AutoConfig defaults, including the embedded
// Config's.
func (c *AutoConfig) ApplyDefaults() {
	c.Config.ApplyDefaults()
	if c.PollingIntervalMS == 0 {
		c.PollingIntervalMS = 5000
	}
}

// ConfigurationError is fatal at construction: missing topics/events,
// invalid starting block, or a non-positive batch size.
type ConfigurationError struct {
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("chainwatch: configuration error: %s", e.Reason)
}

// TransientRPCError wraps a LogSource failure. The cycle that produced
// it is aborted; cursors are left unchanged and the caller should
// retry on the next new block.
type TransientRPCError struct {
	Op  string
	Err error
}

func (e *TransientRPCError) Error() string {
	return fmt.Sprintf("chainwatch: transient rpc error during %s: %v", e.Op, e.Err)
}

func (e *TransientRPCError) Unwrap() error { return e.Err }

// StorageError wraps a BlockTracker or ConfirmationBuffer write
// failure. The cycle is aborted; cursors are left unchanged.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("chainwatch: storage error during %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// ListenerError wraps a user-callback failure. It is never fatal to
// the pipeline; the Dispatcher routes it to the error channel.
type ListenerError struct {
	Topic string
	Err   error
}

func (e *ListenerError) Error() string {
	return fmt.Sprintf("chainwatch: listener error on %s: %v", e.Topic, e.Err)
}

func (e *ListenerError) Unwrap() error { return e.Err }

// ErrFetchInProgress is returned by non-blocking fetch attempts (none
// currently exposed publicly, kept for forced-call callers) when the
// single-permit gate is already held.
var ErrFetchInProgress = errors.New("chainwatch: fetch already in progress")

// EventsEmitter is the manual fetch pipeline: batching, reorg check,
// classification into confirmed/buffered, dispatch. Fetch is
// restartable: each call is a fresh sequence guarded by the same
// single-permit gate so at most one concurrent fetch runs.
type EventsEmitter interface {
	// Fetch drives one fetch cycle against currentBlock (or the current
	// chain head when currentBlock is nil) and invokes onBatch once per
	// yielded batch, in order. It blocks until the cycle completes.
	Fetch(ctx context.Context, currentBlock *chain.BlockRef, onBatch func(Batch) error) error

	// Dispatcher returns the emitter's Dispatcher so callers can
	// subscribe to newEvent/progress/reorg/... before calling Fetch.
	Dispatcher() dispatch.Dispatcher
}

// Package dispatch defines the typed pub/sub surface EventsEmitter and
// AutoEventsEmitter publish on. The source library this was distilled
// from exposes event delivery through an ad-hoc event-emitter object;
// here each channel is a typed topic with its own payload type and an
// explicit subscribe/unsubscribe handle, so a caller can never
// misspell a channel name or receive the wrong payload shape.
package dispatch

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/goran-ethernal/chainwatch/pkg/buffer"
	"github.com/goran-ethernal/chainwatch/pkg/chain"
)

// Topic names the payload channels a Dispatcher routes.
type Topic string

const (
	TopicNewEvent            Topic = "newEvent"
	TopicProgress            Topic = "progress"
	TopicReorg               Topic = "reorg"
	TopicReorgOutOfRange     Topic = "reorgOutOfRange"
	TopicNewConfirmation     Topic = "newConfirmation"
	TopicInvalidConfirmation Topic = "invalidConfirmation"
	TopicInitFinished        Topic = "initFinished"
	TopicError               Topic = "error"
)

// ProgressInfo is emitted once per fetched batch.
type ProgressInfo struct {
	StepsComplete uint64
	TotalSteps    uint64
	StepFromBlock uint64
	StepToBlock   uint64
}

// ReorgNotice accompanies TopicReorg.
type ReorgNotice struct {
	ContractAddress common.Address
	AtBlock         chain.BlockRef
}

// ReorgOutOfRangeNotice accompanies TopicReorgOutOfRange. It is not an
// error: the library cannot repair already-delivered events past this
// point, so it only notifies.
type ReorgOutOfRangeNotice struct {
	ContractAddress common.Address
	BlockNumber     uint64
}

// ConfirmationNotice accompanies TopicNewConfirmation.
type ConfirmationNotice struct {
	Event               buffer.Event
	Confirmations       uint64
	TargetConfirmation  uint64
}

// InvalidConfirmationNotice accompanies TopicInvalidConfirmation: a
// buffered row whose transaction was dropped by a reorg.
type InvalidConfirmationNotice struct {
	Event buffer.Event
}

// NewEventNotice accompanies TopicNewEvent: a fully confirmed log,
// ready for the consumer to act on.
type NewEventNotice struct {
	Event chain.LogRecord
}

// ErrorNotice accompanies TopicError: every failure the core surfaces
// across its public boundary takes this shape, in addition to any
// error the failing call returns to its own caller.
type ErrorNotice struct {
	Err       error
	Component string
}

// InitFinishedNotice accompanies TopicInitFinished.
type InitFinishedNotice struct {
	ContractAddress common.Address
	LastFetched     chain.BlockRef
}

// Unsubscribe detaches a previously registered listener. Calling it
// more than once is a no-op.
type Unsubscribe func()

// Listener is a consumer callback for one topic. Returning an error
// routes an ErrorNotice back through the Dispatcher rather than
// propagating across the pipeline.
type Listener func(ctx context.Context, payload any) error

// Dispatcher is the subscriber registry and emission strategy shared
// by every topic on one emitter. Parallel fan-out (the default) calls
// every listener without awaiting completion; serial mode awaits each
// listener before calling the next and short-circuits that topic's
// dispatch on the first failure.
type Dispatcher interface {
	Subscribe(topic Topic, listener Listener) Unsubscribe
	SubscriberCount(topic Topic) int
	Publish(ctx context.Context, topic Topic, payload any)

	// PublishAwait is like Publish but blocks until dispatch to every
	// listener has returned (parallel mode) or the serial chain has run
	// to completion, regardless of serialProcessing configuration. The
	// EventsEmitter fetch pipeline uses this for TopicNewEvent when
	// serialProcessing is enabled.
	PublishAwait(ctx context.Context, topic Topic, payload any)
}

// Package autoemitter is the default AutoEventsEmitter from spec
// §4.7: it drives an EventsEmitter from a NewBlockProducer stream,
// runs the Confirmator under the same fetch gate on every new head,
// and implements the Created/Initializing/Running/Stopping/Stopped
// lifecycle plus the newEvent-subscription auto-start ref-count.
package autoemitter

import (
	"context"
	"fmt"
	"sync"

	"github.com/goran-ethernal/chainwatch/internal/confirmator"
	coreemitter "github.com/goran-ethernal/chainwatch/internal/emitter"
	"github.com/goran-ethernal/chainwatch/internal/logger"
	"github.com/goran-ethernal/chainwatch/internal/producer"
	"github.com/goran-ethernal/chainwatch/pkg/chain"
	"github.com/goran-ethernal/chainwatch/pkg/dispatch"
	"github.com/goran-ethernal/chainwatch/pkg/emitter"
)

// State is a position in the AutoEventsEmitter lifecycle.
type State int

const (
	Created State = iota
	Initializing
	Running
	Stopping
	Stopped
)

func (s State) String() string {
	switch s {
	case Created:
		return "created"
	case Initializing:
		return "initializing"
	case Running:
		return "running"
	case Stopping:
		return "stopping"
	case Stopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// AutoEventsEmitter is the default emitter.EventsEmitter wired to a
// NewBlockProducer: init() drains history, then every new head runs
// fetch + confirmation under the same gate.
type AutoEventsEmitter struct {
	mu    sync.Mutex
	state State

	name              string
	cfg               emitter.AutoConfig
	core              *coreemitter.EventsEmitter
	confirmer         *confirmator.Confirmator
	producer          producer.Producer
	unsubFromProducer producer.Unsubscribe

	newEventRefCount int

	log *logger.Logger
}

// New builds an AutoEventsEmitter. core and confirmer must share the
// same contract scope; confirmer is typically constructed with
// core.Dispatcher() so promoted events land on the same newEvent
// topic as directly fetched ones. When cfg.Confirmations is zero,
// confirmer may be nil: no buffering ever occurs.
func New(
	name string,
	cfg emitter.AutoConfig,
	core *coreemitter.EventsEmitter,
	confirmer *confirmator.Confirmator,
	prod producer.Producer,
	log *logger.Logger,
) *AutoEventsEmitter {
	cfg.ApplyDefaults()
	if log == nil {
		log = logger.GetDefaultLogger()
	}

	return &AutoEventsEmitter{
		name:      name,
		cfg:       cfg,
		core:      core,
		confirmer: confirmer,
		producer:  prod,
		state:     Created,
		log:       log.WithComponent("autoemitter").With("emitter_name", name),
	}
}

// Dispatcher returns the underlying EventsEmitter's Dispatcher.
func (a *AutoEventsEmitter) Dispatcher() dispatch.Dispatcher {
	return a.core.Dispatcher()
}

// Fetch satisfies emitter.EventsEmitter by delegating to the wrapped
// core emitter, bypassing the lifecycle state machine. Most callers
// should use Start instead; Fetch remains exposed for manual,
// one-shot draining (e.g. a CLI "catch up once" mode).
func (a *AutoEventsEmitter) Fetch(ctx context.Context, currentBlock *chain.BlockRef, onBatch func(emitter.Batch) error) error {
	return a.core.Fetch(ctx, currentBlock, onBatch)
}

// State returns the current lifecycle state.
func (a *AutoEventsEmitter) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// Start implements spec §4.7's Created→Initializing→Running
// transition: drain history via init(), then subscribe to the
// producer. A call while already Running or Initializing is a no-op.
func (a *AutoEventsEmitter) Start(ctx context.Context) error {
	a.mu.Lock()
	if a.state == Running || a.state == Initializing {
		a.mu.Unlock()
		return nil
	}
	a.state = Initializing
	a.mu.Unlock()

	if err := a.init(ctx); err != nil {
		a.mu.Lock()
		a.state = Created
		a.mu.Unlock()
		a.Dispatcher().PublishAwait(ctx, dispatch.TopicError, dispatch.ErrorNotice{Err: err, Component: a.name})
		return err
	}

	unsub := a.producer.Subscribe(a.onHeader, a.onProducerError)

	a.mu.Lock()
	a.unsubFromProducer = unsub
	a.state = Running
	a.mu.Unlock()

	return nil
}

// init runs one fetch cycle up to the current head, then emits
// initFinished. The cycle runs whether or not lastFetched is set: with
// no cursor it drains every past batch from the configured starting
// block, and with a cursor it resumes from lastFetched+1 (after the
// reorg check when confirmations are configured).
func (a *AutoEventsEmitter) init(ctx context.Context) error {
	if err := a.core.Fetch(ctx, nil, nil); err != nil {
		return fmt.Errorf("chainwatch: autoemitter init failed: %w", err)
	}

	a.Dispatcher().PublishAwait(ctx, dispatch.TopicInitFinished, dispatch.InitFinishedNotice{
		ContractAddress: a.cfg.ContractAddress,
	})
	return nil
}

// onHeader is the producer.Listener invoked for every new chain head
// while Running: fetch and (if confirmations are configured) the
// confirmation routine run back to back under the EventsEmitter's own
// gate, per spec §4.7/§5.
func (a *AutoEventsEmitter) onHeader(ctx context.Context, header chain.BlockRef) {
	a.mu.Lock()
	running := a.state == Running
	a.mu.Unlock()
	if !running {
		return
	}

	var confirm func(context.Context, chain.BlockRef) error
	if a.cfg.Confirmations > 0 && a.confirmer != nil {
		confirm = a.confirmer.RunConfirmationsRoutine
	}

	if err := a.core.FetchAndConfirm(ctx, &header, nil, confirm); err != nil {
		a.log.Warnf("fetch cycle at head %d failed: %v", header.Number, err)
	}
}

func (a *AutoEventsEmitter) onProducerError(err error) {
	a.log.Warnf("producer error: %v", err)
}

// Stop implements spec §4.7's stop(): unsubscribe from the producer
// so no new cycle starts. An in-flight cycle is never interrupted;
// Stop blocking would require waiting on the gate, which would defeat
// "never cancelled mid-batch", so Stop only prevents future cycles.
func (a *AutoEventsEmitter) Stop() error {
	a.mu.Lock()
	if a.state != Running {
		a.mu.Unlock()
		return nil
	}
	a.state = Stopping
	unsub := a.unsubFromProducer
	a.mu.Unlock()

	if unsub != nil {
		unsub()
	}

	a.mu.Lock()
	a.unsubFromProducer = nil
	a.state = Stopped
	a.mu.Unlock()

	return nil
}

// SubscribeNewEvent wraps Dispatcher().Subscribe(TopicNewEvent, ...)
// with the autoStart ref-count from spec §4.7: the first such
// subscription starts the emitter, the last removed one stops it.
// Callers that do not need auto-start semantics may subscribe
// directly via Dispatcher().
func (a *AutoEventsEmitter) SubscribeNewEvent(ctx context.Context, listener dispatch.Listener) dispatch.Unsubscribe {
	a.mu.Lock()
	a.newEventRefCount++
	first := a.newEventRefCount == 1
	a.mu.Unlock()

	if first && a.cfg.AutoStart {
		if err := a.Start(ctx); err != nil {
			a.log.Warnf("auto-start failed: %v", err)
		}
	}

	unsub := a.Dispatcher().Subscribe(dispatch.TopicNewEvent, listener)

	var once sync.Once
	return func() {
		once.Do(func() {
			unsub()
			a.mu.Lock()
			a.newEventRefCount--
			last := a.newEventRefCount == 0
			a.mu.Unlock()

			if last && a.cfg.AutoStart {
				if err := a.Stop(); err != nil {
					a.log.Warnf("auto-stop failed: %v", err)
				}
			}
		})
	}
}

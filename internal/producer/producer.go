// Package producer is the default NewBlockProducer from spec §4.2: a
// shared stream of new chain heads that one or more EventsEmitters
// subscribe to. Polling mode calls LogSource.GetBlockHeader(latest) on
// an interval; listening mode forwards headers pushed onto an
// external channel (e.g. a websocket subscription the caller owns).
// Both modes dedup by block number and route RPC failures to an error
// listener instead of stopping.
package producer

import (
	"context"
	"sync"
	"time"

	"github.com/goran-ethernal/chainwatch/internal/logger"
	"github.com/goran-ethernal/chainwatch/pkg/chain"
)

// Listener receives a newly observed chain head.
type Listener func(ctx context.Context, header chain.BlockRef)

// ErrorListener receives a producer-level failure (e.g. a transient
// RPC error polling for the latest header).
type ErrorListener func(err error)

// Unsubscribe detaches a previously registered pair of listeners.
// Calling it more than once is a no-op.
type Unsubscribe func()

// Producer is the shared new-block stream. It is started once and
// subscribed to by any number of consumers; each consumer must
// unsubscribe when it stops.
type Producer interface {
	Start(ctx context.Context) error
	Stop() error
	Subscribe(onHeader Listener, onError ErrorListener) Unsubscribe
}

type subscriber struct {
	onHeader Listener
	onError  ErrorListener
}

// base holds the subscriber registry and dedup state shared by both
// polling and listening producers.
type base struct {
	mu          sync.Mutex
	subscribers map[uint64]subscriber
	nextID      uint64
	lastEmitted *chain.BlockRef
	log         *logger.Logger
}

func newBase(log *logger.Logger) base {
	if log == nil {
		log = logger.GetDefaultLogger()
	}
	return base{
		subscribers: make(map[uint64]subscriber),
		log:         log.WithComponent("producer"),
	}
}

func (b *base) Subscribe(onHeader Listener, onError ErrorListener) Unsubscribe {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subscribers[id] = subscriber{onHeader: onHeader, onError: onError}
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subscribers, id)
			b.mu.Unlock()
		})
	}
}

// notifyHeader dedups header against the last emitted number and fans
// it out to every subscriber if it is new.
func (b *base) notifyHeader(ctx context.Context, header chain.BlockRef) {
	b.mu.Lock()
	if b.lastEmitted != nil && b.lastEmitted.Number == header.Number {
		b.mu.Unlock()
		return
	}
	b.lastEmitted = &header
	subs := make([]subscriber, 0, len(b.subscribers))
	for _, s := range b.subscribers {
		subs = append(subs, s)
	}
	b.mu.Unlock()

	for _, s := range subs {
		s.onHeader(ctx, header)
	}
}

func (b *base) notifyError(err error) {
	b.mu.Lock()
	subs := make([]subscriber, 0, len(b.subscribers))
	for _, s := range b.subscribers {
		subs = append(subs, s)
	}
	b.mu.Unlock()

	for _, s := range subs {
		if s.onError != nil {
			s.onError(err)
		}
	}
}

// PollingProducer polls LogSource.GetBlockHeader(latest) every
// interval and fans out new heads.
type PollingProducer struct {
	base

	source   chain.LogSource
	interval time.Duration

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

var _ Producer = (*PollingProducer)(nil)

// NewPollingProducer builds a PollingProducer that polls source every
// interval once started.
func NewPollingProducer(source chain.LogSource, interval time.Duration, log *logger.Logger) *PollingProducer {
	return &PollingProducer{
		base:     newBase(log),
		source:   source,
		interval: interval,
	}
}

// Start begins the polling loop in the background.
func (p *PollingProducer) Start(ctx context.Context) error {
	pollCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel

	p.wg.Add(1)
	go p.run(pollCtx)

	return nil
}

// Stop halts the polling loop and waits for it to exit.
func (p *PollingProducer) Stop() error {
	if p.cancel == nil {
		return nil
	}
	p.cancel()
	p.wg.Wait()
	return nil
}

func (p *PollingProducer) run(ctx context.Context) {
	defer p.wg.Done()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			header, err := p.source.GetBlockHeader(ctx, chain.LatestBlockTag)
			if err != nil {
				p.log.Warnf("failed to poll latest block header: %v", err)
				p.notifyError(err)
				continue
			}
			p.notifyHeader(ctx, header)
		}
	}
}

// ListeningProducer forwards headers pushed by an external source
// (e.g. a websocket eth_subscribe("newHeads") the caller manages) onto
// the same dedup/fan-out path as PollingProducer.
type ListeningProducer struct {
	base

	headers <-chan chain.BlockRef
	errs    <-chan error

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

var _ Producer = (*ListeningProducer)(nil)

// NewListeningProducer builds a ListeningProducer over externally
// produced header and error channels. Both are optional; a nil errs
// channel means the external source never reports errors.
func NewListeningProducer(headers <-chan chain.BlockRef, errs <-chan error, log *logger.Logger) *ListeningProducer {
	return &ListeningProducer{
		base:    newBase(log),
		headers: headers,
		errs:    errs,
	}
}

// Start begins forwarding pushed headers in the background.
func (p *ListeningProducer) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel

	p.wg.Add(1)
	go p.run(runCtx)

	return nil
}

// Stop halts forwarding and waits for it to exit.
func (p *ListeningProducer) Stop() error {
	if p.cancel == nil {
		return nil
	}
	p.cancel()
	p.wg.Wait()
	return nil
}

func (p *ListeningProducer) run(ctx context.Context) {
	defer p.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case header, ok := <-p.headers:
			if !ok {
				return
			}
			p.notifyHeader(ctx, header)
		case err, ok := <-p.errs:
			if !ok {
				p.errs = nil
				continue
			}
			p.log.Warnf("listening producer received error: %v", err)
			p.notifyError(err)
		}
	}
}

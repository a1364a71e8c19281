// Package dispatcher is the default dispatch.Dispatcher: a per-topic
// subscriber registry with two fan-out strategies, modeled on the
// teacher's IndexerCoordinator.HandleLogs concurrent fan-out
// (errgroup.Group over per-listener goroutines) but generalized from
// a fixed indexer list to an arbitrary Subscribe/Unsubscribe registry
// keyed by topic.
package dispatcher

import (
	"context"
	"sync"
	"time"

	"github.com/goran-ethernal/chainwatch/internal/logger"
	"github.com/goran-ethernal/chainwatch/internal/metrics"
	"github.com/goran-ethernal/chainwatch/pkg/dispatch"
	"github.com/goran-ethernal/chainwatch/pkg/emitter"
	"golang.org/x/sync/errgroup"
)

var _ dispatch.Dispatcher = (*Dispatcher)(nil)

type subscription struct {
	id       uint64
	listener dispatch.Listener
}

// Dispatcher is the default dispatch.Dispatcher. When serial is true,
// Publish behaves like PublishAwait: listeners for a topic run one at
// a time, in subscribe order, and the first error stops that topic's
// dispatch. Otherwise Publish fans every listener out concurrently and
// returns without waiting; PublishAwait always waits regardless of
// mode.
type Dispatcher struct {
	mu     sync.RWMutex
	topics map[dispatch.Topic][]subscription
	nextID uint64

	serial bool
	log    *logger.Logger
}

// New builds a Dispatcher. serial selects the fan-out strategy
// Publish uses (config.EmitterConfig.SerialListeners).
func New(serial bool, log *logger.Logger) *Dispatcher {
	if log == nil {
		log = logger.GetDefaultLogger()
	}
	return &Dispatcher{
		topics: make(map[dispatch.Topic][]subscription),
		serial: serial,
		log:    log.WithComponent("dispatcher"),
	}
}

// Subscribe registers listener on topic and returns a handle to detach
// it. Calling the handle more than once is a no-op.
func (d *Dispatcher) Subscribe(topic dispatch.Topic, listener dispatch.Listener) dispatch.Unsubscribe {
	d.mu.Lock()
	id := d.nextID
	d.nextID++
	d.topics[topic] = append(d.topics[topic], subscription{id: id, listener: listener})
	count := len(d.topics[topic])
	d.mu.Unlock()

	metrics.SubscriberCountSet(string(topic), count)

	var once sync.Once
	return func() {
		once.Do(func() {
			d.mu.Lock()
			subs := d.topics[topic]
			for i, s := range subs {
				if s.id == id {
					d.topics[topic] = append(subs[:i], subs[i+1:]...)
					break
				}
			}
			remaining := len(d.topics[topic])
			d.mu.Unlock()

			metrics.SubscriberCountSet(string(topic), remaining)
		})
	}
}

// SubscriberCount returns the number of listeners currently subscribed
// to topic.
func (d *Dispatcher) SubscriberCount(topic dispatch.Topic) int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.topics[topic])
}

// Publish dispatches payload to every listener on topic using the
// Dispatcher's configured fan-out strategy, without blocking the
// caller when running in parallel mode.
func (d *Dispatcher) Publish(ctx context.Context, topic dispatch.Topic, payload any) {
	if d.serial {
		d.dispatchSerial(ctx, topic, payload)
		return
	}
	d.dispatchParallel(ctx, topic, payload, false)
}

// PublishAwait dispatches payload to every listener on topic and
// blocks until dispatch has completed, regardless of the Dispatcher's
// configured mode.
func (d *Dispatcher) PublishAwait(ctx context.Context, topic dispatch.Topic, payload any) {
	if d.serial {
		d.dispatchSerial(ctx, topic, payload)
		return
	}
	d.dispatchParallel(ctx, topic, payload, true)
}

func (d *Dispatcher) listenersFor(topic dispatch.Topic) []dispatch.Listener {
	d.mu.RLock()
	defer d.mu.RUnlock()

	subs := d.topics[topic]
	listeners := make([]dispatch.Listener, len(subs))
	for i, s := range subs {
		listeners[i] = s.listener
	}
	return listeners
}

func (d *Dispatcher) dispatchParallel(ctx context.Context, topic dispatch.Topic, payload any, await bool) {
	listeners := d.listenersFor(topic)
	if len(listeners) == 0 {
		return
	}

	run := func() {
		start := time.Now()
		defer func() {
			metrics.DispatchLatencyLog(string(topic), time.Since(start))
		}()

		var g errgroup.Group
		for _, l := range listeners {
			listener := l
			g.Go(func() error {
				if err := listener(ctx, payload); err != nil {
					d.log.Warnf("listener on topic %s returned error: %v", topic, err)
					d.routeListenerError(ctx, topic, err)
				}
				return nil
			})
		}
		_ = g.Wait()
	}

	if await {
		run()
		return
	}
	go run()
}

func (d *Dispatcher) dispatchSerial(ctx context.Context, topic dispatch.Topic, payload any) {
	listeners := d.listenersFor(topic)
	if len(listeners) == 0 {
		return
	}

	start := time.Now()
	defer func() {
		metrics.DispatchLatencyLog(string(topic), time.Since(start))
	}()

	for _, listener := range listeners {
		if err := listener(ctx, payload); err != nil {
			d.log.Warnf("listener on topic %s returned error, stopping serial dispatch: %v", topic, err)
			d.routeListenerError(ctx, topic, err)
			return
		}
	}
}

// routeListenerError wraps a listener's returned error as a
// ListenerError and publishes it on TopicError, per SPEC_FULL.md §7:
// listener failures never propagate back into the pipeline, they are
// rerouted through the Dispatcher itself. A failure on TopicError's
// own listeners is only logged, to avoid recursing into itself.
func (d *Dispatcher) routeListenerError(ctx context.Context, topic dispatch.Topic, err error) {
	if topic == dispatch.TopicError {
		return
	}
	d.Publish(ctx, dispatch.TopicError, dispatch.ErrorNotice{
		Err:       &emitter.ListenerError{Topic: string(topic), Err: err},
		Component: "dispatcher",
	})
}

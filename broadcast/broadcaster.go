// SPDX-License-Identifier: ice License 1.0

// Package broadcast implements the relay's Broadcaster component (spec
// §4.4): a single logical queue that fans a freshly stored event out
// to every connection whose subscriptions might care, without ever
// blocking the goroutine that just finished writing the event to the
// store.
package broadcast

import (
	"log"

	"github.com/puzpuzpuz/xsync/v3"
	"github.com/rcrowley/go-metrics"

	"github.com/nostrwire/relay/model"
	"github.com/nostrwire/relay/subscription"
)

// Sink is a relay session's mailbox: a non-blocking best-effort
// delivery point identified by connection id. Deliver must never
// block; it reports whether the event was accepted.
type Sink interface {
	ConnID() string
	Deliver(ev *model.Event) bool
}

type job struct {
	event    *model.Event
	originID string
}

// Broadcaster owns the single queue described in spec §4.4. Candidate
// sinks for an event are discovered through a subscription.Index, so a
// broadcast never has to scan every open subscription.
type Broadcaster struct {
	index *subscription.Index
	sinks *xsync.Map // connID string -> Sink

	queue   chan job
	metrics metrics.Registry

	delivered metrics.Counter
	dropped   metrics.Counter
	queued    metrics.Counter
}

// queueDepth is the single queue's capacity. Spec §4.4 calls for
// best-effort, never-blocks-ingestion delivery; a bounded channel with
// a non-blocking send on both ends gives us that without unbounded
// memory growth under a slow consumer.
const queueDepth = 4096

// New starts a Broadcaster backed by index and returns it. Call Run in
// its own goroutine to start draining the queue.
func New(index *subscription.Index) *Broadcaster {
	reg := metrics.NewRegistry()
	b := &Broadcaster{
		index:     index,
		sinks:     xsync.NewMap(),
		queue:     make(chan job, queueDepth),
		metrics:   reg,
		delivered: metrics.NewCounter(),
		dropped:   metrics.NewCounter(),
		queued:    metrics.NewCounter(),
	}
	for name, c := range map[string]metrics.Counter{
		"broadcast.delivered": b.delivered,
		"broadcast.dropped":   b.dropped,
		"broadcast.queued":    b.queued,
	} {
		if err := reg.Register(name, c); err != nil {
			log.Panicf("ERROR: failed to register metric %v: %v", name, err)
		}
	}

	return b
}

// Metrics exposes the broadcaster's counters for the HTTP status
// endpoint or periodic logging.
func (b *Broadcaster) Metrics() metrics.Registry {
	return b.metrics
}

// RegisterSink makes sink a delivery target for future broadcasts. The
// relay session calls this once, on establishing its mailbox.
func (b *Broadcaster) RegisterSink(sink Sink) {
	b.sinks.Store(sink.ConnID(), sink)
}

// UnregisterSink removes connID as a delivery target. The relay
// session calls this on termination, after SubscriptionIndex.UnregisterAll.
func (b *Broadcaster) UnregisterSink(connID string) {
	b.sinks.Delete(connID)
}

// Broadcast enqueues ev for fan-out to every candidate connection
// other than originConnID. It never blocks: if the queue is full the
// event is dropped and the drop is counted, per spec §4.4's
// best-effort guarantee.
func (b *Broadcaster) Broadcast(ev *model.Event, originConnID string) {
	select {
	case b.queue <- job{event: ev, originID: originConnID}:
		b.queued.Inc(1)
	default:
		b.dropped.Inc(1)
	}
}

// Run drains the queue until the queue channel is closed by Close and
// every queued job has been delivered. Callers run it in its own
// goroutine; it is the Broadcaster's single consumer, matching the
// "single logical queue" requirement in spec §4.4.
func (b *Broadcaster) Run() {
	for j := range b.queue {
		b.deliver(j)
	}
}

// Close stops Run once the queue drains. Callers must stop calling
// Broadcast before calling Close.
func (b *Broadcaster) Close() {
	close(b.queue)
}

func (b *Broadcaster) deliver(j job) {
	for _, connID := range b.index.Candidates(j.event.PubKey) {
		if connID == j.originID {
			continue
		}
		sink, ok := b.sinks.Load(connID)
		if !ok {
			continue
		}
		if sink.(Sink).Deliver(j.event) {
			b.delivered.Inc(1)
		} else {
			b.dropped.Inc(1)
		}
	}
}

// Package bus implements the in-process event bus (C2): topic-filtered
// pub/sub with per-subscription bounded queues, drop-oldest backpressure,
// and a Dead Letter sink for observability. There is no cross-node
// distribution here — that is explicitly out of scope (spec §4.2).
package bus

import (
	"sync"

	"github.com/choreocore/node/envelope"
)

// DefaultQueueSize bounds every subscription's inbox unless the caller
// asks for a different size.
const DefaultQueueSize = 256

// Filter selects which envelopes a Subscription receives. An empty field
// matches anything.
type Filter struct {
	Kind   envelope.PayloadKind
	Sender envelope.SenderID
}

func (f Filter) matches(e *envelope.Envelope) bool {
	if f.Kind != "" && f.Kind != e.Kind {
		return false
	}
	if f.Sender != "" && f.Sender != e.SenderID {
		return false
	}
	return true
}

// DeadLetter records an envelope the bus had to drop because a
// subscription's queue was full, for observability (spec §4.2).
type DeadLetter struct {
	SubscriptionID int
	Envelope       *envelope.Envelope
}

// Subscription is a bounded, per-consumer FIFO of envelopes matching a
// Filter. The bus guarantees FIFO order within one Subscription; there is
// no guarantee of order across subscriptions (spec §5).
type Subscription struct {
	id     int
	filter Filter
	ch     chan *envelope.Envelope

	mu      sync.Mutex
	closed  bool
	dropped uint64 // loss counter for this subscription
}

// ID returns the subscription's bus-assigned identifier.
func (s *Subscription) ID() int { return s.id }

// C exposes the subscription's channel directly for use in select
// statements alongside a context's Done channel.
func (s *Subscription) C() <-chan *envelope.Envelope { return s.ch }

// Next blocks until an envelope is available or closed is reported. It is
// a thin convenience wrapper around C(); most Run loops select on C()
// directly so they can also watch a context or shutdown channel.
func (s *Subscription) Next() (*envelope.Envelope, bool) {
	e, ok := <-s.ch
	return e, ok
}

// Dropped returns the number of envelopes lost to backpressure on this
// subscription since it was created.
func (s *Subscription) Dropped() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

// Bus is the central in-process broadcaster. Publish fans an envelope out
// to every subscription whose Filter matches; Subscribe registers a new
// bounded consumer.
type Bus struct {
	mu          sync.RWMutex
	subs        map[int]*Subscription
	nextID      int
	deadLetters chan DeadLetter
	metrics     *Metrics
}

// New creates an empty Bus. deadLetterCap bounds the Dead Letter sink
// itself, so a storm of drops cannot turn into its own unbounded queue.
func New(deadLetterCap int) *Bus {
	return &Bus{
		subs:        make(map[int]*Subscription),
		deadLetters: make(chan DeadLetter, deadLetterCap),
		metrics:     newMetrics(),
	}
}

// Subscribe registers a new bounded subscription matching filter.
func (b *Bus) Subscribe(filter Filter) *Subscription {
	return b.SubscribeWithQueueSize(filter, DefaultQueueSize)
}

// SubscribeWithQueueSize is Subscribe with an explicit queue bound.
func (b *Bus) SubscribeWithQueueSize(filter Filter, queueSize int) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	sub := &Subscription{
		id:     b.nextID,
		filter: filter,
		ch:     make(chan *envelope.Envelope, queueSize),
	}
	b.subs[sub.id] = sub
	b.metrics.subscriptions.Inc()
	return sub
}

// Unsubscribe removes sub from the bus and closes its channel. Safe to
// call more than once.
func (b *Bus) Unsubscribe(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[sub.id]; !ok {
		return
	}
	delete(b.subs, sub.id)
	sub.mu.Lock()
	if !sub.closed {
		sub.closed = true
		close(sub.ch)
	}
	sub.mu.Unlock()
	b.metrics.subscriptions.Dec()
}

// Publish broadcasts e to every matching subscription. On a full queue the
// oldest message in that subscription is dropped to make room (drop-oldest
// backpressure, spec §4.2) and the drop is counted and recorded in the
// Dead Letter sink; Publish itself never blocks.
func (b *Bus) Publish(e *envelope.Envelope) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	b.metrics.published.Inc()
	for _, sub := range b.subs {
		if !sub.filter.matches(e) {
			continue
		}
		b.deliver(sub, e)
	}
}

func (b *Bus) deliver(sub *Subscription, e *envelope.Envelope) {
	select {
	case sub.ch <- e:
		return
	default:
	}

	// Queue full: drop the oldest entry, then retry once. If a concurrent
	// receiver has already made room, the retry still only ever adds one
	// message, preserving sub's FIFO order.
	select {
	case old := <-sub.ch:
		sub.mu.Lock()
		sub.dropped++
		sub.mu.Unlock()
		b.metrics.dropped.Inc()
		b.recordDeadLetter(sub.id, old)
	default:
	}

	select {
	case sub.ch <- e:
	default:
		// Another publisher raced us and refilled the queue between the
		// drain and this send; count this envelope as dropped too rather
		// than block Publish.
		sub.mu.Lock()
		sub.dropped++
		sub.mu.Unlock()
		b.metrics.dropped.Inc()
		b.recordDeadLetter(sub.id, e)
	}
}

func (b *Bus) recordDeadLetter(subID int, e *envelope.Envelope) {
	select {
	case b.deadLetters <- DeadLetter{SubscriptionID: subID, Envelope: e}:
	default:
		// Dead letter sink itself is full; the drop is still reflected in
		// the per-subscription counter and the metrics counter above.
	}
}

// DeadLetters exposes the Dead Letter sink for observability consumers.
func (b *Bus) DeadLetters() <-chan DeadLetter { return b.deadLetters }

// SubscriptionCount reports the number of currently active subscriptions.
func (b *Bus) SubscriptionCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

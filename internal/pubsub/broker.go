package pubsub

import (
	"context"
	"sync"
	"time"
)

// DefaultBuffer is the per-subscriber queue length.
const DefaultBuffer = 16

// Stats counts broker activity.
type Stats struct {
	Subscribers int
	Published   uint64
	// Dropped counts queued events discarded to make room for newer ones.
	Dropped uint64
}

// BrokerOption configures a Broker.
type BrokerOption func(*brokerConfig)

type brokerConfig struct {
	buffer int
	now    func() time.Time
}

// WithBuffer sets the per-subscriber queue length. Values below 1 mean 1.
func WithBuffer(n int) BrokerOption {
	return func(c *brokerConfig) {
		if n < 1 {
			n = 1
		}
		c.buffer = n
	}
}

// WithClock overrides the event timestamp source.
func WithClock(now func() time.Time) BrokerOption {
	return func(c *brokerConfig) { c.now = now }
}

// Broker delivers each published value to every subscriber without ever
// blocking the publisher. A slow subscriber loses its oldest queued events,
// never the newest. The last event is replayed to new subscribers so a late
// consumer starts from current state.
type Broker[T any] struct {
	cfg brokerConfig

	mu     sync.RWMutex
	subs   map[chan Event[T]]struct{}
	latest *Event[T]
	seq    uint64
	drops  uint64
	closed bool
	done   chan struct{}
}

// NewBroker creates an open broker.
func NewBroker[T any](opts ...BrokerOption) *Broker[T] {
	cfg := brokerConfig{buffer: DefaultBuffer, now: time.Now}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Broker[T]{
		cfg:  cfg,
		subs: make(map[chan Event[T]]struct{}),
		done: make(chan struct{}),
	}
}

// Subscribe returns a channel primed with the latest event, if any. It is
// closed when ctx is done or the broker closes. Subscribing to a closed
// broker returns a closed channel.
func (b *Broker[T]) Subscribe(ctx context.Context) <-chan Event[T] {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		ch := make(chan Event[T])
		close(ch)
		return ch
	}

	ch := make(chan Event[T], b.cfg.buffer)
	if b.latest != nil {
		ch <- *b.latest
	}
	b.subs[ch] = struct{}{}

	go b.unsubscribeOnDone(ctx, ch)
	return ch
}

func (b *Broker[T]) unsubscribeOnDone(ctx context.Context, ch chan Event[T]) {
	select {
	case <-ctx.Done():
	case <-b.done:
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[ch]; ok {
		delete(b.subs, ch)
		close(ch)
	}
}

// Publish stamps payload with the next sequence number and queues it for
// every subscriber. It is a no-op after Close.
func (b *Broker[T]) Publish(eventType EventType, payload T) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}

	b.seq++
	event := Event[T]{
		Type:      eventType,
		Seq:       b.seq,
		Payload:   payload,
		Timestamp: b.cfg.now(),
	}
	b.latest = &event

	for ch := range b.subs {
		if b.offer(ch, event) {
			continue
		}
		// Queue full: evict the oldest entry and try again.
		select {
		case <-ch:
			b.drops++
		default:
		}
		if !b.offer(ch, event) {
			b.drops++
		}
	}
}

func (b *Broker[T]) offer(ch chan Event[T], event Event[T]) bool {
	select {
	case ch <- event:
		return true
	default:
		return false
	}
}

// Latest returns the most recently published event.
func (b *Broker[T]) Latest() (Event[T], bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.latest == nil {
		return Event[T]{}, false
	}
	return *b.latest, true
}

// Stats reports current subscriber and delivery counts.
func (b *Broker[T]) Stats() Stats {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return Stats{Subscribers: len(b.subs), Published: b.seq, Dropped: b.drops}
}

// SubscriberCount returns the number of open subscriptions.
func (b *Broker[T]) SubscriberCount() int {
	return b.Stats().Subscribers
}

// Close closes every subscriber channel. Later calls do nothing.
func (b *Broker[T]) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	close(b.done)
	for ch := range b.subs {
		close(ch)
	}
	b.subs = nil
}

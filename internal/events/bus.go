package events

import (
	"context"
	"sync"
)

// DefaultBufferSize is used when a subscriber asks for bufSize <= 0.
const DefaultBufferSize = 256

// EventBus is a channel-based pub-sub event bus.
// Supports topic-based subscriptions and SubscribeAll for cross-topic consumption.
// Publishing never blocks: a full subscriber misses the event.
type EventBus struct {
	mu      sync.RWMutex
	subs    map[string][]chan Event // topic -> subscriber channels
	allSubs []chan Event            // channels subscribed to all topics
	dropMu  sync.Mutex
	dropped map[string]int // topic -> deliveries lost to full subscribers
	closed  bool
}

// NewEventBus creates a new event bus.
func NewEventBus() *EventBus {
	return &EventBus{
		subs:    make(map[string][]chan Event),
		allSubs: make([]chan Event, 0),
		dropped: make(map[string]int),
	}
}

// Subscribe creates a subscription to a specific topic.
// bufSize determines the channel buffer size (defaults to DefaultBufferSize if <= 0).
func (b *EventBus) Subscribe(topic string, bufSize int) <-chan Event {
	ch := make(chan Event, bufferSize(bufSize))

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		close(ch)
		return ch
	}

	b.subs[topic] = append(b.subs[topic], ch)
	return ch
}

// SubscribeAll creates a subscription to ALL topics.
func (b *EventBus) SubscribeAll(bufSize int) <-chan Event {
	ch := make(chan Event, bufferSize(bufSize))

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		close(ch)
		return ch
	}

	b.allSubs = append(b.allSubs, ch)
	return ch
}

// Publish sends an event to all subscribers of the given topic and to every
// SubscribeAll channel.
func (b *EventBus) Publish(topic string, event Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}

	lost := 0
	for _, ch := range b.subs[topic] {
		select {
		case ch <- event:
		default:
			lost++
		}
	}
	for _, ch := range b.allSubs {
		select {
		case ch <- event:
		default:
			lost++
		}
	}

	if lost > 0 {
		b.dropMu.Lock()
		b.dropped[topic] += lost
		b.dropMu.Unlock()
	}
}

// Dropped returns how many deliveries on topic were lost to full subscribers.
func (b *EventBus) Dropped(topic string) int {
	b.dropMu.Lock()
	defer b.dropMu.Unlock()
	return b.dropped[topic]
}

// Close closes the event bus and all subscriber channels.
// Safe to call multiple times (idempotent).
func (b *EventBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true

	for _, channels := range b.subs {
		for _, ch := range channels {
			close(ch)
		}
	}
	for _, ch := range b.allSubs {
		close(ch)
	}
}

func bufferSize(n int) int {
	if n <= 0 {
		return DefaultBufferSize
	}
	return n
}

type busKey struct{}

// WithBus returns a context carrying bus. Tasks spawned from it (and their
// descendants) publish lifecycle events to bus.
func WithBus(ctx context.Context, bus *EventBus) context.Context {
	return context.WithValue(ctx, busKey{}, bus)
}

// FromContext returns the bus carried by ctx, or nil.
func FromContext(ctx context.Context) *EventBus {
	bus, _ := ctx.Value(busKey{}).(*EventBus)
	return bus
}

// Package events provides fire-and-forget fan-out of domain events.
package events

import (
	"context"
	"sync"
	"time"
)

const defaultBufferSize = 64

// Type names a domain event.
type Type string

// Event types published by the core services.
const (
	PaymentMade      Type = "payment.made"
	PaymentFailed    Type = "payment.failed"
	JobQueued        Type = "job.queued"
	JobExecuted      Type = "job.executed"
	JobSkipped       Type = "job.skipped"
	MessageProcessed Type = "message.processed"
)

// Event is a single notification published on the bus.
type Event struct {
	At      time.Time         `json:"at"`
	Payload map[string]string `json:"payload,omitempty"`
	Type    Type              `json:"type"`
	Error   string            `json:"error,omitempty"`
}

// Publisher is implemented by anything that accepts events.
type Publisher interface {
	Publish(ctx context.Context, event Event) bool
}

// Bus delivers events to every subscriber without ever blocking the publisher.
type Bus struct {
	subscribers map[int]chan Event
	done        chan struct{}
	nextID      int
	mu          sync.RWMutex
	closeOnce   sync.Once
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{
		subscribers: make(map[int]chan Event),
		done:        make(chan struct{}),
	}
}

// Publish sends event to all current subscribers. Slow subscribers miss the
// event instead of stalling the caller. It returns false once the bus is closed.
func (b *Bus) Publish(ctx context.Context, event Event) bool {
	if b == nil {
		return false
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if event.At.IsZero() {
		event.At = time.Now().UTC()
	}

	select {
	case <-ctx.Done():
		return false
	case <-b.done:
		return false
	default:
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subscribers {
		select {
		case ch <- event:
		default:
		}
	}
	return true
}

// Subscribe returns a channel of events and a func that unsubscribes and
// closes it. The subscription also ends when ctx is done or the bus closes.
func (b *Bus) Subscribe(ctx context.Context, buffer int) (<-chan Event, func()) {
	if ctx == nil {
		ctx = context.Background()
	}
	if buffer <= 0 {
		buffer = defaultBufferSize
	}

	ch := make(chan Event, buffer)

	b.mu.Lock()
	select {
	case <-b.done:
		b.mu.Unlock()
		close(ch)
		return ch, func() {}
	default:
	}

	id := b.nextID
	b.nextID++
	b.subscribers[id] = ch
	b.mu.Unlock()

	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			b.mu.Lock()
			if eventCh, ok := b.subscribers[id]; ok {
				delete(b.subscribers, id)
				close(eventCh)
			}
			b.mu.Unlock()
		})
	}

	go func() {
		select {
		case <-ctx.Done():
		case <-b.done:
		}
		unsubscribe()
	}()

	return ch, unsubscribe
}

// Close stops delivery and closes all subscriber channels.
func (b *Bus) Close() {
	b.closeOnce.Do(func() {
		close(b.done)
		b.mu.Lock()
		for id, ch := range b.subscribers {
			delete(b.subscribers, id)
			close(ch)
		}
		b.mu.Unlock()
	})
}

// Package messaging fans domain events out to in-process subscribers.
package messaging

import (
	"sync"
	"sync/atomic"

	"esence/application/ports"
	"esence/domain/events"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const defaultBuffer = 64

// Subscription is one consumer of the broker
type Subscription struct {
	ID string
	C  <-chan events.DomainEvent

	ch      chan events.DomainEvent
	dropped atomic.Uint64
}

// Dropped returns how many events were skipped because C was full
func (s *Subscription) Dropped() uint64 {
	return s.dropped.Load()
}

// Broker delivers every published event to every subscriber. Publishing
// never blocks: a subscriber whose buffer is full misses the event.
type Broker struct {
	mu     sync.RWMutex
	subs   map[string]*Subscription
	closed bool
	logger *zap.Logger
}

// NewBroker creates a broker
func NewBroker(logger *zap.Logger) *Broker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Broker{
		subs:   make(map[string]*Subscription),
		logger: logger.Named("events"),
	}
}

// Subscribe registers a consumer with the given buffer size (0 means default)
func (b *Broker) Subscribe(buffer int) *Subscription {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	ch := make(chan events.DomainEvent, buffer)
	sub := &Subscription{ID: uuid.NewString(), C: ch, ch: ch}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return sub
	}
	b.subs[sub.ID] = sub
	return sub
}

// Unsubscribe removes sub and closes its channel
func (b *Broker) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[sub.ID]; ok {
		delete(b.subs, sub.ID)
		close(sub.ch)
	}
}

// Publish implements ports.EventPublisher
func (b *Broker) Publish(evts ...events.DomainEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for _, evt := range evts {
		for _, sub := range b.subs {
			select {
			case sub.ch <- evt:
			default:
				if sub.dropped.Add(1) == 1 {
					b.logger.Warn("subscriber is falling behind, dropping events",
						zap.String("subscriber", sub.ID),
						zap.String("event_type", evt.GetEventType()),
					)
				}
			}
		}
	}
}

// Len returns the number of subscribers
func (b *Broker) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Close closes every subscription; later publishes are ignored
func (b *Broker) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, sub := range b.subs {
		close(sub.ch)
		delete(b.subs, id)
	}
}

var _ ports.EventPublisher = (*Broker)(nil)

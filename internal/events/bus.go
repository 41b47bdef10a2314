// Package events provides the in-process event bus that decouples the
// service layer from the transports observing it.
package events

import (
	"sync"

	"github.com/haasonsaas/chathub/pkg/models"
)

// Handler receives every timeline entry persisted by the hub.
type Handler func(entry *models.TimelineEntry)

// Bus fans newly persisted timeline entries out to subscribers.
// Publish invokes handlers synchronously in subscription order; the
// service must not be blocked on anything slower than an in-memory
// hand-off, so handlers that do I/O should enqueue and return.
type Bus struct {
	mu       sync.RWMutex
	nextID   uint64
	handlers map[uint64]Handler
	order    []uint64
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{handlers: make(map[uint64]Handler)}
}

// Subscribe registers a handler and returns its cancel function.
// Calling cancel more than once is harmless.
func (b *Bus) Subscribe(h Handler) (cancel func()) {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.handlers[id] = h
	b.order = append(b.order, id)
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.handlers, id)
			for i, v := range b.order {
				if v == id {
					b.order = append(b.order[:i], b.order[i+1:]...)
					break
				}
			}
			b.mu.Unlock()
		})
	}
}

// Publish delivers entry to every current subscriber. The handler set is
// snapshotted under the read lock so subscribers may unsubscribe from
// within a handler without deadlocking.
func (b *Bus) Publish(entry *models.TimelineEntry) {
	b.mu.RLock()
	snapshot := make([]Handler, 0, len(b.order))
	for _, id := range b.order {
		if h, ok := b.handlers[id]; ok {
			snapshot = append(snapshot, h)
		}
	}
	b.mu.RUnlock()

	for _, h := range snapshot {
		h(entry)
	}
}

// Subscribers returns the current subscriber count.
func (b *Bus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.handlers)
}

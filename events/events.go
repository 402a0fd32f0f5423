// Package events carries engine-internal notifications to interested
// subscribers (logging, metrics, administration). The bus is an explicit
// object owned by the registry, not process-wide state.
package events

import "sync"

// StateChange is fired every time a channel transitions between lifecycle
// states. States travel as strings so subscribers do not depend on the
// channel package.
type StateChange struct {
	Channel string
	Old     string
	New     string
}

// Bus fans StateChange notifications out to all subscribers. Handlers run
// synchronously on the publishing goroutine and must not block.
type Bus struct {
	mu       sync.RWMutex
	handlers []func(StateChange)
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{}
}

// Subscribe registers a handler for state changes.
func (b *Bus) Subscribe(h func(StateChange)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = append(b.handlers, h)
}

// Publish delivers the event to every subscriber.
func (b *Bus) Publish(ev StateChange) {
	b.mu.RLock()
	handlers := b.handlers
	b.mu.RUnlock()
	for _, h := range handlers {
		h(ev)
	}
}

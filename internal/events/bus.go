package events

import (
	"sync"
	"time"
)

// Event represents a system event
type Event struct {
	Type      EventType              `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
	Module    string                 `json:"module"`
}

// Handler receives events. Handlers run on the emitting goroutine and must not block.
type Handler func(*Event)

type subscription struct {
	id        uint64
	eventType EventType // empty for every type
	handler   Handler
}

// Bus fans events out to subscribers
type Bus struct {
	mu     sync.RWMutex
	nextID uint64
	subs   []subscription
}

// NewBus creates an empty event bus
func NewBus() *Bus {
	return &Bus{}
}

// Subscribe registers a handler for one event type and returns a function that removes it
func (b *Bus) Subscribe(eventType EventType, handler Handler) func() {
	return b.add(eventType, handler)
}

// SubscribeAll registers a handler for every event type
func (b *Bus) SubscribeAll(handler Handler) func() {
	return b.add("", handler)
}

func (b *Bus) add(eventType EventType, handler Handler) func() {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.subs = append(b.subs, subscription{id: id, eventType: eventType, handler: handler})
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { b.remove(id) })
	}
}

func (b *Bus) remove(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, s := range b.subs {
		if s.id == id {
			b.subs = append(b.subs[:i:i], b.subs[i+1:]...)
			return
		}
	}
}

// Emit publishes an event to every matching subscriber
func (b *Bus) Emit(eventType EventType, module string, data map[string]interface{}) {
	event := &Event{
		Type:      eventType,
		Timestamp: time.Now(),
		Data:      data,
		Module:    module,
	}

	b.mu.RLock()
	handlers := make([]Handler, 0, len(b.subs))
	for _, s := range b.subs {
		if s.eventType == "" || s.eventType == eventType {
			handlers = append(handlers, s.handler)
		}
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		h(event)
	}
}

// Subscribers returns the number of registered handlers
func (b *Bus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

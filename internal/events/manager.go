package events

import (
	"encoding/json"
	"time"

	"github.com/rs/zerolog"
)

// Manager handles event emission and logging
type Manager struct {
	bus *Bus
	log zerolog.Logger
}

// NewManager creates a new event manager
func NewManager(bus *Bus, log zerolog.Logger) *Manager {
	return &Manager{
		bus: bus,
		log: log.With().Str("service", "events").Logger(),
	}
}

// Bus returns the underlying bus
func (m *Manager) Bus() *Bus {
	return m.bus
}

// Emit publishes an event to the bus and logs it
func (m *Manager) Emit(eventType EventType, module string, data map[string]interface{}) {
	m.bus.Emit(eventType, module, data)

	eventJSON, _ := json.Marshal(Event{Type: eventType, Timestamp: time.Now(), Data: data, Module: module})
	m.log.Debug().
		Str("event_type", string(eventType)).
		Str("module", module).
		RawJSON("event", eventJSON).
		Msg("Event emitted")
}

// EmitTyped publishes typed event data
func (m *Manager) EmitTyped(module string, data EventData) {
	m.Emit(data.EventType(), module, convertEventDataToMap(data))
}

// EmitError emits an error event
func (m *Manager) EmitError(module string, err error, context map[string]interface{}) {
	m.EmitTyped(module, &ErrorEventData{Error: err.Error(), Context: context})
}

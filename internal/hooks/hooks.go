// Package hooks dispatches console lifecycle events (agent changes, dialer
// transitions, history refreshes) to registered handlers.
package hooks

import (
	"context"
	"sync"

	"github.com/soyeahso/dialdeck/internal/logging"
)

// Event names.
const (
	EventAgentsLoaded   = "agents_loaded"
	EventAgentCreated   = "agent_created"
	EventAgentUpdated   = "agent_updated"
	EventAgentDeleted   = "agent_deleted"
	EventCallSubmitted  = "call_submitted"
	EventCallConnected  = "call_connected"
	EventCallFailed     = "call_failed"
	EventDialerIdle     = "dialer_idle"
	EventCallsRefreshed = "calls_refreshed"
	EventServerStart    = "server_start"
	EventServerStop     = "server_stop"
)

// AllEvents lists all known event names.
var AllEvents = []string{
	EventAgentsLoaded,
	EventAgentCreated,
	EventAgentUpdated,
	EventAgentDeleted,
	EventCallSubmitted,
	EventCallConnected,
	EventCallFailed,
	EventDialerIdle,
	EventCallsRefreshed,
	EventServerStart,
	EventServerStop,
}

// Payload carries event data to handlers.
type Payload struct {
	Event string         `json:"event"`
	Data  map[string]any `json:"data,omitempty"`
}

// Handler handles one event. A returned error is logged and does not stop
// the remaining handlers.
type Handler func(ctx context.Context, p Payload) error

// Manager holds handler registrations. A nil *Manager is valid and drops
// every event, so components can emit unconditionally.
type Manager struct {
	mu       sync.RWMutex
	handlers map[string][]namedHandler
	any      []namedHandler
	log      *logging.Logger
}

type namedHandler struct {
	name    string
	handler Handler
}

// NewManager creates a hook manager.
func NewManager(log *logging.Logger) *Manager {
	return &Manager{
		handlers: make(map[string][]namedHandler),
		log:      log.Sub("hooks"),
	}
}

// On registers a handler for one event.
func (m *Manager) On(event, name string, handler Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[event] = append(m.handlers[event], namedHandler{name: name, handler: handler})
	m.log.Debug().Str("event", event).Str("handler", name).Msg("hook registered")
}

// OnAny registers a handler that receives every event.
func (m *Manager) OnAny(name string, handler Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.any = append(m.any, namedHandler{name: name, handler: handler})
	m.log.Debug().Str("handler", name).Msg("catch-all hook registered")
}

// Off removes every handler with the given name, including catch-all ones.
func (m *Manager) Off(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for event, hs := range m.handlers {
		m.handlers[event] = without(hs, name)
	}
	m.any = without(m.any, name)
}

func without(hs []namedHandler, name string) []namedHandler {
	kept := make([]namedHandler, 0, len(hs))
	for _, h := range hs {
		if h.name != name {
			kept = append(kept, h)
		}
	}
	return kept
}

func (m *Manager) snapshot(event string) []namedHandler {
	m.mu.RLock()
	defer m.mu.RUnlock()
	hs := make([]namedHandler, 0, len(m.handlers[event])+len(m.any))
	hs = append(hs, m.handlers[event]...)
	hs = append(hs, m.any...)
	return hs
}

// Emit calls every handler for event synchronously, event-specific handlers
// first and then catch-all handlers, each group in registration order.
func (m *Manager) Emit(ctx context.Context, event string, data map[string]any) {
	if m == nil {
		return
	}
	handlers := m.snapshot(event)
	if len(handlers) == 0 {
		return
	}

	payload := Payload{Event: event, Data: data}
	for _, h := range handlers {
		if err := h.handler(ctx, payload); err != nil {
			m.log.Warn().
				Err(err).
				Str("event", event).
				Str("handler", h.name).
				Msg("hook handler error")
		}
	}
}

// Count returns the number of handlers that would receive event.
func (m *Manager) Count(event string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.handlers[event]) + len(m.any)
}

package service

import (
	"context"
	"encoding/json"
	"log"
	"sync"
)

// ─────────────────────────────────────────────────────────────
// EventEmitter — decouples services from whoever is listening
// ─────────────────────────────────────────────────────────────

// EventEmitter receives run events ("flow:completed", "flow:failed").
// The CLI logs them; the MCP server forwards them as notifications.
type EventEmitter interface {
	Emit(ctx context.Context, event string, data any)
}

// LogEmitter writes each event as one log line with a JSON payload.
type LogEmitter struct{}

func (LogEmitter) Emit(_ context.Context, event string, data any) {
	payload, err := json.Marshal(data)
	if err != nil {
		log.Printf("event %s: %v", event, err)
		return
	}
	log.Printf("event %s: %s", event, payload)
}

// EmitterFunc adapts a plain function to the EventEmitter interface.
type EmitterFunc func(ctx context.Context, event string, data any)

func (f EmitterFunc) Emit(ctx context.Context, event string, data any) { f(ctx, event, data) }

// MockEmitter is a test-friendly EventEmitter that records all calls.
type MockEmitter struct {
	mu     sync.Mutex
	Events []EmittedEvent
}

// EmittedEvent holds a single recorded emission for test assertions.
type EmittedEvent struct {
	Event string
	Data  any
}

func (m *MockEmitter) Emit(_ context.Context, event string, data any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Events = append(m.Events, EmittedEvent{Event: event, Data: data})
}

// Snapshot returns a copy of the recorded events.
func (m *MockEmitter) Snapshot() []EmittedEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]EmittedEvent(nil), m.Events...)
}

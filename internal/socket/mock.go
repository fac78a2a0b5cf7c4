package socket

import (
	"encoding/json"
	"fmt"
	"sync"
)

// Emitted is one event sent through a MockConn.
type Emitted struct {
	Event   string
	Payload json.RawMessage
}

// MockConn implements Conn for testing. It records emitted events and lets
// tests drive the connection lifecycle and server pushes synchronously.
type MockConn struct {
	emitter *Emitter

	mu           sync.Mutex
	id           string
	connected    bool
	closed       bool
	connectCalls int
	emitted      []Emitted
	emitErr      error
	onEmit       func(event string, payload json.RawMessage)

	// AutoConnect makes Connect simulate a successful connect.
	AutoConnect bool
}

// NewMockConn creates a disconnected MockConn.
func NewMockConn() *MockConn {
	return &MockConn{emitter: NewEmitter(), id: "mock-sid"}
}

// ID returns the mock session id while connected.
func (m *MockConn) ID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.connected {
		return ""
	}
	return m.id
}

// Connected reports the simulated connection state.
func (m *MockConn) Connected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

// Connect counts the call and, with AutoConnect, simulates a connect.
func (m *MockConn) Connect() {
	m.mu.Lock()
	m.connectCalls++
	m.closed = false
	auto := m.AutoConnect && !m.connected
	m.mu.Unlock()
	if auto {
		m.SimulateConnect()
	}
}

// Close marks the mock closed and dispatches a client disconnect if it was
// connected.
func (m *MockConn) Close() error {
	m.mu.Lock()
	was := m.connected
	m.connected = false
	m.closed = true
	m.mu.Unlock()
	if was {
		m.emitter.Dispatch(EventDisconnect, mustMarshal(DisconnectInfo{Reason: ReasonClientDisconnect}))
	}
	return nil
}

// Emit records the event. It fails when disconnected or when SetEmitError
// has configured an error.
func (m *MockConn) Emit(event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("mock conn: marshal %s: %w", event, err)
	}
	m.mu.Lock()
	if !m.connected {
		m.mu.Unlock()
		return fmt.Errorf("mock conn: emit %s: not connected", event)
	}
	if m.emitErr != nil {
		err := m.emitErr
		m.mu.Unlock()
		return err
	}
	m.emitted = append(m.emitted, Emitted{Event: event, Payload: data})
	hook := m.onEmit
	m.mu.Unlock()

	if hook != nil {
		hook(event, data)
	}
	return nil
}

// On registers h for event.
func (m *MockConn) On(event string, h Handler) func() { return m.emitter.On(event, h) }

// Once registers h for the next occurrence of event.
func (m *MockConn) Once(event string, h Handler) func() { return m.emitter.Once(event, h) }

// OnAny registers h for every event.
func (m *MockConn) OnAny(h AnyHandler) func() { return m.emitter.OnAny(h) }

// --- Test helpers ---

// SimulateConnect marks the mock connected and dispatches EventConnect.
func (m *MockConn) SimulateConnect() {
	m.mu.Lock()
	m.connected = true
	m.mu.Unlock()
	m.emitter.Dispatch(EventConnect, nil)
}

// SimulateDisconnect marks the mock disconnected and dispatches
// EventDisconnect with reason.
func (m *MockConn) SimulateDisconnect(reason string) {
	m.mu.Lock()
	m.connected = false
	m.mu.Unlock()
	m.emitter.Dispatch(EventDisconnect, mustMarshal(DisconnectInfo{Reason: reason}))
}

// SimulateConnectError dispatches EventConnectError.
func (m *MockConn) SimulateConnectError(message string) {
	m.mu.Lock()
	m.connected = false
	m.mu.Unlock()
	m.emitter.Dispatch(EventConnectError, mustMarshal(ConnectError{Message: message}))
}

// SimulateReconnectAttempt dispatches EventReconnectAttempt.
func (m *MockConn) SimulateReconnectAttempt(n int) {
	m.emitter.Dispatch(EventReconnectAttempt, mustMarshal(Attempt{Attempt: n}))
}

// SimulateReconnect marks the mock connected and dispatches EventReconnect
// followed by EventConnect, in the order a real client does.
func (m *MockConn) SimulateReconnect(n int) {
	m.mu.Lock()
	m.connected = true
	m.mu.Unlock()
	m.emitter.Dispatch(EventReconnect, mustMarshal(Attempt{Attempt: n}))
	m.emitter.Dispatch(EventConnect, nil)
}

// SimulateReconnectFailed dispatches EventReconnectFailed.
func (m *MockConn) SimulateReconnectFailed() {
	m.emitter.Dispatch(EventReconnectFailed, nil)
}

// SimulateEvent dispatches a server event with payload marshalled to JSON.
// A json.RawMessage, []byte or string payload is taken as raw JSON.
func (m *MockConn) SimulateEvent(event string, payload any) {
	var data json.RawMessage
	switch v := payload.(type) {
	case json.RawMessage:
		data = v
	case []byte:
		data = v
	case string:
		data = json.RawMessage(v)
	default:
		data = mustMarshal(v)
	}
	m.emitter.Dispatch(event, data)
}

// SetEmitError makes subsequent Emit calls fail with err (nil to clear).
func (m *MockConn) SetEmitError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.emitErr = err
}

// OnEmit installs a hook called after every recorded Emit, outside the lock.
// Tests use it to script server replies.
func (m *MockConn) OnEmit(fn func(event string, payload json.RawMessage)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onEmit = fn
}

// ConnectCalls returns how many times Connect was called.
func (m *MockConn) ConnectCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connectCalls
}

// Closed reports whether Close was called since the last Connect.
func (m *MockConn) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// Emitted returns a copy of every recorded emit.
func (m *MockConn) Emitted() []Emitted {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Emitted, len(m.emitted))
	copy(out, m.emitted)
	return out
}

// EmittedCount returns how many times event was emitted.
func (m *MockConn) EmittedCount(event string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, e := range m.emitted {
		if e.Event == event {
			n++
		}
	}
	return n
}

// LastEmitted returns the most recent emit of event.
func (m *MockConn) LastEmitted(event string) (Emitted, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.emitted) - 1; i >= 0; i-- {
		if m.emitted[i].Event == event {
			return m.emitted[i], true
		}
	}
	return Emitted{}, false
}

// Listeners returns the number of handlers registered for event.
func (m *MockConn) Listeners(event string) int {
	return m.emitter.Listeners(event)
}

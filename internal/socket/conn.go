// Package socket is the event-channel transport: a Socket.IO v4 client over
// WebSocket, the handler registry it dispatches through, and an in-memory
// Conn for tests.
package socket

import "encoding/json"

// Meta events are raised by the transport itself rather than the server.
const (
	EventConnect          = "connect"
	EventDisconnect       = "disconnect"
	EventConnectError     = "connect_error"
	EventReconnectAttempt = "reconnect_attempt"
	EventReconnect        = "reconnect"
	EventReconnectFailed  = "reconnect_failed"
)

// IsMeta reports whether event is raised by the transport.
func IsMeta(event string) bool {
	switch event {
	case EventConnect, EventDisconnect, EventConnectError,
		EventReconnectAttempt, EventReconnect, EventReconnectFailed:
		return true
	}
	return false
}

// Handler receives the raw JSON payload of an event. data is nil for events
// sent without a payload.
type Handler func(data json.RawMessage)

// AnyHandler receives every dispatched event.
type AnyHandler func(event string, data json.RawMessage)

// Conn is a handle on one event-channel connection. Every registration
// returns a func that removes exactly that registration.
type Conn interface {
	// ID is the server-assigned session id, empty while disconnected.
	ID() string
	Connected() bool
	// Connect starts connecting in the background. It is a no-op while a
	// connection or reconnection cycle is already running.
	Connect()
	// Close stops the connection and any pending reconnection.
	Close() error
	Emit(event string, payload any) error
	On(event string, h Handler) func()
	Once(event string, h Handler) func()
	OnAny(h AnyHandler) func()
}

// DisconnectInfo is the payload of EventDisconnect.
type DisconnectInfo struct {
	Reason string `json:"reason"`
}

// ConnectError is the payload of EventConnectError.
type ConnectError struct {
	Message string `json:"message"`
}

// Attempt is the payload of EventReconnectAttempt and EventReconnect.
type Attempt struct {
	Attempt int `json:"attempt"`
}

// Disconnect reasons, matching the ones Socket.IO servers and clients use.
const (
	ReasonClientDisconnect = "io client disconnect"
	ReasonServerDisconnect = "io server disconnect"
	ReasonTransportClose   = "transport close"
	ReasonTransportError   = "transport error"
	ReasonPingTimeout      = "ping timeout"
)

func mustMarshal(v any) json.RawMessage {
	if v == nil {
		return nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return data
}

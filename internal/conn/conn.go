// Package conn owns the single event-channel connection shared by every
// room, reconciliation and command layer.
package conn

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"sync"

	"github.com/zulandar/medqueue/internal/metrics"
	"github.com/zulandar/medqueue/internal/socket"
	"github.com/zulandar/medqueue/internal/telegraph"
)

// ErrNotConnected is returned by Emit while the connection is down.
var ErrNotConnected = errors.New("conn: not connected")

// DefaultMaxWarnings is how many connect errors in a row surface a notice.
const DefaultMaxWarnings = 2

// Notice titles.
const (
	TitleConnectionError  = "Connection Error"
	TitleConnectionFailed = "Connection Failed"
)

// State is the observable connection state.
type State struct {
	Connected bool
	Attempts  int
	// Failed is set once reconnection is exhausted and cleared by the next
	// successful connect.
	Failed bool
}

// Options configures a Manager.
type Options struct {
	// Dial creates a new transport handle. It must not connect it.
	Dial        func() socket.Conn
	Notifier    telegraph.Notifier
	Metrics     *metrics.Collector
	MaxWarnings int
}

// Manager owns at most one live transport handle. Events from the handle
// are re-dispatched through the manager, so subscriptions made on the
// manager survive handle replacement and see state already updated.
type Manager struct {
	dial        func() socket.Conn
	notifier    telegraph.Notifier
	metrics     *metrics.Collector
	maxWarnings int
	emitter     *socket.Emitter

	mu          sync.Mutex
	handle      socket.Conn
	detach      func()
	connected   bool
	attempts    int
	errorStreak int
	failed      bool
	nextSub     uint64
	subs        map[uint64]func(State)
}

// New creates a Manager. It does not connect.
func New(opts Options) *Manager {
	if opts.Notifier == nil {
		opts.Notifier = telegraph.Discard
	}
	if opts.MaxWarnings <= 0 {
		opts.MaxWarnings = DefaultMaxWarnings
	}
	return &Manager{
		dial:        opts.Dial,
		notifier:    opts.Notifier,
		metrics:     opts.Metrics,
		maxWarnings: opts.MaxWarnings,
		emitter:     socket.NewEmitter(),
		subs:        make(map[uint64]func(State)),
	}
}

// Connect creates the transport handle on first use and starts it. It is a
// no-op while the current handle reports connected; an existing handle
// that is down (for example after reconnection gave up) is restarted.
func (m *Manager) Connect() {
	m.mu.Lock()
	if m.handle != nil && m.handle.Connected() {
		m.mu.Unlock()
		return
	}
	h := m.handle
	if h == nil {
		if m.dial == nil {
			m.mu.Unlock()
			log.Printf("conn: no dialer configured")
			return
		}
		h = m.dial()
		m.handle = h
		m.detach = h.OnAny(func(event string, data json.RawMessage) {
			m.handleEvent(h, event, data)
		})
	}
	m.mu.Unlock()

	h.Connect()
}

// Disconnect detaches the manager from the handle, closes it and resets the
// state. Safe to call when there is no handle. Manager subscribers receive
// a client disconnect event if the connection was up.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	h, detach := m.handle, m.detach
	wasConnected := m.connected
	m.handle = nil
	m.detach = nil
	m.connected = false
	m.attempts = 0
	m.errorStreak = 0
	state := m.stateLocked()
	m.mu.Unlock()

	if h == nil {
		return
	}
	if detach != nil {
		detach()
	}
	if err := h.Close(); err != nil {
		log.Printf("conn: close: %v", err)
	}
	m.metrics.SetConnected(false)
	m.publish(state)
	if wasConnected {
		data, _ := json.Marshal(socket.DisconnectInfo{Reason: socket.ReasonClientDisconnect})
		m.emitter.Dispatch(socket.EventDisconnect, data)
	}
}

// IsConnected reports the connectivity flag.
func (m *Manager) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

// ConnectionAttempts returns the current reconnection attempt number.
func (m *Manager) ConnectionAttempts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attempts
}

// State returns a snapshot of the connection state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stateLocked()
}

// Conn returns the current transport handle, or nil.
func (m *Manager) Conn() socket.Conn {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.handle
}

// Subscribe registers fn for state changes.
func (m *Manager) Subscribe(fn func(State)) func() {
	m.mu.Lock()
	m.nextSub++
	id := m.nextSub
	m.subs[id] = fn
	m.mu.Unlock()
	return func() {
		m.mu.Lock()
		delete(m.subs, id)
		m.mu.Unlock()
	}
}

// Emit sends an event on the current handle.
func (m *Manager) Emit(event string, payload any) error {
	m.mu.Lock()
	h, connected := m.handle, m.connected
	m.mu.Unlock()
	if h == nil || !connected {
		return ErrNotConnected
	}
	return h.Emit(event, payload)
}

// On registers h for event on the manager.
func (m *Manager) On(event string, h socket.Handler) func() { return m.emitter.On(event, h) }

// Once registers h for the next occurrence of event on the manager.
func (m *Manager) Once(event string, h socket.Handler) func() { return m.emitter.Once(event, h) }

// OnAny registers h for every event the manager forwards.
func (m *Manager) OnAny(h socket.AnyHandler) func() { return m.emitter.OnAny(h) }

func (m *Manager) stateLocked() State {
	return State{Connected: m.connected, Attempts: m.attempts, Failed: m.failed}
}

// handleEvent folds meta events into the state, then forwards every event
// to manager subscribers. Events from a replaced handle are dropped.
func (m *Manager) handleEvent(h socket.Conn, event string, data json.RawMessage) {
	m.mu.Lock()
	if m.handle != h {
		m.mu.Unlock()
		return
	}
	var notice *telegraph.Notice
	changed := true
	switch event {
	case socket.EventConnect:
		m.connected = true
		m.attempts = 0
		m.errorStreak = 0
		m.failed = false
	case socket.EventDisconnect:
		m.connected = false
	case socket.EventConnectError:
		m.connected = false
		m.errorStreak++
		if m.errorStreak <= m.maxWarnings {
			notice = &telegraph.Notice{
				Title:    TitleConnectionError,
				Body:     "Having trouble connecting to the server. Retrying...",
				Severity: telegraph.SeverityWarning,
			}
		}
	case socket.EventReconnectAttempt:
		var a socket.Attempt
		if json.Unmarshal(data, &a) == nil && a.Attempt > 0 {
			m.attempts = a.Attempt
		} else {
			m.attempts++
		}
	case socket.EventReconnect:
		m.attempts = 0
	case socket.EventReconnectFailed:
		m.connected = false
		m.failed = true
		notice = &telegraph.Notice{
			Title:    TitleConnectionFailed,
			Body:     "Unable to reconnect to the server. Please check your internet connection and try again.",
			Severity: telegraph.SeverityError,
		}
	default:
		changed = false
	}
	state := m.stateLocked()
	m.mu.Unlock()

	switch event {
	case socket.EventConnect, socket.EventDisconnect, socket.EventConnectError, socket.EventReconnectFailed:
		m.metrics.SetConnected(state.Connected)
	case socket.EventReconnectAttempt:
		m.metrics.ReconnectAttempt()
		log.Printf("conn: reconnect attempt %d", state.Attempts)
	}
	if !socket.IsMeta(event) {
		m.metrics.EventReceived(event)
	}
	if notice != nil {
		telegraph.Send(context.Background(), m.notifier, *notice)
	}
	if changed {
		m.publish(state)
	}
	m.emitter.Dispatch(event, data)
}

func (m *Manager) publish(state State) {
	m.mu.Lock()
	fns := make([]func(State), 0, len(m.subs))
	for _, fn := range m.subs {
		fns = append(fns, fn)
	}
	m.mu.Unlock()
	for _, fn := range fns {
		fn(state)
	}
}

// Package session wires the connection, room, reconciliation, command and
// countdown layers into the two long-lived services a user runs: a
// Patient following their place in line and a Doctor managing a queue.
// Both are constructed explicitly, started with Start and torn down with
// Close, and both satisfy dashboard.Provider.
package session

import (
	"errors"
	"sync"

	"github.com/zulandar/medqueue/internal/conn"
)

var (
	// ErrRoomNotJoined is returned by doctor commands issued before the
	// server acknowledged the doctor room.
	ErrRoomNotJoined = errors.New("session: doctor room not joined yet")
	// ErrClosed is returned by Start after Close.
	ErrClosed = errors.New("session: closed")
)

// ConnectionView is the JSON form of the connection state.
type ConnectionView struct {
	Connected bool `json:"connected"`
	Attempts  int  `json:"attempts"`
	Failed    bool `json:"failed"`
}

func connectionView(s conn.State) ConnectionView {
	return ConnectionView{Connected: s.Connected, Attempts: s.Attempts, Failed: s.Failed}
}

// hub fans a bare change signal out to subscribers.
type hub struct {
	mu   sync.Mutex
	next uint64
	subs map[uint64]func()
}

func (h *hub) subscribe(fn func()) func() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.subs == nil {
		h.subs = make(map[uint64]func())
	}
	h.next++
	id := h.next
	h.subs[id] = fn
	return func() {
		h.mu.Lock()
		delete(h.subs, id)
		h.mu.Unlock()
	}
}

func (h *hub) fire() {
	h.mu.Lock()
	fns := make([]func(), 0, len(h.subs))
	for _, fn := range h.subs {
		fns = append(fns, fn)
	}
	h.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

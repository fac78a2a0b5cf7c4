package socket

import (
	"encoding/json"
	"sync"
)

type registration struct {
	id   uint64
	fn   Handler
	once bool
}

type anyRegistration struct {
	id uint64
	fn AnyHandler
}

// Emitter is an ordered handler registry. Handlers run on the dispatching
// goroutine, outside the registry lock, so they may register or dispose
// handlers (including themselves) freely.
type Emitter struct {
	mu       sync.Mutex
	nextID   uint64
	handlers map[string][]registration
	any      []anyRegistration
}

// NewEmitter creates an empty Emitter.
func NewEmitter() *Emitter {
	return &Emitter{handlers: make(map[string][]registration)}
}

// On registers h for event.
func (e *Emitter) On(event string, h Handler) func() {
	return e.add(event, h, false)
}

// Once registers h for the next dispatch of event only.
func (e *Emitter) Once(event string, h Handler) func() {
	return e.add(event, h, true)
}

// OnAny registers h for every event.
func (e *Emitter) OnAny(h AnyHandler) func() {
	e.mu.Lock()
	e.nextID++
	id := e.nextID
	e.any = append(e.any, anyRegistration{id: id, fn: h})
	e.mu.Unlock()

	return func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		for i, r := range e.any {
			if r.id == id {
				e.any = append(e.any[:i:i], e.any[i+1:]...)
				return
			}
		}
	}
}

func (e *Emitter) add(event string, h Handler, once bool) func() {
	e.mu.Lock()
	e.nextID++
	id := e.nextID
	e.handlers[event] = append(e.handlers[event], registration{id: id, fn: h, once: once})
	e.mu.Unlock()

	return func() { e.remove(event, id) }
}

func (e *Emitter) remove(event string, id uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	regs := e.handlers[event]
	for i, r := range regs {
		if r.id == id {
			regs = append(regs[:i:i], regs[i+1:]...)
			break
		}
	}
	if len(regs) == 0 {
		delete(e.handlers, event)
		return
	}
	e.handlers[event] = regs
}

// Dispatch delivers data to the handlers of event, then to the catch-all
// handlers. Once handlers are removed before any handler runs, so a nested
// dispatch of the same event cannot fire them twice.
func (e *Emitter) Dispatch(event string, data json.RawMessage) {
	e.mu.Lock()
	regs := e.handlers[event]
	fns := make([]Handler, 0, len(regs))
	kept := regs[:0:0]
	for _, r := range regs {
		fns = append(fns, r.fn)
		if !r.once {
			kept = append(kept, r)
		}
	}
	if len(regs) > 0 {
		if len(kept) == 0 {
			delete(e.handlers, event)
		} else {
			e.handlers[event] = kept
		}
	}
	anys := make([]AnyHandler, len(e.any))
	for i, r := range e.any {
		anys[i] = r.fn
	}
	e.mu.Unlock()

	for _, fn := range fns {
		fn(data)
	}
	for _, fn := range anys {
		fn(event, data)
	}
}

// Listeners returns the number of handlers registered for event.
func (e *Emitter) Listeners(event string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.handlers[event])
}

// Clear removes every registration.
func (e *Emitter) Clear() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handlers = make(map[string][]registration)
	e.any = nil
}

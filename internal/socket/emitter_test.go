package socket

import (
	"encoding/json"
	"testing"
)

func TestEmitter_OnDispatchesInOrder(t *testing.T) {
	e := NewEmitter()
	var got []string
	e.On("x", func(json.RawMessage) { got = append(got, "a") })
	e.On("x", func(json.RawMessage) { got = append(got, "b") })
	e.On("y", func(json.RawMessage) { got = append(got, "y") })

	e.Dispatch("x", nil)
	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Errorf("got %v, want [a b]", got)
	}
}

func TestEmitter_DisposerRemovesOnlyItsRegistration(t *testing.T) {
	e := NewEmitter()
	var a, b int
	offA := e.On("x", func(json.RawMessage) { a++ })
	e.On("x", func(json.RawMessage) { b++ })

	offA()
	offA() // second call is harmless
	e.Dispatch("x", nil)
	if a != 0 || b != 1 {
		t.Errorf("a=%d b=%d, want 0 and 1", a, b)
	}
	if n := e.Listeners("x"); n != 1 {
		t.Errorf("Listeners = %d, want 1", n)
	}
}

func TestEmitter_OnceFiresOnce(t *testing.T) {
	e := NewEmitter()
	n := 0
	e.Once("ack", func(json.RawMessage) { n++ })
	e.Dispatch("ack", nil)
	e.Dispatch("ack", nil)
	if n != 1 {
		t.Errorf("once handler fired %d times, want 1", n)
	}
	if e.Listeners("ack") != 0 {
		t.Error("once handler should be removed after firing")
	}
}

func TestEmitter_OnceSurvivesNestedDispatch(t *testing.T) {
	e := NewEmitter()
	n := 0
	e.Once("x", func(json.RawMessage) {
		n++
		e.Dispatch("x", nil)
	})
	e.Dispatch("x", nil)
	if n != 1 {
		t.Errorf("fired %d times, want 1", n)
	}
}

func TestEmitter_HandlerMayDisposeItself(t *testing.T) {
	e := NewEmitter()
	n := 0
	var off func()
	off = e.On("x", func(json.RawMessage) {
		n++
		off()
	})
	e.Dispatch("x", nil)
	e.Dispatch("x", nil)
	if n != 1 {
		t.Errorf("fired %d times, want 1", n)
	}
}

func TestEmitter_OnAnySeesEveryEvent(t *testing.T) {
	e := NewEmitter()
	var events []string
	off := e.OnAny(func(event string, data json.RawMessage) {
		events = append(events, event+":"+string(data))
	})
	e.Dispatch("a", json.RawMessage(`1`))
	e.Dispatch("b", nil)
	off()
	e.Dispatch("c", nil)

	if len(events) != 2 || events[0] != "a:1" || events[1] != "b:" {
		t.Errorf("events = %v", events)
	}
}

func TestEmitter_Clear(t *testing.T) {
	e := NewEmitter()
	fired := false
	e.On("x", func(json.RawMessage) { fired = true })
	e.OnAny(func(string, json.RawMessage) { fired = true })
	e.Clear()
	e.Dispatch("x", nil)
	if fired {
		t.Error("handlers should not fire after Clear")
	}
}

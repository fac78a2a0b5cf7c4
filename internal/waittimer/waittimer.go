// Package waittimer runs the local wait-time countdown between server
// estimates.
package waittimer

import (
	"context"
	"sync"
	"time"

	"github.com/zulandar/medqueue/internal/telegraph"
)

// DefaultTick is the countdown step. Each tick takes one minute off.
const DefaultTick = time.Minute

// TitleTimesUp is the notice sent when the countdown reaches zero.
const TitleTimesUp = "Time's Up"

// Options configures a Timer.
type Options struct {
	Tick     time.Duration
	Notifier telegraph.Notifier
}

// Timer counts an estimated wait down one minute per tick. A countdown only
// runs while the patient is waiting. Starting again replaces the current
// countdown; ticks from a replaced countdown are ignored.
type Timer struct {
	tick     time.Duration
	notifier telegraph.Notifier

	mu      sync.Mutex
	value   float64
	waiting bool
	running bool
	gen     uint64
	stop    chan struct{}
	nextSub uint64
	change  map[uint64]func(float64)
	timesUp map[uint64]func()
}

// New creates a stopped Timer for a waiting patient.
func New(opts Options) *Timer {
	if opts.Tick <= 0 {
		opts.Tick = DefaultTick
	}
	if opts.Notifier == nil {
		opts.Notifier = telegraph.Discard
	}
	return &Timer{
		tick:     opts.Tick,
		notifier: opts.Notifier,
		waiting:  true,
		change:   make(map[uint64]func(float64)),
		timesUp:  make(map[uint64]func()),
	}
}

// Start cancels any running countdown and shows minutes. The countdown
// only ticks when minutes is positive and the patient is waiting.
func (t *Timer) Start(minutes float64) {
	t.mu.Lock()
	t.stopLocked()
	t.value = minutes
	if minutes > 0 && t.waiting {
		t.running = true
		stop := make(chan struct{})
		t.stop = stop
		go t.run(t.gen, stop)
	}
	value := t.value
	t.mu.Unlock()
	t.changed(value)
}

// Stop cancels the countdown and keeps the displayed value. It is safe to
// call when already stopped.
func (t *Timer) Stop() {
	t.mu.Lock()
	t.stopLocked()
	t.mu.Unlock()
}

// SetWaiting records whether the patient is still waiting. Leaving the
// waiting state stops the countdown.
func (t *Timer) SetWaiting(waiting bool) {
	t.mu.Lock()
	t.waiting = waiting
	if !waiting {
		t.stopLocked()
	}
	t.mu.Unlock()
}

// Value returns the displayed minutes.
func (t *Timer) Value() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.value
}

// Running reports whether a countdown is ticking.
func (t *Timer) Running() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.running
}

// OnChange registers fn for every change of the displayed value.
func (t *Timer) OnChange(fn func(minutes float64)) func() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.nextSub++
	id := t.nextSub
	t.change[id] = fn
	return func() {
		t.mu.Lock()
		delete(t.change, id)
		t.mu.Unlock()
	}
}

// OnTimesUp registers fn for a countdown reaching zero.
func (t *Timer) OnTimesUp(fn func()) func() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.nextSub++
	id := t.nextSub
	t.timesUp[id] = fn
	return func() {
		t.mu.Lock()
		delete(t.timesUp, id)
		t.mu.Unlock()
	}
}

func (t *Timer) stopLocked() {
	t.gen++
	t.running = false
	if t.stop != nil {
		close(t.stop)
		t.stop = nil
	}
}

func (t *Timer) run(gen uint64, stop <-chan struct{}) {
	ticker := time.NewTicker(t.tick)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			t.step(gen)
		}
	}
}

// step takes one minute off the countdown started as gen.
func (t *Timer) step(gen uint64) {
	t.mu.Lock()
	if gen != t.gen || !t.running {
		t.mu.Unlock()
		return
	}
	t.value--
	expired := t.value <= 0
	if expired {
		t.value = 0
		t.stopLocked()
	}
	value := t.value
	var fns []func()
	if expired {
		for _, fn := range t.timesUp {
			fns = append(fns, fn)
		}
	}
	t.mu.Unlock()

	t.changed(value)
	if !expired {
		return
	}
	telegraph.Send(context.Background(), t.notifier, telegraph.Notice{
		Title:    TitleTimesUp,
		Body:     "Your estimated wait time has elapsed. You should be called soon!",
		Severity: telegraph.SeverityInfo,
	})
	for _, fn := range fns {
		fn()
	}
}

func (t *Timer) changed(value float64) {
	t.mu.Lock()
	fns := make([]func(float64), 0, len(t.change))
	for _, fn := range t.change {
		fns = append(fns, fn)
	}
	t.mu.Unlock()
	for _, fn := range fns {
		fn(value)
	}
}

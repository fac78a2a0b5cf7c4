package waittimer

import (
	"testing"
	"time"

	"github.com/zulandar/medqueue/internal/telegraph"
)

// newManual returns a timer whose ticker never fires during a test.
func newManual(t *testing.T) (*Timer, *telegraph.Recorder) {
	t.Helper()
	rec := telegraph.NewRecorder()
	tm := New(Options{Tick: time.Hour, Notifier: rec})
	t.Cleanup(tm.Stop)
	return tm, rec
}

func (t *Timer) current() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.gen
}

func TestCountdownToZero(t *testing.T) {
	tm, rec := newManual(t)
	fired := 0
	tm.OnTimesUp(func() { fired++ })

	tm.Start(5)
	gen := tm.current()
	for i := 0; i < 5; i++ {
		tm.step(gen)
	}
	if tm.Value() != 0 {
		t.Errorf("value = %v, want 0", tm.Value())
	}
	if tm.Running() {
		t.Error("timer should stop at zero")
	}
	if rec.CountTitle(TitleTimesUp) != 1 || fired != 1 {
		t.Errorf("times up notices = %d, callbacks = %d, want 1", rec.CountTitle(TitleTimesUp), fired)
	}

	// A sixth tick does nothing.
	tm.step(gen)
	tm.step(tm.current())
	if tm.Value() != 0 || rec.CountTitle(TitleTimesUp) != 1 || fired != 1 {
		t.Errorf("after extra tick: value = %v, notices = %d", tm.Value(), rec.CountTitle(TitleTimesUp))
	}
}

func TestStartReplacesCountdown(t *testing.T) {
	tm, _ := newManual(t)
	tm.Start(45)
	old := tm.current()
	tm.step(old)
	if tm.Value() != 44 {
		t.Fatalf("value = %v, want 44", tm.Value())
	}

	tm.Start(30)
	tm.step(old)
	if tm.Value() != 30 {
		t.Errorf("stale tick applied: value = %v", tm.Value())
	}
	tm.step(tm.current())
	if tm.Value() != 29 {
		t.Errorf("value = %v, want 29", tm.Value())
	}
}

func TestStartWithoutCountdown(t *testing.T) {
	tests := []struct {
		name    string
		minutes float64
		waiting bool
	}{
		{"zero minutes", 0, true},
		{"negative minutes", -3, true},
		{"not waiting", 10, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tm, rec := newManual(t)
			tm.SetWaiting(tt.waiting)
			tm.Start(tt.minutes)
			if tm.Running() {
				t.Error("countdown should not run")
			}
			if tm.Value() != tt.minutes {
				t.Errorf("value = %v, want %v", tm.Value(), tt.minutes)
			}
			tm.step(tm.current())
			if rec.Count() != 0 {
				t.Error("no notice expected")
			}
		})
	}
}

func TestLeavingWaitingStops(t *testing.T) {
	tm, _ := newManual(t)
	tm.Start(10)
	gen := tm.current()
	tm.SetWaiting(false)
	if tm.Running() {
		t.Error("timer should stop when patient leaves waiting")
	}
	tm.step(gen)
	if tm.Value() != 10 {
		t.Errorf("value = %v, want 10 kept", tm.Value())
	}
	tm.Stop()
	tm.Stop()
}

func TestOnChange(t *testing.T) {
	tm, _ := newManual(t)
	var got []float64
	off := tm.OnChange(func(m float64) { got = append(got, m) })
	tm.Start(2)
	tm.step(tm.current())
	off()
	tm.step(tm.current())
	if len(got) != 2 || got[0] != 2 || got[1] != 1 {
		t.Errorf("changes = %v, want [2 1]", got)
	}
}

func TestTicksOnInterval(t *testing.T) {
	tm := New(Options{Tick: 5 * time.Millisecond})
	defer tm.Stop()
	done := make(chan struct{})
	tm.OnTimesUp(func() { close(done) })
	tm.Start(2)
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("countdown did not finish")
	}
	if tm.Value() != 0 {
		t.Errorf("value = %v", tm.Value())
	}
}

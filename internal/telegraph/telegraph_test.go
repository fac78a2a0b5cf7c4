package telegraph

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func TestMulti_DeliversToAll(t *testing.T) {
	a, b := NewRecorder(), NewRecorder()
	m := Multi{a, nil, b}
	n := Notice{Title: "Connection Error", Severity: SeverityWarning}
	if err := m.Notify(context.Background(), n); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if a.Count() != 1 || b.Count() != 1 {
		t.Errorf("counts = %d, %d, want 1, 1", a.Count(), b.Count())
	}
}

func TestMulti_JoinsErrors(t *testing.T) {
	a, b := NewRecorder(), NewRecorder()
	a.SetError(errors.New("slack down"))
	b.SetError(errors.New("discord down"))
	err := Multi{a, b}.Notify(context.Background(), Notice{Title: "x"})
	if err == nil {
		t.Fatal("expected joined error")
	}
	if !strings.Contains(err.Error(), "slack down") || !strings.Contains(err.Error(), "discord down") {
		t.Errorf("error = %v", err)
	}
	if b.Count() != 1 {
		t.Error("second notifier should still be called after the first fails")
	}
}

func TestSend_NilNotifier(t *testing.T) {
	Send(context.Background(), nil, Notice{Title: "x"})
}

func TestWriter(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	w.Notify(context.Background(), Notice{Title: "Time's Up", Body: "The doctor will see you shortly.", Severity: SeverityInfo})
	w.Notify(context.Background(), Notice{Title: "Connection Failed", Severity: SeverityError})

	want := "[i] Time's Up: The doctor will see you shortly.\n[x] Connection Failed\n"
	if buf.String() != want {
		t.Errorf("output =\n%q\nwant\n%q", buf.String(), want)
	}
}

func TestAsync_DeliversInBackground(t *testing.T) {
	var calls atomic.Int32
	block := make(chan struct{})
	slow := NotifierFunc(func(ctx context.Context, n Notice) error {
		<-block
		calls.Add(1)
		return nil
	})

	a := NewAsync(slow, time.Second)
	start := time.Now()
	a.Notify(context.Background(), Notice{Title: "x"})
	if time.Since(start) > 100*time.Millisecond {
		t.Error("Notify should not wait for delivery")
	}
	close(block)
	a.Wait()
	if calls.Load() != 1 {
		t.Errorf("calls = %d, want 1", calls.Load())
	}
}

func TestRecorder(t *testing.T) {
	r := NewRecorder()
	if _, ok := r.Last(); ok {
		t.Error("Last on empty recorder should report false")
	}
	r.Notify(context.Background(), Notice{Title: "a"})
	r.Notify(context.Background(), Notice{Title: "b"})
	r.Notify(context.Background(), Notice{Title: "a"})

	if r.Count() != 3 || r.CountTitle("a") != 2 {
		t.Errorf("Count=%d CountTitle(a)=%d", r.Count(), r.CountTitle("a"))
	}
	if last, _ := r.Last(); last.Title != "a" {
		t.Errorf("Last = %q", last.Title)
	}
	all := r.All()
	all[0].Title = "mutated"
	if r.All()[0].Title != "a" {
		t.Error("All should return a copy")
	}
	r.Reset()
	if r.Count() != 0 {
		t.Error("Reset should clear notices")
	}
}

package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func scrape(t *testing.T, c *Collector) string {
	t.Helper()
	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	return string(body)
}

func TestCollector_Exposition(t *testing.T) {
	c := New()
	c.SetConnected(true)
	c.ReconnectAttempt()
	c.ReconnectAttempt()
	c.EventReceived("queueChanged")
	c.CommandResult("removePatientFromQueue", "timeout", 15*time.Second)
	c.SetQueueEntries(map[string]int{"waiting": 3, "consulting": 1})

	out := scrape(t, c)
	for _, want := range []string{
		"medqueue_connected 1",
		"medqueue_reconnect_attempts_total 2",
		`medqueue_events_received_total{event="queueChanged"} 1`,
		`medqueue_commands_total{command="removePatientFromQueue",result="timeout"} 1`,
		`medqueue_queue_entries{status="waiting"} 3`,
		`medqueue_queue_entries{status="consulting"} 1`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("exposition missing %q\n%s", want, out)
		}
	}
}

func TestCollector_QueueEntriesReplaced(t *testing.T) {
	c := New()
	c.SetQueueEntries(map[string]int{"late": 1})
	c.SetQueueEntries(map[string]int{"waiting": 2})
	out := scrape(t, c)
	if strings.Contains(out, `status="late"`) {
		t.Error("stale status label should be dropped")
	}
}

func TestCollector_NilSafe(t *testing.T) {
	var c *Collector
	c.SetConnected(true)
	c.ReconnectAttempt()
	c.EventReceived("x")
	c.CommandResult("x", "ok", time.Second)
	c.SetQueueEntries(map[string]int{"waiting": 1})
	if c.Registry() != nil {
		t.Error("nil collector should have nil registry")
	}
	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	if rec.Code != 404 {
		t.Errorf("nil collector handler status = %d, want 404", rec.Code)
	}
}

func TestCollectors_AreIndependent(t *testing.T) {
	a, b := New(), New()
	a.ReconnectAttempt()
	if strings.Contains(scrape(t, b), "medqueue_reconnect_attempts_total 1") {
		t.Error("collectors should not share state")
	}
}

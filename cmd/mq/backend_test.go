package main

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/zulandar/medqueue/internal/conn"
	"github.com/zulandar/medqueue/internal/db"
	"github.com/zulandar/medqueue/internal/models"
	"github.com/zulandar/medqueue/internal/socket"
)

// fakeBackend serves the REST endpoints the commands call.
type fakeBackend struct {
	mu      sync.Mutex
	removed map[string]string
}

func newFakeBackend(t *testing.T) (*fakeBackend, *httptest.Server) {
	t.Helper()
	b := &fakeBackend{removed: make(map[string]string)}
	srv := httptest.NewServer(b)
	t.Cleanup(srv.Close)
	return b, srv
}

func (b *fakeBackend) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.URL.Path == "/health":
		io.WriteString(w, "OK\n")
	case r.Method == http.MethodGet && r.URL.Path == "/api/doctors":
		io.WriteString(w, `{"success":true,"data":[
			{"id":"d1","name":"Gregory House","specialization":"Diagnostics","isAvailable":true,"waitingPatientCount":3},
			{"id":"d2","name":"Lisa Cuddy","isAvailable":false}]}`)
	case r.Method == http.MethodPost && r.URL.Path == "/api/patients/add-patient":
		var req struct {
			Name     string `json:"name"`
			DoctorID string `json:"doctorId"`
		}
		json.NewDecoder(r.Body).Decode(&req)
		json.NewEncoder(w).Encode(map[string]any{
			"success": true,
			"data": map[string]any{
				"patient":           map[string]any{"id": "P1", "name": req.Name, "doctorId": req.DoctorID, "positionInQueue": 4},
				"estimatedWaitTime": 60,
			},
		})
	case r.Method == http.MethodDelete && strings.HasPrefix(r.URL.Path, "/api/patients/"):
		var body struct {
			Reason string `json:"reason"`
		}
		json.NewDecoder(r.Body).Decode(&body)
		b.mu.Lock()
		b.removed[strings.TrimPrefix(r.URL.Path, "/api/patients/")] = body.Reason
		b.mu.Unlock()
		io.WriteString(w, `{"success":true}`)
	default:
		http.NotFound(w, r)
	}
}

func TestHealthCmd(t *testing.T) {
	_, srv := newFakeBackend(t)
	out, err := run(t, "health", "--socket=false", "--config", writeConfig(t, srv.URL))
	if err != nil {
		t.Fatalf("health: %v", err)
	}
	if !strings.Contains(out, srv.URL+": OK") {
		t.Errorf("output = %q", out)
	}
}

func TestDoctorsCmd(t *testing.T) {
	_, srv := newFakeBackend(t)
	out, err := run(t, "doctors", "--config", writeConfig(t, srv.URL))
	if err != nil {
		t.Fatalf("doctors: %v", err)
	}
	for _, want := range []string{"Gregory House", "Diagnostics", "Lisa Cuddy", "AVAILABLE"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestBookHistoryLeave(t *testing.T) {
	backend, srv := newFakeBackend(t)
	cfg := writeConfig(t, srv.URL)

	out, err := run(t, "book", "--config", cfg, "--name", "Ann", "--doctor", "d1")
	if err != nil {
		t.Fatalf("book: %v", err)
	}
	for _, want := range []string{"Booked Ann (patient id P1)", "Position:       4", "1h 00m"} {
		if !strings.Contains(out, want) {
			t.Errorf("book output missing %q:\n%s", want, out)
		}
	}

	out, err = run(t, "history", "--config", cfg)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if !strings.Contains(out, "P1") || !strings.Contains(out, "waiting") {
		t.Errorf("history output:\n%s", out)
	}

	out, err = run(t, "leave", "--config", cfg, "--reason", "Feeling better")
	if err != nil {
		t.Fatalf("leave: %v", err)
	}
	if !strings.Contains(out, "Patient P1 left the queue") {
		t.Errorf("leave output = %q", out)
	}
	backend.mu.Lock()
	reason, ok := backend.removed["P1"]
	backend.mu.Unlock()
	if !ok || reason != "Feeling better" {
		t.Errorf("backend removal = %q, %v", reason, ok)
	}

	// The booking is closed, so there is nothing left to leave.
	if _, err := run(t, "leave", "--config", cfg); err == nil || !strings.Contains(err.Error(), "no open booking") {
		t.Errorf("second leave err = %v", err)
	}
}

func TestBookRejectsBlankName(t *testing.T) {
	_, srv := newFakeBackend(t)
	if _, err := run(t, "book", "--config", writeConfig(t, srv.URL), "--name", "  ", "--doctor", "d1"); err == nil {
		t.Error("expected error for blank name")
	}
}

func TestResolveBooking(t *testing.T) {
	gormDB, err := db.Open(db.DriverSQLite, ":memory:")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	sqlDB, _ := gormDB.DB()
	sqlDB.SetMaxOpenConns(1)
	defer sqlDB.Close()
	bookings := db.NewBookings(gormDB)

	if _, err := resolveBooking(bookings, "", ""); err == nil {
		t.Error("expected error with an empty journal")
	}
	if _, err := resolveBooking(bookings, "X", ""); err == nil {
		t.Error("expected error for unknown patient without doctor")
	}
	b, err := resolveBooking(bookings, "X", "d9")
	if err != nil || b.PatientID != "X" || b.DoctorID != "d9" {
		t.Errorf("ad-hoc booking = %+v, %v", b, err)
	}

	if err := bookings.Record(&models.Booking{PatientID: "P", Name: "Ann", DoctorID: "d1", Position: 2, EstimatedWait: 30}); err != nil {
		t.Fatalf("Record: %v", err)
	}
	b, err = resolveBooking(bookings, "", "")
	if err != nil || b.PatientID != "P" || b.Position != 2 {
		t.Errorf("latest = %+v, %v", b, err)
	}
	b, err = resolveBooking(bookings, "P", "d2")
	if err != nil || b.DoctorID != "d2" || b.EstimatedWait != 30 {
		t.Errorf("override = %+v, %v", b, err)
	}
}

func TestProbe(t *testing.T) {
	t.Run("connects", func(t *testing.T) {
		mc := socket.NewMockConn()
		mc.AutoConnect = true
		mgr := conn.New(conn.Options{Dial: func() socket.Conn { return mc }})
		if err := probe(mgr, time.Second); err != nil {
			t.Errorf("probe: %v", err)
		}
	})

	t.Run("times out", func(t *testing.T) {
		mc := socket.NewMockConn()
		mgr := conn.New(conn.Options{Dial: func() socket.Conn { return mc }})
		if err := probe(mgr, 20*time.Millisecond); err == nil {
			t.Error("expected timeout")
		}
	})

	t.Run("reconnection fails", func(t *testing.T) {
		mc := socket.NewMockConn()
		mgr := conn.New(conn.Options{Dial: func() socket.Conn { return mc }})
		done := make(chan error, 1)
		go func() { done <- probe(mgr, 5*time.Second) }()

		deadline := time.Now().Add(time.Second)
		for mc.ConnectCalls() == 0 {
			if time.Now().After(deadline) {
				t.Fatal("probe never connected")
			}
			time.Sleep(time.Millisecond)
		}
		mc.SimulateReconnectFailed()
		select {
		case err := <-done:
			if err == nil || !strings.Contains(err.Error(), "reconnection failed") {
				t.Errorf("err = %v", err)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("probe did not return")
		}
	})
}

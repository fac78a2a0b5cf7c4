package socket

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// fakeServer speaks just enough Engine.IO/Socket.IO to exercise Client.
type fakeServer struct {
	t        *testing.T
	srv      *httptest.Server
	upgrader websocket.Upgrader
	conns    chan *websocket.Conn

	mu      sync.Mutex
	reject  string
	dropN   int // close the first dropN connections right after the handshake
	handled int
}

func newFakeServer(t *testing.T) *fakeServer {
	t.Helper()
	fs := &fakeServer{t: t, conns: make(chan *websocket.Conn, 10)}
	fs.srv = httptest.NewServer(http.HandlerFunc(fs.handle))
	t.Cleanup(fs.srv.Close)
	return fs
}

func (fs *fakeServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("EIO") != "4" || r.URL.Query().Get("transport") != "websocket" {
		http.Error(w, "bad query", http.StatusBadRequest)
		return
	}
	ws, err := fs.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	fs.mu.Lock()
	fs.handled++
	n := fs.handled
	reject := fs.reject
	drop := n <= fs.dropN
	fs.mu.Unlock()

	ws.WriteMessage(websocket.TextMessage, []byte(`0{"sid":"eio-1","upgrades":[],"pingInterval":25000,"pingTimeout":20000,"maxPayload":1000000}`))
	_, msg, err := ws.ReadMessage()
	if err != nil || string(msg) != "40" {
		ws.Close()
		return
	}
	if reject != "" {
		ws.WriteMessage(websocket.TextMessage, []byte(`44{"message":"`+reject+`"}`))
		ws.Close()
		return
	}
	ws.WriteMessage(websocket.TextMessage, []byte(`40{"sid":"ns-1"}`))
	if drop {
		ws.Close()
		return
	}
	fs.conns <- ws
}

func (fs *fakeServer) accept(t *testing.T) *websocket.Conn {
	t.Helper()
	select {
	case ws := <-fs.conns:
		t.Cleanup(func() { ws.Close() })
		return ws
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for client connection")
		return nil
	}
}

func readText(t *testing.T, ws *websocket.Conn) string {
	t.Helper()
	ws.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, msg, err := ws.ReadMessage()
	if err != nil {
		t.Fatalf("server read: %v", err)
	}
	return string(msg)
}

// recordEvents collects every dispatched event name onto a channel.
func recordEvents(c *Client) <-chan string {
	ch := make(chan string, 64)
	c.OnAny(func(event string, data json.RawMessage) {
		ch <- event
	})
	return ch
}

func waitEvent(t *testing.T, ch <-chan string, want string) {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case got := <-ch:
			if got == want {
				return
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %q", want)
		}
	}
}

func fastOptions() Options {
	opts := DefaultOptions()
	opts.Timeout = 2 * time.Second
	opts.ReconnectionDelay = time.Millisecond
	opts.ReconnectionDelayMax = 5 * time.Millisecond
	opts.RandomizationFactor = 0
	return opts
}

func TestClient_ConnectEmitReceive(t *testing.T) {
	fs := newFakeServer(t)
	c := NewClient(fs.srv.URL, fastOptions())
	events := recordEvents(c)

	received := make(chan string, 1)
	c.On("queueChanged", func(data json.RawMessage) { received <- string(data) })

	c.Connect()
	ws := fs.accept(t)
	waitEvent(t, events, EventConnect)

	if !c.Connected() {
		t.Fatal("Connected() = false after connect event")
	}
	if c.ID() != "ns-1" {
		t.Errorf("ID() = %q, want ns-1", c.ID())
	}

	if err := c.Emit("joinDoctorRoom", map[string]string{"doctorId": "d1"}); err != nil {
		t.Fatalf("Emit: %v", err)
	}
	if got := readText(t, ws); got != `42["joinDoctorRoom",{"doctorId":"d1"}]` {
		t.Errorf("server got %q", got)
	}

	ws.WriteMessage(websocket.TextMessage, []byte(`42["queueChanged",{"queue":[]}]`))
	select {
	case got := <-received:
		if got != `{"queue":[]}` {
			t.Errorf("handler data = %s", got)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for queueChanged")
	}

	ws.WriteMessage(websocket.TextMessage, []byte("2"))
	if got := readText(t, ws); got != "3" {
		t.Errorf("ping reply = %q, want 3", got)
	}

	if err := c.Close(); err != nil {
		t.Logf("Close: %v", err)
	}
	if c.Connected() {
		t.Error("Connected() = true after Close")
	}
	waitEvent(t, events, EventDisconnect)
	if got := readText(t, ws); got != "41" {
		t.Errorf("server got %q on close, want 41", got)
	}
	if err := c.Emit("x", nil); err == nil {
		t.Error("Emit after Close should fail")
	}
}

func TestClient_ConnectRejected(t *testing.T) {
	fs := newFakeServer(t)
	fs.reject = "not authorized"
	opts := fastOptions()
	opts.Reconnection = false
	c := NewClient(fs.srv.URL, opts)

	msgs := make(chan string, 4)
	c.On(EventConnectError, func(data json.RawMessage) {
		var ce ConnectError
		json.Unmarshal(data, &ce)
		msgs <- ce.Message
	})
	c.Connect()

	select {
	case got := <-msgs:
		if got != "not authorized" {
			t.Errorf("connect_error message = %q", got)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for connect_error")
	}
	if c.Connected() {
		t.Error("client should not be connected")
	}
}

func TestClient_ReconnectFailedAfterCeiling(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	opts := fastOptions()
	opts.ReconnectionAttempts = 2
	c := NewClient(url, opts)
	events := recordEvents(c)
	c.Connect()
	defer c.Close()

	var seq []string
	deadline := time.After(5 * time.Second)
	for len(seq) == 0 || seq[len(seq)-1] != EventReconnectFailed {
		select {
		case ev := <-events:
			seq = append(seq, ev)
		case <-deadline:
			t.Fatalf("timed out; events so far: %v", seq)
		}
	}
	want := []string{
		EventConnectError,
		EventReconnectAttempt, EventConnectError,
		EventReconnectAttempt, EventConnectError,
		EventReconnectFailed,
	}
	if strings.Join(seq, ",") != strings.Join(want, ",") {
		t.Errorf("events = %v, want %v", seq, want)
	}

	select {
	case ev := <-events:
		t.Errorf("unexpected event after reconnect_failed: %s", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestClient_ReconnectsAfterDrop(t *testing.T) {
	fs := newFakeServer(t)
	fs.dropN = 1
	c := NewClient(fs.srv.URL, fastOptions())
	events := recordEvents(c)
	c.Connect()
	defer c.Close()

	waitEvent(t, events, EventConnect)
	waitEvent(t, events, EventDisconnect)
	waitEvent(t, events, EventReconnectAttempt)
	waitEvent(t, events, EventReconnect)
	waitEvent(t, events, EventConnect)
	fs.accept(t)
	if !c.Connected() {
		t.Error("Connected() = false after reconnect")
	}
}

func TestClient_RequiresWebSocketTransport(t *testing.T) {
	opts := fastOptions()
	opts.Transports = []string{TransportPolling}
	opts.Reconnection = false
	c := NewClient("http://127.0.0.1:1", opts)
	events := recordEvents(c)
	c.Connect()
	waitEvent(t, events, EventConnectError)
}

func TestClient_Endpoint(t *testing.T) {
	tests := []struct {
		raw  string
		path string
		want string
	}{
		{"http://localhost:5000", "/socket.io/", "ws://localhost:5000/socket.io/?EIO=4&transport=websocket"},
		{"https://abc.ngrok.io/", "/socket.io/", "wss://abc.ngrok.io/socket.io/?EIO=4&transport=websocket"},
		{"ws://host/base", "rt/", "ws://host/base/rt/?EIO=4&transport=websocket"},
	}
	for _, tt := range tests {
		opts := DefaultOptions()
		opts.Path = tt.path
		c := NewClient(tt.raw, opts)
		got, err := c.endpoint()
		if err != nil {
			t.Fatalf("endpoint(%q): %v", tt.raw, err)
		}
		if got != tt.want {
			t.Errorf("endpoint(%q) = %q, want %q", tt.raw, got, tt.want)
		}
	}

	if _, err := NewClient("ftp://x", DefaultOptions()).endpoint(); err == nil {
		t.Error("expected error for ftp scheme")
	}
}

package dashboard

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/zulandar/medqueue/internal/metrics"
)

// fakeProvider is a Provider with a settable snapshot.
type fakeProvider struct {
	mu          sync.Mutex
	state       map[string]any
	connects    int
	disconnects int
	subs        []func()
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{state: map[string]any{"connected": false}}
}

func (f *fakeProvider) Snapshot() any {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]any, len(f.state))
	for k, v := range f.state {
		out[k] = v
	}
	return out
}

func (f *fakeProvider) Connect() {
	f.mu.Lock()
	f.connects++
	f.mu.Unlock()
}

func (f *fakeProvider) Disconnect() {
	f.mu.Lock()
	f.disconnects++
	f.mu.Unlock()
}

func (f *fakeProvider) OnChange(fn func()) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subs = append(f.subs, fn)
	return func() {}
}

func (f *fakeProvider) set(k string, v any) {
	f.mu.Lock()
	f.state[k] = v
	subs := append([]func(){}, f.subs...)
	f.mu.Unlock()
	for _, fn := range subs {
		fn()
	}
}

func (f *fakeProvider) subscribers() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}

func newTestServer(t *testing.T, p Provider, m http.Handler) *httptest.Server {
	t.Helper()
	h, err := Handler(StartOpts{Provider: p, Metrics: m})
	if err != nil {
		t.Fatalf("Handler: %v", err)
	}
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return srv
}

func TestHandler_NilProvider(t *testing.T) {
	_, err := Handler(StartOpts{})
	if err == nil || !strings.Contains(err.Error(), "provider is required") {
		t.Errorf("err = %v", err)
	}
}

func TestStart_ZeroPortDisabled(t *testing.T) {
	if err := Start(context.Background(), StartOpts{}); err != nil {
		t.Errorf("Start with port 0 = %v, want nil", err)
	}
}

func TestHealth(t *testing.T) {
	srv := newTestServer(t, newFakeProvider(), nil)
	resp, err := http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK || string(body) != "OK" {
		t.Errorf("health = %d %q", resp.StatusCode, body)
	}
}

func TestStatus(t *testing.T) {
	p := newFakeProvider()
	p.set("position", 2)
	srv := newTestServer(t, p, nil)

	resp, err := http.Get(srv.URL + "/api/status")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var body struct {
		Time  string         `json:"time"`
		State map[string]any `json:"state"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.State["position"] != float64(2) || body.Time == "" {
		t.Errorf("status = %+v", body)
	}
}

func TestConnectDisconnect(t *testing.T) {
	p := newFakeProvider()
	srv := newTestServer(t, p, nil)

	resp, err := http.Post(srv.URL+"/api/connect", "application/json", nil)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Errorf("connect status = %d", resp.StatusCode)
	}
	resp, err = http.Post(srv.URL+"/api/disconnect", "application/json", nil)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.connects != 1 || p.disconnects != 1 {
		t.Errorf("connects = %d, disconnects = %d", p.connects, p.disconnects)
	}
}

func TestMetricsRoute(t *testing.T) {
	m := metrics.New()
	m.SetConnected(true)
	srv := newTestServer(t, newFakeProvider(), m.Handler())

	resp, err := http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "medqueue_connected 1") {
		t.Errorf("metrics body missing gauge:\n%s", body)
	}
}

func TestMetricsRoute_Absent(t *testing.T) {
	srv := newTestServer(t, newFakeProvider(), nil)
	resp, err := http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

// readEvent reads one SSE event name and data line.
func readEvent(t *testing.T, r *bufio.Reader) (string, string) {
	t.Helper()
	var event, data string
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		line = strings.TrimRight(line, "\n")
		switch {
		case strings.HasPrefix(line, "event: "):
			event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			data = strings.TrimPrefix(line, "data: ")
		case line == "" && event != "":
			return event, data
		}
	}
}

func TestSSE_StreamsStatus(t *testing.T) {
	p := newFakeProvider()
	srv := newTestServer(t, p, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/events", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type = %q", ct)
	}

	r := bufio.NewReader(resp.Body)
	if ev, _ := readEvent(t, r); ev != "connected" {
		t.Fatalf("first event = %q", ev)
	}
	if ev, data := readEvent(t, r); ev != "status" || !strings.Contains(data, `"connected":false`) {
		t.Fatalf("second event = %q %s", ev, data)
	}

	for p.subscribers() == 0 {
		time.Sleep(time.Millisecond)
	}
	p.set("connected", true)
	if ev, data := readEvent(t, r); ev != "status" || !strings.Contains(data, `"connected":true`) {
		t.Errorf("change event = %q %s", ev, data)
	}
}

func TestServe_ShutsDownOnCancel(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	h, _ := Handler(StartOpts{Provider: newFakeProvider()})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	var out strings.Builder
	go func() { done <- serve(ctx, ln, h, &out) }()

	resp, err := http.Get("http://" + ln.Addr().String() + "/health")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("serve = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
	if !strings.Contains(out.String(), "Status server running at http://") {
		t.Errorf("out = %q", out.String())
	}
}

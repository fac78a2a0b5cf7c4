package socket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// TransportWebSocket is the only transport this client speaks.
	TransportWebSocket = "websocket"
	// TransportPolling is accepted in preference lists and skipped.
	TransportPolling = "polling"
)

// Options configures a Client. Zero values are replaced by DefaultOptions.
type Options struct {
	Path                 string
	Transports           []string
	Timeout              time.Duration
	Reconnection         bool
	ReconnectionAttempts int
	ReconnectionDelay    time.Duration
	ReconnectionDelayMax time.Duration
	RandomizationFactor  float64
	Header               http.Header
	// For testing: inject a dialer.
	Dialer *websocket.Dialer
}

// DefaultOptions returns the settings the clinic backend is deployed with.
func DefaultOptions() Options {
	return Options{
		Path:                 "/socket.io/",
		Transports:           []string{TransportWebSocket, TransportPolling},
		Timeout:              10 * time.Second,
		Reconnection:         true,
		ReconnectionAttempts: 3,
		ReconnectionDelay:    time.Second,
		ReconnectionDelayMax: 5 * time.Second,
		RandomizationFactor:  0.5,
	}
}

func (o *Options) applyDefaults() {
	d := DefaultOptions()
	if o.Path == "" {
		o.Path = d.Path
	}
	if len(o.Transports) == 0 {
		o.Transports = d.Transports
	}
	if o.Timeout <= 0 {
		o.Timeout = d.Timeout
	}
	if o.ReconnectionDelay <= 0 {
		o.ReconnectionDelay = d.ReconnectionDelay
	}
	if o.ReconnectionDelayMax <= 0 {
		o.ReconnectionDelayMax = d.ReconnectionDelayMax
	}
	if o.Dialer == nil {
		o.Dialer = websocket.DefaultDialer
	}
}

// Client is a Socket.IO v4 client on the default namespace, speaking
// Engine.IO v4 over a WebSocket. All events, including the meta events, are
// dispatched from a single goroutine in the order they occur.
type Client struct {
	rawURL  string
	opts    Options
	emitter *Emitter

	mu        sync.Mutex
	ws        *websocket.Conn
	sid       string
	connected bool
	cancel    context.CancelFunc

	writeMu sync.Mutex
}

// NewClient creates a Client for the server at rawURL (http, https, ws or
// wss). It does not connect.
func NewClient(rawURL string, opts Options) *Client {
	opts.applyDefaults()
	return &Client{
		rawURL:  rawURL,
		opts:    opts,
		emitter: NewEmitter(),
	}
}

// ID returns the namespace session id.
func (c *Client) ID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sid
}

// Connected reports whether the namespace handshake has completed and the
// connection has not since dropped.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Connect starts the connection loop if it is not already running.
func (c *Client) Connect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	go c.run(ctx)
}

// Close disconnects and stops reconnection. A disconnect event is
// dispatched if the client was connected.
func (c *Client) Close() error {
	c.mu.Lock()
	cancel := c.cancel
	ws := c.ws
	wasConnected := c.connected
	c.cancel = nil
	c.ws = nil
	c.sid = ""
	c.connected = false
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	var err error
	if ws != nil {
		_ = c.write(ws, string(engineMessage)+string(packetDisconnect))
		err = ws.Close()
	}
	if wasConnected {
		c.emitter.Dispatch(EventDisconnect, mustMarshal(DisconnectInfo{Reason: ReasonClientDisconnect}))
	}
	return err
}

// Emit sends an event to the server.
func (c *Client) Emit(event string, payload any) error {
	c.mu.Lock()
	ws := c.ws
	connected := c.connected
	c.mu.Unlock()
	if ws == nil || !connected {
		return fmt.Errorf("socket: emit %s: not connected", event)
	}
	msg, err := encodeEvent(event, payload)
	if err != nil {
		return err
	}
	if err := c.write(ws, msg); err != nil {
		return fmt.Errorf("socket: emit %s: %w", event, err)
	}
	return nil
}

// On registers h for event.
func (c *Client) On(event string, h Handler) func() { return c.emitter.On(event, h) }

// Once registers h for the next occurrence of event.
func (c *Client) Once(event string, h Handler) func() { return c.emitter.Once(event, h) }

// OnAny registers h for every event.
func (c *Client) OnAny(h AnyHandler) func() { return c.emitter.OnAny(h) }

func (c *Client) write(ws *websocket.Conn, msg string) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = ws.SetWriteDeadline(time.Now().Add(c.opts.Timeout))
	return ws.WriteMessage(websocket.TextMessage, []byte(msg))
}

// dispatch delivers an event unless the loop that produced it was stopped.
func (c *Client) dispatch(ctx context.Context, event string, payload any) {
	if ctx.Err() != nil {
		return
	}
	var data json.RawMessage
	switch v := payload.(type) {
	case nil:
	case json.RawMessage:
		data = v
	default:
		data = mustMarshal(v)
	}
	c.emitter.Dispatch(event, data)
}

func (c *Client) run(ctx context.Context) {
	// A loop that ends on its own releases the client so a later Connect
	// starts over.
	defer func() {
		c.mu.Lock()
		if ctx.Err() == nil && c.cancel != nil {
			c.cancel()
			c.cancel = nil
		}
		c.mu.Unlock()
	}()

	b := &Backoff{
		Min:    c.opts.ReconnectionDelay,
		Max:    c.opts.ReconnectionDelayMax,
		Factor: 2,
		Jitter: c.opts.RandomizationFactor,
	}
	for {
		ws, open, sid, err := c.handshake(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.dispatch(ctx, EventConnectError, ConnectError{Message: err.Error()})
		} else {
			attempts := b.Attempts()
			b.Reset()
			if !c.attach(ctx, ws, sid) {
				ws.Close()
				return
			}
			if attempts > 0 {
				c.dispatch(ctx, EventReconnect, Attempt{Attempt: attempts})
			}
			c.dispatch(ctx, EventConnect, nil)

			reason := c.readLoop(ctx, ws, open)
			if !c.detach(ws) {
				return
			}
			c.dispatch(ctx, EventDisconnect, DisconnectInfo{Reason: reason})
			if reason == ReasonServerDisconnect {
				return
			}
		}

		if !c.opts.Reconnection {
			return
		}
		if b.Attempts() >= c.opts.ReconnectionAttempts {
			c.dispatch(ctx, EventReconnectFailed, nil)
			return
		}
		delay := b.Duration()
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
		log.Printf("socket: reconnect attempt %d after %s", b.Attempts(), delay)
		c.dispatch(ctx, EventReconnectAttempt, Attempt{Attempt: b.Attempts()})
	}
}

func (c *Client) attach(ctx context.Context, ws *websocket.Conn, sid string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ctx.Err() != nil {
		return false
	}
	c.ws = ws
	c.sid = sid
	c.connected = true
	return true
}

// detach clears ws if it is still the current connection. It returns false
// when Close already took it.
func (c *Client) detach(ws *websocket.Conn) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ws != ws {
		return false
	}
	c.ws = nil
	c.sid = ""
	c.connected = false
	ws.Close()
	return true
}

// endpoint converts the configured server URL into the Engine.IO WebSocket URL.
func (c *Client) endpoint() (string, error) {
	u, err := url.Parse(c.rawURL)
	if err != nil {
		return "", fmt.Errorf("socket: parse url %q: %w", c.rawURL, err)
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("socket: unsupported url scheme %q", u.Scheme)
	}
	path := c.opts.Path
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + path
	q := u.Query()
	q.Set("EIO", "4")
	q.Set("transport", TransportWebSocket)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// handshake dials, reads the Engine.IO open packet and completes the
// namespace connect, all within the configured timeout.
func (c *Client) handshake(ctx context.Context) (*websocket.Conn, openPayload, string, error) {
	var open openPayload
	if !slices.Contains(c.opts.Transports, TransportWebSocket) {
		return nil, open, "", errors.New("socket: no supported transport in preference list")
	}
	endpoint, err := c.endpoint()
	if err != nil {
		return nil, open, "", err
	}

	dialCtx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
	defer cancel()
	ws, _, err := c.opts.Dialer.DialContext(dialCtx, endpoint, c.opts.Header)
	if err != nil {
		return nil, open, "", fmt.Errorf("socket: dial: %w", err)
	}

	fail := func(err error) (*websocket.Conn, openPayload, string, error) {
		ws.Close()
		return nil, open, "", err
	}
	_ = ws.SetReadDeadline(time.Now().Add(c.opts.Timeout))

	_, msg, err := ws.ReadMessage()
	if err != nil {
		return fail(fmt.Errorf("socket: read open packet: %w", err))
	}
	if len(msg) == 0 || msg[0] != engineOpen {
		return fail(fmt.Errorf("socket: expected open packet, got %q", msg))
	}
	if err := json.Unmarshal(msg[1:], &open); err != nil {
		return fail(fmt.Errorf("socket: decode open packet: %w", err))
	}
	if err := c.write(ws, string(engineMessage)+string(packetConnect)); err != nil {
		return fail(fmt.Errorf("socket: namespace connect: %w", err))
	}

	for {
		_, msg, err := ws.ReadMessage()
		if err != nil {
			return fail(fmt.Errorf("socket: await namespace connect: %w", err))
		}
		s := string(msg)
		switch {
		case s == string(enginePing):
			if err := c.write(ws, string(enginePong)); err != nil {
				return fail(fmt.Errorf("socket: pong: %w", err))
			}
			continue
		case len(s) < 2 || s[0] != engineMessage:
			continue
		}
		p, err := decodePacket(s[1:])
		if err != nil {
			continue
		}
		switch p.kind {
		case packetConnect:
			var body struct {
				SID string `json:"sid"`
			}
			_ = json.Unmarshal(p.data, &body)
			return ws, open, body.SID, nil
		case packetConnectError:
			return fail(errors.New(connectErrorMessage(p.data)))
		}
	}
}

// readLoop dispatches server packets until the connection ends and returns
// the disconnect reason.
func (c *Client) readLoop(ctx context.Context, ws *websocket.Conn, open openPayload) string {
	window := time.Duration(open.PingInterval+open.PingTimeout) * time.Millisecond
	for {
		if window > 0 {
			_ = ws.SetReadDeadline(time.Now().Add(window))
		} else {
			_ = ws.SetReadDeadline(time.Time{})
		}
		_, msg, err := ws.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ReasonClientDisconnect
			}
			var netErr interface{ Timeout() bool }
			if errors.As(err, &netErr) && netErr.Timeout() {
				return ReasonPingTimeout
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return ReasonTransportClose
			}
			return ReasonTransportError
		}
		s := string(msg)
		if s == "" {
			continue
		}
		switch s[0] {
		case enginePing:
			if err := c.write(ws, string(enginePong)+s[1:]); err != nil {
				return ReasonTransportError
			}
		case engineClose:
			return ReasonTransportClose
		case engineMessage:
			p, err := decodePacket(s[1:])
			if err != nil {
				log.Printf("socket: dropping packet: %v", err)
				continue
			}
			switch p.kind {
			case packetEvent:
				c.dispatch(ctx, p.event, p.data)
			case packetDisconnect:
				return ReasonServerDisconnect
			case packetConnectError:
				c.dispatch(ctx, EventConnectError, ConnectError{Message: connectErrorMessage(p.data)})
			}
		case enginePong, engineNoop:
		}
	}
}

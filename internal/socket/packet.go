package socket

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Engine.IO packet types.
const (
	engineOpen    = '0'
	engineClose   = '1'
	enginePing    = '2'
	enginePong    = '3'
	engineMessage = '4'
	engineNoop    = '6'
)

// Socket.IO packet types, carried inside Engine.IO messages.
const (
	packetConnect      = '0'
	packetDisconnect   = '1'
	packetEvent        = '2'
	packetAck          = '3'
	packetConnectError = '4'
)

// openPayload is the Engine.IO handshake sent by the server.
type openPayload struct {
	SID          string   `json:"sid"`
	Upgrades     []string `json:"upgrades"`
	PingInterval int      `json:"pingInterval"`
	PingTimeout  int      `json:"pingTimeout"`
	MaxPayload   int      `json:"maxPayload"`
}

// packet is a decoded Socket.IO packet on the default namespace.
type packet struct {
	kind  byte
	event string
	data  json.RawMessage
}

// encodeEvent frames an event as an Engine.IO message.
func encodeEvent(event string, payload any) (string, error) {
	args := []any{event}
	if payload != nil {
		args = append(args, payload)
	}
	data, err := json.Marshal(args)
	if err != nil {
		return "", fmt.Errorf("socket: encode %s: %w", event, err)
	}
	return string(engineMessage) + string(packetEvent) + string(data), nil
}

// decodePacket parses the body of an Engine.IO message packet (the part
// after the leading '4'). Packets for other namespaces are rejected.
func decodePacket(s string) (packet, error) {
	if s == "" {
		return packet{}, fmt.Errorf("socket: empty packet")
	}
	p := packet{kind: s[0]}
	rest := s[1:]

	if strings.HasPrefix(rest, "/") {
		ns, after, found := strings.Cut(rest, ",")
		if !found || ns != "/" {
			return packet{}, fmt.Errorf("socket: unsupported namespace in %q", s)
		}
		rest = after
	}
	// Ack ids are digits ahead of the payload; this client never asks for
	// acks so they are skipped.
	rest = strings.TrimLeft(rest, "0123456789")

	switch p.kind {
	case packetConnect, packetConnectError:
		if rest != "" {
			p.data = json.RawMessage(rest)
		}
	case packetDisconnect:
	case packetEvent, packetAck:
		var args []json.RawMessage
		if err := json.Unmarshal([]byte(rest), &args); err != nil {
			return packet{}, fmt.Errorf("socket: decode event %q: %w", s, err)
		}
		if p.kind == packetAck {
			return p, nil
		}
		if len(args) == 0 {
			return packet{}, fmt.Errorf("socket: event without a name: %q", s)
		}
		if err := json.Unmarshal(args[0], &p.event); err != nil {
			return packet{}, fmt.Errorf("socket: event name in %q: %w", s, err)
		}
		if len(args) > 1 {
			p.data = args[1]
		}
	default:
		return packet{}, fmt.Errorf("socket: unsupported packet type %q", p.kind)
	}
	return p, nil
}

// connectErrorMessage extracts the message of a CONNECT_ERROR packet.
func connectErrorMessage(data json.RawMessage) string {
	var body struct {
		Message string `json:"message"`
	}
	if len(data) > 0 && json.Unmarshal(data, &body) == nil && body.Message != "" {
		return body.Message
	}
	if len(data) > 0 {
		return string(data)
	}
	return "connection refused"
}

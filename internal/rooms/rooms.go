// Package rooms manages the server-side broadcast rooms this client sits in.
// Patient rooms are joined optimistically; doctor rooms count as joined only
// once the server acknowledges them.
package rooms

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/zulandar/medqueue/internal/models"
	"github.com/zulandar/medqueue/internal/socket"
)

var (
	// ErrEmptyID is returned when a join names no patient or doctor.
	ErrEmptyID = errors.New("rooms: empty id")
	// ErrNotConnected is returned when the event channel is down.
	ErrNotConnected = errors.New("rooms: not connected")
)

// Channel is the slice of the connection manager the room layer needs.
type Channel interface {
	IsConnected() bool
	Emit(event string, payload any) error
	On(event string, h socket.Handler) func()
}

// PatientKey is the membership key of a patient room.
func PatientKey(patientID string) string { return "patient:" + patientID }

// DoctorKey is the membership key of a doctor room.
func DoctorKey(doctorID string) string { return "doctor:" + doctorID }

// Layer tracks room membership on one connection. Membership is keyed by
// PatientKey/DoctorKey and maps to true once joined, false while a doctor
// join awaits its acknowledgement. Everything is forgotten on disconnect.
type Layer struct {
	ch Channel

	mu        sync.Mutex
	members   map[string]bool
	ackOff    map[string]func()
	waiters   map[string][]chan struct{}
	confirmed map[uint64]func(key string)
	nextID    uint64
	offs      []func()
}

// New creates a Layer on ch.
func New(ch Channel) *Layer {
	l := &Layer{
		ch:        ch,
		members:   make(map[string]bool),
		ackOff:    make(map[string]func()),
		waiters:   make(map[string][]chan struct{}),
		confirmed: make(map[uint64]func(string)),
	}
	l.offs = append(l.offs, ch.On(socket.EventDisconnect, func(json.RawMessage) { l.reset() }))
	return l
}

// JoinPatientRoom asks the server to put this connection in the patient's
// room. The room counts as joined immediately.
func (l *Layer) JoinPatientRoom(patientID, doctorID string) error {
	if patientID == "" {
		log.Printf("rooms: cannot join patient room - empty patient id")
		return ErrEmptyID
	}
	if !l.ch.IsConnected() {
		log.Printf("rooms: cannot join patient room %s - not connected", patientID)
		return ErrNotConnected
	}
	req := models.PatientRoomRequest{PatientID: patientID, DoctorID: doctorID}
	if err := l.ch.Emit(models.EventJoinPatientRoom, req); err != nil {
		return fmt.Errorf("rooms: join patient room %s: %w", patientID, err)
	}
	key := PatientKey(patientID)
	l.mu.Lock()
	l.members[key] = true
	l.mu.Unlock()
	l.notifyConfirmed(key)
	return nil
}

// JoinDoctorRoom asks the server to put this connection in the doctor's
// room. The room stays pending until doctorRoomJoined arrives.
func (l *Layer) JoinDoctorRoom(doctorID string) error {
	if doctorID == "" {
		log.Printf("rooms: cannot join doctor room - empty doctor id")
		return ErrEmptyID
	}
	if !l.ch.IsConnected() {
		log.Printf("rooms: cannot join doctor room %s - not connected", doctorID)
		return ErrNotConnected
	}
	key := DoctorKey(doctorID)

	l.mu.Lock()
	if off := l.ackOff[key]; off != nil {
		off()
	}
	if !l.members[key] {
		l.members[key] = false
	}
	off := l.ch.On(models.EventDoctorRoomJoined, func(data json.RawMessage) {
		if id := ackDoctorID(data); id != "" && id != doctorID {
			return
		}
		l.confirm(key)
	})
	l.ackOff[key] = off
	l.mu.Unlock()

	if err := l.ch.Emit(models.EventJoinDoctorRoom, models.DoctorRoomRequest{DoctorID: doctorID}); err != nil {
		l.mu.Lock()
		off()
		delete(l.ackOff, key)
		if !l.members[key] {
			delete(l.members, key)
		}
		l.mu.Unlock()
		return fmt.Errorf("rooms: join doctor room %s: %w", doctorID, err)
	}
	return nil
}

// LeaveRoom tells the server this connection is leaving roomID and forgets
// the membership locally. No acknowledgement is expected.
func (l *Layer) LeaveRoom(roomID string) error {
	if roomID == "" {
		return ErrEmptyID
	}
	l.mu.Lock()
	delete(l.members, roomID)
	if off := l.ackOff[roomID]; off != nil {
		off()
		delete(l.ackOff, roomID)
	}
	l.mu.Unlock()

	if !l.ch.IsConnected() {
		log.Printf("rooms: cannot leave room %s - not connected", roomID)
		return ErrNotConnected
	}
	if err := l.ch.Emit(models.EventLeaveRoom, models.LeaveRoomRequest{RoomID: roomID}); err != nil {
		return fmt.Errorf("rooms: leave room %s: %w", roomID, err)
	}
	return nil
}

// IsJoined reports whether the room under key is joined (and, for doctor
// rooms, acknowledged).
func (l *Layer) IsJoined(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.members[key]
}

// WaitJoined blocks until the doctor's room is acknowledged or ctx ends.
func (l *Layer) WaitJoined(ctx context.Context, doctorID string) error {
	key := DoctorKey(doctorID)
	l.mu.Lock()
	if l.members[key] {
		l.mu.Unlock()
		return nil
	}
	ch := make(chan struct{})
	l.waiters[key] = append(l.waiters[key], ch)
	l.mu.Unlock()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		l.mu.Lock()
		ws := l.waiters[key]
		for i, w := range ws {
			if w == ch {
				l.waiters[key] = append(ws[:i:i], ws[i+1:]...)
				break
			}
		}
		l.mu.Unlock()
		return fmt.Errorf("rooms: wait for doctor room %s: %w", doctorID, ctx.Err())
	}
}

// Members returns a copy of the membership table.
func (l *Layer) Members() map[string]bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make(map[string]bool, len(l.members))
	for k, v := range l.members {
		out[k] = v
	}
	return out
}

// OnConfirmed registers fn for every room that becomes joined.
func (l *Layer) OnConfirmed(fn func(key string)) func() {
	l.mu.Lock()
	l.nextID++
	id := l.nextID
	l.confirmed[id] = fn
	l.mu.Unlock()
	return func() {
		l.mu.Lock()
		delete(l.confirmed, id)
		l.mu.Unlock()
	}
}

// Close removes every listener the layer registered and forgets membership.
func (l *Layer) Close() {
	l.mu.Lock()
	offs := l.offs
	l.offs = nil
	l.mu.Unlock()
	for _, off := range offs {
		off()
	}
	l.reset()
}

func (l *Layer) confirm(key string) {
	l.mu.Lock()
	off := l.ackOff[key]
	if off == nil {
		// Superseded by a disconnect or leave while the ack was in flight.
		l.mu.Unlock()
		return
	}
	delete(l.ackOff, key)
	l.members[key] = true
	ws := l.waiters[key]
	delete(l.waiters, key)
	l.mu.Unlock()

	off()
	for _, w := range ws {
		close(w)
	}
	l.notifyConfirmed(key)
}

func (l *Layer) notifyConfirmed(key string) {
	l.mu.Lock()
	fns := make([]func(string), 0, len(l.confirmed))
	for _, fn := range l.confirmed {
		fns = append(fns, fn)
	}
	l.mu.Unlock()
	for _, fn := range fns {
		fn(key)
	}
}

// reset clears membership and drops pending acknowledgements. Waiters stay
// registered so a re-join after reconnect can still release them.
func (l *Layer) reset() {
	l.mu.Lock()
	offs := make([]func(), 0, len(l.ackOff))
	for _, off := range l.ackOff {
		offs = append(offs, off)
	}
	l.members = make(map[string]bool)
	l.ackOff = make(map[string]func())
	l.mu.Unlock()
	for _, off := range offs {
		off()
	}
}

// ackDoctorID extracts the doctor id from a doctorRoomJoined payload, if any.
func ackDoctorID(data json.RawMessage) string {
	var body struct {
		DoctorID string `json:"doctorId"`
		Doctor   struct {
			ID string `json:"id"`
		} `json:"doctor"`
	}
	if len(data) == 0 || json.Unmarshal(data, &body) != nil {
		return ""
	}
	if body.DoctorID != "" {
		return body.DoctorID
	}
	return body.Doctor.ID
}

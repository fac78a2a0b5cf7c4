package rooms

import (
	"encoding/json"
	"log"
	"sync"

	"github.com/zulandar/medqueue/internal/socket"
)

// Tracker keeps one connection in one room: it joins at most once per
// connection lifetime and target, forgets the join when the target changes
// or the connection drops, and joins again exactly once after a reconnect.
type Tracker struct {
	layer *Layer

	mu        sync.Mutex
	patientID string
	doctorID  string
	doctor    bool
	joined    bool
	onJoined  func()
	offs      []func()
}

// Track creates a Tracker on the layer's connection. onJoined, if set, runs
// each time the tracked room becomes joined: straight after the join for a
// patient room, on acknowledgement for a doctor room.
func (l *Layer) Track(onJoined func()) *Tracker {
	t := &Tracker{layer: l, onJoined: onJoined}
	t.offs = append(t.offs,
		l.ch.On(socket.EventConnect, func(json.RawMessage) { t.ensure() }),
		l.ch.On(socket.EventDisconnect, func(json.RawMessage) { t.forget() }),
		l.OnConfirmed(t.confirmed),
	)
	return t
}

// SetPatient targets the patient's room and joins it if connected.
func (t *Tracker) SetPatient(patientID, doctorID string) {
	t.retarget(false, patientID, doctorID)
}

// SetDoctor targets the doctor's room and joins it if connected.
func (t *Tracker) SetDoctor(doctorID string) {
	t.retarget(true, "", doctorID)
}

// Key returns the membership key of the tracked room, or "" if none.
func (t *Tracker) Key() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.keyLocked()
}

// Joined reports whether the tracked room is joined on the server's terms.
func (t *Tracker) Joined() bool {
	key := t.Key()
	return key != "" && t.layer.IsJoined(key)
}

// Rejoin re-sends the join for the tracked room once, regardless of the
// guard. Used when the server rejects a command as unauthorized.
func (t *Tracker) Rejoin() error {
	t.mu.Lock()
	t.joined = false
	t.mu.Unlock()
	return t.join()
}

// Close stops tracking. The room itself is not left.
func (t *Tracker) Close() {
	t.mu.Lock()
	offs := t.offs
	t.offs = nil
	t.mu.Unlock()
	for _, off := range offs {
		off()
	}
}

func (t *Tracker) keyLocked() string {
	switch {
	case t.doctor && t.doctorID != "":
		return DoctorKey(t.doctorID)
	case !t.doctor && t.patientID != "":
		return PatientKey(t.patientID)
	}
	return ""
}

func (t *Tracker) retarget(doctor bool, patientID, doctorID string) {
	t.mu.Lock()
	if t.doctor == doctor && t.patientID == patientID && t.doctorID == doctorID {
		t.mu.Unlock()
		t.ensure()
		return
	}
	oldKey := t.keyLocked()
	wasJoined := t.joined
	t.doctor, t.patientID, t.doctorID = doctor, patientID, doctorID
	t.joined = false
	t.mu.Unlock()

	if wasJoined && oldKey != "" && t.layer.ch.IsConnected() {
		if err := t.layer.LeaveRoom(oldKey); err != nil {
			log.Printf("rooms: leave %s: %v", oldKey, err)
		}
	}
	t.ensure()
}

// ensure joins the tracked room unless this connection already did.
func (t *Tracker) ensure() {
	t.mu.Lock()
	if t.joined || t.keyLocked() == "" || !t.layer.ch.IsConnected() {
		t.mu.Unlock()
		return
	}
	t.mu.Unlock()
	if err := t.join(); err != nil {
		log.Printf("rooms: join: %v", err)
	}
}

func (t *Tracker) join() error {
	t.mu.Lock()
	if t.joined {
		t.mu.Unlock()
		return nil
	}
	t.joined = true
	doctor, patientID, doctorID := t.doctor, t.patientID, t.doctorID
	t.mu.Unlock()

	var err error
	if doctor {
		err = t.layer.JoinDoctorRoom(doctorID)
	} else {
		err = t.layer.JoinPatientRoom(patientID, doctorID)
	}
	if err != nil {
		t.mu.Lock()
		t.joined = false
		t.mu.Unlock()
	}
	return err
}

func (t *Tracker) forget() {
	t.mu.Lock()
	t.joined = false
	t.mu.Unlock()
}

func (t *Tracker) confirmed(key string) {
	t.mu.Lock()
	mine := key == t.keyLocked()
	cb := t.onJoined
	t.mu.Unlock()
	if mine && cb != nil {
		cb()
	}
}

package reconcile

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/zulandar/medqueue/internal/models"
	"github.com/zulandar/medqueue/internal/socket"
	"github.com/zulandar/medqueue/internal/telegraph"
)

// PatientState is what the patient sees.
type PatientState struct {
	PatientID  string
	DoctorID   string
	DoctorName string
	Position   int
	// EstimatedWait is the latest estimate in minutes from the server or
	// the local fallback.
	EstimatedWait float64
	// Status is the committed status; Display additionally reflects a late
	// notice.
	Status     models.Status
	Display    models.Status
	LateReason string
	// ConnectionIssue is set while the event channel is down. The patient
	// keeps their place in line.
	ConnectionIssue bool
	Terminal        bool
	TerminalReason  string
}

// TrackerOpts seeds a Tracker from a booking.
type TrackerOpts struct {
	PatientID     string
	DoctorID      string
	DoctorName    string
	Position      int
	EstimatedWait float64
	Notifier      telegraph.Notifier
}

// Tracker folds patient-scoped events into one patient's state.
type Tracker struct {
	notifier telegraph.Notifier

	mu             sync.Mutex
	state          PatientState
	serverPosition bool
	serverEstimate bool
	nextSub        uint64
	subs           map[uint64]func(PatientState)
	estimateSubs   map[uint64]func(float64)
}

// NewTracker creates a Tracker for a waiting patient.
func NewTracker(opts TrackerOpts) *Tracker {
	if opts.Notifier == nil {
		opts.Notifier = telegraph.Discard
	}
	return &Tracker{
		notifier: opts.Notifier,
		state: PatientState{
			PatientID:     opts.PatientID,
			DoctorID:      opts.DoctorID,
			DoctorName:    opts.DoctorName,
			Position:      opts.Position,
			EstimatedWait: opts.EstimatedWait,
			Status:        models.StatusWaiting,
			Display:       models.StatusWaiting,
		},
		serverEstimate: opts.EstimatedWait > 0,
		subs:           make(map[uint64]func(PatientState)),
		estimateSubs:   make(map[uint64]func(float64)),
	}
}

// State returns the current state.
func (t *Tracker) State() PatientState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// ApplyPosition takes a server position push. A fresh estimate is handed
// to OnEstimate subscribers.
func (t *Tracker) ApplyPosition(p models.QueuePosition) bool {
	t.mu.Lock()
	if t.state.Terminal || (p.Position == nil && p.EstimatedWaitTime == nil) {
		t.mu.Unlock()
		return false
	}
	if p.Position != nil {
		t.state.Position = *p.Position
		t.serverPosition = true
	}
	reseed := p.EstimatedWaitTime != nil
	if reseed {
		t.state.EstimatedWait = *p.EstimatedWaitTime
		t.serverEstimate = true
	}
	state := t.state
	t.mu.Unlock()

	t.publish(state, reseed)
	return true
}

// ApplyEstimate takes an estimate fetched over HTTP.
func (t *Tracker) ApplyEstimate(minutes float64) bool {
	t.mu.Lock()
	if t.state.Terminal {
		t.mu.Unlock()
		return false
	}
	t.state.EstimatedWait = minutes
	t.serverEstimate = true
	state := t.state
	t.mu.Unlock()

	t.publish(state, true)
	return true
}

// ApplyQueue derives the position from a queue snapshot. It only applies
// while the server has not pushed a position, and the estimate falls back
// to MinutesPerPatient per place only while no estimate was ever given.
func (t *Tracker) ApplyQueue(entries []models.Patient) bool {
	t.mu.Lock()
	if t.state.Terminal || t.serverPosition {
		t.mu.Unlock()
		return false
	}
	pos, ok := DerivePosition(entries, t.state.PatientID, t.state.DoctorID)
	if !ok {
		t.mu.Unlock()
		return false
	}
	t.state.Position = pos
	reseed := false
	if !t.serverEstimate {
		t.state.EstimatedWait = float64(pos * MinutesPerPatient)
		reseed = true
	}
	state := t.state
	t.mu.Unlock()

	t.publish(state, reseed)
	return true
}

// ApplyLifecycle folds a scoped lifecycle event. Events for another
// patient, or naming another doctor, are ignored, as is anything after the
// patient has left the queue.
func (t *Tracker) ApplyLifecycle(event string, ev models.Lifecycle) bool {
	t.mu.Lock()
	if t.state.Terminal || ev.Patient.ID != t.state.PatientID {
		t.mu.Unlock()
		return false
	}
	if ev.Doctor.ID != "" && t.state.DoctorID != "" && ev.Doctor.ID != t.state.DoctorID {
		t.mu.Unlock()
		return false
	}

	doctor := ev.Doctor.Name
	if doctor == "" {
		doctor = t.state.DoctorName
	}
	var notice *telegraph.Notice
	changed := true
	switch event {
	case models.EventConsultationStarted:
		if t.state.Status == models.StatusConsulting {
			changed = false
			break
		}
		t.commit(models.StatusConsulting)
		notice = &telegraph.Notice{
			Title:    "Consultation Starting",
			Body:     fmt.Sprintf("Dr. %s is ready to see you now.", doctor),
			Severity: telegraph.SeveritySuccess,
		}
	case models.EventConsultationCompleted:
		t.terminate(models.StatusCompleted, "")
		notice = &telegraph.Notice{
			Title:    "Consultation Completed",
			Body:     fmt.Sprintf("Your consultation with Dr. %s has been completed.", doctor),
			Severity: telegraph.SeveritySuccess,
		}
	case models.EventPatientRemoved:
		t.terminate(models.StatusRemoved, ev.Reason)
		body := fmt.Sprintf("You have been removed from Dr. %s's queue.", doctor)
		if ev.Reason != "" {
			body += "\nReason: " + ev.Reason
		}
		notice = &telegraph.Notice{Title: "Removed from Queue", Body: body, Severity: telegraph.SeverityWarning}
	case models.EventPatientStatusUpdated:
		changed, notice = t.statusUpdated(ev, doctor)
	default:
		changed = false
	}
	state := t.state
	t.mu.Unlock()

	if notice != nil {
		telegraph.Send(context.Background(), t.notifier, *notice)
	}
	if changed {
		t.publish(state, false)
	}
	return changed || notice != nil
}

// statusUpdated handles patientStatusUpdated under t.mu.
func (t *Tracker) statusUpdated(ev models.Lifecycle, doctor string) (bool, *telegraph.Notice) {
	switch ev.Status {
	case models.StatusNext:
		return false, &telegraph.Notice{
			Title:    "Please get ready",
			Body:     fmt.Sprintf("Walk to the door. You're next to see %s.", doctor),
			Severity: telegraph.SeverityInfo,
		}
	case models.StatusLate:
		t.state.Display = models.StatusLate
		t.state.LateReason = ev.Reason
		return true, &telegraph.Notice{
			Title:    "Schedule Update",
			Body:     fmt.Sprintf("%s has informed us of a slight delay: %s. We appreciate your patience.", doctor, ev.Reason),
			Severity: telegraph.SeverityWarning,
		}
	case models.StatusCompleted, models.StatusRemoved:
		t.terminate(ev.Status, ev.Reason)
		return true, nil
	case models.StatusWaiting, models.StatusConsulting:
		if t.state.Status == ev.Status && t.state.Display == ev.Status {
			return false, nil
		}
		t.commit(ev.Status)
		return true, nil
	}
	return false, nil
}

func (t *Tracker) commit(s models.Status) {
	t.state.Status = s
	t.state.Display = s
	t.state.LateReason = ""
}

func (t *Tracker) terminate(s models.Status, reason string) {
	t.commit(s)
	t.state.Terminal = true
	t.state.TerminalReason = reason
}

// MarkLeft records that the patient left the queue on their own. No
// notice is sent.
func (t *Tracker) MarkLeft(reason string) bool {
	t.mu.Lock()
	if t.state.Terminal {
		t.mu.Unlock()
		return false
	}
	t.terminate(models.StatusRemoved, reason)
	state := t.state
	t.mu.Unlock()
	t.publish(state, false)
	return true
}

// SetConnected records event-channel connectivity. Losing the connection
// never changes the patient's place in line.
func (t *Tracker) SetConnected(connected bool) {
	t.mu.Lock()
	if t.state.ConnectionIssue == !connected {
		t.mu.Unlock()
		return
	}
	t.state.ConnectionIssue = !connected
	state := t.state
	t.mu.Unlock()
	t.publish(state, false)
}

// OnChange registers fn for every state change.
func (t *Tracker) OnChange(fn func(PatientState)) func() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.nextSub++
	id := t.nextSub
	t.subs[id] = fn
	return func() {
		t.mu.Lock()
		delete(t.subs, id)
		t.mu.Unlock()
	}
}

// OnEstimate registers fn for every fresh wait estimate, in minutes.
func (t *Tracker) OnEstimate(fn func(minutes float64)) func() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.nextSub++
	id := t.nextSub
	t.estimateSubs[id] = fn
	return func() {
		t.mu.Lock()
		delete(t.estimateSubs, id)
		t.mu.Unlock()
	}
}

// Attach subscribes the tracker to the patient-side events on ch,
// including the connect and disconnect meta events.
func (t *Tracker) Attach(ch Channel) func() {
	lifecycle := func(event string) socket.Handler {
		return func(data json.RawMessage) {
			var ev models.Lifecycle
			if json.Unmarshal(data, &ev) != nil {
				return
			}
			t.ApplyLifecycle(event, ev)
		}
	}
	offs := []func(){
		ch.On(models.EventQueueUpdate, func(data json.RawMessage) {
			snap, pos, ok := models.DecodeQueueUpdate(data)
			switch {
			case !ok:
			case pos != nil:
				t.ApplyPosition(*pos)
			case snap != nil:
				t.ApplyQueue(snap.Queue)
			}
		}),
		ch.On(models.EventQueueChanged, func(data json.RawMessage) {
			if snap, _, ok := models.DecodeQueueUpdate(data); ok && snap != nil {
				t.ApplyQueue(snap.Queue)
			}
		}),
		ch.On(models.EventConsultationStarted, lifecycle(models.EventConsultationStarted)),
		ch.On(models.EventConsultationCompleted, lifecycle(models.EventConsultationCompleted)),
		ch.On(models.EventPatientRemoved, lifecycle(models.EventPatientRemoved)),
		ch.On(models.EventPatientStatusUpdated, lifecycle(models.EventPatientStatusUpdated)),
		ch.On(socket.EventConnect, func(json.RawMessage) { t.SetConnected(true) }),
		ch.On(socket.EventDisconnect, func(json.RawMessage) { t.SetConnected(false) }),
	}
	return func() {
		for _, off := range offs {
			off()
		}
	}
}

func (t *Tracker) publish(state PatientState, reseed bool) {
	t.mu.Lock()
	fns := make([]func(PatientState), 0, len(t.subs))
	for _, fn := range t.subs {
		fns = append(fns, fn)
	}
	var est []func(float64)
	if reseed {
		for _, fn := range t.estimateSubs {
			est = append(est, fn)
		}
	}
	t.mu.Unlock()

	for _, fn := range est {
		fn(state.EstimatedWait)
	}
	for _, fn := range fns {
		fn(state)
	}
}

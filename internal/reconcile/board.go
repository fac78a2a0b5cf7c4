package reconcile

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/zulandar/medqueue/internal/metrics"
	"github.com/zulandar/medqueue/internal/models"
	"github.com/zulandar/medqueue/internal/telegraph"
)

// BoardView is a snapshot of a Board.
type BoardView struct {
	Doctor  models.Doctor
	Entries []models.Patient
	Stats   models.QueueStats
	// ServerStats is true when Stats came from a server summary.
	ServerStats bool
	Version     *int64
}

// optimistic is a status written locally ahead of server confirmation.
// version is the snapshot version current at write time, valid only when
// versioned is set.
type optimistic struct {
	status    models.Status
	version   int64
	versioned bool
}

// BoardOpts configures a Board.
type BoardOpts struct {
	DoctorID string
	Notifier telegraph.Notifier
	Metrics  *metrics.Collector
}

// Board is the doctor dashboard's view of one queue.
//
// Snapshots replace the entry set wholesale. Versioned snapshots older than
// the last applied one are dropped. An optimistic write survives only
// versioned snapshots that are not newer than the version it was made
// against; any newer versioned snapshot, any unversioned snapshot and any
// scoped event touching the entry supersedes it.
type Board struct {
	doctorID string
	notifier telegraph.Notifier
	metrics  *metrics.Collector

	mu          sync.Mutex
	doctor      models.Doctor
	entries     []models.Patient
	stats       models.QueueStats
	serverStats bool
	version     *int64
	pending     map[string]optimistic
	nextSub     uint64
	subs        map[uint64]func(BoardView)
}

// NewBoard creates an empty Board for opts.DoctorID.
func NewBoard(opts BoardOpts) *Board {
	if opts.Notifier == nil {
		opts.Notifier = telegraph.Discard
	}
	return &Board{
		doctorID: opts.DoctorID,
		notifier: opts.Notifier,
		metrics:  opts.Metrics,
		doctor:   models.Doctor{ID: opts.DoctorID},
		pending:  make(map[string]optimistic),
		subs:     make(map[uint64]func(BoardView)),
	}
}

// DoctorID returns the doctor this board filters on.
func (b *Board) DoctorID() string { return b.doctorID }

// ApplySnapshot replaces the entry set with s.Queue. It returns false if the
// snapshot was dropped as out of date.
func (b *Board) ApplySnapshot(s models.QueueSnapshot) bool {
	b.mu.Lock()
	if s.Version != nil && b.version != nil && *s.Version < *b.version {
		b.mu.Unlock()
		return false
	}

	entries := make([]models.Patient, len(s.Queue))
	copy(entries, s.Queue)
	for id, opt := range b.pending {
		keep := s.Version != nil && opt.versioned && *s.Version <= opt.version
		idx := indexOf(entries, id)
		if !keep || idx < 0 {
			delete(b.pending, id)
			continue
		}
		entries[idx].Status = opt.status
	}
	b.entries = entries
	if s.Version != nil {
		v := *s.Version
		b.version = &v
	}
	b.setStatsLocked(s.Summary())
	view := b.viewLocked()
	b.mu.Unlock()

	b.publish(view)
	return true
}

// LoadFromAPI applies a queue fetched over HTTP. It is treated as an
// unversioned snapshot that also carries the doctor profile.
func (b *Board) LoadFromAPI(q models.DoctorQueue) {
	b.mu.Lock()
	if q.Doctor.ID != "" || q.Doctor.Name != "" {
		b.doctor = q.Doctor
		if b.doctor.ID == "" {
			b.doctor.ID = b.doctorID
		}
	}
	b.mu.Unlock()
	b.ApplySnapshot(models.QueueSnapshot{
		Queue:        q.Queue,
		Statistics:   q.Statistics,
		QueueSummary: q.QueueSummary,
	})
}

// Clear drops everything, leaving an empty queue and zeroed stats. Used
// when a fetch fails so no partial state is shown.
func (b *Board) Clear() {
	b.mu.Lock()
	b.doctor = models.Doctor{ID: b.doctorID}
	b.entries = nil
	b.stats = models.QueueStats{}
	b.serverStats = false
	b.pending = make(map[string]optimistic)
	view := b.viewLocked()
	b.mu.Unlock()
	b.publish(view)
}

// ApplyConsultationStarted marks the patient as consulting.
func (b *Board) ApplyConsultationStarted(ev models.Lifecycle) bool {
	if !b.applyScoped(ev, func(entries []models.Patient, idx int) []models.Patient {
		entries[idx].Status = models.StatusConsulting
		return entries
	}) {
		return false
	}
	b.notify(telegraph.Notice{
		Title:    "Consultation Started",
		Body:     fmt.Sprintf("%s's consultation is now in progress with Dr. %s", nameOr(ev.Patient), nameOr(ev.Doctor)),
		Severity: telegraph.SeverityInfo,
	})
	return true
}

// ApplyConsultationCompleted removes the patient from the board.
func (b *Board) ApplyConsultationCompleted(ev models.Lifecycle) bool {
	if !b.applyScoped(ev, excise) {
		return false
	}
	b.notify(telegraph.Notice{
		Title:    "Consultation Completed",
		Body:     fmt.Sprintf("%s's consultation with Dr. %s has been completed", nameOr(ev.Patient), nameOr(ev.Doctor)),
		Severity: telegraph.SeveritySuccess,
	})
	return true
}

// ApplyPatientRemoved removes the patient from the board.
func (b *Board) ApplyPatientRemoved(ev models.Lifecycle) bool {
	if !b.applyScoped(ev, excise) {
		return false
	}
	body := fmt.Sprintf("%s has been removed from Dr. %s's queue", nameOr(ev.Patient), nameOr(ev.Doctor))
	if ev.Reason != "" {
		body += "\nReason: " + ev.Reason
	}
	b.notify(telegraph.Notice{Title: "Patient Removed", Body: body, Severity: telegraph.SeverityWarning})
	return true
}

// ApplyStatusUpdated reflects a patient status change. "next" is a notice
// for the patient only and leaves the entry alone.
func (b *Board) ApplyStatusUpdated(ev models.Lifecycle) bool {
	if ev.Status == "" || ev.Status == models.StatusNext {
		return false
	}
	return b.applyScoped(ev, func(entries []models.Patient, idx int) []models.Patient {
		if ev.Status.Terminal() {
			return excise(entries, idx)
		}
		entries[idx].Status = ev.Status
		return entries
	})
}

// MarkOptimistic sets a patient's status locally ahead of the server. It
// returns false if the patient is not on the board.
func (b *Board) MarkOptimistic(patientID string, status models.Status) bool {
	b.mu.Lock()
	idx := indexOf(b.entries, patientID)
	if idx < 0 {
		b.mu.Unlock()
		return false
	}
	opt := optimistic{status: status}
	if b.version != nil {
		opt.version, opt.versioned = *b.version, true
	}
	b.pending[patientID] = opt
	b.entries[idx].Status = status
	b.setStatsLocked(nil)
	view := b.viewLocked()
	b.mu.Unlock()

	b.publish(view)
	return true
}

// Remove drops a patient after the server confirmed the removal.
func (b *Board) Remove(patientID string) bool {
	b.mu.Lock()
	idx := indexOf(b.entries, patientID)
	if idx < 0 {
		b.mu.Unlock()
		return false
	}
	b.entries = excise(b.entries, idx)
	delete(b.pending, patientID)
	b.setStatsLocked(nil)
	view := b.viewLocked()
	b.mu.Unlock()

	b.publish(view)
	return true
}

// Entries returns a copy of the current entries.
func (b *Board) Entries() []models.Patient {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]models.Patient, len(b.entries))
	copy(out, b.entries)
	return out
}

// Entry returns the entry for patientID.
func (b *Board) Entry(patientID string) (models.Patient, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if idx := indexOf(b.entries, patientID); idx >= 0 {
		return b.entries[idx], true
	}
	return models.Patient{}, false
}

// Stats returns the current stats.
func (b *Board) Stats() models.QueueStats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stats
}

// View returns a snapshot of the whole board.
func (b *Board) View() BoardView {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.viewLocked()
}

// IsOptimistic reports whether patientID carries an unconfirmed local write.
func (b *Board) IsOptimistic(patientID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.pending[patientID]
	return ok
}

// OnChange registers fn for every change to the board.
func (b *Board) OnChange(fn func(BoardView)) func() {
	b.mu.Lock()
	b.nextSub++
	id := b.nextSub
	b.subs[id] = fn
	b.mu.Unlock()
	return func() {
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
	}
}

// Attach subscribes the board to the doctor-side queue events on ch and
// returns a func that removes every subscription.
func (b *Board) Attach(ch Channel) func() {
	snapshot := func(data json.RawMessage) {
		if snap, _, ok := models.DecodeQueueUpdate(data); ok && snap != nil {
			b.ApplySnapshot(*snap)
		}
	}
	lifecycle := func(apply func(models.Lifecycle) bool) func(json.RawMessage) {
		return func(data json.RawMessage) {
			var ev models.Lifecycle
			if json.Unmarshal(data, &ev) != nil {
				return
			}
			apply(ev)
		}
	}
	offs := []func(){
		ch.On(models.EventQueueChanged, snapshot),
		ch.On(models.EventQueueUpdate, snapshot),
		ch.On(models.EventConsultationStarted, lifecycle(b.ApplyConsultationStarted)),
		ch.On(models.EventConsultationCompleted, lifecycle(b.ApplyConsultationCompleted)),
		ch.On(models.EventPatientRemoved, lifecycle(b.ApplyPatientRemoved)),
		ch.On(models.EventPatientStatusUpdated, lifecycle(b.ApplyStatusUpdated)),
	}
	return func() {
		for _, off := range offs {
			off()
		}
	}
}

// applyScoped runs mutate on the entry named by ev if ev concerns this
// board's doctor and the patient is present. Any optimistic write on the
// entry is superseded.
func (b *Board) applyScoped(ev models.Lifecycle, mutate func([]models.Patient, int) []models.Patient) bool {
	if ev.Doctor.ID != b.doctorID || ev.Patient.ID == "" {
		return false
	}
	b.mu.Lock()
	idx := indexOf(b.entries, ev.Patient.ID)
	if idx < 0 {
		b.mu.Unlock()
		return false
	}
	delete(b.pending, ev.Patient.ID)
	b.entries = mutate(b.entries, idx)
	b.setStatsLocked(nil)
	view := b.viewLocked()
	b.mu.Unlock()

	b.publish(view)
	return true
}

// setStatsLocked takes summary verbatim when given, otherwise folds the
// entries.
func (b *Board) setStatsLocked(summary *models.QueueStats) {
	if summary != nil {
		b.stats = *summary
		b.serverStats = true
		return
	}
	b.stats = ComputeStats(b.entries)
	b.serverStats = false
}

func (b *Board) viewLocked() BoardView {
	v := BoardView{
		Doctor:      b.doctor,
		Entries:     make([]models.Patient, len(b.entries)),
		Stats:       b.stats,
		ServerStats: b.serverStats,
	}
	copy(v.Entries, b.entries)
	if b.version != nil {
		ver := *b.version
		v.Version = &ver
	}
	return v
}

func (b *Board) publish(view BoardView) {
	b.metrics.SetQueueEntries(CountByStatus(view.Entries))
	b.mu.Lock()
	fns := make([]func(BoardView), 0, len(b.subs))
	for _, fn := range b.subs {
		fns = append(fns, fn)
	}
	b.mu.Unlock()
	for _, fn := range fns {
		fn(view)
	}
}

func (b *Board) notify(n telegraph.Notice) {
	telegraph.Send(context.Background(), b.notifier, n)
}

func indexOf(entries []models.Patient, id string) int {
	for i, e := range entries {
		if e.ID == id {
			return i
		}
	}
	return -1
}

func excise(entries []models.Patient, idx int) []models.Patient {
	return append(entries[:idx:idx], entries[idx+1:]...)
}

func nameOr(p models.PartyRef) string {
	if p.Name != "" {
		return p.Name
	}
	return p.ID
}

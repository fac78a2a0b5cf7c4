package session

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/zulandar/medqueue/internal/api"
	"github.com/zulandar/medqueue/internal/conn"
	"github.com/zulandar/medqueue/internal/db"
	"github.com/zulandar/medqueue/internal/models"
	"github.com/zulandar/medqueue/internal/reconcile"
	"github.com/zulandar/medqueue/internal/rooms"
	"github.com/zulandar/medqueue/internal/telegraph"
	"github.com/zulandar/medqueue/internal/waittimer"
)

// DefaultRefreshSchedule refreshes the wait estimate every five minutes.
const DefaultRefreshSchedule = "*/5 * * * *"

// PatientOpts configures a Patient session.
type PatientOpts struct {
	Manager *conn.Manager
	API     *api.Client
	// Bookings journals progress and the final outcome. Optional.
	Bookings *db.Bookings
	Notifier telegraph.Notifier

	PatientID     string
	PatientName   string
	DoctorID      string
	DoctorName    string
	Position      int
	EstimatedWait float64

	// Tick is the countdown step, one minute by default.
	Tick time.Duration
	// RefreshSchedule is a standard cron expression for re-fetching the
	// wait estimate. Empty uses DefaultRefreshSchedule.
	RefreshSchedule string
}

// PatientSnapshot is the JSON form of a Patient's state.
type PatientSnapshot struct {
	Role            string         `json:"role"`
	Connection      ConnectionView `json:"connection"`
	RoomJoined      bool           `json:"roomJoined"`
	PatientID       string         `json:"patientId"`
	PatientName     string         `json:"patientName,omitempty"`
	DoctorID        string         `json:"doctorId"`
	DoctorName      string         `json:"doctorName,omitempty"`
	Position        int            `json:"position"`
	EstimatedWait   float64        `json:"estimatedWaitTime"`
	Remaining       float64        `json:"remainingMinutes"`
	TimerRunning    bool           `json:"timerRunning"`
	Status          models.Status  `json:"status"`
	Display         models.Status  `json:"displayStatus"`
	LateReason      string         `json:"lateReason,omitempty"`
	ConnectionIssue bool           `json:"connectionIssue"`
	Terminal        bool           `json:"terminal"`
	TerminalReason  string         `json:"terminalReason,omitempty"`
}

// Patient follows one booking: it keeps the patient room joined, folds
// position and lifecycle events, runs the countdown and refreshes the
// estimate on a schedule.
type Patient struct {
	opts    PatientOpts
	layer   *rooms.Layer
	tracker *reconcile.Tracker
	timer   *waittimer.Timer
	changes hub

	mu      sync.Mutex
	room    *rooms.Tracker
	sched   *cron.Cron
	cancel  context.CancelFunc
	offs    []func()
	joins   int
	started bool
	closed  bool
	done    chan struct{}
	ended   bool
}

// NewPatient builds a Patient session. Nothing is connected until Start.
func NewPatient(opts PatientOpts) (*Patient, error) {
	if opts.Manager == nil {
		return nil, fmt.Errorf("session: manager is required")
	}
	if opts.PatientID == "" || opts.DoctorID == "" {
		return nil, fmt.Errorf("session: patient and doctor ids are required")
	}
	if opts.Notifier == nil {
		opts.Notifier = telegraph.Discard
	}
	if opts.RefreshSchedule == "" {
		opts.RefreshSchedule = DefaultRefreshSchedule
	}
	return &Patient{
		opts:  opts,
		layer: rooms.New(opts.Manager),
		tracker: reconcile.NewTracker(reconcile.TrackerOpts{
			PatientID:     opts.PatientID,
			DoctorID:      opts.DoctorID,
			DoctorName:    opts.DoctorName,
			Position:      opts.Position,
			EstimatedWait: opts.EstimatedWait,
			Notifier:      opts.Notifier,
		}),
		timer: waittimer.New(waittimer.Options{Tick: opts.Tick, Notifier: opts.Notifier}),
		done:  make(chan struct{}),
	}, nil
}

// Start wires the layers together, joins the patient room and connects.
// ctx bounds the background refreshes; Close cancels them.
func (p *Patient) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrClosed
	}
	if p.started {
		p.mu.Unlock()
		return nil
	}

	ctx, cancel := context.WithCancel(ctx)
	sched := cron.New()
	if _, err := sched.AddFunc(p.opts.RefreshSchedule, func() {
		if err := p.RefreshWait(ctx); err != nil {
			log.Printf("session: scheduled refresh: %v", err)
		}
	}); err != nil {
		p.mu.Unlock()
		cancel()
		return fmt.Errorf("session: refresh schedule %q: %w", p.opts.RefreshSchedule, err)
	}
	p.sched = sched
	p.cancel = cancel
	p.started = true

	p.offs = append(p.offs,
		p.tracker.Attach(p.opts.Manager),
		p.tracker.OnEstimate(func(minutes float64) { p.timer.Start(minutes) }),
		p.tracker.OnChange(p.stateChanged),
		p.timer.OnChange(func(float64) { p.changes.fire() }),
		p.opts.Manager.Subscribe(func(conn.State) { p.changes.fire() }),
	)
	room := p.layer.Track(func() { p.joined(ctx) })
	p.room = room
	p.mu.Unlock()

	p.timer.Start(p.opts.EstimatedWait)
	p.opts.Manager.Connect()
	room.SetPatient(p.opts.PatientID, p.opts.DoctorID)
	sched.Start()
	return nil
}

// joined runs each time the patient room is joined. Every join after the
// first one follows a reconnect and re-fetches the estimate.
func (p *Patient) joined(ctx context.Context) {
	p.mu.Lock()
	p.joins++
	rejoin := p.joins > 1
	p.mu.Unlock()
	p.changes.fire()
	if rejoin {
		go func() {
			if err := p.RefreshWait(ctx); err != nil {
				log.Printf("session: refresh after rejoin: %v", err)
			}
		}()
	}
}

func (p *Patient) stateChanged(st reconcile.PatientState) {
	p.timer.SetWaiting(st.Status == models.StatusWaiting && !st.Terminal)
	if b := p.opts.Bookings; b != nil {
		if st.Terminal {
			if err := b.MarkClosed(st.PatientID, st.Status, st.TerminalReason); err != nil && !errors.Is(err, db.ErrNotFound) {
				log.Printf("session: journal close %s: %v", st.PatientID, err)
			}
		} else if err := b.UpdateProgress(st.PatientID, st.Position, st.EstimatedWait); err != nil {
			log.Printf("session: journal progress %s: %v", st.PatientID, err)
		}
	}
	if st.Terminal {
		p.mu.Lock()
		if !p.ended {
			p.ended = true
			close(p.done)
		}
		p.mu.Unlock()
	}
	p.changes.fire()
}

// RefreshWait fetches a fresh estimate over HTTP and re-seeds the
// countdown with it.
func (p *Patient) RefreshWait(ctx context.Context) error {
	if p.opts.API == nil {
		return fmt.Errorf("session: no api client")
	}
	minutes, err := p.opts.API.EstimatedWaitTime(ctx, p.opts.DoctorID)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	p.tracker.ApplyEstimate(minutes)
	return nil
}

// Leave takes the patient out of the queue over HTTP and ends the session.
func (p *Patient) Leave(ctx context.Context, reason string) error {
	if p.opts.API == nil {
		return fmt.Errorf("session: no api client")
	}
	if err := p.opts.API.RemovePatient(ctx, p.opts.PatientID, reason); err != nil {
		return err
	}
	p.tracker.MarkLeft(reason)
	return nil
}

// Done is closed once the patient has left the queue for good.
func (p *Patient) Done() <-chan struct{} { return p.done }

// State returns the reconciled patient state.
func (p *Patient) State() reconcile.PatientState { return p.tracker.State() }

// Remaining returns the countdown value in minutes.
func (p *Patient) Remaining() float64 { return p.timer.Value() }

// Snapshot implements dashboard.Provider.
func (p *Patient) Snapshot() any { return p.View() }

// View returns the typed snapshot.
func (p *Patient) View() PatientSnapshot {
	st := p.tracker.State()
	p.mu.Lock()
	room := p.room
	p.mu.Unlock()
	return PatientSnapshot{
		Role:            "patient",
		Connection:      connectionView(p.opts.Manager.State()),
		RoomJoined:      room != nil && room.Joined(),
		PatientID:       st.PatientID,
		PatientName:     p.opts.PatientName,
		DoctorID:        st.DoctorID,
		DoctorName:      st.DoctorName,
		Position:        st.Position,
		EstimatedWait:   st.EstimatedWait,
		Remaining:       p.timer.Value(),
		TimerRunning:    p.timer.Running(),
		Status:          st.Status,
		Display:         st.Display,
		LateReason:      st.LateReason,
		ConnectionIssue: st.ConnectionIssue,
		Terminal:        st.Terminal,
		TerminalReason:  st.TerminalReason,
	}
}

// Connect implements dashboard.Provider.
func (p *Patient) Connect() { p.opts.Manager.Connect() }

// Disconnect implements dashboard.Provider.
func (p *Patient) Disconnect() { p.opts.Manager.Disconnect() }

// OnChange implements dashboard.Provider.
func (p *Patient) OnChange(fn func()) func() { return p.changes.subscribe(fn) }

// Close stops the countdown and the refresh schedule, leaves the patient
// room if connected and removes every subscription. The connection itself
// belongs to the caller.
func (p *Patient) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	sched, room, offs, cancel := p.sched, p.room, p.offs, p.cancel
	p.offs = nil
	p.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if sched != nil {
		<-sched.Stop().Done()
	}
	p.timer.Stop()
	if room != nil {
		if key := room.Key(); key != "" && p.opts.Manager.IsConnected() {
			if err := p.layer.LeaveRoom(key); err != nil {
				log.Printf("session: leave %s: %v", key, err)
			}
		}
		room.Close()
	}
	for _, off := range offs {
		off()
	}
	p.layer.Close()
}

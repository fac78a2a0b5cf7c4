package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/zulandar/medqueue/internal/api"
	"github.com/zulandar/medqueue/internal/command"
	"github.com/zulandar/medqueue/internal/conn"
	"github.com/zulandar/medqueue/internal/metrics"
	"github.com/zulandar/medqueue/internal/models"
	"github.com/zulandar/medqueue/internal/reconcile"
	"github.com/zulandar/medqueue/internal/rooms"
	"github.com/zulandar/medqueue/internal/telegraph"
)

// DefaultRemoveReason is sent when the doctor gives no reason.
const DefaultRemoveReason = "Removed by doctor from dashboard"

// DoctorOpts configures a Doctor session.
type DoctorOpts struct {
	Manager       *conn.Manager
	API           *api.Client
	Notifier      telegraph.Notifier
	Metrics       *metrics.Collector
	DoctorID      string
	RemoveTimeout time.Duration
}

// DoctorSnapshot is the JSON form of a Doctor's state.
type DoctorSnapshot struct {
	Role       string            `json:"role"`
	Connection ConnectionView    `json:"connection"`
	RoomJoined bool              `json:"roomJoined"`
	Doctor     models.Doctor     `json:"doctor"`
	Queue      []models.Patient  `json:"queue"`
	Stats      models.QueueStats `json:"statistics"`
	Version    *int64            `json:"version,omitempty"`
}

// Doctor manages one doctor's queue. Mutating commands wait for the doctor
// room to be acknowledged; the queue is re-fetched each time it is.
type Doctor struct {
	opts    DoctorOpts
	layer   *rooms.Layer
	board   *reconcile.Board
	cmd     *command.Correlator
	changes hub

	mu        sync.Mutex
	room      *rooms.Tracker
	cancel    context.CancelFunc
	offs      []func()
	started   bool
	closed    bool
	rejoining bool
}

// NewDoctor builds a Doctor session. Nothing is connected until Start.
func NewDoctor(opts DoctorOpts) (*Doctor, error) {
	if opts.Manager == nil {
		return nil, fmt.Errorf("session: manager is required")
	}
	if opts.DoctorID == "" {
		return nil, fmt.Errorf("session: doctor id is required")
	}
	if opts.Notifier == nil {
		opts.Notifier = telegraph.Discard
	}
	return &Doctor{
		opts:  opts,
		layer: rooms.New(opts.Manager),
		board: reconcile.NewBoard(reconcile.BoardOpts{
			DoctorID: opts.DoctorID,
			Notifier: opts.Notifier,
			Metrics:  opts.Metrics,
		}),
		cmd: command.New(opts.Manager, command.Options{
			Timeout: opts.RemoveTimeout,
			Metrics: opts.Metrics,
		}),
	}, nil
}

// Start wires the layers together, joins the doctor room and connects.
// ctx bounds the queue fetches that follow each room acknowledgement; Close
// cancels them.
func (d *Doctor) Start(ctx context.Context) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return ErrClosed
	}
	if d.started {
		d.mu.Unlock()
		return nil
	}
	d.started = true
	ctx, d.cancel = context.WithCancel(ctx)
	d.offs = append(d.offs,
		d.board.Attach(d.opts.Manager),
		d.board.OnChange(func(reconcile.BoardView) { d.changes.fire() }),
		d.opts.Manager.Subscribe(func(conn.State) { d.changes.fire() }),
		d.opts.Manager.On(models.EventError, d.serverError),
	)
	room := d.layer.Track(func() { d.joined(ctx) })
	d.room = room
	d.mu.Unlock()

	d.opts.Manager.Connect()
	room.SetDoctor(d.opts.DoctorID)
	return nil
}

// joined runs each time the server acknowledges the doctor room.
func (d *Doctor) joined(ctx context.Context) {
	d.mu.Lock()
	d.rejoining = false
	d.mu.Unlock()
	d.changes.fire()
	go func() {
		if err := d.Refresh(ctx); err != nil {
			log.Printf("session: refresh doctor %s: %v", d.opts.DoctorID, err)
		}
	}()
}

// serverError handles the server's error event. An unauthorized rejection
// re-joins the doctor room once until the next acknowledgement.
func (d *Doctor) serverError(data json.RawMessage) {
	var se models.ServerError
	if err := json.Unmarshal(data, &se); err != nil {
		log.Printf("session: malformed server error: %v", err)
		return
	}
	log.Printf("session: server error %s: %s", se.Code, se.Message)

	if strings.Contains(se.Message, "Unauthorized") {
		d.mu.Lock()
		room, again := d.room, d.rejoining
		d.rejoining = true
		d.mu.Unlock()
		if room != nil && !again {
			if err := room.Rejoin(); err != nil {
				log.Printf("session: rejoin doctor room: %v", err)
			}
			return
		}
	}
	telegraph.Send(context.Background(), d.opts.Notifier, telegraph.Notice{
		Title:    "Error",
		Body:     se.Message,
		Severity: telegraph.SeverityError,
	})
}

// Refresh fetches the queue over HTTP. On failure the board is cleared
// rather than left partially populated. A canceled ctx leaves the board
// untouched.
func (d *Doctor) Refresh(ctx context.Context) error {
	if d.opts.API == nil {
		return fmt.Errorf("session: no api client")
	}
	q, err := d.opts.API.DoctorQueue(ctx, d.opts.DoctorID)
	if cerr := ctx.Err(); cerr != nil {
		return cerr
	}
	if err != nil {
		d.board.Clear()
		return err
	}
	d.board.LoadFromAPI(q)
	return nil
}

// RoomJoined reports whether the doctor room is acknowledged.
func (d *Doctor) RoomJoined() bool {
	d.mu.Lock()
	room := d.room
	d.mu.Unlock()
	return room != nil && room.Joined()
}

// WaitJoined blocks until the doctor room is acknowledged or ctx ends.
func (d *Doctor) WaitJoined(ctx context.Context) error {
	return d.layer.WaitJoined(ctx, d.opts.DoctorID)
}

func (d *Doctor) ready() error {
	if !d.opts.Manager.IsConnected() {
		return conn.ErrNotConnected
	}
	if !d.RoomJoined() {
		return ErrRoomNotJoined
	}
	return nil
}

// StartConsultation calls patientID in and marks them consulting ahead of
// the server's confirmation.
func (d *Doctor) StartConsultation(patientID string) error {
	if err := d.ready(); err != nil {
		return err
	}
	req := models.ConsultationRequest{PatientID: patientID, DoctorID: d.opts.DoctorID}
	if err := d.opts.Manager.Emit(models.EventStartConsultation, req); err != nil {
		return fmt.Errorf("session: start consultation %s: %w", patientID, err)
	}
	d.board.MarkOptimistic(patientID, models.StatusConsulting)
	return nil
}

// CompleteConsultation ends patientID's consultation and marks it completed
// ahead of the server's confirmation.
func (d *Doctor) CompleteConsultation(patientID string) error {
	if err := d.ready(); err != nil {
		return err
	}
	req := models.ConsultationRequest{PatientID: patientID, DoctorID: d.opts.DoctorID}
	if err := d.opts.Manager.Emit(models.EventCompleteConsultation, req); err != nil {
		return fmt.Errorf("session: complete consultation %s: %w", patientID, err)
	}
	d.board.MarkOptimistic(patientID, models.StatusCompleted)
	return nil
}

// UpdatePatientStatus sets patientID's status directly and applies it to the
// board ahead of the server's confirmation. Removal goes through
// RemovePatient instead.
func (d *Doctor) UpdatePatientStatus(patientID string, status models.Status) error {
	switch status {
	case models.StatusWaiting, models.StatusConsulting, models.StatusCompleted, models.StatusLate:
	default:
		return fmt.Errorf("session: cannot set status %q", status)
	}
	if err := d.ready(); err != nil {
		return err
	}
	req := models.PatientStatusRequest{PatientID: patientID, Status: status}
	if err := d.opts.Manager.Emit(models.EventUpdatePatientStatus, req); err != nil {
		return fmt.Errorf("session: update status %s: %w", patientID, err)
	}
	d.board.MarkOptimistic(patientID, status)
	return nil
}

// RemovePatient asks the server to remove patientID and waits for its
// answer. The entry is dropped from the board only on success.
func (d *Doctor) RemovePatient(ctx context.Context, patientID, reason string) error {
	if err := d.ready(); err != nil {
		return err
	}
	if reason == "" {
		reason = DefaultRemoveReason
	}
	err := d.cmd.RemovePatient(ctx, patientID, d.opts.DoctorID, reason)
	switch {
	case err == nil:
		d.board.Remove(patientID)
		return nil
	case errors.Is(err, command.ErrTimeout):
		return fmt.Errorf("session: %s: %w", command.TimeoutMessage("Remove", d.cmd.Timeout()), err)
	case errors.Is(err, command.ErrNotConnected):
		return conn.ErrNotConnected
	}
	return err
}

// SetAvailability tells the server whether the doctor takes patients.
func (d *Doctor) SetAvailability(available bool) error {
	if err := d.ready(); err != nil {
		return err
	}
	req := models.AvailabilityRequest{DoctorID: d.opts.DoctorID, IsAvailable: available}
	if err := d.opts.Manager.Emit(models.EventUpdateDoctorAvailability, req); err != nil {
		return fmt.Errorf("session: set availability: %w", err)
	}
	return nil
}

// Board returns the doctor's queue board.
func (d *Doctor) Board() *reconcile.Board { return d.board }

// Snapshot implements dashboard.Provider.
func (d *Doctor) Snapshot() any { return d.View() }

// View returns the typed snapshot.
func (d *Doctor) View() DoctorSnapshot {
	v := d.board.View()
	return DoctorSnapshot{
		Role:       "doctor",
		Connection: connectionView(d.opts.Manager.State()),
		RoomJoined: d.RoomJoined(),
		Doctor:     v.Doctor,
		Queue:      v.Entries,
		Stats:      v.Stats,
		Version:    v.Version,
	}
}

// Connect implements dashboard.Provider.
func (d *Doctor) Connect() { d.opts.Manager.Connect() }

// Disconnect implements dashboard.Provider.
func (d *Doctor) Disconnect() { d.opts.Manager.Disconnect() }

// OnChange implements dashboard.Provider.
func (d *Doctor) OnChange(fn func()) func() { return d.changes.subscribe(fn) }

// Close leaves the doctor room if connected and removes every
// subscription. The connection itself belongs to the caller.
func (d *Doctor) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	room, offs, cancel := d.room, d.offs, d.cancel
	d.offs = nil
	d.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if room != nil {
		if key := room.Key(); key != "" && d.opts.Manager.IsConnected() {
			if err := d.layer.LeaveRoom(key); err != nil {
				log.Printf("session: leave %s: %v", key, err)
			}
		}
		room.Close()
	}
	for _, off := range offs {
		off()
	}
	d.layer.Close()
}

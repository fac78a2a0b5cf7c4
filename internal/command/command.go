// Package command layers request/response calls over the one-way event
// channel: a request event carries a fresh requestId, and the call settles
// on the first matching response event, an explicit timeout, or context
// cancellation, whichever comes first.
package command

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/zulandar/medqueue/internal/metrics"
	"github.com/zulandar/medqueue/internal/models"
	"github.com/zulandar/medqueue/internal/socket"
)

// DefaultTimeout bounds how long a call waits for its response.
const DefaultTimeout = 15 * time.Second

var (
	// ErrNotConnected is returned without emitting when the channel is down.
	ErrNotConnected = errors.New("command: not connected")
	// ErrTimeout is wrapped by errors for calls that got no response in time.
	ErrTimeout = errors.New("command: timed out")
)

// RejectedError is an explicit failure response from the server.
type RejectedError struct {
	Message string
}

func (e *RejectedError) Error() string { return e.Message }

// Channel is the event surface a Correlator needs.
type Channel interface {
	IsConnected() bool
	Emit(event string, payload any) error
	On(event string, h socket.Handler) func()
}

// Request describes one correlated call. Calls sharing a ResponseEvent are
// serialized: a call waits for any earlier one on the same response event to
// settle before emitting, since the server does not echo request ids.
type Request struct {
	Event         string
	ResponseEvent string
	// Payload builds the request body for the generated request id.
	Payload func(requestID string) any
	// Fallback is the rejection message used when the server sends none.
	Fallback string
}

// Options configures a Correlator.
type Options struct {
	Timeout time.Duration
	Metrics *metrics.Collector
	// NewID generates request ids. Defaults to uuid.NewString.
	NewID func() string
}

// Correlator issues correlated calls over a shared channel.
type Correlator struct {
	ch      Channel
	timeout time.Duration
	metrics *metrics.Collector
	newID   func() string

	mu   sync.Mutex
	keys map[string]chan struct{}
}

// New creates a Correlator over ch.
func New(ch Channel, opts Options) *Correlator {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}
	return &Correlator{
		ch:      ch,
		timeout: opts.Timeout,
		metrics: opts.Metrics,
		newID:   opts.NewID,
		keys:    make(map[string]chan struct{}),
	}
}

// Timeout returns the per-call response timeout.
func (c *Correlator) Timeout() time.Duration { return c.timeout }

// Do emits req and waits for it to settle. It returns the response on
// success, *RejectedError on an explicit failure response, an error
// wrapping ErrTimeout when no response arrives in time, and ErrNotConnected
// when the channel is down. The response listener is removed before Do
// returns, so a late response has no effect.
func (c *Correlator) Do(ctx context.Context, req Request) (models.RemoveResponse, error) {
	start := time.Now()
	release, err := c.acquire(ctx, req.ResponseEvent)
	if err != nil {
		c.metrics.CommandResult(req.Event, "canceled", time.Since(start))
		return models.RemoveResponse{}, err
	}
	defer release()

	resp, result, err := c.do(ctx, req)
	c.metrics.CommandResult(req.Event, result, time.Since(start))
	return resp, err
}

func (c *Correlator) do(ctx context.Context, req Request) (models.RemoveResponse, string, error) {
	if !c.ch.IsConnected() {
		return models.RemoveResponse{}, "not_connected", ErrNotConnected
	}

	id := c.newID()
	settled := make(chan models.RemoveResponse, 1)
	var once sync.Once
	off := c.ch.On(req.ResponseEvent, func(data json.RawMessage) {
		var resp models.RemoveResponse
		if err := json.Unmarshal(data, &resp); err != nil {
			log.Printf("command: malformed %s: %v", req.ResponseEvent, err)
			return
		}
		if resp.RequestID != "" && resp.RequestID != id {
			return
		}
		once.Do(func() { settled <- resp })
	})
	defer off()

	var payload any
	if req.Payload != nil {
		payload = req.Payload(id)
	}
	if err := c.ch.Emit(req.Event, payload); err != nil {
		return models.RemoveResponse{}, "error", fmt.Errorf("command: emit %s: %w", req.Event, err)
	}

	timer := time.NewTimer(c.timeout)
	defer timer.Stop()

	select {
	case resp := <-settled:
		if resp.Success {
			return resp, "ok", nil
		}
		msg := resp.Message
		if msg == "" {
			msg = req.Fallback
		}
		if msg == "" {
			msg = req.Event + " failed"
		}
		return resp, "rejected", &RejectedError{Message: msg}
	case <-timer.C:
		return models.RemoveResponse{}, "timeout", fmt.Errorf("%w: %s after %s", ErrTimeout, req.Event, c.timeout)
	case <-ctx.Done():
		return models.RemoveResponse{}, "canceled", ctx.Err()
	}
}

// acquire takes the slot for key, waiting for an earlier call holding it.
// An empty key is never serialized.
func (c *Correlator) acquire(ctx context.Context, key string) (func(), error) {
	if key == "" {
		return func() {}, nil
	}
	c.mu.Lock()
	slot, ok := c.keys[key]
	if !ok {
		slot = make(chan struct{}, 1)
		c.keys[key] = slot
	}
	c.mu.Unlock()

	select {
	case slot <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return func() { <-slot }, nil
}

// RemoveFallback is the rejection message when the server gives none.
const RemoveFallback = "Failed to remove patient"

// RemovePatient asks the server to drop patientID from doctorID's queue.
// Removals are serialized across patients, so at most one is pending.
func (c *Correlator) RemovePatient(ctx context.Context, patientID, doctorID, reason string) error {
	_, err := c.Do(ctx, Request{
		Event:         models.EventRemovePatient,
		ResponseEvent: models.EventRemovePatientResponse,
		Fallback:      RemoveFallback,
		Payload: func(requestID string) any {
			return models.RemovePatientRequest{
				PatientID: patientID,
				DoctorID:  doctorID,
				Reason:    reason,
				RequestID: requestID,
			}
		},
	})
	return err
}

// TimeoutMessage is the user-facing text for a timed-out call.
func TimeoutMessage(op string, after time.Duration) string {
	return fmt.Sprintf("%s operation timed out after %d seconds", op, int(after.Seconds()))
}

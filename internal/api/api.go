// Package api is the HTTP client for the queue backend.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/zulandar/medqueue/internal/models"
)

// DefaultTimeout bounds a single request.
const DefaultTimeout = 10 * time.Second

// ErrMalformed is returned when a response lacks the expected data.
var ErrMalformed = errors.New("api: malformed response")

// Client calls the backend REST API.
type Client struct {
	baseURL string
	hc      *http.Client
}

// New creates a Client for baseURL. A nil hc gets DefaultTimeout.
func New(baseURL string, hc *http.Client) *Client {
	if hc == nil {
		hc = &http.Client{Timeout: DefaultTimeout}
	}
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), hc: hc}
}

// BaseURL returns the backend base URL.
func (c *Client) BaseURL() string { return c.baseURL }

// envelope is the common response wrapper.
type envelope struct {
	Success *bool           `json:"success"`
	OK      *bool           `json:"ok"`
	Message string          `json:"message"`
	Error   string          `json:"error"`
	Data    json.RawMessage `json:"data"`
}

func (e envelope) failed() bool {
	return (e.Success != nil && !*e.Success) || (e.Success == nil && e.OK != nil && !*e.OK)
}

func (e envelope) message() string {
	if e.Message != "" {
		return e.Message
	}
	return e.Error
}

// Booking is the result of adding a patient to a queue.
type Booking struct {
	Patient           models.Patient
	EstimatedWaitTime float64
}

// ListDoctors returns every doctor.
func (c *Client) ListDoctors(ctx context.Context) ([]models.Doctor, error) {
	var data struct {
		Doctors []models.Doctor `json:"doctors"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/doctors", nil, &data); err != nil {
		return nil, fmt.Errorf("api: list doctors: %w", err)
	}
	if data.Doctors == nil {
		return nil, fmt.Errorf("api: list doctors: %w", ErrMalformed)
	}
	return data.Doctors, nil
}

// DoctorQueue returns a doctor's profile, queue and stats.
func (c *Client) DoctorQueue(ctx context.Context, doctorID string) (models.DoctorQueue, error) {
	var q models.DoctorQueue
	path := "/api/doctors/" + url.PathEscape(doctorID) + "/queue"
	if err := c.do(ctx, http.MethodGet, path, nil, &q); err != nil {
		return models.DoctorQueue{}, fmt.Errorf("api: doctor queue %s: %w", doctorID, err)
	}
	if q.Queue == nil {
		return models.DoctorQueue{}, fmt.Errorf("api: doctor queue %s: %w", doctorID, ErrMalformed)
	}
	return q, nil
}

// EstimatedWaitTime returns the estimated wait in minutes for a new patient
// of doctorID.
func (c *Client) EstimatedWaitTime(ctx context.Context, doctorID string) (float64, error) {
	var data struct {
		EstimatedWaitTime *float64 `json:"estimatedWaitTime"`
	}
	path := "/api/doctors/" + url.PathEscape(doctorID) + "/estimated-wait-time"
	if err := c.do(ctx, http.MethodGet, path, nil, &data); err != nil {
		return 0, fmt.Errorf("api: estimated wait %s: %w", doctorID, err)
	}
	if data.EstimatedWaitTime == nil {
		return 0, nil
	}
	return *data.EstimatedWaitTime, nil
}

// AddPatient books name into doctorID's queue.
func (c *Client) AddPatient(ctx context.Context, name, doctorID string) (Booking, error) {
	body := map[string]string{"name": strings.TrimSpace(name), "doctorId": doctorID}
	var data struct {
		Patient           *models.Patient `json:"patient"`
		EstimatedWaitTime float64         `json:"estimatedWaitTime"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/patients/add-patient", body, &data); err != nil {
		return Booking{}, fmt.Errorf("api: add patient: %w", err)
	}
	if data.Patient == nil || data.Patient.ID == "" {
		return Booking{}, fmt.Errorf("api: add patient: %w", ErrMalformed)
	}
	p := *data.Patient
	if p.Name == "" {
		p.Name = body["name"]
	}
	if p.DoctorID == "" {
		p.DoctorID = doctorID
	}
	if p.Status == "" {
		p.Status = models.StatusWaiting
	}
	return Booking{Patient: p, EstimatedWaitTime: data.EstimatedWaitTime}, nil
}

// RemovePatient takes patientID out of its queue.
func (c *Client) RemovePatient(ctx context.Context, patientID, reason string) error {
	body := map[string]string{}
	if reason != "" {
		body["reason"] = reason
	}
	if err := c.do(ctx, http.MethodDelete, "/api/patients/"+url.PathEscape(patientID), body, nil); err != nil {
		return fmt.Errorf("api: remove patient %s: %w", patientID, err)
	}
	return nil
}

// Health returns the body of the backend health endpoint.
func (c *Client) Health(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return "", fmt.Errorf("api: health: %w", err)
	}
	resp, err := c.hc.Do(req)
	if err != nil {
		return "", fmt.Errorf("api: health: %w", err)
	}
	defer resp.Body.Close()
	b, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return "", fmt.Errorf("api: health: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("api: health: status %d", resp.StatusCode)
	}
	return strings.TrimSpace(string(b)), nil
}

// do sends a JSON request and decodes the envelope's data into out.
func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var env envelope
	decodeErr := json.NewDecoder(resp.Body).Decode(&env)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		if msg := env.message(); decodeErr == nil && msg != "" {
			return errors.New(msg)
		}
		return fmt.Errorf("HTTP error! status: %d", resp.StatusCode)
	}
	if decodeErr != nil {
		if out == nil && errors.Is(decodeErr, io.EOF) {
			return nil
		}
		log.Printf("api: %s %s: decode: %v", method, path, decodeErr)
		return ErrMalformed
	}
	if env.failed() {
		if msg := env.message(); msg != "" {
			return errors.New(msg)
		}
		return fmt.Errorf("%s %s failed", method, path)
	}
	if out == nil {
		return nil
	}
	if len(env.Data) == 0 || string(env.Data) == "null" {
		return ErrMalformed
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		log.Printf("api: %s %s: decode data: %v", method, path, err)
		return ErrMalformed
	}
	return nil
}

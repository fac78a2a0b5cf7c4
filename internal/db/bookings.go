package db

import (
	"errors"
	"fmt"
	"time"

	"github.com/zulandar/medqueue/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrNotFound is returned when no booking matches.
var ErrNotFound = errors.New("db: booking not found")

// Bookings is the booking journal.
type Bookings struct {
	db *gorm.DB
}

// NewBookings wraps db. The tables must already be migrated.
func NewBookings(db *gorm.DB) *Bookings {
	return &Bookings{db: db}
}

// Record inserts b, or refreshes the row for the same patient.
func (s *Bookings) Record(b *models.Booking) error {
	if b.PatientID == "" {
		return fmt.Errorf("db: record booking: patient id is required")
	}
	if b.Status == "" {
		b.Status = string(models.StatusWaiting)
	}
	result := s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "patient_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"name", "doctor_id", "doctor_name", "position", "estimated_wait", "status", "updated_at"}),
	}).Create(b)
	if result.Error != nil {
		return fmt.Errorf("db: record booking %s: %w", b.PatientID, result.Error)
	}
	return nil
}

// Get returns the booking for patientID.
func (s *Bookings) Get(patientID string) (*models.Booking, error) {
	var b models.Booking
	err := s.db.Where("patient_id = ?", patientID).First(&b).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("db: get booking %s: %w", patientID, err)
	}
	return &b, nil
}

// Latest returns the most recent booking that is still open.
func (s *Bookings) Latest() (*models.Booking, error) {
	var b models.Booking
	err := s.db.Where("closed_at IS NULL").Order("created_at DESC").Order("id DESC").First(&b).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("db: latest booking: %w", err)
	}
	return &b, nil
}

// UpdateProgress stores the latest position and estimate for an open
// booking. Unknown or closed bookings are left alone.
func (s *Bookings) UpdateProgress(patientID string, position int, estimate float64) error {
	result := s.db.Model(&models.Booking{}).
		Where("patient_id = ? AND closed_at IS NULL", patientID).
		Updates(map[string]interface{}{
			"position":       position,
			"estimated_wait": estimate,
		})
	if result.Error != nil {
		return fmt.Errorf("db: update booking %s: %w", patientID, result.Error)
	}
	return nil
}

// MarkClosed records that the booking left the queue with status.
func (s *Bookings) MarkClosed(patientID string, status models.Status, reason string) error {
	now := time.Now()
	result := s.db.Model(&models.Booking{}).
		Where("patient_id = ? AND closed_at IS NULL", patientID).
		Updates(map[string]interface{}{
			"status":    string(status),
			"reason":    reason,
			"closed_at": &now,
		})
	if result.Error != nil {
		return fmt.Errorf("db: close booking %s: %w", patientID, result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// List returns up to limit bookings, newest first. A limit of zero or less
// returns all of them.
func (s *Bookings) List(limit int) ([]models.Booking, error) {
	var out []models.Booking
	q := s.db.Order("created_at DESC").Order("id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&out).Error; err != nil {
		return nil, fmt.Errorf("db: list bookings: %w", err)
	}
	return out, nil
}

package models

import "time"

// Booking is a journalled queue booking made from this machine. Only the
// booking itself is kept; live queue state is never restored from it.
type Booking struct {
	ID         uint   `gorm:"primaryKey;autoIncrement"`
	PatientID  string `gorm:"size:64;not null;uniqueIndex"`
	Name       string `gorm:"size:128;not null"`
	DoctorID   string `gorm:"size:64;not null;index"`
	DoctorName string `gorm:"size:128"`
	Position   int
	// EstimatedWait is the most recent estimate in minutes.
	EstimatedWait float64
	Status        string `gorm:"size:16;default:waiting;index"`
	Reason        string `gorm:"size:256"`
	CreatedAt     time.Time
	UpdatedAt     time.Time
	ClosedAt      *time.Time
}

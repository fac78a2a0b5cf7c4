package models

// Status is the lifecycle state of a queue entry as reported by the server.
type Status string

const (
	StatusWaiting    Status = "waiting"
	StatusConsulting Status = "consulting"
	StatusCompleted  Status = "completed"
	StatusLate       Status = "late"
	StatusRemoved    Status = "removed"

	// StatusNext is only ever carried by patientStatusUpdated; it is a
	// heads-up notice and never committed to an entry.
	StatusNext Status = "next"
)

// Terminal reports whether an entry in this state has left the queue.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusRemoved
}

// Patient is one entry in a doctor's queue.
type Patient struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	DoctorID    string    `json:"doctorId,omitempty"`
	DoctorName  string    `json:"doctor_name,omitempty"`
	Status      Status    `json:"status"`
	JoinedAt    Timestamp `json:"joined_at"`
	WaitingTime float64   `json:"waitingTime"`
	Position    int       `json:"positionInQueue,omitempty"`
}

// QueueStats is the per-status aggregate of a doctor's queue.
type QueueStats struct {
	Total           int     `json:"total"`
	Waiting         int     `json:"waiting"`
	Consulting      int     `json:"consulting"`
	Completed       int     `json:"completed"`
	AverageWaitTime float64 `json:"averageWaitTime"`
}

package models

// Doctor is a practitioner patients can queue for.
type Doctor struct {
	ID                      string  `json:"id"`
	Name                    string  `json:"name"`
	Specialization          string  `json:"specialization,omitempty"`
	IsAvailable             bool    `json:"isAvailable"`
	AverageConsultationTime float64 `json:"averageConsultationTime,omitempty"`
	MaxDailyPatients        int     `json:"maxDailyPatients,omitempty"`
	ConsultationFee         float64 `json:"consultationFee,omitempty"`
	CurrentPatientCount     int     `json:"currentPatientCount,omitempty"`
	WaitingPatientCount     int     `json:"waitingPatientCount,omitempty"`
	IsAtCapacity            bool    `json:"isAtCapacity,omitempty"`
}

// DoctorQueue is the HTTP view of one doctor's queue. Either summary object
// may be absent; Statistics wins when both are sent.
type DoctorQueue struct {
	Doctor       Doctor      `json:"doctor"`
	Queue        []Patient   `json:"queue"`
	Statistics   *QueueStats `json:"statistics,omitempty"`
	QueueSummary *QueueStats `json:"queueSummary,omitempty"`
}

// Summary returns the server-supplied stats, or nil when none were sent.
func (q DoctorQueue) Summary() *QueueStats {
	if q.Statistics != nil {
		return q.Statistics
	}
	return q.QueueSummary
}

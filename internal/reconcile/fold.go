// Package reconcile folds server-pushed queue events into local state: the
// doctor's Board and the patient's Tracker. Nothing here returns errors;
// events that do not concern the local context are ignored.
package reconcile

import (
	"sort"

	"github.com/zulandar/medqueue/internal/models"
	"github.com/zulandar/medqueue/internal/socket"
)

// MinutesPerPatient is the wait estimate per place in line used when the
// server has not sent one.
const MinutesPerPatient = 15

// Channel is the event surface Board and Tracker subscribe to.
type Channel interface {
	On(event string, h socket.Handler) func()
}

// ComputeStats folds entries into per-status counts. Everything that is not
// consulting or completed counts as waiting, so the counts always add up
// to the total. The average is taken over the waiting entries.
func ComputeStats(entries []models.Patient) models.QueueStats {
	s := models.QueueStats{Total: len(entries)}
	var waitSum float64
	for _, e := range entries {
		switch e.Status {
		case models.StatusConsulting:
			s.Consulting++
		case models.StatusCompleted:
			s.Completed++
		default:
			s.Waiting++
			waitSum += e.WaitingTime
		}
	}
	if s.Waiting > 0 {
		s.AverageWaitTime = waitSum / float64(s.Waiting)
	}
	return s
}

// CountByStatus counts entries per raw status.
func CountByStatus(entries []models.Patient) map[string]int {
	out := make(map[string]int)
	for _, e := range entries {
		out[string(e.Status)]++
	}
	return out
}

// DerivePosition returns 1 plus the number of waiting entries for doctorID
// that joined strictly before patientID. Entries without a doctor id are
// taken to belong to doctorID. ok is false when the patient is not among
// that doctor's waiting entries.
func DerivePosition(entries []models.Patient, patientID, doctorID string) (int, bool) {
	waiting := make([]models.Patient, 0, len(entries))
	for _, e := range entries {
		if e.Status != models.StatusWaiting {
			continue
		}
		if e.DoctorID != "" && doctorID != "" && e.DoctorID != doctorID {
			continue
		}
		waiting = append(waiting, e)
	}
	sort.SliceStable(waiting, func(i, j int) bool {
		return waiting[i].JoinedAt.Before(waiting[j].JoinedAt.Time)
	})

	for i, e := range waiting {
		if e.ID != patientID {
			continue
		}
		pos := 1
		for _, other := range waiting[:i] {
			if other.JoinedAt.Before(e.JoinedAt.Time) {
				pos++
			}
		}
		return pos, true
	}
	return 0, false
}

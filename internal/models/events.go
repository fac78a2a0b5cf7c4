package models

import (
	"bytes"
	"encoding/json"
)

// Event names on the event channel.
const (
	EventJoinPatientRoom          = "joinPatientRoom"
	EventJoinDoctorRoom           = "joinDoctorRoom"
	EventLeaveRoom                = "leaveRoom"
	EventStartConsultation        = "startConsultation"
	EventCompleteConsultation     = "completeConsultation"
	EventRemovePatient            = "removePatientFromQueue"
	EventUpdatePatientStatus      = "updatePatientStatus"
	EventUpdateDoctorAvailability = "updateDoctorAvailability"

	EventDoctorRoomJoined      = "doctorRoomJoined"
	EventQueueChanged          = "queueChanged"
	EventQueueUpdate           = "queueUpdate"
	EventConsultationStarted   = "consultationStarted"
	EventConsultationCompleted = "consultationCompleted"
	EventPatientStatusUpdated  = "patientStatusUpdated"
	EventPatientRemoved        = "patientRemoved"
	EventRemovePatientResponse = "removePatientFromQueueResponse"
	EventError                 = "error"
)

// ErrorCodeStartConsultation is the server code for a rejected doctor command.
const ErrorCodeStartConsultation = "START_CONSULTATION_ERROR"

// PartyRef identifies the patient or doctor named by a scoped event.
type PartyRef struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

// Lifecycle is the payload of consultationStarted, consultationCompleted,
// patientStatusUpdated and patientRemoved.
type Lifecycle struct {
	Patient PartyRef `json:"patient"`
	Doctor  PartyRef `json:"doctor"`
	Status  Status   `json:"status,omitempty"`
	Reason  string   `json:"reason,omitempty"`
}

// QueueSnapshot is a full queue push. Version is optional; servers that
// stamp snapshots let the client discard ones that arrive out of order.
type QueueSnapshot struct {
	Queue        []Patient   `json:"queue"`
	Version      *int64      `json:"version,omitempty"`
	Statistics   *QueueStats `json:"statistics,omitempty"`
	QueueSummary *QueueStats `json:"queueSummary,omitempty"`
}

// Summary returns the server-supplied stats, or nil when none were sent.
func (s QueueSnapshot) Summary() *QueueStats {
	if s.Statistics != nil {
		return s.Statistics
	}
	return s.QueueSummary
}

// QueuePosition is the patient-scoped form of queueUpdate.
type QueuePosition struct {
	Position          *int     `json:"position"`
	EstimatedWaitTime *float64 `json:"estimatedWaitTime"`
}

// DecodeQueueUpdate splits a queueUpdate payload into its two known shapes:
// a bare array or {queue:[...]} is a snapshot, an object with a position is
// a patient position update. ok is false for anything else.
func DecodeQueueUpdate(data json.RawMessage) (snap *QueueSnapshot, pos *QueuePosition, ok bool) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, nil, false
	}
	if data[0] == '[' {
		var queue []Patient
		if err := json.Unmarshal(data, &queue); err != nil {
			return nil, nil, false
		}
		return &QueueSnapshot{Queue: queue}, nil, true
	}
	var probe struct {
		Queue json.RawMessage `json:"queue"`
		QueuePosition
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, nil, false
	}
	if len(probe.Queue) > 0 && probe.Queue[0] == '[' {
		var s QueueSnapshot
		if err := json.Unmarshal(data, &s); err != nil {
			return nil, nil, false
		}
		return &s, nil, true
	}
	if probe.Position != nil {
		p := probe.QueuePosition
		return nil, &p, true
	}
	return nil, nil, false
}

// RemoveResponse is the payload of removePatientFromQueueResponse.
type RemoveResponse struct {
	Success   bool   `json:"success"`
	Message   string `json:"message,omitempty"`
	RequestID string `json:"requestId,omitempty"`
}

// ServerError is the payload of the server's error event.
type ServerError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// PatientRoomRequest is sent with joinPatientRoom.
type PatientRoomRequest struct {
	PatientID string `json:"patientId"`
	DoctorID  string `json:"doctorId,omitempty"`
}

// DoctorRoomRequest is sent with joinDoctorRoom.
type DoctorRoomRequest struct {
	DoctorID string `json:"doctorId"`
}

// LeaveRoomRequest is sent with leaveRoom.
type LeaveRoomRequest struct {
	RoomID string `json:"roomId"`
}

// ConsultationRequest is sent with startConsultation and completeConsultation.
type ConsultationRequest struct {
	PatientID string `json:"patientId"`
	DoctorID  string `json:"doctorId"`
}

// RemovePatientRequest is sent with removePatientFromQueue.
type RemovePatientRequest struct {
	PatientID string `json:"patientId"`
	DoctorID  string `json:"doctorId"`
	Reason    string `json:"reason"`
	RequestID string `json:"requestId,omitempty"`
}

// PatientStatusRequest is sent with updatePatientStatus.
type PatientStatusRequest struct {
	PatientID string `json:"patientId"`
	Status    Status `json:"status"`
}

// AvailabilityRequest is sent with updateDoctorAvailability.
type AvailabilityRequest struct {
	DoctorID    string `json:"doctorId"`
	IsAvailable bool   `json:"isAvailable"`
}

package models

import (
	"time"

	"github.com/google/uuid"
)

// RoomStatus is the lifecycle state of a video room.
// Transitions are one-directional: waiting -> active -> ended.
type RoomStatus string

const (
	RoomWaiting RoomStatus = "waiting"
	RoomActive  RoomStatus = "active"
	RoomEnded   RoomStatus = "ended"
)

// VideoRoom is the durable record of a consultation room. Exactly one
// live (waiting or active) room may exist per appointment.
type VideoRoom struct {
	ID            uuid.UUID  `json:"id"`
	AppointmentID uuid.UUID  `json:"appointment_id"`
	DoctorID      uuid.UUID  `json:"doctor_id"`
	PatientID     uuid.UUID  `json:"patient_id"`
	Status        RoomStatus `json:"status"`
	StartedBy     Role       `json:"started_by"`
	CreatedAt     time.Time  `json:"created_at"`
	StartedAt     *time.Time `json:"started_at,omitempty"`
	EndedAt       *time.Time `json:"ended_at,omitempty"`
	EndedBy       *Role      `json:"ended_by,omitempty"`
	Duration      int        `json:"duration_seconds"`
}

// PartyID returns the user id recorded for the given role.
func (r *VideoRoom) PartyID(role Role) uuid.UUID {
	if role == RoleDoctor {
		return r.DoctorID
	}
	return r.PatientID
}

// Live reports whether the room can still admit participants.
func (r *VideoRoom) Live() bool {
	return r.Status != RoomEnded
}

package models

import (
	"time"

	"github.com/google/uuid"
)

// AppointmentStatus is the approval workflow state of an appointment.
type AppointmentStatus string

const (
	AppointmentPending   AppointmentStatus = "pending"
	AppointmentApproved  AppointmentStatus = "approved"
	AppointmentRejected  AppointmentStatus = "rejected"
	AppointmentCompleted AppointmentStatus = "completed"
	AppointmentCancelled AppointmentStatus = "cancelled"
)

// Appointment links a doctor and a patient for a scheduled consultation.
// A video room can only be opened for an approved appointment.
type Appointment struct {
	ID          uuid.UUID         `json:"id"`
	DoctorID    uuid.UUID         `json:"doctor_id"`
	PatientID   uuid.UUID         `json:"patient_id"`
	ScheduledAt time.Time         `json:"scheduled_at"`
	Reason      string            `json:"reason,omitempty"`
	Status      AppointmentStatus `json:"status"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
}

// PartyID returns the user id recorded for the given role.
func (a *Appointment) PartyID(role Role) uuid.UUID {
	if role == RoleDoctor {
		return a.DoctorID
	}
	return a.PatientID
}

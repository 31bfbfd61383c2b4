package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Notification kinds written by the worker.
const (
	NotificationConsultationStarted = "consultation_started"
	NotificationConsultationEnded   = "consultation_ended"
)

// Notification is an in-app notification row for a user.
type Notification struct {
	ID        uuid.UUID       `json:"id"`
	UserID    uuid.UUID       `json:"user_id"`
	Kind      string          `json:"kind"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
	ReadAt    *time.Time      `json:"read_at,omitempty"`
}

package notifications

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/telemedic/backend/internal/models"
	"github.com/telemedic/backend/pkg/queue"
)

// QueueNotifier implements video.Notifier by enqueuing consultation events
// onto the Redis job queue. Delivery is handled by the worker; an enqueue
// failure is reported to the caller, which logs and moves on.
type QueueNotifier struct {
	queue  *queue.Queue
	logger *zap.Logger
}

// NewQueueNotifier creates a queue-backed notifier.
func NewQueueNotifier(q *queue.Queue, logger *zap.Logger) *QueueNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &QueueNotifier{queue: q, logger: logger}
}

// ConsultationStarted enqueues a room-start notification job.
func (n *QueueNotifier) ConsultationStarted(ctx context.Context, room models.VideoRoom) error {
	return n.queue.EnqueueConsultationEvent(ctx, queue.JobTypeConsultationStarted, payloadFor(room))
}

// ConsultationEnded enqueues a room-end notification job.
func (n *QueueNotifier) ConsultationEnded(ctx context.Context, room models.VideoRoom) error {
	return n.queue.EnqueueConsultationEvent(ctx, queue.JobTypeConsultationEnded, payloadFor(room))
}

func payloadFor(room models.VideoRoom) queue.ConsultationEventPayload {
	p := queue.ConsultationEventPayload{
		RoomID:        room.ID,
		AppointmentID: room.AppointmentID,
		DoctorID:      room.DoctorID,
		PatientID:     room.PatientID,
		DurationSec:   room.Duration,
		OccurredAt:    time.Now(),
	}
	if room.EndedBy != nil {
		p.EndedBy = string(*room.EndedBy)
	}
	return p
}

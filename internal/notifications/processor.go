package notifications

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/telemedic/backend/internal/models"
	"github.com/telemedic/backend/pkg/queue"
)

// notificationWriter is the persistence surface the processor needs.
// Satisfied by Repository.
type notificationWriter interface {
	Create(ctx context.Context, userID uuid.UUID, kind string, payload json.RawMessage) error
}

// Processor consumes consultation event jobs and writes in-app
// notification rows. Start events notify both parties; end events notify
// only the party that did not hang up.
type Processor struct {
	repo   notificationWriter
	queue  *queue.Queue
	logger *zap.Logger
}

// NewProcessor creates a notification job processor.
func NewProcessor(repo *Repository, q *queue.Queue, logger *zap.Logger) *Processor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Processor{repo: repo, queue: q, logger: logger}
}

// Run consumes jobs until ctx is cancelled.
func (p *Processor) Run(ctx context.Context) {
	p.logger.Info("notification worker started")
	for {
		job, _, err := p.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				p.logger.Info("notification worker stopped")
				return
			}
			p.logger.Error("dequeue failed", zap.Error(err))
			continue
		}
		if job == nil {
			continue
		}
		if err := p.Process(ctx, job); err != nil {
			p.logger.Error("job failed", zap.Error(err), zap.String("job_id", job.ID))
			_ = p.queue.Retry(ctx, job)
		}
	}
}

// Process executes one consultation event job.
func (p *Processor) Process(ctx context.Context, job *queue.Job) error {
	var payload queue.ConsultationEventPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return fmt.Errorf("unmarshal payload: %w", err)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal notification body: %w", err)
	}

	switch job.Type {
	case queue.JobTypeConsultationStarted:
		for _, userID := range []uuid.UUID{payload.DoctorID, payload.PatientID} {
			if err := p.repo.Create(ctx, userID, models.NotificationConsultationStarted, body); err != nil {
				return fmt.Errorf("create start notification: %w", err)
			}
		}
	case queue.JobTypeConsultationEnded:
		recipient := payload.DoctorID
		if payload.EndedBy == string(models.RoleDoctor) {
			recipient = payload.PatientID
		}
		if err := p.repo.Create(ctx, recipient, models.NotificationConsultationEnded, body); err != nil {
			return fmt.Errorf("create end notification: %w", err)
		}
	default:
		return fmt.Errorf("unknown job type: %s", job.Type)
	}

	p.logger.Debug("notification written",
		zap.String("job_id", job.ID),
		zap.String("type", string(job.Type)),
		zap.String("room_id", payload.RoomID.String()))
	return nil
}

package notifications

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/telemedic/backend/internal/models"
	"github.com/telemedic/backend/pkg/queue"
)

type writtenRow struct {
	userID uuid.UUID
	kind   string
}

type fakeWriter struct {
	rows []writtenRow
}

func (f *fakeWriter) Create(_ context.Context, userID uuid.UUID, kind string, _ json.RawMessage) error {
	f.rows = append(f.rows, writtenRow{userID: userID, kind: kind})
	return nil
}

func makeJob(t *testing.T, jobType queue.JobType, payload queue.ConsultationEventPayload) *queue.Job {
	t.Helper()
	body, err := json.Marshal(payload)
	require.NoError(t, err)
	return &queue.Job{
		ID:        uuid.New().String(),
		Type:      jobType,
		Payload:   body,
		CreatedAt: time.Now(),
	}
}

func TestProcessStartedNotifiesBothParties(t *testing.T) {
	writer := &fakeWriter{}
	p := &Processor{repo: writer, logger: zap.NewNop()}

	doctorID := uuid.New()
	patientID := uuid.New()
	job := makeJob(t, queue.JobTypeConsultationStarted, queue.ConsultationEventPayload{
		RoomID:    uuid.New(),
		DoctorID:  doctorID,
		PatientID: patientID,
	})

	require.NoError(t, p.Process(context.Background(), job))
	require.Len(t, writer.rows, 2)
	assert.Equal(t, doctorID, writer.rows[0].userID)
	assert.Equal(t, patientID, writer.rows[1].userID)
	for _, row := range writer.rows {
		assert.Equal(t, models.NotificationConsultationStarted, row.kind)
	}
}

func TestProcessEndedNotifiesOnlyOtherParty(t *testing.T) {
	doctorID := uuid.New()
	patientID := uuid.New()

	cases := []struct {
		endedBy string
		want    uuid.UUID
	}{
		{endedBy: string(models.RoleDoctor), want: patientID},
		{endedBy: string(models.RolePatient), want: doctorID},
	}
	for _, tc := range cases {
		writer := &fakeWriter{}
		p := &Processor{repo: writer, logger: zap.NewNop()}
		job := makeJob(t, queue.JobTypeConsultationEnded, queue.ConsultationEventPayload{
			RoomID:    uuid.New(),
			DoctorID:  doctorID,
			PatientID: patientID,
			EndedBy:   tc.endedBy,
		})

		require.NoError(t, p.Process(context.Background(), job))
		require.Len(t, writer.rows, 1)
		assert.Equal(t, tc.want, writer.rows[0].userID)
		assert.Equal(t, models.NotificationConsultationEnded, writer.rows[0].kind)
	}
}

func TestProcessRejectsUnknownJobType(t *testing.T) {
	p := &Processor{repo: &fakeWriter{}, logger: zap.NewNop()}
	job := makeJob(t, queue.JobType("mystery"), queue.ConsultationEventPayload{})
	assert.Error(t, p.Process(context.Background(), job))
}

package video

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/telemedic/backend/internal/models"
)

// Repository is the PostgreSQL-backed room store. It holds no business
// logic: room status is decided by the Service and written through here.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a video room repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const roomCols = `id, appointment_id, doctor_id, patient_id, status, started_by, created_at, started_at, ended_at, ended_by, duration_seconds`

func scanRoom(row pgx.Row) (*models.VideoRoom, error) {
	var r models.VideoRoom
	var endedBy *string
	err := row.Scan(&r.ID, &r.AppointmentID, &r.DoctorID, &r.PatientID, &r.Status, &r.StartedBy,
		&r.CreatedAt, &r.StartedAt, &r.EndedAt, &endedBy, &r.Duration)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if endedBy != nil {
		role := models.Role(*endedBy)
		r.EndedBy = &role
	}
	return &r, nil
}

// UpsertRoom writes the room record, keyed by room id. Safe to retry.
func (r *Repository) UpsertRoom(ctx context.Context, room *models.VideoRoom) error {
	const q = `INSERT INTO video_rooms (id, appointment_id, doctor_id, patient_id, status, started_by, created_at, started_at, ended_at, ended_by, duration_seconds)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			started_at = EXCLUDED.started_at,
			ended_at = EXCLUDED.ended_at,
			ended_by = EXCLUDED.ended_by,
			duration_seconds = EXCLUDED.duration_seconds`
	var endedBy *string
	if room.EndedBy != nil {
		v := string(*room.EndedBy)
		endedBy = &v
	}
	_, err := r.pool.Exec(ctx, q, room.ID, room.AppointmentID, room.DoctorID, room.PatientID,
		string(room.Status), string(room.StartedBy), room.CreatedAt, room.StartedAt, room.EndedAt, endedBy, room.Duration)
	return err
}

// GetRoom returns a room by id.
func (r *Repository) GetRoom(ctx context.Context, id uuid.UUID) (*models.VideoRoom, error) {
	const q = `SELECT ` + roomCols + ` FROM video_rooms WHERE id = $1`
	return scanRoom(r.pool.QueryRow(ctx, q, id))
}

// GetLiveRoomByAppointment returns the live (not ended) room for an
// appointment, or nil when none exists.
func (r *Repository) GetLiveRoomByAppointment(ctx context.Context, appointmentID uuid.UUID) (*models.VideoRoom, error) {
	const q = `SELECT ` + roomCols + ` FROM video_rooms WHERE appointment_id = $1 AND status <> 'ended'`
	room, err := scanRoom(r.pool.QueryRow(ctx, q, appointmentID))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return room, nil
}

// ListLive returns all waiting or active rooms, for registry hydration.
func (r *Repository) ListLive(ctx context.Context) ([]models.VideoRoom, error) {
	const q = `SELECT ` + roomCols + ` FROM video_rooms WHERE status <> 'ended' ORDER BY created_at`
	rows, err := r.pool.Query(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var list []models.VideoRoom
	for rows.Next() {
		var room models.VideoRoom
		var endedBy *string
		if err := rows.Scan(&room.ID, &room.AppointmentID, &room.DoctorID, &room.PatientID, &room.Status, &room.StartedBy,
			&room.CreatedAt, &room.StartedAt, &room.EndedAt, &endedBy, &room.Duration); err != nil {
			return nil, err
		}
		list = append(list, room)
	}
	return list, rows.Err()
}

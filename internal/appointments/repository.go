package appointments

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/telemedic/backend/internal/models"
)

// ErrNotFound is returned when an appointment does not exist.
var ErrNotFound = errors.New("appointment not found")

// Repository handles appointment persistence. The video core consumes it
// read-only through the video.AppointmentGateway interface.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates an appointment repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const appointmentCols = `id, doctor_id, patient_id, scheduled_at, COALESCE(reason,''), status, created_at, updated_at`

func scanAppointment(row pgx.Row) (*models.Appointment, error) {
	var a models.Appointment
	err := row.Scan(&a.ID, &a.DoctorID, &a.PatientID, &a.ScheduledAt, &a.Reason, &a.Status, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &a, nil
}

// Create inserts a new pending appointment.
func (r *Repository) Create(ctx context.Context, doctorID, patientID uuid.UUID, scheduledAt time.Time, reason string) (*models.Appointment, error) {
	const q = `INSERT INTO appointments (doctor_id, patient_id, scheduled_at, reason)
		VALUES ($1, $2, $3, NULLIF($4,''))
		RETURNING ` + appointmentCols
	return scanAppointment(r.pool.QueryRow(ctx, q, doctorID, patientID, scheduledAt, reason))
}

// GetByID returns an appointment by ID.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*models.Appointment, error) {
	const q = `SELECT ` + appointmentCols + ` FROM appointments WHERE id = $1`
	return scanAppointment(r.pool.QueryRow(ctx, q, id))
}

// SetStatus updates the approval workflow state of an appointment.
func (r *Repository) SetStatus(ctx context.Context, id uuid.UUID, status models.AppointmentStatus) (*models.Appointment, error) {
	const q = `UPDATE appointments SET status = $1, updated_at = NOW() WHERE id = $2
		RETURNING ` + appointmentCols
	return scanAppointment(r.pool.QueryRow(ctx, q, string(status), id))
}

// ListForUser returns appointments where the user is the doctor or the patient.
func (r *Repository) ListForUser(ctx context.Context, userID uuid.UUID) ([]models.Appointment, error) {
	const q = `SELECT ` + appointmentCols + ` FROM appointments
		WHERE doctor_id = $1 OR patient_id = $1 ORDER BY scheduled_at DESC`
	rows, err := r.pool.Query(ctx, q, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var list []models.Appointment
	for rows.Next() {
		var a models.Appointment
		if err := rows.Scan(&a.ID, &a.DoctorID, &a.PatientID, &a.ScheduledAt, &a.Reason, &a.Status, &a.CreatedAt, &a.UpdatedAt); err != nil {
			return nil, err
		}
		list = append(list, a)
	}
	return list, rows.Err()
}

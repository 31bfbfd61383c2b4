package appointments

import (
	"errors"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/telemedic/backend/internal/middleware"
	"github.com/telemedic/backend/internal/models"
	"github.com/telemedic/backend/pkg/response"
)

// BookRequest is the body for POST /appointments (patient books a doctor).
type BookRequest struct {
	DoctorID    string `json:"doctor_id" binding:"required,uuid"`
	ScheduledAt string `json:"scheduled_at" binding:"required"`
	Reason      string `json:"reason"`
}

// Handler handles appointment HTTP endpoints.
type Handler struct {
	repo *Repository
}

// NewHandler creates an appointment handler.
func NewHandler(repo *Repository) *Handler {
	return &Handler{repo: repo}
}

// Book handles POST /appointments (patient only).
func (h *Handler) Book(c *gin.Context) {
	var req BookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	patientID := c.MustGet(middleware.ContextUserID).(uuid.UUID)
	doctorID, _ := uuid.Parse(req.DoctorID)
	scheduledAt, err := time.Parse(time.RFC3339, req.ScheduledAt)
	if err != nil {
		response.BadRequest(c, "invalid scheduled_at")
		return
	}

	a, err := h.repo.Create(c.Request.Context(), doctorID, patientID, scheduledAt, req.Reason)
	if err != nil {
		response.Internal(c, "failed to book appointment")
		return
	}
	response.Created(c, a)
}

// List handles GET /appointments, returning the caller's appointments.
func (h *Handler) List(c *gin.Context) {
	userID := c.MustGet(middleware.ContextUserID).(uuid.UUID)
	list, err := h.repo.ListForUser(c.Request.Context(), userID)
	if err != nil {
		response.Internal(c, "failed to list appointments")
		return
	}
	response.OK(c, list)
}

// GetByID handles GET /appointments/:id. Only the two parties may read it.
func (h *Handler) GetByID(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid appointment id")
		return
	}
	a, err := h.repo.GetByID(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			response.NotFound(c, "appointment not found")
			return
		}
		response.Internal(c, "failed to load appointment")
		return
	}
	userID := c.MustGet(middleware.ContextUserID).(uuid.UUID)
	if a.DoctorID != userID && a.PatientID != userID {
		response.Forbidden(c, "not a party to this appointment")
		return
	}
	response.OK(c, a)
}

// Approve handles PATCH /appointments/:id/approve (doctor only).
func (h *Handler) Approve(c *gin.Context) {
	h.setStatus(c, models.AppointmentApproved)
}

// Reject handles PATCH /appointments/:id/reject (doctor only).
func (h *Handler) Reject(c *gin.Context) {
	h.setStatus(c, models.AppointmentRejected)
}

func (h *Handler) setStatus(c *gin.Context, status models.AppointmentStatus) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid appointment id")
		return
	}
	a, err := h.repo.GetByID(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			response.NotFound(c, "appointment not found")
			return
		}
		response.Internal(c, "failed to load appointment")
		return
	}
	doctorID := c.MustGet(middleware.ContextUserID).(uuid.UUID)
	if a.DoctorID != doctorID {
		response.Forbidden(c, "only the appointed doctor can change appointment status")
		return
	}
	if a.Status != models.AppointmentPending {
		response.BadRequest(c, "appointment is not pending")
		return
	}

	updated, err := h.repo.SetStatus(c.Request.Context(), id, status)
	if err != nil {
		response.Internal(c, "failed to update appointment")
		return
	}
	response.OK(c, updated)
}

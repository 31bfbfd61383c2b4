package video

import (
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	webrtc "github.com/pion/webrtc/v3"

	"github.com/telemedic/backend/internal/middleware"
	"github.com/telemedic/backend/internal/models"
	"github.com/telemedic/backend/pkg/response"
)

// CreateRoomRequest is the body for POST /video/room.
type CreateRoomRequest struct {
	AppointmentID string `json:"appointmentId" binding:"required,uuid"`
	UserType      string `json:"userType" binding:"required"`
}

// ValidateRequest is the body for POST /video/room/:roomId/validate.
type ValidateRequest struct {
	UserID   string `json:"userId" binding:"required,uuid"`
	UserType string `json:"userType" binding:"required"`
}

// EndRequest is the body for POST /video/room/:roomId/end.
type EndRequest struct {
	UserType string `json:"userType" binding:"required"`
}

// Handler handles the REST boundary of the video room lifecycle.
type Handler struct {
	service    *Service
	iceServers []webrtc.ICEServer
}

// NewHandler creates a video room handler.
func NewHandler(service *Service, iceServers []webrtc.ICEServer) *Handler {
	return &Handler{service: service, iceServers: iceServers}
}

// CreateRoom handles POST /video/room.
func (h *Handler) CreateRoom(c *gin.Context) {
	var req CreateRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	role, ok := models.ParseRole(req.UserType)
	if !ok {
		response.BadRequest(c, "userType must be doctor or patient")
		return
	}
	appointmentID, _ := uuid.Parse(req.AppointmentID)
	userID := c.MustGet(middleware.ContextUserID).(uuid.UUID)

	room, err := h.service.CreateOrGetRoom(c.Request.Context(), appointmentID, userID, role)
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.Created(c, room)
}

// GetRoom handles GET /video/room/:roomId.
func (h *Handler) GetRoom(c *gin.Context) {
	roomID, err := uuid.Parse(c.Param("roomId"))
	if err != nil {
		response.BadRequest(c, "invalid room id")
		return
	}
	room, err := h.service.GetRoom(c.Request.Context(), roomID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.OK(c, room)
}

// RoomForAppointment handles GET /video/appointment/:appointmentId/room.
// Returns the active room, or null data when none is live.
func (h *Handler) RoomForAppointment(c *gin.Context) {
	appointmentID, err := uuid.Parse(c.Param("appointmentId"))
	if err != nil {
		response.BadRequest(c, "invalid appointment id")
		return
	}
	room, err := h.service.RoomForAppointment(c.Request.Context(), appointmentID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.OK(c, room)
}

// Validate handles POST /video/room/:roomId/validate. Lets a client check
// access before opening the signaling connection.
func (h *Handler) Validate(c *gin.Context) {
	roomID, err := uuid.Parse(c.Param("roomId"))
	if err != nil {
		response.BadRequest(c, "invalid room id")
		return
	}
	var req ValidateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	role, ok := models.ParseRole(req.UserType)
	if !ok {
		response.BadRequest(c, "userType must be doctor or patient")
		return
	}
	userID, _ := uuid.Parse(req.UserID)

	hasAccess, err := h.service.Validate(c.Request.Context(), roomID, userID, role)
	if err != nil && !errors.Is(err, ErrNotFound) {
		h.writeError(c, err)
		return
	}
	response.OK(c, gin.H{"hasAccess": hasAccess})
}

// EndRoom handles POST /video/room/:roomId/end.
func (h *Handler) EndRoom(c *gin.Context) {
	roomID, err := uuid.Parse(c.Param("roomId"))
	if err != nil {
		response.BadRequest(c, "invalid room id")
		return
	}
	var req EndRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	role, ok := models.ParseRole(req.UserType)
	if !ok {
		response.BadRequest(c, "userType must be doctor or patient")
		return
	}
	userID := c.MustGet(middleware.ContextUserID).(uuid.UUID)

	room, evicted, err := h.service.End(c.Request.Context(), roomID, userID, role)
	if err != nil {
		h.writeError(c, err)
		return
	}
	endedByName := ""
	for _, s := range evicted {
		if s.Role == role {
			endedByName = s.UserName
		}
	}
	AnnounceEnd(evicted, role, endedByName)
	response.OK(c, room)
}

// ICEServers handles GET /video/ice-servers, returning the STUN/TURN
// catalog clients use to build their RTCPeerConnection.
func (h *Handler) ICEServers(c *gin.Context) {
	response.OK(c, gin.H{"iceServers": h.iceServers})
}

func (h *Handler) writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		response.NotFound(c, err.Error())
	case errors.Is(err, ErrUnauthorized):
		response.Forbidden(c, err.Error())
	case errors.Is(err, ErrInvalidState), errors.Is(err, ErrRoomEnded):
		response.BadRequest(c, err.Error())
	default:
		response.Internal(c, "internal error")
	}
}

// AnnounceEnd tells the evicted sessions the consultation is over and
// closes their connections. The party that triggered the end learns the
// outcome from its own response instead.
func AnnounceEnd(evicted []*Session, endedBy models.Role, endedByName string) {
	for _, s := range evicted {
		if s.Role != endedBy {
			s.Peer.Send("call-ended", gin.H{"endedBy": endedBy, "userName": endedByName})
		}
		s.Peer.CloseWithReason("room ended")
	}
}

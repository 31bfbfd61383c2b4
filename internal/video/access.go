package video

import (
	"github.com/google/uuid"

	"github.com/telemedic/backend/internal/models"
)

// CanJoin reports whether the identity/role pair may join the room.
// Pure and side-effect-free, so it can reject unauthorized clients over
// the REST boundary before any transport connection is opened.
func CanJoin(room *models.VideoRoom, userID uuid.UUID, role models.Role) bool {
	if room == nil || room.Status == models.RoomEnded {
		return false
	}
	return room.PartyID(role) == userID
}

package video

import "errors"

// Error taxonomy for room lifecycle and signaling operations. Validation
// errors are returned synchronously and never mutate registry state.
var (
	// ErrNotFound means the appointment or room does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidState means the appointment is not approved, or an action
	// was attempted that the room's current status forbids.
	ErrInvalidState = errors.New("invalid state")

	// ErrUnauthorized means the identity/role pair does not match the
	// room's recorded doctor or patient.
	ErrUnauthorized = errors.New("unauthorized for this room")

	// ErrRoomEnded means the room has already reached its terminal state.
	ErrRoomEnded = errors.New("room already ended")

	// ErrStaleTarget means the signaling target session is no longer live.
	// Recoverable: surfaced to the sender only, the room is untouched.
	ErrStaleTarget = errors.New("target session no longer connected")
)

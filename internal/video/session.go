package video

import (
	"time"

	"github.com/google/uuid"

	"github.com/telemedic/backend/internal/models"
)

// Peer is the transport handle of one live connection. Send enqueues a
// typed message onto the connection's outbound channel without blocking;
// it reports false when the connection can no longer accept messages.
type Peer interface {
	Send(event string, payload interface{}) bool
	CloseWithReason(reason string)
}

// Session is one live transport connection attached to a room.
// At most one session per role may be live in a room at a time.
type Session struct {
	ID       string
	UserID   uuid.UUID
	Role     models.Role
	UserName string
	JoinedAt time.Time
	Peer     Peer
}

// Info is the wire representation of a session for room-joined payloads.
type Info struct {
	SessionID string      `json:"sessionId"`
	UserID    uuid.UUID   `json:"userId"`
	UserType  models.Role `json:"userType"`
	UserName  string      `json:"userName"`
}

// Info returns the wire representation of the session.
func (s *Session) Info() Info {
	return Info{SessionID: s.ID, UserID: s.UserID, UserType: s.Role, UserName: s.UserName}
}

// SignalKind is the payload kind of a relayed signaling message.
type SignalKind string

const (
	SignalOffer        SignalKind = "offer"
	SignalAnswer       SignalKind = "answer"
	SignalICECandidate SignalKind = "ice-candidate"
	SignalMediaState   SignalKind = "media-state"
)

// Envelope is a relay-only signaling message. The payload body is opaque
// to the relay (SDP and ICE contents are never interpreted or stored);
// it travels exactly one hop to the target's live connection.
type Envelope struct {
	Kind    SignalKind
	Payload interface{}
}

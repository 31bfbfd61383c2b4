package realtime

import "encoding/json"

// WSMessage is the WebSocket message envelope.
type WSMessage struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Client-to-server event names.
const (
	EventJoinRoom         = "join-room"
	EventOffer            = "offer"
	EventAnswer           = "answer"
	EventICECandidate     = "ice-candidate"
	EventMediaStateChange = "media-state-change"
	EventEndCall          = "end-call"
)

// Server-to-client event names.
const (
	EventRoomJoined       = "room-joined"
	EventUserJoined       = "user-joined"
	EventUserLeft         = "user-left"
	EventPeerMediaChanged = "peer-media-state-changed"
	EventCallEnded        = "call-ended"
	EventSuperseded       = "superseded"
	EventError            = "error"
)

type joinRoomPayload struct {
	RoomID   string `json:"roomId"`
	UserID   string `json:"userId"`
	UserType string `json:"userType"`
	UserName string `json:"userName"`
}

type targetedPayload struct {
	TargetSessionID string          `json:"targetSessionId"`
	Offer           json.RawMessage `json:"offer,omitempty"`
	Answer          json.RawMessage `json:"answer,omitempty"`
	Candidate       json.RawMessage `json:"candidate,omitempty"`
}

type mediaStatePayload struct {
	RoomID       string `json:"roomId"`
	AudioEnabled bool   `json:"audioEnabled"`
	VideoEnabled bool   `json:"videoEnabled"`
}

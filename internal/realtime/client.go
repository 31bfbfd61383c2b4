package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/telemedic/backend/internal/models"
	"github.com/telemedic/backend/internal/video"
)

const (
	// PingInterval and PongWait are used for heartbeat.
	PingInterval = 30
	PongWait     = 60
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // allow all origins in dev; restrict in production
	},
}

// Client represents a single WebSocket signaling connection. It implements
// video.Peer: the relay resolves a target client and enqueues onto its
// send channel, so per-sender delivery order is the channel order.
type Client struct {
	sessionID string    // assigned on join-room
	roomID    uuid.UUID // zero until joined
	userID    uuid.UUID
	role      models.Role
	userName  string
	service   *video.Service
	conn      *websocket.Conn
	send      chan WSMessage
	logger    *zap.Logger
}

// Send enqueues a message without blocking. Returns false when the
// connection's buffer is full or the channel can no longer accept.
func (c *Client) Send(event string, payload interface{}) bool {
	data, err := json.Marshal(payload)
	if err != nil {
		return false
	}
	select {
	case c.send <- WSMessage{Event: event, Data: data}:
		return true
	default:
		return false
	}
}

// CloseWithReason closes the connection with a normal-closure frame.
// Safe to call concurrently with the write pump.
func (c *Client) CloseWithReason(reason string) {
	deadline := time.Now().Add(time.Second)
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason), deadline)
	_ = c.conn.Close()
}

// ServeWs handles the WebSocket upgrade and runs the client loop.
// The JWT travels in the query string since browsers cannot set an
// Authorization header on a WebSocket handshake.
func ServeWs(service *video.Service, logger *zap.Logger, jwtValidate func(token string) (userID, role string, err error)) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := c.Query("token")
		if token == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "token required"})
			return
		}
		userIDStr, roleStr, err := jwtValidate(token)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		userID, err := uuid.Parse(userIDStr)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token subject"})
			return
		}
		role, ok := models.ParseRole(roleStr)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid role"})
			return
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			logger.Warn("websocket upgrade failed", zap.Error(err))
			return
		}

		client := &Client{
			userID:  userID,
			role:    role,
			service: service,
			conn:    conn,
			send:    make(chan WSMessage, 256),
			logger:  logger,
		}
		go client.writePump()
		client.readPump()
	}
}

func (c *Client) readPump() {
	defer func() {
		c.handleDisconnect()
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(65536)
	_ = c.conn.SetReadDeadline(time.Now().Add(PongWait * time.Second))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(PongWait * time.Second))
		return nil
	})

	for {
		var msg WSMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			break
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(PongWait * time.Second))

		switch msg.Event {
		case EventJoinRoom:
			c.handleJoin(msg.Data)
		case EventOffer, EventAnswer, EventICECandidate:
			c.handleSignal(msg.Event, msg.Data)
		case EventMediaStateChange:
			c.handleMediaState(msg.Data)
		case EventEndCall:
			c.handleEndCall()
		default:
			// ignore
		}
	}
}

func (c *Client) handleJoin(data json.RawMessage) {
	var p joinRoomPayload
	if err := json.Unmarshal(data, &p); err != nil {
		c.sendError("invalid join-room payload")
		return
	}
	roomID, err := uuid.Parse(p.RoomID)
	if err != nil {
		c.sendError("invalid roomId")
		return
	}
	// Identity comes from the token, never from the payload.
	if p.UserType != "" && p.UserType != string(c.role) {
		c.sendError("userType does not match credentials")
		return
	}

	res, err := c.service.Join(context.Background(), roomID, c.userID, c.role, p.UserName, c)
	if err != nil {
		c.sendError(joinErrorMessage(err))
		return
	}

	c.sessionID = res.Session.ID
	c.roomID = roomID
	c.userName = p.UserName

	if res.Superseded != nil {
		res.Superseded.Peer.Send(EventSuperseded, gin.H{"reason": "a newer connection joined for your role"})
		res.Superseded.Peer.CloseWithReason("superseded")
	}

	participants := res.Peers
	if participants == nil {
		participants = []video.Info{}
	}
	c.Send(EventRoomJoined, gin.H{
		"roomId":       roomID,
		"sessionId":    c.sessionID,
		"status":       res.Room.Status,
		"participants": participants,
	})

	peers, err := c.service.PeerSessions(roomID, c.sessionID)
	if err != nil {
		return
	}
	for _, peer := range peers {
		peer.Peer.Send(EventUserJoined, res.Session.Info())
	}
	c.logger.Debug("session joined room",
		zap.String("session_id", c.sessionID),
		zap.String("room_id", roomID.String()),
		zap.String("role", string(c.role)))
}

func (c *Client) handleSignal(event string, data json.RawMessage) {
	if c.sessionID == "" {
		c.sendError("join a room before signaling")
		return
	}
	var p targetedPayload
	if err := json.Unmarshal(data, &p); err != nil || p.TargetSessionID == "" {
		c.sendError("invalid signaling payload")
		return
	}

	var env video.Envelope
	switch event {
	case EventOffer:
		env = video.Envelope{Kind: video.SignalOffer, Payload: gin.H{
			"offer":           p.Offer,
			"senderSessionId": c.sessionID,
			"senderUserType":  c.role,
			"senderUserName":  c.userName,
		}}
	case EventAnswer:
		env = video.Envelope{Kind: video.SignalAnswer, Payload: gin.H{
			"answer":          p.Answer,
			"senderSessionId": c.sessionID,
		}}
	case EventICECandidate:
		env = video.Envelope{Kind: video.SignalICECandidate, Payload: gin.H{
			"candidate":       p.Candidate,
			"senderSessionId": c.sessionID,
		}}
	}

	if err := c.service.Relay(c.roomID, c.sessionID, p.TargetSessionID, env); err != nil {
		c.sendError(err.Error())
	}
}

func (c *Client) handleMediaState(data json.RawMessage) {
	if c.sessionID == "" {
		return
	}
	var p mediaStatePayload
	if err := json.Unmarshal(data, &p); err != nil {
		return
	}
	peers, err := c.service.PeerSessions(c.roomID, c.sessionID)
	if err != nil {
		return
	}
	for _, peer := range peers {
		peer.Peer.Send(EventPeerMediaChanged, gin.H{
			"sessionId":    c.sessionID,
			"userType":     c.role,
			"audioEnabled": p.AudioEnabled,
			"videoEnabled": p.VideoEnabled,
		})
	}
}

func (c *Client) handleEndCall() {
	if c.sessionID == "" {
		c.sendError("join a room before ending the call")
		return
	}
	_, evicted, err := c.service.End(context.Background(), c.roomID, c.userID, c.role)
	if err != nil {
		c.sendError(err.Error())
		return
	}
	video.AnnounceEnd(evicted, c.role, c.userName)
}

// handleDisconnect frees the session slot immediately so a reconnect or
// role supersession can proceed. The room itself stays open.
func (c *Client) handleDisconnect() {
	if c.sessionID == "" {
		return
	}
	removed, remaining, ok := c.service.Leave(c.roomID, c.sessionID)
	if !ok {
		return
	}
	for _, peer := range remaining {
		peer.Peer.Send(EventUserLeft, gin.H{
			"sessionId": removed.ID,
			"userType":  removed.Role,
			"userName":  removed.UserName,
		})
	}
	c.logger.Debug("session left room",
		zap.String("session_id", removed.ID),
		zap.String("room_id", c.roomID.String()))
}

func (c *Client) sendError(message string) {
	c.Send(EventError, gin.H{"message": message})
}

func joinErrorMessage(err error) string {
	switch {
	case errors.Is(err, video.ErrRoomEnded):
		return "this consultation has already ended"
	case errors.Is(err, video.ErrUnauthorized):
		return "you are not a party to this consultation"
	case errors.Is(err, video.ErrNotFound):
		return "room not found"
	}
	return "unable to join room"
}

func (c *Client) writePump() {
	ticker := time.NewTicker(PingInterval * time.Second)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteJSON(msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

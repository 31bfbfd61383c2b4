package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/telemedic/backend/internal/appointments"
	"github.com/telemedic/backend/internal/models"
	"github.com/telemedic/backend/internal/video"
)

type memStore struct {
	mu    sync.Mutex
	rooms map[uuid.UUID]models.VideoRoom
}

func (m *memStore) UpsertRoom(_ context.Context, room *models.VideoRoom) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rooms[room.ID] = *room
	return nil
}

func (m *memStore) GetRoom(_ context.Context, id uuid.UUID) (*models.VideoRoom, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	room, ok := m.rooms[id]
	if !ok {
		return nil, video.ErrNotFound
	}
	return &room, nil
}

func (m *memStore) GetLiveRoomByAppointment(_ context.Context, appointmentID uuid.UUID) (*models.VideoRoom, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, room := range m.rooms {
		if room.AppointmentID == appointmentID && room.Status != models.RoomEnded {
			r := room
			return &r, nil
		}
	}
	return nil, nil
}

func (m *memStore) ListLive(_ context.Context) ([]models.VideoRoom, error) {
	return nil, nil
}

type memGateway struct {
	appts map[uuid.UUID]models.Appointment
}

func (m *memGateway) GetByID(_ context.Context, id uuid.UUID) (*models.Appointment, error) {
	a, ok := m.appts[id]
	if !ok {
		return nil, appointments.ErrNotFound
	}
	return &a, nil
}

type noopNotifier struct{}

func (noopNotifier) ConsultationStarted(context.Context, models.VideoRoom) error { return nil }
func (noopNotifier) ConsultationEnded(context.Context, models.VideoRoom) error   { return nil }

type wsFixture struct {
	server    *httptest.Server
	service   *video.Service
	roomID    uuid.UUID
	doctorID  uuid.UUID
	patientID uuid.UUID
}

func newWsFixture(t *testing.T) *wsFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	f := &wsFixture{
		doctorID:  uuid.New(),
		patientID: uuid.New(),
	}
	apptID := uuid.New()
	gateway := &memGateway{appts: map[uuid.UUID]models.Appointment{
		apptID: {ID: apptID, DoctorID: f.doctorID, PatientID: f.patientID, Status: models.AppointmentApproved},
	}}
	f.service = video.NewService(video.NewRegistry(), &memStore{rooms: make(map[uuid.UUID]models.VideoRoom)}, gateway, noopNotifier{}, zap.NewNop())

	room, err := f.service.CreateOrGetRoom(context.Background(), apptID, f.doctorID, models.RoleDoctor)
	require.NoError(t, err)
	f.roomID = room.ID

	// Tokens resolve straight to identities; the production validator is a
	// JWT parse with the same shape.
	validate := func(token string) (string, string, error) {
		switch token {
		case "doctor-token":
			return f.doctorID.String(), "doctor", nil
		case "patient-token":
			return f.patientID.String(), "patient", nil
		}
		return "", "", fmt.Errorf("unknown token")
	}

	router := gin.New()
	router.GET("/ws", ServeWs(f.service, zap.NewNop(), validate))
	f.server = httptest.NewServer(router)
	t.Cleanup(f.server.Close)
	return f
}

func (f *wsFixture) dial(t *testing.T, token string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(f.server.URL, "http") + "/ws?token=" + token
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func sendEvent(t *testing.T, conn *websocket.Conn, event string, payload interface{}) {
	t.Helper()
	data, err := json.Marshal(payload)
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(WSMessage{Event: event, Data: data}))
}

func readEvent(t *testing.T, conn *websocket.Conn) (string, map[string]interface{}) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg WSMessage
	require.NoError(t, conn.ReadJSON(&msg))
	var data map[string]interface{}
	if len(msg.Data) > 0 {
		require.NoError(t, json.Unmarshal(msg.Data, &data))
	}
	return msg.Event, data
}

func joinRoom(t *testing.T, f *wsFixture, conn *websocket.Conn, userName string) map[string]interface{} {
	t.Helper()
	sendEvent(t, conn, EventJoinRoom, gin.H{"roomId": f.roomID.String(), "userName": userName})
	event, data := readEvent(t, conn)
	require.Equal(t, EventRoomJoined, event)
	return data
}

func TestSignalingSessionLifecycle(t *testing.T) {
	f := newWsFixture(t)

	docConn := f.dial(t, "doctor-token")
	docJoined := joinRoom(t, f, docConn, "Dr. Adams")
	assert.Equal(t, string(models.RoomWaiting), docJoined["status"])
	assert.Empty(t, docJoined["participants"])
	docSessionID := docJoined["sessionId"].(string)

	patConn := f.dial(t, "patient-token")
	patJoined := joinRoom(t, f, patConn, "Pat Doe")
	assert.Equal(t, string(models.RoomActive), patJoined["status"])
	participants := patJoined["participants"].([]interface{})
	require.Len(t, participants, 1)
	patSessionID := patJoined["sessionId"].(string)

	// The doctor is told about the new participant.
	event, data := readEvent(t, docConn)
	require.Equal(t, EventUserJoined, event)
	assert.Equal(t, patSessionID, data["sessionId"])
	assert.Equal(t, "patient", data["userType"])
	assert.Equal(t, "Pat Doe", data["userName"])

	// Offer relays one hop, doctor to patient, body untouched.
	sendEvent(t, docConn, EventOffer, gin.H{
		"targetSessionId": patSessionID,
		"offer":           gin.H{"type": "offer", "sdp": "v=0"},
	})
	event, data = readEvent(t, patConn)
	require.Equal(t, EventOffer, event)
	assert.Equal(t, docSessionID, data["senderSessionId"])
	assert.Equal(t, "doctor", data["senderUserType"])
	offer := data["offer"].(map[string]interface{})
	assert.Equal(t, "v=0", offer["sdp"])

	// Answer relays back.
	sendEvent(t, patConn, EventAnswer, gin.H{
		"targetSessionId": docSessionID,
		"answer":          gin.H{"type": "answer", "sdp": "v=0"},
	})
	event, data = readEvent(t, docConn)
	require.Equal(t, EventAnswer, event)
	assert.Equal(t, patSessionID, data["senderSessionId"])

	// Media state fans out to the peer.
	sendEvent(t, patConn, EventMediaStateChange, gin.H{"audioEnabled": false, "videoEnabled": true})
	event, data = readEvent(t, docConn)
	require.Equal(t, EventPeerMediaChanged, event)
	assert.Equal(t, false, data["audioEnabled"])
	assert.Equal(t, true, data["videoEnabled"])

	// The patient hangs up: the doctor hears call-ended and the room is gone.
	sendEvent(t, patConn, EventEndCall, gin.H{"roomId": f.roomID.String()})
	event, data = readEvent(t, docConn)
	require.Equal(t, EventCallEnded, event)
	assert.Equal(t, "patient", data["endedBy"])

	room, err := f.service.GetRoom(context.Background(), f.roomID)
	require.NoError(t, err)
	assert.Equal(t, models.RoomEnded, room.Status)
}

func TestSignalingRejectsBadToken(t *testing.T) {
	f := newWsFixture(t)
	url := "ws" + strings.TrimPrefix(f.server.URL, "http") + "/ws?token=forged"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, 401, resp.StatusCode)
}

func TestSignalingStaleTargetReportsError(t *testing.T) {
	f := newWsFixture(t)

	docConn := f.dial(t, "doctor-token")
	joinRoom(t, f, docConn, "Dr. Adams")

	patConn := f.dial(t, "patient-token")
	patJoined := joinRoom(t, f, patConn, "Pat Doe")
	patSessionID := patJoined["sessionId"].(string)

	event, _ := readEvent(t, docConn) // user-joined
	require.Equal(t, EventUserJoined, event)

	// Patient drops; the doctor hears user-left, then a relay to the stale
	// session comes back as an error instead of vanishing.
	require.NoError(t, patConn.Close())
	event, data := readEvent(t, docConn)
	require.Equal(t, EventUserLeft, event)
	assert.Equal(t, patSessionID, data["sessionId"])

	sendEvent(t, docConn, EventICECandidate, gin.H{
		"targetSessionId": patSessionID,
		"candidate":       gin.H{"candidate": "candidate:0"},
	})
	event, _ = readEvent(t, docConn)
	assert.Equal(t, EventError, event)
}

func TestSignalingSupersedesDuplicateRoleConnection(t *testing.T) {
	f := newWsFixture(t)

	first := f.dial(t, "doctor-token")
	joinRoom(t, f, first, "Dr. Adams")

	second := f.dial(t, "doctor-token")
	secondJoined := joinRoom(t, f, second, "Dr. Adams")
	require.NotEmpty(t, secondJoined["sessionId"])

	event, _ := readEvent(t, first)
	assert.Equal(t, EventSuperseded, event)

	// The first connection is closed by the server after the notice.
	require.NoError(t, first.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg WSMessage
	err := first.ReadJSON(&msg)
	assert.Error(t, err)
}

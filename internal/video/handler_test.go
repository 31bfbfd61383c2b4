package video

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/telemedic/backend/internal/middleware"
	"github.com/telemedic/backend/internal/models"
)

// envelope mirrors response.Body with a raw data field so tests can decode
// the payload into the expected type.
type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
}

func newTestRouter(f *fixture, userID uuid.UUID) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(func(c *gin.Context) {
		c.Set(middleware.ContextUserID, userID)
		c.Next()
	})
	handler := NewHandler(f.service, nil)
	router.POST("/video/room", handler.CreateRoom)
	router.GET("/video/room/:roomId", handler.GetRoom)
	router.GET("/video/appointment/:appointmentId/room", handler.RoomForAppointment)
	router.POST("/video/room/:roomId/validate", handler.Validate)
	router.POST("/video/room/:roomId/end", handler.EndRoom)
	router.GET("/video/ice-servers", handler.ICEServers)
	return router
}

func doJSON(t *testing.T, router *gin.Engine, method, path string, body interface{}) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	return rec, env
}

func TestCreateRoomEndpoint(t *testing.T) {
	f := newFixture(t)
	router := newTestRouter(f, f.doctorID)

	rec, env := doJSON(t, router, http.MethodPost, "/video/room", gin.H{
		"appointmentId": f.apptID.String(),
		"userType":      "doctor",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	require.True(t, env.Success)

	var room models.VideoRoom
	require.NoError(t, json.Unmarshal(env.Data, &room))
	assert.Equal(t, models.RoomWaiting, room.Status)
	assert.Equal(t, f.apptID, room.AppointmentID)

	// Same appointment, same caller: same room back, not a duplicate.
	rec, env = doJSON(t, router, http.MethodPost, "/video/room", gin.H{
		"appointmentId": f.apptID.String(),
		"userType":      "doctor",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	var again models.VideoRoom
	require.NoError(t, json.Unmarshal(env.Data, &again))
	assert.Equal(t, room.ID, again.ID)
}

func TestCreateRoomEndpointRejectsBadInput(t *testing.T) {
	f := newFixture(t)
	router := newTestRouter(f, f.doctorID)

	rec, _ := doJSON(t, router, http.MethodPost, "/video/room", gin.H{
		"appointmentId": "not-a-uuid",
		"userType":      "doctor",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = doJSON(t, router, http.MethodPost, "/video/room", gin.H{
		"appointmentId": f.apptID.String(),
		"userType":      "nurse",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = doJSON(t, router, http.MethodPost, "/video/room", gin.H{
		"appointmentId": uuid.New().String(),
		"userType":      "doctor",
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCreateRoomEndpointForbidsOtherUsers(t *testing.T) {
	f := newFixture(t)
	router := newTestRouter(f, uuid.New())

	rec, env := doJSON(t, router, http.MethodPost, "/video/room", gin.H{
		"appointmentId": f.apptID.String(),
		"userType":      "doctor",
	})
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.False(t, env.Success)
}

func TestValidateEndpoint(t *testing.T) {
	f := newFixture(t)
	router := newTestRouter(f, f.doctorID)
	room := f.createRoom(t)

	path := fmt.Sprintf("/video/room/%s/validate", room.ID)
	rec, env := doJSON(t, router, http.MethodPost, path, gin.H{
		"userId":   f.patientID.String(),
		"userType": "patient",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	var verdict struct {
		HasAccess bool `json:"hasAccess"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &verdict))
	assert.True(t, verdict.HasAccess)

	rec, env = doJSON(t, router, http.MethodPost, path, gin.H{
		"userId":   uuid.New().String(),
		"userType": "patient",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(env.Data, &verdict))
	assert.False(t, verdict.HasAccess)

	// Unknown room reads as no access, not an error.
	rec, env = doJSON(t, router, http.MethodPost, fmt.Sprintf("/video/room/%s/validate", uuid.New()), gin.H{
		"userId":   f.patientID.String(),
		"userType": "patient",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(env.Data, &verdict))
	assert.False(t, verdict.HasAccess)
}

func TestEndRoomEndpointNotifiesPeerAndCloses(t *testing.T) {
	f := newFixture(t)
	room := f.createRoom(t)
	ctx := context.Background()

	docPeer := &fakePeer{}
	patPeer := &fakePeer{}
	_, err := f.service.Join(ctx, room.ID, f.doctorID, models.RoleDoctor, "Dr. Adams", docPeer)
	require.NoError(t, err)
	_, err = f.service.Join(ctx, room.ID, f.patientID, models.RolePatient, "Pat Doe", patPeer)
	require.NoError(t, err)

	router := newTestRouter(f, f.doctorID)
	rec, env := doJSON(t, router, http.MethodPost, fmt.Sprintf("/video/room/%s/end", room.ID), gin.H{
		"userType": "doctor",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var ended models.VideoRoom
	require.NoError(t, json.Unmarshal(env.Data, &ended))
	assert.Equal(t, models.RoomEnded, ended.Status)

	// The other party got the call-ended event; both connections closed.
	sent := patPeer.sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "call-ended", sent[0].event)
	assert.True(t, patPeer.closed)
	assert.True(t, docPeer.closed)
	assert.Empty(t, docPeer.sent(), "the ender learns the outcome from the response")
}

func TestGetRoomEndpoint(t *testing.T) {
	f := newFixture(t)
	router := newTestRouter(f, f.doctorID)
	room := f.createRoom(t)

	rec, env := doJSON(t, router, http.MethodGet, "/video/room/"+room.ID.String(), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var got models.VideoRoom
	require.NoError(t, json.Unmarshal(env.Data, &got))
	assert.Equal(t, room.ID, got.ID)

	rec, _ = doJSON(t, router, http.MethodGet, "/video/room/"+uuid.New().String(), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, env = doJSON(t, router, http.MethodGet, "/video/appointment/"+f.apptID.String()+"/room", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(env.Data, &got))
	assert.Equal(t, room.ID, got.ID)
}

package video

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/telemedic/backend/internal/models"
)

func newWaitingRoom() models.VideoRoom {
	return models.VideoRoom{
		ID:            uuid.New(),
		AppointmentID: uuid.New(),
		DoctorID:      uuid.New(),
		PatientID:     uuid.New(),
		Status:        models.RoomWaiting,
		StartedBy:     models.RoleDoctor,
		CreatedAt:     time.Now(),
	}
}

func TestRegistryLookupAndRemove(t *testing.T) {
	registry := NewRegistry()
	room := newWaitingRoom()
	registry.Add(room)
	assert.Equal(t, 1, registry.Len())

	byID, ok := registry.Get(room.ID)
	require.True(t, ok)
	assert.Equal(t, room.ID, byID.Snapshot().ID)

	byAppt, ok := registry.ByAppointment(room.AppointmentID)
	require.True(t, ok)
	assert.Equal(t, room.ID, byAppt.Snapshot().ID)

	registry.Remove(room.ID)
	assert.Equal(t, 0, registry.Len())
	_, ok = registry.Get(room.ID)
	assert.False(t, ok)
	_, ok = registry.ByAppointment(room.AppointmentID)
	assert.False(t, ok, "appointment index is cleared with the room")
}

func TestRegistryIdleSince(t *testing.T) {
	registry := NewRegistry()
	stale := newWaitingRoom()
	fresh := newWaitingRoom()
	registry.Add(stale)

	time.Sleep(10 * time.Millisecond)
	cutoff := time.Now()
	registry.Add(fresh)

	ids := registry.IdleSince(cutoff)
	require.Len(t, ids, 1)
	assert.Equal(t, stale.ID, ids[0])

	// A join counts as activity and clears the idle flag.
	lr, ok := registry.Get(stale.ID)
	require.True(t, ok)
	_, err := lr.join(stale.DoctorID, models.RoleDoctor, "Dr. Adams", &fakePeer{}, time.Now())
	require.NoError(t, err)
	assert.Empty(t, registry.IdleSince(cutoff))
}

func TestLiveRoomSupersedeEvictsPriorSameRoleSession(t *testing.T) {
	registry := NewRegistry()
	room := newWaitingRoom()
	registry.Add(room)
	lr, _ := registry.Get(room.ID)

	first, err := lr.join(room.DoctorID, models.RoleDoctor, "Dr. Adams", &fakePeer{}, time.Now())
	require.NoError(t, err)
	assert.Nil(t, first.superseded)

	second, err := lr.join(room.DoctorID, models.RoleDoctor, "Dr. Adams", &fakePeer{}, time.Now())
	require.NoError(t, err)
	require.NotNil(t, second.superseded)
	assert.Equal(t, first.session.ID, second.superseded.ID)
	assert.False(t, second.activated, "supersession alone never activates")
	_, ok := lr.sessionByID(first.session.ID)
	assert.False(t, ok)
}

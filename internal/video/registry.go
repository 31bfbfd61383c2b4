package video

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/telemedic/backend/internal/models"
)

// Registry is the in-memory authoritative map of live rooms. The outer
// RWMutex guards only map membership; every room entry carries its own
// lock so unrelated rooms never contend.
type Registry struct {
	mu     sync.RWMutex
	rooms  map[uuid.UUID]*liveRoom
	byAppt map[uuid.UUID]uuid.UUID
}

// NewRegistry creates an empty room registry.
func NewRegistry() *Registry {
	return &Registry{
		rooms:  make(map[uuid.UUID]*liveRoom),
		byAppt: make(map[uuid.UUID]uuid.UUID),
	}
}

// Add registers a live room. The caller guarantees no live room exists
// for the same appointment.
func (r *Registry) Add(room models.VideoRoom) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rooms[room.ID] = &liveRoom{
		room:         room,
		sessions:     make(map[models.Role]*Session),
		lastActivity: time.Now(),
	}
	r.byAppt[room.AppointmentID] = room.ID
}

// Get returns the live room entry for the given id.
func (r *Registry) Get(roomID uuid.UUID) (*liveRoom, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	lr, ok := r.rooms[roomID]
	return lr, ok
}

// ByAppointment returns the live room entry for the given appointment.
func (r *Registry) ByAppointment(appointmentID uuid.UUID) (*liveRoom, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	roomID, ok := r.byAppt[appointmentID]
	if !ok {
		return nil, false
	}
	lr, ok := r.rooms[roomID]
	return lr, ok
}

// Remove drops a room from the live set. The record survives in the store.
func (r *Registry) Remove(roomID uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if lr, ok := r.rooms[roomID]; ok {
		delete(r.byAppt, lr.room.AppointmentID)
		delete(r.rooms, roomID)
	}
}

// Len returns the number of live rooms.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms)
}

// IdleSince returns the ids of live rooms with no activity since the cutoff.
// This is the hook for an external abandoned-room watchdog; the core itself
// never auto-ends a room.
func (r *Registry) IdleSince(cutoff time.Time) []uuid.UUID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var ids []uuid.UUID
	for id, lr := range r.rooms {
		lr.mu.Lock()
		idle := lr.lastActivity.Before(cutoff)
		lr.mu.Unlock()
		if idle {
			ids = append(ids, id)
		}
	}
	return ids
}

// liveRoom is one registry entry: the room record plus its connected
// sessions, guarded by a single per-room mutex. Methods hold the lock only
// for in-memory mutation; callers perform I/O (store writes, notification
// hooks, transport sends) after the method returns.
type liveRoom struct {
	mu           sync.Mutex
	room         models.VideoRoom
	sessions     map[models.Role]*Session
	lastActivity time.Time
}

// Snapshot returns a copy of the room record.
func (lr *liveRoom) Snapshot() models.VideoRoom {
	lr.mu.Lock()
	defer lr.mu.Unlock()
	return lr.room
}

// joinResult is the outcome of a join, captured under the room lock.
type joinResult struct {
	session    *Session
	peers      []Info
	superseded *Session
	activated  bool
	room       models.VideoRoom
}

// join registers a session, superseding any live session of the same role,
// and fires the waiting->active transition when both roles are present.
func (lr *liveRoom) join(userID uuid.UUID, role models.Role, userName string, peer Peer, now time.Time) (joinResult, error) {
	lr.mu.Lock()
	defer lr.mu.Unlock()

	if lr.room.Status == models.RoomEnded {
		return joinResult{}, ErrRoomEnded
	}
	// Defense in depth: the handler validates access before dialing, the
	// tracker re-checks identity against the room record.
	if lr.room.PartyID(role) != userID {
		return joinResult{}, ErrUnauthorized
	}

	res := joinResult{}
	if prev, ok := lr.sessions[role]; ok {
		res.superseded = prev
	}

	sess := &Session{
		ID:       uuid.New().String(),
		UserID:   userID,
		Role:     role,
		UserName: userName,
		JoinedAt: now,
		Peer:     peer,
	}
	lr.sessions[role] = sess
	lr.lastActivity = now

	if other, ok := lr.sessions[role.Other()]; ok {
		res.peers = append(res.peers, other.Info())
	}
	if lr.room.Status == models.RoomWaiting && len(lr.sessions) == 2 {
		startedAt := now
		lr.room.Status = models.RoomActive
		lr.room.StartedAt = &startedAt
		res.activated = true
	}

	res.session = sess
	res.room = lr.room
	return res, nil
}

// leave removes a session by id and returns the sessions still connected.
// A stale id is a no-op: disconnect races are expected. Leaving never
// changes room status.
func (lr *liveRoom) leave(sessionID string, now time.Time) (removed *Session, remaining []*Session, ok bool) {
	lr.mu.Lock()
	defer lr.mu.Unlock()
	for role, sess := range lr.sessions {
		if sess.ID == sessionID {
			removed = sess
			delete(lr.sessions, role)
			lr.lastActivity = now
			break
		}
	}
	if removed == nil {
		return nil, nil, false
	}
	for _, sess := range lr.sessions {
		remaining = append(remaining, sess)
	}
	return removed, remaining, true
}

// sessionByID returns the live session with the given id.
func (lr *liveRoom) sessionByID(sessionID string) (*Session, bool) {
	lr.mu.Lock()
	defer lr.mu.Unlock()
	for _, sess := range lr.sessions {
		if sess.ID == sessionID {
			return sess, true
		}
	}
	return nil, false
}

// peersOf returns the other live session(s), at most one in the two-role model.
func (lr *liveRoom) peersOf(excludingSessionID string) []*Session {
	lr.mu.Lock()
	defer lr.mu.Unlock()
	var peers []*Session
	for _, sess := range lr.sessions {
		if sess.ID != excludingSessionID {
			peers = append(peers, sess)
		}
	}
	return peers
}

// end transitions the room to its terminal state and evicts all sessions.
// Returns already=true (with the unchanged terminal record) when the room
// was ended before, so concurrent end requests collapse to one transition.
func (lr *liveRoom) end(endedBy models.Role, now time.Time) (terminal models.VideoRoom, evicted []*Session, already bool) {
	lr.mu.Lock()
	defer lr.mu.Unlock()

	if lr.room.Status == models.RoomEnded {
		return lr.room, nil, true
	}

	endedAt := now
	lr.room.Status = models.RoomEnded
	lr.room.EndedAt = &endedAt
	lr.room.EndedBy = &endedBy
	if lr.room.StartedAt != nil {
		lr.room.Duration = int(endedAt.Sub(*lr.room.StartedAt) / time.Second)
	}

	for role, sess := range lr.sessions {
		evicted = append(evicted, sess)
		delete(lr.sessions, role)
	}
	return lr.room, evicted, false
}

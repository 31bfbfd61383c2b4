package video

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/telemedic/backend/internal/appointments"
	"github.com/telemedic/backend/internal/models"
)

// RoomStore is the durable record of rooms, used for history, duplicate
// prevention and registry hydration after a restart. Writes are idempotent
// upserts keyed by room id.
type RoomStore interface {
	UpsertRoom(ctx context.Context, room *models.VideoRoom) error
	GetRoom(ctx context.Context, id uuid.UUID) (*models.VideoRoom, error)
	GetLiveRoomByAppointment(ctx context.Context, appointmentID uuid.UUID) (*models.VideoRoom, error)
	ListLive(ctx context.Context) ([]models.VideoRoom, error)
}

// AppointmentGateway is the read-only view of the appointment system the
// room lifecycle consumes. Satisfied by appointments.Repository.
type AppointmentGateway interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Appointment, error)
}

// Notifier is the fire-and-forget hook invoked on room start and end.
// Implementations must never block room lifecycle; failures are logged
// by the caller and never surfaced.
type Notifier interface {
	ConsultationStarted(ctx context.Context, room models.VideoRoom) error
	ConsultationEnded(ctx context.Context, room models.VideoRoom) error
}

// Service is the room lifecycle manager: the only component that mutates
// room status. All per-room mutation is linearized by the registry entry's
// lock; store writes and notification hooks happen outside it.
type Service struct {
	registry *Registry
	store    RoomStore
	gateway  AppointmentGateway
	notifier Notifier
	logger   *zap.Logger

	// serializes room creation so two concurrent create requests for the
	// same appointment cannot both miss the registry lookup
	createMu sync.Mutex
}

// NewService creates the room lifecycle service.
func NewService(registry *Registry, store RoomStore, gateway AppointmentGateway, notifier Notifier, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		registry: registry,
		store:    store,
		gateway:  gateway,
		notifier: notifier,
		logger:   logger,
	}
}

// Hydrate loads live rooms from the store into the registry so rooms
// survive a process restart. Participant sessions are transport-scoped
// and are not restored.
func (s *Service) Hydrate(ctx context.Context) error {
	rooms, err := s.store.ListLive(ctx)
	if err != nil {
		return err
	}
	for _, room := range rooms {
		s.registry.Add(room)
	}
	if len(rooms) > 0 {
		s.logger.Info("restored live rooms from store", zap.Int("count", len(rooms)))
	}
	return nil
}

// CreateOrGetRoom returns the live room for an approved appointment,
// creating one with status waiting if none exists. Idempotent per
// appointment: a second create request returns the same room.
func (s *Service) CreateOrGetRoom(ctx context.Context, appointmentID, userID uuid.UUID, role models.Role) (*models.VideoRoom, error) {
	appt, err := s.gateway.GetByID(ctx, appointmentID)
	if err != nil {
		if errors.Is(err, appointments.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if appt.PartyID(role) != userID {
		return nil, ErrUnauthorized
	}
	if appt.Status != models.AppointmentApproved {
		return nil, ErrInvalidState
	}

	if lr, ok := s.registry.ByAppointment(appointmentID); ok {
		room := lr.Snapshot()
		return &room, nil
	}

	s.createMu.Lock()
	defer s.createMu.Unlock()
	if lr, ok := s.registry.ByAppointment(appointmentID); ok {
		room := lr.Snapshot()
		return &room, nil
	}

	room := models.VideoRoom{
		ID:            uuid.New(),
		AppointmentID: appointmentID,
		DoctorID:      appt.DoctorID,
		PatientID:     appt.PatientID,
		Status:        models.RoomWaiting,
		StartedBy:     role,
		CreatedAt:     time.Now(),
	}
	if err := s.store.UpsertRoom(ctx, &room); err != nil {
		// The partial unique index on appointment_id rejects a duplicate
		// live room; another process may have won the race.
		if existing, lookupErr := s.store.GetLiveRoomByAppointment(ctx, appointmentID); lookupErr == nil && existing != nil {
			s.registry.Add(*existing)
			return existing, nil
		}
		return nil, err
	}
	s.registry.Add(room)

	s.logger.Info("room created",
		zap.String("room_id", room.ID.String()),
		zap.String("appointment_id", appointmentID.String()),
		zap.String("started_by", string(role)))
	return &room, nil
}

// GetRoom returns the room record, preferring the live registry entry.
func (s *Service) GetRoom(ctx context.Context, roomID uuid.UUID) (*models.VideoRoom, error) {
	if lr, ok := s.registry.Get(roomID); ok {
		room := lr.Snapshot()
		return &room, nil
	}
	room, err := s.store.GetRoom(ctx, roomID)
	if err != nil {
		return nil, err
	}
	return room, nil
}

// RoomForAppointment returns the live room for an appointment, or nil.
func (s *Service) RoomForAppointment(ctx context.Context, appointmentID uuid.UUID) (*models.VideoRoom, error) {
	if lr, ok := s.registry.ByAppointment(appointmentID); ok {
		room := lr.Snapshot()
		return &room, nil
	}
	return s.store.GetLiveRoomByAppointment(ctx, appointmentID)
}

// Validate reports whether the identity/role pair may join the room.
func (s *Service) Validate(ctx context.Context, roomID, userID uuid.UUID, role models.Role) (bool, error) {
	room, err := s.GetRoom(ctx, roomID)
	if err != nil {
		return false, err
	}
	return CanJoin(room, userID, role), nil
}

// JoinResult is the outcome of a successful join.
type JoinResult struct {
	Session    *Session
	Peers      []Info    // other live session(s) in the room
	Superseded *Session  // prior same-role session evicted by this join, if any
	Room       models.VideoRoom
}

// Join attaches a live connection to a room. A second join with an
// occupied role supersedes the prior session; the caller must notify and
// close the superseded connection. When both roles are present on a
// waiting room it atomically transitions to active.
func (s *Service) Join(ctx context.Context, roomID, userID uuid.UUID, role models.Role, userName string, peer Peer) (*JoinResult, error) {
	lr, ok := s.registry.Get(roomID)
	if !ok {
		// Ended rooms leave the registry but survive in the store.
		room, err := s.store.GetRoom(ctx, roomID)
		if err != nil {
			return nil, ErrNotFound
		}
		if room.Status == models.RoomEnded {
			return nil, ErrRoomEnded
		}
		return nil, ErrNotFound
	}

	res, err := lr.join(userID, role, userName, peer, time.Now())
	if err != nil {
		return nil, err
	}

	if res.activated {
		s.persist(ctx, res.room)
		if err := s.notifier.ConsultationStarted(ctx, res.room); err != nil {
			s.logger.Warn("start notification failed", zap.Error(err), zap.String("room_id", roomID.String()))
		}
		s.logger.Info("room active",
			zap.String("room_id", roomID.String()),
			zap.String("joined_role", string(role)))
	}

	return &JoinResult{
		Session:    res.session,
		Peers:      res.peers,
		Superseded: res.superseded,
		Room:       res.room,
	}, nil
}

// Leave detaches a session from its room and returns the sessions still
// connected. It never ends the room: a party may disconnect on a network
// blip and rejoin the still-open room.
func (s *Service) Leave(roomID uuid.UUID, sessionID string) (removed *Session, remaining []*Session, ok bool) {
	lr, ok := s.registry.Get(roomID)
	if !ok {
		return nil, nil, false
	}
	return lr.leave(sessionID, time.Now())
}

// End transitions the room to ended, computes the duration, persists the
// terminal record, clears the live registry entry and invokes the
// notification hook exactly once. Idempotent: ending an ended room returns
// the unchanged terminal record.
func (s *Service) End(ctx context.Context, roomID, userID uuid.UUID, role models.Role) (*models.VideoRoom, []*Session, error) {
	lr, ok := s.registry.Get(roomID)
	if !ok {
		room, err := s.store.GetRoom(ctx, roomID)
		if err != nil {
			return nil, nil, ErrNotFound
		}
		if room.Status == models.RoomEnded {
			return room, nil, nil
		}
		return nil, nil, ErrNotFound
	}

	if snapshot := lr.Snapshot(); snapshot.PartyID(role) != userID {
		return nil, nil, ErrUnauthorized
	}

	terminal, evicted, already := lr.end(role, time.Now())
	if already {
		return &terminal, nil, nil
	}
	// Persist before dropping the registry entry so a concurrent End that
	// misses the registry finds the terminal record in the store.
	s.persist(ctx, terminal)
	s.registry.Remove(roomID)

	if err := s.notifier.ConsultationEnded(ctx, terminal); err != nil {
		s.logger.Warn("end notification failed", zap.Error(err), zap.String("room_id", roomID.String()))
	}
	s.logger.Info("room ended",
		zap.String("room_id", roomID.String()),
		zap.String("ended_by", string(role)),
		zap.Int("duration_seconds", terminal.Duration))
	return &terminal, evicted, nil
}

// Relay forwards a signaling envelope from a live room member to exactly
// one live target in the same room. Payload bodies are opaque; only
// membership and liveness are enforced. Messages from a given sender to a
// given target reach the transport in relay-invocation order.
func (s *Service) Relay(roomID uuid.UUID, fromSessionID, toSessionID string, env Envelope) error {
	lr, ok := s.registry.Get(roomID)
	if !ok {
		return ErrNotFound
	}
	if _, ok := lr.sessionByID(fromSessionID); !ok {
		return ErrUnauthorized
	}
	target, ok := lr.sessionByID(toSessionID)
	if !ok {
		return ErrStaleTarget
	}
	if !target.Peer.Send(string(env.Kind), env.Payload) {
		return ErrStaleTarget
	}
	return nil
}

// PeerSessions returns the other live session(s) for a room member,
// validating the sender's membership first.
func (s *Service) PeerSessions(roomID uuid.UUID, fromSessionID string) ([]*Session, error) {
	lr, ok := s.registry.Get(roomID)
	if !ok {
		return nil, ErrNotFound
	}
	if _, ok := lr.sessionByID(fromSessionID); !ok {
		return nil, ErrUnauthorized
	}
	return lr.peersOf(fromSessionID), nil
}

// persist upserts the room record, logging failures. The in-memory
// registry remains the source of truth during the call; upserts are
// idempotent and safe to retry out of band.
func (s *Service) persist(ctx context.Context, room models.VideoRoom) {
	if err := s.store.UpsertRoom(ctx, &room); err != nil {
		s.logger.Error("room store write failed",
			zap.Error(err),
			zap.String("room_id", room.ID.String()),
			zap.String("status", string(room.Status)))
	}
}

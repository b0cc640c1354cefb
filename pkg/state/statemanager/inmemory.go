package statemanager

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"github.com/a-essam23/go-signal/pkg/state"
	"github.com/google/uuid"
)

type InMemoryManager struct {
	sessions map[uuid.UUID]*state.Session
	rooms    map[string]*state.Room

	sessMu sync.RWMutex
	roomMu sync.RWMutex

	newRoomID         RoomIDGenerator
	maxRoomIDAttempts int

	logger *slog.Logger
}

func NewInMemoryManager(logger *slog.Logger, opts ...Option) *InMemoryManager {
	m := &InMemoryManager{
		sessions:          make(map[uuid.UUID]*state.Session),
		rooms:             make(map[string]*state.Room),
		newRoomID:         NewRoomID,
		maxRoomIDAttempts: DefaultMaxRoomIDAttempts,
		logger:            logger.With(slog.String("component", "state_manager_inmemory")),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// compile-time check to ensure InMemoryManager implements Registry.
var _ state.Registry = (*InMemoryManager)(nil)

// --- Session Lifecycle ---

// ErrIPLimitReached is returned by RegisterSessionCapped when the session's
// IP already holds the maximum number of sessions.
var ErrIPLimitReached = errors.New("too many sessions for ip")

func (m *InMemoryManager) RegisterSession(session *state.Session) error {
	return m.RegisterSessionCapped(session, 0)
}

// RegisterSessionCapped counts and registers under one lock, so concurrent
// upgrades from one IP cannot overshoot maxPerIP. maxPerIP <= 0 disables the cap.
func (m *InMemoryManager) RegisterSessionCapped(session *state.Session, maxPerIP int) error {
	if session == nil {
		return errors.New("cannot register a nil session")
	}
	m.sessMu.Lock()
	defer m.sessMu.Unlock()

	if _, exists := m.sessions[session.ID]; exists {
		return errors.New("session is already registered")
	}
	if maxPerIP > 0 {
		if n := m.countByIPLocked(session.IPAddress); n >= maxPerIP {
			return fmt.Errorf("%w: %s has %d", ErrIPLimitReached, session.IPAddress, n)
		}
	}
	m.sessions[session.ID] = session
	m.logger.Debug("Session registered", slog.String("peerID", session.ID.String()))
	return nil
}

func (m *InMemoryManager) DeregisterSession(peerID uuid.UUID) error {
	m.sessMu.Lock()
	defer m.sessMu.Unlock()

	if _, ok := m.sessions[peerID]; !ok {
		// session is already deregistered
		return nil
	}
	delete(m.sessions, peerID)
	m.logger.Debug("Session deregistered", slog.String("peerID", peerID.String()))
	return nil
}

func (m *InMemoryManager) GetSession(peerID uuid.UUID) (*state.Session, bool) {
	m.sessMu.RLock()
	defer m.sessMu.RUnlock()
	session, ok := m.sessions[peerID]
	return session, ok
}

func (m *InMemoryManager) AllSessions() []*state.Session {
	m.sessMu.RLock()
	defer m.sessMu.RUnlock()

	sessions := make([]*state.Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	return sessions
}

func (m *InMemoryManager) SessionCount() int {
	m.sessMu.RLock()
	defer m.sessMu.RUnlock()
	return len(m.sessions)
}

func (m *InMemoryManager) CountSessionsByIP(ipAddr string) int {
	m.sessMu.RLock()
	defer m.sessMu.RUnlock()
	return m.countByIPLocked(ipAddr)
}

func (m *InMemoryManager) countByIPLocked(ipAddr string) int {
	count := 0
	for _, s := range m.sessions {
		if s.IPAddress == ipAddr {
			count++
		}
	}
	return count
}

func (m *InMemoryManager) FindOldestSessionByIP(ipAddr string) (*state.Session, bool) {
	m.sessMu.RLock()
	defer m.sessMu.RUnlock()

	var oldest *state.Session
	for _, s := range m.sessions {
		if s.IPAddress != ipAddr {
			continue
		}
		if oldest == nil || s.CreatedAt.Before(oldest.CreatedAt) {
			oldest = s
		}
	}
	return oldest, oldest != nil
}

// --- Room & Membership Management ---

func (m *InMemoryManager) Join(roomID string, session *state.Session) (*state.JoinResult, error) {
	if session == nil {
		return nil, errors.New("cannot join room: nil session")
	}
	m.roomMu.Lock()
	defer m.roomMu.Unlock()

	if roomID == "" {
		generated, err := m.generateRoomIDLocked()
		if err != nil {
			return nil, err
		}
		roomID = generated
	}

	// Find or create the room.
	room, exists := m.rooms[roomID]
	if !exists {
		room = &state.Room{
			ID:      roomID,
			Members: make(map[uuid.UUID]*state.Session),
		}
		m.rooms[roomID] = room
		m.logger.Debug("Created room", slog.String("roomID", roomID))
	}

	_, rejoined := room.Members[session.ID]
	room.Members[session.ID] = session

	result := &state.JoinResult{
		RoomID:   roomID,
		Rejoined: rejoined,
	}
	result.Others = otherMembers(room, session.ID)
	result.Peers = make([]uuid.UUID, len(result.Others))
	for i, s := range result.Others {
		result.Peers[i] = s.ID
	}

	m.logger.Debug("Peer joined room",
		slog.String("peerID", session.ID.String()),
		slog.String("roomID", roomID),
		slog.Int("members", len(room.Members)),
	)
	return result, nil
}

// must be called with roomMu held.
func (m *InMemoryManager) generateRoomIDLocked() (string, error) {
	for attempt := 0; attempt < m.maxRoomIDAttempts; attempt++ {
		candidate := m.newRoomID()
		if candidate == "" {
			continue
		}
		if _, taken := m.rooms[candidate]; !taken {
			return candidate, nil
		}
	}
	m.logger.Error("Room id generation exhausted", slog.Int("attempts", m.maxRoomIDAttempts))
	return "", fmt.Errorf("%w after %d attempts", ErrRoomIDExhausted, m.maxRoomIDAttempts)
}

func (m *InMemoryManager) Leave(roomID string, peerID uuid.UUID) ([]*state.Session, bool) {
	m.roomMu.Lock()
	defer m.roomMu.Unlock()

	room, ok := m.rooms[roomID]
	if !ok {
		m.logger.Debug("Leave ignored: room doesn't exist",
			slog.String("peerID", peerID.String()),
			slog.String("roomID", roomID),
		)
		return nil, false
	}
	if _, member := room.Members[peerID]; !member {
		m.logger.Debug("Leave ignored: peer is not a member",
			slog.String("peerID", peerID.String()),
			slog.String("roomID", roomID),
		)
		return nil, false
	}

	delete(room.Members, peerID)
	remaining := otherMembers(room, peerID)

	// For memory hygiene, remove the room if it's now empty.
	if len(room.Members) == 0 {
		delete(m.rooms, roomID)
		m.logger.Debug("Removed empty room", slog.String("roomID", roomID))
	}

	m.logger.Debug("Peer left room", slog.String("peerID", peerID.String()), slog.String("roomID", roomID))
	return remaining, true
}

func (m *InMemoryManager) MembersExcluding(roomID string, peerID uuid.UUID) []uuid.UUID {
	m.roomMu.RLock()
	defer m.roomMu.RUnlock()

	room, ok := m.rooms[roomID]
	if !ok {
		return nil
	}
	others := otherMembers(room, peerID)
	ids := make([]uuid.UUID, len(others))
	for i, s := range others {
		ids[i] = s.ID
	}
	return ids
}

func (m *InMemoryManager) Lookup(roomID string, peerID uuid.UUID) (*state.Session, bool) {
	m.roomMu.RLock()
	defer m.roomMu.RUnlock()

	room, ok := m.rooms[roomID]
	if !ok {
		return nil, false
	}
	session, ok := room.Members[peerID]
	return session, ok
}

// FindRoom returns a copy of the room so callers never share the live map.
func (m *InMemoryManager) FindRoom(roomID string) (*state.Room, bool) {
	m.roomMu.RLock()
	defer m.roomMu.RUnlock()

	room, ok := m.rooms[roomID]
	if !ok {
		return nil, false
	}
	snapshot := &state.Room{
		ID:      room.ID,
		Members: make(map[uuid.UUID]*state.Session, len(room.Members)),
	}
	for id, s := range room.Members {
		snapshot.Members[id] = s
	}
	return snapshot, true
}

func (m *InMemoryManager) RoomCount() int {
	m.roomMu.RLock()
	defer m.roomMu.RUnlock()
	return len(m.rooms)
}

// otherMembers snapshots the room's members except peerID, ordered by id.
func otherMembers(room *state.Room, peerID uuid.UUID) []*state.Session {
	others := make([]*state.Session, 0, len(room.Members))
	for id, s := range room.Members {
		if id != peerID {
			others = append(others, s)
		}
	}
	slices.SortFunc(others, func(a, b *state.Session) int {
		return strings.Compare(a.ID.String(), b.ID.String())
	})
	return others
}

package state

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// Sink is the outbound half of a peer's transport. Send must not block.
type Sink interface {
	Send(message []byte) error
	Close(reason error)
}

// representation of a single connected peer.
type Session struct {
	ID        uuid.UUID
	IPAddress string
	Transport Sink // The actual connection for sending messages
	CreatedAt time.Time

	// Limiter throttles inbound messages. nil means unlimited.
	Limiter *rate.Limiter

	mu         sync.Mutex
	membership Membership
}

func NewSession(id uuid.UUID, ipAddr string, sink Sink) *Session {
	return &Session{
		ID:        id,
		IPAddress: ipAddr,
		Transport: sink,
		CreatedAt: time.Now(),
	}
}

// Membership returns the session's current room state.
func (s *Session) Membership() Membership {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.membership
}

// EnterRoom moves the session to Joined(roomID) and returns the previous state.
func (s *Session) EnterRoom(roomID string) Membership {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.membership
	s.membership = Joined(roomID)
	return prev
}

// ExitRoom moves the session back to Unjoined and returns the previous state.
func (s *Session) ExitRoom() Membership {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.membership
	s.membership = Unjoined
	return prev
}

// canonical representation of a room. Members is keyed by peer ID.
type Room struct {
	ID      string
	Members map[uuid.UUID]*Session
}

// outcome of a registry join, computed atomically with the insert.
type JoinResult struct {
	RoomID string
	// Peers lists every other member, excluding the joiner.
	Peers []uuid.UUID
	// Others holds the sessions behind Peers, in the same order.
	Others []*Session
	// Rejoined is set when the session was already a member of the room.
	Rejoined bool
}

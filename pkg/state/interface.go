package state

import (
	"github.com/google/uuid"
)

type Registry interface {
	// --- Session Lifecycle ---
	RegisterSession(session *Session) error
	// registers only while the session's IP holds fewer than maxPerIP sessions.
	RegisterSessionCapped(session *Session, maxPerIP int) error
	DeregisterSession(peerID uuid.UUID) error
	GetSession(peerID uuid.UUID) (*Session, bool)
	AllSessions() []*Session
	SessionCount() int
	CountSessionsByIP(ipAddr string) int
	FindOldestSessionByIP(ipAddr string) (*Session, bool)

	// --- Room & Membership Management ---
	// adds a session to a room, creating the room if it doesn't exist.
	// An empty roomID asks the registry to generate a fresh one.
	Join(roomID string, session *Session) (*JoinResult, error)
	// removes a peer from a room, deleting the room once it is empty.
	// Reports the remaining members and whether anything was removed.
	Leave(roomID string, peerID uuid.UUID) ([]*Session, bool)
	MembersExcluding(roomID string, peerID uuid.UUID) []uuid.UUID
	Lookup(roomID string, peerID uuid.UUID) (*Session, bool)
	FindRoom(roomID string) (*Room, bool)
	RoomCount() int
}

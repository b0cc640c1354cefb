package statemanager

import (
	"errors"

	"github.com/google/uuid"
)

const (
	roomIDLength             = 8
	DefaultMaxRoomIDAttempts = 16
)

var ErrRoomIDExhausted = errors.New("could not generate an unused room id")

// RoomIDGenerator produces candidate ids for rooms joined without one.
type RoomIDGenerator func() string

// NewRoomID returns the first 8 hex characters of a random UUID.
func NewRoomID() string {
	return uuid.NewString()[:roomIDLength]
}

type Option func(*InMemoryManager)

func WithRoomIDGenerator(gen RoomIDGenerator) Option {
	return func(m *InMemoryManager) {
		if gen != nil {
			m.newRoomID = gen
		}
	}
}

// WithMaxRoomIDAttempts caps how many candidates are tried before Join fails.
func WithMaxRoomIDAttempts(n int) Option {
	return func(m *InMemoryManager) {
		if n > 0 {
			m.maxRoomIDAttempts = n
		}
	}
}

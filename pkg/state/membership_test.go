package state

import (
	"testing"

	"github.com/google/uuid"
)

func TestMembershipZeroValueIsUnjoined(t *testing.T) {
	var m Membership
	if m.IsJoined() {
		t.Fatal("zero Membership should be unjoined")
	}
	if _, ok := m.Room(); ok {
		t.Error("Room() reported a room for the zero value")
	}
	if m != Unjoined {
		t.Error("zero value should equal Unjoined")
	}
	if m.String() != "unjoined" {
		t.Errorf("unexpected String(): %q", m.String())
	}
}

func TestJoinedMembership(t *testing.T) {
	m := Joined("alpha")
	room, ok := m.Room()
	if !ok || room != "alpha" {
		t.Fatalf("expected joined(alpha), got %q (%v)", room, ok)
	}
	if m.String() != "joined(alpha)" {
		t.Errorf("unexpected String(): %q", m.String())
	}
	if Joined("") != Unjoined {
		t.Error("Joined(\"\") should collapse to Unjoined")
	}
}

func TestSessionRoomTransitions(t *testing.T) {
	s := NewSession(uuid.New(), "127.0.0.1", nil)

	if prev := s.EnterRoom("alpha"); prev != Unjoined {
		t.Errorf("expected previous state unjoined, got %s", prev)
	}
	if prev := s.EnterRoom("beta"); prev != Joined("alpha") {
		t.Errorf("expected previous state joined(alpha), got %s", prev)
	}
	if got := s.Membership(); got != Joined("beta") {
		t.Errorf("expected joined(beta), got %s", got)
	}
	if prev := s.ExitRoom(); prev != Joined("beta") {
		t.Errorf("expected previous state joined(beta), got %s", prev)
	}
	if prev := s.ExitRoom(); prev != Unjoined {
		t.Errorf("second ExitRoom should report unjoined, got %s", prev)
	}
}

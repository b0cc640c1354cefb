package state

// Membership is a session's position in the room lifecycle: either Unjoined or
// Joined to exactly one room. The zero value is Unjoined.
type Membership struct {
	roomID string
}

// Unjoined is the state of a session that has not joined any room.
var Unjoined = Membership{}

// Joined returns the state of a session that belongs to roomID.
// An empty roomID yields Unjoined; room ids are never empty.
func Joined(roomID string) Membership {
	return Membership{roomID: roomID}
}

// Room reports the joined room, if any.
func (m Membership) Room() (string, bool) {
	return m.roomID, m.roomID != ""
}

func (m Membership) IsJoined() bool {
	return m.roomID != ""
}

func (m Membership) String() string {
	if m.roomID == "" {
		return "unjoined"
	}
	return "joined(" + m.roomID + ")"
}

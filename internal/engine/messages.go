package engine

import (
	"encoding/json"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"
)

// Outbound message types.
const (
	TypeJoined     = "joined"
	TypePeerJoined = "peer-joined"
	TypeSignal     = "signal"
	TypePeerLeft   = "peer-left"
)

type JoinedMessage struct {
	Type   string   `json:"type"`
	PeerID string   `json:"peer_id"`
	RoomID string   `json:"room_id"`
	Peers  []string `json:"peers"`
}

// PeerMessage is used for both peer-joined and peer-left.
type PeerMessage struct {
	Type   string `json:"type"`
	PeerID string `json:"peer_id"`
}

func encodeJoined(peerID uuid.UUID, roomID string, peers []uuid.UUID) ([]byte, error) {
	ids := make([]string, len(peers))
	for i, p := range peers {
		ids[i] = p.String()
	}
	return json.Marshal(JoinedMessage{
		Type:   TypeJoined,
		PeerID: peerID.String(),
		RoomID: roomID,
		Peers:  ids,
	})
}

func encodePeerEvent(eventType string, peerID uuid.UUID) ([]byte, error) {
	return json.Marshal(PeerMessage{Type: eventType, PeerID: peerID.String()})
}

// encodeSignal builds the frame by hand so the payload keeps its exact bytes.
// json.Marshal would compact a json.RawMessage.
func encodeSignal(sender uuid.UUID, payload gjson.Result) []byte {
	raw := "null"
	if payload.Exists() {
		raw = payload.Raw
	}
	senderJSON, _ := json.Marshal(sender.String())

	buf := make([]byte, 0, len(raw)+len(senderJSON)+40)
	buf = append(buf, `{"type":"signal","sender":`...)
	buf = append(buf, senderJSON...)
	buf = append(buf, `,"payload":`...)
	buf = append(buf, raw...)
	buf = append(buf, '}')
	return buf
}

package engine

import (
	"fmt"
	"log/slog"

	"github.com/a-essam23/go-signal/pkg/pipeline"
	"github.com/google/uuid"
	"github.com/tidwall/gjson"
)

// actionJoin puts the session in a room, replies with joined and then
// announces the newcomer to the other members. A session that is already in
// a different room leaves it first.
func actionJoin(pctx *pipeline.Cargo) error {
	requested, err := roomField(pctx.Message)
	if err != nil {
		return err
	}

	if current, joined := pctx.Session.Membership().Room(); joined && (requested == "" || requested != current) {
		Depart(pctx)
	}

	result, err := pctx.Registry.Join(requested, pctx.Session)
	if err != nil {
		return fmt.Errorf("failed to join room '%s': %w", requested, err)
	}
	pctx.Session.EnterRoom(result.RoomID)

	reply, err := encodeJoined(pctx.Session.ID, result.RoomID, result.Peers)
	if err != nil {
		return fmt.Errorf("failed to encode joined reply: %w", err)
	}
	if err := pctx.Session.Transport.Send(reply); err != nil {
		// The peer is still a member; the others hear about it below.
		pctx.Metrics.SendFailed()
		pctx.Logger.Warn("Failed to send joined reply", slog.Any("error", err))
	}

	pctx.Logger.Info("Peer joined room",
		slog.String("roomID", result.RoomID),
		slog.Int("peers", len(result.Peers)),
		slog.Bool("rejoined", result.Rejoined),
	)
	if result.Rejoined {
		return nil
	}
	broadcast(pctx, TypePeerJoined, result.Others)
	return nil
}

// roomField returns the requested room id. Absent, null and "" all ask for a
// generated one.
func roomField(msg gjson.Result) (string, error) {
	room := msg.Get("room")
	switch room.Type {
	case gjson.Null:
		return "", nil
	case gjson.String:
		return room.Str, nil
	default:
		return "", fmt.Errorf("%w: 'room' must be a string, got %s", ErrInvalidField, room.Type)
	}
}

// actionSignal relays the payload, untouched, to one member of the sender's room.
func actionSignal(pctx *pipeline.Cargo) error {
	roomID, joined := pctx.Session.Membership().Room()
	if !joined {
		return ErrNotJoined
	}

	target := pctx.Message.Get("target")
	if target.Type != gjson.String {
		return fmt.Errorf("%w: 'target' missing or not a string", ErrTargetNotFound)
	}
	targetID, err := uuid.Parse(target.Str)
	if err != nil {
		return fmt.Errorf("%w: '%s' is not a peer id", ErrTargetNotFound, target.Str)
	}
	recipient, ok := pctx.Registry.Lookup(roomID, targetID)
	if !ok || recipient.Transport == nil {
		return fmt.Errorf("%w: '%s' in room '%s'", ErrTargetNotFound, targetID, roomID)
	}

	frame := encodeSignal(pctx.Session.ID, pctx.Message.Get("payload"))
	if err := recipient.Transport.Send(frame); err != nil {
		return fmt.Errorf("%w: relay to '%s': %w", ErrSendFailed, targetID, err)
	}
	pctx.Metrics.SignalRelayed()
	pctx.Logger.Debug("Relayed signal", slog.String("roomID", roomID), slog.String("target", targetID.String()))
	return nil
}

func actionLeave(pctx *pipeline.Cargo) error {
	if _, left := Depart(pctx); !left {
		pctx.Logger.Debug("Leave ignored: peer is not in a room")
	}
	return nil
}

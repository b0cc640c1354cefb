package engine

import (
	"log/slog"

	"github.com/a-essam23/go-signal/pkg/pipeline"
	"github.com/a-essam23/go-signal/pkg/state"
	"github.com/google/uuid"
)

// SendResult is the outcome of one recipient's enqueue during a fan-out.
type SendResult struct {
	PeerID uuid.UUID
	Err    error
}

// fanOut queues msg for every recipient independently. A failed send is
// recorded in its result and never stops delivery to the rest.
func fanOut(recipients []*state.Session, msg []byte) []SendResult {
	results := make([]SendResult, 0, len(recipients))
	for _, s := range recipients {
		var err error
		if s.Transport == nil {
			err = ErrSendFailed
		} else {
			err = s.Transport.Send(msg)
		}
		results = append(results, SendResult{PeerID: s.ID, Err: err})
	}
	return results
}

// reportFanOut logs every failed result and returns how many were delivered.
func reportFanOut(pctx *pipeline.Cargo, eventType string, results []SendResult) int {
	delivered := 0
	for _, r := range results {
		if r.Err == nil {
			delivered++
			continue
		}
		pctx.Metrics.SendFailed()
		pctx.Logger.Warn("Failed to notify peer",
			slog.String("type", eventType),
			slog.String("recipient", r.PeerID.String()),
			slog.Any("error", r.Err),
		)
	}
	return delivered
}

func broadcast(pctx *pipeline.Cargo, eventType string, recipients []*state.Session) []SendResult {
	if len(recipients) == 0 {
		return nil
	}
	msg, err := encodePeerEvent(eventType, pctx.Session.ID)
	if err != nil {
		pctx.Logger.Error("Failed to encode notification", slog.String("type", eventType), slog.Any("error", err))
		return nil
	}
	results := fanOut(recipients, msg)
	delivered := reportFanOut(pctx, eventType, results)
	pctx.Logger.Debug("Notified room members",
		slog.String("type", eventType),
		slog.Int("recipients", len(recipients)),
		slog.Int("delivered", delivered),
	)
	return results
}

// Depart removes the session from its current room and tells the remaining
// members with peer-left. It is a no-op for an unjoined session and safe to
// call more than once.
func Depart(pctx *pipeline.Cargo) (string, bool) {
	prev := pctx.Session.ExitRoom()
	roomID, joined := prev.Room()
	if !joined {
		return "", false
	}
	remaining, removed := pctx.Registry.Leave(roomID, pctx.Session.ID)
	if !removed {
		return roomID, false
	}
	pctx.Logger.Info("Peer left room", slog.String("roomID", roomID), slog.Int("remaining", len(remaining)))
	broadcast(pctx, TypePeerLeft, remaining)
	return roomID, true
}

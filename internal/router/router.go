package router

import (
	"context"
	"errors"
	"log/slog"
	"unicode/utf8"

	"github.com/a-essam23/go-signal/internal/engine"
	"github.com/a-essam23/go-signal/pkg/metrics"
	"github.com/a-essam23/go-signal/pkg/pipeline"
	"github.com/a-essam23/go-signal/pkg/state"
	"github.com/a-essam23/go-signal/pkg/state/statemanager"
	"github.com/google/uuid"
	"github.com/tidwall/gjson"
)

// EventRouter decodes inbound frames and runs the matching engine action.
// Nothing it does is ever reported back to the peer as an error frame.
type EventRouter struct {
	logger   *slog.Logger
	registry state.Registry
	engine   *engine.Registry
	metrics  *metrics.Metrics
}

func NewEventRouter(logger *slog.Logger, registry state.Registry, actions *engine.Registry, m *metrics.Metrics) *EventRouter {
	return &EventRouter{
		logger:   logger.With(slog.String("component", "event_router")),
		registry: registry,
		engine:   actions,
		metrics:  m,
	}
}

func (r *EventRouter) HandleMessage(ctx context.Context, peerID uuid.UUID, msg []byte) {
	logger := r.logger.With(slog.String("peerID", peerID.String()))

	// gjson accepts invalid UTF-8, and relaying it would make the receiving
	// browser fail its connection.
	if !utf8.Valid(msg) {
		r.drop(logger, metrics.ReasonDecode, "Client message is not valid UTF-8", slog.Int("bytes", len(msg)))
		return
	}
	if !gjson.ValidBytes(msg) {
		r.drop(logger, metrics.ReasonDecode, "Failed to decode client message", slog.Int("bytes", len(msg)))
		return
	}
	doc := gjson.ParseBytes(msg)
	if !doc.IsObject() {
		r.drop(logger, metrics.ReasonDecode, "Client message is not an object", slog.String("type", doc.Type.String()))
		return
	}

	actionField := doc.Get("action")
	if actionField.Type != gjson.String {
		r.drop(logger, metrics.ReasonMalformed, "Client message has no action")
		return
	}
	action := actionField.Str

	actionFn, ok := r.engine.GetActionFunc(action)
	if !ok {
		r.drop(logger, metrics.ReasonUnknownAction, "Received unknown action", slog.String("action", action))
		return
	}

	session, ok := r.registry.GetSession(peerID)
	if !ok {
		r.drop(logger, metrics.ReasonInternal, "Could not find session for active connection")
		return
	}
	r.metrics.MessageReceived(action)

	pctx := &pipeline.Cargo{
		Logger:   logger.With(slog.String("action", action)),
		Ctx:      ctx,
		Session:  session,
		Registry: r.registry,
		Metrics:  r.metrics,
		Action:   action,
		Message:  doc,
	}

	logger.Debug("Executing action", slog.String("action", action))
	for _, modifier := range r.engine.Modifiers() {
		if err := modifier(pctx); err != nil {
			r.fail(pctx, err)
			return
		}
	}
	if err := actionFn(pctx); err != nil {
		r.fail(pctx, err)
	}
}

func (r *EventRouter) drop(logger *slog.Logger, reason, msg string, attrs ...any) {
	r.metrics.MessageDropped(reason)
	logger.Warn(msg, attrs...)
}

// fail absorbs an action error: it is logged and counted, never sent to the peer.
func (r *EventRouter) fail(pctx *pipeline.Cargo, err error) {
	reason := dropReason(err)
	r.metrics.MessageDropped(reason)

	level := slog.LevelWarn
	switch reason {
	case metrics.ReasonTargetNotFound, metrics.ReasonNotJoined:
		// An unanswered signal is normal; the target may have just left.
		level = slog.LevelInfo
	case metrics.ReasonInternal, metrics.ReasonRoomIDExhausted:
		level = slog.LevelError
	}
	pctx.Logger.Log(pctx.Ctx, level, "Action failed", slog.String("reason", reason), slog.Any("error", err))
}

func dropReason(err error) string {
	switch {
	case errors.Is(err, engine.ErrNotJoined):
		return metrics.ReasonNotJoined
	case errors.Is(err, engine.ErrTargetNotFound):
		return metrics.ReasonTargetNotFound
	case errors.Is(err, engine.ErrInvalidField):
		return metrics.ReasonInvalidField
	case errors.Is(err, engine.ErrSendFailed):
		return metrics.ReasonSendFailed
	case errors.Is(err, engine.ErrRateLimited):
		return metrics.ReasonRateLimited
	case errors.Is(err, statemanager.ErrRoomIDExhausted):
		return metrics.ReasonRoomIDExhausted
	default:
		return metrics.ReasonInternal
	}
}

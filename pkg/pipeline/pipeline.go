package pipeline

import (
	"context"
	"log/slog"

	"github.com/a-essam23/go-signal/pkg/metrics"
	"github.com/a-essam23/go-signal/pkg/state"
	"github.com/tidwall/gjson"
)

/*
 * The purpose of this is to detach the implementation of actions and modifiers
 * from the actual router
 */

type Cargo struct {
	Logger   *slog.Logger
	Ctx      context.Context
	Session  *state.Session
	Registry state.Registry
	Metrics  *metrics.Metrics
	// Action is the decoded "action" field of the inbound message.
	Action string
	// Message is the whole inbound document. Raw slices of it are relayed verbatim.
	Message gjson.Result
}

// simple, testable functions that receive a Cargo
type ActionFunc func(pctx *Cargo) error

// runs before every action; a non-nil error drops the message.
type ModifierFunc func(pctx *Cargo) error

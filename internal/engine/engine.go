package engine

import (
	"log/slog"
	"sync"

	"github.com/a-essam23/go-signal/pkg/pipeline"
)

// Action names understood by the relay.
const (
	ActionJoin   = "join"
	ActionSignal = "signal"
	ActionLeave  = "leave"
)

/*
* The central registry for all executable components.
* It holds the registered actions and the modifiers that guard every one of them.
 */
type Registry struct {
	logger   *slog.Logger
	actions  map[string]pipeline.ActionFunc
	actionMu sync.RWMutex

	modifiers     map[string]pipeline.ModifierFunc
	modifierOrder []string
	modifierMu    sync.RWMutex
}

// New creates and initializes a new Engine instance.
func New(logger *slog.Logger) *Registry {
	return &Registry{
		actions:   make(map[string]pipeline.ActionFunc),
		modifiers: make(map[string]pipeline.ModifierFunc),
		logger:    logger.With(slog.String("component", "engine")),
	}
}

func (e *Registry) RegisterCore() {
	e.registerCoreModifiers()
	e.registerCoreActions()
}

func (e *Registry) registerCoreActions() {
	e.RegisterAction(ActionJoin, actionJoin)
	e.RegisterAction(ActionSignal, actionSignal)
	e.RegisterAction(ActionLeave, actionLeave)
	e.logger.Info("Registered core actions", slog.Int("count", e.actionCount()))
}

func (e *Registry) registerCoreModifiers() {
	e.RegisterModifier("rate_limit", rateLimitModifier)
	e.logger.Info("Registered core modifiers", slog.Int("count", len(e.Modifiers())))
}

// --- Action Methods ---
func (e *Registry) RegisterAction(name string, fn pipeline.ActionFunc) {
	e.actionMu.Lock()
	defer e.actionMu.Unlock()
	if _, exists := e.actions[name]; exists {
		panic("action function already registered: " + name)
	}
	e.actions[name] = fn
}

func (e *Registry) GetActionFunc(name string) (pipeline.ActionFunc, bool) {
	e.actionMu.RLock()
	defer e.actionMu.RUnlock()
	fn, ok := e.actions[name]
	return fn, ok
}

func (e *Registry) actionCount() int {
	e.actionMu.RLock()
	defer e.actionMu.RUnlock()
	return len(e.actions)
}

// --- Modifier Methods ---

func (e *Registry) RegisterModifier(name string, fn pipeline.ModifierFunc) {
	e.modifierMu.Lock()
	defer e.modifierMu.Unlock()
	if _, exists := e.modifiers[name]; exists {
		panic("modifier function already registered: " + name)
	}
	e.modifiers[name] = fn
	e.modifierOrder = append(e.modifierOrder, name)
}

func (e *Registry) GetModifierFunc(name string) (pipeline.ModifierFunc, bool) {
	e.modifierMu.RLock()
	defer e.modifierMu.RUnlock()
	fn, ok := e.modifiers[name]
	return fn, ok
}

// Modifiers returns every registered modifier in registration order.
func (e *Registry) Modifiers() []pipeline.ModifierFunc {
	e.modifierMu.RLock()
	defer e.modifierMu.RUnlock()
	mods := make([]pipeline.ModifierFunc, 0, len(e.modifierOrder))
	for _, name := range e.modifierOrder {
		mods = append(mods, e.modifiers[name])
	}
	return mods
}

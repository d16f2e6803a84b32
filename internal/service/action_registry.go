package service

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"merchantops/internal/model"
)

// ActionInput is what a handler receives when an approved request executes.
// Handlers must use ctx for all persistence so their writes commit together
// with the SUCCESS execution log.
type ActionInput struct {
	Request *model.ApprovalRequest
	Actor   Actor
}

// ActionHandler performs the side effect of an approved request and returns a
// JSON-serializable result.
type ActionHandler func(ctx context.Context, in ActionInput) (interface{}, error)

// ActionDefinition binds an action type to the capability required to approve
// it and the handler that executes it.
type ActionDefinition struct {
	Type       string
	Capability string
	Handler    ActionHandler
}

// ActionRegistry maps action types to definitions. New action types are added
// by registering a definition; nothing else in the approval flow changes.
type ActionRegistry struct {
	mu   sync.RWMutex
	defs map[string]ActionDefinition
}

func NewActionRegistry() *ActionRegistry {
	return &ActionRegistry{defs: make(map[string]ActionDefinition)}
}

func (r *ActionRegistry) Register(def ActionDefinition) error {
	if def.Type == "" || def.Capability == "" || def.Handler == nil {
		return fmt.Errorf("action definition %q is incomplete", def.Type)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.defs[def.Type]; exists {
		return fmt.Errorf("action type %q already registered", def.Type)
	}
	r.defs[def.Type] = def
	return nil
}

// MustRegister is Register for wiring code where a failure is a programming error.
func (r *ActionRegistry) MustRegister(def ActionDefinition) {
	if err := r.Register(def); err != nil {
		panic(err)
	}
}

func (r *ActionRegistry) Lookup(actionType string) (ActionDefinition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.defs[actionType]
	return def, ok
}

// Types returns the registered action types in sorted order.
func (r *ActionRegistry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]string, 0, len(r.defs))
	for t := range r.defs {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

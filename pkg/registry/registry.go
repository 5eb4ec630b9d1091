// Package registry maps node config types to typed handler factories.
package registry

import (
	"cmp"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/dukex/flowpoint/pkg/models"
	"github.com/dukex/flowpoint/pkg/protocol"
	"github.com/xeipuuv/gojsonschema"
)

// ErrUnknownType is returned when no factory is registered for a node's type.
var ErrUnknownType = errors.New("unknown node type")

type Registry struct {
	logger     *slog.Logger
	triggers   map[string]protocol.TriggerFactory
	conditions map[string]protocol.ConditionFactory
	actions    map[string]protocol.ActionFactory
	schemas    map[string]*gojsonschema.Schema
}

func NewRegistry(log *slog.Logger) *Registry {
	return &Registry{
		logger:     log.With("module", "registry"),
		triggers:   make(map[string]protocol.TriggerFactory),
		conditions: make(map[string]protocol.ConditionFactory),
		actions:    make(map[string]protocol.ActionFactory),
		schemas:    make(map[string]*gojsonschema.Schema),
	}
}

func schemaKey(kind models.NodeKind, id string) string {
	return string(kind) + "/" + id
}

// compileSchema panics on an invalid schema: factories are registered at startup
// and a broken built-in schema is a programming error.
func (r *Registry) compileSchema(f protocol.NodeFactory) {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(f.Schema()))
	if err != nil {
		panic(fmt.Sprintf("invalid schema for %s node %q: %v", f.Kind(), f.ID(), err))
	}

	r.schemas[schemaKey(f.Kind(), f.ID())] = schema
	r.logger.Debug("Registered node type", "kind", f.Kind(), "type", f.ID())
}

func (r *Registry) RegisterTrigger(f protocol.TriggerFactory) {
	r.triggers[f.ID()] = f
	r.compileSchema(f)
}

func (r *Registry) RegisterCondition(f protocol.ConditionFactory) {
	r.conditions[f.ID()] = f
	r.compileSchema(f)
}

func (r *Registry) RegisterAction(f protocol.ActionFactory) {
	r.actions[f.ID()] = f
	r.compileSchema(f)
}

// Factory returns the factory serving a node, if one is registered.
func (r *Registry) Factory(node models.Node) (protocol.NodeFactory, bool) {
	id := node.HandlerType()

	switch node.Kind {
	case models.NodeKindTrigger:
		f, ok := r.triggers[id]

		return f, ok
	case models.NodeKindCondition:
		f, ok := r.conditions[id]

		return f, ok
	case models.NodeKindAction:
		f, ok := r.actions[id]

		return f, ok
	}

	return nil, false
}

// Factories returns every registered factory ordered by kind and type.
func (r *Registry) Factories() []protocol.NodeFactory {
	out := make([]protocol.NodeFactory, 0, len(r.triggers)+len(r.conditions)+len(r.actions))

	for _, f := range r.triggers {
		out = append(out, f)
	}

	for _, f := range r.conditions {
		out = append(out, f)
	}

	for _, f := range r.actions {
		out = append(out, f)
	}

	slices.SortFunc(out, func(a, b protocol.NodeFactory) int {
		return cmp.Or(cmp.Compare(a.Kind(), b.Kind()), cmp.Compare(a.ID(), b.ID()))
	})

	return out
}

func unknownType(node models.Node) error {
	return protocol.ConfigError(fmt.Errorf("%w %q for %s node %s", ErrUnknownType, node.HandlerType(), node.Kind, node.ID))
}

// Trigger builds the trigger handler of a node.
func (r *Registry) Trigger(node models.Node) (protocol.Trigger, error) {
	f, ok := r.triggers[node.HandlerType()]
	if !ok || node.Kind != models.NodeKindTrigger {
		return nil, unknownType(node)
	}

	return f.Create(node.ID, node.Config)
}

// TriggerType returns the trigger type of a trigger node's handler.
func (r *Registry) TriggerType(node models.Node) (models.TriggerType, bool) {
	f, ok := r.triggers[node.HandlerType()]
	if !ok || node.Kind != models.NodeKindTrigger {
		return "", false
	}

	return f.TriggerType(), true
}

// Condition builds the condition handler of a node.
func (r *Registry) Condition(node models.Node) (protocol.Condition, error) {
	f, ok := r.conditions[node.HandlerType()]
	if !ok || node.Kind != models.NodeKindCondition {
		return nil, unknownType(node)
	}

	return f.Create(node.ID, node.Config)
}

// Action builds the action handler of a node.
func (r *Registry) Action(node models.Node) (protocol.Action, error) {
	f, ok := r.actions[node.HandlerType()]
	if !ok || node.Kind != models.NodeKindAction {
		return nil, unknownType(node)
	}

	return f.Create(node.ID, node.Config)
}

// HealthCheck reports whether any node types are registered.
func (r *Registry) HealthCheck() (string, bool) {
	n := len(r.triggers) + len(r.conditions) + len(r.actions)
	if n == 0 {
		return "No node types registered", false
	}

	return fmt.Sprintf("%d node types registered", n), true
}

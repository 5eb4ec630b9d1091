// Package protocol defines the interfaces and contracts for pluggable nodes.
package protocol

import (
	"encoding/json"

	"github.com/dukex/flowpoint/pkg/models"
)

// NodeFactory provides metadata about a handler type.
type NodeFactory interface {
	// Kind returns the node kind this factory builds handlers for
	Kind() models.NodeKind

	// ID returns the value of the config "type" key that selects this factory
	ID() string

	// Name returns the human-readable name for this node type
	Name() string

	// Description returns a description of what this node does
	Description() string

	// Schema returns the JSON schema for configuring this node
	Schema() map[string]any
}

// Trigger decides whether an incoming event starts a run at this node.
type Trigger interface {
	Matches(event models.IncomingEvent) bool
}

// TriggerFactory builds trigger handlers from raw node config.
type TriggerFactory interface {
	NodeFactory

	// TriggerType returns the definition trigger type this trigger belongs to.
	TriggerType() models.TriggerType

	Create(id string, config json.RawMessage) (Trigger, error)
}

// Condition is a pure branch selector. Evaluate must not perform side effects
// and returns the branch label to follow; problems evaluate to BranchFalse.
type Condition interface {
	Evaluate(ectx *models.ExecutionContext) string

	// Outcomes lists the labels Evaluate can return.
	Outcomes() []string
}

// ConditionFactory builds condition handlers from raw node config.
type ConditionFactory interface {
	NodeFactory

	Create(id string, config json.RawMessage) (Condition, error)
}

// ActionFactory builds action handlers from raw node config.
type ActionFactory interface {
	NodeFactory

	Create(id string, config json.RawMessage) (Action, error)
}

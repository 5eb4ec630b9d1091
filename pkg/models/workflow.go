// Package models defines the core domain models for tenant-scoped workflow automation.
package models

import (
	"encoding/json"
	"time"
)

// WorkflowStatus represents the lifecycle state of a workflow definition.
type WorkflowStatus string

const (
	WorkflowStatusDraft  WorkflowStatus = "draft"  // Editable, only manually testable
	WorkflowStatusActive WorkflowStatus = "active" // Considered by the event matcher
	WorkflowStatusPaused WorkflowStatus = "paused" // Kept, not matched
)

// Valid reports whether s is a known workflow status.
func (s WorkflowStatus) Valid() bool {
	switch s {
	case WorkflowStatusDraft, WorkflowStatusActive, WorkflowStatusPaused:
		return true
	}

	return false
}

// TriggerType identifies the family of events a workflow reacts to.
type TriggerType string

const (
	TriggerTypeManual    TriggerType = "manual"
	TriggerTypeEvent     TriggerType = "event"
	TriggerTypeScheduled TriggerType = "scheduled"
	TriggerTypeWebhook   TriggerType = "webhook"
)

// Valid reports whether t is a known trigger type.
func (t TriggerType) Valid() bool {
	switch t {
	case TriggerTypeManual, TriggerTypeEvent, TriggerTypeScheduled, TriggerTypeWebhook:
		return true
	}

	return false
}

// WorkflowMode restricts the shape of the graph.
type WorkflowMode string

const (
	// WorkflowModeSimple allows one trigger, a chain of conditions and one action.
	WorkflowModeSimple WorkflowMode = "simple"
	// WorkflowModeAdvanced allows an arbitrary DAG with several entry points.
	WorkflowModeAdvanced WorkflowMode = "advanced"
)

// NodeKind is the closed set of node variants.
type NodeKind string

const (
	NodeKindTrigger   NodeKind = "trigger"
	NodeKindCondition NodeKind = "condition"
	NodeKindAction    NodeKind = "action"
)

// Valid reports whether k is one of the known node kinds.
func (k NodeKind) Valid() bool {
	switch k {
	case NodeKindTrigger, NodeKindCondition, NodeKindAction:
		return true
	}

	return false
}

// Branch labels emitted by boolean conditions.
const (
	BranchTrue  = "true"
	BranchFalse = "false"
)

// WorkflowDefinition is a versioned node/edge graph owned by exactly one tenant.
// It serializes to the node/edge shape the visual editor emits and consumes.
type WorkflowDefinition struct {
	ID          string         `json:"id"`
	TenantID    string         `json:"tenant_id"    validate:"required"`
	Name        string         `json:"name"         validate:"required,min=1"`
	Description string         `json:"description,omitempty"`
	Version     int            `json:"version"`
	Status      WorkflowStatus `json:"status"       validate:"required,oneof=draft active paused"`
	TriggerType TriggerType    `json:"trigger_type" validate:"required,oneof=manual event scheduled webhook"`
	Mode        WorkflowMode   `json:"mode"         validate:"required,oneof=simple advanced"`
	Nodes       []Node         `json:"nodes"`
	Edges       []Edge         `json:"edges"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// Node is a single graph vertex. Config is kept as raw JSON so the editor
// payload round-trips byte-for-byte; its "type" key selects the handler.
type Node struct {
	ID     string          `json:"id"     validate:"required"`
	Kind   NodeKind        `json:"type"   validate:"required,oneof=trigger condition action"`
	Config json.RawMessage `json:"config,omitempty"`
}

// HandlerType returns the value of the "type" key of the node config, or an
// empty string if the config is absent or malformed.
func (n Node) HandlerType() string {
	if len(n.Config) == 0 {
		return ""
	}

	var head struct {
		Type string `json:"type"`
	}

	if err := json.Unmarshal(n.Config, &head); err != nil {
		return ""
	}

	return head.Type
}

// IsTrigger reports whether the node is an entry point.
func (n Node) IsTrigger() bool {
	return n.Kind == NodeKindTrigger
}

// Edge connects two nodes. Label selects condition outcomes; it is empty for
// edges leaving triggers and actions.
type Edge struct {
	ID    string `json:"id"`
	From  string `json:"source" validate:"required"`
	To    string `json:"target" validate:"required"`
	Label string `json:"label,omitempty"`
}

// TriggerNodes returns the trigger nodes of the definition in declaration order.
func (w *WorkflowDefinition) TriggerNodes() []Node {
	triggers := make([]Node, 0, 1)

	for _, n := range w.Nodes {
		if n.IsTrigger() {
			triggers = append(triggers, n)
		}
	}

	return triggers
}

// Clone returns a deep copy of the definition so callers can hand out
// snapshots that are never mutated underneath a running execution.
func (w *WorkflowDefinition) Clone() *WorkflowDefinition {
	if w == nil {
		return nil
	}

	out := *w
	out.Nodes = make([]Node, len(w.Nodes))

	for i, n := range w.Nodes {
		out.Nodes[i] = Node{ID: n.ID, Kind: n.Kind}
		if n.Config != nil {
			out.Nodes[i].Config = append(json.RawMessage(nil), n.Config...)
		}
	}

	out.Edges = append([]Edge(nil), w.Edges...)

	return &out
}

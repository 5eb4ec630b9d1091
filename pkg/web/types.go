// Package web provides HTTP request and response types for the workflow API.
package web

import (
	"github.com/dukex/flowpoint/pkg/graph"
	"github.com/dukex/flowpoint/pkg/models"
	"github.com/dukex/flowpoint/pkg/protocol"
)

// SaveWorkflowRequest is the editor payload for creating or replacing a workflow.
type SaveWorkflowRequest struct {
	Name        string                `json:"name"         validate:"required,min=1"`
	Description string                `json:"description"`
	Status      models.WorkflowStatus `json:"status"       validate:"omitempty,oneof=draft active paused"`
	TriggerType models.TriggerType    `json:"trigger_type" validate:"required,oneof=manual event scheduled webhook"`
	Mode        models.WorkflowMode   `json:"mode"         validate:"required,oneof=simple advanced"`
	Nodes       []models.Node         `json:"nodes"`
	Edges       []models.Edge         `json:"edges"`
}

// Definition converts the request into a definition owned by tenantID.
func (r SaveWorkflowRequest) Definition(tenantID string) *models.WorkflowDefinition {
	return &models.WorkflowDefinition{
		TenantID:    tenantID,
		Name:        r.Name,
		Description: r.Description,
		Status:      r.Status,
		TriggerType: r.TriggerType,
		Mode:        r.Mode,
		Nodes:       r.Nodes,
		Edges:       r.Edges,
	}
}

// AcceptEventRequest is the inbound event contract. The tenant comes from the path.
type AcceptEventRequest struct {
	TriggerType models.TriggerType `json:"trigger_type" validate:"required,oneof=manual event scheduled webhook"`
	DedupKey    string             `json:"dedup_key"    validate:"required"`
	Payload     map[string]any     `json:"payload"`
	WorkflowID  string             `json:"workflow_id,omitempty"`
}

// AcceptEventResponse lists the executions an event started. Errors holds
// the workflows whose dispatch failed while others succeeded.
type AcceptEventResponse struct {
	ExecutionIDs []string `json:"execution_ids"`
	Errors       []string `json:"errors,omitempty"`
}

// TestWorkflowRequest is the body of a manual test run.
type TestWorkflowRequest struct {
	Payload  map[string]any `json:"payload"`
	DedupKey string         `json:"dedup_key"`
}

// ValidationResponse reports the outcome of a dry-run validation.
type ValidationResponse struct {
	Valid  bool          `json:"valid"`
	Issues []graph.Issue `json:"issues"`
}

// NodeTypeResponse describes a registered node type for the editor palette.
type NodeTypeResponse struct {
	Kind        models.NodeKind `json:"kind"`
	Type        string          `json:"type"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Schema      map[string]any  `json:"schema"`
}

// TransformNodeType builds the palette entry of a factory.
func TransformNodeType(f protocol.NodeFactory) NodeTypeResponse {
	return NodeTypeResponse{
		Kind:        f.Kind(),
		Type:        f.ID(),
		Name:        f.Name(),
		Description: f.Description(),
		Schema:      f.Schema(),
	}
}

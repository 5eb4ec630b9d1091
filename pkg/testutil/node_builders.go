// Package testutil provides test data builders and utilities for testing.
package testutil

import (
	"encoding/json"
	"fmt"

	"github.com/dukex/flowpoint/pkg/models"
)

// CreateTestNode creates a log action node that can be overridden.
func CreateTestNode(id string, overrides ...func(*models.Node)) models.Node {
	node := models.Node{
		ID:     id,
		Kind:   models.NodeKindAction,
		Config: json.RawMessage(`{"type":"log","message":"test","level":"info"}`),
	}

	for _, override := range overrides {
		override(&node)
	}

	return node
}

// WithEventTrigger configures the node as a domain event trigger for eventName.
func WithEventTrigger(eventName string) func(*models.Node) {
	return func(n *models.Node) {
		n.Kind = models.NodeKindTrigger
		n.Config = json.RawMessage(fmt.Sprintf(`{"type":"domain_event","event_name":%q}`, eventName))
	}
}

// WithCondition configures the node as an expression condition.
func WithCondition(expression string) func(*models.Node) {
	return func(n *models.Node) {
		n.Kind = models.NodeKindCondition
		n.Config = json.RawMessage(fmt.Sprintf(`{"type":"expression","expression":%q}`, expression))
	}
}

// WithConfig sets the node configuration.
func WithConfig(config map[string]any) func(*models.Node) {
	return func(n *models.Node) {
		raw, err := json.Marshal(config)
		if err != nil {
			panic(err)
		}

		n.Config = raw
	}
}

// CreateTestWorkflow creates an active single-step event workflow for tenantID
// that can be overridden.
func CreateTestWorkflow(tenantID string, overrides ...func(*models.WorkflowDefinition)) *models.WorkflowDefinition {
	def := &models.WorkflowDefinition{
		TenantID:    tenantID,
		Name:        "Test Workflow",
		Status:      models.WorkflowStatusActive,
		TriggerType: models.TriggerTypeEvent,
		Mode:        models.WorkflowModeSimple,
		Nodes: []models.Node{
			CreateTestNode("trigger", WithEventTrigger("test.happened")),
			CreateTestNode("log"),
		},
		Edges: []models.Edge{{ID: "e1", From: "trigger", To: "log"}},
	}

	for _, override := range overrides {
		override(def)
	}

	return def
}

// WithStatus sets the workflow status.
func WithStatus(status models.WorkflowStatus) func(*models.WorkflowDefinition) {
	return func(d *models.WorkflowDefinition) {
		d.Status = status
	}
}

// WithGraph replaces nodes and edges.
func WithGraph(nodes []models.Node, edges []models.Edge) func(*models.WorkflowDefinition) {
	return func(d *models.WorkflowDefinition) {
		d.Nodes = nodes
		d.Edges = edges
	}
}

// AttendanceWorkflow is the low attendance alert: a domain event trigger, a
// condition on the attendance rate, a notification on the true branch and a
// log line on the false branch.
func AttendanceWorkflow(tenantID string) *models.WorkflowDefinition {
	return CreateTestWorkflow(tenantID, func(d *models.WorkflowDefinition) {
		d.Name = "Low attendance alert"
		d.Mode = models.WorkflowModeAdvanced
	}, WithGraph(
		[]models.Node{
			CreateTestNode("trigger", WithEventTrigger("attendance.recorded")),
			CreateTestNode("check", WithCondition("payload.rate < 0.8")),
			CreateTestNode("notify", WithConfig(map[string]any{
				"type":       "notify",
				"channel":    "email",
				"recipients": []string{"staff@school.test"},
				"template":   "{{.payload.student}} attendance is low",
			})),
			CreateTestNode("log-only"),
		},
		[]models.Edge{
			{ID: "e1", From: "trigger", To: "check"},
			{ID: "e2", From: "check", To: "notify", Label: models.BranchTrue},
			{ID: "e3", From: "check", To: "log-only", Label: models.BranchFalse},
		},
	))
}

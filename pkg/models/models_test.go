package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const editorPayload = `{
	"id": "wf-1",
	"tenant_id": "acme",
	"name": "Attendance alert",
	"version": 2,
	"status": "active",
	"trigger_type": "event",
	"mode": "advanced",
	"nodes": [
		{"id": "t1", "type": "trigger", "config": {"type": "metric_threshold", "metric_key": "attendance_rate", "op": "<", "value": 0.8}},
		{"id": "c1", "type": "condition", "config": {"type": "compare", "field": "attendance_rate", "op": "<", "value": 0.8}},
		{"id": "a1", "type": "action", "config": {"type": "notify", "channel": "email", "recipients": ["staff"], "amount": 12345678901234567890}}
	],
	"edges": [
		{"id": "e1", "source": "t1", "target": "c1"},
		{"id": "e2", "source": "c1", "target": "a1", "label": "true"}
	],
	"created_at": "2026-01-02T03:04:05Z",
	"updated_at": "2026-01-02T03:04:05Z"
}`

func TestWorkflowDefinition_EditorShapeRoundTrip(t *testing.T) {
	var def WorkflowDefinition

	require.NoError(t, json.Unmarshal([]byte(editorPayload), &def))

	assert.Equal(t, "acme", def.TenantID)
	require.Len(t, def.Nodes, 3)
	assert.Equal(t, NodeKindTrigger, def.Nodes[0].Kind)
	assert.Equal(t, "metric_threshold", def.Nodes[0].HandlerType())
	assert.Equal(t, "notify", def.Nodes[2].HandlerType())
	require.Len(t, def.Edges, 2)
	assert.Equal(t, "c1", def.Edges[1].From)
	assert.Equal(t, "a1", def.Edges[1].To)
	assert.Equal(t, BranchTrue, def.Edges[1].Label)

	encoded, err := json.Marshal(&def)
	require.NoError(t, err)

	var again WorkflowDefinition

	require.NoError(t, json.Unmarshal(encoded, &again))

	reencoded, err := json.Marshal(&again)
	require.NoError(t, err)
	assert.JSONEq(t, editorPayload, string(reencoded))
	assert.Equal(t, string(encoded), string(reencoded))

	for i := range def.Nodes {
		assert.JSONEq(t, string(def.Nodes[i].Config), string(again.Nodes[i].Config))
	}

	// large integers inside node config survive untouched
	assert.Contains(t, string(encoded), "12345678901234567890")
}

func TestNode_HandlerType_Malformed(t *testing.T) {
	assert.Empty(t, Node{ID: "x", Kind: NodeKindAction}.HandlerType())
	assert.Empty(t, Node{ID: "x", Kind: NodeKindAction, Config: json.RawMessage(`[1,2]`)}.HandlerType())
}

func TestWorkflowDefinition_Clone(t *testing.T) {
	def := &WorkflowDefinition{
		ID:    "wf",
		Nodes: []Node{{ID: "t", Kind: NodeKindTrigger, Config: json.RawMessage(`{"type":"manual"}`)}},
		Edges: []Edge{{ID: "e", From: "t", To: "a"}},
	}

	clone := def.Clone()
	clone.Nodes[0].Config[2] = 'X'
	clone.Edges[0].To = "b"

	assert.JSONEq(t, `{"type":"manual"}`, string(def.Nodes[0].Config))
	assert.Equal(t, "a", def.Edges[0].To)
}

func TestExecutionContext_SetVariableIsWriteOnce(t *testing.T) {
	ctx := NewExecutionContext("wf", IncomingEvent{TenantID: "acme"}, false)

	require.NoError(t, ctx.SetVariable("c1", map[string]any{"outcome": "true"}))

	err := ctx.SetVariable("c1", "again")
	require.ErrorIs(t, err, ErrVariableAlreadySet)
	assert.Equal(t, map[string]any{"outcome": "true"}, ctx.Variables["c1"])
}

func TestExecutionContext_Lookup(t *testing.T) {
	ctx := NewExecutionContext("wf", IncomingEvent{
		TenantID: "acme",
		Payload: map[string]any{
			"attendance_rate": 0.65,
			"student":         map[string]any{"grade": 7},
			"shadowed":        "payload",
		},
	}, false)
	require.NoError(t, ctx.SetVariable("shadowed", "variable"))

	v, ok := ctx.Lookup("attendance_rate")
	require.True(t, ok)
	assert.InDelta(t, 0.65, v, 0.0001)

	v, ok = ctx.Lookup("student.grade")
	require.True(t, ok)
	assert.Equal(t, 7, v)

	v, _ = ctx.Lookup("shadowed")
	assert.Equal(t, "variable", v)

	v, _ = ctx.Lookup("payload.shadowed")
	assert.Equal(t, "payload", v)

	_, ok = ctx.Lookup("student.missing")
	assert.False(t, ok)
}

func TestExecutionContext_SnapshotIsolatesVariables(t *testing.T) {
	ctx := NewExecutionContext("wf", IncomingEvent{TenantID: "acme", Payload: map[string]any{"k": "v"}}, false)
	require.NoError(t, ctx.SetVariable("first", 1))

	snapshot := ctx.Snapshot()
	require.NoError(t, ctx.SetVariable("second", 2))

	assert.Equal(t, map[string]any{"first": 1}, snapshot.Variables)
	assert.Equal(t, "acme", snapshot.TenantID)

	v, ok := snapshot.Lookup("k")
	require.True(t, ok)
	assert.Equal(t, "v", v)
}

func TestNewExecutionContext_CopiesPayload(t *testing.T) {
	payload := map[string]any{"k": "v"}
	ctx := NewExecutionContext("wf", IncomingEvent{TenantID: "acme", Payload: payload}, true)

	ctx.TriggerPayload["k"] = "changed"

	assert.Equal(t, "v", payload["k"])
	assert.True(t, ctx.TestMode)
}

func TestExecutionStatus_Terminal(t *testing.T) {
	assert.False(t, ExecutionStatusRunning.Terminal())
	assert.True(t, ExecutionStatusSucceeded.Terminal())
	assert.True(t, ExecutionStatusFailed.Terminal())
	assert.True(t, ExecutionStatusPartiallyFailed.Terminal())
	assert.False(t, ExecutionStatus("bogus").Valid())
}

func TestIdempotencyKey(t *testing.T) {
	assert.Equal(t, "acme/wf-1/evt-9", IdempotencyKey("acme", "wf-1", "evt-9"))
}

package models

import (
	"errors"
	"fmt"
	"maps"
	"strings"
)

// ErrVariableAlreadySet is returned when a node tries to overwrite a variable
// that an earlier node of the same run already wrote.
var ErrVariableAlreadySet = errors.New("variable already set")

// Lookup path prefixes that pin a lookup to one of the two bags.
const (
	PayloadPathPrefix   = "payload."
	VariablesPathPrefix = "vars."
)

// ExecutionContext is the state carried through one run of a workflow graph.
type ExecutionContext struct {
	ExecutionID    string         `json:"execution_id"`
	TenantID       string         `json:"tenant_id"`
	WorkflowID     string         `json:"workflow_id"`
	TriggerPayload map[string]any `json:"trigger_payload"`
	Variables      map[string]any `json:"variables"`
	TestMode       bool           `json:"test_mode"`
}

// NewExecutionContext builds the initial context of a run from the triggering event.
func NewExecutionContext(workflowID string, event IncomingEvent, testMode bool) *ExecutionContext {
	payload := make(map[string]any, len(event.Payload))
	maps.Copy(payload, event.Payload)

	return &ExecutionContext{
		TenantID:       event.TenantID,
		WorkflowID:     workflowID,
		TriggerPayload: payload,
		Variables:      make(map[string]any),
		TestMode:       testMode,
	}
}

// SetVariable writes a variable. Keys are write-once within a run.
func (c *ExecutionContext) SetVariable(key string, value any) error {
	if c.Variables == nil {
		c.Variables = make(map[string]any)
	}

	if _, exists := c.Variables[key]; exists {
		return fmt.Errorf("%w: %s", ErrVariableAlreadySet, key)
	}

	c.Variables[key] = value

	return nil
}

// Snapshot copies the variable bag so the copy can be read while the run keeps
// writing to c. Variables are write-once, so their values are shared.
func (c *ExecutionContext) Snapshot() *ExecutionContext {
	snapshot := *c
	snapshot.Variables = maps.Clone(c.Variables)

	return &snapshot
}

// Lookup resolves a dotted path, first against the variables and then against
// the trigger payload. The "vars." and "payload." prefixes pin the lookup.
func (c *ExecutionContext) Lookup(path string) (any, bool) {
	switch {
	case strings.HasPrefix(path, VariablesPathPrefix):
		return lookupPath(c.Variables, strings.TrimPrefix(path, VariablesPathPrefix))
	case strings.HasPrefix(path, PayloadPathPrefix):
		return lookupPath(c.TriggerPayload, strings.TrimPrefix(path, PayloadPathPrefix))
	}

	if v, ok := lookupPath(c.Variables, path); ok {
		return v, true
	}

	return lookupPath(c.TriggerPayload, path)
}

// Env returns the read-only view handed to expression conditions.
func (c *ExecutionContext) Env() map[string]any {
	return map[string]any{
		"payload":   c.TriggerPayload,
		"vars":      c.Variables,
		"test_mode": c.TestMode,
	}
}

func lookupPath(root map[string]any, path string) (any, bool) {
	if root == nil || path == "" {
		return nil, false
	}

	if v, ok := root[path]; ok {
		return v, true
	}

	parts := strings.Split(path, ".")

	var current any = root

	for _, part := range parts {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}

		current, ok = m[part]
		if !ok {
			return nil, false
		}
	}

	return current, true
}

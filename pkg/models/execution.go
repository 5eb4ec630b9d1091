package models

import (
	"slices"
	"time"
)

// ExecutionStatus is the state of one run.
type ExecutionStatus string

const (
	ExecutionStatusRunning         ExecutionStatus = "running"
	ExecutionStatusSucceeded       ExecutionStatus = "succeeded"
	ExecutionStatusFailed          ExecutionStatus = "failed"
	ExecutionStatusPartiallyFailed ExecutionStatus = "partially_failed"
)

// Terminal reports whether no further mutation of the run is allowed.
func (s ExecutionStatus) Terminal() bool {
	return s == ExecutionStatusSucceeded || s == ExecutionStatusFailed || s == ExecutionStatusPartiallyFailed
}

// Valid reports whether s is a known execution status.
func (s ExecutionStatus) Valid() bool {
	return s == ExecutionStatusRunning || s.Terminal()
}

// StepStatus is the state of one node evaluation.
type StepStatus string

const (
	StepStatusSucceeded StepStatus = "succeeded"
	StepStatusFailed    StepStatus = "failed"
	StepStatusSkipped   StepStatus = "skipped"
)

// ErrorKind classifies node execution errors.
type ErrorKind string

const (
	ErrorKindConfig    ErrorKind = "config"    // Malformed node config, fatal, not retried
	ErrorKindTransient ErrorKind = "transient" // Collaborator timeout, retried per policy
	ErrorKindPermanent ErrorKind = "permanent" // Collaborator rejected the request, fatal
)

// StepError is the persisted form of a node error.
type StepError struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
}

// StepResult records the outcome of evaluating one node.
type StepResult struct {
	NodeID    string         `json:"node_id"`
	Kind      NodeKind       `json:"kind"`
	Type      string         `json:"type"`
	Status    StepStatus     `json:"status"`
	Outcome   string         `json:"outcome,omitempty"`
	Output    map[string]any `json:"output,omitempty"`
	Simulated bool           `json:"simulated,omitempty"`
	Error     *StepError     `json:"error,omitempty"`
	Attempts  int            `json:"attempts"`
	StartedAt time.Time      `json:"started_at,omitzero"`
	Duration  time.Duration  `json:"duration"`
}

// ExecutionRecord is the append-only log entry of one run.
type ExecutionRecord struct {
	ID              string          `json:"id"`
	TenantID        string          `json:"tenant_id"`
	WorkflowID      string          `json:"workflow_id"`
	WorkflowVersion int             `json:"workflow_version"`
	DedupKey        string          `json:"dedup_key"`
	TriggerType     TriggerType     `json:"trigger_type"`
	EntryNodeIDs    []string        `json:"entry_node_ids,omitempty"`
	TestMode        bool            `json:"test_mode"`
	Status          ExecutionStatus `json:"status"`
	Error           string          `json:"error,omitempty"`
	Steps           []StepResult    `json:"steps"`
	StartedAt       time.Time       `json:"started_at"`
	FinishedAt      *time.Time      `json:"finished_at,omitempty"`
}

// HasStep reports whether the run recorded a step for the node.
func (r *ExecutionRecord) HasStep(nodeID string) bool {
	return slices.ContainsFunc(r.Steps, func(s StepResult) bool { return s.NodeID == nodeID })
}

// Step returns the recorded step for the node, if any.
func (r *ExecutionRecord) Step(nodeID string) (StepResult, bool) {
	for _, s := range r.Steps {
		if s.NodeID == nodeID {
			return s, true
		}
	}

	return StepResult{}, false
}

// Clone returns a deep-enough copy for handing records across goroutines.
func (r *ExecutionRecord) Clone() *ExecutionRecord {
	if r == nil {
		return nil
	}

	out := *r
	out.Steps = slices.Clone(r.Steps)
	out.EntryNodeIDs = slices.Clone(r.EntryNodeIDs)

	if r.FinishedAt != nil {
		finished := *r.FinishedAt
		out.FinishedAt = &finished
	}

	return &out
}

// Package graph provides the arena index and structural validation of workflow graphs.
package graph

import (
	"fmt"
	"strings"
)

// IssueCode identifies a class of structural problem.
type IssueCode string

const (
	IssueMissingNode         IssueCode = "missing_node"
	IssueDuplicateNode       IssueCode = "duplicate_node"
	IssueInvalidNode         IssueCode = "invalid_node"
	IssueInvalidEdge         IssueCode = "invalid_edge"
	IssueCycle               IssueCode = "cycle"
	IssueOrphanedNode        IssueCode = "orphaned_node"
	IssueNoTrigger           IssueCode = "no_trigger"
	IssueTooManyTriggers     IssueCode = "too_many_triggers"
	IssueSimpleMode          IssueCode = "simple_mode"
	IssueUnknownType         IssueCode = "unknown_type"
	IssueInvalidConfig       IssueCode = "invalid_config"
	IssueTriggerTypeMismatch IssueCode = "trigger_type_mismatch"
	IssueInvalidDefinition   IssueCode = "invalid_definition"
)

// Issue is one problem found while validating a definition. NodeID and EdgeID
// point the editor at the element to highlight.
type Issue struct {
	Code    IssueCode `json:"code"`
	NodeID  string    `json:"node_id,omitempty"`
	EdgeID  string    `json:"edge_id,omitempty"`
	Message string    `json:"message"`
}

func (i Issue) String() string {
	switch {
	case i.NodeID != "":
		return fmt.Sprintf("%s (node %s): %s", i.Code, i.NodeID, i.Message)
	case i.EdgeID != "":
		return fmt.Sprintf("%s (edge %s): %s", i.Code, i.EdgeID, i.Message)
	default:
		return fmt.Sprintf("%s: %s", i.Code, i.Message)
	}
}

// ValidationError reports every structural problem of a definition at once.
type ValidationError struct {
	Issues []Issue `json:"issues"`
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Issues))
	for _, issue := range e.Issues {
		parts = append(parts, issue.String())
	}

	return fmt.Sprintf("workflow validation failed with %d issue(s): %s", len(e.Issues), strings.Join(parts, "; "))
}

// Has reports whether an issue with the given code was recorded.
func (e *ValidationError) Has(code IssueCode) bool {
	for _, issue := range e.Issues {
		if issue.Code == code {
			return true
		}
	}

	return false
}

// NewValidationError returns nil when issues is empty.
func NewValidationError(issues []Issue) error {
	if len(issues) == 0 {
		return nil
	}

	return &ValidationError{Issues: issues}
}

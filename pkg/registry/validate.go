package registry

import (
	"errors"
	"fmt"
	"slices"

	"github.com/dukex/flowpoint/pkg/graph"
	"github.com/dukex/flowpoint/pkg/models"
	"github.com/dukex/flowpoint/pkg/protocol"
	"github.com/xeipuuv/gojsonschema"
)

// Validate checks every node against its handler: the type must be
// registered, the config must satisfy the factory schema and build a handler,
// trigger handlers must belong to the definition's trigger type, and condition
// edges must carry labels the condition can produce.
func (r *Registry) Validate(def *models.WorkflowDefinition) []graph.Issue {
	if def == nil {
		return nil
	}

	var issues []graph.Issue

	ix := graph.NewIndex(def)

	for _, node := range def.Nodes {
		if !node.Kind.Valid() {
			continue // reported by graph.Validate
		}

		f, ok := r.Factory(node)
		if !ok {
			issues = append(issues, graph.Issue{
				Code:    graph.IssueUnknownType,
				NodeID:  node.ID,
				Message: fmt.Sprintf("no %s handler for type %q", node.Kind, node.HandlerType()),
			})

			continue
		}

		if schemaIssues := r.checkSchema(f, node); len(schemaIssues) > 0 {
			issues = append(issues, schemaIssues...)

			continue
		}

		switch node.Kind {
		case models.NodeKindTrigger:
			issues = append(issues, r.validateTrigger(def, node)...)
		case models.NodeKindCondition:
			issues = append(issues, r.validateCondition(ix, node)...)
		case models.NodeKindAction:
			if _, err := r.Action(node); err != nil {
				issues = append(issues, configIssue(node, err))
			}
		}
	}

	return issues
}

func (r *Registry) checkSchema(f protocol.NodeFactory, node models.Node) []graph.Issue {
	schema, ok := r.schemas[schemaKey(f.Kind(), f.ID())]
	if !ok {
		return nil
	}

	result, err := schema.Validate(gojsonschema.NewBytesLoader(node.Config))
	if err != nil {
		return []graph.Issue{{
			Code:    graph.IssueInvalidConfig,
			NodeID:  node.ID,
			Message: fmt.Sprintf("config is not valid JSON: %v", err),
		}}
	}

	if result.Valid() {
		return nil
	}

	issues := make([]graph.Issue, 0, len(result.Errors()))

	for _, e := range result.Errors() {
		issues = append(issues, graph.Issue{
			Code:    graph.IssueInvalidConfig,
			NodeID:  node.ID,
			Message: e.String(),
		})
	}

	return issues
}

func (r *Registry) validateTrigger(def *models.WorkflowDefinition, node models.Node) []graph.Issue {
	if _, err := r.Trigger(node); err != nil {
		return []graph.Issue{configIssue(node, err)}
	}

	triggerType, _ := r.TriggerType(node)
	if triggerType != def.TriggerType {
		return []graph.Issue{{
			Code:   graph.IssueTriggerTypeMismatch,
			NodeID: node.ID,
			Message: fmt.Sprintf("%s triggers belong to %s workflows, this workflow is %s",
				node.HandlerType(), triggerType, def.TriggerType),
		}}
	}

	return nil
}

func (r *Registry) validateCondition(ix *graph.Index, node models.Node) []graph.Issue {
	cond, err := r.Condition(node)
	if err != nil {
		return []graph.Issue{configIssue(node, err)}
	}

	var issues []graph.Issue

	outcomes := cond.Outcomes()

	for _, e := range ix.Outgoing(node.ID) {
		if e.Label != "" && !slices.Contains(outcomes, e.Label) {
			issues = append(issues, graph.Issue{
				Code:    graph.IssueInvalidEdge,
				NodeID:  node.ID,
				EdgeID:  e.ID,
				Message: fmt.Sprintf("condition never returns %q, expected one of %v", e.Label, outcomes),
			})
		}
	}

	return issues
}

func configIssue(node models.Node, err error) graph.Issue {
	var nodeErr *protocol.NodeError
	if errors.As(err, &nodeErr) {
		err = nodeErr.Err
	}

	return graph.Issue{Code: graph.IssueInvalidConfig, NodeID: node.ID, Message: err.Error()}
}

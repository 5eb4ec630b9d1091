package graph

import (
	"fmt"
	"slices"

	"github.com/dukex/flowpoint/pkg/models"
)

// Validate checks the structure of a definition: node ids, edge endpoints,
// acyclicity, reachability from a trigger and the simple-mode shape. It does
// not look at node configs; see registry.Registry.Validate for that. All
// problems are returned together, in node declaration order where possible.
func Validate(def *models.WorkflowDefinition) []Issue {
	var issues []Issue

	if def == nil {
		return []Issue{{Code: IssueInvalidDefinition, Message: "workflow definition is nil"}}
	}

	issues = append(issues, validateNodes(def)...)
	issues = append(issues, validateEdges(def)...)

	ix := NewIndex(def)
	triggers := def.TriggerNodes()

	if len(triggers) == 0 {
		issues = append(issues, Issue{Code: IssueNoTrigger, Message: "workflow has no trigger node"})
	}

	issues = append(issues, findCycles(ix)...)
	issues = append(issues, findOrphans(ix, triggers)...)

	if def.Mode == models.WorkflowModeSimple {
		issues = append(issues, validateSimpleMode(ix, triggers)...)
	}

	return issues
}

func validateNodes(def *models.WorkflowDefinition) []Issue {
	var issues []Issue

	seen := make(map[string]bool, len(def.Nodes))

	for i, n := range def.Nodes {
		if n.ID == "" {
			issues = append(issues, Issue{
				Code:    IssueInvalidNode,
				Message: fmt.Sprintf("node at index %d has an empty id", i),
			})

			continue
		}

		if seen[n.ID] {
			issues = append(issues, Issue{
				Code:    IssueDuplicateNode,
				NodeID:  n.ID,
				Message: "node id is used more than once",
			})
		}

		seen[n.ID] = true

		if !n.Kind.Valid() {
			issues = append(issues, Issue{
				Code:    IssueInvalidNode,
				NodeID:  n.ID,
				Message: fmt.Sprintf("unknown node kind %q", n.Kind),
			})
		}
	}

	return issues
}

func validateEdges(def *models.WorkflowDefinition) []Issue {
	var issues []Issue

	kinds := make(map[string]models.NodeKind, len(def.Nodes))
	for _, n := range def.Nodes {
		kinds[n.ID] = n.Kind
	}

	seen := make(map[string]bool, len(def.Edges))

	for _, e := range def.Edges {
		if e.ID != "" {
			if seen[e.ID] {
				issues = append(issues, Issue{Code: IssueInvalidEdge, EdgeID: e.ID, Message: "edge id is used more than once"})
			}

			seen[e.ID] = true
		}

		fromKind, fromOK := kinds[e.From]
		toKind, toOK := kinds[e.To]

		if !fromOK {
			issues = append(issues, Issue{
				Code:    IssueMissingNode,
				NodeID:  e.From,
				EdgeID:  e.ID,
				Message: fmt.Sprintf("edge source %q does not exist", e.From),
			})
		}

		if !toOK {
			issues = append(issues, Issue{
				Code:    IssueMissingNode,
				NodeID:  e.To,
				EdgeID:  e.ID,
				Message: fmt.Sprintf("edge target %q does not exist", e.To),
			})
		}

		if !fromOK || !toOK {
			continue
		}

		if e.From == e.To {
			issues = append(issues, Issue{Code: IssueCycle, NodeID: e.From, EdgeID: e.ID, Message: "edge connects a node to itself"})

			continue
		}

		if toKind == models.NodeKindTrigger {
			issues = append(issues, Issue{
				Code:    IssueInvalidEdge,
				NodeID:  e.To,
				EdgeID:  e.ID,
				Message: "trigger nodes cannot have incoming edges",
			})
		}

		switch fromKind {
		case models.NodeKindCondition:
			if e.Label == "" {
				issues = append(issues, Issue{
					Code:    IssueInvalidEdge,
					NodeID:  e.From,
					EdgeID:  e.ID,
					Message: "edges leaving a condition must carry a branch label",
				})
			}
		case models.NodeKindTrigger, models.NodeKindAction:
			if e.Label != "" {
				issues = append(issues, Issue{
					Code:    IssueInvalidEdge,
					NodeID:  e.From,
					EdgeID:  e.ID,
					Message: fmt.Sprintf("only condition edges carry a branch label, got %q", e.Label),
				})
			}
		}
	}

	return issues
}

// findCycles runs Kahn's algorithm over the index. Nodes left with a positive
// in-degree are on a cycle or downstream of one; only the former are reported.
func findCycles(ix *Index) []Issue {
	def := ix.Definition()

	inDegree := make(map[string]int, len(def.Nodes))
	for _, n := range def.Nodes {
		inDegree[n.ID] = 0
	}

	for _, n := range def.Nodes {
		for _, succ := range ix.Successors(n.ID) {
			if succ != n.ID {
				inDegree[succ]++
			}
		}
	}

	queue := make([]string, 0, len(inDegree))

	for _, n := range def.Nodes {
		if inDegree[n.ID] == 0 {
			queue = append(queue, n.ID)
		}
	}

	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]

		for _, succ := range ix.Successors(id) {
			if succ == id {
				continue
			}

			inDegree[succ]--
			if inDegree[succ] == 0 {
				queue = append(queue, succ)
			}
		}
	}

	remaining := make(map[string]bool)

	for id, deg := range inDegree {
		if deg > 0 {
			remaining[id] = true
		}
	}

	if len(remaining) == 0 {
		return nil
	}

	var issues []Issue

	reported := make(map[string]bool, len(remaining))

	for _, n := range def.Nodes {
		if !remaining[n.ID] || reported[n.ID] || !reachesItself(ix, n.ID, remaining) {
			continue
		}

		reported[n.ID] = true

		issues = append(issues, Issue{
			Code:    IssueCycle,
			NodeID:  n.ID,
			Message: "node is part of a cycle",
		})
	}

	return issues
}

func reachesItself(ix *Index, start string, within map[string]bool) bool {
	visited := make(map[string]bool)
	stack := slices.Clone(ix.Successors(start))

	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if id == start {
			return true
		}

		if visited[id] || !within[id] {
			continue
		}

		visited[id] = true
		stack = append(stack, ix.Successors(id)...)
	}

	return false
}

// findOrphans walks breadth-first from every trigger and reports non-trigger
// nodes that were never reached.
func findOrphans(ix *Index, triggers []models.Node) []Issue {
	def := ix.Definition()

	reached := make(map[string]bool, len(def.Nodes))
	queue := make([]string, 0, len(triggers))

	for _, t := range triggers {
		if !reached[t.ID] {
			reached[t.ID] = true
			queue = append(queue, t.ID)
		}
	}

	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]

		for _, succ := range ix.Successors(id) {
			if !reached[succ] {
				reached[succ] = true
				queue = append(queue, succ)
			}
		}
	}

	var issues []Issue

	for _, n := range def.Nodes {
		if n.ID == "" || n.IsTrigger() || reached[n.ID] {
			continue
		}

		issues = append(issues, Issue{
			Code:    IssueOrphanedNode,
			NodeID:  n.ID,
			Message: "node is not reachable from any trigger",
		})
	}

	return issues
}

// validateSimpleMode enforces the trigger -> condition chain -> action shape.
func validateSimpleMode(ix *Index, triggers []models.Node) []Issue {
	var issues []Issue

	def := ix.Definition()

	if len(triggers) > 1 {
		for _, t := range triggers[1:] {
			issues = append(issues, Issue{
				Code:    IssueTooManyTriggers,
				NodeID:  t.ID,
				Message: "simple workflows have exactly one trigger",
			})
		}
	}

	actions := 0

	for _, n := range def.Nodes {
		out := ix.Outgoing(n.ID)

		if n.Kind == models.NodeKindAction {
			actions++

			if len(out) > 0 {
				issues = append(issues, Issue{
					Code:    IssueSimpleMode,
					NodeID:  n.ID,
					EdgeID:  out[0].ID,
					Message: "the action of a simple workflow must be its last node",
				})
			}

			continue
		}

		if len(out) > 1 {
			issues = append(issues, Issue{
				Code:    IssueSimpleMode,
				NodeID:  n.ID,
				EdgeID:  out[1].ID,
				Message: "simple workflows cannot branch",
			})
		}
	}

	if actions != 1 {
		issues = append(issues, Issue{
			Code:    IssueSimpleMode,
			Message: fmt.Sprintf("simple workflows have exactly one action, found %d", actions),
		})
	}

	return issues
}

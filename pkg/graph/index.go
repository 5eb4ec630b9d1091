package graph

import "github.com/dukex/flowpoint/pkg/models"

// Index is an adjacency view computed over the flat node/edge arena of a
// definition. Nodes are addressed by their stable ids; no pointer graph is built.
type Index struct {
	def      *models.WorkflowDefinition
	position map[string]int
	outgoing map[string][]int
	incoming map[string][]int
}

// NewIndex builds the adjacency maps. Edges whose endpoints do not exist are
// ignored, so an index can be built over an invalid definition.
func NewIndex(def *models.WorkflowDefinition) *Index {
	ix := &Index{
		def:      def,
		position: make(map[string]int, len(def.Nodes)),
		outgoing: make(map[string][]int, len(def.Nodes)),
		incoming: make(map[string][]int, len(def.Nodes)),
	}

	for i, n := range def.Nodes {
		if _, dup := ix.position[n.ID]; !dup {
			ix.position[n.ID] = i
		}
	}

	for i, e := range def.Edges {
		if !ix.Has(e.From) || !ix.Has(e.To) {
			continue
		}

		ix.outgoing[e.From] = append(ix.outgoing[e.From], i)
		ix.incoming[e.To] = append(ix.incoming[e.To], i)
	}

	return ix
}

// Definition returns the indexed definition.
func (ix *Index) Definition() *models.WorkflowDefinition {
	return ix.def
}

// Has reports whether a node with the id exists.
func (ix *Index) Has(id string) bool {
	_, ok := ix.position[id]

	return ok
}

// Node returns the node with the id.
func (ix *Index) Node(id string) (models.Node, bool) {
	i, ok := ix.position[id]
	if !ok {
		return models.Node{}, false
	}

	return ix.def.Nodes[i], true
}

// Outgoing returns the edges leaving the node in declaration order.
func (ix *Index) Outgoing(id string) []models.Edge {
	return ix.edges(ix.outgoing[id])
}

// Incoming returns the edges entering the node in declaration order.
func (ix *Index) Incoming(id string) []models.Edge {
	return ix.edges(ix.incoming[id])
}

// Successors returns the targets of all outgoing edges.
func (ix *Index) Successors(id string) []string {
	out := make([]string, 0, len(ix.outgoing[id]))
	for _, i := range ix.outgoing[id] {
		out = append(out, ix.def.Edges[i].To)
	}

	return out
}

// SuccessorsByLabel returns the targets of outgoing edges carrying label.
func (ix *Index) SuccessorsByLabel(id, label string) []string {
	out := make([]string, 0, len(ix.outgoing[id]))

	for _, i := range ix.outgoing[id] {
		if ix.def.Edges[i].Label == label {
			out = append(out, ix.def.Edges[i].To)
		}
	}

	return out
}

func (ix *Index) edges(positions []int) []models.Edge {
	out := make([]models.Edge, 0, len(positions))
	for _, i := range positions {
		out = append(out, ix.def.Edges[i])
	}

	return out
}

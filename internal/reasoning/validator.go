package reasoning

import (
	"context"
	"math"

	"go.opentelemetry.io/otel/attribute"
)

// MissingEdge identifies a proposed step with no stored relation.
type MissingEdge struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// Validation is the result of checking a proposed path against the
// stored graph.
type Validation struct {
	// Valid is true when every consecutive pair is a stored relation.
	Valid bool `json:"valid"`

	// MissingNodes lists path concepts absent from the graph.
	MissingNodes []string `json:"missing_nodes,omitempty"`

	// MissingEdges lists consecutive pairs with no stored relation.
	MissingEdges []MissingEdge `json:"missing_edges,omitempty"`

	// Cost is the path cost over existing edges. Only meaningful when
	// Valid.
	Cost float64 `json:"cost"`

	// Bottleneck is the minimum weight among existing edges on the
	// path. Only meaningful when Valid.
	Bottleneck float64 `json:"bottleneck"`
}

// ValidatePath checks a proposed reasoning path edge-by-edge.
//
// Unlike FindPath, this never searches: it reports exactly which nodes
// and relations the proposal assumes but the graph does not contain.
func (g *Graph) ValidatePath(ctx context.Context, nodes []string) (*Validation, error) {
	_, span := pathTracer.Start(ctx, "Graph.ValidatePath")
	defer span.End()
	span.SetAttributes(attribute.Int("path_length", len(nodes)))

	if len(nodes) < 2 {
		return nil, ErrEmptyPath
	}

	g.mu.RLock()
	defer g.mu.RUnlock()

	v := &Validation{Valid: true, Bottleneck: math.Inf(1)}

	seenMissing := map[string]bool{}
	for _, id := range nodes {
		if _, ok := g.concepts[id]; !ok && !seenMissing[id] {
			seenMissing[id] = true
			v.MissingNodes = append(v.MissingNodes, id)
			v.Valid = false
		}
	}

	for i := 0; i < len(nodes)-1; i++ {
		r, ok := g.edges[nodes[i]][nodes[i+1]]
		if !ok {
			v.MissingEdges = append(v.MissingEdges, MissingEdge{From: nodes[i], To: nodes[i+1]})
			v.Valid = false
			continue
		}
		v.Cost += g.edgeCostLocked(r)
		if r.Weight < v.Bottleneck {
			v.Bottleneck = r.Weight
		}
	}

	if math.IsInf(v.Bottleneck, 1) {
		v.Bottleneck = 0
	}
	if !v.Valid {
		v.Cost = 0
	}
	return v, nil
}

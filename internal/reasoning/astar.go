package reasoning

import (
	"container/heap"
	"context"
	"fmt"
	"math"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

var pathTracer = otel.Tracer("duri.reasoning.astar")

// PathResult is a found path between two concepts.
type PathResult struct {
	// Nodes is the ordered concept IDs from start to goal.
	Nodes []string `json:"nodes"`

	// Cost is the accumulated path cost: sum of (1 - weight) per edge
	// plus activation costs of entered concepts.
	Cost float64 `json:"cost"`

	// Bottleneck is the minimum edge weight along the path: the
	// reliability of the weakest link.
	Bottleneck float64 `json:"bottleneck"`
}

// landmark holds ALT heuristic data: shortest-path distances from and to
// a chosen landmark concept. By the triangle inequality,
// max(d(n,L)-d(goal,L), d(L,goal)-d(L,n), 0) never overestimates the
// true distance from n to goal.
type landmark struct {
	id   string
	from map[string]float64 // d(L, n)
	to   map[string]float64 // d(n, L)
}

// SetLandmark precomputes heuristic distances from the given concept.
// Search falls back to a zero heuristic (plain Dijkstra ordering) when
// no landmark is set or its data has been invalidated by a mutation.
func (g *Graph) SetLandmark(ctx context.Context, id string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.concepts[id]; !ok {
		return fmt.Errorf("%w: %s", ErrNodeNotFound, id)
	}

	g.landmark = &landmark{
		id:   id,
		from: g.dijkstraLocked(id, false),
		to:   g.dijkstraLocked(id, true),
	}
	return nil
}

// dijkstraLocked computes shortest-path costs from source to every
// reachable node. With reverse=true edges are traversed backwards,
// giving costs from every node to source.
func (g *Graph) dijkstraLocked(source string, reverse bool) map[string]float64 {
	dist := map[string]float64{source: 0}
	pq := &priorityQueue{}
	heap.Init(pq)
	heap.Push(pq, &pqItem{id: source, priority: 0})

	// For reverse traversal build an incoming-edge view once.
	incoming := map[string][]*Relation{}
	if reverse {
		for _, targets := range g.edges {
			for _, r := range targets {
				incoming[r.To] = append(incoming[r.To], r)
			}
		}
	}

	for pq.Len() > 0 {
		item := heap.Pop(pq).(*pqItem)
		if item.priority > dist[item.id] {
			continue
		}

		var relations []*Relation
		if reverse {
			relations = incoming[item.id]
		} else {
			for _, r := range g.edges[item.id] {
				relations = append(relations, r)
			}
		}

		for _, r := range relations {
			next := r.To
			if reverse {
				next = r.From
			}
			candidate := dist[item.id] + g.edgeCostLocked(r)
			if cur, ok := dist[next]; !ok || candidate < cur {
				dist[next] = candidate
				heap.Push(pq, &pqItem{id: next, priority: candidate})
			}
		}
	}
	return dist
}

// heuristicLocked returns an admissible lower bound on the cost from n
// to goal.
func (g *Graph) heuristicLocked(n, goal string) float64 {
	lm := g.landmark
	if lm == nil {
		return 0
	}

	h := 0.0
	// d(n, L) - d(goal, L) <= d(n, goal)
	if dn, ok := lm.to[n]; ok {
		if dg, ok := lm.to[goal]; ok {
			if v := dn - dg; v > h {
				h = v
			}
		}
	}
	// d(L, goal) - d(L, n) <= d(n, goal)
	if dg, ok := lm.from[goal]; ok {
		if dn, ok := lm.from[n]; ok {
			if v := dg - dn; v > h {
				h = v
			}
		}
	}
	return h
}

// FindPath runs A* from start to goal and returns the cost-minimal path.
//
// Edge cost is (1 - weight) plus the activation cost of the entered
// concept, so search prefers short chains of reliable relations.
// Returns ErrNoPath when the goal is unreachable.
func (g *Graph) FindPath(ctx context.Context, start, goal string) (*PathResult, error) {
	ctx, span := pathTracer.Start(ctx, "Graph.FindPath")
	defer span.End()
	span.SetAttributes(
		attribute.String("start", start),
		attribute.String("goal", goal),
	)

	g.mu.RLock()
	defer g.mu.RUnlock()

	if _, ok := g.concepts[start]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrNodeNotFound, start)
	}
	if _, ok := g.concepts[goal]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrNodeNotFound, goal)
	}

	if start == goal {
		return &PathResult{Nodes: []string{start}, Cost: 0, Bottleneck: 1}, nil
	}

	gScore := map[string]float64{start: 0}
	cameFrom := map[string]string{}
	closed := map[string]bool{}

	pq := &priorityQueue{}
	heap.Init(pq)
	heap.Push(pq, &pqItem{id: start, priority: g.heuristicLocked(start, goal)})

	for pq.Len() > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		current := heap.Pop(pq).(*pqItem)
		if closed[current.id] {
			continue
		}
		if current.id == goal {
			return g.reconstructLocked(cameFrom, start, goal, gScore[goal]), nil
		}
		closed[current.id] = true

		for _, r := range g.edges[current.id] {
			if closed[r.To] {
				continue
			}
			tentative := gScore[current.id] + g.edgeCostLocked(r)
			if cur, ok := gScore[r.To]; ok && tentative >= cur {
				continue
			}
			gScore[r.To] = tentative
			cameFrom[r.To] = current.id
			heap.Push(pq, &pqItem{
				id:       r.To,
				priority: tentative + g.heuristicLocked(r.To, goal),
			})
		}
	}

	return nil, fmt.Errorf("%w: %s -> %s", ErrNoPath, start, goal)
}

// reconstructLocked rebuilds the path and computes the bottleneck.
func (g *Graph) reconstructLocked(cameFrom map[string]string, start, goal string, cost float64) *PathResult {
	nodes := []string{goal}
	for cur := goal; cur != start; {
		prev := cameFrom[cur]
		nodes = append(nodes, prev)
		cur = prev
	}
	// Reverse in place.
	for i, j := 0, len(nodes)-1; i < j; i, j = i+1, j-1 {
		nodes[i], nodes[j] = nodes[j], nodes[i]
	}

	bottleneck := math.Inf(1)
	for i := 0; i < len(nodes)-1; i++ {
		if r, ok := g.edges[nodes[i]][nodes[i+1]]; ok && r.Weight < bottleneck {
			bottleneck = r.Weight
		}
	}
	if math.IsInf(bottleneck, 1) {
		bottleneck = 1
	}

	return &PathResult{Nodes: nodes, Cost: cost, Bottleneck: bottleneck}
}

// pqItem is an entry in the A* priority queue.
type pqItem struct {
	id       string
	priority float64
	index    int
}

// priorityQueue implements heap.Interface ordered by ascending priority.
type priorityQueue []*pqItem

func (pq priorityQueue) Len() int { return len(pq) }

func (pq priorityQueue) Less(i, j int) bool { return pq[i].priority < pq[j].priority }

func (pq priorityQueue) Swap(i, j int) {
	pq[i], pq[j] = pq[j], pq[i]
	pq[i].index = i
	pq[j].index = j
}

func (pq *priorityQueue) Push(x any) {
	item := x.(*pqItem)
	item.index = len(*pq)
	*pq = append(*pq, item)
}

func (pq *priorityQueue) Pop() any {
	old := *pq
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*pq = old[:n-1]
	return item
}

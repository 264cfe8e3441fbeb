package reasoning

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// buildDiamond creates:
//
//	a --0.9--> b --0.9--> d
//	a --------0.5-------> d
//	a --0.9--> c (dead end)
//
// The two-hop path via b costs 0.2, the direct edge costs 0.5.
func buildDiamond(t *testing.T) *Graph {
	t.Helper()
	g, _ := newTestGraph(t)
	for _, id := range []string{"a", "b", "c", "d"} {
		addConcept(t, g, id)
	}
	addRelation(t, g, "a", "b", 0.9)
	addRelation(t, g, "b", "d", 0.9)
	addRelation(t, g, "a", "d", 0.5)
	addRelation(t, g, "a", "c", 0.9)
	return g
}

func TestFindPathPrefersReliableChain(t *testing.T) {
	g := buildDiamond(t)

	result, err := g.FindPath(context.Background(), "a", "d")
	require.NoError(t, err)

	assert.Equal(t, []string{"a", "b", "d"}, result.Nodes)
	assert.InDelta(t, 0.2, result.Cost, 1e-9)
	assert.InDelta(t, 0.9, result.Bottleneck, 1e-9)
}

func TestFindPathDirectWhenChainIsWeak(t *testing.T) {
	g, _ := newTestGraph(t)
	for _, id := range []string{"a", "b", "d"} {
		addConcept(t, g, id)
	}
	addRelation(t, g, "a", "b", 0.5)
	addRelation(t, g, "b", "d", 0.5)
	addRelation(t, g, "a", "d", 0.8)

	result, err := g.FindPath(context.Background(), "a", "d")
	require.NoError(t, err)

	assert.Equal(t, []string{"a", "d"}, result.Nodes)
	assert.InDelta(t, 0.2, result.Cost, 1e-9)
	assert.InDelta(t, 0.8, result.Bottleneck, 1e-9)
}

func TestFindPathAccountsForActivationCost(t *testing.T) {
	g, _ := newTestGraph(t)
	ctx := context.Background()

	require.NoError(t, g.AddConcept(ctx, &Concept{ID: "a", Label: "a"}))
	require.NoError(t, g.AddConcept(ctx, &Concept{ID: "expensive", Label: "expensive", ActivationCost: 1.0}))
	require.NoError(t, g.AddConcept(ctx, &Concept{ID: "d", Label: "d"}))

	addRelation(t, g, "a", "expensive", 0.95)
	addRelation(t, g, "expensive", "d", 0.95)
	addRelation(t, g, "a", "d", 0.5)

	// Via "expensive": 0.05 + 1.0 + 0.05 = 1.1. Direct: 0.5.
	result, err := g.FindPath(ctx, "a", "d")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "d"}, result.Nodes)
}

func TestFindPathNoPath(t *testing.T) {
	g, _ := newTestGraph(t)
	addConcept(t, g, "a")
	addConcept(t, g, "b")

	_, err := g.FindPath(context.Background(), "a", "b")
	require.ErrorIs(t, err, ErrNoPath)
}

func TestFindPathRespectsDirection(t *testing.T) {
	g, _ := newTestGraph(t)
	addConcept(t, g, "a")
	addConcept(t, g, "b")
	addRelation(t, g, "a", "b", 0.9)

	_, err := g.FindPath(context.Background(), "b", "a")
	require.ErrorIs(t, err, ErrNoPath)
}

func TestFindPathUnknownNodes(t *testing.T) {
	g, _ := newTestGraph(t)
	addConcept(t, g, "a")

	_, err := g.FindPath(context.Background(), "a", "zz")
	require.ErrorIs(t, err, ErrNodeNotFound)

	_, err = g.FindPath(context.Background(), "zz", "a")
	require.ErrorIs(t, err, ErrNodeNotFound)
}

func TestFindPathStartEqualsGoal(t *testing.T) {
	g, _ := newTestGraph(t)
	addConcept(t, g, "a")

	result, err := g.FindPath(context.Background(), "a", "a")
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, result.Nodes)
	assert.Zero(t, result.Cost)
}

func TestLandmarkHeuristicPreservesOptimality(t *testing.T) {
	g, _ := newTestGraph(t)
	ctx := context.Background()

	// A chain with shortcuts: optimal routes must be identical with and
	// without the landmark heuristic.
	const n = 8
	for i := 0; i < n; i++ {
		addConcept(t, g, fmt.Sprintf("n%d", i))
	}
	for i := 0; i < n-1; i++ {
		addRelation(t, g, fmt.Sprintf("n%d", i), fmt.Sprintf("n%d", i+1), 0.95)
	}
	addRelation(t, g, "n0", "n4", 0.6)
	addRelation(t, g, "n2", "n7", 0.5)

	baseline, err := g.FindPath(ctx, "n0", "n7")
	require.NoError(t, err)

	require.NoError(t, g.SetLandmark(ctx, "n4"))
	withLandmark, err := g.FindPath(ctx, "n0", "n7")
	require.NoError(t, err)

	assert.Equal(t, baseline.Nodes, withLandmark.Nodes)
	assert.InDelta(t, baseline.Cost, withLandmark.Cost, 1e-9)
}

func TestSetLandmarkUnknownNode(t *testing.T) {
	g, _ := newTestGraph(t)
	require.ErrorIs(t, g.SetLandmark(context.Background(), "zz"), ErrNodeNotFound)
}

func TestLandmarkInvalidatedByMutation(t *testing.T) {
	g := buildDiamond(t)
	ctx := context.Background()

	require.NoError(t, g.SetLandmark(ctx, "b"))
	addConcept(t, g, "e")

	g.mu.RLock()
	defer g.mu.RUnlock()
	assert.Nil(t, g.landmark)
}

func TestFindPathHonorsCancellation(t *testing.T) {
	g := buildDiamond(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := g.FindPath(ctx, "a", "d")
	require.ErrorIs(t, err, context.Canceled)
}

package cycles

import (
	"slices"
	"testing"

	"gonum.org/v1/gonum/graph/simple"
)

func directed(edges ...[2]int64) *simple.DirectedGraph {
	g := simple.NewDirectedGraph()
	for _, e := range edges {
		for _, id := range e {
			if g.Node(id) == nil {
				g.AddNode(simple.Node(id))
			}
		}
		g.SetEdge(g.NewEdge(g.Node(e[0]), g.Node(e[1])))
	}
	return g
}

func TestTarjanSCC_NoCycles(t *testing.T) {
	g := directed([2]int64{1, 2}, [2]int64{2, 3}, [2]int64{1, 3})

	sccs := NewTarjanSCC(g).FindSCCs()

	if len(sccs) != 0 {
		t.Errorf("Expected no cycles, but found %d", len(sccs))
	}
}

func TestTarjanSCC_TwoCycles(t *testing.T) {
	g := directed(
		[2]int64{1, 2}, [2]int64{2, 1},
		[2]int64{3, 4}, [2]int64{4, 5}, [2]int64{5, 3},
		[2]int64{2, 3},
	)

	sccs := NewTarjanSCC(g).FindSCCs()

	if len(sccs) != 2 {
		t.Fatalf("Expected 2 cycles, but found %d", len(sccs))
	}
	if !slices.Equal(sccs[0], []int64{1, 2}) {
		t.Errorf("Expected [1 2], got %v", sccs[0])
	}
	if !slices.Equal(sccs[1], []int64{3, 4, 5}) {
		t.Errorf("Expected [3 4 5], got %v", sccs[1])
	}
}

func TestTarjanSCC_LongChain(t *testing.T) {
	g := simple.NewDirectedGraph()
	const n = 100000
	for i := int64(0); i < n; i++ {
		g.AddNode(simple.Node(i))
	}
	for i := int64(0); i < n-1; i++ {
		g.SetEdge(g.NewEdge(g.Node(i), g.Node(i+1)))
	}
	g.SetEdge(g.NewEdge(g.Node(n-1), g.Node(0)))

	sccs := NewTarjanSCC(g).FindSCCs()

	if len(sccs) != 1 || len(sccs[0]) != n {
		t.Errorf("Expected one cycle of %d reroutes, got %d cycles", n, len(sccs))
	}
}

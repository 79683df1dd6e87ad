package graph

import (
	"slices"
	"testing"

	"github.com/ritzau/graph-layout/pkg/layout"
)

func TestNewRouteGraph(t *testing.T) {
	rg := NewRouteGraph()
	if rg == nil {
		t.Fatal("NewRouteGraph() returned nil")
	}

	if len(rg.Reroutes()) != 0 {
		t.Errorf("New graph should have 0 reroutes, got %d", len(rg.Reroutes()))
	}
}

func TestBuildRouteGraph(t *testing.T) {
	reroutes := map[int]layout.Reroute{
		1: {ID: 1},
		2: {ID: 2, ParentID: layout.IntPtr(1)},
		3: {ID: 3, ParentID: layout.IntPtr(2)},
		4: {ID: 4, ParentID: layout.IntPtr(1)},
	}
	links := map[int]layout.Link{
		10: {ID: 10, ParentID: layout.IntPtr(3)},
		11: {ID: 11, ParentID: layout.IntPtr(4)},
		12: {ID: 12},
	}

	rg := BuildRouteGraph(reroutes, links)

	if got := rg.Reroutes(); !slices.Equal(got, []int{1, 2, 3, 4}) {
		t.Errorf("Expected [1 2 3 4], got %v", got)
	}
	if p, ok := rg.Parent(3); !ok || p != 2 {
		t.Errorf("Expected parent 2, got %d (%v)", p, ok)
	}
	if got := rg.Children(1); !slices.Equal(got, []int{2, 4}) {
		t.Errorf("Expected children [2 4], got %v", got)
	}
	if got := rg.LinkChain(10); !slices.Equal(got, []int{3, 2, 1}) {
		t.Errorf("Expected chain [3 2 1], got %v", got)
	}
	if got := rg.LinkChain(12); len(got) != 0 {
		t.Errorf("Expected empty chain, got %v", got)
	}
	if got := rg.LinksThrough(1); !slices.Equal(got, []int{10, 11}) {
		t.Errorf("Expected links [10 11], got %v", got)
	}
	if got := rg.LinksThrough(2); !slices.Equal(got, []int{10}) {
		t.Errorf("Expected links [10], got %v", got)
	}
}

func TestChain_TerminatesOnCycle(t *testing.T) {
	rg := NewRouteGraph()
	rg.SetParent(1, 2)
	rg.SetParent(2, 1)

	if got := rg.Chain(1); !slices.Equal(got, []int{1, 2}) {
		t.Errorf("Expected [1 2], got %v", got)
	}
}

func TestChainCycle(t *testing.T) {
	rg := NewRouteGraph()
	rg.SetParent(1, 2)
	rg.SetParent(2, 3)
	rg.SetParent(3, 2)
	rg.SetParent(5, 4)
	rg.SetParent(6, 6)

	tests := []struct {
		start int
		want  []int
	}{
		{1, []int{2, 3}},
		{3, []int{3, 2}},
		{5, nil},
		{4, nil},
		{6, []int{6}},
		{42, nil},
	}
	for _, tt := range tests {
		if got := rg.ChainCycle(tt.start); !slices.Equal(got, tt.want) {
			t.Errorf("ChainCycle(%d): expected %v, got %v", tt.start, tt.want, got)
		}
	}
}

func TestSetParent_Replace(t *testing.T) {
	rg := NewRouteGraph()
	rg.SetParent(2, 1)
	rg.SetParent(2, 3)

	if p, _ := rg.Parent(2); p != 3 {
		t.Errorf("Expected parent 3, got %d", p)
	}
	if got := rg.Children(1); len(got) != 0 {
		t.Errorf("Expected old edge removed, got children %v", got)
	}

	rg.SetParent(2, 2)
	if got := rg.SelfLoops(); !slices.Equal(got, []int{2}) {
		t.Errorf("Expected self loop [2], got %v", got)
	}
	rg.ClearParent(2)
	if len(rg.SelfLoops()) != 0 {
		t.Errorf("Expected no self loops after clear, got %v", rg.SelfLoops())
	}
}

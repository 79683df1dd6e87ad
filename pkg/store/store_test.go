package store

import (
	"slices"
	"testing"
	"time"

	"github.com/ritzau/graph-layout/pkg/layout"
	"github.com/ritzau/graph-layout/pkg/layout/crdtstore"
	"github.com/ritzau/graph-layout/pkg/layout/memstore"
)

func backends() map[string]func() layout.Adapter {
	return map[string]func() layout.Adapter{
		"memory": func() layout.Adapter { return memstore.New() },
		"crdt":   func() layout.Adapter { return crdtstore.New("") },
	}
}

func TestStore_ViewportScenario(t *testing.T) {
	for name, newAdapter := range backends() {
		t.Run(name, func(t *testing.T) {
			s := New(newAdapter(), Options{Actor: "test"})
			defer s.Close()

			m := s.Mutator()
			_ = m.CreateNode("n1", layout.Point{X: 0, Y: 0}, layout.Size{Width: 100, Height: 50})
			_ = m.CreateNode("n2", layout.Point{X: 500, Y: 500}, layout.Size{Width: 100, Height: 50})

			got := s.QueryViewport(layout.Bounds{X: 0, Y: 0, Width: 200, Height: 200})
			if !slices.Equal(got, []string{"n1"}) {
				t.Errorf("Expected [n1], got %v", got)
			}
		})
	}
}

func TestStore_MovesAreDebounced(t *testing.T) {
	s := New(memstore.New(), Options{Debounce: time.Hour})
	defer s.Close()
	m := s.Mutator()
	_ = m.CreateNode("n1", layout.Point{}, layout.Size{Width: 10, Height: 10})

	_ = m.MoveNode("n1", layout.Point{X: 1000, Y: 1000})
	if got := s.QueryViewport(layout.Bounds{Width: 20, Height: 20}); !slices.Equal(got, []string{"n1"}) {
		t.Errorf("Expected stale index before flush, got %v", got)
	}
	if s.Stats().Pending != 1 {
		t.Errorf("Expected 1 pending update, got %d", s.Stats().Pending)
	}

	s.FlushIndex()
	if got := s.QueryViewport(layout.Bounds{X: 990, Y: 990, Width: 30, Height: 30}); !slices.Equal(got, []string{"n1"}) {
		t.Errorf("Expected n1 at new position after flush, got %v", got)
	}
}

func TestStore_DeletesAreImmediate(t *testing.T) {
	s := New(memstore.New(), Options{Debounce: time.Hour})
	defer s.Close()
	m := s.Mutator()
	_ = m.CreateNode("n1", layout.Point{}, layout.Size{Width: 10, Height: 10})
	_ = m.MoveNode("n1", layout.Point{X: 5})
	_ = m.DeleteNode("n1")

	if got := s.QueryViewport(spatialWorld()); len(got) != 0 {
		t.Errorf("Expected empty index, got %v", got)
	}
	s.FlushIndex()
	if got := s.QueryViewport(spatialWorld()); len(got) != 0 {
		t.Errorf("Expected deleted node not resurrected by flush, got %v", got)
	}
}

func TestStore_ResetAndRebuild(t *testing.T) {
	a := memstore.New()
	a.SetNode("pre", layout.NewNodeLayout("pre", layout.Point{}, layout.Size{Width: 1, Height: 1}))

	s := New(a, Options{})
	defer s.Close()
	if got := s.QueryViewport(spatialWorld()); !slices.Equal(got, []string{"pre"}) {
		t.Errorf("Expected existing node indexed at construction, got %v", got)
	}

	_ = s.Mutator().CreateReroute(1, layout.Point{X: 50, Y: 50}, nil, nil)
	if got := s.QueryReroutes(layout.Point{X: 55, Y: 50}, 2); !slices.Equal(got, []int{1}) {
		t.Errorf("Expected reroute 1 nearby, got %v", got)
	}

	s.Reset()
	if n := len(a.GetAllNodes()); n != 0 {
		t.Errorf("Expected adapter cleared, got %d nodes", n)
	}
	if got := s.QueryViewport(spatialWorld()); len(got) != 0 {
		t.Errorf("Expected node index cleared, got %v", got)
	}
	if got := s.QueryReroutes(layout.Point{X: 50, Y: 50}, 10); len(got) != 0 {
		t.Errorf("Expected reroute index cleared, got %v", got)
	}

	a.SetNode("late", layout.NewNodeLayout("late", layout.Point{}, layout.Size{Width: 1, Height: 1}))
	s.RebuildIndex()
	if got := s.QueryRadius(layout.Point{}, 5); !slices.Equal(got, []string{"late"}) {
		t.Errorf("Expected [late] after rebuild, got %v", got)
	}
	if s.Metrics().RebuildCount != 2 {
		t.Errorf("Expected 2 rebuilds, got %d", s.Metrics().RebuildCount)
	}
}

func TestStore_RemoteUpdatesReachIndex(t *testing.T) {
	local := crdtstore.New("a")
	remote := crdtstore.New("b")
	s := New(local, Options{Debounce: -1})
	defer s.Close()

	remote.SetNode("r1", layout.NewNodeLayout("r1", layout.Point{X: 40, Y: 40}, layout.Size{Width: 10, Height: 10}))
	if err := local.ApplyUpdate(remote.GetStateAsUpdate()); err != nil {
		t.Fatal(err)
	}

	if got := s.QueryViewport(layout.Bounds{X: 30, Y: 30, Width: 20, Height: 20}); !slices.Equal(got, []string{"r1"}) {
		t.Errorf("Expected remote node indexed, got %v", got)
	}
}

func TestStore_NodeView(t *testing.T) {
	s := New(memstore.New(), Options{Actor: "dom"})
	defer s.Close()
	_ = s.Mutator().CreateNode("n1", layout.Point{}, layout.Size{Width: 10, Height: 10})

	v := s.NodeView("n1")
	defer v.Close()
	v.StartDrag(1, layout.Point{X: 100, Y: 100})
	_ = v.HandleDrag(layout.Point{X: 110, Y: 100})
	v.EndDrag()

	if v.Position() != (layout.Point{X: 10}) {
		t.Errorf("Expected (10,0), got %v", v.Position())
	}
	if ops := s.Adapter().GetOperationsByActor("dom"); len(ops) != 2 {
		t.Errorf("Expected 2 ops by dom, got %d", len(ops))
	}
}

func spatialWorld() layout.Bounds {
	return layout.Bounds{X: -10000, Y: -10000, Width: 20000, Height: 20000}
}

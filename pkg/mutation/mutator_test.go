package mutation

import (
	"errors"
	"math"
	"slices"
	"testing"

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

func size(w, h float64) layout.Size { return layout.Size{Width: w, Height: h} }

func TestSetSource_SubscriberSeesActor(t *testing.T) {
	for name, newAdapter := range backends() {
		t.Run(name, func(t *testing.T) {
			a := newAdapter()
			m := New(a, "")
			if err := m.CreateNode("n1", layout.Point{}, size(100, 50)); err != nil {
				t.Fatal(err)
			}

			var seen, others []layout.Change
			a.Subscribe(func(c layout.Change) { seen = append(seen, c) })
			a.Subscribe(func(c layout.Change) {
				if c.Actor == "rendererA" {
					return
				}
				others = append(others, c)
			})

			m.SetSource("rendererA")
			if err := m.MoveNode("n1", layout.Point{X: 10, Y: 10}); err != nil {
				t.Fatalf("MoveNode failed: %v", err)
			}

			if len(seen) != 1 {
				t.Fatalf("Expected 1 change, got %d", len(seen))
			}
			if seen[0].Type != layout.ChangeSet || seen[0].Actor != "rendererA" {
				t.Errorf("Expected set by rendererA, got %s by %s", seen[0].Type, seen[0].Actor)
			}
			if !slices.Equal(seen[0].NodeIDs, []string{"n1"}) {
				t.Errorf("Expected [n1], got %v", seen[0].NodeIDs)
			}
			if len(others) != 0 {
				t.Errorf("Expected echo suppressed, got %+v", others)
			}

			n, _ := a.GetNode("n1")
			if n.Position != (layout.Point{X: 10, Y: 10}) || n.Bounds.X != 10 {
				t.Errorf("Expected node at (10,10) with matching bounds, got %+v", n)
			}

			ops := a.GetOperationsByActor("rendererA")
			if len(ops) != 1 || ops[0].Type != layout.OpMoveNode {
				t.Fatalf("Expected one moveNode op, got %+v", ops)
			}
			if *ops[0].PreviousPosition != (layout.Point{}) {
				t.Errorf("Expected previous position (0,0), got %v", *ops[0].PreviousPosition)
			}
		})
	}
}

func TestWithSource_IndependentActor(t *testing.T) {
	a := memstore.New()
	m := New(a, "base")
	other := m.WithSource("sync")
	other.SetSource("sync2")

	if m.Source() != "base" {
		t.Errorf("Expected base source unchanged, got %q", m.Source())
	}

	_ = other.CreateNode("n1", layout.Point{}, size(1, 1))
	if ops := a.GetOperationsByActor("sync2"); len(ops) != 1 {
		t.Errorf("Expected 1 op by sync2, got %d", len(ops))
	}
}

func TestMutator_UnknownIDsAreNoOps(t *testing.T) {
	a := memstore.New()
	m := New(a, "test")
	calls := 0
	a.Subscribe(func(layout.Change) { calls++ })

	checks := []error{
		m.MoveNode("missing", layout.Point{X: 1}),
		m.ResizeNode("missing", size(1, 1)),
		m.SetNodeZIndex("missing", 3),
		m.SetNodeVisible("missing", false),
		m.BringToFront("missing"),
		m.DeleteNode("missing"),
		m.MoveReroute(9, layout.Point{}),
		m.SetRerouteParent(9, nil),
		m.DeleteReroute(9),
		m.DeleteLink(9),
	}
	for i, err := range checks {
		if err != nil {
			t.Errorf("Check %d: expected nil, got %v", i, err)
		}
	}
	if calls != 0 {
		t.Errorf("Expected no notifications, got %d", calls)
	}
	if ops := a.GetOperationsSince(layout.MinTimestamp); len(ops) != 0 {
		t.Errorf("Expected no operations, got %d", len(ops))
	}
}

func TestMutator_RejectsInvalidGeometry(t *testing.T) {
	a := memstore.New()
	m := New(a, "test")
	_ = m.CreateNode("n1", layout.Point{}, size(1, 1))

	tests := []struct {
		name string
		err  error
	}{
		{"NaN position", m.MoveNode("n1", layout.Point{X: math.NaN()})},
		{"Inf create", m.CreateNode("n2", layout.Point{Y: math.Inf(1)}, size(1, 1))},
		{"negative size", m.ResizeNode("n1", size(-1, 5))},
		{"batch", m.BatchMoveNodes(map[string]layout.Point{"n1": {X: 1}, "n2": {X: math.NaN()}})},
	}
	for _, tt := range tests {
		if !errors.Is(tt.err, layout.ErrInvalidLayout) {
			t.Errorf("%s: expected ErrInvalidLayout, got %v", tt.name, tt.err)
		}
	}

	if n, _ := a.GetNode("n1"); n.Position.X != 0 || n.Size.Width != 1 {
		t.Errorf("Expected n1 untouched, got %+v", n)
	}
}

func TestMutator_NodeVerbs(t *testing.T) {
	a := memstore.New()
	m := New(a, "test")
	_ = m.CreateNode("a", layout.Point{}, size(10, 10))
	_ = m.CreateNode("b", layout.Point{}, size(10, 10))
	_ = m.SetNodeZIndex("b", 5)

	_ = m.ResizeNode("a", size(20, 30))
	_ = m.SetNodeVisible("a", false)
	_ = m.BringToFront("a")

	n, _ := a.GetNode("a")
	if n.Size != size(20, 30) || n.Bounds.Height != 30 {
		t.Errorf("Expected resized bounds, got %+v", n)
	}
	if n.Visible {
		t.Error("Expected a hidden")
	}
	if n.ZIndex != 6 {
		t.Errorf("Expected z-index 6, got %d", n.ZIndex)
	}

	ops := a.GetOperationsSince(layout.MinTimestamp)
	last := ops[len(ops)-1]
	if last.Type != layout.OpSetNodeZIndex || *last.PreviousZIndex != 0 || *last.ZIndex != 6 {
		t.Errorf("Expected z-index op 0 -> 6, got %+v", last)
	}

	_ = m.DeleteNode("b")
	if _, ok := a.GetNode("b"); ok {
		t.Error("Expected b deleted")
	}
	ops = a.GetOperationsSince(layout.MinTimestamp)
	if del := ops[len(ops)-1]; del.Type != layout.OpDeleteNode || del.Layout == nil || del.Layout.ZIndex != 5 {
		t.Errorf("Expected delete op carrying previous layout, got %+v", del)
	}
}

func TestBatchMoveNodes_OneNotification(t *testing.T) {
	a := memstore.New()
	m := New(a, "test")
	_ = m.CreateNode("a", layout.Point{}, size(1, 1))
	_ = m.CreateNode("b", layout.Point{}, size(1, 1))

	var changes []layout.Change
	a.Subscribe(func(c layout.Change) { changes = append(changes, c) })

	err := m.BatchMoveNodes(map[string]layout.Point{"a": {X: 1}, "b": {X: 2}, "ghost": {X: 3}})
	if err != nil {
		t.Fatal(err)
	}

	if len(changes) != 1 || !slices.Equal(changes[0].NodeIDs, []string{"a", "b"}) {
		t.Errorf("Expected one change for [a b], got %+v", changes)
	}
}

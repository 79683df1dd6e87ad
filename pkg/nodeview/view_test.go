package nodeview

import (
	"errors"
	"sync"
	"testing"

	"github.com/ritzau/graph-layout/pkg/layout"
	"github.com/ritzau/graph-layout/pkg/layout/memstore"
	"github.com/ritzau/graph-layout/pkg/mutation"
)

type recordingMover struct {
	*mutation.Mutator
	moves []layout.Point
}

func (r *recordingMover) MoveNode(id string, pos layout.Point) error {
	r.moves = append(r.moves, pos)
	return r.Mutator.MoveNode(id, pos)
}

type fakeCapture struct {
	captured []int
	released []int
	err      error
}

func (f *fakeCapture) Capture(id int) error {
	f.captured = append(f.captured, id)
	return f.err
}

func (f *fakeCapture) Release(id int) error {
	f.released = append(f.released, id)
	return f.err
}

func setup(t *testing.T) (*memstore.Adapter, *recordingMover) {
	t.Helper()
	a := memstore.New()
	m := mutation.New(a, "view")
	if err := m.CreateNode("n1", layout.Point{}, layout.Size{Width: 100, Height: 50}); err != nil {
		t.Fatal(err)
	}
	return a, &recordingMover{Mutator: m}
}

func TestView_DragGesture(t *testing.T) {
	a, mover := setup(t)
	pc := &fakeCapture{}
	v := New("n1", a, mover, WithPointerCapture(pc))
	defer v.Close()

	if !v.StartDrag(1, layout.Point{X: 100, Y: 100}) {
		t.Fatal("Expected drag to start")
	}
	if err := v.HandleDrag(layout.Point{X: 110, Y: 100}); err != nil {
		t.Fatalf("HandleDrag failed: %v", err)
	}

	if len(mover.moves) != 1 || mover.moves[0] != (layout.Point{X: 10, Y: 0}) {
		t.Fatalf("Expected one move to (10,0), got %v", mover.moves)
	}
	if v.Position() != (layout.Point{X: 10, Y: 0}) {
		t.Errorf("Expected view to follow the store, got %v", v.Position())
	}

	v.EndDrag()
	if len(pc.released) != 1 || pc.released[0] != 1 {
		t.Errorf("Expected pointer 1 released, got %v", pc.released)
	}

	_ = v.HandleDrag(layout.Point{X: 300, Y: 300})
	if len(mover.moves) != 1 {
		t.Errorf("Expected no moves after EndDrag, got %v", mover.moves)
	}
}

func TestView_DragUsesAbsolutePositionFromStart(t *testing.T) {
	a, mover := setup(t)
	zoom := Transform{Scale: 2}
	v := New("n1", a, mover, WithTransform(func() Transform { return zoom }))
	defer v.Close()

	v.StartDrag(1, layout.Point{X: 0, Y: 0})
	_ = v.HandleDrag(layout.Point{X: 10, Y: 4})
	_ = v.HandleDrag(layout.Point{X: 20, Y: 8})

	want := []layout.Point{{X: 5, Y: 2}, {X: 10, Y: 4}}
	if len(mover.moves) != 2 || mover.moves[0] != want[0] || mover.moves[1] != want[1] {
		t.Errorf("Expected %v, got %v", want, mover.moves)
	}
	if start, ok := v.DragStart(); !ok || start != (layout.Point{}) {
		t.Errorf("Expected drag start (0,0), got %v", start)
	}
}

func TestView_EndWithoutStartIsNoOp(t *testing.T) {
	a, mover := setup(t)
	pc := &fakeCapture{}
	v := New("n1", a, mover, WithPointerCapture(pc))
	defer v.Close()

	v.EndDrag()
	v.CancelDrag()
	if err := v.HandleDrag(layout.Point{X: 5}); err != nil {
		t.Errorf("Expected nil, got %v", err)
	}
	if len(pc.released) != 0 || len(mover.moves) != 0 {
		t.Errorf("Expected nothing to happen, got releases %v moves %v", pc.released, mover.moves)
	}
}

func TestView_CaptureFailureDoesNotStick(t *testing.T) {
	a, mover := setup(t)
	pc := &fakeCapture{err: errors.New("no such pointer")}
	v := New("n1", a, mover, WithPointerCapture(pc))
	defer v.Close()

	if !v.StartDrag(7, layout.Point{}) {
		t.Fatal("Expected drag to start despite capture failure")
	}
	v.CancelDrag()
	if v.Dragging() {
		t.Error("Expected drag state cleared after cancel")
	}
	if v.Position() != (layout.Point{}) {
		t.Errorf("Expected cancel not to revert or move, got %v", v.Position())
	}
}

func TestView_StartDragOnMissingNode(t *testing.T) {
	a, mover := setup(t)
	v := New("ghost", a, mover)
	defer v.Close()

	if v.StartDrag(1, layout.Point{}) {
		t.Error("Expected StartDrag to refuse a missing node")
	}
	if v.Visible() {
		t.Error("Expected missing node to be invisible")
	}
}

func TestView_WatchFollowsStore(t *testing.T) {
	a, mover := setup(t)
	v := New("n1", a, mover)
	defer v.Close()

	var seen []layout.NodeLayout
	var gone bool
	stop := v.Watch(func(l layout.NodeLayout, ok bool) {
		if !ok {
			gone = true
			return
		}
		seen = append(seen, l)
	})

	_ = mover.SetNodeZIndex("n1", 4)
	_ = v.Resize(layout.Size{Width: 10, Height: 20})
	_ = mover.MoveNode("other", layout.Point{X: 1})

	if len(seen) != 2 {
		t.Fatalf("Expected 2 updates, got %d", len(seen))
	}
	if v.ZIndex() != 4 || v.Size() != (layout.Size{Width: 10, Height: 20}) {
		t.Errorf("Expected z 4 and size 10x20, got %d %v", v.ZIndex(), v.Size())
	}
	if v.Bounds() != (layout.Bounds{Width: 10, Height: 20}) {
		t.Errorf("Expected derived bounds, got %v", v.Bounds())
	}

	a.Clear()
	if !gone {
		t.Error("Expected watcher to see the node disappear on clear")
	}

	stop()
	_ = mover.CreateNode("n1", layout.Point{}, layout.Size{})
	if len(seen) != 2 {
		t.Errorf("Expected no updates after unwatch, got %d", len(seen))
	}
	if _, ok := v.Layout(); !ok {
		t.Error("Expected view to see recreated node")
	}
}

func TestView_ConcurrentMovesSettleOnLatest(t *testing.T) {
	a, mover := setup(t)
	v := New("n1", a, mover)
	defer v.Close()

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			m := mover.WithSource("writer")
			for i := 0; i < 50; i++ {
				_ = m.MoveNode("n1", layout.Point{X: float64(w), Y: float64(i)})
			}
		}(w)
	}
	wg.Wait()

	want, _ := a.GetNode("n1")
	if got := v.Position(); got != want.Position {
		t.Errorf("Expected view at %+v, got %+v", want.Position, got)
	}
}

// Package adaptertest holds the behaviour every layout.Adapter must share.
// Backends call Run from their own tests.
package adaptertest

import (
	"errors"
	"math"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/ritzau/graph-layout/pkg/layout"
)

// Factory returns a fresh, empty adapter using the given options
type Factory func(opts ...layout.Option) layout.Adapter

// Run executes the conformance suite against adapters built by newAdapter
func Run(t *testing.T, newAdapter Factory) {
	tests := []struct {
		name string
		fn   func(t *testing.T, newAdapter Factory)
	}{
		{"NodeRoundTrip", testNodeRoundTrip},
		{"ReturnsCopies", testReturnsCopies},
		{"DeleteAbsentIsSilent", testDeleteAbsentIsSilent},
		{"NonFiniteIgnored", testNonFiniteIgnored},
		{"RerouteAndLinkRoundTrip", testRerouteAndLinkRoundTrip},
		{"Clear", testClear},
		{"TransactionAttribution", testTransactionAttribution},
		{"TransactionSingleNotification", testTransactionSingleNotification},
		{"TransactionReadsOwnWrites", testTransactionReadsOwnWrites},
		{"TransactionErrorRollsBack", testTransactionErrorRollsBack},
		{"TransactionPanicRestoresActor", testTransactionPanicRestoresActor},
		{"DefaultActor", testDefaultActor},
		{"SubscriberPanicIsolated", testSubscriberPanicIsolated},
		{"Unsubscribe", testUnsubscribe},
		{"OperationLog", testOperationLog},
		{"SyncRoundTrip", testSyncRoundTrip},
		{"MalformedUpdate", testMalformedUpdate},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.fn(t, newAdapter)
		})
	}
}

// recorder collects changes delivered to a subscriber
type recorder struct {
	mu      sync.Mutex
	changes []layout.Change
}

func record(a layout.Adapter) *recorder {
	r := &recorder{}
	a.Subscribe(func(c layout.Change) {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.changes = append(r.changes, c)
	})
	return r
}

func (r *recorder) all() []layout.Change {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]layout.Change, len(r.changes))
	copy(out, r.changes)
	return out
}

func (r *recorder) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.changes = nil
}

func node(id string, x, y, w, h float64) layout.NodeLayout {
	return layout.NewNodeLayout(id, layout.Point{X: x, Y: y}, layout.Size{Width: w, Height: h})
}

func testNodeRoundTrip(t *testing.T, newAdapter Factory) {
	a := newAdapter()
	rec := record(a)

	want := node("n1", 10, 20, 100, 50)
	want.ZIndex = 3
	a.SetNode("n1", want)

	got, ok := a.GetNode("n1")
	if !ok {
		t.Fatal("Expected n1 to exist")
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Expected %+v, got %+v", want, got)
	}
	if got.Bounds != layout.BoundsOf(got.Position, got.Size) {
		t.Errorf("Expected bounds derived from position and size, got %+v", got.Bounds)
	}

	changes := rec.all()
	if len(changes) != 1 {
		t.Fatalf("Expected 1 change, got %d", len(changes))
	}
	if changes[0].Type != layout.ChangeSet || !reflect.DeepEqual(changes[0].NodeIDs, []string{"n1"}) {
		t.Errorf("Expected set [n1], got %s %v", changes[0].Type, changes[0].NodeIDs)
	}
	if changes[0].Actor != layout.DefaultActor {
		t.Errorf("Expected actor %q, got %q", layout.DefaultActor, changes[0].Actor)
	}

	a.DeleteNode("n1")
	if _, ok := a.GetNode("n1"); ok {
		t.Error("Expected n1 to be deleted")
	}
	changes = rec.all()
	if len(changes) != 2 || changes[1].Type != layout.ChangeDelete {
		t.Errorf("Expected a delete change, got %+v", changes)
	}
}

func testReturnsCopies(t *testing.T, newAdapter Factory) {
	a := newAdapter()
	a.SetNode("n1", node("n1", 0, 0, 10, 10))
	a.SetReroute(1, layout.Reroute{Position: layout.Point{X: 1, Y: 1}, LinkIDs: []int{7}})

	all := a.GetAllNodes()
	n := all["n1"]
	n.Position.X = 999
	all["n1"] = n
	delete(all, "n1")

	if got, _ := a.GetNode("n1"); got.Position.X != 0 {
		t.Errorf("Expected stored node to be unchanged, got x=%v", got.Position.X)
	}

	r, _ := a.GetReroute(1)
	r.LinkIDs[0] = 42
	if got, _ := a.GetReroute(1); got.LinkIDs[0] != 7 {
		t.Errorf("Expected stored reroute to be unchanged, got %v", got.LinkIDs)
	}
}

func testDeleteAbsentIsSilent(t *testing.T, newAdapter Factory) {
	a := newAdapter()
	rec := record(a)

	a.DeleteNode("missing")
	a.DeleteReroute(5)
	a.DeleteLink(5)

	if n := len(rec.all()); n != 0 {
		t.Errorf("Expected no notifications, got %d", n)
	}
}

func testNonFiniteIgnored(t *testing.T, newAdapter Factory) {
	a := newAdapter()
	a.SetNode("n1", node("n1", 1, 2, 10, 10))
	rec := record(a)

	nan, inf := math.NaN(), math.Inf(1)
	a.SetNode("n1", node("n1", nan, 2, 10, 10))
	a.SetNode("n2", node("n2", 0, 0, inf, 10))
	a.SetReroute(1, layout.Reroute{ID: 1, Position: layout.Point{X: inf}})
	a.AddOperation(layout.Operation{Type: layout.OpMoveNode, NodeID: "n1", Position: &layout.Point{Y: nan}})

	if n := len(rec.all()); n != 0 {
		t.Errorf("Expected no notifications, got %d", n)
	}
	if got, _ := a.GetNode("n1"); got.Position != (layout.Point{X: 1, Y: 2}) {
		t.Errorf("Expected n1 unchanged, got %+v", got.Position)
	}
	if _, ok := a.GetNode("n2"); ok {
		t.Error("Expected n2 not to be stored")
	}
	if _, ok := a.GetReroute(1); ok {
		t.Error("Expected reroute 1 not to be stored")
	}
	if n := len(a.GetOperationsSince(layout.MinTimestamp)); n != 0 {
		t.Errorf("Expected no operations, got %d", n)
	}

	// the state must still encode
	b := newAdapter()
	if err := b.ApplyUpdate(a.GetStateAsUpdate()); err != nil {
		t.Fatalf("ApplyUpdate failed: %v", err)
	}
	if len(a.GetStateVector()) == 0 {
		t.Error("Expected a state vector")
	}
	if !reflect.DeepEqual(a.GetAllNodes(), b.GetAllNodes()) {
		t.Errorf("Expected replica to match, got %v", b.GetAllNodes())
	}
}

func testRerouteAndLinkRoundTrip(t *testing.T, newAdapter Factory) {
	a := newAdapter()
	rec := record(a)

	r := layout.Reroute{Position: layout.Point{X: 5, Y: 6}, ParentID: layout.IntPtr(2), LinkIDs: []int{10, 11}}
	a.SetReroute(1, r)
	l := layout.Link{OriginID: "n1", OriginSlot: 0, TargetID: "n2", TargetSlot: 1, ParentID: layout.IntPtr(1)}
	a.SetLink(10, l)

	gotR, ok := a.GetReroute(1)
	r.ID = 1
	if !ok || !reflect.DeepEqual(gotR, r) {
		t.Errorf("Expected %+v, got %+v", r, gotR)
	}
	gotL, ok := a.GetLink(10)
	l.ID = 10
	if !ok || !reflect.DeepEqual(gotL, l) {
		t.Errorf("Expected %+v, got %+v", l, gotL)
	}
	if len(a.GetAllReroutes()) != 1 || len(a.GetAllLinks()) != 1 {
		t.Errorf("Expected one reroute and one link")
	}

	changes := rec.all()
	if len(changes) != 2 {
		t.Fatalf("Expected 2 changes, got %d", len(changes))
	}
	if !reflect.DeepEqual(changes[0].RerouteIDs, []int{1}) || !reflect.DeepEqual(changes[1].LinkIDs, []int{10}) {
		t.Errorf("Expected reroute then link ids, got %+v", changes)
	}
	if len(changes[0].NodeIDs) != 0 {
		t.Errorf("Expected no node ids, got %v", changes[0].NodeIDs)
	}
}

func testClear(t *testing.T, newAdapter Factory) {
	a := newAdapter()
	rec := record(a)

	a.Clear()
	if n := len(rec.all()); n != 0 {
		t.Errorf("Expected no notification when clearing an empty adapter, got %d", n)
	}

	a.SetNode("n1", node("n1", 0, 0, 1, 1))
	a.SetNode("n2", node("n2", 0, 0, 1, 1))
	a.SetReroute(1, layout.Reroute{})
	a.AddOperation(layout.Operation{Type: layout.OpCreateNode, NodeID: "n1"})
	rec.reset()

	a.Clear()

	if len(a.GetAllNodes()) != 0 || len(a.GetAllReroutes()) != 0 {
		t.Error("Expected all entities removed")
	}
	if ops := a.GetOperationsSince(layout.MinTimestamp); len(ops) != 0 {
		t.Errorf("Expected empty operation log, got %d", len(ops))
	}

	changes := rec.all()
	if len(changes) != 1 {
		t.Fatalf("Expected 1 change, got %d", len(changes))
	}
	if changes[0].Type != layout.ChangeClear {
		t.Errorf("Expected clear, got %s", changes[0].Type)
	}
	if !reflect.DeepEqual(changes[0].NodeIDs, []string{"n1", "n2"}) {
		t.Errorf("Expected [n1 n2], got %v", changes[0].NodeIDs)
	}
	if !reflect.DeepEqual(changes[0].RerouteIDs, []int{1}) {
		t.Errorf("Expected [1], got %v", changes[0].RerouteIDs)
	}
}

func testTransactionAttribution(t *testing.T, newAdapter Factory) {
	a := newAdapter()
	rec := record(a)

	var inside string
	err := a.Transaction("rendererA", func(w layout.Writer) error {
		inside = a.CurrentActor()
		if w.Actor() != "rendererA" {
			t.Errorf("Expected writer actor rendererA, got %q", w.Actor())
		}
		w.SetNode("n1", node("n1", 0, 0, 1, 1))
		w.AddOperation(layout.Operation{Type: layout.OpCreateNode, NodeID: "n1"})
		return nil
	})
	if err != nil {
		t.Fatalf("Transaction failed: %v", err)
	}

	if inside != "rendererA" {
		t.Errorf("Expected current actor rendererA inside transaction, got %q", inside)
	}
	if got := a.CurrentActor(); got != layout.DefaultActor {
		t.Errorf("Expected actor restored to %q, got %q", layout.DefaultActor, got)
	}

	changes := rec.all()
	if len(changes) != 1 || changes[0].Actor != "rendererA" {
		t.Errorf("Expected one change by rendererA, got %+v", changes)
	}

	ops := a.GetOperationsByActor("rendererA")
	if len(ops) != 1 || ops[0].NodeID != "n1" {
		t.Errorf("Expected one operation by rendererA, got %+v", ops)
	}
}

func testTransactionSingleNotification(t *testing.T, newAdapter Factory) {
	a := newAdapter()
	a.SetNode("gone", node("gone", 0, 0, 1, 1))
	rec := record(a)

	_ = a.Transaction("batch", func(w layout.Writer) error {
		w.SetNode("a", node("a", 0, 0, 1, 1))
		w.SetNode("b", node("b", 0, 0, 1, 1))
		w.SetNode("a", node("a", 5, 5, 1, 1))
		w.DeleteNode("gone")
		return nil
	})

	changes := rec.all()
	if len(changes) != 2 {
		t.Fatalf("Expected a delete and a set change, got %+v", changes)
	}
	if changes[0].Type != layout.ChangeDelete || !reflect.DeepEqual(changes[0].NodeIDs, []string{"gone"}) {
		t.Errorf("Expected delete [gone] first, got %s %v", changes[0].Type, changes[0].NodeIDs)
	}
	if changes[1].Type != layout.ChangeSet || !reflect.DeepEqual(changes[1].NodeIDs, []string{"a", "b"}) {
		t.Errorf("Expected set [a b], got %s %v", changes[1].Type, changes[1].NodeIDs)
	}
	if got, _ := a.GetNode("a"); got.Position.X != 5 {
		t.Errorf("Expected last write to win, got x=%v", got.Position.X)
	}
}

func testTransactionReadsOwnWrites(t *testing.T, newAdapter Factory) {
	a := newAdapter()
	a.SetNode("n1", node("n1", 0, 0, 1, 1))

	_ = a.Transaction("t", func(w layout.Writer) error {
		w.SetNode("n2", node("n2", 0, 0, 1, 1))
		w.DeleteNode("n1")
		if _, ok := w.GetNode("n2"); !ok {
			t.Error("Expected staged node to be readable")
		}
		if _, ok := w.GetNode("n1"); ok {
			t.Error("Expected staged delete to hide n1")
		}
		if all := w.GetAllNodes(); len(all) != 1 {
			t.Errorf("Expected 1 node inside transaction, got %d", len(all))
		}
		if _, ok := a.GetNode("n2"); ok {
			t.Error("Expected staged node to be invisible outside the transaction")
		}
		return nil
	})
}

func testTransactionErrorRollsBack(t *testing.T, newAdapter Factory) {
	a := newAdapter()
	rec := record(a)
	boom := errors.New("boom")

	err := a.Transaction("t", func(w layout.Writer) error {
		w.SetNode("n1", node("n1", 0, 0, 1, 1))
		w.AddOperation(layout.Operation{Type: layout.OpCreateNode, NodeID: "n1"})
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("Expected boom, got %v", err)
	}
	if _, ok := a.GetNode("n1"); ok {
		t.Error("Expected write to be discarded")
	}
	if ops := a.GetOperationsSince(layout.MinTimestamp); len(ops) != 0 {
		t.Errorf("Expected no operations, got %d", len(ops))
	}
	if n := len(rec.all()); n != 0 {
		t.Errorf("Expected no notifications, got %d", n)
	}
	if got := a.CurrentActor(); got != layout.DefaultActor {
		t.Errorf("Expected actor restored, got %q", got)
	}
}

func testTransactionPanicRestoresActor(t *testing.T, newAdapter Factory) {
	a := newAdapter()

	func() {
		defer func() {
			if recover() == nil {
				t.Error("Expected panic to propagate")
			}
		}()
		_ = a.Transaction("t", func(w layout.Writer) error {
			w.SetNode("n1", node("n1", 0, 0, 1, 1))
			panic("boom")
		})
	}()

	if got := a.CurrentActor(); got != layout.DefaultActor {
		t.Errorf("Expected actor restored after panic, got %q", got)
	}
	if _, ok := a.GetNode("n1"); ok {
		t.Error("Expected staged write to be dropped")
	}
}

func testDefaultActor(t *testing.T, newAdapter Factory) {
	a := newAdapter(layout.WithDefaultActor("server"))
	if got := a.CurrentActor(); got != "server" {
		t.Errorf("Expected server, got %q", got)
	}

	a.SetDefaultActor("importer")
	rec := record(a)
	a.SetNode("n1", node("n1", 0, 0, 1, 1))
	if changes := rec.all(); len(changes) != 1 || changes[0].Actor != "importer" {
		t.Errorf("Expected change by importer, got %+v", changes)
	}

	_ = a.Transaction("outer", func(w layout.Writer) error {
		// single writes inside a transaction's callback run as their own transaction
		a.SetNode("n2", node("n2", 0, 0, 1, 1))
		return nil
	})
	if changes := rec.all(); len(changes) != 2 || changes[1].Actor != "outer" {
		t.Errorf("Expected nested single write attributed to outer, got %+v", changes)
	}
}

func testSubscriberPanicIsolated(t *testing.T, newAdapter Factory) {
	a := newAdapter()
	a.Subscribe(func(layout.Change) { panic("subscriber bug") })
	rec := record(a)

	a.SetNode("n1", node("n1", 0, 0, 1, 1))

	if n := len(rec.all()); n != 1 {
		t.Errorf("Expected later subscriber to still be notified, got %d changes", n)
	}
	if _, ok := a.GetNode("n1"); !ok {
		t.Error("Expected write to commit despite subscriber panic")
	}
}

func testUnsubscribe(t *testing.T, newAdapter Factory) {
	a := newAdapter()
	calls := 0
	unsubscribe := a.Subscribe(func(layout.Change) { calls++ })

	a.SetNode("n1", node("n1", 0, 0, 1, 1))
	unsubscribe()
	unsubscribe()
	a.SetNode("n2", node("n2", 0, 0, 1, 1))

	if calls != 1 {
		t.Errorf("Expected 1 call, got %d", calls)
	}
}

func testOperationLog(t *testing.T, newAdapter Factory) {
	var mu sync.Mutex
	now := time.UnixMilli(1000)
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		now = now.Add(time.Millisecond)
		return now
	}
	a := newAdapter(layout.WithClock(clock))

	a.AddOperation(layout.Operation{Type: layout.OpCreateNode, NodeID: "n1"})
	_ = a.Transaction("alice", func(w layout.Writer) error {
		w.AddOperation(layout.Operation{Type: layout.OpMoveNode, NodeID: "n1"})
		return nil
	})
	a.AddOperation(layout.Operation{Type: layout.OpDeleteNode, NodeID: "n1", Actor: "bob", Timestamp: 5000})

	all := a.GetOperationsSince(layout.MinTimestamp)
	if len(all) != 3 {
		t.Fatalf("Expected 3 operations, got %d", len(all))
	}
	if all[0].Actor != layout.DefaultActor || all[0].Timestamp != 1001 {
		t.Errorf("Expected stamped default operation, got %+v", all[0])
	}
	if all[2].Actor != "bob" || all[2].Timestamp != 5000 {
		t.Errorf("Expected explicit actor and timestamp kept, got %+v", all[2])
	}

	since := a.GetOperationsSince(all[0].Timestamp)
	if len(since) != 2 || since[0].Type != layout.OpMoveNode {
		t.Errorf("Expected operations strictly after the first, got %+v", since)
	}
	if ops := a.GetOperationsByActor("alice"); len(ops) != 1 || ops[0].Type != layout.OpMoveNode {
		t.Errorf("Expected alice's move, got %+v", ops)
	}
	if ops := a.GetOperationsByActor("nobody"); ops == nil || len(ops) != 0 {
		t.Errorf("Expected empty non-nil slice, got %#v", ops)
	}
}

func testSyncRoundTrip(t *testing.T, newAdapter Factory) {
	src := newAdapter()
	src.SetNode("n1", node("n1", 1, 2, 3, 4))
	src.SetReroute(1, layout.Reroute{Position: layout.Point{X: 9, Y: 9}, LinkIDs: []int{3}})
	src.SetLink(3, layout.Link{OriginID: "n1", TargetID: "n2", ParentID: layout.IntPtr(1)})
	src.AddOperation(layout.Operation{Type: layout.OpCreateNode, NodeID: "n1"})

	dst := newAdapter()
	rec := record(dst)

	update := src.GetStateAsUpdate()
	if err := dst.ApplyUpdate(update); err != nil {
		t.Fatalf("ApplyUpdate failed: %v", err)
	}
	if err := dst.ApplyUpdate(update); err != nil {
		t.Fatalf("Second ApplyUpdate failed: %v", err)
	}

	if !reflect.DeepEqual(src.GetAllNodes(), dst.GetAllNodes()) {
		t.Errorf("Expected nodes %v, got %v", src.GetAllNodes(), dst.GetAllNodes())
	}
	if !reflect.DeepEqual(src.GetAllReroutes(), dst.GetAllReroutes()) {
		t.Errorf("Expected reroutes %v, got %v", src.GetAllReroutes(), dst.GetAllReroutes())
	}
	if !reflect.DeepEqual(src.GetAllLinks(), dst.GetAllLinks()) {
		t.Errorf("Expected links %v, got %v", src.GetAllLinks(), dst.GetAllLinks())
	}
	if ops := dst.GetOperationsSince(layout.MinTimestamp); len(ops) != 1 {
		t.Errorf("Expected 1 operation after applying twice, got %d", len(ops))
	}

	changes := rec.all()
	if len(changes) == 0 || changes[0].Actor != layout.RemoteActor {
		t.Errorf("Expected changes attributed to %q, got %+v", layout.RemoteActor, changes)
	}
	if len(src.GetStateVector()) == 0 {
		t.Error("Expected a non-empty state vector")
	}
}

func testMalformedUpdate(t *testing.T, newAdapter Factory) {
	a := newAdapter()
	a.SetNode("n1", node("n1", 0, 0, 1, 1))

	err := a.ApplyUpdate([]byte("definitely not an update"))
	if !errors.Is(err, layout.ErrMalformedUpdate) {
		t.Errorf("Expected ErrMalformedUpdate, got %v", err)
	}
	if _, ok := a.GetNode("n1"); !ok {
		t.Error("Expected state untouched by a malformed update")
	}
}

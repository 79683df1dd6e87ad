package memstore

import (
	"testing"

	"github.com/ritzau/graph-layout/pkg/layout"
	"github.com/ritzau/graph-layout/pkg/layout/adaptertest"
)

func TestAdapter(t *testing.T) {
	adaptertest.Run(t, func(opts ...layout.Option) layout.Adapter {
		return New(opts...)
	})
}

func TestApplyUpdate_KeepsLocalEntities(t *testing.T) {
	src := New()
	src.SetNode("n1", layout.NewNodeLayout("n1", layout.Point{}, layout.Size{Width: 1, Height: 1}))

	dst := New()
	dst.SetNode("local", layout.NewNodeLayout("local", layout.Point{}, layout.Size{Width: 1, Height: 1}))

	if err := dst.ApplyUpdate(src.GetStateAsUpdate()); err != nil {
		t.Fatalf("ApplyUpdate failed: %v", err)
	}

	if n := len(dst.GetAllNodes()); n != 2 {
		t.Errorf("Expected 2 nodes after merge, got %d", n)
	}
}

func TestGetStateVector_TracksContent(t *testing.T) {
	a := New()
	empty := string(a.GetStateVector())

	a.SetNode("n1", layout.NewNodeLayout("n1", layout.Point{}, layout.Size{}))
	if string(a.GetStateVector()) == empty {
		t.Error("Expected state vector to change after a write")
	}

	b := New()
	if err := b.ApplyUpdate(a.GetStateAsUpdate()); err != nil {
		t.Fatal(err)
	}
	if string(a.GetStateVector()) != string(b.GetStateVector()) {
		t.Error("Expected equal state vectors for equal state")
	}
}

// Package mutation is the sanctioned write path into a layout adapter.
//
// Every verb runs as one adapter transaction attributed to the mutator's
// current source, records an operation carrying the previous value, and
// leaves notification to the adapter. Unknown ids are ignored.
package mutation

import (
	"fmt"
	"maps"
	"math"
	"slices"
	"sync"

	"github.com/ritzau/graph-layout/pkg/layout"
	"github.com/ritzau/graph-layout/pkg/logging"
)

// Mutator applies attributed edits to an adapter
type Mutator struct {
	adapter layout.Adapter

	mu     sync.RWMutex
	source string
}

// New creates a mutator writing as source. An empty source uses layout.DefaultActor.
func New(adapter layout.Adapter, source string) *Mutator {
	if source == "" {
		source = layout.DefaultActor
	}
	return &Mutator{adapter: adapter, source: source}
}

// Adapter returns the adapter being written to
func (m *Mutator) Adapter() layout.Adapter { return m.adapter }

// SetSource attributes every following mutation to actor
func (m *Mutator) SetSource(actor string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.source = actor
}

// Source returns the actor mutations are attributed to
func (m *Mutator) Source() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.source
}

// WithSource returns a mutator on the same adapter bound to actor.
// Changing its source does not affect m.
func (m *Mutator) WithSource(actor string) *Mutator {
	return New(m.adapter, actor)
}

func (m *Mutator) run(verb string, fn func(w layout.Writer) error) error {
	source := m.Source()
	err := m.adapter.Transaction(source, fn)
	if err != nil {
		logging.Debug("mutation rejected", "verb", verb, "actor", source, "error", err)
	}
	return err
}

func finite(vs ...float64) bool {
	for _, v := range vs {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

func checkPoint(what string, p layout.Point) error {
	if !finite(p.X, p.Y) {
		return fmt.Errorf("%w: %s position %v", layout.ErrInvalidLayout, what, p)
	}
	return nil
}

func checkSize(what string, s layout.Size) error {
	if !finite(s.Width, s.Height) || s.Width < 0 || s.Height < 0 {
		return fmt.Errorf("%w: %s size %v", layout.ErrInvalidLayout, what, s)
	}
	return nil
}

func ptr[T any](v T) *T { return &v }

// CreateNode adds a visible node at z-index 0, replacing any node with the same id
func (m *Mutator) CreateNode(id string, pos layout.Point, size layout.Size) error {
	if err := checkPoint("node "+id, pos); err != nil {
		return err
	}
	if err := checkSize("node "+id, size); err != nil {
		return err
	}

	return m.run("createNode", func(w layout.Writer) error {
		l := layout.NewNodeLayout(id, pos, size)
		w.SetNode(id, l)
		w.AddOperation(layout.Operation{Type: layout.OpCreateNode, NodeID: id, Layout: &l})
		return nil
	})
}

// DeleteNode removes a node
func (m *Mutator) DeleteNode(id string) error {
	return m.run("deleteNode", func(w layout.Writer) error {
		prev, ok := w.GetNode(id)
		if !ok {
			return nil
		}
		w.DeleteNode(id)
		w.AddOperation(layout.Operation{Type: layout.OpDeleteNode, NodeID: id, Layout: &prev})
		return nil
	})
}

// MoveNode sets a node's absolute position
func (m *Mutator) MoveNode(id string, pos layout.Point) error {
	if err := checkPoint("node "+id, pos); err != nil {
		return err
	}

	return m.run("moveNode", func(w layout.Writer) error {
		moveNode(w, id, pos)
		return nil
	})
}

func moveNode(w layout.Writer, id string, pos layout.Point) {
	prev, ok := w.GetNode(id)
	if !ok {
		return
	}
	w.SetNode(id, prev.WithPosition(pos))
	w.AddOperation(layout.Operation{
		Type:             layout.OpMoveNode,
		NodeID:           id,
		Position:         &pos,
		PreviousPosition: ptr(prev.Position),
	})
}

// BatchMoveNodes moves several nodes in one transaction.
// Nothing is written when any position is invalid.
func (m *Mutator) BatchMoveNodes(positions map[string]layout.Point) error {
	ids := slices.Sorted(maps.Keys(positions))
	for _, id := range ids {
		if err := checkPoint("node "+id, positions[id]); err != nil {
			return err
		}
	}

	return m.run("batchMoveNodes", func(w layout.Writer) error {
		for _, id := range ids {
			moveNode(w, id, positions[id])
		}
		return nil
	})
}

// ResizeNode sets a node's size
func (m *Mutator) ResizeNode(id string, size layout.Size) error {
	if err := checkSize("node "+id, size); err != nil {
		return err
	}

	return m.run("resizeNode", func(w layout.Writer) error {
		prev, ok := w.GetNode(id)
		if !ok {
			return nil
		}
		w.SetNode(id, prev.WithSize(size))
		w.AddOperation(layout.Operation{
			Type:         layout.OpResizeNode,
			NodeID:       id,
			Size:         &size,
			PreviousSize: ptr(prev.Size),
		})
		return nil
	})
}

// SetNodeZIndex sets a node's paint order
func (m *Mutator) SetNodeZIndex(id string, z int) error {
	return m.run("setNodeZIndex", func(w layout.Writer) error {
		setZIndex(w, id, z)
		return nil
	})
}

func setZIndex(w layout.Writer, id string, z int) {
	prev, ok := w.GetNode(id)
	if !ok {
		return
	}
	next := prev
	next.ZIndex = z
	w.SetNode(id, next)
	w.AddOperation(layout.Operation{
		Type:           layout.OpSetNodeZIndex,
		NodeID:         id,
		ZIndex:         &z,
		PreviousZIndex: ptr(prev.ZIndex),
	})
}

// BringToFront raises a node above every other node
func (m *Mutator) BringToFront(id string) error {
	return m.run("bringToFront", func(w layout.Writer) error {
		self, ok := w.GetNode(id)
		if !ok {
			return nil
		}
		top, others := math.MinInt, 0
		for otherID, n := range w.GetAllNodes() {
			if otherID != id {
				top = max(top, n.ZIndex)
				others++
			}
		}
		if others == 0 || self.ZIndex > top {
			return nil
		}
		setZIndex(w, id, top+1)
		return nil
	})
}

// SetNodeVisible shows or hides a node
func (m *Mutator) SetNodeVisible(id string, visible bool) error {
	return m.run("setNodeVisible", func(w layout.Writer) error {
		prev, ok := w.GetNode(id)
		if !ok {
			return nil
		}
		next := prev
		next.Visible = visible
		w.SetNode(id, next)
		w.AddOperation(layout.Operation{
			Type:            layout.OpSetNodeVisible,
			NodeID:          id,
			Visible:         &visible,
			PreviousVisible: ptr(prev.Visible),
		})
		return nil
	})
}

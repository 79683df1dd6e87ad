// Package nodeview projects one node's layout for a renderer and turns
// pointer gestures into mutation calls.
package nodeview

import (
	"sync"

	"github.com/ritzau/graph-layout/pkg/layout"
	"github.com/ritzau/graph-layout/pkg/logging"
)

// Source is the read side a view observes
type Source interface {
	GetNode(id string) (layout.NodeLayout, bool)
	Subscribe(fn func(layout.Change)) func()
}

// Mover is the write side a view drives
type Mover interface {
	MoveNode(id string, pos layout.Point) error
	ResizeNode(id string, size layout.Size) error
}

// Transform is the canvas pan/zoom applied to model coordinates
type Transform struct {
	Scale   float64
	OffsetX float64
	OffsetY float64
}

// Identity is the transform at 100% zoom with no pan
var Identity = Transform{Scale: 1}

// ToModel converts a screen-space delta into model space
func (t Transform) ToModel(dx, dy float64) (float64, float64) {
	s := t.Scale
	if s <= 0 {
		s = 1
	}
	return dx / s, dy / s
}

// PointerCapture routes every event of a pointer to one element while it is held
type PointerCapture interface {
	Capture(pointerID int) error
	Release(pointerID int) error
}

// Option configures a View
type Option func(*View)

// WithTransform sets the function queried for the current canvas transform
func WithTransform(fn func() Transform) Option {
	return func(v *View) { v.transform = fn }
}

// WithPointerCapture sets the capture used during drags
func WithPointerCapture(pc PointerCapture) Option {
	return func(v *View) { v.capture = pc }
}

// View is a live projection of a single node
type View struct {
	id        string
	source    Source
	mover     Mover
	transform func() Transform
	capture   PointerCapture

	mu       sync.RWMutex
	current  layout.NodeLayout
	exists   bool
	drag     *dragState
	watchers map[int]func(layout.NodeLayout, bool)
	nextID   int

	unsubscribe func()
}

type dragState struct {
	pointerID   int
	startScreen layout.Point
	startPos    layout.Point
}

// New creates a view of node id. Close it when the node leaves the screen.
func New(id string, source Source, mover Mover, opts ...Option) *View {
	v := &View{
		id:        id,
		source:    source,
		mover:     mover,
		transform: func() Transform { return Identity },
		watchers:  make(map[int]func(layout.NodeLayout, bool)),
	}
	for _, opt := range opts {
		opt(v)
	}

	v.current, v.exists = source.GetNode(id)
	v.unsubscribe = source.Subscribe(v.onChange)
	return v
}

func (v *View) onChange(c layout.Change) {
	if c.Type != layout.ChangeClear && !c.Touches(v.id) {
		return
	}
	v.refresh()
}

// refresh reads the node under v.mu so that concurrent notifications
// store reads in the order they were taken
func (v *View) refresh() {
	v.mu.Lock()
	next, ok := v.source.GetNode(v.id)
	if ok == v.exists && next == v.current {
		v.mu.Unlock()
		return
	}
	v.current, v.exists = next, ok
	watchers := make([]func(layout.NodeLayout, bool), 0, len(v.watchers))
	for i := 0; i < v.nextID; i++ {
		if fn, ok := v.watchers[i]; ok {
			watchers = append(watchers, fn)
		}
	}
	v.mu.Unlock()

	for _, fn := range watchers {
		fn(next, ok)
	}
}

// Close stops observing the store. An active drag is cancelled.
func (v *View) Close() {
	v.CancelDrag()
	v.unsubscribe()
}

// ID returns the node id
func (v *View) ID() string { return v.id }

// Layout returns the node's layout and whether it exists
func (v *View) Layout() (layout.NodeLayout, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.current, v.exists
}

// Position returns the node's model position
func (v *View) Position() layout.Point {
	l, _ := v.Layout()
	return l.Position
}

// Size returns the node's size
func (v *View) Size() layout.Size {
	l, _ := v.Layout()
	return l.Size
}

// Bounds returns the node's bounding box
func (v *View) Bounds() layout.Bounds {
	l, _ := v.Layout()
	return l.Bounds
}

// Visible reports whether the node exists and is shown
func (v *View) Visible() bool {
	l, ok := v.Layout()
	return ok && l.Visible
}

// ZIndex returns the node's paint order
func (v *View) ZIndex() int {
	l, _ := v.Layout()
	return l.ZIndex
}

// Watch calls fn after every change to the node's layout.
// The bool is false once the node has been deleted.
func (v *View) Watch(fn func(layout.NodeLayout, bool)) func() {
	v.mu.Lock()
	defer v.mu.Unlock()

	id := v.nextID
	v.nextID++
	v.watchers[id] = fn

	return func() {
		v.mu.Lock()
		defer v.mu.Unlock()
		delete(v.watchers, id)
	}
}

// MoveTo sets the node's absolute position
func (v *View) MoveTo(pos layout.Point) error {
	return v.mover.MoveNode(v.id, pos)
}

// Resize sets the node's size
func (v *View) Resize(size layout.Size) error {
	return v.mover.ResizeNode(v.id, size)
}

// Dragging reports whether a gesture is in progress
func (v *View) Dragging() bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.drag != nil
}

// StartDrag begins a gesture for pointerID at screen position at.
// It returns false when the node does not exist.
func (v *View) StartDrag(pointerID int, at layout.Point) bool {
	v.mu.Lock()
	if !v.exists {
		v.mu.Unlock()
		return false
	}
	prev := v.drag
	v.drag = &dragState{
		pointerID:   pointerID,
		startScreen: at,
		startPos:    v.current.Position,
	}
	v.mu.Unlock()

	if prev != nil {
		v.release(prev.pointerID)
	}
	if v.capture != nil {
		if err := v.capture.Capture(pointerID); err != nil {
			logging.Warn("pointer capture failed", "node", v.id, "pointer", pointerID, "error", err)
		}
	}
	return true
}

// HandleDrag moves the node to follow the pointer at screen position at.
// The new position is computed from the gesture's start so repeated
// moves do not accumulate rounding. Without an active drag it does nothing.
func (v *View) HandleDrag(at layout.Point) error {
	v.mu.RLock()
	d := v.drag
	v.mu.RUnlock()
	if d == nil {
		return nil
	}

	dx, dy := v.transform().ToModel(at.X-d.startScreen.X, at.Y-d.startScreen.Y)
	return v.mover.MoveNode(v.id, layout.Point{X: d.startPos.X + dx, Y: d.startPos.Y + dy})
}

// EndDrag finishes the gesture and releases the pointer
func (v *View) EndDrag() {
	v.finish()
}

// CancelDrag abandons the gesture. Positions already written stay;
// call MoveTo to restore the start position.
func (v *View) CancelDrag() {
	v.finish()
}

// DragStart returns the node position when the active gesture began
func (v *View) DragStart() (layout.Point, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	if v.drag == nil {
		return layout.Point{}, false
	}
	return v.drag.startPos, true
}

func (v *View) finish() {
	v.mu.Lock()
	d := v.drag
	v.drag = nil
	v.mu.Unlock()

	if d != nil {
		v.release(d.pointerID)
	}
}

func (v *View) release(pointerID int) {
	if v.capture == nil {
		return
	}
	if err := v.capture.Release(pointerID); err != nil {
		logging.Warn("pointer release failed", "node", v.id, "pointer", pointerID, "error", err)
	}
}

// Package spatial indexes canvas geometry for viewport culling and
// proximity queries.
package spatial

import (
	"github.com/ritzau/graph-layout/pkg/layout"
)

// Tree defaults
const (
	DefaultMaxDepth = 8
	DefaultMaxItems = 16
)

// QuadTree maps ids to bounding boxes and answers range queries.
// Each item lives in the deepest node whose quadrant fully contains it;
// items that straddle a split line stay in the parent. Items outside the
// world bounds are kept at the root, so nothing is ever dropped.
//
// QuadTree is not safe for concurrent use; Index adds locking.
type QuadTree[K comparable] struct {
	world    layout.Bounds
	maxDepth int
	maxItems int
	root     *quadNode[K]
	where    map[K]*quadNode[K]
}

type quadNode[K comparable] struct {
	bounds   layout.Bounds
	depth    int
	parent   *quadNode[K]
	children *[4]*quadNode[K]
	items    map[K]layout.Bounds
	count    int // items in this subtree
}

// NewQuadTree creates an empty tree over world. Non-positive tuning
// values fall back to the defaults.
func NewQuadTree[K comparable](world layout.Bounds, maxDepth, maxItems int) *QuadTree[K] {
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}
	if maxItems <= 0 {
		maxItems = DefaultMaxItems
	}
	t := &QuadTree[K]{world: world, maxDepth: maxDepth, maxItems: maxItems}
	t.Clear()
	return t
}

func newQuadNode[K comparable](b layout.Bounds, depth int, parent *quadNode[K]) *quadNode[K] {
	return &quadNode[K]{bounds: b, depth: depth, parent: parent, items: make(map[K]layout.Bounds)}
}

// World returns the bounds the tree was built over
func (t *QuadTree[K]) World() layout.Bounds { return t.world }

// Size returns the number of entries
func (t *QuadTree[K]) Size() int { return len(t.where) }

// Clear drops every entry, keeping the world bounds and tuning
func (t *QuadTree[K]) Clear() {
	t.root = newQuadNode[K](t.world, 0, nil)
	t.where = make(map[K]*quadNode[K])
}

// Insert adds id or moves it to b when it is already present
func (t *QuadTree[K]) Insert(id K, b layout.Bounds) {
	if _, ok := t.where[id]; ok {
		t.Remove(id)
	}

	n := t.root
	for {
		n.count++
		if n.children == nil {
			break
		}
		child := n.childFor(b)
		if child == nil {
			break
		}
		n = child
	}

	n.items[id] = b
	t.where[id] = n

	if n.children == nil && len(n.items) > t.maxItems && n.depth < t.maxDepth {
		t.split(n)
	}
}

// Get returns the bounds stored for id
func (t *QuadTree[K]) Get(id K) (layout.Bounds, bool) {
	n, ok := t.where[id]
	if !ok {
		return layout.Bounds{}, false
	}
	return n.items[id], true
}

// Remove deletes id; absent ids are ignored
func (t *QuadTree[K]) Remove(id K) {
	n, ok := t.where[id]
	if !ok {
		return
	}
	delete(n.items, id)
	delete(t.where, id)

	for p := n; p != nil; p = p.parent {
		p.count--
		if p.children != nil && p.count == len(p.items) {
			// subtree below p is empty
			p.children = nil
		}
	}
}

// Query returns the ids whose bounds intersect rect, without duplicates
func (t *QuadTree[K]) Query(rect layout.Bounds) []K {
	var out []K
	t.root.query(rect, func(id K, _ layout.Bounds) {
		out = append(out, id)
	}, true)
	return out
}

// QueryRadius returns the ids whose bounds come within r of center
func (t *QuadTree[K]) QueryRadius(center layout.Point, r float64) []K {
	var out []K
	t.root.query(layout.Around(center, r), func(id K, b layout.Bounds) {
		if b.DistanceTo(center) <= r {
			out = append(out, id)
		}
	}, true)
	return out
}

// Depth returns the depth of the deepest node, 0 for an unsplit tree
func (t *QuadTree[K]) Depth() int {
	return t.root.maxDepth()
}

func (n *quadNode[K]) maxDepth() int {
	d := n.depth
	if n.children != nil {
		for _, c := range n.children {
			if cd := c.maxDepth(); cd > d {
				d = cd
			}
		}
	}
	return d
}

func (n *quadNode[K]) query(rect layout.Bounds, visit func(K, layout.Bounds), isRoot bool) {
	// the root may hold items outside its own bounds
	if !isRoot && !n.bounds.Intersects(rect) {
		return
	}
	if n.count == 0 {
		return
	}
	for id, b := range n.items {
		if b.Intersects(rect) {
			visit(id, b)
		}
	}
	if n.children != nil {
		for _, c := range n.children {
			c.query(rect, visit, false)
		}
	}
}

// childFor returns the quadrant that fully contains b, or nil
func (n *quadNode[K]) childFor(b layout.Bounds) *quadNode[K] {
	for _, c := range n.children {
		if c.bounds.Contains(b) {
			return c
		}
	}
	return nil
}

func (t *QuadTree[K]) split(n *quadNode[K]) {
	hw, hh := n.bounds.Width/2, n.bounds.Height/2
	x, y, d := n.bounds.X, n.bounds.Y, n.depth+1
	n.children = &[4]*quadNode[K]{
		newQuadNode(layout.Bounds{X: x, Y: y, Width: hw, Height: hh}, d, n),
		newQuadNode(layout.Bounds{X: x + hw, Y: y, Width: hw, Height: hh}, d, n),
		newQuadNode(layout.Bounds{X: x, Y: y + hh, Width: hw, Height: hh}, d, n),
		newQuadNode(layout.Bounds{X: x + hw, Y: y + hh, Width: hw, Height: hh}, d, n),
	}

	for id, b := range n.items {
		c := n.childFor(b)
		if c == nil {
			continue
		}
		delete(n.items, id)
		c.items[id] = b
		c.count++
		t.where[id] = c
	}

	for _, c := range n.children {
		if c.children == nil && len(c.items) > t.maxItems && c.depth < t.maxDepth {
			t.split(c)
		}
	}
}

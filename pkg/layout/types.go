package layout

import (
	"math"
	"slices"
)

// Point is a canvas-space coordinate
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Finite reports whether both coordinates are finite numbers
func (p Point) Finite() bool { return finite(p.X) && finite(p.Y) }

func finite(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) }

// Size is a canvas-space extent
type Size struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Finite reports whether both dimensions are finite numbers
func (s Size) Finite() bool { return finite(s.Width) && finite(s.Height) }

// Bounds is an axis-aligned box in canvas space
type Bounds struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// BoundsOf returns the box covering a position and size
func BoundsOf(pos Point, size Size) Bounds {
	return Bounds{X: pos.X, Y: pos.Y, Width: size.Width, Height: size.Height}
}

// Right returns the x coordinate of the right edge
func (b Bounds) Right() float64 { return b.X + b.Width }

// Bottom returns the y coordinate of the bottom edge
func (b Bounds) Bottom() float64 { return b.Y + b.Height }

// Intersects reports whether the two boxes overlap. Touching edges count.
func (b Bounds) Intersects(o Bounds) bool {
	return b.X <= o.Right() && o.X <= b.Right() &&
		b.Y <= o.Bottom() && o.Y <= b.Bottom()
}

// Contains reports whether o lies entirely inside b
func (b Bounds) Contains(o Bounds) bool {
	return o.X >= b.X && o.Y >= b.Y &&
		o.Right() <= b.Right() && o.Bottom() <= b.Bottom()
}

// DistanceTo returns the distance from p to the closest point of the box.
// Points inside the box have distance zero.
func (b Bounds) DistanceTo(p Point) float64 {
	dx := math.Max(math.Max(b.X-p.X, 0), p.X-b.Right())
	dy := math.Max(math.Max(b.Y-p.Y, 0), p.Y-b.Bottom())
	return math.Hypot(dx, dy)
}

// Around returns the square of half-width r centred on p
func Around(p Point, r float64) Bounds {
	return Bounds{X: p.X - r, Y: p.Y - r, Width: 2 * r, Height: 2 * r}
}

// NodeLayout is the geometry of one graph node.
// Bounds is derived from Position and Size and is recomputed on every write.
type NodeLayout struct {
	ID       string `json:"id"`
	Position Point  `json:"position"`
	Size     Size   `json:"size"`
	Bounds   Bounds `json:"bounds"`
	ZIndex   int    `json:"zIndex"`
	Visible  bool   `json:"visible"`
}

// NewNodeLayout returns a visible layout at z-index 0 with consistent bounds
func NewNodeLayout(id string, pos Point, size Size) NodeLayout {
	return NodeLayout{
		ID:       id,
		Position: pos,
		Size:     size,
		Bounds:   BoundsOf(pos, size),
		Visible:  true,
	}
}

// Normalize returns a copy with Bounds recomputed from Position and Size
func (l NodeLayout) Normalize() NodeLayout {
	l.Bounds = BoundsOf(l.Position, l.Size)
	return l
}

// WithPosition returns a copy moved to pos
func (l NodeLayout) WithPosition(pos Point) NodeLayout {
	l.Position = pos
	return l.Normalize()
}

// WithSize returns a copy resized to size
func (l NodeLayout) WithSize(size Size) NodeLayout {
	l.Size = size
	return l.Normalize()
}

// Finite reports whether position and size are finite. Adapters ignore
// writes that are not.
func (l NodeLayout) Finite() bool { return l.Position.Finite() && l.Size.Finite() }

// Valid reports whether all coordinates are finite and the size is non-negative
func (l NodeLayout) Valid() bool {
	return l.Finite() && l.Size.Width >= 0 && l.Size.Height >= 0
}

// Reroute is a waypoint on a link path
type Reroute struct {
	ID       int   `json:"id"`
	Position Point `json:"pos"`
	ParentID *int  `json:"parentId,omitempty"`
	LinkIDs  []int `json:"linkIds"`
}

// Clone returns a deep copy
func (r Reroute) Clone() Reroute {
	if r.ParentID != nil {
		p := *r.ParentID
		r.ParentID = &p
	}
	r.LinkIDs = slices.Clone(r.LinkIDs)
	return r
}

// Finite reports whether the position is finite
func (r Reroute) Finite() bool { return r.Position.Finite() }

// HasLink reports whether the link is routed through this reroute
func (r Reroute) HasLink(linkID int) bool {
	return slices.Contains(r.LinkIDs, linkID)
}

// Link is a connection between two node slots, optionally bent through reroutes
type Link struct {
	ID         int    `json:"id"`
	OriginID   string `json:"originId"`
	OriginSlot int    `json:"originSlot"`
	TargetID   string `json:"targetId"`
	TargetSlot int    `json:"targetSlot"`
	ParentID   *int   `json:"parentId,omitempty"` // reroute nearest the target end
}

// Clone returns a deep copy
func (l Link) Clone() Link {
	if l.ParentID != nil {
		p := *l.ParentID
		l.ParentID = &p
	}
	return l
}

// IntPtr returns a pointer to v
func IntPtr(v int) *int { return &v }

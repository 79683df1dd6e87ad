package spatial

import (
	"cmp"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/ritzau/graph-layout/pkg/layout"
)

// DefaultWorld covers the canvas area graphs are normally laid out in
var DefaultWorld = layout.Bounds{X: -10000, Y: -10000, Width: 20000, Height: 20000}

// Config tunes an Index
type Config struct {
	Name     string // metrics label
	World    layout.Bounds
	MaxDepth int
	MaxItems int
}

// Index is a thread-safe quadtree with query metrics. It is a derived
// cache over the layout adapter and can always be rebuilt from it.
type Index[K cmp.Ordered] struct {
	mu      sync.Mutex
	name    string
	tree    *QuadTree[K]
	metrics Metrics
}

// NewIndex creates an empty index. A zero World uses DefaultWorld.
func NewIndex[K cmp.Ordered](cfg Config) *Index[K] {
	if cfg.World.Width <= 0 || cfg.World.Height <= 0 {
		cfg.World = DefaultWorld
	}
	if cfg.Name == "" {
		cfg.Name = "nodes"
	}
	return &Index[K]{
		name: cfg.Name,
		tree: NewQuadTree[K](cfg.World, cfg.MaxDepth, cfg.MaxItems),
	}
}

// UpdateNode inserts or moves one entry
func (ix *Index[K]) UpdateNode(id K, b layout.Bounds) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.tree.Insert(id, b)
	ix.updateShape()
}

// BatchUpdate inserts or moves many entries under one lock
func (ix *Index[K]) BatchUpdate(entries map[K]layout.Bounds) {
	if len(entries) == 0 {
		return
	}
	ix.mu.Lock()
	defer ix.mu.Unlock()
	for id, b := range entries {
		ix.tree.Insert(id, b)
	}
	ix.updateShape()
}

// RemoveNode deletes one entry; absent ids are ignored
func (ix *Index[K]) RemoveNode(id K) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.tree.Remove(id)
	ix.updateShape()
}

// Rebuild replaces the whole tree with entries
func (ix *Index[K]) Rebuild(entries map[K]layout.Bounds) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.tree.Clear()
	// sorted insertion keeps the resulting tree shape reproducible
	for _, id := range slices.Sorted(maps.Keys(entries)) {
		ix.tree.Insert(id, entries[id])
	}
	ix.metrics.RebuildCount++
	indexRebuildsTotal.WithLabelValues(ix.name).Inc()
	ix.updateShape()
}

// Clear drops every entry
func (ix *Index[K]) Clear() {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.tree.Clear()
	ix.updateShape()
}

// Get returns the indexed bounds of id
func (ix *Index[K]) Get(id K) (layout.Bounds, bool) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	return ix.tree.Get(id)
}

// QueryViewport returns the ids intersecting rect in ascending order
func (ix *Index[K]) QueryViewport(rect layout.Bounds) []K {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	start := time.Now()
	ids := ix.tree.Query(rect)
	return ix.finishQuery("viewport", start, ids)
}

// QueryRadius returns the ids within r of center in ascending order
func (ix *Index[K]) QueryRadius(center layout.Point, r float64) []K {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	start := time.Now()
	ids := ix.tree.QueryRadius(center, r)
	return ix.finishQuery("radius", start, ids)
}

func (ix *Index[K]) finishQuery(kind string, start time.Time, ids []K) []K {
	slices.Sort(ids)
	if ids == nil {
		ids = []K{}
	}
	elapsed := time.Since(start)
	ix.metrics.QueryTime = elapsed
	ix.metrics.VisibleNodes = len(ids)
	indexQueryDuration.WithLabelValues(ix.name, kind).Observe(elapsed.Seconds())
	indexResultsGauge.WithLabelValues(ix.name).Set(float64(len(ids)))
	return ids
}

// Size returns the number of entries
func (ix *Index[K]) Size() int {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	return ix.tree.Size()
}

// Metrics returns a snapshot of the index bookkeeping
func (ix *Index[K]) Metrics() Metrics {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	// depth walks the whole tree; measured here only
	ix.metrics.TreeDepth = ix.tree.Depth()
	indexDepthGauge.WithLabelValues(ix.name).Set(float64(ix.metrics.TreeDepth))
	return ix.metrics
}

func (ix *Index[K]) updateShape() {
	ix.metrics.TotalNodes = ix.tree.Size()
	indexSizeGauge.WithLabelValues(ix.name).Set(float64(ix.metrics.TotalNodes))
}

// NodeBounds extracts the indexable bounds of every node.
// Hidden nodes are indexed too; visibility filtering is up to the renderer.
func NodeBounds(nodes map[string]layout.NodeLayout) map[string]layout.Bounds {
	out := make(map[string]layout.Bounds, len(nodes))
	for id, n := range nodes {
		out[id] = n.Bounds
	}
	return out
}

// RerouteBounds boxes every reroute point with a square of half-width radius
func RerouteBounds(reroutes map[int]layout.Reroute, radius float64) map[int]layout.Bounds {
	out := make(map[int]layout.Bounds, len(reroutes))
	for id, r := range reroutes {
		out[id] = layout.Around(r.Position, radius)
	}
	return out
}

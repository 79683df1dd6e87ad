// Package store owns one layout adapter together with the spatial indexes
// derived from it and the mutator that writes to it.
//
// A Store is constructed explicitly and handed to every collaborator. Loading
// a new graph is a call to Reset, tearing down is a call to Close.
package store

import (
	"time"

	"github.com/ritzau/graph-layout/pkg/layout"
	"github.com/ritzau/graph-layout/pkg/logging"
	"github.com/ritzau/graph-layout/pkg/mutation"
	"github.com/ritzau/graph-layout/pkg/nodeview"
	"github.com/ritzau/graph-layout/pkg/spatial"
)

// DefaultRerouteRadius is the half-size of the square indexed around a reroute
const DefaultRerouteRadius = 8.0

// Options tunes a Store
type Options struct {
	Actor         string
	World         layout.Bounds
	MaxDepth      int
	MaxItems      int
	Debounce      time.Duration
	RerouteRadius float64
}

// DefaultOptions returns the options used by New when fields are left zero
func DefaultOptions() Options {
	return Options{
		Actor:         layout.DefaultActor,
		World:         spatial.DefaultWorld,
		MaxDepth:      spatial.DefaultMaxDepth,
		MaxItems:      spatial.DefaultMaxItems,
		Debounce:      spatial.DefaultDebounce,
		RerouteRadius: DefaultRerouteRadius,
	}
}

// Store keeps the spatial indexes eventually consistent with the adapter
type Store struct {
	adapter  layout.Adapter
	mutator  *mutation.Mutator
	nodes    *spatial.Index[string]
	pending  *spatial.Debouncer[string]
	reroutes *spatial.Index[int]
	radius   float64

	unsubscribe func()
}

// New wires a store around adapter and indexes whatever it already holds.
// A negative Debounce disables debouncing.
func New(adapter layout.Adapter, opts Options) *Store {
	def := DefaultOptions()
	if opts.Actor == "" {
		opts.Actor = def.Actor
	}
	if opts.Debounce == 0 {
		opts.Debounce = def.Debounce
	}
	if opts.RerouteRadius <= 0 {
		opts.RerouteRadius = def.RerouteRadius
	}

	nodes := spatial.NewIndex[string](spatial.Config{
		Name:     "nodes",
		World:    opts.World,
		MaxDepth: opts.MaxDepth,
		MaxItems: opts.MaxItems,
	})
	s := &Store{
		adapter: adapter,
		mutator: mutation.New(adapter, opts.Actor),
		nodes:   nodes,
		pending: spatial.NewDebouncer(nodes, max(opts.Debounce, 0)),
		reroutes: spatial.NewIndex[int](spatial.Config{
			Name:     "reroutes",
			World:    opts.World,
			MaxDepth: opts.MaxDepth,
			MaxItems: opts.MaxItems,
		}),
		radius: opts.RerouteRadius,
	}

	s.unsubscribe = adapter.Subscribe(s.onChange)
	s.RebuildIndex()
	return s
}

func (s *Store) onChange(c layout.Change) {
	switch c.Type {
	case layout.ChangeClear:
		s.pending.Discard()
		s.nodes.Clear()
		s.reroutes.Clear()

	case layout.ChangeDelete:
		for _, id := range c.NodeIDs {
			s.pending.Remove(id)
		}
		for _, id := range c.RerouteIDs {
			s.reroutes.RemoveNode(id)
		}

	case layout.ChangeSet:
		for _, id := range c.NodeIDs {
			n, ok := s.adapter.GetNode(id)
			if !ok {
				s.pending.Remove(id)
				continue
			}
			if _, indexed := s.nodes.Get(id); !indexed {
				s.nodes.UpdateNode(id, n.Bounds)
				continue
			}
			s.pending.Update(id, n.Bounds)
		}
		for _, id := range c.RerouteIDs {
			r, ok := s.adapter.GetReroute(id)
			if !ok {
				s.reroutes.RemoveNode(id)
				continue
			}
			s.reroutes.UpdateNode(id, layout.Around(r.Position, s.radius))
		}
	}
}

// Adapter returns the underlying adapter
func (s *Store) Adapter() layout.Adapter { return s.adapter }

// Mutator returns the store's write path
func (s *Store) Mutator() *mutation.Mutator { return s.mutator }

// GetNode reads a node from the adapter
func (s *Store) GetNode(id string) (layout.NodeLayout, bool) { return s.adapter.GetNode(id) }

// Subscribe registers fn for adapter changes
func (s *Store) Subscribe(fn func(layout.Change)) func() { return s.adapter.Subscribe(fn) }

// NodeView returns a live view of node id that writes through the store's mutator
func (s *Store) NodeView(id string, opts ...nodeview.Option) *nodeview.View {
	return nodeview.New(id, s, s.mutator, opts...)
}

// Reset clears the adapter and both indexes
func (s *Store) Reset() {
	s.pending.Discard()
	s.adapter.Clear()
	s.nodes.Clear()
	s.reroutes.Clear()
	logging.Debug("layout store reset")
}

// Close detaches from the adapter and applies pending index updates
func (s *Store) Close() {
	s.unsubscribe()
	s.pending.Stop()
}

// FlushIndex applies debounced index updates now
func (s *Store) FlushIndex() {
	s.pending.Flush()
}

// RebuildIndex discards pending updates and rebuilds both indexes from the adapter
func (s *Store) RebuildIndex() {
	s.pending.Discard()
	s.nodes.Rebuild(spatial.NodeBounds(s.adapter.GetAllNodes()))
	s.reroutes.Rebuild(spatial.RerouteBounds(s.adapter.GetAllReroutes(), s.radius))
}

// SetDebounce changes the index debounce window
func (s *Store) SetDebounce(window time.Duration) {
	s.pending.SetWindow(max(window, 0))
}

// QueryViewport returns the sorted ids of nodes intersecting rect
func (s *Store) QueryViewport(rect layout.Bounds) []string {
	return s.nodes.QueryViewport(rect)
}

// QueryRadius returns the sorted ids of nodes within r of center
func (s *Store) QueryRadius(center layout.Point, r float64) []string {
	return s.nodes.QueryRadius(center, r)
}

// QueryReroutes returns the sorted ids of reroutes within r of center
func (s *Store) QueryReroutes(center layout.Point, r float64) []int {
	return s.reroutes.QueryRadius(center, r)
}

// Stats summarizes the store for reports
type Stats struct {
	Nodes        int             `json:"nodes"`
	Reroutes     int             `json:"reroutes"`
	Links        int             `json:"links"`
	Operations   int             `json:"operations"`
	Pending      int             `json:"pendingIndexUpdates"`
	NodeIndex    spatial.Metrics `json:"nodeIndex"`
	RerouteIndex spatial.Metrics `json:"rerouteIndex"`
}

// Metrics returns the node index metrics
func (s *Store) Metrics() spatial.Metrics {
	return s.nodes.Metrics()
}

// Stats returns counts from the adapter and both indexes
func (s *Store) Stats() Stats {
	return Stats{
		Nodes:        len(s.adapter.GetAllNodes()),
		Reroutes:     len(s.adapter.GetAllReroutes()),
		Links:        len(s.adapter.GetAllLinks()),
		Operations:   len(s.adapter.GetOperationsSince(layout.MinTimestamp)),
		Pending:      s.pending.Pending(),
		NodeIndex:    s.nodes.Metrics(),
		RerouteIndex: s.reroutes.Metrics(),
	}
}

// Package graph models how links are routed through reroutes.
package graph

import (
	"maps"
	"slices"

	"gonum.org/v1/gonum/graph/simple"

	"github.com/ritzau/graph-layout/pkg/layout"
)

// RouteGraph has one node per reroute and an edge from each reroute to its
// parent. Node ids in the gonum graph are the reroute ids.
type RouteGraph struct {
	graph     *simple.DirectedGraph
	parents   map[int]int
	selfLoops map[int]bool // gonum simple graphs reject self edges
	links     map[int]layout.Link
}

// NewRouteGraph creates an empty routing graph
func NewRouteGraph() *RouteGraph {
	return &RouteGraph{
		graph:     simple.NewDirectedGraph(),
		parents:   make(map[int]int),
		selfLoops: make(map[int]bool),
		links:     make(map[int]layout.Link),
	}
}

// BuildRouteGraph builds the graph from adapter state
func BuildRouteGraph(reroutes map[int]layout.Reroute, links map[int]layout.Link) *RouteGraph {
	rg := NewRouteGraph()
	for _, id := range slices.Sorted(maps.Keys(reroutes)) {
		rg.AddReroute(id)
	}
	for _, id := range slices.Sorted(maps.Keys(reroutes)) {
		if p := reroutes[id].ParentID; p != nil {
			rg.SetParent(id, *p)
		}
	}
	for id, l := range links {
		rg.links[id] = l.Clone()
	}
	return rg
}

// AddReroute adds a reroute with no parent
func (rg *RouteGraph) AddReroute(id int) {
	if rg.graph.Node(int64(id)) != nil {
		return
	}
	rg.graph.AddNode(simple.Node(int64(id)))
}

// SetParent replaces the parent edge of child, adding either reroute if missing
func (rg *RouteGraph) SetParent(child, parent int) {
	rg.ClearParent(child)
	rg.AddReroute(child)
	rg.AddReroute(parent)
	rg.parents[child] = parent

	if child == parent {
		rg.selfLoops[child] = true
		return
	}
	rg.graph.SetEdge(rg.graph.NewEdge(rg.graph.Node(int64(child)), rg.graph.Node(int64(parent))))
}

// ClearParent removes the parent edge of child
func (rg *RouteGraph) ClearParent(child int) {
	parent, ok := rg.parents[child]
	if !ok {
		return
	}
	delete(rg.parents, child)
	delete(rg.selfLoops, child)
	rg.graph.RemoveEdge(int64(child), int64(parent))
}

// Graph returns the underlying directed graph
func (rg *RouteGraph) Graph() *simple.DirectedGraph {
	return rg.graph
}

// SelfLoops returns the reroutes that are their own parent, sorted
func (rg *RouteGraph) SelfLoops() []int {
	return slices.Sorted(maps.Keys(rg.selfLoops))
}

// Parent returns the parent of a reroute
func (rg *RouteGraph) Parent(id int) (int, bool) {
	p, ok := rg.parents[id]
	return p, ok
}

// Children returns the reroutes whose parent is id, sorted
func (rg *RouteGraph) Children(id int) []int {
	var children []int
	if rg.graph.Node(int64(id)) == nil {
		return children
	}
	iter := rg.graph.To(int64(id))
	for iter.Next() {
		children = append(children, int(iter.Node().ID()))
	}
	slices.Sort(children)
	return children
}

// Reroutes returns every reroute id, sorted
func (rg *RouteGraph) Reroutes() []int {
	var ids []int
	iter := rg.graph.Nodes()
	for iter.Next() {
		ids = append(ids, int(iter.Node().ID()))
	}
	slices.Sort(ids)
	return ids
}

// Chain follows parents from start, start included. It stops before
// revisiting a reroute, so it terminates even when the chain is cyclic.
func (rg *RouteGraph) Chain(start int) []int {
	var chain []int
	seen := make(map[int]bool)
	for id, ok := start, true; ok && !seen[id]; id, ok = rg.parents[id] {
		if rg.graph.Node(int64(id)) == nil {
			break
		}
		seen[id] = true
		chain = append(chain, id)
	}
	return chain
}

// ChainCycle returns the reroutes of the loop reached by following parents
// from start, in chain order, or nil when the chain terminates
func (rg *RouteGraph) ChainCycle(start int) []int {
	chain := rg.Chain(start)
	if len(chain) == 0 {
		return nil
	}
	p, ok := rg.parents[chain[len(chain)-1]]
	if !ok {
		return nil
	}
	if i := slices.Index(chain, p); i >= 0 {
		return chain[i:]
	}
	return nil
}

// LinkChain returns the reroutes a link passes through, nearest the target first
func (rg *RouteGraph) LinkChain(linkID int) []int {
	l, ok := rg.links[linkID]
	if !ok || l.ParentID == nil {
		return nil
	}
	return rg.Chain(*l.ParentID)
}

// LinksThrough returns the links whose chain contains the reroute, sorted
func (rg *RouteGraph) LinksThrough(rerouteID int) []int {
	var ids []int
	for _, id := range slices.Sorted(maps.Keys(rg.links)) {
		if slices.Contains(rg.LinkChain(id), rerouteID) {
			ids = append(ids, id)
		}
	}
	return ids
}

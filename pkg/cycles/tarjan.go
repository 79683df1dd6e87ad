// Package cycles finds cycles in reroute parent chains.
package cycles

import (
	"cmp"
	"slices"

	"gonum.org/v1/gonum/graph"
)

// TarjanSCC finds strongly connected components with Tarjan's algorithm.
// The walk uses an explicit stack so long reroute chains cannot overflow
// the goroutine stack.
type TarjanSCC struct {
	graph   graph.Directed
	index   int
	stack   []int64
	onStack map[int64]bool
	indices map[int64]int
	lowLink map[int64]int
	sccs    [][]int64
}

// NewTarjanSCC creates a new Tarjan SCC finder
func NewTarjanSCC(g graph.Directed) *TarjanSCC {
	return &TarjanSCC{
		graph:   g,
		onStack: make(map[int64]bool),
		indices: make(map[int64]int),
		lowLink: make(map[int64]int),
	}
}

// frame is one pending strongConnect call
type frame struct {
	id    int64
	succs []int64
	next  int
}

// FindSCCs returns every component with more than one node, each sorted,
// in order of their smallest member
func (t *TarjanSCC) FindSCCs() [][]int64 {
	var ids []int64
	nodes := t.graph.Nodes()
	for nodes.Next() {
		ids = append(ids, nodes.Node().ID())
	}
	slices.Sort(ids)

	for _, id := range ids {
		if _, visited := t.indices[id]; !visited {
			t.strongConnect(id)
		}
	}

	slices.SortFunc(t.sccs, func(a, b []int64) int { return cmp.Compare(a[0], b[0]) })
	return t.sccs
}

func (t *TarjanSCC) visit(id int64) frame {
	t.indices[id] = t.index
	t.lowLink[id] = t.index
	t.index++
	t.stack = append(t.stack, id)
	t.onStack[id] = true

	var succs []int64
	iter := t.graph.From(id)
	for iter.Next() {
		succs = append(succs, iter.Node().ID())
	}
	return frame{id: id, succs: succs}
}

func (t *TarjanSCC) strongConnect(root int64) {
	call := []frame{t.visit(root)}

	for len(call) > 0 {
		f := &call[len(call)-1]

		if f.next < len(f.succs) {
			succ := f.succs[f.next]
			f.next++
			if _, visited := t.indices[succ]; !visited {
				call = append(call, t.visit(succ))
			} else if t.onStack[succ] {
				t.lowLink[f.id] = min(t.lowLink[f.id], t.indices[succ])
			}
			continue
		}

		// all successors done: pop the frame and propagate its low link
		id := f.id
		call = call[:len(call)-1]
		if len(call) > 0 {
			parent := call[len(call)-1].id
			t.lowLink[parent] = min(t.lowLink[parent], t.lowLink[id])
		}

		if t.lowLink[id] != t.indices[id] {
			continue
		}
		var scc []int64
		for {
			w := t.stack[len(t.stack)-1]
			t.stack = t.stack[:len(t.stack)-1]
			t.onStack[w] = false
			scc = append(scc, w)
			if w == id {
				break
			}
		}
		// Only add SCCs with more than one node (cycles)
		if len(scc) > 1 {
			slices.Sort(scc)
			t.sccs = append(t.sccs, scc)
		}
	}
}

package cycles

import (
	"fmt"
	"maps"
	"slices"

	"github.com/ritzau/graph-layout/pkg/graph"
	"github.com/ritzau/graph-layout/pkg/layout"
)

// RerouteCycle is a set of reroutes whose parent chain loops back on itself
type RerouteCycle struct {
	Reroutes []int
}

// FindRerouteCycles finds every parent-chain cycle, including reroutes
// that are their own parent
func FindRerouteCycles(rg *graph.RouteGraph) []RerouteCycle {
	cycles := make([]RerouteCycle, 0)
	for _, id := range rg.SelfLoops() {
		cycles = append(cycles, RerouteCycle{Reroutes: []int{id}})
	}

	tarjan := NewTarjanSCC(rg.Graph())
	for _, scc := range tarjan.FindSCCs() {
		ids := make([]int, 0, len(scc))
		for _, nodeID := range scc {
			ids = append(ids, int(nodeID))
		}
		cycles = append(cycles, RerouteCycle{Reroutes: ids})
	}

	slices.SortFunc(cycles, func(a, b RerouteCycle) int { return a.Reroutes[0] - b.Reroutes[0] })
	return cycles
}

// CheckReroutes returns an error wrapping layout.ErrRerouteCycle when any
// parent chain in reroutes does not terminate
func CheckReroutes(reroutes map[int]layout.Reroute) error {
	found := FindRerouteCycles(graph.BuildRouteGraph(reroutes, nil))
	if len(found) == 0 {
		return nil
	}
	return fmt.Errorf("%w: reroutes %v", layout.ErrRerouteCycle, found[0].Reroutes)
}

// CheckChain returns an error wrapping layout.ErrRerouteCycle when the parent
// chain starting at id does not terminate. Loops elsewhere are ignored.
func CheckChain(reroutes map[int]layout.Reroute, id int) error {
	loop := graph.BuildRouteGraph(reroutes, nil).ChainCycle(id)
	if loop == nil {
		return nil
	}
	return fmt.Errorf("%w: reroute %d reaches %v", layout.ErrRerouteCycle, id, loop)
}

// CheckMerged checks the chains of every reroute that is new in after or whose
// parent differs from before. A loop formed by a merge always contains such a
// reroute, so loops already present in before are not reported again.
func CheckMerged(before, after map[int]layout.Reroute) error {
	rg := graph.BuildRouteGraph(after, nil)
	for _, id := range slices.Sorted(maps.Keys(after)) {
		if prev, ok := before[id]; ok && sameParent(prev.ParentID, after[id].ParentID) {
			continue
		}
		if loop := rg.ChainCycle(id); loop != nil {
			return fmt.Errorf("%w: reroute %d reaches %v", layout.ErrRerouteCycle, id, loop)
		}
	}
	return nil
}

func sameParent(a, b *int) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

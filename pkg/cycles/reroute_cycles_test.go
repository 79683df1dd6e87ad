package cycles

import (
	"errors"
	"maps"
	"slices"
	"testing"

	"github.com/ritzau/graph-layout/pkg/graph"
	"github.com/ritzau/graph-layout/pkg/layout"
)

func TestFindRerouteCycles_NoCycles(t *testing.T) {
	rg := graph.NewRouteGraph()

	// 3 -> 2 -> 1
	rg.SetParent(3, 2)
	rg.SetParent(2, 1)

	cycles := FindRerouteCycles(rg)

	if len(cycles) != 0 {
		t.Errorf("Expected no cycles, but found %d", len(cycles))
	}
}

func TestFindRerouteCycles_SelfParent(t *testing.T) {
	rg := graph.NewRouteGraph()
	rg.SetParent(7, 7)

	cycles := FindRerouteCycles(rg)

	if len(cycles) != 1 || !slices.Equal(cycles[0].Reroutes, []int{7}) {
		t.Errorf("Expected self-parent cycle [7], got %v", cycles)
	}
}

func TestFindRerouteCycles_ThreeNodeCycle(t *testing.T) {
	rg := graph.NewRouteGraph()
	rg.SetParent(1, 2)
	rg.SetParent(2, 3)
	rg.SetParent(3, 1)
	rg.SetParent(4, 1)

	cycles := FindRerouteCycles(rg)

	if len(cycles) != 1 {
		t.Fatalf("Expected 1 cycle, but found %d", len(cycles))
	}
	if !slices.Equal(cycles[0].Reroutes, []int{1, 2, 3}) {
		t.Errorf("Expected cycle [1 2 3], got %v", cycles[0].Reroutes)
	}
}

func TestCheckReroutes(t *testing.T) {
	ok := map[int]layout.Reroute{
		1: {ID: 1},
		2: {ID: 2, ParentID: layout.IntPtr(1)},
	}
	if err := CheckReroutes(ok); err != nil {
		t.Errorf("Expected no error, got %v", err)
	}

	bad := map[int]layout.Reroute{
		1: {ID: 1, ParentID: layout.IntPtr(2)},
		2: {ID: 2, ParentID: layout.IntPtr(1)},
	}
	if err := CheckReroutes(bad); !errors.Is(err, layout.ErrRerouteCycle) {
		t.Errorf("Expected ErrRerouteCycle, got %v", err)
	}
}

func TestCheckChain_IgnoresUnrelatedLoops(t *testing.T) {
	reroutes := map[int]layout.Reroute{
		1:  {ID: 1, ParentID: layout.IntPtr(2)},
		2:  {ID: 2, ParentID: layout.IntPtr(1)},
		3:  {ID: 3},
		99: {ID: 99, ParentID: layout.IntPtr(3)},
	}

	if err := CheckChain(reroutes, 99); err != nil {
		t.Errorf("Expected chain from 99 to terminate, got %v", err)
	}

	reroutes[99] = layout.Reroute{ID: 99, ParentID: layout.IntPtr(1)}
	if err := CheckChain(reroutes, 99); !errors.Is(err, layout.ErrRerouteCycle) {
		t.Errorf("Expected ErrRerouteCycle for a chain into the loop, got %v", err)
	}
	if err := CheckChain(reroutes, 2); !errors.Is(err, layout.ErrRerouteCycle) {
		t.Errorf("Expected ErrRerouteCycle for a loop member, got %v", err)
	}
	if err := CheckChain(reroutes, 7); err != nil {
		t.Errorf("Expected unknown reroute to pass, got %v", err)
	}
}

func TestCheckMerged(t *testing.T) {
	before := map[int]layout.Reroute{
		1: {ID: 1, ParentID: layout.IntPtr(2)},
		2: {ID: 2},
		5: {ID: 5, ParentID: layout.IntPtr(6)},
		6: {ID: 6, ParentID: layout.IntPtr(5)},
	}

	tests := []struct {
		name    string
		changed map[int]layout.Reroute
		wantErr bool
	}{
		{"unchanged loop is not reported", nil, false},
		{"new terminating chain", map[int]layout.Reroute{3: {ID: 3, ParentID: layout.IntPtr(2)}}, false},
		{"merge closes a loop", map[int]layout.Reroute{2: {ID: 2, ParentID: layout.IntPtr(1)}}, true},
		{"new reroute into old loop", map[int]layout.Reroute{4: {ID: 4, ParentID: layout.IntPtr(5)}}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			after := maps.Clone(before)
			maps.Copy(after, tt.changed)

			err := CheckMerged(before, after)
			if got := errors.Is(err, layout.ErrRerouteCycle); got != tt.wantErr {
				t.Errorf("Expected cycle error = %v, got %v", tt.wantErr, err)
			}
		})
	}
}

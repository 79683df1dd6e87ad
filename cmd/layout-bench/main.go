package main

import (
	"fmt"
	"math"
	"math/rand/v2"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/pflag"

	"github.com/ritzau/graph-layout/pkg/config"
	"github.com/ritzau/graph-layout/pkg/layout"
	"github.com/ritzau/graph-layout/pkg/layout/crdtstore"
	"github.com/ritzau/graph-layout/pkg/layout/memstore"
	"github.com/ritzau/graph-layout/pkg/logging"
	"github.com/ritzau/graph-layout/pkg/nodeview"
	"github.com/ritzau/graph-layout/pkg/output"
	"github.com/ritzau/graph-layout/pkg/store"
)

// Grid geometry of the seeded graph
const (
	nodeWidth  = 100
	nodeHeight = 50
	spacing    = 150
)

// Viewport swept across the graph
var viewport = layout.Size{Width: 1920, Height: 1080}

func main() {
	nodes := pflag.Int("nodes", 1000, "Number of nodes to seed")
	drags := pflag.Int("drags", 500, "Number of drag steps")
	backend := pflag.String("backend", config.BackendMemory, "Layout backend: memory or crdt")
	seed := pflag.Uint64("seed", 1, "Random seed")
	zoom := pflag.Float64("zoom", 1, "Canvas zoom applied to drag deltas")
	verbosity := pflag.String("verbosity", "warn", "Log level")
	pflag.Parse()

	if err := logging.Configure(*verbosity, false); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	var adapter layout.Adapter
	switch *backend {
	case config.BackendMemory:
		adapter = memstore.New()
	case config.BackendCRDT:
		adapter = crdtstore.New("")
	default:
		fmt.Fprintf(os.Stderr, "Error: unknown backend %q\n", *backend)
		os.Exit(1)
	}

	st := store.New(adapter, store.Options{Actor: "bench"})
	defer st.Close()

	ids := seedGrid(st, *nodes)
	rng := rand.New(rand.NewPCG(*seed, *seed))

	sum := output.BenchSummary{Backend: *backend, Nodes: len(ids), Drags: *drags}
	sum.DragTime = simulateDrags(st, ids, *drags, *zoom, rng)

	st.FlushIndex()
	sum.Sweeps, sum.MaxVisible, sum.SweepTime = sweep(st, len(ids))

	output.PrintBenchReport(color.Output, sum, st.Stats())
}

func columns(n int) int {
	return max(1, int(math.Ceil(math.Sqrt(float64(n)))))
}

func seedGrid(st *store.Store, n int) []string {
	m := st.Mutator()
	cols := columns(n)
	ids := make([]string, 0, n)
	for i := 0; i < n; i++ {
		id := fmt.Sprintf("n%d", i)
		pos := layout.Point{X: float64(i%cols) * spacing, Y: float64(i/cols) * spacing}
		if err := m.CreateNode(id, pos, layout.Size{Width: nodeWidth, Height: nodeHeight}); err != nil {
			logging.Fatal("failed to seed node", "node", id, "error", err)
		}
		ids = append(ids, id)
	}
	logging.Info("seeded grid", "nodes", n, "columns", cols)
	return ids
}

// simulateDrags drags random nodes through their views, five pointer moves per gesture
func simulateDrags(st *store.Store, ids []string, steps int, zoom float64, rng *rand.Rand) time.Duration {
	if len(ids) == 0 {
		return 0
	}
	transform := nodeview.Transform{Scale: zoom}

	start := time.Now()
	for done := 0; done < steps; {
		v := st.NodeView(ids[rng.IntN(len(ids))], nodeview.WithTransform(func() nodeview.Transform { return transform }))
		at := layout.Point{X: 500, Y: 500}
		v.StartDrag(1, at)
		for i := 0; i < 5 && done < steps; i++ {
			at.X += rng.Float64()*20 - 10
			at.Y += rng.Float64()*20 - 10
			if err := v.HandleDrag(at); err != nil {
				logging.Warn("drag step rejected", "node", v.ID(), "error", err)
			}
			done++
		}
		v.EndDrag()
		v.Close()
	}
	return time.Since(start)
}

// sweep moves the viewport across the grid row by row
func sweep(st *store.Store, n int) (count, maxVisible int, elapsed time.Duration) {
	cols := columns(n)
	extentX := float64(cols) * spacing
	extentY := float64((n+cols-1)/cols) * spacing

	start := time.Now()
	for y := 0.0; y < extentY; y += viewport.Height / 2 {
		for x := 0.0; x < extentX; x += viewport.Width / 2 {
			ids := st.QueryViewport(layout.Bounds{X: x, Y: y, Width: viewport.Width, Height: viewport.Height})
			maxVisible = max(maxVisible, len(ids))
			count++
		}
	}
	return count, maxVisible, time.Since(start)
}

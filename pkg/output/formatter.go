package output

import (
	"fmt"
	"io"
	"time"

	"github.com/fatih/color"

	"github.com/ritzau/graph-layout/pkg/spatial"
	"github.com/ritzau/graph-layout/pkg/store"
)

// Query times above these budgets are highlighted
const (
	FrameBudget = 16 * time.Millisecond
	QueryBudget = time.Millisecond
)

// BenchSummary holds the timings of a layout-bench run
type BenchSummary struct {
	Backend    string
	Nodes      int
	Drags      int
	DragTime   time.Duration
	Sweeps     int
	SweepTime  time.Duration
	MaxVisible int
}

// PrintMetricsReport prints store counts and index metrics with colors
func PrintMetricsReport(w io.Writer, title string, stats store.Stats) {
	bold := color.New(color.Bold)
	yellow := color.New(color.FgYellow)

	bold.Fprintln(w, title)
	bold.Fprintln(w, underline(title))
	fmt.Fprintf(w, "Nodes: %d  Reroutes: %d  Links: %d\n", stats.Nodes, stats.Reroutes, stats.Links)
	fmt.Fprintf(w, "Operations logged: %d\n", stats.Operations)
	if stats.Pending > 0 {
		yellow.Fprintf(w, "Pending index updates: %d\n", stats.Pending)
	}
	fmt.Fprintln(w)

	printIndex(w, "Node index", stats.NodeIndex, stats.Nodes)
	printIndex(w, "Reroute index", stats.RerouteIndex, stats.Reroutes)
}

func printIndex(w io.Writer, name string, m spatial.Metrics, want int) {
	cyan := color.New(color.FgCyan)
	green := color.New(color.FgGreen)
	red := color.New(color.FgRed)

	cyan.Fprintf(w, "%s\n", name)
	entries := green
	if m.TotalNodes != want {
		// derived cache lagging behind the adapter
		entries = red
	}
	entries.Fprintf(w, "  Entries: %d/%d\n", m.TotalNodes, want)
	fmt.Fprintf(w, "  Tree depth: %d\n", m.TreeDepth)
	fmt.Fprintf(w, "  Rebuilds: %d\n", m.RebuildCount)
	fmt.Fprintf(w, "  Last query: %d result(s) in ", m.VisibleNodes)
	durationColor(m.QueryTime, QueryBudget).Fprintf(w, "%v\n", m.QueryTime)
	fmt.Fprintln(w)
}

// PrintBenchReport prints a bench summary followed by the metrics report
func PrintBenchReport(w io.Writer, sum BenchSummary, stats store.Stats) {
	bold := color.New(color.Bold)
	green := color.New(color.FgGreen)

	title := fmt.Sprintf("Layout bench (%s backend)", sum.Backend)
	bold.Fprintln(w, title)
	bold.Fprintln(w, underline(title))
	fmt.Fprintf(w, "Seeded: %d nodes\n", sum.Nodes)

	fmt.Fprintf(w, "Drag steps: %d in %v (", sum.Drags, sum.DragTime.Round(time.Microsecond))
	perDrag := average(sum.DragTime, sum.Drags)
	durationColor(perDrag, FrameBudget).Fprintf(w, "%v/step", perDrag)
	fmt.Fprintln(w, ")")

	fmt.Fprintf(w, "Viewport sweeps: %d in %v (", sum.Sweeps, sum.SweepTime.Round(time.Microsecond))
	perSweep := average(sum.SweepTime, sum.Sweeps)
	durationColor(perSweep, QueryBudget).Fprintf(w, "%v/query", perSweep)
	fmt.Fprintln(w, ")")
	fmt.Fprintf(w, "Most nodes in one viewport: %d\n", sum.MaxVisible)
	fmt.Fprintln(w)

	PrintMetricsReport(w, "Store", stats)

	if perDrag <= FrameBudget && perSweep <= QueryBudget {
		green.Fprintln(w, "✓ Drags fit in a frame and queries in budget")
	}
}

func durationColor(d, budget time.Duration) *color.Color {
	switch {
	case d > budget:
		return color.New(color.FgRed)
	case d > budget/2:
		return color.New(color.FgYellow)
	}
	return color.New(color.FgGreen)
}

func average(total time.Duration, n int) time.Duration {
	if n <= 0 {
		return 0
	}
	return total / time.Duration(n)
}

func underline(s string) string {
	b := make([]byte, len(s))
	for i := range b {
		b[i] = '='
	}
	return string(b)
}

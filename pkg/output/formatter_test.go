package output

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/fatih/color"

	"github.com/ritzau/graph-layout/pkg/spatial"
	"github.com/ritzau/graph-layout/pkg/store"
)

func init() {
	color.NoColor = true
}

func TestPrintMetricsReport(t *testing.T) {
	var buf bytes.Buffer
	PrintMetricsReport(&buf, "Store", store.Stats{
		Nodes:      3,
		Reroutes:   1,
		Operations: 7,
		Pending:    2,
		NodeIndex:  spatial.Metrics{TotalNodes: 2, TreeDepth: 1, VisibleNodes: 2, QueryTime: 3 * time.Microsecond},
	})

	out := buf.String()
	for _, want := range []string{
		"Store\n=====\n",
		"Nodes: 3  Reroutes: 1  Links: 0",
		"Operations logged: 7",
		"Pending index updates: 2",
		"Entries: 2/3",
		"Last query: 2 result(s) in 3µs",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("Expected %q in report:\n%s", want, out)
		}
	}
}

func TestPrintBenchReport(t *testing.T) {
	var buf bytes.Buffer
	PrintBenchReport(&buf, BenchSummary{
		Backend:    "crdt",
		Nodes:      100,
		Drags:      10,
		DragTime:   10 * time.Millisecond,
		Sweeps:     4,
		SweepTime:  40 * time.Microsecond,
		MaxVisible: 25,
	}, store.Stats{Nodes: 100})

	out := buf.String()
	for _, want := range []string{
		"Layout bench (crdt backend)",
		"Drag steps: 10 in 10ms (1ms/step)",
		"Viewport sweeps: 4 in 40µs (10µs/query)",
		"Most nodes in one viewport: 25",
		"✓ Drags fit in a frame",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("Expected %q in report:\n%s", want, out)
		}
	}
}

func TestAverage(t *testing.T) {
	if got := average(time.Second, 0); got != 0 {
		t.Errorf("Expected 0 for no samples, got %v", got)
	}
	if got := average(time.Second, 4); got != 250*time.Millisecond {
		t.Errorf("Expected 250ms, got %v", got)
	}
}

package spatial

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics is a snapshot of an index's bookkeeping
type Metrics struct {
	QueryTime    time.Duration `json:"queryTimeNs"`
	TotalNodes   int           `json:"totalNodes"`
	VisibleNodes int           `json:"visibleNodes"` // result count of the last query
	TreeDepth    int           `json:"treeDepth"`
	RebuildCount int           `json:"rebuildCount"`
}

var (
	indexQueryDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "graph_layout_index_query_duration_seconds",
		Help:    "Duration of spatial index queries",
		Buckets: []float64{0.000005, 0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.016},
	}, []string{"index", "query_type"})

	indexSizeGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "graph_layout_index_entries",
		Help: "Current number of entries in the spatial index",
	}, []string{"index"})

	indexResultsGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "graph_layout_index_last_query_results",
		Help: "Number of ids returned by the last query",
	}, []string{"index"})

	indexDepthGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "graph_layout_index_tree_depth",
		Help: "Depth of the deepest quadtree node",
	}, []string{"index"})

	indexRebuildsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "graph_layout_index_rebuilds_total",
		Help: "Total number of full index rebuilds",
	}, []string{"index"})

	debounceFlushesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "graph_layout_index_debounce_flushes_total",
		Help: "Number of debounced batches applied to the index",
	}, []string{"index"})
)

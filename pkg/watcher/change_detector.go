package watcher

import (
	"github.com/ritzau/graph-layout/pkg/config"
)

// ChangeAnalysis describes which parts of a running daemon a config change affects
type ChangeAnalysis struct {
	ReloadLogging  bool
	ReloadDebounce bool
	// RestartRequired names keys that only take effect on restart
	RestartRequired []string
}

// Empty reports whether nothing relevant changed
func (a *ChangeAnalysis) Empty() bool {
	return !a.ReloadLogging && !a.ReloadDebounce && len(a.RestartRequired) == 0
}

// AnalyzeChanges compares two configurations
func AnalyzeChanges(prev, next *config.Config) *ChangeAnalysis {
	analysis := &ChangeAnalysis{}

	// applied in place
	analysis.ReloadLogging = prev.Verbosity != next.Verbosity || prev.JSON != next.JSON
	analysis.ReloadDebounce = prev.Index.Debounce != next.Index.Debounce

	// the store, indexes and listener are built once at startup
	restart := func(key string, changed bool) {
		if changed {
			analysis.RestartRequired = append(analysis.RestartRequired, key)
		}
	}
	restart("backend", prev.Backend != next.Backend)
	restart("port", prev.Port != next.Port)
	restart("actor", prev.Actor != next.Actor)
	restart("index.world", prev.Index.World() != next.Index.World())
	restart("index.maxdepth", prev.Index.MaxDepth != next.Index.MaxDepth)
	restart("index.maxitems", prev.Index.MaxItems != next.Index.MaxItems)
	restart("index.rerouteradius", prev.Index.RerouteRadius != next.Index.RerouteRadius)

	return analysis
}

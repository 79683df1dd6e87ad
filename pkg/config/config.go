package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/toml/v2"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"

	"github.com/ritzau/graph-layout/pkg/layout"
)

// DefaultFile is read from the working directory unless --config names another
const DefaultFile = "graph-layout.toml"

// EnvPrefix prefixes environment overrides (e.g. GRAPH_LAYOUT_INDEX_DEBOUNCE=32ms)
const EnvPrefix = "GRAPH_LAYOUT_"

// Backend names
const (
	BackendMemory = "memory"
	BackendCRDT   = "crdt"
)

// Config holds all configuration for the application
type Config struct {
	Backend   string `koanf:"backend"`
	Actor     string `koanf:"actor"`
	Port      int    `koanf:"port"`
	Verbosity string `koanf:"verbosity"`
	JSON      bool   `koanf:"json"`
	File      string `koanf:"config"`
	Watch     bool   `koanf:"watch"`
	Index     Index  `koanf:"index"`
}

// Index holds spatial index settings
type Index struct {
	MinX          float64       `koanf:"minx"`
	MinY          float64       `koanf:"miny"`
	MaxX          float64       `koanf:"maxx"`
	MaxY          float64       `koanf:"maxy"`
	MaxDepth      int           `koanf:"maxdepth"`
	MaxItems      int           `koanf:"maxitems"`
	Debounce      time.Duration `koanf:"debounce"`
	RerouteRadius float64       `koanf:"rerouteradius"`
}

// World returns the index world bounds
func (i Index) World() layout.Bounds {
	return layout.Bounds{X: i.MinX, Y: i.MinY, Width: i.MaxX - i.MinX, Height: i.MaxY - i.MinY}
}

func defaults() map[string]interface{} {
	return map[string]interface{}{
		"backend":   BackendMemory,
		"actor":     "server",
		"port":      8080,
		"verbosity": "info",
		"json":      false,
		"config":    DefaultFile,
		"watch":     false,
		"index": map[string]interface{}{
			"minx":          -10000.0,
			"miny":          -10000.0,
			"maxx":          10000.0,
			"maxy":          10000.0,
			"maxdepth":      8,
			"maxitems":      16,
			"debounce":      "16ms",
			"rerouteradius": 8.0,
		},
	}
}

// RegisterFlags adds the flags Load understands. Dashes in flag names map to
// key separators, so --index-debounce sets index.debounce.
func RegisterFlags(f *pflag.FlagSet) {
	f.String("backend", BackendMemory, "Layout backend: memory or crdt")
	f.String("actor", "server", "Actor HTTP writes are attributed to when no header is sent")
	f.Int("port", 8080, "Port for the HTTP server")
	f.String("verbosity", "info", "Log level: trace, debug, info, warn, error")
	f.Bool("json", false, "Log as JSON")
	f.String("config", DefaultFile, "Path of the TOML config file")
	f.Bool("watch", false, "Reload the config file when it changes")
	f.Int("index-maxdepth", 8, "Maximum quadtree depth")
	f.Int("index-maxitems", 16, "Items per quadtree node before it splits")
	f.Duration("index-debounce", 16*time.Millisecond, "Spatial index debounce window")
	f.Float64("index-rerouteradius", 8, "Half-size of the square indexed around reroutes")
}

// Load loads configuration from defaults, config file, environment variables, and flags.
// Priority: Flags > Env > Config File > Defaults
func Load(f *pflag.FlagSet) (*Config, error) {
	// The file path may itself come from env or flags, so those are read once
	// without the file to find it.
	pass, err := layers(f, "")
	if err != nil {
		return nil, err
	}
	k, err := layers(f, pass.String("config"))
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func layers(f *pflag.FlagSet, path string) (*koanf.Koanf, error) {
	k := koanf.New(".")

	// 1. Defaults
	if err := k.Load(makeMapProvider(defaults()), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	// 2. Config file (optional)
	if path != "" {
		if err := k.Load(file.Provider(path), toml.Parser()); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to load %s: %w", path, err)
		}
	}

	// 3. Environment variables
	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		return strings.ReplaceAll(strings.ToLower(
			strings.TrimPrefix(s, EnvPrefix)), "_", ".")
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load env vars: %w", err)
	}

	// 4. Flags
	if f != nil {
		p := posflag.ProviderWithFlag(f, ".", k, func(fl *pflag.Flag) (string, interface{}) {
			return strings.ReplaceAll(fl.Name, "-", "."), posflag.FlagVal(f, fl)
		})
		if err := k.Load(p, nil); err != nil {
			return nil, fmt.Errorf("failed to load flags: %w", err)
		}
	}

	return k, nil
}

// Validate rejects settings the daemon cannot run with
func (c *Config) Validate() error {
	switch c.Backend {
	case BackendMemory, BackendCRDT:
	default:
		return fmt.Errorf("unknown backend %q (want %s or %s)", c.Backend, BackendMemory, BackendCRDT)
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	if c.Index.MaxX <= c.Index.MinX || c.Index.MaxY <= c.Index.MinY {
		return fmt.Errorf("empty index world %v", c.Index.World())
	}
	if c.Index.Debounce < 0 {
		return fmt.Errorf("negative index debounce %v", c.Index.Debounce)
	}
	return nil
}

// Helper to use map as a provider
type mapProvider struct {
	m map[string]interface{}
}

func makeMapProvider(m map[string]interface{}) *mapProvider {
	return &mapProvider{m: m}
}

func (p *mapProvider) Read() (map[string]interface{}, error) {
	return p.m, nil
}

func (p *mapProvider) ReadBytes() ([]byte, error) {
	return nil, fmt.Errorf("not implemented")
}

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/pflag"
)

func flags(t *testing.T, args ...string) *pflag.FlagSet {
	t.Helper()
	f := pflag.NewFlagSet("test", pflag.ContinueOnError)
	RegisterFlags(f)
	if err := f.Parse(args); err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	return f
}

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "graph-layout.toml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(flags(t, "--config", filepath.Join(t.TempDir(), "missing.toml")))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Backend != BackendMemory {
		t.Errorf("Expected backend memory, got %q", cfg.Backend)
	}
	if cfg.Port != 8080 {
		t.Errorf("Expected port 8080, got %d", cfg.Port)
	}
	if cfg.Index.Debounce != 16*time.Millisecond {
		t.Errorf("Expected 16ms debounce, got %v", cfg.Index.Debounce)
	}
	if w := cfg.Index.World(); w.Width != 20000 || w.X != -10000 {
		t.Errorf("Expected 20000-wide world at -10000, got %v", w)
	}
}

func TestLoad_Priority(t *testing.T) {
	path := writeFile(t, `
backend = "crdt"
port = 7000
verbosity = "debug"

[index]
debounce = "50ms"
maxitems = 4
`)
	t.Setenv("GRAPH_LAYOUT_PORT", "7100")
	t.Setenv("GRAPH_LAYOUT_INDEX_MAXITEMS", "6")

	cfg, err := Load(flags(t, "--config", path, "--index-maxitems", "9"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Backend != BackendCRDT {
		t.Errorf("Expected backend from file, got %q", cfg.Backend)
	}
	if cfg.Verbosity != "debug" {
		t.Errorf("Expected verbosity from file, got %q", cfg.Verbosity)
	}
	if cfg.Index.Debounce != 50*time.Millisecond {
		t.Errorf("Expected debounce from file, got %v", cfg.Index.Debounce)
	}
	if cfg.Port != 7100 {
		t.Errorf("Expected env to override file port, got %d", cfg.Port)
	}
	if cfg.Index.MaxItems != 9 {
		t.Errorf("Expected flag to override env, got %d", cfg.Index.MaxItems)
	}
	if cfg.File != path {
		t.Errorf("Expected file %q, got %q", path, cfg.File)
	}
}

func TestLoad_ConfigPathFromEnv(t *testing.T) {
	path := writeFile(t, `actor = "from-file"`)
	t.Setenv("GRAPH_LAYOUT_CONFIG", path)

	cfg, err := Load(flags(t))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Actor != "from-file" {
		t.Errorf("Expected actor from env-named file, got %q", cfg.Actor)
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		toml string
		want string
	}{
		{"backend", `backend = "disk"`, "unknown backend"},
		{"world", "[index]\nminx = 5.0\nmaxx = 5.0", "empty index world"},
		{"syntax", `port = `, "failed to load"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(flags(t, "--config", writeFile(t, tt.toml)))
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}

package watcher

import (
	"context"
	"os"
	"path/filepath"
	"slices"
	"testing"
	"time"

	"github.com/ritzau/graph-layout/pkg/config"
)

func next(t *testing.T, ch <-chan ChangeEvent, within time.Duration) ChangeEvent {
	t.Helper()
	select {
	case ev, ok := <-ch:
		if !ok {
			t.Fatal("Expected event, channel closed")
		}
		return ev
	case <-time.After(within):
		t.Fatalf("Timeout after %v waiting for event", within)
	}
	return ChangeEvent{}
}

func TestDebouncer_CoalescesBurst(t *testing.T) {
	in := make(chan ChangeEvent)
	d := NewDebouncer(in, 30*time.Millisecond, time.Second)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	d.Start(ctx)

	for i := 0; i < 5; i++ {
		in <- ChangeEvent{Type: ChangeTypeWrite, Paths: []string{"a.toml"}}
	}

	ev := next(t, d.Output(), time.Second)
	if ev.Type != ChangeTypeWrite || !slices.Equal(ev.Paths, []string{"a.toml"}) {
		t.Errorf("Expected one write of a.toml, got %v %v", ev.Type, ev.Paths)
	}

	select {
	case ev := <-d.Output():
		t.Errorf("Expected a single batch, got extra %v", ev)
	case <-time.After(60 * time.Millisecond):
	}
}

func TestDebouncer_MaxWait(t *testing.T) {
	in := make(chan ChangeEvent)
	d := NewDebouncer(in, 50*time.Millisecond, 120*time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	d.Start(ctx)

	start := time.Now()
	stopFeed := make(chan struct{})
	go func() {
		tick := time.NewTicker(10 * time.Millisecond)
		defer tick.Stop()
		for {
			select {
			case <-stopFeed:
				return
			case <-tick.C:
				select {
				case in <- ChangeEvent{Type: ChangeTypeWrite, Paths: []string{"a.toml"}}:
				case <-stopFeed:
					return
				}
			}
		}
	}()
	defer close(stopFeed)

	next(t, d.Output(), time.Second)
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Errorf("Expected flush near max wait despite constant events, took %v", elapsed)
	}
}

func TestDebouncer_FlushOnClose(t *testing.T) {
	in := make(chan ChangeEvent, 2)
	d := NewDebouncer(in, time.Hour, time.Hour)
	d.Start(context.Background())

	in <- ChangeEvent{Type: ChangeTypeRemove, Paths: []string{"b"}}
	in <- ChangeEvent{Type: ChangeTypeWrite, Paths: []string{"b"}}
	close(in)

	first := next(t, d.Output(), time.Second)
	second := next(t, d.Output(), time.Second)
	if first.Type != ChangeTypeWrite || second.Type != ChangeTypeRemove {
		t.Errorf("Expected write then remove, got %v then %v", first.Type, second.Type)
	}
	if _, ok := <-d.Output(); ok {
		t.Error("Expected output closed")
	}
}

func TestFileWatcher_SeesWatchedFileOnly(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "graph-layout.toml")
	if err := os.WriteFile(target, []byte("port = 1\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	fw, err := NewFileWatcher(target)
	if err != nil {
		t.Fatalf("NewFileWatcher failed: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	fw.Start(ctx)

	if err := os.WriteFile(filepath.Join(dir, "other.txt"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(target, []byte("port = 2\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	ev := next(t, fw.Events(), 2*time.Second)
	if ev.Type != ChangeTypeWrite || filepath.Base(ev.Paths[0]) != "graph-layout.toml" {
		t.Errorf("Expected write of graph-layout.toml, got %v %v", ev.Type, ev.Paths)
	}

	cancel()
	deadline := time.After(time.Second)
	for {
		select {
		case _, ok := <-fw.Events():
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("Expected events channel closed after cancel")
		}
	}
}

func TestAnalyzeChanges(t *testing.T) {
	base := config.Config{Backend: "memory", Port: 8080, Verbosity: "info"}
	base.Index.MaxX, base.Index.MaxY = 10, 10
	base.Index.Debounce = 16 * time.Millisecond

	same := base
	if a := AnalyzeChanges(&base, &same); !a.Empty() {
		t.Errorf("Expected no changes, got %+v", a)
	}

	changed := base
	changed.Verbosity = "debug"
	changed.Index.Debounce = 32 * time.Millisecond
	changed.Port = 9090
	changed.Index.MaxX = 20

	a := AnalyzeChanges(&base, &changed)
	if !a.ReloadLogging || !a.ReloadDebounce {
		t.Errorf("Expected logging and debounce reload, got %+v", a)
	}
	if !slices.Equal(a.RestartRequired, []string{"port", "index.world"}) {
		t.Errorf("Expected [port index.world] to need restart, got %v", a.RestartRequired)
	}
}

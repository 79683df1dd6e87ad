package watcher

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/ritzau/graph-layout/pkg/logging"
)

// ChangeType represents the type of file change detected
type ChangeType int

const (
	// ChangeTypeWrite covers create, write and rename-into-place
	ChangeTypeWrite ChangeType = iota
	ChangeTypeRemove
)

func (t ChangeType) String() string {
	switch t {
	case ChangeTypeWrite:
		return "write"
	case ChangeTypeRemove:
		return "remove"
	}
	return fmt.Sprintf("ChangeType(%d)", int(t))
}

// ChangeEvent represents a batch of file system changes
type ChangeEvent struct {
	Type      ChangeType
	Paths     []string
	Timestamp time.Time
}

// FileWatcher watches individual files for changes. The parent directories
// are watched rather than the files so editors that save by renaming a
// temporary file over the original are still seen.
type FileWatcher struct {
	watcher *fsnotify.Watcher
	files   map[string]bool // cleaned absolute paths
	events  chan ChangeEvent
	once    sync.Once
}

// NewFileWatcher creates a watcher for the given files
func NewFileWatcher(paths ...string) (*FileWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}

	fw := &FileWatcher{
		watcher: watcher,
		files:   make(map[string]bool),
		events:  make(chan ChangeEvent, 100),
	}

	dirs := make(map[string]bool)
	for _, p := range paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			watcher.Close()
			return nil, fmt.Errorf("failed to resolve %s: %w", p, err)
		}
		fw.files[abs] = true
		dirs[filepath.Dir(abs)] = true
	}
	for dir := range dirs {
		if err := watcher.Add(dir); err != nil {
			watcher.Close()
			return nil, fmt.Errorf("failed to watch %s: %w", dir, err)
		}
	}

	return fw, nil
}

// Start begins watching; the watcher stops when ctx is done
func (fw *FileWatcher) Start(ctx context.Context) {
	logging.Info("started watching files", "count", len(fw.files))
	go fw.processEvents(ctx)
}

// processEvents forwards events for watched files, one per fsnotify event
func (fw *FileWatcher) processEvents(ctx context.Context) {
	defer close(fw.events)
	defer fw.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-fw.watcher.Events:
			if !ok {
				return
			}
			if !fw.files[filepath.Clean(event.Name)] {
				continue
			}

			t := ChangeTypeWrite
			switch {
			case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
				t = ChangeTypeRemove
			case event.Has(fsnotify.Chmod) && !event.Has(fsnotify.Write):
				continue
			}
			logging.Trace("file changed", "path", event.Name, "op", event.Op.String())

			select {
			case fw.events <- ChangeEvent{Type: t, Paths: []string{event.Name}, Timestamp: time.Now()}:
			case <-ctx.Done():
				return
			}

		case err, ok := <-fw.watcher.Errors:
			if !ok {
				return
			}
			logging.Error("watcher error", "error", err)
		}
	}
}

// Events returns the channel of change events
func (fw *FileWatcher) Events() <-chan ChangeEvent {
	return fw.events
}

// Stop stops the file watcher
func (fw *FileWatcher) Stop() error {
	var err error
	fw.once.Do(func() { err = fw.watcher.Close() })
	return err
}

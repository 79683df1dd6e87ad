package spatial

import (
	"cmp"
	"sync"
	"time"

	"github.com/ritzau/graph-layout/pkg/layout"
	"github.com/ritzau/graph-layout/pkg/logging"
)

// DefaultDebounce is roughly one animation frame
const DefaultDebounce = 16 * time.Millisecond

// Debouncer coalesces index updates into at most one batch per window.
// Between a call to Update and the end of its window the index may still
// hold the previous bounds for that id. Removals are applied immediately.
type Debouncer[K cmp.Ordered] struct {
	index *Index[K]

	mu      sync.Mutex
	window  time.Duration
	pending map[K]layout.Bounds
	timer   *time.Timer
	stopped bool
}

// NewDebouncer wraps index. A window of zero applies updates immediately.
func NewDebouncer[K cmp.Ordered](index *Index[K], window time.Duration) *Debouncer[K] {
	return &Debouncer[K]{
		index:   index,
		window:  window,
		pending: make(map[K]layout.Bounds),
	}
}

// Update schedules id to be moved to b at the end of the current window.
// Later updates to the same id within the window replace earlier ones.
func (d *Debouncer[K]) Update(id K, b layout.Bounds) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped || d.window <= 0 {
		d.index.UpdateNode(id, b)
		return
	}

	d.pending[id] = b
	if d.timer == nil {
		d.timer = time.AfterFunc(d.window, d.Flush)
	}
}

// Remove drops any pending update for id and removes it from the index now
func (d *Debouncer[K]) Remove(id K) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.pending, id)
	d.index.RemoveNode(id)
}

// Discard drops every pending update without applying it
func (d *Debouncer[K]) Discard() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.pending = make(map[K]layout.Bounds)
	d.stopTimer()
}

// Flush applies pending updates now
func (d *Debouncer[K]) Flush() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.flushLocked()
}

// flushLocked runs with d.mu held so a concurrent Remove cannot be
// overwritten by a stale pending entry
func (d *Debouncer[K]) flushLocked() {
	d.stopTimer()
	if len(d.pending) == 0 {
		return
	}
	batch := d.pending
	d.pending = make(map[K]layout.Bounds)
	d.index.BatchUpdate(batch)
	debounceFlushesTotal.WithLabelValues(d.index.name).Inc()
	logging.Trace("flushed debounced index updates", "index", d.index.name, "count", len(batch))
}

func (d *Debouncer[K]) stopTimer() {
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}

// Pending returns the number of ids waiting for the next flush
func (d *Debouncer[K]) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}

// Window returns the current debounce window
func (d *Debouncer[K]) Window() time.Duration {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.window
}

// SetWindow changes the window for subsequent updates. Pending updates are
// flushed first so nothing waits longer than the window it was scheduled in.
func (d *Debouncer[K]) SetWindow(window time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.flushLocked()
	d.window = window
}

// Stop flushes pending updates; later updates are applied immediately
func (d *Debouncer[K]) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.flushLocked()
	d.stopped = true
}

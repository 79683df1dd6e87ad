package watcher

import (
	"context"
	"slices"
	"time"

	"github.com/ritzau/graph-layout/pkg/logging"
)

// Default debounce timings for config reloads
const (
	DefaultQuietPeriod = 200 * time.Millisecond
	DefaultMaxWait     = time.Second
)

// Debouncer batches rapid file system events. A batch is emitted once no
// event arrived for quietPeriod, or maxWait after its first event.
type Debouncer struct {
	input       <-chan ChangeEvent
	output      chan ChangeEvent
	quietPeriod time.Duration
	maxWait     time.Duration
}

// NewDebouncer creates a new event debouncer
func NewDebouncer(input <-chan ChangeEvent, quietPeriod, maxWait time.Duration) *Debouncer {
	return &Debouncer{
		input:       input,
		output:      make(chan ChangeEvent, 10),
		quietPeriod: quietPeriod,
		maxWait:     maxWait,
	}
}

// Start begins processing events with debouncing
func (d *Debouncer) Start(ctx context.Context) {
	go d.run(ctx)
}

// run owns all batch state; timers are only read through their channels
func (d *Debouncer) run(ctx context.Context) {
	defer close(d.output)

	var (
		quiet, deadline <-chan time.Time
		quietTimer      *time.Timer
		deadlineTimer   *time.Timer
		accumulated     = make(map[ChangeType][]string)
		eventCount      int
	)

	stop := func() {
		if quietTimer != nil {
			quietTimer.Stop()
		}
		if deadlineTimer != nil {
			deadlineTimer.Stop()
		}
		quiet, deadline = nil, nil
		quietTimer, deadlineTimer = nil, nil
	}

	flush := func() {
		stop()
		if eventCount == 0 {
			return
		}
		logging.Debug("flushing accumulated file events", "count", eventCount)

		// Removals last so a remove-then-recreate burst ends in a write
		for _, t := range []ChangeType{ChangeTypeWrite, ChangeTypeRemove} {
			if paths := accumulated[t]; len(paths) > 0 {
				slices.Sort(paths)
				d.output <- ChangeEvent{Type: t, Paths: slices.Compact(paths), Timestamp: time.Now()}
			}
		}
		accumulated = make(map[ChangeType][]string)
		eventCount = 0
	}

	for {
		select {
		case <-ctx.Done():
			flush()
			return

		case event, ok := <-d.input:
			if !ok {
				flush()
				return
			}
			accumulated[event.Type] = append(accumulated[event.Type], event.Paths...)
			eventCount++

			if quietTimer != nil {
				quietTimer.Stop()
			}
			quietTimer = time.NewTimer(d.quietPeriod)
			quiet = quietTimer.C
			if deadlineTimer == nil {
				deadlineTimer = time.NewTimer(d.maxWait)
				deadline = deadlineTimer.C
			}

		case <-quiet:
			flush()

		case <-deadline:
			flush()
		}
	}
}

// Output returns the channel of debounced events
func (d *Debouncer) Output() <-chan ChangeEvent {
	return d.output
}

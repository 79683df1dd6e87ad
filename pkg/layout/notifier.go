package layout

import (
	"fmt"
	"sync"
	"time"

	"github.com/ritzau/graph-layout/pkg/logging"
)

// Notifier fans out changes to subscribers in subscription order.
// A panicking subscriber is logged and skipped; the rest still receive the change.
type Notifier struct {
	mu     sync.Mutex
	nextID int
	subs   []subscriber
}

type subscriber struct {
	id int
	fn func(Change)
}

// Subscribe registers fn and returns a func that removes it
func (n *Notifier) Subscribe(fn func(Change)) func() {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.nextID++
	id := n.nextID
	n.subs = append(n.subs, subscriber{id: id, fn: fn})

	var once sync.Once
	return func() {
		once.Do(func() { n.remove(id) })
	}
}

func (n *Notifier) remove(id int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for i, s := range n.subs {
		if s.id == id {
			n.subs = append(n.subs[:i:i], n.subs[i+1:]...)
			return
		}
	}
}

// Len returns the number of active subscribers
func (n *Notifier) Len() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.subs)
}

// Notify delivers c to every subscriber registered at call time.
// Empty changes are dropped.
func (n *Notifier) Notify(c Change) {
	if c.Empty() {
		return
	}

	n.mu.Lock()
	subs := make([]subscriber, len(n.subs))
	copy(subs, n.subs)
	n.mu.Unlock()

	for _, s := range subs {
		deliver(s, c)
	}
}

func deliver(s subscriber, c Change) {
	defer func() {
		if r := recover(); r != nil {
			logging.Error("layout subscriber failed",
				"subscriber", s.id,
				"change", string(c.Type),
				"actor", c.Actor,
				"error", fmt.Sprint(r))
		}
	}()
	s.fn(c)
}

// ActorScope tracks the actor of open transactions.
// Scopes may close out of order when transactions run on several goroutines.
type ActorScope struct {
	mu       sync.Mutex
	fallback string
	next     int
	open     []scopeEntry
}

type scopeEntry struct {
	token int
	actor string
}

// NewActorScope returns a scope whose current actor is fallback until a transaction opens
func NewActorScope(fallback string) *ActorScope {
	return &ActorScope{fallback: fallback}
}

// Enter makes actor current and returns the func that restores the previous actor
func (s *ActorScope) Enter(actor string) func() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.next++
	token := s.next
	s.open = append(s.open, scopeEntry{token: token, actor: actor})

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		for i := len(s.open) - 1; i >= 0; i-- {
			if s.open[i].token == token {
				s.open = append(s.open[:i], s.open[i+1:]...)
				return
			}
		}
	}
}

// Current returns the innermost open actor or the fallback
func (s *ActorScope) Current() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.open) > 0 {
		return s.open[len(s.open)-1].actor
	}
	return s.fallback
}

// SetFallback changes the actor used outside transactions
func (s *ActorScope) SetFallback(actor string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fallback = actor
}

// Clock hands out operation timestamps in Unix milliseconds that never decrease
type Clock struct {
	mu   sync.Mutex
	now  func() time.Time
	last int64
}

// NewClock returns a clock reading now, or time.Now when now is nil
func NewClock(now func() time.Time) *Clock {
	if now == nil {
		now = time.Now
	}
	return &Clock{now: now}
}

// Stamp returns the next timestamp
func (c *Clock) Stamp() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	ts := c.now().UnixMilli()
	if ts < c.last {
		ts = c.last
	}
	c.last = ts
	return ts
}

// StampOperation fills in a missing timestamp and actor
func (c *Clock) StampOperation(op Operation, actor string) Operation {
	if op.Timestamp == 0 {
		op.Timestamp = c.Stamp()
	}
	if op.Actor == "" {
		op.Actor = actor
	}
	return op
}

// Options configures an adapter
type Options struct {
	Now   func() time.Time
	Actor string
}

// Option mutates Options
type Option func(*Options)

// WithClock sets the time source used to stamp operations
func WithClock(now func() time.Time) Option {
	return func(o *Options) { o.Now = now }
}

// WithDefaultActor sets the actor used outside transactions
func WithDefaultActor(actor string) Option {
	return func(o *Options) { o.Actor = actor }
}

// ApplyOptions resolves opts over the defaults
func ApplyOptions(opts ...Option) Options {
	o := Options{Now: time.Now, Actor: DefaultActor}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

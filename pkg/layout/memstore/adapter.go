// Package memstore implements the layout adapter over plain maps.
// It is meant for tests and single-user sessions; its sync surface ships
// full snapshots and does not diff.
package memstore

import (
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"sync"

	"lukechampine.com/blake3"

	"github.com/ritzau/graph-layout/pkg/cycles"
	"github.com/ritzau/graph-layout/pkg/layout"
	"github.com/ritzau/graph-layout/pkg/logging"
)

// Adapter is the in-memory layout backend
type Adapter struct {
	mu       sync.RWMutex
	nodes    map[string]layout.NodeLayout
	reroutes map[int]layout.Reroute
	links    map[int]layout.Link
	ops      []layout.Operation

	notifier layout.Notifier
	actors   *layout.ActorScope
	clock    *layout.Clock
}

var _ layout.Adapter = (*Adapter)(nil)

// New creates an empty in-memory adapter
func New(opts ...layout.Option) *Adapter {
	o := layout.ApplyOptions(opts...)
	return &Adapter{
		nodes:    make(map[string]layout.NodeLayout),
		reroutes: make(map[int]layout.Reroute),
		links:    make(map[int]layout.Link),
		actors:   layout.NewActorScope(o.Actor),
		clock:    layout.NewClock(o.Now),
	}
}

// GetNode returns a copy of the node layout
func (a *Adapter) GetNode(id string) (layout.NodeLayout, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	l, ok := a.nodes[id]
	return l, ok
}

// GetAllNodes returns a snapshot of every node
func (a *Adapter) GetAllNodes() map[string]layout.NodeLayout {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return maps.Clone(a.nodes)
}

// GetReroute returns a copy of the reroute
func (a *Adapter) GetReroute(id int) (layout.Reroute, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	r, ok := a.reroutes[id]
	return r.Clone(), ok
}

// GetAllReroutes returns a snapshot of every reroute
func (a *Adapter) GetAllReroutes() map[int]layout.Reroute {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make(map[int]layout.Reroute, len(a.reroutes))
	for id, r := range a.reroutes {
		out[id] = r.Clone()
	}
	return out
}

// GetLink returns a copy of the link
func (a *Adapter) GetLink(id int) (layout.Link, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	l, ok := a.links[id]
	return l.Clone(), ok
}

// GetAllLinks returns a snapshot of every link
func (a *Adapter) GetAllLinks() map[int]layout.Link {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make(map[int]layout.Link, len(a.links))
	for id, l := range a.links {
		out[id] = l.Clone()
	}
	return out
}

func (a *Adapter) single(fn func(w layout.Writer)) {
	_ = a.Transaction(a.actors.Current(), func(w layout.Writer) error {
		fn(w)
		return nil
	})
}

func (a *Adapter) SetNode(id string, l layout.NodeLayout) {
	a.single(func(w layout.Writer) { w.SetNode(id, l) })
}

func (a *Adapter) DeleteNode(id string) {
	a.single(func(w layout.Writer) { w.DeleteNode(id) })
}

func (a *Adapter) SetReroute(id int, r layout.Reroute) {
	a.single(func(w layout.Writer) { w.SetReroute(id, r) })
}

func (a *Adapter) DeleteReroute(id int) {
	a.single(func(w layout.Writer) { w.DeleteReroute(id) })
}

func (a *Adapter) SetLink(id int, l layout.Link) {
	a.single(func(w layout.Writer) { w.SetLink(id, l) })
}

func (a *Adapter) DeleteLink(id int) {
	a.single(func(w layout.Writer) { w.DeleteLink(id) })
}

func (a *Adapter) AddOperation(op layout.Operation) {
	a.single(func(w layout.Writer) { w.AddOperation(op) })
}

// Clear drops every entity and the operation log.
// A clear notification is sent only if something was removed.
func (a *Adapter) Clear() {
	a.mu.Lock()
	change := layout.Change{
		Type:       layout.ChangeClear,
		NodeIDs:    slices.Sorted(maps.Keys(a.nodes)),
		RerouteIDs: slices.Sorted(maps.Keys(a.reroutes)),
		LinkIDs:    slices.Sorted(maps.Keys(a.links)),
		Actor:      a.actors.Current(),
	}
	a.nodes = make(map[string]layout.NodeLayout)
	a.reroutes = make(map[int]layout.Reroute)
	a.links = make(map[int]layout.Link)
	a.ops = nil
	a.mu.Unlock()

	a.notifier.Notify(change)
}

// GetOperationsSince returns operations stamped after timestamp, in log order
func (a *Adapter) GetOperationsSince(timestamp int64) []layout.Operation {
	return a.filterOps(func(op layout.Operation) bool { return op.Timestamp > timestamp })
}

// GetOperationsByActor returns the actor's operations, in log order
func (a *Adapter) GetOperationsByActor(actor string) []layout.Operation {
	return a.filterOps(func(op layout.Operation) bool { return op.Actor == actor })
}

func (a *Adapter) filterOps(keep func(layout.Operation) bool) []layout.Operation {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]layout.Operation, 0)
	for _, op := range a.ops {
		if keep(op) {
			out = append(out, op.Clone())
		}
	}
	return out
}

// Subscribe registers a change callback
func (a *Adapter) Subscribe(fn func(layout.Change)) func() {
	return a.notifier.Subscribe(fn)
}

// CurrentActor returns the actor writes are attributed to right now
func (a *Adapter) CurrentActor() string {
	return a.actors.Current()
}

// SetDefaultActor sets the actor for writes outside a transaction
func (a *Adapter) SetDefaultActor(actor string) {
	a.actors.SetFallback(actor)
}

// Transaction stages fn's writes and commits them together.
// The actor scope is restored even when fn panics; staged writes are then dropped.
func (a *Adapter) Transaction(actor string, fn func(w layout.Writer) error) error {
	restore := a.actors.Enter(actor)
	defer restore()

	t := newTx(a, actor)
	if err := fn(t); err != nil {
		return err
	}

	for _, c := range a.commit(t) {
		a.notifier.Notify(c)
	}
	return nil
}

// commit applies staged writes and returns the notifications to send:
// deletions first, then sets.
func (a *Adapter) commit(t *tx) []layout.Change {
	a.mu.Lock()
	defer a.mu.Unlock()

	del := layout.Change{Type: layout.ChangeDelete, Actor: t.actor}
	set := layout.Change{Type: layout.ChangeSet, Actor: t.actor}

	for _, id := range slices.Sorted(maps.Keys(t.nodes)) {
		staged := t.nodes[id]
		if staged == nil {
			if _, ok := a.nodes[id]; ok {
				delete(a.nodes, id)
				del.NodeIDs = append(del.NodeIDs, id)
			}
			continue
		}
		a.nodes[id] = *staged
		set.NodeIDs = append(set.NodeIDs, id)
	}

	for _, id := range slices.Sorted(maps.Keys(t.reroutes)) {
		staged := t.reroutes[id]
		if staged == nil {
			if _, ok := a.reroutes[id]; ok {
				delete(a.reroutes, id)
				del.RerouteIDs = append(del.RerouteIDs, id)
			}
			continue
		}
		a.reroutes[id] = *staged
		set.RerouteIDs = append(set.RerouteIDs, id)
	}

	for _, id := range slices.Sorted(maps.Keys(t.links)) {
		staged := t.links[id]
		if staged == nil {
			if _, ok := a.links[id]; ok {
				delete(a.links, id)
				del.LinkIDs = append(del.LinkIDs, id)
			}
			continue
		}
		a.links[id] = *staged
		set.LinkIDs = append(set.LinkIDs, id)
	}

	a.ops = append(a.ops, t.ops...)

	return []layout.Change{del, set}
}

// snapshot is the full-state wire form of this backend
type snapshot struct {
	Nodes      map[string]layout.NodeLayout `json:"nodes"`
	Reroutes   map[int]layout.Reroute       `json:"reroutes"`
	Links      map[int]layout.Link          `json:"links"`
	Operations []layout.Operation           `json:"operations"`
}

func (a *Adapter) snapshot() snapshot {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return snapshot{
		Nodes:      maps.Clone(a.nodes),
		Reroutes:   maps.Clone(a.reroutes),
		Links:      maps.Clone(a.links),
		Operations: slices.Clone(a.ops),
	}
}

// GetStateVector returns a BLAKE3 fingerprint of the full state
func (a *Adapter) GetStateVector() []byte {
	sum := blake3.Sum256(a.GetStateAsUpdate())
	return sum[:]
}

// GetStateAsUpdate encodes the full state
func (a *Adapter) GetStateAsUpdate() []byte {
	// encoding/json sorts map keys, so equal states encode identically
	data, err := json.Marshal(a.snapshot())
	if err != nil {
		panic(fmt.Sprintf("memstore: encode snapshot: %v", err))
	}
	return data
}

// ApplyUpdate upserts every entity of a snapshot and appends unseen
// operations. Entities missing from the snapshot are kept. A merge that
// leaves a reroute loop is kept and reported with layout.ErrRerouteCycle.
func (a *Adapter) ApplyUpdate(update []byte) error {
	var s snapshot
	if err := json.Unmarshal(update, &s); err != nil {
		return fmt.Errorf("%w: %v", layout.ErrMalformedUpdate, err)
	}

	seen := make(map[string]bool)
	for _, op := range a.snapshot().Operations {
		seen[opKey(op)] = true
	}

	before := a.GetAllReroutes()
	err := a.Transaction(layout.RemoteActor, func(w layout.Writer) error {
		for id, l := range s.Nodes {
			w.SetNode(id, l)
		}
		for id, r := range s.Reroutes {
			w.SetReroute(id, r)
		}
		for id, l := range s.Links {
			w.SetLink(id, l)
		}
		for _, op := range s.Operations {
			if k := opKey(op); !seen[k] {
				seen[k] = true
				w.AddOperation(op)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	if err := cycles.CheckMerged(before, a.GetAllReroutes()); err != nil {
		logging.Error("merged update left a reroute cycle", "error", err)
		return err
	}
	return nil
}

func opKey(op layout.Operation) string {
	data, _ := json.Marshal(op)
	return string(data)
}

// tx stages writes; a nil entry marks a deletion
type tx struct {
	a        *Adapter
	actor    string
	nodes    map[string]*layout.NodeLayout
	reroutes map[int]*layout.Reroute
	links    map[int]*layout.Link
	ops      []layout.Operation
}

func newTx(a *Adapter, actor string) *tx {
	return &tx{
		a:        a,
		actor:    actor,
		nodes:    make(map[string]*layout.NodeLayout),
		reroutes: make(map[int]*layout.Reroute),
		links:    make(map[int]*layout.Link),
	}
}

func (t *tx) Actor() string { return t.actor }

func (t *tx) GetNode(id string) (layout.NodeLayout, bool) {
	if staged, ok := t.nodes[id]; ok {
		if staged == nil {
			return layout.NodeLayout{}, false
		}
		return *staged, true
	}
	return t.a.GetNode(id)
}

func (t *tx) GetAllNodes() map[string]layout.NodeLayout {
	out := t.a.GetAllNodes()
	for id, staged := range t.nodes {
		if staged == nil {
			delete(out, id)
		} else {
			out[id] = *staged
		}
	}
	return out
}

func (t *tx) GetReroute(id int) (layout.Reroute, bool) {
	if staged, ok := t.reroutes[id]; ok {
		if staged == nil {
			return layout.Reroute{}, false
		}
		return staged.Clone(), true
	}
	return t.a.GetReroute(id)
}

func (t *tx) GetAllReroutes() map[int]layout.Reroute {
	out := t.a.GetAllReroutes()
	for id, staged := range t.reroutes {
		if staged == nil {
			delete(out, id)
		} else {
			out[id] = staged.Clone()
		}
	}
	return out
}

func (t *tx) GetLink(id int) (layout.Link, bool) {
	if staged, ok := t.links[id]; ok {
		if staged == nil {
			return layout.Link{}, false
		}
		return staged.Clone(), true
	}
	return t.a.GetLink(id)
}

func (t *tx) GetAllLinks() map[int]layout.Link {
	out := t.a.GetAllLinks()
	for id, staged := range t.links {
		if staged == nil {
			delete(out, id)
		} else {
			out[id] = staged.Clone()
		}
	}
	return out
}

func (t *tx) SetNode(id string, l layout.NodeLayout) {
	if !l.Finite() {
		logging.Warn("ignoring non-finite node layout", "node", id, "actor", t.actor)
		return
	}
	l.ID = id
	l = l.Normalize()
	t.nodes[id] = &l
}

func (t *tx) DeleteNode(id string) {
	t.nodes[id] = nil
}

func (t *tx) SetReroute(id int, r layout.Reroute) {
	if !r.Finite() {
		logging.Warn("ignoring non-finite reroute", "reroute", id, "actor", t.actor)
		return
	}
	r = r.Clone()
	r.ID = id
	t.reroutes[id] = &r
}

func (t *tx) DeleteReroute(id int) {
	t.reroutes[id] = nil
}

func (t *tx) SetLink(id int, l layout.Link) {
	l = l.Clone()
	l.ID = id
	t.links[id] = &l
}

func (t *tx) DeleteLink(id int) {
	t.links[id] = nil
}

func (t *tx) AddOperation(op layout.Operation) {
	if !op.Finite() {
		logging.Warn("ignoring operation with non-finite geometry", "type", op.Type, "actor", t.actor)
		return
	}
	t.ops = append(t.ops, t.a.clock.StampOperation(op.Clone(), t.actor))
}

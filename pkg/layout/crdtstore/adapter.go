// Package crdtstore implements the layout adapter over a replicated
// document so that several editors can share one canvas. Replicas exchange
// updates through GetStateAsUpdate/ApplyUpdate and converge regardless of
// the order updates arrive in.
package crdtstore

import (
	"encoding/json"
	"fmt"
	"maps"
	"slices"

	"github.com/ritzau/graph-layout/pkg/crdt"
	"github.com/ritzau/graph-layout/pkg/cycles"
	"github.com/ritzau/graph-layout/pkg/layout"
	"github.com/ritzau/graph-layout/pkg/logging"
)

// txOrigin marks document transactions started by this adapter
type txOrigin struct {
	actor string
	clear bool
}

// Adapter is the replicated layout backend
type Adapter struct {
	reader
	doc       *crdt.Doc
	notifier  layout.Notifier
	actors    *layout.ActorScope
	clock     *layout.Clock
	unobserve func()
}

var _ layout.Adapter = (*Adapter)(nil)

// New creates an adapter over a fresh document. An empty clientID picks a random one.
func New(clientID string, opts ...layout.Option) *Adapter {
	o := layout.ApplyOptions(opts...)
	doc := crdt.NewDoc(clientID)
	a := &Adapter{
		reader: reader{src: doc},
		doc:    doc,
		actors: layout.NewActorScope(o.Actor),
		clock:  layout.NewClock(o.Now),
	}
	a.unobserve = doc.Observe(a.onEvent)
	return a
}

// ClientID returns the replica id stamped on local writes
func (a *Adapter) ClientID() string { return a.doc.ClientID() }

// Close detaches the adapter from its document
func (a *Adapter) Close() {
	a.unobserve()
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

// Clear removes every entity and the operation log in one document transaction
func (a *Adapter) Clear() {
	origin := txOrigin{actor: a.actors.Current(), clear: true}
	_ = a.doc.Transact(origin, func(tx *crdt.Txn) error {
		for _, m := range []string{mapNodes, mapReroutes, mapLinks} {
			for _, key := range tx.Keys(m) {
				tx.Remove(m, key)
			}
		}
		tx.ClearList(listOps)
		return nil
	})
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
	out := make([]layout.Operation, 0)
	for _, data := range a.doc.Items(listOps) {
		var op layout.Operation
		if err := json.Unmarshal(data, &op); err != nil {
			logging.Warn("skipping undecodable operation", "client", a.doc.ClientID(), "error", err)
			continue
		}
		if keep(op) {
			out = append(out, op)
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

// Transaction runs fn inside one document transaction. Subscribers are
// notified from the document observer once the transaction has committed.
func (a *Adapter) Transaction(actor string, fn func(w layout.Writer) error) error {
	restore := a.actors.Enter(actor)
	defer restore()

	return a.doc.Transact(txOrigin{actor: actor}, func(tx *crdt.Txn) error {
		return fn(&writer{reader: reader{src: tx}, tx: tx, actor: actor, clock: a.clock})
	})
}

// GetStateVector returns the encoded per-replica clocks this adapter has seen
func (a *Adapter) GetStateVector() []byte {
	return a.doc.StateVector().Encode()
}

// GetStateAsUpdate encodes the whole document
func (a *Adapter) GetStateAsUpdate() []byte {
	data, err := a.doc.EncodeStateAsUpdate(nil)
	if err != nil {
		logging.Error("failed to encode layout state", "client", a.doc.ClientID(), "error", err)
		return nil
	}
	return data
}

// GetStateAsUpdateSince encodes only what a peer with the given state vector is missing
func (a *Adapter) GetStateAsUpdateSince(stateVector []byte) ([]byte, error) {
	sv, err := crdt.DecodeStateVector(stateVector)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", layout.ErrMalformedUpdate, err)
	}
	return a.doc.EncodeStateAsUpdate(sv)
}

// ApplyUpdate merges an update from another replica.
// Resulting changes are attributed to layout.RemoteActor.
//
// Concurrent parent edits can merge into a reroute loop. The merged state is
// kept so replicas converge, and an error wrapping layout.ErrRerouteCycle is
// returned so the caller can repair the chain.
func (a *Adapter) ApplyUpdate(update []byte) error {
	before := a.GetAllReroutes()
	if err := a.doc.ApplyUpdate(update, layout.RemoteActor); err != nil {
		return fmt.Errorf("%w: %w", layout.ErrMalformedUpdate, err)
	}
	if err := cycles.CheckMerged(before, a.GetAllReroutes()); err != nil {
		logging.Error("merged update left a reroute cycle", "client", a.doc.ClientID(), "error", err)
		return err
	}
	return nil
}

// onEvent maps document events to layout changes: deletions first, then sets
func (a *Adapter) onEvent(ev crdt.Event) {
	actor := layout.RemoteActor
	isClear := false
	if o, ok := ev.Origin.(txOrigin); ok {
		actor = o.actor
		isClear = o.clear
	}

	del := layout.Change{Type: layout.ChangeDelete, Actor: actor}
	set := layout.Change{Type: layout.ChangeSet, Actor: actor}

	for _, key := range ev.KeysOf(mapNodes) {
		if ev.Keys[mapNodes][key] == crdt.KeyDeleted {
			del.NodeIDs = append(del.NodeIDs, key)
		} else {
			set.NodeIDs = append(set.NodeIDs, key)
		}
	}
	collectInts(ev, mapReroutes, &del.RerouteIDs, &set.RerouteIDs)
	collectInts(ev, mapLinks, &del.LinkIDs, &set.LinkIDs)

	if isClear {
		del.Type = layout.ChangeClear
	}
	a.notifier.Notify(del)
	a.notifier.Notify(set)
}

func collectInts(ev crdt.Event, mapName string, deleted, set *[]int) {
	for key, action := range ev.Keys[mapName] {
		id, ok := parseIntKey(key)
		if !ok {
			continue
		}
		if action == crdt.KeyDeleted {
			*deleted = append(*deleted, id)
		} else {
			*set = append(*set, id)
		}
	}
	slices.Sort(*deleted)
	slices.Sort(*set)
}

// source is the read side shared by the document and an open transaction
type source interface {
	Get(mapName, key string) (crdt.Fields, bool)
	Entries(mapName string) map[string]crdt.Fields
}

type reader struct {
	src source
}

func (r reader) GetNode(id string) (layout.NodeLayout, bool) {
	f, ok := r.src.Get(mapNodes, id)
	if !ok {
		return layout.NodeLayout{}, false
	}
	l, err := decodeNode(id, f)
	if err != nil {
		logging.Warn("node has undecodable fields", "node", id, "error", err)
	}
	return l, true
}

func (r reader) GetAllNodes() map[string]layout.NodeLayout {
	entries := r.src.Entries(mapNodes)
	out := make(map[string]layout.NodeLayout, len(entries))
	for _, id := range slices.Sorted(maps.Keys(entries)) {
		l, err := decodeNode(id, entries[id])
		if err != nil {
			logging.Warn("node has undecodable fields", "node", id, "error", err)
		}
		out[id] = l
	}
	return out
}

func (r reader) GetReroute(id int) (layout.Reroute, bool) {
	f, ok := r.src.Get(mapReroutes, intKey(id))
	if !ok {
		return layout.Reroute{}, false
	}
	rr, err := decodeReroute(id, f)
	if err != nil {
		logging.Warn("reroute has undecodable fields", "reroute", id, "error", err)
	}
	return rr, true
}

func (r reader) GetAllReroutes() map[int]layout.Reroute {
	entries := r.src.Entries(mapReroutes)
	out := make(map[int]layout.Reroute, len(entries))
	for key, f := range entries {
		id, ok := parseIntKey(key)
		if !ok {
			continue
		}
		rr, err := decodeReroute(id, f)
		if err != nil {
			logging.Warn("reroute has undecodable fields", "reroute", id, "error", err)
		}
		out[id] = rr
	}
	return out
}

func (r reader) GetLink(id int) (layout.Link, bool) {
	f, ok := r.src.Get(mapLinks, intKey(id))
	if !ok {
		return layout.Link{}, false
	}
	l, err := decodeLink(id, f)
	if err != nil {
		logging.Warn("link has undecodable fields", "link", id, "error", err)
	}
	return l, true
}

func (r reader) GetAllLinks() map[int]layout.Link {
	entries := r.src.Entries(mapLinks)
	out := make(map[int]layout.Link, len(entries))
	for key, f := range entries {
		id, ok := parseIntKey(key)
		if !ok {
			continue
		}
		l, err := decodeLink(id, f)
		if err != nil {
			logging.Warn("link has undecodable fields", "link", id, "error", err)
		}
		out[id] = l
	}
	return out
}

// writer adapts a document transaction to layout.Writer
type writer struct {
	reader
	tx    *crdt.Txn
	actor string
	clock *layout.Clock
}

func (w *writer) Actor() string { return w.actor }

func (w *writer) SetNode(id string, l layout.NodeLayout) {
	if !l.Finite() {
		logging.Warn("ignoring non-finite node layout", "node", id, "actor", w.actor)
		return
	}
	w.tx.Put(mapNodes, id, nodeFields(l))
}

func (w *writer) DeleteNode(id string) {
	w.tx.Remove(mapNodes, id)
}

func (w *writer) SetReroute(id int, r layout.Reroute) {
	if !r.Finite() {
		logging.Warn("ignoring non-finite reroute", "reroute", id, "actor", w.actor)
		return
	}
	w.tx.Put(mapReroutes, intKey(id), rerouteFields(r))
}

func (w *writer) DeleteReroute(id int) {
	w.tx.Remove(mapReroutes, intKey(id))
}

func (w *writer) SetLink(id int, l layout.Link) {
	w.tx.Put(mapLinks, intKey(id), linkFields(l))
}

func (w *writer) DeleteLink(id int) {
	w.tx.Remove(mapLinks, intKey(id))
}

func (w *writer) AddOperation(op layout.Operation) {
	if !op.Finite() {
		logging.Warn("ignoring operation with non-finite geometry", "type", op.Type, "actor", w.actor)
		return
	}
	op = w.clock.StampOperation(op.Clone(), w.actor)
	w.tx.Push(listOps, encode(op))
}

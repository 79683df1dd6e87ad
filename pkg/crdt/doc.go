// Package crdt implements a small state-based replicated document.
//
// A Doc holds named maps of records (key -> field -> value) and named
// append-only lists. Every transaction commits under one Lamport timestamp
// (client, clock); map fields and record presence are last-writer-wins
// registers ordered by that timestamp, so two replicas that have integrated
// the same entries hold the same visible state regardless of arrival order.
// List items are never reordered; removals travel as a delete set that is
// always shipped in full.
package crdt

import (
	"encoding/json"
	"maps"
	"slices"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// ID orders writes: by clock, then by client
type ID struct {
	Client string `json:"c"`
	Clock  uint64 `json:"k"`
}

// Less reports whether a was written before b
func (a ID) Less(b ID) bool {
	if a.Clock != b.Clock {
		return a.Clock < b.Clock
	}
	return a.Client < b.Client
}

// Register is one last-writer-wins value
type Register struct {
	ID      ID              `json:"id"`
	Value   json.RawMessage `json:"v,omitempty"`
	Deleted bool            `json:"d,omitempty"`
}

// Fields is a record's visible field values
type Fields map[string]json.RawMessage

type record struct {
	presence Register // Deleted means the key is absent
	fields   map[string]Register
}

func (r *record) visible() bool {
	return r.presence.ID.Clock > 0 && !r.presence.Deleted
}

func (r *record) values() Fields {
	out := make(Fields, len(r.fields))
	for name, reg := range r.fields {
		out[name] = slices.Clone(reg.Value)
	}
	return out
}

type itemKey struct {
	ID  ID  `json:"id"`
	Seq int `json:"seq"`
}

func (a itemKey) less(b itemKey) bool {
	if a.ID != b.ID {
		return a.ID.Less(b.ID)
	}
	return a.Seq < b.Seq
}

// Item is one list element
type Item struct {
	ID    ID              `json:"id"`
	Seq   int             `json:"seq"`
	Value json.RawMessage `json:"v"`
}

func (it Item) key() itemKey { return itemKey{ID: it.ID, Seq: it.Seq} }

type list struct {
	items   []Item // sorted by key
	known   map[itemKey]bool
	deleted map[itemKey]bool
}

func newList() *list {
	return &list{known: make(map[itemKey]bool), deleted: make(map[itemKey]bool)}
}

func (l *list) visibleCount() int {
	n := 0
	for _, it := range l.items {
		if !l.deleted[it.key()] {
			n++
		}
	}
	return n
}

// KeyAction describes how a map key changed in a transaction
type KeyAction string

const (
	KeyAdded   KeyAction = "add"
	KeyUpdated KeyAction = "update"
	KeyDeleted KeyAction = "delete"
)

// Event reports what one committed transaction or applied update changed.
// It is delivered once per transaction, after the document lock is released.
type Event struct {
	Origin any
	Local  bool
	Keys   map[string]map[string]KeyAction // map name -> key -> action
	Lists  map[string]bool                 // list names whose visible items changed
}

// KeysOf returns the changed keys of one map in sorted order
func (e Event) KeysOf(mapName string) []string {
	return slices.Sorted(maps.Keys(e.Keys[mapName]))
}

// Doc is a replicated document
type Doc struct {
	mu     sync.Mutex
	client string
	clock  uint64
	sv     StateVector
	maps   map[string]map[string]*record
	lists  map[string]*list

	obsMu     sync.Mutex
	nextObs   int
	observers []observer
}

type observer struct {
	id int
	fn func(Event)
}

// NewDoc creates an empty document. An empty client id is replaced by a random UUID.
func NewDoc(client string) *Doc {
	if client == "" {
		client = uuid.NewString()
	}
	return &Doc{
		client: client,
		sv:     make(StateVector),
		maps:   make(map[string]map[string]*record),
		lists:  make(map[string]*list),
	}
}

// ClientID returns the id stamped on local writes
func (d *Doc) ClientID() string { return d.client }

// Observe registers fn for every committed change and returns its unregister func
func (d *Doc) Observe(fn func(Event)) func() {
	d.obsMu.Lock()
	defer d.obsMu.Unlock()
	d.nextObs++
	id := d.nextObs
	d.observers = append(d.observers, observer{id: id, fn: fn})
	return func() {
		d.obsMu.Lock()
		defer d.obsMu.Unlock()
		d.observers = slices.DeleteFunc(d.observers, func(o observer) bool { return o.id == id })
	}
}

func (d *Doc) emit(ev Event) {
	d.obsMu.Lock()
	obs := slices.Clone(d.observers)
	d.obsMu.Unlock()
	for _, o := range obs {
		o.fn(ev)
	}
}

// Get returns the visible fields of a record
func (d *Doc) Get(mapName, key string) (Fields, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	r, ok := d.maps[mapName][key]
	if !ok || !r.visible() {
		return nil, false
	}
	return r.values(), true
}

// Keys returns the visible keys of a map in sorted order
func (d *Doc) Keys(mapName string) []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	keys := make([]string, 0, len(d.maps[mapName]))
	for k, r := range d.maps[mapName] {
		if r.visible() {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

// Entries returns every visible record of a map
func (d *Doc) Entries(mapName string) map[string]Fields {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make(map[string]Fields, len(d.maps[mapName]))
	for k, r := range d.maps[mapName] {
		if r.visible() {
			out[k] = r.values()
		}
	}
	return out
}

// Items returns the visible values of a list in list order
func (d *Doc) Items(listName string) []json.RawMessage {
	d.mu.Lock()
	defer d.mu.Unlock()
	l, ok := d.lists[listName]
	if !ok {
		return nil
	}
	out := make([]json.RawMessage, 0, len(l.items))
	for _, it := range l.items {
		if !l.deleted[it.key()] {
			out = append(out, slices.Clone(it.Value))
		}
	}
	return out
}

// StateVector returns a copy of the highest clock seen per client
func (d *Doc) StateVector() StateVector {
	d.mu.Lock()
	defer d.mu.Unlock()
	return maps.Clone(d.sv)
}

// Transact runs fn against a staging transaction and commits its writes
// atomically under one timestamp. When fn returns an error or panics nothing
// is applied. Observers run after commit with the given origin.
func (d *Doc) Transact(origin any, fn func(tx *Txn) error) error {
	tx := newTxn(d, origin)
	if err := fn(tx); err != nil {
		return err
	}
	if tx.empty() {
		return nil
	}

	ev := d.commit(tx)
	if ev != nil {
		d.emit(*ev)
	}
	return nil
}

func (d *Doc) commit(tx *Txn) *Event {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.clock++
	id := ID{Client: d.client, Clock: d.clock}
	d.sv.observe(id)

	u := tx.update(id, d)
	ch := newChanges()
	d.integrate(u, ch)
	return ch.event(tx.origin, true, d)
}

// ApplyUpdate merges an encoded update. Applying the same update again,
// or updates in a different order, yields the same visible state.
func (d *Doc) ApplyUpdate(data []byte, origin any) error {
	u, err := decodeUpdate(data)
	if err != nil {
		return err
	}

	d.mu.Lock()
	ch := newChanges()
	d.integrate(u, ch)
	ev := ch.event(origin, false, d)
	d.mu.Unlock()

	if ev != nil {
		d.emit(*ev)
	}
	return nil
}

// EncodeStateAsUpdate encodes every entry newer than since.
// A nil or empty since encodes the whole document.
func (d *Doc) EncodeStateAsUpdate(since StateVector) ([]byte, error) {
	d.mu.Lock()
	u := d.diff(since)
	d.mu.Unlock()
	return encodeUpdate(u)
}

func (d *Doc) diff(since StateVector) update {
	u := update{Version: updateVersion}
	newer := func(id ID) bool { return id.Clock > since[id.Client] }

	for _, mapName := range slices.Sorted(maps.Keys(d.maps)) {
		m := d.maps[mapName]
		for _, key := range slices.Sorted(maps.Keys(m)) {
			r := m[key]
			if newer(r.presence.ID) {
				u.Maps = append(u.Maps, mapEntry{Map: mapName, Key: key, Presence: true, Reg: r.presence})
			}
			for _, field := range slices.Sorted(maps.Keys(r.fields)) {
				if reg := r.fields[field]; newer(reg.ID) {
					u.Maps = append(u.Maps, mapEntry{Map: mapName, Key: key, Field: field, Reg: reg})
				}
			}
		}
	}

	for _, listName := range slices.Sorted(maps.Keys(d.lists)) {
		l := d.lists[listName]
		for _, it := range l.items {
			if newer(it.ID) {
				u.Lists = append(u.Lists, listEntry{List: listName, Item: it})
			}
		}
		keys := slices.Collect(maps.Keys(l.deleted))
		slices.SortFunc(keys, func(a, b itemKey) int {
			if a.less(b) {
				return -1
			}
			if b.less(a) {
				return 1
			}
			return 0
		})
		for _, k := range keys {
			u.Deleted = append(u.Deleted, deleteEntry{List: listName, Key: k})
		}
	}
	return u
}

// integrate applies entries with d.mu held
func (d *Doc) integrate(u update, ch *changes) {
	for _, e := range u.Maps {
		d.integrateMap(e, ch)
	}
	for _, e := range u.Lists {
		d.integrateItem(e, ch)
	}
	for _, e := range u.Deleted {
		d.integrateDelete(e, ch)
	}
}

func (d *Doc) observeRemote(id ID) {
	d.sv.observe(id)
	if id.Clock > d.clock {
		d.clock = id.Clock
	}
}

func (d *Doc) record(mapName, key string) *record {
	m, ok := d.maps[mapName]
	if !ok {
		m = make(map[string]*record)
		d.maps[mapName] = m
	}
	r, ok := m[key]
	if !ok {
		r = &record{fields: make(map[string]Register)}
		m[key] = r
	}
	return r
}

func (d *Doc) integrateMap(e mapEntry, ch *changes) {
	d.observeRemote(e.Reg.ID)
	r := d.record(e.Map, e.Key)
	ch.before(e.Map, e.Key, r.visible())

	if e.Presence {
		if r.presence.ID.Less(e.Reg.ID) {
			r.presence = e.Reg
			ch.touch(e.Map, e.Key)
		}
		return
	}

	cur, ok := r.fields[e.Field]
	if !ok || cur.ID.Less(e.Reg.ID) {
		r.fields[e.Field] = e.Reg
		ch.touch(e.Map, e.Key)
	}
}

func (d *Doc) list(name string) *list {
	l, ok := d.lists[name]
	if !ok {
		l = newList()
		d.lists[name] = l
	}
	return l
}

func (d *Doc) integrateItem(e listEntry, ch *changes) {
	d.observeRemote(e.Item.ID)
	l := d.list(e.List)
	k := e.Item.key()
	if l.known[k] {
		return
	}
	l.known[k] = true
	i := sort.Search(len(l.items), func(i int) bool { return k.less(l.items[i].key()) })
	l.items = slices.Insert(l.items, i, e.Item)
	if !l.deleted[k] {
		ch.lists[e.List] = true
	}
}

func (d *Doc) integrateDelete(e deleteEntry, ch *changes) {
	l := d.list(e.List)
	if l.deleted[e.Key] {
		return
	}
	l.deleted[e.Key] = true
	if l.known[e.Key] {
		ch.lists[e.List] = true
	}
}

// changes accumulates per-key visibility before the first touch
type changes struct {
	wasVisible map[string]map[string]bool
	touched    map[string]map[string]bool
	lists      map[string]bool
}

func newChanges() *changes {
	return &changes{
		wasVisible: make(map[string]map[string]bool),
		touched:    make(map[string]map[string]bool),
		lists:      make(map[string]bool),
	}
}

func (c *changes) before(mapName, key string, visible bool) {
	m, ok := c.wasVisible[mapName]
	if !ok {
		m = make(map[string]bool)
		c.wasVisible[mapName] = m
	}
	if _, seen := m[key]; !seen {
		m[key] = visible
	}
}

func (c *changes) touch(mapName, key string) {
	m, ok := c.touched[mapName]
	if !ok {
		m = make(map[string]bool)
		c.touched[mapName] = m
	}
	m[key] = true
}

func (c *changes) event(origin any, local bool, d *Doc) *Event {
	ev := Event{Origin: origin, Local: local, Keys: make(map[string]map[string]KeyAction), Lists: c.lists}
	n := len(c.lists)
	for mapName, keys := range c.touched {
		for key := range keys {
			was := c.wasVisible[mapName][key]
			now := d.maps[mapName][key].visible()
			var action KeyAction
			switch {
			case !was && now:
				action = KeyAdded
			case was && !now:
				action = KeyDeleted
			case was && now:
				action = KeyUpdated
			default:
				continue
			}
			if ev.Keys[mapName] == nil {
				ev.Keys[mapName] = make(map[string]KeyAction)
			}
			ev.Keys[mapName][key] = action
			n++
		}
	}
	if n == 0 {
		return nil
	}
	return &ev
}

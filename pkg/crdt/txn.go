package crdt

import (
	"encoding/json"
	"maps"
	"slices"
	"sort"
)

// Txn stages writes for one Doc.Transact call. Reads observe the
// transaction's own staged writes over the committed document.
type Txn struct {
	doc     *Doc
	origin  any
	records map[string]map[string]*staged
	pushes  map[string][]json.RawMessage
	clears  map[string]bool
}

type staged struct {
	present bool
	fields  Fields
}

func newTxn(d *Doc, origin any) *Txn {
	return &Txn{
		doc:     d,
		origin:  origin,
		records: make(map[string]map[string]*staged),
		pushes:  make(map[string][]json.RawMessage),
		clears:  make(map[string]bool),
	}
}

// Origin returns the value passed to Transact
func (t *Txn) Origin() any { return t.origin }

func (t *Txn) empty() bool {
	return len(t.records) == 0 && len(t.pushes) == 0 && len(t.clears) == 0
}

func (t *Txn) stage(mapName, key string, s *staged) {
	m, ok := t.records[mapName]
	if !ok {
		m = make(map[string]*staged)
		t.records[mapName] = m
	}
	m[key] = s
}

// Put replaces a record. Every field of the record should be supplied;
// fields left out keep whatever value they last held.
func (t *Txn) Put(mapName, key string, fields Fields) {
	cp := make(Fields, len(fields))
	for k, v := range fields {
		cp[k] = slices.Clone(v)
	}
	t.stage(mapName, key, &staged{present: true, fields: cp})
}

// Remove deletes a record. Removing an absent key does nothing.
func (t *Txn) Remove(mapName, key string) {
	if _, ok := t.Get(mapName, key); !ok {
		return
	}
	t.stage(mapName, key, &staged{present: false})
}

// Get returns the record as this transaction sees it
func (t *Txn) Get(mapName, key string) (Fields, bool) {
	if s, ok := t.records[mapName][key]; ok {
		if !s.present {
			return nil, false
		}
		out := make(Fields, len(s.fields))
		for k, v := range s.fields {
			out[k] = slices.Clone(v)
		}
		return out, true
	}
	return t.doc.Get(mapName, key)
}

// Keys returns the visible keys of a map as this transaction sees them
func (t *Txn) Keys(mapName string) []string {
	keys := make(map[string]bool)
	for _, k := range t.doc.Keys(mapName) {
		keys[k] = true
	}
	for k, s := range t.records[mapName] {
		keys[k] = s.present
	}
	out := make([]string, 0, len(keys))
	for k, present := range keys {
		if present {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}

// Push appends a value to a list
func (t *Txn) Push(listName string, value json.RawMessage) {
	t.pushes[listName] = append(t.pushes[listName], slices.Clone(value))
}

// ClearList removes every item of a list, including items pushed earlier in this transaction
func (t *Txn) ClearList(listName string) {
	t.clears[listName] = true
	delete(t.pushes, listName)
}

// Items returns the list's visible values as this transaction sees them
func (t *Txn) Items(listName string) []json.RawMessage {
	var out []json.RawMessage
	if !t.clears[listName] {
		out = t.doc.Items(listName)
	}
	for _, v := range t.pushes[listName] {
		out = append(out, slices.Clone(v))
	}
	return out
}

// update turns staged writes into entries stamped with id. Called with d.mu held.
func (t *Txn) update(id ID, d *Doc) update {
	u := update{Version: updateVersion}

	for _, mapName := range slices.Sorted(maps.Keys(t.records)) {
		recs := t.records[mapName]
		for _, key := range slices.Sorted(maps.Keys(recs)) {
			s := recs[key]
			u.Maps = append(u.Maps, mapEntry{
				Map: mapName, Key: key, Presence: true,
				Reg: Register{ID: id, Deleted: !s.present},
			})
			if !s.present {
				continue
			}
			for _, field := range slices.Sorted(maps.Keys(s.fields)) {
				u.Maps = append(u.Maps, mapEntry{
					Map: mapName, Key: key, Field: field,
					Reg: Register{ID: id, Value: s.fields[field]},
				})
			}
		}
	}

	for _, listName := range slices.Sorted(maps.Keys(t.clears)) {
		if l, ok := d.lists[listName]; ok {
			for _, it := range l.items {
				if !l.deleted[it.key()] {
					u.Deleted = append(u.Deleted, deleteEntry{List: listName, Key: it.key()})
				}
			}
		}
	}

	seq := 0
	for _, listName := range slices.Sorted(maps.Keys(t.pushes)) {
		for _, v := range t.pushes[listName] {
			u.Lists = append(u.Lists, listEntry{List: listName, Item: Item{ID: id, Seq: seq, Value: v}})
			seq++
		}
	}
	return u
}

// Entries returns every visible record of a map as this transaction sees it
func (t *Txn) Entries(mapName string) map[string]Fields {
	out := t.doc.Entries(mapName)
	for k, s := range t.records[mapName] {
		if !s.present {
			delete(out, k)
			continue
		}
		f := make(Fields, len(s.fields))
		for name, v := range s.fields {
			f[name] = slices.Clone(v)
		}
		out[k] = f
	}
	return out
}

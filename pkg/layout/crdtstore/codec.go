package crdtstore

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/ritzau/graph-layout/pkg/crdt"
	"github.com/ritzau/graph-layout/pkg/layout"
)

// Document names. Each entity is a record of per-field registers so that
// concurrent edits to different fields of one node both survive.
const (
	mapNodes    = "nodes"
	mapReroutes = "reroutes"
	mapLinks    = "links"
	listOps     = "operations"
)

func encode(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		// Only plain numbers, strings and slices reach here
		panic(fmt.Sprintf("crdtstore: encode %T: %v", v, err))
	}
	return data
}

func field[T any](f crdt.Fields, name string, errs *[]error) T {
	var v T
	data, ok := f[name]
	if !ok || len(data) == 0 {
		return v
	}
	if err := json.Unmarshal(data, &v); err != nil {
		*errs = append(*errs, fmt.Errorf("field %s: %w", name, err))
	}
	return v
}

func firstErr(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	return errs[0]
}

// nodeFields writes every field; bounds are derived on read
func nodeFields(l layout.NodeLayout) crdt.Fields {
	return crdt.Fields{
		"x":       encode(l.Position.X),
		"y":       encode(l.Position.Y),
		"width":   encode(l.Size.Width),
		"height":  encode(l.Size.Height),
		"zIndex":  encode(l.ZIndex),
		"visible": encode(l.Visible),
	}
}

func decodeNode(id string, f crdt.Fields) (layout.NodeLayout, error) {
	var errs []error
	l := layout.NodeLayout{
		ID: id,
		Position: layout.Point{
			X: field[float64](f, "x", &errs),
			Y: field[float64](f, "y", &errs),
		},
		Size: layout.Size{
			Width:  field[float64](f, "width", &errs),
			Height: field[float64](f, "height", &errs),
		},
		ZIndex:  field[int](f, "zIndex", &errs),
		Visible: field[bool](f, "visible", &errs),
	}
	return l.Normalize(), firstErr(errs)
}

func rerouteFields(r layout.Reroute) crdt.Fields {
	return crdt.Fields{
		"x":        encode(r.Position.X),
		"y":        encode(r.Position.Y),
		"parentId": encode(r.ParentID),
		"linkIds":  encode(r.LinkIDs),
	}
}

func decodeReroute(id int, f crdt.Fields) (layout.Reroute, error) {
	var errs []error
	r := layout.Reroute{
		ID: id,
		Position: layout.Point{
			X: field[float64](f, "x", &errs),
			Y: field[float64](f, "y", &errs),
		},
		ParentID: field[*int](f, "parentId", &errs),
		LinkIDs:  field[[]int](f, "linkIds", &errs),
	}
	return r, firstErr(errs)
}

func linkFields(l layout.Link) crdt.Fields {
	return crdt.Fields{
		"originId":   encode(l.OriginID),
		"originSlot": encode(l.OriginSlot),
		"targetId":   encode(l.TargetID),
		"targetSlot": encode(l.TargetSlot),
		"parentId":   encode(l.ParentID),
	}
}

func decodeLink(id int, f crdt.Fields) (layout.Link, error) {
	var errs []error
	l := layout.Link{
		ID:         id,
		OriginID:   field[string](f, "originId", &errs),
		OriginSlot: field[int](f, "originSlot", &errs),
		TargetID:   field[string](f, "targetId", &errs),
		TargetSlot: field[int](f, "targetSlot", &errs),
		ParentID:   field[*int](f, "parentId", &errs),
	}
	return l, firstErr(errs)
}

func intKey(id int) string { return strconv.Itoa(id) }

func parseIntKey(key string) (int, bool) {
	id, err := strconv.Atoi(key)
	return id, err == nil
}

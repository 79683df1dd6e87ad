package mutation

import (
	"maps"
	"slices"

	"github.com/ritzau/graph-layout/pkg/cycles"
	"github.com/ritzau/graph-layout/pkg/graph"
	"github.com/ritzau/graph-layout/pkg/layout"
)

// CreateLink adds a link and registers it on every reroute of its parent chain
func (m *Mutator) CreateLink(link layout.Link) error {
	return m.run("createLink", func(w layout.Writer) error {
		link = link.Clone()
		w.SetLink(link.ID, link)

		rg := graph.BuildRouteGraph(w.GetAllReroutes(), map[int]layout.Link{link.ID: link})
		for _, rid := range rg.LinkChain(link.ID) {
			r, ok := w.GetReroute(rid)
			if !ok || r.HasLink(link.ID) {
				continue
			}
			r.LinkIDs = append(r.LinkIDs, link.ID)
			w.SetReroute(rid, r)
		}

		w.AddOperation(layout.Operation{Type: layout.OpCreateLink, LinkID: ptr(link.ID), Link: &link})
		return nil
	})
}

// DeleteLink removes a link and unregisters it from every reroute
func (m *Mutator) DeleteLink(id int) error {
	return m.run("deleteLink", func(w layout.Writer) error {
		prev, ok := w.GetLink(id)
		if !ok {
			return nil
		}
		w.DeleteLink(id)
		for rid, r := range w.GetAllReroutes() {
			if !r.HasLink(id) {
				continue
			}
			r.LinkIDs = slices.DeleteFunc(r.LinkIDs, func(l int) bool { return l == id })
			w.SetReroute(rid, r)
		}
		w.AddOperation(layout.Operation{Type: layout.OpDeleteLink, LinkID: ptr(id), Link: &prev})
		return nil
	})
}

// CreateReroute adds a reroute. It fails with layout.ErrRerouteCycle when
// the parent would make the chain loop.
func (m *Mutator) CreateReroute(id int, pos layout.Point, parentID *int, linkIDs []int) error {
	if err := checkPoint("reroute", pos); err != nil {
		return err
	}

	return m.run("createReroute", func(w layout.Writer) error {
		r := layout.Reroute{ID: id, Position: pos, LinkIDs: slices.Clone(linkIDs)}
		if parentID != nil {
			r.ParentID = ptr(*parentID)
		}

		all := w.GetAllReroutes()
		all[id] = r
		if err := cycles.CheckChain(all, id); err != nil {
			return err
		}

		w.SetReroute(id, r)
		w.AddOperation(layout.Operation{Type: layout.OpCreateReroute, RerouteID: ptr(id), Reroute: &r})
		return nil
	})
}

// MoveReroute sets a reroute's position
func (m *Mutator) MoveReroute(id int, pos layout.Point) error {
	if err := checkPoint("reroute", pos); err != nil {
		return err
	}

	return m.run("moveReroute", func(w layout.Writer) error {
		prev, ok := w.GetReroute(id)
		if !ok {
			return nil
		}
		next := prev.Clone()
		next.Position = pos
		w.SetReroute(id, next)
		w.AddOperation(layout.Operation{
			Type:             layout.OpMoveReroute,
			RerouteID:        ptr(id),
			Position:         &pos,
			PreviousPosition: ptr(prev.Position),
		})
		return nil
	})
}

// SetRerouteParent changes a reroute's parent; nil detaches it.
// Links routed through the reroute move to the new chain.
// It fails with layout.ErrRerouteCycle when the chain would loop.
func (m *Mutator) SetRerouteParent(id int, parentID *int) error {
	return m.run("setRerouteParent", func(w layout.Writer) error {
		all := w.GetAllReroutes()
		prev, ok := all[id]
		if !ok {
			return nil
		}
		links := w.GetAllLinks()
		before := graph.BuildRouteGraph(all, links)

		next := prev.Clone()
		next.ParentID = nil
		if parentID != nil {
			next.ParentID = ptr(*parentID)
		}
		all[id] = next
		if err := cycles.CheckChain(all, id); err != nil {
			return err
		}

		w.SetReroute(id, next)
		relink(w, before, graph.BuildRouteGraph(all, links), before.LinksThrough(id))
		w.AddOperation(layout.Operation{
			Type:             layout.OpSetRerouteParent,
			RerouteID:        ptr(id),
			ParentID:         next.ParentID,
			PreviousParentID: prev.ParentID,
		})
		return nil
	})
}

// DeleteReroute removes a reroute. Reroutes and links that pointed at it
// are re-parented to its own parent so chains stay connected.
func (m *Mutator) DeleteReroute(id int) error {
	return m.run("deleteReroute", func(w layout.Writer) error {
		prev, ok := w.GetReroute(id)
		if !ok {
			return nil
		}

		reroutes := w.GetAllReroutes()
		for _, rid := range slices.Sorted(maps.Keys(reroutes)) {
			r := reroutes[rid]
			if r.ParentID != nil && *r.ParentID == id {
				r.ParentID = prev.Clone().ParentID
				w.SetReroute(rid, r)
			}
		}
		for lid, l := range w.GetAllLinks() {
			if l.ParentID != nil && *l.ParentID == id {
				l.ParentID = prev.Clone().ParentID
				w.SetLink(lid, l)
			}
		}

		w.DeleteReroute(id)
		w.AddOperation(layout.Operation{Type: layout.OpDeleteReroute, RerouteID: ptr(id), Reroute: &prev})
		return nil
	})
}

// relink moves each link's id from the reroutes of its old chain to those of
// its new chain
func relink(w layout.Writer, before, after *graph.RouteGraph, linkIDs []int) {
	for _, lid := range linkIDs {
		oldChain, newChain := before.LinkChain(lid), after.LinkChain(lid)
		for _, rid := range oldChain {
			if slices.Contains(newChain, rid) {
				continue
			}
			if r, ok := w.GetReroute(rid); ok && r.HasLink(lid) {
				r.LinkIDs = slices.DeleteFunc(r.LinkIDs, func(l int) bool { return l == lid })
				w.SetReroute(rid, r)
			}
		}
		for _, rid := range newChain {
			if r, ok := w.GetReroute(rid); ok && !r.HasLink(lid) {
				r.LinkIDs = append(r.LinkIDs, lid)
				w.SetReroute(rid, r)
			}
		}
	}
}

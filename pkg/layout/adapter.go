// Package layout defines the shared geometry model of the node-graph canvas
// and the contract every storage backend implements.
//
// An Adapter is the single source of truth for where nodes, reroutes and
// links are. Writes are grouped into transactions attributed to an actor so
// that a subscriber can tell its own echoes from changes made by others.
package layout

import (
	"errors"
	"math"
)

// ChangeType identifies the kind of change notification
type ChangeType string

const (
	ChangeSet    ChangeType = "set"
	ChangeDelete ChangeType = "delete"
	ChangeClear  ChangeType = "clear"
)

// Well-known actors
const (
	// DefaultActor attributes writes made outside an explicit transaction
	DefaultActor = "unknown"

	// RemoteActor attributes changes merged from another replica
	RemoteActor = "remote"
)

// MinTimestamp matches every operation when passed to GetOperationsSince
const MinTimestamp int64 = math.MinInt64

// Change is delivered to subscribers after a write or transaction commits
type Change struct {
	Type       ChangeType `json:"type"`
	NodeIDs    []string   `json:"nodeIds"`
	RerouteIDs []int      `json:"rerouteIds,omitempty"`
	LinkIDs    []int      `json:"linkIds,omitempty"`
	Actor      string     `json:"actor"`
}

// Touches reports whether the change affects the given node
func (c Change) Touches(nodeID string) bool {
	for _, id := range c.NodeIDs {
		if id == nodeID {
			return true
		}
	}
	return false
}

// Empty reports whether the change names no entity at all
func (c Change) Empty() bool {
	return len(c.NodeIDs) == 0 && len(c.RerouteIDs) == 0 && len(c.LinkIDs) == 0
}

// Errors
var (
	// ErrMalformedUpdate is returned when ApplyUpdate cannot decode its payload
	ErrMalformedUpdate = errors.New("malformed layout update")

	// ErrRerouteCycle is returned when a reroute parent chain would not terminate
	ErrRerouteCycle = errors.New("reroute parent chain contains a cycle")

	// ErrInvalidLayout is returned for non-finite coordinates or negative sizes
	ErrInvalidLayout = errors.New("invalid layout geometry")
)

// Reader is the read side shared by adapters and open transactions.
// Every returned value is a copy.
type Reader interface {
	GetNode(id string) (NodeLayout, bool)
	GetAllNodes() map[string]NodeLayout
	GetReroute(id int) (Reroute, bool)
	GetAllReroutes() map[int]Reroute
	GetLink(id int) (Link, bool)
	GetAllLinks() map[int]Link
}

// Writer stages writes inside a transaction. Reads through a Writer observe
// the transaction's own staged writes.
type Writer interface {
	Reader

	// SetNode replaces the node wholesale
	SetNode(id string, l NodeLayout)
	// DeleteNode removes the node; absent ids are ignored
	DeleteNode(id string)

	SetReroute(id int, r Reroute)
	DeleteReroute(id int)
	SetLink(id int, l Link)
	DeleteLink(id int)

	// AddOperation appends to the operation log. Empty Actor and zero
	// Timestamp are filled in by the adapter.
	AddOperation(op Operation)

	// Actor returns the actor the transaction is attributed to
	Actor() string
}

// Adapter is the contract every layout backend satisfies
type Adapter interface {
	Reader

	// Single writes, each its own transaction attributed to CurrentActor
	SetNode(id string, l NodeLayout)
	DeleteNode(id string)
	SetReroute(id int, r Reroute)
	DeleteReroute(id int)
	SetLink(id int, l Link)
	DeleteLink(id int)
	AddOperation(op Operation)

	// Clear removes every entity and the whole operation log
	Clear()

	GetOperationsSince(timestamp int64) []Operation
	GetOperationsByActor(actor string) []Operation

	// Subscribe registers a change callback and returns its unsubscribe func
	Subscribe(fn func(Change)) func()

	// Transaction runs fn with writes attributed to actor. Writes become
	// visible together when fn returns nil and are discarded otherwise.
	// Notifications are delivered once, after commit.
	Transaction(actor string, fn func(w Writer) error) error

	// CurrentActor returns the innermost open transaction's actor, or the
	// default actor when none is open
	CurrentActor() string
	SetDefaultActor(actor string)

	// Network sync surface
	GetStateVector() []byte
	GetStateAsUpdate() []byte
	ApplyUpdate(update []byte) error
}

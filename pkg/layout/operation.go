package layout

// OperationType identifies the kind of mutation an Operation records
type OperationType string

const (
	OpCreateNode       OperationType = "createNode"
	OpDeleteNode       OperationType = "deleteNode"
	OpMoveNode         OperationType = "moveNode"
	OpResizeNode       OperationType = "resizeNode"
	OpSetNodeZIndex    OperationType = "setNodeZIndex"
	OpSetNodeVisible   OperationType = "setNodeVisible"
	OpCreateLink       OperationType = "createLink"
	OpDeleteLink       OperationType = "deleteLink"
	OpCreateReroute    OperationType = "createReroute"
	OpMoveReroute      OperationType = "moveReroute"
	OpSetRerouteParent OperationType = "setRerouteParent"
	OpDeleteReroute    OperationType = "deleteReroute"
)

// Operation is an immutable log record of one mutation.
// Only the payload fields relevant to Type are set.
type Operation struct {
	Type      OperationType `json:"type"`
	Timestamp int64         `json:"timestamp"` // Unix milliseconds
	Actor     string        `json:"actor"`

	NodeID    string `json:"nodeId,omitempty"`
	RerouteID *int   `json:"rerouteId,omitempty"`
	LinkID    *int   `json:"linkId,omitempty"`

	Layout   *NodeLayout `json:"layout,omitempty"`
	Reroute  *Reroute    `json:"reroute,omitempty"`
	Link     *Link       `json:"link,omitempty"`
	Position *Point      `json:"position,omitempty"`
	Size     *Size       `json:"size,omitempty"`
	ZIndex   *int        `json:"zIndex,omitempty"`
	Visible  *bool       `json:"visible,omitempty"`
	ParentID *int        `json:"parentId,omitempty"`

	// Previous values, for undo tooling
	PreviousPosition *Point `json:"previousPosition,omitempty"`
	PreviousSize     *Size  `json:"previousSize,omitempty"`
	PreviousZIndex   *int   `json:"previousZIndex,omitempty"`
	PreviousVisible  *bool  `json:"previousVisible,omitempty"`
	PreviousParentID *int   `json:"previousParentId,omitempty"`
}

// Clone returns a deep copy so log readers cannot alias stored records
func (op Operation) Clone() Operation {
	if op.RerouteID != nil {
		op.RerouteID = IntPtr(*op.RerouteID)
	}
	if op.LinkID != nil {
		op.LinkID = IntPtr(*op.LinkID)
	}
	if op.Layout != nil {
		l := *op.Layout
		op.Layout = &l
	}
	if op.Reroute != nil {
		r := op.Reroute.Clone()
		op.Reroute = &r
	}
	if op.Link != nil {
		l := op.Link.Clone()
		op.Link = &l
	}
	op.Position = clonePtr(op.Position)
	op.Size = clonePtr(op.Size)
	op.ZIndex = clonePtr(op.ZIndex)
	op.Visible = clonePtr(op.Visible)
	op.ParentID = clonePtr(op.ParentID)
	op.PreviousPosition = clonePtr(op.PreviousPosition)
	op.PreviousSize = clonePtr(op.PreviousSize)
	op.PreviousZIndex = clonePtr(op.PreviousZIndex)
	op.PreviousVisible = clonePtr(op.PreviousVisible)
	op.PreviousParentID = clonePtr(op.PreviousParentID)
	return op
}

// Finite reports whether every geometry payload is finite
func (op Operation) Finite() bool {
	switch {
	case op.Layout != nil && !op.Layout.Finite(),
		op.Reroute != nil && !op.Reroute.Finite(),
		op.Position != nil && !op.Position.Finite(),
		op.PreviousPosition != nil && !op.PreviousPosition.Finite(),
		op.Size != nil && !op.Size.Finite(),
		op.PreviousSize != nil && !op.PreviousSize.Finite():
		return false
	}
	return true
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

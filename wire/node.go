// Package wire defines the protocol spoken between an instrumented tree
// (the agent) and a remote observer (the store). These are the public API
// contract: any consumer imports this package to decode the operation log,
// synchronization markers and detail snapshots.
package wire

import (
	"strconv"
	"time"
)

// ID identifies a node for its whole lifetime. IDs are allocated by the
// agent and never reused within a session.
type ID int

// IDRef returns a pointer to id, for optional parent fields.
func IDRef(id ID) *ID { return &id }

// Kind discriminates node variants. It only affects presentation.
type Kind uint8

const (
	KindContainer   Kind = iota + 1 // holds other nodes (host elements)
	KindComponent                   // composed leaf node
	KindPassThrough                 // renders its children unchanged (fragments, providers)
)

// String returns the lowercase kind name.
func (k Kind) String() string {
	switch k {
	case KindContainer:
		return "container"
	case KindComponent:
		return "component"
	case KindPassThrough:
		return "pass-through"
	default:
		return "unknown"
	}
}

// Prefix is the short tag used when rendering a node id.
func (k Kind) Prefix() string {
	switch k {
	case KindContainer:
		return "c"
	case KindComponent:
		return "n"
	case KindPassThrough:
		return "p"
	default:
		return "?"
	}
}

// Node is one entry of the mirrored tree.
type Node struct {
	ID            ID     `json:"id"`
	Name          string `json:"name"`
	ParentID      *ID    `json:"parentId,omitempty"`
	LogicParentID *ID    `json:"logicParentId,omitempty"` // presentation-only association
	Depth         int    `json:"depth"`
	Kind          Kind   `json:"kind"`
}

// IsRoot reports whether the node has no parent.
func (n *Node) IsRoot() bool { return n.ParentID == nil }

// DisplayID renders the id with its kind prefix, e.g. "c12".
func (n *Node) DisplayID() string {
	return n.Kind.Prefix() + strconv.Itoa(int(n.ID))
}

// Timing holds the per-node measurements of the last synchronization pass.
type Timing struct {
	SelfStart time.Time     `json:"selfStartTime"`
	Self      time.Duration `json:"selfDuration"`
	Tree      time.Duration `json:"treeDuration"`
	Lifecycle time.Duration `json:"lifecycleDuration"`
}

// Detail section names, also used as tab names in inspectElement.
const (
	SectionOptions           = "options"
	SectionAttributes        = "attributes"
	SectionState             = "state"
	SectionChangedOptions    = "changedOptions"
	SectionChangedAttributes = "changedAttributes"
	SectionChangedState      = "changedState"
)

// Sections lists every detail section in display order.
var Sections = []string{
	SectionOptions,
	SectionAttributes,
	SectionState,
	SectionChangedOptions,
	SectionChangedAttributes,
	SectionChangedState,
}

package wire

// Event names a message on the channel.
type Event string

// Source to sink.
const (
	EventOperation          Event = "operation"
	EventEndSynchronization Event = "endSynchronization" // payload: correlation token (string)
	EventEndOfTree          Event = "endOfTree"
	EventInspectedElement   Event = "inspectedElement"
	EventProfile            Event = "profile"
	EventBreakpoints        Event = "breakpoints"
)

// Sink to source.
const (
	EventDevtoolsInitialized  Event = "devtoolsInitialized"
	EventRequestTree          Event = "requestTree"
	EventInspectElement       Event = "inspectElement"
	EventGetProfile           Event = "getProfile"
	EventSetBreakpoint        Event = "setBreakpoint"
	EventRemoveBreakpoint     Event = "removeBreakpoint"
	EventRemoveAllBreakpoints Event = "removeAllBreakpoints"
)

// Message is the unit carried by a channel. Payload holds the typed value
// for the event (Operation, string, InspectRequest, ...) or nil.
type Message struct {
	Event   Event `json:"event"`
	Payload any   `json:"payload,omitempty"`
}

// InspectRequest asks the source for a detail snapshot of one node.
type InspectRequest struct {
	ID           ID       `json:"id"`
	Path         []string `json:"path,omitempty"`
	ExpandedTabs []string `json:"expandedTabs,omitempty"`
}

// InspectType tells the receiver how to merge an InspectedElement.
type InspectType string

const (
	InspectFull     InspectType = "full"
	InspectPartial  InspectType = "partial"
	InspectPath     InspectType = "path"
	InspectNotFound InspectType = "not-found"
)

// InspectedElement answers an InspectRequest.
type InspectedElement struct {
	ID      ID          `json:"id"`
	Type    InspectType `json:"type"`
	Details *Snapshot   `json:"details,omitempty"` // full and partial
	Path    []string    `json:"path,omitempty"`    // path
	Value   any         `json:"value,omitempty"`   // path
	Cleaned [][]string  `json:"cleaned,omitempty"` // path
}

// Snapshot is the cleaned detail payload of a node. Sections maps a
// section name to its cleaned value; Cleaned lists, per section, the paths
// that were truncated by the serializer.
type Snapshot struct {
	Name     string                `json:"name"`
	Kind     Kind                  `json:"kind"`
	Sections map[string]any        `json:"sections"`
	Cleaned  map[string][][]string `json:"cleaned,omitempty"`
	Timing   Timing                `json:"timing"`
}

// ProfileRequest asks for the profile retained under a correlation token.
type ProfileRequest struct {
	Token string `json:"token"`
}

// ProfileNode is the timing record of one node touched during a pass.
type ProfileNode struct {
	ID         ID     `json:"id"`
	Name       string `json:"name"`
	Op         OpKind `json:"op"`
	Timing     Timing `json:"timing"`
	DomChanged bool   `json:"domChanged"`
	Visible    bool   `json:"isVisible"`
}

// Profile is the retained change map of one synchronization pass.
type Profile struct {
	Token     string        `json:"token"`
	Found     bool          `json:"found"`
	RootID    ID            `json:"rootId"`
	Nodes     []ProfileNode `json:"nodes,omitempty"`
	Mutations int           `json:"mutations"`
}

// BreakpointRequest targets the handlers of one event on one node.
type BreakpointRequest struct {
	ID    ID     `json:"id"`
	Event string `json:"event"`
}

// BreakpointInfo describes one installed conditional breakpoint.
type BreakpointInfo struct {
	ID        string `json:"id"`
	NodeID    ID     `json:"nodeId"`
	Event     string `json:"event"`
	Condition string `json:"condition"`
}

// BreakpointList is the source's acknowledgement of breakpoint changes.
type BreakpointList struct {
	Active []BreakpointInfo `json:"active"`
}

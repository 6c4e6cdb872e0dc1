package agent

import "github.com/hazyhaar/treewatch/wire"

// Ref is the identity of a node in the instrumented tree (typically a
// pointer to the renderer's own node value). Refs must be comparable.
type Ref any

// CommitData is what the renderer knows about a node when its commit
// ends. Nil maps leave the previous section untouched.
type CommitData struct {
	Name string
	Kind wire.Kind

	// ParentRef links the node when SaveChildren did not.
	ParentRef Ref
	// LogicParentRef is a presentation-only association.
	LogicParentRef Ref

	// Instance is the receiver bound to the node's event handlers.
	Instance any
	// Containers are the visual surfaces the node renders into. The agent
	// does not own their lifetime.
	Containers []Container

	Options    map[string]any
	Attributes map[string]any
	State      map[string]any
}

// Container is a visual-surface handle (a DOM element, a terminal region).
// Implementations must be comparable.
type Container interface {
	// Parent returns the enclosing container, or nil at the top.
	Parent() Container
	// Visible reports whether the surface is currently displayed.
	Visible() bool
	// Handlers returns the event handlers bound to event on this surface.
	Handlers(event string) []Handler
}

// Handler is one event handler bound on a container.
type Handler struct {
	// Location identifies the handler's code for the debugger (script id
	// and line, function name).
	Location string
	// Receiver is the value the handler is bound to.
	Receiver any
}

// Debugger installs conditional breakpoints in the host.
type Debugger interface {
	SetBreakpoint(h Handler, condition string) (id string, err error)
	RemoveBreakpoint(id string) error
}

// MutationRecord is one structural change observed on a container.
type MutationRecord struct {
	Target Container
	Kind   string // "childList", "attributes", "characterData"
}

// MutationObserver collects structural changes between Observe and
// Disconnect. TakeRecords drains what was collected so far.
type MutationObserver interface {
	Observe() error
	TakeRecords() []MutationRecord
	Disconnect()
}

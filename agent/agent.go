// Package agent is the source side of the protocol. The instrumented
// renderer calls its hooks synchronously while it reconciles; the agent
// keeps the authoritative node table, batches changes per synchronization
// pass and emits the operation log over a bridge.
//
// Protocol violations (a commit with no open pass, a double start, ending
// an unknown lifecycle) are logged and ignored: instrumentation must never
// crash the host.
package agent

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/hazyhaar/treewatch/wire"
)

// entry is one row of the node table.
type entry struct {
	node wire.Node
	ref  Ref

	// emitted is set once a Create for the node went out.
	emitted bool

	instance   any
	containers []Container

	options, attributes, state                      map[string]any
	changedOptions, changedAttributes, changedState map[string]any

	timing wire.Timing
	// version counts merges, to tell full from partial inspections.
	version uint64
}

// change is the pending operation of one node within a pass.
type change struct {
	id wire.ID
	op wire.OpKind
}

type lifecycle struct {
	id    wire.ID
	start time.Time
}

// pass is one open synchronization.
type pass struct {
	root       Ref
	changes    map[wire.ID]*change
	order      []wire.ID
	components []wire.ID
	lifecycles []lifecycle
	// childOrder holds the child refs saved per parent, in call order.
	childOrder   map[wire.ID][]Ref
	orderParents []wire.ID
}

func newPass(root Ref) *pass {
	return &pass{
		root:       root,
		changes:    make(map[wire.ID]*change),
		childOrder: make(map[wire.ID][]Ref),
	}
}

// record notes op for id. Delete wins over everything, Create over Update.
func (p *pass) record(id wire.ID, op wire.OpKind) {
	c, ok := p.changes[id]
	if !ok {
		p.changes[id] = &change{id: id, op: op}
		p.order = append(p.order, id)
		return
	}
	switch {
	case op == wire.OpDelete:
		c.op = wire.OpDelete
	case op == wire.OpCreate && c.op == wire.OpUpdate:
		c.op = wire.OpCreate
	}
}

func (p *pass) topComponent() (wire.ID, bool) {
	if len(p.components) == 0 {
		return 0, false
	}
	return p.components[len(p.components)-1], true
}

// Agent observes one instrumented tree. All state lives on the instance,
// so independent agents can coexist.
type Agent struct {
	cfg    Config
	logger *slog.Logger

	// mu guards the tables; sendMu orders outbound batches. sendMu is
	// taken before mu is released so batches leave in the order they were
	// built.
	mu     sync.Mutex
	sendMu sync.Mutex

	nodes    map[wire.ID]*entry
	nextID   wire.ID
	idByRef  map[Ref]wire.ID
	children map[wire.ID][]wire.ID

	containerOwner map[Container]wire.ID
	childParent    map[Ref]wire.ID

	roots []*pass

	inspected   map[wire.ID]uint64
	profiles    *profileRing
	observing   bool
	breakpoints map[string]*Breakpoint

	unsubscribe func()
}

// New builds an Agent and subscribes it to cfg.Bridge.
func New(cfg Config) *Agent {
	cfg.defaults()
	a := &Agent{
		cfg:         cfg,
		logger:      cfg.Logger,
		profiles:    newProfileRing(cfg.MaxProfiles),
		breakpoints: make(map[string]*Breakpoint),
	}
	a.resetTables()
	if cfg.Bridge != nil {
		a.unsubscribe = cfg.Bridge.Listen(a.handle)
	}
	return a
}

func (a *Agent) resetTables() {
	a.nodes = make(map[wire.ID]*entry)
	a.nextID = 1
	a.idByRef = make(map[Ref]wire.ID)
	a.children = make(map[wire.ID][]wire.ID)
	a.containerOwner = make(map[Container]wire.ID)
	a.childParent = make(map[Ref]wire.ID)
	a.inspected = make(map[wire.ID]uint64)
	a.roots = nil
}

// Reset clears every table at the end of a session. Ids are not reused:
// the counter restarts only through New.
func (a *Agent) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	next := a.nextID
	a.resetTables()
	a.nextID = next
	a.profiles = newProfileRing(a.cfg.MaxProfiles)
	a.clearBreakpointsLocked()
	if a.observing {
		a.cfg.Observer.Disconnect()
		a.observing = false
	}
}

// Close detaches the agent from its bridge and stops observing.
func (a *Agent) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.unsubscribe != nil {
		a.unsubscribe()
		a.unsubscribe = nil
	}
	if a.observing {
		a.cfg.Observer.Disconnect()
		a.observing = false
	}
	return nil
}

// NodeCount returns the number of emitted nodes.
func (a *Agent) NodeCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	n := 0
	for _, e := range a.nodes {
		if e.emitted {
			n++
		}
	}
	return n
}

// Node returns the authoritative view of an emitted node.
func (a *Agent) Node(id wire.ID) (wire.Node, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	e, ok := a.nodes[id]
	if !ok || !e.emitted {
		return wire.Node{}, false
	}
	return e.node, true
}

// Timing returns the measurements of the node's last pass.
func (a *Agent) Timing(id wire.ID) (wire.Timing, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	e, ok := a.nodes[id]
	if !ok {
		return wire.Timing{}, false
	}
	return e.timing, true
}

// IDOf returns the id bound to ref.
func (a *Agent) IDOf(ref Ref) (wire.ID, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	id, ok := a.idByRef[ref]
	return id, ok
}

// unlockAndSend releases mu and delivers out in order. Callers hold mu.
func (a *Agent) unlockAndSend(ctx context.Context, out []wire.Message) {
	if len(out) == 0 || a.cfg.Bridge == nil {
		a.mu.Unlock()
		return
	}
	a.sendMu.Lock()
	a.mu.Unlock()
	defer a.sendMu.Unlock()
	for _, msg := range out {
		if err := a.cfg.Bridge.Send(ctx, msg); err != nil {
			a.logger.Warn("agent: send failed", "event", msg.Event, "error", err)
			return
		}
	}
}

// handle serves inbound requests from observers.
func (a *Agent) handle(ctx context.Context, msg wire.Message) {
	a.mu.Lock()
	var out []wire.Message
	switch msg.Event {
	case wire.EventDevtoolsInitialized, wire.EventRequestTree:
		out = a.replayLocked()
	case wire.EventInspectElement:
		req, ok := msg.Payload.(wire.InspectRequest)
		if !ok {
			a.logger.Warn("agent: bad inspectElement payload", "type", typeName(msg.Payload))
			break
		}
		out = []wire.Message{{Event: wire.EventInspectedElement, Payload: a.inspectLocked(req)}}
	case wire.EventGetProfile:
		req, ok := msg.Payload.(wire.ProfileRequest)
		if !ok {
			a.logger.Warn("agent: bad getProfile payload", "type", typeName(msg.Payload))
			break
		}
		out = []wire.Message{{Event: wire.EventProfile, Payload: a.profiles.get(req.Token)}}
	case wire.EventSetBreakpoint:
		req, ok := msg.Payload.(wire.BreakpointRequest)
		if !ok {
			break
		}
		if _, err := a.setBreakpointLocked(req.ID, req.Event); err != nil {
			a.logger.Warn("agent: set breakpoint failed", "id", req.ID, "event", req.Event, "error", err)
		}
		out = []wire.Message{{Event: wire.EventBreakpoints, Payload: a.breakpointListLocked()}}
	case wire.EventRemoveBreakpoint:
		req, ok := msg.Payload.(wire.BreakpointRequest)
		if !ok {
			break
		}
		a.removeBreakpointLocked(req.ID, req.Event)
		out = []wire.Message{{Event: wire.EventBreakpoints, Payload: a.breakpointListLocked()}}
	case wire.EventRemoveAllBreakpoints:
		a.clearBreakpointsLocked()
		out = []wire.Message{{Event: wire.EventBreakpoints, Payload: a.breakpointListLocked()}}
	default:
		a.logger.Debug("agent: ignoring event", "event", msg.Event)
	}
	a.unlockAndSend(ctx, out)
}

// replayLocked emits every emitted node in pre-order, then endOfTree.
func (a *Agent) replayLocked() []wire.Message {
	var out []wire.Message
	var walk func(id wire.ID)
	walk = func(id wire.ID) {
		e := a.nodes[id]
		out = append(out, wire.Message{Event: wire.EventOperation, Payload: wire.Create(e.node)})
		for _, c := range a.children[id] {
			walk(c)
		}
	}
	for _, id := range a.rootIDsLocked() {
		walk(id)
	}
	return append(out, wire.Message{Event: wire.EventEndOfTree})
}

// rootIDsLocked lists emitted parentless nodes in id order.
func (a *Agent) rootIDsLocked() []wire.ID {
	var ids []wire.ID
	for id, e := range a.nodes {
		if e.emitted && e.node.ParentID == nil {
			ids = append(ids, id)
		}
	}
	sortIDs(ids)
	return ids
}

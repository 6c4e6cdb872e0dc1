package agent

import (
	"fmt"
	"reflect"
	"sort"

	"github.com/hazyhaar/treewatch/wire"
)

// GuardHook is the host global through which a breakpoint condition looks
// up the instance recorded for a node.
const GuardHook = "__treewatch"

// Breakpoint is a conditional breakpoint on one handler, scoped to one
// node. Handlers shared between nodes only stop for the target node.
type Breakpoint struct {
	ID        string
	NodeID    wire.ID
	Event     string
	Condition string
	Handler   Handler

	instance    any
	debuggerIDs []string
}

// Match evaluates the guard in-process: the event type must match and the
// handler's receiver must be the node's instance.
func (b *Breakpoint) Match(eventType string, receiver any) bool {
	return eventType == b.Event && sameInstance(receiver, b.instance)
}

// guardCondition renders the condition installed in the host debugger.
func guardCondition(event string, id wire.ID) string {
	return fmt.Sprintf("event.type === %q && this === %s.instance(%d)", event, GuardHook, id)
}

func sameInstance(x, y any) bool {
	if x == nil || y == nil {
		return false
	}
	tx, ty := reflect.TypeOf(x), reflect.TypeOf(y)
	if tx != ty || !tx.Comparable() {
		return false
	}
	return x == y
}

// SetBreakpoint installs a conditional breakpoint on every handler bound
// to event on the node's containers and their ancestors.
func (a *Agent) SetBreakpoint(id wire.ID, event string) ([]wire.BreakpointInfo, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.setBreakpointLocked(id, event)
}

func (a *Agent) setBreakpointLocked(id wire.ID, event string) ([]wire.BreakpointInfo, error) {
	if a.cfg.Debugger == nil {
		return nil, ErrNoDebugger{}
	}
	e, ok := a.nodes[id]
	if !ok || !e.emitted {
		return nil, &ErrUnknownNode{ID: id}
	}

	cond := guardCondition(event, id)
	seen := make(map[Container]bool)
	var infos []wire.BreakpointInfo
	for _, start := range e.containers {
		for c := start; c != nil; c = c.Parent() {
			if seen[c] {
				break
			}
			seen[c] = true
			for _, h := range c.Handlers(event) {
				dbgID, err := a.cfg.Debugger.SetBreakpoint(h, cond)
				if err != nil {
					return infos, fmt.Errorf("agent: set breakpoint at %s: %w", h.Location, err)
				}
				bp := &Breakpoint{
					ID:          a.cfg.BreakpointIDs(),
					NodeID:      id,
					Event:       event,
					Condition:   cond,
					Handler:     h,
					instance:    e.instance,
					debuggerIDs: []string{dbgID},
				}
				a.breakpoints[bp.ID] = bp
				infos = append(infos, bp.info())
			}
		}
	}
	a.logger.Debug("agent: breakpoints set", "id", id, "event", event, "count", len(infos))
	return infos, nil
}

func (b *Breakpoint) info() wire.BreakpointInfo {
	return wire.BreakpointInfo{ID: b.ID, NodeID: b.NodeID, Event: b.Event, Condition: b.Condition}
}

// RemoveBreakpoint removes the breakpoints of event on node id. An empty
// event removes all of the node's breakpoints.
func (a *Agent) RemoveBreakpoint(id wire.ID, event string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.removeBreakpointLocked(id, event)
}

func (a *Agent) removeBreakpointLocked(id wire.ID, event string) {
	for key, bp := range a.breakpoints {
		if bp.NodeID == id && (event == "" || bp.Event == event) {
			a.uninstallLocked(bp)
			delete(a.breakpoints, key)
		}
	}
}

func (a *Agent) removeNodeBreakpointsLocked(id wire.ID) {
	if len(a.breakpoints) > 0 {
		a.removeBreakpointLocked(id, "")
	}
}

// RemoveAllBreakpoints clears every breakpoint.
func (a *Agent) RemoveAllBreakpoints() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.clearBreakpointsLocked()
}

func (a *Agent) clearBreakpointsLocked() {
	for key, bp := range a.breakpoints {
		a.uninstallLocked(bp)
		delete(a.breakpoints, key)
	}
}

// uninstallLocked tolerates breakpoints already cleared in the host.
func (a *Agent) uninstallLocked(bp *Breakpoint) {
	if a.cfg.Debugger == nil {
		return
	}
	for _, dbgID := range bp.debuggerIDs {
		if err := a.cfg.Debugger.RemoveBreakpoint(dbgID); err != nil {
			a.logger.Debug("agent: breakpoint already gone", "id", bp.ID, "debugger_id", dbgID, "error", err)
		}
	}
}

// Breakpoints lists the active breakpoints sorted by node then id.
func (a *Agent) Breakpoints() []*Breakpoint {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.sortedBreakpointsLocked()
}

func (a *Agent) sortedBreakpointsLocked() []*Breakpoint {
	bps := make([]*Breakpoint, 0, len(a.breakpoints))
	for _, bp := range a.breakpoints {
		bps = append(bps, bp)
	}
	sort.Slice(bps, func(i, j int) bool {
		if bps[i].NodeID != bps[j].NodeID {
			return bps[i].NodeID < bps[j].NodeID
		}
		return bps[i].ID < bps[j].ID
	})
	return bps
}

func (a *Agent) breakpointListLocked() wire.BreakpointList {
	list := wire.BreakpointList{Active: []wire.BreakpointInfo{}}
	for _, bp := range a.sortedBreakpointsLocked() {
		list.Active = append(list.Active, bp.info())
	}
	return list
}

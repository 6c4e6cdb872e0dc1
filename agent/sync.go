package agent

import (
	"context"
	"slices"

	"github.com/hazyhaar/treewatch/wire"
)

func (a *Agent) endSync(ctx context.Context, root Ref) string {
	a.mu.Lock()

	n := len(a.roots)
	if n == 0 {
		a.logger.Error("agent: end synchronization without open pass")
		a.mu.Unlock()
		return ""
	}
	p := a.roots[n-1]
	a.roots = a.roots[:n-1]
	if p.root != root {
		a.logger.Warn("agent: end synchronization for another root, closing innermost pass")
	}
	if len(p.components) > 0 {
		a.logger.Error("agent: synchronization ended with pending commits", "pending", len(p.components))
	}

	ops, touched := a.reconcileLocked(p)
	token := a.cfg.Tokens()

	out := make([]wire.Message, 0, len(ops)+1)
	for _, op := range ops {
		out = append(out, wire.Message{Event: wire.EventOperation, Payload: op})
	}
	out = append(out, wire.Message{Event: wire.EventEndSynchronization, Payload: token})

	if a.cfg.Profiling {
		a.captureProfileLocked(token, p, touched)
	}
	a.unlockAndSend(ctx, out)
	return token
}

// reconcileLocked normalizes the pass against the node table, applies it
// and returns the operations in emission order: deletes (post-order),
// creates (parents first), updates, reorders. touched lists the surviving
// changes for profiling.
func (a *Agent) reconcileLocked(p *pass) ([]wire.Operation, []wire.ProfileNode) {
	var deletes, creates, updates []wire.ID
	var touched []wire.ProfileNode

	for _, id := range p.order {
		c := p.changes[id]
		e, ok := a.nodes[id]
		if !ok {
			continue
		}
		switch {
		case c.op == wire.OpDelete && !e.emitted:
			// Created and dropped within the pass, or never emitted.
			a.forgetLocked(id)
			continue
		case c.op == wire.OpDelete:
			deletes = append(deletes, id)
		case !e.emitted:
			c.op = wire.OpCreate
			creates = append(creates, id)
		default:
			c.op = wire.OpUpdate
			updates = append(updates, id)
		}
		touched = append(touched, wire.ProfileNode{ID: id, Name: e.node.Name, Op: c.op, Timing: e.timing})
	}

	var ops []wire.Operation

	deleted := make(map[wire.ID]bool)
	for _, id := range deletes {
		a.postOrderLocked(id, func(d wire.ID) {
			if deleted[d] {
				return
			}
			deleted[d] = true
			ops = append(ops, wire.Delete(d))
		})
	}
	for id := range deleted {
		a.forgetLocked(id)
	}

	pending := make(map[wire.ID]bool, len(creates))
	for _, id := range creates {
		pending[id] = true
	}
	var visit func(id wire.ID)
	visit = func(id wire.ID) {
		if !pending[id] {
			return
		}
		delete(pending, id)
		e := a.nodes[id]
		if e.node.ParentID != nil {
			pid := *e.node.ParentID
			visit(pid)
			if pe, ok := a.nodes[pid]; !ok || !pe.emitted {
				if outer := a.topPass(); outer != nil {
					// The parent belongs to an enclosing pass still open.
					outer.record(id, wire.OpCreate)
					return
				}
				a.logger.Error("agent: parent never emitted, creating as root", "id", id, "parent", pid)
				e.node.ParentID = nil
			}
		}
		e.node.Depth = 0
		if e.node.ParentID != nil {
			pid := *e.node.ParentID
			e.node.Depth = a.nodes[pid].depth() + 1
			a.children[pid] = append(a.children[pid], id)
		}
		e.emitted = true
		ops = append(ops, wire.Create(e.node))
	}
	for _, id := range creates {
		visit(id)
	}

	for _, id := range updates {
		if deleted[id] {
			continue
		}
		ops = append(ops, wire.Update(id))
	}

	for _, parent := range p.orderParents {
		if op, ok := a.reorderLocked(parent, p.childOrder[parent]); ok {
			ops = append(ops, op)
		}
	}
	return ops, touched
}

func (e *entry) depth() int { return e.node.Depth }

// postOrderLocked visits the emitted subtree of id, children first.
func (a *Agent) postOrderLocked(id wire.ID, fn func(wire.ID)) {
	for _, c := range slices.Clone(a.children[id]) {
		a.postOrderLocked(c, fn)
	}
	fn(id)
}

// forgetLocked removes id from every table.
func (a *Agent) forgetLocked(id wire.ID) {
	e, ok := a.nodes[id]
	if !ok {
		return
	}
	if e.ref != nil {
		delete(a.idByRef, e.ref)
		delete(a.childParent, e.ref)
	}
	for _, c := range e.containers {
		if a.containerOwner[c] == id {
			delete(a.containerOwner, c)
		}
	}
	if e.node.ParentID != nil {
		pid := *e.node.ParentID
		if kids, ok := a.children[pid]; ok {
			a.children[pid] = slices.DeleteFunc(kids, func(c wire.ID) bool { return c == id })
		}
	}
	delete(a.children, id)
	delete(a.inspected, id)
	delete(a.nodes, id)
	a.removeNodeBreakpointsLocked(id)
}

// reorderLocked compares the saved child order of parent with the index
// and returns a Reorder when they differ. Listed children come first in
// the saved order, unlisted ones keep their relative position after them.
func (a *Agent) reorderLocked(parent wire.ID, refs []Ref) (wire.Operation, bool) {
	pe, ok := a.nodes[parent]
	if !ok || !pe.emitted {
		return wire.Operation{}, false
	}
	current := a.children[parent]
	if len(current) < 2 {
		return wire.Operation{}, false
	}
	isChild := make(map[wire.ID]bool, len(current))
	for _, c := range current {
		isChild[c] = true
	}

	next := make([]wire.ID, 0, len(current))
	listed := make(map[wire.ID]bool, len(refs))
	for _, r := range refs {
		id, ok := a.idByRef[r]
		if !ok || !isChild[id] || listed[id] {
			continue
		}
		listed[id] = true
		next = append(next, id)
	}
	for _, c := range current {
		if !listed[c] {
			next = append(next, c)
		}
	}
	if slices.Equal(current, next) {
		return wire.Operation{}, false
	}
	a.children[parent] = next
	return wire.Reorder(parent, slices.Clone(next)), true
}

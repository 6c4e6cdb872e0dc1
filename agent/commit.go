package agent

import (
	"context"

	"github.com/hazyhaar/treewatch/objdiff"
	"github.com/hazyhaar/treewatch/wire"
)

// OnStartSync opens a synchronization pass for root. Passes nest: the most
// recent one receives commits until its OnEndSync.
func (a *Agent) OnStartSync(root Ref) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.roots = append(a.roots, newPass(root))
	if a.cfg.Profiling && a.cfg.Observer != nil && !a.observing {
		if err := a.cfg.Observer.Observe(); err != nil {
			a.logger.Warn("agent: mutation observer failed", "error", err)
			return
		}
		a.observing = true
	}
}

func (a *Agent) topPass() *pass {
	if len(a.roots) == 0 {
		return nil
	}
	return a.roots[len(a.roots)-1]
}

// OnStartCommit begins the commit of one node. prev is the node's ref from
// its last commit, or nil for a node never seen.
func (a *Agent) OnStartCommit(op wire.OpKind, name string, prev Ref) {
	a.mu.Lock()
	defer a.mu.Unlock()

	p := a.topPass()
	if p == nil {
		a.logger.Error("agent: commit without open synchronization", "name", name, "op", op)
		return
	}

	var id wire.ID
	if prev != nil {
		id = a.idByRef[prev]
	}
	if id != 0 {
		if top, ok := p.topComponent(); ok && top == id {
			a.logger.Error("agent: commit started twice", "id", id, "name", name)
			return
		}
	} else {
		id = a.allocLocked(name)
	}

	e := a.nodes[id]
	if name != "" {
		e.node.Name = name
	}
	e.timing.SelfStart = a.cfg.Clock.Now()
	e.timing.Self = 0
	e.timing.Tree = 0
	e.timing.Lifecycle = 0

	p.record(id, op)
	p.components = append(p.components, id)
}

func (a *Agent) allocLocked(name string) wire.ID {
	id := a.nextID
	a.nextID++
	a.nodes[id] = &entry{node: wire.Node{ID: id, Name: name, Kind: wire.KindComponent}}
	return id
}

// OnEndCommit finishes the pending commit on top of the stack. ref is the
// node's identity from now on; data is merged into the node.
func (a *Agent) OnEndCommit(ref Ref, data CommitData) {
	a.mu.Lock()
	defer a.mu.Unlock()

	p := a.topPass()
	if p == nil {
		a.logger.Error("agent: end commit without open synchronization")
		return
	}
	id, ok := p.topComponent()
	if !ok {
		a.logger.Error("agent: end commit without pending node")
		return
	}
	p.components = p.components[:len(p.components)-1]
	e := a.nodes[id]

	elapsed := a.cfg.Clock.Now().Sub(e.timing.SelfStart)
	e.timing.Self += elapsed
	e.timing.Tree += e.timing.Self
	if parent, ok := p.topComponent(); ok {
		pe := a.nodes[parent]
		pe.timing.Tree += elapsed
		pe.timing.Self -= elapsed
	}

	if ref != nil {
		a.bindRefLocked(id, ref)
	}
	a.mergeLocked(e, ref, data)
}

func (a *Agent) bindRefLocked(id wire.ID, ref Ref) {
	e := a.nodes[id]
	if e.ref != nil && e.ref != ref {
		delete(a.idByRef, e.ref)
	}
	e.ref = ref
	a.idByRef[ref] = id
}

func (a *Agent) mergeLocked(e *entry, ref Ref, data CommitData) {
	if data.Name != "" {
		e.node.Name = data.Name
	}
	if data.Kind != 0 {
		e.node.Kind = data.Kind
	}

	if parent, ok := a.resolveParentLocked(e.node.ID, ref, data.ParentRef); ok {
		switch {
		case !e.emitted:
			e.node.ParentID = wire.IDRef(parent)
		case e.node.ParentID == nil || *e.node.ParentID != parent:
			// The mirror has no move operation.
			a.logger.Warn("agent: node changed parent, keeping previous", "id", e.node.ID, "parent", parent)
		}
	}
	if data.LogicParentRef != nil {
		if lid, ok := a.idByRef[data.LogicParentRef]; ok {
			e.node.LogicParentID = wire.IDRef(lid)
		}
	}

	if data.Instance != nil {
		e.instance = data.Instance
	}
	if data.Containers != nil {
		for _, c := range e.containers {
			if a.containerOwner[c] == e.node.ID {
				delete(a.containerOwner, c)
			}
		}
		e.containers = append([]Container(nil), data.Containers...)
		for _, c := range e.containers {
			a.containerOwner[c] = e.node.ID
		}
	}

	if data.Options != nil {
		e.changedOptions = objdiff.Diff(e.options, data.Options)
		e.options = data.Options
	}
	if data.Attributes != nil {
		e.changedAttributes = objdiff.Diff(e.attributes, data.Attributes)
		e.attributes = data.Attributes
	}
	if data.State != nil {
		e.changedState = objdiff.Diff(e.state, data.State)
		e.state = data.State
	}
	e.version++
}

func (a *Agent) resolveParentLocked(id wire.ID, ref, parentRef Ref) (wire.ID, bool) {
	if ref != nil {
		if pid, ok := a.childParent[ref]; ok && pid != id {
			return pid, true
		}
	}
	if parentRef != nil {
		if pid, ok := a.idByRef[parentRef]; ok && pid != id {
			return pid, true
		}
	}
	return 0, false
}

// SaveChildren links child refs to the node whose commit is pending, so
// their parent resolves when they commit. The order is kept to detect
// reorders at the end of the pass.
func (a *Agent) SaveChildren(children []Ref) {
	a.mu.Lock()
	defer a.mu.Unlock()

	p := a.topPass()
	if p == nil {
		a.logger.Error("agent: save children without open synchronization")
		return
	}
	parent, ok := p.topComponent()
	if !ok {
		a.logger.Error("agent: save children without pending node")
		return
	}
	for _, c := range children {
		if c != nil {
			a.childParent[c] = parent
		}
	}
	if _, seen := p.childOrder[parent]; !seen {
		p.orderParents = append(p.orderParents, parent)
	}
	p.childOrder[parent] = append([]Ref(nil), children...)
}

// OnStartLifecycle brackets a lifecycle method of a node committed in the
// current pass.
func (a *Agent) OnStartLifecycle(ref Ref) {
	a.mu.Lock()
	defer a.mu.Unlock()

	p := a.topPass()
	if p == nil {
		a.logger.Error("agent: lifecycle without open synchronization")
		return
	}
	id, ok := a.idByRef[ref]
	if !ok || p.changes[id] == nil {
		a.logger.Error("agent: lifecycle for node outside the current pass", "id", id)
		return
	}
	p.lifecycles = append(p.lifecycles, lifecycle{id: id, start: a.cfg.Clock.Now()})
}

// OnEndLifecycle closes the lifecycle opened for ref. The elapsed time is
// added to the node's lifecycle, self and tree durations and moved from
// the self to the tree duration of the pending commit.
func (a *Agent) OnEndLifecycle(ref Ref) {
	a.mu.Lock()
	defer a.mu.Unlock()

	p := a.topPass()
	if p == nil {
		a.logger.Error("agent: end lifecycle without open synchronization")
		return
	}
	id, ok := a.idByRef[ref]
	n := len(p.lifecycles)
	if !ok || n == 0 || p.lifecycles[n-1].id != id {
		a.logger.Error("agent: end lifecycle for node outside the current pass", "id", id)
		return
	}
	lc := p.lifecycles[n-1]
	p.lifecycles = p.lifecycles[:n-1]

	elapsed := a.cfg.Clock.Now().Sub(lc.start)
	e := a.nodes[id]
	e.timing.Lifecycle += elapsed
	e.timing.Self += elapsed
	e.timing.Tree += elapsed

	if top, ok := p.topComponent(); ok && top != id {
		te := a.nodes[top]
		te.timing.Self -= elapsed
		te.timing.Tree += elapsed
	}
}

// OnEndSync closes the innermost pass, emits its operations followed by
// endSynchronization and returns the correlation token ("" when there
// was no open pass).
func (a *Agent) OnEndSync(root Ref) string {
	return a.endSync(context.Background(), root)
}

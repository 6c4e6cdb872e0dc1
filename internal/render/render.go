// Package render drives an agent from successive frames of a tree. Each
// Render call is one synchronization pass: elements that changed since the
// previous frame are committed, vanished ones are deleted.
package render

import (
	"slices"

	"github.com/hazyhaar/treewatch/agent"
	"github.com/hazyhaar/treewatch/objdiff"
	"github.com/hazyhaar/treewatch/wire"
)

// Element is one node of a frame. Key must be comparable and stable across
// frames.
type Element struct {
	Key        agent.Ref
	Name       string
	Kind       wire.Kind
	Instance   any
	Containers []agent.Container

	Options    map[string]any
	Attributes map[string]any
	State      map[string]any

	Children []*Element

	// Work runs inside the element's commit, before its children.
	Work func()
	// Effect runs as a lifecycle method after the element's commit.
	Effect func()
}

type committed struct {
	name       string
	kind       wire.Kind
	parent     agent.Ref
	children   []agent.Ref
	options    map[string]any
	attributes map[string]any
	state      map[string]any
}

// Renderer is not safe for concurrent use; frames are rendered one at a
// time, like a real reconciler.
type Renderer struct {
	agent *agent.Agent
	root  agent.Ref
	prev  map[agent.Ref]*committed
	order []agent.Ref
}

// New returns a Renderer for one root of a.
func New(a *agent.Agent, root agent.Ref) *Renderer {
	return &Renderer{agent: a, root: root, prev: make(map[agent.Ref]*committed)}
}

// Render commits frame and returns the pass's correlation token.
func (r *Renderer) Render(frame []*Element) string {
	r.agent.OnStartSync(r.root)

	next := make(map[agent.Ref]*committed, len(r.prev))
	var order []agent.Ref
	for _, el := range frame {
		r.commit(el, nil, next, &order)
	}

	// Deleting the topmost vanished element removes its subtree.
	for _, key := range r.order {
		if _, ok := next[key]; ok {
			continue
		}
		c := r.prev[key]
		if c.parent != nil {
			if _, kept := next[c.parent]; !kept {
				continue
			}
		}
		r.agent.OnStartCommit(wire.OpDelete, c.name, key)
		r.agent.OnEndCommit(nil, agent.CommitData{})
	}

	r.prev = next
	r.order = order
	return r.agent.OnEndSync(r.root)
}

func (r *Renderer) commit(el *Element, parent agent.Ref, next map[agent.Ref]*committed, order *[]agent.Ref) {
	c := &committed{
		name:       el.Name,
		kind:       el.Kind,
		parent:     parent,
		options:    el.Options,
		attributes: el.Attributes,
		state:      el.State,
	}
	for _, ch := range el.Children {
		c.children = append(c.children, ch.Key)
	}
	next[el.Key] = c
	*order = append(*order, el.Key)

	prev, seen := r.prev[el.Key]
	if seen && !changed(prev, c) {
		if el.Work != nil {
			el.Work()
		}
		for _, ch := range el.Children {
			r.commit(ch, el.Key, next, order)
		}
		return
	}

	op, prevRef := wire.OpCreate, agent.Ref(nil)
	if seen {
		op, prevRef = wire.OpUpdate, el.Key
	}
	r.agent.OnStartCommit(op, el.Name, prevRef)
	if len(c.children) > 0 {
		r.agent.SaveChildren(c.children)
	}
	if el.Work != nil {
		el.Work()
	}
	for _, ch := range el.Children {
		r.commit(ch, el.Key, next, order)
	}
	r.agent.OnEndCommit(el.Key, agent.CommitData{
		Kind:       el.Kind,
		ParentRef:  parent,
		Instance:   el.Instance,
		Containers: el.Containers,
		Options:    el.Options,
		Attributes: el.Attributes,
		State:      el.State,
	})

	if el.Effect != nil {
		r.agent.OnStartLifecycle(el.Key)
		el.Effect()
		r.agent.OnEndLifecycle(el.Key)
	}
}

func changed(prev, next *committed) bool {
	return prev.name != next.name ||
		prev.kind != next.kind ||
		!slices.Equal(prev.children, next.children) ||
		objdiff.Diff(prev.options, next.options) != nil ||
		objdiff.Diff(prev.attributes, next.attributes) != nil ||
		objdiff.Diff(prev.state, next.state) != nil
}

// Package model maintains the visible projection of a mirrored tree: the
// nodes whose whole ancestor chain is expanded. Roots are always visible.
// The ordered view is materialized lazily and cached until the next
// mutation.
package model

import (
	"sync"

	"github.com/hazyhaar/treewatch/store"
	"github.com/hazyhaar/treewatch/wire"
)

// TreeModel is safe for concurrent use.
type TreeModel struct {
	mu sync.Mutex

	items       []*wire.Node
	index       map[wire.ID]*wire.Node
	children    map[wire.ID][]wire.ID
	hasChildren map[wire.ID]bool

	expanded map[wire.ID]bool
	visible  map[wire.ID]bool

	cache   []*wire.Node
	dirty   bool
	version uint64
}

// New returns an empty model.
func New() *TreeModel {
	return &TreeModel{
		index:       make(map[wire.ID]*wire.Node),
		children:    make(map[wire.ID][]wire.ID),
		hasChildren: make(map[wire.ID]bool),
		expanded:    make(map[wire.ID]bool),
		visible:     make(map[wire.ID]bool),
		dirty:       true,
	}
}

// SetItems replaces the item list. Ids that disappeared leave the visible
// and expanded sets; children that appeared under an expanded, visible
// node become visible.
func (m *TreeModel) SetItems(items []*wire.Node) {
	m.mu.Lock()
	defer m.mu.Unlock()

	index := make(map[wire.ID]*wire.Node, len(items))
	children := make(map[wire.ID][]wire.ID)
	for _, n := range items {
		index[n.ID] = n
	}
	for _, n := range items {
		if n.ParentID != nil {
			if _, ok := index[*n.ParentID]; ok {
				children[*n.ParentID] = append(children[*n.ParentID], n.ID)
			}
		}
	}

	for id := range m.index {
		if _, ok := index[id]; !ok {
			delete(m.visible, id)
			delete(m.expanded, id)
		}
	}

	m.items = items
	m.index = index
	m.children = children
	m.hasChildren = make(map[wire.ID]bool, len(children))
	for id, kids := range children {
		m.hasChildren[id] = len(kids) > 0
	}

	// Parents precede their children in the list.
	for _, n := range items {
		switch {
		case n.ParentID == nil:
			m.visible[n.ID] = true
		case m.visible[*n.ParentID] && m.expanded[*n.ParentID]:
			m.visible[n.ID] = true
		}
	}
	m.touchLocked()
}

func (m *TreeModel) touchLocked() {
	m.version++
	m.dirty = true
}

// ToggleExpanded flips the expansion of id.
func (m *TreeModel) ToggleExpanded(id wire.ID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.index[id]; !ok {
		return &ErrNotFound{ID: id}
	}
	m.setExpandedLocked(id, !m.expanded[id])
	return nil
}

// SetExpanded forces the expansion state of id. Expanding also expands
// every ancestor, so a deep node becomes reachable in one call.
func (m *TreeModel) SetExpanded(id wire.ID, expanded bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.index[id]; !ok {
		return &ErrNotFound{ID: id}
	}
	m.setExpandedLocked(id, expanded)
	return nil
}

func (m *TreeModel) setExpandedLocked(id wire.ID, expanded bool) {
	if expanded {
		m.expandLocked(id)
	} else {
		m.collapseLocked(id)
	}
	m.touchLocked()
}

func (m *TreeModel) expandLocked(id wire.ID) {
	m.expanded[id] = true
	m.visible[id] = true
	m.showChildrenLocked(id)
	for p := m.parentLocked(id); p != nil; p = m.parentLocked(p.ID) {
		if m.expanded[p.ID] && m.visible[p.ID] {
			break
		}
		m.expanded[p.ID] = true
		m.visible[p.ID] = true
		m.showChildrenLocked(p.ID)
	}
}

// showChildrenLocked makes the children of id visible, descending into
// children that are themselves expanded.
func (m *TreeModel) showChildrenLocked(id wire.ID) {
	for _, c := range m.children[id] {
		m.visible[c] = true
		if m.expanded[c] {
			m.showChildrenLocked(c)
		}
	}
}

func (m *TreeModel) collapseLocked(id wire.ID) {
	delete(m.expanded, id)
	m.eachDescendantLocked(id, func(d wire.ID) {
		delete(m.expanded, d)
		delete(m.visible, d)
	})
}

func (m *TreeModel) eachDescendantLocked(id wire.ID, fn func(wire.ID)) {
	for _, c := range m.children[id] {
		fn(c)
		m.eachDescendantLocked(c, fn)
	}
}

func (m *TreeModel) parentLocked(id wire.ID) *wire.Node {
	n, ok := m.index[id]
	if !ok || n.ParentID == nil {
		return nil
	}
	return m.index[*n.ParentID]
}

// ToggleExpandedRecursive expands id and its whole subtree, or collapses
// it when id is expanded.
func (m *TreeModel) ToggleExpandedRecursive(id wire.ID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.index[id]; !ok {
		return &ErrNotFound{ID: id}
	}
	if m.expanded[id] {
		m.collapseLocked(id)
	} else {
		m.expandLocked(id)
		m.eachDescendantLocked(id, func(d wire.ID) {
			m.visible[d] = true
			if m.hasChildren[d] {
				m.expanded[d] = true
			}
		})
	}
	m.touchLocked()
	return nil
}

// GetVisibleItems returns the visible nodes in list order. The same slice
// is returned until the model changes; callers must not modify it.
func (m *TreeModel) GetVisibleItems() []*wire.Node {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.dirty {
		return m.cache
	}
	out := make([]*wire.Node, 0, len(m.visible))
	for _, n := range m.items {
		if m.visible[n.ID] {
			out = append(out, n)
		}
	}
	m.cache = out
	m.dirty = false
	return out
}

// GetPath returns the ancestor chain of id, root first, id last.
func (m *TreeModel) GetPath(id wire.ID) ([]*wire.Node, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.index[id]
	if !ok {
		return nil, &ErrNotFound{ID: id}
	}
	var path []*wire.Node
	for ; n != nil; n = m.parentLocked(n.ID) {
		path = append(path, n)
	}
	for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
		path[i], path[j] = path[j], path[i]
	}
	return path, nil
}

// ExpandParents expands the immediate parent of id, for jumping to a
// search result or an externally selected node.
func (m *TreeModel) ExpandParents(id wire.ID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.index[id]; !ok {
		return &ErrNotFound{ID: id}
	}
	if p := m.parentLocked(id); p != nil {
		m.setExpandedLocked(p.ID, true)
	}
	return nil
}

// Version increases on every mutation.
func (m *TreeModel) Version() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.version
}

// HasChildren reports whether any item names id as its parent.
func (m *TreeModel) HasChildren(id wire.ID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.hasChildren[id]
}

// IsExpanded reports whether id is in the expanded set.
func (m *TreeModel) IsExpanded(id wire.ID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.expanded[id]
}

// IsVisible reports whether id is part of the visible projection.
func (m *TreeModel) IsVisible(id wire.ID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.visible[id]
}

// Items returns the current item list.
func (m *TreeModel) Items() []*wire.Node {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.items
}

// Source is the part of a store the model follows.
type Source interface {
	Elements() []*wire.Node
	AddListener(event wire.Event, fn store.Listener) func()
}

// Bind loads src's elements and reloads them after every update. The
// returned function stops following src.
func (m *TreeModel) Bind(src Source) func() {
	m.SetItems(src.Elements())
	return src.AddListener(store.EventUpdated, func(any) {
		m.SetItems(src.Elements())
	})
}

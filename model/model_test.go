package model

import (
	"errors"
	"maps"
	"strings"
	"sync"
	"testing"

	"github.com/hazyhaar/treewatch/store"
	"github.com/hazyhaar/treewatch/wire"
)

func node(id wire.ID, parent ...wire.ID) *wire.Node {
	n := &wire.Node{ID: id, Name: "n", Kind: wire.KindComponent}
	if len(parent) > 0 {
		n.ParentID = wire.IDRef(parent[0])
		n.Depth = 1
	}
	return n
}

// chain returns 0 -> 1 -> 2 -> 3 with a sibling 4 under 0.
func chain() []*wire.Node {
	return []*wire.Node{node(0), node(1, 0), node(2, 1), node(3, 2), node(4, 0)}
}

func visibleIDs(m *TreeModel) []wire.ID {
	var ids []wire.ID
	for _, n := range m.GetVisibleItems() {
		ids = append(ids, n.ID)
	}
	return ids
}

func equalIDs(a, b []wire.ID) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestGetPath_ParentThenTarget(t *testing.T) {
	m := New()
	m.SetItems([]*wire.Node{node(0), node(1, 0), node(2, 0)})

	path, err := m.GetPath(2)
	if err != nil {
		t.Fatal(err)
	}
	if len(path) != 2 || path[0].ID != 0 || path[1].ID != 2 {
		t.Fatalf("path: got %v, want [0 2]", path)
	}

	_, err = m.GetPath(3)
	var nf *ErrNotFound
	if !errors.As(err, &nf) || nf.ID != 3 {
		t.Fatalf("missing id: got %v, want ErrNotFound{3}", err)
	}
	if !strings.Contains(err.Error(), "nonexistent item") {
		t.Fatalf("message: got %q", err.Error())
	}
}

func TestSetItems_RootsVisible(t *testing.T) {
	m := New()
	m.SetItems(chain())
	if got := visibleIDs(m); !equalIDs(got, []wire.ID{0}) {
		t.Fatalf("visible: got %v, want [0]", got)
	}
	if !m.HasChildren(0) || m.HasChildren(4) {
		t.Fatal("hasChildren: want true for 0, false for 4")
	}
}

func TestToggleExpanded_ShowsChildrenInListOrder(t *testing.T) {
	m := New()
	m.SetItems(chain())
	if err := m.ToggleExpanded(0); err != nil {
		t.Fatal(err)
	}
	if got := visibleIDs(m); !equalIDs(got, []wire.ID{0, 1, 4}) {
		t.Fatalf("visible: got %v, want [0 1 4]", got)
	}
	if err := m.ToggleExpanded(0); err != nil {
		t.Fatal(err)
	}
	if got := visibleIDs(m); !equalIDs(got, []wire.ID{0}) {
		t.Fatalf("after collapse: got %v, want [0]", got)
	}
}

func TestSetExpanded_DeepNodeExpandsAncestors(t *testing.T) {
	m := New()
	m.SetItems(chain())
	if err := m.SetExpanded(2, true); err != nil {
		t.Fatal(err)
	}
	for _, id := range []wire.ID{0, 1, 2} {
		if !m.IsExpanded(id) {
			t.Fatalf("ancestor %d not expanded", id)
		}
	}
	if got := visibleIDs(m); !equalIDs(got, []wire.ID{0, 1, 2, 3, 4}) {
		t.Fatalf("visible: got %v, want all", got)
	}
}

func TestToggleExpanded_Idempotence(t *testing.T) {
	m := New()
	m.SetItems(chain())
	if err := m.SetExpanded(0, true); err != nil {
		t.Fatal(err)
	}

	m.mu.Lock()
	visible := maps.Clone(m.visible)
	expanded := maps.Clone(m.expanded)
	m.mu.Unlock()

	if err := m.SetExpanded(1, true); err != nil {
		t.Fatal(err)
	}
	if err := m.SetExpanded(1, false); err != nil {
		t.Fatal(err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if !maps.Equal(visible, m.visible) {
		t.Fatalf("visible: got %v, want %v", m.visible, visible)
	}
	if !maps.Equal(expanded, m.expanded) {
		t.Fatalf("expanded: got %v, want %v", m.expanded, expanded)
	}
}

func TestCollapse_ForgetsDescendantExpansion(t *testing.T) {
	m := New()
	m.SetItems(chain())
	if err := m.ToggleExpandedRecursive(0); err != nil {
		t.Fatal(err)
	}
	if got := visibleIDs(m); len(got) != 5 {
		t.Fatalf("recursive expand: got %v, want all", got)
	}
	if !m.IsExpanded(2) || m.IsExpanded(3) {
		t.Fatal("recursive expand: want 2 expanded, leaf 3 not")
	}

	if err := m.ToggleExpandedRecursive(0); err != nil {
		t.Fatal(err)
	}
	if m.IsExpanded(1) || m.IsExpanded(2) || m.IsVisible(3) {
		t.Fatal("collapse: descendants should be neither expanded nor visible")
	}
	if got := visibleIDs(m); !equalIDs(got, []wire.ID{0}) {
		t.Fatalf("visible: got %v, want [0]", got)
	}
}

func TestGetVisibleItems_CachedUntilMutation(t *testing.T) {
	m := New()
	m.SetItems(chain())
	first := m.GetVisibleItems()
	second := m.GetVisibleItems()
	if len(first) == 0 || &first[0] != &second[0] {
		t.Fatal("repeated reads should return the cached slice")
	}

	v := m.Version()
	if err := m.ToggleExpanded(0); err != nil {
		t.Fatal(err)
	}
	if m.Version() <= v {
		t.Fatalf("version: got %d, want > %d", m.Version(), v)
	}
	if third := m.GetVisibleItems(); len(third) == len(first) {
		t.Fatalf("after mutation: got %d items, want a fresh view", len(third))
	}
}

func TestSetItems_RemovesObsoleteAndAddsNewChildren(t *testing.T) {
	m := New()
	m.SetItems(chain())
	if err := m.SetExpanded(1, true); err != nil {
		t.Fatal(err)
	}

	// 2 and its child 3 disappear, 5 appears under expanded 1, 6 under collapsed 4.
	m.SetItems([]*wire.Node{node(0), node(1, 0), node(5, 1), node(4, 0), node(6, 4)})
	if m.IsVisible(2) || m.IsVisible(3) {
		t.Fatal("removed ids still visible")
	}
	if got := visibleIDs(m); !equalIDs(got, []wire.ID{0, 1, 5, 4}) {
		t.Fatalf("visible: got %v, want [0 1 5 4]", got)
	}
	if !m.HasChildren(4) {
		t.Fatal("hasChildren(4): want true")
	}
}

func TestSetItems_BumpsVersion(t *testing.T) {
	m := New()
	v := m.Version()
	m.SetItems(nil)
	m.SetItems(nil)
	if m.Version() != v+2 {
		t.Fatalf("version: got %d, want %d", m.Version(), v+2)
	}
}

func TestExpandParents_ImmediateParentOnly(t *testing.T) {
	m := New()
	m.SetItems(chain())
	if err := m.ExpandParents(3); err != nil {
		t.Fatal(err)
	}
	if !m.IsExpanded(2) {
		t.Fatal("parent 2 not expanded")
	}
	if !m.IsVisible(3) {
		t.Fatal("target 3 not visible")
	}
	if m.IsExpanded(3) {
		t.Fatal("target itself should stay collapsed")
	}
	if err := m.ExpandParents(0); err != nil {
		t.Fatalf("root: %v", err)
	}
	if err := m.ExpandParents(42); err == nil {
		t.Fatal("missing id: want error")
	}
}

func TestToggle_UnknownID(t *testing.T) {
	m := New()
	m.SetItems(chain())
	var nf *ErrNotFound
	if err := m.ToggleExpanded(9); !errors.As(err, &nf) {
		t.Fatalf("ToggleExpanded: got %v", err)
	}
	if err := m.ToggleExpandedRecursive(9); !errors.As(err, &nf) {
		t.Fatalf("ToggleExpandedRecursive: got %v", err)
	}
}

type fakeSource struct {
	mu        sync.Mutex
	items     []*wire.Node
	listeners []store.Listener
}

func (f *fakeSource) Elements() []*wire.Node {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.items
}

func (f *fakeSource) AddListener(event wire.Event, fn store.Listener) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if event == store.EventUpdated {
		f.listeners = append(f.listeners, fn)
	}
	return func() {}
}

func (f *fakeSource) update(items []*wire.Node) {
	f.mu.Lock()
	f.items = items
	ls := f.listeners
	f.mu.Unlock()
	for _, fn := range ls {
		fn(nil)
	}
}

func TestBind_FollowsUpdates(t *testing.T) {
	src := &fakeSource{items: []*wire.Node{node(0)}}
	m := New()
	m.Bind(src)
	if len(m.Items()) != 1 {
		t.Fatalf("initial items: got %d, want 1", len(m.Items()))
	}
	src.update(chain())
	if len(m.Items()) != 5 {
		t.Fatalf("after update: got %d, want 5", len(m.Items()))
	}
}

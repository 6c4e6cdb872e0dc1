package store

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hazyhaar/treewatch/agent"
	"github.com/hazyhaar/treewatch/bridge"
	"github.com/hazyhaar/treewatch/clock"
	"github.com/hazyhaar/treewatch/wire"
)

func newTestStore(t *testing.T) (*Store, *bridge.Recorder, *clock.FakeClock) {
	t.Helper()
	rec := &bridge.Recorder{}
	clk := clock.Fake(time.Unix(0, 0))
	s := New(Config{Bridge: rec, Clock: clk, RetryInterval: 500 * time.Millisecond})
	t.Cleanup(func() { s.Close() })
	return s, rec, clk
}

func countEvent(rec *bridge.Recorder, ev wire.Event) int {
	n := 0
	for _, e := range rec.Events() {
		if e == ev {
			n++
		}
	}
	return n
}

func inject(rec *bridge.Recorder, ev wire.Event, payload any) {
	rec.Inject(context.Background(), wire.Message{Event: ev, Payload: payload})
}

func TestStore_HandshakeRetriesUntilFirstOperation(t *testing.T) {
	s, rec, clk := newTestStore(t)

	s.ToggleDevtoolsOpened(true)
	s.ToggleDevtoolsOpened(true)
	if n := countEvent(rec, wire.EventDevtoolsInitialized); n != 1 {
		t.Fatalf("initial: got %d devtoolsInitialized, want 1", n)
	}

	clk.Advance(500 * time.Millisecond)
	clk.Advance(500 * time.Millisecond)
	if n := countEvent(rec, wire.EventDevtoolsInitialized); n != 3 {
		t.Fatalf("after two intervals: got %d, want 3", n)
	}

	inject(rec, wire.EventOperation, create(1, nil))
	clk.Advance(5 * time.Second)
	if n := countEvent(rec, wire.EventDevtoolsInitialized); n != 3 {
		t.Fatalf("after first operation: got %d, want 3", n)
	}
	if clk.Pending() != 0 {
		t.Fatalf("pending timers: got %d, want 0", clk.Pending())
	}
}

func TestStore_HandshakeStopsOnEndOfTreeAndClose(t *testing.T) {
	s, rec, clk := newTestStore(t)

	s.ToggleDevtoolsOpened(true)
	inject(rec, wire.EventEndOfTree, nil)
	clk.Advance(2 * time.Second)
	if n := countEvent(rec, wire.EventDevtoolsInitialized); n != 1 {
		t.Fatalf("after endOfTree: got %d, want 1", n)
	}

	s.ToggleDevtoolsOpened(false)
	s.ToggleDevtoolsOpened(true)
	if n := countEvent(rec, wire.EventDevtoolsInitialized); n != 2 {
		t.Fatalf("reopen: got %d, want 2", n)
	}
	s.ToggleDevtoolsOpened(false)
	clk.Advance(2 * time.Second)
	if n := countEvent(rec, wire.EventDevtoolsInitialized); n != 2 {
		t.Fatalf("after close: got %d, want 2", n)
	}
}

func TestStore_OpeningClearsMirror(t *testing.T) {
	s, rec, _ := newTestStore(t)
	inject(rec, wire.EventOperation, create(1, nil))
	if len(s.Elements()) != 1 {
		t.Fatal("operation not applied")
	}
	s.ToggleDevtoolsOpened(true)
	if len(s.Elements()) != 0 {
		t.Fatalf("mirror after open: got %d nodes", len(s.Elements()))
	}
}

func TestStore_OpeningClearsSelection(t *testing.T) {
	s, rec, _ := newTestStore(t)
	var selected []*wire.ID
	s.AddListener(EventSelected, func(p any) { selected = append(selected, p.(*wire.ID)) })

	inject(rec, wire.EventOperation, create(1, nil))
	s.SetSelectedID(wire.IDRef(1))
	s.ToggleDevtoolsOpened(true)
	if id, ok := s.SelectedID(); ok {
		t.Fatalf("selection after open: got %d", id)
	}
	if len(selected) != 2 || selected[1] != nil {
		t.Fatalf("selected events: got %v, want a clearing event", selected)
	}
}

// A tick that fires while the handshake is closed and reopened must not
// replace the timer armed by the reopen.
func TestStore_StaleRetryTickIsIgnored(t *testing.T) {
	s, rec, clk := newTestStore(t)

	s.ToggleDevtoolsOpened(true)
	s.mu.Lock()
	stale := s.retryGen
	s.mu.Unlock()
	s.ToggleDevtoolsOpened(false)
	s.ToggleDevtoolsOpened(true)

	s.retryTick(stale)
	if n := countEvent(rec, wire.EventDevtoolsInitialized); n != 2 {
		t.Fatalf("after stale tick: got %d devtoolsInitialized, want 2", n)
	}
	if clk.Pending() != 1 {
		t.Fatalf("pending timers: got %d, want 1", clk.Pending())
	}
	clk.Advance(500 * time.Millisecond)
	if n := countEvent(rec, wire.EventDevtoolsInitialized); n != 3 {
		t.Fatalf("after one interval: got %d, want 3", n)
	}
}

func TestStore_GetFullTreeSingleFlight(t *testing.T) {
	s, rec, _ := newTestStore(t)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	var wg sync.WaitGroup
	results := make([][]*wire.Node, 2)
	errs := make([]error, 2)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = s.GetFullTree(ctx)
		}(i)
	}

	deadline := time.Now().Add(time.Second)
	for countEvent(rec, wire.EventRequestTree) == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	time.Sleep(20 * time.Millisecond)
	inject(rec, wire.EventOperation, create(1, nil))
	inject(rec, wire.EventOperation, create(2, wire.IDRef(1)))
	inject(rec, wire.EventEndOfTree, nil)
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("caller %d: %v", i, err)
		}
	}
	if n := countEvent(rec, wire.EventRequestTree); n != 1 {
		t.Fatalf("requestTree sent %d times, want 1", n)
	}
	if len(results[0]) != 2 || &results[0][0] != &results[1][0] {
		t.Fatal("callers did not share the same tree")
	}

	again, err := s.GetFullTree(ctx)
	if err != nil || &again[0] != &results[0][0] {
		t.Fatalf("cached call: got %v, %v", again, err)
	}
	if n := countEvent(rec, wire.EventRequestTree); n != 1 {
		t.Fatalf("cached call sent requestTree")
	}
}

func TestStore_GetFullTreeContext(t *testing.T) {
	s, _, _ := newTestStore(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := s.GetFullTree(ctx); err == nil {
		t.Fatal("expected context error")
	}
}

func TestStore_DuplicateCreateAndBadParent(t *testing.T) {
	var buf bytes.Buffer
	rec := &bridge.Recorder{}
	s := New(Config{Bridge: rec, Logger: slog.New(slog.NewTextHandler(&buf, nil))})
	defer s.Close()

	inject(rec, wire.EventOperation, create(1, nil))
	inject(rec, wire.EventOperation, create(1, nil))
	inject(rec, wire.EventOperation, create(3, wire.IDRef(99)))

	if got := ids(s.Elements()); len(got) != 1 || got[0] != 1 {
		t.Fatalf("mirror: got %v, want [1]", got)
	}
	if !strings.Contains(buf.String(), "missing parent 99") {
		t.Fatalf("log: got %q", buf.String())
	}
}

func TestStore_ListenersAndSelection(t *testing.T) {
	s, rec, _ := newTestStore(t)

	var updates []any
	remove := s.AddListener(EventUpdated, func(p any) { updates = append(updates, p) })
	var selected []*wire.ID
	s.AddListener(EventSelected, func(p any) { selected = append(selected, p.(*wire.ID)) })

	inject(rec, wire.EventOperation, create(1, nil))
	inject(rec, wire.EventOperation, create(2, wire.IDRef(1)))
	inject(rec, wire.EventEndSynchronization, "tok-1")
	if len(updates) != 1 || updates[0] != "tok-1" {
		t.Fatalf("updates: got %v", updates)
	}

	s.SetSelectedID(wire.IDRef(2))
	if id, ok := s.SelectedID(); !ok || id != 2 {
		t.Fatalf("selected: got %d, %v", id, ok)
	}
	inject(rec, wire.EventOperation, wire.Delete(2))
	if _, ok := s.SelectedID(); ok {
		t.Fatal("selection survived deletion")
	}
	if len(selected) != 2 || selected[1] != nil {
		t.Fatalf("selected events: got %v", selected)
	}

	remove()
	inject(rec, wire.EventEndSynchronization, "tok-2")
	if len(updates) != 1 {
		t.Fatal("listener called after removal")
	}
}

func TestStore_Search(t *testing.T) {
	s, rec, _ := newTestStore(t)
	for i, name := range []string{"App", "TodoList", "TodoItem", "Footer"} {
		var parent *wire.ID
		if i > 0 {
			parent = wire.IDRef(1)
		}
		inject(rec, wire.EventOperation, wire.Create(wire.Node{ID: wire.ID(i + 1), Name: name, ParentID: parent}))
	}

	got, err := s.Search("todo")
	if err != nil || len(got) != 2 || got[0] != 2 || got[1] != 3 {
		t.Fatalf("substring: got %v, %v", got, err)
	}
	got, err = s.Search("/^(app|footer)$/")
	if err != nil || len(got) != 2 || got[0] != 1 || got[1] != 4 {
		t.Fatalf("regexp: got %v, %v", got, err)
	}
	if _, err := s.Search("/(/"); err == nil {
		t.Fatal("expected error for invalid regexp")
	}
}

func TestStore_Pins(t *testing.T) {
	s, _, _ := newTestStore(t)
	ctx := context.Background()
	s.Pin(ctx, "App")
	s.Pin(ctx, "List")
	s.Pin(ctx, "App")
	s.Unpin(ctx, "App")
	got, err := s.Pinned(ctx)
	if err != nil || len(got) != 1 || got[0] != "List" {
		t.Fatalf("pinned: got %v, %v", got, err)
	}
}

func TestStore_ClosedRejectsCalls(t *testing.T) {
	s, _, _ := newTestStore(t)
	s.Close()
	if err := s.Dispatch(context.Background(), wire.EventRequestTree, nil); err != ErrClosed {
		t.Fatalf("dispatch: got %v, want ErrClosed", err)
	}
	if _, err := s.GetFullTree(context.Background()); err != ErrClosed {
		t.Fatalf("GetFullTree: got %v, want ErrClosed", err)
	}
}

type vnode struct{ name string }

func TestStore_MirrorsAgentOverPipe(t *testing.T) {
	src, dst := bridge.NewPipe()
	t.Cleanup(func() { src.Close() })

	ag := agent.New(agent.Config{Bridge: src, Profiling: true})
	st := New(Config{Bridge: dst})
	t.Cleanup(func() { st.Close() })

	root, app, list, item := &vnode{"root"}, &vnode{"App"}, &vnode{"List"}, &vnode{"Item"}
	ag.OnStartSync(root)
	ag.OnStartCommit(wire.OpCreate, "App", nil)
	ag.SaveChildren([]agent.Ref{list})
	ag.OnStartCommit(wire.OpCreate, "List", nil)
	ag.SaveChildren([]agent.Ref{item})
	ag.OnStartCommit(wire.OpCreate, "Item", nil)
	ag.OnEndCommit(item, agent.CommitData{State: map[string]any{"done": false}})
	ag.OnEndCommit(list, agent.CommitData{})
	ag.OnEndCommit(app, agent.CommitData{Kind: wire.KindContainer})
	token := ag.OnEndSync(root)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	tree, err := st.GetFullTree(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(tree) != 3 {
		t.Fatalf("tree: got %d nodes, want 3", len(tree))
	}
	for i, want := range []string{"App", "List", "Item"} {
		if tree[i].Name != want || tree[i].Depth != i {
			t.Fatalf("node %d: got %s@%d, want %s@%d", i, tree[i].Name, tree[i].Depth, want, i)
		}
	}

	itemID, _ := ag.IDOf(item)
	el, err := st.Inspect(ctx, itemID, nil, nil)
	if err != nil || el.Type != wire.InspectFull {
		t.Fatalf("inspect: got %+v, %v", el, err)
	}
	if state := el.Details.Sections[wire.SectionState].(map[string]any); state["done"] != false {
		t.Fatalf("state: got %v", state)
	}

	prof, err := st.Profile(ctx, token)
	if err != nil || !prof.Found || len(prof.Nodes) != 3 {
		t.Fatalf("profile: got %+v, %v", prof, err)
	}
}

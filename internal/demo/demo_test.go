package demo

import (
	"context"
	"testing"
	"time"

	"github.com/hazyhaar/treewatch/agent"
	"github.com/hazyhaar/treewatch/bridge"
	"github.com/hazyhaar/treewatch/store"
)

func TestApp_MirrorStaysConsistent(t *testing.T) {
	src, dst := bridge.NewPipe()
	t.Cleanup(func() { src.Close() })

	surface := &Surface{}
	ag := agent.New(agent.Config{Bridge: src, Observer: surface, Profiling: true})
	t.Cleanup(func() { ag.Close() })
	st := store.New(store.Config{Bridge: dst})
	t.Cleanup(func() { st.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if _, err := st.GetFullTree(ctx); err != nil {
		t.Fatal(err)
	}

	tokens := make(chan any, 64)
	remove := st.AddListener(store.EventUpdated, func(payload any) { tokens <- payload })
	defer remove()

	app := New(Config{Agent: ag, Surface: surface, Seed: 7})
	var all []string
	for range 40 {
		all = append(all, app.Step())
	}
	token := all[len(all)-1]

	for got := any(nil); got != token; {
		select {
		case got = <-tokens:
		case <-ctx.Done():
			t.Fatal("last synchronization never reached the store")
		}
	}

	elements := st.Elements()
	if len(elements) != ag.NodeCount() {
		t.Fatalf("mirror: got %d nodes, agent has %d", len(elements), ag.NodeCount())
	}
	for _, n := range elements {
		want, ok := ag.Node(n.ID)
		if !ok {
			t.Fatalf("mirror node %d unknown to the agent", n.ID)
		}
		if n.Depth != want.Depth || n.Name != want.Name {
			t.Fatalf("node %d: got %s@%d, want %s@%d", n.ID, n.Name, n.Depth, want.Name, want.Depth)
		}
	}

	p, ok := ag.Profile(token)
	if !ok || p.RootID == 0 || p.Mutations == 0 {
		t.Fatalf("profile: got %+v", p)
	}
	changed := false
	for _, tok := range all[len(all)-10:] {
		p, _ := ag.Profile(tok)
		for _, n := range p.Nodes {
			changed = changed || n.DomChanged
		}
	}
	if !changed {
		t.Fatal("profiles: no node attributed a mutation")
	}
}

func TestApp_Breakpoints(t *testing.T) {
	rec := &bridge.Recorder{}
	dbg := &Debugger{}
	ag := agent.New(agent.Config{Bridge: rec, Debugger: dbg})
	t.Cleanup(func() { ag.Close() })

	app := New(Config{Agent: ag})
	app.Step()

	footer, ok := ag.IDOf(app.footer)
	if !ok {
		t.Fatal("footer not rendered")
	}
	list, err := ag.SetBreakpoint(footer, "click")
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 || dbg.Active() != 1 {
		t.Fatalf("breakpoints: got %v, debugger has %d", list, dbg.Active())
	}
	ag.RemoveAllBreakpoints()
	if dbg.Active() != 0 {
		t.Fatalf("after removal: debugger has %d", dbg.Active())
	}
}

func TestBox_Visibility(t *testing.T) {
	root := &box{name: "root"}
	child := &box{name: "child", parent: root}
	if !child.Visible() {
		t.Fatal("child hidden")
	}
	root.hidden = true
	if child.Visible() {
		t.Fatal("child of hidden root visible")
	}
	if root.Parent() != nil {
		t.Fatal("root has a parent")
	}
	if child.Parent() != agent.Container(root) {
		t.Fatal("child parent mismatch")
	}
	if h := child.Handlers("click"); h != nil {
		t.Fatalf("handlers: got %v", h)
	}
}

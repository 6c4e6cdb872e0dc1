package demo

import (
	"fmt"
	"sync"

	"github.com/hazyhaar/treewatch/agent"
)

// box is a synthetic visual surface. Pointers are comparable, which the
// agent needs for ownership maps.
type box struct {
	name    string
	parent  *box
	hidden  bool
	onClick string
}

func (b *box) Parent() agent.Container {
	if b.parent == nil {
		return nil
	}
	return b.parent
}

func (b *box) Visible() bool {
	for c := b; c != nil; c = c.parent {
		if c.hidden {
			return false
		}
	}
	return true
}

func (b *box) Handlers(event string) []agent.Handler {
	if event != "click" || b.onClick == "" {
		return nil
	}
	return []agent.Handler{{Location: b.onClick, Receiver: b}}
}

// Surface is the demo's mutation observer: the app reports each box it
// touches while observing is on.
type Surface struct {
	mu        sync.Mutex
	observing bool
	records   []agent.MutationRecord
}

func (s *Surface) Observe() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observing = true
	return nil
}

func (s *Surface) TakeRecords() []agent.MutationRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.records
	s.records = nil
	return out
}

func (s *Surface) Disconnect() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observing = false
	s.records = nil
}

func (s *Surface) touch(b *box, kind string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.observing {
		s.records = append(s.records, agent.MutationRecord{Target: b, Kind: kind})
	}
}

// Debugger keeps installed breakpoints in memory.
type Debugger struct {
	mu     sync.Mutex
	next   int
	active map[string]string
}

func (d *Debugger) SetBreakpoint(h agent.Handler, condition string) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.active == nil {
		d.active = make(map[string]string)
	}
	d.next++
	id := fmt.Sprintf("demo-%d", d.next)
	d.active[id] = h.Location + " if " + condition
	return id, nil
}

func (d *Debugger) RemoveBreakpoint(id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.active[id]; !ok {
		return fmt.Errorf("demo: unknown breakpoint %q", id)
	}
	delete(d.active, id)
	return nil
}

// Active returns the number of installed breakpoints.
func (d *Debugger) Active() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.active)
}

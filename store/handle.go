package store

import (
	"context"
	"sort"

	"github.com/hazyhaar/treewatch/wire"
)

func sortInts(a []int) { sort.Ints(a) }

// handle applies one inbound message, then notifies listeners.
func (s *Store) handle(_ context.Context, msg wire.Message) {
	var local []func()

	switch msg.Event {
	case wire.EventOperation:
		op, ok := msg.Payload.(wire.Operation)
		if !ok {
			s.logger.Warn("store: bad operation payload")
			return
		}
		s.applyOne(op)

	case wire.EventEndSynchronization:
		local = append(local, func() { s.emit(EventUpdated, msg.Payload) })

	case wire.EventEndOfTree:
		s.mu.Lock()
		s.stopRetryLocked()
		if !s.complete {
			s.complete = true
			close(s.treeDone)
		}
		s.mu.Unlock()
		local = append(local, func() { s.emit(EventUpdated, nil) })

	case wire.EventInspectedElement:
		if el, ok := msg.Payload.(wire.InspectedElement); ok {
			s.resolveInspect(el)
		}

	case wire.EventProfile:
		if p, ok := msg.Payload.(wire.Profile); ok {
			s.resolveProfile(p)
		}

	case wire.EventBreakpoints:
		if list, ok := msg.Payload.(wire.BreakpointList); ok {
			s.mu.Lock()
			s.breakpoints = list
			s.mu.Unlock()
		}
	}

	s.emit(msg.Event, msg.Payload)
	for _, fn := range local {
		fn()
	}
}

func (s *Store) applyOne(op wire.Operation) {
	s.mu.Lock()

	if s.opened && s.retry != nil {
		s.stopRetryLocked()
	}
	if op.Kind == wire.OpCreate {
		if _, dup := s.index[op.ID]; dup {
			s.mu.Unlock()
			s.logger.Debug("store: duplicate create ignored", "id", op.ID)
			return
		}
	}

	next, err := ApplyOperation(s.elements, op)
	if err != nil {
		s.mu.Unlock()
		s.logger.Error("store: operation rejected", "op", op.Kind, "id", op.ID, "error", err)
		return
	}
	s.elements = next

	var deselected bool
	switch op.Kind {
	case wire.OpCreate:
		if i := indexOf(next, op.ID); i >= 0 {
			s.index[op.ID] = next[i]
		}
	case wire.OpDelete:
		delete(s.index, op.ID)
		if s.selected != nil && *s.selected == op.ID {
			s.selected = nil
			deselected = true
		}
	}
	s.mu.Unlock()

	if deselected {
		s.emit(EventSelected, (*wire.ID)(nil))
	}
}

// Inspect asks the agent for a detail snapshot of id and waits for the
// reply.
func (s *Store) Inspect(ctx context.Context, id wire.ID, path, expandedTabs []string) (wire.InspectedElement, error) {
	ch := make(chan wire.InspectedElement, 1)
	s.mu.Lock()
	s.inspects[id] = append(s.inspects[id], ch)
	s.mu.Unlock()

	req := wire.InspectRequest{ID: id, Path: path, ExpandedTabs: expandedTabs}
	if err := s.Dispatch(ctx, wire.EventInspectElement, req); err != nil {
		s.dropInspect(id, ch)
		return wire.InspectedElement{}, err
	}
	select {
	case el := <-ch:
		return el, nil
	case <-ctx.Done():
		s.dropInspect(id, ch)
		return wire.InspectedElement{}, ctx.Err()
	case <-s.ctx.Done():
		return wire.InspectedElement{}, ErrClosed
	}
}

func (s *Store) resolveInspect(el wire.InspectedElement) {
	s.mu.Lock()
	defer s.mu.Unlock()
	waiters := s.inspects[el.ID]
	if len(waiters) == 0 {
		return
	}
	waiters[0] <- el
	if len(waiters) == 1 {
		delete(s.inspects, el.ID)
	} else {
		s.inspects[el.ID] = waiters[1:]
	}
}

func (s *Store) dropInspect(id wire.ID, ch chan wire.InspectedElement) {
	s.mu.Lock()
	defer s.mu.Unlock()
	waiters := s.inspects[id]
	for i, w := range waiters {
		if w == ch {
			s.inspects[id] = append(waiters[:i:i], waiters[i+1:]...)
			break
		}
	}
	if len(s.inspects[id]) == 0 {
		delete(s.inspects, id)
	}
}

// Profile fetches the profile the agent retained under token.
func (s *Store) Profile(ctx context.Context, token string) (wire.Profile, error) {
	ch := make(chan wire.Profile, 1)
	s.mu.Lock()
	s.profiles[token] = append(s.profiles[token], ch)
	s.mu.Unlock()

	drop := func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		ws := s.profiles[token]
		for i, w := range ws {
			if w == ch {
				s.profiles[token] = append(ws[:i:i], ws[i+1:]...)
				break
			}
		}
		if len(s.profiles[token]) == 0 {
			delete(s.profiles, token)
		}
	}

	if err := s.Dispatch(ctx, wire.EventGetProfile, wire.ProfileRequest{Token: token}); err != nil {
		drop()
		return wire.Profile{}, err
	}
	select {
	case p := <-ch:
		return p, nil
	case <-ctx.Done():
		drop()
		return wire.Profile{}, ctx.Err()
	case <-s.ctx.Done():
		return wire.Profile{}, ErrClosed
	}
}

func (s *Store) resolveProfile(p wire.Profile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ch := range s.profiles[p.Token] {
		ch <- p
	}
	delete(s.profiles, p.Token)
}

// SetBreakpoint asks the agent to break on event handlers of id.
func (s *Store) SetBreakpoint(ctx context.Context, id wire.ID, event string) error {
	return s.Dispatch(ctx, wire.EventSetBreakpoint, wire.BreakpointRequest{ID: id, Event: event})
}

// RemoveBreakpoint removes the breakpoints of event on id.
func (s *Store) RemoveBreakpoint(ctx context.Context, id wire.ID, event string) error {
	return s.Dispatch(ctx, wire.EventRemoveBreakpoint, wire.BreakpointRequest{ID: id, Event: event})
}

// RemoveAllBreakpoints clears every breakpoint in the agent.
func (s *Store) RemoveAllBreakpoints(ctx context.Context) error {
	return s.Dispatch(ctx, wire.EventRemoveAllBreakpoints, nil)
}

// Breakpoints returns the last acknowledged breakpoint list.
func (s *Store) Breakpoints() wire.BreakpointList {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.breakpoints
}

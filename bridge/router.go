package bridge

import (
	"context"
	"log/slog"
	"sync"

	"github.com/hazyhaar/treewatch/wire"
)

// Router fans messages out to a dynamic set of bridges and merges what
// they receive. One member's error does not block the others: errors are
// logged and the first one is returned.
type Router struct {
	mu      sync.Mutex
	members map[Bridge]func()
	order   []Bridge
	ls      listeners
	logger  *slog.Logger
}

// NewRouter creates a Router with optional initial members.
func NewRouter(logger *slog.Logger, members ...Bridge) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Router{members: make(map[Bridge]func()), logger: logger}
	for _, m := range members {
		r.Add(m)
	}
	return r
}

// Add joins b. Inbound messages of b are forwarded to the Router's
// listeners.
func (r *Router) Add(b Bridge) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.members[b]; ok {
		return
	}
	r.members[b] = b.Listen(r.ls.dispatch)
	r.order = append(r.order, b)
}

// Remove detaches b without closing it.
func (r *Router) Remove(b Bridge) {
	r.mu.Lock()
	defer r.mu.Unlock()
	unsub, ok := r.members[b]
	if !ok {
		return
	}
	unsub()
	delete(r.members, b)
	for i, m := range r.order {
		if m == b {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}

// Len returns the number of members.
func (r *Router) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.order)
}

func (r *Router) snapshot() []Bridge {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Bridge(nil), r.order...)
}

func (r *Router) Send(ctx context.Context, msg wire.Message) error {
	var firstErr error
	for _, b := range r.snapshot() {
		if err := b.Send(ctx, msg); err != nil {
			r.logger.Warn("bridge: router send failed", "event", msg.Event, "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func (r *Router) Listen(h Handler) func() { return r.ls.add(h) }

// Close closes and removes every member.
func (r *Router) Close() error {
	var firstErr error
	for _, b := range r.snapshot() {
		r.Remove(b)
		if err := b.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Package bridge defines the ordered message channel between an agent and
// its observers, with in-process, line-stream and websocket implementations.
package bridge

import (
	"context"
	"sort"
	"sync"

	"github.com/hazyhaar/treewatch/wire"
)

// Handler receives inbound messages. Handlers of one Bridge are called
// sequentially in arrival order.
type Handler func(ctx context.Context, msg wire.Message)

// Bridge is one end of a message channel. Delivery order is preserved:
// operations are diffs applied against mutable state.
type Bridge interface {
	Send(ctx context.Context, msg wire.Message) error
	// Listen registers h for inbound messages and returns a function that
	// removes it.
	Listen(h Handler) (unsubscribe func())
	Close() error
}

// listeners is the handler registry shared by the implementations.
type listeners struct {
	mu   sync.Mutex
	next int
	hs   map[int]Handler
}

func (l *listeners) add(h Handler) func() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.hs == nil {
		l.hs = make(map[int]Handler)
	}
	id := l.next
	l.next++
	l.hs[id] = h

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.hs, id)
			l.mu.Unlock()
		})
	}
}

// dispatch calls every handler in registration order. The registry is
// snapshotted so handlers may unsubscribe themselves.
func (l *listeners) dispatch(ctx context.Context, msg wire.Message) {
	l.mu.Lock()
	ids := make([]int, 0, len(l.hs))
	for id := range l.hs {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	hs := make([]Handler, 0, len(ids))
	for _, id := range ids {
		hs = append(hs, l.hs[id])
	}
	l.mu.Unlock()

	for _, h := range hs {
		h(ctx, msg)
	}
}

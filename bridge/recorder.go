package bridge

import (
	"context"
	"sync"

	"github.com/hazyhaar/treewatch/wire"
)

// Recorder is a synchronous Bridge that keeps every sent message. Inject
// delivers an inbound message to the listeners on the caller's goroutine.
type Recorder struct {
	mu     sync.Mutex
	sent   []wire.Message
	ls     listeners
	closed bool
	// OnSend, when set, is called after each recorded Send.
	OnSend func(msg wire.Message)
}

func (r *Recorder) Send(_ context.Context, msg wire.Message) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrClosed
	}
	r.sent = append(r.sent, msg)
	hook := r.OnSend
	r.mu.Unlock()
	if hook != nil {
		hook(msg)
	}
	return nil
}

func (r *Recorder) Listen(h Handler) func() { return r.ls.add(h) }

func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

// Inject delivers msg to the listeners.
func (r *Recorder) Inject(ctx context.Context, msg wire.Message) {
	r.ls.dispatch(ctx, msg)
}

// Sent returns a copy of the recorded messages.
func (r *Recorder) Sent() []wire.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]wire.Message(nil), r.sent...)
}

// Events returns the recorded event names.
func (r *Recorder) Events() []wire.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	evs := make([]wire.Event, len(r.sent))
	for i, m := range r.sent {
		evs[i] = m.Event
	}
	return evs
}

// Operations returns the payloads of the recorded operation messages.
func (r *Recorder) Operations() []wire.Operation {
	r.mu.Lock()
	defer r.mu.Unlock()
	var ops []wire.Operation
	for _, m := range r.sent {
		if op, ok := m.Payload.(wire.Operation); ok && m.Event == wire.EventOperation {
			ops = append(ops, op)
		}
	}
	return ops
}

// Reset drops the recorded messages.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = nil
}

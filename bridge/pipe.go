package bridge

import (
	"context"
	"sync"

	"github.com/hazyhaar/treewatch/wire"
)

// DefaultPipeBuffer is the number of in-flight messages per direction.
const DefaultPipeBuffer = 256

// PipeEnd is one side of an in-process Pipe. Messages sent on one end are
// delivered, in order, to the listeners of the other end on a dedicated
// goroutine, so a handler never runs on the sender's stack.
type PipeEnd struct {
	peer    *PipeEnd
	queue   chan wire.Message
	ls      listeners
	done    chan struct{}
	stopped chan struct{}
	once    *sync.Once
}

// NewPipe returns two connected ends. Closing either end closes both.
func NewPipe() (*PipeEnd, *PipeEnd) {
	return NewPipeSize(DefaultPipeBuffer)
}

// NewPipeSize is NewPipe with an explicit buffer size.
func NewPipeSize(buffer int) (*PipeEnd, *PipeEnd) {
	done := make(chan struct{})
	once := &sync.Once{}
	a := &PipeEnd{queue: make(chan wire.Message, buffer), done: done, stopped: make(chan struct{}), once: once}
	b := &PipeEnd{queue: make(chan wire.Message, buffer), done: done, stopped: make(chan struct{}), once: once}
	a.peer, b.peer = b, a
	go a.run()
	go b.run()
	return a, b
}

// run delivers messages queued for this end.
func (p *PipeEnd) run() {
	defer close(p.stopped)
	ctx := context.Background()
	for {
		select {
		case msg := <-p.queue:
			p.ls.dispatch(ctx, msg)
		case <-p.done:
			return
		}
	}
}

// Send queues msg for the peer. It blocks while the peer's buffer is full.
func (p *PipeEnd) Send(ctx context.Context, msg wire.Message) error {
	select {
	case <-p.done:
		return ErrClosed
	default:
	}
	select {
	case p.peer.queue <- msg:
		return nil
	case <-p.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *PipeEnd) Listen(h Handler) func() { return p.ls.add(h) }

// Close stops both ends. Messages still queued are dropped.
func (p *PipeEnd) Close() error {
	p.once.Do(func() { close(p.done) })
	<-p.stopped
	<-p.peer.stopped
	return nil
}

package bridge

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/hazyhaar/treewatch/wire"
)

// maxLine bounds one inbound JSON line.
const maxLine = 16 << 20

// Stream exchanges JSON lines over a reader and a writer, e.g. a child
// process's stdio or a unix socket.
type Stream struct {
	mu     sync.Mutex
	w      io.Writer
	r      io.Reader
	ls     listeners
	closed bool
	logger *slog.Logger
}

// NewStream creates a Stream. r may be nil for a send-only stream.
func NewStream(r io.Reader, w io.Writer, logger *slog.Logger) *Stream {
	if logger == nil {
		logger = slog.Default()
	}
	return &Stream{r: r, w: w, logger: logger}
}

func (s *Stream) Send(_ context.Context, msg wire.Message) error {
	data, err := wire.JSON.Marshal(msg)
	if err != nil {
		return fmt.Errorf("bridge: stream marshal: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if _, err := s.w.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("bridge: stream write: %w", err)
	}
	return nil
}

func (s *Stream) Listen(h Handler) func() { return s.ls.add(h) }

// Run reads lines until EOF or ctx is done and dispatches each decoded
// message. Undecodable lines are logged and skipped.
func (s *Stream) Run(ctx context.Context) error {
	if s.r == nil {
		return nil
	}
	sc := bufio.NewScanner(s.r)
	sc.Buffer(make([]byte, 64*1024), maxLine)
	for sc.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		msg, err := wire.JSON.Unmarshal(line)
		if err != nil {
			s.logger.Warn("bridge: stream decode failed", "error", err)
			continue
		}
		s.ls.dispatch(ctx, msg)
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("bridge: stream read: %w", err)
	}
	return nil
}

func (s *Stream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Package store is the sink side of the protocol. It receives operations
// over a bridge, keeps the mirror as a flat pre-ordered node list and
// offers the full-tree bootstrap, the devtools handshake, inspection and
// profile requests.
package store

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/hazyhaar/treewatch/bridge"
	"github.com/hazyhaar/treewatch/clock"
	"github.com/hazyhaar/treewatch/prefs"
	"github.com/hazyhaar/treewatch/wire"
)

// Local events, delivered to listeners next to the wire events.
const (
	// EventUpdated fires after a synchronization or a full tree was
	// applied. Payload: the correlation token, or nil after endOfTree.
	EventUpdated wire.Event = "updated"
	// EventSelected fires when the selection changes. Payload: *wire.ID.
	EventSelected wire.Event = "selected"
)

// Listener receives the payload of one event.
type Listener func(payload any)

// Config configures a Store.
type Config struct {
	Bridge bridge.Bridge
	Logger *slog.Logger
	Clock  clock.Clock
	// RetryInterval spaces devtoolsInitialized retries.
	RetryInterval time.Duration
	// Prefs keeps pinned nodes. Nil uses an in-memory store.
	Prefs prefs.Store
}

func (c *Config) defaults() {
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Clock == nil {
		c.Clock = clock.Real()
	}
	if c.RetryInterval <= 0 {
		c.RetryInterval = 500 * time.Millisecond
	}
	if c.Prefs == nil {
		c.Prefs = prefs.NewMemory()
	}
}

// Store mirrors the agent's tree.
type Store struct {
	cfg    Config
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	elements  []*wire.Node
	index     map[wire.ID]*wire.Node
	selected  *wire.ID
	listeners map[wire.Event]map[int]Listener
	nextL     int
	closed    bool

	opened   bool
	retry    *clock.Timer
	retryGen uint64 // bumped per armed timer; stale ticks compare unequal
	complete bool
	treeDone chan struct{}
	tree     singleflight.Group

	inspects    map[wire.ID][]chan wire.InspectedElement
	profiles    map[string][]chan wire.Profile
	breakpoints wire.BreakpointList

	unsubscribe func()
}

// New creates a Store listening on cfg.Bridge.
func New(cfg Config) *Store {
	cfg.defaults()
	ctx, cancel := context.WithCancel(context.Background())
	s := &Store{
		cfg:       cfg,
		logger:    cfg.Logger,
		ctx:       ctx,
		cancel:    cancel,
		index:     make(map[wire.ID]*wire.Node),
		listeners: make(map[wire.Event]map[int]Listener),
		treeDone:  make(chan struct{}),
		inspects:  make(map[wire.ID][]chan wire.InspectedElement),
		profiles:  make(map[string][]chan wire.Profile),
	}
	if cfg.Bridge != nil {
		s.unsubscribe = cfg.Bridge.Listen(s.handle)
	}
	return s
}

// AddListener registers fn for event and returns its removal function.
func (s *Store) AddListener(event wire.Event, fn Listener) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listeners[event] == nil {
		s.listeners[event] = make(map[int]Listener)
	}
	id := s.nextL
	s.nextL++
	s.listeners[event][id] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.listeners[event], id)
	}
}

// emit calls the listeners of event in registration order. Callers must
// not hold mu.
func (s *Store) emit(event wire.Event, payload any) {
	s.mu.Lock()
	ls := s.listeners[event]
	ids := make([]int, 0, len(ls))
	for id := range ls {
		ids = append(ids, id)
	}
	sortInts(ids)
	fns := make([]Listener, 0, len(ids))
	for _, id := range ids {
		fns = append(fns, ls[id])
	}
	s.mu.Unlock()

	for _, fn := range fns {
		fn(payload)
	}
}

// Dispatch sends an event to the agent.
func (s *Store) Dispatch(ctx context.Context, event wire.Event, payload any) error {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return ErrClosed
	}
	if s.cfg.Bridge == nil {
		return nil
	}
	return s.cfg.Bridge.Send(ctx, wire.Message{Event: event, Payload: payload})
}

// Elements returns the current mirror list. The slice is replaced, never
// modified, by later operations, so callers may keep it.
func (s *Store) Elements() []*wire.Node {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.elements
}

// Node looks up one mirrored node.
func (s *Store) Node(id wire.ID) (*wire.Node, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.index[id]
	return n, ok
}

// SetSelectedID changes the selection. Nil clears it.
func (s *Store) SetSelectedID(id *wire.ID) {
	s.mu.Lock()
	if id != nil {
		id = wire.IDRef(*id)
	}
	s.selected = id
	s.mu.Unlock()
	s.emit(EventSelected, id)
}

// SelectedID returns the selected id.
func (s *Store) SelectedID() (wire.ID, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.selected == nil {
		return 0, false
	}
	return *s.selected, true
}

// GetFullTree returns the mirror once the agent has replayed the whole
// tree. Concurrent callers share one requestTree round trip; after the
// first completion the cached list is returned immediately.
func (s *Store) GetFullTree(ctx context.Context) ([]*wire.Node, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrClosed
	}
	if s.complete {
		els := s.elements
		s.mu.Unlock()
		return els, nil
	}
	s.mu.Unlock()

	ch := s.tree.DoChan("tree", s.fetchTree)
	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.([]*wire.Node), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *Store) fetchTree() (any, error) {
	s.mu.Lock()
	done := s.treeDone
	s.mu.Unlock()

	if err := s.Dispatch(s.ctx, wire.EventRequestTree, nil); err != nil {
		return nil, err
	}
	select {
	case <-done:
		return s.Elements(), nil
	case <-s.ctx.Done():
		return nil, ErrClosed
	}
}

// ToggleDevtoolsOpened tracks whether an observer is attached. Opening
// clears the mirror, sends devtoolsInitialized and repeats it every
// RetryInterval until the first operation or endOfTree arrives.
func (s *Store) ToggleDevtoolsOpened(open bool) {
	s.mu.Lock()
	if s.closed || s.opened == open {
		s.mu.Unlock()
		return
	}
	s.opened = open
	s.stopRetryLocked()
	if !open {
		s.mu.Unlock()
		return
	}
	deselected := s.resetMirrorLocked()
	s.armRetryLocked()
	s.mu.Unlock()

	if deselected {
		s.emit(EventSelected, (*wire.ID)(nil))
	}
	s.sendInit()
}

func (s *Store) sendInit() {
	if err := s.Dispatch(s.ctx, wire.EventDevtoolsInitialized, nil); err != nil {
		s.logger.Warn("store: devtoolsInitialized failed", "error", err)
	}
}

func (s *Store) armRetryLocked() {
	s.retryGen++
	gen := s.retryGen
	s.retry = s.cfg.Clock.AfterFunc(s.cfg.RetryInterval, func() { s.retryTick(gen) })
}

// retryTick re-sends the handshake for timer generation gen. A tick that
// lost the lock race to a close and reopen finds a newer generation and
// leaves the new timer alone.
func (s *Store) retryTick(gen uint64) {
	s.mu.Lock()
	if s.closed || !s.opened || s.retry == nil || gen != s.retryGen {
		s.mu.Unlock()
		return
	}
	s.armRetryLocked()
	s.mu.Unlock()

	s.logger.Debug("store: retrying devtoolsInitialized")
	s.sendInit()
}

func (s *Store) stopRetryLocked() {
	if s.retry != nil {
		s.retry.Stop()
		s.retry = nil
	}
}

// resetMirrorLocked drops the mirror and the selection and re-arms the
// full-tree wait. It reports whether a selection was cleared.
func (s *Store) resetMirrorLocked() bool {
	deselected := s.selected != nil
	s.selected = nil
	s.elements = nil
	s.index = make(map[wire.ID]*wire.Node)
	if s.complete {
		s.treeDone = make(chan struct{})
	}
	s.complete = false
	return deselected
}

// Close detaches the store, stops the handshake and wakes pending calls.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.stopRetryLocked()
	s.elements = nil
	s.index = make(map[wire.ID]*wire.Node)
	s.selected = nil
	s.listeners = make(map[wire.Event]map[int]Listener)
	unsub := s.unsubscribe
	s.unsubscribe = nil
	s.mu.Unlock()

	if unsub != nil {
		unsub()
	}
	s.cancel()
	return nil
}

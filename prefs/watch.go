package prefs

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Revisioner reports a monotonic write counter. *SQLite implements it.
type Revisioner interface {
	Revision(ctx context.Context) (int64, error)
}

// WatchOptions tunes a Watcher.
type WatchOptions struct {
	// Interval is the polling frequency. Default: 1s.
	Interval time.Duration
	// Debounce is the quiet period after a change before the action runs.
	// Further changes inside the window restart it. 0 fires immediately.
	Debounce time.Duration
	Logger   *slog.Logger
}

func (o *WatchOptions) defaults() {
	if o.Interval <= 0 {
		o.Interval = time.Second
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// Watcher polls a Revisioner and runs an action when the revision moves.
// It lets an observer pick up pins edited from another process.
type Watcher struct {
	src  Revisioner
	opts WatchOptions

	mu       sync.Mutex
	rev      int64
	advanced chan struct{} // closed and replaced whenever rev moves

	checks  atomic.Int64
	changes atomic.Int64
	errors  atomic.Int64
	runs    atomic.Int64
}

// WatchStats are point-in-time counters.
type WatchStats struct {
	Checks  int64 `json:"checks"`
	Changes int64 `json:"changes"`
	Errors  int64 `json:"errors"`
	Runs    int64 `json:"runs"`
}

// NewWatcher creates a Watcher. Call Run to start polling.
func NewWatcher(src Revisioner, opts WatchOptions) *Watcher {
	opts.defaults()
	return &Watcher{src: src, opts: opts, advanced: make(chan struct{})}
}

// Stats returns the current counters.
func (w *Watcher) Stats() WatchStats {
	return WatchStats{
		Checks:  w.checks.Load(),
		Changes: w.changes.Load(),
		Errors:  w.errors.Load(),
		Runs:    w.runs.Load(),
	}
}

// Revision returns the last revision the action was run for.
func (w *Watcher) Revision() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.rev
}

// Run blocks until ctx is done. The revision seen at start is the
// baseline; the action runs for later ones only. When the action fails
// the revision is not advanced, so the next poll retries it.
func (w *Watcher) Run(ctx context.Context, action func() error) {
	log := w.opts.Logger

	if rev, err := w.src.Revision(ctx); err != nil {
		log.Warn("prefs: initial revision check failed", "error", err)
	} else {
		w.advance(rev)
	}

	ticker := time.NewTicker(w.opts.Interval)
	defer ticker.Stop()

	var debounce *time.Timer
	var debounceC <-chan time.Time
	pending := int64(-1)

	for {
		select {
		case <-ctx.Done():
			if debounce != nil {
				debounce.Stop()
			}
			return

		case <-ticker.C:
			w.checks.Add(1)
			cur, err := w.src.Revision(ctx)
			if err != nil {
				w.errors.Add(1)
				log.Warn("prefs: revision check failed", "error", err)
				continue
			}
			if cur == w.Revision() || cur == pending {
				continue
			}
			w.changes.Add(1)
			pending = cur
			if w.opts.Debounce <= 0 {
				w.fire(action, pending)
				pending = -1
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.NewTimer(w.opts.Debounce)
			debounceC = debounce.C

		case <-debounceC:
			debounceC = nil
			if pending >= 0 {
				w.fire(action, pending)
				pending = -1
			}
		}
	}
}

// WaitForRevision blocks until the action has succeeded for a revision
// >= target or ctx is done.
func (w *Watcher) WaitForRevision(ctx context.Context, target int64) error {
	for {
		w.mu.Lock()
		rev, ch := w.rev, w.advanced
		w.mu.Unlock()
		if rev >= target {
			return nil
		}
		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (w *Watcher) fire(action func() error, rev int64) {
	if err := action(); err != nil {
		w.errors.Add(1)
		w.opts.Logger.Error("prefs: change action failed", "error", err, "revision", rev)
		return
	}
	w.runs.Add(1)
	w.advance(rev)
	w.opts.Logger.Debug("prefs: change applied", "revision", rev)
}

func (w *Watcher) advance(rev int64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.rev = rev
	close(w.advanced)
	w.advanced = make(chan struct{})
}

package prefs

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hazyhaar/treewatch/dbopen"
)

func testSQLite(t *testing.T) *SQLite {
	t.Helper()
	s, err := NewSQLite(dbopen.OpenMemory(t))
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestSQLite_Revision(t *testing.T) {
	ctx := context.Background()
	s := testSQLite(t)

	if rev, err := s.Revision(ctx); err != nil || rev != 0 {
		t.Fatalf("empty: got %d err=%v, want 0", rev, err)
	}
	s.Set(ctx, KeyPinned, `["App"]`)
	s.Set(ctx, KeyPanelWidth, "320")
	s.Set(ctx, KeyPinned, `["App","List"]`)
	if rev, err := s.Revision(ctx); err != nil || rev != 3 {
		t.Fatalf("after 3 writes: got %d err=%v, want 3", rev, err)
	}
}

func startWatcher(t *testing.T, s *SQLite, opts WatchOptions, action func() error) *Watcher {
	t.Helper()
	w := NewWatcher(s, opts)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		w.Run(ctx, action)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return w
}

func TestWatcher_RunsOnChange(t *testing.T) {
	ctx := context.Background()
	s := testSQLite(t)
	s.Set(ctx, KeyPanelWidth, "320")

	var runs atomic.Int32
	w := startWatcher(t, s, WatchOptions{Interval: 10 * time.Millisecond}, func() error {
		runs.Add(1)
		return nil
	})

	waitCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := w.WaitForRevision(waitCtx, 1); err != nil {
		t.Fatal(err)
	}
	if got := runs.Load(); got != 0 {
		t.Fatalf("baseline revision ran the action %d times", got)
	}

	s.Set(ctx, KeyPinned, `["App"]`)
	if err := w.WaitForRevision(waitCtx, 2); err != nil {
		t.Fatal(err)
	}
	if got := runs.Load(); got != 1 {
		t.Fatalf("runs: got %d, want 1", got)
	}
	if st := w.Stats(); st.Checks == 0 || st.Changes != 1 {
		t.Fatalf("stats: got %+v", st)
	}
}

func TestWatcher_Debounce(t *testing.T) {
	ctx := context.Background()
	s := testSQLite(t)
	s.Set(ctx, KeyPinned, `[]`)

	var runs atomic.Int32
	w := startWatcher(t, s, WatchOptions{Interval: 5 * time.Millisecond, Debounce: 150 * time.Millisecond}, func() error {
		runs.Add(1)
		return nil
	})
	waitCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := w.WaitForRevision(waitCtx, 1); err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 4; i++ {
		s.Set(ctx, KeyPanelWidth, "3"+string(rune('0'+i)))
		time.Sleep(10 * time.Millisecond)
	}

	if err := w.WaitForRevision(waitCtx, 5); err != nil {
		t.Fatal(err)
	}
	if got := runs.Load(); got != 1 {
		t.Fatalf("runs: got %d, want 1 debounced run", got)
	}
}

func TestWatcher_FailedActionRetries(t *testing.T) {
	ctx := context.Background()
	s := testSQLite(t)
	s.Set(ctx, KeyPanelWidth, "320")

	var calls atomic.Int32
	w := startWatcher(t, s, WatchOptions{Interval: 10 * time.Millisecond}, func() error {
		if calls.Add(1) == 1 {
			return errors.New("boom")
		}
		return nil
	})

	waitCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := w.WaitForRevision(waitCtx, 1); err != nil {
		t.Fatal(err)
	}
	s.Set(ctx, KeyPinned, `[]`)
	if err := w.WaitForRevision(waitCtx, 2); err != nil {
		t.Fatal(err)
	}
	if got := calls.Load(); got < 2 {
		t.Fatalf("calls: got %d, want a failure then a success", got)
	}
	if st := w.Stats(); st.Errors == 0 {
		t.Fatalf("stats: got %+v, want an error counted", st)
	}
}

func TestWatcher_WaitTimeout(t *testing.T) {
	s := testSQLite(t)
	w := startWatcher(t, s, WatchOptions{Interval: 10 * time.Millisecond}, func() error { return nil })

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := w.WaitForRevision(ctx, 99); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("got %v, want deadline exceeded", err)
	}
}

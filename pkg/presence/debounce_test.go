package presence

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"feedsync/pkg/engine"
)

// writeLog records every presence write the debouncer issues.
type writeLog struct {
	mu     sync.Mutex
	writes []bool
	err    error
}

func (w *writeLog) Put(ctx context.Context, path string, fields engine.Doc) (engine.Doc, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return nil, w.err
	}
	typing, _ := fields["typing"].(bool)
	w.writes = append(w.writes, typing)
	return fields, nil
}

func (w *writeLog) snapshot() []bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]bool(nil), w.writes...)
}

func (w *writeLog) Get(ctx context.Context, path string) (engine.Doc, error) {
	return nil, engine.ErrNotFound
}
func (w *writeLog) Merge(ctx context.Context, path string, fields engine.Doc) (engine.Doc, error) {
	return fields, nil
}
func (w *writeLog) Increment(ctx context.Context, path string, field string, delta int64) (int64, error) {
	return 0, nil
}
func (w *writeLog) Delete(ctx context.Context, path string) error { return nil }
func (w *writeLog) FetchOnce(ctx context.Context, q engine.Query) ([]engine.Doc, error) {
	return nil, nil
}
func (w *writeLog) Subscribe(q engine.Query) (*engine.Subscription, error) {
	return nil, fmt.Errorf("not supported")
}

func waitWrites(t *testing.T, w *writeLog, want []bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		got := w.snapshot()
		if len(got) == len(want) {
			for i := range want {
				if got[i] != want[i] {
					t.Fatalf("expected writes %v, got %v", want, got)
				}
			}
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("expected writes %v, got %v", want, w.snapshot())
}

func TestStartWritesImmediately(t *testing.T) {
	w := &writeLog{}
	d := New(w, 50*time.Millisecond)
	defer d.Close()

	d.SetTyping("c1", "alice", true)
	waitWrites(t, w, []bool{true})
}

func TestDebounceCoalescing(t *testing.T) {
	w := &writeLog{}
	d := New(w, 30*time.Millisecond)
	defer d.Close()

	d.SetTyping("c1", "alice", true)
	d.SetTyping("c1", "alice", false)

	// Exactly one true write, and one false write after the window.
	waitWrites(t, w, []bool{true, false})

	time.Sleep(60 * time.Millisecond)
	if got := w.snapshot(); len(got) != 2 {
		t.Fatalf("extra writes after settling: %v", got)
	}
}

func TestRepeatTrueIsNoop(t *testing.T) {
	w := &writeLog{}
	d := New(w, time.Hour)
	defer d.Close()

	d.SetTyping("c1", "alice", true)
	d.SetTyping("c1", "alice", true)
	d.SetTyping("c1", "alice", true)

	if got := w.snapshot(); len(got) != 1 {
		t.Fatalf("expected a single true write, got %v", got)
	}
}

func TestRepeatTrueDoesNotCancelPendingStop(t *testing.T) {
	w := &writeLog{}
	d := New(w, 30*time.Millisecond)
	defer d.Close()

	d.SetTyping("c1", "alice", true)
	d.SetTyping("c1", "alice", false)
	// The stop timer is already running; this does not cancel it.
	d.SetTyping("c1", "alice", true)

	waitWrites(t, w, []bool{true, false})
}

func TestFalseFromIdleNeverWrites(t *testing.T) {
	w := &writeLog{}
	d := New(w, 30*time.Millisecond)
	defer d.Close()

	d.SetTyping("c1", "alice", false)
	time.Sleep(60 * time.Millisecond)
	if got := w.snapshot(); len(got) != 0 {
		t.Fatalf("idle stop should be silent, got %v", got)
	}
}

func TestTeardownFlushesFinalStop(t *testing.T) {
	w := &writeLog{}
	d := New(w, time.Hour)
	defer d.Close()

	d.SetTyping("c1", "alice", true)
	d.Teardown("c1", "alice")
	waitWrites(t, w, []bool{true, false})

	// Teardown from idle stays silent.
	d.Teardown("c1", "alice")
	if got := w.snapshot(); len(got) != 2 {
		t.Fatalf("second teardown should not write, got %v", got)
	}
}

func TestTeardownCancelsPendingTimer(t *testing.T) {
	w := &writeLog{}
	d := New(w, 30*time.Millisecond)
	defer d.Close()

	d.SetTyping("c1", "alice", true)
	d.SetTyping("c1", "alice", false)
	d.Teardown("c1", "alice")

	waitWrites(t, w, []bool{true, false})
	time.Sleep(60 * time.Millisecond)
	if got := w.snapshot(); len(got) != 2 {
		t.Fatalf("timer fired after teardown: %v", got)
	}
}

func TestWriteFailuresAreSwallowed(t *testing.T) {
	w := &writeLog{err: fmt.Errorf("engine down")}
	d := New(w, 30*time.Millisecond)
	defer d.Close()

	// Must not panic or surface anything.
	d.SetTyping("c1", "alice", true)
	d.Teardown("c1", "alice")
}

func TestPairsAreIndependent(t *testing.T) {
	w := &writeLog{}
	d := New(w, time.Hour)
	defer d.Close()

	d.SetTyping("c1", "alice", true)
	d.SetTyping("c1", "bob", true)
	if got := w.snapshot(); len(got) != 2 {
		t.Fatalf("each pair gets its own start write, got %v", got)
	}
}

package feed

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"feedsync/pkg/engine"
)

// fakeEngine drives the feed lifecycle deterministically: the test pushes
// window batches and queues backfill pages by hand.
type fakeEngine struct {
	mu       sync.Mutex
	subs     []*fakeSub
	pages    [][]engine.Doc
	fetched  []engine.Query
	fetchErr error
	// block, when set, stalls FetchOnce until closed.
	block chan struct{}
}

type fakeSub struct {
	c    chan engine.Batch
	once sync.Once
}

func (s *fakeSub) close() { s.once.Do(func() { close(s.c) }) }

func (f *fakeEngine) Subscribe(q engine.Query) (*engine.Subscription, error) {
	s := &fakeSub{c: make(chan engine.Batch, 8)}
	f.mu.Lock()
	f.subs = append(f.subs, s)
	f.mu.Unlock()
	return engine.NewSubscription(s.c, s.close), nil
}

func (f *fakeEngine) FetchOnce(ctx context.Context, q engine.Query) ([]engine.Doc, error) {
	f.mu.Lock()
	f.fetched = append(f.fetched, q)
	block := f.block
	f.mu.Unlock()
	if block != nil {
		<-block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	if len(f.pages) == 0 {
		return nil, nil
	}
	page := f.pages[0]
	f.pages = f.pages[1:]
	return page, nil
}

func (f *fakeEngine) deliver(docs ...engine.Doc) {
	f.mu.Lock()
	s := f.subs[len(f.subs)-1]
	f.mu.Unlock()
	s.c <- engine.Batch{Docs: docs}
}

func (f *fakeEngine) deliverErr(err error) {
	f.mu.Lock()
	s := f.subs[len(f.subs)-1]
	f.mu.Unlock()
	s.c <- engine.Batch{Err: err}
}

func (f *fakeEngine) subCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}

func (f *fakeEngine) fetchCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.fetched)
}

func (f *fakeEngine) Get(ctx context.Context, path string) (engine.Doc, error) {
	return nil, engine.ErrNotFound
}
func (f *fakeEngine) Put(ctx context.Context, path string, fields engine.Doc) (engine.Doc, error) {
	return fields, nil
}
func (f *fakeEngine) Merge(ctx context.Context, path string, fields engine.Doc) (engine.Doc, error) {
	return fields, nil
}
func (f *fakeEngine) Increment(ctx context.Context, path string, field string, delta int64) (int64, error) {
	return delta, nil
}
func (f *fakeEngine) Delete(ctx context.Context, path string) error { return nil }

func doc(id string, ts int64) engine.Doc {
	return engine.Doc{"id": id, "created_ts": ts, engine.KeyField: fmt.Sprintf("conv:c1:item:%020d-%06d", ts, 1)}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition never became true")
}

func TestAttachIdempotentForSameIdentity(t *testing.T) {
	fe := &fakeEngine{}
	f := New(fe, 10)
	defer f.Detach()

	if err := f.Attach("c1"); err != nil {
		t.Fatalf("attach: %v", err)
	}
	if err := f.Attach("c1"); err != nil {
		t.Fatalf("re-attach: %v", err)
	}
	if fe.subCount() != 1 {
		t.Fatalf("expected a single subscription, got %d", fe.subCount())
	}
}

func TestAttachNewIdentityTearsDownPriorState(t *testing.T) {
	fe := &fakeEngine{}
	f := New(fe, 10)
	defer f.Detach()

	_ = f.Attach("c1")
	fe.deliver(doc("m2", 20), doc("m1", 10))
	waitFor(t, func() bool { return len(f.Snapshot().Items) == 2 })

	_ = f.Attach("c2")
	if fe.subCount() != 2 {
		t.Fatalf("expected fresh subscription, got %d", fe.subCount())
	}
	st := f.Snapshot()
	if len(st.Items) != 0 || !st.Loading {
		t.Fatalf("old store should be discarded, got %+v", st)
	}
}

func TestDetachIsIdempotent(t *testing.T) {
	fe := &fakeEngine{}
	f := New(fe, 10)
	f.Detach()
	_ = f.Attach("c1")
	f.Detach()
	f.Detach()
}

func TestFirstDeliveryEstablishesCursor(t *testing.T) {
	fe := &fakeEngine{}
	f := New(fe, 2)
	defer f.Detach()
	_ = f.Attach("c1")

	fe.deliver(doc("m3", 30), doc("m2", 20))
	waitFor(t, func() bool { st := f.Snapshot(); return !st.Loading && len(st.Items) == 2 })

	st := f.Snapshot()
	if !st.HasMore {
		t.Fatal("a full window should report more available")
	}

	fe.pages = [][]engine.Doc{{doc("m1", 10)}}
	n, err := f.LoadMore(context.Background())
	if err != nil {
		t.Fatalf("loadMore: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 item, got %d", n)
	}

	fe.mu.Lock()
	q := fe.fetched[0]
	fe.mu.Unlock()
	if q.StartAfter != doc("m2", 20).Key() {
		t.Fatalf("cursor should point at the oldest window item, got %q", q.StartAfter)
	}

	st = f.Snapshot()
	if len(st.Items) != 3 || st.Items[0].ID != "m1" {
		t.Fatalf("page should prepend, got %v", st.Items)
	}
	if st.HasMore {
		t.Fatal("short page should clear hasMore")
	}
}

func TestLoadMoreWithoutCursorIsNoop(t *testing.T) {
	fe := &fakeEngine{}
	f := New(fe, 10)
	defer f.Detach()
	_ = f.Attach("c1")

	n, err := f.LoadMore(context.Background())
	if n != 0 || err != nil {
		t.Fatalf("expected silent no-op, got n=%d err=%v", n, err)
	}
	if fe.fetchCount() != 0 {
		t.Fatal("no fetch should be issued before the first delivery")
	}
}

func TestConcurrentLoadMoreDropped(t *testing.T) {
	fe := &fakeEngine{block: make(chan struct{})}
	f := New(fe, 2)
	defer f.Detach()
	_ = f.Attach("c1")
	fe.deliver(doc("m3", 30), doc("m2", 20))
	waitFor(t, func() bool { return !f.Snapshot().Loading })

	done := make(chan int, 1)
	go func() {
		n, _ := f.LoadMore(context.Background())
		done <- n
	}()
	waitFor(t, func() bool { return fe.fetchCount() == 1 })

	// A second call while one is in flight is dropped, not queued.
	if n, err := f.LoadMore(context.Background()); n != 0 || err != nil {
		t.Fatalf("expected drop, got n=%d err=%v", n, err)
	}
	if fe.fetchCount() != 1 {
		t.Fatalf("second fetch should not be issued, got %d", fe.fetchCount())
	}

	close(fe.block)
	<-done
}

func TestBackfillExhaustion(t *testing.T) {
	fe := &fakeEngine{}
	f := New(fe, 10)
	defer f.Detach()
	_ = f.Attach("c1")

	window := make([]engine.Doc, 0, 10)
	for i := 20; i > 10; i-- {
		window = append(window, doc(fmt.Sprintf("m%d", i), int64(i*10)))
	}
	fe.deliver(window...)
	waitFor(t, func() bool { return len(f.Snapshot().Items) == 10 })

	page := make([]engine.Doc, 0, 10)
	for i := 10; i > 0; i-- {
		page = append(page, doc(fmt.Sprintf("m%d", i), int64(i*10)))
	}
	fe.pages = [][]engine.Doc{page, nil}

	n, err := f.LoadMore(context.Background())
	if err != nil || n != 10 {
		t.Fatalf("first loadMore: n=%d err=%v", n, err)
	}
	if !f.Snapshot().HasMore {
		t.Fatal("full page keeps hasMore true")
	}

	n, err = f.LoadMore(context.Background())
	if err != nil || n != 0 {
		t.Fatalf("second loadMore: n=%d err=%v", n, err)
	}
	if f.Snapshot().HasMore {
		t.Fatal("empty page should clear hasMore")
	}
	if got := len(f.Snapshot().Items); got != 20 {
		t.Fatalf("expected 20 items after exhaustion, got %d", got)
	}
}

func TestStaleBackfillResultDiscarded(t *testing.T) {
	fe := &fakeEngine{block: make(chan struct{})}
	f := New(fe, 2)
	defer f.Detach()
	_ = f.Attach("c1")
	fe.deliver(doc("m3", 30), doc("m2", 20))
	waitFor(t, func() bool { return !f.Snapshot().Loading })

	fe.mu.Lock()
	fe.pages = [][]engine.Doc{{doc("m1", 10)}}
	fe.mu.Unlock()

	done := make(chan int, 1)
	go func() {
		n, _ := f.LoadMore(context.Background())
		done <- n
	}()
	waitFor(t, func() bool { return fe.fetchCount() == 1 })

	// Identity is refreshed while the fetch is in flight.
	f.Refresh()
	close(fe.block)
	if n := <-done; n != 0 {
		t.Fatalf("stale backfill should be discarded, got n=%d", n)
	}

	fe.deliver(doc("m5", 50), doc("m4", 40))
	waitFor(t, func() bool { return len(f.Snapshot().Items) == 2 })
	for _, it := range f.Snapshot().Items {
		if it.ID == "m1" {
			t.Fatal("stale page leaked into the fresh store")
		}
	}
}

func TestSubscriptionErrorIsTerminalUntilRefresh(t *testing.T) {
	fe := &fakeEngine{}
	f := New(fe, 10)
	defer f.Detach()
	_ = f.Attach("c1")

	fe.deliverErr(fmt.Errorf("stream broken"))
	waitFor(t, func() bool { return f.Snapshot().Err != nil })

	f.Refresh()
	if fe.subCount() != 2 {
		t.Fatalf("refresh should reopen the subscription, got %d", fe.subCount())
	}
	if f.Snapshot().Err != nil {
		t.Fatal("refresh should clear the error state")
	}
}

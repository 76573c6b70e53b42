package feed

import (
	"sync"

	"feedsync/pkg/engine"
	"feedsync/pkg/logger"
	"feedsync/pkg/models"
)

// State is the UI-facing snapshot of one feed instance.
type State struct {
	Items   []models.FeedItem
	Loading bool
	Err     error
	HasMore bool
}

// Feed ties a live window subscription and its store to one conversation at
// a time. Attach is idempotent for an unchanged id; attaching a different id
// or calling Refresh tears down the prior subscription, store and cursor
// before opening fresh ones. At most one subscription is open per Feed.
type Feed struct {
	eng    engine.Engine
	window int

	mu      sync.Mutex
	convID  string
	sub     *WindowSub
	store   *Store
	cursor  string
	hasMore bool
	busy    bool
	loading bool
	err     error
	// gen increments on every teardown; in-flight work from a prior
	// generation discards its result instead of touching the new state.
	gen uint64

	updates chan struct{}
}

func New(eng engine.Engine, window int) *Feed {
	if window <= 0 {
		window = 25
	}
	return &Feed{eng: eng, window: window, store: NewStore(), updates: make(chan struct{}, 1)}
}

// Attach binds the feed to a conversation. A second call with the same id
// while attached is a no-op.
func (f *Feed) Attach(convID string) error {
	f.mu.Lock()
	if f.convID == convID && f.sub != nil {
		f.mu.Unlock()
		return nil
	}
	f.teardownLocked()
	f.convID = convID
	f.loading = true
	gen := f.gen

	sub, err := OpenWindow(f.eng, convID, f.window)
	if err != nil {
		f.err = &models.TransportError{Op: "subscribe", Err: err}
		f.loading = false
		f.mu.Unlock()
		f.notify()
		return f.err
	}
	f.sub = sub
	f.mu.Unlock()

	attachesTotal.Inc()
	go f.consume(gen, sub)
	f.notify()
	return nil
}

// Detach closes the subscription and discards the store and cursor. Calling
// it twice, or with nothing attached, is a no-op.
func (f *Feed) Detach() {
	f.mu.Lock()
	f.teardownLocked()
	f.convID = ""
	f.mu.Unlock()
	f.notify()
}

// Refresh tears down and reattaches the current conversation, recovering
// from a terminal subscription error without waiting for the id to change.
func (f *Feed) Refresh() {
	f.mu.Lock()
	id := f.convID
	f.teardownLocked()
	f.mu.Unlock()
	if id == "" {
		f.notify()
		return
	}
	if err := f.Attach(id); err != nil {
		logger.Warn("feed_refresh_failed", "conversation", id, "error", err)
	}
}

// Snapshot returns the current UI state.
func (f *Feed) Snapshot() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return State{
		Items:   f.store.Items(),
		Loading: f.loading,
		Err:     f.err,
		HasMore: f.hasMore,
	}
}

// Updates signals after every state change; notifications are coalesced, so
// consumers re-read Snapshot rather than counting signals.
func (f *Feed) Updates() <-chan struct{} { return f.updates }

// AddPending exposes optimistic rendering of a locally-sent item; the
// canonical version replaces it on the next live delivery.
func (f *Feed) AddPending(it models.FeedItem) {
	f.mu.Lock()
	f.store.AddPending(it)
	f.mu.Unlock()
	f.notify()
}

// teardownLocked closes any open subscription and resets all per-identity
// state. Callers hold f.mu.
func (f *Feed) teardownLocked() {
	if f.sub != nil {
		f.sub.Close()
		f.sub = nil
	}
	f.gen++
	f.store = NewStore()
	f.cursor = ""
	f.hasMore = false
	f.busy = false
	f.loading = false
	f.err = nil
}

func (f *Feed) consume(gen uint64, sub *WindowSub) {
	for d := range sub.C {
		f.mu.Lock()
		if gen != f.gen {
			// Stale generation: keep draining so the sender can finish.
			f.mu.Unlock()
			continue
		}
		if d.Err != nil {
			f.err = &models.TransportError{Op: "subscribe", Err: d.Err}
			f.loading = false
			id := f.convID
			f.mu.Unlock()
			logger.Warn("feed_subscription_failed", "conversation", id, "error", d.Err)
			f.notify()
			continue
		}
		f.store.MergeLive(d.Window)
		if f.cursor == "" && len(d.Window) > 0 {
			// First delivery establishes the backfill cursor at the oldest
			// window item; later deliveries never move it.
			oldest := d.Window[len(d.Window)-1]
			f.cursor = oldest.Key
			f.hasMore = len(d.Window) == f.window
		}
		f.loading = false
		f.mu.Unlock()
		f.notify()
	}
}

func (f *Feed) notify() {
	select {
	case f.updates <- struct{}{}:
	default:
	}
}

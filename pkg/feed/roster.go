package feed

import (
	"sync"

	"feedsync/pkg/engine"
	"feedsync/pkg/logger"
	"feedsync/pkg/models"
)

// RosterState is the UI-facing snapshot of the conversation-list feed.
type RosterState struct {
	Summaries []models.ConversationSummary
	Loading   bool
	Err       error
}

// Roster is the feed-of-feeds counterpart of Feed: a live window over the
// viewer's conversation summaries, newest activity first. It follows the
// same attach/detach/refresh lifecycle but has no backfill; the
// conversations collection does not support cursors.
type Roster struct {
	eng    engine.Engine
	window int

	mu        sync.Mutex
	viewer    string
	sub       *engine.Subscription
	summaries []models.ConversationSummary
	loading   bool
	err       error
	gen       uint64

	updates chan struct{}
}

func NewRoster(eng engine.Engine, window int) *Roster {
	if window <= 0 {
		window = 25
	}
	return &Roster{eng: eng, window: window, updates: make(chan struct{}, 1)}
}

// Attach binds the roster to a viewer; a repeat call for the same viewer
// while attached is a no-op.
func (r *Roster) Attach(viewer string) error {
	r.mu.Lock()
	if r.viewer == viewer && r.sub != nil {
		r.mu.Unlock()
		return nil
	}
	r.teardownLocked()
	r.viewer = viewer
	r.loading = true
	gen := r.gen

	sub, err := r.eng.Subscribe(engine.Query{
		Collection: engine.ConversationsCollection,
		Member:     viewer,
		OrderBy:    "updated_ts",
		Limit:      r.window,
	})
	if err != nil {
		r.err = &models.TransportError{Op: "subscribe", Err: err}
		r.loading = false
		r.mu.Unlock()
		r.notify()
		return r.err
	}
	r.sub = sub
	r.mu.Unlock()

	attachesTotal.Inc()
	go r.consume(gen, sub)
	r.notify()
	return nil
}

func (r *Roster) Detach() {
	r.mu.Lock()
	r.teardownLocked()
	r.viewer = ""
	r.mu.Unlock()
	r.notify()
}

func (r *Roster) Refresh() {
	r.mu.Lock()
	viewer := r.viewer
	r.teardownLocked()
	r.mu.Unlock()
	if viewer == "" {
		r.notify()
		return
	}
	if err := r.Attach(viewer); err != nil {
		logger.Warn("roster_refresh_failed", "viewer", viewer, "error", err)
	}
}

func (r *Roster) Snapshot() RosterState {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.ConversationSummary, len(r.summaries))
	copy(out, r.summaries)
	return RosterState{Summaries: out, Loading: r.loading, Err: r.err}
}

func (r *Roster) Updates() <-chan struct{} { return r.updates }

func (r *Roster) teardownLocked() {
	if r.sub != nil {
		r.sub.Close()
		r.sub = nil
	}
	r.gen++
	r.summaries = nil
	r.loading = false
	r.err = nil
}

func (r *Roster) consume(gen uint64, sub *engine.Subscription) {
	for b := range sub.C {
		r.mu.Lock()
		if gen != r.gen {
			r.mu.Unlock()
			continue
		}
		if b.Err != nil {
			r.err = &models.TransportError{Op: "subscribe", Err: b.Err}
			r.loading = false
			viewer := r.viewer
			r.mu.Unlock()
			logger.Warn("roster_subscription_failed", "viewer", viewer, "error", b.Err)
			r.notify()
			continue
		}
		summaries := make([]models.ConversationSummary, 0, len(b.Docs))
		for _, d := range b.Docs {
			var cs models.ConversationSummary
			if err := engine.Decode(d, &cs); err != nil {
				continue
			}
			summaries = append(summaries, cs)
		}
		r.summaries = summaries
		r.loading = false
		r.mu.Unlock()
		r.notify()
	}
}

func (r *Roster) notify() {
	select {
	case r.updates <- struct{}{}:
	default:
	}
}

package feed

import (
	"sync"

	"feedsync/pkg/engine"
	"feedsync/pkg/models"
)

// Delivery is one full-window snapshot from the live subscription, in
// descending recency order as the engine delivers it. Err terminates the
// stream; the core does not retry on its own.
type Delivery struct {
	Window []models.FeedItem
	Err    error
}

// WindowSub is a live subscription bounded to the most recent items of one
// feed. Every server-side change to the window redelivers the full window.
type WindowSub struct {
	C <-chan Delivery

	sub  *engine.Subscription
	once sync.Once
}

// OpenWindow subscribes to the limit most recent items of the conversation,
// newest first.
func OpenWindow(eng engine.Engine, convID string, limit int) (*WindowSub, error) {
	sub, err := eng.Subscribe(engine.Query{
		Collection: engine.ItemsCollection(convID),
		OrderBy:    "created_ts",
		Limit:      limit,
	})
	if err != nil {
		return nil, err
	}
	c := make(chan Delivery)
	w := &WindowSub{C: c, sub: sub}
	go func() {
		defer close(c)
		for b := range sub.C {
			if b.Err != nil {
				c <- Delivery{Err: b.Err}
				return
			}
			c <- Delivery{Window: decodeItems(b.Docs)}
		}
	}()
	return w, nil
}

// Close is idempotent and safe from any state.
func (w *WindowSub) Close() {
	w.once.Do(func() { w.sub.Close() })
}

func decodeItems(docs []engine.Doc) []models.FeedItem {
	out := make([]models.FeedItem, 0, len(docs))
	for _, d := range docs {
		var it models.FeedItem
		if err := engine.Decode(d, &it); err != nil {
			continue
		}
		it.Key = d.Key()
		out = append(out, it)
	}
	return out
}

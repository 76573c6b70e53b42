package feed

import (
	"context"

	"feedsync/pkg/engine"
	"feedsync/pkg/models"
)

// LoadMore fetches one page of items strictly older than the cursor and
// prepends it to the store. It is a no-op returning (0, nil) when no cursor
// exists yet (no live delivery has arrived) or a backfill is already in
// flight; concurrent callers are dropped, not queued. Returns the number of
// items fetched.
//
// HasMore is set from len(page) == pageSize. That heuristic can require one
// extra empty-yielding call to discover exhaustion when the remaining count
// is an exact multiple of the page size.
func (f *Feed) LoadMore(ctx context.Context) (int, error) {
	f.mu.Lock()
	if f.cursor == "" || f.busy || f.sub == nil {
		f.mu.Unlock()
		return 0, nil
	}
	f.busy = true
	gen := f.gen
	convID := f.convID
	cursor := f.cursor
	limit := f.window
	f.mu.Unlock()

	docs, err := f.eng.FetchOnce(ctx, engine.Query{
		Collection: engine.ItemsCollection(convID),
		OrderBy:    "created_ts",
		Limit:      limit,
		StartAfter: cursor,
	})

	f.mu.Lock()
	if gen != f.gen {
		// Identity changed mid-flight; the result belongs to a torn-down
		// store and is discarded.
		f.mu.Unlock()
		return 0, nil
	}
	f.busy = false
	if err != nil {
		f.mu.Unlock()
		return 0, &models.TransportError{Op: "backfill", Err: err}
	}
	page := decodeItems(docs)
	f.store.MergePrepend(page)
	if len(page) > 0 {
		f.cursor = page[len(page)-1].Key
	}
	f.hasMore = len(page) == limit
	f.mu.Unlock()

	backfillsTotal.Inc()
	f.notify()
	return len(page), nil
}

// Package feed implements the client-side synchronization core: an ordered
// deduplicated item store fed by a live window subscription, backward
// pagination over older items, and the lifecycle glue that ties both to a
// single identity at a time.
package feed

import (
	"sort"

	"feedsync/pkg/models"
)

// Store holds a single ascending-by-CreatedTS sequence of feed items with no
// duplicate logical items. It is a pure data structure; Feed serializes
// access to it.
type Store struct {
	items []models.FeedItem
}

func NewStore() *Store { return &Store{} }

// MergeLive replaces the tail segment covered by the live window. The window
// arrives in descending recency order and is authoritative for its time
// range: every stored item at or after the window's oldest timestamp is
// dropped in favor of the window, while the older backfilled prefix is kept.
// An empty window means the feed holds no items at all.
func (s *Store) MergeLive(window []models.FeedItem) {
	win := ascending(window)
	if len(win) == 0 {
		s.items = nil
		return
	}
	oldest := win[0].CreatedTS
	var prefix []models.FeedItem
	for _, it := range s.items {
		if it.CreatedTS < oldest {
			prefix = append(prefix, it)
		}
	}
	s.items = mergeDedup(prefix, win)
	mergesTotal.WithLabelValues("live").Inc()
}

// MergePrepend folds a page of older items (descending order, as fetched)
// in front of the current sequence. Where the page overlaps items already
// present, the existing item wins canonical ties: the live window is always
// more current than a backfilled page.
func (s *Store) MergePrepend(page []models.FeedItem) {
	pg := ascending(page)
	if len(pg) == 0 {
		return
	}
	s.items = mergeDedup(pg, s.items)
	mergesTotal.WithLabelValues("backfill-prepend").Inc()
}

// AddPending inserts an optimistic locally-sent item so callers can render
// it before the live window redelivers the canonical version. A logical
// duplicate already in the store makes this a no-op.
func (s *Store) AddPending(it models.FeedItem) {
	for _, ex := range s.items {
		if models.SameLogicalItem(ex, it) {
			return
		}
	}
	s.items = append(s.items, it)
	sort.SliceStable(s.items, func(i, j int) bool {
		return s.items[i].CreatedTS < s.items[j].CreatedTS
	})
}

// Items returns a copy of the sequence, oldest first.
func (s *Store) Items() []models.FeedItem {
	out := make([]models.FeedItem, len(s.items))
	copy(out, s.items)
	return out
}

func (s *Store) Len() int { return len(s.items) }

// Oldest returns the earliest item, if any.
func (s *Store) Oldest() (models.FeedItem, bool) {
	if len(s.items) == 0 {
		return models.FeedItem{}, false
	}
	return s.items[0], true
}

// ascending reverses a descending-recency batch into ascending order.
func ascending(batch []models.FeedItem) []models.FeedItem {
	out := make([]models.FeedItem, len(batch))
	for i, it := range batch {
		out[len(batch)-1-i] = it
	}
	return out
}

// mergeDedup folds overlay into base, resolving logical duplicates: an item
// with a server-assigned id beats a token-only one, and on a canonical tie
// the overlay (merged later) wins. The result is re-sorted ascending.
func mergeDedup(base, overlay []models.FeedItem) []models.FeedItem {
	out := append([]models.FeedItem(nil), base...)
	for _, in := range overlay {
		matched := false
		for i, ex := range out {
			if models.SameLogicalItem(ex, in) {
				out[i] = pickWinner(ex, in)
				matched = true
				break
			}
		}
		if !matched {
			out = append(out, in)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedTS < out[j].CreatedTS
	})
	return out
}

func pickWinner(existing, incoming models.FeedItem) models.FeedItem {
	if incoming.Canonical() {
		return incoming
	}
	if existing.Canonical() {
		return existing
	}
	return incoming
}

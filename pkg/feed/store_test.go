package feed

import (
	"testing"

	"feedsync/pkg/models"
)

func item(id string, ts int64) models.FeedItem {
	return models.FeedItem{ID: id, CreatedTS: ts}
}

func ids(items []models.FeedItem) []string {
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.ID
	}
	return out
}

func assertOrdered(t *testing.T, items []models.FeedItem) {
	t.Helper()
	for i := 1; i < len(items); i++ {
		if items[i].CreatedTS < items[i-1].CreatedTS {
			t.Fatalf("not ascending at %d: %v", i, items)
		}
	}
}

func TestMergeLiveReplacesTailKeepsPrefix(t *testing.T) {
	s := NewStore()
	s.MergePrepend([]models.FeedItem{item("2", 20), item("1", 10)})

	// Live window arrives newest first.
	s.MergeLive([]models.FeedItem{item("4", 40), item("3", 30)})

	got := ids(s.Items())
	want := []string{"1", "2", "3", "4"}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}
	assertOrdered(t, s.Items())
}

func TestMergeLiveIsAuthoritativeForItsRange(t *testing.T) {
	s := NewStore()
	s.MergeLive([]models.FeedItem{item("3", 30), item("2", 20), item("1", 10)})

	// A later window no longer contains item 2: it was deleted server-side.
	s.MergeLive([]models.FeedItem{item("3", 30), item("1", 10)})

	got := ids(s.Items())
	if len(got) != 2 || got[0] != "1" || got[1] != "3" {
		t.Fatalf("expected [1 3], got %v", got)
	}
}

func TestMergeLiveEmptyWindowClearsStore(t *testing.T) {
	s := NewStore()
	s.MergeLive([]models.FeedItem{item("1", 10)})
	s.MergeLive(nil)
	if s.Len() != 0 {
		t.Fatalf("expected empty store, got %v", s.Items())
	}
}

func TestTokenDuplicateCanonicalWins(t *testing.T) {
	s := NewStore()
	s.AddPending(models.FeedItem{ClientToken: "c1", CreatedTS: 50, Body: "optimistic"})

	s.MergeLive([]models.FeedItem{{ID: "5", ClientToken: "c1", CreatedTS: 50, Body: "canonical"}})

	items := s.Items()
	if len(items) != 1 {
		t.Fatalf("duplicate survived: %v", items)
	}
	if items[0].ID != "5" || items[0].Body != "canonical" {
		t.Fatalf("canonical version should win, got %+v", items[0])
	}
}

func TestMergeNeverGrowsLogicalCountOnDuplicates(t *testing.T) {
	s := NewStore()
	s.MergeLive([]models.FeedItem{item("2", 20), item("1", 10)})
	before := s.Len()

	s.MergePrepend([]models.FeedItem{item("2", 20), item("1", 10)})
	if s.Len() != before {
		t.Fatalf("duplicate merge grew store from %d to %d", before, s.Len())
	}
}

func TestMergePrependExistingWinsCanonicalTie(t *testing.T) {
	s := NewStore()
	s.MergeLive([]models.FeedItem{{ID: "1", CreatedTS: 10, Body: "from live"}})

	// An overlapping backfill page carries a staler copy of the same item.
	s.MergePrepend([]models.FeedItem{{ID: "1", CreatedTS: 10, Body: "from backfill"}})

	items := s.Items()
	if len(items) != 1 || items[0].Body != "from live" {
		t.Fatalf("live copy should win the tie, got %+v", items)
	}
}

func TestMergeLiveLaterCanonicalWinsTie(t *testing.T) {
	s := NewStore()
	s.MergePrepend([]models.FeedItem{{ID: "1", CreatedTS: 10, Body: "old"}})
	s.MergeLive([]models.FeedItem{{ID: "1", CreatedTS: 10, Body: "edited"}})

	items := s.Items()
	if len(items) != 1 || items[0].Body != "edited" {
		t.Fatalf("live merge should replace the overlapping item, got %+v", items)
	}
}

func TestAddPendingKeepsOrderAndDedups(t *testing.T) {
	s := NewStore()
	s.MergeLive([]models.FeedItem{item("2", 20)})
	s.AddPending(models.FeedItem{ClientToken: "t1", CreatedTS: 15})
	s.AddPending(models.FeedItem{ClientToken: "t1", CreatedTS: 15})

	items := s.Items()
	if len(items) != 2 {
		t.Fatalf("expected 2 items, got %v", items)
	}
	assertOrdered(t, items)
	if items[0].ClientToken != "t1" {
		t.Fatalf("pending item should sort before item 2: %v", items)
	}
}

func TestOldest(t *testing.T) {
	s := NewStore()
	if _, ok := s.Oldest(); ok {
		t.Fatal("empty store has no oldest item")
	}
	s.MergeLive([]models.FeedItem{item("2", 20), item("1", 10)})
	if oldest, ok := s.Oldest(); !ok || oldest.ID != "1" {
		t.Fatalf("expected oldest=1, got %v %v", oldest, ok)
	}
}

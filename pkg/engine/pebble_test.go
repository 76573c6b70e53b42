package engine

import (
	"context"
	"strings"
	"testing"
	"time"
)

func openTestEngine(t *testing.T) *Pebble {
	t.Helper()
	p, err := NewPebble(t.TempDir(), Options{})
	if err != nil {
		t.Fatalf("open engine: %v", err)
	}
	t.Cleanup(func() { _ = p.Close() })
	return p
}

func putItem(t *testing.T, p *Pebble, conv, id string, ts int64) Doc {
	t.Helper()
	d, err := p.Put(context.Background(), ItemPath(conv, id), Doc{
		"id": id, "feed": conv, "sender": "alice", "body": "hello", "created_ts": ts,
	})
	if err != nil {
		t.Fatalf("put %s: %v", id, err)
	}
	return d
}

func TestPutAssignsOrderKeyAndTimestamp(t *testing.T) {
	p := openTestEngine(t)
	d, err := p.Put(context.Background(), ItemPath("c1", "m1"), Doc{"id": "m1", "sender": "alice", "body": "hi"})
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if toInt64(d["created_ts"]) <= 0 {
		t.Fatalf("expected server-assigned created_ts, got %v", d["created_ts"])
	}
	if !strings.HasPrefix(d.Key(), "conv:c1:item:") {
		t.Fatalf("unexpected order key %q", d.Key())
	}

	got, err := p.Get(context.Background(), ItemPath("c1", "m1"))
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got["body"] != "hi" {
		t.Fatalf("round trip lost body: %v", got)
	}
}

func TestPutReplaceKeepsOrderKey(t *testing.T) {
	p := openTestEngine(t)
	first := putItem(t, p, "c1", "m1", 100)
	second, err := p.Put(context.Background(), ItemPath("c1", "m1"), Doc{"id": "m1", "body": "edited", "created_ts": 100})
	if err != nil {
		t.Fatalf("replace: %v", err)
	}
	if first.Key() != second.Key() {
		t.Fatalf("replace moved the item: %q -> %q", first.Key(), second.Key())
	}
}

func TestFetchOnceDescendingWithCursor(t *testing.T) {
	p := openTestEngine(t)
	putItem(t, p, "c1", "m1", 10)
	putItem(t, p, "c1", "m2", 20)
	putItem(t, p, "c1", "m3", 30)

	docs, err := p.FetchOnce(context.Background(), Query{Collection: ItemsCollection("c1"), OrderBy: "created_ts", Limit: 2})
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(docs) != 2 || docs[0]["id"] != "m3" || docs[1]["id"] != "m2" {
		t.Fatalf("expected [m3 m2], got %v", docs)
	}

	// The cursor is exclusive: paging after m2 returns only m1.
	older, err := p.FetchOnce(context.Background(), Query{
		Collection: ItemsCollection("c1"), OrderBy: "created_ts", Limit: 2, StartAfter: docs[1].Key(),
	})
	if err != nil {
		t.Fatalf("fetch older: %v", err)
	}
	if len(older) != 1 || older[0]["id"] != "m1" {
		t.Fatalf("expected [m1], got %v", older)
	}
}

func TestFetchOnceConversationsMemberFilter(t *testing.T) {
	p := openTestEngine(t)
	ctx := context.Background()
	_, _ = p.Put(ctx, ConversationPath("c1"), Doc{"id": "c1", "member_ids": []any{"alice", "bob"}, "updated_ts": int64(10)})
	_, _ = p.Put(ctx, ConversationPath("c2"), Doc{"id": "c2", "member_ids": []any{"bob"}, "updated_ts": int64(20)})
	_, _ = p.Put(ctx, ConversationPath("c3"), Doc{"id": "c3", "member_ids": []any{"alice"}, "updated_ts": int64(30)})

	docs, err := p.FetchOnce(ctx, Query{Collection: ConversationsCollection, Member: "alice", OrderBy: "updated_ts", Limit: 10})
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(docs) != 2 || docs[0]["id"] != "c3" || docs[1]["id"] != "c1" {
		t.Fatalf("expected [c3 c1], got %v", docs)
	}
}

func TestMergeDottedFieldsAndIncrement(t *testing.T) {
	p := openTestEngine(t)
	ctx := context.Background()
	if _, err := p.Merge(ctx, ConversationPath("c1"), Doc{"unread_counts.bob": int64(3)}); err != nil {
		t.Fatalf("merge: %v", err)
	}
	n, err := p.Increment(ctx, ConversationPath("c1"), "unread_counts.bob", 2)
	if err != nil {
		t.Fatalf("increment: %v", err)
	}
	if n != 5 {
		t.Fatalf("expected 5, got %d", n)
	}
	if v, err := p.Increment(ctx, ConversationPath("c1"), "unread_counts.carol", 1); err != nil || v != 1 {
		t.Fatalf("missing field should count from zero, got %d err %v", v, err)
	}
}

func TestMergeMissingItemFails(t *testing.T) {
	p := openTestEngine(t)
	if _, err := p.Merge(context.Background(), ItemPath("c1", "nope"), Doc{"body": "x"}); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSubscribeRedeliversFullWindowOnWrite(t *testing.T) {
	p := openTestEngine(t)
	putItem(t, p, "c1", "m1", 10)

	sub, err := p.Subscribe(Query{Collection: ItemsCollection("c1"), OrderBy: "created_ts", Limit: 10})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Close()

	first := recvBatch(t, sub)
	if len(first.Docs) != 1 || first.Docs[0]["id"] != "m1" {
		t.Fatalf("unexpected initial window: %v", first.Docs)
	}

	putItem(t, p, "c1", "m2", 20)
	deadline := time.After(2 * time.Second)
	for {
		var b Batch
		select {
		case b = <-sub.C:
		case <-deadline:
			t.Fatal("no redelivery after write")
		}
		if b.Err != nil {
			t.Fatalf("batch error: %v", b.Err)
		}
		if len(b.Docs) == 2 {
			if b.Docs[0]["id"] != "m2" {
				t.Fatalf("expected newest first, got %v", b.Docs)
			}
			return
		}
	}
}

func TestSubscriptionCloseIsIdempotent(t *testing.T) {
	p := openTestEngine(t)
	sub, err := p.Subscribe(Query{Collection: ItemsCollection("c1"), OrderBy: "created_ts", Limit: 5})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	sub.Close()
	sub.Close()
}

func TestPurgeItemsOlderThan(t *testing.T) {
	p := openTestEngine(t)
	old := time.Now().UTC().Add(-48 * time.Hour).UnixNano()
	putItem(t, p, "c1", "m-old", old)
	putItem(t, p, "c1", "m-new", time.Now().UTC().UnixNano())

	n, err := p.PurgeItemsOlderThan(context.Background(), time.Now().UTC().Add(-24*time.Hour), 10, 0, false)
	if err != nil {
		t.Fatalf("purge: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 purged, got %d", n)
	}
	if _, err := p.Get(context.Background(), ItemPath("c1", "m-old")); err != ErrNotFound {
		t.Fatalf("old item should be gone, got %v", err)
	}
	if _, err := p.Get(context.Background(), ItemPath("c1", "m-new")); err != nil {
		t.Fatalf("new item should remain: %v", err)
	}
}

func TestPurgeStalePresence(t *testing.T) {
	p := openTestEngine(t)
	ctx := context.Background()
	stale := time.Now().UTC().Add(-2 * time.Hour).UnixNano()
	_, _ = p.Put(ctx, PresencePath("c1", "alice"), Doc{"member_id": "alice", "typing": false, "updated_ts": stale})
	_, _ = p.Put(ctx, PresencePath("c1", "bob"), Doc{"member_id": "bob", "typing": true, "updated_ts": time.Now().UTC().UnixNano()})

	n, err := p.PurgeStalePresence(ctx, time.Hour, false)
	if err != nil {
		t.Fatalf("purge: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 purged, got %d", n)
	}
	if _, err := p.Get(ctx, PresencePath("c1", "bob")); err != nil {
		t.Fatalf("fresh presence should remain: %v", err)
	}
}

func recvBatch(t *testing.T, sub *Subscription) Batch {
	t.Helper()
	select {
	case b := <-sub.C:
		if b.Err != nil {
			t.Fatalf("batch error: %v", b.Err)
		}
		return b
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for batch")
		return Batch{}
	}
}

package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/pebble"

	"feedsync/pkg/logger"
)

// Pebble is the reference Engine implementation. It is a constructed
// instance (no package-global handle): callers inject it into the feed
// core, the mutation coordinator and the gateway at composition time.
//
// Key layout:
//
//	conv:<id>:meta                                  conversation summary
//	conv:<id>:item:<%020d created_ts>-<%06d seq>    feed item, time-ordered
//	conv:<id>:itemid:<itemID>                       order-key index
//	conv:<id>:presence:<member>                     typing signal
type Pebble struct {
	db   *pebble.DB
	path string

	// mu serializes read-modify-write operations (Merge, Increment) and
	// new item key assignment.
	mu  sync.Mutex
	seq uint64

	subMu   sync.Mutex
	subs    map[uint64]*pebbleSub
	nextSub uint64
	closed  bool
}

// Options tunes the underlying Pebble store.
type Options struct {
	CacheSize int64
}

// NewPebble opens (or creates) the store at path.
func NewPebble(path string, opts Options) (*Pebble, error) {
	po := &pebble.Options{}
	if opts.CacheSize > 0 {
		po.Cache = pebble.NewCache(opts.CacheSize)
		defer po.Cache.Unref()
	}
	logger.Info("opening_engine", "path", path)
	db, err := pebble.Open(path, po)
	if err != nil {
		logger.Error("engine_open_failed", "path", path, "error", err)
		return nil, err
	}
	return &Pebble{db: db, path: path, subs: map[uint64]*pebbleSub{}}, nil
}

// Close closes the store and terminates every open subscription.
func (p *Pebble) Close() error {
	p.subMu.Lock()
	if p.closed {
		p.subMu.Unlock()
		return nil
	}
	p.closed = true
	for _, s := range p.subs {
		s.terminate()
	}
	p.subs = map[uint64]*pebbleSub{}
	p.subMu.Unlock()
	if err := p.db.Close(); err != nil {
		return err
	}
	logger.Info("engine_closed", "path", p.path)
	return nil
}

// Path returns the on-disk location of the store.
func (p *Pebble) Path() string { return p.path }

// ---- path resolution ----

type docRef struct {
	kind   string // "meta" | "item" | "presence"
	convID string
	id     string // item id or member id
}

func (p *Pebble) resolve(path string) (docRef, error) {
	parts := splitPath(path)
	switch {
	case len(parts) == 2 && parts[0] == "conversations":
		return docRef{kind: "meta", convID: parts[1]}, nil
	case len(parts) == 4 && parts[0] == "conversations" && parts[2] == "items":
		return docRef{kind: "item", convID: parts[1], id: parts[3]}, nil
	case len(parts) == 4 && parts[0] == "conversations" && parts[2] == "presence":
		return docRef{kind: "presence", convID: parts[1], id: parts[3]}, nil
	}
	return docRef{}, fmt.Errorf("unrecognized document path: %s", path)
}

func metaKey(convID string) []byte { return []byte("conv:" + convID + ":meta") }

func itemPrefix(convID string) []byte { return []byte("conv:" + convID + ":item:") }

func itemIndexKey(convID, itemID string) []byte {
	return []byte("conv:" + convID + ":itemid:" + itemID)
}

func presenceKey(convID, member string) []byte {
	return []byte("conv:" + convID + ":presence:" + member)
}

// keyUpperBound returns the smallest key greater than every key with the
// given prefix.
func keyUpperBound(prefix []byte) []byte {
	end := append([]byte(nil), prefix...)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end[:i+1]
		}
	}
	return nil
}

// ---- reads ----

func (p *Pebble) getRaw(key []byte) (Doc, error) {
	v, closer, err := p.db.Get(key)
	if err != nil {
		if err == pebble.ErrNotFound {
			return nil, ErrNotFound
		}
		return nil, err
	}
	defer closer.Close()
	var d Doc
	if err := json.Unmarshal(v, &d); err != nil {
		return nil, fmt.Errorf("corrupt document at %s: %w", key, err)
	}
	return d, nil
}

func (p *Pebble) Get(ctx context.Context, path string) (Doc, error) {
	ref, err := p.resolve(path)
	if err != nil {
		return nil, err
	}
	readsTotal.Inc()
	switch ref.kind {
	case "meta":
		return p.getRaw(metaKey(ref.convID))
	case "presence":
		return p.getRaw(presenceKey(ref.convID, ref.id))
	default:
		orderKey, err := p.itemOrderKey(ref)
		if err != nil {
			return nil, err
		}
		d, err := p.getRaw(orderKey)
		if err != nil {
			return nil, err
		}
		d[KeyField] = string(orderKey)
		return d, nil
	}
}

// itemOrderKey resolves an item id to its time-ordered storage key.
func (p *Pebble) itemOrderKey(ref docRef) ([]byte, error) {
	v, closer, err := p.db.Get(itemIndexKey(ref.convID, ref.id))
	if err != nil {
		if err == pebble.ErrNotFound {
			return nil, ErrNotFound
		}
		return nil, err
	}
	defer closer.Close()
	return append([]byte(nil), v...), nil
}

// ---- writes ----

func (p *Pebble) setRaw(key []byte, d Doc) error {
	b, err := json.Marshal(cloneWithoutKey(d))
	if err != nil {
		return err
	}
	return p.db.Set(key, b, pebble.Sync)
}

func (p *Pebble) Put(ctx context.Context, path string, fields Doc) (Doc, error) {
	ref, err := p.resolve(path)
	if err != nil {
		return nil, err
	}
	writesTotal.WithLabelValues(ref.kind).Inc()
	switch ref.kind {
	case "meta":
		if err := p.setRaw(metaKey(ref.convID), fields); err != nil {
			return nil, err
		}
		p.notify(ConversationsCollection)
		return fields, nil
	case "presence":
		if err := p.setRaw(presenceKey(ref.convID, ref.id), fields); err != nil {
			return nil, err
		}
		p.notify("conversations/" + ref.convID + "/presence")
		return fields, nil
	}

	// Item: keep the existing order key on replace; assign server timestamp
	// and a fresh order key on create.
	p.mu.Lock()
	orderKey, err := p.itemOrderKey(ref)
	if err != nil && err != ErrNotFound {
		p.mu.Unlock()
		return nil, err
	}
	out := cloneWithoutKey(fields)
	out["id"] = ref.id
	if orderKey == nil {
		ts := toInt64(out["created_ts"])
		if ts <= 0 {
			ts = time.Now().UTC().UnixNano()
			out["created_ts"] = ts
		}
		s := atomic.AddUint64(&p.seq, 1)
		orderKey = append(itemPrefix(ref.convID), []byte(fmt.Sprintf("%020d-%06d", ts, s))...)
		if err := p.db.Set(itemIndexKey(ref.convID, ref.id), orderKey, pebble.Sync); err != nil {
			p.mu.Unlock()
			return nil, err
		}
	}
	if err := p.setRaw(orderKey, out); err != nil {
		p.mu.Unlock()
		return nil, err
	}
	p.mu.Unlock()
	out[KeyField] = string(orderKey)
	p.notify(ItemsCollection(ref.convID))
	return out, nil
}

func (p *Pebble) Merge(ctx context.Context, path string, fields Doc) (Doc, error) {
	ref, err := p.resolve(path)
	if err != nil {
		return nil, err
	}
	writesTotal.WithLabelValues(ref.kind).Inc()

	p.mu.Lock()
	var key []byte
	switch ref.kind {
	case "meta":
		key = metaKey(ref.convID)
	case "presence":
		key = presenceKey(ref.convID, ref.id)
	default:
		key, err = p.itemOrderKey(ref)
		if err != nil {
			p.mu.Unlock()
			return nil, err
		}
	}
	cur, err := p.getRaw(key)
	if err == ErrNotFound && ref.kind != "item" {
		cur = Doc{}
	} else if err != nil {
		p.mu.Unlock()
		return nil, err
	}
	for f, v := range cloneWithoutKey(fields) {
		setField(cur, f, v)
	}
	if err := p.setRaw(key, cur); err != nil {
		p.mu.Unlock()
		return nil, err
	}
	p.mu.Unlock()

	switch ref.kind {
	case "meta":
		p.notify(ConversationsCollection)
	case "presence":
		p.notify("conversations/" + ref.convID + "/presence")
	default:
		cur[KeyField] = string(key)
		p.notify(ItemsCollection(ref.convID))
	}
	return cur, nil
}

func (p *Pebble) Increment(ctx context.Context, path string, field string, delta int64) (int64, error) {
	ref, err := p.resolve(path)
	if err != nil {
		return 0, err
	}
	if ref.kind != "meta" {
		return 0, fmt.Errorf("increment only supported on conversation documents")
	}
	writesTotal.WithLabelValues("meta").Inc()

	p.mu.Lock()
	cur, err := p.getRaw(metaKey(ref.convID))
	if err == ErrNotFound {
		cur = Doc{}
	} else if err != nil {
		p.mu.Unlock()
		return 0, err
	}
	nv := toInt64(getField(cur, field)) + delta
	setField(cur, field, nv)
	if err := p.setRaw(metaKey(ref.convID), cur); err != nil {
		p.mu.Unlock()
		return 0, err
	}
	p.mu.Unlock()
	p.notify(ConversationsCollection)
	return nv, nil
}

func (p *Pebble) Delete(ctx context.Context, path string) error {
	ref, err := p.resolve(path)
	if err != nil {
		return err
	}
	switch ref.kind {
	case "meta":
		if err := p.db.Delete(metaKey(ref.convID), pebble.Sync); err != nil {
			return err
		}
		p.notify(ConversationsCollection)
	case "presence":
		if err := p.db.Delete(presenceKey(ref.convID, ref.id), pebble.Sync); err != nil {
			return err
		}
		p.notify("conversations/" + ref.convID + "/presence")
	default:
		orderKey, err := p.itemOrderKey(ref)
		if err == ErrNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		if err := p.db.Delete(orderKey, pebble.Sync); err != nil {
			return err
		}
		if err := p.db.Delete(itemIndexKey(ref.convID, ref.id), pebble.Sync); err != nil {
			return err
		}
		p.notify(ItemsCollection(ref.convID))
	}
	return nil
}

// ---- queries ----

func (p *Pebble) FetchOnce(ctx context.Context, q Query) ([]Doc, error) {
	readsTotal.Inc()
	if q.Collection == ConversationsCollection {
		return p.fetchConversations(q)
	}
	parts := splitPath(q.Collection)
	if len(parts) != 3 || parts[0] != "conversations" || parts[2] != "items" {
		return nil, fmt.Errorf("unrecognized collection: %s", q.Collection)
	}
	return p.fetchItems(parts[1], q)
}

// fetchItems walks the time-ordered item keys backward, newest first.
// StartAfter is an order key and acts as an exclusive upper bound, so the
// cursor item itself is never re-fetched.
func (p *Pebble) fetchItems(convID string, q Query) ([]Doc, error) {
	prefix := itemPrefix(convID)
	upper := keyUpperBound(prefix)
	if q.StartAfter != "" {
		if !strings.HasPrefix(q.StartAfter, string(prefix)) {
			return nil, fmt.Errorf("cursor outside collection %s", q.Collection)
		}
		upper = []byte(q.StartAfter)
	}
	iter, err := p.db.NewIter(&pebble.IterOptions{LowerBound: prefix, UpperBound: upper})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	limit := q.Limit
	if limit <= 0 {
		limit = 25
	}
	out := make([]Doc, 0, limit)
	for ok := iter.Last(); ok && len(out) < limit; ok = iter.Prev() {
		var d Doc
		if err := json.Unmarshal(iter.Value(), &d); err != nil {
			return nil, fmt.Errorf("corrupt item at %s: %w", iter.Key(), err)
		}
		d[KeyField] = string(iter.Key())
		out = append(out, d)
	}
	return out, iter.Error()
}

// fetchConversations scans summary docs, applies the member filter and
// sorts by the order field descending. Cursors are not supported on the
// conversations collection; the gateway pages it by limit only.
func (p *Pebble) fetchConversations(q Query) ([]Doc, error) {
	if q.StartAfter != "" {
		return nil, fmt.Errorf("cursor unsupported on %s", ConversationsCollection)
	}
	prefix := []byte("conv:")
	iter, err := p.db.NewIter(&pebble.IterOptions{LowerBound: prefix, UpperBound: keyUpperBound(prefix)})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var out []Doc
	for ok := iter.First(); ok; ok = iter.Next() {
		if !bytes.HasSuffix(iter.Key(), []byte(":meta")) {
			continue
		}
		var d Doc
		if err := json.Unmarshal(iter.Value(), &d); err != nil {
			return nil, fmt.Errorf("corrupt summary at %s: %w", iter.Key(), err)
		}
		if q.Member != "" && !docHasMember(d, q.Member) {
			continue
		}
		out = append(out, d)
	}
	if err := iter.Error(); err != nil {
		return nil, err
	}

	orderBy := q.OrderBy
	if orderBy == "" {
		orderBy = "updated_ts"
	}
	sort.SliceStable(out, func(i, j int) bool {
		return toInt64(out[i][orderBy]) > toInt64(out[j][orderBy])
	})
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

// ---- subscriptions ----

type pebbleSub struct {
	id   uint64
	q    Query
	kick chan struct{}
	out  chan Batch
	done chan struct{}
	once sync.Once
}

func (s *pebbleSub) terminate() {
	s.once.Do(func() { close(s.done) })
}

// Subscribe registers a live window over q. The subscription goroutine
// re-runs the query and redelivers the full window after every write that
// touches the collection; deliveries are coalesced while the consumer is
// slow (the newest state always wins).
func (p *Pebble) Subscribe(q Query) (*Subscription, error) {
	p.subMu.Lock()
	if p.closed {
		p.subMu.Unlock()
		return nil, fmt.Errorf("engine closed")
	}
	p.nextSub++
	s := &pebbleSub{
		id:   p.nextSub,
		q:    q,
		kick: make(chan struct{}, 1),
		out:  make(chan Batch, 1),
		done: make(chan struct{}),
	}
	p.subs[s.id] = s
	p.subMu.Unlock()

	subscriptionsOpen.Inc()
	go p.runSub(s)
	return NewSubscription(s.out, s.terminate), nil
}

func (p *Pebble) dropSub(id uint64) {
	p.subMu.Lock()
	if _, ok := p.subs[id]; ok {
		delete(p.subs, id)
		subscriptionsOpen.Dec()
	}
	p.subMu.Unlock()
}

func (p *Pebble) runSub(s *pebbleSub) {
	defer close(s.out)
	defer p.dropSub(s.id)
	for {
		docs, err := p.FetchOnce(context.Background(), s.q)
		if err != nil {
			select {
			case s.out <- Batch{Err: err}:
			case <-s.done:
			}
			return
		}
		deliveriesTotal.Inc()
		select {
		case s.out <- Batch{Docs: docs}:
		case <-s.done:
			return
		}
		select {
		case <-s.kick:
		case <-s.done:
			return
		}
	}
}

// notify kicks every subscription watching the given collection.
func (p *Pebble) notify(collection string) {
	p.subMu.Lock()
	for _, s := range p.subs {
		if s.q.Collection != collection {
			continue
		}
		select {
		case s.kick <- struct{}{}:
		default:
		}
	}
	p.subMu.Unlock()
}

// ---- retention hooks ----

// PurgeItemsOlderThan deletes feed items created before cutoff, in batches
// with an optional sleep between them. Returns the number of deleted items
// (counted, not deleted, in dry-run mode).
func (p *Pebble) PurgeItemsOlderThan(ctx context.Context, cutoff time.Time, batchSize int, sleep time.Duration, dryRun bool) (int, error) {
	if batchSize <= 0 {
		batchSize = 256
	}
	cutoffNs := cutoff.UTC().UnixNano()
	deleted := 0
	touched := map[string]struct{}{}

	prefix := []byte("conv:")
	iter, err := p.db.NewIter(&pebble.IterOptions{LowerBound: prefix, UpperBound: keyUpperBound(prefix)})
	if err != nil {
		return 0, err
	}
	type victim struct {
		key    []byte
		convID string
		itemID string
	}
	var victims []victim
	for ok := iter.First(); ok; ok = iter.Next() {
		k := string(iter.Key())
		convID, rest, found := strings.Cut(strings.TrimPrefix(k, "conv:"), ":item:")
		if !found {
			continue
		}
		ts, _, _ := strings.Cut(rest, "-")
		n, err := strconv.ParseInt(ts, 10, 64)
		if err != nil || n >= cutoffNs {
			continue
		}
		var d Doc
		itemID := ""
		if json.Unmarshal(iter.Value(), &d) == nil {
			itemID, _ = d["id"].(string)
		}
		victims = append(victims, victim{key: append([]byte(nil), iter.Key()...), convID: convID, itemID: itemID})
	}
	if err := iter.Close(); err != nil {
		return 0, err
	}

	for i, v := range victims {
		if ctx.Err() != nil {
			return deleted, ctx.Err()
		}
		if !dryRun {
			if err := p.db.Delete(v.key, pebble.Sync); err != nil {
				return deleted, err
			}
			if v.itemID != "" {
				_ = p.db.Delete(itemIndexKey(v.convID, v.itemID), pebble.Sync)
			}
			touched[v.convID] = struct{}{}
		}
		deleted++
		if sleep > 0 && (i+1)%batchSize == 0 {
			select {
			case <-time.After(sleep):
			case <-ctx.Done():
				return deleted, ctx.Err()
			}
		}
	}
	for convID := range touched {
		p.notify(ItemsCollection(convID))
	}
	purgedTotal.WithLabelValues("item").Add(float64(deleted))
	return deleted, nil
}

// PurgeStalePresence deletes typing-signal documents not updated within ttl.
func (p *Pebble) PurgeStalePresence(ctx context.Context, ttl time.Duration, dryRun bool) (int, error) {
	cutoffNs := time.Now().UTC().Add(-ttl).UnixNano()
	prefix := []byte("conv:")
	iter, err := p.db.NewIter(&pebble.IterOptions{LowerBound: prefix, UpperBound: keyUpperBound(prefix)})
	if err != nil {
		return 0, err
	}
	var victims [][]byte
	for ok := iter.First(); ok; ok = iter.Next() {
		if !strings.Contains(string(iter.Key()), ":presence:") {
			continue
		}
		var d Doc
		if json.Unmarshal(iter.Value(), &d) != nil {
			continue
		}
		if toInt64(d["updated_ts"]) < cutoffNs {
			victims = append(victims, append([]byte(nil), iter.Key()...))
		}
	}
	if err := iter.Close(); err != nil {
		return 0, err
	}
	deleted := 0
	for _, k := range victims {
		if ctx.Err() != nil {
			return deleted, ctx.Err()
		}
		if !dryRun {
			if err := p.db.Delete(k, pebble.Sync); err != nil {
				return deleted, err
			}
		}
		deleted++
	}
	purgedTotal.WithLabelValues("presence").Add(float64(deleted))
	return deleted, nil
}

// ---- field helpers ----

func docHasMember(d Doc, member string) bool {
	arr, _ := d["member_ids"].([]any)
	for _, v := range arr {
		if s, ok := v.(string); ok && s == member {
			return true
		}
	}
	return false
}

// setField writes v at a dotted path, creating intermediate maps.
func setField(d Doc, path string, v any) {
	segs := strings.Split(path, ".")
	cur := map[string]any(d)
	for _, s := range segs[:len(segs)-1] {
		next, ok := cur[s].(map[string]any)
		if !ok {
			next = map[string]any{}
			cur[s] = next
		}
		cur = next
	}
	cur[segs[len(segs)-1]] = v
}

// getField reads a dotted path; missing segments yield nil.
func getField(d Doc, path string) any {
	segs := strings.Split(path, ".")
	var cur any = map[string]any(d)
	for _, s := range segs {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		cur = m[s]
	}
	return cur
}

// toInt64 coerces the numeric representations JSON decoding produces.
func toInt64(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case float64:
		return int64(n)
	case json.Number:
		i, _ := n.Int64()
		return i
	case string:
		i, _ := strconv.ParseInt(n, 10, 64)
		return i
	}
	return 0
}

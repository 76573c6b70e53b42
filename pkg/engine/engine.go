// Package engine defines the push+pull document store the synchronization
// core runs against: one-shot descending queries with an exclusive
// start-after cursor, bounded live subscriptions that redeliver the full
// window on every change, and simple document writes. The reference
// implementation is Pebble-backed; tests may substitute fakes.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// Doc is a loose document representation. The reserved key "_key" carries
// the storage order key of item documents; backfill cursors point at it.
type Doc map[string]any

// KeyField is the reserved Doc key holding the storage order key.
const KeyField = "_key"

// Key returns the storage order key attached to the doc, if any.
func (d Doc) Key() string {
	s, _ := d[KeyField].(string)
	return s
}

// Query describes a one-shot fetch or a live window over a collection.
// Results are ordered descending by OrderBy; Limit is enforced by the
// engine; StartAfter (an order key) is exclusive and selects strictly
// older documents.
type Query struct {
	Collection string
	// Member filters the conversations collection to summaries whose
	// member_ids contains this id. Ignored for item collections.
	Member     string
	OrderBy    string
	Limit      int
	StartAfter string
}

// Batch is one delivery on a subscription stream. A non-nil Err terminates
// the stream; no further batches follow it.
type Batch struct {
	Docs []Doc
	Err  error
}

// Subscription is a live bounded window over a query. Every committed write
// touching the queried collection causes a full redelivery of the current
// window (not a diff). Close is idempotent.
type Subscription struct {
	C     <-chan Batch
	close func()
}

// NewSubscription wraps a delivery channel and close hook; implementations
// of Engine use it, consumers only read C and call Close.
func NewSubscription(c <-chan Batch, closeFn func()) *Subscription {
	return &Subscription{C: c, close: closeFn}
}

// Close tears the subscription down. Safe to call any number of times and
// from any state, including before the first delivery.
func (s *Subscription) Close() {
	if s.close != nil {
		s.close()
	}
}

// Engine is the storage collaborator boundary. All blocking operations take
// a context; Subscribe is non-blocking and delivers asynchronously.
type Engine interface {
	Get(ctx context.Context, path string) (Doc, error)
	// Put creates or replaces the document at path. Item documents receive
	// a server-assigned created_ts and order key when they are new; the
	// stored doc is returned with "_key" attached.
	Put(ctx context.Context, path string, fields Doc) (Doc, error)
	// Merge reads, merges and rewrites the document at path. Dotted field
	// names ("unread_counts.alice") address nested maps. Meta and presence
	// documents are created when missing; item documents must exist.
	Merge(ctx context.Context, path string, fields Doc) (Doc, error)
	// Increment atomically adds delta to a (possibly dotted) numeric field
	// and returns the new value. A missing field counts as zero.
	Increment(ctx context.Context, path string, field string, delta int64) (int64, error)
	Delete(ctx context.Context, path string) error
	FetchOnce(ctx context.Context, q Query) ([]Doc, error)
	Subscribe(q Query) (*Subscription, error)
}

// ErrNotFound is returned by Get/Merge for absent documents.
var ErrNotFound = fmt.Errorf("document not found")

// Path helpers. Documents are addressed Firestore-style:
//
//	conversations/<id>
//	conversations/<id>/items/<itemID>
//	conversations/<id>/presence/<member>

func ConversationPath(convID string) string {
	return "conversations/" + convID
}

func ItemPath(convID, itemID string) string {
	return "conversations/" + convID + "/items/" + itemID
}

func PresencePath(convID, member string) string {
	return "conversations/" + convID + "/presence/" + member
}

// ItemsCollection names the item feed of a conversation for queries.
func ItemsCollection(convID string) string {
	return "conversations/" + convID + "/items"
}

// ConversationsCollection names the feed-of-feeds collection.
const ConversationsCollection = "conversations"

// splitPath breaks a document path into its segments.
func splitPath(p string) []string {
	parts := strings.Split(strings.Trim(p, "/"), "/")
	out := parts[:0]
	for _, s := range parts {
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

// Encode converts a typed value into a Doc via its JSON shape.
func Encode(v any) (Doc, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var d Doc
	if err := json.Unmarshal(b, &d); err != nil {
		return nil, err
	}
	return d, nil
}

// Decode converts a Doc into a typed value via its JSON shape. The reserved
// "_key" field is dropped before decoding.
func Decode(d Doc, v any) error {
	key := d.Key()
	if key != "" {
		d = cloneWithoutKey(d)
	}
	b, err := json.Marshal(d)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, v)
}

func cloneWithoutKey(d Doc) Doc {
	out := make(Doc, len(d))
	for k, v := range d {
		if k == KeyField {
			continue
		}
		out[k] = v
	}
	return out
}

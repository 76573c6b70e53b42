package models

// FeedItem is a single message inside a conversation feed.
type FeedItem struct {
	ID     string `json:"id"`
	Feed   string `json:"feed"`
	Sender string `json:"sender"`
	// Body is sanitized text; may be empty when MediaRef is set
	Body     string `json:"body,omitempty"`
	MediaRef string `json:"media_ref,omitempty"`
	// CreatedTS is the server-assigned timestamp (ns); ordering key within a feed
	CreatedTS int64 `json:"created_ts"`
	// ReadBy lists member ids that have marked the item read
	ReadBy []string `json:"read_by,omitempty"`
	// ClientToken is the client-generated idempotency token attached by the
	// local send path; used for dedup until the server id round-trips
	ClientToken string `json:"client_token,omitempty"`

	// Key is the engine order key of the stored document; backfill cursors
	// point at it. Not part of the wire shape.
	Key string `json:"-"`
}

// SameLogicalItem reports whether two items are the same logical message:
// matching server ids, or matching idempotency tokens.
func SameLogicalItem(a, b FeedItem) bool {
	if a.ID != "" && a.ID == b.ID {
		return true
	}
	if a.ClientToken != "" && a.ClientToken == b.ClientToken {
		return true
	}
	return false
}

// Canonical reports whether the item carries a server-assigned id.
func (m FeedItem) Canonical() bool { return m.ID != "" }

// HasReader reports whether member already appears in ReadBy.
func (m FeedItem) HasReader(member string) bool {
	for _, r := range m.ReadBy {
		if r == member {
			return true
		}
	}
	return false
}

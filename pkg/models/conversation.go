package models

// MembershipRecord tracks who added a member; only the recorded adder may
// remove that member again.
type MembershipRecord struct {
	MemberID string `json:"member_id"`
	AddedBy  string `json:"added_by"`
}

// Preview is the last-item summary shown in conversation lists.
type Preview struct {
	Text      string `json:"text"`
	Sender    string `json:"sender"`
	CreatedTS int64  `json:"created_ts"`
}

// ConversationSummary is the feed-of-feeds item: one document per
// conversation carrying membership and unread bookkeeping.
type ConversationSummary struct {
	ID                string             `json:"id"`
	MemberIDs         []string           `json:"member_ids"`
	MembershipRecords []MembershipRecord `json:"membership_records"`
	// UnreadCounts keys are always a subset of MemberIDs
	UnreadCounts map[string]int64 `json:"unread_counts,omitempty"`
	LastPreview  *Preview         `json:"last_preview,omitempty"`
	CreatedTS    int64            `json:"created_ts"`
	// UpdatedTS is bumped on every item write; the conversation list orders by it
	UpdatedTS int64 `json:"updated_ts"`
}

// HasMember reports whether member is present in MemberIDs.
func (c ConversationSummary) HasMember(member string) bool {
	for _, m := range c.MemberIDs {
		if m == member {
			return true
		}
	}
	return false
}

// RecordFor returns the membership record for member, if any.
func (c ConversationSummary) RecordFor(member string) (MembershipRecord, bool) {
	for _, r := range c.MembershipRecords {
		if r.MemberID == member {
			return r, true
		}
	}
	return MembershipRecord{}, false
}

// PresenceSignal is the ephemeral typing indicator document; latest value
// only, no history.
type PresenceSignal struct {
	Feed      string `json:"feed"`
	MemberID  string `json:"member_id"`
	Typing    bool   `json:"typing"`
	UpdatedTS int64  `json:"updated_ts"`
}

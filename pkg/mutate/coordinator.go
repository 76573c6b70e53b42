// Package mutate validates and executes locally-issued writes: conversation
// creation, sends, read marks and membership changes, plus the secondary
// bookkeeping (previews, unread counters) that keeps conversation summaries
// consistent with their item streams.
package mutate

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"feedsync/pkg/engine"
	"feedsync/pkg/logger"
	"feedsync/pkg/models"
	"feedsync/pkg/utils"
	"feedsync/pkg/validation"
)

// Coordinator executes mutations against an injected engine instance. It
// holds no global state; tests construct one over a fake or throwaway
// engine.
type Coordinator struct {
	eng        engine.Engine
	bodyMax    int
	previewMax int
}

func New(eng engine.Engine, bodyMax, previewMax int) *Coordinator {
	if bodyMax <= 0 {
		bodyMax = 2000
	}
	if previewMax <= 0 {
		previewMax = 120
	}
	return &Coordinator{eng: eng, bodyMax: bodyMax, previewMax: previewMax}
}

// SendInput is the raw caller input of one send. ClientToken is optional;
// when present it rides along for idempotent dedup on the read side.
type SendInput struct {
	Feed        string
	Sender      string
	Body        string
	MediaRef    string
	ClientToken string
}

// SendResult reports a send whose primary item write succeeded.
// BookkeepingErr is set when the secondary preview/unread writes failed
// afterwards; the item exists either way and must not be re-sent.
type SendResult struct {
	Item           models.FeedItem
	BookkeepingErr error
}

// CreateConversation writes a new conversation document with the creator
// and the given members, membership records seeded with the creator as
// adder, and zeroed unread counters.
func (c *Coordinator) CreateConversation(ctx context.Context, creator string, members []string) (models.ConversationSummary, error) {
	if err := validation.RequireID("creator", creator); err != nil {
		return models.ConversationSummary{}, err
	}
	now := time.Now().UTC().UnixNano()
	cs := models.ConversationSummary{
		ID:        utils.GenConversationID(),
		CreatedTS: now,
		UpdatedTS: now,
	}
	cs.MemberIDs = append(cs.MemberIDs, creator)
	cs.MembershipRecords = append(cs.MembershipRecords, models.MembershipRecord{MemberID: creator, AddedBy: creator})
	cs.UnreadCounts = map[string]int64{creator: 0}
	for _, m := range members {
		if err := validation.RequireID("members", m); err != nil {
			return models.ConversationSummary{}, err
		}
		if cs.HasMember(m) {
			continue
		}
		cs.MemberIDs = append(cs.MemberIDs, m)
		cs.MembershipRecords = append(cs.MembershipRecords, models.MembershipRecord{MemberID: m, AddedBy: creator})
		cs.UnreadCounts[m] = 0
	}

	doc, err := engine.Encode(cs)
	if err != nil {
		return models.ConversationSummary{}, err
	}
	if _, err := c.eng.Put(ctx, engine.ConversationPath(cs.ID), doc); err != nil {
		return models.ConversationSummary{}, err
	}
	logger.Info("conversation_created", "conversation", cs.ID, "members", len(cs.MemberIDs))
	return cs, nil
}

// SendItem validates and writes one feed item, then performs the summary
// bookkeeping (preview, unread increments for everyone but the sender).
// The two phases are not atomic: a bookkeeping failure after the item write
// succeeds is reported in SendResult.BookkeepingErr, never as the primary
// error, so callers can retry the right half instead of duplicating the
// item.
func (c *Coordinator) SendItem(ctx context.Context, in SendInput) (SendResult, error) {
	if err := validation.RequireID("feed", in.Feed); err != nil {
		return SendResult{}, err
	}
	if err := validation.RequireID("sender", in.Sender); err != nil {
		return SendResult{}, err
	}
	body := validation.SanitizeBody(in.Body, c.bodyMax)
	if body == "" && in.MediaRef == "" {
		return SendResult{}, models.Invalid("body", "empty after sanitization and no media attached")
	}

	cs, err := c.conversation(ctx, in.Feed)
	if err != nil {
		return SendResult{}, err
	}
	if !cs.HasMember(in.Sender) {
		return SendResult{}, models.ErrPermissionDenied
	}

	item := models.FeedItem{
		ID:          utils.GenItemID(),
		Feed:        in.Feed,
		Sender:      in.Sender,
		Body:        body,
		MediaRef:    in.MediaRef,
		ReadBy:      []string{in.Sender},
		ClientToken: in.ClientToken,
	}
	doc, err := engine.Encode(item)
	if err != nil {
		return SendResult{}, err
	}
	stored, err := c.eng.Put(ctx, engine.ItemPath(in.Feed, item.ID), doc)
	if err != nil {
		return SendResult{}, &models.TransportError{Op: "send", Err: err}
	}
	if err := engine.Decode(stored, &item); err != nil {
		return SendResult{}, err
	}
	item.Key = stored.Key()

	res := SendResult{Item: item}
	if err := c.bookkeep(ctx, cs, item); err != nil {
		logger.Warn("send_bookkeeping_failed", "conversation", in.Feed, "item", item.ID, "error", err)
		res.BookkeepingErr = err
	}
	return res, nil
}

func (c *Coordinator) bookkeep(ctx context.Context, cs models.ConversationSummary, item models.FeedItem) error {
	preview := item.Body
	if preview == "" {
		preview = "[media]"
	}
	fields := engine.Doc{
		"last_preview": map[string]any{
			"text":       validation.Truncate(preview, c.previewMax),
			"sender":     item.Sender,
			"created_ts": item.CreatedTS,
		},
		"updated_ts": item.CreatedTS,
	}
	if _, err := c.eng.Merge(ctx, engine.ConversationPath(cs.ID), fields); err != nil {
		return err
	}
	for _, m := range cs.MemberIDs {
		if m == item.Sender {
			continue
		}
		if _, err := c.eng.Increment(ctx, engine.ConversationPath(cs.ID), "unread_counts."+m, 1); err != nil {
			return err
		}
	}
	return nil
}

// MarkRead adds the member to the item's read set and zeroes that member's
// unread counter for the whole conversation. Repeat calls are no-ops with
// the same end state.
func (c *Coordinator) MarkRead(ctx context.Context, feedID, itemID, memberID string) error {
	if err := validation.RequireID("feed", feedID); err != nil {
		return err
	}
	if err := validation.RequireID("item", itemID); err != nil {
		return err
	}
	if err := validation.RequireID("member", memberID); err != nil {
		return err
	}
	doc, err := c.eng.Get(ctx, engine.ItemPath(feedID, itemID))
	if err != nil {
		return &models.TransportError{Op: "mark_read", Err: err}
	}
	var item models.FeedItem
	if err := engine.Decode(doc, &item); err != nil {
		return err
	}
	if !item.HasReader(memberID) {
		readBy := append(item.ReadBy, memberID)
		if _, err := c.eng.Merge(ctx, engine.ItemPath(feedID, itemID), engine.Doc{"read_by": toJSONValue(readBy)}); err != nil {
			return &models.TransportError{Op: "mark_read", Err: err}
		}
	}
	// Marking any one item read clears the member's entire unread counter.
	if _, err := c.eng.Merge(ctx, engine.ConversationPath(feedID), engine.Doc{"unread_counts." + memberID: int64(0)}); err != nil {
		return &models.TransportError{Op: "mark_read", Err: err}
	}
	return nil
}

// AddMember adds a member with requesting user recorded as its adder.
// Rejects an id already present.
func (c *Coordinator) AddMember(ctx context.Context, feedID, memberID, addedBy string) (models.ConversationSummary, error) {
	if err := validation.RequireID("feed", feedID); err != nil {
		return models.ConversationSummary{}, err
	}
	if err := validation.RequireID("member", memberID); err != nil {
		return models.ConversationSummary{}, err
	}
	if err := validation.RequireID("added_by", addedBy); err != nil {
		return models.ConversationSummary{}, err
	}
	cs, err := c.conversation(ctx, feedID)
	if err != nil {
		return models.ConversationSummary{}, err
	}
	if cs.HasMember(memberID) {
		return models.ConversationSummary{}, models.Invalid("member", "already a member")
	}
	cs.MemberIDs = append(cs.MemberIDs, memberID)
	cs.MembershipRecords = append(cs.MembershipRecords, models.MembershipRecord{MemberID: memberID, AddedBy: addedBy})
	if cs.UnreadCounts == nil {
		cs.UnreadCounts = map[string]int64{}
	}
	cs.UnreadCounts[memberID] = 0

	fields := engine.Doc{
		"member_ids":                toJSONValue(cs.MemberIDs),
		"membership_records":        toJSONValue(cs.MembershipRecords),
		"unread_counts." + memberID: int64(0),
	}
	if _, err := c.eng.Merge(ctx, engine.ConversationPath(feedID), fields); err != nil {
		return models.ConversationSummary{}, &models.TransportError{Op: "add_member", Err: err}
	}
	return cs, nil
}

// RemoveMember removes a member, allowed only for the member recorded as
// its adder and never for self-removal. Both refusals surface the same
// permission error so callers cannot tell which rule fired.
func (c *Coordinator) RemoveMember(ctx context.Context, feedID, memberID, requestedBy string) (models.ConversationSummary, error) {
	if err := validation.RequireID("feed", feedID); err != nil {
		return models.ConversationSummary{}, err
	}
	if err := validation.RequireID("member", memberID); err != nil {
		return models.ConversationSummary{}, err
	}
	if err := validation.RequireID("requested_by", requestedBy); err != nil {
		return models.ConversationSummary{}, err
	}
	cs, err := c.conversation(ctx, feedID)
	if err != nil {
		return models.ConversationSummary{}, err
	}
	rec, ok := cs.RecordFor(memberID)
	if !ok || rec.AddedBy != requestedBy || memberID == requestedBy {
		return models.ConversationSummary{}, models.ErrPermissionDenied
	}

	members := cs.MemberIDs[:0:0]
	for _, m := range cs.MemberIDs {
		if m != memberID {
			members = append(members, m)
		}
	}
	records := cs.MembershipRecords[:0:0]
	for _, r := range cs.MembershipRecords {
		if r.MemberID != memberID {
			records = append(records, r)
		}
	}
	counts := map[string]int64{}
	for m, n := range cs.UnreadCounts {
		if m != memberID {
			counts[m] = n
		}
	}
	cs.MemberIDs = members
	cs.MembershipRecords = records
	cs.UnreadCounts = counts

	fields := engine.Doc{
		"member_ids":         toJSONValue(members),
		"membership_records": toJSONValue(records),
		"unread_counts":      toJSONValue(counts),
	}
	if _, err := c.eng.Merge(ctx, engine.ConversationPath(feedID), fields); err != nil {
		return models.ConversationSummary{}, &models.TransportError{Op: "remove_member", Err: err}
	}
	return cs, nil
}

// Conversation fetches one summary by id.
func (c *Coordinator) Conversation(ctx context.Context, feedID string) (models.ConversationSummary, error) {
	if err := validation.RequireID("feed", feedID); err != nil {
		return models.ConversationSummary{}, err
	}
	return c.conversation(ctx, feedID)
}

func (c *Coordinator) conversation(ctx context.Context, feedID string) (models.ConversationSummary, error) {
	doc, err := c.eng.Get(ctx, engine.ConversationPath(feedID))
	if err == engine.ErrNotFound {
		return models.ConversationSummary{}, fmt.Errorf("conversation %s: %w", feedID, err)
	}
	if err != nil {
		return models.ConversationSummary{}, &models.TransportError{Op: "conversation", Err: err}
	}
	var cs models.ConversationSummary
	if err := engine.Decode(doc, &cs); err != nil {
		return models.ConversationSummary{}, err
	}
	return cs, nil
}

// toJSONValue converts a typed slice or map into the generic shape engine
// documents carry.
func toJSONValue(v any) any {
	b, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var out any
	if err := json.Unmarshal(b, &out); err != nil {
		return v
	}
	return out
}

package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"feedsync/pkg/engine"
	"feedsync/pkg/logger"
	"feedsync/pkg/models"
	"feedsync/pkg/mutate"
	"feedsync/pkg/utils"
)

func (s *Server) createConversation(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Creator string   `json:"creator"`
		Members []string `json:"members"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.JSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	cs, err := s.coord.CreateConversation(r.Context(), req.Creator, req.Members)
	if err != nil {
		writeErr(w, err)
		return
	}
	_ = utils.JSONWrite(w, http.StatusCreated, cs)
}

func (s *Server) listConversations(w http.ResponseWriter, r *http.Request) {
	viewer := r.URL.Query().Get("viewer")
	if viewer == "" {
		utils.JSONError(w, http.StatusBadRequest, "viewer missing")
		return
	}
	limit := queryInt(r, "limit", s.window)
	docs, err := s.eng.FetchOnce(r.Context(), engine.Query{
		Collection: engine.ConversationsCollection,
		Member:     viewer,
		OrderBy:    "updated_ts",
		Limit:      limit,
	})
	if err != nil {
		writeErr(w, err)
		return
	}
	out := make([]models.ConversationSummary, 0, len(docs))
	for _, d := range docs {
		var cs models.ConversationSummary
		if err := engine.Decode(d, &cs); err == nil {
			out = append(out, cs)
		}
	}
	logger.Info("conversations_list", "viewer", viewer, "count", len(out))
	_ = utils.JSONWrite(w, http.StatusOK, struct {
		Viewer        string                       `json:"viewer"`
		Conversations []models.ConversationSummary `json:"conversations"`
	}{Viewer: viewer, Conversations: out})
}

func (s *Server) getConversation(w http.ResponseWriter, r *http.Request) {
	cs, err := s.coord.Conversation(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeErr(w, err)
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, cs)
}

func (s *Server) postMessage(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Sender      string `json:"sender"`
		Body        string `json:"body"`
		MediaRef    string `json:"media_ref"`
		ClientToken string `json:"client_token"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.JSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	res, err := s.coord.SendItem(r.Context(), mutate.SendInput{
		Feed:        mux.Vars(r)["id"],
		Sender:      req.Sender,
		Body:        req.Body,
		MediaRef:    req.MediaRef,
		ClientToken: req.ClientToken,
	})
	if err != nil {
		writeErr(w, err)
		return
	}
	// The item exists even when bookkeeping failed; report both halves so
	// the caller retries the right one instead of re-sending the item.
	if res.BookkeepingErr != nil {
		_ = utils.JSONWrite(w, http.StatusMultiStatus, struct {
			Item           models.FeedItem `json:"item"`
			BookkeepingErr string          `json:"bookkeeping_error"`
		}{Item: res.Item, BookkeepingErr: res.BookkeepingErr.Error()})
		return
	}
	logger.Info("item_created", "conversation", res.Item.Feed, "id", res.Item.ID)
	_ = utils.JSONWrite(w, http.StatusCreated, struct {
		Item models.FeedItem `json:"item"`
	}{Item: res.Item})
}

func (s *Server) listMessages(w http.ResponseWriter, r *http.Request) {
	convID := mux.Vars(r)["id"]
	limit := queryInt(r, "limit", s.window)
	docs, err := s.eng.FetchOnce(r.Context(), engine.Query{
		Collection: engine.ItemsCollection(convID),
		OrderBy:    "created_ts",
		Limit:      limit,
		StartAfter: r.URL.Query().Get("before"),
	})
	if err != nil {
		writeErr(w, err)
		return
	}
	items := make([]models.FeedItem, 0, len(docs))
	next := ""
	for _, d := range docs {
		var it models.FeedItem
		if err := engine.Decode(d, &it); err == nil {
			items = append(items, it)
			next = d.Key()
		}
	}
	_ = utils.JSONWrite(w, http.StatusOK, struct {
		Conversation string            `json:"conversation"`
		Items        []models.FeedItem `json:"items"`
		NextCursor   string            `json:"next_cursor,omitempty"`
		HasMore      bool              `json:"has_more"`
	}{Conversation: convID, Items: items, NextCursor: next, HasMore: len(items) == limit})
}

func (s *Server) markRead(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Member string `json:"member"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.JSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	vars := mux.Vars(r)
	if err := s.coord.MarkRead(r.Context(), vars["id"], vars["itemID"], req.Member); err != nil {
		writeErr(w, err)
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) addMember(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Member  string `json:"member"`
		AddedBy string `json:"added_by"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.JSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	cs, err := s.coord.AddMember(r.Context(), mux.Vars(r)["id"], req.Member, req.AddedBy)
	if err != nil {
		writeErr(w, err)
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, cs)
}

func (s *Server) removeMember(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	requestedBy := r.URL.Query().Get("requested_by")
	cs, err := s.coord.RemoveMember(r.Context(), vars["id"], vars["memberID"], requestedBy)
	if err != nil {
		writeErr(w, err)
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, cs)
}

func (s *Server) putPresence(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Typing bool `json:"typing"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.JSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	vars := mux.Vars(r)
	s.deb.SetTyping(vars["id"], vars["memberID"], req.Typing)
	_ = utils.JSONWrite(w, http.StatusAccepted, map[string]string{"status": "ok"})
}

func queryInt(r *http.Request, name string, def int) int {
	if v := r.URL.Query().Get(name); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return def
}

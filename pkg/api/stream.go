package api

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/valyala/bytebufferpool"

	"feedsync/pkg/feed"
	"feedsync/pkg/logger"
	"feedsync/pkg/models"
	"feedsync/pkg/utils"
)

// streamState is the wire shape of one SSE snapshot.
type streamState struct {
	Items   []models.FeedItem `json:"items"`
	Loading bool              `json:"loading"`
	Error   string            `json:"error,omitempty"`
	HasMore bool              `json:"has_more"`
}

// streamConversation serves the live window of one conversation as SSE.
// Each event carries the full current snapshot, mirroring the full-window
// delivery contract of the subscription itself. One Feed per connection;
// detached when the client goes away.
func (s *Server) streamConversation(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		utils.JSONError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	convID := mux.Vars(r)["id"]

	f := feed.New(s.eng, s.window)
	defer f.Detach()
	if err := f.Attach(convID); err != nil {
		writeErr(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	logger.Info("stream_open", "conversation", convID, "remote", r.RemoteAddr)
	defer logger.Info("stream_closed", "conversation", convID, "remote", r.RemoteAddr)

	writeSnapshot := func() bool {
		st := f.Snapshot()
		out := streamState{Items: st.Items, Loading: st.Loading, HasMore: st.HasMore}
		if st.Err != nil {
			out.Error = st.Err.Error()
		}
		b, err := json.Marshal(out)
		if err != nil {
			return false
		}
		buf := bytebufferpool.Get()
		defer bytebufferpool.Put(buf)
		_, _ = buf.WriteString("data: ")
		_, _ = buf.Write(b)
		_, _ = buf.WriteString("\n\n")
		if _, err := w.Write(buf.B); err != nil {
			return false
		}
		flusher.Flush()
		return true
	}

	if !writeSnapshot() {
		return
	}
	for {
		select {
		case <-r.Context().Done():
			return
		case <-f.Updates():
			if !writeSnapshot() {
				return
			}
		}
	}
}

// rosterState is the wire shape of one conversation-list SSE snapshot.
type rosterState struct {
	Conversations []models.ConversationSummary `json:"conversations"`
	Loading       bool                         `json:"loading"`
	Error         string                       `json:"error,omitempty"`
}

// streamConversations serves the viewer's conversation list as SSE, one full
// snapshot per change, newest activity first.
func (s *Server) streamConversations(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		utils.JSONError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	viewer := r.URL.Query().Get("viewer")
	if viewer == "" {
		utils.JSONError(w, http.StatusBadRequest, "viewer missing")
		return
	}

	ro := feed.NewRoster(s.eng, s.window)
	defer ro.Detach()
	if err := ro.Attach(viewer); err != nil {
		writeErr(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	logger.Info("roster_stream_open", "viewer", viewer, "remote", r.RemoteAddr)
	defer logger.Info("roster_stream_closed", "viewer", viewer, "remote", r.RemoteAddr)

	writeSnapshot := func() bool {
		st := ro.Snapshot()
		out := rosterState{Conversations: st.Summaries, Loading: st.Loading}
		if st.Err != nil {
			out.Error = st.Err.Error()
		}
		b, err := json.Marshal(out)
		if err != nil {
			return false
		}
		buf := bytebufferpool.Get()
		defer bytebufferpool.Put(buf)
		_, _ = buf.WriteString("data: ")
		_, _ = buf.Write(b)
		_, _ = buf.WriteString("\n\n")
		if _, err := w.Write(buf.B); err != nil {
			return false
		}
		flusher.Flush()
		return true
	}

	if !writeSnapshot() {
		return
	}
	for {
		select {
		case <-r.Context().Done():
			return
		case <-ro.Updates():
			if !writeSnapshot() {
				return
			}
		}
	}
}

// Package api is the HTTP gateway over the synchronization core: JSON
// endpoints for conversations, messages, membership and presence, plus an
// SSE stream of live window snapshots.
package api

import (
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"feedsync/pkg/engine"
	"feedsync/pkg/models"
	"feedsync/pkg/mutate"
	"feedsync/pkg/presence"
	"feedsync/pkg/telemetry"
	"feedsync/pkg/utils"
)

// Server bundles the injected collaborators of the gateway. No globals;
// tests construct a Server over a throwaway engine.
type Server struct {
	eng    engine.Engine
	coord  *mutate.Coordinator
	deb    *presence.Debouncer
	window int
}

func NewServer(eng engine.Engine, coord *mutate.Coordinator, deb *presence.Debouncer, window int) *Server {
	if window <= 0 {
		window = 25
	}
	return &Server{eng: eng, coord: coord, deb: deb, window: window}
}

// Handler returns the /v1 API router. Operational endpoints (/healthz,
// /metrics, /docs) are mounted by the app, not here.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.Use(telemetry.Middleware)
	v1 := r.PathPrefix("/v1").Subrouter()

	v1.HandleFunc("/conversations", s.createConversation).Methods(http.MethodPost)
	v1.HandleFunc("/conversations", s.listConversations).Methods(http.MethodGet)
	// Registered before the {id} route so the literal path wins.
	v1.HandleFunc("/conversations/stream", s.streamConversations).Methods(http.MethodGet)
	v1.HandleFunc("/conversations/{id}", s.getConversation).Methods(http.MethodGet)

	v1.HandleFunc("/conversations/{id}/messages", s.postMessage).Methods(http.MethodPost)
	v1.HandleFunc("/conversations/{id}/messages", s.listMessages).Methods(http.MethodGet)
	v1.HandleFunc("/conversations/{id}/messages/{itemID}/read", s.markRead).Methods(http.MethodPost)

	v1.HandleFunc("/conversations/{id}/members", s.addMember).Methods(http.MethodPost)
	v1.HandleFunc("/conversations/{id}/members/{memberID}", s.removeMember).Methods(http.MethodDelete)

	v1.HandleFunc("/conversations/{id}/presence/{memberID}", s.putPresence).Methods(http.MethodPut)

	v1.HandleFunc("/conversations/{id}/stream", s.streamConversation).Methods(http.MethodGet)

	return r
}

// writeErr maps domain errors onto HTTP statuses with the flat error shape
// every endpoint shares.
func writeErr(w http.ResponseWriter, err error) {
	switch {
	case models.IsValidation(err):
		utils.JSONError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, models.ErrPermissionDenied):
		utils.JSONError(w, http.StatusForbidden, "permission denied")
	case errors.Is(err, engine.ErrNotFound):
		utils.JSONError(w, http.StatusNotFound, "not found")
	default:
		utils.JSONError(w, http.StatusInternalServerError, err.Error())
	}
}

package httpapi

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/ent0n29/aspen/internal/calllog"
	"github.com/ent0n29/aspen/internal/session"
)

func (s *Server) handleListCalls(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, session.ListResponse{
		Calls:  s.sessions.List(),
		Active: s.sessions.ActiveCount(),
	})
}

func (s *Server) handleGetCall(w http.ResponseWriter, r *http.Request) {
	call, err := s.sessions.Get(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusNotFound, "call_not_found", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, call)
}

type callTurnsResponse struct {
	CallID string               `json:"call_id"`
	Turns  []calllog.TurnRecord `json:"turns"`
}

func (s *Server) handleCallTurns(w http.ResponseWriter, r *http.Request) {
	if s.calls == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "call log not configured")
		return
	}
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	limit := 0
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			respondError(w, http.StatusBadRequest, "invalid_limit", "limit must be a non-negative integer")
			return
		}
		limit = n
	}
	turns, err := s.calls.CallTurns(r.Context(), id, limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "call_log_failed", err.Error())
		return
	}
	if turns == nil {
		turns = []calllog.TurnRecord{}
	}
	respondJSON(w, http.StatusOK, callTurnsResponse{CallID: id, Turns: turns})
}

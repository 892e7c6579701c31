package handlers

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"chatledger/core/analytics"
	"chatledger/core/store"
	"chatledger/core/utils"
)

type AnalyticsHandler struct {
	events  store.EventsStore
	queries *analytics.Queries
	logger  *utils.Logger
}

func NewAnalyticsHandler(events store.EventsStore, queries *analytics.Queries, logger *utils.Logger) *AnalyticsHandler {
	return &AnalyticsHandler{events: events, queries: queries, logger: logger}
}

func (h *AnalyticsHandler) Thread(w http.ResponseWriter, r *http.Request) {
	conversation := chi.URLParam(r, "conversation")
	srcID, ok := parseInt64Param(r.URL.Query().Get("source_message_id"))
	if !ok {
		writeError(w, http.StatusBadRequest, "source_message_id is required")
		return
	}
	chain, err := h.queries.ReconstructThread(r.Context(), conversation, srcID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "event not found")
			return
		}
		h.logger.Errorf("thread %s/%d: %v", conversation, srcID, err)
		writeError(w, http.StatusInternalServerError, "server error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"thread": chain})
}

func (h *AnalyticsHandler) TimeToFirstResponse(w http.ResponseWriter, r *http.Request) {
	conversation := chi.URLParam(r, "conversation")
	srcID, ok := parseInt64Param(r.URL.Query().Get("source_message_id"))
	if !ok {
		writeError(w, http.StatusBadRequest, "source_message_id is required")
		return
	}
	ev, err := h.events.GetEventBySourceID(r.Context(), conversation, srcID)
	if err != nil {
		h.logger.Errorf("ttfr lookup %s/%d: %v", conversation, srcID, err)
		writeError(w, http.StatusInternalServerError, "server error")
		return
	}
	if ev == nil {
		writeError(w, http.StatusNotFound, "event not found")
		return
	}
	delta, replied, err := h.queries.TimeToFirstResponse(r.Context(), ev)
	if err != nil {
		h.logger.Errorf("ttfr %s/%d: %v", conversation, srcID, err)
		writeError(w, http.StatusInternalServerError, "server error")
		return
	}
	if !replied {
		// Undefined, not zero.
		writeJSON(w, http.StatusOK, map[string]any{"replied": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"replied":     true,
		"ttfr_ms":     delta.Milliseconds(),
		"ttfr_string": delta.String(),
	})
}

func (h *AnalyticsHandler) ReplyGraph(w http.ResponseWriter, r *http.Request) {
	conversation := chi.URLParam(r, "conversation")
	edges, err := h.queries.ReplyGraph(r.Context(), conversation)
	if err != nil {
		h.logger.Errorf("reply graph %s: %v", conversation, err)
		writeError(w, http.StatusInternalServerError, "server error")
		return
	}
	if edges == nil {
		edges = []store.ReplyEdge{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"edges": edges})
}

package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"chatledger/core/store"
	"chatledger/core/utils"
)

type ClassificationsHandler struct {
	events          store.EventsStore
	classifications store.ClassificationsStore
	logger          *utils.Logger
}

func NewClassificationsHandler(events store.EventsStore, cs store.ClassificationsStore, logger *utils.Logger) *ClassificationsHandler {
	return &ClassificationsHandler{events: events, classifications: cs, logger: logger}
}

// Apply is the classification producer interface: replace the current
// annotation for an event, any number of times.
func (h *ClassificationsHandler) Apply(w http.ResponseWriter, r *http.Request) {
	id, ok := parseInt64Param(chi.URLParam(r, "id"))
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid event id")
		return
	}
	var result store.ClassificationResult
	if err := json.NewDecoder(r.Body).Decode(&result); err != nil {
		writeError(w, http.StatusBadRequest, "malformed classification payload")
		return
	}
	if err := h.classifications.ApplyClassification(r.Context(), id, result); err != nil {
		switch {
		case errors.Is(err, store.ErrValidation):
			writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, store.ErrNotFound):
			// Every stored event gets a placeholder at insert time, so
			// this means either a bogus id or a broken invariant.
			h.logger.Errorf("classification for event %d without placeholder: %v", id, err)
			writeError(w, http.StatusNotFound, "no classification placeholder for event")
		default:
			h.logger.Errorf("apply classification for event %d: %v", id, err)
			writeError(w, http.StatusInternalServerError, "server error")
		}
		return
	}
	updated, err := h.classifications.GetClassification(r.Context(), id)
	if err != nil || updated == nil {
		writeJSON(w, http.StatusOK, map[string]any{"event_id": id})
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (h *ClassificationsHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := parseInt64Param(chi.URLParam(r, "id"))
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid event id")
		return
	}
	c, err := h.classifications.GetClassification(r.Context(), id)
	if err != nil {
		h.logger.Errorf("get classification %d: %v", id, err)
		writeError(w, http.StatusInternalServerError, "server error")
		return
	}
	if c == nil {
		writeError(w, http.StatusNotFound, "classification not found")
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (h *ClassificationsHandler) Backlog(w http.ResponseWriter, r *http.Request) {
	limit := parseIntDefault(r.URL.Query().Get("limit"), 100)
	items, err := h.classifications.ListUnclassified(r.Context(), limit)
	if err != nil {
		h.logger.Errorf("list backlog: %v", err)
		writeError(w, http.StatusInternalServerError, "server error")
		return
	}
	if items == nil {
		items = []store.BacklogItem{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"backlog": items})
}

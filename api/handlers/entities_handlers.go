package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"chatledger/core/entities"
	"chatledger/core/store"
	"chatledger/core/utils"
)

type EntitiesHandler struct {
	events    store.EventsStore
	extractor *entities.Extractor
	logger    *utils.Logger
}

func NewEntitiesHandler(events store.EventsStore, extractor *entities.Extractor, logger *utils.Logger) *EntitiesHandler {
	return &EntitiesHandler{events: events, extractor: extractor, logger: logger}
}

// Extract computes entity matches for a stored event's text on demand.
// Nothing is persisted; a process without a catalog answers with an empty
// list rather than an error.
func (h *EntitiesHandler) Extract(w http.ResponseWriter, r *http.Request) {
	id, ok := parseInt64Param(chi.URLParam(r, "id"))
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid event id")
		return
	}
	ev, err := h.events.GetEvent(r.Context(), id)
	if err != nil {
		h.logger.Errorf("get event %d for extraction: %v", id, err)
		writeError(w, http.StatusInternalServerError, "server error")
		return
	}
	if ev == nil {
		writeError(w, http.StatusNotFound, "event not found")
		return
	}
	matches := []entities.Match{}
	if ev.Text != nil {
		if found := h.extractor.Extract(*ev.Text); found != nil {
			matches = found
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"event_id":  id,
		"extractor": h.extractor.Version(),
		"entities":  matches,
	})
}

package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"chatledger/core/ingest"
	"chatledger/core/store"
	"chatledger/core/utils"
)

const ingestPayloadMaxBytes = 1 << 20

type EventsHandler struct {
	ingestor *ingest.Service
	events   store.EventsStore
	logger   *utils.Logger
}

func NewEventsHandler(ingestor *ingest.Service, events store.EventsStore, logger *utils.Logger) *EventsHandler {
	return &EventsHandler{ingestor: ingestor, events: events, logger: logger}
}

// Ingest is the inbound boundary for the normalizer: one canonical event
// per request. Duplicates answer 200 with inserted=false; a failure to
// record answers 5xx so the caller knows the event is NOT stored.
func (h *EventsHandler) Ingest(w http.ResponseWriter, r *http.Request) {
	var in ingest.Inbound
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, ingestPayloadMaxBytes))
	if err := dec.Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "malformed event payload")
		return
	}
	res, err := h.ingestor.Ingest(r.Context(), in)
	if err != nil {
		if errors.Is(err, store.ErrValidation) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.logger.Errorf("ingest failed conversation=%s source=%d: %v", in.ConversationID, in.SourceMessageID, err)
		if errors.Is(err, store.ErrTransient) {
			writeError(w, http.StatusServiceUnavailable, "storage temporarily unavailable, event not recorded")
			return
		}
		writeError(w, http.StatusInternalServerError, "event not recorded")
		return
	}
	status := http.StatusOK
	if res.Inserted {
		status = http.StatusCreated
	}
	writeJSON(w, status, res)
}

func (h *EventsHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := parseInt64Param(chi.URLParam(r, "id"))
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid event id")
		return
	}
	ev, err := h.events.GetEvent(r.Context(), id)
	if err != nil {
		h.logger.Errorf("get event %d: %v", id, err)
		writeError(w, http.StatusInternalServerError, "server error")
		return
	}
	if ev == nil {
		writeError(w, http.StatusNotFound, "event not found")
		return
	}
	writeJSON(w, http.StatusOK, ev)
}

func (h *EventsHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.EventFilter{
		ConversationID: strings.TrimSpace(q.Get("conversation")),
		ContentKind:    strings.TrimSpace(q.Get("content_kind")),
		Order:          strings.ToLower(strings.TrimSpace(q.Get("order"))),
		Limit:          parseIntDefault(q.Get("limit"), 100),
		Offset:         parseIntDefault(q.Get("offset"), 0),
	}
	since, err := parseTimeParam(q.Get("since"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "since must be RFC3339")
		return
	}
	filter.Since = since
	until, err := parseTimeParam(q.Get("until"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "until must be RFC3339")
		return
	}
	filter.Until = until
	switch strings.ToLower(q.Get("has_attachment")) {
	case "":
	case "1", "true":
		v := true
		filter.HasAttachment = &v
	case "0", "false":
		v := false
		filter.HasAttachment = &v
	default:
		writeError(w, http.StatusBadRequest, "has_attachment must be boolean")
		return
	}
	items, err := h.events.ListEvents(r.Context(), filter)
	if err != nil {
		if errors.Is(err, store.ErrValidation) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.logger.Errorf("list events: %v", err)
		writeError(w, http.StatusInternalServerError, "server error")
		return
	}
	if items == nil {
		items = []store.Event{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": items})
}

package handler

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/qofy/quoteflow/internal/eventlog"
)

const defaultEventListLimit = 100

// handleListEvents handles GET /events?since=&limit=&types=.
func (h *Handler) handleListEvents(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	limit := defaultEventListLimit
	if raw := query.Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}

	var types []string
	if raw := query.Get("types"); raw != "" {
		types = strings.Split(raw, ",")
	}

	result, err := h.events.List(query.Get("since"), limit, types)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	items := make([]EventResponse, len(result.Items))
	for i, ev := range result.Items {
		items[i] = eventToResponse(ev)
	}

	h.writeJSON(w, r, http.StatusOK, ListEventsResponse{
		Items:      items,
		HasMore:    result.HasMore,
		NextCursor: result.NextCursor,
	})
}

func eventToResponse(ev eventlog.Event) EventResponse {
	var payload any
	_ = json.Unmarshal(ev.Payload, &payload)
	return EventResponse{
		ID:        ev.ID,
		Type:      ev.Type,
		Payload:   payload,
		Cursor:    ev.Cursor,
		Timestamp: ev.TS,
	}
}

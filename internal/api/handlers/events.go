// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package handlers

import (
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/wingedpig/relay/internal/eventstream"
	"github.com/wingedpig/relay/internal/store"
)

// EventsHandler serves a session's live and replayed event stream
//, wrapping internal/eventstream.
type EventsHandler struct {
	sse   *eventstream.SSE
	store *store.Store
}

// NewEventsHandler constructs an EventsHandler.
func NewEventsHandler(sse *eventstream.SSE, st *store.Store) *EventsHandler {
	return &EventsHandler{sse: sse, store: st}
}

// Stream handles GET /events/sessions/{id} (SSE).
func (h *EventsHandler) Stream(w http.ResponseWriter, r *http.Request) {
	if err := h.sse.ServeHTTP(sessionID(r), w, r); err != nil {
		log.Printf("events: stream %s: %v", sessionID(r), err)
	}
}

// Replay handles GET /api/sessions/{id}/events?since_seq=n&types=a,b.
func (h *EventsHandler) Replay(w http.ResponseWriter, r *http.Request) {
	sinceSeq, _ := strconv.ParseInt(r.URL.Query().Get("since_seq"), 10, 64)
	var types map[store.EventType]bool
	if raw := r.URL.Query().Get("types"); raw != "" {
		types = make(map[store.EventType]bool)
		for _, t := range strings.Split(raw, ",") {
			types[store.EventType(strings.TrimSpace(t))] = true
		}
	}
	evs, err := eventstream.ReplaySince(h.store, sessionID(r), sinceSeq, types)
	if err != nil {
		writeAPIErr(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{"events": evs})
}

// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package handlers

import (
	"log"
	"net/http"

	"github.com/wingedpig/relay/internal/store"
)

// DebugHandler serves local-development endpoints. These are wired behind
// the same auth as everything else but mutate state wholesale, so they
// live under /api/debug rather than next to the session routes.
type DebugHandler struct {
	store *store.Store
}

// NewDebugHandler constructs a DebugHandler.
func NewDebugHandler(st *store.Store) *DebugHandler {
	return &DebugHandler{store: st}
}

// ClearData handles POST /api/debug/clear_data: drop every persisted
// session, event log, and message. Refused while any session is active.
func (h *DebugHandler) ClearData(w http.ResponseWriter, r *http.Request) {
	for _, sess := range h.store.List() {
		if sess.State == store.StateRunning || sess.State == store.StateStopping {
			WriteError(w, http.StatusConflict, ErrInvalidState, "cannot clear data while sessions are active")
			return
		}
	}
	if err := h.store.ClearAllData(); err != nil {
		WriteError(w, http.StatusInternalServerError, ErrInternalError, err.Error())
		return
	}
	log.Printf("debug: cleared all session data")
	WriteJSON(w, http.StatusOK, map[string]interface{}{"ok": true})
}

// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package handlers implements the HTTP API over internal/sessionapi,
// internal/eventstream and internal/permission. Handlers stay thin:
// decode the body, call the owning component, translate errors to the
// standard envelope.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/wingedpig/relay/internal/sessionapi"
	"github.com/wingedpig/relay/internal/store"
)

// SessionHandler serves the session CRUD and lifecycle routes.
type SessionHandler struct {
	api *sessionapi.API
}

// NewSessionHandler constructs a SessionHandler bound to api.
func NewSessionHandler(api *sessionapi.API) *SessionHandler {
	return &SessionHandler{api: api}
}

func sessionID(r *http.Request) string { return mux.Vars(r)["id"] }

// writeAPIErr translates a sessionapi/store error to its HTTP status
// and error code.
func writeAPIErr(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrSessionNotFound):
		WriteError(w, http.StatusNotFound, ErrNotFound, err.Error())
	case errors.Is(err, sessionapi.ErrValidation), errors.Is(err, sessionapi.ErrDirectoryNotDir):
		WriteError(w, http.StatusUnprocessableEntity, ErrValidation, err.Error())
	case errors.Is(err, sessionapi.ErrInvalidState):
		WriteError(w, http.StatusConflict, ErrInvalidState, err.Error())
	default:
		WriteError(w, http.StatusInternalServerError, ErrInternalError, err.Error())
	}
}

// List handles GET /api/sessions.
func (h *SessionHandler) List(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]interface{}{"sessions": h.api.List()})
}

type createSessionRequest struct {
	RepoID    string `json:"repo_id"`
	Directory string `json:"directory"`
	BaseRef   string `json:"base_ref"`
	Adapter   string `json:"adapter"`
	AgentName string `json:"agent_name"`
	AgentType string `json:"agent_type"`
	SessionName string `json:"session_name"`
	Platform  string `json:"platform"`
}

// Create handles POST /api/sessions.
func (h *SessionHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if r.Body != nil {
		json.NewDecoder(r.Body).Decode(&req)
	}

	sess, err := h.api.Create(sessionapi.CreateOptions{
		RepoID: req.RepoID, Directory: req.Directory, Adapter: req.Adapter,
		AgentName: req.AgentName, AgentType: req.AgentType, Platform: req.Platform,
	})
	if err != nil {
		writeAPIErr(w, err)
		return
	}
	if req.SessionName != "" {
		sess, err = h.api.Rename(sess.ID, req.SessionName)
		if err != nil {
			writeAPIErr(w, err)
			return
		}
	}
	WriteJSON(w, http.StatusCreated, map[string]interface{}{"session": sess})
}

// Get handles GET /api/sessions/{id}.
func (h *SessionHandler) Get(w http.ResponseWriter, r *http.Request) {
	sess, err := h.api.Get(sessionID(r))
	if err != nil {
		writeAPIErr(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{"session": sess})
}

// Delete handles DELETE /api/sessions/{id}.
func (h *SessionHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.api.Delete(sessionID(r)); err != nil {
		writeAPIErr(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{"ok": true})
}

type startRequest struct {
	Prompt         string `json:"prompt"`
	ApprovalChoice int    `json:"approval_choice"`
}

// Start handles POST /api/sessions/{id}/start.
func (h *SessionHandler) Start(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusUnprocessableEntity, ErrValidation, "invalid JSON body")
		return
	}
	sess, err := h.api.Start(r.Context(), sessionID(r), req.Prompt, req.ApprovalChoice)
	if err != nil {
		writeAPIErr(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{"session": sess})
}

type inputRequest struct {
	Text string `json:"text"`
}

// Input handles POST /api/sessions/{id}/input.
func (h *SessionHandler) Input(w http.ResponseWriter, r *http.Request) {
	var req inputRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusUnprocessableEntity, ErrValidation, "invalid JSON body")
		return
	}
	sess, err := h.api.Input(r.Context(), sessionID(r), req.Text)
	if err != nil {
		writeAPIErr(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{"session": sess})
}

// Stop handles POST /api/sessions/{id}/stop.
func (h *SessionHandler) Stop(w http.ResponseWriter, r *http.Request) {
	sess, err := h.api.Stop(r.Context(), sessionID(r))
	if err != nil {
		writeAPIErr(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{"session": sess})
}

// Interrupt handles POST /api/sessions/{id}/interrupt.
func (h *SessionHandler) Interrupt(w http.ResponseWriter, r *http.Request) {
	sess, err := h.api.Interrupt(r.Context(), sessionID(r))
	if err != nil {
		writeAPIErr(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{"session": sess})
}

type approvalModeRequest struct {
	ApprovalMode string `json:"approval_mode"`
}

// ApprovalMode handles PATCH /api/sessions/{id}/approval-mode.
func (h *SessionHandler) ApprovalMode(w http.ResponseWriter, r *http.Request) {
	var req approvalModeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusUnprocessableEntity, ErrValidation, "invalid JSON body")
		return
	}
	sess, err := h.api.ApprovalMode(r.Context(), sessionID(r), req.ApprovalMode)
	if err != nil {
		writeAPIErr(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{"session": sess})
}

type renameRequest struct {
	Name string `json:"name"`
}

// Rename handles PATCH /api/sessions/{id}/rename.
func (h *SessionHandler) Rename(w http.ResponseWriter, r *http.Request) {
	var req renameRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusUnprocessableEntity, ErrValidation, "invalid JSON body")
		return
	}
	sess, err := h.api.Rename(sessionID(r), req.Name)
	if err != nil {
		writeAPIErr(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{"session": sess})
}

// Diff handles GET /api/sessions/{id}/diff.
func (h *SessionHandler) Diff(w http.ResponseWriter, r *http.Request) {
	diffs, err := h.api.Diff(sessionID(r))
	if err != nil {
		writeAPIErr(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{"files": diffs})
}

// Usage handles GET /api/sessions/{id}/usage.
func (h *SessionHandler) Usage(w http.ResponseWriter, r *http.Request) {
	usage, err := h.api.Usage(sessionID(r))
	if err != nil {
		writeAPIErr(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, usage)
}

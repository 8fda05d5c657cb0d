// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/wingedpig/relay/internal/permission"
	"github.com/wingedpig/relay/internal/sessionapi"
	"github.com/wingedpig/relay/internal/store"
)

// ExternalHandler serves the /api/external routes: an HTTP-polling
// variant of the Agent WebSocket (internal/eventstream.AgentWS) for
// external-agent clients that would rather poll than hold a socket open.
type ExternalHandler struct {
	session    *sessionapi.API
	store      *store.Store
	permission *permission.Protocol
}

// NewExternalHandler constructs an ExternalHandler.
func NewExternalHandler(session *sessionapi.API, st *store.Store, p *permission.Protocol) *ExternalHandler {
	return &ExternalHandler{session: session, store: st, permission: p}
}

type createExternalSessionRequest struct {
	RepoID      string `json:"repo_id"`
	Directory   string `json:"directory"`
	AgentName   string `json:"agent_name"`
	AgentType   string `json:"agent_type"`
	AgentIcon   string `json:"agent_icon"`
	SessionName string `json:"session_name"`
	Platform    string `json:"platform"`
}

// CreateSession handles POST /api/external/sessions.
func (h *ExternalHandler) CreateSession(w http.ResponseWriter, r *http.Request) {
	var req createExternalSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusUnprocessableEntity, ErrValidation, "invalid JSON body")
		return
	}
	sess, err := h.session.Create(sessionapi.CreateOptions{
		RepoID: req.RepoID, Directory: req.Directory,
		AgentName: req.AgentName, AgentType: req.AgentType, AgentIcon: req.AgentIcon,
		Platform:      req.Platform,
		EnsureWorkdir: true,
	})
	if err != nil {
		writeAPIErr(w, err)
		return
	}
	if req.SessionName != "" {
		sess, err = h.session.Rename(sess.ID, req.SessionName)
		if err != nil {
			writeAPIErr(w, err)
			return
		}
	}
	WriteJSON(w, http.StatusCreated, map[string]interface{}{"session": sess})
}

type appendEventRequest struct {
	EventType store.EventType `json:"event_type"`
	Payload   json.RawMessage `json:"payload"`
}

// AppendEvent handles POST /api/external/sessions/{id}/events: an
// external agent records one of its own events into the session log,
// the same path the Agent WebSocket's "event" frame takes.
func (h *ExternalHandler) AppendEvent(w http.ResponseWriter, r *http.Request) {
	var req appendEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.EventType == "" {
		WriteError(w, http.StatusUnprocessableEntity, ErrValidation, "event_type is required")
		return
	}
	ev, err := h.store.Emit(sessionID(r), req.EventType, req.Payload)
	if err != nil {
		writeAPIErr(w, err)
		return
	}
	WriteJSON(w, http.StatusCreated, map[string]interface{}{"event": ev})
}

// PollEvents handles GET /api/external/sessions/{id}/events?since_seq=n.
func (h *ExternalHandler) PollEvents(w http.ResponseWriter, r *http.Request) {
	sinceSeq, _ := strconv.ParseInt(r.URL.Query().Get("since_seq"), 10, 64)
	evs, err := h.store.ReadEventLog(sessionID(r), sinceSeq, 0)
	if err != nil {
		writeAPIErr(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{"events": evs})
}

type respondRequest struct {
	RequestID string `json:"request_id"`
	Allow     bool   `json:"allow"`
	Message   string `json:"message"`
}

// Respond handles POST /api/external/sessions/{id}/respond: an external
// agent resolving its own pending permission request, equivalent to the
// human-origin POST .../permission path.
func (h *ExternalHandler) Respond(w http.ResponseWriter, r *http.Request) {
	var req respondRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.RequestID == "" {
		WriteError(w, http.StatusUnprocessableEntity, ErrValidation, "request_id is required")
		return
	}
	ok := h.permission.Resolve(sessionID(r), req.RequestID, store.PermissionResult{
		Allowed: req.Allow, Message: req.Message, ResolvedBy: "external_agent",
	})
	if !ok {
		WriteError(w, http.StatusNotFound, ErrNotFound, "permission request already resolved or not found")
		return
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{"ok": true})
}

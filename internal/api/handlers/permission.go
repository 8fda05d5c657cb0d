// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/wingedpig/relay/internal/permission"
	"github.com/wingedpig/relay/internal/store"
)

// PermissionHandler resolves pending permission requests.
type PermissionHandler struct {
	protocol *permission.Protocol
}

// NewPermissionHandler constructs a PermissionHandler bound to protocol.
func NewPermissionHandler(protocol *permission.Protocol) *PermissionHandler {
	return &PermissionHandler{protocol: protocol}
}

type resolvePermissionRequest struct {
	RequestID string `json:"request_id"`
	Allow     bool   `json:"allow"`
	Message   string `json:"message"`
}

// Resolve handles POST /api/sessions/{id}/permission.
func (h *PermissionHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	var req resolvePermissionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.RequestID == "" {
		WriteError(w, http.StatusUnprocessableEntity, ErrValidation, "request_id is required")
		return
	}

	ok := h.protocol.Resolve(sessionID(r), req.RequestID, store.PermissionResult{
		Allowed:    req.Allow,
		Message:    req.Message,
		ResolvedBy: "api",
	})
	if !ok {
		WriteError(w, http.StatusNotFound, ErrNotFound, "permission request already resolved or not found")
		return
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{"ok": true})
}

// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package handlers

import "net/http"

// ProtocolVersion is the wire-protocol revision reported by the health
// endpoint. Clients (the web UI, external agents) use it to detect a
// server too old or too new for them.
const ProtocolVersion = 1

// Health returns the GET /api/health handler for the given server version.
func Health(version string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, http.StatusOK, map[string]interface{}{
			"ok":       true,
			"version":  version,
			"protocol": ProtocolVersion,
		})
	}
}

// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package handlers

import (
	"net/http"
	"os"
)

// DirectoryCheck handles GET /api/directories/check?path=..., answering
// whether a candidate working directory exists, is a folder, and looks
// like a git checkout.
func DirectoryCheck(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Query().Get("path")
	if path == "" {
		WriteError(w, http.StatusUnprocessableEntity, ErrValidation, "path is required")
		return
	}

	info, err := os.Stat(path)
	exists := err == nil
	isDir := exists && info.IsDir()
	hasGit := false
	if isDir {
		if gi, err := os.Stat(path + "/.git"); err == nil {
			hasGit = gi.IsDir() || gi.Mode().IsRegular()
		}
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"path":    path,
		"exists":  exists,
		"is_dir":  isDir,
		"has_git": hasGit,
	})
}

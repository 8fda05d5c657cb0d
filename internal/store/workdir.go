// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"fmt"
	"os"
	"path/filepath"
)

// SetWorkdir records path as the session's working directory. A managed
// directory is owned by this session and removed on deletion; unmanaged
// directories are never touched. The path is normalized to absolute form.
func (s *Store) SetWorkdir(sessionID, path string, managed bool) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("store: normalize workdir: %w", err)
	}
	_, err = s.Update(sessionID, func(sess *Session) {
		sess.Directory = abs
		sess.WorkdirManaged = managed
	})
	return err
}

// CreateWorkdir creates a fresh temp directory under the data root, tags
// it managed, and records it as the session's working directory.
func (s *Store) CreateWorkdir(sessionID string) (string, error) {
	if _, err := s.lookup(sessionID); err != nil {
		return "", err
	}
	root := filepath.Join(s.dataDir, "workdirs")
	if err := os.MkdirAll(root, 0755); err != nil {
		return "", fmt.Errorf("store: create workdir root: %w", err)
	}
	dir, err := os.MkdirTemp(root, sessionID+"-")
	if err != nil {
		return "", fmt.Errorf("store: create workdir: %w", err)
	}
	if err := s.SetWorkdir(sessionID, dir, true); err != nil {
		os.RemoveAll(dir)
		return "", err
	}
	return dir, nil
}

// ClearWorkdir detaches the session's working directory. The directory
// itself is deleted from disk only when it is managed, or when force is
// set.
func (s *Store) ClearWorkdir(sessionID string, force bool) error {
	sess, err := s.Get(sessionID)
	if err != nil {
		return err
	}
	if sess.Directory != "" && (sess.WorkdirManaged || force) {
		if err := os.RemoveAll(sess.Directory); err != nil {
			return fmt.Errorf("store: remove workdir: %w", err)
		}
	}
	_, err = s.Update(sessionID, func(sess *Session) {
		sess.Directory = ""
		sess.WorkdirManaged = false
	})
	return err
}

// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetWorkdirNormalizesAndTags(t *testing.T) {
	s := newTestStore(t)
	sess, _ := s.CreateSession("r", "")

	dir := t.TempDir()
	require.NoError(t, s.SetWorkdir(sess.ID, dir, false))

	got, err := s.Get(sess.ID)
	require.NoError(t, err)
	assert.True(t, filepath.IsAbs(got.Directory))
	assert.False(t, got.WorkdirManaged)
}

func TestCreateWorkdirIsManaged(t *testing.T) {
	s := newTestStore(t)
	sess, _ := s.CreateSession("r", "")

	dir, err := s.CreateWorkdir(sess.ID)
	require.NoError(t, err)

	info, err := os.Stat(dir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())

	got, _ := s.Get(sess.ID)
	assert.Equal(t, dir, got.Directory)
	assert.True(t, got.WorkdirManaged)
}

func TestClearWorkdirDeletesManagedOnly(t *testing.T) {
	s := newTestStore(t)

	managed, _ := s.CreateSession("r", "")
	dir, err := s.CreateWorkdir(managed.ID)
	require.NoError(t, err)
	require.NoError(t, s.ClearWorkdir(managed.ID, false))
	_, err = os.Stat(dir)
	assert.True(t, os.IsNotExist(err))

	unmanaged, _ := s.CreateSession("r", "")
	keep := t.TempDir()
	require.NoError(t, s.SetWorkdir(unmanaged.ID, keep, false))
	require.NoError(t, s.ClearWorkdir(unmanaged.ID, false))
	_, err = os.Stat(keep)
	assert.NoError(t, err)

	got, _ := s.Get(unmanaged.ID)
	assert.Empty(t, got.Directory)
}

func TestClearWorkdirForceDeletesUnmanaged(t *testing.T) {
	s := newTestStore(t)
	sess, _ := s.CreateSession("r", "")

	dir := filepath.Join(t.TempDir(), "scratch")
	require.NoError(t, os.MkdirAll(dir, 0755))
	require.NoError(t, s.SetWorkdir(sess.ID, dir, false))

	require.NoError(t, s.ClearWorkdir(sess.ID, true))
	_, err := os.Stat(dir)
	assert.True(t, os.IsNotExist(err))
}

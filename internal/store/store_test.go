// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(Config{DataDir: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestCreateAndGetSession(t *testing.T) {
	s := newTestStore(t)

	sess, err := s.CreateSession("repo-1", "/tmp/work")
	require.NoError(t, err)
	assert.NotEmpty(t, sess.ID)
	assert.Equal(t, StateCreated, sess.State)

	got, err := s.Get(sess.ID)
	require.NoError(t, err)
	assert.Equal(t, sess.ID, got.ID)
	assert.Equal(t, "repo-1", got.RepoID)
}

func TestGetMissingSession(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Get("nope")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestListOrdersNewestFirst(t *testing.T) {
	s := newTestStore(t)
	a, _ := s.CreateSession("r", "/a")
	time.Sleep(2 * time.Millisecond)
	b, _ := s.CreateSession("r", "/b")

	list := s.List()
	require.Len(t, list, 2)
	assert.Equal(t, b.ID, list[0].ID)
	assert.Equal(t, a.ID, list[1].ID)
}

func TestUpdatePersists(t *testing.T) {
	s := newTestStore(t)
	sess, _ := s.CreateSession("r", "/a")

	_, err := s.Update(sess.ID, func(sess *Session) { sess.State = StateRunning })
	require.NoError(t, err)

	got, err := s.Get(sess.ID)
	require.NoError(t, err)
	assert.Equal(t, StateRunning, got.State)
}

func TestEmitAssignsSeqAndDeliversToSubscriber(t *testing.T) {
	s := newTestStore(t)
	sess, _ := s.CreateSession("r", "/a")

	ch, err := s.NewSubscriber(sess.ID)
	require.NoError(t, err)

	ev, err := s.Emit(sess.ID, EventOutput, map[string]string{"text": "hello"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), ev.Seq)

	select {
	case got := <-ch:
		assert.Equal(t, ev.Seq, got.Seq)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for subscriber delivery")
	}
}

func TestEmitNeverBlocksOnFullSubscriber(t *testing.T) {
	s := newTestStore(t)
	sess, _ := s.CreateSession("r", "/a")

	ch, err := s.NewSubscriber(sess.ID)
	require.NoError(t, err)

	for i := 0; i < 300; i++ {
		_, err := s.Emit(sess.ID, EventOutput, map[string]int{"i": i})
		require.NoError(t, err)
	}
	// Subscriber channel (buffer 256) never drained; Emit must not block or error.
	assert.NotEmpty(t, ch)
}

func TestReadEventLogSinceSeq(t *testing.T) {
	s := newTestStore(t)
	sess, _ := s.CreateSession("r", "/a")

	for i := 0; i < 5; i++ {
		_, err := s.Emit(sess.ID, EventOutput, map[string]int{"i": i})
		require.NoError(t, err)
	}

	evs, err := s.ReadEventLog(sess.ID, 2, 0)
	require.NoError(t, err)
	require.Len(t, evs, 3)
	assert.Equal(t, int64(3), evs[0].Seq)
}

func TestReadEventLogLimit(t *testing.T) {
	s := newTestStore(t)
	sess, _ := s.CreateSession("r", "/a")
	for i := 0; i < 5; i++ {
		_, err := s.Emit(sess.ID, EventOutput, map[string]int{"i": i})
		require.NoError(t, err)
	}

	evs, err := s.ReadEventLog(sess.ID, 0, 2)
	require.NoError(t, err)
	assert.Len(t, evs, 2)
}

func TestShouldEmitOutputDedup(t *testing.T) {
	s := newTestStore(t)
	sess, _ := s.CreateSession("r", "/a")

	assert.True(t, s.ShouldEmitOutput(sess.ID, "hello world"))
	assert.False(t, s.ShouldEmitOutput(sess.ID, "hello   world"))
	assert.False(t, s.ShouldEmitOutput(sess.ID, ""))
	assert.True(t, s.ShouldEmitOutput(sess.ID, "goodbye"))
}

func TestPendingPermissionResolveOnce(t *testing.T) {
	s := newTestStore(t)
	sess, _ := s.CreateSession("r", "/a")

	future, err := s.AddPendingPermission(sess.ID, "req-1", "tool_use", nil)
	require.NoError(t, err)

	first := s.ResolvePendingPermission(sess.ID, "req-1", PermissionResult{Allowed: true, ResolvedBy: "alice"})
	assert.True(t, first)

	second := s.ResolvePendingPermission(sess.ID, "req-1", PermissionResult{Allowed: false, ResolvedBy: "bob"})
	assert.False(t, second)

	result, ok := future.Wait(context.Background())
	require.True(t, ok)
	assert.True(t, result.Allowed)
	assert.Equal(t, "alice", result.ResolvedBy)
}

func TestResolveUnknownPendingPermission(t *testing.T) {
	s := newTestStore(t)
	sess, _ := s.CreateSession("r", "/a")
	assert.False(t, s.ResolvePendingPermission(sess.ID, "nope", PermissionResult{Allowed: true}))
}

func TestMessagesRoundTrip(t *testing.T) {
	s := newTestStore(t)
	sess, _ := s.CreateSession("r", "/a")

	msg, err := s.AddMessage(sess.ID, RoleUser, []ContentBlock{{Type: "text", Text: "hi"}})
	require.NoError(t, err)
	assert.Equal(t, int64(1), msg.Seq)

	msgs, err := s.GetMessages(sess.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "hi", msgs[0].Content[0].Text)

	count, err := s.GetMessageCount(sess.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	require.NoError(t, s.ClearMessages(sess.ID))
	count, err = s.GetMessageCount(sess.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestRunnerSessionIDSetOnce(t *testing.T) {
	s := newTestStore(t)
	sess, _ := s.CreateSession("r", "/a")

	require.NoError(t, s.SetRunnerSessionID(sess.ID, "ext-1"))
	require.NoError(t, s.SetRunnerSessionID(sess.ID, "ext-2"))

	id, err := s.GetRunnerSessionID(sess.ID)
	require.NoError(t, err)
	assert.Equal(t, "ext-1", id)

	found, ok := s.FindSessionByRunnerSessionID("ext-1")
	require.True(t, ok)
	assert.Equal(t, sess.ID, found.ID)

	require.NoError(t, s.ClearRunnerSessionID(sess.ID))
	id, err = s.GetRunnerSessionID(sess.ID)
	require.NoError(t, err)
	assert.Empty(t, id)
}

func TestSessionUsageAggregatesAndRounds(t *testing.T) {
	s := newTestStore(t)
	sess, _ := s.CreateSession("r", "/a")

	_, err := s.Emit(sess.ID, EventMetadata, map[string]interface{}{
		"key": "tokens", "value": map[string]int{"input": 10, "output": 20},
	})
	require.NoError(t, err)
	_, err = s.Emit(sess.ID, EventMetadata, map[string]interface{}{"key": "cost", "value": 0.123456})
	require.NoError(t, err)
	_, err = s.Emit(sess.ID, EventMetadata, map[string]interface{}{"key": "cost", "value": 0.1})
	require.NoError(t, err)

	usage, err := s.SessionUsage(sess.ID)
	require.NoError(t, err)
	assert.Equal(t, 10, usage.InputTokens)
	assert.Equal(t, 20, usage.OutputTokens)
	assert.InDelta(t, 0.2235, usage.CostUSD, 0.0001)
}

func TestPruneSessionsRemovesOldTerminalOnly(t *testing.T) {
	s := newTestStore(t)

	old, _ := s.CreateSession("r", "/old")
	ended := time.Now().Add(-48 * time.Hour)
	s.Update(old.ID, func(sess *Session) { sess.State = StateStopped; sess.EndedAt = &ended })

	fresh, _ := s.CreateSession("r", "/fresh")
	s.Update(fresh.ID, func(sess *Session) { sess.State = StateRunning })

	removed := s.PruneSessions(24 * time.Hour)
	assert.Equal(t, 1, removed)

	_, err := s.Get(old.ID)
	assert.ErrorIs(t, err, ErrSessionNotFound)

	_, err = s.Get(fresh.ID)
	assert.NoError(t, err)
}

func TestDeleteSessionClosesSubscribers(t *testing.T) {
	s := newTestStore(t)
	sess, _ := s.CreateSession("r", "/a")
	ch, err := s.NewSubscriber(sess.ID)
	require.NoError(t, err)

	require.NoError(t, s.DeleteSession(sess.ID))

	_, open := <-ch
	assert.False(t, open)

	_, err = s.Get(sess.ID)
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestReloadRestoresSessionsFromDisk(t *testing.T) {
	dir := t.TempDir()
	s1, err := New(Config{DataDir: dir})
	require.NoError(t, err)

	sess, err := s1.CreateSession("repo", "/work")
	require.NoError(t, err)
	_, err = s1.Emit(sess.ID, EventOutput, map[string]string{"text": "hi"})
	require.NoError(t, err)
	require.NoError(t, s1.Close())

	s2, err := New(Config{DataDir: dir})
	require.NoError(t, err)
	t.Cleanup(func() { s2.Close() })

	got, err := s2.Get(sess.ID)
	require.NoError(t, err)
	assert.Equal(t, sess.ID, got.ID)

	evs, err := s2.ReadEventLog(sess.ID, 0, 0)
	require.NoError(t, err)
	require.Len(t, evs, 1)

	seq, err := s2.NextSeq(sess.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), seq)
}

// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package sessionapi

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wingedpig/relay/internal/permission"
	"github.com/wingedpig/relay/internal/runner"
	"github.com/wingedpig/relay/internal/runner/localrunner"
	"github.com/wingedpig/relay/internal/runnerevents"
	"github.com/wingedpig/relay/internal/statemachine"
	"github.com/wingedpig/relay/internal/store"
)

func newTestAPI(t *testing.T) (*API, *store.Store) {
	t.Helper()
	st, err := store.New(store.Config{DataDir: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	sink := runnerevents.New(st)
	registry := runner.NewRegistry(sink, map[string]runner.Factory{
		runner.DefaultAdapterName: localrunner.New,
		"local":                   localrunner.New,
	})
	protocol := permission.New(st, sink, time.Minute)

	return New(Config{Store: st, Registry: registry, Permission: protocol, StopWait: 2 * time.Second}), st
}

func startSession(t *testing.T, api *API) *store.Session {
	t.Helper()
	sess, err := api.Create(CreateOptions{RepoID: "repo"})
	require.NoError(t, err)
	sess, err = api.Start(context.Background(), sess.ID, "do the thing", 1)
	require.NoError(t, err)
	return sess
}

func TestCreateRejectsMissingDirectory(t *testing.T) {
	api, _ := newTestAPI(t)
	_, err := api.Create(CreateOptions{Directory: "/definitely/not/here"})
	assert.ErrorIs(t, err, ErrDirectoryNotDir)
}

func TestCreateRejectsUnknownAdapter(t *testing.T) {
	api, _ := newTestAPI(t)
	_, err := api.Create(CreateOptions{Adapter: "nope"})
	assert.ErrorIs(t, err, ErrValidation)
}

func TestCreateProbesGitPresence(t *testing.T) {
	api, _ := newTestAPI(t)

	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(dir+"/.git", 0755))

	sess, err := api.Create(CreateOptions{Directory: dir})
	require.NoError(t, err)
	assert.True(t, sess.HasGit)
}

func TestCreateEnsureWorkdir(t *testing.T) {
	api, _ := newTestAPI(t)

	sess, err := api.Create(CreateOptions{RepoID: "repo", EnsureWorkdir: true})
	require.NoError(t, err)
	assert.NotEmpty(t, sess.Directory)
	assert.True(t, sess.WorkdirManaged)

	info, err := os.Stat(sess.Directory)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestStartValidatesApprovalChoice(t *testing.T) {
	api, _ := newTestAPI(t)
	sess, err := api.Create(CreateOptions{RepoID: "repo"})
	require.NoError(t, err)

	_, err = api.Start(context.Background(), sess.ID, "hi", 3)
	assert.ErrorIs(t, err, ErrValidation)
}

func TestStartTransitionsAndInfersName(t *testing.T) {
	api, st := newTestAPI(t)
	sess, err := api.Create(CreateOptions{RepoID: "repo"})
	require.NoError(t, err)

	sess, err = api.Start(context.Background(), sess.ID, "Remember 888. Reply OK.", 1)
	require.NoError(t, err)
	assert.Equal(t, store.StateRunning, sess.State)
	assert.Equal(t, "Remember 888. Reply OK.", sess.Name)
	assert.NotNil(t, sess.StartedAt)

	evs, err := st.ReadEventLog(sess.ID, 0, 0)
	require.NoError(t, err)
	require.NotEmpty(t, evs)
	assert.Equal(t, store.EventSessionState, evs[0].Type)

	_, err = api.Start(context.Background(), sess.ID, "again", 1)
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestInputRequiresRunning(t *testing.T) {
	api, _ := newTestAPI(t)
	sess, err := api.Create(CreateOptions{RepoID: "repo"})
	require.NoError(t, err)

	_, err = api.Input(context.Background(), sess.ID, "hello")
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestInputRecordsMessageAndEvent(t *testing.T) {
	api, st := newTestAPI(t)
	sess := startSession(t, api)

	_, err := api.Input(context.Background(), sess.ID, "What number?")
	require.NoError(t, err)

	msgs, err := st.GetMessages(sess.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, store.RoleUser, msgs[0].Role)

	require.Eventually(t, func() bool {
		evs, err := st.ReadEventLog(sess.ID, 0, 0)
		if err != nil {
			return false
		}
		for _, ev := range evs {
			if ev.Type == store.EventHumanInput {
				return true
			}
		}
		return false
	}, time.Second, 10*time.Millisecond)
}

func TestStopRequiresStarted(t *testing.T) {
	api, _ := newTestAPI(t)
	sess, err := api.Create(CreateOptions{RepoID: "repo"})
	require.NoError(t, err)

	_, err = api.Stop(context.Background(), sess.ID)
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestStopFinalizesAndIsIdempotent(t *testing.T) {
	api, _ := newTestAPI(t)
	sess := startSession(t, api)

	stopped, err := api.Stop(context.Background(), sess.ID)
	require.NoError(t, err)
	assert.Equal(t, store.StateStopped, stopped.State)
	assert.NotNil(t, stopped.EndedAt)

	again, err := api.Stop(context.Background(), sess.ID)
	require.NoError(t, err)
	assert.Equal(t, store.StateStopped, again.State)
}

func TestInterruptFinalizesToStopped(t *testing.T) {
	api, st := newTestAPI(t)
	sess := startSession(t, api)

	interrupted, err := api.Interrupt(context.Background(), sess.ID)
	require.NoError(t, err)
	assert.Equal(t, store.StateInterrupting, interrupted.State)

	require.Eventually(t, func() bool {
		got, err := st.Get(sess.ID)
		return err == nil && got.State == store.StateStopped
	}, 3*time.Second, 20*time.Millisecond)
}

func TestInterruptFromAwaitingInput(t *testing.T) {
	api, st := newTestAPI(t)
	sess := startSession(t, api)

	_, err := st.Update(sess.ID, func(s *store.Session) {
		res := statemachine.OnAwaitingInput(s)
		require.True(t, res.Applied)
	})
	require.NoError(t, err)

	interrupted, err := api.Interrupt(context.Background(), sess.ID)
	require.NoError(t, err)
	assert.Equal(t, store.StateInterrupting, interrupted.State)

	require.Eventually(t, func() bool {
		got, err := st.Get(sess.ID)
		return err == nil && got.State == store.StateStopped
	}, 3*time.Second, 20*time.Millisecond)
}

func TestInterruptRequiresActive(t *testing.T) {
	api, _ := newTestAPI(t)
	sess, err := api.Create(CreateOptions{RepoID: "repo"})
	require.NoError(t, err)

	_, err = api.Interrupt(context.Background(), sess.ID)
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestDeleteRefusesActiveSession(t *testing.T) {
	api, _ := newTestAPI(t)
	sess := startSession(t, api)

	assert.ErrorIs(t, api.Delete(sess.ID), ErrInvalidState)
}

func TestDeleteRemovesManagedWorkdir(t *testing.T) {
	api, st := newTestAPI(t)

	sess, err := api.Create(CreateOptions{RepoID: "repo", EnsureWorkdir: true})
	require.NoError(t, err)
	dir := sess.Directory

	require.NoError(t, api.Delete(sess.ID))

	_, err = os.Stat(dir)
	assert.True(t, os.IsNotExist(err))

	_, err = st.Get(sess.ID)
	assert.ErrorIs(t, err, store.ErrSessionNotFound)
}

func TestDeleteKeepsUnmanagedDirectory(t *testing.T) {
	api, _ := newTestAPI(t)

	dir := t.TempDir()
	sess, err := api.Create(CreateOptions{Directory: dir})
	require.NoError(t, err)

	require.NoError(t, api.Delete(sess.ID))

	_, err = os.Stat(dir)
	assert.NoError(t, err)
}

func TestRenameTrimsAndTruncates(t *testing.T) {
	api, _ := newTestAPI(t)
	sess, err := api.Create(CreateOptions{RepoID: "repo"})
	require.NoError(t, err)

	long := strings.Repeat("name ", 40)
	renamed, err := api.Rename(sess.ID, "  some \t  "+long)
	require.NoError(t, err)
	assert.LessOrEqual(t, len(renamed.Name), 80)
	assert.NotContains(t, renamed.Name, "\t")
	assert.NotContains(t, renamed.Name, "  ")
}

func TestExportImportRoundTrip(t *testing.T) {
	api, st := newTestAPI(t)
	sess := startSession(t, api)

	_, err := st.AddMessage(sess.ID, store.RoleAssistant, []store.ContentBlock{{Type: "text", Text: "done"}})
	require.NoError(t, err)

	full, err := api.Export(sess.ID, ExportFull)
	require.NoError(t, err)
	require.Len(t, full.Messages, 1)
	assert.Equal(t, "done", full.Messages[0].Content[0].Text)

	summary, err := api.Export(sess.ID, ExportSummary)
	require.NoError(t, err)
	require.Len(t, summary.Messages, 1)
	assert.Empty(t, summary.Messages[0].Content)

	imported, err := api.Import(*full)
	require.NoError(t, err)
	assert.NotEqual(t, sess.ID, imported.ID)
	assert.Equal(t, sess.Name, imported.Name)

	msgs, err := st.GetMessages(imported.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "done", msgs[0].Content[0].Text)
}

func TestDiffReturnsEmptyList(t *testing.T) {
	api, _ := newTestAPI(t)
	sess, err := api.Create(CreateOptions{RepoID: "repo"})
	require.NoError(t, err)

	diffs, err := api.Diff(sess.ID)
	require.NoError(t, err)
	assert.Empty(t, diffs)
}

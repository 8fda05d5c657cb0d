// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package runnerevents

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wingedpig/relay/internal/statemachine"
	"github.com/wingedpig/relay/internal/store"
)

func newTestSink(t *testing.T) (*Sink, *store.Store, string) {
	t.Helper()
	st, err := store.New(store.Config{DataDir: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	sess, err := st.CreateSession("repo", "")
	require.NoError(t, err)
	return New(st), st, sess.ID
}

func setState(t *testing.T, st *store.Store, id string, to store.State) {
	t.Helper()
	_, err := st.Update(id, func(s *store.Session) {
		res := statemachine.Apply(s, to, nil)
		require.True(t, res.Applied, "transition %s -> %s", s.State, to)
	})
	require.NoError(t, err)
}

func eventTypes(t *testing.T, st *store.Store, id string) []store.EventType {
	t.Helper()
	evs, err := st.ReadEventLog(id, 0, 0)
	require.NoError(t, err)
	out := make([]store.EventType, len(evs))
	for i, ev := range evs {
		out[i] = ev.Type
	}
	return out
}

func TestOnHeaderCapturesThreadIDOnce(t *testing.T) {
	sink, st, id := newTestSink(t)

	sink.OnHeader(id, "banner", "thread-1", "model-x", "prov")
	sink.OnHeader(id, "banner", "thread-2", "model-x", "prov")

	got, err := st.GetRunnerSessionID(id)
	require.NoError(t, err)
	assert.Equal(t, "thread-1", got)
}

func TestOnHeaderIgnoresUnknownThreadID(t *testing.T) {
	sink, st, id := newTestSink(t)

	sink.OnHeader(id, "banner", "unknown", "", "")

	got, err := st.GetRunnerSessionID(id)
	require.NoError(t, err)
	assert.Empty(t, got)

	sess, _ := st.Get(id)
	assert.Equal(t, "banner", sess.Header)
}

func TestOnOutputDedupsRepeatedText(t *testing.T) {
	sink, st, id := newTestSink(t)

	sink.OnOutput(id, "assistant", "hello", "", false)
	sink.OnOutput(id, "assistant", "hello", "", false)
	sink.OnOutput(id, "assistant", "world", "", true)

	types := eventTypes(t, st, id)
	assert.Equal(t, []store.EventType{store.EventOutput, store.EventOutputFinal}, types)
}

func TestOnOutputHeaderKindStoresHeader(t *testing.T) {
	sink, st, id := newTestSink(t)

	sink.OnOutput(id, "stdout", "model banner", "header", false)

	sess, _ := st.Get(id)
	assert.Equal(t, "model banner", sess.Header)
	assert.NotContains(t, eventTypes(t, st, id), store.EventOutput)
}

func TestOnExitZeroAndNilAreNoOps(t *testing.T) {
	sink, st, id := newTestSink(t)
	setState(t, st, id, store.StateRunning)

	zero := 0
	sink.OnExit(id, nil)
	sink.OnExit(id, &zero)

	sess, _ := st.Get(id)
	assert.Equal(t, store.StateRunning, sess.State)
}

func TestOnExitNonzeroTransitionsToError(t *testing.T) {
	sink, st, id := newTestSink(t)
	setState(t, st, id, store.StateRunning)

	code := 3
	sink.OnExit(id, &code)

	sess, _ := st.Get(id)
	assert.Equal(t, store.StateError, sess.State)
	require.NotNil(t, sess.ExitCode)
	assert.Equal(t, 3, *sess.ExitCode)
	assert.Contains(t, eventTypes(t, st, id), store.EventSessionState)
}

func TestOnExitNonzeroIgnoredWhileAwaitingInput(t *testing.T) {
	sink, st, id := newTestSink(t)
	setState(t, st, id, store.StateRunning)
	setState(t, st, id, store.StateAwaitingInput)

	code := 1
	sink.OnExit(id, &code)

	sess, _ := st.Get(id)
	assert.Equal(t, store.StateAwaitingInput, sess.State)
}

func TestOnErrorIsIdempotent(t *testing.T) {
	sink, st, id := newTestSink(t)
	setState(t, st, id, store.StateRunning)

	sink.OnError(id, "boom", "first failure")
	sink.OnError(id, "boom", "second failure")

	sess, _ := st.Get(id)
	assert.Equal(t, store.StateError, sess.State)

	var stateEvents int
	for _, typ := range eventTypes(t, st, id) {
		if typ == store.EventSessionState {
			stateEvents++
		}
	}
	assert.Equal(t, 1, stateEvents)
}

func TestOnAwaitingInputOnlyFromRunning(t *testing.T) {
	sink, st, id := newTestSink(t)

	sink.OnAwaitingInput(id)
	sess, _ := st.Get(id)
	assert.Equal(t, store.StateCreated, sess.State)

	setState(t, st, id, store.StateRunning)
	sink.OnAwaitingInput(id)
	sess, _ = st.Get(id)
	assert.Equal(t, store.StateAwaitingInput, sess.State)

	sink.OnAwaitingInput(id)
	sess, _ = st.Get(id)
	assert.Equal(t, store.StateAwaitingInput, sess.State)
}

func TestOnMetadataAndHeartbeatEmitEvents(t *testing.T) {
	sink, st, id := newTestSink(t)

	sink.OnMetadata(id, "tokens", []byte(`{"input":5,"output":7}`))
	sink.OnHeartbeat(id, 1.5, false)

	types := eventTypes(t, st, id)
	assert.Equal(t, []store.EventType{store.EventMetadata, store.EventHeartbeat}, types)

	usage, err := st.SessionUsage(id)
	require.NoError(t, err)
	assert.Equal(t, 5, usage.InputTokens)
	assert.Equal(t, 7, usage.OutputTokens)
}

// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package permission

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wingedpig/relay/internal/runnerevents"
	"github.com/wingedpig/relay/internal/store"
)

func newTestProtocol(t *testing.T, timeout time.Duration) (*Protocol, *store.Store, string) {
	t.Helper()
	st, err := store.New(store.Config{DataDir: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	sess, err := st.CreateSession("repo", "")
	require.NoError(t, err)

	return New(st, runnerevents.New(st), timeout), st, sess.ID
}

func TestResolveFirstWriterWins(t *testing.T) {
	p, st, id := newTestProtocol(t, time.Minute)

	future, err := p.Register(context.Background(), id, "req-1", "tool_use", nil)
	require.NoError(t, err)

	assert.True(t, p.Resolve(id, "req-1", store.PermissionResult{Allowed: true, ResolvedBy: "alice"}))
	assert.False(t, p.Resolve(id, "req-1", store.PermissionResult{Allowed: false, ResolvedBy: "bob"}))

	result, ok := future.Wait(context.Background())
	require.True(t, ok)
	assert.True(t, result.Allowed)
	assert.Equal(t, "alice", result.ResolvedBy)

	evs, err := st.ReadEventLog(id, 0, 0)
	require.NoError(t, err)
	require.Len(t, evs, 1)
	assert.Equal(t, store.EventPermissionResolved, evs[0].Type)
}

func TestTimeoutAutoDenies(t *testing.T) {
	p, st, id := newTestProtocol(t, 50*time.Millisecond)

	future, err := p.Register(context.Background(), id, "req-t", "tool_use", nil)
	require.NoError(t, err)

	waitCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	result, ok := future.Wait(waitCtx)
	require.True(t, ok)
	assert.False(t, result.Allowed)
	assert.Equal(t, "timeout", result.Reason)

	// The auto-denial is logged like any human resolution.
	require.Eventually(t, func() bool {
		evs, err := st.ReadEventLog(id, 0, 0)
		if err != nil {
			return false
		}
		for _, ev := range evs {
			if ev.Type == store.EventPermissionResolved {
				return true
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond)

	// Too late: the timeout already resolved it.
	assert.False(t, p.Resolve(id, "req-t", store.PermissionResult{Allowed: true}))
}

func TestHumanResolutionBeatsTimeout(t *testing.T) {
	p, _, id := newTestProtocol(t, 100*time.Millisecond)

	future, err := p.Register(context.Background(), id, "req-h", "tool_use", nil)
	require.NoError(t, err)

	require.True(t, p.Resolve(id, "req-h", store.PermissionResult{Allowed: true, ResolvedBy: "carol"}))

	result, ok := future.Wait(context.Background())
	require.True(t, ok)
	assert.True(t, result.Allowed)

	// Give the timeout goroutine a chance to fire; it must not overwrite.
	time.Sleep(200 * time.Millisecond)
	again, _ := future.Wait(context.Background())
	assert.True(t, again.Allowed)
	assert.Equal(t, "carol", again.ResolvedBy)
}

// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package bridgesub

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wingedpig/relay/internal/store"
)

// fixedPairing accepts exactly one code.
type fixedPairing struct {
	code    string
	claimed map[string]bool
}

func (p *fixedPairing) Verified(userID string) bool { return p.claimed[userID] }

func (p *fixedPairing) Claim(userID, code string) bool {
	if code != p.code {
		return false
	}
	if p.claimed == nil {
		p.claimed = make(map[string]bool)
	}
	p.claimed[userID] = true
	return true
}

func TestThreadMessageDenyResolvesPending(t *testing.T) {
	h := newHarness(t)
	cmds := NewCommands(h.subscriber, nil)

	future, err := h.protocol.Register(context.Background(), h.sessionID, "req-d", "tool_use", nil)
	require.NoError(t, err)
	h.subscriber.features.trackPending(h.sessionID, "req-d", "Bash")

	res, err := cmds.HandleThreadMessage(context.Background(), h.sessionID, "user-1", "deny: too risky")
	require.NoError(t, err)
	assert.Equal(t, "denied", res.Reply)

	result, ok := future.Wait(context.Background())
	require.True(t, ok)
	assert.False(t, result.Allowed)
	assert.Equal(t, "too risky", result.Message)
	assert.Equal(t, "user-1", result.ResolvedBy)
}

func TestThreadMessageAllowResolvesPending(t *testing.T) {
	h := newHarness(t)
	cmds := NewCommands(h.subscriber, nil)

	future, err := h.protocol.Register(context.Background(), h.sessionID, "req-a", "tool_use", nil)
	require.NoError(t, err)
	h.subscriber.features.trackPending(h.sessionID, "req-a", "Bash")

	res, err := cmds.HandleThreadMessage(context.Background(), h.sessionID, "user-1", "allow")
	require.NoError(t, err)
	assert.Equal(t, "allowed", res.Reply)

	result, ok := future.Wait(context.Background())
	require.True(t, ok)
	assert.True(t, result.Allowed)
}

func TestThreadMessageDenyWithoutPending(t *testing.T) {
	h := newHarness(t)
	cmds := NewCommands(h.subscriber, nil)

	res, err := cmds.HandleThreadMessage(context.Background(), h.sessionID, "user-1", "deny: nope")
	require.NoError(t, err)
	assert.Equal(t, "no pending approval to deny", res.Reply)
}

func TestThreadMessageForwardsAsInput(t *testing.T) {
	h := newHarness(t)
	cmds := NewCommands(h.subscriber, nil)

	// Input requires a RUNNING session.
	_, err := h.store.Update(h.sessionID, func(s *store.Session) { s.State = store.StateRunning })
	require.NoError(t, err)

	res, err := cmds.HandleThreadMessage(context.Background(), h.sessionID, "user-1", "what number?")
	require.NoError(t, err)
	assert.Equal(t, "sent", res.Reply)

	msgs, err := h.store.GetMessages(h.sessionID)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "what number?", msgs[0].Content[0].Text)
}

func TestControlCommandsRequirePairing(t *testing.T) {
	h := newHarness(t)
	cmds := NewCommands(h.subscriber, &fixedPairing{code: "1234"})

	res, err := cmds.HandleControlMessage(context.Background(), "user-1", "!list")
	require.NoError(t, err)
	assert.Equal(t, "send !pair <code> first", res.Reply)

	res, err = cmds.HandleControlMessage(context.Background(), "user-1", "!pair 9999")
	require.NoError(t, err)
	assert.Equal(t, "invalid pairing code", res.Reply)

	res, err = cmds.HandleControlMessage(context.Background(), "user-1", "!pair 1234")
	require.NoError(t, err)
	assert.Equal(t, "paired", res.Reply)

	res, err = cmds.HandleControlMessage(context.Background(), "user-1", "!help")
	require.NoError(t, err)
	assert.Contains(t, res.Reply, "!status")
}

func TestControlListAndStatus(t *testing.T) {
	h := newHarness(t)
	cmds := NewCommands(h.subscriber, nil)

	res, err := cmds.HandleControlMessage(context.Background(), "user-1", "!list")
	require.NoError(t, err)
	assert.Contains(t, res.Reply, "repo")

	res, err = cmds.HandleControlMessage(context.Background(), "user-1", "!status")
	require.NoError(t, err)
	assert.Contains(t, res.Reply, "1 session(s)")
}

func TestControlStop(t *testing.T) {
	h := newHarness(t)
	cmds := NewCommands(h.subscriber, nil)

	_, err := h.store.Update(h.sessionID, func(s *store.Session) { s.State = store.StateRunning })
	require.NoError(t, err)

	res, err := cmds.HandleControlMessage(context.Background(), "user-1", "!stop "+h.sessionID)
	require.NoError(t, err)
	assert.Equal(t, "stopped", res.Reply)

	require.Eventually(t, func() bool {
		got, err := h.store.Get(h.sessionID)
		return err == nil && got.State == store.StateStopped
	}, 3*time.Second, 20*time.Millisecond)
}

func TestControlUnknownCommand(t *testing.T) {
	h := newHarness(t)
	cmds := NewCommands(h.subscriber, nil)

	res, err := cmds.HandleControlMessage(context.Background(), "user-1", "!frobnicate")
	require.NoError(t, err)
	assert.Contains(t, res.Reply, "!help")
}

// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package bridge

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingBridge struct {
	name     string
	outputs  []string
	statuses []string
}

func (r *recordingBridge) Name() string { return r.name }

func (r *recordingBridge) OnOutput(ctx context.Context, sessionID, text string, metadata map[string]string) error {
	r.outputs = append(r.outputs, text)
	return nil
}

func (r *recordingBridge) OnApprovalRequest(ctx context.Context, sessionID string, req ApprovalRequest) error {
	return nil
}

func (r *recordingBridge) OnStatusChange(ctx context.Context, sessionID, status string, metadata map[string]string) error {
	r.statuses = append(r.statuses, status)
	return nil
}

func (r *recordingBridge) OnTyping(ctx context.Context, sessionID string) error        { return nil }
func (r *recordingBridge) OnTypingStopped(ctx context.Context, sessionID string) error { return nil }
func (r *recordingBridge) OnSessionRemoved(ctx context.Context, sessionID string) error {
	return nil
}

func (r *recordingBridge) CreateThread(ctx context.Context, sessionID, name string) (ThreadInfo, error) {
	return ThreadInfo{ThreadID: "thread-" + name, Platform: r.name}, nil
}

func TestManagerRoutesByPlatform(t *testing.T) {
	m := NewManager()
	tg := &recordingBridge{name: "telegram"}
	sl := &recordingBridge{name: "slack"}
	m.RegisterBridge(tg.Name(), tg)
	m.RegisterBridge(sl.Name(), sl)

	require.NoError(t, m.RouteOutput(context.Background(), "telegram", "s1", "hi", nil))
	require.NoError(t, m.RouteStatus(context.Background(), "slack", "s1", "error", nil))

	assert.Equal(t, []string{"hi"}, tg.outputs)
	assert.Empty(t, tg.statuses)
	assert.Equal(t, []string{"error"}, sl.statuses)
	assert.Empty(t, sl.outputs)
}

func TestManagerUnknownPlatform(t *testing.T) {
	m := NewManager()

	err := m.RouteOutput(context.Background(), "nope", "s1", "hi", nil)
	var unknown ErrUnknownBridge
	require.True(t, errors.As(err, &unknown))
	assert.Equal(t, "nope", unknown.Name)

	_, err = m.CreateThread(context.Background(), "nope", "s1", "name")
	assert.Error(t, err)
}

func TestManagerCreateThread(t *testing.T) {
	m := NewManager()
	tg := &recordingBridge{name: "telegram"}
	m.RegisterBridge(tg.Name(), tg)

	info, err := m.CreateThread(context.Background(), "telegram", "s1", "fix bug")
	require.NoError(t, err)
	assert.Equal(t, "thread-fix bug", info.ThreadID)
	assert.Equal(t, "telegram", info.Platform)
}

func TestManagerReplacesBridge(t *testing.T) {
	m := NewManager()
	first := &recordingBridge{name: "telegram"}
	second := &recordingBridge{name: "telegram"}
	m.RegisterBridge("telegram", first)
	m.RegisterBridge("telegram", second)

	got, ok := m.GetBridge("telegram")
	require.True(t, ok)
	assert.Same(t, Interface(second), got)
}

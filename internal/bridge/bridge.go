// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package bridge defines the platform-agnostic contract a chat bridge
// implements and the name→bridge registration map every concrete bridge
// (slackbridge, telegrambridge, discordbridge) registers into. The core
// never imports a platform SDK; it only dispatches through this map.
package bridge

import (
	"context"
	"fmt"
	"sync"
)

// ApprovalRequest is what the Bridge Subscriber synthesizes from a
// permission_request event for on_approval_request to render.
type ApprovalRequest struct {
	RequestID   string
	Title       string
	Description string
	Options     []string
}

// ThreadInfo is what CreateThread returns once a platform-specific
// conversation grouping exists.
type ThreadInfo struct {
	ThreadID string
	Platform string
}

// Interface is the contract every chat-platform bridge implements.
// Implementations perform their own
// network I/O and must not block the caller indefinitely; the bridge
// subscriber guards every call with its own error boundary regardless.
type Interface interface {
	OnOutput(ctx context.Context, sessionID, text string, metadata map[string]string) error
	OnApprovalRequest(ctx context.Context, sessionID string, req ApprovalRequest) error
	OnStatusChange(ctx context.Context, sessionID, status string, metadata map[string]string) error
	OnTyping(ctx context.Context, sessionID string) error
	OnTypingStopped(ctx context.Context, sessionID string) error
	OnSessionRemoved(ctx context.Context, sessionID string) error
	CreateThread(ctx context.Context, sessionID, name string) (ThreadInfo, error)
	// Name returns the platform tag this bridge is registered under
	// ("telegram", "slack", "discord", ...).
	Name() string
}

// ErrUnknownBridge is returned when routing to a platform with no
// registered bridge.
type ErrUnknownBridge struct{ Name string }

func (e ErrUnknownBridge) Error() string { return fmt.Sprintf("bridge: unknown platform %q", e.Name) }

// Manager holds the name→bridge map and dispatches route_* calls by the
// platform tag on a session.
type Manager struct {
	mu       sync.RWMutex
	bridges  map[string]Interface
}

// NewManager constructs an empty Manager.
func NewManager() *Manager {
	return &Manager{bridges: make(map[string]Interface)}
}

// RegisterBridge adds or replaces the bridge for a platform name.
func (m *Manager) RegisterBridge(name string, b Interface) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bridges[name] = b
}

// GetBridge returns the bridge registered under name, if any.
func (m *Manager) GetBridge(name string) (Interface, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.bridges[name]
	return b, ok
}

// RouteOutput dispatches on_output to the named platform's bridge. Calls
// are fire-and-forget from the producer's view: errors are
// returned for the bridge subscriber's own error boundary to log, never
// to block or mutate session state.
func (m *Manager) RouteOutput(ctx context.Context, platform, sessionID, text string, metadata map[string]string) error {
	b, ok := m.GetBridge(platform)
	if !ok {
		return ErrUnknownBridge{Name: platform}
	}
	return b.OnOutput(ctx, sessionID, text, metadata)
}

// RouteApproval dispatches on_approval_request to the named platform's bridge.
func (m *Manager) RouteApproval(ctx context.Context, platform, sessionID string, req ApprovalRequest) error {
	b, ok := m.GetBridge(platform)
	if !ok {
		return ErrUnknownBridge{Name: platform}
	}
	return b.OnApprovalRequest(ctx, sessionID, req)
}

// RouteStatus dispatches on_status_change to the named platform's bridge.
func (m *Manager) RouteStatus(ctx context.Context, platform, sessionID, status string, metadata map[string]string) error {
	b, ok := m.GetBridge(platform)
	if !ok {
		return ErrUnknownBridge{Name: platform}
	}
	return b.OnStatusChange(ctx, sessionID, status, metadata)
}

// RouteTyping dispatches on_typing to the named platform's bridge.
func (m *Manager) RouteTyping(ctx context.Context, platform, sessionID string) error {
	b, ok := m.GetBridge(platform)
	if !ok {
		return ErrUnknownBridge{Name: platform}
	}
	return b.OnTyping(ctx, sessionID)
}

// RouteTypingStopped dispatches on_typing_stopped to the named platform's bridge.
func (m *Manager) RouteTypingStopped(ctx context.Context, platform, sessionID string) error {
	b, ok := m.GetBridge(platform)
	if !ok {
		return ErrUnknownBridge{Name: platform}
	}
	return b.OnTypingStopped(ctx, sessionID)
}

// RouteSessionRemoved dispatches on_session_removed to the named platform's bridge.
func (m *Manager) RouteSessionRemoved(ctx context.Context, platform, sessionID string) error {
	b, ok := m.GetBridge(platform)
	if !ok {
		return ErrUnknownBridge{Name: platform}
	}
	return b.OnSessionRemoved(ctx, sessionID)
}

// CreateThread dispatches create_thread to the named platform's bridge.
func (m *Manager) CreateThread(ctx context.Context, platform, sessionID, name string) (ThreadInfo, error) {
	b, ok := m.GetBridge(platform)
	if !ok {
		return ThreadInfo{}, ErrUnknownBridge{Name: platform}
	}
	return b.CreateThread(ctx, sessionID, name)
}

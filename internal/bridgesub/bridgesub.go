// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package bridgesub runs one cooperative task per session bound to a
// chat platform, turning the event log into bridge calls and feeding
// chat commands back into the Session API and Permission Protocol. The
// loop subscribes, ranges over a channel, and guards every downstream
// call with its own recover/log boundary so one failure never kills it.
package bridgesub

import (
	"context"
	"encoding/json"
	"log"

	"github.com/wingedpig/relay/internal/bridge"
	"github.com/wingedpig/relay/internal/permission"
	"github.com/wingedpig/relay/internal/sessionapi"
	"github.com/wingedpig/relay/internal/store"
)

// Subscriber drives one session's event log into a bound chat bridge and
// routes commands back.
type Subscriber struct {
	store      *store.Store
	bridges    *bridge.Manager
	session    *sessionapi.API
	permission *permission.Protocol

	features *features
}

// New constructs a Subscriber.
func New(st *store.Store, bridges *bridge.Manager, session *sessionapi.API, perm *permission.Protocol) *Subscriber {
	return &Subscriber{
		store:      st,
		bridges:    bridges,
		session:    session,
		permission: perm,
		features:   newFeatures(),
	}
}

// Run subscribes to sessionID's event log and translates it to bridge
// calls on platform until ctx is cancelled or the session is deleted. It
// is meant to be run as its own goroutine, one per platform-bound
// session.
func (s *Subscriber) Run(ctx context.Context, sessionID, platform string) {
	ch, err := s.store.NewSubscriber(sessionID)
	if err != nil {
		log.Printf("bridgesub: subscribe %s: %v", sessionID, err)
		return
	}
	defer s.store.RemoveSubscriber(sessionID, ch)
	defer s.features.stopTyping(sessionID)

	for {
		select {
		case ev, open := <-ch:
			if !open {
				s.notifyRemoved(ctx, platform, sessionID)
				return
			}
			s.handle(ctx, platform, sessionID, ev)
		case <-ctx.Done():
			s.notifyRemoved(ctx, platform, sessionID)
			return
		}
	}
}

func (s *Subscriber) notifyRemoved(ctx context.Context, platform, sessionID string) {
	s.guard(func() error { return s.bridges.RouteSessionRemoved(ctx, platform, sessionID) },
		"on_session_removed", sessionID)
}

// guard calls fn and logs (never panics or propagates) any error. A
// single bridge failure must not stop the subscriber.
func (s *Subscriber) guard(fn func() error, what, sessionID string) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("bridgesub: %s for %s panicked: %v", what, sessionID, r)
		}
	}()
	if err := fn(); err != nil {
		log.Printf("bridgesub: %s for %s: %v", what, sessionID, err)
	}
}

// handle maps one event by type to a bridge call.
// Events carrying payload.is_history == true are replay/backfill and are
// always skipped.
func (s *Subscriber) handle(ctx context.Context, platform, sessionID string, ev store.Event) {
	if isHistory(ev) {
		return
	}

	switch ev.Type {
	case store.EventOutput:
		s.handleOutput(ctx, platform, sessionID, ev)
	case store.EventOutputFinal:
		// Ignored: avoids double-send, the final text already went out
		// via EventOutput with final==true.
	case store.EventPermissionRequest:
		s.handlePermissionRequest(ctx, platform, sessionID, ev)
	case store.EventSessionState:
		s.handleSessionState(ctx, platform, sessionID, ev)
	case store.EventError:
		s.handleError(ctx, platform, sessionID, ev)
	}
}

func (s *Subscriber) handleOutput(ctx context.Context, platform, sessionID string, ev store.Event) {
	var payload struct {
		Text  string `json:"text"`
		Final bool   `json:"final"`
	}
	if err := json.Unmarshal(ev.Payload, &payload); err != nil {
		return
	}
	if payload.Text == "" || !payload.Final {
		return
	}
	s.features.batch(sessionID, payload.Text, func(text string) {
		s.guard(func() error { return s.bridges.RouteOutput(ctx, platform, sessionID, text, nil) },
			"on_output", sessionID)
	})
}

func (s *Subscriber) handlePermissionRequest(ctx context.Context, platform, sessionID string, ev store.Event) {
	var payload struct {
		RequestID string          `json:"request_id"`
		ToolName  string          `json:"tool_name"`
		ToolInput json.RawMessage `json:"tool_input"`
	}
	if err := json.Unmarshal(ev.Payload, &payload); err != nil {
		return
	}

	if allowed, ok := s.features.autoAllow(sessionID, payload.ToolName); ok && allowed {
		s.permission.Resolve(sessionID, payload.RequestID, store.PermissionResult{Allowed: true, ResolvedBy: "auto-allow-timer"})
		return
	}

	req := bridge.ApprovalRequest{
		RequestID:   payload.RequestID,
		Title:       payload.ToolName,
		Description: string(payload.ToolInput),
		Options:     []string{"Allow", "Deny"},
	}
	s.features.trackPending(sessionID, payload.RequestID, payload.ToolName)
	s.guard(func() error { return s.bridges.RouteApproval(ctx, platform, sessionID, req) },
		"on_approval_request", sessionID)
}

func (s *Subscriber) handleSessionState(ctx context.Context, platform, sessionID string, ev store.Event) {
	var payload struct {
		To string `json:"to"`
	}
	if err := json.Unmarshal(ev.Payload, &payload); err != nil {
		return
	}
	switch store.State(payload.To) {
	case store.StateRunning:
		s.guard(func() error { return s.bridges.RouteTyping(ctx, platform, sessionID) }, "on_typing", sessionID)
	case store.StateError:
		if s.features.debounceStatus(sessionID, "error") {
			return
		}
		s.guard(func() error { return s.bridges.RouteStatus(ctx, platform, sessionID, "error", nil) },
			"on_status_change", sessionID)
	case store.StateAwaitingInput:
		// Neither on_typing nor on_status_change: let typing stop naturally.
	}
}

func (s *Subscriber) handleError(ctx context.Context, platform, sessionID string, ev store.Event) {
	var payload struct {
		Message string `json:"message"`
	}
	json.Unmarshal(ev.Payload, &payload)
	if s.features.debounceStatus(sessionID, "error") {
		return
	}
	meta := map[string]string{"message": payload.Message}
	s.guard(func() error { return s.bridges.RouteStatus(ctx, platform, sessionID, "error", meta) },
		"on_status_change", sessionID)
}

func isHistory(ev store.Event) bool {
	var payload struct {
		IsHistory bool `json:"is_history"`
	}
	if err := json.Unmarshal(ev.Payload, &payload); err != nil {
		return false
	}
	return payload.IsHistory
}

// AllowAll arms the allow-all timer for a session, auto-resolving incoming approval requests as
// allowed for its default duration.
func (s *Subscriber) AllowAll(sessionID string) { s.features.armAllowAll(sessionID) }

// AllowTool arms the per-tool allow timer for a session and tool name.
func (s *Subscriber) AllowTool(sessionID, toolName string) { s.features.armAllowTool(sessionID, toolName) }

// StartTyping starts the typing-indicator cooperative task for a
// session, calling send on an interval until StopTyping is called or ctx
// is cancelled.
func (s *Subscriber) StartTyping(ctx context.Context, sessionID string, send func() error) {
	s.features.startTyping(ctx, sessionID, send)
}

// StopTyping cancels a session's typing-indicator task.
func (s *Subscriber) StopTyping(sessionID string) { s.features.stopTyping(sessionID) }

// UniqueThreadName returns name, suffixed "_2", "_3", ... if it collides
// with a name already registered for this bridge process.
func (s *Subscriber) UniqueThreadName(name string) string { return s.features.uniqueName(name) }

// PendingToolFor returns the tool name tracked for a still-unresolved
// permission request, used by the chat "deny: <reason>" / per-tool allow
// command handlers.
func (s *Subscriber) PendingToolFor(sessionID, requestID string) (string, bool) {
	return s.features.pendingTool(sessionID, requestID)
}

// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package permission wires the timeout-enforced half of the approval
// protocol on top of internal/store's pending-permission futures:
// registering a request starts a timer that auto-denies it if no human
// resolves it first.
package permission

import (
	"context"
	"encoding/json"
	"time"

	"github.com/wingedpig/relay/internal/runner"
	"github.com/wingedpig/relay/internal/store"
)

// DefaultTimeout is the default per-request resolution timeout.
const DefaultTimeout = 300 * time.Second

// Protocol registers permission requests and enforces their timeouts.
type Protocol struct {
	store   *store.Store
	events  runner.Events
	timeout time.Duration
}

// New constructs a Protocol. events is the same sink the runner registry
// hands every adapter, so a timeout auto-denial emits the same
// permission_resolved event a human resolution would.
func New(st *store.Store, events runner.Events, timeout time.Duration) *Protocol {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Protocol{store: st, events: events, timeout: timeout}
}

// Register adds a pending permission for (sessionID, requestID) and
// starts its timeout countdown. The returned future is what a Runner
// adapter should await after calling OnPermissionRequest.
func (p *Protocol) Register(ctx context.Context, sessionID, requestID, kind string, payload json.RawMessage) (*store.Future, error) {
	future, err := p.store.AddPendingPermission(sessionID, requestID, kind, payload)
	if err != nil {
		return nil, err
	}

	timeoutCtx, cancel := context.WithTimeout(context.Background(), p.timeout)
	go func() {
		defer cancel()
		if _, ok := future.Wait(timeoutCtx); ok {
			return
		}
		if p.store.ResolvePendingPermission(sessionID, requestID, store.PermissionResult{
			Allowed: false,
			Reason:  "timeout",
		}) {
			p.events.OnPermissionResolved(sessionID, requestID, "", false, "")
		}
	}()

	return future, nil
}

// Resolve records a human resolution (HTTP or chat). First resolution
// wins (store.ResolvePendingPermission enforces that); subsequent
// attempts return false.
func (p *Protocol) Resolve(sessionID, requestID string, result store.PermissionResult) bool {
	ok := p.store.ResolvePendingPermission(sessionID, requestID, result)
	if ok {
		p.events.OnPermissionResolved(sessionID, requestID, result.ResolvedBy, result.Allowed, result.Message)
	}
	return ok
}

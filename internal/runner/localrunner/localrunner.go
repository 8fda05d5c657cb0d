// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package localrunner is an in-process fake Runner used by tests and by
// the registry's adapter validation path. It produces deterministic
// output synchronously rather than spawning any subprocess or making any
// network call.
package localrunner

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/wingedpig/relay/internal/runner"
)

// Runner is the "local" adapter: every Start/SendInput call runs
// synchronously and immediately reports a canned response through the
// Events sink. It exists so the rest of relay can be exercised without a
// real agent backend.
type Runner struct {
	events runner.Events

	mu      sync.Mutex
	exited  map[string]bool
}

// New constructs the local adapter. It matches runner.Factory's shape so
// it can be registered directly: registry.Register("local", localrunner.New).
func New(events runner.Events) (runner.Runner, error) {
	return &Runner{events: events, exited: make(map[string]bool)}, nil
}

func (r *Runner) Start(ctx context.Context, sessionID, prompt string, approvalChoice int) error {
	r.events.OnHeader(sessionID, "local session", "", "local-echo", "local")
	reply := fmt.Sprintf("echo: %s", strings.TrimSpace(prompt))
	r.events.OnOutput(sessionID, "assistant", reply, "", true)
	return nil
}

func (r *Runner) SendInput(ctx context.Context, sessionID, text string) error {
	reply := fmt.Sprintf("echo: %s", strings.TrimSpace(text))
	r.events.OnOutput(sessionID, "assistant", reply, "", true)
	return nil
}

func (r *Runner) Stop(ctx context.Context, sessionID string) (*int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.exited[sessionID] {
		return intPtr(0), nil
	}
	r.exited[sessionID] = true
	r.events.OnExit(sessionID, intPtr(0))
	return intPtr(0), nil
}

func (r *Runner) UpdatePermissionMode(ctx context.Context, sessionID, mode string) error {
	raw, _ := json.Marshal(map[string]string{"permission_mode": mode})
	r.events.OnMetadata(sessionID, "permission_mode", raw)
	return nil
}

func (r *Runner) Type() string { return "local" }

func intPtr(v int) *int { return &v }

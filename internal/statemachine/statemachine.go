// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package statemachine enforces the session lifecycle transition table:
// which transitions are legal, what timestamps and events they produce,
// and how a session's display name is inferred from its first input. It
// holds no state of its own; every call takes the current session and
// returns what changed.
package statemachine

import (
	"strings"
	"time"

	"github.com/wingedpig/relay/internal/store"
)

// maxNameLength bounds inferred and renamed session names.
const maxNameLength = 80

// Result describes the side effects of an attempted transition.
type Result struct {
	Applied bool
	From    store.State
	To      store.State
}

// edges is the transition table. Each entry maps a source state to the
// set of states reachable directly from it (not counting the universal
// non-terminal → ERROR edge, handled separately).
var edges = map[store.State]map[store.State]bool{
	store.StateCreated: {
		store.StateRunning: true,
	},
	store.StateRunning: {
		store.StateAwaitingInput: true,
		store.StateInterrupting:  true,
		store.StateStopping:      true,
	},
	store.StateAwaitingInput: {
		store.StateRunning:      true,
		store.StateInterrupting: true,
		store.StateStopping:     true,
	},
	store.StateInterrupting: {
		store.StateStopped: true,
	},
	store.StateStopping: {
		store.StateStopped: true,
	},
}

// CanTransition reports whether from → to is a legal direct edge,
// including the universal any-non-terminal → ERROR edge.
func CanTransition(from, to store.State) bool {
	if from.Terminal() {
		return false
	}
	if to == store.StateError {
		return true
	}
	if set, ok := edges[from]; ok {
		return set[to]
	}
	return false
}

// Apply attempts to move sess into to, mutating it in place if the
// transition is legal. Illegal transitions are silently rejected and
// Result.Applied is false. The caller is responsible for persisting sess
// and emitting the resulting session_state event when Applied is true.
func Apply(sess *store.Session, to store.State, exitCode *int) Result {
	from := sess.State
	if !CanTransition(from, to) {
		return Result{Applied: false, From: from, To: from}
	}

	now := time.Now().UTC()
	if to == store.StateRunning && sess.StartedAt == nil {
		sess.StartedAt = &now
	}
	if to.Terminal() {
		sess.EndedAt = &now
	}
	if exitCode != nil {
		sess.ExitCode = exitCode
	}
	if !to.Terminal() {
		sess.LastActivityAt = now
	}
	sess.State = to
	return Result{Applied: true, From: from, To: to}
}

// MaybeSetName assigns sess.Name from the first non-empty prompt or input
// text if a name hasn't already been set.
func MaybeSetName(sess *store.Session, text string) bool {
	if sess.Name != "" {
		return false
	}
	name := normalizeName(text)
	if name == "" {
		return false
	}
	sess.Name = name
	return true
}

// Rename sets sess.Name unconditionally, trimmed and truncated.
func Rename(sess *store.Session, name string) {
	sess.Name = normalizeName(name)
}

func normalizeName(text string) string {
	collapsed := strings.Join(strings.Fields(text), " ")
	if len(collapsed) > maxNameLength {
		collapsed = collapsed[:maxNameLength]
	}
	return collapsed
}

// OnExit applies the runner exit rule: a nil or zero exit code
// is always a no-op; a nonzero code is a no-op while the session is
// AWAITING_INPUT or INTERRUPTING (the runner is expected to restart or is
// already finalizing); otherwise it transitions to ERROR.
func OnExit(sess *store.Session, exitCode *int) Result {
	if exitCode == nil || *exitCode == 0 {
		return Result{Applied: false, From: sess.State, To: sess.State}
	}
	if sess.State == store.StateAwaitingInput || sess.State == store.StateInterrupting {
		return Result{Applied: false, From: sess.State, To: sess.State}
	}
	return Apply(sess, store.StateError, exitCode)
}

// OnAwaitingInput transitions RUNNING to AWAITING_INPUT: idempotent
// RUNNING → AWAITING_INPUT, ignored from ERROR/terminal or any other state.
func OnAwaitingInput(sess *store.Session) Result {
	if sess.State == store.StateAwaitingInput {
		return Result{Applied: false, From: sess.State, To: sess.State}
	}
	if sess.State != store.StateRunning {
		return Result{Applied: false, From: sess.State, To: sess.State}
	}
	return Apply(sess, store.StateAwaitingInput, nil)
}

// OnError is the idempotent transition to ERROR from any non-terminal state.
func OnError(sess *store.Session) Result {
	if sess.State == store.StateError {
		return Result{Applied: false, From: sess.State, To: sess.State}
	}
	return Apply(sess, store.StateError, nil)
}

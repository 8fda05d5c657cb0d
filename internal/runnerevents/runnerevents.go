// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package runnerevents implements runner.Events: the callback sink every
// Runner adapter drives as it produces output. It is the only place
// adapter callbacks turn into Store writes and state-machine
// transitions.
package runnerevents

import (
	"encoding/json"
	"log"
	"time"

	"github.com/wingedpig/relay/internal/statemachine"
	"github.com/wingedpig/relay/internal/store"
)

func nowUTC() time.Time { return time.Now().UTC() }

// Sink adapts runner.Events onto a Store, applying state-machine
// transitions and emitting the resulting session_state events.
type Sink struct {
	store *store.Store
}

// New constructs a Sink bound to store.
func New(st *store.Store) *Sink {
	return &Sink{store: st}
}

func (s *Sink) emitState(sessionID string, res statemachine.Result) {
	if !res.Applied {
		return
	}
	s.store.Emit(sessionID, store.EventSessionState, map[string]string{
		"from": string(res.From),
		"to":   string(res.To),
	})
}

// OnHeader stores header text and, unless thread_id is unset or the
// literal "unknown", captures it as the runner session id.
func (s *Sink) OnHeader(sessionID string, title, threadID, model, provider string) {
	sess, err := s.store.Update(sessionID, func(sess *store.Session) {
		if title != "" {
			sess.Header = title
		}
	})
	if err != nil {
		log.Printf("runnerevents: OnHeader %s: %v", sessionID, err)
		return
	}
	if threadID != "" && threadID != "unknown" {
		if err := s.store.SetRunnerSessionID(sess.ID, threadID); err != nil {
			log.Printf("runnerevents: OnHeader set runner session id %s: %v", sessionID, err)
		}
	}
	s.store.Emit(sessionID, store.EventMetadata, map[string]interface{}{
		"key": "header",
		"value": map[string]string{
			"title": title, "model": model, "provider": provider,
		},
	})
}

// OnOutput refreshes last_activity_at and, for non-header output,
// deduplicates and emits an output/output_final event.
func (s *Sink) OnOutput(sessionID, stream, text, kind string, isFinal bool) {
	if _, err := s.store.Update(sessionID, func(sess *store.Session) {
		sess.LastActivityAt = nowUTC()
	}); err != nil {
		log.Printf("runnerevents: OnOutput %s: %v", sessionID, err)
		return
	}

	if kind == "header" {
		s.OnHeader(sessionID, text, "", "", "")
		return
	}

	if !s.store.ShouldEmitOutput(sessionID, text) {
		return
	}

	eventType := store.EventOutput
	if isFinal {
		eventType = store.EventOutputFinal
	}
	s.store.Emit(sessionID, eventType, map[string]interface{}{
		"stream": stream,
		"text":   text,
		"final":  isFinal,
	})
}

// OnError transitions the session to ERROR (idempotent) and logs the
// failure record to the event log.
func (s *Sink) OnError(sessionID, code, message string) {
	var res statemachine.Result
	if _, err := s.store.Update(sessionID, func(sess *store.Session) {
		res = statemachine.OnError(sess)
	}); err != nil {
		log.Printf("runnerevents: OnError %s: %v", sessionID, err)
		return
	}
	s.store.Emit(sessionID, store.EventError, map[string]string{"code": code, "message": message})
	s.emitState(sessionID, res)
}

// OnExit applies the exit-code rule via statemachine.OnExit.
func (s *Sink) OnExit(sessionID string, exitCode *int) {
	var res statemachine.Result
	if _, err := s.store.Update(sessionID, func(sess *store.Session) {
		res = statemachine.OnExit(sess, exitCode)
	}); err != nil {
		log.Printf("runnerevents: OnExit %s: %v", sessionID, err)
		return
	}
	s.emitState(sessionID, res)
}

// OnAwaitingInput applies the RUNNING → AWAITING_INPUT transition.
func (s *Sink) OnAwaitingInput(sessionID string) {
	var res statemachine.Result
	if _, err := s.store.Update(sessionID, func(sess *store.Session) {
		res = statemachine.OnAwaitingInput(sess)
	}); err != nil {
		log.Printf("runnerevents: OnAwaitingInput %s: %v", sessionID, err)
		return
	}
	s.emitState(sessionID, res)
}

// OnMetadata refreshes activity and emits a metadata event.
func (s *Sink) OnMetadata(sessionID, key string, value json.RawMessage) {
	if _, err := s.store.Update(sessionID, func(sess *store.Session) {
		sess.LastActivityAt = nowUTC()
	}); err != nil {
		log.Printf("runnerevents: OnMetadata %s: %v", sessionID, err)
		return
	}
	s.store.Emit(sessionID, store.EventMetadata, map[string]interface{}{
		"key": key, "value": json.RawMessage(value),
	})
}

// OnHeartbeat refreshes activity and emits a heartbeat event.
func (s *Sink) OnHeartbeat(sessionID string, elapsedSeconds float64, done bool) {
	if _, err := s.store.Update(sessionID, func(sess *store.Session) {
		sess.LastActivityAt = nowUTC()
	}); err != nil {
		log.Printf("runnerevents: OnHeartbeat %s: %v", sessionID, err)
		return
	}
	s.store.Emit(sessionID, store.EventHeartbeat, map[string]interface{}{
		"elapsed_s": elapsedSeconds, "done": done,
	})
}

// OnPermissionRequest emits a permission_request event. Registering the
// pending future is the Permission Protocol's responsibility
// (internal/permission), which owns the timeout and first-writer-wins
// resolution; the Sink only logs the request.
func (s *Sink) OnPermissionRequest(sessionID, requestID, toolName string, toolInput json.RawMessage, suggestions json.RawMessage) {
	s.store.Emit(sessionID, store.EventPermissionRequest, map[string]interface{}{
		"request_id":  requestID,
		"tool_name":   toolName,
		"tool_input":  toolInput,
		"suggestions": suggestions,
	})
}

// OnPermissionResolved emits a permission_resolved event.
func (s *Sink) OnPermissionResolved(sessionID, requestID, resolvedBy string, allowed bool, message string) {
	s.store.Emit(sessionID, store.EventPermissionResolved, map[string]interface{}{
		"request_id":  requestID,
		"resolved_by": resolvedBy,
		"allowed":     allowed,
		"message":     message,
	})
}

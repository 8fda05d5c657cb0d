// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package eventstream carries a session's live event stream to
// transports: the SSE subscriber loop, the agent-registration
// WebSocket, and the HTTP replay-from-seq endpoint.
package eventstream

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/wingedpig/relay/internal/store"
)

// DefaultKeepalive is how often an idle SSE stream emits a comment line
// so proxies keep the connection open.
const DefaultKeepalive = 15 * time.Second

// SSE serves a session's live event stream over Server-Sent Events.
type SSE struct {
	store     *store.Store
	keepalive time.Duration
}

// NewSSE constructs an SSE handler bound to store. A zero keepalive uses
// DefaultKeepalive.
func NewSSE(st *store.Store, keepalive time.Duration) *SSE {
	if keepalive <= 0 {
		keepalive = DefaultKeepalive
	}
	return &SSE{store: st, keepalive: keepalive}
}

// ServeHTTP registers a new subscriber queue, streams every event as
// `data: <json>\n\n`, and emits `: keepalive` comment lines on idle.
// On client disconnect the subscriber is unregistered.
func (s *SSE) ServeHTTP(sessionID string, w http.ResponseWriter, r *http.Request) error {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return fmt.Errorf("eventstream: ResponseWriter does not support flushing")
	}

	ch, err := s.store.NewSubscriber(sessionID)
	if err != nil {
		return err
	}
	defer s.store.RemoveSubscriber(sessionID, ch)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ticker := time.NewTicker(s.keepalive)
	defer ticker.Stop()

	ctx := r.Context()
	for {
		select {
		case ev, open := <-ch:
			if !open {
				return nil
			}
			data, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "data: %s\n\n", data)
			flusher.Flush()
		case <-ticker.C:
			fmt.Fprint(w, ": keepalive\n\n")
			flusher.Flush()
		case <-ctx.Done():
			return nil
		}
	}
}

// ReplaySince returns logged events with seq > sinceSeq, optionally
// filtered by type.
func ReplaySince(st *store.Store, sessionID string, sinceSeq int64, types map[store.EventType]bool) ([]store.Event, error) {
	evs, err := st.ReadEventLog(sessionID, sinceSeq, 0)
	if err != nil {
		return nil, err
	}
	if len(types) == 0 {
		return evs, nil
	}
	out := make([]store.Event, 0, len(evs))
	for _, ev := range evs {
		if types[ev.Type] {
			out = append(out, ev)
		}
	}
	return out, nil
}

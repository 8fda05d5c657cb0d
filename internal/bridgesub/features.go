// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package bridgesub

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"
)

// allowAllDuration is the window the allow-all timer stays armed.
const allowAllDuration = 30 * time.Minute

// defaultDebounceWindow suppresses repeated identical statuses posted
// within it.
const defaultDebounceWindow = 30 * time.Second

// batchFlushInterval bounds how long a short-notification batch can
// accumulate before being flushed as one message.
const batchFlushInterval = 2 * time.Second

// features holds the per-bridge behavioral state: allow-all / per-tool
// allow timers, status debouncing, the typing indicator task registry,
// thread-name uniqueness, and output batching. One instance is shared
// by all of a process's bridge subscribers.
type features struct {
	mu sync.Mutex

	allowAllUntil  map[string]time.Time            // sessionID -> expiry
	allowToolUntil map[string]map[string]time.Time // sessionID -> tool -> expiry
	lastStatus     map[string]time.Time            // sessionID+status -> last sent
	pending        map[string]map[string]string    // sessionID -> requestID -> toolName
	typing         map[string]context.CancelFunc    // sessionID -> cancel
	names          map[string]int                  // base name -> count issued
	batches        map[string]*batch
}

type batch struct {
	mu     sync.Mutex
	lines  []string
	timer  *time.Timer
}

func newFeatures() *features {
	return &features{
		allowAllUntil:  make(map[string]time.Time),
		allowToolUntil: make(map[string]map[string]time.Time),
		lastStatus:     make(map[string]time.Time),
		pending:        make(map[string]map[string]string),
		typing:         make(map[string]context.CancelFunc),
		names:          make(map[string]int),
		batches:        make(map[string]*batch),
	}
}

// armAllowAll starts (or restarts) a session's allow-all window.
func (f *features) armAllowAll(sessionID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.allowAllUntil[sessionID] = time.Now().Add(allowAllDuration)
}

// armAllowTool starts (or restarts) a session+tool's allow window.
func (f *features) armAllowTool(sessionID, toolName string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.allowToolUntil[sessionID]
	if !ok {
		m = make(map[string]time.Time)
		f.allowToolUntil[sessionID] = m
	}
	m[toolName] = time.Now().Add(allowAllDuration)
}

// autoAllow reports whether an incoming permission request for toolName
// falls within an armed allow-all or per-tool window. ok is false if
// neither timer is active, in which case the caller must fall through to
// normal human approval.
func (f *features) autoAllow(sessionID, toolName string) (allowed, ok bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	now := time.Now()
	if until, armed := f.allowAllUntil[sessionID]; armed {
		if now.Before(until) {
			return true, true
		}
		delete(f.allowAllUntil, sessionID)
	}
	if m, armed := f.allowToolUntil[sessionID]; armed {
		if until, toolArmed := m[toolName]; toolArmed {
			if now.Before(until) {
				return true, true
			}
			delete(m, toolName)
		}
	}
	return false, false
}

// debounceStatus reports whether a repeated status within the default
// window should be suppressed.
func (f *features) debounceStatus(sessionID, status string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := sessionID + "|" + status
	now := time.Now()
	if last, ok := f.lastStatus[key]; ok && now.Sub(last) < defaultDebounceWindow {
		return true
	}
	f.lastStatus[key] = now
	return false
}

// trackPending records a permission request's tool name so later chat
// commands ("deny: <reason>", per-tool allow) can reference it.
func (f *features) trackPending(sessionID, requestID, toolName string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.pending[sessionID]
	if !ok {
		m = make(map[string]string)
		f.pending[sessionID] = m
	}
	m[requestID] = toolName
}

func (f *features) pendingTool(sessionID, requestID string) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.pending[sessionID]
	if !ok {
		return "", false
	}
	tool, ok := m[requestID]
	return tool, ok
}

// mostRecentPending returns the request id of the most recently tracked
// pending permission for a session, used when a chat "deny: <reason>"
// doesn't name a request explicitly.
func (f *features) mostRecentPending(sessionID string) (requestID string, ok bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m := f.pending[sessionID]
	for id := range m {
		requestID, ok = id, true
	}
	return
}

func (f *features) clearPending(sessionID, requestID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if m, ok := f.pending[sessionID]; ok {
		delete(m, requestID)
	}
}

// batch buffers short notifications for a session and flushes them as
// one message via flush once batchFlushInterval elapses since the first
// unflushed line.
func (f *features) batch(sessionID, text string, flush func(string)) {
	f.mu.Lock()
	b, ok := f.batches[sessionID]
	if !ok {
		b = &batch{}
		f.batches[sessionID] = b
	}
	f.mu.Unlock()

	b.mu.Lock()
	defer b.mu.Unlock()
	b.lines = append(b.lines, text)
	if b.timer != nil {
		return
	}
	b.timer = time.AfterFunc(batchFlushInterval, func() {
		b.mu.Lock()
		lines := b.lines
		b.lines = nil
		b.timer = nil
		b.mu.Unlock()
		if len(lines) > 0 {
			flush(strings.Join(lines, "\n"))
		}
	})
}

// startTyping launches (or replaces) a session's typing-indicator
// cooperative task: send is called on an interval until ctx is cancelled
// or stopTyping is called.
func (f *features) startTyping(ctx context.Context, sessionID string, send func() error) {
	f.stopTyping(sessionID)

	taskCtx, cancel := context.WithCancel(ctx)
	f.mu.Lock()
	f.typing[sessionID] = cancel
	f.mu.Unlock()

	go func() {
		ticker := time.NewTicker(4 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				send()
			case <-taskCtx.Done():
				return
			}
		}
	}()
}

// stopTyping cancels a session's typing-indicator task, if any.
func (f *features) stopTyping(sessionID string) {
	f.mu.Lock()
	cancel, ok := f.typing[sessionID]
	if ok {
		delete(f.typing, sessionID)
	}
	f.mu.Unlock()
	if ok {
		cancel()
	}
}

// uniqueName returns name suffixed "_2", "_3", ... if it collides with a
// name already issued by this process.
func (f *features) uniqueName(name string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	count := f.names[name]
	f.names[name] = count + 1
	if count == 0 {
		return name
	}
	return name + "_" + strconv.Itoa(count+1)
}

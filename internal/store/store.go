// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"math"
	"os"
	"sort"
	"sync"
	"time"
)

// sessionState is the Store's in-memory bookkeeping for one session:
// the durable Session record plus the live, non-persisted fan-out state
// (subscriber queues, the dedup ring, the next sequence counter, pending
// permission futures).
type sessionState struct {
	mu sync.Mutex // guards everything below; the Store's own lock guards the map itself

	session     Session
	seq         int64
	subscribers map[chan Event]struct{}
	dedup       dedupRing
	pending     map[string]*pendingEntry
	log         *eventLog
	usage       *Usage // cached SessionUsage; nil until computed, dropped on new usage metadata
}

type pendingEntry struct {
	kind    string
	payload json.RawMessage
	future  *Future
}

// Store owns the session registry, event log, subscriber fan-out, pending
// permissions, and message history. The Store's own lock guards the
// sessions map; each session's record, counters and subscriber delivery
// use that session's own lock so one session's fan-out never blocks
// another's.
type Store struct {
	mu       sync.Mutex
	sessions map[string]*sessionState
	dataDir  string
	db       *db
}

// Config configures a new Store.
type Config struct {
	// DataDir is the root directory for sessions.db and per-session event logs.
	DataDir string
}

// New opens (or creates) the on-disk state under cfg.DataDir and restores
// session metadata and message history from it.
func New(cfg Config) (*Store, error) {
	if cfg.DataDir == "" {
		return nil, fmt.Errorf("store: DataDir is required")
	}
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("store: create data dir: %w", err)
	}

	d, err := openDB(cfg.DataDir + "/sessions.db")
	if err != nil {
		return nil, err
	}

	s := &Store{
		sessions: make(map[string]*sessionState),
		dataDir:  cfg.DataDir,
		db:       d,
	}

	records, err := d.loadSessions()
	if err != nil {
		log.Printf("store: failed to load sessions: %v", err)
		records = nil
	}
	for _, rec := range records {
		st := &sessionState{
			session:     *rec,
			subscribers: make(map[chan Event]struct{}),
			pending:     make(map[string]*pendingEntry),
			log:         newEventLog(cfg.DataDir, rec.ID),
		}
		if evs, err := st.log.readAll(); err == nil && len(evs) > 0 {
			st.seq = evs[len(evs)-1].Seq
		}
		s.sessions[rec.ID] = st
	}
	if len(records) > 0 {
		log.Printf("store: loaded %d persisted sessions", len(records))
	}
	return s, nil
}

// Close releases the database handle.
func (s *Store) Close() error { return s.db.close() }

// CreateSession creates a new session in CREATED state with a fresh id.
func (s *Store) CreateSession(repoID, directory string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	sess := Session{
		ID:             newSessionID(),
		RepoID:         repoID,
		Directory:      directory,
		State:          StateCreated,
		CreatedAt:      now,
		LastActivityAt: now,
	}

	if err := s.db.upsertSession(&sess); err != nil {
		return nil, fmt.Errorf("store: persist session: %w", err)
	}

	s.sessions[sess.ID] = &sessionState{
		session:     sess,
		subscribers: make(map[chan Event]struct{}),
		pending:     make(map[string]*pendingEntry),
		log:         newEventLog(s.dataDir, sess.ID),
	}

	out := sess
	return &out, nil
}

func (s *Store) lookup(sessionID string) (*sessionState, error) {
	s.mu.Lock()
	st, ok := s.sessions[sessionID]
	s.mu.Unlock()
	if !ok {
		return nil, ErrSessionNotFound
	}
	return st, nil
}

// Get returns a copy of a session's current record.
func (s *Store) Get(sessionID string) (*Session, error) {
	st, err := s.lookup(sessionID)
	if err != nil {
		return nil, err
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	out := st.session
	return &out, nil
}

// List returns all session records, newest first.
func (s *Store) List() []Session {
	s.mu.Lock()
	states := make([]*sessionState, 0, len(s.sessions))
	for _, st := range s.sessions {
		states = append(states, st)
	}
	s.mu.Unlock()

	out := make([]Session, 0, len(states))
	for _, st := range states {
		st.mu.Lock()
		out = append(out, st.session)
		st.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

// Update applies fn to the session under lock and persists the result.
// fn may mutate the passed Session in place.
func (s *Store) Update(sessionID string, fn func(*Session)) (*Session, error) {
	st, err := s.lookup(sessionID)
	if err != nil {
		return nil, err
	}
	st.mu.Lock()
	fn(&st.session)
	out := st.session
	st.mu.Unlock()

	if err := s.db.upsertSession(&out); err != nil {
		return nil, fmt.Errorf("store: persist session: %w", err)
	}
	return &out, nil
}

// DeleteSession removes a session's registry entry, event log, and
// messages. Managed working directories are removed by the caller (the
// Session API), which knows the workdir lifecycle policy.
func (s *Store) DeleteSession(sessionID string) error {
	s.mu.Lock()
	st, ok := s.sessions[sessionID]
	if ok {
		delete(s.sessions, sessionID)
	}
	s.mu.Unlock()
	if !ok {
		return ErrSessionNotFound
	}

	st.mu.Lock()
	for ch := range st.subscribers {
		close(ch)
	}
	st.subscribers = make(map[chan Event]struct{})
	st.mu.Unlock()

	if err := st.log.delete(); err != nil {
		log.Printf("store: failed to remove event log for %s: %v", sessionID, err)
	}
	if err := s.db.clearMessages(sessionID); err != nil {
		log.Printf("store: failed to clear messages for %s: %v", sessionID, err)
	}
	return s.db.deleteSession(sessionID)
}

// ClearAllData deletes every session, event log, and message. Debug-only;
// the HTTP layer refuses the call while any session is active.
func (s *Store) ClearAllData() error {
	for _, sess := range s.List() {
		if err := s.DeleteSession(sess.ID); err != nil {
			return err
		}
	}
	return nil
}

// NextSeq atomically increments and returns the next sequence number for a session.
func (s *Store) NextSeq(sessionID string) (int64, error) {
	st, err := s.lookup(sessionID)
	if err != nil {
		return 0, err
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	st.seq++
	return st.seq, nil
}

// NewSubscriber registers a new live event queue for a session.
func (s *Store) NewSubscriber(sessionID string) (chan Event, error) {
	st, err := s.lookup(sessionID)
	if err != nil {
		return nil, err
	}
	ch := make(chan Event, 256)
	st.mu.Lock()
	st.subscribers[ch] = struct{}{}
	st.mu.Unlock()
	return ch, nil
}

// SubscriberCount returns the number of live subscriber queues for a
// session.
func (s *Store) SubscriberCount(sessionID string) int {
	st, err := s.lookup(sessionID)
	if err != nil {
		return 0
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return len(st.subscribers)
}

// RemoveSubscriber unregisters and closes a subscriber queue. Safe to call
// more than once for the same channel.
func (s *Store) RemoveSubscriber(sessionID string, ch chan Event) {
	st, err := s.lookup(sessionID)
	if err != nil {
		return
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	if _, ok := st.subscribers[ch]; ok {
		delete(st.subscribers, ch)
		close(ch)
	}
}

// Emit assigns the event its sequence number, appends it to the durable
// log, then delivers it to every live subscriber in the same order.
func (s *Store) Emit(sessionID string, eventType EventType, payload interface{}) (Event, error) {
	st, err := s.lookup(sessionID)
	if err != nil {
		return Event{}, err
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("store: marshal event payload: %w", err)
	}

	st.mu.Lock()
	st.seq++
	ev := Event{Seq: st.seq, Timestamp: time.Now().UTC(), Type: eventType, Payload: raw}
	logRef := st.log
	if eventType == EventMetadata {
		st.usage = nil
	}
	st.mu.Unlock()

	if err := logRef.append(ev); err != nil {
		return Event{}, fmt.Errorf("store: append event: %w", err)
	}

	st.mu.Lock()
	for ch := range st.subscribers {
		select {
		case ch <- ev:
		default:
			// Drop if the subscriber's queue is full; producers never block.
		}
	}
	st.mu.Unlock()

	return ev, nil
}

// ReadEventLog replays events with seq > sinceSeq, optionally stopping
// after limit results.
func (s *Store) ReadEventLog(sessionID string, sinceSeq int64, limit int) ([]Event, error) {
	st, err := s.lookup(sessionID)
	if err != nil {
		return nil, err
	}
	all, err := st.log.readAll()
	if err != nil {
		return nil, err
	}
	out := make([]Event, 0, len(all))
	for _, ev := range all {
		if ev.Seq <= sinceSeq {
			continue
		}
		out = append(out, ev)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// ShouldEmitOutput reports whether normalized text is new relative to the
// session's last-10 dedup ring, recording it if so.
func (s *Store) ShouldEmitOutput(sessionID, text string) bool {
	st, err := s.lookup(sessionID)
	if err != nil {
		return false
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.dedup.shouldEmit(text)
}

// AddPendingPermission registers a one-shot future awaiting resolution of
// a tool-approval request.
func (s *Store) AddPendingPermission(sessionID, requestID, kind string, payload json.RawMessage) (*Future, error) {
	st, err := s.lookup(sessionID)
	if err != nil {
		return nil, err
	}
	future := newFuture()
	st.mu.Lock()
	st.pending[requestID] = &pendingEntry{kind: kind, payload: payload, future: future}
	st.mu.Unlock()
	return future, nil
}

// GetPendingPermission returns the pending entry for a request, if any.
func (s *Store) GetPendingPermission(sessionID, requestID string) (kind string, payload json.RawMessage, ok bool) {
	st, err := s.lookup(sessionID)
	if err != nil {
		return "", nil, false
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	e, ok := st.pending[requestID]
	if !ok {
		return "", nil, false
	}
	return e.kind, e.payload, true
}

// ResolvePendingPermission completes a pending permission's future exactly
// once. Subsequent attempts return false without altering state.
func (s *Store) ResolvePendingPermission(sessionID, requestID string, result PermissionResult) bool {
	st, err := s.lookup(sessionID)
	if err != nil {
		return false
	}
	st.mu.Lock()
	e, ok := st.pending[requestID]
	if ok {
		delete(st.pending, requestID)
	}
	st.mu.Unlock()
	if !ok {
		return false
	}
	return e.future.set(result)
}

// AddMessage appends a message to a session's durable transcript.
func (s *Store) AddMessage(sessionID string, role Role, content []ContentBlock) (Message, error) {
	st, err := s.lookup(sessionID)
	if err != nil {
		return Message{}, err
	}
	st.mu.Lock()
	count, cerr := s.db.messageCount(sessionID)
	if cerr != nil {
		st.mu.Unlock()
		return Message{}, fmt.Errorf("store: count messages: %w", cerr)
	}
	msg := Message{SessionID: sessionID, Seq: int64(count) + 1, Role: role, Content: content, Timestamp: time.Now().UTC()}
	st.mu.Unlock()

	if err := s.db.insertMessage(msg); err != nil {
		return Message{}, fmt.Errorf("store: persist message: %w", err)
	}
	return msg, nil
}

// GetMessages returns a session's full transcript in order.
func (s *Store) GetMessages(sessionID string) ([]Message, error) {
	if _, err := s.lookup(sessionID); err != nil {
		return nil, err
	}
	return s.db.loadMessages(sessionID)
}

// GetMessageCount returns the number of persisted messages for a session.
func (s *Store) GetMessageCount(sessionID string) (int, error) {
	if _, err := s.lookup(sessionID); err != nil {
		return 0, err
	}
	return s.db.messageCount(sessionID)
}

// ClearMessages deletes a session's transcript (used by Reset/re-import flows).
func (s *Store) ClearMessages(sessionID string) error {
	if _, err := s.lookup(sessionID); err != nil {
		return err
	}
	return s.db.clearMessages(sessionID)
}

// SetRunnerSessionID sets runner_session_id at most once per session;
// subsequent calls are ignored until ClearRunnerSessionID resets it.
func (s *Store) SetRunnerSessionID(sessionID, runnerSessionID string) error {
	_, err := s.Update(sessionID, func(sess *Session) {
		if sess.RunnerSessionID == "" {
			sess.RunnerSessionID = runnerSessionID
		}
	})
	return err
}

// ClearRunnerSessionID clears runner_session_id explicitly. Only the
// session start path does this.
func (s *Store) ClearRunnerSessionID(sessionID string) error {
	_, err := s.Update(sessionID, func(sess *Session) { sess.RunnerSessionID = "" })
	return err
}

// GetRunnerSessionID returns a session's runner-assigned external id.
func (s *Store) GetRunnerSessionID(sessionID string) (string, error) {
	sess, err := s.Get(sessionID)
	if err != nil {
		return "", err
	}
	return sess.RunnerSessionID, nil
}

// FindSessionByRunnerSessionID looks up a session by its runner-assigned id.
func (s *Store) FindSessionByRunnerSessionID(runnerSessionID string) (*Session, bool) {
	for _, sess := range s.List() {
		if sess.RunnerSessionID == runnerSessionID {
			out := sess
			return &out, true
		}
	}
	return nil, false
}

// SessionUsage aggregates metadata events keyed "tokens"/"cost" over a
// session's event log, rounding cost to 4 decimal places and ignoring
// malformed lines.
func (s *Store) SessionUsage(sessionID string) (Usage, error) {
	st, err := s.lookup(sessionID)
	if err != nil {
		return Usage{}, err
	}
	st.mu.Lock()
	if st.usage != nil {
		u := *st.usage
		st.mu.Unlock()
		return u, nil
	}
	st.mu.Unlock()

	evs, err := s.ReadEventLog(sessionID, 0, 0)
	if err != nil {
		return Usage{}, err
	}

	var u Usage
	for _, ev := range evs {
		if ev.Type != EventMetadata {
			continue
		}
		var meta struct {
			Key string          `json:"key"`
			Value json.RawMessage `json:"value"`
		}
		if json.Unmarshal(ev.Payload, &meta) != nil {
			continue
		}
		switch meta.Key {
		case "tokens":
			var t struct {
				Input  int `json:"input"`
				Output int `json:"output"`
			}
			if json.Unmarshal(meta.Value, &t) == nil {
				u.InputTokens += t.Input
				u.OutputTokens += t.Output
			}
		case "cost":
			var c float64
			if json.Unmarshal(meta.Value, &c) == nil {
				u.CostUSD += c
			}
		}
	}
	u.CostUSD = math.Round(u.CostUSD*10000) / 10000

	st.mu.Lock()
	st.usage = &u
	st.mu.Unlock()
	return u, nil
}

// ReplayGenerations returns the raw event log bytes, prior generation
// first, for full-history replay by callers that stream the log rather
// than decode it.
func (s *Store) ReplayGenerations(sessionID string) (io.Reader, error) {
	st, err := s.lookup(sessionID)
	if err != nil {
		return nil, err
	}
	return st.log.reader()
}

// PruneSessions drops terminal sessions whose most recent activity
// (ended_at, else last_activity_at, else created_at) is older than
// retention, returning the count removed.
func (s *Store) PruneSessions(retention time.Duration) int {
	cutoff := time.Now().Add(-retention)
	removed := 0
	for _, sess := range s.List() {
		if !sess.State.Terminal() {
			continue
		}
		ref := sess.LastActivityAt
		if sess.EndedAt != nil {
			ref = *sess.EndedAt
		} else if sess.CreatedAt.After(ref) {
			ref = sess.CreatedAt
		}
		if ref.Before(cutoff) {
			if err := s.DeleteSession(sess.ID); err == nil {
				removed++
			}
		}
	}
	return removed
}

// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package sessionapi exposes the CRUD and lifecycle operations the HTTP
// handlers and the bridge subscriber's command channel both drive. Every
// operation enforces its state precondition and emits a session_state
// event on change. Start, Input and Interrupt hand the runner work to a
// background goroutine; Stop and ApprovalMode call the runner before
// returning, Stop bounded by Config.StopWait.
package sessionapi

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/wingedpig/relay/internal/permission"
	"github.com/wingedpig/relay/internal/runner"
	"github.com/wingedpig/relay/internal/statemachine"
	"github.com/wingedpig/relay/internal/store"
)

// Errors callers branch on.
var (
	ErrValidation      = fmt.Errorf("sessionapi: validation error")
	ErrInvalidState    = fmt.Errorf("sessionapi: invalid state for operation")
	ErrDirectoryNotDir = fmt.Errorf("sessionapi: directory is not an existing folder")
)

// API is the Session API. It holds no session state of its
// own; the Store is the only source of truth.
type API struct {
	store      *store.Store
	registry   *runner.Registry
	permission *permission.Protocol
	stopWait   time.Duration
}

// Config configures a new API.
type Config struct {
	Store      *store.Store
	Registry   *runner.Registry
	Permission *permission.Protocol
	// StopWait bounds how long Stop waits for the runner to report exit
	// before the session is force-finalized to STOPPED.
	StopWait time.Duration
}

// New constructs a Session API.
func New(cfg Config) *API {
	wait := cfg.StopWait
	if wait <= 0 {
		wait = 10 * time.Second
	}
	return &API{store: cfg.Store, registry: cfg.Registry, permission: cfg.Permission, stopWait: wait}
}

// CreateOptions carries the fields POST /api/sessions accepts.
type CreateOptions struct {
	RepoID    string
	Directory string
	Adapter   string
	AgentName string
	AgentType string
	AgentIcon string
	Platform  string
	ThreadID  string
	// EnsureWorkdir creates a managed temp working directory when no
	// Directory is given. Used by the external-agent create paths, whose
	// callers have no local checkout of their own.
	EnsureWorkdir bool
}

// Create creates a session in CREATED state. If Directory is given it
// must already exist; git presence is probed with a cheap ".git" stat
// rather than shelling out to git.
func (a *API) Create(opts CreateOptions) (*store.Session, error) {
	if opts.Directory != "" {
		info, err := os.Stat(opts.Directory)
		if err != nil || !info.IsDir() {
			return nil, ErrDirectoryNotDir
		}
	}
	if opts.Adapter != "" {
		if err := a.registry.Validate(opts.Adapter); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrValidation, err)
		}
	}

	sess, err := a.store.CreateSession(opts.RepoID, opts.Directory)
	if err != nil {
		return nil, err
	}

	if opts.Directory != "" {
		if err := a.store.SetWorkdir(sess.ID, opts.Directory, false); err != nil {
			return nil, err
		}
	} else if opts.EnsureWorkdir {
		if _, err := a.store.CreateWorkdir(sess.ID); err != nil {
			return nil, err
		}
	}

	update := func(s *store.Session) {
		s.Adapter = opts.Adapter
		if s.Directory != "" {
			if _, err := os.Stat(s.Directory + "/.git"); err == nil {
				s.HasGit = true
			}
		}
		if opts.AgentName != "" || opts.AgentType != "" {
			s.ExternalAgent = &store.ExternalAgent{
				Name: opts.AgentName, Type: opts.AgentType, Icon: opts.AgentIcon, Workspace: opts.Directory,
			}
		}
		if opts.Platform != "" {
			s.Platform = &store.PlatformBinding{Platform: opts.Platform, ThreadID: opts.ThreadID}
		}
	}
	return a.store.Update(sess.ID, update)
}

// Get returns a session by id.
func (a *API) Get(sessionID string) (*store.Session, error) { return a.store.Get(sessionID) }

// List returns all sessions, newest first.
func (a *API) List() []store.Session { return a.store.List() }

// Start begins a session's first turn. Precondition: state is CREATED.
func (a *API) Start(ctx context.Context, sessionID, prompt string, approvalChoice int) (*store.Session, error) {
	if approvalChoice != 1 && approvalChoice != 2 {
		return nil, fmt.Errorf("%w: approval_choice must be 1 or 2", ErrValidation)
	}

	sess, err := a.store.Get(sessionID)
	if err != nil {
		return nil, err
	}
	if sess.State != store.StateCreated {
		return nil, ErrInvalidState
	}

	if err := a.store.ClearRunnerSessionID(sessionID); err != nil {
		return nil, err
	}

	var res statemachine.Result
	sess, err = a.store.Update(sessionID, func(s *store.Session) {
		statemachine.MaybeSetName(s, prompt)
		res = statemachine.Apply(s, store.StateRunning, nil)
	})
	if err != nil {
		return nil, err
	}
	if !res.Applied {
		return nil, ErrInvalidState
	}
	a.store.Emit(sessionID, store.EventSessionState, map[string]string{"from": string(res.From), "to": string(res.To)})

	rn, err := a.registry.Get(sess.Adapter)
	if err != nil {
		return nil, err
	}
	go func() {
		if err := rn.Start(ctx, sessionID, prompt, approvalChoice); err != nil {
			// Adapter errors flow back through OnError; nothing to do here.
		}
	}()

	return sess, nil
}

// Input delivers human text to a running session. Precondition: state
// is RUNNING.
func (a *API) Input(ctx context.Context, sessionID, text string) (*store.Session, error) {
	sess, err := a.store.Get(sessionID)
	if err != nil {
		return nil, err
	}
	if sess.State != store.StateRunning {
		return nil, ErrInvalidState
	}

	sess, err = a.store.Update(sessionID, func(s *store.Session) {
		statemachine.MaybeSetName(s, text)
		s.LastActivityAt = time.Now().UTC()
	})
	if err != nil {
		return nil, err
	}

	a.store.AddMessage(sessionID, store.RoleUser, []store.ContentBlock{{Type: "text", Text: text}})
	a.store.Emit(sessionID, store.EventHumanInput, map[string]string{"text": text})

	rn, err := a.registry.Get(sess.Adapter)
	if err != nil {
		return nil, err
	}
	go rn.SendInput(ctx, sessionID, text)

	return sess, nil
}

// Interrupt requests the runner abandon the in-flight turn.
// Precondition: state is RUNNING or AWAITING_INPUT.
func (a *API) Interrupt(ctx context.Context, sessionID string) (*store.Session, error) {
	sess, err := a.store.Get(sessionID)
	if err != nil {
		return nil, err
	}
	if sess.State != store.StateRunning && sess.State != store.StateAwaitingInput {
		return nil, ErrInvalidState
	}

	var res statemachine.Result
	sess, err = a.store.Update(sessionID, func(s *store.Session) {
		res = statemachine.Apply(s, store.StateInterrupting, nil)
	})
	if err != nil {
		return nil, err
	}
	if !res.Applied {
		return nil, ErrInvalidState
	}
	a.store.Emit(sessionID, store.EventSessionState, map[string]string{"from": string(res.From), "to": string(res.To)})

	rn, err := a.registry.Get(sess.Adapter)
	if err != nil {
		return nil, err
	}
	go a.finishStop(ctx, sessionID, rn)

	return sess, nil
}

// Stop terminates a session. Precondition: state is not CREATED.
// Idempotent once the session is already terminal.
func (a *API) Stop(ctx context.Context, sessionID string) (*store.Session, error) {
	sess, err := a.store.Get(sessionID)
	if err != nil {
		return nil, err
	}
	if sess.State == store.StateCreated {
		return nil, ErrInvalidState
	}
	if sess.State.Terminal() {
		return sess, nil
	}

	var res statemachine.Result
	sess, err = a.store.Update(sessionID, func(s *store.Session) {
		res = statemachine.Apply(s, store.StateStopping, nil)
	})
	if err != nil {
		return nil, err
	}
	if res.Applied {
		a.store.Emit(sessionID, store.EventSessionState, map[string]string{"from": string(res.From), "to": string(res.To)})
	}

	rn, err := a.registry.Get(sess.Adapter)
	if err != nil {
		return nil, err
	}
	a.finishStop(ctx, sessionID, rn)

	return a.store.Get(sessionID)
}

// finishStop delegates to the runner, bounded by a.stopWait, and
// transitions to STOPPED (or ERROR, if the runner reported a nonzero
// exit) once it returns or the bound is exceeded.
func (a *API) finishStop(ctx context.Context, sessionID string, rn runner.Runner) {
	stopCtx, cancel := context.WithTimeout(ctx, a.stopWait)
	defer cancel()

	exitCode, err := rn.Stop(stopCtx, sessionID)
	if err != nil {
		var code = -1
		exitCode = &code
	}

	var res statemachine.Result
	a.store.Update(sessionID, func(s *store.Session) {
		if s.State.Terminal() {
			return
		}
		to := store.StateStopped
		if exitCode != nil && *exitCode != 0 {
			to = store.StateError
		}
		res = statemachine.Apply(s, to, exitCode)
	})
	if res.Applied {
		a.store.Emit(sessionID, store.EventSessionState, map[string]string{"from": string(res.From), "to": string(res.To)})
	}
}

// ApprovalMode changes the runner's approval policy mid-session.
// Precondition: state is not terminal.
func (a *API) ApprovalMode(ctx context.Context, sessionID, mode string) (*store.Session, error) {
	sess, err := a.store.Get(sessionID)
	if err != nil {
		return nil, err
	}
	if sess.State.Terminal() {
		return nil, ErrInvalidState
	}
	rn, err := a.registry.Get(sess.Adapter)
	if err != nil {
		return nil, err
	}
	if err := rn.UpdatePermissionMode(ctx, sessionID, mode); err != nil {
		return nil, err
	}
	return sess, nil
}

// Delete removes a session and its log. Precondition: state is neither
// RUNNING nor STOPPING. Managed working directories are removed;
// unmanaged ones are left intact.
func (a *API) Delete(sessionID string) error {
	sess, err := a.store.Get(sessionID)
	if err != nil {
		return err
	}
	if sess.State == store.StateRunning || sess.State == store.StateStopping {
		return ErrInvalidState
	}
	if sess.WorkdirManaged {
		if err := a.store.ClearWorkdir(sessionID, false); err != nil {
			return err
		}
	}
	return a.store.DeleteSession(sessionID)
}

// Rename updates a session's display name in any state, trimmed and
// truncated to 80 characters.
func (a *API) Rename(sessionID, name string) (*store.Session, error) {
	return a.store.Update(sessionID, func(s *store.Session) {
		statemachine.Rename(s, name)
	})
}

// FileDiff is one entry in the structured diff listing.
type FileDiff struct {
	Path    string `json:"path"`
	Status  string `json:"status"` // added, modified, deleted
	Summary string `json:"summary,omitempty"`
}

// Diff returns the session's structured file-diff list, in any state.
// The core returns an empty list; a real diff parser plugs in above it.
func (a *API) Diff(sessionID string) ([]FileDiff, error) {
	if _, err := a.store.Get(sessionID); err != nil {
		return nil, err
	}
	return []FileDiff{}, nil
}

// ExportLevel selects transcript export fidelity.
type ExportLevel string

const (
	ExportSummary ExportLevel = "summary"
	ExportFull    ExportLevel = "full"
)

// Transcript is the portable shape Export/Import exchange.
type Transcript struct {
	Session  store.Session   `json:"session"`
	Messages []store.Message `json:"messages,omitempty"`
}

// Export returns a session's transcript at the requested fidelity. At
// ExportSummary, message content blocks are dropped and only role/seq
// markers survive; ExportFull carries every content block verbatim.
func (a *API) Export(sessionID string, level ExportLevel) (*Transcript, error) {
	sess, err := a.store.Get(sessionID)
	if err != nil {
		return nil, err
	}
	msgs, err := a.store.GetMessages(sessionID)
	if err != nil {
		return nil, err
	}
	if level == ExportSummary {
		summarized := make([]store.Message, len(msgs))
		for i, m := range msgs {
			summarized[i] = store.Message{SessionID: m.SessionID, Seq: m.Seq, Role: m.Role, Timestamp: m.Timestamp}
		}
		msgs = summarized
	}
	return &Transcript{Session: *sess, Messages: msgs}, nil
}

// Import creates a new session from a previously exported transcript and
// replays its messages into the new session's transcript.
func (a *API) Import(t Transcript) (*store.Session, error) {
	sess, err := a.store.CreateSession(t.Session.RepoID, t.Session.Directory)
	if err != nil {
		return nil, err
	}
	sess, err = a.store.Update(sess.ID, func(s *store.Session) {
		s.Name = t.Session.Name
		s.Adapter = t.Session.Adapter
		s.Header = t.Session.Header
	})
	if err != nil {
		return nil, err
	}
	for _, m := range t.Messages {
		if _, err := a.store.AddMessage(sess.ID, m.Role, m.Content); err != nil {
			return nil, err
		}
	}
	return sess, nil
}

// Usage returns aggregated token/cost usage for a session.
func (a *API) Usage(sessionID string) (store.Usage, error) {
	return a.store.SessionUsage(sessionID)
}

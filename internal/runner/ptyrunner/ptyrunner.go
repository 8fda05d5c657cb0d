// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package ptyrunner is relay's default adapter: it drives a coding-agent
// CLI as a subprocess attached to a pseudo-terminal, reading its NDJSON
// stream-json output line by line. Running under a real pty (rather
// than plain stdio pipes) keeps interactive CLIs that detect a terminal
// behaving the same way they would run by hand.
package ptyrunner

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"os/exec"
	"sync"

	"github.com/creack/pty"
	"github.com/mattn/go-isatty"

	"github.com/wingedpig/relay/internal/discovery"
	"github.com/wingedpig/relay/internal/runner"
)

// Config configures the pty adapter.
type Config struct {
	// Command is the CLI binary to invoke, e.g. "claude". Defaults to "claude".
	Command string
	// BaseArgs are flags appended to every invocation, before any
	// resume/session-specific flags.
	BaseArgs []string
	// WorkDir resolves a session id to the directory the CLI should run in.
	WorkDir func(sessionID string) string
}

type process struct {
	mu      sync.Mutex
	cmd     *exec.Cmd
	ptmx    *os.File
	cancel  context.CancelFunc
	started bool
	done    bool
}

// Runner is relay's pty-backed adapter (runner_type "pty").
type Runner struct {
	cfg    Config
	events runner.Events

	mu        sync.Mutex
	sessions  map[string]*process
	resumeIDs map[string]string // sessionID -> CLI session id, from the init event
}

// New constructs the pty adapter. Matches runner.Factory's shape.
func New(cfg Config) runner.Factory {
	if cfg.Command == "" {
		cfg.Command = "claude"
	}
	return func(events runner.Events) (runner.Runner, error) {
		return &Runner{
			cfg:       cfg,
			events:    events,
			sessions:  make(map[string]*process),
			resumeIDs: make(map[string]string),
		}, nil
	}
}

func (r *Runner) setResumeID(sessionID, cliSessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resumeIDs[sessionID] = cliSessionID
}

// resumeID returns the CLI session id to resume a follow-up turn with,
// or "" for a fresh conversation. A session whose CLI process is still
// alive elsewhere (started by hand, or by a previous relay) must not be
// resumed into a second process.
func (r *Runner) resumeID(sessionID string) string {
	r.mu.Lock()
	id := r.resumeIDs[sessionID]
	r.mu.Unlock()
	if id == "" {
		return ""
	}
	if discovery.IsSessionRunning(r.cfg.Command, id) {
		return ""
	}
	return id
}

func (r *Runner) proc(sessionID string) *process {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.sessions[sessionID]
	if !ok {
		p = &process{}
		r.sessions[sessionID] = p
	}
	return p
}

func (r *Runner) Start(ctx context.Context, sessionID, prompt string, approvalChoice int) error {
	p := r.proc(sessionID)
	p.mu.Lock()
	if p.started && !p.done {
		p.mu.Unlock()
		return r.SendInput(ctx, sessionID, prompt)
	}
	// A finished process leaves a stale entry; respawn into it, resuming
	// the CLI conversation when its session id is known.
	p.started = false
	p.done = false
	p.mu.Unlock()

	workDir := ""
	if r.cfg.WorkDir != nil {
		workDir = r.cfg.WorkDir(sessionID)
	}

	args := append([]string{}, r.cfg.BaseArgs...)
	args = append(args, "--permission-mode", permissionModeFor(approvalChoice))
	if id := r.resumeID(sessionID); id != "" {
		args = append(args, "--resume", id)
	}

	cmdCtx, cancel := context.WithCancel(ctx)
	cmd := exec.CommandContext(cmdCtx, r.cfg.Command, args...)
	cmd.Dir = workDir
	cmd.Env = append(os.Environ(), "TERM=xterm-256color")

	ptmx, err := pty.Start(cmd)
	if err != nil {
		cancel()
		return fmt.Errorf("ptyrunner: start %s: %w", r.cfg.Command, err)
	}

	p.mu.Lock()
	p.cmd = cmd
	p.ptmx = ptmx
	p.cancel = cancel
	p.started = true
	p.mu.Unlock()

	go r.readLoop(sessionID, p, ptmx)

	if prompt != "" {
		if _, err := ptmx.WriteString(prompt + "\n"); err != nil {
			return fmt.Errorf("ptyrunner: write prompt: %w", err)
		}
	}
	return nil
}

func (r *Runner) SendInput(ctx context.Context, sessionID, text string) error {
	p := r.proc(sessionID)
	p.mu.Lock()
	ptmx := p.ptmx
	alive := p.started && !p.done
	p.mu.Unlock()
	if !alive || ptmx == nil {
		// Follow-up turn after the process exited: Start respawns and
		// resumes the CLI conversation.
		return r.Start(ctx, sessionID, text, 1)
	}
	_, err := ptmx.WriteString(text + "\n")
	if err != nil {
		return fmt.Errorf("ptyrunner: write input: %w", err)
	}
	return nil
}

func (r *Runner) Stop(ctx context.Context, sessionID string) (*int, error) {
	p := r.proc(sessionID)
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.started || p.done {
		return nil, nil
	}
	if p.cancel != nil {
		p.cancel()
	}
	if p.ptmx != nil {
		p.ptmx.Close()
	}
	if p.cmd != nil && p.cmd.Process != nil {
		p.cmd.Process.Kill()
		p.cmd.Wait()
		if p.cmd.ProcessState != nil {
			code := p.cmd.ProcessState.ExitCode()
			return &code, nil
		}
	}
	return nil, nil
}

func (r *Runner) UpdatePermissionMode(ctx context.Context, sessionID, mode string) error {
	raw, _ := json.Marshal(map[string]string{"permission_mode": mode})
	r.events.OnMetadata(sessionID, "permission_mode", raw)
	return nil
}

func (r *Runner) Type() string { return "pty" }

// streamEvent mirrors the CLI's stream-json NDJSON line shape closely
// enough to extract the fields relay's RunnerEvents contract needs.
type streamEvent struct {
	Type      string          `json:"type"`
	Subtype   string          `json:"subtype"`
	SessionID string          `json:"session_id"`
	IsError   bool            `json:"is_error"`
	Message   json.RawMessage `json:"message"`
	Model     string          `json:"model"`
}

func (r *Runner) readLoop(sessionID string, p *process, stdout io.Reader) {
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 1024*1024), 1024*1024)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var ev streamEvent
		if err := json.Unmarshal(line, &ev); err != nil {
			// Not every line a pty-attached CLI prints is NDJSON (banners,
			// prompts); surface it as raw output rather than discarding it.
			r.events.OnOutput(sessionID, "stdout", string(line), "", false)
			continue
		}

		switch ev.Type {
		case "system":
			if ev.Subtype == "init" {
				if ev.SessionID != "" {
					r.setResumeID(sessionID, ev.SessionID)
				}
				r.events.OnHeader(sessionID, "", ev.SessionID, ev.Model, "claude")
			}
		case "assistant":
			var msg struct {
				Content []struct {
					Type string `json:"type"`
					Text string `json:"text"`
				} `json:"content"`
			}
			if json.Unmarshal(ev.Message, &msg) == nil {
				for _, block := range msg.Content {
					if block.Type == "text" && block.Text != "" {
						r.events.OnOutput(sessionID, "assistant", block.Text, "", false)
					}
				}
			}
		case "result":
			r.events.OnOutput(sessionID, "assistant", "", "", true)
			if ev.IsError {
				r.events.OnError(sessionID, "runner_error", "agent reported an error result")
			}
		case "control_request":
			r.events.OnAwaitingInput(sessionID)
		default:
			log.Printf("ptyrunner[%s]: unhandled event type %q", sessionID, ev.Type)
		}
	}

	p.mu.Lock()
	cmd := p.cmd
	p.done = true
	p.mu.Unlock()

	if cmd == nil {
		return
	}
	err := cmd.Wait()
	var exitCode *int
	if cmd.ProcessState != nil {
		code := cmd.ProcessState.ExitCode()
		exitCode = &code
	} else if err != nil {
		code := -1
		exitCode = &code
	}
	r.events.OnExit(sessionID, exitCode)
}

func permissionModeFor(approvalChoice int) string {
	if approvalChoice == 2 {
		return "acceptEdits"
	}
	return "default"
}

// IsInteractive reports whether stdout is attached to a real terminal,
// used to decide whether relay itself should render a pty-style banner
// when run from an interactive shell (e.g. plain `relay` in a dev
// terminal rather than under a process supervisor).
func IsInteractive() bool {
	return isatty.IsTerminal(os.Stdout.Fd()) || isatty.IsCygwinTerminal(os.Stdout.Fd())
}

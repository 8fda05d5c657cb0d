// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package apirunner drives a hosted LLM API directly (no local CLI
// process) using github.com/openai/openai-go's Responses client. It is
// relay's "network-API client" runner variant.
package apirunner

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/responses"
	"github.com/wingedpig/relay/internal/runner"
)

// Config configures the API adapter.
type Config struct {
	APIKey  string
	BaseURL string // optional, for API-compatible gateways
	Model   string
}

type turn struct {
	mu             sync.Mutex
	previousRespID string
}

// Runner is relay's hosted-API adapter (runner_type "api").
type Runner struct {
	client openai.Client
	model  string
	events runner.Events

	mu    sync.Mutex
	turns map[string]*turn
}

// New constructs the API adapter. Matches runner.Factory's shape.
func New(cfg Config) runner.Factory {
	return func(events runner.Events) (runner.Runner, error) {
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("apirunner: APIKey is required")
		}
		opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
		if cfg.BaseURL != "" {
			opts = append(opts, option.WithBaseURL(cfg.BaseURL))
		}
		model := cfg.Model
		if model == "" {
			model = "gpt-4o"
		}
		return &Runner{
			client: openai.NewClient(opts...),
			model:  model,
			events: events,
			turns:  make(map[string]*turn),
		}, nil
	}
}

func (r *Runner) turnFor(sessionID string) *turn {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.turns[sessionID]
	if !ok {
		t = &turn{}
		r.turns[sessionID] = t
	}
	return t
}

func (r *Runner) Start(ctx context.Context, sessionID, prompt string, approvalChoice int) error {
	r.events.OnHeader(sessionID, "", "", r.model, "openai")
	return r.send(ctx, sessionID, prompt)
}

func (r *Runner) SendInput(ctx context.Context, sessionID, text string) error {
	return r.send(ctx, sessionID, text)
}

func (r *Runner) send(ctx context.Context, sessionID, text string) error {
	t := r.turnFor(sessionID)
	t.mu.Lock()
	prevID := t.previousRespID
	t.mu.Unlock()

	params := responses.ResponseNewParams{
		Model: r.model,
		Input: responses.ResponseNewParamsInputUnion{
			OfString: openai.String(text),
		},
	}
	if prevID != "" {
		params.PreviousResponseID = openai.String(prevID)
	}

	stream := r.client.Responses.NewStreaming(ctx, params)
	defer stream.Close()

	for stream.Next() {
		event := stream.Current()
		switch event.Type {
		case "response.output_text.delta":
			delta := event.AsResponseOutputTextDelta()
			r.events.OnOutput(sessionID, "assistant", delta.Delta, "", false)
		case "response.completed":
			completed := event.AsResponseCompleted()
			t.mu.Lock()
			t.previousRespID = completed.Response.ID
			t.mu.Unlock()
			r.events.OnOutput(sessionID, "assistant", "", "", true)
			usage := []byte(completed.Response.Usage.RawJSON())
			r.events.OnMetadata(sessionID, "tokens", usage)
		}
	}
	if err := stream.Err(); err != nil && err != io.EOF {
		r.events.OnError(sessionID, "api_error", err.Error())
		return fmt.Errorf("apirunner: stream: %w", err)
	}
	return nil
}

func (r *Runner) Stop(ctx context.Context, sessionID string) (*int, error) {
	zero := 0
	r.events.OnExit(sessionID, &zero)
	return &zero, nil
}

func (r *Runner) UpdatePermissionMode(ctx context.Context, sessionID, mode string) error {
	// Hosted API calls have no local tool-approval loop; accepted for
	// interface symmetry with the other adapters.
	return nil
}

func (r *Runner) Type() string { return "api" }

// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package slackbridge implements bridge.Interface over
// github.com/slack-go/slack, threading every session's messages under
// one parent message the way codeready-toolchain-tarsy/pkg/slack/client.go
// threads notifications with goslack.MsgOptionTS, and using log/slog for
// its own logging the way that source does (relay's ambient stack
// otherwise uses log.Printf; this bridge keeps its source's idiom rather
// than forcing one logging façade across the tree).
package slackbridge

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	goslack "github.com/slack-go/slack"

	"github.com/wingedpig/relay/internal/bridge"
)

// postTimeout bounds every Slack API call so a hung bridge call never
// stalls the subscriber.
const postTimeout = 10 * time.Second

// Bridge wraps a Slack channel as a bridge.Interface.
type Bridge struct {
	api       *goslack.Client
	channelID string
	logger    *slog.Logger

	mu      sync.Mutex
	threads map[string]string // sessionID -> thread ts
}

// New constructs a Slack bridge posting into channelID with token.
func New(token, channelID string) *Bridge {
	return &Bridge{
		api:       goslack.New(token),
		channelID: channelID,
		logger:    slog.Default().With("component", "slackbridge"),
		threads:   make(map[string]string),
	}
}

func (b *Bridge) Name() string { return "slack" }

func (b *Bridge) threadTS(sessionID string) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.threads[sessionID]
}

func (b *Bridge) post(ctx context.Context, sessionID, text string) error {
	ctx, cancel := context.WithTimeout(ctx, postTimeout)
	defer cancel()

	opts := []goslack.MsgOption{goslack.MsgOptionText(text, false)}
	if ts := b.threadTS(sessionID); ts != "" {
		opts = append(opts, goslack.MsgOptionTS(ts))
	}
	_, _, err := b.api.PostMessageContext(ctx, b.channelID, opts...)
	if err != nil {
		return fmt.Errorf("slackbridge: post: %w", err)
	}
	return nil
}

func (b *Bridge) OnOutput(ctx context.Context, sessionID, text string, metadata map[string]string) error {
	return b.post(ctx, sessionID, text)
}

func (b *Bridge) OnApprovalRequest(ctx context.Context, sessionID string, req bridge.ApprovalRequest) error {
	blocks := approvalBlocks(req)
	ctx, cancel := context.WithTimeout(ctx, postTimeout)
	defer cancel()
	opts := []goslack.MsgOption{goslack.MsgOptionBlocks(blocks...)}
	if ts := b.threadTS(sessionID); ts != "" {
		opts = append(opts, goslack.MsgOptionTS(ts))
	}
	_, _, err := b.api.PostMessageContext(ctx, b.channelID, opts...)
	if err != nil {
		return fmt.Errorf("slackbridge: approval: %w", err)
	}
	return nil
}

func approvalBlocks(req bridge.ApprovalRequest) []goslack.Block {
	header := goslack.NewTextBlockObject(goslack.MarkdownType, fmt.Sprintf("*Approve %s?*\n%s", req.Title, req.Description), false, false)
	return []goslack.Block{goslack.NewSectionBlock(header, nil, nil)}
}

func (b *Bridge) OnStatusChange(ctx context.Context, sessionID, status string, metadata map[string]string) error {
	return b.post(ctx, sessionID, fmt.Sprintf("status: %s", status))
}

func (b *Bridge) OnTyping(ctx context.Context, sessionID string) error {
	return nil // Slack has no dedicated typing indicator API for bot users.
}

func (b *Bridge) OnTypingStopped(ctx context.Context, sessionID string) error { return nil }

func (b *Bridge) OnSessionRemoved(ctx context.Context, sessionID string) error {
	b.mu.Lock()
	delete(b.threads, sessionID)
	b.mu.Unlock()
	return nil
}

func (b *Bridge) CreateThread(ctx context.Context, sessionID, name string) (bridge.ThreadInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, postTimeout)
	defer cancel()

	_, ts, err := b.api.PostMessageContext(ctx, b.channelID, goslack.MsgOptionText(fmt.Sprintf("started: %s", name), false))
	if err != nil {
		return bridge.ThreadInfo{}, fmt.Errorf("slackbridge: create thread: %w", err)
	}
	b.mu.Lock()
	b.threads[sessionID] = ts
	b.mu.Unlock()
	return bridge.ThreadInfo{ThreadID: ts, Platform: "slack"}, nil
}

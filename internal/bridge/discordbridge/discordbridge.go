// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package discordbridge implements bridge.Interface over
// github.com/bwmarrin/discordgo, mapping each session to a Discord
// thread under a configured parent channel.
package discordbridge

import (
	"context"
	"fmt"
	"sync"

	"github.com/bwmarrin/discordgo"

	"github.com/wingedpig/relay/internal/bridge"
)

// Bridge wraps a Discord text channel (parent of per-session threads) as
// a bridge.Interface.
type Bridge struct {
	session   *discordgo.Session
	channelID string

	mu      sync.Mutex
	threads map[string]string // sessionID -> thread channel id
}

// New constructs a Discord bridge using botToken, posting threads under
// parentChannelID.
func New(botToken, parentChannelID string) (*Bridge, error) {
	sess, err := discordgo.New("Bot " + botToken)
	if err != nil {
		return nil, fmt.Errorf("discordbridge: new session: %w", err)
	}
	return &Bridge{session: sess, channelID: parentChannelID, threads: make(map[string]string)}, nil
}

func (b *Bridge) Name() string { return "discord" }

func (b *Bridge) channelFor(sessionID string) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if id, ok := b.threads[sessionID]; ok {
		return id
	}
	return b.channelID
}

func (b *Bridge) OnOutput(ctx context.Context, sessionID, text string, metadata map[string]string) error {
	if _, err := b.session.ChannelMessageSend(b.channelFor(sessionID), text); err != nil {
		return fmt.Errorf("discordbridge: send: %w", err)
	}
	return nil
}

func (b *Bridge) OnApprovalRequest(ctx context.Context, sessionID string, req bridge.ApprovalRequest) error {
	embed := &discordgo.MessageEmbed{
		Title:       fmt.Sprintf("Approve %s?", req.Title),
		Description: req.Description,
	}
	components := []discordgo.MessageComponent{discordgo.ActionsRow{Components: approvalButtons(req)}}
	_, err := b.session.ChannelMessageSendComplex(b.channelFor(sessionID), &discordgo.MessageSend{
		Embed: embed, Components: components,
	})
	if err != nil {
		return fmt.Errorf("discordbridge: approval: %w", err)
	}
	return nil
}

func approvalButtons(req bridge.ApprovalRequest) []discordgo.MessageComponent {
	buttons := make([]discordgo.MessageComponent, 0, len(req.Options))
	for _, opt := range req.Options {
		style := discordgo.SecondaryButton
		if opt == "Allow" {
			style = discordgo.SuccessButton
		} else if opt == "Deny" {
			style = discordgo.DangerButton
		}
		buttons = append(buttons, discordgo.Button{
			Label:    opt,
			Style:    style,
			CustomID: req.RequestID + ":" + opt,
		})
	}
	return buttons
}

func (b *Bridge) OnStatusChange(ctx context.Context, sessionID, status string, metadata map[string]string) error {
	_, err := b.session.ChannelMessageSend(b.channelFor(sessionID), fmt.Sprintf("status: %s", status))
	if err != nil {
		return fmt.Errorf("discordbridge: status: %w", err)
	}
	return nil
}

func (b *Bridge) OnTyping(ctx context.Context, sessionID string) error {
	return b.session.ChannelTyping(b.channelFor(sessionID))
}

func (b *Bridge) OnTypingStopped(ctx context.Context, sessionID string) error { return nil }

func (b *Bridge) OnSessionRemoved(ctx context.Context, sessionID string) error {
	b.mu.Lock()
	delete(b.threads, sessionID)
	b.mu.Unlock()
	return nil
}

func (b *Bridge) CreateThread(ctx context.Context, sessionID, name string) (bridge.ThreadInfo, error) {
	thread, err := b.session.ThreadStart(b.channelID, name, discordgo.ChannelTypeGuildPublicThread, 1440)
	if err != nil {
		return bridge.ThreadInfo{}, fmt.Errorf("discordbridge: create thread: %w", err)
	}
	b.mu.Lock()
	b.threads[sessionID] = thread.ID
	b.mu.Unlock()
	return bridge.ThreadInfo{ThreadID: thread.ID, Platform: "discord"}, nil
}

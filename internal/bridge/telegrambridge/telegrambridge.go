// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package telegrambridge implements bridge.Interface over
// github.com/go-telegram-bot-api/telegram-bot-api/v5. Each session gets
// an anchor message in the configured chat; all later traffic for the
// session replies to its anchor, which Telegram renders as a thread.
// The session→anchor map is persisted to telegram_state.json so threads
// survive a restart.
package telegrambridge

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strconv"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/wingedpig/relay/internal/bridge"
)

// Bridge wraps a Telegram chat as a bridge.Interface.
type Bridge struct {
	bot       *tgbotapi.BotAPI
	chatID    int64
	stateFile string

	mu      sync.Mutex
	anchors map[string]int // sessionID -> anchor message id
}

// New constructs a Telegram bridge posting into chatID with the given
// bot token. stateFile, if non-empty, persists the session→thread map
// across restarts.
func New(token string, chatID int64, stateFile string) (*Bridge, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegrambridge: new bot: %w", err)
	}
	b := &Bridge{bot: bot, chatID: chatID, stateFile: stateFile, anchors: make(map[string]int)}
	b.loadState()
	return b, nil
}

func (b *Bridge) Name() string { return "telegram" }

func (b *Bridge) loadState() {
	if b.stateFile == "" {
		return
	}
	data, err := os.ReadFile(b.stateFile)
	if err != nil {
		return
	}
	var anchors map[string]int
	if err := json.Unmarshal(data, &anchors); err != nil {
		log.Printf("telegrambridge: corrupt state file %s: %v", b.stateFile, err)
		return
	}
	b.mu.Lock()
	b.anchors = anchors
	b.mu.Unlock()
}

// saveState writes the anchor map. Callers hold b.mu.
func (b *Bridge) saveState() {
	if b.stateFile == "" {
		return
	}
	data, err := json.Marshal(b.anchors)
	if err != nil {
		return
	}
	tmp := b.stateFile + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		log.Printf("telegrambridge: save state: %v", err)
		return
	}
	if err := os.Rename(tmp, b.stateFile); err != nil {
		log.Printf("telegrambridge: save state: %v", err)
	}
}

func (b *Bridge) anchorFor(sessionID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.anchors[sessionID]
}

func (b *Bridge) send(sessionID, text string) error {
	msg := tgbotapi.NewMessage(b.chatID, text)
	if anchor := b.anchorFor(sessionID); anchor != 0 {
		msg.ReplyToMessageID = anchor
	}
	if _, err := b.bot.Send(msg); err != nil {
		return fmt.Errorf("telegrambridge: send: %w", err)
	}
	return nil
}

func (b *Bridge) OnOutput(ctx context.Context, sessionID, text string, metadata map[string]string) error {
	return b.send(sessionID, text)
}

func (b *Bridge) OnApprovalRequest(ctx context.Context, sessionID string, req bridge.ApprovalRequest) error {
	msg := tgbotapi.NewMessage(b.chatID, fmt.Sprintf("Approve %s?\n%s", req.Title, req.Description))
	if anchor := b.anchorFor(sessionID); anchor != 0 {
		msg.ReplyToMessageID = anchor
	}
	rowButtons := make([]tgbotapi.InlineKeyboardButton, 0, len(req.Options))
	for _, opt := range req.Options {
		rowButtons = append(rowButtons, tgbotapi.NewInlineKeyboardButtonData(opt, req.RequestID+":"+opt))
	}
	msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(rowButtons)
	if _, err := b.bot.Send(msg); err != nil {
		return fmt.Errorf("telegrambridge: approval: %w", err)
	}
	return nil
}

func (b *Bridge) OnStatusChange(ctx context.Context, sessionID, status string, metadata map[string]string) error {
	return b.send(sessionID, fmt.Sprintf("status: %s", status))
}

func (b *Bridge) OnTyping(ctx context.Context, sessionID string) error {
	action := tgbotapi.NewChatAction(b.chatID, tgbotapi.ChatTyping)
	if _, err := b.bot.Request(action); err != nil {
		log.Printf("telegrambridge: typing: %v", err)
	}
	return nil
}

func (b *Bridge) OnTypingStopped(ctx context.Context, sessionID string) error { return nil }

func (b *Bridge) OnSessionRemoved(ctx context.Context, sessionID string) error {
	b.mu.Lock()
	delete(b.anchors, sessionID)
	b.saveState()
	b.mu.Unlock()
	return nil
}

func (b *Bridge) CreateThread(ctx context.Context, sessionID, name string) (bridge.ThreadInfo, error) {
	sent, err := b.bot.Send(tgbotapi.NewMessage(b.chatID, fmt.Sprintf("session: %s", name)))
	if err != nil {
		return bridge.ThreadInfo{}, fmt.Errorf("telegrambridge: create thread: %w", err)
	}
	b.mu.Lock()
	b.anchors[sessionID] = sent.MessageID
	b.saveState()
	b.mu.Unlock()
	return bridge.ThreadInfo{ThreadID: strconv.Itoa(sent.MessageID), Platform: "telegram"}, nil
}

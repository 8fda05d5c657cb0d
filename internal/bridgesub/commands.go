// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package bridgesub

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/wingedpig/relay/internal/store"
)

// Pairing gates control-channel commands behind a one-time code a user
// must prove possession of first. A nil Pairing disables the
// requirement entirely.
type Pairing interface {
	// Verified reports whether userID has already proven possession of a
	// one-time code for this bridge process.
	Verified(userID string) bool
	// Claim consumes code on behalf of userID, returning true once.
	Claim(userID, code string) bool
}

// CommandResult describes what a Commands.Handle call did, for the
// bridge's own acknowledgement message.
type CommandResult struct {
	Reply string
}

// Commands routes chat-channel text back into the Session API and
// Permission Protocol, exactly as an HTTP client would. Bridges never
// reach the Store directly.
type Commands struct {
	sub     *Subscriber
	pairing Pairing
}

// NewCommands constructs a Commands router bound to sub.
func NewCommands(sub *Subscriber, pairing Pairing) *Commands {
	return &Commands{sub: sub, pairing: pairing}
}

// denyPrefix is the chat shorthand for resolving a pending permission as
// denied with a reason.
const denyPrefix = "deny:"

// HandleThreadMessage handles text posted in a session's bound thread:
// either resolve a pending permission via "deny: <reason>", or forward
// the text as session input.
func (c *Commands) HandleThreadMessage(ctx context.Context, sessionID, userID, text string) (CommandResult, error) {
	trimmed := strings.TrimSpace(text)
	lower := strings.ToLower(trimmed)

	if strings.HasPrefix(lower, denyPrefix) {
		reason := strings.TrimSpace(trimmed[len(denyPrefix):])
		reqID, ok := c.sub.features.mostRecentPending(sessionID)
		if !ok {
			return CommandResult{Reply: "no pending approval to deny"}, nil
		}
		if !c.sub.permission.Resolve(sessionID, reqID, store.PermissionResult{
			Allowed: false, Message: reason, ResolvedBy: userID,
		}) {
			return CommandResult{Reply: "that approval was already resolved"}, nil
		}
		c.sub.features.clearPending(sessionID, reqID)
		return CommandResult{Reply: "denied"}, nil
	}

	if lower == "allow" {
		reqID, ok := c.sub.features.mostRecentPending(sessionID)
		if !ok {
			return CommandResult{Reply: "no pending approval to allow"}, nil
		}
		if !c.sub.permission.Resolve(sessionID, reqID, store.PermissionResult{Allowed: true, ResolvedBy: userID}) {
			return CommandResult{Reply: "that approval was already resolved"}, nil
		}
		c.sub.features.clearPending(sessionID, reqID)
		return CommandResult{Reply: "allowed"}, nil
	}

	if _, err := c.sub.session.Input(ctx, sessionID, trimmed); err != nil {
		return CommandResult{}, fmt.Errorf("bridgesub: input: %w", err)
	}
	return CommandResult{Reply: "sent"}, nil
}

// HandleControlMessage handles the control-channel commands (!help,
// !status, !list, !attach <n>, !stop), gated by pairing when
// configured.
func (c *Commands) HandleControlMessage(ctx context.Context, userID, text string) (CommandResult, error) {
	if c.pairing != nil && !c.pairing.Verified(userID) {
		fields := strings.Fields(text)
		if len(fields) == 2 && fields[0] == "!pair" {
			if c.pairing.Claim(userID, fields[1]) {
				return CommandResult{Reply: "paired"}, nil
			}
			return CommandResult{Reply: "invalid pairing code"}, nil
		}
		return CommandResult{Reply: "send !pair <code> first"}, nil
	}

	fields := strings.Fields(text)
	if len(fields) == 0 {
		return CommandResult{}, nil
	}

	switch fields[0] {
	case "!help":
		return CommandResult{Reply: "!help, !status, !list, !attach <n>, !stop"}, nil

	case "!list":
		sessions := c.sub.session.List()
		var b strings.Builder
		for i, s := range sessions {
			fmt.Fprintf(&b, "%d. %s [%s]\n", i+1, displayName(s), s.State)
		}
		if b.Len() == 0 {
			return CommandResult{Reply: "no sessions"}, nil
		}
		return CommandResult{Reply: b.String()}, nil

	case "!status":
		sessions := c.sub.session.List()
		running := 0
		for _, s := range sessions {
			if !s.State.Terminal() {
				running++
			}
		}
		return CommandResult{Reply: fmt.Sprintf("%d session(s), %d active", len(sessions), running)}, nil

	case "!attach":
		if len(fields) != 2 {
			return CommandResult{Reply: "usage: !attach <n>"}, nil
		}
		n, err := strconv.Atoi(fields[1])
		if err != nil || n < 1 {
			return CommandResult{Reply: "usage: !attach <n>"}, nil
		}
		sessions := c.sub.session.List()
		if n > len(sessions) {
			return CommandResult{Reply: "no such session"}, nil
		}
		return CommandResult{Reply: "attached to " + sessions[n-1].ID}, nil

	case "!stop":
		if len(fields) != 2 {
			return CommandResult{Reply: "usage: !stop <session-id>"}, nil
		}
		if _, err := c.sub.session.Stop(ctx, fields[1]); err != nil {
			return CommandResult{}, fmt.Errorf("bridgesub: stop: %w", err)
		}
		return CommandResult{Reply: "stopped"}, nil

	default:
		return CommandResult{Reply: "unknown command, try !help"}, nil
	}
}

func displayName(s store.Session) string {
	if s.Name != "" {
		return s.Name
	}
	if s.RepoID != "" {
		return s.RepoID
	}
	return s.ID
}

// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package maintenance runs the periodic retention-pruning and
// idle-timeout eviction task.
package maintenance

import (
	"context"
	"log"
	"time"

	"github.com/wingedpig/relay/internal/sessionapi"
	"github.com/wingedpig/relay/internal/store"
)

// DefaultInterval is the default tick period.
const DefaultInterval = 60 * time.Second

// DefaultRetention is the default retention window for terminal sessions.
const DefaultRetention = 7 * 24 * time.Hour

// Config configures the maintenance loop.
type Config struct {
	Store     *store.Store
	Session   *sessionapi.API
	Interval  time.Duration
	Retention time.Duration
	// IdleTimeout, if > 0, evicts RUNNING sessions whose last_activity_at
	// is older than this threshold. Zero disables eviction.
	IdleTimeout time.Duration
}

// Loop runs the maintenance task until ctx is cancelled.
type Loop struct {
	cfg Config
}

// New constructs a maintenance Loop, applying defaults for any
// zero-valued Interval/Retention.
func New(cfg Config) *Loop {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Retention <= 0 {
		cfg.Retention = DefaultRetention
	}
	return &Loop{cfg: cfg}
}

// Run ticks every cfg.Interval, performing retention pruning and (if
// configured) idle-timeout eviction, until ctx is cancelled.
func (l *Loop) Run(ctx context.Context) {
	ticker := time.NewTicker(l.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			l.tick(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (l *Loop) tick(ctx context.Context) {
	if removed := l.cfg.Store.PruneSessions(l.cfg.Retention); removed > 0 {
		log.Printf("maintenance: pruned %d session(s) older than %s", removed, l.cfg.Retention)
	}

	if l.cfg.IdleTimeout <= 0 {
		return
	}
	cutoff := time.Now().Add(-l.cfg.IdleTimeout)
	for _, sess := range l.cfg.Store.List() {
		if sess.State != store.StateRunning {
			continue
		}
		if sess.LastActivityAt.After(cutoff) {
			continue
		}
		log.Printf("maintenance: evicting idle session %s (last activity %s)", sess.ID, sess.LastActivityAt)
		if _, err := l.cfg.Session.Stop(ctx, sess.ID); err != nil {
			log.Printf("maintenance: idle eviction stop %s: %v", sess.ID, err)
		}
	}
}

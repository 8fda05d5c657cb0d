// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package app assembles relay: store, runner registry, permission
// protocol, session API, event stream, bridges, bridge subscribers,
// maintenance loop, and the HTTP server, and supervises their lifetimes.
package app

import (
	"context"
	"fmt"
	"log"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/wingedpig/relay/internal/api"
	"github.com/wingedpig/relay/internal/api/handlers"
	"github.com/wingedpig/relay/internal/bridge"
	"github.com/wingedpig/relay/internal/bridge/discordbridge"
	"github.com/wingedpig/relay/internal/bridge/slackbridge"
	"github.com/wingedpig/relay/internal/bridge/telegrambridge"
	"github.com/wingedpig/relay/internal/bridgesub"
	"github.com/wingedpig/relay/internal/config"
	"github.com/wingedpig/relay/internal/discovery"
	"github.com/wingedpig/relay/internal/eventstream"
	"github.com/wingedpig/relay/internal/maintenance"
	"github.com/wingedpig/relay/internal/permission"
	"github.com/wingedpig/relay/internal/runner"
	"github.com/wingedpig/relay/internal/runner/apirunner"
	"github.com/wingedpig/relay/internal/runner/localrunner"
	"github.com/wingedpig/relay/internal/runner/ptyrunner"
	"github.com/wingedpig/relay/internal/runner/rpcrunner"
	"github.com/wingedpig/relay/internal/runnerevents"
	"github.com/wingedpig/relay/internal/sessionapi"
	"github.com/wingedpig/relay/internal/statemachine"
	"github.com/wingedpig/relay/internal/store"
)

// bindScanInterval is how often the bridge binder rescans sessions for
// platform bindings that need a subscriber task started or torn down.
const bindScanInterval = 5 * time.Second

// App is the assembled relay service.
type App struct {
	cfg     *config.Config
	version string

	store      *store.Store
	registry   *runner.Registry
	protocol   *permission.Protocol
	session    *sessionapi.API
	bridges    *bridge.Manager
	subscriber *bridgesub.Subscriber
	maint      *maintenance.Loop
	server     *api.Server

	mu          sync.Mutex
	bridgeTasks map[string]context.CancelFunc
}

// Options holds construction options for the app.
type Options struct {
	Config  *config.Config
	Version string
}

// New wires every component together. Nothing starts running until Run.
func New(opts Options) (*App, error) {
	cfg := opts.Config

	st, err := store.New(store.Config{DataDir: cfg.Data.Dir})
	if err != nil {
		return nil, err
	}

	sink := runnerevents.New(st)
	registry := runner.NewRegistry(sink, runnerFactories(cfg, st))

	permTimeout, err := config.ParseDuration(cfg.Permission.Timeout)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("app: permission.timeout: %w", err)
	}
	protocol := permission.New(st, sink, permTimeout)

	session := sessionapi.New(sessionapi.Config{
		Store:      st,
		Registry:   registry,
		Permission: protocol,
	})

	bridges := bridge.NewManager()
	if err := registerBridges(bridges, cfg); err != nil {
		st.Close()
		return nil, err
	}
	subscriber := bridgesub.New(st, bridges, session, protocol)

	interval, _ := config.ParseDuration(cfg.Maintenance.Interval)
	retention, _ := config.ParseDuration(cfg.Maintenance.Retention)
	idle, _ := config.ParseDuration(cfg.Maintenance.IdleTimeout)
	maint := maintenance.New(maintenance.Config{
		Store:       st,
		Session:     session,
		Interval:    interval,
		Retention:   retention,
		IdleTimeout: idle,
	})

	sse := eventstream.NewSSE(st, 0)
	agentWS := eventstream.NewAgentWS(st, session)

	server := api.NewServer(api.ServerConfig{
		Host:      cfg.Server.Host,
		Port:      cfg.Server.Port,
		TLSCert:   cfg.Server.TLSCert,
		TLSKey:    cfg.Server.TLSKey,
		AuthToken: authToken(cfg),
		Version:   opts.Version,
	}, api.Dependencies{
		Sessions:    handlers.NewSessionHandler(session),
		Events:      handlers.NewEventsHandler(sse, st),
		Permissions: handlers.NewPermissionHandler(protocol),
		External:    handlers.NewExternalHandler(session, st, protocol),
		Debug:       handlers.NewDebugHandler(st),
		AgentWS:     agentWS,
	})

	return &App{
		cfg:         cfg,
		version:     opts.Version,
		store:       st,
		registry:    registry,
		protocol:    protocol,
		session:     session,
		bridges:     bridges,
		subscriber:  subscriber,
		maint:       maint,
		server:      server,
		bridgeTasks: make(map[string]context.CancelFunc),
	}, nil
}

func authToken(cfg *config.Config) string {
	if cfg.Auth.DevMode {
		return ""
	}
	return cfg.Auth.Token
}

// runnerFactories maps adapter names to their factories, configured from
// cfg. Every name is registered even when its backend isn't configured;
// the factory itself reports the missing configuration on first use.
func runnerFactories(cfg *config.Config, st *store.Store) map[string]runner.Factory {
	rpcCfg := rpcrunner.Config{Address: cfg.Adapters.RPC.Address}
	if d, err := config.ParseDuration(cfg.Adapters.RPC.ConnectTimeout); err == nil && d > 0 {
		rpcCfg.ConnectTimeout = d
	}
	if d, err := config.ParseDuration(cfg.Adapters.RPC.KeepaliveTime); err == nil && d > 0 {
		rpcCfg.KeepaliveTime = d
	}
	if d, err := config.ParseDuration(cfg.Adapters.RPC.KeepaliveTimeout); err == nil && d > 0 {
		rpcCfg.KeepaliveTimeout = d
	}

	return map[string]runner.Factory{
		"pty": ptyrunner.New(ptyrunner.Config{
			Command:  cfg.Adapters.PTY.Command,
			BaseArgs: cfg.Adapters.PTY.Args,
			WorkDir: func(sessionID string) string {
				sess, err := st.Get(sessionID)
				if err != nil {
					return ""
				}
				return sess.Directory
			},
		}),
		"api": apirunner.New(apirunner.Config{
			APIKey:  cfg.Adapters.API.APIKey,
			BaseURL: cfg.Adapters.API.BaseURL,
			Model:   cfg.Adapters.API.Model,
		}),
		"rpc":   rpcrunner.New(rpcCfg),
		"local": localrunner.New,
	}
}

func registerBridges(m *bridge.Manager, cfg *config.Config) error {
	if cfg.Bridges.Slack.Enabled {
		b := slackbridge.New(cfg.Bridges.Slack.BotToken, cfg.Bridges.Slack.ChannelID)
		m.RegisterBridge(b.Name(), b)
		log.Printf("app: slack bridge enabled (channel %s)", cfg.Bridges.Slack.ChannelID)
	}
	if cfg.Bridges.Telegram.Enabled {
		stateFile := filepath.Join(cfg.Data.Dir, "telegram_state.json")
		b, err := telegrambridge.New(cfg.Bridges.Telegram.BotToken, cfg.Bridges.Telegram.ChatID, stateFile)
		if err != nil {
			return fmt.Errorf("app: telegram bridge: %w", err)
		}
		m.RegisterBridge(b.Name(), b)
		log.Printf("app: telegram bridge enabled (chat %d)", cfg.Bridges.Telegram.ChatID)
	}
	if cfg.Bridges.Discord.Enabled {
		b, err := discordbridge.New(cfg.Bridges.Discord.BotToken, cfg.Bridges.Discord.ParentChannelID)
		if err != nil {
			return fmt.Errorf("app: discord bridge: %w", err)
		}
		m.RegisterBridge(b.Name(), b)
		log.Printf("app: discord bridge enabled (parent channel %s)", cfg.Bridges.Discord.ParentChannelID)
	}
	return nil
}

// reconcileRestoredSessions finalizes sessions restored from disk in a
// live state whose agent process did not survive the restart. Sessions
// whose CLI process is still running (a "<cli> --resume <id>" process
// matching their runner session id) are left alone.
func (a *App) reconcileRestoredSessions() {
	live := discovery.RunningResumeIDs(a.cfg.Adapters.PTY.Command)
	for _, sess := range a.store.List() {
		if sess.State.Terminal() || sess.State == store.StateCreated {
			continue
		}
		if sess.RunnerSessionID != "" && live[sess.RunnerSessionID] {
			log.Printf("app: session %s still running as %s, keeping state %s",
				sess.ID, sess.RunnerSessionID, sess.State)
			continue
		}
		var res statemachine.Result
		a.store.Update(sess.ID, func(s *store.Session) {
			if s.State == store.StateRunning || s.State == store.StateAwaitingInput {
				statemachine.Apply(s, store.StateStopping, nil)
			}
			res = statemachine.Apply(s, store.StateStopped, nil)
		})
		if res.Applied {
			log.Printf("app: finalized stale session %s (was %s)", sess.ID, res.From)
			a.store.Emit(sess.ID, store.EventSessionState, map[string]string{
				"from": string(res.From), "to": string(res.To),
			})
		}
	}
}

// Run starts the HTTP server, the maintenance loop, and the bridge
// binder, and blocks until ctx is cancelled or one of them fails.
func (a *App) Run(ctx context.Context) error {
	a.reconcileRestoredSessions()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return a.server.Start()
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return a.server.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		a.maint.Run(ctx)
		return nil
	})
	g.Go(func() error {
		a.runBridgeBinder(ctx)
		return nil
	})

	err := g.Wait()
	a.stopBridgeTasks()
	if cerr := a.store.Close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}

// runBridgeBinder keeps one bridge subscriber task alive per
// platform-bound, non-terminal session. Sessions gain and lose their
// bindings at runtime (create with platform, bind from chat, delete), so
// the binder reconciles on an interval instead of hooking every mutation.
func (a *App) runBridgeBinder(ctx context.Context) {
	ticker := time.NewTicker(bindScanInterval)
	defer ticker.Stop()

	for {
		a.reconcileBridgeTasks(ctx)
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return
		}
	}
}

func (a *App) reconcileBridgeTasks(ctx context.Context) {
	want := make(map[string]string)
	for _, sess := range a.store.List() {
		if sess.Platform == nil || sess.State.Terminal() {
			continue
		}
		if _, ok := a.bridges.GetBridge(sess.Platform.Platform); !ok {
			continue
		}
		want[sess.ID] = sess.Platform.Platform
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	for id, cancel := range a.bridgeTasks {
		if _, ok := want[id]; !ok {
			cancel()
			delete(a.bridgeTasks, id)
		}
	}
	for id, platform := range want {
		if _, ok := a.bridgeTasks[id]; ok {
			continue
		}
		taskCtx, cancel := context.WithCancel(ctx)
		a.bridgeTasks[id] = cancel
		go func(id, platform string) {
			a.subscriber.Run(taskCtx, id, platform)
			a.mu.Lock()
			if c, ok := a.bridgeTasks[id]; ok {
				c()
				delete(a.bridgeTasks, id)
			}
			a.mu.Unlock()
		}(id, platform)
	}
}

func (a *App) stopBridgeTasks() {
	a.mu.Lock()
	defer a.mu.Unlock()
	for id, cancel := range a.bridgeTasks {
		cancel()
		delete(a.bridgeTasks, id)
	}
}

// Store exposes the store.
func (a *App) Store() *store.Store { return a.store }

// Session exposes the session API.
func (a *App) Session() *sessionapi.API { return a.session }

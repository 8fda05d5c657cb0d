// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package api owns the HTTP server: route table, middleware chain, and
// listener lifecycle. Handlers live in the handlers subpackage and hold
// no routing knowledge of their own.
package api

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/wingedpig/relay/internal/api/handlers"
	"github.com/wingedpig/relay/internal/api/middleware"
	"github.com/wingedpig/relay/internal/eventstream"
)

// ServerConfig holds configuration for the API server.
type ServerConfig struct {
	Host    string
	Port    int
	TLSCert string // Path to TLS certificate file
	TLSKey  string // Path to TLS private key file
	// AuthToken, when non-empty, makes every route require
	// `Authorization: Bearer <token>`. Empty disables enforcement.
	AuthToken string
	Version   string
}

// Dependencies holds all handlers the route table dispatches to.
type Dependencies struct {
	Sessions    *handlers.SessionHandler
	Events      *handlers.EventsHandler
	Permissions *handlers.PermissionHandler
	External    *handlers.ExternalHandler
	Debug       *handlers.DebugHandler
	AgentWS     *eventstream.AgentWS
}

// Server is the HTTP API server.
type Server struct {
	config     ServerConfig
	router     *mux.Router
	httpServer *http.Server
}

// NewServer creates a new API server with all routes registered.
func NewServer(config ServerConfig, deps Dependencies) *Server {
	s := &Server{
		config: config,
		router: mux.NewRouter(),
	}
	s.setupRoutes(deps)
	return s
}

func (s *Server) setupRoutes(deps Dependencies) {
	r := s.router
	r.Use(middleware.Recovery)
	r.Use(middleware.Logging)
	r.Use(middleware.CORS)

	// Health stays reachable without a token so load balancers and
	// launch scripts can probe it.
	r.HandleFunc("/api/health", handlers.Health(s.config.Version)).Methods("GET")

	authed := r.NewRoute().Subrouter()
	authed.Use(middleware.Auth(s.config.AuthToken))

	// Session CRUD and lifecycle.
	authed.HandleFunc("/api/sessions", deps.Sessions.List).Methods("GET")
	authed.HandleFunc("/api/sessions", deps.Sessions.Create).Methods("POST")
	authed.HandleFunc("/api/sessions/{id}", deps.Sessions.Get).Methods("GET")
	authed.HandleFunc("/api/sessions/{id}", deps.Sessions.Delete).Methods("DELETE")
	authed.HandleFunc("/api/sessions/{id}/start", deps.Sessions.Start).Methods("POST")
	authed.HandleFunc("/api/sessions/{id}/input", deps.Sessions.Input).Methods("POST")
	authed.HandleFunc("/api/sessions/{id}/stop", deps.Sessions.Stop).Methods("POST")
	authed.HandleFunc("/api/sessions/{id}/interrupt", deps.Sessions.Interrupt).Methods("POST")
	authed.HandleFunc("/api/sessions/{id}/approval-mode", deps.Sessions.ApprovalMode).Methods("PATCH")
	authed.HandleFunc("/api/sessions/{id}/rename", deps.Sessions.Rename).Methods("PATCH")
	authed.HandleFunc("/api/sessions/{id}/diff", deps.Sessions.Diff).Methods("GET")
	authed.HandleFunc("/api/sessions/{id}/usage", deps.Sessions.Usage).Methods("GET")

	// Permission resolution.
	authed.HandleFunc("/api/sessions/{id}/permission", deps.Permissions.Resolve).Methods("POST")

	// Event replay and live SSE stream.
	authed.HandleFunc("/api/sessions/{id}/events", deps.Events.Replay).Methods("GET")
	authed.HandleFunc("/events/sessions/{id}", deps.Events.Stream).Methods("GET")

	// Directory probing for the create-session UI.
	authed.HandleFunc("/api/directories/check", handlers.DirectoryCheck).Methods("GET")

	// Local-development helpers.
	authed.HandleFunc("/api/debug/clear_data", deps.Debug.ClearData).Methods("POST")

	// External agents: HTTP-polling variant plus the WebSocket on-ramp.
	authed.HandleFunc("/api/external/sessions", deps.External.CreateSession).Methods("POST")
	authed.HandleFunc("/api/external/sessions/{id}/events", deps.External.AppendEvent).Methods("POST")
	authed.HandleFunc("/api/external/sessions/{id}/events", deps.External.PollEvents).Methods("GET")
	authed.HandleFunc("/api/external/sessions/{id}/respond", deps.External.Respond).Methods("POST")
	authed.Handle("/external/ws", deps.AgentWS).Methods("GET")
}

// Start begins listening. It blocks until the listener fails or Shutdown
// is called.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: s.router,
		// No WriteTimeout: SSE responses are intentionally long-lived.
		ReadHeaderTimeout: 10 * time.Second,
	}

	if s.config.TLSCert != "" && s.config.TLSKey != "" {
		log.Printf("api: listening on https://%s", addr)
		err := s.httpServer.ListenAndServeTLS(s.config.TLSCert, s.config.TLSKey)
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}

	log.Printf("api: listening on http://%s", addr)
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown gracefully stops the server, waiting for in-flight requests
// up to ctx's deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// Handler exposes the assembled route table, for tests driving the API
// through httptest without a real listener.
func (s *Server) Handler() http.Handler { return s.router }

// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package eventstream

import (
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/wingedpig/relay/internal/sessionapi"
	"github.com/wingedpig/relay/internal/store"
)

var agentUpgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// AgentFrame is the wire shape of every client→server frame on the
// external agent WebSocket.
type AgentFrame struct {
	Type          string          `json:"type"`
	AgentMetadata json.RawMessage `json:"agent_metadata,omitempty"`
	RepoID        string          `json:"repo_id,omitempty"`
	Directory     string          `json:"directory,omitempty"`
	SessionID     string          `json:"session_id,omitempty"`
	EventType     store.EventType `json:"event_type,omitempty"`
	Payload       json.RawMessage `json:"payload,omitempty"`
	SinceSeq      int64           `json:"since_seq,omitempty"`
}

// agentReply is the server→client frame shape.
type agentReply struct {
	Type      string        `json:"type"`
	AgentID   string        `json:"agent_id,omitempty"`
	SessionID string        `json:"session_id,omitempty"`
	Session   *store.Session `json:"session,omitempty"`
	Events    []store.Event `json:"events,omitempty"`
	Error     string        `json:"error,omitempty"`
}

// AgentWS is the external-agent WebSocket: external processes register,
// optionally create a session, append events, and poll for new ones. An
// alternative on-ramp to the HTTP session API for agents that aren't
// driven through a Runner adapter.
type AgentWS struct {
	store   *store.Store
	session *sessionapi.API
}

// NewAgentWS constructs the agent WebSocket handler.
func NewAgentWS(st *store.Store, session *sessionapi.API) *AgentWS {
	return &AgentWS{store: st, session: session}
}

// ServeHTTP upgrades the connection and runs the registration + typed
// frame loop until the client disconnects.
func (a *AgentWS) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := agentUpgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	var first AgentFrame
	if err := conn.ReadJSON(&first); err != nil || first.Type != "register" {
		conn.WriteJSON(agentReply{Type: "error", Error: "first frame must be {type:\"register\"}"})
		return
	}

	agentID := uuid.New().String()
	if err := conn.WriteJSON(agentReply{Type: "registered", AgentID: agentID}); err != nil {
		return
	}

	var boundSession string
	for {
		var frame AgentFrame
		if err := conn.ReadJSON(&frame); err != nil {
			break
		}

		switch frame.Type {
		case "create_session":
			sess, err := a.session.Create(sessionapi.CreateOptions{
				RepoID: frame.RepoID, Directory: frame.Directory,
				AgentName: agentID, AgentType: "external",
				EnsureWorkdir: true,
			})
			if err != nil {
				conn.WriteJSON(agentReply{Type: "error", Error: err.Error()})
				continue
			}
			boundSession = sess.ID
			conn.WriteJSON(agentReply{Type: "session_created", SessionID: sess.ID, Session: sess})

		case "event":
			if frame.SessionID == "" {
				frame.SessionID = boundSession
			}
			if frame.SessionID == "" || frame.EventType == "" {
				conn.WriteJSON(agentReply{Type: "error", Error: "event frame requires session_id and event_type"})
				continue
			}
			if _, err := a.store.Emit(frame.SessionID, frame.EventType, json.RawMessage(frame.Payload)); err != nil {
				conn.WriteJSON(agentReply{Type: "error", Error: err.Error()})
				continue
			}
			conn.WriteJSON(agentReply{Type: "ack", SessionID: frame.SessionID})

		case "poll_events":
			sid := frame.SessionID
			if sid == "" {
				sid = boundSession
			}
			evs, err := a.store.ReadEventLog(sid, frame.SinceSeq, 0)
			if err != nil {
				conn.WriteJSON(agentReply{Type: "error", Error: err.Error()})
				continue
			}
			conn.WriteJSON(agentReply{Type: "events", SessionID: sid, Events: evs})

		default:
			conn.WriteJSON(agentReply{Type: "error", Error: "unknown frame type: " + frame.Type})
		}
	}

	if boundSession != "" {
		if _, err := a.store.Emit(boundSession, store.EventAgentDisconnected, map[string]interface{}{
			"agent_id": agentID, "at": time.Now().UTC(),
		}); err != nil {
			log.Printf("eventstream: agent_disconnected emit for %s: %v", boundSession, err)
		}
	}
}

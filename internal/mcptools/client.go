// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package mcptools exposes relay's external-agent surface as MCP tools
// over stdio, so MCP-speaking agents can create sessions, post output,
// request human approval, and poll for responses. The tools wrap the
// REST API over localhost rather than touching the Store directly, the
// same one-way dependency every bridge observes.
package mcptools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// Client calls relay's external-agent HTTP API.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// NewClient constructs a Client for the relay server at baseURL. token,
// if non-empty, is sent as a bearer token on every request.
func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL: baseURL,
		token:   token,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *Client) do(ctx context.Context, method, path string, body interface{}) (json.RawMessage, error) {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return nil, fmt.Errorf("mcptools: encode request: %w", err)
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, &buf)
	if err != nil {
		return nil, fmt.Errorf("mcptools: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("mcptools: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("mcptools: read response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("mcptools: %s %s: %s: %s", method, path, resp.Status, data)
	}
	return data, nil
}

// CreateSessionArgs are the create_session tool's inputs.
type CreateSessionArgs struct {
	AgentName   string
	AgentType   string
	SessionName string
	Platform    string
	Workspace   string
}

// CreateSession creates an external-agent session.
func (c *Client) CreateSession(ctx context.Context, args CreateSessionArgs) (json.RawMessage, error) {
	return c.do(ctx, http.MethodPost, "/api/external/sessions", map[string]interface{}{
		"agent_name":   args.AgentName,
		"agent_type":   args.AgentType,
		"agent_icon":   "🤖",
		"session_name": args.SessionName,
		"platform":     args.Platform,
		"directory":    args.Workspace,
	})
}

// SendOutput appends an output event to a session.
func (c *Client) SendOutput(ctx context.Context, sessionID, text string) (json.RawMessage, error) {
	return c.do(ctx, http.MethodPost, "/api/external/sessions/"+url.PathEscape(sessionID)+"/events", map[string]interface{}{
		"event_type": "output",
		"payload":    map[string]interface{}{"text": text, "final": true},
	})
}

// RequestApproval appends a permission_request event to a session; the
// bound bridge renders it and a human resolves it.
func (c *Client) RequestApproval(ctx context.Context, sessionID, title, description string, options []string, timeoutSeconds int) (json.RawMessage, error) {
	requestID := "mcp_" + sessionID
	if len(sessionID) > 8 {
		requestID = "mcp_" + sessionID[:8]
	}
	return c.do(ctx, http.MethodPost, "/api/external/sessions/"+url.PathEscape(sessionID)+"/events", map[string]interface{}{
		"event_type": "permission_request",
		"payload": map[string]interface{}{
			"request_id": requestID,
			"tool_name":  title,
			"tool_input": description,
			"options":    options,
			"timeout_s":  timeoutSeconds,
		},
	})
}

// CheckInput polls for events after sinceSeq, surfacing any human input
// or approval responses posted since the agent last looked.
func (c *Client) CheckInput(ctx context.Context, sessionID string, sinceSeq int) (json.RawMessage, error) {
	path := "/api/external/sessions/" + url.PathEscape(sessionID) + "/events?since_seq=" + strconv.Itoa(sinceSeq)
	return c.do(ctx, http.MethodGet, path, nil)
}

// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package mcptools

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// NewServer builds the MCP server with relay's four tools registered
// against client.
func NewServer(client *Client, version string) *server.MCPServer {
	s := server.NewMCPServer("relay", version)

	createSession := mcp.NewTool("create_session",
		mcp.WithDescription("Create a new relay session for an external agent"),
		mcp.WithString("agent_name", mcp.Required(), mcp.Description("Display name for the agent")),
		mcp.WithString("agent_type", mcp.Required(), mcp.Description("Type of agent (e.g. 'claude_code', 'custom')")),
		mcp.WithString("session_name", mcp.Required(), mcp.Description("Name for the session")),
		mcp.WithString("platform", mcp.Description("Messaging platform (default: 'telegram')")),
		mcp.WithString("workspace", mcp.Description("Optional workspace directory")),
	)
	s.AddTool(createSession, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		agentName, err := req.RequireString("agent_name")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		agentType, err := req.RequireString("agent_type")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		sessionName, err := req.RequireString("session_name")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		result, err := client.CreateSession(ctx, CreateSessionArgs{
			AgentName:   agentName,
			AgentType:   agentType,
			SessionName: sessionName,
			Platform:    req.GetString("platform", "telegram"),
			Workspace:   req.GetString("workspace", ""),
		})
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return mcp.NewToolResultText(string(result)), nil
	})

	sendOutput := mcp.NewTool("send_output",
		mcp.WithDescription("Send output text to a relay session"),
		mcp.WithString("session_id", mcp.Required(), mcp.Description("Relay session ID")),
		mcp.WithString("text", mcp.Required(), mcp.Description("Output text to send")),
	)
	s.AddTool(sendOutput, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		sessionID, err := req.RequireString("session_id")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		text, err := req.RequireString("text")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		result, err := client.SendOutput(ctx, sessionID, text)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return mcp.NewToolResultText(string(result)), nil
	})

	requestApproval := mcp.NewTool("request_approval",
		mcp.WithDescription("Request approval from a human via relay"),
		mcp.WithString("session_id", mcp.Required(), mcp.Description("Relay session ID")),
		mcp.WithString("title", mcp.Required(), mcp.Description("Approval request title")),
		mcp.WithString("description", mcp.Required(), mcp.Description("Detailed description of what needs approval")),
		mcp.WithNumber("timeout_s", mcp.Description("Timeout in seconds (default: 300)")),
	)
	s.AddTool(requestApproval, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		sessionID, err := req.RequireString("session_id")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		title, err := req.RequireString("title")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		description, err := req.RequireString("description")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		result, err := client.RequestApproval(ctx, sessionID, title, description,
			[]string{"Allow", "Deny"}, req.GetInt("timeout_s", 300))
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return mcp.NewToolResultText(string(result)), nil
	})

	checkInput := mcp.NewTool("check_input",
		mcp.WithDescription("Check for pending human input or approval responses"),
		mcp.WithString("session_id", mcp.Required(), mcp.Description("Relay session ID")),
		mcp.WithNumber("since_seq", mcp.Description("Only return events after this sequence number")),
	)
	s.AddTool(checkInput, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		sessionID, err := req.RequireString("session_id")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		result, err := client.CheckInput(ctx, sessionID, req.GetInt("since_seq", 0))
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return mcp.NewToolResultText(string(result)), nil
	})

	return s
}

// ServeStdio runs the MCP server on stdin/stdout until the client
// disconnects.
func ServeStdio(client *Client, version string) error {
	return server.ServeStdio(NewServer(client, version))
}

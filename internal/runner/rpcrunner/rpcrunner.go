// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package rpcrunner drives a coding-agent sidecar over gRPC: an
// insecure client connection with keepalive, a connect-time readiness
// wait, and bidirectional request/response streaming. The sidecar
// protocol has no committed .pb.go; requests and responses are carried
// as google.golang.org/protobuf/types/known/structpb values over a
// hand-declared streaming method name.
package rpcrunner

import (
	"context"
	"fmt"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/wingedpig/relay/internal/runner"
)

// sessionMethod is the full gRPC method name for relay's sidecar
// streaming RPC: bidirectional stream of structpb.Struct frames carrying
// {type, session_id, ...} much like the ptyrunner's NDJSON frames.
const sessionMethod = "/relay.runner.v1.RunnerService/Session"

// Config configures the RPC adapter.
type Config struct {
	Address          string
	ConnectTimeout   time.Duration
	KeepaliveTime    time.Duration
	KeepaliveTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.ConnectTimeout == 0 {
		c.ConnectTimeout = 5 * time.Second
	}
	if c.KeepaliveTime == 0 {
		c.KeepaliveTime = 2 * time.Minute
	}
	if c.KeepaliveTimeout == 0 {
		c.KeepaliveTimeout = 10 * time.Second
	}
	return c
}

// Runner is relay's gRPC sidecar adapter (runner_type "rpc").
type Runner struct {
	conn   *grpc.ClientConn
	events runner.Events

	mu       sync.Mutex
	sessions map[string]grpc.ClientStream
}

// New constructs the RPC adapter. Matches runner.Factory's shape.
func New(cfg Config) runner.Factory {
	cfg = cfg.withDefaults()
	return func(events runner.Events) (runner.Runner, error) {
		if cfg.Address == "" {
			return nil, fmt.Errorf("rpcrunner: Address is required")
		}

		kacp := keepalive.ClientParameters{
			Time:                cfg.KeepaliveTime,
			Timeout:             cfg.KeepaliveTimeout,
			PermitWithoutStream: false,
		}
		conn, err := grpc.NewClient(cfg.Address,
			grpc.WithTransportCredentials(insecure.NewCredentials()),
			grpc.WithKeepaliveParams(kacp),
		)
		if err != nil {
			return nil, fmt.Errorf("rpcrunner: dial %s: %w", cfg.Address, err)
		}

		connectCtx, cancel := context.WithTimeout(context.Background(), cfg.ConnectTimeout)
		defer cancel()
		if err := waitForReady(connectCtx, conn); err != nil {
			conn.Close()
			return nil, fmt.Errorf("rpcrunner: sidecar at %s not ready: %w", cfg.Address, err)
		}

		return &Runner{conn: conn, events: events, sessions: make(map[string]grpc.ClientStream)}, nil
	}
}

func waitForReady(ctx context.Context, conn *grpc.ClientConn) error {
	for {
		state := conn.GetState()
		switch state {
		case connectivity.Ready:
			return nil
		case connectivity.Idle:
			conn.Connect()
		case connectivity.Shutdown:
			return fmt.Errorf("connection shutdown")
		}
		if !conn.WaitForStateChange(ctx, state) {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("connection state did not change from %s", state)
		}
	}
}

func (r *Runner) streamFor(ctx context.Context, sessionID string) (grpc.ClientStream, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[sessionID]; ok {
		return s, nil
	}
	desc := &grpc.StreamDesc{StreamName: "Session", ClientStreams: true, ServerStreams: true}
	stream, err := r.conn.NewStream(ctx, desc, sessionMethod)
	if err != nil {
		return nil, fmt.Errorf("rpcrunner: open stream: %w", err)
	}
	r.sessions[sessionID] = stream
	go r.readLoop(sessionID, stream)
	return stream, nil
}

func (r *Runner) send(ctx context.Context, sessionID string, fields map[string]interface{}) error {
	stream, err := r.streamFor(ctx, sessionID)
	if err != nil {
		return err
	}
	frame, err := structpb.NewStruct(fields)
	if err != nil {
		return fmt.Errorf("rpcrunner: encode frame: %w", err)
	}
	return stream.SendMsg(frame)
}

func (r *Runner) readLoop(sessionID string, stream grpc.ClientStream) {
	for {
		frame := &structpb.Struct{}
		if err := stream.RecvMsg(frame); err != nil {
			r.events.OnExit(sessionID, nil)
			return
		}
		fields := frame.AsMap()
		kind, _ := fields["type"].(string)
		switch kind {
		case "header":
			title, _ := fields["title"].(string)
			threadID, _ := fields["thread_id"].(string)
			model, _ := fields["model"].(string)
			r.events.OnHeader(sessionID, title, threadID, model, "rpc")
		case "output":
			text, _ := fields["text"].(string)
			isFinal, _ := fields["is_final"].(bool)
			r.events.OnOutput(sessionID, "assistant", text, "", isFinal)
		case "error":
			code, _ := fields["code"].(string)
			message, _ := fields["message"].(string)
			r.events.OnError(sessionID, code, message)
		case "awaiting_input":
			r.events.OnAwaitingInput(sessionID)
		}
	}
}

func (r *Runner) Start(ctx context.Context, sessionID, prompt string, approvalChoice int) error {
	return r.send(ctx, sessionID, map[string]interface{}{
		"type": "start", "session_id": sessionID, "prompt": prompt, "approval_choice": approvalChoice,
	})
}

func (r *Runner) SendInput(ctx context.Context, sessionID, text string) error {
	return r.send(ctx, sessionID, map[string]interface{}{
		"type": "input", "session_id": sessionID, "text": text,
	})
}

func (r *Runner) Stop(ctx context.Context, sessionID string) (*int, error) {
	if err := r.send(ctx, sessionID, map[string]interface{}{"type": "stop", "session_id": sessionID}); err != nil {
		return nil, err
	}
	r.mu.Lock()
	delete(r.sessions, sessionID)
	r.mu.Unlock()
	return nil, nil
}

func (r *Runner) UpdatePermissionMode(ctx context.Context, sessionID, mode string) error {
	return r.send(ctx, sessionID, map[string]interface{}{
		"type": "permission_mode", "session_id": sessionID, "mode": mode,
	})
}

func (r *Runner) Type() string { return "rpc" }

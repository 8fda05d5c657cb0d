// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package config handles HJSON configuration loading, validation, and
// default expansion for relay.
package config

import (
	"strings"
	"time"
)

// Config is relay's root configuration structure.
type Config struct {
	Version string       `json:"version"`
	Server  ServerConfig `json:"server"`
	Auth    AuthConfig   `json:"auth"`
	Data    DataConfig   `json:"data"`

	DefaultAdapter string           `json:"default_adapter"`
	Adapters       AdaptersConfig   `json:"adapters"`
	Permission     PermissionConfig `json:"permission"`
	Maintenance    MaintenanceConfig `json:"maintenance"`
	Bridges        BridgesConfig    `json:"bridges"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Host    string `json:"host"`
	Port    int    `json:"port"`
	TLSCert string `json:"tls_cert"` // Path to TLS certificate file (enables HTTPS if both cert and key set)
	TLSKey  string `json:"tls_key"`  // Path to TLS private key file
}

// AuthConfig configures the optional bearer-token requirement.
type AuthConfig struct {
	Token   string `json:"token"`
	DevMode bool   `json:"dev_mode"` // disables enforcement entirely
}

// DataConfig configures the on-disk data root.
type DataConfig struct {
	Dir string `json:"dir"`
}

// AdaptersConfig configures the four Runner adapters.
type AdaptersConfig struct {
	PTY   PTYAdapterConfig   `json:"pty"`
	API   APIAdapterConfig   `json:"api"`
	RPC   RPCAdapterConfig   `json:"rpc"`
	Local LocalAdapterConfig `json:"local"`
}

// PTYAdapterConfig configures the CLI-subprocess-over-PTY adapter.
type PTYAdapterConfig struct {
	Command string   `json:"command"`
	Args    []string `json:"args"`
}

// APIAdapterConfig configures the hosted-LLM-API adapter.
type APIAdapterConfig struct {
	APIKey  string `json:"api_key"`
	BaseURL string `json:"base_url"`
	Model   string `json:"model"`
}

// RPCAdapterConfig configures the gRPC sidecar adapter.
type RPCAdapterConfig struct {
	Address          string `json:"address"`
	ConnectTimeout   string `json:"connect_timeout"`
	KeepaliveTime    string `json:"keepalive_time"`
	KeepaliveTimeout string `json:"keepalive_timeout"`
}

// LocalAdapterConfig configures the in-process fake adapter (present for
// config-file symmetry with the other three adapters). The local adapter
// is always registered; Enabled is parsed but not read.
type LocalAdapterConfig struct {
	Enabled bool `json:"enabled"`
}

// PermissionConfig configures the approval-protocol timeout.
type PermissionConfig struct {
	Timeout string `json:"timeout"` // e.g. "300s"
}

// MaintenanceConfig configures the periodic maintenance task.
type MaintenanceConfig struct {
	Interval    string `json:"interval"`     // e.g. "60s"
	Retention   string `json:"retention"`    // e.g. "7d"
	IdleTimeout string `json:"idle_timeout"` // e.g. "0" to disable
}

// BridgesConfig configures the three chat-platform bridges.
type BridgesConfig struct {
	Slack    SlackBridgeConfig    `json:"slack"`
	Telegram TelegramBridgeConfig `json:"telegram"`
	Discord  DiscordBridgeConfig  `json:"discord"`
}

// SlackBridgeConfig configures internal/bridge/slackbridge.
type SlackBridgeConfig struct {
	Enabled   bool   `json:"enabled"`
	BotToken  string `json:"bot_token"`
	ChannelID string `json:"channel_id"`
}

// TelegramBridgeConfig configures internal/bridge/telegrambridge.
type TelegramBridgeConfig struct {
	Enabled  bool  `json:"enabled"`
	BotToken string `json:"bot_token"`
	ChatID   int64  `json:"chat_id"`
}

// DiscordBridgeConfig configures internal/bridge/discordbridge.
type DiscordBridgeConfig struct {
	Enabled         bool   `json:"enabled"`
	BotToken        string `json:"bot_token"`
	ParentChannelID string `json:"parent_channel_id"`
}

// ParseDuration parses relay's "15s"/"7d"-shaped duration strings.
// Suffix "d" (days) is handled directly since time.ParseDuration doesn't
// support it; everything else is delegated to the standard parser.
func ParseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	if strings.HasSuffix(s, "d") {
		numPart := strings.TrimSuffix(s, "d")
		days, err := time.ParseDuration(numPart + "h")
		if err != nil {
			return 0, err
		}
		return days * 24, nil
	}
	return time.ParseDuration(s)
}

// Defaults returns the built-in configuration defaults, applied by
// Loader.Load before validation so a minimal config file is sufficient
// to run relay.
func Defaults() Config {
	return Config{
		Version: "1",
		Server:  ServerConfig{Host: "127.0.0.1", Port: 8088},
		Data:    DataConfig{Dir: "./relay-data"},
		DefaultAdapter: "pty",
		Adapters: AdaptersConfig{
			PTY: PTYAdapterConfig{Command: "claude"},
		},
		Permission:  PermissionConfig{Timeout: "300s"},
		Maintenance: MaintenanceConfig{Interval: "60s", Retention: "7d", IdleTimeout: "0"},
	}
}

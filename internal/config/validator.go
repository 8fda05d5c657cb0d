// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"fmt"
	"strings"
)

// Validator validates configuration against schema rules.
type Validator struct{}

// NewValidator creates a new config validator.
func NewValidator() *Validator { return &Validator{} }

// ValidationError contains multiple validation failures.
type ValidationError struct {
	Errors []FieldError
}

// FieldError represents a single field validation error.
type FieldError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Errors))
	for i, fe := range e.Errors {
		parts[i] = fmt.Sprintf("%s: %s", fe.Field, fe.Message)
	}
	return "config validation failed: " + strings.Join(parts, "; ")
}

func (e *ValidationError) add(field, message string) {
	e.Errors = append(e.Errors, FieldError{Field: field, Message: message})
}

// Validate checks cfg for structural and semantic errors, returning a
// *ValidationError aggregating every failure found.
func (v *Validator) Validate(cfg *Config) error {
	errs := &ValidationError{}

	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		errs.add("server.port", "must be between 1 and 65535")
	}
	if (cfg.Server.TLSCert == "") != (cfg.Server.TLSKey == "") {
		errs.add("server.tls_cert/tls_key", "both or neither must be set")
	}
	if cfg.Data.Dir == "" {
		errs.add("data.dir", "must not be empty")
	}

	if cfg.DefaultAdapter == "" {
		errs.add("default_adapter", "must not be empty")
	} else {
		switch cfg.DefaultAdapter {
		case "pty", "api", "rpc", "local":
		default:
			errs.add("default_adapter", "must be one of pty, api, rpc, local")
		}
	}

	if cfg.DefaultAdapter == "api" && cfg.Adapters.API.APIKey == "" {
		errs.add("adapters.api.api_key", "required when default_adapter is \"api\"")
	}
	if cfg.DefaultAdapter == "rpc" && cfg.Adapters.RPC.Address == "" {
		errs.add("adapters.rpc.address", "required when default_adapter is \"rpc\"")
	}

	if _, err := ParseDuration(cfg.Permission.Timeout); err != nil {
		errs.add("permission.timeout", err.Error())
	}
	if _, err := ParseDuration(cfg.Maintenance.Interval); err != nil {
		errs.add("maintenance.interval", err.Error())
	}
	if _, err := ParseDuration(cfg.Maintenance.Retention); err != nil {
		errs.add("maintenance.retention", err.Error())
	}
	if _, err := ParseDuration(cfg.Maintenance.IdleTimeout); err != nil {
		errs.add("maintenance.idle_timeout", err.Error())
	}

	if cfg.Bridges.Slack.Enabled {
		if cfg.Bridges.Slack.BotToken == "" {
			errs.add("bridges.slack.bot_token", "required when enabled")
		}
		if cfg.Bridges.Slack.ChannelID == "" {
			errs.add("bridges.slack.channel_id", "required when enabled")
		}
	}
	if cfg.Bridges.Telegram.Enabled {
		if cfg.Bridges.Telegram.BotToken == "" {
			errs.add("bridges.telegram.bot_token", "required when enabled")
		}
		if cfg.Bridges.Telegram.ChatID == 0 {
			errs.add("bridges.telegram.chat_id", "required when enabled")
		}
	}
	if cfg.Bridges.Discord.Enabled {
		if cfg.Bridges.Discord.BotToken == "" {
			errs.add("bridges.discord.bot_token", "required when enabled")
		}
		if cfg.Bridges.Discord.ParentChannelID == "" {
			errs.add("bridges.discord.parent_channel_id", "required when enabled")
		}
	}

	if len(errs.Errors) > 0 {
		return errs
	}
	return nil
}

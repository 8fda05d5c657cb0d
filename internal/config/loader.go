// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/hjson/hjson-go/v4"
)

// Loader handles configuration file loading.
type Loader struct{}

// NewLoader creates a new config loader.
func NewLoader() *Loader { return &Loader{} }

// Load reads and parses the configuration from the given path, merging
// it over Defaults() and validating the result. HJSON is parsed to a
// map, then round-tripped through encoding/json onto the typed struct
// for static typing.
func (l *Loader) Load(ctx context.Context, path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var raw map[string]interface{}
	if err := hjson.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse hjson: %w", err)
	}

	jsonData, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("convert to json: %w", err)
	}

	cfg := Defaults()
	if err := json.Unmarshal(jsonData, &cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if err := NewValidator().Validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// LoadDefaults returns Defaults() validated as-is, for callers running
// without a config file (e.g. CLI flags only).
func (l *Loader) LoadDefaults() (*Config, error) {
	cfg := Defaults()
	if err := NewValidator().Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "relay.hjson")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0644))
	return path
}

func TestLoaderLoadsMinimalConfig(t *testing.T) {
	path := writeConfig(t, `{
		server: { port: 9090 }
		data: { dir: "/tmp/relay-test" }
	}`)

	cfg, err := NewLoader().Load(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "/tmp/relay-test", cfg.Data.Dir)
	// Defaults carry through for fields the file didn't set.
	assert.Equal(t, "pty", cfg.DefaultAdapter)
	assert.Equal(t, "60s", cfg.Maintenance.Interval)
}

func TestLoaderRejectsInvalidConfig(t *testing.T) {
	path := writeConfig(t, `{
		server: { port: 0 }
	}`)

	_, err := NewLoader().Load(context.Background(), path)
	require.Error(t, err)
	var verr *ValidationError
	assert.ErrorAs(t, err, &verr)
}

func TestLoaderMissingFile(t *testing.T) {
	_, err := NewLoader().Load(context.Background(), "/nonexistent/relay.hjson")
	assert.Error(t, err)
}

func TestLoaderRejectsMalformedHJSON(t *testing.T) {
	path := writeConfig(t, `{ not valid hjson :::`)
	_, err := NewLoader().Load(context.Background(), path)
	assert.Error(t, err)
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := NewLoader().LoadDefaults()
	require.NoError(t, err)
	assert.Equal(t, Defaults().Server.Port, cfg.Server.Port)
}

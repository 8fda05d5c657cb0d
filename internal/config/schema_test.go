// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDurationSeconds(t *testing.T) {
	d, err := ParseDuration("15s")
	require.NoError(t, err)
	assert.Equal(t, 15*time.Second, d)
}

func TestParseDurationDays(t *testing.T) {
	d, err := ParseDuration("7d")
	require.NoError(t, err)
	assert.Equal(t, 7*24*time.Hour, d)
}

func TestParseDurationEmpty(t *testing.T) {
	d, err := ParseDuration("")
	require.NoError(t, err)
	assert.Equal(t, time.Duration(0), d)
}

func TestParseDurationInvalid(t *testing.T) {
	_, err := ParseDuration("not-a-duration")
	assert.Error(t, err)
}

func TestDefaultsValidate(t *testing.T) {
	cfg := Defaults()
	require.NoError(t, NewValidator().Validate(&cfg))
}

// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package runner

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type noopEvents struct{}

func (noopEvents) OnHeader(string, string, string, string, string)                    {}
func (noopEvents) OnOutput(string, string, string, string, bool)                      {}
func (noopEvents) OnError(string, string, string)                                     {}
func (noopEvents) OnExit(string, *int)                                                {}
func (noopEvents) OnAwaitingInput(string)                                             {}
func (noopEvents) OnMetadata(string, string, json.RawMessage)                         {}
func (noopEvents) OnHeartbeat(string, float64, bool)                                  {}
func (noopEvents) OnPermissionRequest(string, string, string, json.RawMessage, json.RawMessage) {}
func (noopEvents) OnPermissionResolved(string, string, string, bool, string)          {}

type fakeRunner struct{ typ string }

func (f *fakeRunner) Start(context.Context, string, string, int) error { return nil }
func (f *fakeRunner) SendInput(context.Context, string, string) error  { return nil }
func (f *fakeRunner) Stop(context.Context, string) (*int, error)       { return nil, nil }
func (f *fakeRunner) UpdatePermissionMode(context.Context, string, string) error { return nil }
func (f *fakeRunner) Type() string                                     { return f.typ }

func TestRegistryCachesPerAdapter(t *testing.T) {
	calls := 0
	reg := NewRegistry(noopEvents{}, map[string]Factory{
		"local": func(Events) (Runner, error) {
			calls++
			return &fakeRunner{typ: "local"}, nil
		},
	})

	a, err := reg.Get("local")
	require.NoError(t, err)
	b, err := reg.Get("local")
	require.NoError(t, err)
	assert.Same(t, a, b)
	assert.Equal(t, 1, calls)
}

func TestRegistryEmptyNameIsDefault(t *testing.T) {
	reg := NewRegistry(noopEvents{}, map[string]Factory{
		DefaultAdapterName: func(Events) (Runner, error) { return &fakeRunner{typ: DefaultAdapterName}, nil },
	})
	r, err := reg.Get("")
	require.NoError(t, err)
	assert.Equal(t, DefaultAdapterName, r.Type())
}

func TestRegistryValidateUnknown(t *testing.T) {
	reg := NewRegistry(noopEvents{}, map[string]Factory{})
	err := reg.Validate("nope")
	var unknown ErrUnknownAdapter
	assert.True(t, errors.As(err, &unknown))
	assert.Equal(t, "nope", unknown.Name)
}

func TestRegistryGetUnknown(t *testing.T) {
	reg := NewRegistry(noopEvents{}, map[string]Factory{})
	_, err := reg.Get("nope")
	assert.Error(t, err)
}

func TestRegistryFailureDoesNotCache(t *testing.T) {
	attempts := 0
	reg := NewRegistry(noopEvents{}, map[string]Factory{
		"flaky": func(Events) (Runner, error) {
			attempts++
			if attempts == 1 {
				return nil, errors.New("boom")
			}
			return &fakeRunner{typ: "flaky"}, nil
		},
	})

	_, err := reg.Get("flaky")
	assert.Error(t, err)

	r, err := reg.Get("flaky")
	require.NoError(t, err)
	assert.Equal(t, "flaky", r.Type())
	assert.Equal(t, 2, attempts)
}

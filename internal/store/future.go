// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"context"
	"sync"
)

// Future is a one-shot result slot for a pending permission request.
// The first caller to set() wins; later calls are no-ops.
type Future struct {
	mu       sync.Mutex
	done     chan struct{}
	resolved bool
	result   PermissionResult
}

func newFuture() *Future {
	return &Future{done: make(chan struct{})}
}

// set completes the future with result. It returns true if this call was
// the one that resolved it, false if it had already been resolved.
func (f *Future) set(result PermissionResult) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.resolved {
		return false
	}
	f.resolved = true
	f.result = result
	close(f.done)
	return true
}

// Wait blocks until the future is resolved or ctx is done. When ctx
// expires first, ok is false and the caller (the permission protocol) is
// responsible for auto-denying and resolving the future itself.
func (f *Future) Wait(ctx context.Context) (PermissionResult, bool) {
	select {
	case <-f.done:
		f.mu.Lock()
		defer f.mu.Unlock()
		return f.result, true
	case <-ctx.Done():
		return PermissionResult{}, false
	}
}

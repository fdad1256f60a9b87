// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package registry

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestRegister_CancelRemoves(t *testing.T) {
	r := New(zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())

	_, replaced := r.Register("req-1", cancel)
	assert.False(t, replaced)
	assert.True(t, r.Has("req-1"))

	assert.True(t, r.Cancel("req-1"))
	assert.False(t, r.Has("req-1"))
	assert.ErrorIs(t, ctx.Err(), context.Canceled)

	assert.False(t, r.Cancel("req-1"))
	assert.False(t, r.Cancel("missing"))
}

func TestRegister_CollisionCancelsPrevious(t *testing.T) {
	r := New(zerolog.Nop())
	first, cancelFirst := context.WithCancel(context.Background())
	second, cancelSecond := context.WithCancel(context.Background())
	defer cancelSecond()

	releaseFirst, _ := r.Register("dup", cancelFirst)
	_, replaced := r.Register("dup", cancelSecond)

	assert.True(t, replaced)
	assert.ErrorIs(t, first.Err(), context.Canceled)
	assert.NoError(t, second.Err())
	assert.Equal(t, 1, r.Len())

	// Releasing the replaced registration leaves the new one in place.
	releaseFirst()
	assert.True(t, r.Has("dup"))
}

func TestRelease_RemovesWithoutCancelling(t *testing.T) {
	r := New(zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	release, _ := r.Register("req", cancel)
	release()
	release()

	assert.Equal(t, 0, r.Len())
	assert.NoError(t, ctx.Err())
}

func TestCancelAll(t *testing.T) {
	r := New(zerolog.Nop())
	var ctxs []context.Context
	for i := 0; i < 3; i++ {
		ctx, cancel := context.WithCancel(context.Background())
		ctxs = append(ctxs, ctx)
		r.Register(fmt.Sprintf("req-%d", i), cancel)
	}
	assert.Equal(t, []string{"req-0", "req-1", "req-2"}, r.IDs())

	assert.Equal(t, 3, r.CancelAll())
	assert.Equal(t, 0, r.Len())
	for _, ctx := range ctxs {
		assert.ErrorIs(t, ctx.Err(), context.Canceled)
	}
	assert.Equal(t, 0, r.CancelAll())
}

func TestRemove(t *testing.T) {
	r := New(zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	r.Register("req", cancel)
	r.Remove("req")
	assert.False(t, r.Has("req"))
	assert.NoError(t, ctx.Err())
}

func TestConcurrentRegisterRemove(t *testing.T) {
	r := New(zerolog.Nop())
	var wg sync.WaitGroup
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, _ := r.Register(NewID(), func() {})
			release()
		}()
	}
	wg.Wait()
	assert.Equal(t, 0, r.Len())
}

func TestNewID_Unique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := NewID()
		assert.False(t, seen[id])
		seen[id] = true
	}
}

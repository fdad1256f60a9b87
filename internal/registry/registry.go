// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package registry tracks in-flight cancellable requests by id.
package registry

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/jeranaias/ollamalink/internal/logging"
	"github.com/jeranaias/ollamalink/internal/metrics"
)

// Registry maps request ids to cancel functions. It is safe for concurrent
// use.
type Registry struct {
	mu      sync.Mutex
	entries map[string]*entry
	log     zerolog.Logger
}

// entry wraps a cancel function so Remove can tell a replaced registration
// apart from the current one.
type entry struct {
	cancel context.CancelFunc
}

// New creates an empty Registry.
func New(log zerolog.Logger) *Registry {
	return &Registry{
		entries: make(map[string]*entry),
		log:     logging.Component(log, "registry"),
	}
}

// NewID returns a fresh random request id.
func NewID() string {
	return uuid.NewString()
}

// Register records cancel under id. When id is already registered the old
// request is cancelled, the new handle replaces it and replaced is true.
//
// The returned release func removes this registration only; it is a no-op
// once the id has been replaced, cancelled or removed.
func (r *Registry) Register(id string, cancel context.CancelFunc) (release func(), replaced bool) {
	e := &entry{cancel: cancel}

	r.mu.Lock()
	old, replaced := r.entries[id]
	r.entries[id] = e
	n := len(r.entries)
	r.mu.Unlock()

	if replaced {
		old.cancel()
		r.log.Warn().Str("request_id", id).Msg("request id already in flight; previous request cancelled")
	}
	metrics.InFlight.Set(float64(n))

	return func() { r.release(id, e) }, replaced
}

func (r *Registry) release(id string, e *entry) {
	r.mu.Lock()
	cur, ok := r.entries[id]
	if ok && cur == e {
		delete(r.entries, id)
	}
	n := len(r.entries)
	r.mu.Unlock()
	metrics.InFlight.Set(float64(n))
}

// Cancel signals and removes the request registered under id. It reports
// whether one was found.
func (r *Registry) Cancel(id string) bool {
	r.mu.Lock()
	e, ok := r.entries[id]
	if ok {
		delete(r.entries, id)
	}
	n := len(r.entries)
	r.mu.Unlock()

	if !ok {
		return false
	}
	e.cancel()
	metrics.InFlight.Set(float64(n))
	r.log.Debug().Str("request_id", id).Msg("request cancelled")
	return true
}

// CancelAll signals and removes every request, returning how many there were.
func (r *Registry) CancelAll() int {
	r.mu.Lock()
	entries := r.entries
	r.entries = make(map[string]*entry)
	r.mu.Unlock()

	for _, e := range entries {
		e.cancel()
	}
	metrics.InFlight.Set(0)
	if len(entries) > 0 {
		r.log.Debug().Int("count", len(entries)).Msg("all requests cancelled")
	}
	return len(entries)
}

// Remove drops id without cancelling it.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	delete(r.entries, id)
	n := len(r.entries)
	r.mu.Unlock()
	metrics.InFlight.Set(float64(n))
}

// Has reports whether id is registered.
func (r *Registry) Has(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.entries[id]
	return ok
}

// Len returns the number of registered requests.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// IDs returns the registered ids in sorted order.
func (r *Registry) IDs() []string {
	r.mu.Lock()
	ids := make([]string, 0, len(r.entries))
	for id := range r.entries {
		ids = append(ids, id)
	}
	r.mu.Unlock()
	sort.Strings(ids)
	return ids
}

// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package ollama

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"sync"

	"github.com/rs/zerolog"

	"github.com/jeranaias/ollamalink/internal/connectivity"
	"github.com/jeranaias/ollamalink/internal/fault"
	"github.com/jeranaias/ollamalink/internal/logging"
	"github.com/jeranaias/ollamalink/internal/metrics"
	"github.com/jeranaias/ollamalink/internal/notify"
	"github.com/jeranaias/ollamalink/internal/registry"
	"github.com/jeranaias/ollamalink/internal/retry"
	"github.com/jeranaias/ollamalink/internal/transport"
)

const (
	pathTags     = "/api/tags"
	pathGenerate = "/api/generate"

	msgNoNetwork    = "No network connection"
	msgNotConnected = "Not connected to server"
)

// ErrSuperseded is returned by Connect when a newer attempt, or a loss of
// reachability, overtook it. Its outcome was discarded.
var ErrSuperseded = errors.New("connection attempt superseded")

// =============================================================================
// CLIENT CONFIGURATION
// =============================================================================

// Deps are the collaborators a Client works through.
type Deps struct {
	Transport *transport.Transport
	Monitor   *connectivity.Monitor
	Registry  *registry.Registry

	// Retry applies to model discovery only. Sends are never retried.
	Retry retry.Policy

	Logger zerolog.Logger
}

// Options holds the initial user settings.
type Options struct {
	Sampling Sampling

	// Model is the preferred selection. It is kept after a catalog refresh
	// only if the server lists it.
	Model string
}

// =============================================================================
// CLIENT
// =============================================================================

// Client is the inference client. All methods are safe for concurrent use.
type Client struct {
	transport *transport.Transport
	monitor   *connectivity.Monitor
	registry  *registry.Registry
	retry     retry.Policy
	log       zerolog.Logger

	mu        sync.Mutex
	state     State
	lastError string
	models    []string
	selected  string
	sampling  Sampling

	// token identifies the current connection attempt. Completing attempts
	// holding an older token write nothing.
	token         uint64
	attemptCancel context.CancelFunc

	snapshots *notify.Broadcaster[Snapshot]

	ctx       context.Context
	stop      context.CancelFunc
	wg        sync.WaitGroup
	startOnce sync.Once
}

// New creates a Client in the Disconnected state. Call Initialize to start
// following reachability and connect.
func New(deps Deps, opts Options) *Client {
	if deps.Registry == nil {
		deps.Registry = registry.New(deps.Logger)
	}
	if deps.Monitor == nil {
		deps.Monitor = connectivity.New(connectivity.Options{Initial: true, Logger: deps.Logger})
	}
	sampling := opts.Sampling
	if sampling == (Sampling{}) {
		sampling = DefaultSampling()
	}
	log := logging.Component(deps.Logger, "client")
	policy := deps.Retry
	policy.Logger = log

	ctx, stop := context.WithCancel(context.Background())
	metrics.ConnectionState.Set(float64(StateDisconnected))
	return &Client{
		transport: deps.Transport,
		monitor:   deps.Monitor,
		registry:  deps.Registry,
		retry:     policy,
		log:       log,
		selected:  opts.Model,
		sampling:  sampling,
		snapshots: notify.New[Snapshot](),
		ctx:       ctx,
		stop:      stop,
	}
}

// Initialize starts following reachability changes and, when the link is
// up, runs a connection attempt and returns its error. When the link is
// down the client stays Disconnected and an Offline error is returned.
func (c *Client) Initialize(ctx context.Context) error {
	c.startOnce.Do(func() {
		events, unsubscribe := c.monitor.Subscribe()
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			defer unsubscribe()
			c.watch(events)
		}()
	})

	return c.Connect(ctx)
}

// watch applies reachability transitions until the client is closed.
func (c *Client) watch(events <-chan connectivity.Event) {
	for {
		select {
		case <-c.ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			c.handleReachability(ev.Reachable)
		}
	}
}

func (c *Client) handleReachability(reachable bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !reachable {
		c.token++
		if c.attemptCancel != nil {
			c.attemptCancel()
			c.attemptCancel = nil
		}
		c.setStateLocked(StateDisconnected, msgNoNetwork)
		c.log.Info().Msg("link lost; disconnected")
		return
	}

	if c.state == StateDisconnected {
		c.log.Info().Msg("link restored; reconnecting")
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			_ = c.Connect(c.ctx)
		}()
	}
}

// setStateLocked records a new state and publishes a snapshot. c.mu must be
// held.
func (c *Client) setStateLocked(state State, lastError string) {
	if c.state != state {
		c.log.Debug().
			Str("from", c.state.String()).
			Str("state", state.String()).
			Str("error", lastError).
			Msg("state changed")
	}
	c.state = state
	c.lastError = lastError
	metrics.ConnectionState.Set(float64(state))
	c.publishLocked()
}

func (c *Client) publishLocked() {
	c.snapshots.Publish(c.snapshotLocked())
}

func (c *Client) snapshotLocked() Snapshot {
	return Snapshot{
		State:     c.state,
		LastError: c.lastError,
		BaseURL:   c.transport.BaseURL(),
		Models:    slices.Clone(c.models),
		Selected:  c.selected,
		Sampling:  c.sampling,
	}
}

// =============================================================================
// CONNECTION ATTEMPTS
// =============================================================================

// Connect runs a connection attempt: it lists the server's models with
// retries, refreshes the catalog and moves to Connected. On failure the
// state becomes Disconnected with the failure's user message.
//
// Overlapping attempts are allowed; only the most recently started one may
// write state. Older ones return ErrSuperseded.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	c.token++
	token := c.token
	if c.attemptCancel != nil {
		c.attemptCancel()
	}

	if !c.monitor.Reachable() {
		c.attemptCancel = nil
		c.setStateLocked(StateDisconnected, msgNoNetwork)
		c.mu.Unlock()
		return fault.Offline(msgNoNetwork)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	c.attemptCancel = cancel
	c.setStateLocked(StateConnecting, "")
	c.mu.Unlock()

	c.log.Debug().Uint64("attempt_token", token).Str("base_url", c.transport.BaseURL()).Msg("connecting")
	models, err := retry.Do(ctx, c.retry, listModels(c.transport))

	c.mu.Lock()
	defer c.mu.Unlock()

	if token != c.token {
		c.log.Debug().Uint64("attempt_token", token).Msg("stale connection attempt discarded")
		return ErrSuperseded
	}
	c.attemptCancel = nil

	if err != nil {
		fe := fault.Classify(err)
		if fe.Kind == fault.KindCancelled {
			// A caller giving up is not a server failure; leave no reason.
			c.setStateLocked(StateDisconnected, "")
			c.log.Debug().Msg("connection attempt cancelled")
			return fe
		}
		c.setStateLocked(StateDisconnected, fe.UserMessage())
		c.log.Warn().Err(err).Str("kind", fe.Kind.String()).Msg("connection failed")
		return fe
	}

	c.models = models
	c.selected = autoSelect(models, c.selected)
	c.setStateLocked(StateConnected, "")
	c.log.Info().
		Int("models", len(models)).
		Str("selected", c.selected).
		Msg("connected")
	return nil
}

// listModels returns an operation that fetches the catalog through t.
func listModels(t *transport.Transport) func(ctx context.Context) ([]string, error) {
	return func(ctx context.Context) ([]string, error) {
		resp, err := t.Execute(ctx, transport.Request{Method: http.MethodGet, Path: pathTags})
		if err != nil {
			return nil, err
		}
		if err := resp.Err(); err != nil {
			return nil, err
		}

		var list ListModelsResponse
		if err := json.Unmarshal(resp.Body, &list); err != nil {
			return nil, fault.New(fault.KindInvalidResponse, fmt.Errorf("decode %s: %w", pathTags, err))
		}
		return list.Names(), nil
	}
}

// SetBaseURL points the client at a new server and reconnects, even when
// already Connected. An invalid address is rejected and nothing changes.
func (c *Client) SetBaseURL(ctx context.Context, raw string) error {
	if err := c.transport.SetBaseURL(raw); err != nil {
		return fmt.Errorf("set base URL: %w", err)
	}
	c.log.Info().Str("base_url", c.transport.BaseURL()).Msg("server address changed")
	return c.Connect(ctx)
}

// TestConnection makes one /api/tags call against addr and reports whether
// it succeeded. The configured address, connection state and catalog are
// left untouched.
func (c *Client) TestConnection(ctx context.Context, addr string) bool {
	probe, err := c.transport.WithBaseURL(addr)
	if err != nil {
		c.log.Debug().Err(err).Str("addr", addr).Msg("probe rejected")
		return false
	}
	_, err = retry.Do(ctx, c.retry.Once(), listModels(probe))
	c.log.Debug().Err(err).Str("addr", addr).Bool("ok", err == nil).Msg("probe finished")
	return err == nil
}

// =============================================================================
// SELECTION AND SETTINGS
// =============================================================================

// SetSelectedModel selects a model from the current catalog.
func (c *Client) SetSelectedModel(name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !slices.Contains(c.models, name) {
		return &fault.Error{Kind: fault.KindInvalidModel, Cause: fmt.Errorf("model %q not in catalog", name)}
	}
	if c.selected != name {
		c.selected = name
		c.publishLocked()
	}
	return nil
}

// SetSampling replaces the sampling parameters for later sends.
func (c *Client) SetSampling(s Sampling) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sampling != s {
		c.sampling = s
		c.publishLocked()
	}
}

// Snapshot returns the current state.
func (c *Client) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// Subscribe returns a channel that receives a Snapshot after each change,
// and a func to unsubscribe.
func (c *Client) Subscribe() (<-chan Snapshot, func()) {
	return c.snapshots.Subscribe()
}

// =============================================================================
// CANCELLATION AND SHUTDOWN
// =============================================================================

// CancelRequest cancels an in-flight send. It reports whether one was found.
func (c *Client) CancelRequest(id string) bool {
	return c.registry.Cancel(id)
}

// CancelAllRequests cancels every in-flight send and returns how many were
// cancelled.
func (c *Client) CancelAllRequests() int {
	return c.registry.CancelAll()
}

// Close stops background work, cancels in-flight sends and closes
// subscriber channels.
func (c *Client) Close() {
	c.stop()
	c.registry.CancelAll()
	c.wg.Wait()
	c.snapshots.Close()
}

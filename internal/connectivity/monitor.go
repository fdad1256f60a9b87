// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package connectivity tracks whether the host has a usable network link.
//
// Reachability here is link-layer presence only. It says nothing about
// whether the inference server is up; that is the client's concern.
package connectivity

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/jeranaias/ollamalink/internal/logging"
	"github.com/jeranaias/ollamalink/internal/metrics"
	"github.com/jeranaias/ollamalink/internal/notify"
)

// DefaultInterval is how often Run polls the prober.
const DefaultInterval = 5 * time.Second

// Event is a reachability transition.
type Event struct {
	Reachable bool
	At        time.Time
}

// Prober reports the current link state.
type Prober interface {
	Probe(ctx context.Context) (bool, error)
}

// ProberFunc adapts a function to Prober.
type ProberFunc func(ctx context.Context) (bool, error)

func (f ProberFunc) Probe(ctx context.Context) (bool, error) { return f(ctx) }

// Options configures New.
type Options struct {
	// Prober is polled by Run. Nil means state only changes through Report.
	Prober Prober

	// Interval defaults to DefaultInterval.
	Interval time.Duration

	// Initial is the state before the first probe or report.
	Initial bool

	Logger zerolog.Logger
}

// =============================================================================
// MONITOR
// =============================================================================

// Monitor holds the current reachability and publishes deduplicated
// transitions to subscribers.
type Monitor struct {
	prober   Prober
	interval time.Duration
	log      zerolog.Logger

	mu        sync.RWMutex
	reachable bool

	events   *notify.Broadcaster[Event]
	errorLog rate.Sometimes
}

// New creates a Monitor. Call Run to start polling.
func New(opts Options) *Monitor {
	interval := opts.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	metrics.Reachable.Set(boolGauge(opts.Initial))
	return &Monitor{
		prober:    opts.Prober,
		interval:  interval,
		log:       logging.Component(opts.Logger, "connectivity"),
		reachable: opts.Initial,
		events:    notify.New[Event](),
		errorLog:  rate.Sometimes{First: 1, Interval: time.Minute},
	}
}

// Reachable returns the current link state.
func (m *Monitor) Reachable() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.reachable
}

// Subscribe returns a channel of transitions and its cancel func. A slow
// subscriber only misses intermediate events, never the latest one.
func (m *Monitor) Subscribe() (<-chan Event, func()) {
	return m.events.Subscribe()
}

// Report sets the link state directly. Platforms that push link changes use
// this instead of polling. Repeated reports of the same state are ignored.
func (m *Monitor) Report(reachable bool) {
	m.mu.Lock()
	if m.reachable == reachable {
		m.mu.Unlock()
		return
	}
	m.reachable = reachable
	m.mu.Unlock()

	metrics.Reachable.Set(boolGauge(reachable))
	m.log.Info().Bool("reachable", reachable).Msg("reachability changed")
	m.events.Publish(Event{Reachable: reachable, At: time.Now()})
}

// Check runs the prober once and applies the result. Probe errors count as
// unreachable. Without a prober it returns the current state.
func (m *Monitor) Check(ctx context.Context) bool {
	if m.prober == nil {
		return m.Reachable()
	}

	ok, err := m.prober.Probe(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return m.Reachable()
		}
		m.errorLog.Do(func() {
			m.log.Warn().Err(err).Msg("reachability probe failed")
		})
		ok = false
	}
	m.Report(ok)
	return ok
}

// Run probes immediately and then every interval until ctx is done.
func (m *Monitor) Run(ctx context.Context) error {
	if m.prober == nil {
		<-ctx.Done()
		return nil
	}

	m.Check(ctx)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			m.Check(ctx)
		}
	}
}

// Close closes every subscriber channel.
func (m *Monitor) Close() {
	m.events.Close()
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/jeranaias/ollamalink/internal/config"
	"github.com/jeranaias/ollamalink/internal/connectivity"
	"github.com/jeranaias/ollamalink/internal/logging"
	"github.com/jeranaias/ollamalink/internal/ollama"
	"github.com/jeranaias/ollamalink/internal/registry"
	"github.com/jeranaias/ollamalink/internal/retry"
	"github.com/jeranaias/ollamalink/internal/transport"
)

// =============================================================================
// CONFIG CONVERSIONS
// =============================================================================

// TimeoutsFrom returns the per-attempt budgets in cfg.
func TimeoutsFrom(cfg *config.Config) transport.Timeouts {
	return transport.Timeouts{
		Connect: cfg.Server.ConnectTimeout.Duration,
		Send:    cfg.Server.SendTimeout.Duration,
		Receive: cfg.Server.ReceiveTimeout.Duration,
	}
}

// RetryPolicyFrom returns the discovery retry policy in cfg.
func RetryPolicyFrom(cfg *config.Config) retry.Policy {
	return retry.Policy{
		MaxAttempts: cfg.Retry.MaxAttempts,
		BaseDelay:   cfg.Retry.BaseDelay.Duration,
		MaxDelay:    cfg.Retry.MaxDelay.Duration,
		Backoff:     retry.Backoff(strings.ToLower(cfg.Retry.Backoff)),
	}
}

// SamplingFrom returns the sampling parameters in cfg.
func SamplingFrom(cfg *config.Config) ollama.Sampling {
	return ollama.Sampling{
		Temperature: cfg.Sampling.Temperature,
		TopP:        cfg.Sampling.TopP,
		TopK:        cfg.Sampling.TopK,
	}
}

// =============================================================================
// APP
// =============================================================================

// AppOptions configures NewApp.
type AppOptions struct {
	Config *config.Config
	Logger zerolog.Logger

	// ConfigPath is watched for changes when the file exists.
	ConfigPath string

	// Overrides is applied to every reloaded config so command line flags
	// keep precedence over the file.
	Overrides func(*config.Config)

	// Prober defaults to an InterfaceProber for the current server host.
	Prober connectivity.Prober

	// Retry replaces the policy derived from Config.
	Retry *retry.Policy
}

// App owns the components behind every command.
type App struct {
	Transport *transport.Transport
	Monitor   *connectivity.Monitor
	Registry  *registry.Registry
	Client    *ollama.Client

	log        zerolog.Logger
	configPath string
	overrides  func(*config.Config)

	mu  sync.Mutex
	cfg *config.Config

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewApp builds the component graph. Nothing runs until Start.
func NewApp(opts AppOptions) (*App, error) {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.Default()
	}

	tr, err := transport.New(transport.Options{
		BaseURL:  cfg.Server.URL,
		Timeouts: TimeoutsFrom(cfg),
		Logger:   opts.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("server address %q: %w", cfg.Server.URL, err)
	}

	prober := opts.Prober
	if prober == nil {
		prober = connectivity.ProberFunc(func(ctx context.Context) (bool, error) {
			return connectivity.InterfaceProber{ServerHost: hostOf(tr.BaseURL())}.Probe(ctx)
		})
	}

	policy := RetryPolicyFrom(cfg)
	if opts.Retry != nil {
		policy = *opts.Retry
	}

	mon := connectivity.New(connectivity.Options{
		Prober:   prober,
		Interval: cfg.Connectivity.PollInterval.Duration,
		Initial:  true,
		Logger:   opts.Logger,
	})
	reg := registry.New(opts.Logger)
	client := ollama.New(ollama.Deps{
		Transport: tr,
		Monitor:   mon,
		Registry:  reg,
		Retry:     policy,
		Logger:    opts.Logger,
	}, ollama.Options{
		Sampling: SamplingFrom(cfg),
		Model:    cfg.Model.Selected,
	})

	ctx, cancel := context.WithCancel(context.Background())
	return &App{
		Transport:  tr,
		Monitor:    mon,
		Registry:   reg,
		Client:     client,
		log:        logging.Component(opts.Logger, "app"),
		configPath: opts.ConfigPath,
		overrides:  opts.Overrides,
		cfg:        cfg,
		ctx:        ctx,
		cancel:     cancel,
	}, nil
}

// Config returns the configuration currently in effect.
func (a *App) Config() *config.Config {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cfg
}

// Start probes the link, starts background polling and config watching,
// then runs the first connection attempt and returns its error. The app is
// usable even when that attempt fails; the client keeps following the link.
func (a *App) Start(ctx context.Context) error {
	a.Monitor.Check(ctx)
	a.goRun("connectivity", a.Monitor.Run)

	if a.configPath != "" {
		if _, err := os.Stat(a.configPath); err == nil {
			w, err := config.NewWatcher(a.configPath, a.applyConfig, a.log)
			if err != nil {
				a.log.Warn().Err(err).Msg("config changes will not be picked up")
			} else {
				a.goRun("config watcher", w.Run)
			}
		}
	}

	return a.Client.Initialize(ctx)
}

func (a *App) goRun(name string, run func(context.Context) error) {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		if err := run(a.ctx); err != nil && !errors.Is(err, context.Canceled) {
			a.log.Warn().Err(err).Str("worker", name).Msg("background worker stopped")
		}
	}()
}

// Close cancels in-flight sends and stops background work.
func (a *App) Close() {
	a.Client.Close()
	a.cancel()
	a.wg.Wait()
	a.Monitor.Close()
}

// applyConfig pushes a reloaded config into the running client. Timeouts
// and logging settings take effect on the next start.
func (a *App) applyConfig(next *config.Config) {
	if a.overrides != nil {
		a.overrides(next)
	}

	a.mu.Lock()
	prev := a.cfg
	a.cfg = next
	a.mu.Unlock()

	if s := SamplingFrom(next); s != SamplingFrom(prev) {
		a.Client.SetSampling(s)
		a.log.Info().Float64("temperature", s.Temperature).Float64("top_p", s.TopP).Int("top_k", s.TopK).Msg("sampling updated")
	}

	if next.Server.URL != prev.Server.URL {
		err := a.Client.SetBaseURL(a.ctx, next.Server.URL)
		if err != nil && !errors.Is(err, ollama.ErrSuperseded) {
			a.log.Warn().Err(err).Str("url", next.Server.URL).Msg("reconnect after config change failed")
		}
	}

	if m := next.Model.Selected; m != "" && m != prev.Model.Selected {
		if err := a.Client.SetSelectedModel(m); err != nil {
			a.log.Warn().Err(err).Str("model", m).Msg("configured model not selected")
		}
	}

	if next.Server.ConnectTimeout != prev.Server.ConnectTimeout ||
		next.Server.SendTimeout != prev.Server.SendTimeout ||
		next.Server.ReceiveTimeout != prev.Server.ReceiveTimeout ||
		next.Log != prev.Log {
		a.log.Info().Msg("timeout and log settings apply on restart")
	}
}

// hostOf returns the host:port of a base address.
func hostOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return u.Host
}

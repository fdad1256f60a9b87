// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/jeranaias/ollamalink/internal/config"
	"github.com/jeranaias/ollamalink/internal/logging"
)

// Version information (set at build time)
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// globalOptions holds the persistent flags shared by every command.
type globalOptions struct {
	configPath string
	url        string
	model      string
	logLevel   string
	logFormat  string

	// logOutput defaults to stderr.
	logOutput io.Writer
}

// NewRootCommand builds the command tree.
func NewRootCommand() *cobra.Command {
	opts := &globalOptions{}

	root := &cobra.Command{
		Use:   "ollamalink",
		Short: "Chat with a remote Ollama server over an unreliable network",
		Long: `ollamalink talks to an Ollama server on your network.

It follows link changes, reconnects on its own, retries model discovery
with backoff and never resends a prompt behind your back.`,
		Version:       fmt.Sprintf("%s (commit %s, built %s)", Version, GitCommit, BuildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	f := root.PersistentFlags()
	f.StringVar(&opts.configPath, "config", "", "config file (default $OLLAMALINK_CONFIG or ~/.ollamalink/config.toml)")
	f.StringVar(&opts.url, "url", "", "Ollama server address, e.g. http://192.168.1.20:11434")
	f.StringVarP(&opts.model, "model", "m", "", "preferred model")
	f.StringVar(&opts.logLevel, "log-level", "", "debug, info, warn, error or off")
	f.StringVar(&opts.logFormat, "log-format", "", "console or json (default: console on a terminal)")

	root.AddCommand(
		newChatCommand(opts),
		newAskCommand(opts),
		newModelsCommand(opts),
		newProbeCommand(opts),
		newStatusCommand(opts),
		newConfigCommand(opts),
	)
	return root
}

// Execute runs the command line and returns the process exit code.
func Execute() int {
	if err := NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, ErrorStyle.Render("Error:"), err)
		return 1
	}
	return 0
}

// =============================================================================
// SHARED SETUP
// =============================================================================

// resolvePath returns the config file location.
func (o *globalOptions) resolvePath() (string, error) {
	if o.configPath != "" {
		return o.configPath, nil
	}
	return config.ConfigPath()
}

// applyFlags lets explicit flags win over the file and environment.
func (o *globalOptions) applyFlags(cfg *config.Config) {
	if o.url != "" {
		cfg.Server.URL = o.url
	}
	if o.model != "" {
		cfg.Model.Selected = o.model
	}
	if o.logLevel != "" {
		cfg.Log.Level = o.logLevel
	}
	if o.logFormat != "" {
		cfg.Log.Format = o.logFormat
	}
}

// loadConfig reads the config file (or defaults), then applies flags.
func (o *globalOptions) loadConfig() (*config.Config, string, error) {
	path, err := o.resolvePath()
	if err != nil {
		return nil, "", err
	}

	var cfg *config.Config
	if _, statErr := os.Stat(path); statErr == nil {
		cfg, err = config.LoadFromPath(path)
	} else {
		cfg = config.Default()
		cfg.ApplyEnvOverrides()
	}
	if err != nil {
		return nil, "", err
	}

	o.applyFlags(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, "", fmt.Errorf("invalid config: %w", err)
	}
	return cfg, path, nil
}

func (o *globalOptions) logger(cfg *config.Config) zerolog.Logger {
	return logging.New(logging.Options{
		Level:  cfg.Log.Level,
		Format: logging.Format(cfg.Log.Format),
		Output: o.logOutput,
	})
}

// newApp loads configuration and builds an App without starting it.
func (o *globalOptions) newApp() (*App, error) {
	cfg, path, err := o.loadConfig()
	if err != nil {
		return nil, err
	}
	return NewApp(AppOptions{
		Config:     cfg,
		Logger:     o.logger(cfg),
		ConfigPath: path,
		Overrides:  o.applyFlags,
	})
}

// interruptContext is cancelled on Ctrl+C or SIGTERM.
func interruptContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/jeranaias/ollamalink/internal/util"
)

// =============================================================================
// CONFIG STRUCTURES
// =============================================================================

// Config is the complete ollamalink configuration.
type Config struct {
	Server       ServerConfig       `toml:"server" json:"server" yaml:"server"`
	Model        ModelConfig        `toml:"model" json:"model" yaml:"model"`
	Sampling     SamplingConfig     `toml:"sampling" json:"sampling" yaml:"sampling"`
	Retry        RetryConfig        `toml:"retry" json:"retry" yaml:"retry"`
	Connectivity ConnectivityConfig `toml:"connectivity" json:"connectivity" yaml:"connectivity"`
	Log          LogConfig          `toml:"log" json:"log" yaml:"log"`
	Metrics      MetricsConfig      `toml:"metrics" json:"metrics" yaml:"metrics"`
}

// ServerConfig locates the Ollama server and bounds each HTTP attempt.
type ServerConfig struct {
	// URL is the base address, e.g. http://192.168.1.20:11434
	URL            string   `toml:"url" json:"url" yaml:"url"`
	ConnectTimeout Duration `toml:"connect_timeout" json:"connect_timeout" yaml:"connect_timeout"`
	SendTimeout    Duration `toml:"send_timeout" json:"send_timeout" yaml:"send_timeout"`
	ReceiveTimeout Duration `toml:"receive_timeout" json:"receive_timeout" yaml:"receive_timeout"`
}

// ModelConfig holds the preferred model. It is only used when the server
// lists it.
type ModelConfig struct {
	Selected string `toml:"selected" json:"selected" yaml:"selected"`
}

// SamplingConfig holds generation parameters.
type SamplingConfig struct {
	Temperature float64 `toml:"temperature" json:"temperature" yaml:"temperature"`
	TopP        float64 `toml:"top_p" json:"top_p" yaml:"top_p"`
	TopK        int     `toml:"top_k" json:"top_k" yaml:"top_k"`
}

// RetryConfig controls model discovery retries. Sends are never retried.
type RetryConfig struct {
	MaxAttempts int      `toml:"max_attempts" json:"max_attempts" yaml:"max_attempts"`
	BaseDelay   Duration `toml:"base_delay" json:"base_delay" yaml:"base_delay"`
	MaxDelay    Duration `toml:"max_delay" json:"max_delay" yaml:"max_delay"`
	// Backoff is "linear" (2s, 4s, 6s) or "exponential" (2s, 4s, 8s).
	Backoff string `toml:"backoff" json:"backoff" yaml:"backoff"`
}

// ConnectivityConfig controls link polling.
type ConnectivityConfig struct {
	PollInterval Duration `toml:"poll_interval" json:"poll_interval" yaml:"poll_interval"`
}

// LogConfig controls the structured logger.
type LogConfig struct {
	// Level is debug, info, warn, error or off.
	Level string `toml:"level" json:"level" yaml:"level"`
	// Format is console, json, or empty to pick by terminal.
	Format string `toml:"format" json:"format" yaml:"format"`
}

// MetricsConfig controls the status endpoint.
type MetricsConfig struct {
	// Addr is the listen address for /metrics and /status, e.g. 127.0.0.1:9464.
	// Empty disables the endpoint unless --serve is given.
	Addr string `toml:"addr" json:"addr" yaml:"addr"`
}

// =============================================================================
// DEFAULTS
// =============================================================================

// DefaultURL is the Ollama default. An explicit IPv4 loopback avoids slow
// IPv6 localhost resolution on some systems.
const DefaultURL = "http://127.0.0.1:11434"

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			URL:            DefaultURL,
			ConnectTimeout: D(30 * time.Second),
			SendTimeout:    D(30 * time.Second),
			ReceiveTimeout: D(30 * time.Second),
		},
		Sampling: SamplingConfig{
			Temperature: 0.7,
			TopP:        0.9,
			TopK:        40,
		},
		Retry: RetryConfig{
			MaxAttempts: 3,
			BaseDelay:   D(2 * time.Second),
			MaxDelay:    D(30 * time.Second),
			Backoff:     "linear",
		},
		Connectivity: ConnectivityConfig{
			PollInterval: D(5 * time.Second),
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// =============================================================================
// PATHS
// =============================================================================

// EnvConfigPath names the environment variable that overrides the config
// file location.
const EnvConfigPath = "OLLAMALINK_CONFIG"

// ConfigDir returns ~/.ollamalink.
func ConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".ollamalink"), nil
}

// ConfigPath returns the config file location: $OLLAMALINK_CONFIG when set,
// else ~/.ollamalink/config.toml.
func ConfigPath() (string, error) {
	if p := os.Getenv(EnvConfigPath); p != "" {
		return p, nil
	}
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// =============================================================================
// LOADING
// =============================================================================

// Format is a config file encoding.
type Format string

const (
	FormatTOML Format = "toml"
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// FormatFor picks the encoding from a file extension. Unknown extensions
// are treated as TOML.
func FormatFor(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return FormatJSON
	case ".yaml", ".yml":
		return FormatYAML
	default:
		return FormatTOML
	}
}

// Load reads the config file if it exists, applies environment overrides
// and validates the result. A missing file yields the defaults.
func Load() (*Config, error) {
	path, err := ConfigPath()
	if err != nil {
		return nil, err
	}
	if _, statErr := os.Stat(path); errors.Is(statErr, os.ErrNotExist) {
		cfg := Default()
		cfg.ApplyEnvOverrides()
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("invalid config: %w", err)
		}
		return cfg, nil
	}
	return LoadFromPath(path)
}

// LoadFromPath reads the file at path over the defaults, applies
// environment overrides and validates the result.
func LoadFromPath(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	if err := Decode(data, FormatFor(path), cfg); err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", path, err)
	}
	cfg.ApplyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Decode parses data over the values already in cfg, so keys absent from
// data keep their current value.
func Decode(data []byte, format Format, cfg *Config) error {
	switch format {
	case FormatJSON:
		return json.Unmarshal(data, cfg)
	case FormatYAML:
		return yaml.Unmarshal(data, cfg)
	default:
		_, err := toml.Decode(string(data), cfg)
		return err
	}
}

// Encode serializes cfg.
func Encode(cfg *Config, format Format) ([]byte, error) {
	switch format {
	case FormatJSON:
		data, err := json.MarshalIndent(cfg, "", "  ")
		if err != nil {
			return nil, err
		}
		return append(data, '\n'), nil
	case FormatYAML:
		return yaml.Marshal(cfg)
	default:
		var buf bytes.Buffer
		if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	}
}

// =============================================================================
// SAVING
// =============================================================================

// Save writes cfg to ConfigPath.
func Save(cfg *Config) error {
	path, err := ConfigPath()
	if err != nil {
		return err
	}
	return SaveTo(cfg, path)
}

// SaveTo writes cfg to path atomically with owner-only permissions, in the
// format implied by the extension.
func SaveTo(cfg *Config, path string) error {
	data, err := Encode(cfg, FormatFor(path))
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := util.AtomicWriteFile(path, data, 0600, 0700); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// =============================================================================
// VALIDATION
// =============================================================================

// ValidationError describes one invalid field.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidateErrors is a collection of validation errors.
type ValidateErrors []ValidationError

func (e ValidateErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	msgs := make([]string, 0, len(e))
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// Validate checks every field and returns all problems at once as
// ValidateErrors.
func (c *Config) Validate() error {
	var errs ValidateErrors
	add := func(field, format string, args ...any) {
		errs = append(errs, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	// ==========================================================================
	// Server
	// ==========================================================================

	if err := ValidateURL(c.Server.URL); err != nil {
		add("server.url", "%v", err)
	}
	for field, d := range map[string]Duration{
		"server.connect_timeout": c.Server.ConnectTimeout,
		"server.send_timeout":    c.Server.SendTimeout,
		"server.receive_timeout": c.Server.ReceiveTimeout,
	} {
		if d.Duration <= 0 {
			add(field, "must be positive, got %s", d)
		}
	}

	// ==========================================================================
	// Sampling
	// ==========================================================================

	if c.Sampling.Temperature < 0 || c.Sampling.Temperature > 2 {
		add("sampling.temperature", "must be between 0 and 2, got %g", c.Sampling.Temperature)
	}
	if c.Sampling.TopP < 0 || c.Sampling.TopP > 1 {
		add("sampling.top_p", "must be between 0 and 1, got %g", c.Sampling.TopP)
	}
	if c.Sampling.TopK < 1 || c.Sampling.TopK > 100 {
		add("sampling.top_k", "must be between 1 and 100, got %d", c.Sampling.TopK)
	}

	// ==========================================================================
	// Retry and connectivity
	// ==========================================================================

	if c.Retry.MaxAttempts < 1 {
		add("retry.max_attempts", "must be at least 1, got %d", c.Retry.MaxAttempts)
	}
	if c.Retry.BaseDelay.Duration <= 0 {
		add("retry.base_delay", "must be positive, got %s", c.Retry.BaseDelay)
	}
	if c.Retry.MaxDelay.Duration < c.Retry.BaseDelay.Duration {
		add("retry.max_delay", "must not be below base_delay (%s), got %s", c.Retry.BaseDelay, c.Retry.MaxDelay)
	}
	switch strings.ToLower(c.Retry.Backoff) {
	case "linear", "exponential":
	default:
		add("retry.backoff", "invalid backoff %q, must be one of: linear, exponential", c.Retry.Backoff)
	}
	if c.Connectivity.PollInterval.Duration <= 0 {
		add("connectivity.poll_interval", "must be positive, got %s", c.Connectivity.PollInterval)
	}

	// ==========================================================================
	// Logging
	// ==========================================================================

	switch strings.ToLower(c.Log.Level) {
	case "", "debug", "info", "warn", "warning", "error", "off":
	default:
		add("log.level", "invalid level %q, must be one of: debug, info, warn, error, off", c.Log.Level)
	}
	switch strings.ToLower(c.Log.Format) {
	case "", "console", "json":
	default:
		add("log.format", "invalid format %q, must be one of: console, json", c.Log.Format)
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// ValidateURL checks that raw is an absolute http or https URL with a host.
func ValidateURL(raw string) error {
	if strings.TrimSpace(raw) == "" {
		return errors.New("URL is required")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return fmt.Errorf("invalid scheme %q, must be http or https", u.Scheme)
	}
	if u.Hostname() == "" {
		return errors.New("URL must include a host")
	}
	return nil
}

// =============================================================================
// ENVIRONMENT OVERRIDES
// =============================================================================

// Environment variables read by ApplyEnvOverrides.
const (
	EnvURL         = "OLLAMALINK_URL"
	EnvModel       = "OLLAMALINK_MODEL"
	EnvLogLevel    = "OLLAMALINK_LOG_LEVEL"
	EnvMetricsAddr = "OLLAMALINK_METRICS_ADDR"
)

// ApplyEnvOverrides replaces fields with any OLLAMALINK_* variables that are
// set.
func (c *Config) ApplyEnvOverrides() {
	if v := os.Getenv(EnvURL); v != "" {
		c.Server.URL = v
	}
	if v := os.Getenv(EnvModel); v != "" {
		c.Model.Selected = v
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv(EnvMetricsAddr); v != "" {
		c.Metrics.Addr = v
	}
}

// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/ollamalink/internal/config"
)

// runCommand executes the root command with an isolated config file.
func runCommand(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	for _, env := range []string{config.EnvURL, config.EnvModel, config.EnvLogLevel, config.EnvMetricsAddr} {
		t.Setenv(env, "")
	}

	root := NewRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetIn(strings.NewReader(stdin))

	if !hasFlag(args, "--config") {
		args = append([]string{"--config", filepath.Join(t.TempDir(), "config.toml")}, args...)
	}
	root.SetArgs(append([]string{"--log-level", "off"}, args...))

	err := root.Execute()
	return out.String(), err
}

func hasFlag(args []string, flag string) bool {
	for _, a := range args {
		if a == flag {
			return true
		}
	}
	return false
}

// =============================================================================
// CONFIG
// =============================================================================

func TestConfigPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "custom.yaml")
	out, err := runCommand(t, "", "--config", path, "config", "path")
	require.NoError(t, err)
	assert.Equal(t, path, strings.TrimSpace(out))
}

func TestConfigShow_AppliesFlags(t *testing.T) {
	out, err := runCommand(t, "", "--url", "http://10.0.0.5:11434", "-m", "mistral", "config", "show", "--format", "json")
	require.NoError(t, err)

	var cfg config.Config
	require.NoError(t, json.Unmarshal([]byte(out), &cfg))
	assert.Equal(t, "http://10.0.0.5:11434", cfg.Server.URL)
	assert.Equal(t, "mistral", cfg.Model.Selected)
	assert.Equal(t, "off", cfg.Log.Level)
}

func TestConfigShow_UnknownFormat(t *testing.T) {
	_, err := runCommand(t, "", "config", "show", "--format", "ini")
	assert.ErrorContains(t, err, `unknown format "ini"`)
}

func TestConfigShow_InvalidFlag(t *testing.T) {
	_, err := runCommand(t, "", "--url", "ftp://host", "config", "show")
	assert.ErrorContains(t, err, "server.url")
}

func TestConfigInit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	out, err := runCommand(t, "", "--config", path, "--url", "http://10.0.0.5:11434", "config", "init")
	require.NoError(t, err)
	assert.Contains(t, out, "Wrote "+path)

	cfg, err := config.LoadFromPath(path)
	require.NoError(t, err)
	assert.Equal(t, "http://10.0.0.5:11434", cfg.Server.URL)

	_, err = runCommand(t, "", "--config", path, "config", "init")
	assert.ErrorContains(t, err, "already exists")

	_, err = runCommand(t, "", "--config", path, "config", "init", "--force")
	assert.NoError(t, err)
}

// =============================================================================
// CLIENT COMMANDS
// =============================================================================

func TestAsk_NoPrompt(t *testing.T) {
	_, err := runCommand(t, "   ", "ask")
	assert.ErrorContains(t, err, "no prompt given")
}

func TestAsk_JSON(t *testing.T) {
	srv := newFakeServer(t, "llama3.2")

	out, err := runCommand(t, "", "--url", srv.URL, "ask", "--json", "hello", "there")
	require.NoError(t, err)

	var res askResult
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.True(t, res.Success)
	assert.Equal(t, "echo: hello there", res.Content)
	assert.Equal(t, "llama3.2", res.Model)
	assert.JSONEq(t, `[1]`, string(res.Context))
	assert.Equal(t, 50, res.EstimatedTokens)
	assert.NotEmpty(t, res.RequestID)
}

func TestAsk_StdinAndContext(t *testing.T) {
	srv := newFakeServer(t, "llama3.2")

	out, err := runCommand(t, "from stdin\n", "--url", srv.URL, "ask", "--raw", "--context", "[7,8]")
	require.NoError(t, err)
	assert.Equal(t, "echo: from stdin\n", out)
	assert.JSONEq(t, `[7,8]`, string(srv.lastRequest.Load().Context))
}

func TestAsk_PreferredModelMissing(t *testing.T) {
	srv := newFakeServer(t, "llama3.2")

	out, err := runCommand(t, "", "--url", srv.URL, "-m", "nope", "ask", "--raw", "hi")
	require.NoError(t, err)
	assert.Contains(t, out, `Model "nope" is not on the server; using "llama3.2".`)
	assert.Contains(t, out, "echo: hi")
	assert.Equal(t, "llama3.2", srv.lastRequest.Load().Model)
}

func TestAsk_InvalidContext(t *testing.T) {
	srv := newFakeServer(t, "llama3.2")
	_, err := runCommand(t, "", "--url", srv.URL, "ask", "--context", "{", "hi")
	assert.ErrorContains(t, err, "--context must be valid JSON")
	assert.Zero(t, srv.generateCalls.Load())
}

func TestModels_JSON(t *testing.T) {
	srv := newFakeServer(t, "llama3.2", "mistral")

	out, err := runCommand(t, "", "--url", srv.URL, "-m", "mistral", "models", "--json")
	require.NoError(t, err)
	assert.JSONEq(t, `{"models":["llama3.2","mistral"],"selected":"mistral"}`, out)
}

func TestProbe(t *testing.T) {
	srv := newFakeServer(t)

	out, err := runCommand(t, "", "probe", srv.URL)
	require.NoError(t, err)
	assert.Contains(t, out, "[OK]")

	out, err = runCommand(t, "", "probe", "http://127.0.0.1:1")
	assert.Error(t, err)
	assert.Contains(t, out, "[FAIL]")
}

func TestStatus_JSON(t *testing.T) {
	srv := newFakeServer(t, "llama3.2")

	out, err := runCommand(t, "", "--url", srv.URL, "status", "--json")
	require.NoError(t, err)

	var rep map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &rep))
	assert.Equal(t, "connected", rep["state"])
	assert.Equal(t, srv.URL, rep["base_url"])
	assert.Equal(t, true, rep["reachable"])
}

// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/ollamalink/internal/connectivity"
	"github.com/jeranaias/ollamalink/internal/ollama"
)

func newTestSession(t *testing.T, models ...string) (*chatSession, *fakeServer, *bytes.Buffer) {
	t.Helper()
	srv := newFakeServer(t, models...)
	app := newTestApp(t, AppOptions{Config: testConfig(srv.URL)})
	require.NoError(t, app.Start(context.Background()))

	var out bytes.Buffer
	s := newChatSession(app, &out)
	s.raw = true
	return s, srv, &out
}

func TestChat_SendCarriesContext(t *testing.T) {
	s, srv, out := newTestSession(t, "llama3.2")
	ctx := context.Background()

	require.True(t, s.handle(ctx, "hello"))
	assert.Contains(t, out.String(), "echo: hello")
	assert.Contains(t, out.String(), "~50 tokens")
	assert.Empty(t, srv.lastRequest.Load().Context)

	require.True(t, s.handle(ctx, "again"))
	assert.JSONEq(t, `[1]`, string(srv.lastRequest.Load().Context))
	assert.Equal(t, "llama3.2", srv.lastRequest.Load().Model)
	assert.Equal(t, 2, s.turns)

	require.True(t, s.handle(ctx, "/new"))
	require.True(t, s.handle(ctx, "fresh"))
	assert.Empty(t, srv.lastRequest.Load().Context)
	assert.EqualValues(t, 3, srv.generateCalls.Load())
}

func TestChat_SendWhileUnreachable(t *testing.T) {
	srv := newFakeServer(t, "llama3.2")
	var up atomic.Bool
	up.Store(true)
	app := newTestApp(t, AppOptions{
		Config: testConfig(srv.URL),
		Prober: connectivity.ProberFunc(func(context.Context) (bool, error) { return up.Load(), nil }),
	})
	require.NoError(t, app.Start(context.Background()))

	up.Store(false)
	require.Eventually(t, func() bool {
		return app.Client.Snapshot().LastError == "No network connection"
	}, 2*time.Second, 10*time.Millisecond)

	var out bytes.Buffer
	s := newChatSession(app, &out)
	require.True(t, s.handle(context.Background(), "hello"))
	assert.Contains(t, out.String(), "No network connection")
	assert.Zero(t, srv.generateCalls.Load())
}

func TestChat_ModelCommands(t *testing.T) {
	s, _, out := newTestSession(t, "llama3.2", "mistral")
	ctx := context.Background()

	s.handle(ctx, "/models")
	assert.Contains(t, out.String(), "llama3.2")
	assert.Contains(t, out.String(), "mistral")
	assert.Contains(t, out.String(), "selected")

	out.Reset()
	s.handle(ctx, "/model nope")
	assert.Contains(t, out.String(), `Model "nope" is not on the server`)
	assert.Equal(t, "llama3.2", s.app.Client.Snapshot().Selected)

	out.Reset()
	s.handle(ctx, "/model mistral")
	assert.Contains(t, out.String(), "Using mistral")
	assert.Equal(t, "mistral", s.app.Client.Snapshot().Selected)

	out.Reset()
	s.handle(ctx, "/model")
	assert.Contains(t, out.String(), "mistral")
}

func TestChat_ConnectionCommands(t *testing.T) {
	s, _, out := newTestSession(t, "llama3.2")
	other := newFakeServer(t, "phi3")
	ctx := context.Background()

	s.handle(ctx, "/probe "+other.URL)
	assert.Contains(t, out.String(), "[OK]")
	assert.NotEqual(t, other.URL, s.app.Transport.BaseURL())

	out.Reset()
	s.handle(ctx, "/probe http://127.0.0.1:1")
	assert.Contains(t, out.String(), "[FAIL]")

	out.Reset()
	s.handle(ctx, "/server "+other.URL)
	assert.Contains(t, out.String(), "Connected to "+other.URL+" (1 models)")
	assert.Equal(t, "phi3", s.app.Client.Snapshot().Selected)

	out.Reset()
	s.handle(ctx, "/server nonsense")
	assert.Contains(t, out.String(), "[Error]")
	assert.Equal(t, other.URL, s.app.Transport.BaseURL())

	out.Reset()
	s.handle(ctx, "/retry")
	assert.Contains(t, out.String(), "Connected to")

	out.Reset()
	s.handle(ctx, "/status")
	assert.Contains(t, out.String(), "connected")
	assert.Contains(t, out.String(), other.URL)
}

// Ctrl+C during /server against a server that never answers ends the
// attempt at once instead of waiting out every retry.
func TestChat_InterruptStopsConnectionCommand(t *testing.T) {
	s, _, out := newTestSession(t, "llama3.2")

	hit := make(chan struct{}, 1)
	hung := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case hit <- struct{}{}:
		default:
		}
		<-r.Context().Done()
	}))
	t.Cleanup(hung.Close)

	done := make(chan bool, 1)
	go func() { done <- s.handle(context.Background(), "/server "+hung.URL) }()

	select {
	case <-hit:
	case <-time.After(2 * time.Second):
		t.Fatal("server never received the catalog request")
	}
	start := time.Now()
	assert.True(t, s.interrupt())

	select {
	case keepGoing := <-done:
		assert.True(t, keepGoing)
	case <-time.After(time.Second):
		t.Fatal("/server still running after interrupt")
	}
	assert.Less(t, time.Since(start), time.Second)
	assert.Contains(t, out.String(), "[Cancelled]")

	snap := s.app.Client.Snapshot()
	assert.Empty(t, snap.LastError)
	assert.NotContains(t, banner(snap), "cancelled")
	assert.False(t, s.interrupt())
}

func TestBanner(t *testing.T) {
	assert.Empty(t, banner(ollama.Snapshot{State: ollama.StateConnected}))
	assert.Contains(t, banner(ollama.Snapshot{State: ollama.StateConnecting, BaseURL: "http://10.0.0.5:11434"}),
		"Connecting to http://10.0.0.5:11434")
	assert.Contains(t, banner(ollama.Snapshot{State: ollama.StateDisconnected}), "Not connected to server")

	b := banner(ollama.Snapshot{State: ollama.StateDisconnected, LastError: "Server error:\n  model\tfailed to load"})
	assert.Contains(t, b, "Server error: model failed to load")
	assert.NotContains(t, b, "\n")
}

func TestChat_RetryReportsFailure(t *testing.T) {
	srv := newFakeServer(t, "llama3.2")
	app := newTestApp(t, AppOptions{
		Config: testConfig(srv.URL),
		Prober: connectivity.ProberFunc(func(context.Context) (bool, error) { return false, nil }),
	})
	_ = app.Start(context.Background())

	var out bytes.Buffer
	s := newChatSession(app, &out)
	s.handle(context.Background(), "/retry")
	assert.Contains(t, out.String(), "No network connection")
	assert.Contains(t, banner(app.Client.Snapshot()), "No network connection")
}

func TestChat_MiscCommands(t *testing.T) {
	s, _, out := newTestSession(t, "llama3.2")
	ctx := context.Background()

	assert.True(t, s.handle(ctx, "/help"))
	assert.Contains(t, out.String(), "/probe <url>")

	out.Reset()
	assert.True(t, s.handle(ctx, "/cancel"))
	assert.Contains(t, out.String(), "Cancelled 0 request(s).")

	out.Reset()
	assert.True(t, s.handle(ctx, "/bogus"))
	assert.Contains(t, out.String(), "Unknown command /bogus")

	assert.False(t, s.handle(ctx, "/quit"))
	assert.False(t, s.handle(ctx, "exit"))
}

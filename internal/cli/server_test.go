// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/ollamalink/internal/ollama"
)

type staticReporter StatusReport

func (r staticReporter) Report() StatusReport { return StatusReport(r) }

func TestStatusMux(t *testing.T) {
	tests := []struct {
		name       string
		report     StatusReport
		wantHealth int
	}{
		{
			name: "connected",
			report: StatusReport{
				Snapshot:  ollama.Snapshot{State: ollama.StateConnected, BaseURL: "http://10.0.0.5:11434", Models: []string{"llama3.2"}, Selected: "llama3.2"},
				Reachable: true,
			},
			wantHealth: http.StatusOK,
		},
		{
			name: "disconnected",
			report: StatusReport{
				Snapshot: ollama.Snapshot{State: ollama.StateDisconnected, LastError: "No network connection"},
			},
			wantHealth: http.StatusServiceUnavailable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(NewStatusMux(staticReporter(tt.report), zerolog.Nop()))
			defer srv.Close()

			resp, err := http.Get(srv.URL + "/status")
			require.NoError(t, err)
			defer resp.Body.Close()
			assert.Equal(t, http.StatusOK, resp.StatusCode)
			assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
			assert.Equal(t, "nosniff", resp.Header.Get("X-Content-Type-Options"))

			var got map[string]any
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
			assert.Equal(t, tt.report.State.String(), got["state"])
			assert.Equal(t, tt.report.Reachable, got["reachable"])

			health, err := http.Get(srv.URL + "/healthz")
			require.NoError(t, err)
			defer health.Body.Close()
			assert.Equal(t, tt.wantHealth, health.StatusCode)
		})
	}
}

func TestStatusMux_Metrics(t *testing.T) {
	srv := httptest.NewServer(NewStatusMux(staticReporter{}, zerolog.Nop()))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "ollamalink_")
}

func TestApp_ServeStatus(t *testing.T) {
	fake := newFakeServer(t, "llama3.2")
	app := newTestApp(t, AppOptions{Config: testConfig(fake.URL)})
	require.NoError(t, app.Start(context.Background()))

	addr, err := app.ServeStatus("127.0.0.1:0")
	require.NoError(t, err)

	resp, err := http.Get("http://" + addr.String() + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

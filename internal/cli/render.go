// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/glamour"

	"github.com/jeranaias/ollamalink/internal/fault"
	"github.com/jeranaias/ollamalink/internal/ollama"
	"github.com/jeranaias/ollamalink/internal/util"
)

// =============================================================================
// STATUS REPORT
// =============================================================================

// StatusReport is the client snapshot plus link and registry state. It is
// what `status --json` prints and /status serves.
type StatusReport struct {
	ollama.Snapshot
	Reachable bool `json:"reachable"`
	InFlight  int  `json:"in_flight"`
}

// Report collects a StatusReport from a.
func (a *App) Report() StatusReport {
	return StatusReport{
		Snapshot:  a.Client.Snapshot(),
		Reachable: a.Monitor.Reachable(),
		InFlight:  a.Registry.Len(),
	}
}

// writeStatus prints a report as labelled lines.
func writeStatus(w io.Writer, r StatusReport) {
	network := SuccessStyle.Render("reachable")
	if !r.Reachable {
		network = ErrorStyle.Render("unreachable")
	}
	selected := r.Selected
	if selected == "" {
		selected = DimStyle.Render("(none)")
	}

	fmt.Fprintln(w, RenderLabel("Server")+ValueStyle.Render(r.BaseURL))
	fmt.Fprintln(w, RenderLabel("State")+RenderState(r.State))
	fmt.Fprintln(w, RenderLabel("Network")+network)
	fmt.Fprintln(w, RenderLabel("Model")+selected)
	fmt.Fprintln(w, RenderLabel("Models")+ValueStyle.Render(fmt.Sprint(len(r.Models))))
	fmt.Fprintln(w, RenderLabel("Sampling")+ValueStyle.Render(fmt.Sprintf(
		"temperature=%.2f top_p=%.2f top_k=%d", r.Sampling.Temperature, r.Sampling.TopP, r.Sampling.TopK)))
	if r.InFlight > 0 {
		fmt.Fprintln(w, RenderLabel("In flight")+ValueStyle.Render(fmt.Sprint(r.InFlight)))
	}
	if r.LastError != "" {
		fmt.Fprintln(w, RenderLabel("Last error")+ErrorStyle.Render(r.LastError))
	}
}

// banner returns the line shown above the prompt while not connected, or
// "" when connected.
func banner(snap ollama.Snapshot) string {
	switch snap.State {
	case ollama.StateConnected:
		return ""
	case ollama.StateConnecting:
		return WarningStyle.Render("Connecting to " + snap.BaseURL + "...")
	default:
		msg := util.OneLine(snap.LastError)
		if msg == "" {
			msg = "Not connected to server"
		}
		return WarningStyle.Render("Disconnected: "+msg) + DimStyle.Render("  (/retry to reconnect)")
	}
}

// =============================================================================
// MODEL TABLE
// =============================================================================

// writeModels prints the catalog with the selection marked.
func writeModels(w io.Writer, snap ollama.Snapshot, width int) {
	if len(snap.Models) == 0 {
		fmt.Fprintln(w, DimStyle.Render("No models installed. Run `ollama pull <model>` on the server."))
		return
	}

	nameWidth := 0
	for _, name := range snap.Models {
		nameWidth = max(nameWidth, util.Width(name))
	}
	nameWidth = max(min(nameWidth, width-16), 10)

	for _, name := range snap.Models {
		cell := util.Truncate(name, nameWidth)
		if name != snap.Selected {
			fmt.Fprintln(w, "  "+ValueStyle.Render(cell))
			continue
		}
		fmt.Fprintln(w, "* "+SuccessStyle.Render(util.PadRight(cell, nameWidth))+"  "+DimStyle.Render("selected"))
	}
}

// =============================================================================
// RESPONSES
// =============================================================================

// renderMarkdown renders content for a terminal. Rendering errors fall back
// to the raw text.
func renderMarkdown(content string, width int) string {
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		return content
	}
	out, err := r.Render(content)
	if err != nil {
		return content
	}
	return strings.TrimRight(out, "\n")
}

// writeFailure prints a failed send.
func writeFailure(w io.Writer, f *ollama.Failure) {
	if f.Kind == fault.KindCancelled {
		fmt.Fprintln(w, WarningStyle.Render("[Cancelled]"))
		return
	}
	fmt.Fprintln(w, ErrorStyle.Render("[Error]"), util.OneLine(f.Message))
}

// warnModelFallback tells the user when the preferred model is not on the
// server and another one was selected instead.
func warnModelFallback(w io.Writer, preferred string, snap ollama.Snapshot) {
	if preferred == "" || snap.State != ollama.StateConnected || snap.HasModel(preferred) {
		return
	}
	msg := fmt.Sprintf("Model %q is not on the server", preferred)
	if snap.Selected != "" {
		msg += fmt.Sprintf("; using %q", snap.Selected)
	}
	fmt.Fprintln(w, WarningStyle.Render(msg+"."))
}

// writeStats prints the footer under a response.
func writeStats(w io.Writer, s *ollama.Success) {
	fmt.Fprintln(w, DimStyle.Render(fmt.Sprintf("%s · ~%d tokens · %.1fs",
		s.Model, s.EstimatedTokens, s.Elapsed.Seconds())))
}

// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jeranaias/ollamalink/internal/ollama"
)

// askResult is the --json output of ask.
type askResult struct {
	RequestID       string          `json:"request_id"`
	Success         bool            `json:"success"`
	Content         string          `json:"content,omitempty"`
	Model           string          `json:"model,omitempty"`
	Context         json.RawMessage `json:"context,omitempty"`
	EstimatedTokens int             `json:"estimated_tokens,omitempty"`
	ElapsedMS       int64           `json:"elapsed_ms,omitempty"`
	Error           string          `json:"error,omitempty"`
	Kind            string          `json:"kind,omitempty"`
}

func newAskCommand(g *globalOptions) *cobra.Command {
	var (
		raw     bool
		asJSON  bool
		ctxBlob string
	)

	cmd := &cobra.Command{
		Use:   "ask [prompt]",
		Short: "Send a single prompt and print the response",
		Long: `Send a single prompt and print the response.

With no arguments the prompt is read from stdin. The prompt is sent once;
if the server fails mid-request nothing is resent.`,
		Example: `  ollamalink ask "Explain TCP slow start"
  git diff | ollamalink ask --raw
  ollamalink ask --json "hello" | jq .context`,
		RunE: func(cmd *cobra.Command, args []string) error {
			prompt, err := readPrompt(args, cmd.InOrStdin())
			if err != nil {
				return err
			}
			msg := ollama.Message{Text: prompt}
			if ctxBlob != "" {
				if !json.Valid([]byte(ctxBlob)) {
					return errors.New("--context must be valid JSON")
				}
				msg.Context = json.RawMessage(ctxBlob)
			}

			app, err := g.newApp()
			if err != nil {
				return err
			}
			defer app.Close()

			ctx, stop := interruptContext(cmd)
			defer stop()

			if err := app.Start(ctx); err != nil && !asJSON {
				return connectError(app, err)
			}
			warnModelFallback(cmd.ErrOrStderr(), app.Config().Model.Selected, app.Client.Snapshot())

			res := app.Client.SendMessage(ctx, msg)

			out := cmd.OutOrStdout()
			if asJSON {
				return writeAskJSON(out, res)
			}
			if res.Failure != nil {
				return errors.New(res.Failure.Message)
			}

			content := res.Success.Content
			if !raw && IsStdoutTTY() {
				content = renderMarkdown(content, GetTerminalWidth()-4)
			}
			fmt.Fprintln(out, content)
			return nil
		},
	}

	cmd.Flags().BoolVar(&raw, "raw", false, "print the response without markdown rendering")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the result as JSON")
	cmd.Flags().StringVar(&ctxBlob, "context", "", "context blob from a previous --json result")
	return cmd
}

// readPrompt joins args, or reads stdin when there are none.
func readPrompt(args []string, in io.Reader) (string, error) {
	prompt := strings.Join(args, " ")
	if prompt == "" && in != nil {
		if f, ok := in.(*os.File); !ok || !isTerminalFile(f) {
			data, err := io.ReadAll(in)
			if err != nil {
				return "", fmt.Errorf("failed to read prompt: %w", err)
			}
			prompt = string(data)
		}
	}
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return "", errors.New("no prompt given")
	}
	return prompt, nil
}

func writeAskJSON(w io.Writer, res ollama.Result) error {
	out := askResult{RequestID: res.RequestID, Success: res.OK()}
	if res.Success != nil {
		out.Content = res.Success.Content
		out.Model = res.Success.Model
		out.Context = res.Success.Context
		out.EstimatedTokens = res.Success.EstimatedTokens
		out.ElapsedMS = res.Success.Elapsed.Milliseconds()
	} else {
		out.Error = res.Failure.Message
		out.Kind = res.Failure.Kind.String()
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		return err
	}
	if !out.Success {
		return errors.New(out.Error)
	}
	return nil
}

// connectError turns a failed first connection into the user message the
// client recorded.
func connectError(app *App, err error) error {
	if msg := app.Client.Snapshot().LastError; msg != "" {
		return fmt.Errorf("%s (%s)", msg, app.Transport.BaseURL())
	}
	if errors.Is(err, context.Canceled) {
		return errors.New("cancelled")
	}
	return err
}

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
	"os/signal"
	"path/filepath"
	"strings"
	"sync"

	"github.com/peterh/liner"
	"github.com/spf13/cobra"

	"github.com/jeranaias/ollamalink/internal/config"
	"github.com/jeranaias/ollamalink/internal/fault"
	"github.com/jeranaias/ollamalink/internal/ollama"
	"github.com/jeranaias/ollamalink/internal/registry"
)

const chatHelp = `Commands:
  /help, /h           Show this help
  /status, /s         Show connection status
  /models             List models on the server
  /model [name]       Show or switch the model
  /retry              Reconnect to the server
  /server <url>       Switch to another server
  /probe <url>        Test an address without switching
  /cancel             Cancel in-flight requests
  /new                Start a new conversation
  /quit, /q           Exit chat
  Ctrl+C              Cancel the current request
  Ctrl+D              Exit chat`

func newChatCommand(g *globalOptions) *cobra.Command {
	var raw bool

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive chat session",
		Example: `  ollamalink chat
  ollamalink chat --url http://192.168.1.20:11434 -m llama3.2
  ollamalink chat --raw`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := g.newApp()
			if err != nil {
				return err
			}
			defer app.Close()

			s := newChatSession(app, cmd.OutOrStdout())
			s.raw = raw || !IsStdoutTTY()
			return s.run(cmd.Context())
		},
	}
	cmd.Flags().BoolVar(&raw, "raw", false, "print responses without markdown rendering")
	return cmd
}

// =============================================================================
// SESSION
// =============================================================================

// chatSession is one REPL run. The context blob from each response is
// carried into the next prompt so the server keeps the conversation.
type chatSession struct {
	app *App
	out io.Writer
	raw bool

	conversationID string
	context        json.RawMessage
	turns          int

	mu         sync.Mutex
	cancelTurn context.CancelFunc
}

func newChatSession(app *App, out io.Writer) *chatSession {
	return &chatSession{
		app:            app,
		out:            out,
		conversationID: registry.NewID(),
	}
}

func (s *chatSession) run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	fmt.Fprintln(s.out, TitleStyle.Render("ollamalink chat"))
	fmt.Fprintln(s.out, DimStyle.Render("Type /help for commands, Ctrl+D to exit."))

	// A failed first attempt is not fatal; the banner reports it and the
	// client reconnects when the link changes.
	_ = s.app.Start(ctx)
	warnModelFallback(s.out, s.app.Config().Model.Selected, s.app.Client.Snapshot())

	if addr := s.app.Config().Metrics.Addr; addr != "" {
		if _, err := s.app.ServeStatus(addr); err != nil {
			fmt.Fprintln(s.out, WarningStyle.Render(err.Error()))
		}
	}

	line := liner.NewLiner()
	line.SetCtrlCAborts(true)
	historyFile := loadHistory(line)
	defer func() {
		saveHistory(line, historyFile)
		line.Close()
	}()

	// Outside the prompt the terminal is in cooked mode, so Ctrl+C arrives
	// as SIGINT and interrupts the running command.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)
	defer func() {
		signal.Stop(sigCh)
		close(sigCh)
	}()
	go func() {
		for range sigCh {
			if s.interrupt() {
				fmt.Fprintln(os.Stderr)
			}
		}
	}()

	for {
		if b := banner(s.app.Client.Snapshot()); b != "" {
			fmt.Fprintln(s.out, b)
		}

		input, err := line.Prompt("> ")
		if err != nil {
			if !errors.Is(err, liner.ErrPromptAborted) && !errors.Is(err, io.EOF) {
				return err
			}
			fmt.Fprintln(s.out)
			s.printSummary()
			return nil
		}

		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}
		line.AppendHistory(input)

		if !s.handle(ctx, input) {
			s.printSummary()
			return nil
		}
	}
}

// handle processes one line of input and reports whether to keep going.
// interrupt cancels it while it runs.
func (s *chatSession) handle(ctx context.Context, input string) bool {
	ctx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.cancelTurn = cancel
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.cancelTurn = nil
		s.mu.Unlock()
		cancel()
	}()

	if strings.HasPrefix(input, "/") {
		return s.command(ctx, input)
	}
	if strings.EqualFold(input, "exit") || strings.EqualFold(input, "quit") {
		return false
	}
	s.send(ctx, input)
	return true
}

// interrupt cancels the running command along with every in-flight send and
// reports whether anything was running.
func (s *chatSession) interrupt() bool {
	s.mu.Lock()
	running := s.cancelTurn != nil
	if running {
		s.cancelTurn()
	}
	s.mu.Unlock()
	return s.app.Client.CancelAllRequests() > 0 || running
}

func (s *chatSession) send(ctx context.Context, text string) {
	res := s.app.Client.SendMessage(ctx, ollama.Message{
		Text:           text,
		ConversationID: s.conversationID,
		Context:        s.context,
	})

	if res.Failure != nil {
		writeFailure(s.out, res.Failure)
		return
	}

	s.turns++
	if len(res.Success.Context) > 0 {
		s.context = res.Success.Context
	}

	content := res.Success.Content
	if !s.raw {
		content = renderMarkdown(content, GetTerminalWidth()-4)
	}
	fmt.Fprintln(s.out, content)
	writeStats(s.out, res.Success)
}

// =============================================================================
// SLASH COMMANDS
// =============================================================================

func (s *chatSession) command(ctx context.Context, input string) bool {
	fields := strings.Fields(input)
	name := strings.ToLower(fields[0])
	arg := ""
	if len(fields) > 1 {
		arg = fields[1]
	}

	switch name {
	case "/quit", "/q", "/exit":
		return false

	case "/help", "/h", "/?":
		fmt.Fprintln(s.out, chatHelp)

	case "/status", "/s":
		writeStatus(s.out, s.app.Report())

	case "/models":
		writeModels(s.out, s.app.Client.Snapshot(), GetTerminalWidth())

	case "/model":
		if arg == "" {
			snap := s.app.Client.Snapshot()
			if snap.Selected == "" {
				fmt.Fprintln(s.out, DimStyle.Render("No model selected."))
			} else {
				fmt.Fprintln(s.out, RenderLabel("Model")+ValueStyle.Render(snap.Selected))
			}
			break
		}
		if err := s.app.Client.SetSelectedModel(arg); err != nil {
			fmt.Fprintln(s.out, ErrorStyle.Render("[Error]"), fmt.Sprintf("Model %q is not on the server. /models lists what is.", arg))
			break
		}
		fmt.Fprintln(s.out, SuccessStyle.Render("[OK]"), "Using", arg)

	case "/retry", "/reconnect":
		s.reconnect(s.app.Client.Connect(ctx))

	case "/server":
		if arg == "" {
			fmt.Fprintln(s.out, RenderLabel("Server")+ValueStyle.Render(s.app.Transport.BaseURL()))
			break
		}
		s.reconnect(s.app.Client.SetBaseURL(ctx, arg))

	case "/probe":
		if arg == "" {
			fmt.Fprintln(s.out, ErrorStyle.Render("[Error]"), "Usage: /probe <url>")
			break
		}
		if s.app.Client.TestConnection(ctx, arg) {
			fmt.Fprintln(s.out, SuccessStyle.Render("[OK]"), arg, "is an Ollama server")
		} else {
			fmt.Fprintln(s.out, ErrorStyle.Render("[FAIL]"), arg, "did not answer")
		}

	case "/cancel":
		n := s.app.Client.CancelAllRequests()
		fmt.Fprintln(s.out, DimStyle.Render(fmt.Sprintf("Cancelled %d request(s).", n)))

	case "/new", "/clear":
		s.context = nil
		s.conversationID = registry.NewID()
		fmt.Fprintln(s.out, DimStyle.Render("Started a new conversation."))

	default:
		fmt.Fprintln(s.out, ErrorStyle.Render("[Error]"), "Unknown command "+name+". Type /help.")
	}
	return true
}

// reconnect reports the outcome of a connection attempt.
func (s *chatSession) reconnect(err error) {
	switch {
	case err == nil:
		snap := s.app.Client.Snapshot()
		fmt.Fprintln(s.out, SuccessStyle.Render("[OK]"),
			fmt.Sprintf("Connected to %s (%d models)", snap.BaseURL, len(snap.Models)))
	case errors.Is(err, ollama.ErrSuperseded):
		fmt.Fprintln(s.out, DimStyle.Render("A newer connection attempt took over."))
	case fault.KindOf(err) == fault.KindCancelled:
		fmt.Fprintln(s.out, WarningStyle.Render("[Cancelled]"))
	default:
		msg := s.app.Client.Snapshot().LastError
		if msg == "" {
			msg = err.Error()
		}
		fmt.Fprintln(s.out, ErrorStyle.Render("[Error]"), msg)
	}
}

func (s *chatSession) printSummary() {
	if s.turns == 0 {
		return
	}
	fmt.Fprintln(s.out, DimStyle.Render(fmt.Sprintf("%d exchange(s) this session.", s.turns)))
}

// =============================================================================
// INPUT HISTORY
// =============================================================================

func loadHistory(line *liner.State) string {
	dir, err := config.ConfigDir()
	if err != nil {
		dir = os.TempDir()
	}
	path := filepath.Join(dir, "chat_history")
	if f, err := os.Open(path); err == nil {
		line.ReadHistory(f)
		f.Close()
	}
	return path
}

func saveHistory(line *liner.State, path string) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return
	}
	defer f.Close()
	line.WriteHistory(f)
}

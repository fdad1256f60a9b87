// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func newProbeCommand(g *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "probe <url>",
		Short: "Check whether an address is a reachable Ollama server",
		Long: `Check whether an address is a reachable Ollama server.

The probe makes one /api/tags request. It does not retry and does not
change the configured server.`,
		Example: `  ollamalink probe http://192.168.1.20:11434`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := g.newApp()
			if err != nil {
				return err
			}
			defer app.Close()

			ctx, stop := interruptContext(cmd)
			defer stop()

			start := time.Now()
			ok := app.Client.TestConnection(ctx, args[0])
			elapsed := time.Since(start).Round(time.Millisecond)

			out := cmd.OutOrStdout()
			if !ok {
				fmt.Fprintln(out, ErrorStyle.Render("[FAIL]"), args[0], DimStyle.Render(elapsed.String()))
				return fmt.Errorf("%s is not reachable", args[0])
			}
			fmt.Fprintln(out, SuccessStyle.Render("[OK]"), args[0], DimStyle.Render(elapsed.String()))
			return nil
		},
	}
}

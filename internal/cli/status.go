// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

func newStatusCommand(g *globalOptions) *cobra.Command {
	var (
		asJSON bool
		serve  string
	)

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Connect and show the connection status",
		Long: `Connect to the server and show the connection status.

With --serve the status stays up and is published over HTTP:
  /status    connection state, catalog and selection as JSON
  /healthz   200 while connected, 503 otherwise
  /metrics   Prometheus metrics`,
		Example: `  ollamalink status
  ollamalink status --json
  ollamalink status --serve 127.0.0.1:9464`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := g.newApp()
			if err != nil {
				return err
			}
			defer app.Close()

			ctx, stop := interruptContext(cmd)
			defer stop()

			// The report shows why a failed attempt failed.
			_ = app.Start(ctx)
			out := cmd.OutOrStdout()

			if serve != "" {
				addr, err := app.ServeStatus(serve)
				if err != nil {
					return err
				}
				fmt.Fprintln(out, InfoStyle.Render("Serving status on http://"+addr.String()), DimStyle.Render("(Ctrl+C to stop)"))
				<-ctx.Done()
				return nil
			}

			rep := app.Report()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(rep)
			}
			writeStatus(out, rep)
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "print the status as JSON")
	cmd.Flags().StringVar(&serve, "serve", "", "serve /status, /healthz and /metrics on this address until interrupted")
	return cmd
}

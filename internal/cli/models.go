// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"encoding/json"

	"github.com/spf13/cobra"
)

func newModelsCommand(g *globalOptions) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:     "models",
		Aliases: []string{"ls"},
		Short:   "List the models installed on the server",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := g.newApp()
			if err != nil {
				return err
			}
			defer app.Close()

			ctx, stop := interruptContext(cmd)
			defer stop()

			if err := app.Start(ctx); err != nil {
				return connectError(app, err)
			}

			snap := app.Client.Snapshot()
			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(struct {
					Models   []string `json:"models"`
					Selected string   `json:"selected,omitempty"`
				}{snap.Models, snap.Selected})
			}
			writeModels(out, snap, GetTerminalWidth())
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the catalog as JSON")
	return cmd
}

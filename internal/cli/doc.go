// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cli implements the ollamalink command line.
//
// # Commands
//
//   - chat: interactive REPL with history, slash commands and Ctrl+C cancel
//   - ask: one-shot prompt, markdown rendered on a terminal
//   - models: list the server's catalog
//   - probe: test an address without changing the configuration
//   - status: print connection state, optionally serve /metrics and /status
//   - config: show, init or locate the config file
//
// Every command builds an App, which wires configuration, logging, the
// transport, the connectivity monitor, the request registry and the
// inference client together.
package cli

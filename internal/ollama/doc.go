// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package ollama is the inference client for a remote Ollama server.
//
// The Client owns the connection state machine and the model catalog. It
// discovers models through /api/tags with retries and sends prompts through
// /api/generate exactly once per call.
//
// # Key Types
//
//   - Client: connection lifecycle, catalog, send and cancel
//   - Snapshot: immutable view of state, catalog and selection
//   - Result: tagged outcome of SendMessage (Success or Failure)
//   - GenerateRequest, GenerateResponse, ListModelsResponse: wire types
//
// # Usage
//
//	c := ollama.New(ollama.Deps{Transport: tr, Monitor: mon, Registry: reg}, ollama.Options{})
//	defer c.Close()
//	if err := c.Initialize(ctx); err != nil {
//	    // state is Disconnected; Snapshot().LastError says why
//	}
//	res := c.SendMessage(ctx, ollama.Message{Text: "Hello"})
//	if res.Failure != nil {
//	    fmt.Println(res.Failure.Message)
//	}
//
// # State Changes
//
// Subscribe delivers a Snapshot after every change. Delivery never blocks
// the client; a slow subscriber sees only the newest snapshot.
package ollama

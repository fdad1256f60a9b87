// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config loads, validates and persists ollamalink settings.
//
// TOML, JSON and YAML files are supported; the format follows the file
// extension. Durations are written as strings such as "30s".
//
// # Configuration Precedence
//
// Configuration is loaded from (in order of precedence):
//   - Environment variables (OLLAMALINK_*)
//   - The file named by OLLAMALINK_CONFIG, or ~/.ollamalink/config.toml
//   - Built-in defaults
//
// # Usage
//
//	cfg, err := config.Load()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Server.URL)
//
// A Watcher reloads the file on change and hands each valid result to a
// callback.
package config

// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package util holds small file and string helpers shared by the config and
// CLI packages.
//
//   - AtomicWriteFile: crash-safe file replacement (temp file, fsync, rename)
//   - Truncate, PadRight: display-width aware string fitting for terminals
package util

// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package ollama

import (
	"encoding/json"
	"slices"
	"time"

	"github.com/jeranaias/ollamalink/internal/fault"
)

// =============================================================================
// CONNECTION STATE
// =============================================================================

// State is the connection state of a Client.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

// MarshalText encodes the state by name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Sampling holds the generation parameters sent with every prompt. Values are
// validated by the configuration layer, not here.
type Sampling struct {
	Temperature float64 `json:"temperature"`
	TopP        float64 `json:"top_p"`
	TopK        int     `json:"top_k"`
}

// DefaultSampling returns Ollama's usual defaults.
func DefaultSampling() Sampling {
	return Sampling{Temperature: 0.7, TopP: 0.9, TopK: 40}
}

// Snapshot is a consistent copy of the client's observable state.
type Snapshot struct {
	State     State    `json:"state"`
	LastError string   `json:"last_error,omitempty"`
	BaseURL   string   `json:"base_url"`
	Models    []string `json:"models"`
	Selected  string   `json:"selected,omitempty"`
	Sampling  Sampling `json:"sampling"`
}

// HasModel reports whether name is in the catalog.
func (s Snapshot) HasModel(name string) bool {
	return slices.Contains(s.Models, name)
}

// autoSelect keeps current when it is in the catalog and otherwise picks the
// first entry. An empty catalog clears the selection.
func autoSelect(models []string, current string) string {
	if len(models) == 0 {
		return ""
	}
	if current != "" && slices.Contains(models, current) {
		return current
	}
	return models[0]
}

// =============================================================================
// SEND RESULT
// =============================================================================

// Message is one prompt to send.
type Message struct {
	Text           string
	ConversationID string

	// RequestID identifies the send for CancelRequest. A random id is used
	// when empty.
	RequestID string

	// Context is the opaque blob returned by the previous response.
	Context json.RawMessage
}

// Result is the outcome of SendMessage. Exactly one of Success and Failure
// is set.
type Result struct {
	RequestID string
	Success   *Success
	Failure   *Failure
}

// OK reports whether the send succeeded.
func (r Result) OK() bool {
	return r.Success != nil
}

// Success carries a generated response.
type Success struct {
	Content string
	Model   string
	Context json.RawMessage

	// EstimatedTokens is derived from the server's total duration; see
	// EstimateTokens.
	EstimatedTokens int
	Elapsed         time.Duration
}

// Failure carries a user-facing message.
type Failure struct {
	Message string

	// Offline is set when the send was refused locally because there is no
	// link or no server connection. Nothing was sent.
	Offline bool

	Kind fault.Kind
	Err  error
}

func failure(err error) Result {
	fe := fault.Classify(err)
	return Result{Failure: &Failure{
		Message: fe.UserMessage(),
		Offline: fe.Kind == fault.KindOffline,
		Kind:    fe.Kind,
		Err:     fe,
	}}
}

// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package ollama

import (
	"encoding/json"
	"time"
)

// =============================================================================
// REQUEST TYPES
// =============================================================================

// GenerateOptions contains sampling parameters for generation.
type GenerateOptions struct {
	Temperature float64 `json:"temperature"` // 0.0-2.0
	TopP        float64 `json:"top_p"`       // 0.0-1.0
	TopK        int     `json:"top_k"`       // 1-100
}

// GenerateRequest is the request body for /api/generate.
type GenerateRequest struct {
	Model   string          `json:"model"`
	Prompt  string          `json:"prompt"`
	Stream  bool            `json:"stream"`
	Context json.RawMessage `json:"context,omitempty"` // opaque, from the previous response
	Options GenerateOptions `json:"options"`
}

// =============================================================================
// RESPONSE TYPES
// =============================================================================

// GenerateResponse is the non-streaming response from /api/generate.
type GenerateResponse struct {
	Model         string          `json:"model"`
	CreatedAt     time.Time       `json:"created_at"`
	Response      string          `json:"response"`
	Done          bool            `json:"done"`
	DoneReason    string          `json:"done_reason,omitempty"`
	Context       json.RawMessage `json:"context,omitempty"`
	TotalDuration int64           `json:"total_duration,omitempty"` // nanoseconds
	EvalCount     int             `json:"eval_count,omitempty"`
}

// ModelInfo describes one model in the server's catalog.
type ModelInfo struct {
	Name       string       `json:"name"`
	ModifiedAt time.Time    `json:"modified_at"`
	Size       int64        `json:"size"`
	Digest     string       `json:"digest"`
	Details    ModelDetails `json:"details,omitempty"`
}

// ModelDetails contains detailed information about a model.
type ModelDetails struct {
	Format            string `json:"format"`
	Family            string `json:"family"`
	ParameterSize     string `json:"parameter_size"`
	QuantizationLevel string `json:"quantization_level"`
}

// ListModelsResponse is the response from /api/tags.
type ListModelsResponse struct {
	Models []ModelInfo `json:"models"`
}

// Names returns the model names in server order, skipping blank entries.
func (r *ListModelsResponse) Names() []string {
	names := make([]string, 0, len(r.Models))
	for _, m := range r.Models {
		if m.Name != "" {
			names = append(names, m.Name)
		}
	}
	return names
}

// =============================================================================
// TOKEN ESTIMATE
// =============================================================================

// NanosPerToken is the assumed generation cost of one token.
const NanosPerToken = int64(20 * time.Millisecond)

// EstimateTokens approximates the token count of a response from the
// server-reported total duration. It is a rough figure for display, not a
// tokenizer count.
func EstimateTokens(totalDuration int64) int {
	if totalDuration <= 0 {
		return 0
	}
	return int(totalDuration / NanosPerToken)
}

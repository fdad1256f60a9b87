// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package ollama

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/jeranaias/ollamalink/internal/fault"
	"github.com/jeranaias/ollamalink/internal/metrics"
	"github.com/jeranaias/ollamalink/internal/registry"
	"github.com/jeranaias/ollamalink/internal/transport"
)

// SendMessage sends one prompt to /api/generate.
//
// It refuses to touch the network unless the client is Connected and the link
// is up, returning an Offline failure instead. The request is made exactly
// once; failures are reported, never retried. The send is cancellable through
// CancelRequest with msg.RequestID for as long as it runs.
//
// Model and sampling are read once at the start, so later changes do not
// affect a send already under way.
func (c *Client) SendMessage(ctx context.Context, msg Message) Result {
	id := msg.RequestID
	if id == "" {
		id = registry.NewID()
	}

	c.mu.Lock()
	state := c.state
	model := c.selected
	sampling := c.sampling
	c.mu.Unlock()

	res := c.send(ctx, id, state, model, sampling, msg)
	res.RequestID = id

	outcome := "ok"
	if res.Failure != nil {
		outcome = res.Failure.Kind.String()
	}
	metrics.Sends.WithLabelValues(outcome).Inc()
	return res
}

func (c *Client) send(ctx context.Context, id string, state State, model string, sampling Sampling, msg Message) Result {
	if !c.monitor.Reachable() {
		return failure(fault.Offline(msgNoNetwork))
	}
	if state != StateConnected {
		return failure(fault.Offline(msgNotConnected))
	}
	if model == "" {
		return failure(fault.ErrNoModelSelected)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	release, _ := c.registry.Register(id, cancel)
	defer release()

	body, err := json.Marshal(GenerateRequest{
		Model:   model,
		Prompt:  msg.Text,
		Stream:  false,
		Context: msg.Context,
		Options: GenerateOptions{
			Temperature: sampling.Temperature,
			TopP:        sampling.TopP,
			TopK:        sampling.TopK,
		},
	})
	if err != nil {
		return failure(fault.New(fault.KindUnknown, err))
	}

	log := c.log.With().
		Str("request_id", id).
		Str("conversation_id", msg.ConversationID).
		Str("model", model).
		Logger()

	start := time.Now()
	resp, err := c.transport.Execute(ctx, transport.Request{
		Method: http.MethodPost,
		Path:   pathGenerate,
		Body:   body,
	})
	if err == nil {
		err = resp.Err()
	}
	if err == nil && resp.StatusCode != http.StatusOK {
		err = &fault.Error{Kind: fault.KindInvalidResponse, Status: resp.StatusCode}
	}
	if err != nil {
		res := failure(err)
		if res.Failure.Kind == fault.KindCancelled {
			log.Debug().Msg("send cancelled")
		} else {
			log.Warn().Err(err).Str("kind", res.Failure.Kind.String()).Msg("send failed")
		}
		return res
	}

	var gen GenerateResponse
	if err := json.Unmarshal(resp.Body, &gen); err != nil {
		log.Warn().Err(err).Msg("undecodable generate response")
		return failure(fault.New(fault.KindInvalidResponse, fmt.Errorf("decode %s: %w", pathGenerate, err)))
	}

	usedModel := gen.Model
	if usedModel == "" {
		usedModel = model
	}
	elapsed := time.Since(start)
	tokens := EstimateTokens(gen.TotalDuration)

	log.Debug().
		Dur("elapsed", elapsed).
		Int("estimated_tokens", tokens).
		Msg("send succeeded")

	return Result{Success: &Success{
		Content:         gen.Response,
		Model:           usedModel,
		Context:         gen.Context,
		EstimatedTokens: tokens,
		Elapsed:         elapsed,
	}}
}

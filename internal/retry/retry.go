// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package retry runs idempotent operations with bounded attempts and backoff.
//
// Only failures whose fault.Kind is retryable (timeouts, connection failures
// and 5xx responses) are retried. Everything else returns after the attempt
// that produced it.
package retry

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/jeranaias/ollamalink/internal/fault"
	"github.com/jeranaias/ollamalink/internal/metrics"
)

// =============================================================================
// POLICY
// =============================================================================

const (
	DefaultMaxAttempts = 3
	DefaultBaseDelay   = 2 * time.Second
	DefaultMaxDelay    = 30 * time.Second
)

// Backoff selects how the delay grows between attempts.
type Backoff string

const (
	// BackoffLinear waits BaseDelay*n before attempt n+1: 2s, 4s, 6s.
	BackoffLinear Backoff = "linear"

	// BackoffExponential waits BaseDelay*2^(n-1) before attempt n+1: 2s, 4s, 8s.
	BackoffExponential Backoff = "exponential"
)

// Policy configures Do. Zero fields take their defaults.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Backoff     Backoff

	// Sleep waits for d or until ctx is done. Tests replace it to record
	// delays without waiting.
	Sleep func(ctx context.Context, d time.Duration) error

	Logger zerolog.Logger
}

// DefaultPolicy returns three attempts with linear 2s backoff.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: DefaultMaxAttempts,
		BaseDelay:   DefaultBaseDelay,
		MaxDelay:    DefaultMaxDelay,
		Backoff:     BackoffLinear,
	}
}

// Once returns a copy of p limited to a single attempt.
func (p Policy) Once() Policy {
	p.MaxAttempts = 1
	return p
}

func (p Policy) withDefaults() Policy {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = DefaultMaxAttempts
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = DefaultBaseDelay
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = DefaultMaxDelay
	}
	if p.Backoff == "" {
		p.Backoff = BackoffLinear
	}
	if p.Sleep == nil {
		p.Sleep = Sleep
	}
	return p
}

// Delay returns the wait after the given failed attempt (1-based).
func (p Policy) Delay(attempt int) time.Duration {
	p = p.withDefaults()
	if attempt < 1 {
		attempt = 1
	}

	var d time.Duration
	switch p.Backoff {
	case BackoffExponential:
		shift := attempt - 1
		if shift > 30 {
			shift = 30
		}
		d = p.BaseDelay * time.Duration(1<<uint(shift))
	default:
		d = p.BaseDelay * time.Duration(attempt)
	}

	if d > p.MaxDelay || d <= 0 {
		d = p.MaxDelay
	}
	return d
}

// Sleep waits for d, returning early with ctx.Err() when ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// =============================================================================
// EXECUTION
// =============================================================================

// Do runs op until it succeeds, fails with a non-retryable error, or the
// policy runs out of attempts. The returned error is always a *fault.Error:
// the classification of the last failure, or Cancelled when ctx ends during
// a backoff wait.
func Do[T any](ctx context.Context, p Policy, op func(ctx context.Context) (T, error)) (T, error) {
	p = p.withDefaults()
	log := p.Logger
	start := time.Now()

	var zero T
	var lastErr *fault.Error

	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, fault.Classify(err)
		}

		result, err := op(ctx)
		if err == nil {
			log.Debug().
				Int("attempt", attempt).
				Dur("elapsed", time.Since(start)).
				Msg("operation succeeded")
			return result, nil
		}

		lastErr = fault.Classify(err)
		if !lastErr.Retryable() {
			log.Debug().
				Int("attempt", attempt).
				Str("kind", lastErr.Kind.String()).
				Msg("non-retryable failure")
			return zero, lastErr
		}
		if attempt == p.MaxAttempts {
			break
		}

		delay := p.Delay(attempt)
		metrics.Retries.WithLabelValues(lastErr.Kind.String()).Inc()
		log.Warn().
			Err(err).
			Int("attempt", attempt).
			Int("max_attempts", p.MaxAttempts).
			Str("kind", lastErr.Kind.String()).
			Dur("delay", delay).
			Msg("retrying")

		if err := p.Sleep(ctx, delay); err != nil {
			return zero, fault.Classify(err)
		}
	}

	metrics.RetriesExhausted.Inc()
	log.Warn().
		Int("attempts", p.MaxAttempts).
		Str("kind", lastErr.Kind.String()).
		Dur("elapsed", time.Since(start)).
		Msg("retries exhausted")
	return zero, lastErr
}

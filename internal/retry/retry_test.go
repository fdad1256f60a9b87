// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package retry

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/ollamalink/internal/fault"
)

// recorder replaces Policy.Sleep and records every requested delay.
type recorder struct {
	delays []time.Duration
}

func (r *recorder) sleep(ctx context.Context, d time.Duration) error {
	r.delays = append(r.delays, d)
	return ctx.Err()
}

func testPolicy(r *recorder) Policy {
	p := DefaultPolicy()
	p.Sleep = r.sleep
	return p
}

func TestDelay_Linear(t *testing.T) {
	p := DefaultPolicy()
	assert.Equal(t, 2*time.Second, p.Delay(1))
	assert.Equal(t, 4*time.Second, p.Delay(2))
	assert.Equal(t, 6*time.Second, p.Delay(3))
}

func TestDelay_Exponential(t *testing.T) {
	p := DefaultPolicy()
	p.Backoff = BackoffExponential
	assert.Equal(t, 2*time.Second, p.Delay(1))
	assert.Equal(t, 4*time.Second, p.Delay(2))
	assert.Equal(t, 8*time.Second, p.Delay(3))
}

func TestDelay_Capped(t *testing.T) {
	p := DefaultPolicy()
	p.MaxDelay = 5 * time.Second
	assert.Equal(t, 5*time.Second, p.Delay(3))

	p.Backoff = BackoffExponential
	assert.Equal(t, 5*time.Second, p.Delay(64))
}

func TestDo_RetryableFailuresUseAllAttempts(t *testing.T) {
	retryable := map[string]error{
		"timeout":    fault.Timeout(fault.PhaseReceive, context.DeadlineExceeded),
		"connection": fault.New(fault.KindConnectionFailed, errors.New("refused")),
		"server":     fault.FromStatus(http.StatusServiceUnavailable),
	}

	for name, failure := range retryable {
		for _, backoff := range []Backoff{BackoffLinear, BackoffExponential} {
			t.Run(fmt.Sprintf("%s/%s", name, backoff), func(t *testing.T) {
				rec := &recorder{}
				p := testPolicy(rec)
				p.Backoff = backoff

				calls := 0
				_, err := Do(context.Background(), p, func(context.Context) (int, error) {
					calls++
					return 0, failure
				})

				require.Error(t, err)
				assert.Equal(t, 3, calls)
				assert.Equal(t, fault.KindOf(failure), fault.KindOf(err))

				require.Len(t, rec.delays, 2)
				for i := 1; i < len(rec.delays); i++ {
					assert.Greater(t, rec.delays[i], rec.delays[i-1])
				}
			})
		}
	}
}

func TestDo_FatalFailuresAttemptOnce(t *testing.T) {
	fatal := map[string]error{
		"client":    fault.FromStatus(http.StatusNotFound),
		"cancelled": context.Canceled,
		"unknown":   errors.New("boom"),
		"offline":   fault.Offline("No network connection"),
	}

	for name, failure := range fatal {
		t.Run(name, func(t *testing.T) {
			rec := &recorder{}
			calls := 0
			_, err := Do(context.Background(), testPolicy(rec), func(context.Context) (string, error) {
				calls++
				return "", failure
			})

			require.Error(t, err)
			assert.Equal(t, 1, calls)
			assert.Empty(t, rec.delays)
		})
	}
}

func TestDo_SucceedsAfterTransientFailure(t *testing.T) {
	rec := &recorder{}
	calls := 0
	got, err := Do(context.Background(), testPolicy(rec), func(context.Context) (string, error) {
		calls++
		if calls < 2 {
			return "", fault.FromStatus(http.StatusBadGateway)
		}
		return "ok", nil
	})

	require.NoError(t, err)
	assert.Equal(t, "ok", got)
	assert.Equal(t, 2, calls)
	assert.Equal(t, []time.Duration{2 * time.Second}, rec.delays)
}

func TestDo_SingleAttempt(t *testing.T) {
	rec := &recorder{}
	calls := 0
	_, err := Do(context.Background(), testPolicy(rec).Once(), func(context.Context) (int, error) {
		calls++
		return 0, fault.FromStatus(http.StatusInternalServerError)
	})

	assert.ErrorIs(t, err, fault.ErrServerError)
	assert.Equal(t, 1, calls)
	assert.Empty(t, rec.delays)
}

func TestDo_CancelDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := DefaultPolicy()
	p.BaseDelay = time.Hour

	calls := 0
	done := make(chan error, 1)
	go func() {
		_, err := Do(ctx, p, func(context.Context) (int, error) {
			calls++
			return 0, fault.New(fault.KindConnectionFailed, errors.New("reset"))
		})
		done <- err
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, fault.ErrCancelled)
		assert.Equal(t, 1, calls)
	case <-time.After(2 * time.Second):
		t.Fatal("Do did not return after cancellation")
	}
}

func TestSleep_Elapses(t *testing.T) {
	start := time.Now()
	require.NoError(t, Sleep(context.Background(), 10*time.Millisecond))
	assert.GreaterOrEqual(t, time.Since(start), 10*time.Millisecond)
}

// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package fault

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
)

// =============================================================================
// RETRY ELIGIBILITY
// =============================================================================

func TestKind_Retryable(t *testing.T) {
	tests := []struct {
		kind Kind
		want bool
	}{
		{KindTimeout, true},
		{KindConnectionFailed, true},
		{KindServerError, true},
		{KindClientError, false},
		{KindCancelled, false},
		{KindUnknown, false},
		{KindOffline, false},
		{KindInvalidModel, false},
		{KindNoModelSelected, false},
		{KindInvalidResponse, false},
	}

	for _, tc := range tests {
		t.Run(tc.kind.String(), func(t *testing.T) {
			assert.Equal(t, tc.want, tc.kind.Retryable())
		})
	}
}

// =============================================================================
// MESSAGES
// =============================================================================

func TestUserMessage(t *testing.T) {
	assert.Equal(t, "Request timed out. Check your connection and try again.", UserMessage(KindTimeout, 0))
	assert.Equal(t, "Connection failed. Check your network and try again.", UserMessage(KindConnectionFailed, 0))
	assert.Equal(t, "Server error. Please try again later.", UserMessage(KindServerError, 503))
	assert.Equal(t, "Resource not found", UserMessage(KindClientError, http.StatusNotFound))
	assert.Equal(t, "Request failed (HTTP 418)", UserMessage(KindClientError, http.StatusTeapot))
	assert.Equal(t, "No model selected", UserMessage(KindNoModelSelected, 0))
	assert.Equal(t, "An unexpected error occurred.", UserMessage(Kind(99), 0))
}

func TestError_MessageOverride(t *testing.T) {
	err := Offline("Not connected to server")
	assert.Equal(t, "Not connected to server", err.UserMessage())
	assert.Equal(t, "Not connected to server", err.Error())
}

// =============================================================================
// STATUS CLASSIFICATION
// =============================================================================

func TestFromStatus(t *testing.T) {
	assert.Nil(t, FromStatus(200))
	assert.Nil(t, FromStatus(304))

	e := FromStatus(503)
	assert.Equal(t, KindServerError, e.Kind)
	assert.Equal(t, 503, e.Status)
	assert.True(t, e.Retryable())

	e = FromStatus(404)
	assert.Equal(t, KindClientError, e.Kind)
	assert.False(t, e.Retryable())

	e = FromStatus(429)
	assert.Equal(t, KindClientError, e.Kind)
	assert.False(t, e.Retryable())
}

// =============================================================================
// ERROR CLASSIFICATION
// =============================================================================

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestClassify(t *testing.T) {
	refused := &net.OpError{Op: "dial", Net: "tcp", Err: syscall.ECONNREFUSED}

	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"canceled", context.Canceled, KindCancelled},
		{"wrapped canceled", fmt.Errorf("do: %w", context.Canceled), KindCancelled},
		{"deadline", context.DeadlineExceeded, KindTimeout},
		{"net timeout", timeoutErr{}, KindTimeout},
		{"url timeout", &url.Error{Op: "Get", URL: "http://x", Err: timeoutErr{}}, KindTimeout},
		{"dns", &net.DNSError{Err: "no such host", Name: "nope.invalid"}, KindConnectionFailed},
		{"refused", refused, KindConnectionFailed},
		{"reset errno", syscall.ECONNRESET, KindConnectionFailed},
		{"fault passthrough", FromStatus(500), KindServerError},
		{"unknown", errors.New("something odd"), KindUnknown},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Classify(tc.err).Kind)
		})
	}

	assert.Nil(t, Classify(nil))
}

// Message text must never influence classification.
func TestClassify_IgnoresMessageText(t *testing.T) {
	err := errors.New("connection refused: timeout: server error 503")
	assert.Equal(t, KindUnknown, Classify(err).Kind)
}

func TestError_Is(t *testing.T) {
	err := fmt.Errorf("send: %w", New(KindCancelled, context.Canceled))
	assert.True(t, errors.Is(err, ErrCancelled))
	assert.True(t, errors.Is(err, context.Canceled))
	assert.False(t, errors.Is(err, ErrTimeout))

	assert.True(t, errors.Is(FromStatus(404), ErrClientError))
	assert.False(t, errors.Is(FromStatus(404), &Error{Kind: KindClientError, Status: 400}))
}
